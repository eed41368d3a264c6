package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/mail"
)

// EnvPrefix is prepended to every flag name when reading the environment.
const EnvPrefix = "CONTACT_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	TrustedHops int
	CORSOrigins string
	DrainPeriod time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	EmailProvider        string
	ResendAPIKey         string
	ResendAPIKeySSMParam string
	MailFrom             string
	MailTo               string
	SendTimeout          time.Duration
	DisplayTimezone      string

	RateLimitWindow time.Duration
	RateLimitMax    int
	SweepInterval   time.Duration
	FloodRate       float64
	FloodBurst      int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 3000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the service (X-Forwarded-For)")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "*", "comma separated list of allowed CORS origins")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 5*time.Second, "time to report not-ready before shutting down listeners")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.EmailProvider, "email-provider", mail.ProviderResend, "email provider: resend|ses|log")
	fs.StringVar(&c.ResendAPIKey, "resend-api-key", "", "Resend API key")
	fs.StringVar(&c.ResendAPIKeySSMParam, "resend-api-key-ssm-param", "", "ssm parameter name holding the Resend API key (used when resend-api-key is empty)")
	fs.StringVar(&c.MailFrom, "mail-from", "Contact Form <onboarding@resend.dev>", "sender address for notification emails")
	fs.StringVar(&c.MailTo, "mail-to", "", "recipient address for notification emails")
	fs.DurationVar(&c.SendTimeout, "send-timeout", 15*time.Second, "timeout for a single email send")
	fs.StringVar(&c.DisplayTimezone, "display-timezone", "UTC", "IANA time zone used for submission times in emails")

	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", 15*time.Minute, "rolling window for per-client submission limit")
	fs.IntVar(&c.RateLimitMax, "rate-limit-max", 10, "max successful submissions per client per window")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", time.Hour, "interval between ledger sweeps")
	fs.Float64Var(&c.FloodRate, "flood-rate", 5, "per-IP request rate (req/s) across all routes")
	fs.IntVar(&c.FloodBurst, "flood-burst", 20, "per-IP request burst across all routes")
}

// aliases are bare environment names honored for compatibility with common
// hosting platforms. They apply only when the prefixed name is unset.
var aliases = map[string]string{
	"http-port":      "PORT",
	"resend-api-key": "RESEND_API_KEY",
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > alias env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			alias, ok := aliases[f.Name]
			if !ok {
				return
			}
			if envVal, envSet = os.LookupEnv(alias); !envSet {
				return
			}
			key = alias
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be >= 0 (got %s)", c.DrainPeriod))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Email
	if !mail.ValidProvider(c.EmailProvider) {
		errs = append(errs, fmt.Errorf("invalid EMAIL_PROVIDER %q (must be resend, ses or log)", c.EmailProvider))
	}
	if strings.ToLower(strings.TrimSpace(c.EmailProvider)) == mail.ProviderResend && c.ResendAPIKey == "" && c.ResendAPIKeySSMParam == "" {
		errs = append(errs, fmt.Errorf("RESEND_API_KEY or RESEND_API_KEY_SSM_PARAM required when EMAIL_PROVIDER=resend"))
	}
	if strings.TrimSpace(c.MailFrom) == "" {
		errs = append(errs, fmt.Errorf("MAIL_FROM is required"))
	}
	if strings.TrimSpace(c.MailTo) == "" {
		errs = append(errs, fmt.Errorf("MAIL_TO is required"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SEND_TIMEOUT must be > 0 (got %s)", c.SendTimeout))
	}
	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", c.DisplayTimezone, err))
	}

	// Limits
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be > 0 (got %s)", c.RateLimitWindow))
	}
	if c.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MAX must be >= 1 (got %d)", c.RateLimitMax))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be > 0 (got %s)", c.SweepInterval))
	}
	if c.FloodRate <= 0 || c.FloodBurst < 1 {
		errs = append(errs, fmt.Errorf("FLOOD_RATE must be > 0 and FLOOD_BURST >= 1 (got %.2f, %d)", c.FloodRate, c.FloodBurst))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Origins splits CORSOrigins into trimmed, non-empty entries.
func (c App) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
