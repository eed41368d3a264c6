package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-contact/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-contact/internal/contacthttp"
	"github.com/keithlinneman/linnemanlabs-contact/internal/gate"
	"github.com/keithlinneman/linnemanlabs-contact/internal/health"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/mail"
	"github.com/keithlinneman/linnemanlabs-contact/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-contact/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-contact/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-contact/internal/prof"
	"github.com/keithlinneman/linnemanlabs-contact/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-contact/internal/version"
)

func main() {
	startedAt := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// load .env for local development, real deployments set the environment directly
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"cors_origins", conf.CORSOrigins,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"email_provider", conf.EmailProvider,
		"mail_from", conf.MailFrom,
		"mail_to", conf.MailTo,
		"send_timeout", conf.SendTimeout,
		"display_timezone", conf.DisplayTimezone,
		"rate_limit_window", conf.RateLimitWindow,
		"rate_limit_max", conf.RateLimitMax,
		"sweep_interval", conf.SweepInterval,
	)

	var m *metrics.ServerMetrics = metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	} else {
		m.SetProfilingActive(conf.EnablePyroscope)
	}
	defer stopProf()

	// Insecure is true because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// email delivery
	sender, err := newSender(ctx, L, conf)
	if err != nil {
		L.Error(ctx, err, "failed to create email sender", "provider", conf.EmailProvider)
		os.Exit(1)
	}
	loc, err := time.LoadLocation(conf.DisplayTimezone)
	if err != nil {
		L.Error(ctx, err, "failed to load display timezone", "timezone", conf.DisplayTimezone)
		os.Exit(1)
	}
	composer, err := mail.NewComposer(conf.MailFrom, conf.MailTo, loc)
	if err != nil {
		L.Error(ctx, err, "failed to create email composer")
		os.Exit(1)
	}

	// per-client submission ledger, swept in the background so idle clients do not accumulate
	ledger := gate.NewLedger(conf.RateLimitWindow)
	contactGate := gate.New(ledger, gate.WithMaxRequests(conf.RateLimitMax))
	go ledger.RunSweeper(ctx, conf.SweepInterval, func(clients, removed int) {
		m.SetLedgerClients(clients)
		m.AddLedgerSwept(removed)
		if removed > 0 {
			L.Debug(ctx, "swept submission ledger", "clients", clients, "removed", removed)
		}
	})

	api, err := contacthttp.New(contacthttp.Options{
		Logger:      L,
		Gate:        contactGate,
		Sender:      sender,
		Composer:    composer,
		Provider:    provider(conf),
		SendTimeout: conf.SendTimeout,
		Service:     v.AppName,
		StartedAt:   startedAt,
		Metrics:     m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create contact api")
		os.Exit(1)
	}

	// per-ip token bucket in front of every route, separate from the submission window
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.FloodRate, conf.FloodBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "flood limit triggered", "ip", ip)
		}),
	)

	// setup toggle for server shutdown
	var shutdown health.ShutdownGate
	readiness := health.All(shutdown.Probe())

	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		APIRoutes:    api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		CORSOrigins:  conf.Origins(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// admin listener serves metrics, probes and pprof, keep it off the public network
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	L.Info(ctx, "contact service listening", "http_port", conf.HTTPPort, "admin_port", conf.AdminPort)

	if err := notifySystemd(); err != nil {
		// not fatal, systemd kills us after its start timeout if it was expecting a notify
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so load balancers stop routing to us before listeners close
	shutdown.Set("draining")
	L.Info(context.Background(), "shutdown gate closed", "drain_period", conf.DrainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), conf.SendTimeout+5*time.Second)
	defer cancelShutdown()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	// stops the sweeper and the flood limiter's eviction loop
	cancel()

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
