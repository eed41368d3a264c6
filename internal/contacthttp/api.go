package contacthttp

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-contact/internal/gate"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/mail"
	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// DefaultSendTimeout bounds a single provider call.
const DefaultSendTimeout = 15 * time.Second

// Metrics is the subset of metrics.ServerMetrics the handlers record into.
type Metrics interface {
	IncSubmission(result string)
	ObserveEmailSend(provider string, seconds float64, err error)
}

type nopMetrics struct{}

func (nopMetrics) IncSubmission(string)                    {}
func (nopMetrics) ObserveEmailSend(string, float64, error) {}

type Options struct {
	Logger   log.Logger
	Gate     *gate.Gate
	Sender   mail.Sender
	Composer *mail.Composer
	// Provider names the sender in logs, spans and metrics.
	Provider    string
	SendTimeout time.Duration
	// Service is reported by the health endpoint.
	Service   string
	StartedAt time.Time
	Metrics   Metrics
}

// API holds the contact handlers and their collaborators.
type API struct {
	logger      log.Logger
	gate        *gate.Gate
	sender      mail.Sender
	composer    *mail.Composer
	provider    string
	sendTimeout time.Duration
	service     string
	startedAt   time.Time
	metrics     Metrics
}

// New validates opts and fills defaults.
func New(opts Options) (*API, error) {
	if opts.Gate == nil {
		return nil, xerrors.New("contacthttp: gate is required")
	}
	if opts.Sender == nil {
		return nil, xerrors.New("contacthttp: email sender is required")
	}
	if opts.Composer == nil {
		return nil, xerrors.New("contacthttp: email composer is required")
	}
	a := &API{
		logger:      opts.Logger,
		gate:        opts.Gate,
		sender:      opts.Sender,
		composer:    opts.Composer,
		provider:    opts.Provider,
		sendTimeout: opts.SendTimeout,
		service:     opts.Service,
		startedAt:   opts.StartedAt,
		metrics:     opts.Metrics,
	}
	if a.logger == nil {
		a.logger = log.Nop()
	}
	if a.sendTimeout <= 0 {
		a.sendTimeout = DefaultSendTimeout
	}
	if a.provider == "" {
		a.provider = "unknown"
	}
	if a.startedAt.IsZero() {
		a.startedAt = time.Now()
	}
	if a.metrics == nil {
		a.metrics = nopMetrics{}
	}
	return a, nil
}

// RegisterRoutes mounts the API on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("contact")).Post("/api/contact", a.handleContact)
	r.With(httpmw.Scope("health")).Get("/api/health", a.handleHealth)
}
