// Package metrics owns the Prometheus registry for the contact service: HTTP
// server metrics plus submission, email and ledger series.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-contact/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	floodDenied    prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	submissions    *prometheus.CounterVec
	emailSendDur   *prometheus.HistogramVec
	emailFailures  *prometheus.CounterVec
	ledgerClients  prometheus.Gauge
	ledgerSwept    prometheus.Counter
	profilingState prometheus.Gauge
}

// New returns a fresh registry with the Go and process collectors and every
// service metric registered. Labels are bounded: method, route pattern,
// status, result and provider.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		floodDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the per-IP flood guard",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_submissions_total",
			Help: "Contact submissions by result (accepted, invalid, rate_limited, send_failed, bad_request)",
		}, []string{"result"}),
		emailSendDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contact_email_send_duration_seconds",
			Help:    "Email provider call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"provider"}),
		emailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_email_send_failures_total",
			Help: "Email provider call failures",
		}, []string{"provider"}),
		ledgerClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contact_ledger_clients",
			Help: "Clients currently tracked by the submission rate limiter",
		}),
		ledgerSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contact_ledger_swept_clients_total",
			Help: "Idle clients removed by the periodic ledger sweep",
		}),
		profilingState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.errorsTotal,
		m.httpPanicTotal,
		m.floodDenied,
		m.buildInfo,
		m.submissions,
		m.emailSendDur,
		m.emailFailures,
		m.ledgerClients,
		m.ledgerSwept,
		m.profilingState,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the underlying registry, mainly for tests.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.AppName,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.floodDenied.Inc() }

// IncSubmission counts a finished POST /api/contact by result.
func (m *ServerMetrics) IncSubmission(result string) {
	m.submissions.WithLabelValues(result).Inc()
}

// ObserveEmailSend records one provider call.
func (m *ServerMetrics) ObserveEmailSend(provider string, seconds float64, err error) {
	m.emailSendDur.WithLabelValues(provider).Observe(seconds)
	if err != nil {
		m.emailFailures.WithLabelValues(provider).Inc()
	}
}

func (m *ServerMetrics) SetLedgerClients(n int) { m.ledgerClients.Set(float64(n)) }

func (m *ServerMetrics) AddLedgerSwept(n int) { m.ledgerSwept.Add(float64(n)) }

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingState.Set(1)
	} else {
		m.profilingState.Set(0)
	}
}
