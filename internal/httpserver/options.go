package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// APIRoutes mounts the application routes on the router.
	APIRoutes func(chi.Router)
	// NotFound answers unmatched paths and methods; defaults to a JSON 404.
	NotFound http.HandlerFunc

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	CORSOrigins  []string
	// MaxBodyBytes defaults to httpmw.DefaultMaxBody.
	MaxBodyBytes int64
}
