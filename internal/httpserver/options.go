package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-editor/internal/health"
	"github.com/keithlinneman/linnemanlabs-editor/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
)

// MaxBodyBytes caps request bodies, editor saves and proxied commits included
const MaxBodyBytes = 2 << 20

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	Health       health.Checker
	Readiness    health.Checker
	ContentInfo  httpmw.ContentInfo // X-Content-Version and X-Content-Hash headers
	ClientIPOpts httpmw.ClientIPOptions

	// APIRoutes registers page, preview and OAuth routes on the public router
	APIRoutes func(chi.Router)

	// SiteHandler serves everything no route matched (static assets, 404, maintenance)
	SiteHandler http.Handler
}
