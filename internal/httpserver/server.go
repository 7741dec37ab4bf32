package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-editor/internal/health"
	"github.com/keithlinneman/linnemanlabs-editor/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

const (
	healthPath = "/-/healthy"
	readyPath  = "/-/ready"
)

// compressTypes are the response types worth gzipping, page HTML and the
// JSON content API being the bulk of it.
var compressTypes = []string{
	"text/html",
	"text/css",
	"application/javascript",
	"text/javascript",
	"application/json",
	"image/svg+xml",
	"image/x-icon",
}

// NewHandler assembles the public editor handler. main owns the *http.Server
// so it can shut it down gracefully.
func NewHandler(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Compress(5, compressTypes...),
		httpmw.AnnotateHTTPRoute,
		httpmw.AccessLog(),
		httpmw.MaxBody(MaxBodyBytes),
	)

	if opts.Health != nil {
		r.Get(healthPath, health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get(readyPath, health.ReadyzHandler(opts.Readiness))
	}
	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}
	if opts.SiteHandler != nil {
		r.NotFound(opts.SiteHandler.ServeHTTP)
		r.MethodNotAllowed(opts.SiteHandler.ServeHTTP)
	}

	// wrapped inside out, the last wrapper runs first
	var h http.Handler = r
	h = httpmw.WithLogger(opts.Logger)(h)
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	if opts.ContentInfo != nil {
		h = httpmw.ContentHeaders(opts.ContentInfo)(h)
	}
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return traced(r.URL.Path) }),
		// AnnotateHTTPRoute renames the span once chi has matched a route
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if opts.RateLimitMW != nil {
		h = exceptHealth(opts.RateLimitMW, h)
	}
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	if opts.UseRecoverMW {
		h = httpmw.Recover(opts.Logger, opts.OnPanic)(h)
	}
	return httpmw.SecurityHeaders(h)
}

// exceptHealth applies mw to every request except the load balancer health
// checks, which must keep answering while a client is being throttled.
func exceptHealth(mw func(http.Handler) http.Handler, next http.Handler) http.Handler {
	limited := mw(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath || r.URL.Path == readyPath {
			next.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
}

// traced skips health checks, favicons and static assets.
func traced(p string) bool {
	switch p {
	case healthPath, readyPath, "/favicon.ico", "/favicon.svg", "/robots.txt":
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	// saves wait on a Github commit, keep room for a slow API
	DefaultWriteTimeout   = 20 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultMaxHeaderBytes = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start listens on opts.Port (8080 when unset) and serves in the background.
// The returned stop drains in flight requests and is safe to call twice.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen %s", addr)
	}
	srv := NewServer(addr, NewHandler(opts))

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	return func(sctx context.Context) (err error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 10*time.Second)
			defer cancel()
			err = srv.Shutdown(c)
		})
		return err
	}, nil
}
