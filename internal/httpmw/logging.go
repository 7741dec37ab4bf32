package httpmw

import (
	"bufio"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// credentialParams are query parameters whose values never reach a log line
// or a span. /api/preview takes token, the OAuth callback carries code and state.
var credentialParams = map[string]bool{
	"token":        true,
	"access_token": true,
	"code":         true,
	"state":        true,
}

// scrubQuery replaces credential values in a raw query with log.Redacted.
// A query that does not parse is dropped entirely.
func scrubQuery(raw string) string {
	if raw == "" {
		return ""
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return log.Redacted
	}
	for k, vs := range q {
		if credentialParams[strings.ToLower(k)] {
			for i := range vs {
				vs[i] = log.Redacted
			}
		}
	}
	return q.Encode()
}

// WithLogger puts a request scoped logger on the context, carrying the
// request id, the resolved client address and the scrubbed URL.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}

			attrs := []attribute.KeyValue{
				attribute.String("request_id", RequestIDFromContext(ctx)),
				attribute.String("client.address", client),
				attribute.String("network.peer.address", peer),
				attribute.String("url.scheme", requestScheme(r)),
			}
			fields := []any{
				"request_id", RequestIDFromContext(ctx),
				"client.address", client,
				"network.peer.address", peer,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", requestScheme(r),
			}
			if q := scrubQuery(r.URL.RawQuery); q != "" {
				attrs = append(attrs, attribute.String("url.query", q))
				fields = append(fields, "url.query", q)
			}
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attrs...)
			}

			ctx = log.WithContext(ctx, base.With(fields...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// quietPath reports requests the access log skips: health checks and static assets.
func quietPath(p string) bool {
	if p == "/-/healthy" || p == "/-/ready" {
		return true
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return true
	}
	return false
}

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, xerrors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// AccessLog writes one "http request" line per request through the context
// logger. It runs inside the chi router so the matched route is known.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			if quietPath(r.URL.Path) {
				return
			}
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			ctx := r.Context()
			log.FromContext(ctx).Info(ctx, "http request",
				"http.route", routePattern(r),
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", sw.bytes,
				"http.request.body.size", max(r.ContentLength, 0),
			)
		})
	}
}

// AnnotateHTTPRoute renames the server span after the chi route pattern once
// routing is done, so /api/save/{page} is one span name for every page.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		route := routePattern(r)
		span.SetAttributes(attribute.String("http.route", route))
		span.SetName(r.Method + " " + route)
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
