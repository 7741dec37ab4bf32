package httpmw

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RequestID reuses the inbound header value or mints a new id, stores it on
// the context and echoes it on the response.
func RequestID(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-Request-Id"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" || len(id) > 128 {
				id = newRequestID()
			}
			w.Header().Set(header, id)
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// ClientIPOptions configures how the client address is resolved.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the editor.
	// 0 ignores X-Forwarded-For, 1 takes the last entry (single ALB),
	// 2 the second to last (CDN and ALB), and so on.
	TrustedHops int
}

// ClientIPWithOptions resolves the client address once per request so the
// rate limiter, the logger and the metrics all agree on who is calling.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// resolveClientIP only honours X-Forwarded-For from a private peer and only
// as deep as the configured hops. Untrusted forwarding headers are stripped
// so nothing downstream reads them.
func resolveClientIP(r *http.Request, hops int) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return "0.0.0.0"
	}
	peer = peer.Unmap()

	if !peer.IsPrivate() || hops <= 0 {
		stripForwarded(r)
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer.String()
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - hops
	if idx < 0 {
		// fewer entries than proxies, fail closed
		stripForwarded(r)
		return peer.String()
	}
	if cand, err := netip.ParseAddr(strings.TrimSpace(parts[idx])); err == nil {
		return cand.Unmap().String()
	}
	return peer.String()
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// requestScheme prefers X-Forwarded-Proto, which resolveClientIP already
// removed when the peer is not a trusted proxy.
func requestScheme(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		p, _, _ := strings.Cut(xf, ",")
		switch p = strings.ToLower(strings.TrimSpace(p)); p {
		case "http", "https":
			return p
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
