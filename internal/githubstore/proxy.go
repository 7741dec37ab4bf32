package githubstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/preview"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// ProxyPrefix is where the proxy is mounted
const ProxyPrefix = "/api/proxy-github"

type ProxyOptions struct {
	// Sessions returns the preview session of a request
	Sessions  func(r *http.Request) preview.Session
	Store     *Store
	Transport http.RoundTripper
}

// Proxy forwards editor calls to the GitHub API with the session token attached.
// Only the authenticated user and the configured repository are reachable.
type Proxy struct {
	opts   ProxyOptions
	target *url.URL
	rp     *httputil.ReverseProxy
}

type proxyTokenKey struct{}

func NewProxy(opts ProxyOptions) (*Proxy, error) {
	if opts.Store == nil {
		return nil, xerrors.New("githubstore: proxy needs a Store")
	}
	if opts.Sessions == nil {
		return nil, xerrors.New("githubstore: proxy needs a session source")
	}
	target, err := url.Parse(opts.Store.BaseURL())
	if err != nil {
		return nil, xerrors.Wrap(err, "githubstore: parse proxy target")
	}

	p := &Proxy{opts: opts, target: target}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      opts.Transport,
		ModifyResponse: stripCookies,
		ErrorHandler:   p.proxyError,
	}
	return p, nil
}

// RegisterRoutes mounts the proxy under ProxyPrefix
func (p *Proxy) RegisterRoutes(r chi.Router) {
	r.Handle(ProxyPrefix+"/*", p)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess := p.opts.Sessions(r)
	if !sess.Preview || sess.Token == "" {
		writeMessage(w, http.StatusUnauthorized, "Missing Github authentication token")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, ProxyPrefix)
	if !p.allowed(rest) {
		writeMessage(w, http.StatusForbidden, "Path is not reachable through this proxy")
		return
	}

	ctx := context.WithValue(r.Context(), proxyTokenKey{}, sess.Token)
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

// allowed reports whether the API path (leading slash) may be proxied
func (p *Proxy) allowed(apiPath string) bool {
	if strings.Contains(apiPath, "..") || strings.Contains(apiPath, "//") {
		return false
	}
	if apiPath == "/user" {
		return true
	}
	repo := "/repos/" + p.opts.Store.FullName()
	return apiPath == repo || strings.HasPrefix(apiPath, repo+"/")
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	rest := strings.TrimPrefix(pr.In.URL.Path, ProxyPrefix)

	pr.Out.URL.Scheme = p.target.Scheme
	pr.Out.URL.Host = p.target.Host
	pr.Out.URL.Path = strings.TrimSuffix(p.target.Path, "/") + rest
	pr.Out.URL.RawPath = ""
	pr.Out.URL.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = p.target.Host

	// never forward our cookies or the caller's own auth upstream
	pr.Out.Header.Del("Cookie")
	pr.Out.Header.Del("Authorization")
	if tok, _ := pr.In.Context().Value(proxyTokenKey{}).(string); tok != "" {
		pr.Out.Header.Set("Authorization", "Bearer "+tok)
	}
	if pr.Out.Header.Get("Accept") == "" {
		pr.Out.Header.Set("Accept", "application/vnd.github+json")
	}
}

func stripCookies(resp *http.Response) error {
	resp.Header.Del("Set-Cookie")
	return nil
}

func (p *Proxy) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log.FromContext(ctx).Error(ctx, err, "github proxy request failed", "path", r.URL.Path)
	writeMessage(w, http.StatusBadGateway, "Github is not reachable, try again")
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
