package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
)

// ErrInvalidToken is returned by a Validator when the provider rejects the token
var ErrInvalidToken = errors.New("preview: invalid or expired token")

// Validator checks a token against the auth provider
type Validator interface {
	Validate(ctx context.Context, token string) error
}

// SessionStore is implemented by *Store
type SessionStore interface {
	Load(r *http.Request) Session
	Save(w http.ResponseWriter, r *http.Request, token string) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

type Options struct {
	Logger    log.Logger
	Store     SessionStore
	Validator Validator
	// TokenFromRequest is consulted when the request carries no bearer token
	TokenFromRequest func(r *http.Request) string
	// OnEnter is called with "ok", "cross_site", "missing_token", "invalid_token", "error" or "disabled"
	OnEnter func(result string)
	OnExit  func()
}

// API serves the enter/exit preview endpoints
type API struct {
	opts   Options
	logger log.Logger
}

// NewAPI creates the preview API. A nil Store or Validator means preview is not configured,
// enter requests then fail with 503 and exit requests still succeed.
func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &API{opts: opts, logger: opts.Logger}
}

// Enabled reports whether preview can be entered
func (api *API) Enabled() bool {
	return api.opts.Store != nil && api.opts.Validator != nil
}

// Load returns the session for r, the zero Session when preview is not configured
func (api *API) Load(r *http.Request) Session {
	if api.opts.Store == nil {
		return Session{}
	}
	return api.opts.Store.Load(r)
}

// RegisterRoutes attaches preview endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/preview", api.HandleEnter)
	r.Post("/api/preview", api.HandleEnter)
	r.Get("/api/reset-preview", api.HandleExit)
}

type messageResponse struct {
	Message string `json:"message"`
}

type enterResponse struct {
	Preview bool `json:"preview"`
}

// HandleEnter validates the caller's token and starts a preview session.
// On any failure no cookie is written. Cross-site requests are refused so
// another site cannot sign a visitor into its own GitHub account.
func (api *API) HandleEnter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	if !api.Enabled() {
		api.enterResult("disabled")
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, messageResponse{Message: "Preview mode is not configured"})
		return
	}

	if crossSite(r) {
		api.enterResult("cross_site")
		L.Warn(ctx, "cross-site preview request refused", "origin", r.Header.Get("Origin"))
		api.writeJSON(ctx, w, http.StatusForbidden, messageResponse{Message: "Preview must be started from this site"})
		return
	}

	token := api.token(r)
	if token == "" {
		api.enterResult("missing_token")
		api.writeJSON(ctx, w, http.StatusUnauthorized, messageResponse{Message: "Missing Github authentication token"})
		return
	}

	if err := api.opts.Validator.Validate(ctx, token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			api.enterResult("invalid_token")
			L.Warn(ctx, "preview token rejected", "error", err)
			api.writeJSON(ctx, w, http.StatusUnauthorized, messageResponse{Message: "Github authentication failed, sign in again"})
			return
		}
		api.enterResult("error")
		L.Error(ctx, err, "preview token validation failed")
		api.writeJSON(ctx, w, http.StatusBadGateway, messageResponse{Message: "Could not reach Github to verify your login, try again"})
		return
	}

	if err := api.opts.Store.Save(w, r, token); err != nil {
		api.enterResult("error")
		L.Error(ctx, err, "failed to write preview session")
		api.writeJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: "Could not start the edit session"})
		return
	}

	api.enterResult("ok")
	L.Info(ctx, "preview session started")
	api.writeJSON(ctx, w, http.StatusOK, enterResponse{Preview: true})
}

// HandleExit clears the preview session. Always succeeds, also when no session exists.
func (api *API) HandleExit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.opts.Store != nil {
		if err := api.opts.Store.Clear(w, r); err != nil {
			// nothing the caller can do about it, the cookie expires on its own
			log.FromContext(ctx).Warn(ctx, "failed to clear preview session", "error", err)
		}
	}
	if api.opts.OnExit != nil {
		api.opts.OnExit()
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// token returns the bearer token, falling back to TokenFromRequest
func (api *API) token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			if tok = strings.TrimSpace(tok); tok != "" && tok != "null" {
				return tok
			}
		}
	}
	if api.opts.TokenFromRequest != nil {
		return api.opts.TokenFromRequest(r)
	}
	return ""
}

// crossSite reports whether the browser marked r as coming from another site.
// Sec-Fetch-Site wins when present, otherwise a foreign Origin counts.
func crossSite(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "same-origin", "none":
		return false
	case "":
	default:
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return true
	}
	return !strings.EqualFold(u.Host, r.Host)
}

func (api *API) enterResult(result string) {
	if api.opts.OnEnter != nil {
		api.opts.OnEnter(result)
	}
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
