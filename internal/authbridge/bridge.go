// Package authbridge completes the GitHub OAuth web flow for editors.
//
// The editor's browser opens /api/github/authorize in a popup, GitHub
// redirects back to /api/create-github-access-token, and the callback page
// hands the access token to the opener window which then enters preview.
package authbridge

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/keithlinneman/linnemanlabs-editor/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

const (
	AuthorizePath = "/api/github/authorize"
	CallbackPath  = "/api/create-github-access-token"

	stateCookie = "__editor_oauth_state"
	tokenCookie = "github_access_token"

	// LocalStorageKey is where the browser keeps the token between page loads
	LocalStorageKey = "tinacms-github-token"

	// CallbackTemplate renders the popup page that hands the token back to the opener
	CallbackTemplate = "oauth_callback.html"

	stateTTL = 10 * time.Minute
	tokenTTL = 10 * time.Minute
)

type Options struct {
	Logger       log.Logger
	ClientID     string
	ClientSecret string
	// Endpoint defaults to GitHub's
	Endpoint    oauth2.Endpoint
	RedirectURL string
	Scopes      []string

	// Secret signs and encrypts the state and token cookies
	Secret string
	Secure bool

	// HTTPClient is used for the code exchange
	HTTPClient *http.Client

	// Templates must define CallbackTemplate
	Templates *template.Template

	// OnExchange is called with "ok", "denied", "bad_state" or "error"
	OnExchange func(result string)
}

// Bridge serves the OAuth authorize and callback endpoints
type Bridge struct {
	opts    Options
	conf    *oauth2.Config
	cookies *securecookie.SecureCookie
	logger  log.Logger
}

func New(opts Options) (*Bridge, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, xerrors.New("authbridge: ClientID and ClientSecret are required")
	}
	if len(opts.Secret) < 32 {
		return nil, xerrors.New("authbridge: Secret must be at least 32 bytes")
	}
	if opts.Templates == nil || opts.Templates.Lookup(CallbackTemplate) == nil {
		return nil, xerrors.New("authbridge: Templates must define oauth_callback.html")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Endpoint.AuthURL == "" {
		opts.Endpoint = githuboauth.Endpoint
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{"repo"}
	}

	hashKey := sha512.Sum512([]byte("oauth-cookie-hash:" + opts.Secret))
	blockKey := sha256.Sum256([]byte("oauth-cookie-block:" + opts.Secret))
	sc := securecookie.New(hashKey[:], blockKey[:])
	sc.MaxAge(int(stateTTL.Seconds()))

	return &Bridge{
		opts: opts,
		conf: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     opts.Endpoint,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
		},
		cookies: sc,
		logger:  opts.Logger,
	}, nil
}

// Unconfigured returns a Bridge whose endpoints always fail, used when GitHub settings are absent
func Unconfigured() *Bridge { return &Bridge{logger: log.Nop()} }

// Configured reports whether the bridge can run the OAuth flow
func (b *Bridge) Configured() bool { return b.conf != nil }

// RegisterRoutes attaches the OAuth endpoints to the router
func (b *Bridge) RegisterRoutes(r chi.Router) {
	r.Get(AuthorizePath, b.HandleAuthorize)
	r.Get(CallbackPath, b.HandleCallback)
}

// HandleAuthorize redirects to GitHub's consent page with a fresh state
func (b *Bridge) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !b.Configured() {
		writeMessage(w, http.StatusServiceUnavailable, "Github login is not configured")
		return
	}

	state, err := newState()
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "failed to generate oauth state")
		writeMessage(w, http.StatusInternalServerError, "Could not start Github login")
		return
	}
	encoded, err := b.cookies.Encode(stateCookie, state)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "failed to encode oauth state cookie")
		writeMessage(w, http.StatusInternalServerError, "Could not start Github login")
		return
	}
	http.SetCookie(w, b.cookie(stateCookie, encoded, stateTTL))
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, b.conf.AuthCodeURL(state), http.StatusFound)
}

type callbackData struct {
	Token      string
	StorageKey string
	Error      string
}

// HandleCallback checks state, exchanges the code and hands the token to the opener window
func (b *Bridge) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)
	if !b.Configured() {
		writeMessage(w, http.StatusServiceUnavailable, "Github login is not configured")
		return
	}

	// state cookie is single use
	http.SetCookie(w, b.cookie(stateCookie, "", -1))

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		b.result("denied")
		L.Info(ctx, "github login denied", "oauth_error", e)
		b.render(ctx, w, http.StatusUnauthorized, callbackData{Error: "Github login was cancelled"})
		return
	}

	var want string
	c, err := r.Cookie(stateCookie)
	if err == nil {
		err = b.cookies.Decode(stateCookie, c.Value, &want)
	}
	got := q.Get("state")
	if err != nil || want == "" || !cryptoutil.HashEqual(want, got) {
		b.result("bad_state")
		L.Warn(ctx, "github login state mismatch")
		b.render(ctx, w, http.StatusBadRequest, callbackData{Error: "Github login expired, try again"})
		return
	}

	code := q.Get("code")
	if code == "" {
		b.result("error")
		b.render(ctx, w, http.StatusBadRequest, callbackData{Error: "Github did not return an authorization code"})
		return
	}

	tok, err := b.exchange(ctx, code)
	if err != nil {
		b.result("error")
		L.Error(ctx, err, "github token exchange failed")
		b.render(ctx, w, http.StatusBadGateway, callbackData{Error: "Could not complete Github login, try again"})
		return
	}

	if enc, err := b.cookies.Encode(tokenCookie, tok.AccessToken); err == nil {
		http.SetCookie(w, b.cookie(tokenCookie, enc, tokenTTL))
	} else {
		L.Warn(ctx, "failed to encode token cookie", "error", err)
	}

	b.result("ok")
	L.Info(ctx, "github login completed")
	b.render(ctx, w, http.StatusOK, callbackData{Token: tok.AccessToken, StorageKey: LocalStorageKey})
}

// TokenFromRequest returns the token stored by the callback, "" if absent or invalid
func (b *Bridge) TokenFromRequest(r *http.Request) string {
	if b.cookies == nil {
		return ""
	}
	c, err := r.Cookie(tokenCookie)
	if err != nil {
		return ""
	}
	var tok string
	if err := b.cookies.Decode(tokenCookie, c.Value, &tok); err != nil {
		return ""
	}
	return tok
}

func (b *Bridge) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if b.opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.opts.HTTPClient)
	}
	tok, err := b.conf.Exchange(ctx, code)
	if err != nil {
		return nil, xerrors.Wrap(err, "exchange authorization code")
	}
	if tok.AccessToken == "" {
		return nil, xerrors.New("token response has no access_token")
	}
	return tok, nil
}

func (b *Bridge) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
	}
	return c
}

func (b *Bridge) render(ctx context.Context, w http.ResponseWriter, status int, data callbackData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := b.opts.Templates.ExecuteTemplate(w, CallbackTemplate, data); err != nil {
		b.logger.Warn(ctx, "failed to render oauth callback page", "error", err)
	}
}

func (b *Bridge) result(r string) {
	if b.opts.OnExchange != nil {
		b.opts.OnExchange(r)
	}
}

func newState() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", xerrors.Wrap(err, "read random")
	}
	return hex.EncodeToString(buf[:]), nil
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
