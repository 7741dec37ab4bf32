package preview

import (
	"crypto/sha256"
	"crypto/sha512"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// CookieName is the preview session cookie
const CookieName = "__editor_preview"

// Session is the per-request preview state. The zero value is a non-preview session.
type Session struct {
	Preview bool
	Token   string
	Repo    string
	Branch  string
	// Error is a user visible message, set when a preview cookie was present but unusable
	Error string
}

// session value keys
const (
	keyToken  = "github_access_token"
	keyRepo   = "working_repo_full_name"
	keyBranch = "head_branch"
)

type StoreOptions struct {
	// Secret is the configured session key, hash and encryption keys are derived from it
	Secret string
	MaxAge time.Duration
	Secure bool
	// Repo and Branch the store issues sessions for, cookies for another repo are ignored
	Repo   string
	Branch string
}

// Store reads and writes the preview session cookie
type Store struct {
	cookies *sessions.CookieStore
	opts    StoreOptions
}

// DeriveKeys derives the cookie hash key (64 bytes) and AES-256 block key from secret
func DeriveKeys(secret string) (hashKey, blockKey []byte) {
	h := sha512.Sum512([]byte("preview-cookie-hash:" + secret))
	b := sha256.Sum256([]byte("preview-cookie-block:" + secret))
	return h[:], b[:]
}

func NewStore(opts StoreOptions) (*Store, error) {
	if len(opts.Secret) < 32 {
		return nil, xerrors.New("preview: session secret must be at least 32 bytes")
	}
	if opts.Repo == "" || opts.Branch == "" {
		return nil, xerrors.New("preview: Repo and Branch are required")
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 8 * time.Hour
	}
	hashKey, blockKey := DeriveKeys(opts.Secret)
	cs := sessions.NewCookieStore(hashKey, blockKey)
	cs.MaxAge(int(opts.MaxAge.Seconds()))
	cs.Options.Path = "/"
	cs.Options.HttpOnly = true
	cs.Options.Secure = opts.Secure
	cs.Options.SameSite = http.SameSiteLaxMode

	return &Store{cookies: cs, opts: opts}, nil
}

// Load returns the preview session for r. A missing cookie is a non-preview session;
// a cookie that fails to decode (tampered, expired, rotated key) is a non-preview session with Error set.
func (s *Store) Load(r *http.Request) Session {
	if _, err := r.Cookie(CookieName); err != nil {
		return Session{}
	}
	sess, err := s.cookies.Get(r, CookieName)
	if err != nil || sess.IsNew {
		return Session{Error: "Your edit session has expired, enter edit mode again"}
	}
	token, _ := sess.Values[keyToken].(string)
	repo, _ := sess.Values[keyRepo].(string)
	branch, _ := sess.Values[keyBranch].(string)
	if token == "" {
		return Session{}
	}
	if repo != s.opts.Repo || branch != s.opts.Branch {
		return Session{Error: "Your edit session belongs to a different repository, enter edit mode again"}
	}
	return Session{Preview: true, Token: token, Repo: repo, Branch: branch}
}

// Save writes a preview session for token
func (s *Store) Save(w http.ResponseWriter, r *http.Request, token string) error {
	if token == "" {
		return xerrors.New("preview: empty token")
	}
	sess := sessions.NewSession(s.cookies, CookieName)
	o := *s.cookies.Options
	sess.Options = &o
	sess.Values[keyToken] = token
	sess.Values[keyRepo] = s.opts.Repo
	sess.Values[keyBranch] = s.opts.Branch
	if err := sess.Save(r, w); err != nil {
		return xerrors.Wrap(err, "save preview session")
	}
	return nil
}

// Clear expires the preview cookie. Works whether or not a session exists.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	sess := sessions.NewSession(s.cookies, CookieName)
	o := *s.cookies.Options
	o.MaxAge = -1
	sess.Options = &o
	if err := sess.Save(r, w); err != nil {
		return xerrors.Wrap(err, "clear preview session")
	}
	return nil
}
