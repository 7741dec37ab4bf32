package preview

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testSecret = "preview-test-secret-0123456789abcdef"

func newTestStore(t *testing.T, repo, branch string) *Store {
	t.Helper()
	s, err := NewStore(StoreOptions{Secret: testSecret, Repo: repo, Branch: branch})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// saveCookie writes a session for token and returns the resulting cookie
func saveCookie(t *testing.T, s *Store, token string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := s.Save(rec, httptest.NewRequest(http.MethodGet, "/api/preview", nil), token); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatal("Save did not set the preview cookie")
	return nil
}

func requestWith(c *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		req.AddCookie(c)
	}
	return req
}

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(StoreOptions{Secret: "short", Repo: "acme/site", Branch: "main"}); err == nil {
		t.Fatal("expected error for short secret")
	}
	if _, err := NewStore(StoreOptions{Secret: testSecret, Branch: "main"}); err == nil {
		t.Fatal("expected error for missing repo")
	}
	if _, err := NewStore(StoreOptions{Secret: testSecret, Repo: "acme/site"}); err == nil {
		t.Fatal("expected error for missing branch")
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, "acme/site", "main")
	c := saveCookie(t, s, "gho_abc")

	if !c.HttpOnly {
		t.Fatal("preview cookie must be HttpOnly")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.Path != "/" {
		t.Fatalf("Path = %q, want /", c.Path)
	}
	if strings.Contains(c.Value, "gho_abc") {
		t.Fatal("cookie value must not expose the token")
	}

	sess := s.Load(requestWith(c))
	if !sess.Preview {
		t.Fatal("session should be in preview")
	}
	if sess.Token != "gho_abc" || sess.Repo != "acme/site" || sess.Branch != "main" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.Error != "" {
		t.Fatalf("unexpected error %q", sess.Error)
	}
}

func TestStore_LoadWithoutCookie(t *testing.T) {
	s := newTestStore(t, "acme/site", "main")
	sess := s.Load(requestWith(nil))
	if sess.Preview || sess.Error != "" {
		t.Fatalf("session = %+v, want zero", sess)
	}
}

func TestStore_LoadTamperedCookie(t *testing.T) {
	s := newTestStore(t, "acme/site", "main")
	c := saveCookie(t, s, "gho_abc")
	c.Value = c.Value[:len(c.Value)-4] + "AAAA"

	sess := s.Load(requestWith(c))
	if sess.Preview {
		t.Fatal("tampered cookie must not enable preview")
	}
	if sess.Error == "" {
		t.Fatal("tampered cookie should surface an error message")
	}
}

func TestStore_LoadCookieFromOtherSecret(t *testing.T) {
	other, err := NewStore(StoreOptions{Secret: strings.Repeat("x", 40), Repo: "acme/site", Branch: "main"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c := saveCookie(t, other, "gho_abc")

	s := newTestStore(t, "acme/site", "main")
	sess := s.Load(requestWith(c))
	if sess.Preview || sess.Error == "" {
		t.Fatalf("session = %+v, want rejected with error", sess)
	}
}

func TestStore_LoadCookieForOtherRepo(t *testing.T) {
	old := newTestStore(t, "acme/old-site", "main")
	c := saveCookie(t, old, "gho_abc")

	s := newTestStore(t, "acme/site", "main")
	sess := s.Load(requestWith(c))
	if sess.Preview {
		t.Fatal("cookie for another repo must not enable preview")
	}
	if !strings.Contains(sess.Error, "different repository") {
		t.Fatalf("Error = %q", sess.Error)
	}
}

func TestStore_SaveRejectsEmptyToken(t *testing.T) {
	s := newTestStore(t, "acme/site", "main")
	if err := s.Save(httptest.NewRecorder(), requestWith(nil), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestStore_ClearExpiresCookie(t *testing.T) {
	s := newTestStore(t, "acme/site", "main")
	rec := httptest.NewRecorder()
	if err := s.Clear(rec, requestWith(nil)); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			found = true
			if c.MaxAge >= 0 {
				t.Fatalf("MaxAge = %d, want negative", c.MaxAge)
			}
		}
	}
	if !found {
		t.Fatal("Clear did not write an expiring cookie")
	}
}

func TestStore_MaxAgeDefaultAndOverride(t *testing.T) {
	s := newTestStore(t, "acme/site", "main")
	if c := saveCookie(t, s, "gho_abc"); c.MaxAge != int((8 * time.Hour).Seconds()) {
		t.Fatalf("default MaxAge = %d, want 8h", c.MaxAge)
	}

	s2, err := NewStore(StoreOptions{Secret: testSecret, Repo: "acme/site", Branch: "main", MaxAge: time.Hour, Secure: true})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c := saveCookie(t, s2, "gho_abc")
	if c.MaxAge != 3600 {
		t.Fatalf("MaxAge = %d, want 3600", c.MaxAge)
	}
	if !c.Secure {
		t.Fatal("Secure flag not set")
	}
}

func TestDeriveKeys(t *testing.T) {
	h1, b1 := DeriveKeys(testSecret)
	h2, b2 := DeriveKeys(testSecret)
	if len(h1) != 64 || len(b1) != 32 {
		t.Fatalf("key sizes = %d/%d, want 64/32", len(h1), len(b1))
	}
	if string(h1) != string(h2) || string(b1) != string(b2) {
		t.Fatal("DeriveKeys is not deterministic")
	}
	h3, _ := DeriveKeys(testSecret + "x")
	if string(h1) == string(h3) {
		t.Fatal("different secrets should derive different keys")
	}
}
