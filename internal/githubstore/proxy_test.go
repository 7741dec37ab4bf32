package githubstore

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jarcoal/httpmock"

	"github.com/keithlinneman/linnemanlabs-editor/internal/preview"
)

func proxySessions(r *http.Request) preview.Session {
	if r.Header.Get("X-Test-Preview") == "" {
		return preview.Session{}
	}
	return preview.Session{Preview: true, Token: testToken, Repo: "acme/site", Branch: "main"}
}

func newTestProxy(t *testing.T) (http.Handler, *httpmock.MockTransport) {
	t.Helper()
	s, _, _ := newTestStore(t)
	mt := httpmock.NewMockTransport()
	p, err := NewProxy(ProxyOptions{Sessions: proxySessions, Store: s, Transport: mt})
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	r := chi.NewRouter()
	p.RegisterRoutes(r)
	return r, mt
}

func proxyRequest(method, path string, previewMode bool) *http.Request {
	req := httptest.NewRequest(method, ProxyPrefix+path, nil)
	if previewMode {
		req.Header.Set("X-Test-Preview", "1")
	}
	return req
}

func TestNewProxy_Validation(t *testing.T) {
	if _, err := NewProxy(ProxyOptions{Sessions: proxySessions}); err == nil {
		t.Fatal("expected error without store")
	}
	s, _, _ := newTestStore(t)
	if _, err := NewProxy(ProxyOptions{Store: s}); err == nil {
		t.Fatal("expected error without session source")
	}
}

func TestProxy_RequiresPreview(t *testing.T) {
	h, mt := newTestProxy(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, proxyRequest(http.MethodGet, "/user", false))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if mt.GetTotalCallCount() != 0 {
		t.Fatal("request without session must not reach GitHub")
	}
}

func TestProxy_ForwardsWithSessionToken(t *testing.T) {
	h, mt := newTestProxy(t)

	var gotAuth, gotCookie, gotQuery string
	mt.RegisterResponder(http.MethodGet, homeURL, func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		gotCookie = req.Header.Get("Cookie")
		gotQuery = req.URL.RawQuery
		resp := httpmock.NewStringResponse(http.StatusOK, `{"sha":"blob-1"}`)
		resp.Header.Set("Set-Cookie", "gh_session=secret")
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	})

	req := proxyRequest(http.MethodGet, "/repos/acme/site/contents/content/home.json?ref=main", true)
	req.Header.Set("Authorization", "Bearer caller-supplied")
	req.AddCookie(&http.Cookie{Name: preview.CookieName, Value: "session"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotAuth != "Bearer "+testToken {
		t.Fatalf("upstream Authorization = %q, want session token", gotAuth)
	}
	if gotCookie != "" {
		t.Fatalf("cookies leaked upstream: %q", gotCookie)
	}
	if gotQuery != "ref=main" {
		t.Fatalf("query = %q, want ref=main", gotQuery)
	}
	if rec.Header().Get("Set-Cookie") != "" {
		t.Fatal("upstream Set-Cookie must be stripped")
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "blob-1") {
		t.Fatalf("body = %s", body)
	}
}

func TestProxy_AllowsUserEndpoint(t *testing.T) {
	h, mt := newTestProxy(t)
	mt.RegisterResponder(http.MethodGet, testBase+"user", httpmock.NewStringResponder(http.StatusOK, `{"login":"editor"}`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, proxyRequest(http.MethodGet, "/user", true))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProxy_RejectsOtherPaths(t *testing.T) {
	h, mt := newTestProxy(t)

	for _, p := range []string{
		"/repos/acme/other/contents/x.json",
		"/repos/acme/site-fork",
		"/user/repos",
		"/orgs/acme",
		"/repos/acme/site/../other",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, proxyRequest(http.MethodGet, p, true))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: status = %d, want 403", p, rec.Code)
		}
	}
	if mt.GetTotalCallCount() != 0 {
		t.Fatal("rejected paths must not reach GitHub")
	}
}

func TestProxy_UpstreamFailure(t *testing.T) {
	h, mt := newTestProxy(t)
	mt.RegisterResponder(http.MethodGet, testBase+"user", httpmock.NewErrorResponder(errors.New("connection refused")))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, proxyRequest(http.MethodGet, "/user", true))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
