package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-editor/internal/httpmw"
)

func saveCost(r *http.Request) int {
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/save/") {
		return 3
	}
	return 1
}

func newLimiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, opts...)
}

func call(h http.Handler, method, target, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

func TestMiddleware_PreviewBurstThenDenied(t *testing.T) {
	denied, first := 0, 0
	l := newLimiter(t, WithRate(0.001, 2),
		WithOnDenied(func(string) { denied++ }),
		WithOnFirstDenied(func(string) { first++ }),
	)
	h := l.Middleware(okHandler)

	for i := 0; i < 2; i++ {
		if rec := call(h, http.MethodGet, "/api/preview", "198.51.100.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	for i := 0; i < 3; i++ {
		rec := call(h, http.MethodGet, "/api/preview", "198.51.100.1")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("over budget = %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "30" || !strings.Contains(rec.Body.String(), "too many requests") {
			t.Fatalf("429 response: %v %q", rec.Header(), rec.Body.String())
		}
	}
	if denied != 3 || first != 1 {
		t.Fatalf("denied=%d first=%d, want 3 and 1", denied, first)
	}

	// another client has its own bucket
	if rec := call(h, http.MethodGet, "/api/preview", "198.51.100.2"); rec.Code != http.StatusOK {
		t.Fatalf("other ip = %d", rec.Code)
	}
}

func TestMiddleware_SaveCostsMore(t *testing.T) {
	l := newLimiter(t, WithRate(0.001, 4), WithCost(saveCost))
	h := l.Middleware(okHandler)

	if rec := call(h, http.MethodPost, "/api/save/home", "203.0.113.5"); rec.Code != http.StatusOK {
		t.Fatalf("first save = %d", rec.Code)
	}
	// one token left, enough for a page view but not a save
	if rec := call(h, http.MethodPost, "/api/save/home", "203.0.113.5"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second save = %d, want 429", rec.Code)
	}
	if rec := call(h, http.MethodGet, "/api/preview", "203.0.113.5"); rec.Code != http.StatusOK {
		t.Fatalf("preview after save = %d", rec.Code)
	}
}

func TestMiddleware_CapacityRefusesNewIPs(t *testing.T) {
	full := 0
	l := newLimiter(t, WithMaxVisitors(1), WithOnCapacity(func() { full++ }))
	h := l.Middleware(okHandler)

	if rec := call(h, http.MethodGet, "/api/preview", "192.0.2.1"); rec.Code != http.StatusOK {
		t.Fatalf("first ip = %d", rec.Code)
	}
	for i := 0; i < 2; i++ {
		if rec := call(h, http.MethodGet, "/api/preview", "192.0.2.2"); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("new ip at capacity = %d", rec.Code)
		}
	}
	if full != 1 {
		t.Fatalf("OnCapacity fired %d times, want 1", full)
	}
	if rec := call(h, http.MethodGet, "/api/preview", "192.0.2.1"); rec.Code != http.StatusOK {
		t.Fatalf("known ip at capacity = %d", rec.Code)
	}
}

func TestEvict(t *testing.T) {
	first := 0
	l := newLimiter(t, WithRate(0.001, 1), WithTTL(time.Hour), WithMaxVisitors(1),
		WithOnFirstDenied(func(string) { first++ }))

	l.allow("192.0.2.1", 1)
	l.allow("192.0.2.1", 1)
	l.allow("192.0.2.2", 1)
	if !l.full {
		t.Fatal("map should be full")
	}

	l.evict(time.Now().Add(2 * time.Hour))
	if len(l.visitors) != 0 || l.full {
		t.Fatalf("evict left %d visitors, full=%v", len(l.visitors), l.full)
	}

	// an evicted offender starts over and is warned about again
	l.allow("192.0.2.1", 1)
	l.allow("192.0.2.1", 1)
	if first != 2 {
		t.Fatalf("first denial hook ran %d times, want 2", first)
	}
}
