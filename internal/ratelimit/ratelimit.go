// Package ratelimit throttles clients of the public editor per IP address.
//
// Every page view in preview mode and every save reads or writes the Github
// contents API on the caller's token, so one flooding client burns both this
// server and that token's Github quota. A save costs more than a page view
// because it reads the current document before committing.
//
// State is in memory and per instance. Distributed floods and bandwidth
// attacks are left to upstream filtering.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-editor/internal/httpmw"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// warned is set on the first denial and cleared when the entry is evicted
	warned bool
}

// IPLimiter keeps a token bucket per client IP and evicts idle ones.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	full     bool

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int
	cost        func(*http.Request) int

	OnFirstDenied func(ip string)
	OnDenied      func(ip string)
	OnCapacity    func()
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and the bucket size. WithRate(10, 50) allows
// a burst of 50 and then 10 requests a second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) { l.perSecond, l.burst = rate.Limit(perSecond), burst }
}

// WithTTL sets how long an idle IP is remembered.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

// WithMaxVisitors caps the number of tracked IPs, new IPs are refused while
// the map is full. 0 removes the cap.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) { l.maxVisitors = n }
}

// WithCost prices a request in tokens. Requests cost 1 by default.
func WithCost(fn func(*http.Request) int) Option {
	return func(l *IPLimiter) { l.cost = fn }
}

// WithOnFirstDenied runs once per visitor entry, on its first denial.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnFirstDenied = fn }
}

// WithOnDenied runs on every denial.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnDenied = fn }
}

// WithOnCapacity runs once each time the visitor map fills up.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.OnCapacity = fn }
}

// New builds a limiter and starts its eviction loop, which ends with ctx.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		perSecond:   10,
		burst:       30,
		ttl:         5 * time.Minute,
		maxVisitors: 100000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

type verdict struct {
	allowed   bool
	firstDeny bool
	filled    bool
}

// admit takes n tokens from ip's bucket. Hooks run after the lock is released.
func (l *IPLimiter) admit(ip string, n int, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			filled := !l.full
			l.full = true
			return verdict{filled: filled}
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, n) {
		return verdict{allowed: true}
	}
	first := !v.warned
	v.warned = true
	return verdict{firstDeny: first}
}

func (l *IPLimiter) allow(ip string, n int) bool {
	d := l.admit(ip, n, time.Now())
	switch {
	case d.allowed:
		return true
	case d.filled:
		if l.OnCapacity != nil {
			l.OnCapacity()
		}
		return false
	}
	if d.firstDeny && l.OnFirstDenied != nil {
		l.OnFirstDenied(ip)
	}
	if l.OnDenied != nil {
		l.OnDenied(ip)
	}
	return false
}

// evict drops visitors idle longer than the ttl and reopens a full map.
func (l *IPLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
	if l.maxVisitors <= 0 || len(l.visitors) < l.maxVisitors {
		l.full = false
	}
}

func (l *IPLimiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

// Middleware answers 429 with a JSON error once the resolved client IP is
// out of tokens. Limits and refill times are not disclosed.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := 1
		if l.cost != nil {
			n = max(l.cost(r), 1)
		}
		if !l.allow(httpmw.ClientIPFromContext(r.Context()), n) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
