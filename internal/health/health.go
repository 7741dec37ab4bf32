// Package health serves the liveness and readiness endpoints of the editor.
//
// Readiness is the AND of the shutdown gate and the published content
// snapshot. Github is left out on purpose: an outage there only breaks
// preview mode, published pages keep being served.
package health

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// Checker reports nil when healthy and the reason otherwise.
type Checker interface{ Check(context.Context) error }

type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes when every non nil checker passes and returns the first failure.
func All(cs ...Checker) CheckFunc {
	return func(ctx context.Context) error {
		for _, c := range cs {
			if c == nil {
				continue
			}
			if err := c.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ShutdownGate turns readiness off once draining starts so the load balancer
// stops routing editors here before the listener closes.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

// Set starts draining. An empty reason reads as "draining".
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

func (g *ShutdownGate) Checker() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}

// HealthzHandler answers 200 "ok" while c passes and 503 with the reason
// otherwise. A nil checker is healthy.
func HealthzHandler(c Checker) http.HandlerFunc { return statusHandler(c, "ok\n") }

// ReadyzHandler is HealthzHandler with a "ready" body.
func ReadyzHandler(c Checker) http.HandlerFunc { return statusHandler(c, "ready\n") }

func statusHandler(c Checker, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if c != nil {
			if err := c.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(okBody))
	}
}
