// Package opshttp runs the admin listener of the editor: health checks,
// Prometheus metrics and optionally pprof. Only loopback, private and link
// local callers are served.
package opshttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-editor/internal/health"
	"github.com/keithlinneman/linnemanlabs-editor/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-editor/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       health.Checker
	Readiness    health.Checker
	UseRecoverMW bool
	// OnPanic runs once per recovered panic
	OnPanic func()
}

func NewHandler(L log.Logger, opts *Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("/-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("/-/ready", health.ReadyzHandler(opts.Readiness))
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		mux.Handle("/debug/pprof/", http.NotFoundHandler())
	}

	h := privateOnly(L, mux)
	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

// privateOnly answers 403 to callers outside loopback, private and link local
// ranges, IPv4 mapped addresses judged as IPv4.
func privateOnly(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason := ""
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			reason = "unparseable remote addr"
		} else if addr, err := netip.ParseAddr(host); err != nil {
			reason = "invalid remote ip"
		} else if addr = addr.Unmap(); !addr.IsLoopback() && !addr.IsPrivate() && !addr.IsLinkLocalUnicast() {
			reason = "public remote ip"
		}
		if reason != "" {
			L.Warn(r.Context(), "ops request rejected", "reason", reason, "remote_addr", r.RemoteAddr, "url.path", r.URL.Path)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves the ops handler on opts.Port (9000 when unset). The returned
// stop is safe to call more than once.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	srv := httpserver.NewServer(addr, NewHandler(L, opts))
	// pprof profile and trace stream for 30s by default
	srv.WriteTimeout = 40 * time.Second

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen for ops on %s", addr)
	}
	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	return func(sctx context.Context) (err error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			err = srv.Shutdown(c)
		})
		return err
	}, nil
}
