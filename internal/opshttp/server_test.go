package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-editor/internal/health"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/metrics"
)

func opsGet(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_EditorMetricsAndHealth(t *testing.T) {
	m := metrics.New()
	m.IncContentSave("ok")
	h := NewHandler(log.Nop(), &Options{
		Metrics:   m.Handler(),
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(false, "content snapshot not loaded"),
	})

	rec := opsGet(h, "/metrics", "10.0.3.4:5000")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "content_save_total") {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if rec := opsGet(h, "/-/healthy", "127.0.0.1:1"); rec.Code != http.StatusOK {
		t.Errorf("healthy = %d", rec.Code)
	}
	if rec := opsGet(h, "/-/ready", "127.0.0.1:1"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready = %d", rec.Code)
	}
	if rec := opsGet(h, "/debug/pprof/", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Errorf("pprof disabled = %d", rec.Code)
	}
}

func TestNewHandler_Pprof(t *testing.T) {
	h := NewHandler(log.Nop(), &Options{EnablePprof: true})
	if rec := opsGet(h, "/debug/pprof/", "[::1]:1"); rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}
}

func TestPrivateOnly(t *testing.T) {
	h := NewHandler(log.Nop(), &Options{})
	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:1", http.StatusOK},
		{"[::1]:1", http.StatusOK},
		{"10.0.0.8:1", http.StatusOK},
		{"192.168.1.2:1", http.StatusOK},
		{"169.254.169.254:1", http.StatusOK},
		{"[::ffff:10.0.0.1]:1", http.StatusOK},
		{"203.0.113.7:1", http.StatusForbidden},
		{"[::ffff:8.8.8.8]:1", http.StatusForbidden},
		{"no-port", http.StatusForbidden},
		{"nothost:1", http.StatusForbidden},
	}
	for _, tt := range tests {
		if rec := opsGet(h, "/-/healthy", tt.remote); rec.Code != tt.want {
			t.Errorf("%s: %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}

func TestNewHandler_RecoverCountsPanics(t *testing.T) {
	panics := 0
	h := NewHandler(log.Nop(), &Options{
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
		Metrics:      http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("scrape failed") }),
	})
	if rec := opsGet(h, "/metrics", "127.0.0.1:1"); rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status %d, panics %d", rec.Code, panics)
	}
}

func TestStart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	stop, err := Start(context.Background(), log.Nop(), &Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthy over loopback = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
