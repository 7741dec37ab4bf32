package prof

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: false, ServerAddress: "http://ignored"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
	stop()
}

func TestStart_EmptyServerAddress(t *testing.T) {
	var buf bytes.Buffer
	L, err := log.New(log.Options{App: "linnemanlabs-editor", JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	ctx := log.WithContext(context.Background(), L)

	stop, err := Start(ctx, Options{Enabled: true, AppName: "linnemanlabs-editor"})
	if err == nil {
		t.Fatal("expected error for empty server address")
	}
	if stop == nil {
		t.Fatal("stop must be non-nil on error")
	}
	stop()
	if !strings.Contains(buf.String(), "pyroscope options") || !strings.Contains(buf.String(), `"app_name":"linnemanlabs-editor"`) {
		t.Fatalf("error not logged with app name: %s", buf.String())
	}
}
