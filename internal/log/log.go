// Package log is the structured logger used across the editor.
//
// Every call takes the request context so trace ids follow the request.
// Values logged under credential-like keys (tokens, cookies, secrets, oauth codes)
// are replaced before they reach the handler.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// StacktraceLevel is the lowest level that gets a stack attached, defaults to error
	StacktraceLevel slog.Level
	JsonFormat      bool

	MaxErrorLinks     int
	IncludeErrorLinks bool

	// Writer defaults to stdout
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
}

// Redacted replaces the value of any sensitive key
const Redacted = "[redacted]"

// sensitiveKeys are matched against the lowercased attr key
var sensitiveKeys = []string{"token", "authorization", "cookie", "secret", "password", "session_key", "oauth_code"}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
