// Package cfg holds the editor configuration. Every setting is a flag, and a
// flag not given on the command line falls back to an environment variable.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
)

// MinSessionKeyLen is the shortest accepted preview cookie key.
const MinSessionKeyLen = 32

type App struct {
	// listeners
	HTTPPort         int
	AdminPort        int
	TrustedProxyHops int

	// logging and telemetry
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	EnablePprof       bool
	EnablePyroscope   bool
	PyroServer        string
	PyroTenantID      string
	EnableTracing     bool
	OTLPEndpoint      string
	TraceSample       float64

	// published content, the embedded seed when both are empty
	ContentDir      string
	ContentS3Bucket string
	ContentS3Prefix string

	// preview mode
	EnablePreview              bool
	GitHubClientID             string
	GitHubClientSecret         string
	GitHubClientSecretSSMParam string
	RepoFullName               string
	BaseBranch                 string
	GitHubAPIURL               string
	GitHubTimeout              time.Duration
	SessionKey                 string
	SessionKeySSMParam         string
	SessionMaxAge              time.Duration
	CookieSecure               bool
}

// Register binds every field of c to fs with its default.
func Register(fs *flag.FlagSet, c *App) {
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listener port")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listener port (metrics, health, pprof)")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the editor whose X-Forwarded-For is trusted (0..8)")

	fs.BoolVar(&c.LogJSON, "log-json", true, "log JSON instead of text")
	fs.StringVar(&c.LogLevel, "log-level", "info", "lowest logged level: debug, info, warn or error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "lowest level that gets a stack trace")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "log the wrap chain of errors")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "deepest logged error chain (1..64)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "serve pprof on the ops listener")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push continuous profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server URL")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "pyroscope tenant (X-Scope-OrgID)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export OTLP traces to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector, host:port")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.ContentDir, "content-dir", "", "directory with the published content documents")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "S3 bucket with the published content documents")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "", "key prefix inside -content-s3-bucket")

	fs.BoolVar(&c.EnablePreview, "enable-preview", true, "allow editors to preview and save through Github")
	fs.StringVar(&c.GitHubClientID, "github-client-id", "", "Github OAuth app client id")
	fs.StringVar(&c.GitHubClientSecret, "github-client-secret", "", "Github OAuth app client secret")
	fs.StringVar(&c.GitHubClientSecretSSMParam, "github-client-secret-ssm-param", "", "SSM parameter holding the Github OAuth app client secret")
	fs.StringVar(&c.RepoFullName, "repo-full-name", "", "content repository as owner/name")
	fs.StringVar(&c.BaseBranch, "base-branch", "main", "branch documents are read from and committed to")
	fs.StringVar(&c.GitHubAPIURL, "github-api-url", "https://api.github.com/", "Github REST API base URL")
	fs.DurationVar(&c.GitHubTimeout, "github-timeout", 10*time.Second, "timeout of one Github API call")
	fs.StringVar(&c.SessionKey, "session-key", "", "preview cookie signing and encryption key, at least 32 bytes")
	fs.StringVar(&c.SessionKeySSMParam, "session-key-ssm-param", "", "SSM parameter holding -session-key")
	fs.DurationVar(&c.SessionMaxAge, "session-max-age", 8*time.Hour, "preview cookie lifetime")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", true, "mark the preview cookie Secure")
}

// EnvName maps flag "github-client-id" with prefix "LMEDIT_" to LMEDIT_GITHUB_CLIENT_ID.
func EnvName(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// FillFromEnv sets every flag not passed on the command line from its
// environment variable. A command line flag wins over the environment, and an
// unparsable value keeps the default. logf never sees values, secrets arrive
// through the environment.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	onCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { onCLI[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvName(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		switch {
		case !ok:
		case onCLI[f.Name]:
			logf("flag -%s: command line overrides %s", f.Name, key)
		default:
			def := f.Value.String()
			if err := fs.Set(f.Name, val); err != nil {
				_ = fs.Set(f.Name, def)
				logf("flag -%s: ignoring invalid %s: %v", f.Name, key, err)
			}
		}
	})
}

// PreviewConfigured reports whether preview mode can run. Secrets named by an
// SSM parameter count as present, they are fetched at startup.
func (c App) PreviewConfigured() bool {
	return c.EnablePreview &&
		c.GitHubClientID != "" && c.RepoFullName != "" && c.BaseBranch != "" &&
		(c.GitHubClientSecret != "" || c.GitHubClientSecretSSMParam != "") &&
		(c.SessionKey != "" || c.SessionKeySSMParam != "")
}

// SplitRepo splits "owner/name".
func SplitRepo(full string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(full, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository must be owner/name (got %q)", full)
	}
	return owner, name, nil
}

type problems []error

func (p *problems) addf(format string, args ...any) { *p = append(*p, fmt.Errorf(format, args...)) }

// Validate reports every invalid setting at once. Missing preview settings
// are not an error, they only turn preview mode off.
func Validate(c App) error {
	var p problems
	c.validateServer(&p)
	c.validateTelemetry(&p)
	c.validateContent(&p)
	c.validatePreview(&p)
	return errors.Join(p...)
}

func (c App) validateServer(p *problems) {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		p.addf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		p.addf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		p.addf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		p.addf("invalid TRUSTED_PROXY_HOPS %d (must be 0..8)", c.TrustedProxyHops)
	}
}

func (c App) validateTelemetry(p *problems) {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		p.addf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			p.addf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		p.addf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		p.addf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			p.addf("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			p.addf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
	if c.EnablePyroscope {
		if !isURL(c.PyroServer) {
			p.addf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			p.addf("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}
}

func (c App) validateContent(p *problems) {
	if c.ContentDir != "" && c.ContentS3Bucket != "" {
		p.addf("CONTENT_DIR and CONTENT_S3_BUCKET are mutually exclusive")
	}
	if c.ContentS3Prefix != "" && c.ContentS3Bucket == "" {
		p.addf("CONTENT_S3_PREFIX requires CONTENT_S3_BUCKET")
	}
}

func (c App) validatePreview(p *problems) {
	if c.RepoFullName != "" {
		if _, _, err := SplitRepo(c.RepoFullName); err != nil {
			p.addf("invalid REPO_FULL_NAME: %w", err)
		}
	}
	if c.EnablePreview && c.BaseBranch == "" {
		p.addf("BASE_BRANCH is required when ENABLE_PREVIEW=true")
	}
	if !isURL(c.GitHubAPIURL) {
		p.addf("GITHUB_API_URL must be a URL (got %q)", c.GitHubAPIURL)
	}
	if c.GitHubTimeout <= 0 || c.GitHubTimeout > 2*time.Minute {
		p.addf("invalid GITHUB_TIMEOUT %s (must be >0 and <=2m)", c.GitHubTimeout)
	}
	if c.SessionKey != "" && len(c.SessionKey) < MinSessionKeyLen {
		p.addf("SESSION_KEY must be at least %d bytes", MinSessionKeyLen)
	}
	if c.SessionMaxAge < time.Minute {
		p.addf("invalid SESSION_MAX_AGE %s (must be >= 1m)", c.SessionMaxAge)
	}
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
