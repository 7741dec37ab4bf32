package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-editor/internal/authbridge"
	"github.com/keithlinneman/linnemanlabs-editor/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-editor/internal/content"
	"github.com/keithlinneman/linnemanlabs-editor/internal/githubstore"
	"github.com/keithlinneman/linnemanlabs-editor/internal/health"
	"github.com/keithlinneman/linnemanlabs-editor/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-editor/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-editor/internal/page"
	"github.com/keithlinneman/linnemanlabs-editor/internal/preview"
	"github.com/keithlinneman/linnemanlabs-editor/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-editor/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-editor/internal/sitehandler"
	"github.com/keithlinneman/linnemanlabs-editor/internal/webassets"

	"github.com/keithlinneman/linnemanlabs-editor/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-editor/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-editor/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-editor/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix LMEDIT_ and validate
	cfg.FillFromEnv(flag.CommandLine, "LMEDIT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stackLvl = lvl
	}
	lg, err := log.New(log.Options{
		App:               v.Name,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	// secrets are never logged, only whether they come from ssm
	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"include_error_links", conf.IncludeErrorLinks,
		"max_error_links", conf.MaxErrorLinks,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"content_dir", conf.ContentDir,
		"content_s3_bucket", conf.ContentS3Bucket,
		"content_s3_prefix", conf.ContentS3Prefix,
		"enable_preview", conf.EnablePreview,
		"repo", conf.RepoFullName,
		"base_branch", conf.BaseBranch,
		"github_api_url", conf.GitHubAPIURL,
		"github_client_ssm_param", conf.GitHubClientSecretSSMParam,
		"session_ssm_param", conf.SessionKeySSMParam,
		"session_max_age", conf.SessionMaxAge,
	)

	// metrics registry, served on the ops listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.Name, "server", &vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.Name,
		AuthToken:     "",
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.Name,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.Name,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// aws is only needed for s3 content or ssm held secrets, local runs work without credentials
	var s3Client *s3.Client
	var ssmClient *ssm.Client
	if conf.ContentS3Bucket != "" || conf.GitHubClientSecretSSMParam != "" || conf.SessionKeySSMParam != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		s3Client = s3.NewFromConfig(awsCfg)
		ssmClient = ssm.NewFromConfig(awsCfg)
	}

	// pages and their bundled documents
	pages, err := page.NewRegistry(page.Home())
	if err != nil {
		L.Error(ctx, err, "invalid page registry")
		os.Exit(1)
	}
	renderer, err := page.NewRenderer(webassets.TemplatesFS(), pages.Templates(), authbridge.CallbackTemplate)
	if err != nil {
		L.Error(ctx, err, "failed to parse templates")
		os.Exit(1)
	}

	// setup content manager that holds the bundled documents served outside preview
	contentMgr := content.NewManager()
	if err := loadLocalContent(ctx, L, conf, s3Client, pages.LocalPaths(), contentMgr); err != nil {
		// the bundled documents are the non-preview site, refuse to start without them
		// systemd will restart, asg will terminate if we fail to start succesfully
		L.Error(ctx, err, "failed to load bundled content")
		os.Exit(1)
	}
	L.Info(ctx, "loaded bundled content",
		"source", contentMgr.Source(),
		"content_version", contentMgr.ContentVersion(),
		"content_hash", contentMgr.ContentHash(),
	)
	m.SetContentSource(string(contentMgr.Source()))
	if t := contentMgr.LoadedAt(); !t.IsZero() {
		m.SetContentLoadedTimestamp(t)
	}

	// preview mode: github store, session cookie, oauth bridge, api proxy
	var (
		ghStore  *githubstore.Store
		sessions *preview.Store
		proxy    *githubstore.Proxy
		bridge   = authbridge.Unconfigured()
	)
	if conf.PreviewConfigured() {
		ghStore, sessions, bridge, proxy, err = setupPreview(ctx, L, conf, ssmClient, m, renderer)
		if err != nil {
			L.Error(ctx, err, "failed to configure preview mode")
			os.Exit(1)
		}
		L.Info(ctx, "preview mode enabled", "repo", ghStore.FullName(), "branch", ghStore.Branch())
	} else {
		L.Warn(ctx, "preview mode disabled, GitHub settings incomplete", "enable_preview", conf.EnablePreview)
	}

	previewOpts := preview.Options{
		Logger:           L,
		TokenFromRequest: bridge.TokenFromRequest,
		OnEnter:          m.IncPreviewEnter,
		OnExit:           m.IncPreviewExit,
	}
	resolverOpts := content.ResolverOptions{
		Local: contentMgr,
		OnResolve: func(src content.Source, result string) {
			m.IncContentResolve(string(src), result)
		},
	}
	// assigning a nil *Store to the interfaces would make them non-nil
	if ghStore != nil {
		previewOpts.Store = sessions
		previewOpts.Validator = ghStore
		resolverOpts.Remote = ghStore
	}
	previewAPI := preview.NewAPI(previewOpts)

	resolver, err := content.NewResolver(resolverOpts)
	if err != nil {
		L.Error(ctx, err, "failed to create content resolver")
		os.Exit(1)
	}

	pageHandler, err := page.NewHandler(page.Options{
		Logger:   L,
		Pages:    pages,
		Renderer: renderer,
		Resolver: resolver,
		Sessions: previewAPI.Load,
		OnSave:   m.IncContentSave,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create page handler")
		os.Exit(1)
	}

	// setup site handler that serves static assets, maintenance and 404 pages
	siteHandler, err := sitehandler.New(sitehandler.Options{
		Logger:     L,
		Content:    contentMgr,
		Assets:     webassets.PublicFS(),
		FallbackFS: webassets.FallbackFS(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// setup readiness checks, both shutdown gate and content readiness must pass.
	// github is left out, its outages only affect preview mode
	readiness := health.All(
		gate.Checker(),
		health.CheckFunc(func(ctx context.Context) error {
			return contentMgr.ReadyErr()
		}),
	)

	// Setup rate limiter middleware for site handler
	limiter := ratelimit.New(ctx,
		// a save reads the current document and then commits, price it accordingly
		ratelimit.WithCost(func(r *http.Request) int {
			if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/save/") {
				return 3
			}
			return 1
		}),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// start site http server
	siteHTTPStop, err := httpserver.Start(
		ctx,
		httpserver.Options{
			Port:      conf.HTTPPort,
			Health:    health.Fixed(true, ""),
			Readiness: readiness,
			APIRoutes: func(r chi.Router) {
				previewAPI.RegisterRoutes(r)
				bridge.RegisterRoutes(r)
				if proxy != nil {
					proxy.RegisterRoutes(r)
				}
				pageHandler.RegisterRoutes(r)
			},
			SiteHandler:  siteHandler,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  limiter.Middleware,
			Logger:       L,
			ContentInfo:  contentMgr, // Pass content manager for headers
			ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		},
	)

	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic there
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()
	drain(L, &gate, drainPeriod)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// site first so the ops listener keeps reporting until the end
	for _, part := range []struct {
		name string
		stop func(context.Context) error
	}{
		{"site http server", siteHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOTEL},
	} {
		if err := part.stop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "shutdown failed", "part", part.name)
		}
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

// drainPeriod covers the load balancer noticing the failed readiness check
// plus the longest in-flight save.
const drainPeriod = 60 * time.Second

// drain closes the readiness gate and waits out the period, a second signal cuts it short
func drain(L log.Logger, gate *health.ShutdownGate, period time.Duration) {
	ctx := context.Background()
	gate.Set("draining")
	L.Info(ctx, "readiness gate closed, draining", "period", period)

	again := make(chan os.Signal, 1)
	signal.Notify(again, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(again)

	timer := time.NewTimer(period)
	defer timer.Stop()
	select {
	case <-timer.C:
		L.Info(ctx, "drain period complete")
	case <-again:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// loadLocalContent fills mgr from the configured bundled source: a directory, an s3 prefix, or the embedded seed
func loadLocalContent(ctx context.Context, L log.Logger, conf cfg.App, s3Client *s3.Client, paths []string, mgr *content.Manager) error {
	switch {
	case conf.ContentDir != "":
		snap, err := content.LoadFS(os.DirFS(conf.ContentDir), content.SourceDisk, paths)
		if err != nil {
			return err
		}
		mgr.Set(*snap)
		return nil

	case conf.ContentS3Bucket != "":
		loader, err := content.NewS3Loader(content.S3LoaderOptions{
			Logger: L,
			Bucket: conf.ContentS3Bucket,
			Prefix: conf.ContentS3Prefix,
			Client: s3Client,
		})
		if err != nil {
			return err
		}
		return loader.LoadIntoManager(ctx, mgr, paths)
	}

	seedFS, ok := webassets.SeedFS()
	if !ok {
		return fmt.Errorf("no content source configured and no embedded seed content")
	}
	snap, err := content.LoadFS(seedFS, content.SourceSeed, paths)
	if err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}

// setupPreview resolves the github secrets and builds the preview mode components
func setupPreview(ctx context.Context, L log.Logger, conf cfg.App, ssmClient *ssm.Client, m *metrics.ServerMetrics, renderer *page.Renderer) (*githubstore.Store, *preview.Store, *authbridge.Bridge, *githubstore.Proxy, error) {
	var ssmAPI secrets.SSMGetParameterAPI
	if ssmClient != nil {
		ssmAPI = ssmClient
	}
	clientSecret, err := secrets.Resolve(ctx, ssmAPI, conf.GitHubClientSecret, conf.GitHubClientSecretSSMParam)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sessionKey, err := secrets.Resolve(ctx, ssmAPI, conf.SessionKey, conf.SessionKeySSMParam)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if len(sessionKey) < cfg.MinSessionKeyLen {
		return nil, nil, nil, nil, fmt.Errorf("session key must be at least %d bytes", cfg.MinSessionKeyLen)
	}

	owner, repo, err := cfg.SplitRepo(conf.RepoFullName)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// one traced transport for the store, the proxy and the oauth exchange
	transport := otelhttp.NewTransport(http.DefaultTransport)
	httpClient := &http.Client{Timeout: conf.GitHubTimeout, Transport: transport}

	store, err := githubstore.New(githubstore.Options{
		Logger:     L,
		HTTPClient: httpClient,
		BaseURL:    conf.GitHubAPIURL,
		Owner:      owner,
		Repo:       repo,
		Branch:     conf.BaseBranch,
		Observe:    m.ObserveGitHubRequest,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	sessions, err := preview.NewStore(preview.StoreOptions{
		Secret: sessionKey,
		MaxAge: conf.SessionMaxAge,
		Secure: conf.CookieSecure,
		Repo:   store.FullName(),
		Branch: store.Branch(),
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	bridge, err := authbridge.New(authbridge.Options{
		Logger:       L,
		ClientID:     conf.GitHubClientID,
		ClientSecret: clientSecret,
		Secret:       sessionKey,
		Secure:       conf.CookieSecure,
		HTTPClient:   httpClient,
		Templates:    renderer.Standalone(authbridge.CallbackTemplate),
		OnExchange:   m.IncOAuthExchange,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	proxy, err := githubstore.NewProxy(githubstore.ProxyOptions{
		Sessions:  sessions.Load,
		Store:     store,
		Transport: transport,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return store, sessions, bridge, proxy, nil
}

// notifySystemd sends READY=1 when running as a Type=notify unit
func notifySystemd() error {
	sock := os.Getenv("NOTIFY_SOCKET")
	if sock == "" {
		return errors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("dial %s: %w", sock, err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}
	return nil
}
