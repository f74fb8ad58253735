// Sentinel ingests astrophysical transient alerts and turns them into
// follow-up observation targets.
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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sentinel/internal/archive"
	sc "github.com/linnemanlabs/sentinel/internal/cfg"
	"github.com/linnemanlabs/sentinel/internal/controlapi"
	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/grid"
	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/notify/slack"
	"github.com/linnemanlabs/sentinel/internal/postgres"
	"github.com/linnemanlabs/sentinel/internal/sentinel"
	"github.com/linnemanlabs/sentinel/internal/sentinel/memstore"
	"github.com/linnemanlabs/sentinel/internal/sentinel/pgstore"
	"github.com/linnemanlabs/sentinel/internal/skymap"
	"github.com/linnemanlabs/sentinel/internal/strategy"
	"github.com/linnemanlabs/sentinel/internal/target"
)

const appName = "sentinel"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    sc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix SENTINEL_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "SENTINEL_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"postgres", appCfg.DatabaseURL != "",
		"redis", appCfg.RedisURL != "",
		"topics", appCfg.TopicList(),
		"process_test_notices", appCfg.ProcessTestNotices,
		"start_paused", appCfg.StartPaused,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Strategy table and matcher
	strategies, err := strategy.Load(appCfg.StrategyFile)
	if err != nil {
		return fmt.Errorf("strategy table: %w", err)
	}
	matcher := strategy.NewMatcher(strategies)
	L.Info(ctx, "loaded strategy table", "file", appCfg.StrategyFile, "strategies", len(strategies.Strategies))

	// Initialize the event and target store
	var store sentinel.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Initialize pipeline metrics on the shared Prometheus registry.
	pipelineMetrics := sentinel.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, stage, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(stage, route, outcome).Observe(dur.Seconds())
		},
	))

	// Sky map retrieval: fetcher, optional redis cache and operator prompts
	fetcher := skymap.NewFetcher(time.Duration(appCfg.SkyMapTimeoutSeconds)*time.Second, 3)

	var cache skymap.Cache
	if appCfg.RedisURL != "" {
		rc, err := skymap.NewRedisCache(appCfg.RedisURL, time.Duration(appCfg.SkyMapCacheTTLSeconds)*time.Second)
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		defer func() { _ = rc.Close() }()
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("redis cache ping: %w", err)
		}
		cache = rc
		L.Info(ctx, "sky map cache enabled", "ttl_seconds", appCfg.SkyMapCacheTTLSeconds)
	}

	// the board is always wired so the control API can report that prompts are off
	prompts := sentinel.NewPromptBoard(time.Duration(appCfg.PromptTimeoutSeconds)*time.Second, L)
	var prompter skymap.Prompter
	if appCfg.PromptTimeoutSeconds > 0 {
		prompter = prompts
		L.Info(ctx, "operator prompts enabled", "timeout_seconds", appCfg.PromptTimeoutSeconds)
	}

	resolver := skymap.NewResolver(L, pipelineMetrics.ObserveSkyMap, skymap.Chain(fetcher, cache, prompter)...)
	L.Info(ctx, "sky map fallback chain", "stages", resolver.Stages())

	tiles, err := grid.New(appCfg.GridFOV, appCfg.GridOverlap)
	if err != nil {
		return fmt.Errorf("tiling grid: %w", err)
	}
	L.Info(ctx, "tiling grid ready", "fov", tiles.FOV(), "tiles", tiles.Len(), "level", appCfg.SkyMapLevel)
	builder := target.NewBuilder(resolver, tiles, appCfg.SkyMapLevel)

	// Optional collaborators: archive lookup, payload spool, notifications
	deps := sentinel.Deps{
		Parser:  notice.NewParser(),
		Tracker: event.NewTracker(event.DefaultMaxHops),
		Matcher: matcher,
		Builder: builder,
		Store:   store,
		Prompts: prompts,
		Hooks:   pipelineMetrics.Hooks(),
		Logger:  L,
	}
	if appCfg.ArchiveURL != "" {
		ac, err := archive.NewClient(appCfg.ArchiveURL, 30*time.Second, 3)
		if err != nil {
			return fmt.Errorf("archive client: %w", err)
		}
		deps.Archive = ac
		L.Info(ctx, "notice archive lookup enabled", "url", appCfg.ArchiveURL)
	}
	if appCfg.ArchiveDir != "" {
		sp, err := archive.NewSpool(appCfg.ArchiveDir)
		if err != nil {
			return fmt.Errorf("payload spool: %w", err)
		}
		deps.Spool = sp
		L.Info(ctx, "payload spool enabled", "dir", appCfg.ArchiveDir)
	}
	if appCfg.SlackWebhookURL != "" {
		deps.Notifier = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// Initialize the pipeline service (owns the queue, tracker and single worker).
	svc := sentinel.NewService(sentinel.Config{
		ProcessTestNotices: appCfg.ProcessTestNotices,
		Topics:             appCfg.TopicList(),
		BuildAttempts:      appCfg.BuildAttempts,
		BuildBackoff:       time.Duration(appCfg.BuildBackoffMS) * time.Millisecond,
		StartPaused:        appCfg.StartPaused,
	}, deps)

	workerErr := make(chan error, 1)
	go func() { workerErr <- svc.Run(ctx) }()

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Label DB queries issued by control requests for query metrics.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithStage(req.Context(), "control")))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(8 << 20)) // IGWN notices can embed a base64 sky map

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes
	controlHTTP := controlapi.New(L, svc, prompts)
	controlHTTP.RegisterRoutes(r)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	controlOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start control HTTP server with middleware and handlers
	controlHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, controlOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start control http listener")
		return err
	}
	defer func() {
		err := controlHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop control http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm, or for the worker to stop on a control command
	fromSignal := waitForStop(ctx, svc)
	if fromSignal {
		L.Info(context.Background(), "shutdown signal received")
	} else {
		L.Info(context.Background(), "worker stopped by control command", "killed", svc.Killed())
	}

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests. An operator
	// shutdown has already stopped intake, so it skips the drain.
	if fromSignal {
		drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
		L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(drainDuration):
			L.Info(context.Background(), "drain period complete")
		case <-forceCh:
			L.Warn(context.Background(), "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	// The worker finishes the notice in flight unless its slice runs out.
	stopFns := []stopFn{
		{"sentinel worker", workerStop(svc, workerErr)},
		{"control http server", controlHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}
	if err := runStops(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, stopFns); err != nil {
		L.Warn(context.Background(), "shutdown finished with errors")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete", "queued", svc.Queue().Len())
	if svc.Killed() {
		return errors.New("worker killed by control command")
	}
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
