// Package main is the entry point for the gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perimetra/gateway/internal/auth"
	"github.com/perimetra/gateway/internal/config"
	"github.com/perimetra/gateway/internal/metrics"
	"github.com/perimetra/gateway/internal/middleware"
	"github.com/perimetra/gateway/internal/observability"
	"github.com/perimetra/gateway/internal/ratelimit"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)
	defer app.close()

	run(app, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG_PATH"),
		"Path to configuration file (empty: defaults plus environment)")
	logLevel := flag.String("log-level", getEnvOrDefault(config.EnvLogLevel, "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault(config.EnvLogFormat, "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig loads and validates the configuration.
func loadConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting gateway",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load configuration", observability.Error(err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		observability.String("addr", cfg.Server.Addr),
		observability.Int("public_prefixes", len(cfg.Paths.PublicPrefixes)),
		observability.Int("admin_prefixes", len(cfg.Paths.AdminPrefixes)),
		observability.String("rate_limit_strategy", cfg.RateLimit.Strategy),
		observability.String("rate_limit_profile", cfg.RateLimit.Profile),
	)

	return cfg
}

// application holds all application components.
type application struct {
	config   *config.Config
	handler  http.Handler
	cache    *auth.ClaimsCache
	limiter  ratelimit.Limiter
	registry *prometheus.Registry
}

// initApplication wires the pipeline from configuration.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	validator, err := auth.NewValidator(&cfg.JWT)
	if err != nil {
		logger.Error("failed to create token validator", observability.Error(err))
		os.Exit(1)
	}

	cache := auth.NewClaimsCache(&cfg.JWT.Cache, auth.WithCacheLogger(logger))

	filter, err := auth.NewFilter(validator, cache, cfg, auth.WithFilterLogger(logger))
	if err != nil {
		logger.Error("failed to create authentication filter", observability.Error(err))
		os.Exit(1)
	}

	limiter := initLimiter(cfg, logger)

	keyFunc, ok := ratelimit.ResolverFor(cfg.RateLimit.Strategy)
	if !ok {
		logger.Error("unknown rate limit strategy",
			observability.String("strategy", cfg.RateLimit.Strategy))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	auth.GetMetrics().MustRegister(registry)
	auth.GetMetrics().Init()
	metrics.GetRecorder().MustRegister(registry)
	middleware.GetMiddlewareMetrics().MustRegister(registry)

	timing := middleware.NewTiming(
		metrics.GetRecorder(),
		cfg.Metrics.SlowRequestThreshold(),
		middleware.WithTimingLogger(logger),
	)

	mux := newServeMux(registry)

	handler := middleware.Chain(
		middleware.RequestID(),
		timing.Middleware(),
		middleware.Recovery(logger),
		filter.Middleware(),
		middleware.RateLimit(limiter, keyFunc, logger),
	)(mux)

	return &application{
		config:   cfg,
		handler:  handler,
		cache:    cache,
		limiter:  limiter,
		registry: registry,
	}
}

// initLimiter creates the Redis-backed limiter when configured, the
// local one otherwise.
func initLimiter(cfg *config.Config, logger observability.Logger) ratelimit.Limiter {
	profile := cfg.RateLimit.Profiles[cfg.RateLimit.Profile]

	if cfg.RateLimit.Redis != nil && cfg.RateLimit.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		limiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RateLimit.Redis, profile,
			ratelimit.WithRedisLogger(logger))
		if err != nil {
			logger.Warn("redis limiter unavailable, using local limiter",
				observability.Error(err))
			return ratelimit.NewLocalLimiter(profile, ratelimit.WithLocalLogger(logger))
		}
		logger.Info("redis rate limiter enabled",
			observability.String("addr", cfg.RateLimit.Redis.Addr))
		return limiter
	}

	return ratelimit.NewLocalLimiter(profile, ratelimit.WithLocalLogger(logger))
}

// newServeMux builds the demo routes behind the pipeline.
func newServeMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	mux.HandleFunc("/internal/status", func(w http.ResponseWriter, r *http.Request) {
		snapshot := metrics.GetRecorder().Snapshot()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"totalRequests":    snapshot.TotalRequests,
			"totalErrors":      snapshot.TotalErrors,
			"averageLatencyMs": snapshot.AverageLatency().Milliseconds(),
			"errorRate":        snapshot.ErrorRate(),
		})
	})

	mux.Handle("/internal/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Everything else echoes the enriched identity, standing in for
	// downstream routing.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path":   r.URL.Path,
			"user":   r.Header.Get(auth.HeaderUserID),
			"roles":  r.Header.Get(auth.HeaderRoles),
			"client": r.Header.Get(auth.HeaderClientID),
		})
	})

	return mux
}

// run serves until interrupted, then shuts down gracefully.
func run(app *application, logger observability.Logger) {
	server := &http.Server{
		Addr:              app.config.Server.Addr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", observability.Error(err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", observability.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", observability.Error(err))
		}
	}
}

// close releases application resources.
func (a *application) close() {
	_ = a.cache.Close()
	if closer, ok := a.limiter.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// getEnvOrDefault returns the environment value or a default.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
