// Command integrationsd serves the integration flows over HTTP and runs the
// periodic sync scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	integrations "github.com/goliatone/go-integrations"
	"github.com/goliatone/go-integrations/adapters/gologger"
	"github.com/goliatone/go-integrations/httpapi"
	"github.com/goliatone/go-integrations/metrics"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/scheduler"
	"github.com/goliatone/go-integrations/security"
	sqlstore "github.com/goliatone/go-integrations/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("INTEGRATIONS_CONFIG"), "path to the YAML config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "integrationsd: load %s: %v\n", *envFile, err)
	}

	cfg, err := loadConfig(*configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "integrationsd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "integrationsd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config) error {
	provider := gologger.ZerologProvider(newZerolog(cfg.Log))
	logger := provider.GetLogger("integrationsd")

	client, err := sqlstore.NewClient(ctx, cfg.Persistence)
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("persistence close failed", "error", closeErr)
		}
	}()

	factoryOpts, err := storeOptions(cfg)
	if err != nil {
		return err
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(registry)

	throttle := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore(0))
	buildOpts := []integrations.BuildOption{integrations.WithRateLimitPolicy(throttle)}
	svc, err := integrations.NewServiceWithProviders(cfg.Integrations, nil, buildOpts,
		integrations.WithLoggerProvider(provider),
		integrations.WithMetricsRecorder(recorder),
		integrations.WithConnectionRepository(factory.ConnectionRepository()),
		integrations.WithAuditEmitter(factory.AuditStore()),
		integrations.WithNonceRegistry(factory.NonceStore()),
	)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	facade, err := integrations.NewFacade(svc)
	if err != nil {
		return err
	}
	api, err := httpapi.New(facade,
		httpapi.WithLogger(provider.GetLogger("httpapi")),
	)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := factory.DB().PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle(cfg.HTTP.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Mount(normalizePrefix(cfg.HTTP.Prefix), api.Routes())

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(svc, scheduler.ConfigFromSync(cfg.Integrations.Sync),
			scheduler.WithLogger(provider.GetLogger("scheduler")),
			scheduler.WithMetricsRecorder(recorder),
		)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr, "prefix", cfg.HTTP.Prefix)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler stop timed out", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// storeOptions enables token encryption when an app key is configured and a
// read-through cache for connection lookups.
func storeOptions(cfg Config) ([]sqlstore.FactoryOption, error) {
	var opts []sqlstore.FactoryOption
	if key := strings.TrimSpace(cfg.Security.AppKey); key != "" {
		secrets, err := security.NewAppKeySecretProviderFromString(key,
			security.WithKeyID(cfg.Security.KeyID),
			security.WithVersion(cfg.Security.KeyVersion),
		)
		if err != nil {
			return nil, fmt.Errorf("token encryption: %w", err)
		}
		opts = append(opts, sqlstore.WithSecretProvider(secrets))
	}
	if cfg.Cache.Enabled {
		cacheConfig := repositorycache.DefaultConfig()
		if cfg.Cache.TTL > 0 {
			cacheConfig.TTL = cfg.Cache.TTL
		}
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("connection cache: %w", err)
		}
		opts = append(opts, sqlstore.WithConnectionCache(cacheService))
	}
	return opts, nil
}

func newZerolog(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := zerolog.New(os.Stdout)
	if cfg.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return out.Level(level).With().Timestamp().Logger()
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return "/"
	}
	return "/" + strings.Trim(prefix, "/")
}
