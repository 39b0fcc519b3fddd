// Package main is the auditd binary. It dispatches three subcommands:
//
//	serve             run the pipeline and the audit HTTP API (default)
//	migrate           apply the PostgreSQL migrations and exit
//	replay <file>     re-insert events spilled to a fallback file
//
// Configuration comes from CONFIG_PATH (optional YAML) and AUDIT_* variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	audit "github.com/fanengagement/go-audit"
	"github.com/fanengagement/go-audit/chiware"
	"github.com/fanengagement/go-audit/internal/config"
	"github.com/fanengagement/go-audit/internal/telemetry"
	"github.com/fanengagement/go-audit/memstore"
	"github.com/fanengagement/go-audit/pgxaudit"
	"github.com/fanengagement/go-audit/redislimit"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := telemetry.SetupLogger(os.Stdout, cfg.Log.Format, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		pool, err := openPool(ctx, cfg, logger)
		if err != nil {
			return err
		}
		pool.Close()
		return nil
	case "replay":
		if len(os.Args) < 3 {
			return errors.New("usage: auditd replay <fallback-file>")
		}
		return replay(ctx, cfg, logger, os.Args[2])
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate or replay)", command)
	}
}

// openPool connects to PostgreSQL and brings the schema up to date.
func openPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("database.driver is %q; migrations need postgres", cfg.Database.Driver)
	}
	pool, err := pgxaudit.NewPool(ctx, pgxaudit.PoolConfig{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	if err := pgxaudit.Migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	version, _, err := pgxaudit.MigrationVersion(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database migrations applied", "version", version)
	return pool, nil
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory audit store; events do not survive a restart")
		return memstore.New(), func() {}, nil
	}
	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return pgxaudit.NewStore(pool, pgxaudit.StoreOptions{
		StatementTimeout: cfg.Retention.BatchTimeout,
	}), pool.Close, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve the audit API")
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := audit.Options{Logger: logger}

	if cfg.Fallback.Path != "" {
		sink, err := audit.NewFileSink(cfg.FileSink())
		if err != nil {
			return err
		}
		defer sink.Close()
		opts.Fallback = sink
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		opts.Limiter = redislimit.New(client, cfg.ToPipeline().ExportRateLimit)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts.Registerer = reg

	pipeline := audit.NewPipeline(cfg.ToPipeline(), store, opts)
	jwtx := chiware.NewJWTExtractor([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(chiware.DeniedAuditor(pipeline.Service, logger))
		r.Use(chiware.Authenticate(pipeline.Service, jwtx.Extract, logger))
		chiware.NewHandler(pipeline.Query, pipeline.Stats, logger).Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error {
		logger.Info("audit API listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	stats := pipeline.Stats()
	logger.Info("auditd stopped",
		"dropped_total", stats.Dropped,
		"persist_failures", stats.PersistFailures,
		"fallback_writes", stats.FallbackWrites)
	return err
}

func replay(ctx context.Context, cfg *config.Config, logger *slog.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening fallback file: %w", err)
	}
	defer f.Close()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	start := time.Now()
	res, err := audit.Replay(ctx, f, store, cfg.Persister.BatchSize)
	logger.Info("fallback replay finished",
		"file", path,
		"read", res.Read,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"duration", time.Since(start))
	return err
}
