// Command sitegen serves the quota-gated site generation API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ineyio/sitegen"
	"github.com/ineyio/sitegen/internal/server"
	"github.com/ineyio/sitegen/meter"
	"github.com/ineyio/sitegen/policy"
	"github.com/ineyio/sitegen/projects"
	projectspg "github.com/ineyio/sitegen/projects/postgres"
	"github.com/ineyio/sitegen/provider/gemini"
	"github.com/ineyio/sitegen/provider/mock"
	"github.com/ineyio/sitegen/provider/openaicompat"
	"github.com/ineyio/sitegen/quota"
	quotapg "github.com/ineyio/sitegen/quota/postgres"
	quotaredis "github.com/ineyio/sitegen/quota/redis"
	quotasqlite "github.com/ineyio/sitegen/quota/sqlite"
)

func main() {
	configPath := flag.String("config", "sitegen.yaml", "Path to the YAML config file")
	envFile := flag.String("env", ".env", "Optional .env file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	cfg, err := sitegen.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("sitegen stopped")
	}
}

func newLogger(cfg sitegen.LogConfig) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	logger := log.New()
	logger.SetLevel(level)
	logger.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	closer := func() {}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, rotator))
		closer = func() { _ = rotator.Close() }
	}
	return logger, closer, nil
}

func run(cfg sitegen.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var pool *pgxpool.Pool
	if cfg.Quota.Backend == sitegen.BackendPostgres || cfg.Projects.Backend == sitegen.BackendPostgres {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
	}

	quotaStore, closeQuota, err := newQuotaStore(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer closeQuota()

	projectStore, err := newProjectStore(ctx, cfg, pool)
	if err != nil {
		return err
	}

	prom := meter.NewPromMeter()
	m := meter.Multi{meter.NewLogMeter(logger), prom}

	ledger, err := sitegen.NewLedger(quotaStore, cfg.Quota.DailyLimit,
		sitegen.WithLocation(loc),
		sitegen.WithLedgerMeter(m),
	)
	if err != nil {
		return err
	}

	bindings, err := newProviders(cfg)
	if err != nil {
		return err
	}

	pol, ok := policy.ByName(cfg.Generation.Policy)
	if !ok {
		return fmt.Errorf("unknown generation policy %q", cfg.Generation.Policy)
	}

	gwOpts := []sitegen.GatewayOption{
		sitegen.WithPolicy(pol),
		sitegen.WithMeter(m),
		sitegen.WithLogger(logger),
	}
	if cfg.Generation.Temperature != nil {
		gwOpts = append(gwOpts, sitegen.WithTemperature(*cfg.Generation.Temperature))
	}
	if cfg.Generation.MaxTokens != nil {
		gwOpts = append(gwOpts, sitegen.WithMaxTokens(*cfg.Generation.MaxTokens))
	}
	gateway, err := sitegen.NewGateway(ledger, projectStore, bindings, gwOpts...)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := server.New(ledger, projectStore, gateway, cfg.JWTSecret,
		server.WithLogger(logger),
		server.WithPromMeter(prom),
		server.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"listen":         cfg.Listen,
			"quota_backend":  cfg.Quota.Backend,
			"daily_limit":    cfg.Quota.DailyLimit,
			"timezone":       loc.String(),
			"provider_count": len(bindings),
		}).Info("sitegen listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newQuotaStore(ctx context.Context, cfg sitegen.Config, pool *pgxpool.Pool) (sitegen.QuotaStore, func(), error) {
	noop := func() {}

	switch cfg.Quota.Backend {
	case sitegen.BackendPostgres:
		s := quotapg.New(pool, quotapg.WithTablePrefix(cfg.Quota.TablePrefix))
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case sitegen.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect redis: %w", err)
		}
		return quotaredis.New(client, quotaredis.WithKeyPrefix(cfg.Quota.KeyPrefix)), func() { _ = client.Close() }, nil
	case sitegen.BackendSQLite:
		s, err := quotasqlite.Open(ctx, cfg.SQLitePath, quotasqlite.WithTableName(cfg.Quota.TablePrefix+"quotas"))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return quota.NewMemoryQuotaStore(), noop, nil
	}
}

func newProjectStore(ctx context.Context, cfg sitegen.Config, pool *pgxpool.Pool) (sitegen.ProjectStore, error) {
	if cfg.Projects.Backend != sitegen.BackendPostgres {
		return projects.NewMemoryStore(), nil
	}
	s := projectspg.New(pool, projectspg.WithTablePrefix(cfg.Quota.TablePrefix))
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newProviders(cfg sitegen.Config) ([]sitegen.ProviderBinding, error) {
	client := &http.Client{Timeout: cfg.Generation.Timeout}

	bindings := make([]sitegen.ProviderBinding, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		var p sitegen.Provider
		switch pc.Type {
		case sitegen.ProviderGemini:
			opts := []gemini.Option{gemini.WithName(pc.Name), gemini.WithHTTPClient(client)}
			if pc.BaseURL != "" {
				opts = append(opts, gemini.WithBaseURL(pc.BaseURL))
			}
			p = gemini.New(opts...)
		case sitegen.ProviderOpenAI:
			p = openaicompat.New(pc.Name, pc.BaseURL,
				openaicompat.WithHTTPClient(client),
				openaicompat.WithJSONMode(true),
			)
		case sitegen.ProviderMock:
			p = mock.New(mock.WithName(pc.Name))
		default:
			return nil, fmt.Errorf("provider %q: unknown type %q", pc.Name, pc.Type)
		}
		bindings = append(bindings, sitegen.ProviderBinding{
			Provider: p,
			Model:    pc.Model,
			Auth:     sitegen.Auth{APIKey: pc.APIKey},
		})
	}
	return bindings, nil
}
