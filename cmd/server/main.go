package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/realtydesk/internal/adapter/eventpublisher"
	"github.com/pscheid92/realtydesk/internal/adapter/httpserver"
	"github.com/pscheid92/realtydesk/internal/adapter/metrics"
	"github.com/pscheid92/realtydesk/internal/adapter/postgres"
	"github.com/pscheid92/realtydesk/internal/adapter/redis"
	"github.com/pscheid92/realtydesk/internal/app"
	"github.com/pscheid92/realtydesk/internal/broadcast"
	"github.com/pscheid92/realtydesk/internal/domain"
	"github.com/pscheid92/realtydesk/internal/platform/config"
	"github.com/pscheid92/realtydesk/internal/platform/logging"
	"github.com/pscheid92/realtydesk/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var connectPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	OnRetry: func(attempt int, err error, wait time.Duration) {
		slog.Warn("Dependency not ready, retrying", "attempt", attempt, "wait", wait, "error", err)
	},
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) *pgxpool.Pool {
	opts := postgres.PoolOptions{
		ApplicationName:  "realtydesk",
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		MaxConnLifetime:  cfg.DBMaxConnLifetime,
		MaxConnIdleTime:  cfg.DBMaxConnIdleTime,
		StatementTimeout: cfg.DBStatementTimeout,
		Tracer:           postgres.NewMetricsTracer(metrics.NewDBMetrics(reg)),
	}

	pool, err := retry.Do(ctx, connectPolicy, retry.UnlessContext, func(ctx context.Context) (*pgxpool.Pool, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return postgres.Connect(connectCtx, cfg.DatabaseURL, opts)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool, cfg.DBMigrationLockID); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return pool
}

// setupLocker uses Redis when configured so assignment stays serialized
// across replicas; a single instance can run with the in-process locker.
func setupLocker(ctx context.Context, cfg *config.Config) (domain.AssignmentLocker, *goredis.Client) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, assignment locks are process-local")
		return app.NewLocalLocker(), nil
	}

	rdb, err := retry.Do(ctx, connectPolicy, retry.UnlessContext, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return redis.NewAssignmentLock(rdb), rdb
}

func setupPublisher(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) *eventpublisher.Publisher {
	if cfg.AMQPURL == "" {
		slog.Info("AMQP_URL not set, work events are not published")
		return nil
	}

	m := metrics.NewPublisherMetrics(reg)
	pub, err := retry.Do(ctx, connectPolicy, retry.UnlessContext, func(context.Context) (*eventpublisher.Publisher, error) {
		return eventpublisher.Dial(cfg.AMQPURL, cfg.AMQPExchange, m)
	})
	if err != nil {
		slog.Error("Failed to connect to AMQP broker", "error", err)
		os.Exit(1)
	}
	return pub
}

func newRegistry(category domain.Category, cfg *config.Config, m broadcast.Metrics) *broadcast.Registry {
	return broadcast.NewRegistry(category,
		broadcast.WithMetrics(m),
		broadcast.WithMaxPerRecipient(cfg.MaxStreamsPerRecipient),
	)
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	pool := setupDB(ctx, cfg, reg)
	defer pool.Close()

	locker, rdb := setupLocker(ctx, cfg)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	publisher := setupPublisher(ctx, cfg, reg)
	if publisher != nil {
		defer func() { _ = publisher.Close() }()
	}

	streamMetrics := metrics.NewStreamMetrics(reg)
	streams := httpserver.Streams{
		Notifications: newRegistry(domain.CategoryNotification, cfg, streamMetrics),
		Verification:  newRegistry(domain.CategoryVerification, cfg, streamMetrics),
		AdminAlerts:   newRegistry(domain.CategoryAdminAlert, cfg, streamMetrics),
	}

	users := postgres.NewUserRepo(pool)
	notifications := postgres.NewNotificationRepo(pool)

	notificationSvc := app.NewNotificationService(users, notifications, streams.Notifications, streams.AdminAlerts, clock)
	verificationSvc := app.NewVerificationService(users, streams.Verification, notificationSvc, clock)

	assignerOpts := []app.AssignerOption{app.WithAssignmentObserver(metrics.NewAssignmentMetrics(reg))}
	if publisher != nil {
		assignerOpts = append(assignerOpts, app.WithWorkEvents(publisher))
	}
	assigner := app.NewAssigner(
		users,
		postgres.NewPropertyRepo(pool),
		postgres.NewWorkUnitRepo(pool),
		postgres.NewWorkloadRepo(pool),
		locker,
		notificationSvc,
		streams.AdminAlerts,
		clock,
		assignerOpts...,
	)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}
	if rdb != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: redis.HealthCheck(rdb)})
	}
	if publisher != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "amqp", Check: publisher.HealthCheck, Optional: true})
	}

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Users:          users,
		Notifications:  notificationSvc,
		Assignments:    assigner,
		Verification:   verificationSvc,
		Streams:        streams,
		HealthChecks:   healthChecks,
		StreamMetrics:  streamMetrics,
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: metrics.Handler(reg),
		Clock:          clock,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.NotificationRetention > 0 {
		retention := app.NewNotificationRetention(notifications, cfg.NotificationRetention, cfg.RetentionInterval, clock)
		g.Go(func() error {
			retention.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
