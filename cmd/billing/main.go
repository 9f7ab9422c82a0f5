// Command billing runs the payment reconciliation service: the HTTP surface, the
// background job worker and the promotion reminder scheduler.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"

	"github.com/Proton-105/himera-billing/internal/api"
	"github.com/Proton-105/himera-billing/internal/billing"
	"github.com/Proton-105/himera-billing/internal/database"
	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/health"
	"github.com/Proton-105/himera-billing/internal/i18n"
	"github.com/Proton-105/himera-billing/internal/idempotency"
	"github.com/Proton-105/himera-billing/internal/jobs"
	"github.com/Proton-105/himera-billing/internal/jobs/handlers"
	"github.com/Proton-105/himera-billing/internal/lifecycle"
	"github.com/Proton-105/himera-billing/internal/middleware"
	"github.com/Proton-105/himera-billing/internal/notifier"
	"github.com/Proton-105/himera-billing/internal/promo"
	"github.com/Proton-105/himera-billing/internal/ratelimit"
	"github.com/Proton-105/himera-billing/internal/repository"
	"github.com/Proton-105/himera-billing/internal/server"
	"github.com/Proton-105/himera-billing/internal/user"
	"github.com/Proton-105/himera-billing/internal/usercache"
	"github.com/Proton-105/himera-billing/internal/webhook"
	"github.com/Proton-105/himera-billing/pkg/config"
	"github.com/Proton-105/himera-billing/pkg/graceful"
	"github.com/Proton-105/himera-billing/pkg/logger"
	"github.com/Proton-105/himera-billing/pkg/metrics"
	appredis "github.com/Proton-105/himera-billing/pkg/redis"
)

const idempotencySweepInterval = time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("himera-billing stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	config.Watch(v, func(next *config.Config, err error) {
		if err != nil {
			log.Warn("config reload rejected", slog.Any("error", err))
			return
		}
		logger.SetLevel(next.Logger.Level)
		log.Info("config reloaded", slog.String("log_level", next.Logger.Level))
	})

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log.Info("starting himera-billing", slog.String("port", cfg.Server.Port), slog.String("log_level", cfg.Logger.Level))

	period, err := jobs.MaxGap(cfg.Promo.SweepSchedule)
	if err != nil {
		return err
	}
	if err := promo.ValidateCadence(period); err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}

	if err := database.NewMigrator(db, log).ApplyDir(ctx, cfg.Database.MigrationsDir); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}

	rdb, err := appredis.New(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return err
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}

	tickets := repository.NewTicketRepository(db, log)
	users := repository.NewUserRepository(db, log)
	activations := repository.NewActivationRepository(db, log)
	profiles := usercache.NewCache(appredis.NewMetricsClient(rdb), usercache.DefaultTTL)

	pricing, err := billing.NewPricing(cfg.Billing, cfg.Promo)
	if err != nil {
		return err
	}

	catalog, err := i18n.LoadFromDir(cfg.I18n.Dir, cfg.I18n.DefaultLang)
	if err != nil {
		return fmt.Errorf("load message catalog: %w", err)
	}
	if err := catalog.Require(notificationKeys()...); err != nil {
		return err
	}

	transport, checkBot, err := newTransport(cfg, catalog, log)
	if err != nil {
		return err
	}

	jobManager := jobs.NewManager(redisOpt, log)
	queue := notifier.NewQueueNotifier(jobManager)

	ticketService := billing.NewTicketService(tickets, users, pricing, log)
	activator := billing.NewActivator(activations, pricing, queue, profiles, log)
	reconciler := billing.NewReconciler(billing.NewMatcher(tickets), activator, tickets, log)
	userService := user.NewService(users, profiles, cfg.Promo.Window, log)

	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	memoryLimiter := ratelimit.NewMemoryLimiter()
	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, log), memoryLimiter, log)

	checker := health.NewChecker(log)
	checker.AddCheck("postgres", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(rdb))
	if checkBot != nil {
		checker.AddCheck("telegram", health.NewTelegramChecker(checkBot))
	}
	probes := lifecycle.NewProbes(checker, log)

	handler := server.New(server.Deps{
		Config:      cfg,
		Webhooks:    webhook.NewHandler(reconciler, errHandler, cfg.Webhook.MaxBodyBytes, log),
		API:         api.NewHandler(ticketService, userService, errHandler, log),
		RateLimit:   middleware.NewRateLimitMiddleware(limiter, ratelimit.NewRules(cfg.RateLimit), cfg.Server.TrustForwarded, log),
		Idempotency: idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), log),
		Probes:      probes,
		ErrHandler:  errHandler,
		Log:         log,
	})

	worker := jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, log)
	worker.RegisterHandler(jobs.TaskTypePromoSweep, handlers.NewPromoSweepHandler(promo.NewSweeper(users, queue, log), log))
	worker.RegisterHandler(jobs.TaskTypeNotifySend, handlers.NewNotifySendHandler(transport, log))
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start jobs worker: %w", err)
	}

	scheduler := jobs.NewScheduler(redisOpt, log)
	if err := scheduler.RegisterPromoSweep(cfg.Promo.SweepSchedule, period); err != nil {
		return fmt.Errorf("register promo sweep: %w", err)
	}
	scheduler.Run()

	go metrics.NewPendingCollector(tickets, 0, log).Run(ctx)
	go ratelimit.NewCleaner(rdb.Client, memoryLimiter, log, cfg.RateLimit.CleanupInterval).Run(ctx)
	go idempotency.NewCleaner(rdb.Client, log, idempotencySweepInterval, cfg.API.IdempotencyTTL).Run(ctx)

	httpCtx, stopHTTP := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHTTP()

	httpServer := graceful.NewServer(log, server.NewHTTPServer(cfg.Server, handler), cfg.Server.ShutdownTimeout)
	httpErr := make(chan error, 1)
	go func() { httpErr <- httpServer.ListenAndServe(httpCtx) }()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-httpErr:
		httpErr <- serveErr
	}

	shutdown := lifecycle.NewShutdown(log)
	shutdown.RegisterStage(lifecycle.StageDrain, "readiness", probes.Drain)
	shutdown.RegisterStage(lifecycle.StageDrain, "http", func(context.Context) error {
		stopHTTP()
		return <-httpErr
	})
	shutdown.RegisterStage(lifecycle.StageDrain, "scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})
	shutdown.RegisterStage(lifecycle.StageWorkers, "worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.Register("jobs-client", func(context.Context) error { return jobManager.Close() })
	shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, shutdown.Execute(shutdownCtx))
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// newTransport picks the delivery channel for queued notifications. Without a bot
// token messages are only logged.
func newTransport(cfg *config.Config, catalog *i18n.Manager, log *slog.Logger) (notifier.Notifier, health.BotAPI, error) {
	if cfg.Bot.Token == "" {
		log.Warn("bot token is not configured, notifications will only be logged")
		return notifier.NewLogNotifier(log), nil, nil
	}

	bot, err := notifier.NewBot(cfg.Bot)
	if err != nil {
		return nil, nil, err
	}

	return notifier.NewTelegramNotifier(bot, catalog, cfg.I18n.DefaultLang, log), bot, nil
}

func notificationKeys() []string {
	keys := []string{notifier.KeyActivationConfirmed, notifier.KeyReferralRewarded}
	for _, th := range promo.Thresholds {
		keys = append(keys, notifier.PromoKey(th.Name))
	}
	return keys
}
