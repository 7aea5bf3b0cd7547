// Package app assembles the services, the HTTP API and the background
// workers from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hireflow/hireflow/internal/api"
	"github.com/hireflow/hireflow/internal/ats/analytics"
	"github.com/hireflow/hireflow/internal/ats/audit"
	"github.com/hireflow/hireflow/internal/ats/bulk"
	"github.com/hireflow/hireflow/internal/ats/candidates"
	"github.com/hireflow/hireflow/internal/ats/documents"
	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/ats/notify"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/ats/postings"
	"github.com/hireflow/hireflow/internal/ats/tenants"
	"github.com/hireflow/hireflow/internal/ats/users"
	"github.com/hireflow/hireflow/internal/ats/webhooks"
	"github.com/hireflow/hireflow/internal/cli/config"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/cache"
	"github.com/hireflow/hireflow/internal/web/jobs"
	"github.com/hireflow/hireflow/internal/web/ratelimit"
	"github.com/hireflow/hireflow/internal/web/websocket"
)

// bulkConcurrency bounds the items a bulk operation processes at once
const bulkConcurrency = 8

// App holds every long-lived component of a hireflow process
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sql.DB
	Redis  *redis.Client

	Cache     cache.Cache
	Tokens    *auth.AuthService
	Hub       *websocket.Hub
	Emitter   *events.Emitter
	Queue     *jobs.Queue
	Registry  *jobs.HandlerRegistry
	Scheduler *jobs.Scheduler
	Pools     []*jobs.WorkerPool

	Tenants      *tenants.Store
	Users        *users.Service
	Postings     *postings.Service
	Candidates   *candidates.Service
	Applications *pipeline.Service
	Documents    *documents.Service
	Audit        *audit.Log
	Notifier     *notify.Notifier
	Endpoints    *webhooks.Endpoints
	Deliverer    *webhooks.Deliverer
	Bulk         *bulk.Service
	Analytics    *analytics.Service

	apiLimiter     ratelimit.RateLimiter
	webhookLimiter ratelimit.RateLimiter
}

// Open connects to Postgres and, when configured, Redis, then assembles
// the application
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := store.Open(ctx, store.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	var client *redis.Client
	if cfg.Redis.Enabled() {
		client, err = cache.Connect(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	a, err := New(cfg, db, client, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// New assembles the application on already opened connections. client may
// be nil, in which case caches and limiters live in process memory.
func New(cfg *config.Config, db *sql.DB, client *redis.Client, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    client,
		Cache:    cache.New(client, cache.DefaultCacheConfig()),
		Tokens:   auth.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Hub:      websocket.NewHub(logger.Named("ws")),
		Emitter:  events.NewEmitter(logger.Named("events")),
		Queue:    jobs.NewQueue(db),
		Registry: jobs.NewHandlerRegistry(),
	}
	a.Scheduler = jobs.NewScheduler(a.Queue, time.Second, logger.Named("scheduler"))

	if err := a.buildServices(); err != nil {
		return a, err
	}
	if err := a.buildWorkers(); err != nil {
		return a, err
	}

	if cfg.Server.RequestsPerMinute > 0 {
		limiter, err := ratelimit.New(client, ratelimit.Options{
			Limit:  cfg.Server.RequestsPerMinute,
			Window: time.Minute,
			Prefix: "api:",
		})
		if err != nil {
			return a, fmt.Errorf("failed to create api rate limiter: %w", err)
		}
		a.apiLimiter = limiter
	}
	return a, nil
}

func (a *App) buildServices() error {
	cfg, logger := a.Config, a.Logger
	tx := store.NewTxManager(a.DB, logger.Named("store"))

	a.Audit = audit.NewLog(a.DB)
	a.Tenants = tenants.NewStore(a.DB)
	a.Users = users.NewService(users.NewStore(a.DB), a.Tenants, a.Tokens, logger.Named("users"))
	a.Postings = postings.NewService(a.DB, tx, a.Audit, a.Emitter, logger.Named("postings"))
	a.Candidates = candidates.NewService(a.DB, tx, a.Audit, logger.Named("candidates"))
	a.Documents = documents.NewService(a.DB, tx, a.Audit, a.Emitter, logger.Named("documents"))

	machine := pipeline.NewMachine(
		pipeline.PostingOpenGuard{},
		pipeline.DocumentsApprovedGuard{Documents: a.Documents},
	)
	a.Applications = pipeline.NewService(a.DB, tx, machine, a.Postings, a.Audit, a.Emitter, logger.Named("pipeline"))

	a.Notifier = notify.NewNotifier(a.DB, tx, a.Queue, notify.DefaultTemplates(), logger.Named("notify"))
	if sms := cfg.Notify.SMS; sms.GatewayURL != "" {
		a.Notifier.Register(notify.ChannelSMS, notify.NewSMSSender(notify.SMSConfig{
			GatewayURL: sms.GatewayURL,
			AccountSID: sms.AccountSID,
			AuthToken:  sms.AuthToken,
			From:       sms.From,
		}, nil))
	}
	if email := cfg.Notify.Email; email.Host != "" {
		a.Notifier.Register(notify.ChannelEmail, notify.NewEmailSender(notify.EmailConfig{
			Host:     email.Host,
			Port:     email.Port,
			Username: email.Username,
			Password: email.Password,
			From:     email.From,
		}))
	}

	a.Endpoints = webhooks.NewEndpoints(a.DB, logger.Named("webhooks"))
	var limiter ratelimit.RateLimiter
	if cfg.Webhooks.RatePerMinute > 0 {
		l, err := ratelimit.New(a.Redis, ratelimit.Options{
			Limit:  cfg.Webhooks.RatePerMinute,
			Window: time.Minute,
			Prefix: "webhook:",
		})
		if err != nil {
			return fmt.Errorf("failed to create webhook rate limiter: %w", err)
		}
		limiter = l
		a.webhookLimiter = l
	}
	a.Deliverer = webhooks.NewDeliverer(a.Endpoints, limiter,
		&http.Client{Timeout: cfg.Webhooks.Timeout}, logger.Named("webhooks"))

	runner := bulk.NewRunner(a.DB, a.Applications, a.Candidates, a.Notifier, bulkConcurrency, logger.Named("bulk"))
	a.Bulk = bulk.NewService(a.DB, tx, runner, a.Queue, a.Emitter, logger.Named("bulk"))
	a.Analytics = analytics.NewService(a.DB, a.Cache, logger.Named("analytics"))

	a.Emitter.AddDurable(webhooks.NewDispatcher(a.Endpoints, a.Queue, cfg.Webhooks.MaxAttempts, logger.Named("webhooks")))
	a.Emitter.AddDurable(notify.NewSubscriber(a.Notifier, notify.ChannelEmail))
	a.Emitter.AddLive(events.LiveFunc(func(ctx context.Context, ev events.Event) {
		a.Hub.Publish(ev.TenantID, ev.Type, ev.Payload)
	}))
	a.Emitter.AddLive(a.Analytics.Invalidator())
	return nil
}

func (a *App) buildWorkers() error {
	cfg := a.Config.Jobs
	a.Notifier.RegisterHandlers(a.Registry)
	a.Deliverer.RegisterHandlers(a.Registry)
	a.Bulk.RegisterHandlers(a.Registry)

	err := jobs.RegisterMaintenance(a.Queue, a.Registry, a.Scheduler, jobs.MaintenanceConfig{
		Queue:       jobs.DefaultQueue,
		PurgeAfter:  cfg.PurgeAfter,
		LockTimeout: cfg.LockTimeout,
	}, a.Logger.Named("jobs"))
	if err != nil {
		return fmt.Errorf("failed to schedule queue maintenance: %w", err)
	}

	for _, q := range cfg.Queues {
		a.Pools = append(a.Pools, jobs.NewWorkerPool(a.Queue, a.Registry, jobs.PoolConfig{
			Queue:        q,
			Workers:      cfg.Workers,
			PollInterval: cfg.PollInterval,
		}, a.Logger.Named("jobs")))
	}
	return nil
}

// Handler returns the HTTP API
func (a *App) Handler() http.Handler {
	ws := websocket.DefaultConfig()
	ws.AllowedOrigins = a.Config.Server.CORSOrigins

	return api.NewRouter(api.Config{
		Logger:         a.Logger.Named("http"),
		Tokens:         a.Tokens,
		CORSOrigins:    a.Config.Server.CORSOrigins,
		RequestTimeout: a.Config.Server.RequestTimeout,
		Limiter:        a.apiLimiter,
		Hub:            a.Hub,
		WebSocket:      ws,
	}, api.Services{
		Users:         a.Users,
		Postings:      a.Postings,
		Candidates:    a.Candidates,
		Applications:  a.Applications,
		Documents:     a.Documents,
		Notifications: a.Notifier,
		Webhooks:      a.Endpoints,
		Audit:         a.Audit,
		Bulk:          a.Bulk,
		Analytics:     a.Analytics,
		Jobs:          a.Queue,
		Health:        a.DB,
	})
}

// RunWorkers processes jobs until ctx is cancelled, then waits up to
// jobs.drain_timeout for in-flight jobs before cancelling them. When listen
// is true a LISTEN connection wakes idle workers as soon as jobs are enqueued.
func (a *App) RunWorkers(ctx context.Context, listen bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if listen {
		listener, err := jobs.NewListener(a.Config.Database.URL, a.Pools, a.Logger.Named("jobs"))
		if err != nil {
			return err
		}
		defer listener.Close()
		g.Go(func() error {
			listener.Run(ctx)
			return nil
		})
	}

	for _, p := range a.Pools {
		p.Start(ctx)
	}
	a.Scheduler.Start(ctx)

	g.Go(func() error {
		<-ctx.Done()
		a.Scheduler.Stop()
		return a.drainPools()
	})
	return g.Wait()
}

// drainPools stops every pool, sharing one drain deadline between them
func (a *App) drainPools() error {
	drainCtx := context.Background()
	if d := a.Config.Jobs.DrainTimeout; d > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(drainCtx, d)
		defer cancel()
	}

	var errs []error
	for _, p := range a.Pools {
		if err := p.Shutdown(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("queue %s: in-flight jobs cancelled: %w", p.Queue(), err))
		}
		for _, s := range p.Metrics().All() {
			a.Logger.Info("job metrics",
				zap.String("queue", p.Queue()),
				zap.String("type", s.JobType),
				zap.Int64("processed", s.Processed),
				zap.Int64("failed", s.Failed),
				zap.Int64("retried", s.Retried),
				zap.Duration("avg", s.AvgDuration()))
		}
	}
	return errors.Join(errs...)
}

// Close releases the connections. Safe on a partially built App.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Hub != nil {
		a.Hub.Shutdown()
	}
	for _, l := range []ratelimit.RateLimiter{a.apiLimiter, a.webhookLimiter} {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("rate limiter: %w", err))
			}
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
