// Package bootstrap assembles the orchestrator from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/outreach-orchestrator/internal/api/router"
	"github.com/wolfman30/outreach-orchestrator/internal/browser"
	appconfig "github.com/wolfman30/outreach-orchestrator/internal/config"
	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/generation"
	"github.com/wolfman30/outreach-orchestrator/internal/http/handlers"
	"github.com/wolfman30/outreach-orchestrator/internal/inbox"
	"github.com/wolfman30/outreach-orchestrator/internal/jobruns"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/internal/notify"
	"github.com/wolfman30/outreach-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/outreach-orchestrator/internal/outreach"
	"github.com/wolfman30/outreach-orchestrator/internal/scheduler"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// Clients carries SDK clients built by the caller. Both may be nil.
type Clients struct {
	Bedrock *bedrockruntime.Client
	SES     *sesv2.Client
}

// App is the assembled orchestrator.
type App struct {
	Config      *appconfig.Config
	Logger      *logging.Logger
	Bus         *eventbus.Bus
	Leads       leads.Repository
	Sidecar     *browser.Client
	Outreach    *outreach.Service
	Coordinator *scheduler.Coordinator
	Registry    *prometheus.Registry
	Handler     http.Handler

	pool     *pgxpool.Pool
	ledgerDB *sql.DB
	redis    *redis.Client
	closers  []func() error
}

// New wires every component. Storage falls back to memory and generation to
// fixed texts when their settings are absent.
func New(ctx context.Context, cfg *appconfig.Config, clients Clients, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	app.Bus = eventbus.New(cfg.EventHistorySize, eventbus.WithSubscriberBuffer(cfg.EventSubscriberBuffer))

	pool, err := BuildPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.pool = pool
	app.Leads = BuildLeadRepository(pool, logger)

	ledgerDB, err := BuildLedgerDB(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.ledgerDB = ledgerDB
	ledger := jobruns.NewStore(ledgerDB)

	app.redis = BuildRedisClient(ctx, cfg, logger, true)
	claims := BuildInboundClaims(app.redis, cfg.DedupClaimTTL)

	llm, err := BuildLLMClient(ctx, cfg, clients.Bedrock, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if closer, ok := llm.(interface{ Close() error }); ok {
		app.closers = append(app.closers, closer.Close)
	}

	app.Sidecar = browser.NewClient(cfg.BrowserSidecarURL, browser.WithLogger(logger))
	session := browser.NewSession(app.Sidecar, app.Bus, logger, cfg.ChannelCallTimeout)

	gen := generation.NewService(llm, app.Leads, app.Bus, logger,
		generation.WithContextTurns(cfg.ContextWindowTurns),
		generation.WithTimeout(cfg.GenerationTimeout),
	)
	notifier := notify.NewNotifier(BuildEmailSender(cfg, clients.SES, logger), cfg.NotifyEmailTo, app.Bus, logger)

	app.Outreach = outreach.NewService(
		app.Leads,
		session,
		gen,
		inbox.NewMatcher(app.Leads, app.Bus, logger),
		inbox.NewGuard(app.Leads, claims, logger),
		app.Bus,
		logger,
		outreach.Config{
			FetchLimit:    cfg.InboxFetchLimit,
			FollowUpAfter: cfg.FollowUpAfter,
			Username:      cfg.ChannelUsername,
			Password:      cfg.ChannelPassword,
		},
		outreach.WithNotifier(notifier),
	)

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Coordinator = scheduler.NewCoordinator(app.Bus, logger,
		scheduler.WithCeiling(cfg.JobCeiling),
		scheduler.WithMetrics(metrics.NewJobMetrics(app.Registry)),
		scheduler.WithLedger(ledger),
	)
	if err := registerJobs(app.Coordinator, app.Outreach, cfg); err != nil {
		app.Close()
		return nil, err
	}

	app.Handler = router.New(&router.Config{
		Logger:          logger,
		Health:          handlers.NewHealthHandler(app.Sidecar),
		Events:          handlers.NewEventsHandler(app.Bus, logger),
		LeadsHandler:    leads.NewHandler(app.Leads, logger),
		AdminOutreach:   handlers.NewAdminOutreachHandler(app.Outreach, app.Coordinator, ledger, app.Registry, logger),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}),
	})
	return app, nil
}

func registerJobs(c *scheduler.Coordinator, svc *outreach.Service, cfg *appconfig.Config) error {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       scheduler.JobFunc
	}{
		{outreach.JobInboxPoll, cfg.InboxPollInterval, svc.PollInbox},
		{outreach.JobFollowUpSweep, cfg.FollowUpSweepInterval, svc.SweepFollowUps},
		{outreach.JobInitialSend, 0, svc.SendInitialMessages},
	}
	for _, j := range jobs {
		if err := c.Register(j.name, j.interval, j.fn); err != nil {
			return fmt.Errorf("bootstrap: register %s: %w", j.name, err)
		}
	}
	return nil
}

// Start signs in when credentials are present and starts the job timers
// unless the scheduler is disabled.
func (a *App) Start(ctx context.Context) {
	if a.Config.ChannelUsername != "" && a.Config.ChannelPassword != "" {
		result := a.Outreach.Login(ctx)
		a.Logger.Info("channel login at startup", "outcome", result.Outcome, "reason", result.Reason)
	}
	if !a.Config.SchedulerEnabled {
		a.Logger.Warn("scheduler disabled; jobs run only when triggered")
		return
	}
	a.Coordinator.Start(ctx)
}

// Close releases storage and client handles.
func (a *App) Close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.ledgerDB != nil {
		_ = a.ledgerDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
