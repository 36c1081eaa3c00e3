package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerbot/internal/arbiter"
	"github.com/alanyoungcy/wagerbot/internal/events"
	"github.com/alanyoungcy/wagerbot/internal/pipeline"
	"github.com/alanyoungcy/wagerbot/internal/server"
	"github.com/alanyoungcy/wagerbot/internal/server/handler"
	"github.com/alanyoungcy/wagerbot/internal/server/ws"
	"github.com/alanyoungcy/wagerbot/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown. It covers an in-flight
// verification round.
const shutdownTimeout = 30 * time.Second

// services are the application-level objects built from Dependencies.
type services struct {
	wagers     *service.WagerService
	queries    *service.QueryService
	dispatcher *service.PayoutDispatcher // nil in transfer mode none
}

func (a *App) buildServices(deps *Dependencies) *services {
	clock := service.ContextClock{Fallback: time.Now}

	var dispatcher *service.PayoutDispatcher
	if deps.Transfer != nil {
		dispatcher = service.NewPayoutDispatcher(service.DispatcherDeps{
			Store:    deps.Store,
			Transfer: deps.Transfer,
			Locks:    deps.Locks,
			Clock:    clock,
			Events:   deps.Events,
			Audit:    deps.Audit,
			Notifier: deps.Notifier,
			Metrics:  deps.Metrics,
		}, service.DispatcherConfig{
			RetryInterval: a.cfg.Payouts.RetryInterval.Duration,
			MaxAttempts:   a.cfg.Payouts.MaxAttempts,
			BatchSize:     a.cfg.Payouts.BatchSize,
			LockTTL:       a.cfg.Escrow.LockTTL.Duration,
		}, a.logger)
	}

	classifier := arbiter.NewClassifier(deps.Oracle, a.logger)
	if deps.Evidence != nil {
		classifier.WithArchive(deps.Evidence)
	}
	aggregator := arbiter.NewAggregator(classifier, arbiter.Config{
		EvaluationTimeout: a.cfg.Arbiter.EvaluationTimeout.Duration,
		Concurrency:       a.cfg.Arbiter.Concurrency,
	}, deps.Metrics, a.logger)

	caps := service.Capabilities{
		Repo:     deps.Store,
		Locks:    deps.Locks,
		Arbiter:  aggregator,
		Clock:    clock,
		Events:   deps.Events,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}
	if dispatcher != nil {
		caps.Payer = dispatcher
	}

	return &services{
		wagers:     service.NewWagerService(caps, a.policy(), a.logger),
		queries:    service.NewQueryService(deps.Store, deps.Store),
		dispatcher: dispatcher,
	}
}

func (a *App) policy() service.Policy {
	esc, arb := a.cfg.Escrow, a.cfg.Arbiter
	return service.Policy{
		AllowUnpaidStakes: esc.AllowUnpaidStakes,
		EnforceDeadlines:  esc.EnforceDeadlines,
		LockTTL:           esc.LockTTL.Duration,
		LockWait:          esc.LockWait.Duration,
		Verify: arbiter.Equivalence{
			Quorum:      arb.MinQuorum,
			MaxAttempts: arb.MaxCommitAttempts,
			Confidence:  arb.VerifyConfidence,
		},
		Appeal: arbiter.Plurality{
			Quorum:     arb.AppealQuorum,
			Confidence: arb.AppealConfidence,
		},
	}
}

// ServerMode serves the HTTP API and the event WebSocket. Fresh payouts are
// still delivered inline; retries are left to a worker process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// WorkerMode runs the payout retry loop and the archive schedule.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// FullMode runs the server and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startWorkers(ctx, g, deps, svcs)
	return g.Wait()
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	var payouts pipeline.Runner
	if svcs.dispatcher != nil {
		payouts = svcs.dispatcher
	}

	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.logger)
	}

	if payouts == nil && archiver == nil {
		a.logger.InfoContext(ctx, "no background jobs configured")
		return
	}

	orch := pipeline.NewOrchestrator(payouts, archiver, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		ReplayStream:   events.StreamName,
		ReplayCount:    a.cfg.Server.WSReplay,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Wagers:  handler.NewWagerHandler(svcs.wagers, svcs.queries, a.logger),
		Players: handler.NewPlayerHandler(svcs.queries, svcs.wagers, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.Evidence != nil {
		handlers.Evidence = handler.NewEvidenceHandler(deps.Evidence, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		TrustTimeHeader: a.cfg.Server.TrustTimeHeader,
		RateLimit:       a.cfg.Server.RateLimit,
		RateWindow:      a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)

	if deps.Limiter == nil && a.cfg.Server.RateLimit > 0 {
		a.logger.WarnContext(ctx, "rate limiting needs redis; requests are not limited")
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
