package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived loop that returns when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator manages the worker goroutines: the payout retry loop and
// the archive cron. Either may be nil.
type Orchestrator struct {
	payouts     Runner
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(payouts Runner, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		payouts:     payouts,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every configured job under an errgroup. A job failing with a
// non-context error cancels the others and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("payouts", o.payouts != nil),
		slog.Bool("archive", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.payouts != nil {
		g.Go(func() error {
			err := o.payouts.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("payout worker: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
