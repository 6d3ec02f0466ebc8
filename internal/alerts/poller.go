package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Poller schedules ingestion cycles on a cron expression. Overlapping runs
// are skipped rather than queued so a slow source cannot pile up cycles.
type Poller struct {
	ingestor *Ingestor
	schedule string
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPoller creates a poller running the ingestor on the given cron schedule.
func NewPoller(ingestor *Ingestor, schedule string) *Poller {
	return &Poller{
		ingestor: ingestor,
		schedule: schedule,
	}
}

// Start begins scheduled ingestion. It returns an error if the schedule
// expression is invalid.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	_, err := p.cron.AddFunc(p.schedule, p.runCycle)
	if err != nil {
		return fmt.Errorf("invalid ingestion schedule %q: %w", p.schedule, err)
	}

	p.cron.Start()
	slog.Info("alert poller started", "schedule", p.schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	p.cancel()
	stopCtx := p.cron.Stop()
	<-stopCtx.Done()
	slog.Info("alert poller stopped")
}

func (p *Poller) runCycle() {
	if err := p.ingestor.RunCycle(p.ctx); err != nil {
		slog.Error("alert ingestion cycle failed", "error", err)
	}
}
