package jobs

import (
	"context"
	"log/slog"
	"time"

	"pinabook/internal/service"
)

// CounterDriftJob compares stored counters with a recount and rebuilds the
// ones that drifted.
type CounterDriftJob struct {
	projector *service.AggregateProjector
	interval  time.Duration
	ticker    *time.Ticker
	done      chan bool
}

func NewCounterDriftJob(projector *service.AggregateProjector, interval time.Duration) *CounterDriftJob {
	return &CounterDriftJob{
		projector: projector,
		interval:  interval,
		done:      make(chan bool),
	}
}

func (j *CounterDriftJob) Start(ctx context.Context) {
	slog.Info("Starting counter drift job", "check_interval", j.interval)

	j.ticker = time.NewTicker(j.interval)

	go func() {
		for {
			select {
			case <-j.ticker.C:
				j.verify(ctx)
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Counter drift job stopped")
				return
			}
		}
	}()
}

func (j *CounterDriftJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
}

func (j *CounterDriftJob) verify(ctx context.Context) {
	repaired, err := j.projector.VerifyAll(ctx)
	if err != nil {
		slog.Error("Counter verification failed", "error", err)
		return
	}
	if len(repaired) > 0 {
		slog.Warn("Rebuilt drifted counters", "affiliates", repaired)
	}
}
