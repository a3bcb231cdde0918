package jobs

import (
	"context"
	"log/slog"
	"time"

	"pinabook/internal/service"
)

// SubscriptionEvaluationJob periodically moves lapsed subscriptions through
// grace period and suspension.
type SubscriptionEvaluationJob struct {
	subscriptions *service.SubscriptionManager
	interval      time.Duration
	now           func() time.Time
	ticker        *time.Ticker
	done          chan bool
}

func NewSubscriptionEvaluationJob(subscriptions *service.SubscriptionManager, interval time.Duration, now func() time.Time) *SubscriptionEvaluationJob {
	return &SubscriptionEvaluationJob{
		subscriptions: subscriptions,
		interval:      interval,
		now:           now,
		done:          make(chan bool),
	}
}

// Start runs one evaluation immediately and then once per interval
func (j *SubscriptionEvaluationJob) Start(ctx context.Context) {
	slog.Info("Starting subscription evaluation job", "check_interval", j.interval)

	j.ticker = time.NewTicker(j.interval)

	go func() {
		j.evaluate(ctx)
		for {
			select {
			case <-j.ticker.C:
				j.evaluate(ctx)
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Subscription evaluation job stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the background job
func (j *SubscriptionEvaluationJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
}

func (j *SubscriptionEvaluationJob) evaluate(ctx context.Context) {
	results, err := j.subscriptions.Evaluate(ctx, j.now())
	if err != nil {
		// часть аффилиатов могла быть обработана, следующий тик доделает остальное
		slog.Error("Subscription evaluation finished with errors", "error", err, "transitions", len(results))
		return
	}

	if len(results) == 0 {
		slog.Debug("No subscription transitions")
		return
	}
	for _, r := range results {
		slog.Info("Subscription transitioned", "affiliate_id", r.AffiliateID, "from", r.From, "to", r.To)
	}
}
