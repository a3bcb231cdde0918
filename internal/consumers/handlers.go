package consumers

import (
	"context"
	"encoding/json"
	"log/slog"

	"pinabook/internal/models"
	"pinabook/internal/service"
)

type Handlers struct {
	projector *service.AggregateProjector
}

func NewHandlers(projector *service.AggregateProjector) *Handlers {
	return &Handlers{projector: projector}
}

// HandleProjected feeds counter-moving events to the projector. A returned
// error leaves the message unacked so it is redelivered.
func (h *Handlers) HandleProjected(ctx context.Context, subject string, data []byte) error {
	if err := h.projector.Handle(ctx, subject, data); err != nil {
		slog.Error("Failed to project event", "subject", subject, "error", err)
		return err
	}
	slog.Debug("Projected event", "subject", subject)
	return nil
}

// HandleSubscriptionChanged logs subscription transitions for operators.
func (h *Handlers) HandleSubscriptionChanged(_ context.Context, _ string, data []byte) error {
	var event models.SubscriptionChangedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		// битое сообщение не переотправляем
		slog.Error("Failed to unmarshal subscription changed event", "error", err)
		return nil
	}

	level := slog.LevelInfo
	if event.To == models.SubscriptionSuspended {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "Subscription changed",
		"affiliate_id", event.AffiliateID,
		"from", event.From,
		"to", event.To,
		"billing_cycle_end", event.BillingCycleEnd)
	return nil
}
