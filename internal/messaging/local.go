package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// LocalBus dispatches events synchronously to in-process handlers. Handler
// failures are logged and do not fail the publisher.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: map[string][]Handler{}}
}

func (b *LocalBus) Publish(ctx context.Context, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[subject]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, subject, payload); err != nil {
			slog.Error("Local handler failed", "subject", subject, "error", err)
		}
	}
	return nil
}

// Subscribe registers handler for subject. queue is ignored; every handler
// sees every event.
func (b *LocalBus) Subscribe(subject, queue string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	return nil
}

func (b *LocalBus) Close() error { return nil }
