package consumers

import (
	"context"
	"log/slog"

	"pinabook/internal/app"
	"pinabook/internal/config"
	"pinabook/internal/models"
	"pinabook/internal/service"
)

const queueGroup = "consumers"

type ConsumerService struct {
	app      *app.App
	handlers *Handlers
}

func NewConsumerService(ctx context.Context, cfg *config.Config) (*ConsumerService, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &ConsumerService{
		app:      a,
		handlers: NewHandlers(a.Services.Projector),
	}, nil
}

// Services exposes the service set for background jobs.
func (cs *ConsumerService) Services() *service.Services {
	return cs.app.Services
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting consumers...", "bus", cs.app.Config.BusDriver)

	// Counter projection
	for _, subject := range service.ProjectedSubjects {
		if err := cs.app.Subscriber.Subscribe(subject, queueGroup, cs.handlers.HandleProjected); err != nil {
			return err
		}
	}

	// Subscription transitions
	if err := cs.app.Subscriber.Subscribe(models.EventSubscriptionChanged, queueGroup, cs.handlers.HandleSubscriptionChanged); err != nil {
		return err
	}

	slog.Info("All consumers started successfully")
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	done := make(chan struct{})
	go func() {
		cs.app.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
