// Package app connects the configured infrastructure and builds the service
// set shared by the API server, the consumers and the admin CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"pinabook/internal/cache"
	"pinabook/internal/config"
	"pinabook/internal/database"
	"pinabook/internal/external"
	"pinabook/internal/lock"
	"pinabook/internal/messaging"
	"pinabook/internal/notify"
	"pinabook/internal/repository"
	"pinabook/internal/repository/memory"
	"pinabook/internal/search"
	"pinabook/internal/service"
)

type App struct {
	Config   *config.Config
	DB       *database.DB
	Repos    *repository.Repositories
	Services *service.Services

	Publisher  messaging.Publisher
	Subscriber messaging.Subscriber
	// LocalBus is set when events are dispatched in process.
	LocalBus *messaging.LocalBus

	Valkey *cache.ValkeyClient
	Search *search.ElasticsearchClient

	closers []func() error
}

// New connects every configured backend. On error, whatever was already
// opened is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	// error branches return nil, so cleanup holds its own reference
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("Using in-memory store; data is lost on restart")
		a.Repos = memory.NewRepositories()
	case "postgres":
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if err := db.RunMigrations(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Repos = repository.NewRepositories(db)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.BusDriver {
	case "local":
		a.LocalBus = messaging.NewLocalBus()
		a.Publisher, a.Subscriber = a.LocalBus, a.LocalBus
	case "nats":
		nc, err := messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		a.Publisher, a.Subscriber = nc, nc
	default:
		return nil, fmt.Errorf("unknown BUS_DRIVER %q", cfg.BusDriver)
	}

	var locker lock.Locker
	switch cfg.LockDriver {
	case "local":
		locker = lock.NewKeyedMutex()
	case "redis":
		vc, err := cache.NewValkeyClient(cfg.Valkey)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
		}
		a.Valkey = vc
		a.closers = append(a.closers, vc.Close)
		locker = lock.NewRedisLocker(vc, lock.RedisConfig{TTL: cfg.Reservations.LockTTL})
	default:
		return nil, fmt.Errorf("unknown LOCK_DRIVER %q", cfg.LockDriver)
	}

	var objects external.ObjectStore
	if cfg.ObjectStore.Bucket != "" {
		gcs, err := external.NewGCSObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		objects = gcs
	} else {
		slog.Warn("GCS_BUCKET not set, keeping images in memory")
		objects = external.NewMemoryObjectStore(cfg.ObjectStore.PublicBaseURL)
	}

	var index service.FacilityIndex
	if cfg.Elasticsearch.Enabled {
		es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			// поиск необязателен: работаем через скан хранилища
			slog.Warn("Elasticsearch unavailable, search falls back to store scan", "error", err)
		} else {
			a.Search = es
			index = es
		}
	}

	var billing external.BillingGateway
	if cfg.Billing.BaseURL != "" {
		billing = external.NewBillingClient(cfg.Billing)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.RabbitMQURL != "" {
		notifier = notify.NewRabbitNotifier(cfg.RabbitMQURL, notify.ReminderQueue)
	}

	a.Services = service.NewServices(service.Dependencies{
		Repos:     a.Repos,
		Locker:    locker,
		Publisher: a.Publisher,
		Objects:   objects,
		Billing:   billing,
		Notifier:  notifier,
		Index:     index,
	}, service.Options{
		LockTimeout:       cfg.Reservations.LockTimeout,
		SubscriptionCycle: cfg.Subscriptions.Cycle,
		GracePeriod:       cfg.Subscriptions.GracePeriod,
	})
	a.closers = append(a.closers, func() error {
		a.Services.Close()
		return nil
	})

	return a, nil
}

// AttachLocalProjector runs the projector in process when events do not
// leave it. With NATS the consumers binary owns projection.
func (a *App) AttachLocalProjector() error {
	if a.LocalBus == nil {
		return nil
	}
	return a.Services.Projector.Subscribe(a.LocalBus, "projector")
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("Error during cleanup", "error", err)
		}
	}
	a.closers = nil
}
