package service

import (
	"context"
	"time"

	"pinabook/internal/external"
	"pinabook/internal/lock"
	"pinabook/internal/logger"
	"pinabook/internal/messaging"
	"pinabook/internal/models"
	"pinabook/internal/notify"
	"pinabook/internal/repository"
)

// FacilityIndex is the optional full-text index kept beside the catalog.
type FacilityIndex interface {
	IndexFacility(ctx context.Context, f *models.Facility) error
	DeleteFacility(ctx context.Context, id string) error
	Search(ctx context.Context, query string, page, pageSize int) ([]string, error)
}

// WriteGate decides whether an affiliate may currently mutate its catalog or
// accept new bookings.
type WriteGate interface {
	CheckWritable(ctx context.Context, affiliateID string) error
}

type Dependencies struct {
	Repos     *repository.Repositories
	Locker    lock.Locker
	Publisher messaging.Publisher
	Objects   external.ObjectStore
	Billing   external.BillingGateway
	Notifier  notify.Notifier
	Index     FacilityIndex
	Now       func() time.Time
}

type Options struct {
	LockTimeout       time.Duration
	SubscriptionCycle time.Duration
	GracePeriod       time.Duration
}

type Services struct {
	Audit         *AuditLog
	Affiliates    *AffiliateService
	Catalog       *FacilityCatalog
	Reservations  *ReservationEngine
	Projector     *AggregateProjector
	Subscriptions *SubscriptionManager

	// Now is the clock shared by every service.
	Now func() time.Time
}

func NewServices(deps Dependencies, opts Options) *Services {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = messaging.NewLocalBus()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	audit := NewAuditLog(deps.Repos.Audit, now)
	subscriptions := NewSubscriptionManager(deps.Repos, audit, deps.Billing, notifier, publisher,
		opts.SubscriptionCycle, opts.GracePeriod, now)

	return &Services{
		Audit:         audit,
		Affiliates:    NewAffiliateService(deps.Repos, audit, subscriptions, now),
		Catalog:       NewFacilityCatalog(deps.Repos, audit, subscriptions, deps.Objects, deps.Index, publisher, now),
		Reservations:  NewReservationEngine(deps.Repos, audit, subscriptions, locker, publisher, opts.LockTimeout, now),
		Projector:     NewAggregateProjector(deps.Repos, lock.NewKeyedMutex(), now),
		Subscriptions: subscriptions,
		Now:           now,
	}
}

// Close waits for background work such as image cleanup.
func (s *Services) Close() {
	s.Catalog.Close()
}

// publish emits an event after commit. Failures are logged and do not fail the
// operation; counters recover through Rebuild.
func publish(ctx context.Context, p messaging.Publisher, subject string, event any) {
	if err := p.Publish(ctx, subject, event); err != nil {
		logger.WithContext(ctx).Error("Failed to publish event",
			"error", err,
			"event_type", subject)
	}
}
