package repository

import (
	"context"
	"errors"
	"time"

	"pinabook/internal/database"
	"pinabook/internal/models"
)

// ErrDuplicateSlot is returned by BookingStore.Create when the slot already
// holds a PENDING or CONFIRMED booking.
var ErrDuplicateSlot = errors.New("slot already holds an active booking")

// Transactor scopes a unit of work. Stores called with the context passed to
// fn take part in the same transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Getters return (nil, nil) when the record does not exist.

type AffiliateStore interface {
	Create(ctx context.Context, affiliate *models.Affiliate) error
	GetByID(ctx context.Context, id string) (*models.Affiliate, error)
	UpdateDisplayName(ctx context.Context, id, displayName string, at time.Time) error
	ListIDs(ctx context.Context) ([]string, error)
}

type FacilityStore interface {
	Create(ctx context.Context, facility *models.Facility) error
	GetByID(ctx context.Context, id string) (*models.Facility, error)
	// GetForUpdate reads the facility and holds it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Facility, error)
	Update(ctx context.Context, facility *models.Facility) error
	ListByAffiliate(ctx context.Context, affiliateID string, includeInactive bool) ([]*models.Facility, error)
	// ListAvailable returns active facilities accepting reservations.
	ListAvailable(ctx context.Context) ([]*models.Facility, error)
}

type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	FindActiveBySlot(ctx context.Context, facilityID string, tour models.TourType, date time.Time) (*models.Booking, error)
	// UpdateStatus moves the booking from -> to and reports false when the
	// booking was no longer in the from state.
	UpdateStatus(ctx context.Context, id string, from, to models.BookingStatus, reason string, at time.Time) (bool, error)
	ListByAffiliate(ctx context.Context, affiliateID string, status *models.BookingStatus) ([]*models.Booking, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.Booking, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	// List returns entries in append order starting at from (inclusive).
	List(ctx context.Context, affiliateID string, from *time.Time, limit int) ([]*models.AuditEntry, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, state *models.SubscriptionState) error
	GetByAffiliate(ctx context.Context, affiliateID string) (*models.SubscriptionState, error)
	GetForUpdate(ctx context.Context, affiliateID string) (*models.SubscriptionState, error)
	Update(ctx context.Context, state *models.SubscriptionState) error
	List(ctx context.Context) ([]*models.SubscriptionState, error)
}

// CounterStore keeps the projected counters together with the last state
// projected for each entity, so a replayed event can be recognized.
type CounterStore interface {
	Get(ctx context.Context, affiliateID string) (*models.AggregateCounters, error)
	// Lock serializes counter writers of an affiliate until the surrounding
	// transaction ends.
	Lock(ctx context.Context, affiliateID string) error
	// Mark returns the last projected state of an entity, "" when none.
	Mark(ctx context.Context, affiliateID, entityKey string) (string, error)
	// Apply adds delta and records state as the entity's mark.
	Apply(ctx context.Context, affiliateID string, delta models.CounterDelta, entityKey, state string, at time.Time) error
	// Put replaces the counters and every mark of the affiliate.
	Put(ctx context.Context, counters *models.AggregateCounters, marks map[string]string) error
}

type Repositories struct {
	Tx            Transactor
	Affiliates    AffiliateStore
	Facilities    FacilityStore
	Bookings      BookingStore
	Audit         AuditStore
	Subscriptions SubscriptionStore
	Counters      CounterStore
}

// NewRepositories returns the Postgres-backed store set.
func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Tx:            db,
		Affiliates:    NewAffiliateRepository(db),
		Facilities:    NewFacilityRepository(db),
		Bookings:      NewBookingRepository(db),
		Audit:         NewAuditRepository(db),
		Subscriptions: NewSubscriptionRepository(db),
		Counters:      NewCounterRepository(db),
	}
}
