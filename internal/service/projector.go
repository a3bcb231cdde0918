package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pinabook/internal/lock"
	"pinabook/internal/logger"
	"pinabook/internal/messaging"
	"pinabook/internal/metrics"
	"pinabook/internal/models"
	"pinabook/internal/repository"
)

// AggregateProjector maintains per-affiliate dashboard counters from domain
// events. Rebuild recomputes them from the stores and is the source of truth
// when the two disagree.
type AggregateProjector struct {
	repos *repository.Repositories
	locks *lock.KeyedMutex
	now   func() time.Time
}

func NewAggregateProjector(repos *repository.Repositories, locks *lock.KeyedMutex, now func() time.Time) *AggregateProjector {
	return &AggregateProjector{repos: repos, locks: locks, now: now}
}

// ProjectedSubjects are the events that move counters.
var ProjectedSubjects = []string{
	models.EventFacilityCreated,
	models.EventFacilityDeactivated,
	models.EventBookingRequested,
	models.EventBookingTransitioned,
}

// Subscribe attaches the projector to every projected subject.
func (p *AggregateProjector) Subscribe(sub messaging.Subscriber, queue string) error {
	for _, subject := range ProjectedSubjects {
		if err := sub.Subscribe(subject, queue, p.Handle); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}
	return nil
}

// Handle applies one event. Unknown subjects are ignored.
//
// Every facility and booking carries a mark with the last state counted for
// it. An event whose state is not past the mark is a redelivery or arrived
// after a Rebuild that already saw it, and is skipped.
func (p *AggregateProjector) Handle(ctx context.Context, subject string, data []byte) error {
	pr, err := decodeProjection(subject, data)
	if err != nil {
		return err
	}
	if pr == nil || pr.affiliateID == "" {
		return nil
	}
	log := logger.WithContext(ctx).With("affiliate_id", pr.affiliateID, "event_type", subject)
	if pr.entityKey == "" {
		log.Warn("Event without entity id, not projected")
		return nil
	}

	release, err := p.locks.Acquire(ctx, pr.affiliateID)
	if err != nil {
		return err
	}
	defer release()

	applied := false
	err = p.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := p.repos.Counters.Lock(ctx, pr.affiliateID); err != nil {
			return err
		}
		prev, err := p.repos.Counters.Mark(ctx, pr.affiliateID, pr.entityKey)
		if err != nil {
			return err
		}
		if stageOf(prev) >= stageOf(pr.state) {
			return nil
		}
		applied = true
		return p.repos.Counters.Apply(ctx, pr.affiliateID, pr.deltaFrom(prev), pr.entityKey, pr.state, p.now())
	})
	if err != nil {
		return fmt.Errorf("failed to apply counters: %w", err)
	}

	if !applied {
		log.Debug("Event already counted", "entity", pr.entityKey, "state", pr.state)
		return nil
	}
	log.Debug("Counters updated", "entity", pr.entityKey, "state", pr.state)
	return nil
}

const (
	facilityActive   = "ACTIVE"
	facilityInactive = "INACTIVE"
)

// projection is the state one event moves an entity to.
type projection struct {
	affiliateID string
	entityKey   string
	state       string
	amount      decimal.Decimal
	period      string
}

func facilityKey(id string) string { return "facility:" + id }
func bookingKey(id string) string  { return "booking:" + id }

// stageOf orders entity states. Facilities only go from active to inactive
// and bookings from pending to a terminal status.
func stageOf(state string) int {
	switch state {
	case "":
		return 0
	case facilityActive, string(models.BookingPending):
		return 1
	default:
		return 2
	}
}

// contribution is what an entity in state adds to the counters.
func (pr *projection) contribution(state string) models.CounterDelta {
	var d models.CounterDelta
	switch state {
	case facilityActive:
		d.Facilities = 1
	case string(models.BookingPending):
		d.PendingBookings = 1
	case string(models.BookingConfirmed):
		d.ConfirmedBookings = 1
		d.Revenue = pr.amount
		d.Period = pr.period
	}
	return d
}

// deltaFrom moves the entity's contribution from prev to pr.state. prev is
// always an earlier stage, so it never carries revenue.
func (pr *projection) deltaFrom(prev string) models.CounterDelta {
	d := pr.contribution(pr.state)
	was := pr.contribution(prev)
	d.PendingBookings -= was.PendingBookings
	d.ConfirmedBookings -= was.ConfirmedBookings
	d.Facilities -= was.Facilities
	return d
}

func decodeProjection(subject string, data []byte) (*projection, error) {
	switch subject {
	case models.EventFacilityCreated, models.EventFacilityDeactivated:
		var ev models.FacilityEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", subject, err)
		}
		pr := &projection{affiliateID: ev.AffiliateID, state: facilityActive}
		if ev.FacilityID != "" {
			pr.entityKey = facilityKey(ev.FacilityID)
		}
		if subject == models.EventFacilityDeactivated {
			pr.state = facilityInactive
		}
		return pr, nil

	case models.EventBookingRequested:
		var ev models.BookingRequestedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", subject, err)
		}
		pr := &projection{affiliateID: ev.AffiliateID, state: string(models.BookingPending)}
		if ev.BookingID != "" {
			pr.entityKey = bookingKey(ev.BookingID)
		}
		return pr, nil

	case models.EventBookingTransitioned:
		var ev models.BookingTransitionedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", subject, err)
		}
		pr := &projection{
			affiliateID: ev.AffiliateID,
			state:       string(ev.To),
			amount:      ev.Amount,
			period:      ev.ReservationDate.UTC().Format("2006-01"),
		}
		if ev.BookingID != "" {
			pr.entityKey = bookingKey(ev.BookingID)
		}
		return pr, nil
	}
	return nil, nil
}

// Get returns the stored counters, zeroed if none were projected yet.
func (p *AggregateProjector) Get(ctx context.Context, affiliateID string) (*models.AggregateCounters, error) {
	c, err := p.repos.Counters.Get(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get counters: %w", err)
	}
	if c == nil {
		c = models.NewAggregateCounters(affiliateID)
	}
	return c, nil
}

// compute scans facilities and bookings of the affiliate. It also returns the
// mark of every scanned entity.
func (p *AggregateProjector) compute(ctx context.Context, affiliateID string) (*models.AggregateCounters, map[string]string, error) {
	c := models.NewAggregateCounters(affiliateID)
	marks := map[string]string{}

	facilities, err := p.repos.Facilities.ListByAffiliate(ctx, affiliateID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	for _, f := range facilities {
		if !f.Active {
			marks[facilityKey(f.ID)] = facilityInactive
			continue
		}
		c.Facilities++
		marks[facilityKey(f.ID)] = facilityActive
	}

	bookings, err := p.repos.Bookings.ListByAffiliate(ctx, affiliateID, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	for _, b := range bookings {
		marks[bookingKey(b.ID)] = string(b.Status)
		switch b.Status {
		case models.BookingPending:
			c.PendingBookings++
		case models.BookingConfirmed:
			c.ConfirmedBookings++
			c.LifetimeRevenue = c.LifetimeRevenue.Add(b.Amount)
			c.PeriodRevenue[b.Period()] = c.PeriodRevenue[b.Period()].Add(b.Amount)
		}
	}
	c.UpdatedAt = p.now()
	return c, marks, nil
}

// Rebuild replaces the stored counters and marks with a full recomputation.
// Scan and write share one transaction under the affiliate's counter lock, so
// an event either lands before the scan or finds the mark written here.
func (p *AggregateProjector) Rebuild(ctx context.Context, affiliateID string) (*models.AggregateCounters, error) {
	release, err := p.locks.Acquire(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	defer release()

	var c *models.AggregateCounters
	err = p.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := p.repos.Counters.Lock(ctx, affiliateID); err != nil {
			return err
		}
		computed, marks, err := p.compute(ctx, affiliateID)
		if err != nil {
			return err
		}
		if err := p.repos.Counters.Put(ctx, computed, marks); err != nil {
			return fmt.Errorf("failed to store counters: %w", err)
		}
		c = computed
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("Counters rebuilt",
		"affiliate_id", affiliateID,
		"pending", c.PendingBookings,
		"confirmed", c.ConfirmedBookings,
		"facilities", c.Facilities)
	return c, nil
}

// Verify compares stored counters with a fresh scan without changing either.
func (p *AggregateProjector) Verify(ctx context.Context, affiliateID string) (stored, expected *models.AggregateCounters, consistent bool, err error) {
	release, err := p.locks.Acquire(ctx, affiliateID)
	if err != nil {
		return nil, nil, false, err
	}
	defer release()

	stored, err = p.Get(ctx, affiliateID)
	if err != nil {
		return nil, nil, false, err
	}
	expected, _, err = p.compute(ctx, affiliateID)
	if err != nil {
		return nil, nil, false, err
	}
	return stored, expected, stored.Equal(expected), nil
}

// VerifyAll checks every affiliate and rebuilds those that drifted. It
// returns the affiliates that were repaired.
func (p *AggregateProjector) VerifyAll(ctx context.Context) ([]string, error) {
	ids, err := p.repos.Affiliates.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list affiliates: %w", err)
	}

	var (
		repaired []string
		errs     []error
	)
	for _, id := range ids {
		_, _, ok, err := p.Verify(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("affiliate %s: %w", id, err))
			continue
		}
		if ok {
			continue
		}

		metrics.CounterDrift.Inc()
		logger.WithContext(ctx).Warn("Counter drift detected", "affiliate_id", id)
		if _, err := p.Rebuild(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("affiliate %s: %w", id, err))
			continue
		}
		repaired = append(repaired, id)
	}
	return repaired, errors.Join(errs...)
}
