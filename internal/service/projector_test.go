package service

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinabook/internal/models"
)

func TestProjector_RebuildMatchesIncremental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")

	rng := rand.New(rand.NewSource(42))
	var (
		facilities []*models.Facility
		pending    []*models.Booking
	)
	for i := 0; i < 3; i++ {
		facilities = append(facilities, f.createFacility(t, "aff-1", "Villa"))
	}

	for step := 0; step < 200; step++ {
		switch op := rng.Intn(6); {
		case op <= 2:
			fac := facilities[rng.Intn(len(facilities))]
			tour := models.TourDay
			if rng.Intn(2) == 1 {
				tour = models.TourNight
			}
			b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, tour, day(2024, time.Month(6+rng.Intn(3)), 1+rng.Intn(28)))
			if err == nil {
				pending = append(pending, b)
			}
		case op == 3 && len(pending) > 0:
			i := rng.Intn(len(pending))
			_, _ = f.svc.Reservations.ConfirmBooking(ctx, "aff-1", pending[i].ID)
			pending = append(pending[:i], pending[i+1:]...)
		case op == 4 && len(pending) > 0:
			i := rng.Intn(len(pending))
			_, _ = f.svc.Reservations.RejectBooking(ctx, "aff-1", pending[i].ID, "")
			pending = append(pending[:i], pending[i+1:]...)
		case op == 5 && len(pending) > 0:
			i := rng.Intn(len(pending))
			_, _ = f.svc.Reservations.CancelBooking(ctx, "cust", pending[i].ID)
			pending = append(pending[:i], pending[i+1:]...)
		}
		if step == 100 {
			_, err := f.svc.Catalog.DeactivateFacility(ctx, "aff-1", facilities[0].ID)
			require.NoError(t, err)
		}
	}

	incremental := f.counters(t, "aff-1")
	rebuilt, err := f.svc.Projector.Rebuild(ctx, "aff-1")
	require.NoError(t, err)
	assert.True(t, incremental.Equal(rebuilt), "incremental %+v rebuilt %+v", incremental, rebuilt)
	assert.Equal(t, int64(2), rebuilt.Facilities)
	assert.Equal(t, int64(len(pending)), rebuilt.PendingBookings)

	// rebuilding again changes nothing
	again, err := f.svc.Projector.Rebuild(ctx, "aff-1")
	require.NoError(t, err)
	assert.True(t, rebuilt.Equal(again))
}

func TestProjector_VerifyAllRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	f.register(t, "aff-2", "Ben")
	fac := f.createFacility(t, "aff-1", "Villa")
	f.createFacility(t, "aff-2", "Casa")

	b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, models.TourDay, day(2024, 6, 1))
	require.NoError(t, err)

	// a lost event: the booking is confirmed in the store but never projected
	ok, err := f.repos.Bookings.UpdateStatus(ctx, b.ID, models.BookingPending, models.BookingConfirmed, "", f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, _, consistent, err := f.svc.Projector.Verify(ctx, "aff-1")
	require.NoError(t, err)
	assert.False(t, consistent)

	repaired, err := f.svc.Projector.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aff-1"}, repaired)

	c := f.counters(t, "aff-1")
	assert.Equal(t, int64(0), c.PendingBookings)
	assert.Equal(t, int64(1), c.ConfirmedBookings)
	assert.True(t, c.LifetimeRevenue.Equal(decimal.NewFromInt(500)))
}

func TestProjector_Handle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.svc.Projector

	// the transition overtakes the request it follows
	transitioned, err := json.Marshal(models.BookingTransitionedEvent{
		BookingID:       "b-9",
		AffiliateID:     "aff-9",
		From:            models.BookingPending,
		To:              models.BookingConfirmed,
		ReservationDate: day(2024, 12, 24),
		Amount:          decimal.RequireFromString("1250.50"),
	})
	require.NoError(t, err)
	requested, err := json.Marshal(models.BookingRequestedEvent{
		BookingID:       "b-9",
		AffiliateID:     "aff-9",
		ReservationDate: day(2024, 12, 24),
		Amount:          decimal.RequireFromString("1250.50"),
	})
	require.NoError(t, err)

	require.NoError(t, p.Handle(ctx, models.EventBookingTransitioned, transitioned))
	require.NoError(t, p.Handle(ctx, models.EventBookingRequested, requested))

	c := f.counters(t, "aff-9")
	assert.Equal(t, int64(0), c.PendingBookings)
	assert.Equal(t, int64(1), c.ConfirmedBookings)
	assert.Equal(t, "1250.5", c.PeriodRevenue["2024-12"].String())

	assert.NoError(t, p.Handle(ctx, "facility.renamed", []byte(`{}`)))
	assert.Error(t, p.Handle(ctx, models.EventFacilityCreated, []byte(`not json`)))

	// без идентификатора событие не учитывается
	require.NoError(t, p.Handle(ctx, models.EventFacilityCreated, []byte(`{"affiliate_id":"aff-9"}`)))
	assert.Equal(t, int64(0), f.counters(t, "aff-9").Facilities)
}

func requestedEvent(t *testing.T, b *models.Booking) []byte {
	t.Helper()
	data, err := json.Marshal(models.BookingRequestedEvent{
		EventID:         "evt-" + b.ID,
		BookingID:       b.ID,
		FacilityID:      b.FacilityID,
		AffiliateID:     b.AffiliateID,
		CustomerID:      b.CustomerID,
		TourType:        b.TourType,
		ReservationDate: b.ReservationDate,
		Amount:          b.Amount,
		Timestamp:       b.CreatedAt,
	})
	require.NoError(t, err)
	return data
}

func facilityEvent(t *testing.T, fac *models.Facility) []byte {
	t.Helper()
	data, err := json.Marshal(models.FacilityEvent{
		EventID:     "evt-" + fac.ID,
		FacilityID:  fac.ID,
		AffiliateID: fac.AffiliateID,
	})
	require.NoError(t, err)
	return data
}

func TestProjector_LateRequestAfterRebuildIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")

	b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, models.TourDay, day(2024, 6, 1))
	require.NoError(t, err)

	_, err = f.svc.Projector.Rebuild(ctx, "aff-1")
	require.NoError(t, err)

	// the broker hands the already rebuilt request over twice more
	late := requestedEvent(t, b)
	require.NoError(t, f.svc.Projector.Handle(ctx, models.EventBookingRequested, late))
	require.NoError(t, f.svc.Projector.Handle(ctx, models.EventBookingRequested, late))

	c := f.counters(t, "aff-1")
	assert.Equal(t, int64(1), c.PendingBookings)
	assert.Equal(t, int64(1), c.Facilities)

	_, _, consistent, err := f.svc.Projector.Verify(ctx, "aff-1")
	require.NoError(t, err)
	assert.True(t, consistent)

	// a transition after the rebuild still counts
	_, err = f.svc.Reservations.ConfirmBooking(ctx, "aff-1", b.ID)
	require.NoError(t, err)
	c = f.counters(t, "aff-1")
	assert.Equal(t, int64(0), c.PendingBookings)
	assert.Equal(t, int64(1), c.ConfirmedBookings)
	assert.True(t, c.LifetimeRevenue.Equal(b.Amount))
}

func TestProjector_RedeliveredEventsCountOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.svc.Projector
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")

	b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, models.TourNight, day(2024, 7, 3))
	require.NoError(t, err)
	confirmed, err := f.svc.Reservations.ConfirmBooking(ctx, "aff-1", b.ID)
	require.NoError(t, err)

	transitioned, err := json.Marshal(models.BookingTransitionedEvent{
		EventID:         "evt-confirm",
		BookingID:       b.ID,
		FacilityID:      fac.ID,
		AffiliateID:     "aff-1",
		From:            models.BookingPending,
		To:              models.BookingConfirmed,
		ReservationDate: confirmed.ReservationDate,
		Amount:          confirmed.Amount,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Handle(ctx, models.EventFacilityCreated, facilityEvent(t, fac)))
		require.NoError(t, p.Handle(ctx, models.EventBookingRequested, requestedEvent(t, b)))
		require.NoError(t, p.Handle(ctx, models.EventBookingTransitioned, transitioned))
	}

	c := f.counters(t, "aff-1")
	assert.Equal(t, int64(1), c.Facilities)
	assert.Equal(t, int64(0), c.PendingBookings)
	assert.Equal(t, int64(1), c.ConfirmedBookings)
	assert.True(t, c.PeriodRevenue["2024-07"].Equal(confirmed.Amount))

	_, _, consistent, err := p.Verify(ctx, "aff-1")
	require.NoError(t, err)
	assert.True(t, consistent)
}

func TestProjector_DeactivatedFacilityIgnoresLateCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")
	f.createFacility(t, "aff-1", "Casa")

	_, err := f.svc.Catalog.DeactivateFacility(ctx, "aff-1", fac.ID)
	require.NoError(t, err)
	_, err = f.svc.Projector.Rebuild(ctx, "aff-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Projector.Handle(ctx, models.EventFacilityCreated, facilityEvent(t, fac)))
	require.NoError(t, f.svc.Projector.Handle(ctx, models.EventFacilityDeactivated, facilityEvent(t, fac)))

	assert.Equal(t, int64(1), f.counters(t, "aff-1").Facilities)
}

func TestProjector_GetUnknownAffiliate(t *testing.T) {
	f := newFixture(t)
	c := f.counters(t, "nobody")
	assert.Equal(t, int64(0), c.Facilities)
	assert.True(t, c.LifetimeRevenue.IsZero())
}
