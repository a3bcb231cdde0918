package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinabook/internal/auth"
	apperrors "pinabook/internal/errors"
	"pinabook/internal/models"
)

// noLocks lets every caller through so slot exclusivity rests on the store.
type noLocks struct{}

func (noLocks) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

func TestReservationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-a", "Affiliate A")

	f1 := f.createFacility(t, "aff-a", "F1")
	assert.Equal(t, int64(1), f.counters(t, "aff-a").Facilities)

	booking, err := f.svc.Reservations.RequestBooking(ctx, "cust-c", f1.ID, models.TourDay, day(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.True(t, booking.Amount.Equal(f1.DayTour.Price))
	assert.Equal(t, int64(1), f.counters(t, "aff-a").PendingBookings)

	_, err = f.svc.Reservations.RequestBooking(ctx, "cust-d", f1.ID, models.TourDay, day(2024, 6, 1))
	assert.ErrorIs(t, err, apperrors.ErrSlotConflict)

	confirmed, err := f.svc.Reservations.ConfirmBooking(ctx, "aff-a", booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)

	c := f.counters(t, "aff-a")
	assert.Equal(t, int64(0), c.PendingBookings)
	assert.Equal(t, int64(1), c.ConfirmedBookings)
	assert.Equal(t, "500", c.LifetimeRevenue.String())
	assert.Equal(t, "500", c.PeriodRevenue["2024-06"].String())

	_, err = f.svc.Reservations.RejectBooking(ctx, "aff-a", "no-such-booking", "full")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRequestBooking_ConcurrentSameSlot(t *testing.T) {
	for _, tc := range []struct {
		name   string
		locked bool
	}{
		{"slot lock", true},
		{"store constraint only", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.register(t, "aff-1", "Ana")
			fac := f.createFacility(t, "aff-1", "Villa")

			engine := f.svc.Reservations
			if !tc.locked {
				engine = NewReservationEngine(f.repos, f.svc.Audit, f.svc.Subscriptions, noLocks{}, f.bus, time.Second, f.clock.Now)
			}

			const n = 50
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				wins      int
				conflicts int
				other     []error
			)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := engine.RequestBooking(context.Background(), "cust", fac.ID, models.TourNight, day(2024, 7, 4))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case apperrors.KindOf(err) == apperrors.KindSlotConflict:
						conflicts++
					default:
						other = append(other, err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Empty(t, other)
			assert.Equal(t, 1, wins)
			assert.Equal(t, n-1, conflicts)

			pending := models.BookingPending
			bookings, err := f.svc.Reservations.ListBookingsForAffiliate(context.Background(), "aff-1", &pending)
			require.NoError(t, err)
			assert.Len(t, bookings, 1)
			assert.Equal(t, 0, f.locker.Len())
		})
	}
}

func TestRequestBooking_DistinctSlotsIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")

	_, err := f.svc.Reservations.RequestBooking(ctx, "c1", fac.ID, models.TourDay, day(2024, 6, 1))
	require.NoError(t, err)
	_, err = f.svc.Reservations.RequestBooking(ctx, "c2", fac.ID, models.TourNight, day(2024, 6, 1))
	require.NoError(t, err)
	_, err = f.svc.Reservations.RequestBooking(ctx, "c3", fac.ID, models.TourDay, day(2024, 6, 2))
	require.NoError(t, err)
	// time of day is ignored
	_, err = f.svc.Reservations.RequestBooking(ctx, "c4", fac.ID, models.TourDay, time.Date(2024, 6, 2, 15, 30, 0, 0, time.UTC))
	assert.ErrorIs(t, err, apperrors.ErrSlotConflict)
}

func TestRequestBooking_SlotLockTimeout(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")
	engine := NewReservationEngine(f.repos, f.svc.Audit, f.svc.Subscriptions, f.locker, f.bus, 20*time.Millisecond, f.clock.Now)

	date := day(2024, 6, 1)
	release, err := f.locker.Acquire(context.Background(), "slot:"+models.SlotKey(fac.ID, models.TourDay, date))
	require.NoError(t, err)

	_, err = engine.RequestBooking(context.Background(), "c1", fac.ID, models.TourDay, date)
	assert.ErrorIs(t, err, apperrors.ErrSlotConflict)

	release()
	_, err = engine.RequestBooking(context.Background(), "c1", fac.ID, models.TourDay, date)
	assert.NoError(t, err)
}

func TestRequestBooking_CancelledCaller(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Reservations.RequestBooking(ctx, "c1", fac.ID, models.TourDay, day(2024, 6, 1))
	assert.ErrorIs(t, err, context.Canceled)

	bookings, err := f.svc.Reservations.ListBookingsForCustomer(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.Equal(t, 0, f.locker.Len())
}

func TestRequestBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reservations.RequestBooking(ctx, "c1", "fac", "DUSK", day(2024, 6, 1))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.Reservations.RequestBooking(ctx, "c1", "fac", models.TourDay, time.Time{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.Reservations.RequestBooking(ctx, "c1", "missing", models.TourDay, day(2024, 6, 1))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBookingTransitions_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")

	request := func(d int) *models.Booking {
		b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, models.TourDay, day(2024, 8, d))
		require.NoError(t, err)
		return b
	}
	confirmed, rejected, cancelled := request(1), request(2), request(3)

	_, err := f.svc.Reservations.ConfirmBooking(ctx, "aff-1", confirmed.ID)
	require.NoError(t, err)
	r, err := f.svc.Reservations.RejectBooking(ctx, "aff-1", rejected.ID, "maintenance")
	require.NoError(t, err)
	assert.Equal(t, "maintenance", r.Reason)
	_, err = f.svc.Reservations.CancelBooking(ctx, "cust", cancelled.ID)
	require.NoError(t, err)

	for _, id := range []string{confirmed.ID, rejected.ID, cancelled.ID} {
		_, err = f.svc.Reservations.ConfirmBooking(ctx, "aff-1", id)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
		_, err = f.svc.Reservations.RejectBooking(ctx, "aff-1", id, "")
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
		_, err = f.svc.Reservations.CancelBooking(ctx, "cust", id)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	}

	b, err := f.svc.Reservations.GetBooking(ctx, auth.Identity{UserID: "cust", Role: models.RoleCustomer}, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingRejected, b.Status)

	// a rejected or cancelled slot can be booked again
	_, err = f.svc.Reservations.RequestBooking(ctx, "other", fac.ID, models.TourDay, day(2024, 8, 2))
	assert.NoError(t, err)
	_, err = f.svc.Reservations.RequestBooking(ctx, "other", fac.ID, models.TourDay, day(2024, 8, 1))
	assert.ErrorIs(t, err, apperrors.ErrSlotConflict)
}

func TestBookingTransitions_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	f.register(t, "aff-2", "Ben")
	fac := f.createFacility(t, "aff-1", "Villa")

	b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, models.TourDay, day(2024, 6, 1))
	require.NoError(t, err)

	_, err = f.svc.Reservations.ConfirmBooking(ctx, "aff-2", b.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = f.svc.Reservations.CancelBooking(ctx, "intruder", b.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.svc.Reservations.GetBooking(ctx, auth.Identity{UserID: "intruder", Role: models.RoleCustomer}, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.svc.Reservations.GetBooking(ctx, auth.Identity{UserID: "aff-1", Role: models.RoleAffiliate}, b.ID)
	assert.NoError(t, err)
	_, err = f.svc.Reservations.GetBooking(ctx, auth.Identity{UserID: "root", Role: models.RoleAdmin}, b.ID)
	assert.NoError(t, err)
}

func TestBookingTransitions_ConcurrentConfirmAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")

	for d := 1; d <= 20; d++ {
		b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, models.TourDay, day(2024, 9, d))
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = f.svc.Reservations.ConfirmBooking(ctx, "aff-1", b.ID)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = f.svc.Reservations.CancelBooking(ctx, "cust", b.ID)
		}()
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
			}
		}
		assert.Equal(t, 1, succeeded)
	}

	stored, expected, ok, err := f.svc.Projector.Verify(ctx, "aff-1")
	require.NoError(t, err)
	assert.True(t, ok, "stored %+v expected %+v", stored, expected)
	assert.Equal(t, int64(0), stored.PendingBookings)
}

func TestBookingAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa")

	b, err := f.svc.Reservations.RequestBooking(ctx, "cust", fac.ID, models.TourNight, day(2024, 6, 1))
	require.NoError(t, err)
	_, err = f.svc.Reservations.RejectBooking(ctx, "aff-1", b.ID, "closed for repairs")
	require.NoError(t, err)

	msgs := f.auditMessages(t, "aff-1")
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "Customer cust requested night tour at Villa on 2024-06-01.", msgs[len(msgs)-2])
	assert.Equal(t, "Rejected booking "+b.ID+" for night tour at Villa on 2024-06-01: closed for repairs.", msgs[len(msgs)-1])
}
