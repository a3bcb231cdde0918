package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinabook/internal/models"
	"pinabook/internal/repository"
)

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func booking(id, customer string, status models.BookingStatus) *models.Booking {
	return &models.Booking{
		ID:              id,
		FacilityID:      "fac-1",
		AffiliateID:     "aff-1",
		CustomerID:      customer,
		TourType:        models.TourDay,
		ReservationDate: day,
		Status:          status,
		Amount:          decimal.NewFromInt(500),
		CreatedAt:       day,
		UpdatedAt:       day,
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	boom := errors.New("boom")

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repos.Bookings.Create(ctx, booking("b-1", "c-1", models.BookingPending)))
		require.NoError(t, repos.Audit.Append(ctx, &models.AuditEntry{ID: "a-1", AffiliateID: "aff-1", Message: "x", Timestamp: day}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repos.Bookings.GetByID(ctx, "b-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	entries, err := repos.Audit.List(ctx, "aff-1", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithinTx_CancelledContextDiscardsWrites(t *testing.T) {
	repos := NewRepositories()
	ctx, cancel := context.WithCancel(context.Background())

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repos.Bookings.Create(ctx, booking("b-1", "c-1", models.BookingPending)))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := repos.Bookings.GetByID(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWithinTx_Nested(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		return repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
			return repos.Bookings.Create(ctx, booking("b-1", "c-1", models.BookingPending))
		})
	})
	require.NoError(t, err)

	got, err := repos.Bookings.GetByID(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestBookingCreate_DuplicateActiveSlot(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	require.NoError(t, repos.Bookings.Create(ctx, booking("b-1", "c-1", models.BookingPending)))
	err := repos.Bookings.Create(ctx, booking("b-2", "c-2", models.BookingPending))
	assert.ErrorIs(t, err, repository.ErrDuplicateSlot)

	// терминальная бронь слот не держит
	ok, err := repos.Bookings.UpdateStatus(ctx, "b-1", models.BookingPending, models.BookingCancelled, "", day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, repos.Bookings.Create(ctx, booking("b-2", "c-2", models.BookingPending)))
}

func TestBookingUpdateStatus_CompareAndSet(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	require.NoError(t, repos.Bookings.Create(ctx, booking("b-1", "c-1", models.BookingPending)))

	ok, err := repos.Bookings.UpdateStatus(ctx, "b-1", models.BookingPending, models.BookingConfirmed, "", day)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Bookings.UpdateStatus(ctx, "b-1", models.BookingPending, models.BookingCancelled, "", day)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repos.Bookings.UpdateStatus(ctx, "missing", models.BookingPending, models.BookingCancelled, "", day)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	require.NoError(t, repos.Bookings.Create(ctx, booking("b-1", "c-1", models.BookingPending)))

	got, err := repos.Bookings.GetByID(ctx, "b-1")
	require.NoError(t, err)
	got.Status = models.BookingConfirmed

	again, err := repos.Bookings.GetByID(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, again.Status)
}

func TestAuditList_FromIsInclusive(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	for i, msg := range []string{"first", "second", "third"} {
		require.NoError(t, repos.Audit.Append(ctx, &models.AuditEntry{
			ID:          msg,
			AffiliateID: "aff-1",
			Message:     msg,
			Timestamp:   day.Add(time.Duration(i) * time.Minute),
		}))
	}

	from := day.Add(time.Minute)
	entries, err := repos.Audit.List(ctx, "aff-1", &from, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Message)
	assert.Equal(t, "third", entries[1].Message)

	entries, err = repos.Audit.List(ctx, "aff-1", nil, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Message)
}

func TestCounters_MarksFollowTransactions(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, repos.Counters.Apply(ctx, "aff-1", models.CounterDelta{PendingBookings: 1}, "booking:b-1", "PENDING", day))

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repos.Counters.Apply(ctx, "aff-1",
			models.CounterDelta{PendingBookings: -1, ConfirmedBookings: 1}, "booking:b-1", "CONFIRMED", day))
		return boom
	})
	require.ErrorIs(t, err, boom)

	mark, err := repos.Counters.Mark(ctx, "aff-1", "booking:b-1")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", mark)
	c, err := repos.Counters.Get(ctx, "aff-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.PendingBookings)

	// Put drops marks it is not given
	require.NoError(t, repos.Counters.Put(ctx, models.NewAggregateCounters("aff-1"), map[string]string{"facility:f-1": "ACTIVE"}))
	mark, err = repos.Counters.Mark(ctx, "aff-1", "booking:b-1")
	require.NoError(t, err)
	assert.Empty(t, mark)
	mark, err = repos.Counters.Mark(ctx, "aff-1", "facility:f-1")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", mark)
}
