package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pinabook/internal/auth"
	apperrors "pinabook/internal/errors"
	"pinabook/internal/lock"
	"pinabook/internal/logger"
	"pinabook/internal/messaging"
	"pinabook/internal/metrics"
	"pinabook/internal/models"
	"pinabook/internal/repository"
)

const DefaultLockTimeout = 5 * time.Second

// ReservationEngine places bookings on facility slots and drives their
// lifecycle. At most one PENDING or CONFIRMED booking exists per slot.
type ReservationEngine struct {
	repos       *repository.Repositories
	audit       *AuditLog
	gate        WriteGate
	locker      lock.Locker
	publisher   messaging.Publisher
	lockTimeout time.Duration
	now         func() time.Time
}

func NewReservationEngine(repos *repository.Repositories, audit *AuditLog, gate WriteGate, locker lock.Locker, publisher messaging.Publisher, lockTimeout time.Duration, now func() time.Time) *ReservationEngine {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &ReservationEngine{
		repos:       repos,
		audit:       audit,
		gate:        gate,
		locker:      locker,
		publisher:   publisher,
		lockTimeout: lockTimeout,
		now:         now,
	}
}

// RequestBooking reserves (facility, tour, date) for a customer. Concurrent
// requests for the same slot are serialized on the slot lock; exactly one
// wins and the rest fail with SlotConflict without touching shared state.
func (e *ReservationEngine) RequestBooking(ctx context.Context, customerID, facilityID string, tour models.TourType, date time.Time) (*models.Booking, error) {
	if customerID == "" {
		return nil, apperrors.Validation("customer_id", "is required")
	}
	if facilityID == "" {
		return nil, apperrors.Validation("facility_id", "is required")
	}
	if !tour.Valid() {
		return nil, apperrors.Validation("tour_type", "must be one of DAY NIGHT")
	}
	if date.IsZero() {
		return nil, apperrors.Validation("date", "is required")
	}
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	slot := models.SlotKey(facilityID, tour, date)

	release, err := e.acquireSlot(ctx, slot)
	if err != nil {
		metrics.BookingRequests.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}
	defer release()

	var booking *models.Booking
	err = e.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		facility, err := e.repos.Facilities.GetByID(ctx, facilityID)
		if err != nil {
			return fmt.Errorf("failed to get facility: %w", err)
		}
		if facility == nil {
			return apperrors.NotFound("facility", facilityID)
		}
		if err := e.gate.CheckWritable(ctx, facility.AffiliateID); err != nil {
			return err
		}
		if !facility.Bookable() {
			return apperrors.FacilityUnavailable(facilityID)
		}

		existing, err := e.repos.Bookings.FindActiveBySlot(ctx, facilityID, tour, date)
		if err != nil {
			return fmt.Errorf("failed to check slot: %w", err)
		}
		if existing != nil {
			return apperrors.SlotConflict(slot)
		}

		now := e.now()
		b := &models.Booking{
			ID:              uuid.NewString(),
			FacilityID:      facilityID,
			AffiliateID:     facility.AffiliateID,
			CustomerID:      customerID,
			TourType:        tour,
			ReservationDate: date,
			Status:          models.BookingPending,
			Amount:          facility.PriceFor(tour),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.repos.Bookings.Create(ctx, b); err != nil {
			if errors.Is(err, repository.ErrDuplicateSlot) {
				return apperrors.SlotConflict(slot)
			}
			return fmt.Errorf("failed to create booking: %w", err)
		}

		msg := fmt.Sprintf("Customer %s requested %s tour at %s on %s.",
			customerID, strings.ToLower(string(tour)), facility.Name, date.Format(models.DateLayout))
		if err := e.audit.Record(ctx, facility.AffiliateID, customerID, msg); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		metrics.BookingRequests.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}

	metrics.BookingRequests.WithLabelValues("created").Inc()
	logger.WithContext(ctx).Info("Booking requested",
		"booking_id", booking.ID,
		"facility_id", facilityID,
		"slot", slot)
	publish(ctx, e.publisher, models.EventBookingRequested, models.BookingRequestedEvent{
		EventID:         uuid.NewString(),
		BookingID:       booking.ID,
		FacilityID:      booking.FacilityID,
		AffiliateID:     booking.AffiliateID,
		CustomerID:      booking.CustomerID,
		TourType:        booking.TourType,
		ReservationDate: booking.ReservationDate,
		Amount:          booking.Amount,
		Timestamp:       booking.CreatedAt,
	})
	return booking, nil
}

// acquireSlot waits up to lockTimeout for the slot. A slot still held after
// that is reported as taken.
func (e *ReservationEngine) acquireSlot(ctx context.Context, slot string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	start := time.Now()
	release, err := e.locker.Acquire(lockCtx, "slot:"+slot)
	metrics.SlotLockWait.Observe(time.Since(start).Seconds())
	if err == nil {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, apperrors.SlotConflict(slot)
	}
	return nil, apperrors.CollaboratorUnavailable("slot_lock", err)
}

func (e *ReservationEngine) ConfirmBooking(ctx context.Context, affiliateID, bookingID string) (*models.Booking, error) {
	return e.transition(ctx, bookingID, models.BookingConfirmed, "", func(b *models.Booking) error {
		if b.AffiliateID != affiliateID {
			return apperrors.InvalidTransition("booking", bookingID, "booking belongs to another affiliate")
		}
		return nil
	}, affiliateID)
}

func (e *ReservationEngine) RejectBooking(ctx context.Context, affiliateID, bookingID, reason string) (*models.Booking, error) {
	return e.transition(ctx, bookingID, models.BookingRejected, strings.TrimSpace(reason), func(b *models.Booking) error {
		if b.AffiliateID != affiliateID {
			return apperrors.InvalidTransition("booking", bookingID, "booking belongs to another affiliate")
		}
		return nil
	}, affiliateID)
}

func (e *ReservationEngine) CancelBooking(ctx context.Context, customerID, bookingID string) (*models.Booking, error) {
	return e.transition(ctx, bookingID, models.BookingCancelled, "", func(b *models.Booking) error {
		if b.CustomerID != customerID {
			return apperrors.InvalidTransition("booking", bookingID, "booking belongs to another customer")
		}
		return nil
	}, customerID)
}

// transition moves a PENDING booking to `to`. The status write is a
// compare-and-set on PENDING, so of two concurrent transitions exactly one
// succeeds and the other fails with InvalidTransition.
func (e *ReservationEngine) transition(ctx context.Context, bookingID string, to models.BookingStatus, reason string, authorize func(*models.Booking) error, actorID string) (*models.Booking, error) {
	var (
		updated *models.Booking
		from    models.BookingStatus
	)
	err := e.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := e.repos.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("failed to get booking: %w", err)
		}
		if b == nil {
			return apperrors.NotFound("booking", bookingID)
		}
		if err := authorize(b); err != nil {
			return err
		}
		if !b.Status.CanTransitionTo(to) {
			return apperrors.InvalidTransition("booking", bookingID,
				fmt.Sprintf("cannot move booking from %s to %s", b.Status, to))
		}

		now := e.now()
		ok, err := e.repos.Bookings.UpdateStatus(ctx, bookingID, b.Status, to, reason, now)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		if !ok {
			return apperrors.InvalidTransition("booking", bookingID, "booking was modified concurrently")
		}

		facilityName := b.FacilityID
		if f, err := e.repos.Facilities.GetByID(ctx, b.FacilityID); err != nil {
			return fmt.Errorf("failed to get facility: %w", err)
		} else if f != nil {
			facilityName = f.Name
		}
		if err := e.audit.Record(ctx, b.AffiliateID, actorID, transitionMessage(b, to, facilityName, reason)); err != nil {
			return err
		}

		from = b.Status
		b.Status = to
		b.Reason = reason
		b.UpdatedAt = now
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransitions.WithLabelValues(string(from), string(to)).Inc()
	logger.WithContext(ctx).Info("Booking status changed",
		"booking_id", bookingID,
		"from", from,
		"to", to)
	publish(ctx, e.publisher, models.EventBookingTransitioned, models.BookingTransitionedEvent{
		EventID:         uuid.NewString(),
		BookingID:       updated.ID,
		FacilityID:      updated.FacilityID,
		AffiliateID:     updated.AffiliateID,
		From:            from,
		To:              to,
		ReservationDate: updated.ReservationDate,
		Amount:          updated.Amount,
		Timestamp:       updated.UpdatedAt,
	})
	return updated, nil
}

func transitionMessage(b *models.Booking, to models.BookingStatus, facilityName, reason string) string {
	slot := fmt.Sprintf("%s tour at %s on %s", strings.ToLower(string(b.TourType)), facilityName, b.ReservationDate.Format(models.DateLayout))
	switch to {
	case models.BookingConfirmed:
		return fmt.Sprintf("Confirmed booking %s for %s.", b.ID, slot)
	case models.BookingRejected:
		if reason != "" {
			return fmt.Sprintf("Rejected booking %s for %s: %s.", b.ID, slot, reason)
		}
		return fmt.Sprintf("Rejected booking %s for %s.", b.ID, slot)
	default:
		return fmt.Sprintf("Customer %s cancelled booking %s for %s.", b.CustomerID, b.ID, slot)
	}
}

// GetBooking returns the booking if the caller is its customer, the owning
// affiliate or an admin. Anyone else gets NotFound.
func (e *ReservationEngine) GetBooking(ctx context.Context, caller auth.Identity, bookingID string) (*models.Booking, error) {
	b, err := e.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, apperrors.NotFound("booking", bookingID)
	}
	if caller.IsAdmin() || b.CustomerID == caller.UserID || b.AffiliateID == caller.UserID {
		return b, nil
	}
	return nil, apperrors.NotFound("booking", bookingID)
}

func (e *ReservationEngine) ListBookingsForAffiliate(ctx context.Context, affiliateID string, status *models.BookingStatus) ([]*models.Booking, error) {
	if status != nil && !status.Valid() {
		return nil, apperrors.Validation("status", "must be one of PENDING CONFIRMED REJECTED CANCELLED")
	}
	bookings, err := e.repos.Bookings.ListByAffiliate(ctx, affiliateID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	return bookings, nil
}

func (e *ReservationEngine) ListBookingsForCustomer(ctx context.Context, customerID string) ([]*models.Booking, error) {
	bookings, err := e.repos.Bookings.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	return bookings, nil
}

func outcomeOf(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindSlotConflict:
		return "slot_conflict"
	case apperrors.KindFacilityUnavailable:
		return "facility_unavailable"
	case apperrors.KindSubscriptionBlocked:
		return "blocked"
	case apperrors.KindNotFound:
		return "not_found"
	case apperrors.KindValidation:
		return "invalid"
	}
	return "error"
}
