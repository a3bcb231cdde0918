package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"pinabook/internal/database"
	"pinabook/internal/models"
)

const uniqueViolation = "23505"

type BookingRepository struct {
	db *database.DB
}

func NewBookingRepository(db *database.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, facility_id, affiliate_id, customer_id, tour_type, reservation_date,
	status, amount, reason, created_at, updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	err := row.Scan(
		&b.ID,
		&b.FacilityID,
		&b.AffiliateID,
		&b.CustomerID,
		&b.TourType,
		&b.ReservationDate,
		&b.Status,
		&b.Amount,
		&b.Reason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ReservationDate = b.ReservationDate.UTC()
	return b, nil
}

func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		b.ID,
		b.FacilityID,
		b.AffiliateID,
		b.CustomerID,
		b.TourType,
		b.ReservationDate.Format(models.DateLayout),
		b.Status,
		b.Amount,
		b.Reason,
		b.CreatedAt,
		b.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateSlot
	}
	return err
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *BookingRepository) FindActiveBySlot(ctx context.Context, facilityID string, tour models.TourType, date time.Time) (*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE facility_id = $1 AND tour_type = $2 AND reservation_date = $3
		  AND status IN ('PENDING', 'CONFIRMED')
		FOR UPDATE`

	b, err := scanBooking(r.db.Conn(ctx).QueryRowContext(ctx, query,
		facilityID, tour, date.UTC().Format(models.DateLayout)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, from, to models.BookingStatus, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $1, reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	res, err := r.db.Conn(ctx).ExecContext(ctx, query, to, reason, at, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *BookingRepository) ListByAffiliate(ctx context.Context, affiliateID string, status *models.BookingStatus) ([]*models.Booking, error) {
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE affiliate_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id`
	return r.list(ctx, query, affiliateID, filter)
}

func (r *BookingRepository) ListByCustomer(ctx context.Context, customerID string) ([]*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE customer_id = $1
		ORDER BY created_at DESC, id`
	return r.list(ctx, query, customerID)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
