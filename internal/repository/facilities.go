package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"pinabook/internal/database"
	"pinabook/internal/models"
)

type FacilityRepository struct {
	db *database.DB
}

func NewFacilityRepository(db *database.DB) *FacilityRepository {
	return &FacilityRepository{db: db}
}

const facilityColumns = `
	id, affiliate_id, name, description, amenities,
	day_tour_start, day_tour_price, night_tour_start, night_tour_price,
	child_entrance_fee, adult_entrance_fee, images, availability, active,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFacility(row rowScanner) (*models.Facility, error) {
	f := &models.Facility{}
	var images []byte
	err := row.Scan(
		&f.ID,
		&f.AffiliateID,
		&f.Name,
		&f.Description,
		pq.Array(&f.Amenities),
		&f.DayTour.StartTime,
		&f.DayTour.Price,
		&f.NightTour.StartTime,
		&f.NightTour.Price,
		&f.ChildEntranceFee,
		&f.AdultEntranceFee,
		&images,
		&f.Availability,
		&f.Active,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &f.Images); err != nil {
		return nil, fmt.Errorf("failed to decode images of facility %s: %w", f.ID, err)
	}
	return f, nil
}

func (r *FacilityRepository) Create(ctx context.Context, f *models.Facility) error {
	images, err := json.Marshal(f.Images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}

	query := `
		INSERT INTO facilities (` + facilityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.db.Conn(ctx).ExecContext(ctx, query,
		f.ID,
		f.AffiliateID,
		f.Name,
		f.Description,
		pq.Array(f.Amenities),
		f.DayTour.StartTime,
		f.DayTour.Price,
		f.NightTour.StartTime,
		f.NightTour.Price,
		f.ChildEntranceFee,
		f.AdultEntranceFee,
		images,
		f.Availability,
		f.Active,
		f.CreatedAt,
		f.UpdatedAt,
	)
	return err
}

func (r *FacilityRepository) GetByID(ctx context.Context, id string) (*models.Facility, error) {
	return r.get(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id)
}

func (r *FacilityRepository) GetForUpdate(ctx context.Context, id string) (*models.Facility, error) {
	return r.get(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = $1 FOR UPDATE`, id)
}

func (r *FacilityRepository) get(ctx context.Context, query, id string) (*models.Facility, error) {
	f, err := scanFacility(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (r *FacilityRepository) Update(ctx context.Context, f *models.Facility) error {
	images, err := json.Marshal(f.Images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}

	query := `
		UPDATE facilities
		SET name = $1, description = $2, amenities = $3,
		    day_tour_start = $4, day_tour_price = $5,
		    night_tour_start = $6, night_tour_price = $7,
		    child_entrance_fee = $8, adult_entrance_fee = $9,
		    images = $10, availability = $11, active = $12, updated_at = $13
		WHERE id = $14`

	_, err = r.db.Conn(ctx).ExecContext(ctx, query,
		f.Name,
		f.Description,
		pq.Array(f.Amenities),
		f.DayTour.StartTime,
		f.DayTour.Price,
		f.NightTour.StartTime,
		f.NightTour.Price,
		f.ChildEntranceFee,
		f.AdultEntranceFee,
		images,
		f.Availability,
		f.Active,
		f.UpdatedAt,
		f.ID,
	)
	return err
}

func (r *FacilityRepository) ListByAffiliate(ctx context.Context, affiliateID string, includeInactive bool) ([]*models.Facility, error) {
	query := `
		SELECT ` + facilityColumns + `
		FROM facilities
		WHERE affiliate_id = $1 AND (active OR $2)
		ORDER BY created_at, id`
	return r.list(ctx, query, affiliateID, includeInactive)
}

func (r *FacilityRepository) ListAvailable(ctx context.Context) ([]*models.Facility, error) {
	query := `
		SELECT ` + facilityColumns + `
		FROM facilities
		WHERE active AND availability = 'AVAILABLE'
		ORDER BY created_at, id`
	return r.list(ctx, query)
}

func (r *FacilityRepository) list(ctx context.Context, query string, args ...any) ([]*models.Facility, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facilities []*models.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		facilities = append(facilities, f)
	}
	return facilities, rows.Err()
}
