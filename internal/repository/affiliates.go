package repository

import (
	"context"
	"database/sql"
	"time"

	"pinabook/internal/database"
	"pinabook/internal/models"
)

type AffiliateRepository struct {
	db *database.DB
}

func NewAffiliateRepository(db *database.DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

func (r *AffiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	query := `
		INSERT INTO affiliates (id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		affiliate.ID,
		affiliate.DisplayName,
		affiliate.CreatedAt,
		affiliate.UpdatedAt,
	)
	return err
}

func (r *AffiliateRepository) GetByID(ctx context.Context, id string) (*models.Affiliate, error) {
	affiliate := &models.Affiliate{}
	query := `
		SELECT id, display_name, created_at, updated_at
		FROM affiliates
		WHERE id = $1`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&affiliate.ID,
		&affiliate.DisplayName,
		&affiliate.CreatedAt,
		&affiliate.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return affiliate, nil
}

func (r *AffiliateRepository) UpdateDisplayName(ctx context.Context, id, displayName string, at time.Time) error {
	query := `UPDATE affiliates SET display_name = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query, displayName, at, id)
	return err
}

func (r *AffiliateRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `SELECT id FROM affiliates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
