package repository

import (
	"context"
	"time"

	"pinabook/internal/database"
	"pinabook/internal/models"
)

type AuditRepository struct {
	db *database.DB
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, affiliate_id, actor_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		e.ID, e.AffiliateID, e.ActorID, e.Message, e.Timestamp)
	return err
}

func (r *AuditRepository) List(ctx context.Context, affiliateID string, from *time.Time, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, affiliate_id, actor_id, message, created_at
		FROM audit_entries
		WHERE affiliate_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at, seq
		LIMIT $3`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, affiliateID, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		if err := rows.Scan(&e.ID, &e.AffiliateID, &e.ActorID, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
