package repository

import (
	"context"
	"database/sql"

	"pinabook/internal/database"
	"pinabook/internal/models"
)

type SubscriptionRepository struct {
	db *database.DB
}

func NewSubscriptionRepository(db *database.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	affiliate_id, billing_cycle_end, status, last_reminder_at, last_reminder_message, updated_at`

func scanSubscription(row rowScanner) (*models.SubscriptionState, error) {
	s := &models.SubscriptionState{}
	var lastReminder sql.NullTime
	err := row.Scan(
		&s.AffiliateID,
		&s.BillingCycleEnd,
		&s.Status,
		&lastReminder,
		&s.LastReminderMessage,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastReminder.Valid {
		t := lastReminder.Time
		s.LastReminderAt = &t
	}
	return s, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *models.SubscriptionState) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		s.AffiliateID, s.BillingCycleEnd, s.Status, s.LastReminderAt, s.LastReminderMessage, s.UpdatedAt)
	return err
}

func (r *SubscriptionRepository) GetByAffiliate(ctx context.Context, affiliateID string) (*models.SubscriptionState, error) {
	return r.get(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE affiliate_id = $1`, affiliateID)
}

func (r *SubscriptionRepository) GetForUpdate(ctx context.Context, affiliateID string) (*models.SubscriptionState, error) {
	return r.get(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE affiliate_id = $1 FOR UPDATE`, affiliateID)
}

func (r *SubscriptionRepository) get(ctx context.Context, query, affiliateID string) (*models.SubscriptionState, error) {
	s, err := scanSubscription(r.db.Conn(ctx).QueryRowContext(ctx, query, affiliateID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SubscriptionRepository) Update(ctx context.Context, s *models.SubscriptionState) error {
	query := `
		UPDATE subscriptions
		SET billing_cycle_end = $1, status = $2, last_reminder_at = $3,
		    last_reminder_message = $4, updated_at = $5
		WHERE affiliate_id = $6`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		s.BillingCycleEnd, s.Status, s.LastReminderAt, s.LastReminderMessage, s.UpdatedAt, s.AffiliateID)
	return err
}

func (r *SubscriptionRepository) List(ctx context.Context) ([]*models.SubscriptionState, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY affiliate_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*models.SubscriptionState
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
