package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pinabook/internal/database"
	"pinabook/internal/models"
)

type CounterRepository struct {
	db *database.DB
}

func NewCounterRepository(db *database.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

func (r *CounterRepository) Get(ctx context.Context, affiliateID string) (*models.AggregateCounters, error) {
	query := `
		SELECT affiliate_id, pending_bookings, confirmed_bookings, facilities,
		       lifetime_revenue, period_revenue, updated_at
		FROM affiliate_counters
		WHERE affiliate_id = $1`

	c := &models.AggregateCounters{}
	var periods []byte
	err := r.db.Conn(ctx).QueryRowContext(ctx, query, affiliateID).Scan(
		&c.AffiliateID,
		&c.PendingBookings,
		&c.ConfirmedBookings,
		&c.Facilities,
		&c.LifetimeRevenue,
		&periods,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.PeriodRevenue = map[string]decimal.Decimal{}
	if err := json.Unmarshal(periods, &c.PeriodRevenue); err != nil {
		return nil, fmt.Errorf("failed to decode period revenue: %w", err)
	}
	return c, nil
}

// Lock takes a transaction-scoped advisory lock on the affiliate's counters.
func (r *CounterRepository) Lock(ctx context.Context, affiliateID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, affiliateID)
	return err
}

func (r *CounterRepository) Mark(ctx context.Context, affiliateID, entityKey string) (string, error) {
	var state string
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT state FROM counter_marks WHERE affiliate_id = $1 AND entity_key = $2`,
		affiliateID, entityKey).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return state, err
}

// Apply adds delta to the stored counters, creating the row on first use, and
// moves the entity's mark to state. Callers run it inside a transaction.
func (r *CounterRepository) Apply(ctx context.Context, affiliateID string, d models.CounterDelta, entityKey, state string, at time.Time) error {
	period := ""
	if !d.Revenue.IsZero() {
		period = d.Period
	}

	query := `
		INSERT INTO affiliate_counters AS c
		    (affiliate_id, pending_bookings, confirmed_bookings, facilities,
		     lifetime_revenue, period_revenue, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric,
		        CASE WHEN $6::text = '' THEN '{}'::jsonb ELSE jsonb_build_object($6::text, $5::numeric) END,
		        $7)
		ON CONFLICT (affiliate_id) DO UPDATE SET
		    pending_bookings = c.pending_bookings + EXCLUDED.pending_bookings,
		    confirmed_bookings = c.confirmed_bookings + EXCLUDED.confirmed_bookings,
		    facilities = c.facilities + EXCLUDED.facilities,
		    lifetime_revenue = c.lifetime_revenue + EXCLUDED.lifetime_revenue,
		    period_revenue = CASE WHEN $6::text = '' THEN c.period_revenue
		        ELSE jsonb_set(c.period_revenue, ARRAY[$6::text],
		             to_jsonb(COALESCE((c.period_revenue ->> $6::text)::numeric, 0) + $5::numeric))
		        END,
		    updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query,
		affiliateID, d.PendingBookings, d.ConfirmedBookings, d.Facilities, d.Revenue, period, at); err != nil {
		return err
	}

	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO counter_marks (affiliate_id, entity_key, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (affiliate_id, entity_key) DO UPDATE SET state = EXCLUDED.state`,
		affiliateID, entityKey, state)
	return err
}

// Put overwrites the counters and the affiliate's marks. Callers run it inside
// a transaction.
func (r *CounterRepository) Put(ctx context.Context, c *models.AggregateCounters, marks map[string]string) error {
	periods, err := json.Marshal(c.PeriodRevenue)
	if err != nil {
		return fmt.Errorf("failed to encode period revenue: %w", err)
	}

	query := `
		INSERT INTO affiliate_counters
		    (affiliate_id, pending_bookings, confirmed_bookings, facilities,
		     lifetime_revenue, period_revenue, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (affiliate_id) DO UPDATE SET
		    pending_bookings = EXCLUDED.pending_bookings,
		    confirmed_bookings = EXCLUDED.confirmed_bookings,
		    facilities = EXCLUDED.facilities,
		    lifetime_revenue = EXCLUDED.lifetime_revenue,
		    period_revenue = EXCLUDED.period_revenue,
		    updated_at = EXCLUDED.updated_at`

	conn := r.db.Conn(ctx)
	if _, err := conn.ExecContext(ctx, query,
		c.AffiliateID, c.PendingBookings, c.ConfirmedBookings, c.Facilities,
		c.LifetimeRevenue, periods, c.UpdatedAt); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM counter_marks WHERE affiliate_id = $1`, c.AffiliateID); err != nil {
		return fmt.Errorf("failed to clear marks: %w", err)
	}
	if len(marks) == 0 {
		return nil
	}

	keys := make([]string, 0, len(marks))
	states := make([]string, 0, len(marks))
	for k, v := range marks {
		keys = append(keys, k)
		states = append(states, v)
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO counter_marks (affiliate_id, entity_key, state)
		SELECT $1, k, s FROM unnest($2::text[], $3::text[]) AS t(k, s)`,
		c.AffiliateID, pq.Array(keys), pq.Array(states))
	return err
}
