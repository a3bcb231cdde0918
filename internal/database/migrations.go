package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createAffiliatesTable,
		createFacilitiesTable,
		createFacilitiesAffiliateIndex,
		createSubscriptionsTable,
		createBookingsTable,
		createBookingsActiveSlotIndex,
		createBookingsAffiliateIndex,
		createBookingsCustomerIndex,
		createAuditEntriesTable,
		createAuditEntriesIndex,
		createAffiliateCountersTable,
		createCounterMarksTable,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createAffiliatesTable = `
CREATE TABLE IF NOT EXISTS affiliates (
    id VARCHAR(64) PRIMARY KEY,
    display_name VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createFacilitiesTable = `
CREATE TABLE IF NOT EXISTS facilities (
    id VARCHAR(64) PRIMARY KEY,
    affiliate_id VARCHAR(64) NOT NULL REFERENCES affiliates(id),
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL,
    amenities TEXT[] NOT NULL DEFAULT '{}',
    day_tour_start VARCHAR(5) NOT NULL,
    day_tour_price NUMERIC(12,2) NOT NULL,
    night_tour_start VARCHAR(5) NOT NULL,
    night_tour_price NUMERIC(12,2) NOT NULL,
    child_entrance_fee NUMERIC(12,2) NOT NULL,
    adult_entrance_fee NUMERIC(12,2) NOT NULL,
    images JSONB NOT NULL DEFAULT '[]',
    availability VARCHAR(20) NOT NULL DEFAULT 'AVAILABLE',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (availability IN ('AVAILABLE', 'UNAVAILABLE'))
);`

const createFacilitiesAffiliateIndex = `
CREATE INDEX IF NOT EXISTS facilities_affiliate_idx ON facilities (affiliate_id);`

const createSubscriptionsTable = `
CREATE TABLE IF NOT EXISTS subscriptions (
    affiliate_id VARCHAR(64) PRIMARY KEY REFERENCES affiliates(id),
    billing_cycle_end TIMESTAMPTZ NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
    last_reminder_at TIMESTAMPTZ,
    last_reminder_message TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('ACTIVE', 'GRACE_PERIOD', 'SUSPENDED'))
);`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id VARCHAR(64) PRIMARY KEY,
    facility_id VARCHAR(64) NOT NULL REFERENCES facilities(id),
    affiliate_id VARCHAR(64) NOT NULL REFERENCES affiliates(id),
    customer_id VARCHAR(64) NOT NULL,
    tour_type VARCHAR(10) NOT NULL,
    reservation_date DATE NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (tour_type IN ('DAY', 'NIGHT')),
    CHECK (status IN ('PENDING', 'CONFIRMED', 'REJECTED', 'CANCELLED'))
);`

// At most one PENDING or CONFIRMED booking per slot.
const createBookingsActiveSlotIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS bookings_active_slot_idx
ON bookings (facility_id, tour_type, reservation_date)
WHERE status IN ('PENDING', 'CONFIRMED');`

const createBookingsAffiliateIndex = `
CREATE INDEX IF NOT EXISTS bookings_affiliate_idx ON bookings (affiliate_id, created_at);`

const createBookingsCustomerIndex = `
CREATE INDEX IF NOT EXISTS bookings_customer_idx ON bookings (customer_id, created_at);`

const createAuditEntriesTable = `
CREATE TABLE IF NOT EXISTS audit_entries (
    seq BIGSERIAL PRIMARY KEY,
    id VARCHAR(64) UNIQUE NOT NULL,
    affiliate_id VARCHAR(64) NOT NULL,
    actor_id VARCHAR(64) NOT NULL,
    message TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`

const createAuditEntriesIndex = `
CREATE INDEX IF NOT EXISTS audit_entries_affiliate_idx ON audit_entries (affiliate_id, created_at, seq);`

const createAffiliateCountersTable = `
CREATE TABLE IF NOT EXISTS affiliate_counters (
    affiliate_id VARCHAR(64) PRIMARY KEY,
    pending_bookings BIGINT NOT NULL DEFAULT 0,
    confirmed_bookings BIGINT NOT NULL DEFAULT 0,
    facilities BIGINT NOT NULL DEFAULT 0,
    lifetime_revenue NUMERIC(14,2) NOT NULL DEFAULT 0,
    period_revenue JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// counter_marks holds the last state the projector counted per facility and
// booking.
const createCounterMarksTable = `
CREATE TABLE IF NOT EXISTS counter_marks (
    affiliate_id VARCHAR(64) NOT NULL,
    entity_key VARCHAR(80) NOT NULL,
    state VARCHAR(20) NOT NULL,
    PRIMARY KEY (affiliate_id, entity_key)
);`
