package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pinabook/internal/models"
	"pinabook/internal/repository"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 1000
)

// SystemActor is the actor recorded for entries written by scheduled jobs.
const SystemActor = "system"

// AuditLog is the append-only activity record of each affiliate.
type AuditLog struct {
	repo repository.AuditStore
	now  func() time.Time
}

func NewAuditLog(repo repository.AuditStore, now func() time.Time) *AuditLog {
	return &AuditLog{repo: repo, now: now}
}

// Record appends an entry. Called with a transactional context, the entry
// commits or rolls back with the mutation it describes.
func (a *AuditLog) Record(ctx context.Context, affiliateID, actorID, message string) error {
	entry := &models.AuditEntry{
		ID:          uuid.NewString(),
		AffiliateID: affiliateID,
		ActorID:     actorID,
		Message:     message,
		Timestamp:   a.now(),
	}
	if err := a.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListEntries returns entries in timestamp order starting at from, inclusive.
// A caller resuming from the last timestamp it saw gets that entry again and
// should skip it by ID.
func (a *AuditLog) ListEntries(ctx context.Context, affiliateID string, from *time.Time, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditPage
	}
	if limit > maxAuditPage {
		limit = maxAuditPage
	}

	entries, err := a.repo.List(ctx, affiliateID, from, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	return entries, nil
}
