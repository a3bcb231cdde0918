package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/models"
	"pinabook/internal/repository"
)

type AffiliateService struct {
	repos         *repository.Repositories
	audit         *AuditLog
	subscriptions *SubscriptionManager
	now           func() time.Time
}

func NewAffiliateService(repos *repository.Repositories, audit *AuditLog, subscriptions *SubscriptionManager, now func() time.Time) *AffiliateService {
	return &AffiliateService{repos: repos, audit: audit, subscriptions: subscriptions, now: now}
}

// Register creates the affiliate record for an authenticated user and opens
// its first billing cycle.
func (s *AffiliateService) Register(ctx context.Context, affiliateID, displayName string) (*models.Affiliate, error) {
	displayName = strings.TrimSpace(displayName)
	if affiliateID == "" {
		return nil, apperrors.Validation("id", "is required")
	}
	if displayName == "" {
		return nil, apperrors.Validation("display_name", "is required")
	}

	now := s.now()
	affiliate := &models.Affiliate{
		ID:          affiliateID,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repos.Affiliates.GetByID(ctx, affiliateID)
		if err != nil {
			return fmt.Errorf("failed to get affiliate: %w", err)
		}
		if existing != nil {
			return apperrors.Validation("id", "affiliate is already registered")
		}
		if err := s.repos.Affiliates.Create(ctx, affiliate); err != nil {
			return fmt.Errorf("failed to create affiliate: %w", err)
		}
		if err := s.subscriptions.open(ctx, affiliateID, now); err != nil {
			return err
		}
		return s.audit.Record(ctx, affiliateID, affiliateID, fmt.Sprintf("%s registered as an affiliate.", displayName))
	})
	if err != nil {
		return nil, err
	}
	return affiliate, nil
}

func (s *AffiliateService) Get(ctx context.Context, affiliateID string) (*models.Affiliate, error) {
	affiliate, err := s.repos.Affiliates.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}
	if affiliate == nil {
		return nil, apperrors.NotFound("affiliate", affiliateID)
	}
	return affiliate, nil
}

// Rename changes the display name. Profile edits remain allowed while the
// subscription is suspended.
func (s *AffiliateService) Rename(ctx context.Context, affiliateID, displayName string) (*models.Affiliate, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, apperrors.Validation("display_name", "is required")
	}

	var renamed *models.Affiliate
	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		affiliate, err := s.Get(ctx, affiliateID)
		if err != nil {
			return err
		}
		if affiliate.DisplayName == displayName {
			renamed = affiliate
			return nil
		}

		now := s.now()
		if err := s.repos.Affiliates.UpdateDisplayName(ctx, affiliateID, displayName, now); err != nil {
			return fmt.Errorf("failed to rename affiliate: %w", err)
		}
		msg := fmt.Sprintf("%s changed display name to %s.", affiliate.DisplayName, displayName)
		if err := s.audit.Record(ctx, affiliateID, affiliateID, msg); err != nil {
			return err
		}

		affiliate.DisplayName = displayName
		affiliate.UpdatedAt = now
		renamed = affiliate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}
