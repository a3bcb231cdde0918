package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/external"
	"pinabook/internal/logger"
	"pinabook/internal/messaging"
	"pinabook/internal/metrics"
	"pinabook/internal/models"
	"pinabook/internal/notify"
	"pinabook/internal/repository"
)

const (
	DefaultSubscriptionCycle = 30 * 24 * time.Hour
	DefaultGracePeriod       = 7 * 24 * time.Hour
)

// SubscriptionManager tracks the billing standing of every affiliate and
// gates catalog and reservation writes while an affiliate is suspended.
type SubscriptionManager struct {
	repos     *repository.Repositories
	audit     *AuditLog
	billing   external.BillingGateway
	notifier  notify.Notifier
	publisher messaging.Publisher
	cycle     time.Duration
	grace     time.Duration
	now       func() time.Time
}

func NewSubscriptionManager(repos *repository.Repositories, audit *AuditLog, billing external.BillingGateway, notifier notify.Notifier, publisher messaging.Publisher, cycle, grace time.Duration, now func() time.Time) *SubscriptionManager {
	if cycle <= 0 {
		cycle = DefaultSubscriptionCycle
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &SubscriptionManager{
		repos:     repos,
		audit:     audit,
		billing:   billing,
		notifier:  notifier,
		publisher: publisher,
		cycle:     cycle,
		grace:     grace,
		now:       now,
	}
}

// EvaluationResult is one transition made by Evaluate.
type EvaluationResult struct {
	AffiliateID string                    `json:"affiliate_id"`
	From        models.SubscriptionStatus `json:"from"`
	To          models.SubscriptionStatus `json:"to"`
}

// open starts the first billing cycle of a newly registered affiliate.
func (m *SubscriptionManager) open(ctx context.Context, affiliateID string, now time.Time) error {
	state := &models.SubscriptionState{
		AffiliateID:     affiliateID,
		BillingCycleEnd: now.Add(m.cycle),
		Status:          models.SubscriptionActive,
		UpdatedAt:       now,
	}
	if err := m.repos.Subscriptions.Create(ctx, state); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// CheckWritable fails with SubscriptionBlocked while the affiliate is
// suspended.
func (m *SubscriptionManager) CheckWritable(ctx context.Context, affiliateID string) error {
	state, err := m.Get(ctx, affiliateID)
	if err != nil {
		return err
	}
	if state.Status == models.SubscriptionSuspended {
		return apperrors.SubscriptionBlocked(affiliateID)
	}
	return nil
}

func (m *SubscriptionManager) Get(ctx context.Context, affiliateID string) (*models.SubscriptionState, error) {
	state, err := m.repos.Subscriptions.GetByAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if state == nil {
		return nil, apperrors.NotFound("affiliate", affiliateID)
	}
	return state, nil
}

// Evaluate runs one tick over every affiliate. A failure for one affiliate
// does not stop the others; all failures are returned joined.
func (m *SubscriptionManager) Evaluate(ctx context.Context, now time.Time) ([]EvaluationResult, error) {
	states, err := m.repos.Subscriptions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	var (
		results []EvaluationResult
		errs    []error
	)
	for _, s := range states {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		updated, err := m.EvaluateAffiliate(ctx, s.AffiliateID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("affiliate %s: %w", s.AffiliateID, err))
			continue
		}
		if updated.Status != s.Status {
			results = append(results, EvaluationResult{AffiliateID: s.AffiliateID, From: s.Status, To: updated.Status})
		}
	}
	return results, errors.Join(errs...)
}

// EvaluateAffiliate moves the affiliate forward along
// ACTIVE -> GRACE_PERIOD -> SUSPENDED according to now. Before moving, the
// billing collaborator is charged once; a successful charge confirms payment
// instead.
func (m *SubscriptionManager) EvaluateAffiliate(ctx context.Context, affiliateID string, now time.Time) (*models.SubscriptionState, error) {
	state, err := m.Get(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if statusRank(m.target(state, now)) <= statusRank(state.Status) {
		return state, nil
	}

	if m.billing != nil {
		res, err := m.billing.ChargeSubscription(ctx, affiliateID)
		switch {
		case err != nil:
			logger.WithContext(ctx).Warn("Billing unavailable, treating as unpaid",
				"affiliate_id", affiliateID, "error", err)
		case res.Success:
			return m.confirm(ctx, affiliateID, res.PaymentID, now)
		default:
			logger.WithContext(ctx).Info("Subscription charge declined",
				"affiliate_id", affiliateID, "status", res.Status)
		}
	}

	var (
		steps    []EvaluationResult
		reminder *notify.Reminder
		updated  *models.SubscriptionState
	)
	err = m.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		steps, reminder = nil, nil

		s, err := m.repos.Subscriptions.GetForUpdate(ctx, affiliateID)
		if err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}
		if s == nil {
			return apperrors.NotFound("affiliate", affiliateID)
		}

		target := m.target(s, now)
		for statusRank(s.Status) < statusRank(target) {
			from := s.Status
			s.Status = nextStatus(from)
			steps = append(steps, EvaluationResult{AffiliateID: affiliateID, From: from, To: s.Status})

			if s.Status == models.SubscriptionGracePeriod && (s.LastReminderAt == nil || s.LastReminderAt.Before(s.BillingCycleEnd)) {
				msg := fmt.Sprintf("Your subscription payment is overdue. Pay before %s to keep your listings open.",
					s.BillingCycleEnd.Add(m.grace).UTC().Format(models.DateLayout))
				at := now
				s.LastReminderAt = &at
				s.LastReminderMessage = msg
				reminder = &notify.Reminder{
					AffiliateID:     affiliateID,
					Message:         msg,
					BillingCycleEnd: s.BillingCycleEnd,
					SentAt:          now,
				}
			}
			if err := m.audit.Record(ctx, affiliateID, SystemActor,
				fmt.Sprintf("Subscription moved from %s to %s.", from, s.Status)); err != nil {
				return err
			}
		}
		if len(steps) == 0 {
			updated = s
			return nil
		}

		s.UpdatedAt = now
		if err := m.repos.Subscriptions.Update(ctx, s); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		m.announce(ctx, step, updated.BillingCycleEnd, now)
	}
	if reminder != nil {
		if err := m.notifier.SendReminder(ctx, *reminder); err != nil {
			metrics.ObserveCollaborator("notifier", err)
			logger.WithContext(ctx).Error("Failed to send billing reminder",
				"affiliate_id", affiliateID, "error", err)
		} else {
			metrics.ObserveCollaborator("notifier", nil)
		}
	}
	return updated, nil
}

// ConfirmPayment resets the affiliate to ACTIVE from any state and extends
// the billing cycle by one period.
func (m *SubscriptionManager) ConfirmPayment(ctx context.Context, affiliateID, paymentID string) (*models.SubscriptionState, error) {
	return m.confirm(ctx, affiliateID, paymentID, m.now())
}

func (m *SubscriptionManager) confirm(ctx context.Context, affiliateID, paymentID string, now time.Time) (*models.SubscriptionState, error) {
	var (
		updated *models.SubscriptionState
		from    models.SubscriptionStatus
	)
	err := m.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := m.repos.Subscriptions.GetForUpdate(ctx, affiliateID)
		if err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}
		if s == nil {
			return apperrors.NotFound("affiliate", affiliateID)
		}

		from = s.Status
		end := s.BillingCycleEnd.Add(m.cycle)
		if !end.After(now) {
			// lapsed for more than a cycle: restart from now
			end = now.Add(m.cycle)
		}
		s.BillingCycleEnd = end
		s.Status = models.SubscriptionActive
		s.UpdatedAt = now
		if err := m.repos.Subscriptions.Update(ctx, s); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		msg := fmt.Sprintf("Payment %s confirmed; billing cycle extended to %s.", paymentID, end.UTC().Format(models.DateLayout))
		if err := m.audit.Record(ctx, affiliateID, SystemActor, msg); err != nil {
			return err
		}
		if from != models.SubscriptionActive {
			if err := m.audit.Record(ctx, affiliateID, SystemActor,
				fmt.Sprintf("Subscription moved from %s to %s.", from, models.SubscriptionActive)); err != nil {
				return err
			}
		}
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("Subscription payment confirmed",
		"affiliate_id", affiliateID,
		"payment_id", paymentID,
		"billing_cycle_end", updated.BillingCycleEnd)
	if from != models.SubscriptionActive {
		m.announce(ctx, EvaluationResult{AffiliateID: affiliateID, From: from, To: models.SubscriptionActive}, updated.BillingCycleEnd, now)
	}
	return updated, nil
}

func (m *SubscriptionManager) announce(ctx context.Context, step EvaluationResult, cycleEnd, now time.Time) {
	metrics.SubscriptionTransitions.WithLabelValues(string(step.From), string(step.To)).Inc()
	logger.WithContext(ctx).Info("Subscription status changed",
		"affiliate_id", step.AffiliateID,
		"from", step.From,
		"to", step.To)
	publish(ctx, m.publisher, models.EventSubscriptionChanged, models.SubscriptionChangedEvent{
		EventID:         uuid.NewString(),
		AffiliateID:     step.AffiliateID,
		From:            step.From,
		To:              step.To,
		BillingCycleEnd: cycleEnd,
		Timestamp:       now,
	})
}

// target is the status the state should hold at now if nothing was paid.
func (m *SubscriptionManager) target(s *models.SubscriptionState, now time.Time) models.SubscriptionStatus {
	switch {
	case now.After(s.BillingCycleEnd.Add(m.grace)):
		return models.SubscriptionSuspended
	case now.After(s.BillingCycleEnd):
		return models.SubscriptionGracePeriod
	default:
		return models.SubscriptionActive
	}
}

func statusRank(s models.SubscriptionStatus) int {
	switch s {
	case models.SubscriptionGracePeriod:
		return 1
	case models.SubscriptionSuspended:
		return 2
	}
	return 0
}

func nextStatus(s models.SubscriptionStatus) models.SubscriptionStatus {
	if s == models.SubscriptionActive {
		return models.SubscriptionGracePeriod
	}
	return models.SubscriptionSuspended
}
