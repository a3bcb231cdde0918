package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Domain event subjects
const (
	EventFacilityCreated     = "facility.created"
	EventFacilityUpdated     = "facility.updated"
	EventFacilityDeactivated = "facility.deactivated"
	EventBookingRequested    = "booking.requested"
	EventBookingTransitioned = "booking.transitioned"
	EventSubscriptionChanged = "subscription.changed"
)

// FacilityEvent is published after a facility write commits
type FacilityEvent struct {
	EventID     string    `json:"event_id"`
	FacilityID  string    `json:"facility_id"`
	AffiliateID string    `json:"affiliate_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// BookingRequestedEvent represents a newly created pending booking
type BookingRequestedEvent struct {
	EventID         string          `json:"event_id"`
	BookingID       string          `json:"booking_id"`
	FacilityID      string          `json:"facility_id"`
	AffiliateID     string          `json:"affiliate_id"`
	CustomerID      string          `json:"customer_id"`
	TourType        TourType        `json:"tour_type"`
	ReservationDate time.Time       `json:"reservation_date"`
	Amount          decimal.Decimal `json:"amount"`
	Timestamp       time.Time       `json:"timestamp"`
}

// BookingTransitionedEvent represents a status change of a booking
type BookingTransitionedEvent struct {
	EventID         string          `json:"event_id"`
	BookingID       string          `json:"booking_id"`
	FacilityID      string          `json:"facility_id"`
	AffiliateID     string          `json:"affiliate_id"`
	From            BookingStatus   `json:"from"`
	To              BookingStatus   `json:"to"`
	ReservationDate time.Time       `json:"reservation_date"`
	Amount          decimal.Decimal `json:"amount"`
	Timestamp       time.Time       `json:"timestamp"`
}

// SubscriptionChangedEvent represents a subscription status transition
type SubscriptionChangedEvent struct {
	EventID         string             `json:"event_id"`
	AffiliateID     string             `json:"affiliate_id"`
	From            SubscriptionStatus `json:"from"`
	To              SubscriptionStatus `json:"to"`
	BillingCycleEnd time.Time          `json:"billing_cycle_end"`
	Timestamp       time.Time          `json:"timestamp"`
}
