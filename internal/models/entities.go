package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of a reservation date.
const DateLayout = "2006-01-02"

// TourType selects the half of the day a reservation covers
type TourType string

const (
	TourDay   TourType = "DAY"
	TourNight TourType = "NIGHT"
)

func (t TourType) Valid() bool {
	return t == TourDay || t == TourNight
}

type Availability string

const (
	Available   Availability = "AVAILABLE"
	Unavailable Availability = "UNAVAILABLE"
)

// BookingStatus is the reservation lifecycle state. Only PENDING has outgoing
// transitions; REJECTED and CANCELLED are terminal.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingRejected  BookingStatus = "REJECTED"
	BookingCancelled BookingStatus = "CANCELLED"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingRejected, BookingCancelled:
		return true
	}
	return false
}

// Active reports whether a booking in this status holds its slot.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

func (s BookingStatus) Terminal() bool {
	return s == BookingRejected || s == BookingCancelled
}

// CanTransitionTo reports whether s -> to is an edge of the lifecycle.
func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	if s != BookingPending {
		return false
	}
	return to == BookingConfirmed || to == BookingRejected || to == BookingCancelled
}

type SubscriptionStatus string

const (
	SubscriptionActive      SubscriptionStatus = "ACTIVE"
	SubscriptionGracePeriod SubscriptionStatus = "GRACE_PERIOD"
	SubscriptionSuspended   SubscriptionStatus = "SUSPENDED"
)

type Role string

const (
	RoleAffiliate Role = "affiliate"
	RoleCustomer  Role = "customer"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleAffiliate || r == RoleCustomer || r == RoleAdmin
}

// Affiliate represents a facility owner account
type Affiliate struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TourPrice is the start time ("15:04") and price of one tour of a facility
type TourPrice struct {
	StartTime string          `json:"start_time"`
	Price     decimal.Decimal `json:"price"`
}

func (p TourPrice) String() string {
	return fmt.Sprintf("%s @ %s", p.StartTime, p.Price.StringFixed(2))
}

// ImageRef points at an image held by the object store
type ImageRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Facility represents a rentable venue listed by an affiliate
type Facility struct {
	ID               string          `json:"id" db:"id"`
	AffiliateID      string          `json:"affiliate_id" db:"affiliate_id"`
	Name             string          `json:"name" db:"name"`
	Description      string          `json:"description" db:"description"`
	Amenities        []string        `json:"amenities" db:"amenities"`
	DayTour          TourPrice       `json:"day_tour"`
	NightTour        TourPrice       `json:"night_tour"`
	ChildEntranceFee decimal.Decimal `json:"child_entrance_fee" db:"child_entrance_fee"`
	AdultEntranceFee decimal.Decimal `json:"adult_entrance_fee" db:"adult_entrance_fee"`
	Images           []ImageRef      `json:"images" db:"images"`
	Availability     Availability    `json:"availability" db:"availability"`
	Active           bool            `json:"active" db:"active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy that shares no slices with f.
func (f *Facility) Clone() *Facility {
	if f == nil {
		return nil
	}
	c := *f
	c.Amenities = append([]string(nil), f.Amenities...)
	c.Images = append([]ImageRef(nil), f.Images...)
	return &c
}

// PriceFor returns the tour price charged for a reservation of the given tour.
func (f *Facility) PriceFor(tour TourType) decimal.Decimal {
	if tour == TourNight {
		return f.NightTour.Price
	}
	return f.DayTour.Price
}

// Bookable reports whether new reservations may be placed on f.
func (f *Facility) Bookable() bool {
	return f.Active && f.Availability == Available
}

func (f *Facility) ImageKeys() []string {
	keys := make([]string, 0, len(f.Images))
	for _, img := range f.Images {
		keys = append(keys, img.Key)
	}
	return keys
}

// Booking represents a reservation of one facility slot by a customer
type Booking struct {
	ID              string          `json:"id" db:"id"`
	FacilityID      string          `json:"facility_id" db:"facility_id"`
	AffiliateID     string          `json:"affiliate_id" db:"affiliate_id"`
	CustomerID      string          `json:"customer_id" db:"customer_id"`
	TourType        TourType        `json:"tour_type" db:"tour_type"`
	ReservationDate time.Time       `json:"reservation_date" db:"reservation_date"`
	Status          BookingStatus   `json:"status" db:"status"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Reason          string          `json:"reason,omitempty" db:"reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// SlotKey identifies the (facility, tour, date) triple a booking occupies.
func (b *Booking) SlotKey() string {
	return SlotKey(b.FacilityID, b.TourType, b.ReservationDate)
}

func SlotKey(facilityID string, tour TourType, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", facilityID, tour, date.UTC().Format(DateLayout))
}

// Period returns the revenue bucket ("YYYY-MM") of the reservation date.
func (b *Booking) Period() string {
	return b.ReservationDate.UTC().Format("2006-01")
}

// AuditEntry is one line of an affiliate's append-only activity log
type AuditEntry struct {
	ID          string    `json:"id" db:"id"`
	AffiliateID string    `json:"affiliate_id" db:"affiliate_id"`
	ActorID     string    `json:"actor_id" db:"actor_id"`
	Message     string    `json:"message" db:"message"`
	Timestamp   time.Time `json:"timestamp" db:"created_at"`
}

// SubscriptionState tracks the billing standing of an affiliate
type SubscriptionState struct {
	AffiliateID         string             `json:"affiliate_id" db:"affiliate_id"`
	BillingCycleEnd     time.Time          `json:"billing_cycle_end" db:"billing_cycle_end"`
	Status              SubscriptionStatus `json:"status" db:"status"`
	LastReminderAt      *time.Time         `json:"last_reminder_at,omitempty" db:"last_reminder_at"`
	LastReminderMessage string             `json:"last_reminder_message,omitempty" db:"last_reminder_message"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
}

// AggregateCounters is the derived dashboard view of an affiliate
type AggregateCounters struct {
	AffiliateID       string                     `json:"affiliate_id"`
	PendingBookings   int64                      `json:"pending_bookings"`
	ConfirmedBookings int64                      `json:"confirmed_bookings"`
	Facilities        int64                      `json:"facilities"`
	LifetimeRevenue   decimal.Decimal            `json:"lifetime_revenue"`
	PeriodRevenue     map[string]decimal.Decimal `json:"period_revenue"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// NewAggregateCounters returns zeroed counters for an affiliate.
func NewAggregateCounters(affiliateID string) *AggregateCounters {
	return &AggregateCounters{
		AffiliateID:     affiliateID,
		LifetimeRevenue: decimal.Zero,
		PeriodRevenue:   map[string]decimal.Decimal{},
	}
}

// Apply adds d to c in place.
func (c *AggregateCounters) Apply(d CounterDelta) {
	c.PendingBookings += d.PendingBookings
	c.ConfirmedBookings += d.ConfirmedBookings
	c.Facilities += d.Facilities
	if !d.Revenue.IsZero() {
		c.LifetimeRevenue = c.LifetimeRevenue.Add(d.Revenue)
		if c.PeriodRevenue == nil {
			c.PeriodRevenue = map[string]decimal.Decimal{}
		}
		c.PeriodRevenue[d.Period] = c.PeriodRevenue[d.Period].Add(d.Revenue)
	}
}

func (c *AggregateCounters) Clone() *AggregateCounters {
	if c == nil {
		return nil
	}
	cp := *c
	cp.PeriodRevenue = make(map[string]decimal.Decimal, len(c.PeriodRevenue))
	for k, v := range c.PeriodRevenue {
		cp.PeriodRevenue[k] = v
	}
	return &cp
}

// Equal compares the counted values, ignoring UpdatedAt.
func (c *AggregateCounters) Equal(o *AggregateCounters) bool {
	if c.PendingBookings != o.PendingBookings ||
		c.ConfirmedBookings != o.ConfirmedBookings ||
		c.Facilities != o.Facilities ||
		!c.LifetimeRevenue.Equal(o.LifetimeRevenue) {
		return false
	}
	for k, v := range c.PeriodRevenue {
		if !v.Equal(o.PeriodRevenue[k]) {
			return false
		}
	}
	for k, v := range o.PeriodRevenue {
		if !v.Equal(c.PeriodRevenue[k]) {
			return false
		}
	}
	return true
}

// CounterDelta is a commutative increment applied to AggregateCounters
type CounterDelta struct {
	PendingBookings   int64
	ConfirmedBookings int64
	Facilities        int64
	Revenue           decimal.Decimal
	Period            string
}

func (d CounterDelta) IsZero() bool {
	return d.PendingBookings == 0 && d.ConfirmedBookings == 0 && d.Facilities == 0 && d.Revenue.IsZero()
}
