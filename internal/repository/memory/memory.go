// Package memory is an in-process implementation of the repository stores.
// It backs tests and single-node deployments started with STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pinabook/internal/models"
	"pinabook/internal/repository"
)

type txKey struct{}

// Store keeps every table behind one mutex. A transaction holds the mutex for
// its whole duration and restores a snapshot when it fails.
type Store struct {
	mu         sync.Mutex
	affiliates map[string]*models.Affiliate
	facilities map[string]*models.Facility
	bookings   map[string]*models.Booking
	audit      map[string][]*models.AuditEntry
	subs       map[string]*models.SubscriptionState
	counters   map[string]*models.AggregateCounters
	marks      map[string]map[string]string
}

func NewStore() *Store {
	return &Store{
		affiliates: map[string]*models.Affiliate{},
		facilities: map[string]*models.Facility{},
		bookings:   map[string]*models.Booking{},
		audit:      map[string][]*models.AuditEntry{},
		subs:       map[string]*models.SubscriptionState{},
		counters:   map[string]*models.AggregateCounters{},
		marks:      map[string]map[string]string{},
	}
}

// NewRepositories returns a store set sharing one in-memory Store.
func NewRepositories() *repository.Repositories {
	return NewStore().Repositories()
}

func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Tx:            s,
		Affiliates:    &affiliateStore{s},
		Facilities:    &facilityStore{s},
		Bookings:      &bookingStore{s},
		Audit:         &auditStore{s},
		Subscriptions: &subscriptionStore{s},
		Counters:      &counterStore{s},
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	cur, ok := ctx.Value(txKey{}).(*Store)
	return ok && cur == s
}

// lock acquires the store mutex unless ctx already runs inside one of this
// store's transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

type snapshot struct {
	affiliates map[string]*models.Affiliate
	facilities map[string]*models.Facility
	bookings   map[string]*models.Booking
	audit      map[string][]*models.AuditEntry
	subs       map[string]*models.SubscriptionState
	counters   map[string]*models.AggregateCounters
	marks      map[string]map[string]string
}

// snapshot copies the maps. Stored values are never mutated in place, so the
// pointers can be shared.
func (s *Store) snapshot() snapshot {
	snap := snapshot{
		affiliates: make(map[string]*models.Affiliate, len(s.affiliates)),
		facilities: make(map[string]*models.Facility, len(s.facilities)),
		bookings:   make(map[string]*models.Booking, len(s.bookings)),
		audit:      make(map[string][]*models.AuditEntry, len(s.audit)),
		subs:       make(map[string]*models.SubscriptionState, len(s.subs)),
		counters:   make(map[string]*models.AggregateCounters, len(s.counters)),
		marks:      make(map[string]map[string]string, len(s.marks)),
	}
	for k, v := range s.affiliates {
		snap.affiliates[k] = v
	}
	for k, v := range s.facilities {
		snap.facilities[k] = v
	}
	for k, v := range s.bookings {
		snap.bookings[k] = v
	}
	for k, v := range s.audit {
		snap.audit[k] = v[:len(v):len(v)]
	}
	for k, v := range s.subs {
		snap.subs[k] = v
	}
	for k, v := range s.counters {
		snap.counters[k] = v
	}
	for k, v := range s.marks {
		snap.marks[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.affiliates = snap.affiliates
	s.facilities = snap.facilities
	s.bookings = snap.bookings
	s.audit = snap.audit
	s.subs = snap.subs
	s.counters = snap.counters
	s.marks = snap.marks
}

type affiliateStore struct{ s *Store }

func (a *affiliateStore) Create(ctx context.Context, affiliate *models.Affiliate) error {
	defer a.s.lock(ctx)()
	cp := *affiliate
	a.s.affiliates[affiliate.ID] = &cp
	return nil
}

func (a *affiliateStore) GetByID(ctx context.Context, id string) (*models.Affiliate, error) {
	defer a.s.lock(ctx)()
	v, ok := a.s.affiliates[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (a *affiliateStore) UpdateDisplayName(ctx context.Context, id, displayName string, at time.Time) error {
	defer a.s.lock(ctx)()
	v, ok := a.s.affiliates[id]
	if !ok {
		return nil
	}
	cp := *v
	cp.DisplayName = displayName
	cp.UpdatedAt = at
	a.s.affiliates[id] = &cp
	return nil
}

func (a *affiliateStore) ListIDs(ctx context.Context) ([]string, error) {
	defer a.s.lock(ctx)()
	ids := make([]string, 0, len(a.s.affiliates))
	for id := range a.s.affiliates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type facilityStore struct{ s *Store }

func (f *facilityStore) Create(ctx context.Context, facility *models.Facility) error {
	defer f.s.lock(ctx)()
	f.s.facilities[facility.ID] = facility.Clone()
	return nil
}

func (f *facilityStore) GetByID(ctx context.Context, id string) (*models.Facility, error) {
	defer f.s.lock(ctx)()
	return f.s.facilities[id].Clone(), nil
}

func (f *facilityStore) GetForUpdate(ctx context.Context, id string) (*models.Facility, error) {
	return f.GetByID(ctx, id)
}

func (f *facilityStore) Update(ctx context.Context, facility *models.Facility) error {
	defer f.s.lock(ctx)()
	if _, ok := f.s.facilities[facility.ID]; !ok {
		return nil
	}
	f.s.facilities[facility.ID] = facility.Clone()
	return nil
}

func (f *facilityStore) ListByAffiliate(ctx context.Context, affiliateID string, includeInactive bool) ([]*models.Facility, error) {
	defer f.s.lock(ctx)()
	return f.s.listFacilities(func(v *models.Facility) bool {
		return v.AffiliateID == affiliateID && (v.Active || includeInactive)
	}), nil
}

func (f *facilityStore) ListAvailable(ctx context.Context) ([]*models.Facility, error) {
	defer f.s.lock(ctx)()
	return f.s.listFacilities(func(v *models.Facility) bool { return v.Bookable() }), nil
}

func (s *Store) listFacilities(match func(*models.Facility) bool) []*models.Facility {
	var out []*models.Facility
	for _, v := range s.facilities {
		if match(v) {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type bookingStore struct{ s *Store }

func (b *bookingStore) Create(ctx context.Context, booking *models.Booking) error {
	defer b.s.lock(ctx)()
	if booking.Status.Active() {
		key := booking.SlotKey()
		for _, v := range b.s.bookings {
			if v.Status.Active() && v.SlotKey() == key {
				return repository.ErrDuplicateSlot
			}
		}
	}
	cp := *booking
	b.s.bookings[booking.ID] = &cp
	return nil
}

func (b *bookingStore) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	defer b.s.lock(ctx)()
	v, ok := b.s.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (b *bookingStore) FindActiveBySlot(ctx context.Context, facilityID string, tour models.TourType, date time.Time) (*models.Booking, error) {
	defer b.s.lock(ctx)()
	key := models.SlotKey(facilityID, tour, date)
	for _, v := range b.s.bookings {
		if v.Status.Active() && v.SlotKey() == key {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (b *bookingStore) UpdateStatus(ctx context.Context, id string, from, to models.BookingStatus, reason string, at time.Time) (bool, error) {
	defer b.s.lock(ctx)()
	v, ok := b.s.bookings[id]
	if !ok || v.Status != from {
		return false, nil
	}
	cp := *v
	cp.Status = to
	cp.Reason = reason
	cp.UpdatedAt = at
	b.s.bookings[id] = &cp
	return true, nil
}

func (b *bookingStore) ListByAffiliate(ctx context.Context, affiliateID string, status *models.BookingStatus) ([]*models.Booking, error) {
	defer b.s.lock(ctx)()
	return b.s.listBookings(func(v *models.Booking) bool {
		return v.AffiliateID == affiliateID && (status == nil || v.Status == *status)
	}), nil
}

func (b *bookingStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.Booking, error) {
	defer b.s.lock(ctx)()
	return b.s.listBookings(func(v *models.Booking) bool { return v.CustomerID == customerID }), nil
}

// listBookings returns matches newest first.
func (s *Store) listBookings(match func(*models.Booking) bool) []*models.Booking {
	var out []*models.Booking
	for _, v := range s.bookings {
		if match(v) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

type auditStore struct{ s *Store }

func (a *auditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	defer a.s.lock(ctx)()
	cp := *entry
	a.s.audit[entry.AffiliateID] = append(a.s.audit[entry.AffiliateID], &cp)
	return nil
}

func (a *auditStore) List(ctx context.Context, affiliateID string, from *time.Time, limit int) ([]*models.AuditEntry, error) {
	defer a.s.lock(ctx)()
	var out []*models.AuditEntry
	for _, e := range a.s.audit[affiliateID] {
		if from != nil && e.Timestamp.Before(*from) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type subscriptionStore struct{ s *Store }

func cloneSubscription(v *models.SubscriptionState) *models.SubscriptionState {
	cp := *v
	if v.LastReminderAt != nil {
		t := *v.LastReminderAt
		cp.LastReminderAt = &t
	}
	return &cp
}

func (u *subscriptionStore) Create(ctx context.Context, state *models.SubscriptionState) error {
	defer u.s.lock(ctx)()
	u.s.subs[state.AffiliateID] = cloneSubscription(state)
	return nil
}

func (u *subscriptionStore) GetByAffiliate(ctx context.Context, affiliateID string) (*models.SubscriptionState, error) {
	defer u.s.lock(ctx)()
	v, ok := u.s.subs[affiliateID]
	if !ok {
		return nil, nil
	}
	return cloneSubscription(v), nil
}

func (u *subscriptionStore) GetForUpdate(ctx context.Context, affiliateID string) (*models.SubscriptionState, error) {
	return u.GetByAffiliate(ctx, affiliateID)
}

func (u *subscriptionStore) Update(ctx context.Context, state *models.SubscriptionState) error {
	defer u.s.lock(ctx)()
	if _, ok := u.s.subs[state.AffiliateID]; !ok {
		return nil
	}
	u.s.subs[state.AffiliateID] = cloneSubscription(state)
	return nil
}

func (u *subscriptionStore) List(ctx context.Context) ([]*models.SubscriptionState, error) {
	defer u.s.lock(ctx)()
	out := make([]*models.SubscriptionState, 0, len(u.s.subs))
	for _, v := range u.s.subs {
		out = append(out, cloneSubscription(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AffiliateID < out[j].AffiliateID })
	return out, nil
}

type counterStore struct{ s *Store }

func (c *counterStore) Get(ctx context.Context, affiliateID string) (*models.AggregateCounters, error) {
	defer c.s.lock(ctx)()
	return c.s.counters[affiliateID].Clone(), nil
}

// Lock is a no-op: every write already holds the store mutex.
func (c *counterStore) Lock(context.Context, string) error {
	return nil
}

func (c *counterStore) Mark(ctx context.Context, affiliateID, entityKey string) (string, error) {
	defer c.s.lock(ctx)()
	return c.s.marks[affiliateID][entityKey], nil
}

func (c *counterStore) Apply(ctx context.Context, affiliateID string, delta models.CounterDelta, entityKey, state string, at time.Time) error {
	defer c.s.lock(ctx)()

	// marks are copied on write so snapshots can share the inner maps
	marks := make(map[string]string, len(c.s.marks[affiliateID])+1)
	for k, v := range c.s.marks[affiliateID] {
		marks[k] = v
	}
	marks[entityKey] = state
	c.s.marks[affiliateID] = marks

	cur, ok := c.s.counters[affiliateID]
	if !ok {
		cur = models.NewAggregateCounters(affiliateID)
	}
	next := cur.Clone()
	next.Apply(delta)
	next.UpdatedAt = at
	c.s.counters[affiliateID] = next
	return nil
}

func (c *counterStore) Put(ctx context.Context, counters *models.AggregateCounters, marks map[string]string) error {
	defer c.s.lock(ctx)()
	c.s.counters[counters.AffiliateID] = counters.Clone()

	cp := make(map[string]string, len(marks))
	for k, v := range marks {
		cp[k] = v
	}
	c.s.marks[counters.AffiliateID] = cp
	return nil
}
