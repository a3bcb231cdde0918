package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pinabook/internal/external"
	"pinabook/internal/lock"
	"pinabook/internal/messaging"
	"pinabook/internal/models"
	"pinabook/internal/notify"
	"pinabook/internal/repository"
	"pinabook/internal/repository/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeBilling struct {
	mu      sync.Mutex
	succeed bool
	err     error
	calls   int
}

func (b *fakeBilling) ChargeSubscription(ctx context.Context, affiliateID string) (external.ChargeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return external.ChargeResult{}, b.err
	}
	if b.succeed {
		return external.ChargeResult{Success: true, PaymentID: "pay-1", Status: "CONFIRMED"}, nil
	}
	return external.ChargeResult{Success: false, Status: "DECLINED"}, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	reminders []notify.Reminder
}

func (n *fakeNotifier) SendReminder(ctx context.Context, r notify.Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, r)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reminders)
}

type fixture struct {
	repos    *repository.Repositories
	svc      *Services
	bus      *messaging.LocalBus
	locker   *lock.KeyedMutex
	objects  *external.MemoryObjectStore
	billing  *fakeBilling
	notifier *fakeNotifier
	clock    *fakeClock
}

const (
	testCycle = 30 * 24 * time.Hour
	testGrace = 7 * 24 * time.Hour
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repos:    memory.NewRepositories(),
		bus:      messaging.NewLocalBus(),
		locker:   lock.NewKeyedMutex(),
		objects:  external.NewMemoryObjectStore(""),
		billing:  &fakeBilling{},
		notifier: &fakeNotifier{},
		clock:    &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = NewServices(Dependencies{
		Repos:     f.repos,
		Locker:    f.locker,
		Publisher: f.bus,
		Objects:   f.objects,
		Billing:   f.billing,
		Notifier:  f.notifier,
		Now:       f.clock.Now,
	}, Options{
		LockTimeout:       2 * time.Second,
		SubscriptionCycle: testCycle,
		GracePeriod:       testGrace,
	})
	require.NoError(t, f.svc.Projector.Subscribe(f.bus, "projector"))
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) register(t *testing.T, affiliateID, name string) *models.Affiliate {
	t.Helper()
	a, err := f.svc.Affiliates.Register(context.Background(), affiliateID, name)
	require.NoError(t, err)
	return a
}

func newDraft(name string, day, night int64) *models.FacilityDraft {
	dayPrice := decimal.NewFromInt(day)
	nightPrice := decimal.NewFromInt(night)
	child := decimal.NewFromInt(50)
	adult := decimal.NewFromInt(100)
	return &models.FacilityDraft{
		Name:             name,
		Description:      "Private pool with garden",
		Amenities:        []string{"pool", "wifi"},
		DayTour:          &models.TourPriceInput{StartTime: "08:00", Price: &dayPrice},
		NightTour:        &models.TourPriceInput{StartTime: "19:00", Price: &nightPrice},
		ChildEntranceFee: &child,
		AdultEntranceFee: &adult,
		Images:           []models.ImageInput{{Data: []byte("jpeg"), ContentType: "image/jpeg"}},
	}
}

func (f *fixture) createFacility(t *testing.T, affiliateID, name string) *models.Facility {
	t.Helper()
	fac, err := f.svc.Catalog.CreateFacility(context.Background(), affiliateID, newDraft(name, 500, 800))
	require.NoError(t, err)
	return fac
}

func (f *fixture) counters(t *testing.T, affiliateID string) *models.AggregateCounters {
	t.Helper()
	c, err := f.svc.Projector.Get(context.Background(), affiliateID)
	require.NoError(t, err)
	return c
}

func (f *fixture) auditMessages(t *testing.T, affiliateID string) []string {
	t.Helper()
	entries, err := f.svc.Audit.ListEntries(context.Background(), affiliateID, nil, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
