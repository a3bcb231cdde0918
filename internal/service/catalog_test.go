package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/models"
)

func TestCreateFacility(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")

	fac := f.createFacility(t, "aff-1", "Villa Azul")

	assert.Equal(t, models.Available, fac.Availability)
	assert.True(t, fac.Active)
	require.Len(t, fac.Images, 1)
	assert.True(t, f.objects.Has(fac.Images[0].Key))
	assert.Contains(t, f.auditMessages(t, "aff-1"), "Ana added facility Villa Azul.")
	assert.Equal(t, int64(1), f.counters(t, "aff-1").Facilities)

	got, err := f.svc.Catalog.GetFacility(context.Background(), fac.ID)
	require.NoError(t, err)
	assert.Equal(t, fac.Name, got.Name)
	assert.True(t, got.DayTour.Price.Equal(decimal.NewFromInt(500)))
}

func TestCreateFacility_Validation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")

	tests := []struct {
		name   string
		mutate func(d *models.FacilityDraft)
		field  string
	}{
		{"blank name", func(d *models.FacilityDraft) { d.Name = "   " }, "name"},
		{"missing day tour", func(d *models.FacilityDraft) { d.DayTour = nil }, "day_tour"},
		{"missing adult fee", func(d *models.FacilityDraft) { d.AdultEntranceFee = nil }, "adult_entrance_fee"},
		{"no images", func(d *models.FacilityDraft) { d.Images = nil }, "images"},
		{"negative price", func(d *models.FacilityDraft) {
			p := decimal.NewFromInt(-1)
			d.NightTour.Price = &p
		}, "night_tour.price"},
		{"image without data", func(d *models.FacilityDraft) {
			d.Images = []models.ImageInput{{Key: "images/x"}}
		}, "images[0].data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDraft("Villa", 500, 800)
			tt.mutate(d)
			_, err := f.svc.Catalog.CreateFacility(context.Background(), "aff-1", d)
			require.ErrorIs(t, err, apperrors.ErrValidation)
			typed, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, typed.Field)
		})
	}
	assert.Equal(t, 0, f.objects.Len())
}

func TestCreateFacility_UnknownAffiliate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Catalog.CreateFacility(context.Background(), "ghost", newDraft("Villa", 500, 800))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateFacility_DescriptionOnlyWritesOneEntry(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa Azul")
	before := len(f.auditMessages(t, "aff-1"))

	desc := "Two pools and a garden"
	price := decimal.NewFromInt(500)
	amenities := []string{"pool", "wifi"}
	updated, err := f.svc.Catalog.UpdateFacility(context.Background(), "aff-1", fac.ID, &models.FacilityPatch{
		Description: &desc,
		DayTour:     &models.TourPriceInput{StartTime: "08:00", Price: &price},
		Amenities:   &amenities,
	})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)

	msgs := f.auditMessages(t, "aff-1")
	require.Len(t, msgs, before+1)
	assert.Equal(t,
		`Ana edited facility Villa Azul: description changed from "Private pool with garden" to "Two pools and a garden".`,
		msgs[len(msgs)-1])
}

func TestUpdateFacility_OneEntryPerChangedField(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa Azul")
	before := len(f.auditMessages(t, "aff-1"))

	name := "Villa Verde"
	fee := decimal.RequireFromString("75.50")
	_, err := f.svc.Catalog.UpdateFacility(context.Background(), "aff-1", fac.ID, &models.FacilityPatch{
		Name:             &name,
		ChildEntranceFee: &fee,
	})
	require.NoError(t, err)

	msgs := f.auditMessages(t, "aff-1")[before:]
	assert.Equal(t, []string{
		`Ana edited facility Villa Azul: name changed from "Villa Azul" to "Villa Verde".`,
		`Ana edited facility Villa Azul: child entrance fee changed from 50.00 to 75.50.`,
	}, msgs)
}

func TestUpdateFacility_NoChanges(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa Azul")
	before := len(f.auditMessages(t, "aff-1"))

	name := "Villa Azul"
	_, err := f.svc.Catalog.UpdateFacility(context.Background(), "aff-1", fac.ID, &models.FacilityPatch{Name: &name})
	require.NoError(t, err)
	assert.Len(t, f.auditMessages(t, "aff-1"), before)
}

func TestUpdateFacility_NotOwned(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	f.register(t, "aff-2", "Ben")
	fac := f.createFacility(t, "aff-1", "Villa Azul")

	name := "Mine now"
	_, err := f.svc.Catalog.UpdateFacility(context.Background(), "aff-2", fac.ID, &models.FacilityPatch{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.Catalog.UpdateFacility(context.Background(), "aff-1", "missing", &models.FacilityPatch{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateFacility_ReplacedImagesDeletedAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa Azul")
	oldKey := fac.Images[0].Key

	images := []models.ImageInput{{Data: []byte("png"), ContentType: "image/png"}}
	updated, err := f.svc.Catalog.UpdateFacility(context.Background(), "aff-1", fac.ID, &models.FacilityPatch{Images: &images})
	require.NoError(t, err)
	require.Len(t, updated.Images, 1)
	assert.NotEqual(t, oldKey, updated.Images[0].Key)

	f.svc.Catalog.Close()
	assert.False(t, f.objects.Has(oldKey))
	assert.True(t, f.objects.Has(updated.Images[0].Key))

	msgs := f.auditMessages(t, "aff-1")
	assert.Equal(t, "Ana edited facility Villa Azul: images changed from 1 to 1 (1 added, 1 removed).", msgs[len(msgs)-1])
}

func TestUpdateFacility_KeepsExistingImages(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa Azul")
	kept := fac.Images[0]

	images := []models.ImageInput{{Key: kept.Key}, {Data: []byte("png")}}
	updated, err := f.svc.Catalog.UpdateFacility(context.Background(), "aff-1", fac.ID, &models.FacilityPatch{Images: &images})
	require.NoError(t, err)
	require.Len(t, updated.Images, 2)
	assert.Equal(t, kept, updated.Images[0])

	f.svc.Catalog.Close()
	assert.True(t, f.objects.Has(kept.Key))
	assert.Equal(t, 2, f.objects.Len())

	bogus := []models.ImageInput{{Key: "images/elsewhere/1"}}
	_, err = f.svc.Catalog.UpdateFacility(context.Background(), "aff-1", fac.ID, &models.FacilityPatch{Images: &bogus})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

type failingObjects struct{}

func (failingObjects) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", errors.New("bucket offline")
}

func (failingObjects) Delete(ctx context.Context, key string) error { return nil }

func TestCreateFacility_ObjectStoreDown(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	catalog := NewFacilityCatalog(f.repos, f.svc.Audit, f.svc.Subscriptions, failingObjects{}, nil, f.bus, f.clock.Now)

	_, err := catalog.CreateFacility(context.Background(), "aff-1", newDraft("Villa", 500, 800))
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorUnavailable)

	list, err := f.svc.Catalog.ListFacilitiesByAffiliate(context.Background(), "aff-1", true)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetAvailability(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa Azul")
	ctx := context.Background()

	b, err := f.svc.Reservations.RequestBooking(ctx, "cust-1", fac.ID, models.TourDay, day(2024, 6, 1))
	require.NoError(t, err)

	updated, err := f.svc.Catalog.SetAvailability(ctx, "aff-1", fac.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.Unavailable, updated.Availability)
	entries := len(f.auditMessages(t, "aff-1"))

	// idempotent
	_, err = f.svc.Catalog.SetAvailability(ctx, "aff-1", fac.ID, false)
	require.NoError(t, err)
	assert.Len(t, f.auditMessages(t, "aff-1"), entries)

	_, err = f.svc.Reservations.RequestBooking(ctx, "cust-2", fac.ID, models.TourNight, day(2024, 6, 1))
	assert.ErrorIs(t, err, apperrors.ErrFacilityUnavailable)

	// existing bookings are honored
	confirmed, err := f.svc.Reservations.ConfirmBooking(ctx, "aff-1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)
}

func TestDeactivateFacility(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	fac := f.createFacility(t, "aff-1", "Villa Azul")
	ctx := context.Background()

	_, err := f.svc.Catalog.DeactivateFacility(ctx, "aff-1", fac.ID)
	require.NoError(t, err)
	_, err = f.svc.Catalog.DeactivateFacility(ctx, "aff-1", fac.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.counters(t, "aff-1").Facilities)

	active, err := f.svc.Catalog.ListFacilitiesByAffiliate(ctx, "aff-1", false)
	require.NoError(t, err)
	assert.Empty(t, active)

	name := "Back"
	_, err = f.svc.Catalog.UpdateFacility(ctx, "aff-1", fac.ID, &models.FacilityPatch{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.svc.Reservations.RequestBooking(ctx, "cust-1", fac.ID, models.TourDay, day(2024, 6, 1))
	assert.ErrorIs(t, err, apperrors.ErrFacilityUnavailable)
}

func TestSearchFacilities_Fallback(t *testing.T) {
	f := newFixture(t)
	f.register(t, "aff-1", "Ana")
	f.createFacility(t, "aff-1", "Villa Azul")
	f.createFacility(t, "aff-1", "Casa Verde")
	hidden := f.createFacility(t, "aff-1", "Villa Roja")
	ctx := context.Background()

	_, err := f.svc.Catalog.SetAvailability(ctx, "aff-1", hidden.ID, false)
	require.NoError(t, err)

	found, err := f.svc.Catalog.SearchFacilities(ctx, "villa", 1, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Villa Azul", found[0].Name)

	all, err := f.svc.Catalog.SearchFacilities(ctx, "", 1, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	empty, err := f.svc.Catalog.SearchFacilities(ctx, "", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
