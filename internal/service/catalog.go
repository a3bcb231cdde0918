package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/external"
	"pinabook/internal/logger"
	"pinabook/internal/messaging"
	"pinabook/internal/metrics"
	"pinabook/internal/models"
	"pinabook/internal/repository"
	"pinabook/internal/validation"
)

const (
	maxImages           = 3
	imageCleanupTimeout = 30 * time.Second
	defaultSearchPage   = 20
)

// FacilityCatalog owns the facilities published by affiliates.
type FacilityCatalog struct {
	repos     *repository.Repositories
	audit     *AuditLog
	gate      WriteGate
	objects   external.ObjectStore
	index     FacilityIndex
	publisher messaging.Publisher
	now       func() time.Time

	cleanup sync.WaitGroup
}

func NewFacilityCatalog(repos *repository.Repositories, audit *AuditLog, gate WriteGate, objects external.ObjectStore, index FacilityIndex, publisher messaging.Publisher, now func() time.Time) *FacilityCatalog {
	if objects == nil {
		objects = external.NewMemoryObjectStore("")
	}
	return &FacilityCatalog{
		repos:     repos,
		audit:     audit,
		gate:      gate,
		objects:   objects,
		index:     index,
		publisher: publisher,
		now:       now,
	}
}

// Close waits for scheduled image deletions to finish.
func (c *FacilityCatalog) Close() {
	c.cleanup.Wait()
}

func (c *FacilityCatalog) CreateFacility(ctx context.Context, affiliateID string, draft *models.FacilityDraft) (*models.Facility, error) {
	if draft == nil {
		return nil, apperrors.Validation("", "facility draft is required")
	}
	if err := validation.Struct(draft); err != nil {
		return nil, err
	}
	name, description, err := checkText(draft.Name, draft.Description)
	if err != nil {
		return nil, err
	}
	if err := checkAmounts(map[string]*decimal.Decimal{
		"day_tour.price":     draft.DayTour.Price,
		"night_tour.price":   draft.NightTour.Price,
		"child_entrance_fee": draft.ChildEntranceFee,
		"adult_entrance_fee": draft.AdultEntranceFee,
	}); err != nil {
		return nil, err
	}
	for i, img := range draft.Images {
		if !img.IsUpload() {
			return nil, apperrors.Validation(fmt.Sprintf("images[%d].data", i), "is required")
		}
	}

	if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
		return nil, err
	}
	affiliate, err := c.affiliate(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	facility := &models.Facility{
		ID:               uuid.NewString(),
		AffiliateID:      affiliateID,
		Name:             name,
		Description:      description,
		Amenities:        normalizeAmenities(draft.Amenities),
		DayTour:          draft.DayTour.TourPrice(),
		NightTour:        draft.NightTour.TourPrice(),
		ChildEntranceFee: *draft.ChildEntranceFee,
		AdultEntranceFee: *draft.AdultEntranceFee,
		Availability:     models.Available,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	uploaded, err := c.uploadImages(ctx, facility.ID, draft.Images)
	if err != nil {
		return nil, err
	}
	for _, i := range sortedKeys(uploaded) {
		facility.Images = append(facility.Images, uploaded[i])
	}

	err = c.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
			return err
		}
		if err := c.repos.Facilities.Create(ctx, facility); err != nil {
			return fmt.Errorf("failed to create facility: %w", err)
		}
		return c.audit.Record(ctx, affiliateID, affiliateID,
			fmt.Sprintf("%s added facility %s.", affiliate.DisplayName, facility.Name))
	})
	if err != nil {
		c.scheduleImageDeletion(ctx, facility.ImageKeys())
		return nil, err
	}

	logger.WithContext(ctx).Info("Facility created", "facility_id", facility.ID, "affiliate_id", affiliateID)
	publish(ctx, c.publisher, models.EventFacilityCreated, c.facilityEvent(facility))
	c.reindex(ctx, facility)
	return facility, nil
}

func (c *FacilityCatalog) UpdateFacility(ctx context.Context, affiliateID, facilityID string, patch *models.FacilityPatch) (*models.Facility, error) {
	if patch == nil {
		return nil, apperrors.Validation("", "patch is required")
	}
	if err := validation.Struct(patch); err != nil {
		return nil, err
	}
	if err := checkPatch(patch); err != nil {
		return nil, err
	}
	if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
		return nil, err
	}

	current, err := c.owned(ctx, affiliateID, facilityID, false)
	if err != nil {
		return nil, err
	}

	// new images are uploaded before the transaction; the update commits only
	// once every upload succeeded
	var uploaded map[int]models.ImageRef
	if patch.Images != nil {
		attached := map[string]bool{}
		for _, key := range current.ImageKeys() {
			attached[key] = true
		}
		for i, img := range *patch.Images {
			if !img.IsUpload() && !attached[img.Key] {
				return nil, apperrors.Validation(fmt.Sprintf("images[%d].key", i), "does not reference an image of this facility")
			}
		}
		uploaded, err = c.uploadImages(ctx, facilityID, *patch.Images)
		if err != nil {
			return nil, err
		}
	}
	newKeys := make([]string, 0, len(uploaded))
	for _, ref := range uploaded {
		newKeys = append(newKeys, ref.Key)
	}

	var (
		updated *models.Facility
		removed []string
		changed bool
	)
	err = c.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
			return err
		}
		f, err := c.owned(ctx, affiliateID, facilityID, true)
		if err != nil {
			return err
		}
		if !f.Active {
			return apperrors.InvalidTransition("facility", facilityID, "facility is deactivated")
		}

		next, err := applyPatch(f, patch, uploaded)
		if err != nil {
			return err
		}
		changes := diffFacility(f, next)
		if len(changes) == 0 {
			updated = f
			return nil
		}

		next.UpdatedAt = c.now()
		if err := c.repos.Facilities.Update(ctx, next); err != nil {
			return fmt.Errorf("failed to update facility: %w", err)
		}

		affiliate, err := c.affiliate(ctx, affiliateID)
		if err != nil {
			return err
		}
		for _, change := range changes {
			msg := fmt.Sprintf("%s edited facility %s: %s.", affiliate.DisplayName, f.Name, change)
			if err := c.audit.Record(ctx, affiliateID, affiliateID, msg); err != nil {
				return err
			}
		}

		removed = missingKeys(f.ImageKeys(), next.ImageKeys())
		updated = next
		changed = true
		return nil
	})
	if err != nil {
		c.scheduleImageDeletion(ctx, newKeys)
		return nil, err
	}
	if !changed {
		c.scheduleImageDeletion(ctx, newKeys)
		return updated, nil
	}

	c.scheduleImageDeletion(ctx, removed)
	publish(ctx, c.publisher, models.EventFacilityUpdated, c.facilityEvent(updated))
	c.reindex(ctx, updated)
	return updated, nil
}

// SetAvailability flips the availability flag. Existing bookings are not
// touched. Setting the current value is a no-op.
func (c *FacilityCatalog) SetAvailability(ctx context.Context, affiliateID, facilityID string, available bool) (*models.Facility, error) {
	if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
		return nil, err
	}

	target := models.Unavailable
	if available {
		target = models.Available
	}

	var (
		updated *models.Facility
		changed bool
	)
	err := c.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
			return err
		}
		f, err := c.owned(ctx, affiliateID, facilityID, true)
		if err != nil {
			return err
		}
		if !f.Active {
			return apperrors.InvalidTransition("facility", facilityID, "facility is deactivated")
		}
		if f.Availability == target {
			updated = f
			return nil
		}

		f.Availability = target
		f.UpdatedAt = c.now()
		if err := c.repos.Facilities.Update(ctx, f); err != nil {
			return fmt.Errorf("failed to update availability: %w", err)
		}
		affiliate, err := c.affiliate(ctx, affiliateID)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("%s marked facility %s as %s.", affiliate.DisplayName, f.Name, strings.ToLower(string(target)))
		if err := c.audit.Record(ctx, affiliateID, affiliateID, msg); err != nil {
			return err
		}
		updated = f
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		publish(ctx, c.publisher, models.EventFacilityUpdated, c.facilityEvent(updated))
		c.reindex(ctx, updated)
	}
	return updated, nil
}

// DeactivateFacility soft-deletes a facility. Its bookings stay readable and
// it no longer appears in listings or accepts reservations.
func (c *FacilityCatalog) DeactivateFacility(ctx context.Context, affiliateID, facilityID string) (*models.Facility, error) {
	if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
		return nil, err
	}

	var (
		updated *models.Facility
		changed bool
	)
	err := c.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := c.gate.CheckWritable(ctx, affiliateID); err != nil {
			return err
		}
		f, err := c.owned(ctx, affiliateID, facilityID, true)
		if err != nil {
			return err
		}
		if !f.Active {
			updated = f
			return nil
		}

		f.Active = false
		f.UpdatedAt = c.now()
		if err := c.repos.Facilities.Update(ctx, f); err != nil {
			return fmt.Errorf("failed to deactivate facility: %w", err)
		}
		affiliate, err := c.affiliate(ctx, affiliateID)
		if err != nil {
			return err
		}
		if err := c.audit.Record(ctx, affiliateID, affiliateID,
			fmt.Sprintf("%s deactivated facility %s.", affiliate.DisplayName, f.Name)); err != nil {
			return err
		}
		updated = f
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		publish(ctx, c.publisher, models.EventFacilityDeactivated, c.facilityEvent(updated))
		if c.index != nil {
			if err := c.index.DeleteFacility(ctx, facilityID); err != nil {
				logger.WithContext(ctx).Warn("Failed to remove facility from index", "facility_id", facilityID, "error", err)
			}
		}
	}
	return updated, nil
}

func (c *FacilityCatalog) GetFacility(ctx context.Context, facilityID string) (*models.Facility, error) {
	f, err := c.repos.Facilities.GetByID(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	if f == nil {
		return nil, apperrors.NotFound("facility", facilityID)
	}
	return f, nil
}

func (c *FacilityCatalog) ListFacilitiesByAffiliate(ctx context.Context, affiliateID string, includeInactive bool) ([]*models.Facility, error) {
	facilities, err := c.repos.Facilities.ListByAffiliate(ctx, affiliateID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	if facilities == nil {
		facilities = []*models.Facility{}
	}
	return facilities, nil
}

// SearchFacilities returns bookable facilities matching query. The search
// index, when configured, only ranks; facilities are always read back from
// the store.
func (c *FacilityCatalog) SearchFacilities(ctx context.Context, query string, page, pageSize int) ([]*models.Facility, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSearchPage
	}

	if c.index != nil {
		ids, err := c.index.Search(ctx, query, page, pageSize)
		if err == nil {
			out := make([]*models.Facility, 0, len(ids))
			for _, id := range ids {
				f, err := c.repos.Facilities.GetByID(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("failed to get facility: %w", err)
				}
				if f != nil && f.Bookable() {
					out = append(out, f)
				}
			}
			return out, nil
		}
		logger.WithContext(ctx).Warn("Search index unavailable, scanning store", "error", err)
	}

	all, err := c.repos.Facilities.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(query))
	matched := make([]*models.Facility, 0, len(all))
	for _, f := range all {
		if q == "" || matchesQuery(f, q) {
			matched = append(matched, f)
		}
	}

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []*models.Facility{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func matchesQuery(f *models.Facility, q string) bool {
	if strings.Contains(strings.ToLower(f.Name), q) || strings.Contains(strings.ToLower(f.Description), q) {
		return true
	}
	for _, a := range f.Amenities {
		if strings.Contains(strings.ToLower(a), q) {
			return true
		}
	}
	return false
}

func (c *FacilityCatalog) affiliate(ctx context.Context, affiliateID string) (*models.Affiliate, error) {
	affiliate, err := c.repos.Affiliates.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}
	if affiliate == nil {
		return nil, apperrors.NotFound("affiliate", affiliateID)
	}
	return affiliate, nil
}

// owned loads a facility and hides it from anyone but its owner.
func (c *FacilityCatalog) owned(ctx context.Context, affiliateID, facilityID string, forUpdate bool) (*models.Facility, error) {
	get := c.repos.Facilities.GetByID
	if forUpdate {
		get = c.repos.Facilities.GetForUpdate
	}
	f, err := get(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	if f == nil || f.AffiliateID != affiliateID {
		return nil, apperrors.NotFound("facility", facilityID)
	}
	return f, nil
}

// uploadImages stores every upload in inputs concurrently and returns the new
// references keyed by their position in inputs. On failure nothing uploaded
// by this call is left behind.
func (c *FacilityCatalog) uploadImages(ctx context.Context, facilityID string, inputs []models.ImageInput) (map[int]models.ImageRef, error) {
	var (
		mu   sync.Mutex
		refs = map[int]models.ImageRef{}
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		if !in.IsUpload() {
			continue
		}
		g.Go(func() error {
			key := fmt.Sprintf("images/%s/%s", facilityID, uuid.NewString())
			url, err := c.objects.Put(gctx, key, in.Data, in.ContentType)
			if err != nil {
				return apperrors.CollaboratorUnavailable("object_store", err)
			}
			mu.Lock()
			refs[i] = models.ImageRef{Key: key, URL: url}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		keys := make([]string, 0, len(refs))
		for _, ref := range refs {
			keys = append(keys, ref.Key)
		}
		c.scheduleImageDeletion(ctx, keys)
		return nil, err
	}
	return refs, nil
}

// scheduleImageDeletion removes objects in the background. It is only called
// once the facility no longer references them.
func (c *FacilityCatalog) scheduleImageDeletion(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	log := logger.WithContext(ctx)

	c.cleanup.Add(1)
	go func() {
		defer c.cleanup.Done()
		ctx, cancel := context.WithTimeout(context.Background(), imageCleanupTimeout)
		defer cancel()

		for _, key := range keys {
			if err := c.objects.Delete(ctx, key); err != nil {
				metrics.ImageCleanupFailures.Inc()
				log.Warn("Failed to delete orphaned image", "key", key, "error", err)
			}
		}
	}()
}

func (c *FacilityCatalog) reindex(ctx context.Context, f *models.Facility) {
	if c.index == nil {
		return
	}
	if err := c.index.IndexFacility(ctx, f); err != nil {
		logger.WithContext(ctx).Warn("Failed to index facility", "facility_id", f.ID, "error", err)
	}
}

func (c *FacilityCatalog) facilityEvent(f *models.Facility) models.FacilityEvent {
	return models.FacilityEvent{
		EventID:     uuid.NewString(),
		FacilityID:  f.ID,
		AffiliateID: f.AffiliateID,
		Timestamp:   c.now(),
	}
}

func checkText(name, description string) (string, string, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return "", "", apperrors.Validation("name", "is required")
	}
	if description == "" {
		return "", "", apperrors.Validation("description", "is required")
	}
	return name, description, nil
}

func checkAmounts(amounts map[string]*decimal.Decimal) error {
	for _, field := range sortedKeys(amounts) {
		if v := amounts[field]; v != nil && v.IsNegative() {
			return apperrors.Validation(field, "must not be negative")
		}
	}
	return nil
}

func checkPatch(p *models.FacilityPatch) error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return apperrors.Validation("name", "must not be empty")
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return apperrors.Validation("description", "must not be empty")
	}
	amounts := map[string]*decimal.Decimal{
		"child_entrance_fee": p.ChildEntranceFee,
		"adult_entrance_fee": p.AdultEntranceFee,
	}
	if p.DayTour != nil {
		amounts["day_tour.price"] = p.DayTour.Price
	}
	if p.NightTour != nil {
		amounts["night_tour.price"] = p.NightTour.Price
	}
	return checkAmounts(amounts)
}

// applyPatch returns a copy of f with the fields present in p applied.
func applyPatch(f *models.Facility, p *models.FacilityPatch, uploaded map[int]models.ImageRef) (*models.Facility, error) {
	next := f.Clone()
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		next.Description = strings.TrimSpace(*p.Description)
	}
	if p.Amenities != nil {
		next.Amenities = normalizeAmenities(*p.Amenities)
	}
	if p.DayTour != nil {
		next.DayTour = p.DayTour.TourPrice()
	}
	if p.NightTour != nil {
		next.NightTour = p.NightTour.TourPrice()
	}
	if p.ChildEntranceFee != nil {
		next.ChildEntranceFee = *p.ChildEntranceFee
	}
	if p.AdultEntranceFee != nil {
		next.AdultEntranceFee = *p.AdultEntranceFee
	}

	if p.Images != nil {
		attached := map[string]models.ImageRef{}
		for _, img := range f.Images {
			attached[img.Key] = img
		}
		images := make([]models.ImageRef, 0, len(*p.Images))
		for i, in := range *p.Images {
			if ref, ok := uploaded[i]; ok {
				images = append(images, ref)
				continue
			}
			ref, ok := attached[in.Key]
			if !ok {
				// detached by a concurrent edit
				return nil, apperrors.Validation(fmt.Sprintf("images[%d].key", i), "does not reference an image of this facility")
			}
			images = append(images, ref)
		}
		if len(images) == 0 || len(images) > maxImages {
			return nil, apperrors.Validation("images", fmt.Sprintf("must contain between 1 and %d item(s)", maxImages))
		}
		next.Images = images
	}
	return next, nil
}

// normalizeAmenities trims entries and drops empty ones, keeping order.
func normalizeAmenities(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func missingKeys(before, after []string) []string {
	keep := make(map[string]bool, len(after))
	for _, k := range after {
		keep[k] = true
	}
	var out []string
	for _, k := range before {
		if !keep[k] {
			out = append(out, k)
		}
	}
	return out
}
