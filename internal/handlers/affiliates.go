package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/models"
)

// RegisterAffiliate - POST /api/affiliates
// Зарегистрировать текущего пользователя как аффилиата
func (h *Handlers) RegisterAffiliate(c *gin.Context) {
	var req models.RegisterAffiliateRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, "register affiliate", err)
		return
	}

	affiliate, err := h.services.Affiliates.Register(c.Request.Context(), caller(c).UserID, req.DisplayName)
	if err != nil {
		respondError(c, "register affiliate", err)
		return
	}

	c.JSON(http.StatusCreated, affiliate)
}

// GetAffiliate - GET /api/affiliates/me
func (h *Handlers) GetAffiliate(c *gin.Context) {
	affiliate, err := h.services.Affiliates.Get(c.Request.Context(), caller(c).UserID)
	if err != nil {
		respondError(c, "get affiliate", err)
		return
	}
	c.JSON(http.StatusOK, affiliate)
}

// RenameAffiliate - PATCH /api/affiliates/me
func (h *Handlers) RenameAffiliate(c *gin.Context) {
	var req models.RenameAffiliateRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, "rename affiliate", err)
		return
	}

	affiliate, err := h.services.Affiliates.Rename(c.Request.Context(), caller(c).UserID, req.DisplayName)
	if err != nil {
		respondError(c, "rename affiliate", err)
		return
	}
	c.JSON(http.StatusOK, affiliate)
}

// GetCounters - GET /api/affiliates/me/counters
// Счетчики дашборда (eventual consistency)
func (h *Handlers) GetCounters(c *gin.Context) {
	counters, err := h.services.Projector.Get(c.Request.Context(), caller(c).UserID)
	if err != nil {
		respondError(c, "get counters", err)
		return
	}
	c.JSON(http.StatusOK, counters)
}

// VerifyCounters - GET /api/affiliates/me/counters/verify
func (h *Handlers) VerifyCounters(c *gin.Context) {
	stored, expected, ok, err := h.services.Projector.Verify(c.Request.Context(), caller(c).UserID)
	if err != nil {
		respondError(c, "verify counters", err)
		return
	}
	c.JSON(http.StatusOK, models.VerifyCountersResponse{Consistent: ok, Stored: stored, Expected: expected})
}

// RebuildCounters - POST /api/affiliates/me/counters/rebuild
func (h *Handlers) RebuildCounters(c *gin.Context) {
	counters, err := h.services.Projector.Rebuild(c.Request.Context(), caller(c).UserID)
	if err != nil {
		respondError(c, "rebuild counters", err)
		return
	}
	c.JSON(http.StatusOK, counters)
}

// ListAudit - GET /api/affiliates/me/audit?from=RFC3339&limit=N
// Журнал действий аффилиата; from включительно
func (h *Handlers) ListAudit(c *gin.Context) {
	var from *time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(c, "list audit entries", apperrors.Validation("from", "must be an RFC 3339 timestamp"))
			return
		}
		from = &t
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		respondError(c, "list audit entries", err)
		return
	}

	entries, err := h.services.Audit.ListEntries(c.Request.Context(), caller(c).UserID, from, limit)
	if err != nil {
		respondError(c, "list audit entries", err)
		return
	}
	c.JSON(http.StatusOK, models.ListAuditResponse{Entries: entries})
}

// GetSubscription - GET /api/affiliates/me/subscription
func (h *Handlers) GetSubscription(c *gin.Context) {
	state, err := h.services.Subscriptions.Get(c.Request.Context(), caller(c).UserID)
	if err != nil {
		respondError(c, "get subscription", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ListAffiliateFacilities - GET /api/affiliates/:id/facilities
// Публичный список активных объектов аффилиата
func (h *Handlers) ListAffiliateFacilities(c *gin.Context) {
	affiliateID := c.Param("id")
	id := caller(c)
	includeInactive := c.Query("includeInactive") == "true" && (id.UserID == affiliateID || id.IsAdmin())

	facilities, err := h.services.Catalog.ListFacilitiesByAffiliate(c.Request.Context(), affiliateID, includeInactive)
	if err != nil {
		respondError(c, "list facilities", err)
		return
	}
	c.JSON(http.StatusOK, models.ListFacilitiesResponse{Facilities: facilities})
}
