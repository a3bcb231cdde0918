package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/models"
)

// CreateFacility - POST /api/facilities
// Создать объект
func (h *Handlers) CreateFacility(c *gin.Context) {
	var draft models.FacilityDraft
	if err := bindJSON(c, &draft); err != nil {
		respondError(c, "create facility", err)
		return
	}

	facility, err := h.services.Catalog.CreateFacility(c.Request.Context(), caller(c).UserID, &draft)
	if err != nil {
		respondError(c, "create facility", err)
		return
	}
	c.JSON(http.StatusCreated, facility)
}

// UpdateFacility - PATCH /api/facilities/:id
// Частичное обновление объекта
func (h *Handlers) UpdateFacility(c *gin.Context) {
	var patch models.FacilityPatch
	if err := bindJSON(c, &patch); err != nil {
		respondError(c, "update facility", err)
		return
	}

	facility, err := h.services.Catalog.UpdateFacility(c.Request.Context(), caller(c).UserID, c.Param("id"), &patch)
	if err != nil {
		respondError(c, "update facility", err)
		return
	}
	c.JSON(http.StatusOK, facility)
}

// SetAvailability - PUT /api/facilities/:id/availability
func (h *Handlers) SetAvailability(c *gin.Context) {
	var req models.SetAvailabilityRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, "set availability", err)
		return
	}

	facility, err := h.services.Catalog.SetAvailability(c.Request.Context(), caller(c).UserID, c.Param("id"), *req.Available)
	if err != nil {
		respondError(c, "set availability", err)
		return
	}
	c.JSON(http.StatusOK, facility)
}

// DeactivateFacility - DELETE /api/facilities/:id
// Мягкое удаление: бронирования остаются доступны
func (h *Handlers) DeactivateFacility(c *gin.Context) {
	facility, err := h.services.Catalog.DeactivateFacility(c.Request.Context(), caller(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, "deactivate facility", err)
		return
	}
	c.JSON(http.StatusOK, facility)
}

// GetFacility - GET /api/facilities/:id
func (h *Handlers) GetFacility(c *gin.Context) {
	facility, err := h.services.Catalog.GetFacility(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get facility", err)
		return
	}
	c.JSON(http.StatusOK, facility)
}

// SearchFacilities - GET /api/facilities?q=&page=&pageSize=
// Поиск среди доступных для бронирования объектов
func (h *Handlers) SearchFacilities(c *gin.Context) {
	var req models.SearchFacilitiesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, "search facilities", apperrors.Validation("query", err.Error()))
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}
	if req.Page < 1 {
		respondError(c, "search facilities", apperrors.Validation("page", "must be >= 1"))
		return
	}
	if req.PageSize < 1 || req.PageSize > 50 {
		respondError(c, "search facilities", apperrors.Validation("pageSize", "must be between 1 and 50"))
		return
	}

	facilities, err := h.services.Catalog.SearchFacilities(c.Request.Context(), req.Query, req.Page, req.PageSize)
	if err != nil {
		respondError(c, "search facilities", err)
		return
	}
	c.JSON(http.StatusOK, models.ListFacilitiesResponse{Facilities: facilities})
}
