package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pinabook/internal/models"
	"pinabook/internal/validation"
)

// Bookings handlers

// CreateBooking - POST /api/bookings
// Создать бронирование слота (объект, тур, дата)
func (h *Handlers) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, "create booking", err)
		return
	}
	date, err := validation.Date("date", req.Date)
	if err != nil {
		respondError(c, "create booking", err)
		return
	}

	booking, err := h.services.Reservations.RequestBooking(c.Request.Context(), caller(c).UserID, req.FacilityID, req.TourType, date)
	if err != nil {
		respondError(c, "create booking", err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// ListBookings - GET /api/bookings
// Бронирования текущего клиента
func (h *Handlers) ListBookings(c *gin.Context) {
	bookings, err := h.services.Reservations.ListBookingsForCustomer(c.Request.Context(), caller(c).UserID)
	if err != nil {
		respondError(c, "list bookings", err)
		return
	}
	c.JSON(http.StatusOK, models.ListBookingsResponse{Bookings: bookings})
}

// GetBooking - GET /api/bookings/:id
func (h *Handlers) GetBooking(c *gin.Context) {
	booking, err := h.services.Reservations.GetBooking(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		respondError(c, "get booking", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// CancelBooking - PATCH /api/bookings/:id/cancel
// Отменить бронирование (только PENDING, только владелец)
func (h *Handlers) CancelBooking(c *gin.Context) {
	booking, err := h.services.Reservations.CancelBooking(c.Request.Context(), caller(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, "cancel booking", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ConfirmBooking - PATCH /api/bookings/:id/confirm
func (h *Handlers) ConfirmBooking(c *gin.Context) {
	booking, err := h.services.Reservations.ConfirmBooking(c.Request.Context(), caller(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, "confirm booking", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// RejectBooking - PATCH /api/bookings/:id/reject
// Тело с причиной необязательно
func (h *Handlers) RejectBooking(c *gin.Context) {
	var req models.RejectBookingRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			respondError(c, "reject booking", err)
			return
		}
	}

	booking, err := h.services.Reservations.RejectBooking(c.Request.Context(), caller(c).UserID, c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, "reject booking", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ListAffiliateBookings - GET /api/affiliate/bookings?status=PENDING
func (h *Handlers) ListAffiliateBookings(c *gin.Context) {
	var status *models.BookingStatus
	if raw := c.Query("status"); raw != "" {
		s := models.BookingStatus(raw)
		status = &s
	}

	bookings, err := h.services.Reservations.ListBookingsForAffiliate(c.Request.Context(), caller(c).UserID, status)
	if err != nil {
		respondError(c, "list bookings", err)
		return
	}
	c.JSON(http.StatusOK, models.ListBookingsResponse{Bookings: bookings})
}
