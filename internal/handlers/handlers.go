package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pinabook/internal/auth"
	apperrors "pinabook/internal/errors"
	"pinabook/internal/logger"
	"pinabook/internal/middleware"
	"pinabook/internal/models"
	"pinabook/internal/service"
	"pinabook/internal/validation"
)

type Handlers struct {
	services *service.Services
}

func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{services: services}
}

// statusFor maps an error kind to the HTTP status returned to clients
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindUnauthorized:
		return http.StatusUnauthorized
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindSlotConflict, apperrors.KindInvalidTransition, apperrors.KindFacilityUnavailable:
		return http.StatusConflict
	case apperrors.KindSubscriptionBlocked:
		return http.StatusLocked
	case apperrors.KindCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError пишет типизированную ошибку в ответ
func respondError(c *gin.Context, op string, err error) {
	_ = c.Error(err)

	typed, ok := apperrors.As(err)
	if !ok {
		status := http.StatusInternalServerError
		msg := "Failed to " + op
		if ctxErr := c.Request.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			status = http.StatusGatewayTimeout
			msg = "request cancelled"
		}
		logger.WithContext(c.Request.Context()).Error("Failed to "+op, "error", err)
		c.JSON(status, models.ErrorResponse{Error: msg})
		return
	}

	status := statusFor(typed.Kind)
	if status >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("Failed to "+op, "error", err)
	}
	c.JSON(status, models.ErrorResponse{
		Error:  typed.Message,
		Kind:   string(typed.Kind),
		Entity: typed.Entity,
		Field:  typed.Field,
	})
}

// bindJSON decodes the body and runs struct validation.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperrors.Validation("body", err.Error())
	}
	return validation.Struct(v)
}

func caller(c *gin.Context) auth.Identity {
	id, _ := middleware.Identity(c)
	return id
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation(name, "must be an integer")
	}
	return v, nil
}
