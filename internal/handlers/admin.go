package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pinabook/internal/models"
)

// ConfirmPayment - POST /api/admin/subscriptions/:affiliateId/payments
// Подтверждение оплаты от биллинга: статус ACTIVE, цикл продлевается
func (h *Handlers) ConfirmPayment(c *gin.Context) {
	var req models.ConfirmPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, "confirm payment", err)
		return
	}

	state, err := h.services.Subscriptions.ConfirmPayment(c.Request.Context(), c.Param("affiliateId"), req.PaymentID)
	if err != nil {
		respondError(c, "confirm payment", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// EvaluateSubscriptions - POST /api/admin/subscriptions/evaluate
// Внешний тик оценки подписок
func (h *Handlers) EvaluateSubscriptions(c *gin.Context) {
	results, err := h.services.Subscriptions.Evaluate(c.Request.Context(), h.services.Now())
	if err != nil {
		respondError(c, "evaluate subscriptions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": results})
}

// VerifyAllCounters - POST /api/admin/counters/verify
func (h *Handlers) VerifyAllCounters(c *gin.Context) {
	repaired, err := h.services.Projector.VerifyAll(c.Request.Context())
	if err != nil {
		respondError(c, "verify counters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}
