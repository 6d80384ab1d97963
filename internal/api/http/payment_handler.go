package http

import (
	"net/http"

	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/service"
)

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required,hexadecimal"`
}

// VerifyPayment is the synchronous checkout callback. It runs the same
// fulfillment gate as the webhook, so whichever arrives second is a duplicate.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	var req verifyPaymentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	fulfilled, err := h.deps.Payments.VerifyAndFulfill(r.Context(), paymentID, req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		code := statusFor(err)
		logger.ErrorContext(r.Context(), "Payment verification failed", "payment_id", paymentID, "status", code, "error", err)
		respondError(w, code, "payment not fulfilled")
		return
	}

	status := service.EventDuplicate
	if fulfilled {
		status = service.EventFulfilled
	}
	respondJSON(w, http.StatusOK, webhookResponse{Status: status})
}
