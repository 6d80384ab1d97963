package http

import (
	"encoding/json"
	"io"
	"net/http"

	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/security"
	"fulfillment-backend-trusted/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

type webhookEnvelope struct {
	Event   string          `json:"event" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type webhookResponse struct {
	Status service.EventOutcome `json:"status"`
}

// GatewayWebhook handles gateway notifications. Anything the gateway could
// fix by redelivering answers 503; everything else is final.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !security.VerifySignature(h.deps.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		logger.WarnContext(r.Context(), "Rejected gateway webhook with bad signature", "remote", r.RemoteAddr)
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(env); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx := r.Context()
	var outcome service.EventOutcome
	switch env.Event {
	case service.EventPaymentCaptured:
		var ev service.PaymentCapturedEvent
		if !h.decodeEvent(w, env.Payload, &ev) {
			return
		}
		outcome, err = h.deps.Events.PaymentCaptured(ctx, ev)
	case service.EventSubscriptionCharged:
		var ev service.SubscriptionChargedEvent
		if !h.decodeEvent(w, env.Payload, &ev) {
			return
		}
		outcome, err = h.deps.Events.SubscriptionCharged(ctx, ev)
	case service.EventPaymentFailed:
		var ev service.PaymentFailedEvent
		if !h.decodeEvent(w, env.Payload, &ev) {
			return
		}
		outcome, err = h.deps.Events.PaymentFailed(ctx, ev)
	default:
		logger.InfoContext(r.Context(), "Ignoring unhandled gateway event", "event", env.Event)
		respondJSON(w, http.StatusOK, webhookResponse{Status: service.EventIgnored})
		return
	}

	if err != nil {
		code := webhookStatus(err)
		logger.ErrorContext(r.Context(), "Gateway event failed", "event", env.Event, "status", code, "error", err)
		respondError(w, code, "event not processed")
		return
	}
	respondJSON(w, http.StatusOK, webhookResponse{Status: outcome})
}

func (h *Handler) decodeEvent(w http.ResponseWriter, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		respondError(w, http.StatusBadRequest, "malformed event payload")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// webhookStatus turns unexpected failures into 503 so the gateway retries.
func webhookStatus(err error) int {
	switch code := statusFor(err); code {
	case http.StatusNotFound, http.StatusUnauthorized:
		return code
	case http.StatusBadRequest, http.StatusConflict:
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}
