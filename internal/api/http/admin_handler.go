package http

import (
	"net/http"
	"strconv"
	"strings"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
)

type resolveSagaRequest struct {
	Note string `json:"note" validate:"required,max=2000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

func (h *Handler) ListSagas(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.SagaStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, ok := domain.ParseSagaStatus(strings.TrimSpace(s))
			if !ok {
				respondError(w, http.StatusBadRequest, "unknown saga status: "+s)
				return
			}
			statuses = append(statuses, st)
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sagas, err := h.deps.Operator.List(r.Context(), statuses, limit)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sagas": sagas})
}

func (h *Handler) GetSaga(w http.ResponseWriter, r *http.Request) {
	saga, err := h.deps.Operator.Get(r.Context(), muxVar(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, saga)
}

// ResolveSaga records an operator's manual resolution. It never moves money.
func (h *Handler) ResolveSaga(w http.ResponseWriter, r *http.Request) {
	var req resolveSagaRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	claims, ok := OperatorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "operator identity missing")
		return
	}

	saga, err := h.deps.Operator.Resolve(r.Context(), muxVar(r, "id"), claims.OperatorID, req.Note)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, saga)
}

func (h *Handler) CompensateSaga(w http.ResponseWriter, r *http.Request) {
	saga, err := h.deps.Operator.Compensate(r.Context(), muxVar(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, saga)
}

// ResumeSaga runs a saga that stopped before finishing, skipping the steps it
// already recorded.
func (h *Handler) ResumeSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := muxVar(r, "id")
	saga, err := h.deps.Operator.Resume(r.Context(), sagaID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	if claims, ok := OperatorFromContext(r.Context()); ok {
		logger.InfoContext(r.Context(), "Saga resumed by operator", "saga_id", sagaID, "operator_id", claims.OperatorID, "status", saga.Status)
	}
	respondJSON(w, http.StatusOK, saga)
}

func (h *Handler) AccountIntegrity(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	report, err := h.deps.Audit.AccountIntegrity(r.Context(), accountID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, integrityResponse{IntegrityReport: report, Valid: report.Valid(), Drift: report.Drift()})
}

func (h *Handler) PlatformIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Audit.AuditPlatform(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, integrityResponse{IntegrityReport: report, Valid: report.Valid(), Drift: report.Drift()})
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathInt64(r, "paymentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payment id")
		return
	}
	var req reasonRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	entry, err := h.deps.Refunds.Refund(r.Context(), paymentID, req.Reason)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handler) FailPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payment id")
		return
	}
	var req reasonRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if err := h.deps.Payments.MarkFailed(r.Context(), paymentID, req.Reason); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}
