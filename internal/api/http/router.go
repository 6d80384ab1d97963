package http

import (
	"net/http"

	"fulfillment-backend-trusted/internal/security"
	"fulfillment-backend-trusted/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services the HTTP surface calls into.
type Dependencies struct {
	Payments      service.PaymentService
	Events        service.GatewayEventService
	Refunds       service.RefundService
	Operator      service.SagaOperatorService
	Audit         service.AuditService
	Tokens        security.TokenManager
	WebhookSecret string
}

type Handler struct {
	deps     Dependencies
	validate *validator.Validate
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps, validate: validator.New()}
}

// NewRouter registers every route. Route names key into
// config.RouteSecurityConfig.
func NewRouter(deps Dependencies) *mux.Router {
	h := NewHandler(deps)

	r := mux.NewRouter()
	r.Use(recoverMiddleware, metricsMiddleware, newAuthMiddleware(deps.Tokens))

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet).Name("health")

	r.HandleFunc("/webhooks/gateway", h.GatewayWebhook).Methods(http.MethodPost).Name("gateway-webhook")
	r.HandleFunc("/payments/{id:[0-9]+}/verify", h.VerifyPayment).Methods(http.MethodPost).Name("payment-verify")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/sagas", h.ListSagas).Methods(http.MethodGet).Name("admin-list-sagas")
	admin.HandleFunc("/sagas/{id}", h.GetSaga).Methods(http.MethodGet).Name("admin-get-saga")
	admin.HandleFunc("/sagas/{id}/resolve", h.ResolveSaga).Methods(http.MethodPost).Name("admin-resolve-saga")
	admin.HandleFunc("/sagas/{id}/compensate", h.CompensateSaga).Methods(http.MethodPost).Name("admin-compensate-saga")
	admin.HandleFunc("/sagas/{id}/resume", h.ResumeSaga).Methods(http.MethodPost).Name("admin-resume-saga")
	admin.HandleFunc("/accounts/{id:[0-9]+}/integrity", h.AccountIntegrity).Methods(http.MethodGet).Name("admin-account-integrity")
	admin.HandleFunc("/platform/integrity", h.PlatformIntegrity).Methods(http.MethodGet).Name("admin-platform-integrity")
	admin.HandleFunc("/refunds/{paymentID:[0-9]+}", h.Refund).Methods(http.MethodPost).Name("admin-refund")
	admin.HandleFunc("/payments/{id:[0-9]+}/fail", h.FailPayment).Methods(http.MethodPost).Name("admin-fail-payment")

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
