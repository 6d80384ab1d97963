package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"fulfillment-backend-trusted/internal/alert"
	httpapi "fulfillment-backend-trusted/internal/api/http"
	"fulfillment-backend-trusted/internal/app"
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository/memory"
	"fulfillment-backend-trusted/internal/security"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

type server struct {
	router *mux.Router
	store  *memory.Store
	svc    *app.Services
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := &config.Config{
		JWT:     config.JWTConfig{Secret: "0123456789abcdef0123456789abcdef", OperatorTokenHours: 1},
		Gateway: config.GatewayConfig{WebhookSecret: webhookSecret},
		Fulfillment: config.FulfillmentConfig{
			LockWaitSeconds: 1,
			LockTTLSeconds:  5,
			Dispatch:        "inline",
		},
	}
	store := memory.NewStore()
	svc, err := app.NewServices(cfg, app.FromMemory(store), alert.LogAlerter{})
	require.NoError(t, err)
	require.NoError(t, store.AddLot(context.Background(), &domain.InventoryLot{Label: "seed", TotalValue: 1_000_000}))

	router := httpapi.NewRouter(httpapi.Dependencies{
		Payments:      svc.Payments,
		Events:        svc.Events,
		Refunds:       svc.Refunds,
		Operator:      svc.Operator,
		Audit:         svc.Audit,
		Tokens:        svc.Tokens,
		WebhookSecret: webhookSecret,
	})
	return &server{router: router, store: store, svc: svc}
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) webhook(t *testing.T, event string, payload any, secret string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"event": event, "payload": payload})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set(httpapi.SignatureHeader, security.Sign(secret, body))
	return s.do(req)
}

func (s *server) operator(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	token, err := s.svc.Tokens.GenerateOperatorToken("op-1", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	return s.do(req)
}

func (s *server) pending(t *testing.T, userID, amount int64, orderID string) *domain.Payment {
	t.Helper()
	p := &domain.Payment{UserID: userID, Amount: amount, Status: domain.PaymentStatusPending, GatewayOrderID: orderID}
	require.NoError(t, s.store.PaymentRepository.Create(context.Background(), p))
	return p
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestGatewayWebhook(t *testing.T) {
	t.Run("FulfilledThenDuplicate", func(t *testing.T) {
		s := newServer(t)
		s.pending(t, 1, 10_000, "order_1")
		payload := map[string]string{"order_id": "order_1", "id": "pay_1"}

		rec := s.webhook(t, "payment.captured", payload, webhookSecret)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "fulfilled", decode(t, rec)["status"])

		rec = s.webhook(t, "payment.captured", payload, webhookSecret)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "duplicate", decode(t, rec)["status"])

		bal, err := s.svc.Wallet.Balance(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(10_000), bal)
	})

	t.Run("BadSignature", func(t *testing.T) {
		s := newServer(t)
		s.pending(t, 1, 10_000, "order_1")
		rec := s.webhook(t, "payment.captured", map[string]string{"order_id": "order_1", "id": "pay_1"}, "wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		s := newServer(t)
		rec := s.webhook(t, "subscription.charged", map[string]any{"subscription_id": "sub_1", "payment_id": "p", "amount": 0}, webhookSecret)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownOrder", func(t *testing.T) {
		s := newServer(t)
		rec := s.webhook(t, "payment.captured", map[string]string{"order_id": "nope", "id": "pay_1"}, webhookSecret)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("UnknownEventIgnored", func(t *testing.T) {
		s := newServer(t)
		rec := s.webhook(t, "refund.processed", map[string]string{"id": "x"}, webhookSecret)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decode(t, rec)["status"])
	})

	t.Run("PaymentFailed", func(t *testing.T) {
		s := newServer(t)
		p := s.pending(t, 1, 10_000, "order_1")
		rec := s.webhook(t, "payment.failed", map[string]string{"order_id": "order_1", "reason": "declined"}, webhookSecret)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "failed", decode(t, rec)["status"])

		stored, err := s.store.PaymentRepository.GetByID(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
	})
}

func TestVerifyPayment(t *testing.T) {
	s := newServer(t)
	p := s.pending(t, 1, 10_000, "order_1")
	path := "/payments/" + itoa(p.ID) + "/verify"

	body := func(sig string) *bytes.Reader {
		b, _ := json.Marshal(map[string]string{
			"gateway_order_id":   "order_1",
			"gateway_payment_id": "pay_1",
			"signature":          sig,
		})
		return bytes.NewReader(b)
	}

	rec := s.do(httptest.NewRequest(http.MethodPost, path, body(security.Sign("other", []byte("x")))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, path, body("not-hex")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sig := security.Sign(webhookSecret, security.PaymentSignaturePayload("order_1", "pay_1"))
	rec = s.do(httptest.NewRequest(http.MethodPost, path, body(sig)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "fulfilled", decode(t, rec)["status"])
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	p := s.pending(t, 1, 10_000, "order_1")
	_, err := s.svc.Gate.Fulfill(context.Background(), p.ID, "pay_1")
	require.NoError(t, err)

	t.Run("RequiresToken", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/admin/sagas", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req := httptest.NewRequest(http.MethodGet, "/admin/sagas", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
	})

	t.Run("ListSagas", func(t *testing.T) {
		rec := s.operator(t, http.MethodGet, "/admin/sagas?status=completed", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		sagas := decode(t, rec)["sagas"].([]any)
		assert.Len(t, sagas, 1)

		rec = s.operator(t, http.MethodGet, "/admin/sagas?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GetSagaNotFound", func(t *testing.T) {
		rec := s.operator(t, http.MethodGet, "/admin/sagas/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ResolveCompletedRefused", func(t *testing.T) {
		sagas, err := s.svc.Operator.List(context.Background(), nil, 0)
		require.NoError(t, err)
		require.Len(t, sagas, 1)
		rec := s.operator(t, http.MethodPost, "/admin/sagas/"+sagas[0].ID+"/resolve", map[string]string{"note": "done"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("AccountIntegrity", func(t *testing.T) {
		acc, err := s.svc.Wallet.Account(context.Background(), 1)
		require.NoError(t, err)
		rec := s.operator(t, http.MethodGet, "/admin/accounts/"+itoa(acc.ID)+"/integrity", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, true, out["valid"])
		assert.Equal(t, float64(10_000), out["recomputed_balance"])
	})

	t.Run("PlatformIntegrity", func(t *testing.T) {
		rec := s.operator(t, http.MethodGet, "/admin/platform/integrity", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["valid"])
	})

	t.Run("Refund", func(t *testing.T) {
		rec := s.operator(t, http.MethodPost, "/admin/refunds/"+itoa(p.ID), map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.operator(t, http.MethodPost, "/admin/refunds/"+itoa(p.ID), map[string]string{"reason": "customer request"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = s.operator(t, http.MethodPost, "/admin/refunds/"+itoa(p.ID), map[string]string{"reason": "again"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("FailPayment", func(t *testing.T) {
		other := s.pending(t, 2, 500, "order_2")
		rec := s.operator(t, http.MethodPost, "/admin/payments/"+itoa(other.ID)+"/fail", map[string]string{"reason": "abandoned"})
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestAdminResumeSaga(t *testing.T) {
	ctx := context.Background()
	s := newServer(t)
	p := s.pending(t, 1, 10_000, "order_1")
	saga := domain.NewSagaExecution("saga-stuck", p.ID, time.Now())
	require.NoError(t, s.store.CommitFulfillment(ctx, domain.FulfillmentCommit{PaymentID: p.ID, PaidAt: time.Now(), Saga: saga}))
	s.store.SetSagaUpdatedAt(saga.ID, time.Now().Add(-48*time.Hour))
	_, err := s.svc.Saga.RecoverStale(ctx, 24*time.Hour)
	require.NoError(t, err)

	rec := s.operator(t, http.MethodPost, "/admin/sagas/saga-stuck/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.SagaStatusCompleted), decode(t, rec)["status"])
	bal, err := s.svc.Wallet.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal)

	rec = s.operator(t, http.MethodPost, "/admin/sagas/saga-stuck/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
