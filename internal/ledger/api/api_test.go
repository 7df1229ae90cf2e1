package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherpay/internal/common/events"
	"voucherpay/internal/common/middleware"
	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger"
	ledgerapi "voucherpay/internal/ledger/api"
	"voucherpay/internal/ledger/store/memory"
	"voucherpay/internal/notify"
	"voucherpay/internal/providers/paystack"
)

const (
	webhookSecret = "sk_test_webhook"
	adminKey      = "admin-secret"
	alicePhone    = "+27820000001"
	bobPhone      = "+27820000002"
)

type stubGateway struct{}

func (stubGateway) InitializeCharge(_ context.Context, req ledger.ChargeRequest) (*ledger.ChargeSession, error) {
	return &ledger.ChargeSession{AuthorizationURL: "https://checkout.test/" + req.Reference, Reference: req.Reference}, nil
}

func (stubGateway) VerifyCharge(_ context.Context, reference string) (*ledger.ChargeVerification, error) {
	return &ledger.ChargeVerification{Reference: reference, Status: "abandoned"}, nil
}

func (stubGateway) CreatePayoutRecipient(context.Context, ledger.PayoutRecipientRequest) (string, error) {
	return "RCP_1", nil
}

func (stubGateway) InitiateTransfer(context.Context, ledger.TransferRequest) (*ledger.TransferResult, error) {
	return &ledger.TransferResult{TransferCode: "TRF_1", Status: "pending"}, nil
}

type server struct {
	t      *testing.T
	router http.Handler
}

func newServer(t *testing.T) *server {
	return newServerWithLog(t, io.Discard)
}

func newServerWithLog(t *testing.T, logs io.Writer) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(logs, nil))
	st := memory.New()
	svc := ledger.NewService(st, stubGateway{}, notify.NewEmitter(st, events.NopPublisher{}, logger), ledger.Config{
		GatewayCurrency: money.ZAR,
	}, logger)

	r := chi.NewRouter()
	r.Mount("/api/v1", ledgerapi.NewHandler(svc, logger).Routes())
	r.Mount("/api/v1/admin", ledgerapi.NewAdminHandler(svc, logger).Routes(middleware.StaticAPIKey(adminKey, "ops")))
	r.Handle("/webhooks/paystack", ledgerapi.NewWebhookHandler(svc, webhookSecret, logger))
	return &server{t: t, router: r}
}

func (s *server) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func as(id, phone string) map[string]string {
	return map[string]string{middleware.UserIDHeader: id, middleware.UserPhoneHeader: phone}
}

func (s *server) webhook(payload any, secret string) *httptest.ResponseRecorder {
	s.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(s.t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
	req.Header.Set(paystack.SignatureHeader, paystack.Sign(secret, body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var env struct {
		Error apiError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeError(t, rec).Code
}

func chargeSuccess(reference string, amount int64) map[string]any {
	return map[string]any{
		"event": paystack.EventChargeSuccess,
		"data":  map[string]any{"reference": reference, "amount": amount, "currency": "ZAR", "status": "success"},
	}
}

func (s *server) register(id, phone, handle string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/users", map[string]any{"full_name": id, "handle": handle}, as(id, phone))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

// topUp funds the sender balance with a checkout settled by webhook.
func (s *server) topUp(id, phone string, cents int64) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"purpose": "top_up", "amount": cents, "currency": "USD"}, as(id, phone))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var session ledger.CheckoutSession
	decodeData(s.t, rec, &session)

	rec = s.webhook(chargeSuccess(session.Reference, session.Amount), webhookSecret)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVoucherFlowOverHTTP(t *testing.T) {
	s := newServer(t)
	s.register("alice", alicePhone, "alice")
	s.register("bob", bobPhone, "bob")
	s.topUp("alice", alicePhone, 1000)

	rec := s.do(http.MethodGet, "/api/v1/me", nil, as("alice", alicePhone))
	require.Equal(t, http.StatusOK, rec.Code)
	var profile ledger.Profile
	decodeData(t, rec, &profile)
	assert.Equal(t, int64(1000), profile.User.SenderBalance)

	rec = s.do(http.MethodPost, "/api/v1/vouchers", map[string]any{"recipient": "@bob", "amount": 500, "message": "lunch"}, as("alice", alicePhone))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var voucher struct {
		ID     string `json:"id"`
		Code   string `json:"code"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	decodeData(t, rec, &voucher)
	assert.Equal(t, int64(9250), voucher.Amount)
	assert.Equal(t, "delivered", voucher.Status)

	// Only the recipient may redeem.
	rec = s.do(http.MethodPost, "/api/v1/vouchers/"+voucher.ID+"/redeem", nil, as("alice", alicePhone))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/vouchers/redeem", map[string]any{"code": voucher.Code}, as("bob", bobPhone))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result ledger.RedeemResult
	decodeData(t, rec, &result)
	assert.Equal(t, int64(9250), result.Wallet.AvailableCredits)

	rec = s.do(http.MethodPost, "/api/v1/vouchers/"+voucher.ID+"/redeem", nil, as("bob", bobPhone))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/vouchers/received", nil, as("bob", bobPhone))
	require.Equal(t, http.StatusOK, rec.Code)
	var received []map[string]any
	decodeData(t, rec, &received)
	assert.Len(t, received, 1)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	s.register("alice", alicePhone, "alice")
	s.register("bob", bobPhone, "bob")

	t.Run("missing identity", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/v1/me", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/v1/vouchers", map[string]any{"recipient": bobPhone, "amount": 100}, as("alice", alicePhone))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "INSUFFICIENT_FUNDS", errorCode(t, rec))
	})

	t.Run("self send", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/v1/vouchers", map[string]any{"recipient": "@alice", "amount": 100}, as("alice", alicePhone))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
	})

	t.Run("field details", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/v1/vouchers", map[string]any{"recipient": "", "amount": 0}, as("alice", alicePhone))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		e := decodeError(t, rec)
		assert.Equal(t, "VALIDATION_ERROR", e.Code)
		assert.Equal(t, "Validation failed", e.Message)
		assert.Equal(t, map[string]string{
			"recipient": "This field is required",
			"amount":    "Must be greater than 0",
		}, e.Details)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/v1/vouchers", map[string]any{"recipient": bobPhone, "amount": 100, "tip": 5}, as("alice", alicePhone))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing voucher", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/v1/vouchers/nope", nil, as("alice", alicePhone))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/v1/users", map[string]any{"full_name": "again"}, as("alice", alicePhone))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestWebhook(t *testing.T) {
	s := newServer(t)
	s.register("alice", alicePhone, "alice")
	s.register("bob", bobPhone, "bob")

	rec := s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"recipient": bobPhone, "amount": 1000, "currency": "USD"}, as("alice", alicePhone))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session ledger.CheckoutSession
	decodeData(t, rec, &session)
	assert.Equal(t, int64(18778), session.Amount)

	t.Run("bad signature", func(t *testing.T) {
		rec := s.webhook(chargeSuccess(session.Reference, session.Amount), "wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/webhooks/paystack", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("delivered twice", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rec := s.webhook(chargeSuccess(session.Reference, session.Amount), webhookSecret)
			require.Equal(t, http.StatusOK, rec.Code)
		}
		rec := s.do(http.MethodGet, "/api/v1/vouchers/received", nil, as("bob", bobPhone))
		var received []map[string]any
		decodeData(t, rec, &received)
		require.Len(t, received, 1)
		assert.EqualValues(t, 18500, received[0]["amount"])
	})

	t.Run("acknowledged without effect", func(t *testing.T) {
		for _, payload := range []map[string]any{
			chargeSuccess("other_product_ref", 5000),
			chargeSuccess(ledger.ReferencePrefix+"unknown", 5000),
			{"event": "subscription.create", "data": map[string]any{"reference": "sub_1"}},
			{"event": paystack.EventTransferSuccess, "data": map[string]any{"reference": "missing"}},
		} {
			rec := s.webhook(payload, webhookSecret)
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		body := []byte(`{"event":`)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
		req.Header.Set(paystack.SignatureHeader, paystack.Sign(webhookSecret, body))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRedemptionLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	s.register("alice", alicePhone, "alice")
	s.register("bob", bobPhone, "bob")
	s.topUp("alice", alicePhone, 1000)

	rec := s.do(http.MethodPost, "/api/v1/vouchers", map[string]any{"recipient": bobPhone, "amount": 500}, as("alice", alicePhone))
	require.Equal(t, http.StatusCreated, rec.Code)
	var voucher struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &voucher)
	rec = s.do(http.MethodPost, "/api/v1/vouchers/"+voucher.ID+"/redeem", nil, as("bob", bobPhone))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/redemptions", map[string]any{
		"amount": 5000,
		"method": "bank_account",
		"bank_details": map[string]any{
			"account_number": "0123456789",
			"bank_code":      "632005",
			"account_name":   "Bob",
		},
	}, as("bob", bobPhone))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var redemption struct {
		ID                string `json:"id"`
		TransferReference string `json:"transfer_reference"`
	}
	decodeData(t, rec, &redemption)

	admin := map[string]string{"Authorization": "Bearer " + adminKey}
	rec = s.do(http.MethodPost, "/api/v1/admin/redemptions/"+redemption.ID+"/approve", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/admin/redemptions/"+redemption.ID+"/approve", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/v1/admin/redemptions/"+redemption.ID+"/transfer", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.webhook(map[string]any{
		"event": paystack.EventTransferFailed,
		"data":  map[string]any{"reference": redemption.TransferReference, "status": "failed", "reason": "account closed"},
	}, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/me", nil, as("bob", bobPhone))
	var profile ledger.Profile
	decodeData(t, rec, &profile)
	assert.Equal(t, int64(9250), profile.Wallet.AvailableCredits)
	assert.Zero(t, profile.Wallet.PendingCredits)
}

func TestAdminRates(t *testing.T) {
	s := newServer(t)
	admin := map[string]string{"Authorization": "ApiKey " + adminKey}

	rec := s.do(http.MethodPut, "/api/v1/admin/rates", map[string]any{"rates": map[string]any{"USD_TO_ZAR": 20}}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/admin/rates", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Overrides map[string]float64 `json:"overrides"`
	}
	decodeData(t, rec, &view)
	assert.Equal(t, 20.0, view.Overrides["USD_TO_ZAR"])

	rec = s.do(http.MethodPut, "/api/v1/admin/rates", map[string]any{"rates": map[string]any{}}, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWebhook_ChargeBelowFeeIsAcknowledged(t *testing.T) {
	s := newServer(t)
	s.register("alice", alicePhone, "alice")

	rec := s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"recipient": bobPhone, "amount": 1000, "currency": "USD"}, as("alice", alicePhone))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session ledger.CheckoutSession
	decodeData(t, rec, &session)

	for i := 0; i < 2; i++ {
		rec = s.webhook(chargeSuccess(session.Reference, session.FeeAmount), webhookSecret)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/v1/checkout/"+session.Reference, nil, as("alice", alicePhone))
	require.Equal(t, http.StatusOK, rec.Code)
	var payment struct {
		Status string `json:"status"`
	}
	decodeData(t, rec, &payment)
	assert.Equal(t, "pending", payment.Status)
}

func TestWebhook_TransferForUnapprovedRedemptionLogsError(t *testing.T) {
	var logs bytes.Buffer
	s := newServerWithLog(t, &logs)
	s.register("alice", alicePhone, "alice")
	s.register("bob", bobPhone, "bob")
	s.topUp("alice", alicePhone, 1000)

	rec := s.do(http.MethodPost, "/api/v1/vouchers", map[string]any{"recipient": bobPhone, "amount": 500}, as("alice", alicePhone))
	require.Equal(t, http.StatusCreated, rec.Code)
	var voucher struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &voucher)
	rec = s.do(http.MethodPost, "/api/v1/vouchers/"+voucher.ID+"/redeem", nil, as("bob", bobPhone))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/redemptions", map[string]any{
		"amount":       5000,
		"method":       "bank_account",
		"bank_details": map[string]any{"account_number": "0123456789", "bank_code": "632005", "account_name": "Bob"},
	}, as("bob", bobPhone))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var redemption struct {
		TransferReference string `json:"transfer_reference"`
	}
	decodeData(t, rec, &redemption)

	logs.Reset()
	rec = s.webhook(map[string]any{
		"event": paystack.EventTransferSuccess,
		"data":  map[string]any{"reference": redemption.TransferReference, "amount": 5000, "currency": "ZAR"},
	}, webhookSecret)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "unexpected state")

	rec = s.do(http.MethodGet, "/api/v1/redemptions", nil, as("bob", bobPhone))
	var mine []struct {
		Status string `json:"status"`
	}
	decodeData(t, rec, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, "redemption_requested", mine[0].Status)
}
