package paystack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{SecretKey: "sk_test", BaseURL: srv.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, ok bool, message string, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"status":  ok,
		"message": message,
		"data":    data,
	}))
}

func TestNewClient_RequiresSecret(t *testing.T) {
	_, err := NewClient(Config{}, slog.Default())
	require.Error(t, err)
}

func TestInitializeCharge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body initializeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "payer@example.com", body.Email)
		assert.Equal(t, int64(18778), body.Amount)
		assert.Equal(t, "ZAR", body.Currency)
		assert.Equal(t, "vch_1", body.Reference)
		assert.Equal(t, "voucher", body.Metadata["purpose"])

		writeEnvelope(t, w, http.StatusOK, true, "Authorization URL created", map[string]string{
			"authorization_url": "https://checkout.paystack.com/abc",
			"access_code":       "abc",
			"reference":         "vch_1",
		})
	})

	session, err := c.InitializeCharge(context.Background(), ledger.ChargeRequest{
		Email:     "payer@example.com",
		Amount:    18778,
		Currency:  money.ZAR,
		Reference: "vch_1",
		Metadata:  map[string]string{"purpose": "voucher"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", session.AuthorizationURL)
	assert.Equal(t, "abc", session.AccessCode)
}

func TestVerifyCharge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transaction/verify/vch_1", r.URL.Path)
		writeEnvelope(t, w, http.StatusOK, true, "Verification successful", map[string]any{
			"status":    "success",
			"reference": "vch_1",
			"amount":    18778,
			"currency":  "ZAR",
		})
	})

	v, err := c.VerifyCharge(context.Background(), "vch_1")
	require.NoError(t, err)
	assert.True(t, v.Succeeded())
	assert.Equal(t, int64(18778), v.Amount)
	assert.Equal(t, money.ZAR, v.Currency)
}

func TestCreatePayoutRecipient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transferrecipient", r.URL.Path)
		var body recipientRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "basa", body.Type)
		assert.Equal(t, "Bob", body.Name)
		writeEnvelope(t, w, http.StatusCreated, true, "Transfer recipient created", map[string]string{
			"recipient_code": "RCP_abc",
		})
	})

	code, err := c.CreatePayoutRecipient(context.Background(), ledger.PayoutRecipientRequest{
		Type:          "basa",
		AccountName:   "Bob",
		AccountNumber: "0123456789",
		BankCode:      "632005",
		Currency:      money.ZAR,
	})
	require.NoError(t, err)
	assert.Equal(t, "RCP_abc", code)
}

func TestInitiateTransfer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfer", r.URL.Path)
		var body transferRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "balance", body.Source)
		assert.Equal(t, "RCP_abc", body.Recipient)
		assert.Equal(t, "r1", body.Reference)
		writeEnvelope(t, w, http.StatusOK, true, "Transfer has been queued", map[string]string{
			"transfer_code": "TRF_1",
			"status":        "pending",
			"reference":     "r1",
		})
	})

	res, err := c.InitiateTransfer(context.Background(), ledger.TransferRequest{
		RecipientCode: "RCP_abc",
		Amount:        5000,
		Currency:      money.ZAR,
		Reference:     "r1",
		Source:        "balance",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", res.TransferCode)
	assert.Equal(t, "pending", res.Status)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(t, w, http.StatusBadRequest, false, "Invalid key", nil)
		}},
		{"status false", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(t, w, http.StatusOK, false, "Duplicate reference", nil)
		}},
		{"non json", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.VerifyCharge(context.Background(), "vch_1")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
		})
	}
}
