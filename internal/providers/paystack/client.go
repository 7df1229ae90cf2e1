// Package paystack is the card checkout and payout processor adapter.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger"
)

// Config holds Paystack configuration
type Config struct {
	SecretKey string        `envconfig:"PAYSTACK_SECRET_KEY"`
	BaseURL   string        `envconfig:"PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Timeout   time.Duration `envconfig:"PAYSTACK_TIMEOUT" default:"30s"`
}

// APIError is a non-2xx or status=false response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack api error: status=%d message=%s", e.StatusCode, e.Message)
}

// envelope is the shape of every Paystack response
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client implements ledger.PaymentGateway over the Paystack REST API
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ledger.PaymentGateway = (*Client)(nil)

// NewClient creates a new Paystack client
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("paystack secret key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type initializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// InitializeCharge opens a hosted payment page
func (c *Client) InitializeCharge(ctx context.Context, req ledger.ChargeRequest) (*ledger.ChargeSession, error) {
	var resp initializeResponse
	err := c.do(ctx, http.MethodPost, "/transaction/initialize", initializeRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    string(req.Currency),
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("initialize transaction: %w", err)
	}

	c.logger.Info("paystack transaction initialized", "reference", resp.Reference)
	return &ledger.ChargeSession{
		AuthorizationURL: resp.AuthorizationURL,
		AccessCode:       resp.AccessCode,
		Reference:        resp.Reference,
	}, nil
}

type verifyResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// VerifyCharge fetches the processor's view of a charge
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*ledger.ChargeVerification, error) {
	var resp verifyResponse
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, fmt.Errorf("verify transaction: %w", err)
	}
	return &ledger.ChargeVerification{
		Reference: resp.Reference,
		Status:    resp.Status,
		Amount:    resp.Amount,
		Currency:  money.Currency(resp.Currency),
	}, nil
}

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipientResponse struct {
	RecipientCode string `json:"recipient_code"`
}

// CreatePayoutRecipient registers a payout destination and returns its code
func (c *Client) CreatePayoutRecipient(ctx context.Context, req ledger.PayoutRecipientRequest) (string, error) {
	var resp recipientResponse
	err := c.do(ctx, http.MethodPost, "/transferrecipient", recipientRequest{
		Type:          req.Type,
		Name:          req.AccountName,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		Currency:      string(req.Currency),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("create transfer recipient: %w", err)
	}
	if resp.RecipientCode == "" {
		return "", errors.New("create transfer recipient: empty recipient code")
	}
	return resp.RecipientCode, nil
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
}

type transferResponse struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reference    string `json:"reference"`
}

// InitiateTransfer sends a payout. Reference makes retries idempotent on
// the processor side.
func (c *Client) InitiateTransfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferResult, error) {
	var resp transferResponse
	err := c.do(ctx, http.MethodPost, "/transfer", transferRequest{
		Source:    req.Source,
		Amount:    req.Amount,
		Currency:  string(req.Currency),
		Recipient: req.RecipientCode,
		Reason:    req.Reason,
		Reference: req.Reference,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("initiate transfer: %w", err)
	}

	c.logger.Info("paystack transfer initiated",
		"reference", req.Reference,
		"transfer_code", resp.TransferCode,
		"status", resp.Status,
	)
	return &ledger.TransferResult{TransferCode: resp.TransferCode, Status: resp.Status}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if httpResp.StatusCode >= 400 {
			return &APIError{StatusCode: httpResp.StatusCode, Message: string(respBody)}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if httpResp.StatusCode >= 400 || !env.Status {
		return &APIError{StatusCode: httpResp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}
