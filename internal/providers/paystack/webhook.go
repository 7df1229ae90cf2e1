package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"voucherpay/internal/common/money"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

// Webhook event names
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// Sign returns the signature Paystack sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Event is a webhook delivery
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData is the part of a charge or transfer payload the ledger uses.
type EventData struct {
	Reference    string `json:"reference"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	TransferCode string `json:"transfer_code,omitempty"`
	Reason       string `json:"reason,omitempty"`
	// GatewayResponse explains a failed charge or transfer.
	GatewayResponse string `json:"gateway_response,omitempty"`
}

// ParseEvent decodes a webhook body
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}
	if evt.Event == "" {
		return nil, fmt.Errorf("parse webhook: missing event name")
	}
	return &evt, nil
}

// CurrencyCode returns the payload currency, upper-cased.
func (d EventData) CurrencyCode() money.Currency {
	return money.Currency(strings.ToUpper(d.Currency))
}

// FailureReason picks the most descriptive failure text in the payload.
func (d EventData) FailureReason() string {
	if d.GatewayResponse != "" {
		return d.GatewayResponse
	}
	if d.Reason != "" {
		return d.Reason
	}
	return d.Status
}
