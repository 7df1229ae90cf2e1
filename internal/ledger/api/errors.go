package api

import (
	"errors"
	"log/slog"
	"net/http"

	"voucherpay/internal/common/api"
	"voucherpay/internal/common/database"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger"
)

// writeServiceError maps engine errors onto the response envelope. Gateway
// and unexpected failures get a generic message; the detail goes to the log.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientFunds, "Insufficient balance for this amount")
	case errors.Is(err, exchange.ErrCannotConvert):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeCannotConvert, "No exchange rate is configured for this currency pair")
	case errors.Is(err, ledger.ErrSelfSend):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "You cannot send to yourself")
	case errors.Is(err, ledger.ErrRecipientNotFound):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "Recipient not found")
	case errors.Is(err, ledger.ErrValidation):
		api.ValidationError(w, err)
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		api.Conflict(w, "Voucher has already been redeemed")
	case errors.Is(err, ledger.ErrRedemptionInFlight):
		api.Conflict(w, "Finish or cancel your pending withdrawal first")
	case errors.Is(err, ledger.ErrAlreadyRegistered):
		api.Conflict(w, "User is already registered")
	case errors.Is(err, ledger.ErrHandleTaken):
		api.Conflict(w, "Handle is already taken")
	case errors.Is(err, ledger.ErrInvalidState):
		api.Conflict(w, "Operation not allowed in the current state")
	case errors.Is(err, ledger.ErrPaymentNotConfirmed):
		api.WriteError(w, http.StatusConflict, api.ErrCodePaymentRequired, "Payment has not been confirmed")
	case errors.Is(err, ledger.ErrNotRegistered):
		api.Forbidden(w, "Register before using this endpoint")
	case errors.Is(err, ledger.ErrUserInactive):
		api.Forbidden(w, "Account is not active")
	case errors.Is(err, ledger.ErrForbidden):
		api.Forbidden(w, "Not allowed")
	case database.IsNotFound(err):
		api.NotFound(w, "Not found")
	case errors.Is(err, ledger.ErrGateway):
		logger.Error("payment gateway failure", "error", err)
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeServiceUnavail, "Payment service is unavailable, please try again")
	default:
		logger.Error("request failed", "error", err)
		api.InternalError(w, "An unexpected error occurred")
	}
}
