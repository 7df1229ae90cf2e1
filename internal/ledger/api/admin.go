package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"voucherpay/internal/common/api"
	"voucherpay/internal/common/middleware"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger"
	"voucherpay/internal/ledger/domain"
)

// AdminHandler handles the admin console routes
type AdminHandler struct {
	service *ledger.Service
	logger  *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service *ledger.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// Routes returns the admin routes guarded by auth
func (h *AdminHandler) Routes(auth middleware.APIKeyValidator) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.APIKeyAuth(auth))

	r.Get("/rates", h.GetRates)
	r.Put("/rates", h.UpdateRates)
	r.Get("/fees", h.GetFees)
	r.Put("/fees", h.UpdateFees)

	r.Get("/users", h.ListUsers)
	r.Put("/users/{id}/status", h.SetUserStatus)

	r.Get("/redemptions", h.ListRedemptions)
	r.Post("/redemptions/{id}/approve", h.ApproveRedemption)
	r.Post("/redemptions/{id}/reject", h.RejectRedemption)
	r.Post("/redemptions/{id}/transfer", h.InitiateTransfer)

	r.Post("/broadcast", h.Broadcast)

	return r
}

// GetRates handles GET /rates
func (h *AdminHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetExchangeRates(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, view)
}

// UpdateRatesRequest is the body of PUT /rates
type UpdateRatesRequest struct {
	Rates exchange.Rates `json:"rates"`
}

// UpdateRates handles PUT /rates
func (h *AdminHandler) UpdateRates(w http.ResponseWriter, r *http.Request) {
	var req UpdateRatesRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	view, err := h.service.UpdateExchangeRates(r.Context(), req.Rates)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("admin updated rates", "admin", middleware.GetAdmin(r.Context()))
	api.WriteData(w, http.StatusOK, view)
}

// GetFees handles GET /fees
func (h *AdminHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.service.GetFees(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, fees)
}

// UpdateFees handles PUT /fees
func (h *AdminHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	var req domain.Fees
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	fees, err := h.service.UpdateFees(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, fees)
}

// ListUsers handles GET /users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, users)
}

// SetUserStatusRequest is the body of PUT /users/{id}/status
type SetUserStatusRequest struct {
	Status domain.UserStatus `json:"status"`
}

// SetUserStatus handles PUT /users/{id}/status
func (h *AdminHandler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req SetUserStatusRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	user, err := h.service.SetUserStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, user)
}

// ListRedemptions handles GET /redemptions?status=
func (h *AdminHandler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	status := domain.RedemptionStatus(r.URL.Query().Get("status"))
	redemptions, err := h.service.ListRedemptions(r.Context(), status)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, redemptions)
}

// ApproveRedemption handles POST /redemptions/{id}/approve
func (h *AdminHandler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	redemption, err := h.service.ApproveRedemption(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, redemption)
}

// RejectRedemptionRequest is the body of POST /redemptions/{id}/reject
type RejectRedemptionRequest struct {
	Reason string `json:"reason"`
}

// RejectRedemption handles POST /redemptions/{id}/reject
func (h *AdminHandler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	var req RejectRedemptionRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	redemption, err := h.service.RejectRedemption(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, redemption)
}

// InitiateTransfer handles POST /redemptions/{id}/transfer
func (h *AdminHandler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	redemption, err := h.service.InitiateTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, redemption)
}

// BroadcastResponse reports how many users were notified
type BroadcastResponse struct {
	Recipients int `json:"recipients"`
}

// Broadcast handles POST /broadcast
func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req ledger.BroadcastRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	n, err := h.service.Broadcast(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, BroadcastResponse{Recipients: n})
}
