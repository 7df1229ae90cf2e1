package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"voucherpay/internal/common/api"
	"voucherpay/internal/common/middleware"
	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger"
)

// Handler handles user-facing ledger HTTP requests
type Handler struct {
	service *ledger.Service
	logger  *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the user routes. Every route needs the identity headers.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireIdentity)

	r.Post("/users", h.Register)
	r.Get("/me", h.GetProfile)
	r.Patch("/me", h.UpdateProfile)
	r.Put("/me/currency", h.ChangeCurrency)

	r.Post("/vouchers", h.SendVoucher)
	r.Get("/vouchers/sent", h.ListSentVouchers)
	r.Get("/vouchers/received", h.ListReceivedVouchers)
	r.Post("/vouchers/redeem", h.RedeemByCode)
	r.Get("/vouchers/{id}", h.GetVoucher)
	r.Post("/vouchers/{id}/redeem", h.RedeemVoucher)

	r.Post("/checkout", h.InitializeCheckout)
	r.Get("/checkout/{reference}", h.GetPayment)
	r.Post("/checkout/{reference}/verify", h.VerifyCheckout)

	r.Post("/redemptions", h.RequestRedemption)
	r.Get("/redemptions", h.ListRedemptions)

	r.Get("/gifts/catalog", h.GiftCatalog)
	r.Post("/gifts", h.SendGift)
	r.Get("/gifts/received", h.ListReceivedGifts)

	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications/{id}/read", h.MarkNotificationRead)

	return r
}

func identity(r *http.Request) ledger.Identity {
	id := middleware.GetIdentity(r.Context())
	return ledger.Identity{UserID: id.UserID, Phone: id.Phone}
}

// Register handles POST /users
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req ledger.RegisterRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	profile, err := h.service.RegisterUser(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusCreated, profile)
}

// GetProfile handles GET /me
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), identity(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, profile)
}

// UpdateProfile handles PATCH /me
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ledger.UpdateProfileRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, user)
}

// ChangeCurrencyRequest is the body of PUT /me/currency
type ChangeCurrencyRequest struct {
	Currency money.Currency `json:"currency"`
}

// ChangeCurrency handles PUT /me/currency
func (h *Handler) ChangeCurrency(w http.ResponseWriter, r *http.Request) {
	var req ChangeCurrencyRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	change, err := h.service.ChangeBaseCurrency(r.Context(), identity(r), req.Currency)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, change)
}

// SendVoucher handles POST /vouchers
func (h *Handler) SendVoucher(w http.ResponseWriter, r *http.Request) {
	var req ledger.SendVoucherRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	voucher, err := h.service.SendVoucher(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusCreated, voucher)
}

// ListSentVouchers handles GET /vouchers/sent
func (h *Handler) ListSentVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.service.ListSentVouchers(r.Context(), identity(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, vouchers)
}

// ListReceivedVouchers handles GET /vouchers/received
func (h *Handler) ListReceivedVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.service.ListReceivedVouchers(r.Context(), identity(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, vouchers)
}

// GetVoucher handles GET /vouchers/{id}
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := h.service.GetVoucher(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, voucher)
}

// RedeemVoucher handles POST /vouchers/{id}/redeem
func (h *Handler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RedeemVoucher(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, result)
}

// RedeemByCodeRequest is the body of POST /vouchers/redeem
type RedeemByCodeRequest struct {
	Code string `json:"code"`
}

// RedeemByCode handles POST /vouchers/redeem
func (h *Handler) RedeemByCode(w http.ResponseWriter, r *http.Request) {
	var req RedeemByCodeRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.RedeemVoucherByCode(r.Context(), identity(r), req.Code)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, result)
}

// InitializeCheckout handles POST /checkout
func (h *Handler) InitializeCheckout(w http.ResponseWriter, r *http.Request) {
	var req ledger.CheckoutRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	session, err := h.service.InitializeCheckout(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusCreated, session)
}

// GetPayment handles GET /checkout/{reference}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), identity(r), chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, payment)
}

// VerifyCheckout handles POST /checkout/{reference}/verify
func (h *Handler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.VerifyCheckout(r.Context(), identity(r), chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, result)
}

// RequestRedemption handles POST /redemptions
func (h *Handler) RequestRedemption(w http.ResponseWriter, r *http.Request) {
	var req ledger.RedemptionRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	redemption, err := h.service.RequestRedemption(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusCreated, redemption)
}

// ListRedemptions handles GET /redemptions
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	redemptions, err := h.service.ListMyRedemptions(r.Context(), identity(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, redemptions)
}

// GiftCatalog handles GET /gifts/catalog
func (h *Handler) GiftCatalog(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, h.service.GiftCatalog())
}

// SendGift handles POST /gifts
func (h *Handler) SendGift(w http.ResponseWriter, r *http.Request) {
	var req ledger.MicroGiftRequest
	if err := api.Decode(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	gift, err := h.service.SendMicroGift(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusCreated, gift)
}

// ListReceivedGifts handles GET /gifts/received
func (h *Handler) ListReceivedGifts(w http.ResponseWriter, r *http.Request) {
	gifts, err := h.service.ListReceivedGifts(r.Context(), identity(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, gifts)
}

// ListNotifications handles GET /notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.service.ListNotifications(r.Context(), identity(r), api.GetLimit(r, 50, 100))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, notifications)
}

// MarkNotificationRead handles POST /notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkNotificationRead(r.Context(), identity(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
