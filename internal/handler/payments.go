package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type initiatePaymentRequest struct {
	AuctionID     string `json:"auction_id"`
	PaymentMethod string `json:"payment_method"`
}

// InitiatePayment выставляет счёт победителю и возвращает ссылку на оплату.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.AuctionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	initiation, err := h.settlement.Initiate(r.Context(), req.AuctionID, actor.ID, req.PaymentMethod)
	if err != nil {
		h.writeError(w, "initiate payment", err, zap.String("auctionID", req.AuctionID), zap.String("vendorID", actor.ID))
		return
	}

	h.writeJSON(w, http.StatusOK, initiation)
}

type verificationResponse struct {
	Outcome      string `json:"outcome"`
	PaymentID    string `json:"payment_id"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	AutoVerified bool   `json:"auto_verified"`
	VerifiedAt   string `json:"verified_at,omitempty"`
	PickupCode   string `json:"pickup_code,omitempty"`
}

// VerifyPayment подтверждает оплату вручную от имени администратора.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	paymentID := chi.URLParam(r, "paymentID")
	res, err := h.settlement.VerifyManually(r.Context(), paymentID, actor.ID)
	if err != nil {
		h.writeError(w, "verify payment", err, zap.String("paymentID", paymentID))
		return
	}

	resp := verificationResponse{
		Outcome:    string(res.Outcome),
		Reference:  res.Reference,
		PickupCode: res.PickupCode,
	}
	if p := res.Payment; p != nil {
		resp.PaymentID = p.ID
		resp.Status = string(p.Status)
		resp.AutoVerified = p.AutoVerified
		if p.VerifiedAt != nil {
			resp.VerifiedAt = p.VerifiedAt.Format(time.RFC3339)
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type webhookResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
}

// Webhook принимает уведомление платёжного провайдера. Тело читается как есть,
// подпись сверяется с сырыми байтами.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")

	p, err := h.settlement.Provider(name)
	if err != nil {
		h.writeError(w, "webhook", err, zap.String("provider", name))
		return
	}

	defer r.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var signature string
	for _, header := range p.SignatureHeader() {
		if signature = r.Header.Get(header); signature != "" {
			break
		}
	}

	res, err := h.settlement.ProcessWebhook(r.Context(), name, payload, signature)
	if err != nil {
		h.writeError(w, "webhook", err, zap.String("provider", name))
		return
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{
		Status:    string(res.Outcome),
		Reference: res.Reference,
	})
}
