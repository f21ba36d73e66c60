package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/bidding"
	"github.com/neo1415/salvage-management-system-sub002/internal/closure"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

type auctionResponse struct {
	ID               string           `json:"id"`
	CaseID           string           `json:"case_id"`
	Status           string           `json:"status"`
	StartTime        string           `json:"start_time"`
	EndTime          string           `json:"end_time"`
	OriginalEndTime  string           `json:"original_end_time"`
	ExtensionCount   int              `json:"extension_count"`
	CurrentBid       *decimal.Decimal `json:"current_bid"`
	CurrentBidder    *string          `json:"current_bidder"`
	MinimumIncrement decimal.Decimal  `json:"minimum_increment"`
	WatchingCount    int              `json:"watching_count"`
}

func newAuctionResponse(a model.Auction) auctionResponse {
	resp := auctionResponse{
		ID:               a.ID,
		CaseID:           a.CaseID,
		Status:           string(a.Status),
		StartTime:        a.StartTime.Format(time.RFC3339),
		EndTime:          a.EndTime.Format(time.RFC3339),
		OriginalEndTime:  a.OriginalEndTime.Format(time.RFC3339),
		ExtensionCount:   a.ExtensionCount,
		CurrentBidder:    a.CurrentBidder,
		MinimumIncrement: a.MinimumIncrement,
		WatchingCount:    a.WatchingCount,
	}
	if a.CurrentBid.Valid {
		bid := a.CurrentBid.Decimal
		resp.CurrentBid = &bid
	}
	return resp
}

type placeBidRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	DeviceType  string          `json:"device_type"`
	OTPVerified bool            `json:"otp_verified"`
}

type bidResponse struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at"`
}

type placeBidResponse struct {
	Bid      bidResponse     `json:"bid"`
	Auction  auctionResponse `json:"auction"`
	Extended bool            `json:"extended"`
}

// PlaceBid принимает ставку текущего поставщика.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req placeBidRequest
	if !h.decode(w, r, &req) {
		return
	}

	auctionID := chi.URLParam(r, "auctionID")
	res, err := h.bidding.PlaceBid(r.Context(), bidding.PlaceBidRequest{
		AuctionID:   auctionID,
		VendorID:    actor.ID,
		Amount:      req.Amount,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		DeviceType:  req.DeviceType,
		OTPVerified: req.OTPVerified,
	})
	if err != nil {
		h.writeError(w, "place bid", err, zap.String("auctionID", auctionID), zap.String("vendorID", actor.ID))
		return
	}

	h.writeJSON(w, http.StatusCreated, placeBidResponse{
		Bid: bidResponse{
			ID:        res.Bid.ID,
			AuctionID: res.Bid.AuctionID,
			Amount:    res.Bid.Amount,
			CreatedAt: res.Bid.CreatedAt.Format(time.RFC3339),
		},
		Auction:  newAuctionResponse(res.Auction),
		Extended: res.Extended,
	})
}

// GetAuction возвращает текущее состояние аукциона.
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	auction, err := h.bidding.GetAuction(r.Context(), auctionID)
	if err != nil {
		h.writeError(w, "get auction", err, zap.String("auctionID", auctionID))
		return
	}

	h.writeJSON(w, http.StatusOK, newAuctionResponse(*auction))
}

type closeResponse struct {
	*closure.Result
	PaymentID        string `json:"payment_id,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	PaymentDeadline  string `json:"payment_deadline,omitempty"`
}

// CloseAuction закрывает аукцион вне расписания свипа.
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	res, err := h.closure.CloseAuction(r.Context(), auctionID)
	if err != nil {
		h.writeError(w, "close auction", err, zap.String("auctionID", auctionID))
		return
	}

	resp := closeResponse{Result: res}
	if p := res.Payment; p != nil {
		resp.PaymentID = p.ID
		resp.PaymentReference = p.PaymentReference
		resp.PaymentDeadline = p.PaymentDeadline.Format(time.RFC3339)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
