// Package handler содержит HTTP-обработчики API аукционного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/apperr"
	"github.com/neo1415/salvage-management-system-sub002/internal/bidding"
	"github.com/neo1415/salvage-management-system-sub002/internal/closure"
	"github.com/neo1415/salvage-management-system-sub002/internal/middleware"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
	"github.com/neo1415/salvage-management-system-sub002/internal/settlement"
	"github.com/neo1415/salvage-management-system-sub002/internal/settlement/provider"
)

// BiddingService определяет контракт приёма ставок.
type BiddingService interface {
	PlaceBid(ctx context.Context, req bidding.PlaceBidRequest) (*bidding.PlaceBidResult, error)
	GetAuction(ctx context.Context, id string) (*model.Auction, error)
}

// ClosureService определяет контракт закрытия аукционов.
type ClosureService interface {
	CloseAuction(ctx context.Context, auctionID string) (*closure.Result, error)
	SweepExpired(ctx context.Context) (*model.BatchResult, error)
}

// SettlementService определяет контракт расчётов.
type SettlementService interface {
	Provider(name string) (provider.Provider, error)
	Initiate(ctx context.Context, auctionID, vendorID, method string) (*settlement.Initiation, error)
	ProcessWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*settlement.VerificationResult, error)
	VerifyManually(ctx context.Context, paymentID, actorID string) (*settlement.VerificationResult, error)
}

// Suspender определяет контракт свипа автоприостановки.
type Suspender interface {
	Sweep(ctx context.Context) (*model.BatchResult, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services объединяет сервисы, обслуживаемые HTTP API.
type Services struct {
	Bidding    BiddingService
	Closure    ClosureService
	Settlement SettlementService
	Suspender  Suspender
	Health     Pinger
}

// Handler реализует HTTP-обработчики API аукционного сервиса.
type Handler struct {
	bidding        BiddingService
	closure        ClosureService
	settlement     SettlementService
	suspender      Suspender
	health         Pinger
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Services, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		bidding:        s.Bidding,
		closure:        s.Closure,
		settlement:     s.Settlement,
		suspender:      s.Suspender,
		health:         s.Health,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorsResponse struct {
	Errors []string `json:"errors"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// writeError переводит ошибку сервиса в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	if ve, ok := apperr.IsValidation(err); ok {
		h.writeJSON(w, http.StatusUnprocessableEntity, errorsResponse{Errors: ve.Errors})
		return
	}

	var status int
	switch {
	case errors.Is(err, apperr.ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrConsistency):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrProvider):
		status = http.StatusBadGateway
	default:
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		status = http.StatusInternalServerError
	}

	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func actorOrUnauthorized(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

// Health отвечает 200, если хранилище доступно.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
