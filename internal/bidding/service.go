package bidding

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/apperr"
	"github.com/neo1415/salvage-management-system-sub002/internal/audit"
	"github.com/neo1415/salvage-management-system-sub002/internal/broadcast"
	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/fraud"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
	"github.com/neo1415/salvage-management-system-sub002/internal/repository"
	"github.com/neo1415/salvage-management-system-sub002/internal/tracing"
)

const broadcastTimeout = 5 * time.Second

// Repository описывает контракт доступа к данным, используемый при приёме ставок.
type Repository interface {
	GetAuction(ctx context.Context, id string) (*model.Auction, error)
	GetVendor(ctx context.Context, id string) (*model.Vendor, error)
	IncrementFraudFlags(ctx context.Context, vendorID string) (int, error)
	PlaceBid(ctx context.Context, auctionID string, decide repository.BidDecider) (*repository.BidPlacement, error)
}

// FraudScreener проверяет ставку до её принятия.
type FraudScreener interface {
	Evaluate(ctx context.Context, bc fraud.BidContext) (model.FraudResult, error)
}

// PlaceBidRequest описывает входящую ставку.
type PlaceBidRequest struct {
	AuctionID   string
	VendorID    string
	Amount      decimal.Decimal
	IPAddress   string
	UserAgent   string
	DeviceType  string
	OTPVerified bool
}

// PlaceBidResult содержит принятую ставку и состояние аукциона после неё.
type PlaceBidResult struct {
	Bid      model.Bid
	Auction  model.Auction
	Extended bool
	Fraud    model.FraudResult
}

// Service принимает ставки.
type Service struct {
	repo        Repository
	screener    FraudScreener
	broadcaster broadcast.Broadcaster
	audit       *audit.Recorder
	clock       clock.Clock
	logger      *zap.Logger
}

// NewService создаёт сервис приёма ставок.
func NewService(
	repo Repository,
	screener FraudScreener,
	broadcaster broadcast.Broadcaster,
	rec *audit.Recorder,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	if broadcaster == nil {
		broadcaster = broadcast.Nop{}
	}
	return &Service{
		repo:        repo,
		screener:    screener,
		broadcaster: broadcaster,
		audit:       rec,
		clock:       clk,
		logger:      logger,
	}
}

// GetAuction возвращает текущее состояние аукциона.
func (s *Service) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	return s.repo.GetAuction(ctx, id)
}

// PlaceBid проверяет ставку на мошенничество, затем атомарно валидирует её на
// заблокированной строке аукциона, записывает и при необходимости продлевает аукцион.
func (s *Service) PlaceBid(ctx context.Context, req PlaceBidRequest) (*PlaceBidResult, error) {
	ctx, span := tracing.Tracer("bidding").Start(ctx, "PlaceBid")
	defer span.End()
	span.SetAttributes(
		attribute.String("auction.id", req.AuctionID),
		attribute.String("vendor.id", req.VendorID),
	)

	vendor, err := s.repo.GetVendor(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}
	if vendor.Status != model.VendorStatusApproved {
		return nil, apperr.NewValidationError(fmt.Sprintf("Vendor account is not approved (status: %s)", vendor.Status))
	}

	current, err := s.repo.GetAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}

	fraudResult, err := s.screener.Evaluate(ctx, fraud.BidContext{
		AuctionID:   req.AuctionID,
		VendorID:    req.VendorID,
		Amount:      req.Amount,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		PreviousBid: current.CurrentBid,
	})
	if err != nil {
		return nil, fmt.Errorf("fraud screen: %w", err)
	}
	if fraudResult.IsSuspicious {
		s.flagVendor(ctx, req, fraudResult)
	}

	var (
		before    model.Auction
		extension Extension
	)

	placement, err := s.repo.PlaceBid(ctx, req.AuctionID, func(locked model.Auction) (*repository.BidPlacement, error) {
		now := s.clock.Now()
		before = locked

		result := ValidateBid(BidInput{
			Amount:           req.Amount,
			CurrentBid:       locked.CurrentBid,
			MinimumIncrement: locked.MinimumIncrement,
			AuctionStatus:    locked.Status,
			VendorTier:       vendor.Tier,
			OTPVerified:      req.OTPVerified,
		})
		errs := result.Errors
		if locked.Status.IsOpen() && !now.Before(locked.EndTime) {
			errs = append(errs, "Auction has ended")
		}
		if len(errs) > 0 {
			return nil, apperr.NewValidationError(errs...)
		}

		extension = DecideExtension(locked, now)

		after := locked
		after.CurrentBid = decimal.NewNullDecimal(req.Amount)
		bidder := req.VendorID
		after.CurrentBidder = &bidder
		after.EndTime = extension.NewEndTime
		after.ExtensionCount = extension.NewExtensionCount
		after.Status = extension.NewStatus

		return &repository.BidPlacement{
			Bid: model.Bid{
				AuctionID:   req.AuctionID,
				VendorID:    req.VendorID,
				Amount:      req.Amount,
				IPAddress:   req.IPAddress,
				DeviceType:  req.DeviceType,
				UserAgent:   req.UserAgent,
				OTPVerified: req.OTPVerified,
				CreatedAt:   now,
			},
			Auction: after,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:    req.VendorID,
		Action:     audit.ActionBidPlaced,
		EntityType: audit.EntityBid,
		EntityID:   placement.Bid.ID,
		Before:     bidState(before),
		After:      bidState(placement.Auction),
	})

	if extension.Extended {
		s.onExtended(ctx, before, placement.Auction)
	}

	return &PlaceBidResult{
		Bid:      placement.Bid,
		Auction:  placement.Auction,
		Extended: extension.Extended,
		Fraud:    fraudResult,
	}, nil
}

func (s *Service) flagVendor(ctx context.Context, req PlaceBidRequest, res model.FraudResult) {
	flags, err := s.repo.IncrementFraudFlags(ctx, req.VendorID)
	if err != nil {
		s.logger.Error("increment fraud flags error", zap.Error(err), zap.String("vendorID", req.VendorID))
		return
	}

	s.logger.Warn("suspicious bid",
		zap.String("auctionID", req.AuctionID),
		zap.String("vendorID", req.VendorID),
		zap.Any("patterns", res.Patterns),
		zap.Int("fraudFlags", flags),
	)

	s.audit.Record(ctx, audit.Entry{
		Action:     audit.ActionFraudFlagged,
		EntityType: audit.EntityVendor,
		EntityID:   req.VendorID,
		Before:     map[string]any{"fraud_flags": flags - 1},
		After: map[string]any{
			"fraud_flags": flags,
			"auction_id":  req.AuctionID,
			"patterns":    res.Patterns,
		},
	})
}

func (s *Service) onExtended(ctx context.Context, before, after model.Auction) {
	s.audit.Record(ctx, audit.Entry{
		Action:     audit.ActionAuctionExtended,
		EntityType: audit.EntityAuction,
		EntityID:   after.ID,
		Before: map[string]any{
			"end_time":        before.EndTime,
			"extension_count": before.ExtensionCount,
			"status":          string(before.Status),
		},
		After: map[string]any{
			"end_time":        after.EndTime,
			"extension_count": after.ExtensionCount,
			"status":          string(after.Status),
		},
	})

	s.logger.Info("auction extended",
		zap.String("auctionID", after.ID),
		zap.Time("newEndTime", after.EndTime),
		zap.Int("extensionCount", after.ExtensionCount),
	)

	// Рассылка не должна задерживать ответ на ставку.
	go func(id string, end time.Time) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
		defer cancel()
		if err := s.broadcaster.NotifyAuctionExtended(bctx, id, end); err != nil {
			s.logger.Warn("broadcast extension error", zap.Error(err), zap.String("auctionID", id))
		}
	}(after.ID, after.EndTime)
}

func bidState(a model.Auction) map[string]any {
	st := map[string]any{
		"current_bid":    nil,
		"current_bidder": nil,
		"status":         string(a.Status),
		"end_time":       a.EndTime,
	}
	if a.CurrentBid.Valid {
		st["current_bid"] = a.CurrentBid.Decimal.StringFixed(2)
	}
	if a.CurrentBidder != nil {
		st["current_bidder"] = *a.CurrentBidder
	}
	return st
}
