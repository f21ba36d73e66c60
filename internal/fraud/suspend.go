package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/audit"
	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
	"github.com/neo1415/salvage-management-system-sub002/internal/repository"
)

const (
	// DefaultFlagThreshold задаёт число флагов, после которого поставщик приостанавливается.
	DefaultFlagThreshold = 3
	// DefaultSuspensionWindow задаёт срок автоматической приостановки.
	DefaultSuspensionWindow = 30 * 24 * time.Hour

	suspendBatchLimit = 500
)

// SuspendRepository описывает хранилище, используемое при автоприостановке.
type SuspendRepository interface {
	ListVendorsForSuspension(ctx context.Context, threshold, limit int) ([]model.Vendor, error)
	SuspendVendor(ctx context.Context, vendorID string, minFlags int, until time.Time, reason repository.SuspensionReason) (*repository.SuspensionOutcome, error)
}

// Policy задаёт параметры автоприостановки.
type Policy struct {
	FlagThreshold    int
	SuspensionWindow time.Duration
}

// DefaultPolicy возвращает политику по умолчанию: 3 флага, 30 дней.
func DefaultPolicy() Policy {
	return Policy{
		FlagThreshold:    DefaultFlagThreshold,
		SuspensionWindow: DefaultSuspensionWindow,
	}
}

// AutoSuspender приостанавливает поставщиков, набравших порог флагов.
type AutoSuspender struct {
	repo   SuspendRepository
	clock  clock.Clock
	audit  *audit.Recorder
	logger *zap.Logger
	policy Policy
}

// NewAutoSuspender создаёт обработчик автоприостановки.
func NewAutoSuspender(repo SuspendRepository, clk clock.Clock, rec *audit.Recorder, logger *zap.Logger, policy Policy) *AutoSuspender {
	if policy.FlagThreshold <= 0 {
		policy.FlagThreshold = DefaultFlagThreshold
	}
	if policy.SuspensionWindow <= 0 {
		policy.SuspensionWindow = DefaultSuspensionWindow
	}
	return &AutoSuspender{
		repo:   repo,
		clock:  clk,
		audit:  rec,
		logger: logger,
		policy: policy,
	}
}

// SuspensionReason формирует причину приостановки.
func SuspensionReason(flags int) string {
	return fmt.Sprintf("Automatic suspension: %d fraud flags", flags)
}

// Sweep обрабатывает всех подходящих поставщиков. Ошибка по одному поставщику
// учитывается в отчёте и не прерывает обработку остальных.
func (s *AutoSuspender) Sweep(ctx context.Context) (*model.BatchResult, error) {
	vendors, err := s.repo.ListVendorsForSuspension(ctx, s.policy.FlagThreshold, suspendBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list vendors for suspension: %w", err)
	}

	res := model.NewBatchResult()
	for _, v := range vendors {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		err := s.suspend(ctx, v)
		switch {
		case err == nil:
			res.Success()
		case errors.Is(err, repository.ErrVendorNotEligible):
			res.Skip()
		default:
			s.logger.Error("suspend vendor error", zap.Error(err), zap.String("vendorID", v.ID))
			res.Failure(v.ID, err)
		}
	}

	if res.Total > 0 {
		s.logger.Info("fraud suspension sweep finished",
			zap.Int("total", res.Total),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	}

	return res, nil
}

func (s *AutoSuspender) suspend(ctx context.Context, v model.Vendor) error {
	until := s.clock.Now().Add(s.policy.SuspensionWindow)

	out, err := s.repo.SuspendVendor(ctx, v.ID, s.policy.FlagThreshold, until, SuspensionReason)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		Action:     audit.ActionVendorSuspended,
		EntityType: audit.EntityVendor,
		EntityID:   v.ID,
		Before:     vendorState(out.Before),
		After:      vendorState(out.After),
	})

	for _, c := range out.Cancellations {
		after := map[string]any{"current_bid": nil, "current_bidder": nil}
		if c.RevertedBid.Valid {
			after["current_bid"] = c.RevertedBid.Decimal.StringFixed(2)
			after["current_bidder"] = *c.RevertedBidder
		}

		s.audit.Record(ctx, audit.Entry{
			Action:     audit.ActionBidCancelled,
			EntityType: audit.EntityAuction,
			EntityID:   c.AuctionID,
			Before: map[string]any{
				"current_bid":    c.CancelledAmount.StringFixed(2),
				"current_bidder": v.ID,
			},
			After: after,
		})
	}

	s.logger.Info("vendor suspended",
		zap.String("vendorID", v.ID),
		zap.Int("fraudFlags", out.Before.FraudFlags),
		zap.Int("cancelledBids", len(out.Cancellations)),
	)

	return nil
}

func vendorState(v model.Vendor) map[string]any {
	st := map[string]any{
		"status":      string(v.Status),
		"fraud_flags": v.FraudFlags,
	}
	if v.SuspendedUntil != nil {
		st["suspended_until"] = v.SuspendedUntil.UTC()
	}
	if v.SuspensionReason != nil {
		st["suspension_reason"] = *v.SuspensionReason
	}
	return st
}
