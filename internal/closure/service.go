// Package closure закрывает истёкшие аукционы и выставляет счета победителям.
package closure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/audit"
	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/invoice"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
	"github.com/neo1415/salvage-management-system-sub002/internal/notify"
	"github.com/neo1415/salvage-management-system-sub002/internal/repository"
	"github.com/neo1415/salvage-management-system-sub002/internal/tracing"
)

const sweepBatchLimit = 500

// Repository описывает хранилище, используемое при закрытии аукционов.
type Repository interface {
	ListExpiredAuctionIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ActivateDueAuctions(ctx context.Context, now time.Time) ([]string, error)
	CloseAuction(ctx context.Context, auctionID string, now time.Time, build repository.PaymentBuilder) (*repository.ClosureOutcome, error)
	MarkOverduePayments(ctx context.Context, now time.Time) ([]model.Payment, error)
	GetVendor(ctx context.Context, id string) (*model.Vendor, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetCase(ctx context.Context, id string) (*model.SalvageCase, error)
}

// Options задаёт параметры выставляемых счетов.
type Options struct {
	PaymentMethod string
	Currency      string
}

// Result описывает исход закрытия одного аукциона.
type Result struct {
	AuctionID     string         `json:"auction_id"`
	Status        string         `json:"status"`
	AlreadyClosed bool           `json:"already_closed"`
	Skipped       bool           `json:"skipped"`
	WinnerID      *string        `json:"winner_id"`
	Payment       *model.Payment `json:"-"`
}

// Service закрывает аукционы.
type Service struct {
	repo     Repository
	clock    clock.Clock
	audit    *audit.Recorder
	notifier notify.Dispatcher
	logger   *zap.Logger
	opts     Options
}

// NewService создаёт сервис закрытия.
func NewService(repo Repository, clk clock.Clock, rec *audit.Recorder, notifier notify.Dispatcher, logger *zap.Logger, opts Options) *Service {
	return &Service{
		repo:     repo,
		clock:    clk,
		audit:    rec,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

type winner struct {
	user *model.User
	cs   *model.SalvageCase
}

// CloseAuction закрывает аукцион. Повторное закрытие ничего не меняет и не создаёт счетов.
func (s *Service) CloseAuction(ctx context.Context, auctionID string) (*Result, error) {
	ctx, span := tracing.Tracer("closure").Start(ctx, "CloseAuction")
	defer span.End()
	span.SetAttributes(attribute.String("auction.id", auctionID))

	now := s.clock.Now()
	var w winner

	out, err := s.repo.CloseAuction(ctx, auctionID, now, func(locked model.Auction) (*model.Payment, error) {
		vendor, err := s.repo.GetVendor(ctx, *locked.CurrentBidder)
		if err != nil {
			return nil, fmt.Errorf("winner vendor: %w", err)
		}
		user, err := s.repo.GetUser(ctx, vendor.UserID)
		if err != nil {
			return nil, fmt.Errorf("winner contact: %w", err)
		}
		cs, err := s.repo.GetCase(ctx, locked.CaseID)
		if err != nil {
			return nil, fmt.Errorf("auction case: %w", err)
		}
		w = winner{user: user, cs: cs}

		return invoice.New(locked, s.opts.PaymentMethod, s.opts.Currency, now)
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		AuctionID:     auctionID,
		Status:        string(out.After.Status),
		AlreadyClosed: out.AlreadyClosed,
		Skipped:       out.NotEligible,
		WinnerID:      out.After.CurrentBidder,
		Payment:       out.Payment,
	}
	if out.AlreadyClosed || out.NotEligible {
		return res, nil
	}

	after := auctionState(out.After)
	if out.Payment != nil {
		after["payment_id"] = out.Payment.ID
	}
	s.audit.Record(ctx, audit.Entry{
		Action:     audit.ActionAuctionClosed,
		EntityType: audit.EntityAuction,
		EntityID:   auctionID,
		Before:     auctionState(out.Before),
		After:      after,
	})

	if out.Payment == nil {
		s.logger.Info("auction closed without bids", zap.String("auctionID", auctionID))
		return res, nil
	}

	s.logger.Info("auction closed",
		zap.String("auctionID", auctionID),
		zap.String("winnerID", out.Payment.VendorID),
		zap.String("paymentID", out.Payment.ID),
		zap.String("amount", out.Payment.Amount.StringFixed(2)),
	)

	s.notifyWinner(ctx, w, out.Payment)

	return res, nil
}

func (s *Service) notifyWinner(ctx context.Context, w winner, p *model.Payment) {
	if w.user == nil {
		return
	}
	subject := "You won the auction"
	body := fmt.Sprintf(
		"Hello %s, you won the auction for %s (claim %s). Pay ₦%s by %s using reference %s.",
		w.user.FullName,
		w.cs.AssetDescription,
		w.cs.ClaimReference,
		p.Amount.StringFixed(2),
		p.PaymentDeadline.Format(time.RFC1123),
		p.PaymentReference,
	)
	notify.Send(ctx, s.notifier, s.logger, notify.Contact{Phone: w.user.Phone, Email: w.user.Email}, subject, body)
}

// SweepExpired закрывает все аукционы с истёкшим временем окончания.
// Ошибка по одному аукциону фиксируется в отчёте и не прерывает остальные.
func (s *Service) SweepExpired(ctx context.Context) (*model.BatchResult, error) {
	ids, err := s.repo.ListExpiredAuctionIDs(ctx, s.clock.Now(), sweepBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}

	res := model.NewBatchResult()
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		r, err := s.CloseAuction(ctx, id)
		switch {
		case err != nil:
			s.logger.Error("close auction error", zap.Error(err), zap.String("auctionID", id))
			res.Failure(id, err)
		case r.AlreadyClosed || r.Skipped:
			res.Skip()
		default:
			res.Success()
		}
	}

	if res.Total > 0 {
		s.logger.Info("closure sweep finished",
			zap.Int("total", res.Total),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	}

	return res, nil
}

// ActivateDue открывает запланированные аукционы, время начала которых наступило.
func (s *Service) ActivateDue(ctx context.Context) (int, error) {
	ids, err := s.repo.ActivateDueAuctions(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		s.audit.Record(ctx, audit.Entry{
			Action:     audit.ActionAuctionActivated,
			EntityType: audit.EntityAuction,
			EntityID:   id,
			Before:     map[string]any{"status": string(model.AuctionStatusScheduled)},
			After:      map[string]any{"status": string(model.AuctionStatusActive)},
		})
	}

	if len(ids) > 0 {
		s.logger.Info("auctions activated", zap.Int("count", len(ids)))
	}
	return len(ids), nil
}

// MarkOverdue помечает просроченные неоплаченные счета.
func (s *Service) MarkOverdue(ctx context.Context) (int, error) {
	payments, err := s.repo.MarkOverduePayments(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}

	for _, p := range payments {
		s.audit.Record(ctx, audit.Entry{
			Action:     audit.ActionPaymentOverdue,
			EntityType: audit.EntityPayment,
			EntityID:   p.ID,
			Before:     map[string]any{"status": string(model.PaymentStatusPending)},
			After: map[string]any{
				"status":           string(model.PaymentStatusOverdue),
				"payment_deadline": p.PaymentDeadline,
			},
		})
	}

	if len(payments) > 0 {
		s.logger.Info("payments marked overdue", zap.Int("count", len(payments)))
	}
	return len(payments), nil
}

// Tick выполняет один проход фоновых задач: открытие, закрытие, просрочка.
func (s *Service) Tick(ctx context.Context) error {
	var errs []error

	if _, err := s.ActivateDue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("activate: %w", err))
	}
	if _, err := s.SweepExpired(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if _, err := s.MarkOverdue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("overdue: %w", err))
	}

	return errors.Join(errs...)
}

func auctionState(a model.Auction) map[string]any {
	st := map[string]any{
		"status":          string(a.Status),
		"end_time":        a.EndTime,
		"extension_count": a.ExtensionCount,
		"current_bid":     nil,
		"current_bidder":  nil,
	}
	if a.CurrentBid.Valid {
		st["current_bid"] = a.CurrentBid.Decimal.StringFixed(2)
	}
	if a.CurrentBidder != nil {
		st["current_bidder"] = *a.CurrentBidder
	}
	return st
}
