// Package settlement выставляет счета к оплате и подтверждает оплату
// по вебхукам провайдеров и вручную.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/apperr"
	"github.com/neo1415/salvage-management-system-sub002/internal/audit"
	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/invoice"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
	"github.com/neo1415/salvage-management-system-sub002/internal/notify"
	"github.com/neo1415/salvage-management-system-sub002/internal/repository"
	"github.com/neo1415/salvage-management-system-sub002/internal/settlement/provider"
	"github.com/neo1415/salvage-management-system-sub002/internal/tracing"
)

// DefaultCurrency задаёт валюту расчётов по умолчанию.
const DefaultCurrency = "NGN"

// Repository описывает хранилище, используемое при расчётах.
type Repository interface {
	GetAuction(ctx context.Context, id string) (*model.Auction, error)
	GetVendor(ctx context.Context, id string) (*model.Vendor, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error)
	FindOpenPayment(ctx context.Context, auctionID, vendorID string) (*model.Payment, error)
	SettlePayment(ctx context.Context, paymentID string, s repository.Settlement, check repository.SettlementCheck) (*model.Payment, bool, error)
}

// Options задаёт параметры расчётов.
type Options struct {
	Currency        string
	DefaultMethod   string
	CallbackURL     string
	ProviderTimeout time.Duration
}

// Initiation содержит результат запроса на оплату.
type Initiation struct {
	PaymentID  string          `json:"payment_id"`
	PaymentURL string          `json:"payment_url"`
	Reference  string          `json:"reference"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Method     string          `json:"payment_method"`
	Deadline   time.Time       `json:"deadline"`
}

// Outcome описывает, что произошло с вебхуком.
type Outcome string

// Исходы обработки вебхука.
const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// VerificationResult содержит итог подтверждения оплаты.
type VerificationResult struct {
	Outcome    Outcome
	Reference  string
	Payment    *model.Payment
	PickupCode string
}

// Service выполняет расчёты по счетам.
type Service struct {
	repo      Repository
	providers *provider.Registry
	clock     clock.Clock
	audit     *audit.Recorder
	notifier  notify.Dispatcher
	logger    *zap.Logger
	opts      Options
}

// NewService создаёт сервис расчётов.
func NewService(
	repo Repository,
	providers *provider.Registry,
	clk clock.Clock,
	rec *audit.Recorder,
	notifier notify.Dispatcher,
	logger *zap.Logger,
	opts Options,
) *Service {
	if opts.Currency == "" {
		opts.Currency = DefaultCurrency
	}
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = provider.NamePaystack
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = provider.DefaultTimeout
	}
	return &Service{
		repo:      repo,
		providers: providers,
		clock:     clk,
		audit:     rec,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
	}
}

// Provider возвращает провайдера по имени.
func (s *Service) Provider(name string) (provider.Provider, error) {
	p, err := s.providers.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	return p, nil
}

// PickupCode выводит код выдачи из идентификатора платежа. Преобразование однонаправленное и стабильное.
func PickupCode(paymentID string) string {
	sum := sha256.Sum256([]byte(paymentID))
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	return fmt.Sprintf("PICKUP-%s-%s", h[:4], h[4:8])
}

// Initiate выставляет (или переиспользует) счёт победителю и запрашивает у провайдера страницу оплаты.
func (s *Service) Initiate(ctx context.Context, auctionID, vendorID, method string) (*Initiation, error) {
	ctx, span := tracing.Tracer("settlement").Start(ctx, "Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("auction.id", auctionID), attribute.String("vendor.id", vendorID))

	if method == "" {
		method = s.opts.DefaultMethod
	}
	if _, err := s.providers.Get(method); err != nil {
		return nil, apperr.NewValidationError(fmt.Sprintf("Unsupported payment method: %s", method))
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	var errs []string
	if auction.Status != model.AuctionStatusClosed {
		errs = append(errs, "Auction is not closed yet")
	}
	if !auction.CurrentBid.Valid {
		errs = append(errs, "Auction has no winning bid")
	} else if auction.CurrentBidder == nil || *auction.CurrentBidder != vendorID {
		errs = append(errs, "Only the winning bidder can pay for this auction")
	}
	if len(errs) > 0 {
		return nil, apperr.NewValidationError(errs...)
	}

	payment, err := s.openPayment(ctx, *auction, method)
	if err != nil {
		return nil, err
	}

	p, err := s.providers.Get(payment.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConsistency, err)
	}

	customer := provider.Customer{}
	if vendor, err := s.repo.GetVendor(ctx, vendorID); err == nil {
		if user, err := s.repo.GetUser(ctx, vendor.UserID); err == nil {
			customer = provider.Customer{Email: user.Email, Name: user.FullName, Phone: user.Phone}
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()

	link, err := p.CreateCheckout(cctx, provider.CheckoutRequest{
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Reference:   payment.PaymentReference,
		CallbackURL: s.opts.CallbackURL,
		Customer:    customer,
	})
	if err != nil {
		s.logger.Error("create checkout error",
			zap.Error(err),
			zap.String("provider", p.Name()),
			zap.String("reference", payment.PaymentReference),
		)
		return nil, fmt.Errorf("%w: checkout unavailable", apperr.ErrProvider)
	}

	return &Initiation{
		PaymentID:  payment.ID,
		PaymentURL: link,
		Reference:  payment.PaymentReference,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Method:     payment.PaymentMethod,
		Deadline:   payment.PaymentDeadline,
	}, nil
}

// openPayment возвращает действующий счёт пары аукцион/поставщик или создаёт новый.
func (s *Service) openPayment(ctx context.Context, auction model.Auction, method string) (*model.Payment, error) {
	vendorID := *auction.CurrentBidder

	existing, err := s.repo.FindOpenPayment(ctx, auction.ID, vendorID)
	switch {
	case err == nil:
		return reusable(existing)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	payment, err := invoice.New(auction, method, s.opts.Currency, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		if !errors.Is(err, repository.ErrPaymentExists) {
			return nil, err
		}
		existing, ferr := s.repo.FindOpenPayment(ctx, auction.ID, vendorID)
		if ferr != nil {
			return nil, ferr
		}
		return reusable(existing)
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:    vendorID,
		Action:     audit.ActionPaymentInitiated,
		EntityType: audit.EntityPayment,
		EntityID:   payment.ID,
		After: map[string]any{
			"auction_id":        payment.AuctionID,
			"amount":            payment.Amount.StringFixed(2),
			"status":            string(payment.Status),
			"payment_reference": payment.PaymentReference,
			"payment_deadline":  payment.PaymentDeadline,
		},
	})

	return payment, nil
}

func reusable(p *model.Payment) (*model.Payment, error) {
	switch p.Status {
	case model.PaymentStatusPending:
		return p, nil
	case model.PaymentStatusVerified:
		return nil, apperr.NewValidationError("Payment has already been verified")
	case model.PaymentStatusOverdue:
		return nil, apperr.NewValidationError("Payment deadline has passed")
	default:
		return nil, apperr.NewValidationError(fmt.Sprintf("Payment is %s", p.Status))
	}
}

// ProcessWebhook обрабатывает уведомление провайдера. Подпись проверяется до разбора тела.
// Повторная доставка уже подтверждённого платежа возвращает OutcomeDuplicate без побочных эффектов.
func (s *Service) ProcessWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*VerificationResult, error) {
	ctx, span := tracing.Tracer("settlement").Start(ctx, "ProcessWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("provider", providerName))

	p, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}

	if !p.VerifySignature(payload, signature) {
		s.logger.Warn("webhook signature mismatch", zap.String("provider", providerName))
		return nil, fmt.Errorf("%w: invalid webhook signature", apperr.ErrAuthentication)
	}

	event, err := p.ParseWebhook(payload)
	if err != nil {
		return nil, apperr.NewValidationError("Malformed webhook payload")
	}

	if !event.Completed || !event.Successful {
		s.logger.Info("webhook ignored",
			zap.String("provider", providerName),
			zap.String("event", event.Event),
			zap.String("status", event.Status),
			zap.String("reference", event.Reference),
		)
		return &VerificationResult{Outcome: OutcomeIgnored, Reference: event.Reference}, nil
	}
	span.SetAttributes(attribute.String("payment.reference", event.Reference))

	payment, err := s.repo.GetPaymentByReference(ctx, event.Reference)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.logger.Error("webhook for unknown payment reference",
				zap.String("provider", providerName),
				zap.String("reference", event.Reference),
			)
			return nil, fmt.Errorf("%w: %w", apperr.ErrConsistency, err)
		}
		return nil, err
	}

	if payment.PaymentMethod != p.Name() {
		return nil, s.consistency(payment, "provider mismatch: payment method %s", payment.PaymentMethod)
	}
	if err := s.matchCharge(payment, event.Amount, event.Currency); err != nil {
		return nil, err
	}

	return s.settle(ctx, payment, repository.Settlement{
		VerifiedAt:   s.clock.Now(),
		AutoVerified: true,
	}, event.Amount, event.Currency)
}

// VerifyManually подтверждает оплату по запросу администратора после сверки с провайдером.
func (s *Service) VerifyManually(ctx context.Context, paymentID, actorID string) (*VerificationResult, error) {
	ctx, span := tracing.Tracer("settlement").Start(ctx, "VerifyManually")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status == model.PaymentStatusVerified {
		return &VerificationResult{
			Outcome:    OutcomeDuplicate,
			Reference:  payment.PaymentReference,
			Payment:    payment,
			PickupCode: PickupCode(payment.ID),
		}, nil
	}

	p, err := s.providers.Get(payment.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConsistency, err)
	}

	vctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()

	tx, err := p.VerifyTransaction(vctx, payment.PaymentReference)
	if err != nil {
		s.logger.Error("verify transaction error",
			zap.Error(err),
			zap.String("provider", p.Name()),
			zap.String("reference", payment.PaymentReference),
		)
		return nil, fmt.Errorf("%w: verification unavailable", apperr.ErrProvider)
	}
	if !tx.Successful {
		return nil, apperr.NewValidationError(fmt.Sprintf("Transaction is not successful (status: %s)", tx.Status))
	}
	if err := s.matchCharge(payment, tx.Amount, tx.Currency); err != nil {
		return nil, err
	}

	actor := actorID
	return s.settle(ctx, payment, repository.Settlement{
		VerifiedAt:   s.clock.Now(),
		VerifiedBy:   &actor,
		AutoVerified: false,
	}, tx.Amount, tx.Currency)
}

// settle проводит подтверждение через общий идемпотентный шлюз хранилища.
func (s *Service) settle(ctx context.Context, payment *model.Payment, st repository.Settlement, amount decimal.Decimal, currency string) (*VerificationResult, error) {
	settled, changed, err := s.repo.SettlePayment(ctx, payment.ID, st, func(locked model.Payment) error {
		if locked.Status != model.PaymentStatusPending {
			return s.consistency(&locked, "payment is %s", locked.Status)
		}
		return s.matchCharge(&locked, amount, currency)
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		s.logger.Info("payment already verified",
			zap.String("paymentID", settled.ID),
			zap.String("reference", settled.PaymentReference),
		)
		return &VerificationResult{
			Outcome:    OutcomeDuplicate,
			Reference:  settled.PaymentReference,
			Payment:    settled,
			PickupCode: PickupCode(settled.ID),
		}, nil
	}

	code := PickupCode(settled.ID)

	actor := audit.SystemActor
	if settled.VerifiedBy != nil {
		actor = *settled.VerifiedBy
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:    actor,
		Action:     audit.ActionPaymentVerified,
		EntityType: audit.EntityPayment,
		EntityID:   settled.ID,
		Before:     map[string]any{"status": string(payment.Status)},
		After: map[string]any{
			"status":        string(settled.Status),
			"verified_at":   settled.VerifiedAt,
			"auto_verified": settled.AutoVerified,
		},
	})

	s.logger.Info("payment verified",
		zap.String("paymentID", settled.ID),
		zap.String("reference", settled.PaymentReference),
		zap.Bool("autoVerified", settled.AutoVerified),
	)

	s.notifyPickup(ctx, settled, code)

	return &VerificationResult{
		Outcome:    OutcomeProcessed,
		Reference:  settled.PaymentReference,
		Payment:    settled,
		PickupCode: code,
	}, nil
}

func (s *Service) matchCharge(p *model.Payment, amount decimal.Decimal, currency string) error {
	if !amount.Equal(p.Amount) {
		return s.consistency(p, "amount mismatch: charged %s, invoiced %s", amount.StringFixed(2), p.Amount.StringFixed(2))
	}
	if !strings.EqualFold(currency, s.opts.Currency) || !strings.EqualFold(currency, p.Currency) {
		return s.consistency(p, "currency mismatch: charged %s, expected %s", currency, s.opts.Currency)
	}
	return nil
}

func (s *Service) consistency(p *model.Payment, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	s.logger.Error("settlement consistency error",
		zap.String("paymentID", p.ID),
		zap.String("reference", p.PaymentReference),
		zap.String("detail", msg),
	)
	return fmt.Errorf("%w: %s", apperr.ErrConsistency, msg)
}

func (s *Service) notifyPickup(ctx context.Context, p *model.Payment, code string) {
	vendor, err := s.repo.GetVendor(ctx, p.VendorID)
	if err != nil {
		s.logger.Warn("pickup notification skipped", zap.Error(err), zap.String("paymentID", p.ID))
		return
	}
	user, err := s.repo.GetUser(ctx, vendor.UserID)
	if err != nil {
		s.logger.Warn("pickup notification skipped", zap.Error(err), zap.String("paymentID", p.ID))
		return
	}

	body := fmt.Sprintf(
		"Payment of ₦%s for reference %s is confirmed. Your pickup code is %s.",
		p.Amount.StringFixed(2), p.PaymentReference, code,
	)
	notify.Send(ctx, s.notifier, s.logger, notify.Contact{Phone: user.Phone, Email: user.Email}, "Payment confirmed", body)
}
