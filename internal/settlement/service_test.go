package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/apperr"
	"github.com/neo1415/salvage-management-system-sub002/internal/audit"
	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
	"github.com/neo1415/salvage-management-system-sub002/internal/repository"
	"github.com/neo1415/salvage-management-system-sub002/internal/settlement/provider"
)

const paystackSecret = "sk_test_secret"

var settleTime = time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)

type stubRepo struct {
	mu       sync.Mutex
	auctions map[string]*model.Auction
	payments map[string]*model.Payment
	created  int
}

func newStubRepo() *stubRepo {
	return &stubRepo{auctions: map[string]*model.Auction{}, payments: map[string]*model.Payment{}}
}

func (r *stubRepo) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	if a, ok := r.auctions[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: auction %s", apperr.ErrNotFound, id)
}

func (r *stubRepo) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	return &model.Vendor{ID: id, UserID: "u-" + id}, nil
}

func (r *stubRepo) GetUser(ctx context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, FullName: "Ada Obi", Email: "ada@example.com", Phone: "+2348000000001"}, nil
}

func (r *stubRepo) CreatePayment(ctx context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.AuctionID == p.AuctionID && existing.VendorID == p.VendorID && existing.Status != model.PaymentStatusRejected {
			return repository.ErrPaymentExists
		}
	}
	r.created++
	p.ID = fmt.Sprintf("pay-%d", r.created)
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *stubRepo) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: payment %s", apperr.ErrNotFound, id)
}

func (r *stubRepo) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.PaymentReference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: payment reference %s", apperr.ErrNotFound, reference)
}

func (r *stubRepo) FindOpenPayment(ctx context.Context, auctionID, vendorID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.AuctionID == auctionID && p.VendorID == vendorID && p.Status != model.PaymentStatusRejected {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: open payment", apperr.ErrNotFound)
}

func (r *stubRepo) SettlePayment(ctx context.Context, paymentID string, s repository.Settlement, check repository.SettlementCheck) (*model.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[paymentID]
	if !ok {
		return nil, false, fmt.Errorf("%w: payment %s", apperr.ErrNotFound, paymentID)
	}
	if p.Status == model.PaymentStatusVerified {
		cp := *p
		return &cp, false, nil
	}
	if err := check(*p); err != nil {
		return nil, false, err
	}
	at := s.VerifiedAt
	p.Status = model.PaymentStatusVerified
	p.VerifiedAt = &at
	p.VerifiedBy = s.VerifiedBy
	p.AutoVerified = s.AutoVerified
	cp := *p
	return &cp, true, nil
}

type countingDispatcher struct {
	mu     sync.Mutex
	sms    []string
	emails []string
}

func (d *countingDispatcher) SendSMS(ctx context.Context, to, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sms = append(d.sms, message)
	return nil
}

func (d *countingDispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails = append(d.emails, body)
	return errors.New("mailbox full")
}

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memorySink) LogAction(ctx context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// stubProvider подменяет сетевые вызовы, подпись и разбор берутся у настоящего адаптера.
type stubProvider struct {
	provider.Provider
	tx          *provider.Transaction
	checkoutErr error
	checkouts   int
}

func (s *stubProvider) CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (string, error) {
	s.checkouts++
	if s.checkoutErr != nil {
		return "", s.checkoutErr
	}
	return "https://checkout.example/" + req.Reference, nil
}

func (s *stubProvider) VerifyTransaction(ctx context.Context, reference string) (*provider.Transaction, error) {
	if s.tx == nil {
		return nil, errors.New("unreachable")
	}
	return s.tx, nil
}

type fixture struct {
	repo     *stubRepo
	sink     *memorySink
	notifier *countingDispatcher
	paystack *stubProvider
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newStubRepo(),
		sink:     &memorySink{},
		notifier: &countingDispatcher{},
		paystack: &stubProvider{Provider: provider.NewPaystack(paystackSecret, "", time.Second)},
	}
	flutterwave := &stubProvider{Provider: provider.NewFlutterwave("FLWSECK", "whsec", "", time.Second)}
	logger := zap.NewNop()
	f.svc = NewService(
		f.repo,
		provider.NewRegistry(f.paystack, flutterwave),
		clock.NewFixed(settleTime),
		audit.NewRecorder(f.sink, logger),
		f.notifier,
		logger,
		Options{Currency: "NGN", DefaultMethod: provider.NamePaystack},
	)
	return f
}

func (f *fixture) pendingPayment(amount int64) *model.Payment {
	p := &model.Payment{
		ID:               "pay-100",
		AuctionID:        "a1",
		VendorID:         "v1",
		Amount:           decimal.NewFromInt(amount),
		Currency:         "NGN",
		PaymentMethod:    provider.NamePaystack,
		PaymentReference: "SAL-A1-1717264800000-abc",
		Status:           model.PaymentStatusPending,
		PaymentDeadline:  settleTime.Add(24 * time.Hour),
	}
	f.repo.payments[p.ID] = p
	return p
}

func paystackPayload(reference string, kobo int64, currency, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"charge.success","data":{"reference":%q,"amount":%d,"currency":%q,"status":%q}}`,
		reference, kobo, currency, status,
	))
}

func sign(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(paystackSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestProcessWebhook_ScenarioD(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)
	payload := paystackPayload(p.PaymentReference, 50_000_000, "NGN", "success")

	res, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Regexp(t, regexp.MustCompile(`^PICKUP-[0-9A-F]{4}-[0-9A-F]{4}$`), res.PickupCode)

	stored := f.repo.payments[p.ID]
	require.Equal(t, model.PaymentStatusVerified, stored.Status)
	assert.True(t, stored.AutoVerified)
	assert.Nil(t, stored.VerifiedBy)
	require.NotNil(t, stored.VerifiedAt)
	verifiedAt := *stored.VerifiedAt

	assert.Len(t, f.notifier.sms, 1)
	assert.Contains(t, f.notifier.sms[0], res.PickupCode)
	assert.Len(t, f.sink.entries, 1)

	// Повторная доставка: состояние и побочные эффекты не меняются.
	again, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, again.Outcome)
	assert.Equal(t, verifiedAt, *f.repo.payments[p.ID].VerifiedAt)
	assert.True(t, f.repo.payments[p.ID].AutoVerified)
	assert.Len(t, f.notifier.sms, 1)
	assert.Len(t, f.sink.entries, 1)
}

func TestProcessWebhook_BadSignature(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)
	payload := paystackPayload(p.PaymentReference, 50_000_000, "NGN", "success")

	_, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, "deadbeef")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	assert.Equal(t, model.PaymentStatusPending, f.repo.payments[p.ID].Status)

	// Подпись проверяется до разбора тела.
	_, err = f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, []byte("garbage"), "")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}

func TestProcessWebhook_IgnoredEvents(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)

	payloads := [][]byte{
		[]byte(`{"event":"transfer.success","data":{"reference":"x"}}`),
		paystackPayload(p.PaymentReference, 50_000_000, "NGN", "failed"),
	}
	for _, payload := range payloads {
		res, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, sign(payload))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
	}
	assert.Equal(t, model.PaymentStatusPending, f.repo.payments[p.ID].Status)
}

func TestProcessWebhook_ConsistencyErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload func(ref string) []byte
	}{
		{"unknown reference", func(string) []byte { return paystackPayload("SAL-UNKNOWN", 50_000_000, "NGN", "success") }},
		{"amount in naira instead of kobo", func(ref string) []byte { return paystackPayload(ref, 500_000, "NGN", "success") }},
		{"one kobo short", func(ref string) []byte { return paystackPayload(ref, 49_999_999, "NGN", "success") }},
		{"wrong currency", func(ref string) []byte { return paystackPayload(ref, 50_000_000, "USD", "success") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			p := f.pendingPayment(500_000)
			payload := tt.payload(p.PaymentReference)

			_, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, sign(payload))
			assert.ErrorIs(t, err, apperr.ErrConsistency)
			assert.Equal(t, model.PaymentStatusPending, f.repo.payments[p.ID].Status)
			assert.Empty(t, f.notifier.sms)
		})
	}
}

func TestProcessWebhook_ProviderMismatch(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)
	p.PaymentMethod = provider.NameFlutterwave
	payload := paystackPayload(p.PaymentReference, 50_000_000, "NGN", "success")

	_, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, sign(payload))
	assert.ErrorIs(t, err, apperr.ErrConsistency)
}

func TestProcessWebhook_UnknownProvider(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ProcessWebhook(context.Background(), "stripe", []byte(`{}`), "sig")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProcessWebhook_OverduePaymentIsNotVerified(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)
	p.Status = model.PaymentStatusOverdue
	payload := paystackPayload(p.PaymentReference, 50_000_000, "NGN", "success")

	_, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, sign(payload))
	assert.ErrorIs(t, err, apperr.ErrConsistency)
	assert.Equal(t, model.PaymentStatusOverdue, f.repo.payments[p.ID].Status)
}

func TestProcessWebhook_ConcurrentDeliveriesSettleOnce(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)
	payload := paystackPayload(p.PaymentReference, 50_000_000, "NGN", "success")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ProcessWebhook(context.Background(), provider.NamePaystack, payload, sign(payload))
			if err == nil && res.Outcome == OutcomeProcessed {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, processed)
	assert.Len(t, f.notifier.sms, 1)
}

func TestVerifyManually(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)
	f.paystack.tx = &provider.Transaction{
		Reference:  p.PaymentReference,
		Amount:     decimal.NewFromInt(500_000),
		Currency:   "NGN",
		Status:     "success",
		Successful: true,
	}

	res, err := f.svc.VerifyManually(context.Background(), p.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	stored := f.repo.payments[p.ID]
	assert.Equal(t, model.PaymentStatusVerified, stored.Status)
	assert.False(t, stored.AutoVerified)
	require.NotNil(t, stored.VerifiedBy)
	assert.Equal(t, "admin-1", *stored.VerifiedBy)
	assert.Equal(t, "admin-1", f.sink.entries[0].ActorID)

	again, err := f.svc.VerifyManually(context.Background(), p.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, again.Outcome)
	assert.Equal(t, "admin-1", *f.repo.payments[p.ID].VerifiedBy)
}

func TestVerifyManually_AmountMismatch(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)
	f.paystack.tx = &provider.Transaction{Amount: decimal.NewFromInt(400_000), Currency: "NGN", Status: "success", Successful: true}

	_, err := f.svc.VerifyManually(context.Background(), p.ID, "admin-1")
	assert.ErrorIs(t, err, apperr.ErrConsistency)
	assert.Equal(t, model.PaymentStatusPending, f.repo.payments[p.ID].Status)
}

func TestVerifyManually_ProviderUnavailable(t *testing.T) {
	f := newFixture()
	p := f.pendingPayment(500_000)

	_, err := f.svc.VerifyManually(context.Background(), p.ID, "admin-1")
	assert.ErrorIs(t, err, apperr.ErrProvider)
}

func TestInitiate(t *testing.T) {
	f := newFixture()
	bidder := "v1"
	f.repo.auctions["a1"] = &model.Auction{
		ID:            "a1",
		CurrentBid:    decimal.NewNullDecimal(decimal.NewFromInt(500_000)),
		CurrentBidder: &bidder,
		Status:        model.AuctionStatusClosed,
	}

	first, err := f.svc.Initiate(context.Background(), "a1", "v1", "")
	require.NoError(t, err)
	assert.Equal(t, provider.NamePaystack, first.Method)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(500_000)))
	assert.Equal(t, settleTime.Add(24*time.Hour), first.Deadline)
	assert.Equal(t, "https://checkout.example/"+first.Reference, first.PaymentURL)

	second, err := f.svc.Initiate(context.Background(), "a1", "v1", "")
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, 1, f.repo.created)
	assert.Len(t, f.sink.entries, 1)
}

func TestInitiate_Validation(t *testing.T) {
	f := newFixture()
	bidder := "v1"
	f.repo.auctions["empty"] = &model.Auction{ID: "empty", Status: model.AuctionStatusClosed}
	f.repo.auctions["a1"] = &model.Auction{
		ID:            "a1",
		CurrentBid:    decimal.NewNullDecimal(decimal.NewFromInt(500_000)),
		CurrentBidder: &bidder,
		Status:        model.AuctionStatusClosed,
	}

	_, err := f.svc.Initiate(context.Background(), "empty", "v1", "")
	_, ok := apperr.IsValidation(err)
	assert.True(t, ok, "no winning bid: %v", err)

	_, err = f.svc.Initiate(context.Background(), "a1", "v2", "")
	_, ok = apperr.IsValidation(err)
	assert.True(t, ok, "not the winner: %v", err)

	_, err = f.svc.Initiate(context.Background(), "a1", "v1", "bitcoin")
	_, ok = apperr.IsValidation(err)
	assert.True(t, ok, "unsupported method: %v", err)
}

func TestInitiate_AuctionStillOpen(t *testing.T) {
	for _, status := range []model.AuctionStatus{model.AuctionStatusActive, model.AuctionStatusExtended} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture()
			bidder := "v1"
			f.repo.auctions["a1"] = &model.Auction{
				ID:            "a1",
				CurrentBid:    decimal.NewNullDecimal(decimal.NewFromInt(300_000)),
				CurrentBidder: &bidder,
				Status:        status,
			}

			_, err := f.svc.Initiate(context.Background(), "a1", "v1", "")
			ve, ok := apperr.IsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Contains(t, ve.Errors, "Auction is not closed yet")

			f.repo.auctions["a1"].CurrentBid = decimal.NewNullDecimal(decimal.NewFromInt(400_000))
			_, err = f.svc.Initiate(context.Background(), "a1", "v1", "")
			_, ok = apperr.IsValidation(err)
			assert.True(t, ok)

			assert.Equal(t, 0, f.repo.created)
			assert.Empty(t, f.repo.payments)
			assert.Empty(t, f.sink.entries)
		})
	}
}

func TestInitiate_CheckoutFailure(t *testing.T) {
	f := newFixture()
	f.paystack.checkoutErr = errors.New("503")
	bidder := "v1"
	f.repo.auctions["a1"] = &model.Auction{
		ID:            "a1",
		CurrentBid:    decimal.NewNullDecimal(decimal.NewFromInt(500_000)),
		CurrentBidder: &bidder,
		Status:        model.AuctionStatusClosed,
	}

	_, err := f.svc.Initiate(context.Background(), "a1", "v1", "")
	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.NotContains(t, err.Error(), "503")
}

func TestPickupCode(t *testing.T) {
	a := PickupCode("pay-1")
	assert.Equal(t, a, PickupCode("pay-1"))
	assert.NotEqual(t, a, PickupCode("pay-2"))
	assert.Regexp(t, regexp.MustCompile(`^PICKUP-[0-9A-F]{4}-[0-9A-F]{4}$`), a)
	assert.NotContains(t, a, "pay-1")
}
