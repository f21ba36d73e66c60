package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubLookup struct {
	vendors       map[string]*model.Vendor
	ipVendors     []string
	latest        *model.Bid
	identity      int
	vendorLookups int
	identityErr   error
}

func (s *stubLookup) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	s.vendorLookups++
	v, ok := s.vendors[id]
	if !ok {
		return nil, errors.New("vendor not found")
	}
	return v, nil
}

func (s *stubLookup) VendorsBiddingFromIP(ctx context.Context, auctionID, ip string) ([]string, error) {
	return s.ipVendors, nil
}

func (s *stubLookup) LatestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	return s.latest, nil
}

func (s *stubLookup) CountIdentityMatches(ctx context.Context, vendorID string) (int, error) {
	return s.identity, s.identityErr
}

func vendorAged(id string, age time.Duration) *model.Vendor {
	return &model.Vendor{ID: id, Status: model.VendorStatusApproved, CreatedAt: now.Add(-age)}
}

func newTestDetector(t *testing.T, l *stubLookup) *Detector {
	t.Helper()
	d, err := NewDetector(l, clock.NewFixed(now))
	require.NoError(t, err)
	return d
}

func TestEvaluate_SameIP(t *testing.T) {
	l := &stubLookup{
		vendors:   map[string]*model.Vendor{"v2": vendorAged("v2", 30*24*time.Hour)},
		ipVendors: []string{"v1"},
		identity:  1,
	}
	d := newTestDetector(t, l)

	res, err := d.Evaluate(context.Background(), BidContext{AuctionID: "a1", VendorID: "v2", Amount: decimal.NewFromInt(100), IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, res.IsSuspicious)
	assert.Equal(t, []model.FraudPattern{model.FraudPatternSameIP}, res.Patterns)
}

func TestEvaluate_SameVendorSameIPIsClean(t *testing.T) {
	l := &stubLookup{
		vendors:   map[string]*model.Vendor{"v1": vendorAged("v1", 30*24*time.Hour)},
		ipVendors: []string{"v1"},
		latest:    &model.Bid{Amount: decimal.NewFromInt(100_000)},
		identity:  1,
	}
	d := newTestDetector(t, l)

	res, err := d.Evaluate(context.Background(), BidContext{
		AuctionID:   "a1",
		VendorID:    "v1",
		Amount:      decimal.NewFromInt(150_000),
		IPAddress:   "10.0.0.1",
		PreviousBid: decimal.NewNullDecimal(decimal.NewFromInt(100_000)),
	})
	require.NoError(t, err)
	assert.False(t, res.IsSuspicious)
	assert.Empty(t, res.Patterns)
	assert.NotNil(t, res.Patterns)
}

func TestEvaluate_UnusualBidForNewAccount(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		amount   int64
		previous decimal.NullDecimal
		latest   *model.Bid
		want     bool
	}{
		{"new account above 3x", 2 * 24 * time.Hour, 301, decimal.NewNullDecimal(decimal.NewFromInt(100)), nil, true},
		{"new account exactly 3x", 2 * 24 * time.Hour, 300, decimal.NewNullDecimal(decimal.NewFromInt(100)), nil, false},
		{"old account above 3x", 8 * 24 * time.Hour, 1000, decimal.NewNullDecimal(decimal.NewFromInt(100)), nil, false},
		{"new account falls back to latest bid", time.Hour, 1000, decimal.NullDecimal{}, &model.Bid{Amount: decimal.NewFromInt(100)}, true},
		{"new account first bid", time.Hour, 1000, decimal.NullDecimal{}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &stubLookup{
				vendors:  map[string]*model.Vendor{"v1": vendorAged("v1", tt.age)},
				latest:   tt.latest,
				identity: 1,
			}
			d := newTestDetector(t, l)

			res, err := d.Evaluate(context.Background(), BidContext{
				AuctionID:   "a1",
				VendorID:    "v1",
				Amount:      decimal.NewFromInt(tt.amount),
				PreviousBid: tt.previous,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Has(model.FraudPatternUnusualBid))
		})
	}
}

func TestEvaluate_DuplicateIdentity(t *testing.T) {
	l := &stubLookup{
		vendors:  map[string]*model.Vendor{"v1": vendorAged("v1", 30*24*time.Hour)},
		identity: 2,
	}
	d := newTestDetector(t, l)

	res, err := d.Evaluate(context.Background(), BidContext{AuctionID: "a1", VendorID: "v1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, []model.FraudPattern{model.FraudPatternDuplicateIdentity}, res.Patterns)
}

func TestEvaluate_AllPatterns(t *testing.T) {
	l := &stubLookup{
		vendors:   map[string]*model.Vendor{"v1": vendorAged("v1", time.Hour)},
		ipVendors: []string{"v9"},
		identity:  3,
	}
	d := newTestDetector(t, l)

	res, err := d.Evaluate(context.Background(), BidContext{
		AuctionID:   "a1",
		VendorID:    "v1",
		Amount:      decimal.NewFromInt(1000),
		IPAddress:   "10.0.0.1",
		PreviousBid: decimal.NewNullDecimal(decimal.NewFromInt(10)),
	})
	require.NoError(t, err)
	assert.Equal(t, []model.FraudPattern{
		model.FraudPatternSameIP,
		model.FraudPatternUnusualBid,
		model.FraudPatternDuplicateIdentity,
	}, res.Patterns)
}

func TestEvaluate_AccountAgeIsCached(t *testing.T) {
	l := &stubLookup{
		vendors:  map[string]*model.Vendor{"v1": vendorAged("v1", 30*24*time.Hour)},
		identity: 1,
	}
	d := newTestDetector(t, l)

	for i := 0; i < 3; i++ {
		_, err := d.Evaluate(context.Background(), BidContext{AuctionID: "a1", VendorID: "v1", Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, l.vendorLookups)
}

func TestEvaluate_LookupError(t *testing.T) {
	l := &stubLookup{
		vendors:     map[string]*model.Vendor{"v1": vendorAged("v1", 30*24*time.Hour)},
		identityErr: errors.New("boom"),
	}
	d := newTestDetector(t, l)

	_, err := d.Evaluate(context.Background(), BidContext{AuctionID: "a1", VendorID: "v1", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
}
