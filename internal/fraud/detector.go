// Package fraud реализует правила выявления мошеннических ставок и автоприостановку поставщиков.
package fraud

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

const (
	// NewAccountAge: учётные записи моложе этого возраста считаются новыми.
	NewAccountAge = 7 * 24 * time.Hour
	// SameIPVendorThreshold задаёт число разных поставщиков на одном IP, начиная с которого ставка подозрительна.
	SameIPVendorThreshold = 2
	// IdentityMatchThreshold ограничивает число учётных записей с общим телефоном или BVN.
	IdentityMatchThreshold = 1

	accountCacheSize = 4096
)

// UnusualBidMultiplier ограничивает превышение предыдущей ставки для новой учётной записи.
var UnusualBidMultiplier = decimal.NewFromInt(3)

// Lookup описывает источники данных детектора. Доступ только на чтение.
type Lookup interface {
	GetVendor(ctx context.Context, id string) (*model.Vendor, error)
	VendorsBiddingFromIP(ctx context.Context, auctionID, ip string) ([]string, error)
	LatestBid(ctx context.Context, auctionID string) (*model.Bid, error)
	CountIdentityMatches(ctx context.Context, vendorID string) (int, error)
}

// BidContext описывает ставку-кандидата.
type BidContext struct {
	AuctionID   string
	VendorID    string
	Amount      decimal.Decimal
	IPAddress   string
	UserAgent   string
	PreviousBid decimal.NullDecimal
}

// Detector проверяет ставку по трём независимым правилам.
type Detector struct {
	lookup   Lookup
	clock    clock.Clock
	accounts *lru.Cache
}

// NewDetector создаёт детектор. Дата создания учётной записи неизменна и кэшируется.
func NewDetector(lookup Lookup, clk clock.Clock) (*Detector, error) {
	cache, err := lru.New(accountCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create account cache: %w", err)
	}
	return &Detector{lookup: lookup, clock: clk, accounts: cache}, nil
}

// Evaluate проверяет все правила и возвращает сработавшие шаблоны.
func (d *Detector) Evaluate(ctx context.Context, bc BidContext) (model.FraudResult, error) {
	patterns := make([]model.FraudPattern, 0, 3)

	sameIP, err := d.sameIPBidding(ctx, bc)
	if err != nil {
		return model.FraudResult{}, err
	}
	if sameIP {
		patterns = append(patterns, model.FraudPatternSameIP)
	}

	unusual, err := d.unusualBid(ctx, bc)
	if err != nil {
		return model.FraudResult{}, err
	}
	if unusual {
		patterns = append(patterns, model.FraudPatternUnusualBid)
	}

	duplicate, err := d.duplicateIdentity(ctx, bc.VendorID)
	if err != nil {
		return model.FraudResult{}, err
	}
	if duplicate {
		patterns = append(patterns, model.FraudPatternDuplicateIdentity)
	}

	return model.FraudResult{
		IsSuspicious: len(patterns) > 0,
		Patterns:     patterns,
	}, nil
}

func (d *Detector) sameIPBidding(ctx context.Context, bc BidContext) (bool, error) {
	if bc.IPAddress == "" {
		return false, nil
	}

	vendors, err := d.lookup.VendorsBiddingFromIP(ctx, bc.AuctionID, bc.IPAddress)
	if err != nil {
		return false, fmt.Errorf("same ip check: %w", err)
	}

	distinct := map[string]struct{}{bc.VendorID: {}}
	for _, v := range vendors {
		distinct[v] = struct{}{}
	}
	return len(distinct) >= SameIPVendorThreshold, nil
}

func (d *Detector) unusualBid(ctx context.Context, bc BidContext) (bool, error) {
	created, err := d.accountCreatedAt(ctx, bc.VendorID)
	if err != nil {
		return false, fmt.Errorf("account age check: %w", err)
	}
	if d.clock.Now().Sub(created) >= NewAccountAge {
		return false, nil
	}

	previous := bc.PreviousBid
	if !previous.Valid {
		last, err := d.lookup.LatestBid(ctx, bc.AuctionID)
		if err != nil {
			return false, fmt.Errorf("previous bid check: %w", err)
		}
		if last == nil {
			return false, nil
		}
		previous = decimal.NewNullDecimal(last.Amount)
	}

	if !previous.Decimal.IsPositive() {
		return false, nil
	}

	return bc.Amount.GreaterThan(previous.Decimal.Mul(UnusualBidMultiplier)), nil
}

func (d *Detector) duplicateIdentity(ctx context.Context, vendorID string) (bool, error) {
	n, err := d.lookup.CountIdentityMatches(ctx, vendorID)
	if err != nil {
		return false, fmt.Errorf("identity check: %w", err)
	}
	return n > IdentityMatchThreshold, nil
}

func (d *Detector) accountCreatedAt(ctx context.Context, vendorID string) (time.Time, error) {
	if v, ok := d.accounts.Get(vendorID); ok {
		return v.(time.Time), nil
	}

	vendor, err := d.lookup.GetVendor(ctx, vendorID)
	if err != nil {
		return time.Time{}, err
	}

	d.accounts.Add(vendorID, vendor.CreatedAt)
	return vendor.CreatedAt, nil
}
