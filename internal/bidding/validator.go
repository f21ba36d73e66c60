// Package bidding реализует приём ставок: валидацию, автопродление и атомарную запись.
package bidding

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

// TierOneBidCeiling ограничивает ставку для поставщиков с верификацией только по BVN.
var TierOneBidCeiling = decimal.NewFromInt(500_000)

// BidInput содержит всё, что нужно для проверки одной ставки.
type BidInput struct {
	Amount           decimal.Decimal
	CurrentBid       decimal.NullDecimal
	MinimumIncrement decimal.Decimal
	AuctionStatus    model.AuctionStatus
	VendorTier       model.VendorTier
	OTPVerified      bool
}

// ValidationResult содержит итог проверки ставки.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// MinimumAcceptable возвращает минимальную допустимую ставку.
func MinimumAcceptable(current decimal.NullDecimal, increment decimal.Decimal) decimal.Decimal {
	base := decimal.Zero
	if current.Valid {
		base = current.Decimal
	}
	return base.Add(increment)
}

// ValidateBid проверяет ставку по всем правилам и накапливает все нарушения.
func ValidateBid(in BidInput) ValidationResult {
	var errs []string

	minimum := MinimumAcceptable(in.CurrentBid, in.MinimumIncrement)
	if in.Amount.LessThan(minimum) {
		errs = append(errs, fmt.Sprintf("Bid must be at least ₦%s", minimum.StringFixed(2)))
	}

	if !in.AuctionStatus.IsOpen() {
		errs = append(errs, statusMessage(in.AuctionStatus))
	}

	switch in.VendorTier {
	case model.VendorTierFull:
	case model.VendorTierBVN:
		if in.Amount.GreaterThan(TierOneBidCeiling) {
			errs = append(errs, fmt.Sprintf("Bids above ₦%s require Tier 2 verification", TierOneBidCeiling.StringFixed(2)))
		}
	default:
		errs = append(errs, "Vendor tier is not eligible to bid")
	}

	if !in.OTPVerified {
		errs = append(errs, "OTP verification is required to place a bid")
	}

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

func statusMessage(s model.AuctionStatus) string {
	switch s {
	case model.AuctionStatusScheduled:
		return "Auction has not started yet"
	case model.AuctionStatusClosed:
		return "Auction has closed"
	case model.AuctionStatusCancelled:
		return "Auction has been cancelled"
	default:
		return fmt.Sprintf("Auction is not accepting bids (status: %s)", s)
	}
}
