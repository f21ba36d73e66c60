// Package invoice формирует счета победителям аукционов.
package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

// PaymentWindow задаёт срок оплаты счёта с момента выставления.
const PaymentWindow = 24 * time.Hour

const referencePrefix = "SAL"

// Reference генерирует уникальную ссылку платежа, содержащую аукцион, время и случайный nonce.
func Reference(auctionID string, now time.Time) string {
	short := strings.ReplaceAll(auctionID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%d-%s", referencePrefix, strings.ToUpper(short), now.UnixMilli(), nonce)
}

// New выставляет счёт текущему лидеру аукциона на сумму его ставки.
func New(a model.Auction, method, currency string, now time.Time) (*model.Payment, error) {
	if !a.HasBidder() {
		return nil, fmt.Errorf("auction %s has no winning bid", a.ID)
	}
	return &model.Payment{
		AuctionID:        a.ID,
		VendorID:         *a.CurrentBidder,
		Amount:           a.CurrentBid.Decimal,
		Currency:         currency,
		PaymentMethod:    method,
		PaymentReference: Reference(a.ID, now),
		Status:           model.PaymentStatusPending,
		PaymentDeadline:  now.Add(PaymentWindow),
		CreatedAt:        now,
	}, nil
}
