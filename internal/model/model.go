// Package model содержит доменные сущности аукционного движка.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus описывает состояние аукциона.
type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusExtended  AuctionStatus = "extended"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// IsOpen сообщает, принимает ли аукцион ставки.
func (s AuctionStatus) IsOpen() bool {
	return s == AuctionStatusActive || s == AuctionStatusExtended
}

// IsFinal сообщает, что аукцион закрыт или отменён.
func (s AuctionStatus) IsFinal() bool {
	return s == AuctionStatusClosed || s == AuctionStatusCancelled
}

// Auction описывает аукцион по одному страховому случаю.
type Auction struct {
	ID               string
	CaseID           string
	StartTime        time.Time
	EndTime          time.Time
	OriginalEndTime  time.Time
	ExtensionCount   int
	CurrentBid       decimal.NullDecimal
	CurrentBidder    *string
	MinimumIncrement decimal.Decimal
	Status           AuctionStatus
	WatchingCount    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasBidder сообщает, есть ли у аукциона лидирующая ставка.
func (a *Auction) HasBidder() bool {
	return a.CurrentBidder != nil && a.CurrentBid.Valid
}

// Bid описывает принятую ставку. Записи не изменяются.
type Bid struct {
	ID          string
	AuctionID   string
	VendorID    string
	Amount      decimal.Decimal
	IPAddress   string
	DeviceType  string
	UserAgent   string
	OTPVerified bool
	CreatedAt   time.Time
}

// VendorTier определяет уровень верификации поставщика.
type VendorTier string

const (
	VendorTierBVN  VendorTier = "tier1_bvn"
	VendorTierFull VendorTier = "tier2_full"
)

// VendorStatus описывает статус учётной записи поставщика.
type VendorStatus string

const (
	VendorStatusPending   VendorStatus = "pending"
	VendorStatusApproved  VendorStatus = "approved"
	VendorStatusSuspended VendorStatus = "suspended"
	VendorStatusRejected  VendorStatus = "rejected"
)

// Vendor описывает участника торгов.
type Vendor struct {
	ID               string
	UserID           string
	Tier             VendorTier
	Status           VendorStatus
	BVN              *string
	FraudFlags       int
	SuspendedUntil   *time.Time
	SuspensionReason *string
	CreatedAt        time.Time
}

// User содержит контакты поставщика.
type User struct {
	ID       string
	FullName string
	Email    string
	Phone    string
}

// SalvageCase описывает страховой случай, по которому продаётся актив.
type SalvageCase struct {
	ID               string
	ClaimReference   string
	AssetType        string
	AssetDescription string
	Location         string
}

// PaymentStatus описывает состояние счёта на оплату.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusVerified PaymentStatus = "verified"
	PaymentStatusRejected PaymentStatus = "rejected"
	PaymentStatusOverdue  PaymentStatus = "overdue"
)

// Payment описывает счёт, выставленный победителю аукциона.
type Payment struct {
	ID               string
	AuctionID        string
	VendorID         string
	Amount           decimal.Decimal
	Currency         string
	PaymentMethod    string
	PaymentReference string
	Status           PaymentStatus
	PaymentDeadline  time.Time
	VerifiedAt       *time.Time
	VerifiedBy       *string
	AutoVerified     bool
	CreatedAt        time.Time
}

// FraudPattern обозначает сработавшее правило антифрода.
type FraudPattern string

const (
	FraudPatternSameIP            FraudPattern = "SAME_IP_BIDDING"
	FraudPatternUnusualBid        FraudPattern = "UNUSUAL_BID_PATTERN"
	FraudPatternDuplicateIdentity FraudPattern = "DUPLICATE_IDENTITY"
)

// FraudResult содержит результат проверки ставки на мошенничество.
type FraudResult struct {
	IsSuspicious bool           `json:"is_suspicious"`
	Patterns     []FraudPattern `json:"patterns"`
}

// Has сообщает, содержит ли результат указанный шаблон.
func (r FraudResult) Has(p FraudPattern) bool {
	for _, x := range r.Patterns {
		if x == p {
			return true
		}
	}
	return false
}

// BatchResult содержит итоги пакетной обработки (свипа).
type BatchResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// NewBatchResult создаёт пустой отчёт о пакетной обработке.
func NewBatchResult() *BatchResult {
	return &BatchResult{Errors: make(map[string]string)}
}

// Success учитывает успешно обработанный элемент.
func (b *BatchResult) Success() {
	b.Total++
	b.Succeeded++
}

// Failure учитывает элемент, обработка которого завершилась ошибкой.
func (b *BatchResult) Failure(id string, err error) {
	b.Total++
	b.Failed++
	b.Errors[id] = err.Error()
}

// Skip учитывает элемент, который не потребовал изменений.
func (b *BatchResult) Skip() {
	b.Total++
	b.Skipped++
}
