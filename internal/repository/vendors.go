package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/neo1415/salvage-management-system-sub002/internal/apperr"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

const vendorColumns = `id, user_id, tier, status, bvn, fraud_flags, suspended_until, suspension_reason, created_at`

func scanVendor(row pgx.Row) (*model.Vendor, error) {
	var (
		v      model.Vendor
		tier   string
		status string
	)
	err := row.Scan(&v.ID, &v.UserID, &tier, &status, &v.BVN, &v.FraudFlags,
		&v.SuspendedUntil, &v.SuspensionReason, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Tier = model.VendorTier(tier)
	v.Status = model.VendorStatus(status)
	return &v, nil
}

// GetVendor возвращает поставщика по идентификатору.
func (r *PostgresRepository) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	v, err := scanVendor(r.pool.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: vendor %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return v, nil
}

// GetUser возвращает контактную запись пользователя.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, full_name, email, phone FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.FullName, &u.Email, &u.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetCase возвращает страховой случай аукциона.
func (r *PostgresRepository) GetCase(ctx context.Context, id string) (*model.SalvageCase, error) {
	var c model.SalvageCase
	err := r.pool.QueryRow(ctx,
		`SELECT id, claim_reference, asset_type, asset_description, location FROM salvage_cases WHERE id = $1`, id,
	).Scan(&c.ID, &c.ClaimReference, &c.AssetType, &c.AssetDescription, &c.Location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: case %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get case: %w", err)
	}
	return &c, nil
}

// IncrementFraudFlags увеличивает счётчик подозрительных ставок поставщика и возвращает новое значение.
func (r *PostgresRepository) IncrementFraudFlags(ctx context.Context, vendorID string) (int, error) {
	var flags int
	err := r.pool.QueryRow(ctx,
		`UPDATE vendors SET fraud_flags = fraud_flags + 1 WHERE id = $1 RETURNING fraud_flags`, vendorID,
	).Scan(&flags)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: vendor %s", apperr.ErrNotFound, vendorID)
		}
		return 0, fmt.Errorf("increment fraud flags: %w", err)
	}
	return flags, nil
}

// VendorsBiddingFromIP возвращает различных поставщиков, уже ставивших на аукцион с этого IP.
func (r *PostgresRepository) VendorsBiddingFromIP(ctx context.Context, auctionID, ip string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT vendor_id FROM bids WHERE auction_id = $1 AND ip_address = $2`,
		auctionID, ip,
	)
	if err != nil {
		return nil, fmt.Errorf("select vendors by ip: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect vendors by ip: %w", err)
	}
	return ids, nil
}

// LatestBid возвращает последнюю ставку на аукцион или nil, если ставок не было.
func (r *PostgresRepository) LatestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	var b model.Bid
	err := r.pool.QueryRow(ctx,
		`SELECT id, auction_id, vendor_id, amount, ip_address, device_type, user_agent, otp_verified, created_at
		 FROM bids WHERE auction_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		auctionID,
	).Scan(&b.ID, &b.AuctionID, &b.VendorID, &b.Amount, &b.IPAddress, &b.DeviceType, &b.UserAgent,
		&b.OTPVerified, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest bid: %w", err)
	}
	return &b, nil
}

// CountIdentityMatches возвращает число учётных записей поставщиков (включая данную),
// у которых совпадает телефон или подтверждённый BVN.
func (r *PostgresRepository) CountIdentityMatches(ctx context.Context, vendorID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT v2.id)
		 FROM vendors v
		 JOIN users u ON u.id = v.user_id
		 JOIN vendors v2 ON TRUE
		 JOIN users u2 ON u2.id = v2.user_id
		 WHERE v.id = $1
		   AND (u2.phone = u.phone OR (v.bvn IS NOT NULL AND v2.bvn = v.bvn))`,
		vendorID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count identity matches: %w", err)
	}
	return n, nil
}

// ListVendorsForSuspension возвращает одобренных поставщиков с числом флагов не меньше threshold.
func (r *PostgresRepository) ListVendorsForSuspension(ctx context.Context, threshold, limit int) ([]model.Vendor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+vendorColumns+` FROM vendors
		 WHERE status = $1 AND fraud_flags >= $2
		 ORDER BY fraud_flags DESC, created_at
		 LIMIT $3`,
		string(model.VendorStatusApproved), threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select vendors for suspension: %w", err)
	}
	defer rows.Close()

	var res []model.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// BidCancellation описывает снятие лидирующей ставки приостановленного поставщика.
type BidCancellation struct {
	AuctionID       string
	CancelledAmount decimal.Decimal
	RevertedBid     decimal.NullDecimal
	RevertedBidder  *string
}

// SuspensionOutcome описывает результат приостановки поставщика.
type SuspensionOutcome struct {
	Before        model.Vendor
	After         model.Vendor
	Cancellations []BidCancellation
}

// SuspensionReason формирует причину приостановки по числу флагов, прочитанному под блокировкой.
type SuspensionReason func(flags int) string

// SuspendVendor приостанавливает поставщика и снимает его лидирующие ставки в одной транзакции.
// Аукцион откатывается к лучшей ставке другого одобренного поставщика, а при её отсутствии к пустому лидеру.
func (r *PostgresRepository) SuspendVendor(ctx context.Context, vendorID string, minFlags int, until time.Time, reason SuspensionReason) (*SuspensionOutcome, error) {
	var out *SuspensionOutcome

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		locked, err := scanVendor(tx.QueryRow(ctx,
			`SELECT `+vendorColumns+` FROM vendors WHERE id = $1 FOR UPDATE`, vendorID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: vendor %s", apperr.ErrNotFound, vendorID)
			}
			return fmt.Errorf("lock vendor: %w", err)
		}

		if locked.Status != model.VendorStatusApproved || locked.FraudFlags < minFlags {
			return fmt.Errorf("%w: %s (status %s, flags %d)", ErrVendorNotEligible, vendorID, locked.Status, locked.FraudFlags)
		}

		text := reason(locked.FraudFlags)

		_, err = tx.Exec(ctx,
			`UPDATE vendors SET status = $2, suspended_until = $3, suspension_reason = $4 WHERE id = $1`,
			vendorID, string(model.VendorStatusSuspended), until, text,
		)
		if err != nil {
			return fmt.Errorf("suspend vendor: %w", err)
		}

		after := *locked
		after.Status = model.VendorStatusSuspended
		after.SuspendedUntil = &until
		after.SuspensionReason = &text

		cancellations, err := cancelLeadingBids(ctx, tx, vendorID)
		if err != nil {
			return err
		}

		out = &SuspensionOutcome{Before: *locked, After: after, Cancellations: cancellations}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func cancelLeadingBids(ctx context.Context, tx pgx.Tx, vendorID string) ([]BidCancellation, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, current_bid FROM auctions
		 WHERE current_bidder = $1 AND status IN ($2, $3)
		 ORDER BY id
		 FOR UPDATE`,
		vendorID, string(model.AuctionStatusActive), string(model.AuctionStatusExtended),
	)
	if err != nil {
		return nil, fmt.Errorf("select leading auctions: %w", err)
	}

	var res []BidCancellation
	for rows.Next() {
		var c BidCancellation
		if err := rows.Scan(&c.AuctionID, &c.CancelledAmount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan leading auction: %w", err)
		}
		res = append(res, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range res {
		c := &res[i]

		bids, statuses, err := auctionBidsWithStatus(ctx, tx, c.AuctionID)
		if err != nil {
			return nil, err
		}

		if b := replacementBid(bids, statuses, vendorID); b != nil {
			bidder := b.VendorID
			c.RevertedBid = decimal.NewNullDecimal(b.Amount)
			c.RevertedBidder = &bidder
		}

		_, err = tx.Exec(ctx,
			`UPDATE auctions SET current_bid = $2, current_bidder = $3, updated_at = now() WHERE id = $1`,
			c.AuctionID, c.RevertedBid, c.RevertedBidder,
		)
		if err != nil {
			return nil, fmt.Errorf("revert auction bid: %w", err)
		}
	}

	return res, nil
}

func auctionBidsWithStatus(ctx context.Context, tx pgx.Tx, auctionID string) ([]model.Bid, map[string]model.VendorStatus, error) {
	rows, err := tx.Query(ctx,
		`SELECT b.id, b.vendor_id, b.amount, b.created_at, v.status
		 FROM bids b
		 JOIN vendors v ON v.id = b.vendor_id
		 WHERE b.auction_id = $1`,
		auctionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("select auction bids: %w", err)
	}
	defer rows.Close()

	var bids []model.Bid
	statuses := make(map[string]model.VendorStatus)
	for rows.Next() {
		var (
			b      model.Bid
			status string
		)
		if err := rows.Scan(&b.ID, &b.VendorID, &b.Amount, &b.CreatedAt, &status); err != nil {
			return nil, nil, fmt.Errorf("scan auction bid: %w", err)
		}
		b.AuctionID = auctionID
		bids = append(bids, b)
		statuses[b.VendorID] = model.VendorStatus(status)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}

	return bids, statuses, nil
}

// replacementBid выбирает ставку, к которой откатывается аукцион после снятия ставок поставщика excluded:
// наибольшую ставку другого одобренного поставщика, при равных суммах более раннюю.
// Возвращает nil, если такой ставки нет.
func replacementBid(bids []model.Bid, statuses map[string]model.VendorStatus, excluded string) *model.Bid {
	var best *model.Bid
	for i := range bids {
		b := &bids[i]
		if b.VendorID == excluded || statuses[b.VendorID] != model.VendorStatusApproved {
			continue
		}
		if best == nil || b.Amount.GreaterThan(best.Amount) ||
			(b.Amount.Equal(best.Amount) && b.CreatedAt.Before(best.CreatedAt)) {
			best = b
		}
	}
	return best
}
