package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/neo1415/salvage-management-system-sub002/internal/apperr"
	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

const auctionColumns = `id, case_id, start_time, end_time, original_end_time, extension_count,
	current_bid, current_bidder, minimum_increment, status, watching_count, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanAuction(row pgx.Row) (*model.Auction, error) {
	var (
		a      model.Auction
		status string
	)
	err := row.Scan(
		&a.ID, &a.CaseID, &a.StartTime, &a.EndTime, &a.OriginalEndTime, &a.ExtensionCount,
		&a.CurrentBid, &a.CurrentBidder, &a.MinimumIncrement, &status, &a.WatchingCount,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = model.AuctionStatus(status)
	return &a, nil
}

func lockAuction(ctx context.Context, tx pgx.Tx, id string) (*model.Auction, error) {
	a, err := scanAuction(tx.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: auction %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lock auction: %w", err)
	}
	return a, nil
}

// GetAuction возвращает аукцион по идентификатору.
func (r *PostgresRepository) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	a, err := scanAuction(r.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: auction %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get auction: %w", err)
	}
	return a, nil
}

// BidPlacement содержит принятую ставку и новое состояние аукциона.
type BidPlacement struct {
	Bid     model.Bid
	Auction model.Auction
}

// BidDecider проверяет ставку на заблокированной строке аукциона и возвращает изменения.
type BidDecider func(locked model.Auction) (*BidPlacement, error)

// PlaceBid атомарно проверяет и записывает ставку: строка аукциона блокируется FOR UPDATE,
// ставка вставляется и кэш лидера обновляется в одной транзакции.
func (r *PostgresRepository) PlaceBid(ctx context.Context, auctionID string, decide BidDecider) (*BidPlacement, error) {
	var out *BidPlacement

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		locked, err := lockAuction(ctx, tx, auctionID)
		if err != nil {
			return err
		}

		p, err := decide(*locked)
		if err != nil {
			return err
		}

		b := &p.Bid
		err = tx.QueryRow(ctx,
			`INSERT INTO bids (auction_id, vendor_id, amount, ip_address, device_type, user_agent, otp_verified, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			auctionID, b.VendorID, b.Amount, b.IPAddress, b.DeviceType, b.UserAgent, b.OTPVerified, b.CreatedAt,
		).Scan(&b.ID)
		if err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}

		a := &p.Auction
		_, err = tx.Exec(ctx,
			`UPDATE auctions
			 SET current_bid = $2, current_bidder = $3, end_time = $4, extension_count = $5, status = $6, updated_at = $7
			 WHERE id = $1`,
			auctionID, a.CurrentBid, a.CurrentBidder, a.EndTime, a.ExtensionCount, string(a.Status), b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("update auction: %w", err)
		}
		a.UpdatedAt = b.CreatedAt

		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ListExpiredAuctionIDs возвращает открытые аукционы, текущее время окончания которых прошло.
func (r *PostgresRepository) ListExpiredAuctionIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM auctions
		 WHERE status IN ($1, $2) AND end_time <= $3
		 ORDER BY end_time
		 LIMIT $4`,
		string(model.AuctionStatusActive), string(model.AuctionStatusExtended), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired auctions: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect expired auctions: %w", err)
	}
	return ids, nil
}

// ActivateDueAuctions переводит запланированные аукционы с наступившим началом в активные.
func (r *PostgresRepository) ActivateDueAuctions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE auctions SET status = $1, updated_at = $3
		 WHERE status = $2 AND start_time <= $3 AND end_time > $3
		 RETURNING id`,
		string(model.AuctionStatusActive), string(model.AuctionStatusScheduled), now,
	)
	if err != nil {
		return nil, fmt.Errorf("activate auctions: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect activated auctions: %w", err)
	}
	return ids, nil
}

// ClosureOutcome описывает результат попытки закрыть аукцион.
type ClosureOutcome struct {
	Before        model.Auction
	After         model.Auction
	Payment       *model.Payment
	AlreadyClosed bool
	NotEligible   bool
}

// PaymentBuilder формирует счёт победителю по заблокированной строке аукциона.
type PaymentBuilder func(locked model.Auction) (*model.Payment, error)

// CloseAuction закрывает аукцион и, если есть победитель, создаёт или переиспользует его счёт в той же транзакции.
// Уже закрытый или отменённый аукцион не изменяется. Аукцион, продлённый после выборки, пропускается.
func (r *PostgresRepository) CloseAuction(ctx context.Context, auctionID string, now time.Time, build PaymentBuilder) (*ClosureOutcome, error) {
	var out *ClosureOutcome

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		locked, err := lockAuction(ctx, tx, auctionID)
		if err != nil {
			return err
		}

		res := &ClosureOutcome{Before: *locked, After: *locked}

		if locked.Status.IsFinal() {
			res.AlreadyClosed = true
			out = res
			return nil
		}

		if !locked.Status.IsOpen() || locked.EndTime.After(now) {
			res.NotEligible = true
			out = res
			return nil
		}

		if locked.HasBidder() {
			p, err := winnerPayment(ctx, tx, *locked, build)
			if err != nil {
				return err
			}
			res.Payment = p
		}

		_, err = tx.Exec(ctx,
			`UPDATE auctions SET status = $2, updated_at = $3 WHERE id = $1`,
			auctionID, string(model.AuctionStatusClosed), now,
		)
		if err != nil {
			return fmt.Errorf("close auction: %w", err)
		}

		res.After.Status = model.AuctionStatusClosed
		res.After.UpdatedAt = now
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
