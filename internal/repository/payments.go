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

const paymentColumns = `id, auction_id, vendor_id, amount, currency, payment_method, payment_reference,
	status, payment_deadline, verified_at, verified_by, auto_verified, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.AuctionID, &p.VendorID, &p.Amount, &p.Currency, &p.PaymentMethod, &p.PaymentReference,
		&status, &p.PaymentDeadline, &p.VerifiedAt, &p.VerifiedBy, &p.AutoVerified, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

func insertPayment(ctx context.Context, q querier, p *model.Payment) error {
	err := q.QueryRow(ctx,
		`INSERT INTO payments (auction_id, vendor_id, amount, currency, payment_method, payment_reference,
		                       status, payment_deadline, auto_verified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		 RETURNING id`,
		p.AuctionID, p.VendorID, p.Amount, p.Currency, p.PaymentMethod, p.PaymentReference,
		string(p.Status), p.PaymentDeadline, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: auction %s vendor %s", ErrPaymentExists, p.AuctionID, p.VendorID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// CreatePayment сохраняет новый счёт.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	return insertPayment(ctx, r.pool, p)
}

func (r *PostgresRepository) getPaymentWhere(ctx context.Context, where string, args ...any) (*model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetPayment возвращает счёт по идентификатору.
func (r *PostgresRepository) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	p, err := r.getPaymentWhere(ctx, `id = $1`, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: payment %s", apperr.ErrNotFound, id)
	}
	return p, err
}

// GetPaymentByReference возвращает счёт по ссылке платёжного провайдера.
func (r *PostgresRepository) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	p, err := r.getPaymentWhere(ctx, `payment_reference = $1`, reference)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: payment reference %s", apperr.ErrNotFound, reference)
	}
	return p, err
}

// FindOpenPayment возвращает действующий (не отклонённый) счёт для пары аукцион/поставщик.
func (r *PostgresRepository) FindOpenPayment(ctx context.Context, auctionID, vendorID string) (*model.Payment, error) {
	p, err := r.getPaymentWhere(ctx,
		`auction_id = $1 AND vendor_id = $2 AND status <> $3`,
		auctionID, vendorID, string(model.PaymentStatusRejected),
	)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: open payment for auction %s", apperr.ErrNotFound, auctionID)
	}
	return p, err
}

// winnerPaymentAction определяет, что делать с уже существующим счётом победителя при закрытии аукциона.
type winnerPaymentAction int

const (
	winnerPaymentCreate winnerPaymentAction = iota
	winnerPaymentReuse
	winnerPaymentReplace
)

// decideWinnerPayment сопоставляет действующий счёт победителя с итоговой ставкой аукциона.
// Счёт с той же суммой переиспользуется. Неоплаченный счёт с другой суммой заменяется новым.
func decideWinnerPayment(existing *model.Payment, locked model.Auction) (winnerPaymentAction, error) {
	if existing == nil {
		return winnerPaymentCreate, nil
	}

	sameAmount := locked.CurrentBid.Valid && existing.Amount.Equal(locked.CurrentBid.Decimal)

	switch existing.Status {
	case model.PaymentStatusPending:
		if sameAmount {
			return winnerPaymentReuse, nil
		}
		return winnerPaymentReplace, nil
	case model.PaymentStatusOverdue:
		return winnerPaymentReplace, nil
	case model.PaymentStatusVerified:
		if sameAmount {
			return winnerPaymentReuse, nil
		}
		return 0, fmt.Errorf("%w: auction %s has verified payment %s for %s, final bid differs",
			apperr.ErrConsistency, locked.ID, existing.ID, existing.Amount.StringFixed(2))
	default:
		return winnerPaymentCreate, nil
	}
}

// winnerPayment возвращает счёт победителя в транзакции закрытия: переиспользует действующий
// или выставляет новый через build.
func winnerPayment(ctx context.Context, tx pgx.Tx, locked model.Auction, build PaymentBuilder) (*model.Payment, error) {
	existing, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE auction_id = $1 AND vendor_id = $2 AND status <> $3
		 FOR UPDATE`,
		locked.ID, *locked.CurrentBidder, string(model.PaymentStatusRejected),
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lock winner payment: %w", err)
		}
		existing = nil
	}

	action, err := decideWinnerPayment(existing, locked)
	if err != nil {
		return nil, err
	}

	switch action {
	case winnerPaymentReuse:
		return existing, nil
	case winnerPaymentReplace:
		_, err := tx.Exec(ctx, `UPDATE payments SET status = $2 WHERE id = $1`,
			existing.ID, string(model.PaymentStatusRejected))
		if err != nil {
			return nil, fmt.Errorf("reject stale payment: %w", err)
		}
	}

	p, err := build(locked)
	if err != nil {
		return nil, err
	}
	if err := insertPayment(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Settlement описывает подтверждение оплаты.
type Settlement struct {
	VerifiedAt   time.Time
	VerifiedBy   *string
	AutoVerified bool
}

// SettlementCheck проверяет заблокированный счёт перед подтверждением.
type SettlementCheck func(locked model.Payment) error

// SettlePayment подтверждает оплату ровно один раз. Проверка «уже подтверждён» и запись статуса
// выполняются в одной транзакции под блокировкой строки. Второй результат равен false,
// если счёт уже был подтверждён и ничего не изменилось.
func (r *PostgresRepository) SettlePayment(ctx context.Context, paymentID string, s Settlement, check SettlementCheck) (*model.Payment, bool, error) {
	var (
		out     *model.Payment
		changed bool
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		locked, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: payment %s", apperr.ErrNotFound, paymentID)
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		if locked.Status == model.PaymentStatusVerified {
			out, changed = locked, false
			return nil
		}

		if check != nil {
			if err := check(*locked); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE payments SET status = $2, verified_at = $3, verified_by = $4, auto_verified = $5
			 WHERE id = $1`,
			paymentID, string(model.PaymentStatusVerified), s.VerifiedAt, s.VerifiedBy, s.AutoVerified,
		)
		if err != nil {
			return fmt.Errorf("verify payment: %w", err)
		}

		verifiedAt := s.VerifiedAt
		locked.Status = model.PaymentStatusVerified
		locked.VerifiedAt = &verifiedAt
		locked.VerifiedBy = s.VerifiedBy
		locked.AutoVerified = s.AutoVerified

		out, changed = locked, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return out, changed, nil
}

// MarkOverduePayments переводит неоплаченные счета с истёкшим сроком в статус overdue.
func (r *PostgresRepository) MarkOverduePayments(ctx context.Context, now time.Time) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE payments SET status = $1
		 WHERE status = $2 AND payment_deadline < $3
		 RETURNING `+paymentColumns,
		string(model.PaymentStatusOverdue), string(model.PaymentStatusPending), now,
	)
	if err != nil {
		return nil, fmt.Errorf("mark overdue payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
