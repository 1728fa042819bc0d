package model

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// ErrNotFound aliases the sqlx sentinel so callers need not import sqlx.
var ErrNotFound = sqlx.ErrNotFound

var _ DebtRecordsModel = (*defaultDebtRecordsModel)(nil)

type (
	// DebtRecordsModel accesses the per-wallet debt ledger rows.
	DebtRecordsModel interface {
		FindOneByWallet(ctx context.Context, wallet string) (*DebtRecord, error)
		AccrueDebt(ctx context.Context, wallet string, amount string, defaultThreshold string) error
		ApplyPayment(ctx context.Context, wallet string, amount string) error
	}

	// DebtRecord is a ledger row. Debt and Threshold are decimal strings of
	// atomic token units stored as NUMERIC.
	DebtRecord struct {
		Id            int64     `db:"id"`
		Wallet        string    `db:"wallet"`
		Debt          string    `db:"debt"`
		Threshold     string    `db:"threshold"`
		LifetimeSpend string    `db:"lifetime_spend"`
		UpdatedAt     time.Time `db:"updated_at"`
	}

	defaultDebtRecordsModel struct {
		conn sqlx.SqlConn
	}
)

// NewDebtRecordsModel returns a model for the debt_records table.
func NewDebtRecordsModel(conn sqlx.SqlConn) DebtRecordsModel {
	return &defaultDebtRecordsModel{conn: conn}
}

func (m *defaultDebtRecordsModel) FindOneByWallet(ctx context.Context, wallet string) (*DebtRecord, error) {
	const q = `SELECT id, wallet, debt::text, threshold::text, lifetime_spend::text, updated_at
FROM debt_records WHERE wallet = $1 LIMIT 1`
	var rec DebtRecord
	err := m.conn.QueryRowCtx(ctx, &rec, q, wallet)
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

// AccrueDebt adds usage cost to a wallet's debt, creating the row with the
// operator's default threshold on first use.
func (m *defaultDebtRecordsModel) AccrueDebt(ctx context.Context, wallet string, amount string, defaultThreshold string) error {
	const q = `INSERT INTO debt_records (wallet, debt, threshold, lifetime_spend, updated_at)
VALUES ($1, $2::numeric, $3::numeric, $2::numeric, NOW())
ON CONFLICT (wallet) DO UPDATE SET
	debt = debt_records.debt + EXCLUDED.debt,
	lifetime_spend = debt_records.lifetime_spend + EXCLUDED.debt,
	updated_at = NOW()`
	_, err := m.conn.ExecCtx(ctx, q, wallet, amount, defaultThreshold)
	return err
}

// ApplyPayment decrements debt by the settled amount, clamped at zero. Debt
// is never reduced by anything except a committed payment.
func (m *defaultDebtRecordsModel) ApplyPayment(ctx context.Context, wallet string, amount string) error {
	const q = `UPDATE debt_records SET
	debt = GREATEST(debt - $2::numeric, 0),
	updated_at = NOW()
WHERE wallet = $1`
	result, err := m.conn.ExecCtx(ctx, q, wallet, amount)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
