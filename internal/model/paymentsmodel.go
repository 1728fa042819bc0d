package model

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ PaymentsModel = (*defaultPaymentsModel)(nil)

type (
	// PaymentsModel appends settled payment rows.
	PaymentsModel interface {
		Insert(ctx context.Context, rec *Payment) error
		FindOneByRef(ctx context.Context, settlementRef string) (*Payment, error)
	}

	Payment struct {
		Id            int64     `db:"id"`
		Wallet        string    `db:"wallet"`
		Amount        string    `db:"amount"`
		Network       string    `db:"network"`
		SettlementRef string    `db:"settlement_ref"`
		CreatedAt     time.Time `db:"created_at"`
	}

	defaultPaymentsModel struct {
		conn sqlx.SqlConn
	}
)

// NewPaymentsModel returns a model for the payments table.
func NewPaymentsModel(conn sqlx.SqlConn) PaymentsModel {
	return &defaultPaymentsModel{conn: conn}
}

func (m *defaultPaymentsModel) Insert(ctx context.Context, rec *Payment) error {
	const q = `INSERT INTO payments (wallet, amount, network, settlement_ref, created_at)
VALUES ($1, $2::numeric, $3, $4, NOW())
ON CONFLICT (settlement_ref) DO NOTHING`
	_, err := m.conn.ExecCtx(ctx, q, rec.Wallet, rec.Amount, rec.Network, rec.SettlementRef)
	return err
}

func (m *defaultPaymentsModel) FindOneByRef(ctx context.Context, settlementRef string) (*Payment, error) {
	const q = `SELECT id, wallet, amount::text, network, settlement_ref, created_at
FROM payments WHERE settlement_ref = $1 LIMIT 1`
	var rec Payment
	err := m.conn.QueryRowCtx(ctx, &rec, q, settlementRef)
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	default:
		return nil, err
	}
}
