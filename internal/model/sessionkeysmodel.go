package model

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ SessionKeysModel = (*defaultSessionKeysModel)(nil)

type (
	// SessionKeysModel accesses the delegated signing keys registered per
	// wallet.
	SessionKeysModel interface {
		FindOneByWallet(ctx context.Context, wallet string) (*SessionKey, error)
		Upsert(ctx context.Context, data *SessionKey) error
	}

	// SessionKey is one wallet's delegated signing key row. SigningKey is a
	// hex-encoded private key the wallet's smart account has authorised for
	// ERC-3009 transfers.
	SessionKey struct {
		Id         int64     `db:"id"`
		Wallet     string    `db:"wallet"`
		UserId     string    `db:"user_id"`
		SigningKey string    `db:"signing_key"`
		UpdatedAt  time.Time `db:"updated_at"`
	}

	defaultSessionKeysModel struct {
		conn sqlx.SqlConn
	}
)

// NewSessionKeysModel returns a model for the session_keys table.
func NewSessionKeysModel(conn sqlx.SqlConn) SessionKeysModel {
	return &defaultSessionKeysModel{conn: conn}
}

func (m *defaultSessionKeysModel) FindOneByWallet(ctx context.Context, wallet string) (*SessionKey, error) {
	const q = `SELECT id, wallet, user_id, signing_key, updated_at
FROM session_keys WHERE wallet = $1 LIMIT 1`
	var rec SessionKey
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

// Upsert registers or rotates a wallet's delegated key.
func (m *defaultSessionKeysModel) Upsert(ctx context.Context, data *SessionKey) error {
	const q = `INSERT INTO session_keys (wallet, user_id, signing_key, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (wallet) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	signing_key = EXCLUDED.signing_key,
	updated_at = NOW()`
	_, err := m.conn.ExecCtx(ctx, q, data.Wallet, data.UserId, data.SigningKey)
	return err
}
