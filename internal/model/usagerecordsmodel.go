package model

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ UsageRecordsModel = (*defaultUsageRecordsModel)(nil)

type (
	// UsageRecordsModel appends metered usage rows.
	UsageRecordsModel interface {
		Insert(ctx context.Context, rec *UsageRecord) error
		ListByWallet(ctx context.Context, wallet string, limit int) ([]UsageRecord, error)
	}

	UsageRecord struct {
		Id               int64     `db:"id"`
		Wallet           string    `db:"wallet"`
		Route            string    `db:"route"`
		Model            string    `db:"model"`
		PromptTokens     int64     `db:"prompt_tokens"`
		CompletionTokens int64     `db:"completion_tokens"`
		Cost             string    `db:"cost"`
		CreatedAt        time.Time `db:"created_at"`
	}

	defaultUsageRecordsModel struct {
		conn sqlx.SqlConn
	}
)

// NewUsageRecordsModel returns a model for the usage_records table.
func NewUsageRecordsModel(conn sqlx.SqlConn) UsageRecordsModel {
	return &defaultUsageRecordsModel{conn: conn}
}

func (m *defaultUsageRecordsModel) Insert(ctx context.Context, rec *UsageRecord) error {
	const q = `INSERT INTO usage_records (wallet, route, model, prompt_tokens, completion_tokens, cost, created_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, NOW())`
	_, err := m.conn.ExecCtx(ctx, q, rec.Wallet, rec.Route, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.Cost)
	return err
}

func (m *defaultUsageRecordsModel) ListByWallet(ctx context.Context, wallet string, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, wallet, route, model, prompt_tokens, completion_tokens, cost::text, created_at
FROM usage_records WHERE wallet = $1 ORDER BY created_at DESC LIMIT $2`
	var rows []UsageRecord
	if err := m.conn.QueryRowsCtx(ctx, &rows, q, wallet, limit); err != nil {
		return nil, err
	}
	return rows, nil
}
