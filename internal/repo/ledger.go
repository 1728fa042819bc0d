package repo

import (
	"context"
	"errors"
	"math/big"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"

	icache "paygate-api/internal/cache"
	"paygate-api/internal/model"
	"paygate-api/pkg/gate"
)

var _ gate.Ledger = (*Ledger)(nil)

// Ledger backs the gate's debt interface with Postgres rows and a short-TTL
// Redis cache. Every write invalidates the wallet's cached debt so the next
// admission decision reads fresh state.
type Ledger struct {
	debts    model.DebtRecordsModel
	usage    model.UsageRecordsModel
	payments model.PaymentsModel

	cache cache.Cache
	ttls  icache.TTLSet

	defaultThreshold *big.Int
}

// cachedDebt is the Redis representation of a wallet's ledger state.
type cachedDebt struct {
	Debt      string `json:"debt"`
	Threshold string `json:"threshold"`
}

// NewLedger wires the ledger models together. The cache may be nil; every
// read then goes to the database.
func NewLedger(debts model.DebtRecordsModel, usage model.UsageRecordsModel, payments model.PaymentsModel, c cache.Cache, ttls icache.TTLSet, defaultThreshold *big.Int) *Ledger {
	if defaultThreshold == nil {
		defaultThreshold = new(big.Int)
	}
	return &Ledger{
		debts:            debts,
		usage:            usage,
		payments:         payments,
		cache:            c,
		ttls:             ttls,
		defaultThreshold: defaultThreshold,
	}
}

// GetDebt reads a wallet's current debt and threshold. Unknown wallets
// start at zero debt with the operator's default threshold.
func (l *Ledger) GetDebt(ctx context.Context, wallet string) (*big.Int, *big.Int, error) {
	key := icache.DebtKey(wallet)
	if l.cache != nil {
		var cached cachedDebt
		if err := l.cache.GetCtx(ctx, key, &cached); err == nil {
			debt, threshold, perr := parsePair(cached.Debt, cached.Threshold)
			if perr == nil {
				return debt, threshold, nil
			}
		} else if !l.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("debt cache read %s: %v", key, err)
		}
	}

	rec, err := l.debts.FindOneByWallet(ctx, wallet)
	if errors.Is(err, model.ErrNotFound) {
		return new(big.Int), new(big.Int).Set(l.defaultThreshold), nil
	}
	if err != nil {
		return nil, nil, err
	}

	debt, threshold, err := parsePair(rec.Debt, rec.Threshold)
	if err != nil {
		return nil, nil, err
	}
	l.setCache(ctx, key, cachedDebt{Debt: rec.Debt, Threshold: rec.Threshold})
	return debt, threshold, nil
}

// RecordUsage appends a usage row and accrues its cost onto the wallet's
// debt in one pass.
func (l *Ledger) RecordUsage(ctx context.Context, wallet, route, modelID string, promptTokens, completionTokens int64, cost *big.Int) error {
	if cost == nil {
		cost = new(big.Int)
	}
	if err := l.usage.Insert(ctx, &model.UsageRecord{
		Wallet:           wallet,
		Route:            route,
		Model:            modelID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             cost.String(),
	}); err != nil {
		return err
	}
	if err := l.debts.AccrueDebt(ctx, wallet, cost.String(), l.defaultThreshold.String()); err != nil {
		return err
	}
	l.invalidate(ctx, wallet)
	return nil
}

// RecordPayment commits a settled payment: an idempotent payment row keyed
// by the settlement reference, then the debt decrement.
func (l *Ledger) RecordPayment(ctx context.Context, wallet string, amount *big.Int, settlementRef, network string) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := l.payments.Insert(ctx, &model.Payment{
		Wallet:        wallet,
		Amount:        amount.String(),
		Network:       network,
		SettlementRef: settlementRef,
	}); err != nil {
		return err
	}
	if err := l.debts.ApplyPayment(ctx, wallet, amount.String()); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	l.invalidate(ctx, wallet)
	return nil
}

func (l *Ledger) setCache(ctx context.Context, key string, v cachedDebt) {
	if l.cache == nil || l.ttls.Short <= 0 {
		return
	}
	if err := l.cache.SetWithExpireCtx(ctx, key, v, l.ttls.Short); err != nil {
		logx.WithContext(ctx).Errorf("debt cache set %s: %v", key, err)
	}
}

func (l *Ledger) invalidate(ctx context.Context, wallet string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.DelCtx(ctx, icache.DebtKey(wallet)); err != nil {
		logx.WithContext(ctx).Errorf("debt cache invalidate %s: %v", wallet, err)
	}
}

func parsePair(debtRaw, thresholdRaw string) (*big.Int, *big.Int, error) {
	debt, ok := new(big.Int).SetString(normalizeNumeric(debtRaw), 10)
	if !ok {
		return nil, nil, errors.New("ledger: invalid debt value")
	}
	threshold, ok := new(big.Int).SetString(normalizeNumeric(thresholdRaw), 10)
	if !ok {
		return nil, nil, errors.New("ledger: invalid threshold value")
	}
	return debt, threshold, nil
}

// normalizeNumeric strips a trailing zero fraction Postgres NUMERIC casts
// sometimes emit, e.g. "12.00" becomes "12". Non-zero fractions are left
// alone and fail big.Int parsing, which is the right outcome for a value
// that should be integral atomic units.
func normalizeNumeric(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			continue
		}
		for j := i + 1; j < len(s); j++ {
			if s[j] != '0' {
				return s
			}
		}
		return s[:i]
	}
	return s
}
