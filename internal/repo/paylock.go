package repo

import (
	"context"
	"errors"
	"math/big"

	"github.com/zeromicro/go-zero/core/stores/redis"

	icache "paygate-api/internal/cache"
	"paygate-api/pkg/gate"
	"paygate-api/pkg/payment"
)

// ErrPaymentInProgress is reported when another request already holds the
// wallet's settlement lock.
var ErrPaymentInProgress = errors.New("repo: payment already in progress for wallet")

const payLockSeconds = 30

var _ gate.Settler = (*LockedSettler)(nil)

// LockedSettler serialises auto-payments per wallet with a Redis SETNX
// lock so two concurrent over-threshold requests cannot both settle the
// same debt. Without Redis it degrades to the bare settler.
type LockedSettler struct {
	inner gate.Settler
	redis *redis.Redis
}

// NewLockedSettler wraps a settler with the per-wallet lock.
func NewLockedSettler(inner gate.Settler, r *redis.Redis) *LockedSettler {
	return &LockedSettler{inner: inner, redis: r}
}

func (s *LockedSettler) Pay(ctx context.Context, reqs payment.Requirements, amount *big.Int, wallet string) (*payment.Receipt, error) {
	if s.redis == nil {
		return s.inner.Pay(ctx, reqs, amount, wallet)
	}

	key := icache.PaymentLockKey(wallet)
	acquired, err := s.redis.SetnxExCtx(ctx, key, "1", payLockSeconds)
	if err != nil {
		// Lock service failing should not block settlement outright.
		return s.inner.Pay(ctx, reqs, amount, wallet)
	}
	if !acquired {
		return nil, ErrPaymentInProgress
	}
	defer func() {
		_, _ = s.redis.DelCtx(ctx, key)
	}()

	return s.inner.Pay(ctx, reqs, amount, wallet)
}
