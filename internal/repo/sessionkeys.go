package repo

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"paygate-api/internal/model"
	"paygate-api/pkg/gate"
	"paygate-api/pkg/payment"
)

// SessionKeys looks up wallet-specific delegated signing keys. Keys are
// read straight from Postgres on every settlement; they never enter the
// shared cache.
type SessionKeys struct {
	keys model.SessionKeysModel
}

// NewSessionKeys wraps the session_keys model.
func NewSessionKeys(keys model.SessionKeysModel) *SessionKeys {
	return &SessionKeys{keys: keys}
}

// SignerFor returns the signer delegated for the wallet, or nil when the
// wallet has no key on file.
func (s *SessionKeys) SignerFor(ctx context.Context, wallet string) (*payment.SessionSigner, error) {
	if s == nil || s.keys == nil {
		return nil, nil
	}
	rec, err := s.keys.FindOneByWallet(ctx, strings.ToLower(wallet))
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	signer, err := payment.NewSessionSigner(rec.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("repo: session key for %s: %w", wallet, err)
	}
	return signer, nil
}

var _ gate.Settler = (*KeyedSettler)(nil)

// KeyedSettler settles with the wallet's own delegated key when one is on
// file, otherwise with the deployment-wide payer. Lookup failures fall
// through to the fallback rather than blocking settlement.
type KeyedSettler struct {
	keys        *SessionKeys
	facilitator *payment.Facilitator
	fallback    gate.Settler
}

// NewKeyedSettler builds the per-wallet settler.
func NewKeyedSettler(keys *SessionKeys, facilitator *payment.Facilitator, fallback gate.Settler) *KeyedSettler {
	return &KeyedSettler{keys: keys, facilitator: facilitator, fallback: fallback}
}

func (s *KeyedSettler) Pay(ctx context.Context, reqs payment.Requirements, amount *big.Int, wallet string) (*payment.Receipt, error) {
	if s.keys != nil && s.facilitator != nil {
		signer, err := s.keys.SignerFor(ctx, wallet)
		if err != nil {
			logx.WithContext(ctx).Errorf("session key lookup for %s: %v", wallet, err)
		} else if signer != nil {
			return payment.NewAutoPayer(signer, s.facilitator).Pay(ctx, reqs, amount, wallet)
		}
	}
	if s.fallback == nil {
		return nil, payment.ErrNoSigner
	}
	return s.fallback.Pay(ctx, reqs, amount, wallet)
}
