package payment

import (
	"context"
	"fmt"
	"math/big"

	"github.com/zeromicro/go-zero/core/logx"
)

// ErrNoSigner is reported when settlement is needed but no delegated
// session key is configured for the wallet.
var ErrNoSigner = fmt.Errorf("payment: no delegated signer configured")

// Receipt records a completed settlement.
type Receipt struct {
	Transaction string
	Network     string
	Payer       string
	Amount      *big.Int
}

// AutoPayer signs and settles debt automatically once it crosses the
// operator's threshold. A nil signer means the deployment has no delegated
// key and every settlement attempt fails.
type AutoPayer struct {
	signer      *SessionSigner
	facilitator *Facilitator
}

// NewAutoPayer wires a session signer to a facilitator. Either argument may
// be nil when the deployment does not support automatic settlement.
func NewAutoPayer(signer *SessionSigner, facilitator *Facilitator) *AutoPayer {
	return &AutoPayer{signer: signer, facilitator: facilitator}
}

// Pay settles the given amount of debt owed by the wallet. A zero amount
// succeeds without any signing or network traffic.
func (a *AutoPayer) Pay(ctx context.Context, reqs Requirements, amount *big.Int, wallet string) (*Receipt, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("payment: invalid settlement amount")
	}
	if amount.Sign() == 0 {
		return &Receipt{Amount: new(big.Int), Network: reqs.Network, Payer: wallet}, nil
	}
	if a == nil || a.signer == nil || a.facilitator == nil {
		return nil, ErrNoSigner
	}

	payload, err := a.signer.SignAuthorization(reqs, amount.String(), wallet)
	if err != nil {
		return nil, err
	}

	settled, err := a.facilitator.Settle(ctx, payload, reqs)
	if err != nil {
		return nil, err
	}
	if !settled.Success {
		return nil, fmt.Errorf("payment: settlement rejected: %s", settled.ErrorReason)
	}

	logx.WithContext(ctx).Infow("debt settled",
		logx.Field("wallet", wallet),
		logx.Field("amount", amount.String()),
		logx.Field("tx", settled.Transaction),
		logx.Field("network", settled.Network),
	)
	return &Receipt{
		Transaction: settled.Transaction,
		Network:     settled.Network,
		Payer:       settled.Payer,
		Amount:      new(big.Int).Set(amount),
	}, nil
}
