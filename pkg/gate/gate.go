package gate

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"paygate-api/pkg/payment"
)

var errSignerMismatch = errors.New("gate: signature does not match claimed payer")

// Gate makes the per-request admission decision: session holders below
// their debt threshold pass, over-threshold session holders get one
// synchronous auto-payment attempt, and everyone else is challenged with a
// priced payment requirement.
type Gate struct {
	ledger  Ledger
	settler Settler
	pricing *PricingConfig
	secret  string
}

// New constructs a gate. The settler may be nil when the deployment has no
// delegated signing capability; over-threshold session holders then always
// fall back to the payment challenge.
func New(ledger Ledger, settler Settler, pricing *PricingConfig, sessionSecret string) *Gate {
	return &Gate{
		ledger:  ledger,
		settler: settler,
		pricing: pricing,
		secret:  sessionSecret,
	}
}

// Evaluate resolves the request credential and returns Grant or Deny.
// Verification failures never surface as errors; they only narrow which
// paths can resolve an identity.
func (g *Gate) Evaluate(ctx context.Context, cred Credential) Decision {
	log := logx.WithContext(ctx)

	ident, ok := g.resolveIdentity(ctx, cred)
	if !ok {
		return g.deny(cred, "payment required")
	}

	debt, threshold, err := g.ledger.GetDebt(ctx, ident.Wallet)
	if err != nil {
		log.Errorw("debt lookup failed", logx.Field("wallet", ident.Wallet), logx.Field("error", err.Error()))
		return g.deny(cred, "payment required")
	}
	if debt.Cmp(threshold) < 0 {
		return Decision{Grant: true, Identity: ident}
	}

	if ident.Source == SourceSession && g.settler != nil {
		if g.autoPay(ctx, cred, ident, debt) {
			return Decision{Grant: true, Identity: ident}
		}
	}
	return g.deny(cred, "debt threshold exceeded")
}

// resolveIdentity tries the session token first, then the signed payment
// header. Both failing means no identity.
func (g *Gate) resolveIdentity(ctx context.Context, cred Credential) (Identity, bool) {
	log := logx.WithContext(ctx)

	if cred.SessionToken != "" {
		claims, err := VerifySessionToken(cred.SessionToken, g.secret)
		if err == nil {
			return Identity{
				UserID:       claims.Subject,
				Wallet:       strings.ToLower(claims.Wallet),
				SmartAccount: strings.ToLower(claims.SmartAccount),
				Source:       SourceSession,
			}, true
		}
		log.Debugw("session token rejected", logx.Field("error", err.Error()))
	}

	if cred.PaymentHeader != "" {
		ident, err := g.verifyPaymentHeader(cred)
		if err == nil {
			return ident, true
		}
		log.Debugw("payment header rejected", logx.Field("error", err.Error()))
	}
	return Identity{}, false
}

// verifyPaymentHeader decodes the payment payload and checks that the
// signature recovers to the claimed payer. The authorization itself is not
// consumed here; settlement happens downstream.
func (g *Gate) verifyPaymentHeader(cred Credential) (Identity, error) {
	payload, err := payment.DecodePayload(cred.PaymentHeader)
	if err != nil {
		return Identity{}, err
	}
	reqs := g.pricing.Requirement(cred.Resource, cred.Model)
	reqs.Network = payload.Network

	signer, err := payment.RecoverSigner(payload.Payload.Authorization, reqs, payload.Payload.Signature)
	if err != nil {
		return Identity{}, err
	}
	claimed := strings.ToLower(payload.Payload.Authorization.From)
	if strings.ToLower(signer.Hex()) != claimed {
		return Identity{}, errSignerMismatch
	}
	return Identity{Wallet: claimed, Source: SourcePayment}, nil
}

// autoPay settles the outstanding debt synchronously. Any failure is
// absorbed so the request degrades to the payment challenge instead of
// erroring.
func (g *Gate) autoPay(ctx context.Context, cred Credential, ident Identity, owed *big.Int) bool {
	log := logx.WithContext(ctx)
	reqs := g.pricing.Requirement(cred.Resource, cred.Model)

	wallet := ident.SmartAccount
	if wallet == "" {
		wallet = ident.Wallet
	}
	receipt, err := g.settler.Pay(ctx, reqs, owed, wallet)
	if err != nil {
		log.Infow("auto-payment failed",
			logx.Field("wallet", ident.Wallet),
			logx.Field("owed", owed.String()),
			logx.Field("reason", err.Error()),
		)
		return false
	}

	if err := g.ledger.RecordPayment(ctx, ident.Wallet, receipt.Amount, receipt.Transaction, receipt.Network); err != nil {
		// Funds already moved on-chain; reconciliation is operational.
		log.Errorw("ledger commit failed after settlement",
			logx.Field("wallet", ident.Wallet),
			logx.Field("tx", receipt.Transaction),
			logx.Field("error", err.Error()),
		)
	}
	return true
}

func (g *Gate) deny(cred Credential, reason string) Decision {
	return Decision{
		Grant:   false,
		Reason:  reason,
		Accepts: []payment.Requirements{g.pricing.Requirement(cred.Resource, cred.Model)},
	}
}
