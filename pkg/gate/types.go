package gate

import (
	"context"
	"math/big"

	"paygate-api/pkg/payment"
)

// CredentialSource records which path resolved the identity. Over-threshold
// handling differs between the two.
type CredentialSource string

const (
	SourceSession CredentialSource = "session"
	SourcePayment CredentialSource = "payment"
)

// Identity is the resolved caller of a granted request.
type Identity struct {
	UserID       string
	Wallet       string
	SmartAccount string
	Source       CredentialSource
}

// Credential is the raw material the gate evaluates: a bearer session token
// and/or a base64 payment header, either of which may be empty.
type Credential struct {
	SessionToken  string
	PaymentHeader string
	Resource      string
	Model         string
}

// Decision is the gate's verdict. Deny carries the priced requirements the
// caller can satisfy to retry.
type Decision struct {
	Grant    bool
	Identity Identity
	Reason   string
	Accepts  []payment.Requirements
}

// Ledger is the externally owned debt store. Reads and conditional writes
// must be atomic per wallet.
type Ledger interface {
	GetDebt(ctx context.Context, wallet string) (debt, threshold *big.Int, err error)
	RecordUsage(ctx context.Context, wallet, route, model string, promptTokens, completionTokens int64, cost *big.Int) error
	RecordPayment(ctx context.Context, wallet string, amount *big.Int, settlementRef, network string) error
}

// Settler performs the automatic settlement of outstanding debt.
type Settler interface {
	Pay(ctx context.Context, reqs payment.Requirements, amount *big.Int, wallet string) (*payment.Receipt, error)
}
