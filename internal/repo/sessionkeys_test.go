package repo

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"paygate-api/internal/model"
	"paygate-api/pkg/payment"
)

// Well-known throwaway key; never funded.
const testSigningKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f"

type memSessionKeys struct {
	rows map[string]*model.SessionKey
}

func (m *memSessionKeys) FindOneByWallet(ctx context.Context, wallet string) (*model.SessionKey, error) {
	if rec, ok := m.rows[wallet]; ok {
		return rec, nil
	}
	return nil, model.ErrNotFound
}

func (m *memSessionKeys) Upsert(ctx context.Context, data *model.SessionKey) error {
	if m.rows == nil {
		m.rows = make(map[string]*model.SessionKey)
	}
	m.rows[data.Wallet] = data
	return nil
}

func settleRequirements() payment.Requirements {
	return payment.Requirements{
		Scheme:            payment.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "/v1/chat/completions",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func testFacilitator(t *testing.T, handler http.HandlerFunc) *payment.Facilitator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	facilitator, err := payment.NewFacilitator(srv.URL)
	require.NoError(t, err)
	return facilitator
}

func TestSignerForUnknownWallet(t *testing.T) {
	keys := NewSessionKeys(&memSessionKeys{})
	signer, err := keys.SignerFor(context.Background(), "0xNobody")
	require.NoError(t, err)
	require.Nil(t, signer)
}

func TestSignerForLowercasesWallet(t *testing.T) {
	store := &memSessionKeys{rows: map[string]*model.SessionKey{
		"0xabc": {Wallet: "0xabc", UserId: "u1", SigningKey: testSigningKey},
	}}
	keys := NewSessionKeys(store)

	signer, err := keys.SignerFor(context.Background(), "0xABC")
	require.NoError(t, err)
	require.NotNil(t, signer)

	want, err := payment.NewSessionSigner(testSigningKey)
	require.NoError(t, err)
	require.Equal(t, want.Address(), signer.Address())
}

func TestSignerForRejectsCorruptKey(t *testing.T) {
	store := &memSessionKeys{rows: map[string]*model.SessionKey{
		"0xabc": {Wallet: "0xabc", SigningKey: "not hex"},
	}}
	keys := NewSessionKeys(store)

	_, err := keys.SignerFor(context.Background(), "0xabc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "session key")
}

func TestKeyedSettlerUsesWalletKey(t *testing.T) {
	facilitator := testFacilitator(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		_ = json.NewEncoder(w).Encode(payment.SettleResponse{
			Success:     true,
			Transaction: "0xwalletkey",
			Network:     "base-sepolia",
		})
	})

	store := &memSessionKeys{rows: map[string]*model.SessionKey{
		"0xabc": {Wallet: "0xabc", SigningKey: testSigningKey},
	}}
	fallback := &countingSettler{}
	settler := NewKeyedSettler(NewSessionKeys(store), facilitator, fallback)

	receipt, err := settler.Pay(context.Background(), settleRequirements(), big.NewInt(500), "0xabc")
	require.NoError(t, err)
	require.Equal(t, "0xwalletkey", receipt.Transaction)
	require.Equal(t, 0, fallback.calls)
}

func TestKeyedSettlerFallsBackWithoutKey(t *testing.T) {
	facilitator := testFacilitator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("facilitator must not be called on the fallback path")
	})

	fallback := &countingSettler{}
	settler := NewKeyedSettler(NewSessionKeys(&memSessionKeys{}), facilitator, fallback)

	receipt, err := settler.Pay(context.Background(), settleRequirements(), big.NewInt(500), "0xdef")
	require.NoError(t, err)
	require.Equal(t, "0xtx", receipt.Transaction)
	require.Equal(t, 1, fallback.calls)
}

func TestKeyedSettlerWithoutFallback(t *testing.T) {
	settler := NewKeyedSettler(NewSessionKeys(&memSessionKeys{}), nil, nil)

	_, err := settler.Pay(context.Background(), settleRequirements(), big.NewInt(500), "0xdef")
	require.ErrorIs(t, err, payment.ErrNoSigner)
}
