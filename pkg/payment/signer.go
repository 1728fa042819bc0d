package payment

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SessionSigner produces ERC-3009 authorizations with a delegated session
// key. The recovered signer of its authorizations is the session-key
// address, not the funding wallet; the token contract resolves the
// delegation on-chain.
type SessionSigner struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewSessionSigner constructs a signer from a hex-encoded private key.
func NewSessionSigner(privateKeyHex string) (*SessionSigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("payment: empty session key")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("payment: decode session key: %w", err)
	}
	return &SessionSigner{
		privateKey: key,
		address:    strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

// Address returns the session-key wallet address.
func (s *SessionSigner) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// SignAuthorization builds and signs a transfer authorization for the given
// amount against the requirements' token and recipient. The validity window
// opens slightly in the past to absorb clock skew.
func (s *SessionSigner) SignAuthorization(reqs Requirements, amount string, payer string) (*Payload, error) {
	if s == nil || s.privateKey == nil {
		return nil, fmt.Errorf("payment: signer not initialised")
	}
	if _, err := ParseAmount(amount); err != nil {
		return nil, err
	}
	from := payer
	if from == "" {
		from = s.address
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("payment: generate nonce: %w", err)
	}

	timeout := reqs.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	now := time.Now().Unix()
	auth := Authorization{
		From:        from,
		To:          reqs.PayTo,
		Value:       amount,
		ValidAfter:  strconv.FormatInt(now-60, 10),
		ValidBefore: strconv.FormatInt(now+int64(timeout), 10),
		Nonce:       hexutil.Encode(nonce),
	}

	digest, err := AuthorizationDigest(auth, reqs)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("payment: sign authorization: %w", err)
	}
	sig[64] += 27

	return &Payload{
		Version: ProtocolVersion,
		Scheme:  SchemeExact,
		Network: reqs.Network,
		Payload: ExactPayload{
			Signature:     hexutil.Encode(sig),
			Authorization: auth,
		},
	}, nil
}
