package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// ProtocolVersion is the payment protocol version carried in headers and
// facilitator calls.
const ProtocolVersion = 1

// SchemeExact is the only supported payment scheme: an exact-amount
// transfer authorization.
const SchemeExact = "exact"

// Requirements describes one acceptable way to pay for a resource. It is
// returned inside the 402 challenge and echoed to the facilitator at
// settlement time. Amounts are decimal strings of atomic token units.
type Requirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             *RequiredExtra `json:"extra,omitempty"`
}

// RequiredExtra carries the EIP-712 domain parameters of the payment token.
type RequiredExtra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Authorization is an ERC-3009 TransferWithAuthorization message. Numeric
// fields are decimal strings so values survive JSON round-trips unscaled.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload pairs an authorization with its signature.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Payload is the decoded body of an X-Payment header.
type Payload struct {
	Version int          `json:"x402Version"`
	Scheme  string       `json:"scheme"`
	Network string       `json:"network"`
	Payload ExactPayload `json:"payload"`
}

// RequiredResponse is the body of a 402 challenge.
type RequiredResponse struct {
	Version int            `json:"x402Version"`
	Error   string         `json:"error,omitempty"`
	Accepts []Requirements `json:"accepts"`
}

// DecodePayload parses a base64-encoded X-Payment header value.
func DecodePayload(header string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("payment: decode header: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("payment: parse payload: %w", err)
	}
	if p.Scheme != SchemeExact {
		return nil, fmt.Errorf("payment: unsupported scheme %q", p.Scheme)
	}
	return &p, nil
}

// Encode serialises the payload for an X-Payment header.
func (p *Payload) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("payment: encode payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ParseAmount converts a decimal string of atomic units into a big integer.
// Floating point never touches monetary values.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("payment: empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("payment: invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("payment: negative amount %q", s)
	}
	return v, nil
}
