package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultFacilitatorTimeout = 15 * time.Second

// Facilitator submits signed authorizations to a settlement service that
// executes them on-chain. Settlement calls are never retried; a retry after
// an ambiguous failure could double-spend the authorization nonce.
type Facilitator struct {
	baseURL    string
	httpClient *http.Client
}

// FacilitatorOption customises the facilitator client.
type FacilitatorOption func(*Facilitator)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) FacilitatorOption {
	return func(f *Facilitator) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// NewFacilitator constructs a settlement client for the given base URL.
func NewFacilitator(baseURL string, opts ...FacilitatorOption) (*Facilitator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("payment: facilitator URL required")
	}
	f := &Facilitator{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultFacilitatorTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// VerifyResponse is the facilitator's validity check result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse reports the outcome of an on-chain settlement.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

type facilitatorRequest struct {
	Version      int          `json:"x402Version"`
	Payload      *Payload     `json:"paymentPayload"`
	Requirements Requirements `json:"paymentRequirements"`
}

// Verify checks an authorization without executing it.
func (f *Facilitator) Verify(ctx context.Context, payload *Payload, reqs Requirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := f.post(ctx, "/verify", payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle executes an authorization on-chain and reports the transaction.
func (f *Facilitator) Settle(ctx context.Context, payload *Payload, reqs Requirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := f.post(ctx, "/settle", payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Facilitator) post(ctx context.Context, path string, payload *Payload, reqs Requirements, out interface{}) error {
	body, err := json.Marshal(facilitatorRequest{
		Version:      ProtocolVersion,
		Payload:      payload,
		Requirements: reqs,
	})
	if err != nil {
		return fmt.Errorf("payment: encode facilitator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payment: build facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment: facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payment: read facilitator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment: facilitator %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("payment: decode facilitator response: %w", err)
	}
	return nil
}
