package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"paygate-api/pkg/confkit"
	"paygate-api/pkg/payment"
)

const defaultFacilitator = "https://x402.org/facilitator"

func querySupported(base string) (map[string]any, error) {
	c := &http.Client{Timeout: 10 * time.Second}
	resp, err := c.Get(strings.TrimRight(base, "/") + "/supported")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{"raw": string(b), "status": resp.Status}, nil
	}
	out["http_status"] = resp.Status
	return out, nil
}

func main() {
	confkit.LoadDotenvOnce()

	pk := os.Getenv("PAYGATE_SESSION_KEY")
	if pk == "" {
		fmt.Println("PAYGATE_SESSION_KEY not set in env/.env")
		os.Exit(1)
	}
	signer, err := payment.NewSessionSigner(pk)
	if err != nil {
		fmt.Printf("decode session key error: %v\n", err)
		os.Exit(1)
	}
	treasury := strings.ToLower(strings.TrimSpace(os.Getenv("PAYGATE_TREASURY_ADDRESS")))

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Session key address: %s\n", signer.Address())
	if treasury != "" {
		fmt.Printf("Treasury (PAYGATE_TREASURY_ADDRESS): %s\n", treasury)
	} else {
		fmt.Println("Treasury: (not set)")
	}
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	if treasury != "" && treasury == signer.Address() {
		fmt.Println("⚠️  The session key pays INTO its own address.")
		fmt.Println("PAYGATE_TREASURY_ADDRESS should be the operator treasury, not")
		fmt.Println("the session-key wallet.")
		fmt.Println()
	}

	fmt.Println("Auto-payments sign ERC-3009 authorizations with this key. The")
	fmt.Println("paying smart account must have delegated transfer authority to")
	fmt.Println("the address above, and the key's wallet needs no gas: the")
	fmt.Println("facilitator submits the transfer on-chain.")
	fmt.Println()

	facilitator := os.Getenv("PAYGATE_FACILITATOR_URL")
	if facilitator == "" {
		facilitator = defaultFacilitator
	}
	fmt.Printf("Checking facilitator: %s\n\n", facilitator)
	if m, err := querySupported(facilitator); err == nil {
		fmt.Printf("Status: %v\n", m["http_status"])
		if kinds, ok := m["kinds"]; ok {
			fmt.Printf("Supported kinds: %v\n", kinds)
		}
	} else {
		fmt.Printf("Error: %v\n", err)
	}
}
