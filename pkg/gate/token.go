package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SessionClaims is the payload of a bearer session token.
type SessionClaims struct {
	Wallet       string `json:"wallet"`
	SmartAccount string `json:"smart_account,omitempty"`
	jwt.RegisteredClaims
}

// VerifySessionToken validates an HS256 session token and returns its
// claims. Expired, malformed, and wrongly signed tokens all fail the same
// way so the gate can fall through to the next credential.
func VerifySessionToken(token, secret string) (*SessionClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("gate: empty session token")
	}

	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("gate: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("gate: verify session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("gate: invalid session token")
	}
	if claims.Wallet == "" {
		return nil, fmt.Errorf("gate: session token missing wallet claim")
	}
	return &claims, nil
}

// IssueSessionToken mints a session token for a wallet. Used by tests and
// the operator tooling; the production issuer lives outside this service.
func IssueSessionToken(secret, userID, wallet, smartAccount string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Wallet:       wallet,
		SmartAccount: smartAccount,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
