package cache

import (
	"fmt"
	"strings"
	"time"

	"paygate-api/internal/config"
)

// Namespace is the Redis key prefix for the gateway.
const Namespace = "paygate"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Key joins parts under the gateway namespace.
func Key(parts ...string) string {
	cleaned := make([]string, 0, len(parts)+1)
	cleaned = append(cleaned, Namespace)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, ":")
}

// DebtKey caches a wallet's {debt, threshold} pair.
func DebtKey(wallet string) string {
	return Key("debt", strings.ToLower(wallet))
}

// PaymentLockKey guards concurrent auto-payments for one wallet.
func PaymentLockKey(wallet string) string {
	return Key("paylock", strings.ToLower(wallet))
}

// ModelsKey caches the provider model listing.
func ModelsKey() string {
	return Key("models")
}

// UsageDayKey aggregates a wallet's usage counters for a calendar day.
func UsageDayKey(wallet string, day time.Time) string {
	return Key("usage", strings.ToLower(wallet), day.UTC().Format("2006-01-02"))
}

// FmtKey builds an ad-hoc namespaced key from a format string.
func FmtKey(format string, args ...interface{}) string {
	return Namespace + ":" + fmt.Sprintf(format, args...)
}
