package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"paygate-api/internal/config"
)

func TestKeyJoinsUnderNamespace(t *testing.T) {
	assert.Equal(t, "paygate:debt:0xabc", Key("debt", "0xabc"))
	assert.Equal(t, "paygate:a:b", Key(" a ", "", "b"))
	assert.Equal(t, "paygate", Key())
}

func TestWalletKeysAreLowercased(t *testing.T) {
	assert.Equal(t, "paygate:debt:0xabc", DebtKey("0xABC"))
	assert.Equal(t, "paygate:paylock:0xabc", PaymentLockKey("0xAbC"))
}

func TestUsageDayKeyUsesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 02:00 on the 2nd in UTC+9 is still the 1st in UTC.
	day := time.Date(2026, 3, 2, 2, 0, 0, 0, loc)
	assert.Equal(t, "paygate:usage:0xabc:2026-03-01", UsageDayKey("0xABC", day))
}

func TestNewTTLSetDefaults(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{})
	assert.Equal(t, 10*time.Second, ttl.Short)
	assert.Equal(t, time.Minute, ttl.Medium)
	assert.Equal(t, 5*time.Minute, ttl.Long)

	ttl = NewTTLSet(config.CacheTTL{Short: 3, Medium: 30, Long: 600})
	assert.Equal(t, 3*time.Second, ttl.Duration(TTLShort))
	assert.Equal(t, 30*time.Second, ttl.Duration(TTLMedium))
	assert.Equal(t, 10*time.Minute, ttl.Duration(TTLLong))
	assert.Equal(t, time.Duration(0), ttl.Duration("other"))
}

func TestFmtKey(t *testing.T) {
	assert.Equal(t, "paygate:usage:42", FmtKey("usage:%d", 42))
}
