package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/cimillas/paygate/internal/clock"
	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test_secret"

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	body := []byte(`{"type":"PAYMENT_SUCCESS","data":{"order":{"order_id":"gw1","order_status":"PAID"}}}`)
	ts := "1735812000"
	sig := Sign(testSecret, body, ts)
	v := NewVerifier(testSecret)

	t.Run("valid base64 signature", func(t *testing.T) {
		assert.True(t, v.Verify(body, sig, ts))
	})

	t.Run("valid hex signature", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte(testSecret))
		mac.Write([]byte(ts + "." + string(body)))
		assert.True(t, v.Verify(body, hex.EncodeToString(mac.Sum(nil)), ts))
	})

	t.Run("body mutated by one byte", func(t *testing.T) {
		mutated := append([]byte(nil), body...)
		mutated[10] ^= 0x01
		assert.False(t, v.Verify(mutated, sig, ts))
	})

	t.Run("missing timestamp", func(t *testing.T) {
		assert.False(t, v.Verify(body, sig, ""))
	})

	t.Run("different timestamp", func(t *testing.T) {
		assert.False(t, v.Verify(body, sig, "1735812001"))
	})

	t.Run("other secret", func(t *testing.T) {
		assert.False(t, NewVerifier("another-secret").Verify(body, sig, ts))
		assert.False(t, v.Verify(body, Sign("another-secret", body, ts), ts))
	})

	t.Run("malformed inputs", func(t *testing.T) {
		assert.False(t, v.Verify(nil, sig, ts))
		assert.False(t, v.Verify(body, "", ts))
		assert.False(t, v.Verify(body, "not-base64-or-hex!", ts))
		assert.False(t, v.Verify(body, sig, "12a4"))
		assert.False(t, v.Verify(body, sig, "-1735812000"))
		assert.False(t, v.Verify(body, sig[:len(sig)-4], ts))
	})

	t.Run("empty secret never verifies", func(t *testing.T) {
		assert.False(t, NewVerifier("").Verify(body, Sign("", body, ts), ts))
	})
}

func TestVerifier_MaxAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(now)
	v := NewVerifier(testSecret, WithMaxAge(5*time.Minute, clk))
	body := []byte(`{"type":"PAYMENT_SUCCESS"}`)

	fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	assert.True(t, v.Verify(body, Sign(testSecret, body, fresh), fresh))

	freshMillis := strconv.FormatInt(now.Add(-time.Minute).UnixMilli(), 10)
	assert.True(t, v.Verify(body, Sign(testSecret, body, freshMillis), freshMillis))

	old := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	assert.False(t, v.Verify(body, Sign(testSecret, body, old), old))

	clk.Advance(10 * time.Minute)
	assert.False(t, v.Verify(body, Sign(testSecret, body, fresh), fresh))
}

func TestVerifier_NoMaxAgeAcceptsOldTimestamps(t *testing.T) {
	t.Parallel()

	body := []byte(`{"type":"PAYMENT_SUCCESS"}`)
	ts := "1000"
	assert.True(t, NewVerifier(testSecret).Verify(body, Sign(testSecret, body, ts), ts))
}
