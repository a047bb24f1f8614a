// Package signature authenticates gateway webhook deliveries.
//
// The gateway signs timestamp + "." + rawBody with HMAC-SHA256 under the
// shared secret and sends the digest base64 (or hex) encoded.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/cimillas/paygate/internal/clock"
)

// millisThreshold separates second and millisecond timestamps.
const millisThreshold = 1_000_000_000_000

type Verifier struct {
	secret []byte
	maxAge time.Duration
	clock  clock.Clock
}

type Option func(*Verifier)

// WithMaxAge rejects timestamps further than d from now. Zero disables the
// check, which is the default.
func WithMaxAge(d time.Duration, clk clock.Clock) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxAge = d
		}
		if clk != nil {
			v.clock = clk
		}
	}
}

func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{
		secret: []byte(secret),
		clock:  clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether sig is a valid signature of body at timestamp.
// Malformed input of any kind yields false.
func (v *Verifier) Verify(body []byte, sig, timestamp string) bool {
	if len(v.secret) == 0 || len(body) == 0 || sig == "" || timestamp == "" {
		return false
	}
	ts, ok := parseTimestamp(timestamp)
	if !ok {
		return false
	}
	if v.maxAge > 0 && !v.fresh(ts) {
		return false
	}

	got, ok := decodeDigest(sig)
	if !ok {
		return false
	}
	return hmac.Equal(got, v.digest(body, timestamp))
}

func (v *Verifier) digest(body []byte, timestamp string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func (v *Verifier) fresh(ts int64) bool {
	var at time.Time
	if ts >= millisThreshold {
		at = time.UnixMilli(ts)
	} else {
		at = time.Unix(ts, 0)
	}
	age := v.clock.Now().Sub(at)
	if age < 0 {
		age = -age
	}
	return age <= v.maxAge
}

// Sign produces the base64 signature the gateway would send.
func Sign(secret string, body []byte, timestamp string) string {
	v := NewVerifier(secret)
	return base64.StdEncoding.EncodeToString(v.digest(body, timestamp))
}

func parseTimestamp(s string) (int64, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func decodeDigest(sig string) ([]byte, bool) {
	if b, err := base64.StdEncoding.DecodeString(sig); err == nil && len(b) == sha256.Size {
		return b, true
	}
	if b, err := hex.DecodeString(sig); err == nil && len(b) == sha256.Size {
		return b, true
	}
	return nil, false
}
