package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Headers stamped on signed deliveries. Requests for webhooks without
// a secret carry neither.
const (
	SignatureHeader = "X-Hookrelay-Signature"
	TimestampHeader = "X-Hookrelay-Timestamp"
)

// Sign computes the signature header value for a payload: the hex
// HMAC-SHA256 of "<unix seconds>.<body>" under the webhook secret,
// prefixed with the algorithm.
func Sign(secret string, timestamp time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp.Unix())
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Timestamp renders the timestamp header value paired with Sign.
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}

// Verify reports whether signature matches body at the given timestamp.
// Comparison is constant-time.
func Verify(secret, signature string, timestamp time.Time, body []byte) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(secret, timestamp, body)))
}
