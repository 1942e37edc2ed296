package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the shared secret used to sign outbound webhook deliveries
// and verify inbound administrative requests.
type HMACAuth struct {
	Key    string // key identifier sent alongside the signature
	Secret string // shared secret
}

// Headers returns the HTTP headers for an authenticated request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64.
//
// Returned header keys:
//   - X-APTM-KEY
//   - X-APTM-TIMESTAMP
//   - X-APTM-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-APTM-KEY":       h.Key,
		"X-APTM-TIMESTAMP": ts,
		"X-APTM-SIGNATURE": sig,
	}
}

// Verify checks a signature received with an inbound request. The caller
// passes the timestamp header value and maxSkew bounds replay; a zero
// maxSkew disables the timestamp check.
func (h *HMACAuth) Verify(method, path, body, timestamp, signature string, maxSkew time.Duration) bool {
	if maxSkew > 0 {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return false
		}
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return false
		}
	}

	message := timestamp + method + path + body
	expected := hmacSHA256Base64([]byte(h.Secret), message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redactShort := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redactShort(h.Key), redactShort(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
