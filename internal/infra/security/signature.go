package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignPayload returns the hex HMAC-SHA256 of body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks a webhook signature header. The header may carry a
// "sha256=" prefix. Comparison is constant time.
func VerifyPayload(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	got := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
