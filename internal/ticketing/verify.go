// Package ticketing receives the ticketing provider's webhooks and moves
// archived submissions through their ticket lifecycle.
package ticketing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// optionally prefixed with "sha256=".
const SignatureHeader = "X-Ticketing-Signature"

// SignBody computes the signature the provider sends for body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header against the HMAC-SHA256 of the
// raw body. An empty secret or header never verifies.
func VerifySignature(secret string, body []byte, header string) bool {
	sig := strings.TrimSpace(header)
	if sig == "" || secret == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
