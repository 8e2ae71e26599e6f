package ticketing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"event_id":"evt-1","type":"ticket.paid"}`)

	sig := SignBody(secret, body)
	assert.True(t, VerifySignature(secret, body, sig))
	assert.True(t, VerifySignature(secret, body, "  "+sig+"  "), "surrounding whitespace is tolerated")
}

func TestVerifySignatureAcceptsBareHex(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"event_id":"evt-1"}`)

	bare := strings.TrimPrefix(SignBody(secret, body), "sha256=")
	assert.True(t, VerifySignature(secret, body, bare))
}

func TestVerifySignatureRejects(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"event_id":"evt-1"}`)
	sig := SignBody(secret, body)

	cases := map[string]struct {
		secret string
		body   []byte
		header string
	}{
		"wrong secret":   {"other-secret", body, sig},
		"tampered body":  {secret, []byte(`{"event_id":"evt-2"}`), sig},
		"truncated":      {secret, body, sig[:len(sig)-2]},
		"not hex":        {secret, body, "sha256=zzzz"},
		"empty header":   {secret, body, ""},
		"missing secret": {"", body, sig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, VerifySignature(tc.secret, tc.body, tc.header))
		})
	}
}
