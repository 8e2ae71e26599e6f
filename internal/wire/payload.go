// Package wire translates wizard answers into the flat key-value payload the
// external form backend accepts.
package wire

import (
	"encoding/json"
	"net/url"
	"sort"
)

// Payload is the flat multimap posted to the form backend. Repeated keys
// carry multi-select answers; insertion order within a key is preserved.
type Payload map[string][]string

// Add appends a value under key.
func (p Payload) Add(key, value string) {
	p[key] = append(p[key], value)
}

// Get returns the first value for key, empty when absent.
func (p Payload) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Encode renders the payload as application/x-www-form-urlencoded.
func (p Payload) Encode() string {
	return url.Values(p).Encode()
}

// Keys returns the payload keys in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Canonical returns the payload's canonical JSON serialization: an object of
// string arrays with keys in sorted order. Checksums and ciphertexts are
// computed over this form so equal payloads always serialize identically.
func (p Payload) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, vs := range p {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
