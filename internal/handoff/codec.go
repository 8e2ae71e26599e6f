package handoff

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"

	"formgate/internal/wire"
)

// Envelope versions on the wire. Sealed envelopes are authenticated
// ciphertext; checksum envelopes only defend against accidental corruption
// and exist as the degradation path when no session key is available.
const (
	VersionSealed   = "2.0"
	VersionChecksum = "1.0"
)

type sealedEnvelope struct {
	V    string `json:"v"`
	T    int64  `json:"t"`
	IV   string `json:"iv"`
	Data string `json:"data"`
}

type checksumEnvelope struct {
	Version   string          `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	Checksum  string          `json:"checksum"`
	Timestamp int64           `json:"timestamp"`
}

// encodeSealed wraps the canonical payload bytes in a v2 envelope encrypted
// under key.
func encodeSealed(key, canonical []byte, now time.Time) ([]byte, error) {
	nonce, ciphertext, err := seal(key, canonical)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealedEnvelope{
		V:    VersionSealed,
		T:    now.UnixMilli(),
		IV:   base64.StdEncoding.EncodeToString(nonce),
		Data: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// decodeSealed opens a v2 envelope. Any decode or authentication failure is
// an error; callers treat every error here as tampering.
func decodeSealed(key, raw []byte) (wire.Payload, time.Time, error) {
	var env sealedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse sealed envelope: %w", err)
	}
	if env.V != VersionSealed {
		return nil, time.Time{}, fmt.Errorf("unexpected envelope version %q", env.V)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode data: %w", err)
	}
	plaintext, err := open(key, nonce, ciphertext)
	if err != nil {
		return nil, time.Time{}, err
	}
	var payload wire.Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse payload: %w", err)
	}
	return payload, time.UnixMilli(env.T), nil
}

// encodeChecksum wraps the canonical payload bytes in a v1 envelope with a
// CRC-32 integrity checksum.
func encodeChecksum(canonical []byte, now time.Time) ([]byte, error) {
	return json.Marshal(checksumEnvelope{
		Version:   VersionChecksum,
		Payload:   json.RawMessage(canonical),
		Checksum:  checksum(canonical),
		Timestamp: now.UnixMilli(),
	})
}

// decodeChecksum verifies and unwraps a v1 envelope.
func decodeChecksum(raw []byte) (wire.Payload, time.Time, error) {
	var env checksumEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse checksum envelope: %w", err)
	}
	if env.Version != VersionChecksum {
		return nil, time.Time{}, fmt.Errorf("unexpected envelope version %q", env.Version)
	}
	if checksum(env.Payload) != env.Checksum {
		return nil, time.Time{}, fmt.Errorf("checksum mismatch")
	}
	var payload wire.Payload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse payload: %w", err)
	}
	return payload, time.UnixMilli(env.Timestamp), nil
}

func checksum(b []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(b))
}

// PeekEnvelope reads the plaintext framing of either envelope version:
// version and creation time are metadata both formats expose without
// decryption.
func PeekEnvelope(raw []byte) (version string, storedAt time.Time, err error) {
	var probe struct {
		V         string `json:"v"`
		T         int64  `json:"t"`
		Version   string `json:"version"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", time.Time{}, fmt.Errorf("parse envelope: %w", err)
	}
	switch {
	case probe.V == VersionSealed:
		return VersionSealed, time.UnixMilli(probe.T), nil
	case probe.Version == VersionChecksum:
		return VersionChecksum, time.UnixMilli(probe.Timestamp), nil
	default:
		return "", time.Time{}, fmt.Errorf("unrecognized envelope")
	}
}
