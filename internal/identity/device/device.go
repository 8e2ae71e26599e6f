// Package device derives display labels and stable fingerprints from
// User-Agent strings. Labels go on audit records; fingerprints let the
// resume path notice when a hand-off comes back from a different browser.
package device

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// UnknownLabel is used when the User-Agent is missing or unparseable.
const UnknownLabel = "Unknown Device"

// Service turns User-Agent strings into labels and fingerprints. When
// disabled both come back empty so nothing device-shaped is recorded.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// Label renders a short human-readable device name, e.g. "Chrome on Mac OS X".
func (s *Service) Label(userAgent string) string {
	if !s.enabled {
		return ""
	}
	if strings.TrimSpace(userAgent) == "" {
		return UnknownLabel
	}

	ua := useragent.New(userAgent)
	name, _ := ua.Browser()
	osName := ua.OSInfo().Name

	switch {
	case name == "" && osName == "":
		return UnknownLabel
	case osName == "":
		return name
	case name == "":
		return osName
	}
	return name + " on " + osName
}

// Fingerprint hashes the stable parts of a User-Agent: browser name, major
// version, and OS. Patch upgrades keep the same print; a different browser
// or machine does not.
func (s *Service) Fingerprint(userAgent string) string {
	if !s.enabled || strings.TrimSpace(userAgent) == "" {
		return ""
	}

	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	sum := sha256.Sum256([]byte(name + "/" + majorVersion(version) + "/" + ua.OSInfo().Name))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether two fingerprints name the same device. Empty
// prints never match: labeling disabled or agent unknown means no claim
// either way.
func Matches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func majorVersion(version string) string {
	if idx := strings.IndexByte(version, '.'); idx > 0 {
		return version[:idx]
	}
	return version
}
