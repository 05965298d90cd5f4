package addon

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultProxyMarker is the substring that marks a proxy artifact name.
const DefaultProxyMarker = "-latus-proxied"

var (
	// ErrIdentityResolution is returned for a raw identifier that cannot name a package.
	ErrIdentityResolution = errors.New("identity resolution failed")

	// ErrRepositoryNotConfigured is returned when neither the named repository
	// nor the configured main repository is known.
	ErrRepositoryNotConfigured = errors.New("repository not configured")

	// ErrRecordNotFound is returned when an operation presupposes a record that does not exist.
	ErrRecordNotFound = errors.New("record not found")
)

// Identity is the result of resolving a raw package identifier.
type Identity struct {
	CanonicalName string
	ProxyName     string // empty when the raw identifier was not a proxy
}

// IsProxy reports whether the package was fetched under a proxy name.
func (i Identity) IsProxy() bool {
	return i.ProxyName != ""
}

// ResolveIdentity maps a raw identifier to its canonical and proxy names.
// An empty marker disables proxy detection. Resolving a canonical name
// returns it unchanged.
func ResolveIdentity(raw, marker string) Identity {
	if marker == "" || !strings.Contains(raw, marker) {
		return Identity{CanonicalName: raw}
	}
	return Identity{
		CanonicalName: strings.ReplaceAll(raw, marker, ""),
		ProxyName:     raw,
	}
}

// ParseIdentity is ResolveIdentity with validation of the raw identifier.
func ParseIdentity(raw, marker string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed != raw {
		return Identity{}, fmt.Errorf("%w: invalid package identifier %q", ErrIdentityResolution, raw)
	}
	id := ResolveIdentity(raw, marker)
	if id.CanonicalName == "" || strings.HasSuffix(id.CanonicalName, "/") {
		return Identity{}, fmt.Errorf("%w: %q has no name outside the proxy marker", ErrIdentityResolution, raw)
	}
	return id, nil
}
