// Package identity implements key custody: generation, import, lookup, and
// disaster-recovery backup of the household's asymmetric keypairs. Exactly
// one parent keypair exists at a time; children get app-local keypairs for
// bookkeeping but never sign wire messages.
package identity

import (
	"errors"
	"strings"
)

// Role names a keypair slot in the secure store.
type Role string

const (
	// RoleParent is the single signing identity of the installation.
	RoleParent Role = "parent"

	// RoleWrap is the secondary keypair used for out-of-band secret
	// wrapping, provisioned lazily alongside the parent identity.
	RoleWrap Role = "wrap"

	childPrefix = "child:"
)

// ChildRole derives the role for a child profile id.
func ChildRole(profileID string) Role {
	return Role(childPrefix + profileID)
}

// ChildProfileID extracts the profile id from a child role.
func (r Role) ChildProfileID() (string, bool) {
	s := string(r)
	if !strings.HasPrefix(s, childPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, childPrefix), true
}

// IsChild reports whether the role belongs to a child profile.
func (r Role) IsChild() bool {
	_, ok := r.ChildProfileID()
	return ok
}

var (
	// ErrIdentityExists is returned when generating or importing a parent
	// identity while one already exists.
	ErrIdentityExists = errors.New("parent identity already exists")

	// ErrIdentityMissing is returned by operations that require a parent
	// identity before one has been provisioned.
	ErrIdentityMissing = errors.New("parent identity missing")

	// ErrMalformedKey is returned when imported secret material is neither
	// raw 32-byte seed material nor a recognized encoded private key.
	ErrMalformedKey = errors.New("malformed secret key material")
)
