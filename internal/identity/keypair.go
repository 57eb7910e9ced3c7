package identity

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/kinloop/kinloop/internal/common"
)

// SeedSize is the length of raw secret-key material accepted by import.
const SeedSize = ed25519.SeedSize

// Keypair is an asymmetric keypair bound to a role. Secret holds the 32-byte
// ed25519 seed (or, for RoleWrap, the curve25519 secret key).
type Keypair struct {
	Role   Role
	Public []byte
	Secret []byte
}

// NewKeypair generates a fresh ed25519 keypair for the role.
func NewKeypair(role Role) *Keypair {
	seed := common.GenerateRandByteArray(SeedSize)
	return KeypairFromSeed(role, seed)
}

// KeypairFromSeed derives the keypair deterministically from a 32-byte seed.
func KeypairFromSeed(role Role, seed []byte) *Keypair {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{Role: role, Public: append([]byte(nil), pub...), Secret: append([]byte(nil), seed...)}
}

// PublicHex returns the canonical lowercase-hex form of the public key.
func (k *Keypair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// PrivateKey expands the stored seed into a signing key.
func (k *Keypair) PrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(k.Secret)
}

// Wipe zeroes the secret material in place.
func (k *Keypair) Wipe() {
	common.WipeByteArray(k.Secret)
}
