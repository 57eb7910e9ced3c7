package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// ErrWrapOpen is returned when a wrapped payload cannot be authenticated or
// decrypted with the given wrap keypair.
var ErrWrapOpen = errors.New("failed to open wrapped payload")

// WrapKeypair is a curve25519 keypair used for out-of-band secret wrapping,
// distinct from the primary signing identity.
type WrapKeypair struct {
	Public [32]byte
	Secret [32]byte
}

// GenerateWrapKeypair creates a fresh curve25519 keypair.
func GenerateWrapKeypair() (*WrapKeypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &WrapKeypair{Public: *pub, Secret: *priv}, nil
}

// wrapDerivationLabel domain-separates the wrap key from any other use of
// the signing seed.
const wrapDerivationLabel = "kinloop/wrap-key/v1:"

// DeriveWrapKeypair derives the wrap keypair deterministically from the
// parent signing seed, so a device restored from the parent key alone can
// open previously sealed payloads.
func DeriveWrapKeypair(seed []byte) (*WrapKeypair, error) {
	h := sha256.Sum256(append([]byte(wrapDerivationLabel), seed...))
	secret := h
	secret[0] &= 248
	secret[31] &= 127
	secret[31] |= 64

	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &WrapKeypair{Secret: secret}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SealToSelf encrypts plaintext so that only the holder of kp's secret key
// can open it. An ephemeral sender keypair is generated per call, so the
// output carries no long-term sender identity.
func SealToSelf(plaintext []byte, kp *WrapKeypair) ([]byte, error) {
	return box.SealAnonymous(nil, plaintext, &kp.Public, rand.Reader)
}

// OpenFromSelf decrypts a payload produced by SealToSelf.
func OpenFromSelf(sealed []byte, kp *WrapKeypair) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, &kp.Public, &kp.Secret)
	if !ok {
		return nil, ErrWrapOpen
	}
	return out, nil
}
