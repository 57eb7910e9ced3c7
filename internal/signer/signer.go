// Package signer turns application payloads into signed relay events and
// verifies inbound event signatures.
package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/kinloop/kinloop/internal/identity"
	"github.com/kinloop/kinloop/internal/relay"
)

var (
	// ErrBadSignature is returned when an event's signature does not verify
	// against its author key.
	ErrBadSignature = errors.New("bad event signature")

	// ErrBadEventID is returned when an event's id does not match its
	// canonical serialization.
	ErrBadEventID = errors.New("event id mismatch")
)

// Ed25519 signs events with the identity's ed25519 key. It satisfies
// identity.EventSigner.
type Ed25519 struct{}

// Sign builds the event envelope, computes its canonical id, and signs the
// id bytes. A zero `at` means time.Now().
func (Ed25519) Sign(kind int, tags [][]string, content string, kp *identity.Keypair, at time.Time) (relay.Event, error) {
	if at.IsZero() {
		at = time.Now()
	}
	ev := relay.Event{
		Kind:      kind,
		Author:    kp.PublicHex(),
		Tags:      tags,
		Content:   content,
		CreatedAt: at.Unix(),
	}
	id, err := ev.ComputeID()
	if err != nil {
		return relay.Event{}, fmt.Errorf("failed to compute event id: %w", err)
	}
	ev.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return relay.Event{}, err
	}
	sig := ed25519.Sign(kp.PrivateKey(), idBytes)
	ev.Sig = hex.EncodeToString(sig)
	return ev, nil
}

// Verify recomputes the event id and checks the signature against the
// author's public key.
func Verify(ev relay.Event) error {
	id, err := ev.ComputeID()
	if err != nil {
		return err
	}
	if id != ev.ID {
		return ErrBadEventID
	}

	pub, err := hex.DecodeString(ev.Author)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrBadSignature
	}
	idBytes, err := hex.DecodeString(ev.ID)
	if err != nil {
		return ErrBadSignature
	}
	sig, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), idBytes, sig) {
		return ErrBadSignature
	}
	return nil
}
