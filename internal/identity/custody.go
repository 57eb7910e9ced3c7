package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/cryptox"
	"github.com/kinloop/kinloop/internal/logging"
)

// Custody owns every keypair of the installation. It is the sole mutator of
// the secure store and serializes its own state behind a mutex.
type Custody struct {
	store Store
	log   logging.Logger

	mu   sync.Mutex
	wrap *cryptox.WrapKeypair
}

func NewCustody(store Store, log logging.Logger) *Custody {
	return &Custody{store: store, log: log}
}

// HasParentIdentity reports whether a parent keypair has been provisioned.
func (c *Custody) HasParentIdentity(ctx context.Context) bool {
	_, err := c.store.Fetch(ctx, RoleParent)
	return err == nil
}

// GenerateParentIdentity creates and persists the parent keypair. It fails
// with ErrIdentityExists if one already exists; at most one parent keypair
// is active at a time.
func (c *Custody) GenerateParentIdentity(ctx context.Context, requireStrongAuth bool) (*Keypair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Fetch(ctx, RoleParent); err == nil {
		return nil, ErrIdentityExists
	}

	kp := NewKeypair(RoleParent)
	if err := c.store.Store(ctx, kp, requireStrongAuth); err != nil {
		return nil, fmt.Errorf("failed to persist parent identity: %w", err)
	}

	if _, err := c.wrapKeypairLocked(ctx); err != nil {
		c.log.Warn(ctx, "wrap keypair provisioning failed", "error", err)
	}
	return kp, nil
}

// ImportParentIdentity validates and persists previously exported secret
// material. Accepted forms: raw 32-byte seed material, or its 64-character
// hex encoding. Anything else fails with ErrMalformedKey.
func (c *Custody) ImportParentIdentity(ctx context.Context, secret []byte, requireStrongAuth bool) (*Keypair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Fetch(ctx, RoleParent); err == nil {
		return nil, ErrIdentityExists
	}

	seed, err := normalizeSecret(secret)
	if err != nil {
		return nil, err
	}

	kp := KeypairFromSeed(RoleParent, seed)
	if err := c.store.Store(ctx, kp, requireStrongAuth); err != nil {
		return nil, fmt.Errorf("failed to persist parent identity: %w", err)
	}

	if _, err := c.wrapKeypairLocked(ctx); err != nil {
		c.log.Warn(ctx, "wrap keypair provisioning failed", "error", err)
	}
	return kp, nil
}

func normalizeSecret(secret []byte) ([]byte, error) {
	if len(secret) == SeedSize {
		return append([]byte(nil), secret...), nil
	}
	if len(secret) == SeedSize*2 {
		decoded, err := hex.DecodeString(string(secret))
		if err == nil && len(decoded) == SeedSize {
			return decoded, nil
		}
	}
	return nil, ErrMalformedKey
}

// ParentIdentity returns the parent keypair, or ErrIdentityMissing.
func (c *Custody) ParentIdentity(ctx context.Context) (*Keypair, error) {
	kp, err := c.store.Fetch(ctx, RoleParent)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrIdentityMissing
	}
	return kp, err
}

// ChildIdentity is a pure lookup of a child profile's keypair. It returns
// common.ErrorNotFound when no keypair exists; no side effects.
func (c *Custody) ChildIdentity(ctx context.Context, profileID string) (*Keypair, error) {
	return c.store.Fetch(ctx, ChildRole(profileID))
}

// EnsureChildIdentity returns the child profile's keypair, creating one if
// absent. Idempotent: repeated calls return the same keypair.
func (c *Custody) EnsureChildIdentity(ctx context.Context, profileID string) (*Keypair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	role := ChildRole(profileID)
	kp, err := c.store.Fetch(ctx, role)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	kp = NewKeypair(role)
	if err := c.store.Store(ctx, kp, false); err != nil {
		return nil, fmt.Errorf("failed to persist child identity: %w", err)
	}
	return kp, nil
}

// WrapKeypair returns the wrap keypair, creating it lazily on first use and
// caching it afterwards.
func (c *Custody) WrapKeypair(ctx context.Context) (*cryptox.WrapKeypair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapKeypairLocked(ctx)
}

func (c *Custody) wrapKeypairLocked(ctx context.Context) (*cryptox.WrapKeypair, error) {
	if c.wrap != nil {
		return c.wrap, nil
	}

	stored, err := c.store.Fetch(ctx, RoleWrap)
	if err == nil {
		wrap := &cryptox.WrapKeypair{}
		copy(wrap.Public[:], stored.Public)
		copy(wrap.Secret[:], stored.Secret)
		c.wrap = wrap
		return wrap, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	parent, err := c.store.Fetch(ctx, RoleParent)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrIdentityMissing
	}
	if err != nil {
		return nil, err
	}

	wrap, err := cryptox.DeriveWrapKeypair(parent.Secret)
	if err != nil {
		return nil, err
	}
	kp := &Keypair{Role: RoleWrap, Public: wrap.Public[:], Secret: wrap.Secret[:]}
	if err := c.store.Store(ctx, kp, false); err != nil {
		return nil, fmt.Errorf("failed to persist wrap keypair: %w", err)
	}
	c.wrap = wrap
	return wrap, nil
}
