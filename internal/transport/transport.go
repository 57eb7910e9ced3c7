package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/identity"
	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/relay"
)

// IdentitySource resolves the signing identity for outbound messages.
// Satisfied by *identity.Custody.
type IdentitySource interface {
	ParentIdentity(ctx context.Context) (*identity.Keypair, error)
}

// Handler receives a decrypted group message together with its signed
// envelope for attribution.
type Handler func(ctx context.Context, plaintext []byte, ev relay.Event)

// Transport publishes and receives group-scoped application messages.
type Transport struct {
	network  relay.Network
	engine   Engine
	signer   identity.EventSigner
	identity IdentitySource
	log      logging.Logger

	moderationEndpoints []string
	timeout             time.Duration

	mu   sync.Mutex
	subs map[string]*groupSub
}

type groupSub struct {
	subID  string
	cancel func()
}

func New(network relay.Network, engine Engine, signer identity.EventSigner, ids IdentitySource, log logging.Logger, moderationEndpoints []string, timeout time.Duration) *Transport {
	return &Transport{
		network:             network,
		engine:              engine,
		signer:              signer,
		identity:            ids,
		log:                 log,
		moderationEndpoints: moderationEndpoints,
		timeout:             timeout,
		subs:                make(map[string]*groupSub),
	}
}

// PublishToGroup encrypts the payload under the group's current state, signs
// it, and publishes to the relay set. The publish races the configured
// timeout; on timeout the operation fails even if the underlying send later
// lands. Partial success is never reported.
func (t *Transport) PublishToGroup(ctx context.Context, payload []byte, groupID string) error {
	kp, err := t.identity.ParentIdentity(ctx)
	if err != nil {
		return err
	}

	sealed, err := t.engine.Encrypt(ctx, payload, groupID)
	if err != nil {
		if errors.Is(err, ErrGroupUnavailable) {
			return ErrGroupUnavailable
		}
		return fmt.Errorf("group message encrypt failed: %w", err)
	}

	ev, err := t.signer.Sign(relay.KindGroupMessage,
		[][]string{{"g", groupID}},
		base64.StdEncoding.EncodeToString(sealed),
		kp, time.Now())
	if err != nil {
		return fmt.Errorf("group message sign failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.network.Publish(ctx, ev, nil); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return common.ErrorTimeout
		}
		if errors.Is(err, relay.ErrNoEndpoints) {
			return common.ErrorNoConnectedEndpoints
		}
		return fmt.Errorf("group message publish failed: %w", err)
	}
	return nil
}

// PublishToModerationEndpoints bypasses group encryption and sends a
// plaintext-signed message to the fixed moderation endpoint set. Reserved
// for level-3 escalations.
func (t *Transport) PublishToModerationEndpoints(ctx context.Context, payload []byte) error {
	kp, err := t.identity.ParentIdentity(ctx)
	if err != nil {
		return err
	}

	ev, err := t.signer.Sign(relay.KindModeration, nil, string(payload), kp, time.Now())
	if err != nil {
		return fmt.Errorf("moderation message sign failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.network.Publish(ctx, ev, t.moderationEndpoints); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return common.ErrorTimeout
		}
		if errors.Is(err, relay.ErrNoEndpoints) {
			return common.ErrorNoConnectedEndpoints
		}
		return fmt.Errorf("moderation publish failed: %w", err)
	}
	return nil
}

// Subscribe opens the group's event stream and invokes handler for every
// message that decrypts. It is idempotent per group id: a second Subscribe
// returns the existing subscription's cancel. The returned cancel is the
// paired unsubscribe; it is safe to call more than once and runs on every
// exit path of the consumer goroutine.
func (t *Transport) Subscribe(ctx context.Context, groupID string, handler Handler) (func(), error) {
	t.mu.Lock()
	if existing, ok := t.subs[groupID]; ok {
		t.mu.Unlock()
		return existing.cancel, nil
	}
	t.mu.Unlock()

	filter := relay.Filter{
		Kinds: []int{relay.KindGroupMessage},
		Tags:  map[string][]string{"g": {groupID}},
	}
	subID := uuid.NewString()
	ch, err := t.network.Subscribe(ctx, subID, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("group subscribe failed: %w", err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.network.Unsubscribe(subID, nil)
			t.mu.Lock()
			delete(t.subs, groupID)
			t.mu.Unlock()
		})
	}

	t.mu.Lock()
	t.subs[groupID] = &groupSub{subID: subID, cancel: cancel}
	t.mu.Unlock()

	go func() {
		defer cancel()
		for {
			select {
			case ev, open := <-ch:
				if !open {
					return
				}
				sealed, err := base64.StdEncoding.DecodeString(ev.Content)
				if err != nil {
					t.log.Warn(ctx, "dropping malformed group message", "event", ev.ID)
					continue
				}
				plaintext, err := t.engine.Decrypt(ctx, sealed, groupID)
				if err != nil {
					t.log.Warn(ctx, "dropping undecryptable group message", "event", ev.ID, "error", err)
					continue
				}
				handler(ctx, plaintext, ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel, nil
}

// Unsubscribe tears down the group's stream if one is open. Unknown
// groups are a no-op.
func (t *Transport) Unsubscribe(groupID string) {
	t.mu.Lock()
	sub, ok := t.subs[groupID]
	t.mu.Unlock()
	if ok {
		sub.cancel()
	}
}
