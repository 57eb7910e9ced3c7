// Package directory publishes and discovers group-join key packages for a
// public key across the configured relay set, with bounded-time collection.
package directory

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/relay"
)

// ErrMalformedPublicKey is returned when the lookup key is not a canonical
// 32-byte hex public key.
var ErrMalformedPublicKey = errors.New("malformed public key")

// KeyPackage is a discovered credential enabling the author to be added to
// a cryptographic group.
type KeyPackage struct {
	EventID   string
	Author    string
	Content   string
	CreatedAt int64
}

// Strategy selects how Fetch collects events from the stream.
type Strategy int

const (
	// CollectRace drains the stream event-driven, racing the timeout.
	CollectRace Strategy = iota

	// CollectPoll drains the stream at a fixed interval. Fallback for
	// environments where event-driven wakeups are unreliable; produces the
	// same result set as CollectRace for the same input stream.
	CollectPoll
)

// FetchOptions tune a Fetch call. Zero values fall back to the service
// defaults (full relay set, default timeout, no cap, CollectRace).
type FetchOptions struct {
	Relays   []string
	Timeout  time.Duration
	Limit    int
	Strategy Strategy
}

// Service implements the key-package directory over a relay network.
type Service struct {
	network relay.Network
	log     logging.Logger
	timeout time.Duration
}

func NewService(network relay.Network, log logging.Logger, timeout time.Duration) *Service {
	return &Service{network: network, log: log, timeout: timeout}
}

// NormalizePublicKey canonicalizes a hex public key (trimmed, lowercase) and
// rejects anything that is not 32 bytes of hex.
func NormalizePublicKey(key string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	raw, err := hex.DecodeString(normalized)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: %q", ErrMalformedPublicKey, key)
	}
	return normalized, nil
}

// Publish forwards a pre-signed key-package event to the resolved relay set.
func (s *Service) Publish(ctx context.Context, ev relay.Event, relays ...string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.network.Publish(ctx, ev, relays); err != nil {
		return fmt.Errorf("key package publish failed: %w", err)
	}
	return nil
}

// Fetch collects key packages published by forPublicKey until the timeout
// elapses or the cap is reached. The subscription is torn down on every exit
// path, including timeout and caller cancellation. Duplicate events (same
// id) are deduplicated.
func (s *Service) Fetch(ctx context.Context, forPublicKey string, opts FetchOptions) ([]KeyPackage, error) {
	author, err := NormalizePublicKey(forPublicKey)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	filter := relay.Filter{
		Authors: []string{author},
		Kinds:   []int{relay.KindKeyPackage},
	}

	subID := uuid.NewString()
	ch, err := s.network.Subscribe(ctx, subID, filter, opts.Relays)
	if err != nil {
		return nil, fmt.Errorf("key package subscribe failed: %w", err)
	}
	defer s.network.Unsubscribe(subID, opts.Relays)

	switch opts.Strategy {
	case CollectPoll:
		return collectPoll(ctx, ch, timeout, opts.Limit), nil
	default:
		return collectRace(ctx, ch, timeout, opts.Limit), nil
	}
}

// collectRace waits on the stream directly, first of {event, timer, cancel}
// wins each round.
func collectRace(ctx context.Context, ch <-chan relay.Event, timeout time.Duration, limit int) []KeyPackage {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	acc := newAccumulator(limit)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return acc.result()
			}
			if acc.add(ev) {
				return acc.result()
			}
		case <-timer.C:
			return acc.result()
		case <-ctx.Done():
			return acc.result()
		}
	}
}

// collectPoll drains whatever queued up every interval until the deadline.
func collectPoll(ctx context.Context, ch <-chan relay.Event, timeout time.Duration, limit int) []KeyPackage {
	const interval = 100 * time.Millisecond
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	acc := newAccumulator(limit)
	for {
		select {
		case <-ticker.C:
			for {
				select {
				case ev, open := <-ch:
					if !open || acc.add(ev) {
						return acc.result()
					}
				default:
					goto next
				}
			}
		case <-ctx.Done():
			return acc.result()
		}
	next:
		if !time.Now().Before(deadline) {
			return acc.result()
		}
	}
}

// accumulator dedupes by event id and enforces the cap.
type accumulator struct {
	limit int
	seen  map[string]struct{}
	out   []KeyPackage
}

func newAccumulator(limit int) *accumulator {
	return &accumulator{limit: limit, seen: make(map[string]struct{})}
}

// add records the event and reports whether the cap has been reached.
func (a *accumulator) add(ev relay.Event) bool {
	if _, dup := a.seen[ev.ID]; dup {
		return false
	}
	a.seen[ev.ID] = struct{}{}
	a.out = append(a.out, KeyPackage{
		EventID:   ev.ID,
		Author:    ev.Author,
		Content:   ev.Content,
		CreatedAt: ev.CreatedAt,
	})
	return a.limit > 0 && len(a.out) >= a.limit
}

func (a *accumulator) result() []KeyPackage {
	if a.out == nil {
		return []KeyPackage{}
	}
	return a.out
}
