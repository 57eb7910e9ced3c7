package relay

import (
	"context"
	"errors"
)

var (
	// ErrNoEndpoints is returned when a publish or subscribe has no
	// connected endpoint to talk to.
	ErrNoEndpoints = errors.New("no connected relay endpoints")

	// ErrPublishFailed wraps endpoint-level failures. A publish that reached
	// only part of the endpoint set still fails with this error; partial
	// delivery is never reported as success.
	ErrPublishFailed = errors.New("relay publish failed")

	// ErrDuplicateSubscription is returned when a subscription id is reused
	// while still active.
	ErrDuplicateSubscription = errors.New("subscription id already active")
)

// Network is the event relay contract consumed by the directory, transport,
// and custody layers.
//
// Subscribe returns a channel that delivers matching events until
// Unsubscribe is called with the same id (or the network shuts down), at
// which point the channel is closed. Every Subscribe must be paired with
// exactly one Unsubscribe; Unsubscribe with an unknown id is a no-op.
type Network interface {
	// ConnectedEndpoints lists the endpoint URLs currently reachable.
	ConnectedEndpoints() []string

	// Publish sends a signed event to the given endpoints (or the full
	// connected set when endpoints is nil). It fails unless every targeted
	// endpoint accepted the event.
	Publish(ctx context.Context, ev Event, endpoints []string) error

	// Subscribe opens a filtered event stream identified by id.
	Subscribe(ctx context.Context, id string, filter Filter, endpoints []string) (<-chan Event, error)

	// Unsubscribe tears down the stream opened with the same id.
	Unsubscribe(id string, endpoints []string)
}
