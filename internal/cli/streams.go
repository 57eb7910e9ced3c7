package cli

import (
	"context"

	"github.com/kinloop/kinloop/internal/ledger"
	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/transport"
)

// groupStreams is the slice of the transport the stream gate drives.
type groupStreams interface {
	Subscribe(ctx context.Context, groupID string, handler transport.Handler) (func(), error)
	Unsubscribe(groupID string)
}

// streamGate keeps group subscriptions aligned with relationship state.
// Leaving active closes the group's stream mid-session so no further
// inbound traffic is consumed; returning to active reopens it. Registered
// as a ledger observer at startup.
type streamGate struct {
	streams groupStreams
	handler transport.Handler
	log     logging.Logger
}

func (g *streamGate) RelationshipChanged(ctx context.Context, change ledger.Change) {
	groupID := change.Relationship.GroupID
	if change.Relationship.CanExchangeTraffic() {
		if _, err := g.streams.Subscribe(ctx, groupID, g.handler); err != nil {
			g.log.Warn(ctx, "group subscription failed", "group", groupID, "error", err)
		}
		return
	}
	g.streams.Unsubscribe(groupID)
	if change.MediaPurgeRequested {
		g.log.Info(ctx, "cached media purge requested",
			"group", groupID, "relationship", change.Relationship.ID)
	}
}
