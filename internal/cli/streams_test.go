package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinloop/kinloop/internal/ledger"
	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/relay"
	"github.com/kinloop/kinloop/internal/transport"
)

type fakeStreams struct {
	subscribed   []string
	unsubscribed []string
	SubErr       error
}

func (f *fakeStreams) Subscribe(ctx context.Context, groupID string, h transport.Handler) (func(), error) {
	if f.SubErr != nil {
		return nil, f.SubErr
	}
	f.subscribed = append(f.subscribed, groupID)
	return func() {}, nil
}

func (f *fakeStreams) Unsubscribe(groupID string) {
	f.unsubscribed = append(f.unsubscribed, groupID)
}

func gateFixture(t *testing.T) (*ledger.Ledger, *fakeStreams, *ledger.Relationship) {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rels := ledger.New(ledger.NewMemoryRepository(), log)
	streams := &fakeStreams{}
	rels.AddObserver(&streamGate{
		streams: streams,
		handler: func(context.Context, []byte, relay.Event) {},
		log:     log,
	})
	rel, err := rels.Create(context.Background(), "p1", "remotekey", "rc1", "g1")
	require.NoError(t, err)
	return rels, streams, rel
}

func TestStreamGate_BlockClosesGroupStream(t *testing.T) {
	rels, streams, rel := gateFixture(t)
	ctx := context.Background()

	_, err := rels.Transition(ctx, rel.ID, ledger.StateBlocked, "bad behavior", "parent")
	require.NoError(t, err)

	assert.Equal(t, []string{"g1"}, streams.unsubscribed, "blocking must close the group stream")
	assert.Empty(t, streams.subscribed)
}

func TestStreamGate_FreezeClosesAndUnfreezeReopens(t *testing.T) {
	rels, streams, rel := gateFixture(t)
	ctx := context.Background()

	_, err := rels.Transition(ctx, rel.ID, ledger.StateFrozen, "", "parent")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, streams.unsubscribed)

	_, err = rels.Transition(ctx, rel.ID, ledger.StateActive, "", "parent")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, streams.subscribed, "returning to active reopens the stream")
}

func TestStreamGate_RemoveClosesGroupStream(t *testing.T) {
	rels, streams, rel := gateFixture(t)

	_, err := rels.Transition(context.Background(), rel.ID, ledger.StateRemoved, "", "parent")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, streams.unsubscribed)
}

func TestStreamGate_ResubscribeFailureIsNonFatal(t *testing.T) {
	rels, streams, rel := gateFixture(t)
	ctx := context.Background()

	_, err := rels.Transition(ctx, rel.ID, ledger.StateFrozen, "", "parent")
	require.NoError(t, err)

	streams.SubErr = errors.New("relay down")
	_, err = rels.Transition(ctx, rel.ID, ledger.StateActive, "", "parent")
	require.NoError(t, err, "transition succeeds even when the stream cannot reopen")
	assert.Empty(t, streams.subscribed)
}
