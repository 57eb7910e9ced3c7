package ledger

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
}

type recordingObserver struct {
	changes []Change
}

func (r *recordingObserver) RelationshipChanged(ctx context.Context, c Change) {
	r.changes = append(r.changes, c)
}

func newLedger() (*Ledger, *recordingObserver) {
	l := New(NewMemoryRepository(), testLogger())
	obs := &recordingObserver{}
	l.AddObserver(obs)
	return l, obs
}

func mustCreate(t *testing.T, l *Ledger, groupID string) *Relationship {
	t.Helper()
	rel, err := l.Create(context.Background(), "p1", "remotekey", "rc1", groupID)
	require.NoError(t, err)
	return rel
}

func TestCreate_IdempotentByGroupID(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	first, err := l.Create(ctx, "p1", "remotekey", "rc1", "g1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, first.State)

	second, err := l.Create(ctx, "p1", "remotekey", "rc1", "g1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same group yields the same relationship")

	other, err := l.Create(ctx, "p1", "remotekey", "rc1", "g2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreate_ConflictingPairingRejected(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	_, err := l.Create(ctx, "p1", "remotekey", "rc1", "g1")
	require.NoError(t, err)

	_, err = l.Create(ctx, "p1", "otherkey", "rc1", "g1")
	assert.ErrorIs(t, err, ErrRelationshipExists, "a group binds to one remote parent")

	_, err = l.Create(ctx, "p2", "remotekey", "rc1", "g1")
	assert.ErrorIs(t, err, ErrRelationshipExists, "a group binds to one local profile")
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from State
		to   State
		ok   bool
	}{
		{StateActive, StateFrozen, true},
		{StateActive, StateBlocked, true},
		{StateActive, StateRemoved, true},
		{StateFrozen, StateActive, true},
		{StateFrozen, StateBlocked, true},
		{StateFrozen, StateRemoved, true},
		{StateBlocked, StateActive, true},
		{StateBlocked, StateRemoved, true},
		{StateBlocked, StateFrozen, false},
		{StateRemoved, StateActive, false},
		{StateRemoved, StateFrozen, false},
		{StateRemoved, StateBlocked, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.Empty(t, ValidTransitions(StateRemoved), "removed is terminal")
}

func TestTransition_RejectsIllegalMoves(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	rel := mustCreate(t, l, "g1")

	_, err := l.Transition(ctx, rel.ID, StateRemoved, "done", "p1")
	require.NoError(t, err)

	for _, to := range []State{StateActive, StateFrozen, StateBlocked} {
		_, err := l.Transition(ctx, rel.ID, to, "revive", "p1")
		assert.ErrorIs(t, err, ErrInvalidTransition, "removed -> %s must fail", to)
	}
}

func TestTransition_UnknownID(t *testing.T) {
	l, _ := newLedger()
	_, err := l.Transition(context.Background(), "missing", StateFrozen, "", "p1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestTransition_RecordsReasonActor(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	rel := mustCreate(t, l, "g1")

	got, err := l.Transition(ctx, rel.ID, StateFrozen, "cooling off", "p1")
	require.NoError(t, err)
	assert.Equal(t, StateFrozen, got.State)
	assert.Equal(t, "cooling off", got.StateReason)
	assert.Equal(t, "p1", got.StateActor)
}

func TestTransition_SameStateIsNoop(t *testing.T) {
	l, obs := newLedger()
	ctx := context.Background()
	rel := mustCreate(t, l, "g1")

	// block, unblock, then a repeated unblock (simulated double click)
	_, err := l.Transition(ctx, rel.ID, StateBlocked, "bad", "p1")
	require.NoError(t, err)
	got, err := l.Transition(ctx, rel.ID, StateActive, "resolved", "p1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)

	again, err := l.Transition(ctx, rel.ID, StateActive, "resolved", "p1")
	require.NoError(t, err, "idempotent re-transition must not fail")
	assert.Equal(t, StateActive, again.State)
	assert.Len(t, obs.changes, 2, "the no-op must not notify observers")
}

func TestTransition_BlockAndRemoveRequestMediaPurge(t *testing.T) {
	l, obs := newLedger()
	ctx := context.Background()
	rel := mustCreate(t, l, "g1")

	_, err := l.Transition(ctx, rel.ID, StateFrozen, "", "p1")
	require.NoError(t, err)
	require.Len(t, obs.changes, 1)
	assert.False(t, obs.changes[0].MediaPurgeRequested, "freeze keeps media")

	_, err = l.Transition(ctx, rel.ID, StateBlocked, "", "p1")
	require.NoError(t, err)
	require.Len(t, obs.changes, 2)
	assert.True(t, obs.changes[1].MediaPurgeRequested)

	_, err = l.Transition(ctx, rel.ID, StateRemoved, "", "p1")
	require.NoError(t, err)
	require.Len(t, obs.changes, 3)
	assert.True(t, obs.changes[2].MediaPurgeRequested)
}

func TestReportCounters_MonotonicAndHealth(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	rel := mustCreate(t, l, "g1")

	got, err := l.Get(ctx, rel.ID)
	require.NoError(t, err)
	assert.True(t, got.IsHealthy())

	require.NoError(t, l.IncrementLocalReportCount(ctx, rel.ID))
	require.NoError(t, l.IncrementLocalReportCount(ctx, rel.ID))
	require.NoError(t, l.IncrementRemoteReportCount(ctx, rel.ID))

	got, err = l.Get(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LocalReportCount)
	assert.Equal(t, 1, got.RemoteReportCount)
	assert.False(t, got.IsHealthy())
}

func TestSetBlockedByRemote(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	rel := mustCreate(t, l, "g1")

	require.NoError(t, l.SetBlockedByRemote(ctx, rel.ID, true))
	got, err := l.Get(ctx, rel.ID)
	require.NoError(t, err)
	assert.True(t, got.BlockedByRemote)
}

func TestResolveByGroup(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	rel := mustCreate(t, l, "g1")

	got, err := l.ResolveByGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, rel.ID, got.ID)

	_, err = l.ResolveByGroup(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCanExchangeTraffic(t *testing.T) {
	r := &Relationship{State: StateActive}
	assert.True(t, r.CanExchangeTraffic())
	for _, s := range []State{StateFrozen, StateBlocked, StateRemoved} {
		r.State = s
		assert.False(t, r.CanExchangeTraffic(), "state %s", s)
	}
}
