package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kinloop/kinloop/internal/common"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:ledger_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS relationships (
  id TEXT PRIMARY KEY,
  local_profile_id TEXT NOT NULL,
  remote_parent_key TEXT NOT NULL,
  remote_child_id TEXT NOT NULL,
  group_id TEXT NOT NULL UNIQUE,
  state TEXT NOT NULL,
  state_reason TEXT NOT NULL DEFAULT '',
  state_actor TEXT NOT NULL DEFAULT '',
  state_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  last_activity_at INTEGER NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  local_report_count INTEGER NOT NULL DEFAULT 0,
  remote_report_count INTEGER NOT NULL DEFAULT 0,
  blocked_by_remote INTEGER NOT NULL DEFAULT 0
);
DELETE FROM relationships;
`)
	require.NoError(t, err)
	return db
}

func sampleRelationship(id, groupID string) *Relationship {
	now := time.Unix(time.Now().Unix(), 0)
	return &Relationship{
		ID:              id,
		LocalProfileID:  "p1",
		RemoteParentKey: "remotekey",
		RemoteChildID:   "rc1",
		GroupID:         groupID,
		State:           StateActive,
		StateAt:         now,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
}

func TestSQLiteRepository_InsertAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rel := sampleRelationship("r1", "g1")
	require.NoError(t, repo.Insert(ctx, rel))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rel, got)

	byGroup, err := repo.GetByGroupID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, rel.ID, byGroup.ID)
}

func TestSQLiteRepository_GetMissing(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = repo.GetByGroupID(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLiteRepository_Update(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rel := sampleRelationship("r1", "g1")
	require.NoError(t, repo.Insert(ctx, rel))

	rel.State = StateBlocked
	rel.StateReason = "reported"
	rel.StateActor = "p1"
	rel.LocalReportCount = 3
	rel.BlockedByRemote = true
	require.NoError(t, repo.Update(ctx, rel))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, got.State)
	assert.Equal(t, "reported", got.StateReason)
	assert.Equal(t, 3, got.LocalReportCount)
	assert.True(t, got.BlockedByRemote)
}

func TestSQLiteRepository_UpdateMissing(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))

	err := repo.Update(context.Background(), sampleRelationship("ghost", "g1"))
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLiteRepository_ListByProfile(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a := sampleRelationship("r1", "g1")
	b := sampleRelationship("r2", "g2")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	other := sampleRelationship("r3", "g3")
	other.LocalProfileID = "p2"

	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))
	require.NoError(t, repo.Insert(ctx, other))

	got, err := repo.ListByProfile(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r2", got[1].ID)
}
