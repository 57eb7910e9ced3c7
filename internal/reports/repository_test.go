package reports

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
	db, err := sql.Open("sqlite", "file:reports_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS reports (
  id TEXT PRIMARY KEY,
  video_id TEXT NOT NULL,
  subject_child TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  reporter TEXT NOT NULL,
  reporter_child TEXT NOT NULL DEFAULT '',
  level INTEGER NOT NULL,
  recipient_class TEXT NOT NULL,
  direction TEXT NOT NULL,
  status TEXT NOT NULL,
  action TEXT NOT NULL,
  relationship_id TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  resolved_at INTEGER NOT NULL DEFAULT 0
);
DELETE FROM reports;
`)
	require.NoError(t, err)
	return db
}

func sampleReport(id string) *Report {
	return &Report{
		ID:             id,
		VideoID:        "v1",
		SubjectChild:   "c1",
		Reason:         ReasonSpam,
		Reporter:       "parentkey",
		Level:          LevelPeer,
		RecipientClass: "group",
		Direction:      DirectionOutbound,
		Status:         StatusPending,
		Action:         ActionNone,
		CreatedAt:      time.Unix(time.Now().Unix(), 0),
	}
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rep := sampleReport("r1")
	require.NoError(t, repo.Insert(ctx, rep))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rep, got)
	assert.True(t, got.ResolvedAt.IsZero())
}

func TestSQLiteRepository_UpdateResolution(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rep := sampleReport("r1")
	require.NoError(t, repo.Insert(ctx, rep))

	rep.Status = StatusActioned
	rep.Action = ActionBlock
	rep.RelationshipID = "rel1"
	rep.ResolvedAt = rep.CreatedAt.Add(time.Minute)
	require.NoError(t, repo.Update(ctx, rep))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusActioned, got.Status)
	assert.Equal(t, ActionBlock, got.Action)
	assert.Equal(t, "rel1", got.RelationshipID)
	assert.Equal(t, rep.ResolvedAt, got.ResolvedAt)
}

func TestSQLiteRepository_Missing(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	err = repo.Update(ctx, sampleReport("ghost"))
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLiteRepository_Lists(t *testing.T) {
	repo := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a := sampleReport("r1")
	b := sampleReport("r2")
	b.VideoID = "v2"
	b.Status = StatusActioned
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))

	pending, err := repo.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].ID)

	byVideo, err := repo.ListByVideo(ctx, "v2")
	require.NoError(t, err)
	require.Len(t, byVideo, 1)
	assert.Equal(t, "r2", byVideo[0].ID)
}
