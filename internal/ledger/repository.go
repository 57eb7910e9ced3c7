package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/dbx"
)

// Repository persists relationships.
type Repository interface {
	Insert(ctx context.Context, r *Relationship) error
	Update(ctx context.Context, r *Relationship) error
	GetByID(ctx context.Context, id string) (*Relationship, error)
	GetByGroupID(ctx context.Context, groupID string) (*Relationship, error)
	ListByProfile(ctx context.Context, profileID string) ([]*Relationship, error)
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const relationshipColumns = `id, local_profile_id, remote_parent_key, remote_child_id, group_id,
	state, state_reason, state_actor, state_at,
	created_at, last_activity_at, notes,
	local_report_count, remote_report_count, blocked_by_remote`

func (r *SQLiteRepository) Insert(ctx context.Context, rel *Relationship) error {
	query := `INSERT INTO relationships (` + relationshipColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rel.ID, rel.LocalProfileID, rel.RemoteParentKey, rel.RemoteChildID, rel.GroupID,
		string(rel.State), rel.StateReason, rel.StateActor, rel.StateAt.Unix(),
		rel.CreatedAt.Unix(), rel.LastActivityAt.Unix(), rel.Notes,
		rel.LocalReportCount, rel.RemoteReportCount, boolToInt(rel.BlockedByRemote))
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, rel *Relationship) error {
	query := `UPDATE relationships SET
		state = ?, state_reason = ?, state_actor = ?, state_at = ?,
		last_activity_at = ?, notes = ?,
		local_report_count = ?, remote_report_count = ?, blocked_by_remote = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(rel.State), rel.StateReason, rel.StateActor, rel.StateAt.Unix(),
		rel.LastActivityAt.Unix(), rel.Notes,
		rel.LocalReportCount, rel.RemoteReportCount, boolToInt(rel.BlockedByRemote),
		rel.ID)
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE id = ?`
	return scanRelationship(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) GetByGroupID(ctx context.Context, groupID string) (*Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE group_id = ?`
	return scanRelationship(r.db.QueryRowContext(ctx, query, groupID))
}

func (r *SQLiteRepository) ListByProfile(ctx context.Context, profileID string) ([]*Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships
		WHERE local_profile_id = ? ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	var result []*Relationship
	for rows.Next() {
		rel, err := scanRelationshipRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rel)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelationship(row *sql.Row) (*Relationship, error) {
	rel, err := scanRelationshipRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return rel, err
}

func scanRelationshipRow(row rowScanner) (*Relationship, error) {
	rel := &Relationship{}
	var state string
	var stateAt, createdAt, lastActivityAt int64
	var blockedByRemote int
	err := row.Scan(
		&rel.ID, &rel.LocalProfileID, &rel.RemoteParentKey, &rel.RemoteChildID, &rel.GroupID,
		&state, &rel.StateReason, &rel.StateActor, &stateAt,
		&createdAt, &lastActivityAt, &rel.Notes,
		&rel.LocalReportCount, &rel.RemoteReportCount, &blockedByRemote)
	if err != nil {
		return nil, err
	}
	rel.State = State(state)
	rel.StateAt = time.Unix(stateAt, 0)
	rel.CreatedAt = time.Unix(createdAt, 0)
	rel.LastActivityAt = time.Unix(lastActivityAt, 0)
	rel.BlockedByRemote = blockedByRemote != 0
	return rel, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
