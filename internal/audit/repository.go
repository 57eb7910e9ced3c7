package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kinloop/kinloop/internal/dbx"
)

// SQLiteRepository implements Repository over a DBTX. Detail maps are
// stored as a JSON column.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const auditColumns = `id, type, actor, target_type, target_id, detail, created_at`

func (r *SQLiteRepository) Insert(ctx context.Context, e *Entry) error {
	detail := []byte("{}")
	if len(e.Detail) > 0 {
		var err error
		detail, err = json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
	}
	query := `INSERT INTO audit_entries (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, string(e.Type), e.Actor, e.TargetType, e.TargetID, string(detail), e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ByTarget(ctx context.Context, targetType, targetID string) ([]*Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries
		WHERE target_type = ? AND target_id = ? ORDER BY created_at DESC, id DESC`
	return r.queryEntries(ctx, query, targetType, targetID)
}

func (r *SQLiteRepository) ByActor(ctx context.Context, actor string) ([]*Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries
		WHERE actor = ? ORDER BY created_at DESC, id DESC`
	return r.queryEntries(ctx, query, actor)
}

func (r *SQLiteRepository) ByType(ctx context.Context, t EntryType) ([]*Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries
		WHERE type = ? ORDER BY created_at DESC, id DESC`
	return r.queryEntries(ctx, query, string(t))
}

func (r *SQLiteRepository) Recent(ctx context.Context, n int) ([]*Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries
		ORDER BY created_at DESC, id DESC LIMIT ?`
	return r.queryEntries(ctx, query, n)
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	e := &Entry{}
	var entryType, detail string
	var createdAt int64
	err := rows.Scan(&e.ID, &entryType, &e.Actor, &e.TargetType, &e.TargetID, &detail, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Type = EntryType(entryType)
	e.CreatedAt = time.Unix(createdAt, 0)
	if detail != "" && detail != "{}" {
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode audit detail: %w", err)
		}
	}
	return e, nil
}
