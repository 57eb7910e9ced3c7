package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/dbx"
)

// Repository persists reports.
type Repository interface {
	Insert(ctx context.Context, r *Report) error
	Update(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id string) (*Report, error)
	ListByStatus(ctx context.Context, status Status) ([]*Report, error)
	ListByVideo(ctx context.Context, videoID string) ([]*Report, error)
}

// SQLiteRepository implements Repository over a DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const reportColumns = `id, video_id, subject_child, reason, note, reporter, reporter_child,
	level, recipient_class, direction, status, action, relationship_id,
	created_at, resolved_at`

func (r *SQLiteRepository) Insert(ctx context.Context, rep *Report) error {
	query := `INSERT INTO reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rep.ID, rep.VideoID, rep.SubjectChild, string(rep.Reason), rep.Note, rep.Reporter, rep.ReporterChild,
		int(rep.Level), rep.RecipientClass, string(rep.Direction), string(rep.Status), string(rep.Action), rep.RelationshipID,
		rep.CreatedAt.Unix(), unixOrZero(rep.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, rep *Report) error {
	query := `UPDATE reports SET
		status = ?, action = ?, relationship_id = ?, resolved_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(rep.Status), string(rep.Action), rep.RelationshipID, unixOrZero(rep.ResolvedAt),
		rep.ID)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
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

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = ?`
	rep, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return rep, err
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]*Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports
		WHERE status = ? ORDER BY created_at DESC, id DESC`
	return r.queryReports(ctx, query, string(status))
}

func (r *SQLiteRepository) ListByVideo(ctx context.Context, videoID string) ([]*Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports
		WHERE video_id = ? ORDER BY created_at DESC, id DESC`
	return r.queryReports(ctx, query, videoID)
}

func (r *SQLiteRepository) queryReports(ctx context.Context, query string, args ...any) ([]*Report, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var result []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rep)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	rep := &Report{}
	var reason, direction, status, action string
	var level int
	var createdAt, resolvedAt int64
	err := row.Scan(
		&rep.ID, &rep.VideoID, &rep.SubjectChild, &reason, &rep.Note, &rep.Reporter, &rep.ReporterChild,
		&level, &rep.RecipientClass, &direction, &status, &action, &rep.RelationshipID,
		&createdAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	rep.Reason = Reason(reason)
	rep.Level = Level(level)
	rep.Direction = Direction(direction)
	rep.Status = Status(status)
	rep.Action = Action(action)
	rep.CreatedAt = time.Unix(createdAt, 0)
	if resolvedAt != 0 {
		rep.ResolvedAt = time.Unix(resolvedAt, 0)
	}
	return rep, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
