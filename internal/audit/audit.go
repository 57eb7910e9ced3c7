// Package audit keeps an append-only record of moderation-relevant
// actions. Writes are best effort: a failed audit write never fails the
// caller's primary operation. The only destructive operation is pruning
// by age.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/logging"
)

// EntryType classifies an audited action.
type EntryType string

const (
	TypeReportSubmitted     EntryType = "reportSubmitted"
	TypeReportReceived      EntryType = "reportReceived"
	TypeReportActioned      EntryType = "reportActioned"
	TypeRelationshipCreated EntryType = "relationshipCreated"
	TypeRelationshipChanged EntryType = "relationshipChanged"
	TypeVideoBlocked        EntryType = "videoBlocked"
	TypeVideoLiked          EntryType = "videoLiked"
	TypeModeratorEscalation EntryType = "moderatorEscalation"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         string
	Type       EntryType
	Actor      string
	TargetType string
	TargetID   string
	Detail     map[string]string
	CreatedAt  time.Time
}

// Repository persists audit entries.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	ByTarget(ctx context.Context, targetType, targetID string) ([]*Entry, error)
	ByActor(ctx context.Context, actor string) ([]*Entry, error)
	ByType(ctx context.Context, t EntryType) ([]*Entry, error)
	Recent(ctx context.Context, n int) ([]*Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Log records actions and answers queries over the trail.
type Log struct {
	repo Repository
	log  logging.Logger
	now  func() time.Time
}

func New(repo Repository, log logging.Logger) *Log {
	return &Log{repo: repo, log: log, now: time.Now}
}

// Record appends an entry. Failures are logged and swallowed so the
// caller's primary operation is never blocked on the trail.
func (l *Log) Record(ctx context.Context, t EntryType, actor, targetType, targetID string, detail map[string]string) {
	e := &Entry{
		ID:         uuid.NewString(),
		Type:       t,
		Actor:      actor,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
		CreatedAt:  l.now(),
	}
	if err := l.repo.Insert(ctx, e); err != nil {
		l.log.Warn(ctx, "audit write failed", "type", t, "error", err)
	}
}

// ByTarget returns entries about one target, newest first.
func (l *Log) ByTarget(ctx context.Context, targetType, targetID string) ([]*Entry, error) {
	return l.repo.ByTarget(ctx, targetType, targetID)
}

// ByActor returns entries authored by one actor key, newest first.
func (l *Log) ByActor(ctx context.Context, actor string) ([]*Entry, error) {
	return l.repo.ByActor(ctx, actor)
}

// ByType returns entries of one action type, newest first.
func (l *Log) ByType(ctx context.Context, t EntryType) ([]*Entry, error) {
	return l.repo.ByType(ctx, t)
}

// Recent returns the n newest entries.
func (l *Log) Recent(ctx context.Context, n int) ([]*Entry, error) {
	return l.repo.Recent(ctx, n)
}

// Prune deletes entries older than cutoff and returns how many were
// removed.
func (l *Log) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := l.repo.DeleteOlderThan(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.log.Info(ctx, "audit entries pruned", "count", n)
	}
	return n, nil
}
