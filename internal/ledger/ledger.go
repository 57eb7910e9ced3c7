package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/logging"
)

// Change describes a completed state transition. MediaPurgeRequested asks
// the storage collaborator to delete locally cached media for the
// relationship's group; the ledger never deletes media itself.
type Change struct {
	Relationship        *Relationship
	Previous            State
	Reason              string
	Actor               string
	MediaPurgeRequested bool
}

// Observer receives relationship change notifications. Observers are
// registered at startup, so consumers are statically known collaborators.
type Observer interface {
	RelationshipChanged(ctx context.Context, change Change)
}

// Ledger owns all relationship rows. Transitions for the same relationship
// id are serialized; different relationships proceed independently.
type Ledger struct {
	repo Repository
	log  logging.Logger

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	observers []Observer
}

func New(repo Repository, log logging.Logger) *Ledger {
	return &Ledger{repo: repo, log: log, locks: make(map[string]*sync.Mutex)}
}

// AddObserver registers a change consumer. Not safe to call after the
// ledger is in use; wire observers during startup.
func (l *Ledger) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

func (l *Ledger) relationshipLock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// Create registers a pairing. Idempotent by group id: calling twice with
// the same parameters returns the existing record unmodified, while a
// groupID already bound to a different profile or remote parent fails
// with ErrRelationshipExists. At most one relationship exists per group.
func (l *Ledger) Create(ctx context.Context, localProfileID, remoteParentKey, remoteChildID, groupID string) (*Relationship, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.repo.GetByGroupID(ctx, groupID)
	if err == nil {
		if existing.LocalProfileID != localProfileID || existing.RemoteParentKey != remoteParentKey {
			return nil, fmt.Errorf("%w: group %s is bound to another pairing", ErrRelationshipExists, groupID)
		}
		return existing, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	now := time.Now()
	rel := &Relationship{
		ID:              uuid.NewString(),
		LocalProfileID:  localProfileID,
		RemoteParentKey: remoteParentKey,
		RemoteChildID:   remoteChildID,
		GroupID:         groupID,
		State:           StateActive,
		StateAt:         now,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := l.repo.Insert(ctx, rel); err != nil {
		return nil, err
	}
	l.log.Info(ctx, "relationship created", "relationship", rel.ID, "group", groupID)
	return rel, nil
}

// Transition moves a relationship to newState. It fails with
// ErrInvalidTransition unless the table permits currentState -> newState,
// and with common.ErrorNotFound for unknown ids. A transition to the
// current state is a no-op returning the unchanged record, so repeated
// idempotent updates never fail. Block and remove request deletion of the
// group's cached media via the observer notification.
func (l *Ledger) Transition(ctx context.Context, id string, newState State, reason, actor string) (*Relationship, error) {
	lock := l.relationshipLock(id)
	lock.Lock()
	defer lock.Unlock()

	rel, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rel.State == newState {
		return rel, nil
	}
	if !rel.State.CanTransitionTo(newState) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rel.State, newState)
	}

	previous := rel.State
	now := time.Now()
	rel.State = newState
	rel.StateReason = reason
	rel.StateActor = actor
	rel.StateAt = now
	rel.LastActivityAt = now

	if err := l.repo.Update(ctx, rel); err != nil {
		return nil, err
	}

	change := Change{
		Relationship:        rel,
		Previous:            previous,
		Reason:              reason,
		Actor:               actor,
		MediaPurgeRequested: newState == StateBlocked || newState == StateRemoved,
	}
	for _, o := range l.observers {
		o.RelationshipChanged(ctx, change)
	}
	l.log.Info(ctx, "relationship transitioned",
		"relationship", id, "from", previous, "to", newState, "actor", actor)
	return rel, nil
}

// IncrementLocalReportCount bumps the count of reports we filed. Counters
// are monotonic; only relationship removal retires them.
func (l *Ledger) IncrementLocalReportCount(ctx context.Context, id string) error {
	return l.incrementCounter(ctx, id, func(r *Relationship) { r.LocalReportCount++ })
}

// IncrementRemoteReportCount bumps the count of reports filed against us.
func (l *Ledger) IncrementRemoteReportCount(ctx context.Context, id string) error {
	return l.incrementCounter(ctx, id, func(r *Relationship) { r.RemoteReportCount++ })
}

func (l *Ledger) incrementCounter(ctx context.Context, id string, bump func(*Relationship)) error {
	lock := l.relationshipLock(id)
	lock.Lock()
	defer lock.Unlock()

	rel, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	bump(rel)
	rel.LastActivityAt = time.Now()
	return l.repo.Update(ctx, rel)
}

// SetBlockedByRemote records that the remote party blocked us.
func (l *Ledger) SetBlockedByRemote(ctx context.Context, id string, blocked bool) error {
	lock := l.relationshipLock(id)
	lock.Lock()
	defer lock.Unlock()

	rel, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	rel.BlockedByRemote = blocked
	return l.repo.Update(ctx, rel)
}

// Get returns a relationship by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Relationship, error) {
	return l.repo.GetByID(ctx, id)
}

// ResolveByGroup returns the relationship bound to a group id.
func (l *Ledger) ResolveByGroup(ctx context.Context, groupID string) (*Relationship, error) {
	return l.repo.GetByGroupID(ctx, groupID)
}

// ListByProfile returns a profile's pairings.
func (l *Ledger) ListByProfile(ctx context.Context, profileID string) ([]*Relationship, error) {
	return l.repo.ListByProfile(ctx, profileID)
}
