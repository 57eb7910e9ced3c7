// Package ledger tracks the lifecycle of each cross-family pairing: one row
// per (local profile, remote parent key), a four-state machine gating all
// protocol traffic, and the report counters used to assess health.
package ledger

import (
	"errors"
	"time"
)

// State is the lifecycle state of a relationship.
type State string

const (
	StateActive  State = "active"
	StateFrozen  State = "frozen"
	StateBlocked State = "blocked"
	StateRemoved State = "removed"
)

// validTransitions is the full transition table. StateRemoved is terminal.
var validTransitions = map[State][]State{
	StateActive:  {StateFrozen, StateBlocked, StateRemoved},
	StateFrozen:  {StateActive, StateBlocked, StateRemoved},
	StateBlocked: {StateActive, StateRemoved},
	StateRemoved: {},
}

// ValidTransitions returns the states reachable from s.
func ValidTransitions(s State) []State {
	out := make([]State, len(validTransitions[s]))
	copy(out, validTransitions[s])
	return out
}

// CanTransitionTo reports whether s -> to is permitted.
func (s State) CanTransitionTo(to State) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidTransition is returned for transitions outside the table.
	// Illegal transitions are always rejected, never coerced.
	ErrInvalidTransition = errors.New("invalid relationship transition")

	// ErrRelationshipExists is returned when creating a second relationship
	// for the same (local profile, group) pair with conflicting remotes.
	ErrRelationshipExists = errors.New("relationship already exists")
)

// Relationship is one cross-family pairing.
type Relationship struct {
	ID              string
	LocalProfileID  string
	RemoteParentKey string
	RemoteChildID   string
	GroupID         string

	State       State
	StateReason string
	StateActor  string
	StateAt     time.Time

	CreatedAt      time.Time
	LastActivityAt time.Time
	Notes          string

	LocalReportCount  int
	RemoteReportCount int
	BlockedByRemote   bool
}

// IsHealthy reports an active pairing with no reports in either direction.
func (r *Relationship) IsHealthy() bool {
	return r.State == StateActive && r.LocalReportCount == 0 && r.RemoteReportCount == 0
}

// CanExchangeTraffic reports whether protocol traffic may flow. Only active
// relationships send or receive.
func (r *Relationship) CanExchangeTraffic() bool {
	return r.State == StateActive
}
