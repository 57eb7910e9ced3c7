// Package reports turns user-initiated moderation intents into leveled
// protocol messages, routes them to the right destination, applies local
// consequences, and records the trail.
package reports

import (
	"errors"
	"time"

	"github.com/kinloop/kinloop/internal/messages"
)

// Level is the escalation severity. It fixes the routing destination and
// cannot be downgraded once routing has begun.
type Level int

const (
	LevelPeer      Level = 1
	LevelParent    Level = 2
	LevelModerator Level = 3
)

// RecipientClass returns the recipient tag carried in the wire message.
func (l Level) RecipientClass() string {
	switch l {
	case LevelPeer:
		return messages.RecipientGroup
	case LevelParent:
		return messages.RecipientParents
	case LevelModerator:
		return messages.RecipientModerators
	}
	return ""
}

func (l Level) Valid() bool {
	return l >= LevelPeer && l <= LevelModerator
}

// Reason classifies why a report was filed.
type Reason string

const (
	ReasonHarassment    Reason = "harassment"
	ReasonSpam          Reason = "spam"
	ReasonInappropriate Reason = "inappropriate"
	ReasonIllegal       Reason = "illegal"
	ReasonOther         Reason = "other"
)

// Status is the report lifecycle position. It only ever advances toward a
// resolved state, never regresses.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusDismissed    Status = "dismissed"
	StatusActioned     Status = "actioned"
)

var statusRank = map[Status]int{
	StatusPending:      0,
	StatusAcknowledged: 1,
	StatusDismissed:    2,
	StatusActioned:     2,
}

// CanAdvanceTo reports whether s may move to next without regressing.
func (s Status) CanAdvanceTo(next Status) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	n, ok := statusRank[next]
	if !ok {
		return false
	}
	return n > cur
}

// Action is the local consequence recorded with a resolved report.
type Action string

const (
	ActionNone            Action = "none"
	ActionReportOnly      Action = "reportOnly"
	ActionUnfollow        Action = "unfollow"
	ActionBlock           Action = "block"
	ActionDeleted         Action = "deleted"
	ActionConversationHad Action = "conversationHad"
)

// Direction distinguishes reports we filed from reports filed against us.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

var (
	// ErrParentIdentityMissing is returned when a report is submitted
	// before a parent identity exists on this device.
	ErrParentIdentityMissing = errors.New("parent identity missing")

	// ErrUnknownLevel is returned for levels outside the peer..moderator
	// range.
	ErrUnknownLevel = errors.New("unknown escalation level")

	// ErrStatusRegression is returned when an update would move a report
	// backwards in its lifecycle.
	ErrStatusRegression = errors.New("report status cannot regress")

	// ErrRelationshipInactive is returned when a like or group-routed
	// report targets a pairing that is frozen, blocked or removed. Only
	// active relationships exchange traffic.
	ErrRelationshipInactive = errors.New("relationship is not active")
)

// Report is one filed moderation report, outbound or inbound.
type Report struct {
	ID             string
	VideoID        string
	SubjectChild   string
	Reason         Reason
	Note           string
	Reporter       string
	ReporterChild  string
	Level          Level
	RecipientClass string
	Direction      Direction
	Status         Status
	Action         Action
	RelationshipID string
	CreatedAt      time.Time
	ResolvedAt     time.Time
}
