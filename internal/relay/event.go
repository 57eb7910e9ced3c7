// Package relay defines the event relay network contract: the signed event
// envelope, subscription filters, and the Network interface every transport
// in this module publishes through. A gorilla/websocket client and an
// in-memory implementation (for tests) are provided.
package relay

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/kinloop/kinloop/internal/cryptox"
)

// Event kinds carried over the relay network.
const (
	// KindKeyPackage is a published credential enabling another party to add
	// the author to a cryptographic group.
	KindKeyPackage = 443

	// KindGroupMessage is a group-encrypted application message.
	KindGroupMessage = 445

	// KindModeration is a plaintext-signed report addressed to moderators.
	KindModeration = 1984

	// KindReplaceableAppData is a replaceable per-author record addressed by
	// a fixed application tag; used for the child-key backup.
	KindReplaceableAppData = 30078
)

// BackupTag is the fixed application tag under which child-key backups are
// published as a single replaceable record.
const BackupTag = "kinloop/child-keys/v1"

// Event is the signed envelope exchanged with relays.
type Event struct {
	ID        string     `json:"id"`
	Kind      int        `json:"kind"`
	Author    string     `json:"author"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	CreatedAt int64      `json:"created_at"`
	Sig       string     `json:"sig"`
}

// ComputeID returns the hex sha256 of the event's canonical serialization
// (everything except the id and signature).
func (e *Event) ComputeID() (string, error) {
	payload := []any{e.Kind, e.Author, e.Tags, e.Content, e.CreatedAt}
	canonical, err := cryptox.CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// TagValue returns the first value of the named tag, if present.
func (e *Event) TagValue(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// Filter selects events on a subscription. Zero-valued fields match anything.
type Filter struct {
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"tags,omitempty"`
	Since   int64               `json:"since,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// Matches reports whether ev satisfies every constraint of the filter.
func (f Filter) Matches(ev Event) bool {
	if len(f.Authors) > 0 && !containsString(f.Authors, ev.Author) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	for name, values := range f.Tags {
		got, ok := ev.TagValue(name)
		if !ok || !containsString(values, got) {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
