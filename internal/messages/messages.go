// Package messages defines the application payloads carried inside relay
// events, independent of the transport envelope. Payloads are serialized with
// canonical (sorted-key) JSON before encryption or signing.
package messages

import "github.com/kinloop/kinloop/internal/cryptox"

// Recipient classes a report can be addressed to. The escalation level fixes
// the class: peer -> group, parent -> parents, moderator -> moderators.
const (
	RecipientGroup      = "group"
	RecipientParents    = "parents"
	RecipientModerators = "moderators"
)

// Like is sent to the pairing's group when a child likes a shared video.
type Like struct {
	VideoID     string `json:"videoId"`
	ViewerChild string `json:"viewerChild"`
	By          string `json:"by"`
	Timestamp   int64  `json:"timestamp"`
}

// Report is the wire form of a filed report. Level is 1 (peer), 2 (parent)
// or 3 (moderator); RecipientType is derived from it and never diverges.
type Report struct {
	VideoID       string `json:"videoId"`
	SubjectChild  string `json:"subjectChild"`
	Reason        string `json:"reason"`
	Note          string `json:"note,omitempty"`
	By            string `json:"by"`
	Timestamp     int64  `json:"timestamp"`
	Level         int    `json:"level"`
	RecipientType string `json:"recipientType"`
	ReporterChild string `json:"reporterChild,omitempty"`
	ReportID      string `json:"reportId"`
}

// ChildKeyBackup is one entry of the disaster-recovery backup: a child's
// keypair plus the metadata needed to recreate the local profile.
type ChildKeyBackup struct {
	ChildID        string `json:"childId"`
	ChildName      string `json:"childName"`
	SecretMaterial []byte `json:"secretMaterial"`
	CreatedAt      int64  `json:"createdAt"`
}

// Encode serializes v to canonical JSON.
func Encode(v any) ([]byte, error) {
	return cryptox.CanonicalJSON(v)
}
