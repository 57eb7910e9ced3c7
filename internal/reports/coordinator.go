package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/audit"
	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/identity"
	"github.com/kinloop/kinloop/internal/ledger"
	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/messages"
	"github.com/kinloop/kinloop/internal/ratelimit"
	"github.com/kinloop/kinloop/internal/relay"
)

// IdentitySource resolves the local parent identity. Satisfied by
// *identity.Custody.
type IdentitySource interface {
	ParentIdentity(ctx context.Context) (*identity.Keypair, error)
}

// GroupPublisher sends signed payloads out. Satisfied by
// *transport.Transport.
type GroupPublisher interface {
	PublishToGroup(ctx context.Context, payload []byte, groupID string) error
	PublishToModerationEndpoints(ctx context.Context, payload []byte) error
}

// RelationshipLedger is the slice of the ledger the coordinator needs.
type RelationshipLedger interface {
	ResolveByGroup(ctx context.Context, groupID string) (*ledger.Relationship, error)
	IncrementLocalReportCount(ctx context.Context, id string) error
	IncrementRemoteReportCount(ctx context.Context, id string) error
	Transition(ctx context.Context, id string, newState ledger.State, reason, actor string) (*ledger.Relationship, error)
}

// VideoDirectory resolves shared videos to their pairing group and
// applies local video-level consequences.
type VideoDirectory interface {
	GroupForVideo(ctx context.Context, videoID string) (string, error)
	MarkBlocked(ctx context.Context, videoID string) error
}

// SubmitRequest is a user-initiated report intent.
type SubmitRequest struct {
	VideoID       string
	SubjectChild  string
	Reason        Reason
	Note          string
	Level         Level
	ReporterChild string
	Action        Action
}

// Coordinator drives the report lifecycle end to end.
type Coordinator struct {
	identity   IdentitySource
	repo       Repository
	pub        GroupPublisher
	rels       RelationshipLedger
	videos     VideoDirectory
	trail      *audit.Log
	likes      *ratelimit.Limiter
	moderators map[string]struct{}
	log        logging.Logger
	now        func() time.Time
}

// NewCoordinator wires the collaborators. moderatorKeys is the immutable
// allow-list of public keys whose inbound reports carry moderator
// authority.
func NewCoordinator(ids IdentitySource, repo Repository, pub GroupPublisher, rels RelationshipLedger, videos VideoDirectory, trail *audit.Log, likes *ratelimit.Limiter, moderatorKeys []string, log logging.Logger) *Coordinator {
	moderators := make(map[string]struct{}, len(moderatorKeys))
	for _, k := range moderatorKeys {
		moderators[k] = struct{}{}
	}
	return &Coordinator{
		identity:   ids,
		repo:       repo,
		pub:        pub,
		rels:       rels,
		videos:     videos,
		trail:      trail,
		likes:      likes,
		moderators: moderators,
		log:        log,
		now:        time.Now,
	}
}

// IsModerator reports whether key is on the configured allow-list.
func (c *Coordinator) IsModerator(key string) bool {
	_, ok := c.moderators[key]
	return ok
}

// Submit files a report. The report is persisted before any network
// effect, so a routing failure leaves a pending record behind for later
// retry instead of silently discarding the intent. Action application
// and counter updates are best effort and never roll back the report.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*Report, error) {
	if !req.Level.Valid() {
		return nil, ErrUnknownLevel
	}

	kp, err := c.identity.ParentIdentity(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityMissing) {
			return nil, ErrParentIdentityMissing
		}
		return nil, err
	}
	reporter := kp.PublicHex()

	report := &Report{
		ID:             uuid.NewString(),
		VideoID:        req.VideoID,
		SubjectChild:   req.SubjectChild,
		Reason:         req.Reason,
		Note:           req.Note,
		Reporter:       reporter,
		ReporterChild:  req.ReporterChild,
		Level:          req.Level,
		RecipientClass: req.Level.RecipientClass(),
		Direction:      DirectionOutbound,
		Status:         StatusPending,
		Action:         ActionNone,
		CreatedAt:      c.now(),
	}
	if err := c.repo.Insert(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to persist report: %w", err)
	}

	c.trail.Record(ctx, audit.TypeReportSubmitted, reporter, "video", req.VideoID, map[string]string{
		"report": report.ID,
		"level":  strconv.Itoa(int(req.Level)),
		"reason": string(req.Reason),
	})

	if err := c.route(ctx, report); err != nil {
		// The pending record stays behind for retry or inspection.
		return report, err
	}

	if req.Action != ActionNone {
		c.applyVideoAction(ctx, report, req.Action)
	}

	rel := c.bindRelationship(ctx, report)

	report.Action = req.Action
	if report.Action == ActionNone {
		report.Action = ActionReportOnly
	}
	report.Status = StatusActioned
	report.ResolvedAt = c.now()
	if err := c.repo.Update(ctx, report); err != nil {
		return report, fmt.Errorf("failed to finalize report: %w", err)
	}

	if rel != nil {
		c.applyRelationshipAction(ctx, report, rel)
	}
	return report, nil
}

// route publishes the wire message for the report's level. Peer and
// parent reports share the wire shape and travel to the pairing's group;
// the level is metadata both parents can see. Moderator reports bypass
// group scoping and go to the fixed endpoint set.
func (c *Coordinator) route(ctx context.Context, report *Report) error {
	payload, err := messages.Encode(messages.Report{
		VideoID:       report.VideoID,
		SubjectChild:  report.SubjectChild,
		Reason:        string(report.Reason),
		Note:          report.Note,
		By:            report.Reporter,
		Timestamp:     report.CreatedAt.Unix(),
		Level:         int(report.Level),
		RecipientType: report.RecipientClass,
		ReporterChild: report.ReporterChild,
		ReportID:      report.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode report message: %w", err)
	}

	if report.Level == LevelModerator {
		if err := c.pub.PublishToModerationEndpoints(ctx, payload); err != nil {
			return fmt.Errorf("moderator escalation failed: %w", err)
		}
		c.trail.Record(ctx, audit.TypeModeratorEscalation, report.Reporter, "report", report.ID, nil)
		return nil
	}

	groupID, err := c.videos.GroupForVideo(ctx, report.VideoID)
	if err != nil {
		return fmt.Errorf("failed to resolve group for video %s: %w", report.VideoID, err)
	}
	if err := c.gateGroupTraffic(ctx, groupID); err != nil {
		return err
	}
	if err := c.pub.PublishToGroup(ctx, payload, groupID); err != nil {
		return fmt.Errorf("report publish failed: %w", err)
	}
	return nil
}

// gateGroupTraffic refuses group-scoped traffic when the pairing bound to
// groupID is not active. A group with no pairing yet has nothing to
// consult and passes.
func (c *Coordinator) gateGroupTraffic(ctx context.Context, groupID string) error {
	rel, err := c.rels.ResolveByGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return fmt.Errorf("failed to resolve relationship for group %s: %w", groupID, err)
	}
	if !rel.CanExchangeTraffic() {
		return fmt.Errorf("%w: %s is %s", ErrRelationshipInactive, rel.ID, rel.State)
	}
	return nil
}

func (c *Coordinator) applyVideoAction(ctx context.Context, report *Report, action Action) {
	if action != ActionBlock && action != ActionDeleted {
		return
	}
	if err := c.videos.MarkBlocked(ctx, report.VideoID); err != nil {
		c.log.Warn(ctx, "video action failed", "video", report.VideoID, "action", action, "error", err)
		return
	}
	c.trail.Record(ctx, audit.TypeVideoBlocked, report.Reporter, "video", report.VideoID, map[string]string{
		"report": report.ID,
	})
}

// bindRelationship resolves the relationship behind the reported video
// and bumps its local report counter. Resolution failure is non-fatal.
func (c *Coordinator) bindRelationship(ctx context.Context, report *Report) *ledger.Relationship {
	groupID, err := c.videos.GroupForVideo(ctx, report.VideoID)
	if err != nil {
		c.log.Warn(ctx, "no group for reported video", "video", report.VideoID, "error", err)
		return nil
	}
	rel, err := c.rels.ResolveByGroup(ctx, groupID)
	if err != nil {
		c.log.Warn(ctx, "no relationship for reported video", "video", report.VideoID, "error", err)
		return nil
	}
	report.RelationshipID = rel.ID
	if err := c.rels.IncrementLocalReportCount(ctx, rel.ID); err != nil {
		c.log.Warn(ctx, "report counter update failed", "relationship", rel.ID, "error", err)
	}
	return rel
}

func (c *Coordinator) applyRelationshipAction(ctx context.Context, report *Report, rel *ledger.Relationship) {
	var target ledger.State
	switch report.Action {
	case ActionUnfollow:
		target = ledger.StateRemoved
	case ActionBlock:
		target = ledger.StateBlocked
	default:
		return
	}
	if _, err := c.rels.Transition(ctx, rel.ID, target, "report "+report.ID, report.Reporter); err != nil {
		c.log.Warn(ctx, "relationship consequence failed",
			"relationship", rel.ID, "state", target, "error", err)
		return
	}
	c.trail.Record(ctx, audit.TypeRelationshipChanged, report.Reporter, "relationship", rel.ID, map[string]string{
		"report": report.ID,
		"state":  string(target),
	})
}

// Like publishes a like event to the video's pairing group, subject to
// the per-child sliding-window limit.
func (c *Coordinator) Like(ctx context.Context, videoID, viewerChild string) error {
	kp, err := c.identity.ParentIdentity(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityMissing) {
			return ErrParentIdentityMissing
		}
		return err
	}

	if err := c.likes.Check(viewerChild); err != nil {
		return err
	}

	groupID, err := c.videos.GroupForVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("failed to resolve group for video %s: %w", videoID, err)
	}
	if err := c.gateGroupTraffic(ctx, groupID); err != nil {
		return err
	}
	payload, err := messages.Encode(messages.Like{
		VideoID:     videoID,
		ViewerChild: viewerChild,
		By:          kp.PublicHex(),
		Timestamp:   c.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode like message: %w", err)
	}
	if err := c.pub.PublishToGroup(ctx, payload, groupID); err != nil {
		return err
	}

	c.likes.Record(viewerChild)
	c.trail.Record(ctx, audit.TypeVideoLiked, kp.PublicHex(), "video", videoID, map[string]string{
		"child": viewerChild,
	})
	return nil
}

// Unlike is local only: the like disappears from this device's view but
// no retraction travels over the wire, so remote caches may lag.
func (c *Coordinator) Unlike(ctx context.Context, videoID, viewerChild string) {
	c.trail.Record(ctx, audit.TypeVideoLiked, viewerChild, "video", videoID, map[string]string{
		"removed": "true",
	})
}

// Acknowledge advances an inbound report to acknowledged.
func (c *Coordinator) Acknowledge(ctx context.Context, reportID string) (*Report, error) {
	return c.advance(ctx, reportID, StatusAcknowledged, ActionNone)
}

// Dismiss resolves a report without consequence.
func (c *Coordinator) Dismiss(ctx context.Context, reportID string) (*Report, error) {
	return c.advance(ctx, reportID, StatusDismissed, ActionNone)
}

func (c *Coordinator) advance(ctx context.Context, reportID string, next Status, action Action) (*Report, error) {
	report, err := c.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !report.Status.CanAdvanceTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStatusRegression, report.Status, next)
	}
	report.Status = next
	if action != ActionNone {
		report.Action = action
	}
	if next == StatusDismissed || next == StatusActioned {
		report.ResolvedAt = c.now()
	}
	if err := c.repo.Update(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// HandleIncoming consumes a decrypted group message. Report payloads are
// stored as inbound pending reports and bump the relationship's remote
// counter; other payloads are ignored. Wire it as the transport handler
// for each subscribed group.
func (c *Coordinator) HandleIncoming(ctx context.Context, plaintext []byte, ev relay.Event) {
	var wire messages.Report
	if err := json.Unmarshal(plaintext, &wire); err != nil || wire.ReportID == "" {
		return
	}

	report := &Report{
		ID:             wire.ReportID,
		VideoID:        wire.VideoID,
		SubjectChild:   wire.SubjectChild,
		Reason:         Reason(wire.Reason),
		Note:           wire.Note,
		Reporter:       wire.By,
		ReporterChild:  wire.ReporterChild,
		Level:          Level(wire.Level),
		RecipientClass: wire.RecipientType,
		Direction:      DirectionInbound,
		Status:         StatusPending,
		Action:         ActionNone,
		CreatedAt:      time.Unix(wire.Timestamp, 0),
	}
	// Reports signed by an allow-listed moderator key arrive already
	// reviewed; they skip the pending queue.
	if c.IsModerator(ev.Author) {
		report.Status = StatusAcknowledged
	}

	var rel *ledger.Relationship
	if groupID, _ := ev.TagValue("g"); groupID != "" {
		if resolved, err := c.rels.ResolveByGroup(ctx, groupID); err == nil {
			rel = resolved
			report.RelationshipID = rel.ID
		}
	}

	// Insert first so relay replays of the same report id stop here and
	// never double count.
	if err := c.repo.Insert(ctx, report); err != nil {
		c.log.Debug(ctx, "inbound report not stored", "report", report.ID, "error", err)
		return
	}

	if rel != nil {
		if err := c.rels.IncrementRemoteReportCount(ctx, rel.ID); err != nil {
			c.log.Warn(ctx, "remote report counter update failed", "relationship", rel.ID, "error", err)
		}
	}
	c.trail.Record(ctx, audit.TypeReportReceived, wire.By, "video", wire.VideoID, map[string]string{
		"report": wire.ReportID,
	})
}
