package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/cryptox"
	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/messages"
	"github.com/kinloop/kinloop/internal/relay"
)

// EventSigner produces signed relay events for an identity. Implemented by
// the signer package; declared here so custody does not depend on it.
type EventSigner interface {
	Sign(kind int, tags [][]string, content string, kp *Keypair, at time.Time) (relay.Event, error)
}

// ErrBackupNotFound is returned by restore when no backup record exists on
// any reachable relay within the wait window.
var ErrBackupNotFound = errors.New("no backup record found")

// BackupService publishes and restores the child-key disaster-recovery
// record: all child keypairs, canonically JSON-encoded, sealed to the
// parent's own wrap key, stored as a single replaceable relay record.
type BackupService struct {
	custody  *Custody
	profiles ProfileDirectory
	network  relay.Network
	signer   EventSigner
	log      logging.Logger
	timeout  time.Duration
}

func NewBackupService(custody *Custody, profiles ProfileDirectory, network relay.Network, signer EventSigner, log logging.Logger, timeout time.Duration) *BackupService {
	return &BackupService{
		custody:  custody,
		profiles: profiles,
		network:  network,
		signer:   signer,
		log:      log,
		timeout:  timeout,
	}
}

// PublishBackup seals the current child keypair set and publishes it,
// replacing any previous backup record. The publish races the configured
// timeout; on timeout the backup is reported failed.
func (b *BackupService) PublishBackup(ctx context.Context) error {
	parent, err := b.custody.ParentIdentity(ctx)
	if err != nil {
		return err
	}

	children, err := b.custody.store.ListChildren(ctx)
	if err != nil {
		return fmt.Errorf("failed to list child keypairs: %w", err)
	}

	names := map[string]string{}
	if profiles, err := b.profiles.Profiles(ctx); err == nil {
		for _, p := range profiles {
			names[p.ID] = p.Name
		}
	}

	entries := make([]messages.ChildKeyBackup, 0, len(children))
	for _, kp := range children {
		childID, _ := kp.Role.ChildProfileID()
		name := names[childID]
		if name == "" {
			name = childID
		}
		entries = append(entries, messages.ChildKeyBackup{
			ChildID:        childID,
			ChildName:      name,
			SecretMaterial: kp.Secret,
			CreatedAt:      time.Now().Unix(),
		})
	}

	payload, err := messages.Encode(entries)
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	wrap, err := b.custody.WrapKeypair(ctx)
	if err != nil {
		return fmt.Errorf("failed to load wrap keypair: %w", err)
	}
	sealed, err := cryptox.SealToSelf(payload, wrap)
	if err != nil {
		return fmt.Errorf("failed to seal backup: %w", err)
	}

	ev, err := b.signer.Sign(relay.KindReplaceableAppData,
		[][]string{{"d", relay.BackupTag}},
		base64.StdEncoding.EncodeToString(sealed),
		parent, time.Now())
	if err != nil {
		return fmt.Errorf("failed to sign backup: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.network.Publish(ctx, ev, nil); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return common.ErrorTimeout
		}
		return fmt.Errorf("failed to publish backup: %w", err)
	}
	return nil
}

// RestoreBackup fetches the newest backup record within the bounded wait,
// unseals it, and imports each entry: the profile is created if absent and
// the keypair imported if absent. Existing keypairs are never overwritten
// (first-write-wins per child id). Returns the number of keypairs imported.
func (b *BackupService) RestoreBackup(ctx context.Context) (int, error) {
	parent, err := b.custody.ParentIdentity(ctx)
	if err != nil {
		return 0, err
	}
	wrap, err := b.custody.WrapKeypair(ctx)
	if err != nil {
		return 0, err
	}

	filter := relay.Filter{
		Authors: []string{parent.PublicHex()},
		Kinds:   []int{relay.KindReplaceableAppData},
		Tags:    map[string][]string{"d": {relay.BackupTag}},
	}

	subID := uuid.NewString()
	ch, err := b.network.Subscribe(ctx, subID, filter, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe: %w", err)
	}
	defer b.network.Unsubscribe(subID, nil)

	newest, ok := collectNewest(ctx, ch, b.timeout)
	if !ok {
		return 0, ErrBackupNotFound
	}

	sealed, err := base64.StdEncoding.DecodeString(newest.Content)
	if err != nil {
		return 0, fmt.Errorf("corrupt backup record: %w", err)
	}
	payload, err := cryptox.OpenFromSelf(sealed, wrap)
	if err != nil {
		return 0, fmt.Errorf("failed to unseal backup: %w", err)
	}

	var entries []messages.ChildKeyBackup
	if err := json.Unmarshal(payload, &entries); err != nil {
		return 0, fmt.Errorf("corrupt backup payload: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if err := b.profiles.EnsureProfile(ctx, Profile{ID: entry.ChildID, Name: entry.ChildName}); err != nil {
			b.log.Warn(ctx, "profile restore failed", "child", entry.ChildID, "error", err)
			continue
		}
		if _, err := b.custody.ChildIdentity(ctx, entry.ChildID); err == nil {
			continue // never overwrite an existing keypair
		}
		if len(entry.SecretMaterial) != SeedSize {
			b.log.Warn(ctx, "skipping backup entry with bad key length", "child", entry.ChildID)
			continue
		}
		kp := KeypairFromSeed(ChildRole(entry.ChildID), entry.SecretMaterial)
		if err := b.custody.store.Store(ctx, kp, false); err != nil {
			b.log.Warn(ctx, "child key restore failed", "child", entry.ChildID, "error", err)
			continue
		}
		imported++
	}
	return imported, nil
}

// collectNewest drains the stream for up to wait and keeps the newest event
// by creation time. Returns false if nothing arrived.
func collectNewest(ctx context.Context, ch <-chan relay.Event, wait time.Duration) (relay.Event, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var newest relay.Event
	found := false
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return newest, found
			}
			if !found || ev.CreatedAt > newest.CreatedAt {
				newest = ev
				found = true
			}
		case <-timer.C:
			return newest, found
		case <-ctx.Done():
			return newest, found
		}
	}
}
