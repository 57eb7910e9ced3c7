package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/audit"
	"github.com/kinloop/kinloop/internal/directory"
	"github.com/kinloop/kinloop/internal/ledger"
	"github.com/kinloop/kinloop/internal/relay"
)

// announce publishes this parent's key package so other families can
// initiate a pairing.
func (a *App) announce(ctx context.Context) {
	kp, err := a.custody.ParentIdentity(ctx)
	if err != nil {
		fmt.Println("Create a parent identity first.")
		return
	}
	wrap, err := a.custody.WrapKeypair(ctx)
	if err != nil {
		fmt.Println("Error resolving wrap keypair:", err)
		return
	}

	ev, err := a.signer.Sign(relay.KindKeyPackage, nil,
		hex.EncodeToString(wrap.Public[:]), kp, time.Now())
	if err != nil {
		fmt.Println("Error signing key package:", err)
		return
	}
	if err := a.directory.Publish(ctx, ev); err != nil {
		fmt.Println("Key package publish failed:", err)
		return
	}
	fmt.Println("Key package published.")
}

// pair establishes a new cross-family relationship: verify the remote
// parent published a key package, create the pairing group lazily, and
// start listening on it.
func (a *App) pair(ctx context.Context) {
	kp, err := a.custody.ParentIdentity(ctx)
	if err != nil {
		fmt.Println("Create a parent identity first.")
		return
	}

	remoteKey, err := GetSimpleText(a.reader, "Remote parent public key (hex)", os.Stdout)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	normalized, err := directory.NormalizePublicKey(remoteKey)
	if err != nil {
		fmt.Println("Malformed public key.")
		return
	}

	packages, err := a.directory.Fetch(ctx, normalized, directory.FetchOptions{Limit: 1})
	if err != nil {
		fmt.Println("Key package lookup failed:", err)
		return
	}
	if len(packages) == 0 {
		fmt.Println("No key package found for that key; ask the other parent to publish one.")
		return
	}

	profileID, err := GetSimpleText(a.reader, "Local child profile id", os.Stdout)
	if err != nil || profileID == "" {
		fmt.Println("Cancelled.")
		return
	}
	remoteChild, err := GetSimpleText(a.reader, "Remote child reference (optional)", os.Stdout)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	groupID := uuid.NewString()
	if err := a.engine.EnsureGroup(ctx, groupID); err != nil {
		fmt.Println("Error creating group state:", err)
		return
	}

	rel, err := a.rels.Create(ctx, profileID, normalized, remoteChild, groupID)
	if err != nil {
		fmt.Println("Error creating relationship:", err)
		return
	}

	if _, err := a.transport.Subscribe(ctx, groupID, a.coordinator.HandleIncoming); err != nil {
		a.log.Warn(ctx, "group subscription failed", "group", groupID, "error", err)
	}

	a.trail.Record(ctx, audit.TypeRelationshipCreated, kp.PublicHex(), "relationship", rel.ID, nil)
	fmt.Printf("Relationship %s created (group %s)\n", rel.ID, groupID)
}

func (a *App) listRelationships(ctx context.Context) {
	profiles, err := a.repos.Profiles.Profiles(ctx)
	if err != nil {
		fmt.Println("Error listing profiles:", err)
		return
	}
	if len(profiles) == 0 {
		fmt.Println("No child profiles yet. Run 'addchild'.")
		return
	}

	for _, p := range profiles {
		rels, err := a.rels.ListByProfile(ctx, p.ID)
		if err != nil {
			fmt.Println("Error listing relationships:", err)
			return
		}
		fmt.Printf("%s (%s): %d relationship(s)\n", p.Name, p.ID, len(rels))
		for _, r := range rels {
			health := "healthy"
			if !r.IsHealthy() {
				health = fmt.Sprintf("local=%d remote=%d", r.LocalReportCount, r.RemoteReportCount)
			}
			fmt.Printf("  %s  state=%s  remote=%s  %s\n", r.ID, r.State, r.RemoteParentKey, health)
		}
	}
}

func (a *App) transition(ctx context.Context, relID string, state ledger.State) {
	kp, err := a.custody.ParentIdentity(ctx)
	if err != nil {
		fmt.Println("Create a parent identity first.")
		return
	}

	reason, err := GetSimpleText(a.reader, "Reason (optional)", os.Stdout)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	rel, err := a.rels.Transition(ctx, relID, state, reason, kp.PublicHex())
	if err != nil {
		fmt.Println("Transition failed:", err)
		return
	}
	fmt.Printf("Relationship %s is now %s\n", rel.ID, rel.State)
}
