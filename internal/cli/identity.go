package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/cryptox"
	"github.com/kinloop/kinloop/internal/identity"
)

func (a *App) status(ctx context.Context) {
	kp, err := a.custody.ParentIdentity(ctx)
	if err != nil {
		fmt.Println("No parent identity on this device. Run 'generate' or 'import'.")
		return
	}
	fmt.Println("Parent public key:", kp.PublicHex())

	profiles, err := a.repos.Profiles.Profiles(ctx)
	if err != nil {
		fmt.Println("Error listing profiles:", err)
		return
	}
	for _, p := range profiles {
		fmt.Printf("  child %s (%s)\n", p.Name, p.ID)
	}
}

func (a *App) generateIdentity(ctx context.Context) {
	kp, err := a.custody.GenerateParentIdentity(ctx, false)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityExists) {
			fmt.Println("A parent identity already exists on this device.")
			return
		}
		fmt.Println("Error generating identity:", err)
		return
	}
	fmt.Println("Parent identity created:", kp.PublicHex())
}

// importIdentity restores a parent key from a passphrase-protected
// keystore file, or from raw hex seed input.
func (a *App) importIdentity(ctx context.Context) {
	path, err := GetSimpleText(a.reader, "Keystore file path (empty to paste a hex seed)", os.Stdout)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	var secret []byte
	if path == "" {
		hexSeed, err := GetSimpleText(a.reader, "Hex-encoded secret key", os.Stdout)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		secret = []byte(hexSeed)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Println("Error reading keystore:", err)
			return
		}
		pass, err := GetPassphrase(os.Stdout, "Keystore passphrase")
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		secret, err = cryptox.OpenKeystore(data, pass)
		common.WipeByteArray(pass)
		if err != nil {
			fmt.Println("Error opening keystore:", err)
			return
		}
	}
	defer common.WipeByteArray(secret)

	kp, err := a.custody.ImportParentIdentity(ctx, secret, false)
	if err != nil {
		fmt.Println("Error importing identity:", err)
		return
	}
	fmt.Println("Parent identity imported:", kp.PublicHex())
}

// exportIdentity writes the parent secret to a passphrase-protected
// keystore file.
func (a *App) exportIdentity(ctx context.Context) {
	kp, err := a.custody.ParentIdentity(ctx)
	if err != nil {
		fmt.Println("No parent identity to export.")
		return
	}

	path, err := GetSimpleText(a.reader, "Destination file", os.Stdout)
	if err != nil || path == "" {
		fmt.Println("Export cancelled.")
		return
	}
	pass, err := GetPassphrase(os.Stdout, "Keystore passphrase")
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer common.WipeByteArray(pass)

	data, err := cryptox.SealKeystore(kp.Secret, pass)
	if err != nil {
		fmt.Println("Error sealing keystore:", err)
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		fmt.Println("Error writing keystore:", err)
		return
	}
	fmt.Println("Identity exported to", path)
}

func (a *App) addChild(ctx context.Context) {
	name, err := GetSimpleText(a.reader, "Child name", os.Stdout)
	if err != nil || name == "" {
		fmt.Println("Cancelled.")
		return
	}

	profile := identity.Profile{ID: uuid.NewString(), Name: name}
	if err := a.repos.Profiles.EnsureProfile(ctx, profile); err != nil {
		fmt.Println("Error creating profile:", err)
		return
	}
	if _, err := a.custody.EnsureChildIdentity(ctx, profile.ID); err != nil {
		fmt.Println("Error provisioning child keypair:", err)
		return
	}
	fmt.Printf("Child %s added (%s)\n", name, profile.ID)
}

func (a *App) publishBackup(ctx context.Context) {
	if err := a.backup.PublishBackup(ctx); err != nil {
		fmt.Println("Backup failed:", err)
		return
	}
	fmt.Println("Child-key backup published.")
}

func (a *App) restoreBackup(ctx context.Context) {
	n, err := a.backup.RestoreBackup(ctx)
	if err != nil {
		fmt.Println("Restore failed:", err)
		return
	}
	fmt.Printf("Restored %d child key(s).\n", n)
}
