package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kinloop/kinloop/internal/ledger"
)

func (a *App) getStatus(ctx context.Context) string {
	if !a.hasIdentity(ctx) {
		return "(no identity)"
	}
	return ""
}

func (a *App) Root(ctx context.Context) {
	fmt.Println("Welcome to kinloop (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("kinloop %s> ", a.getStatus(ctx))
		if !scanner.Scan() {
			break
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			a.printHelp(ctx)
		case "status":
			a.status(ctx)
		case "generate":
			a.generateIdentity(ctx)
		case "import":
			a.importIdentity(ctx)
		case "export":
			a.exportIdentity(ctx)
		case "addchild":
			a.addChild(ctx)
		case "announce":
			a.announce(ctx)
		case "pair":
			a.pair(ctx)
		case "l", "list":
			a.listRelationships(ctx)
		case "freeze":
			a.transitionArg(ctx, args, ledger.StateFrozen)
		case "unfreeze", "unblock":
			a.transitionArg(ctx, args, ledger.StateActive)
		case "block":
			a.transitionArg(ctx, args, ledger.StateBlocked)
		case "remove":
			a.transitionArg(ctx, args, ledger.StateRemoved)
		case "report":
			a.submitReport(ctx)
		case "like":
			if len(args) < 2 {
				fmt.Println("Usage: like <video-id> <child-id>")
				continue
			}
			a.like(ctx, args[0], args[1])
		case "backup":
			a.publishBackup(ctx)
		case "restore":
			a.restoreBackup(ctx)
		case "audit":
			n := 20
			if len(args) > 0 {
				if parsed, err := strconv.Atoi(args[0]); err == nil && parsed > 0 {
					n = parsed
				}
			}
			a.showAudit(ctx, n)
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Println("Unknown command:", cmd)
		}
	}
}

func (a *App) transitionArg(ctx context.Context, args []string, state ledger.State) {
	if len(args) == 0 {
		fmt.Println("Usage: <command> <relationship-id>")
		return
	}
	a.transition(ctx, args[0], state)
}

func (a *App) printHelp(ctx context.Context) {
	if !a.hasIdentity(ctx) {
		fmt.Println("Available commands: generate, import, restore, status, exit")
		return
	}
	fmt.Println("Available commands: status, export, addchild, announce, pair, (l)ist, freeze, unfreeze, block, unblock, remove, report, like, backup, restore, audit, exit")
}
