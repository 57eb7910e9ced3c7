// Package cli is the interactive command-line surface: a small REPL over
// the custody, ledger, transport and report services.
package cli

import (
	"bufio"
	"context"
	"log/slog"
	"os"

	"github.com/kinloop/kinloop/internal/audit"
	"github.com/kinloop/kinloop/internal/config"
	"github.com/kinloop/kinloop/internal/directory"
	"github.com/kinloop/kinloop/internal/identity"
	"github.com/kinloop/kinloop/internal/ledger"
	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/ratelimit"
	"github.com/kinloop/kinloop/internal/relay"
	"github.com/kinloop/kinloop/internal/reports"
	"github.com/kinloop/kinloop/internal/signer"
	"github.com/kinloop/kinloop/internal/storage"
	"github.com/kinloop/kinloop/internal/transport"
)

type App struct {
	cfg   *config.Config
	log   logging.Logger
	repos *storage.Repositories

	custody     *identity.Custody
	signer      signer.Ed25519
	rels        *ledger.Ledger
	engine      *transport.AESEngine
	transport   *transport.Transport
	coordinator *reports.Coordinator
	backup      *identity.BackupService
	directory   *directory.Service
	trail       *audit.Log
	videos      *videoIndex

	client *relay.Client
	reader *bufio.Reader
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	repos, err := storage.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	client, err := relay.Dial(ctx, cfg.RelayURLs, log)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	custody := identity.NewCustody(repos.Identities, log)
	rels := ledger.New(repos.Relationships, log)
	engine := transport.NewAESEngine(repos.GroupKeys)
	sig := signer.Ed25519{}
	trans := transport.New(client, engine, sig, custody, log, cfg.ModerationEndpoints, cfg.PublishTimeout)
	trail := audit.New(repos.Audit, log)
	limiter := ratelimit.New(cfg.LikeRateWindow, cfg.LikeRateLimit)
	videos := newVideoIndex()
	coordinator := reports.NewCoordinator(custody, repos.Reports, trans, rels, videos, trail, limiter, cfg.ModeratorKeys, log)
	rels.AddObserver(&streamGate{streams: trans, handler: coordinator.HandleIncoming, log: log})
	backup := identity.NewBackupService(custody, repos.Profiles, client, sig, log, cfg.PublishTimeout)
	dir := directory.NewService(client, log, cfg.DiscoveryTimeout)

	return &App{
		cfg:         cfg,
		log:         log,
		repos:       repos,
		custody:     custody,
		signer:      sig,
		rels:        rels,
		engine:      engine,
		transport:   trans,
		coordinator: coordinator,
		backup:      backup,
		directory:   dir,
		trail:       trail,
		videos:      videos,
		client:      client,
		reader:      bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.Close()
	a.resumeSubscriptions(ctx)
	a.Root(ctx)
}

// resumeSubscriptions reopens the group streams of every relationship
// that may still exchange traffic. Pairings created in past sessions
// keep receiving without user action.
func (a *App) resumeSubscriptions(ctx context.Context) {
	profiles, err := a.repos.Profiles.Profiles(ctx)
	if err != nil {
		a.log.Warn(ctx, "profile listing failed", "error", err)
		return
	}
	for _, p := range profiles {
		rels, err := a.rels.ListByProfile(ctx, p.ID)
		if err != nil {
			a.log.Warn(ctx, "relationship listing failed", "profile", p.ID, "error", err)
			continue
		}
		for _, r := range rels {
			if !r.CanExchangeTraffic() {
				continue
			}
			if _, err := a.transport.Subscribe(ctx, r.GroupID, a.coordinator.HandleIncoming); err != nil {
				a.log.Warn(ctx, "group subscription failed", "group", r.GroupID, "error", err)
			}
		}
	}
}

func (a *App) Close() {
	_ = a.client.Close()
	_ = a.repos.Close()
}

func (a *App) hasIdentity(ctx context.Context) bool {
	return a.custody.HasParentIdentity(ctx)
}
