// Package storage opens the device-local database and wires the
// repositories each component persists through.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/kinloop/kinloop/internal/audit"
	"github.com/kinloop/kinloop/internal/identity"
	"github.com/kinloop/kinloop/internal/ledger"
	"github.com/kinloop/kinloop/internal/reports"
	"github.com/kinloop/kinloop/internal/storage/migrations"
	"github.com/kinloop/kinloop/internal/transport"
)

// Repositories bundles every sqlite-backed repository over one database
// handle.
type Repositories struct {
	Identities    identity.Store
	Profiles      identity.ProfileDirectory
	Relationships ledger.Repository
	Reports       reports.Repository
	Audit         audit.Repository
	GroupKeys     transport.KeyStore

	DB *sql.DB
}

// RunMigrations applies the embedded migration scripts.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if necessary) the database at dsn, migrates it,
// and returns the repository set. The caller owns the handle and closes
// it via Close.
func Open(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Repositories{
		Identities:    identity.NewSQLiteStore(db),
		Profiles:      identity.NewSQLiteProfiles(db),
		Relationships: ledger.NewSQLiteRepository(db),
		Reports:       reports.NewSQLiteRepository(db),
		Audit:         audit.NewSQLiteRepository(db),
		GroupKeys:     transport.NewSQLiteKeyStore(db),
		DB:            db,
	}, nil
}

// Close releases the database handle.
func (r *Repositories) Close() error {
	return r.DB.Close()
}
