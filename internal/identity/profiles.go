package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/kinloop/kinloop/internal/dbx"
)

// Profile is a child profile's app-local bookkeeping record.
type Profile struct {
	ID   string
	Name string
}

// ProfileDirectory tracks the installation's child profiles. The backup
// restore path creates profiles through it when recovering onto a new device.
type ProfileDirectory interface {
	// Profiles lists all known child profiles.
	Profiles(ctx context.Context) ([]Profile, error)

	// EnsureProfile creates the profile if absent; existing profiles are
	// left untouched.
	EnsureProfile(ctx context.Context, p Profile) error
}

// SQLiteProfiles implements ProfileDirectory on the local database.
type SQLiteProfiles struct {
	db dbx.DBTX
}

func NewSQLiteProfiles(db dbx.DBTX) *SQLiteProfiles {
	return &SQLiteProfiles{db: db}
}

func (s *SQLiteProfiles) Profiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var result []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLiteProfiles) EnsureProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// MemoryProfiles is an in-memory ProfileDirectory for tests.
type MemoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]Profile)}
}

func (m *MemoryProfiles) Profiles(ctx context.Context) ([]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryProfiles) EnsureProfile(ctx context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; !ok {
		m.profiles[p.ID] = p
	}
	return nil
}
