package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/dbx"
)

// Store is the secure, device-local keypair store. Implementations must keep
// secret material non-exportable by default; requireStrongAuth asks the
// platform to gate the slot behind device authentication where supported.
type Store interface {
	// Store persists the keypair under its role. Storing an existing role
	// overwrites the slot; callers enforce single-active-key policies.
	Store(ctx context.Context, kp *Keypair, requireStrongAuth bool) error

	// Fetch returns the keypair for a role, or common.ErrorNotFound.
	Fetch(ctx context.Context, role Role) (*Keypair, error)

	// ListChildren returns every stored child keypair.
	ListChildren(ctx context.Context) ([]*Keypair, error)
}

// SQLiteStore implements Store on the device-local sqlite database.
type SQLiteStore struct {
	db dbx.DBTX
}

// NewSQLiteStore returns a SQLiteStore bound to the given DBTX.
func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Store(ctx context.Context, kp *Keypair, requireStrongAuth bool) error {
	query := `INSERT INTO identities (role, public, secret, strong_auth, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(role) DO UPDATE SET public = excluded.public,
				secret = excluded.secret,
				strong_auth = excluded.strong_auth
	`
	strongAuth := 0
	if requireStrongAuth {
		strongAuth = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		string(kp.Role), kp.Public, kp.Secret, strongAuth, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store keypair: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Fetch(ctx context.Context, role Role) (*Keypair, error) {
	query := `SELECT public, secret FROM identities WHERE role = ?`
	kp := &Keypair{Role: role}
	err := s.db.QueryRowContext(ctx, query, string(role)).Scan(&kp.Public, &kp.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch keypair: %w", err)
	}
	return kp, nil
}

func (s *SQLiteStore) ListChildren(ctx context.Context) ([]*Keypair, error) {
	query := `SELECT role, public, secret FROM identities WHERE role LIKE 'child:%' ORDER BY role`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list child keypairs: %w", err)
	}
	defer rows.Close()

	var result []*Keypair
	for rows.Next() {
		kp := &Keypair{}
		var role string
		if err := rows.Scan(&role, &kp.Public, &kp.Secret); err != nil {
			return nil, fmt.Errorf("failed to scan keypair: %w", err)
		}
		kp.Role = Role(role)
		result = append(result, kp)
	}
	return result, rows.Err()
}

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[Role]*Keypair
	// StoreErr, when set, makes every Store call fail.
	StoreErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[Role]*Keypair)}
}

func (m *MemoryStore) Store(ctx context.Context, kp *Keypair, requireStrongAuth bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return m.StoreErr
	}
	m.keys[kp.Role] = kp
	return nil
}

func (m *MemoryStore) Fetch(ctx context.Context, role Role) (*Keypair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kp, ok := m.keys[role]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return kp, nil
}

func (m *MemoryStore) ListChildren(ctx context.Context) ([]*Keypair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Keypair
	for role, kp := range m.keys {
		if role.IsChild() {
			out = append(out, kp)
		}
	}
	return out, nil
}
