// Package transport wraps the group cryptographic engine: it encrypts,
// signs, and publishes application messages scoped to a group id, and
// carries the plaintext-signed side channel to the moderation endpoint set.
package transport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/cryptox"
	"github.com/kinloop/kinloop/internal/dbx"
)

// ErrGroupUnavailable is returned when no local cryptographic state exists
// for the group id.
var ErrGroupUnavailable = errors.New("no cryptographic state for group")

// Engine is the group cryptographic engine contract. Implementations own
// the per-group key state; it must not be mutated concurrently for the same
// group id.
type Engine interface {
	Encrypt(ctx context.Context, plaintext []byte, groupID string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, groupID string) ([]byte, error)
}

// KeyStore persists per-group symmetric key state.
type KeyStore interface {
	// Key returns the group key, or common.ErrorNotFound.
	Key(ctx context.Context, groupID string) ([]byte, error)

	// SetKey installs key state for a group.
	SetKey(ctx context.Context, groupID string, key []byte) error
}

// SQLiteKeyStore implements KeyStore on the device-local database.
type SQLiteKeyStore struct {
	db dbx.DBTX
}

func NewSQLiteKeyStore(db dbx.DBTX) *SQLiteKeyStore {
	return &SQLiteKeyStore{db: db}
}

func (s *SQLiteKeyStore) Key(ctx context.Context, groupID string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT key FROM group_keys WHERE group_id = ?`, groupID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group key: %w", err)
	}
	return key, nil
}

func (s *SQLiteKeyStore) SetKey(ctx context.Context, groupID string, key []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_keys (group_id, key, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET key = excluded.key, updated_at = excluded.updated_at`,
		groupID, key, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store group key: %w", err)
	}
	return nil
}

// MemoryKeyStore is an in-memory KeyStore for tests.
type MemoryKeyStore struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string][]byte)}
}

func (m *MemoryKeyStore) Key(ctx context.Context, groupID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[groupID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return key, nil
}

func (m *MemoryKeyStore) SetKey(ctx context.Context, groupID string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[groupID] = key
	return nil
}

const gcmNonceSize = 12

// AESEngine is the default Engine: AES-256-GCM under a per-group key from
// the key store. It is the sole mutator of group key state and serializes
// access per group id.
type AESEngine struct {
	keys KeyStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAESEngine(keys KeyStore) *AESEngine {
	return &AESEngine{keys: keys, locks: make(map[string]*sync.Mutex)}
}

func (e *AESEngine) groupLock(groupID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[groupID] = l
	}
	return l
}

// EnsureGroup installs fresh key state for a group if none exists. Groups
// are created lazily on first qualifying interaction, never up front.
func (e *AESEngine) EnsureGroup(ctx context.Context, groupID string) error {
	l := e.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	_, err := e.keys.Key(ctx, groupID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return e.keys.SetKey(ctx, groupID, common.GenerateRandByteArray(32))
}

func (e *AESEngine) Encrypt(ctx context.Context, plaintext []byte, groupID string) ([]byte, error) {
	l := e.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	key, err := e.keys.Key(ctx, groupID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrGroupUnavailable
	}
	if err != nil {
		return nil, err
	}

	ciphertext, nonce, err := cryptox.EncryptBytes(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("group encrypt failed: %w", err)
	}
	return append(nonce, ciphertext...), nil
}

func (e *AESEngine) Decrypt(ctx context.Context, sealed []byte, groupID string) ([]byte, error) {
	l := e.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	key, err := e.keys.Key(ctx, groupID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrGroupUnavailable
	}
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcmNonceSize {
		return nil, fmt.Errorf("group decrypt failed: sealed payload too short")
	}
	plaintext, err := cryptox.DecryptBytes(sealed[gcmNonceSize:], sealed[:gcmNonceSize], key)
	if err != nil {
		return nil, fmt.Errorf("group decrypt failed: %w", err)
	}
	return plaintext, nil
}
