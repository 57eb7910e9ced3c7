package ledger

import (
	"context"
	"sync"

	"github.com/kinloop/kinloop/internal/common"
)

// MemoryRepository is an in-memory Repository used by tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Relationship
	// UpdateErr, when set, makes every Update fail.
	UpdateErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Relationship)}
}

func (m *MemoryRepository) Insert(ctx context.Context, r *Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; ok {
		return common.ErrorAlreadyExists
	}
	clone := *r
	m.rows[r.ID] = &clone
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, r *Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if _, ok := m.rows[r.ID]; !ok {
		return common.ErrorNotFound
	}
	clone := *r
	m.rows[r.ID] = &clone
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *MemoryRepository) GetByGroupID(ctx context.Context, groupID string) (*Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.GroupID == groupID {
			clone := *r
			return &clone, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *MemoryRepository) ListByProfile(ctx context.Context, profileID string) ([]*Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Relationship
	for _, r := range m.rows {
		if r.LocalProfileID == profileID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}
