package reports

import (
	"context"
	"sort"
	"sync"

	"github.com/kinloop/kinloop/internal/common"
)

// MemoryRepository is an in-memory Repository used by tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Report
	// InsertErr and UpdateErr, when set, make the matching call fail.
	InsertErr error
	UpdateErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Report)}
}

func (m *MemoryRepository) Insert(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, ok := m.rows[r.ID]; ok {
		return common.ErrorAlreadyExists
	}
	clone := *r
	m.rows[r.ID] = &clone
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, r *Report) error {
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

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *MemoryRepository) ListByStatus(ctx context.Context, status Status) ([]*Report, error) {
	return m.filter(func(r *Report) bool { return r.Status == status }), nil
}

func (m *MemoryRepository) ListByVideo(ctx context.Context, videoID string) ([]*Report, error) {
	return m.filter(func(r *Report) bool { return r.VideoID == videoID }), nil
}

func (m *MemoryRepository) filter(keep func(*Report) bool) []*Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, r := range m.rows {
		if keep(r) {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
