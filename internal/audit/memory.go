package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used by tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*Entry
	// InsertErr, when set, makes every Insert fail.
	InsertErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Insert(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	clone := *e
	m.entries = append(m.entries, &clone)
	return nil
}

func (m *MemoryRepository) ByTarget(ctx context.Context, targetType, targetID string) ([]*Entry, error) {
	return m.filter(func(e *Entry) bool {
		return e.TargetType == targetType && e.TargetID == targetID
	}), nil
}

func (m *MemoryRepository) ByActor(ctx context.Context, actor string) ([]*Entry, error) {
	return m.filter(func(e *Entry) bool { return e.Actor == actor }), nil
}

func (m *MemoryRepository) ByType(ctx context.Context, t EntryType) ([]*Entry, error) {
	return m.filter(func(e *Entry) bool { return e.Type == t }), nil
}

func (m *MemoryRepository) Recent(ctx context.Context, n int) ([]*Entry, error) {
	all := m.filter(func(*Entry) bool { return true })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *MemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	removed := 0
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

func (m *MemoryRepository) filter(keep func(*Entry) bool) []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if keep(e) {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
