package relay

import (
	"context"
	"sync"
)

// Memory is an in-process Network used by tests and by single-device setups
// without connectivity. Published events are recorded and fanned out to
// matching subscriptions.
type Memory struct {
	mu        sync.Mutex
	endpoints []string
	published []Event
	subs      map[string]*memorySub
	// PublishErr, when set, makes every Publish fail with that error.
	PublishErr error
}

type memorySub struct {
	filter Filter
	ch     chan Event
}

// NewMemory returns a Memory network reporting the given endpoint URLs.
func NewMemory(endpoints ...string) *Memory {
	if len(endpoints) == 0 {
		endpoints = []string{"mem://local"}
	}
	return &Memory{
		endpoints: endpoints,
		subs:      make(map[string]*memorySub),
	}
}

func (m *Memory) ConnectedEndpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.endpoints))
	copy(out, m.endpoints)
	return out
}

func (m *Memory) Publish(ctx context.Context, ev Event, endpoints []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.published = append(m.published, ev)
	for _, sub := range m.subs {
		if sub.filter.Matches(ev) {
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, id string, filter Filter, endpoints []string) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; ok {
		return nil, ErrDuplicateSubscription
	}
	sub := &memorySub{filter: filter, ch: make(chan Event, 64)}
	m.subs[id] = sub

	// Replay stored events so late subscribers see replaceable records.
	for _, ev := range m.published {
		if filter.Matches(ev) {
			sub.ch <- ev
		}
	}
	return sub.ch, nil
}

func (m *Memory) Unsubscribe(id string, endpoints []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		close(sub.ch)
		delete(m.subs, id)
	}
}

// Inject delivers an event to matching subscriptions without recording it as
// locally published. Tests use it to simulate remote traffic.
func (m *Memory) Inject(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.filter.Matches(ev) {
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.published))
	copy(out, m.published)
	return out
}

// ActiveSubscriptions returns the ids of currently open subscriptions.
func (m *Memory) ActiveSubscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for id := range m.subs {
		out = append(out, id)
	}
	return out
}
