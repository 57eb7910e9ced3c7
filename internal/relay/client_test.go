package relay

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinloop/kinloop/internal/logging"
)

var upgrader = websocket.Upgrader{}

// fakeRelay is a minimal relay endpoint: it accepts publish frames and echoes
// every published event back on any active subscription whose filter matches.
type fakeRelay struct {
	srv *httptest.Server

	mu        sync.Mutex
	received  []Event
	subFrames []frame
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var subID string
		var subFilter Filter
		for {
			var fr frame
			if err := ws.ReadJSON(&fr); err != nil {
				return
			}
			switch fr.Type {
			case framePublish:
				f.mu.Lock()
				f.received = append(f.received, *fr.Event)
				f.mu.Unlock()
				if subID != "" && subFilter.Matches(*fr.Event) {
					_ = ws.WriteJSON(frame{Type: frameEvent, Sub: subID, Event: fr.Event})
				}
			case frameSubscribe:
				subID = fr.Sub
				subFilter = *fr.Filter
				f.mu.Lock()
				f.subFrames = append(f.subFrames, fr)
				f.mu.Unlock()
			case frameUnsubscribe:
				subID = ""
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRelay) receivedEvents() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.received))
	copy(out, f.received)
	return out
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
}

func TestDial_SkipsUnreachableEndpoints(t *testing.T) {
	relay := newFakeRelay(t)

	c, err := Dial(context.Background(), []string{relay.url(), "ws://127.0.0.1:1/nope"}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{relay.url()}, c.ConnectedEndpoints())
}

func TestDial_AllUnreachableFails(t *testing.T) {
	_, err := Dial(context.Background(), []string{"ws://127.0.0.1:1/nope"}, testLogger())
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestClient_PublishReachesEndpoint(t *testing.T) {
	relay := newFakeRelay(t)
	c, err := Dial(context.Background(), []string{relay.url()}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	ev := Event{ID: "e1", Kind: KindGroupMessage, Content: "ct"}
	require.NoError(t, c.Publish(context.Background(), ev, nil))

	require.Eventually(t, func() bool {
		return len(relay.receivedEvents()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "e1", relay.receivedEvents()[0].ID)
}

func TestClient_PublishHonorsCancelledContext(t *testing.T) {
	relay := newFakeRelay(t)
	c, err := Dial(context.Background(), []string{relay.url()}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Publish(ctx, Event{ID: "e1", Kind: KindGroupMessage}, nil)
	require.ErrorIs(t, err, context.Canceled)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, relay.receivedEvents(), "no frame is written after cancellation")
}

func TestClient_PublishHonorsDeadline(t *testing.T) {
	relay := newFakeRelay(t)
	c, err := Dial(context.Background(), []string{relay.url()}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err = c.Publish(ctx, Event{ID: "e1", Kind: KindGroupMessage}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_SubscribeReceivesMatchingEvents(t *testing.T) {
	relay := newFakeRelay(t)
	c, err := Dial(context.Background(), []string{relay.url()}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	ch, err := c.Subscribe(context.Background(), "s1", Filter{Kinds: []int{KindGroupMessage}}, nil)
	require.NoError(t, err)
	defer c.Unsubscribe("s1", nil)

	// Give the fake relay a beat to register the subscription.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Publish(context.Background(), Event{ID: "e1", Kind: KindGroupMessage}, nil))

	select {
	case ev := <-ch:
		assert.Equal(t, "e1", ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscribed event")
	}
}

func TestClient_DuplicateEventsAreDropped(t *testing.T) {
	relay := newFakeRelay(t)
	c, err := Dial(context.Background(), []string{relay.url()}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	ch, err := c.Subscribe(context.Background(), "s1", Filter{Kinds: []int{KindGroupMessage}}, nil)
	require.NoError(t, err)
	defer c.Unsubscribe("s1", nil)

	time.Sleep(50 * time.Millisecond)
	ev := Event{ID: "same", Kind: KindGroupMessage}
	require.NoError(t, c.Publish(context.Background(), ev, nil))
	require.NoError(t, c.Publish(context.Background(), ev, nil))

	var got []Event
	deadline := time.After(500 * time.Millisecond)
loop:
	for {
		select {
		case e := <-ch:
			got = append(got, e)
		case <-deadline:
			break loop
		}
	}
	assert.Len(t, got, 1, "duplicate ids must be dropped")
}

func TestClient_SubscribeDuplicateID(t *testing.T) {
	relay := newFakeRelay(t)
	c, err := Dial(context.Background(), []string{relay.url()}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Subscribe(context.Background(), "dup", Filter{}, nil)
	require.NoError(t, err)
	defer c.Unsubscribe("dup", nil)

	_, err = c.Subscribe(context.Background(), "dup", Filter{}, nil)
	require.ErrorIs(t, err, ErrDuplicateSubscription)
}
