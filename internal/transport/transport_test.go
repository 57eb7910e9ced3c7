package transport

import (
	"context"
	"database/sql"
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kinloop/kinloop/internal/common"
	"github.com/kinloop/kinloop/internal/identity"
	"github.com/kinloop/kinloop/internal/logging"
	"github.com/kinloop/kinloop/internal/relay"
	"github.com/kinloop/kinloop/internal/signer"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
}

type fixture struct {
	transport *Transport
	network   *relay.Memory
	engine    *AESEngine
	custody   *identity.Custody
}

func newFixture(t *testing.T, withParent bool) *fixture {
	t.Helper()
	network := relay.NewMemory()
	engine := NewAESEngine(NewMemoryKeyStore())
	custody := identity.NewCustody(identity.NewMemoryStore(), testLogger())
	if withParent {
		_, err := custody.GenerateParentIdentity(context.Background(), false)
		require.NoError(t, err)
	}
	tr := New(network, engine, signer.Ed25519{}, custody, testLogger(),
		[]string{"wss://moderation.test"}, time.Second)
	return &fixture{transport: tr, network: network, engine: engine, custody: custody}
}

func TestAESEngine_RoundTrip(t *testing.T) {
	engine := NewAESEngine(NewMemoryKeyStore())
	ctx := context.Background()

	_, err := engine.Encrypt(ctx, []byte("hi"), "g1")
	require.ErrorIs(t, err, ErrGroupUnavailable)

	require.NoError(t, engine.EnsureGroup(ctx, "g1"))
	require.NoError(t, engine.EnsureGroup(ctx, "g1"), "EnsureGroup is idempotent")

	sealed, err := engine.Encrypt(ctx, []byte("hello family"), "g1")
	require.NoError(t, err)

	plaintext, err := engine.Decrypt(ctx, sealed, "g1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello family"), plaintext)

	_, err = engine.Decrypt(ctx, sealed, "g2")
	assert.ErrorIs(t, err, ErrGroupUnavailable)
}

func TestAESEngine_EnsureGroupKeepsKey(t *testing.T) {
	keys := NewMemoryKeyStore()
	engine := NewAESEngine(keys)
	ctx := context.Background()

	require.NoError(t, engine.EnsureGroup(ctx, "g1"))
	sealed, err := engine.Encrypt(ctx, []byte("x"), "g1")
	require.NoError(t, err)

	require.NoError(t, engine.EnsureGroup(ctx, "g1"))
	got, err := engine.Decrypt(ctx, sealed, "g1")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestSQLiteKeyStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:transport_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS group_keys (
		group_id TEXT PRIMARY KEY, key BLOB NOT NULL, updated_at INTEGER NOT NULL);
		DELETE FROM group_keys;`)
	require.NoError(t, err)

	s := NewSQLiteKeyStore(db)
	ctx := context.Background()

	_, err = s.Key(ctx, "g1")
	require.Error(t, err)

	require.NoError(t, s.SetKey(ctx, "g1", []byte("0123456789abcdef0123456789abcdef")))
	key, err := s.Key(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestPublishToGroup(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.transport.PublishToGroup(ctx, []byte("payload"), "g1")
	require.ErrorIs(t, err, ErrGroupUnavailable)
	assert.Empty(t, f.network.Published(), "nothing published without group state")

	require.NoError(t, f.engine.EnsureGroup(ctx, "g1"))
	require.NoError(t, f.transport.PublishToGroup(ctx, []byte("payload"), "g1"))

	published := f.network.Published()
	require.Len(t, published, 1)
	ev := published[0]
	assert.Equal(t, relay.KindGroupMessage, ev.Kind)
	gid, ok := ev.TagValue("g")
	require.True(t, ok)
	assert.Equal(t, "g1", gid)

	// content is ciphertext, not the plaintext payload
	sealed, err := base64.StdEncoding.DecodeString(ev.Content)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "payload")

	plaintext, err := f.engine.Decrypt(ctx, sealed, "g1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plaintext)
}

func TestPublishToGroup_RequiresParentIdentity(t *testing.T) {
	f := newFixture(t, false)
	err := f.transport.PublishToGroup(context.Background(), []byte("x"), "g1")
	assert.ErrorIs(t, err, identity.ErrIdentityMissing)
}

func TestPublishToModerationEndpoints(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.transport.PublishToModerationEndpoints(context.Background(), []byte(`{"reason":"illegal"}`)))

	published := f.network.Published()
	require.Len(t, published, 1)
	assert.Equal(t, relay.KindModeration, published[0].Kind)
	assert.Equal(t, `{"reason":"illegal"}`, published[0].Content, "moderation path is plaintext-signed")
}

func TestSubscribe_DeliversDecryptedMessages(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.engine.EnsureGroup(ctx, "g1"))

	got := make(chan []byte, 1)
	cancel, err := f.transport.Subscribe(ctx, "g1", func(ctx context.Context, plaintext []byte, ev relay.Event) {
		got <- plaintext
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, f.transport.PublishToGroup(ctx, []byte("ping"), "g1"))

	select {
	case plaintext := <-got:
		assert.Equal(t, []byte("ping"), plaintext)
	case <-time.After(2 * time.Second):
		t.Fatal("expected decrypted message")
	}
}

func TestSubscribe_IdempotentAndPaired(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.engine.EnsureGroup(ctx, "g1"))

	cancel1, err := f.transport.Subscribe(ctx, "g1", func(context.Context, []byte, relay.Event) {})
	require.NoError(t, err)
	_, err = f.transport.Subscribe(ctx, "g1", func(context.Context, []byte, relay.Event) {})
	require.NoError(t, err)

	assert.Len(t, f.network.ActiveSubscriptions(), 1, "second subscribe reuses the stream")

	cancel1()
	cancel1() // repeated cancel is a no-op
	assert.Empty(t, f.network.ActiveSubscriptions())
}

// stallingNetwork blocks every publish until the caller's context expires.
type stallingNetwork struct{}

func (stallingNetwork) ConnectedEndpoints() []string { return []string{"wss://stalled.test"} }

func (stallingNetwork) Publish(ctx context.Context, ev relay.Event, endpoints []string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stallingNetwork) Subscribe(ctx context.Context, id string, filter relay.Filter, endpoints []string) (<-chan relay.Event, error) {
	return nil, relay.ErrNoEndpoints
}

func (stallingNetwork) Unsubscribe(id string, endpoints []string) {}

// deadNetwork reports no reachable endpoints at all.
type deadNetwork struct{ stallingNetwork }

func (deadNetwork) Publish(ctx context.Context, ev relay.Event, endpoints []string) error {
	return relay.ErrNoEndpoints
}

func stalledFixture(t *testing.T, network relay.Network, timeout time.Duration) (*Transport, *AESEngine) {
	t.Helper()
	engine := NewAESEngine(NewMemoryKeyStore())
	custody := identity.NewCustody(identity.NewMemoryStore(), testLogger())
	_, err := custody.GenerateParentIdentity(context.Background(), false)
	require.NoError(t, err)
	tr := New(network, engine, signer.Ed25519{}, custody, testLogger(), nil, timeout)
	return tr, engine
}

func TestPublishToGroup_TimesOut(t *testing.T) {
	tr, engine := stalledFixture(t, stallingNetwork{}, 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, engine.EnsureGroup(ctx, "g1"))

	start := time.Now()
	err := tr.PublishToGroup(ctx, []byte("payload"), "g1")
	assert.ErrorIs(t, err, common.ErrorTimeout, "a stalled publish is a failure, not a partial success")
	assert.Less(t, time.Since(start), 2*time.Second, "the publish races the configured timeout")
}

func TestPublishToModerationEndpoints_TimesOut(t *testing.T) {
	tr, _ := stalledFixture(t, stallingNetwork{}, 50*time.Millisecond)

	err := tr.PublishToModerationEndpoints(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, common.ErrorTimeout)
}

func TestPublish_NoConnectedEndpoints(t *testing.T) {
	tr, engine := stalledFixture(t, deadNetwork{}, time.Second)
	ctx := context.Background()
	require.NoError(t, engine.EnsureGroup(ctx, "g1"))

	err := tr.PublishToGroup(ctx, []byte("x"), "g1")
	assert.ErrorIs(t, err, common.ErrorNoConnectedEndpoints)

	err = tr.PublishToModerationEndpoints(ctx, []byte("x"))
	assert.ErrorIs(t, err, common.ErrorNoConnectedEndpoints)
}

func TestUnsubscribe_ClosesGroupStream(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.engine.EnsureGroup(ctx, "g1"))

	_, err := f.transport.Subscribe(ctx, "g1", func(context.Context, []byte, relay.Event) {})
	require.NoError(t, err)
	require.Len(t, f.network.ActiveSubscriptions(), 1)

	f.transport.Unsubscribe("g1")
	assert.Empty(t, f.network.ActiveSubscriptions())

	f.transport.Unsubscribe("g1") // unknown group is a no-op
}

func TestSubscribe_DropsUndecryptableMessages(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.engine.EnsureGroup(ctx, "g1"))

	called := make(chan struct{}, 1)
	cancel, err := f.transport.Subscribe(ctx, "g1", func(context.Context, []byte, relay.Event) {
		called <- struct{}{}
	})
	require.NoError(t, err)
	defer cancel()

	f.network.Inject(relay.Event{
		ID:      "junk",
		Kind:    relay.KindGroupMessage,
		Tags:    [][]string{{"g", "g1"}},
		Content: base64.StdEncoding.EncodeToString([]byte("garbage garbage")),
	})

	select {
	case <-called:
		t.Fatal("handler must not run for undecryptable messages")
	case <-time.After(200 * time.Millisecond):
	}
}
