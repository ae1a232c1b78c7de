package client

import (
	"context"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/classroom"
	"classroom/internal/gateway"
	"classroom/internal/identity"
	"classroom/internal/journal"
	"classroom/internal/websocket"
	"classroom/pkg/types"
)

type notice struct {
	message string
	isError bool
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) ShowNotification(message string, isError bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{message: message, isError: isError})
}

func (n *recordingNotifier) all() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.notices...)
}

type clientEnv struct {
	store    *classroom.Store
	verifier *identity.Verifier
	server   *httptest.Server
}

func newClientEnv(t *testing.T) *clientEnv {
	t.Helper()

	recorder, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })

	registry := websocket.NewRegistry(nil)
	broadcaster := websocket.NewBroadcaster(registry, nil)
	store := classroom.NewStore(broadcaster, classroom.WithDefaultTurnDuration(time.Hour))
	verifier := identity.NewVerifier("test-secret")

	_, err = store.CreateClassroom("room-1", "Algorithms", 4)
	require.NoError(t, err)

	wsHandler := websocket.NewHandler(store, registry, broadcaster, verifier, websocket.Options{
		PingInterval: 50 * time.Millisecond,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, nil)
	gw := gateway.NewServer(store, recorder, verifier, wsHandler, nil)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return &clientEnv{store: store, verifier: verifier, server: srv}
}

func (e *clientEnv) newClient(t *testing.T, id, role string, opts ...Option) *Client {
	t.Helper()
	token, err := e.verifier.Issue(types.Participant{ID: id, Name: id, Role: role}, time.Hour)
	require.NoError(t, err)
	c := New(e.server.URL, "room-1", id, token, opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_ConnectSyncsState(t *testing.T) {
	env := newClientEnv(t)

	var mu sync.Mutex
	var synced *types.Snapshot
	c := env.newClient(t, "alice", types.RoleStudent, WithCallbacks(Callbacks{
		OnStateSync: func(s *types.Snapshot) {
			mu.Lock()
			synced = s
			mu.Unlock()
		},
	}))

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateOpen, c.State())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, synced)
	assert.Equal(t, "room-1", synced.ClassroomID)
	assert.Len(t, synced.Seats, 4)
}

func TestClient_ConnectFailureNotifiesOnce(t *testing.T) {
	env := newClientEnv(t)
	notifier := &recordingNotifier{}
	c := New(env.server.URL, "room-1", "alice", "garbage-token", WithNotifier(notifier))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosedError, c.State())

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.True(t, notices[0].isError)
	assert.Contains(t, notices[0].message, "Failed to connect")
}

func TestClient_SendBeforeConnectIsRejected(t *testing.T) {
	env := newClientEnv(t)
	c := env.newClient(t, "alice", types.RoleStudent)
	assert.ErrorIs(t, c.SendChat("hello", ""), ErrNotConnected)
}

func TestClient_RaiseHandWithoutSeat(t *testing.T) {
	env := newClientEnv(t)
	notifier := &recordingNotifier{}
	c := env.newClient(t, "alice", types.RoleStudent, WithNotifier(notifier))
	require.NoError(t, c.Connect(context.Background()))

	err := c.RaiseHand(context.Background())
	assert.ErrorIs(t, err, ErrNoSeat)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "Please select a seat first.", notices[0].message)
}

func TestClient_SeatAndHandLifecycle(t *testing.T) {
	env := newClientEnv(t)

	handRaises := make(chan *types.HandRaise, 4)
	c := env.newClient(t, "alice", types.RoleStudent, WithCallbacks(Callbacks{
		OnHandRaise: func(h *types.HandRaise) { handRaises <- h },
	}))
	require.NoError(t, c.Connect(context.Background()))

	ctx := context.Background()
	seat, err := c.SelectSeat(ctx, "seat-1")
	require.NoError(t, err)
	assert.Equal(t, "seat-1", seat.ID)
	assert.Equal(t, "seat-1", c.OwnSeat())

	require.NoError(t, c.RaiseHand(ctx))
	select {
	case h := <-handRaises:
		assert.Equal(t, "seat-1", h.SeatID)
		assert.True(t, h.Raised)
	case <-time.After(time.Second):
		t.Fatal("hand raise broadcast never arrived")
	}

	hands, err := c.RaisedHands(ctx)
	require.NoError(t, err)
	require.Len(t, hands, 1)
	assert.Equal(t, "seat-1", hands[0].SeatID)

	require.NoError(t, c.LowerHand(ctx))
	require.NoError(t, c.LeaveSeat(ctx))
	assert.Empty(t, c.OwnSeat())
}

func TestClient_SelectOccupiedSeatReturnsActionError(t *testing.T) {
	env := newClientEnv(t)
	ctx := context.Background()

	alice := env.newClient(t, "alice", types.RoleStudent)
	bob := env.newClient(t, "bob", types.RoleStudent)
	require.NoError(t, alice.Connect(ctx))
	require.NoError(t, bob.Connect(ctx))

	_, err := alice.SelectSeat(ctx, "seat-0")
	require.NoError(t, err)

	_, err = bob.SelectSeat(ctx, "seat-0")
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Contains(t, actionErr.Message, "already taken")
}

func TestClient_ServerErrorBecomesNotification(t *testing.T) {
	env := newClientEnv(t)
	notifier := &recordingNotifier{}
	c := env.newClient(t, "alice", types.RoleStudent, WithNotifier(notifier))
	require.NoError(t, c.Connect(context.Background()))

	// Direct chat to someone who is not connected draws an error envelope.
	require.NoError(t, c.SendChat("psst", "nobody"))

	require.Eventually(t, func() bool {
		for _, n := range notifier.all() {
			if strings.Contains(n.message, "Server error:") {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestClient_TeacherRoundFlow(t *testing.T) {
	env := newClientEnv(t)
	ctx := context.Background()

	alice := env.newClient(t, "alice", types.RoleStudent)
	bob := env.newClient(t, "bob", types.RoleStudent)
	teach := env.newClient(t, "teach", types.RoleTeacher)
	require.NoError(t, alice.Connect(ctx))
	require.NoError(t, bob.Connect(ctx))
	require.NoError(t, teach.Connect(ctx))

	_, err := alice.SelectSeat(ctx, "seat-0")
	require.NoError(t, err)
	_, err = bob.SelectSeat(ctx, "seat-1")
	require.NoError(t, err)

	round, turn, err := teach.StartUpdateRound(ctx, 120, nil)
	require.NoError(t, err)
	require.NotNil(t, round)
	require.NotNil(t, turn)

	next, completed, err := teach.EndTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.False(t, completed)
	require.NotNil(t, next)
	assert.NotEqual(t, turn.SeatID, next.SeatID)

	_, completed, err = teach.EndTurn(ctx, next.ID)
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestClient_ReconnectsAfterAbnormalClose(t *testing.T) {
	env := newClientEnv(t)

	syncs := make(chan *types.Snapshot, 4)
	notifier := &recordingNotifier{}
	c := env.newClient(t, "alice", types.RoleStudent,
		WithNotifier(notifier),
		WithCallbacks(Callbacks{OnStateSync: func(s *types.Snapshot) { syncs <- s }}))
	require.NoError(t, c.Connect(context.Background()))
	<-syncs

	// A second connection for the same participant evicts the first, which
	// the client sees as an abnormal close.
	token, err := env.verifier.Issue(types.Participant{ID: "alice", Name: "alice", Role: types.RoleStudent}, time.Hour)
	require.NoError(t, err)
	u, err := url.Parse("ws" + strings.TrimPrefix(env.server.URL, "http"))
	require.NoError(t, err)
	u.Path = "/ws"
	q := u.Query()
	q.Set("classroom_id", "room-1")
	q.Set("token", token)
	u.RawQuery = q.Encode()
	intruder, _, err := gws.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer intruder.Close()

	select {
	case snap := <-syncs:
		assert.Equal(t, "room-1", snap.ClassroomID)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never resynced")
	}

	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, notifier.all())
}

func TestClient_CleanCloseIsQuiet(t *testing.T) {
	env := newClientEnv(t)
	notifier := &recordingNotifier{}
	c := env.newClient(t, "alice", types.RoleStudent, WithNotifier(notifier))
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosedClean, c.State())
	assert.Empty(t, notifier.all())
}

func TestClient_ShareContentWithoutSeat(t *testing.T) {
	env := newClientEnv(t)
	notifier := &recordingNotifier{}
	c := env.newClient(t, "alice", types.RoleStudent, WithNotifier(notifier))
	require.NoError(t, c.Connect(context.Background()))

	assert.ErrorIs(t, c.ShareContent(types.ContentTypeNotes, "", "scratch work"), ErrNoSeat)
}
