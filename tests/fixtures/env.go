// Package fixtures provides a fully wired classroom server for scenario
// tests: journal, registry, broadcaster, store and gateway behind one
// httptest listener.
package fixtures

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"classroom/internal/classroom"
	"classroom/internal/gateway"
	"classroom/internal/identity"
	"classroom/internal/journal"
	"classroom/internal/websocket"
	"classroom/pkg/client"
	"classroom/pkg/types"
)

const (
	ClassroomID = "room-1"
	TeacherID   = "teacher"
)

// publisher mirrors the production fan-out: websocket broadcast plus journal.
type publisher struct {
	broadcaster *websocket.Broadcaster
	recorder    *journal.Recorder
}

func (p *publisher) Publish(classroomID string, payload types.Payload) {
	p.broadcaster.Publish(classroomID, payload)
	p.recorder.Record(classroomID, payload)
}

// Env is one running classroom server plus helpers to attach participants.
type Env struct {
	Store    *classroom.Store
	Recorder *journal.Recorder
	Verifier *identity.Verifier
	Server   *httptest.Server
}

// NewEnv starts a server with one classroom of seatCount seats.
func NewEnv(t *testing.T, seatCount int) *Env {
	t.Helper()

	recorder, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })

	registry := websocket.NewRegistry(nil)
	broadcaster := websocket.NewBroadcaster(registry, nil)
	publish := &publisher{broadcaster: broadcaster, recorder: recorder}
	store := classroom.NewStore(publish, classroom.WithDefaultTurnDuration(time.Hour))
	verifier := identity.NewVerifier("scenario-secret")

	_, err = store.CreateClassroom(ClassroomID, "Scenario Classroom", seatCount)
	require.NoError(t, err)

	wsHandler := websocket.NewHandler(store, registry, publish, verifier, websocket.Options{
		PingInterval: 100 * time.Millisecond,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
	}, nil)
	gw := gateway.NewServer(store, recorder, verifier, wsHandler, nil)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	return &Env{Store: store, Recorder: recorder, Verifier: verifier, Server: srv}
}

// Token issues an identity token for a participant.
func (e *Env) Token(t *testing.T, id, role string) string {
	t.Helper()
	token, err := e.Verifier.Issue(types.Participant{ID: id, Name: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

// Connect creates and connects a classroom client for the participant.
func (e *Env) Connect(t *testing.T, id, role string, opts ...client.Option) *client.Client {
	t.Helper()
	c := client.New(e.Server.URL, ClassroomID, id, e.Token(t, id, role), opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

// ConnectTeacher connects the classroom's teacher.
func (e *Env) ConnectTeacher(t *testing.T, opts ...client.Option) *client.Client {
	return e.Connect(t, TeacherID, types.RoleTeacher, opts...)
}

// Notice is one captured user-facing notification.
type Notice struct {
	Message string
	IsError bool
}

// Notifier captures notifications for assertions.
type Notifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *Notifier) ShowNotification(message string, isError bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Message: message, IsError: isError})
}

// Notices returns everything captured so far.
func (n *Notifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

// MessageSink collects dispatched payloads of every kind for one client.
type MessageSink struct {
	SeatUpdates  chan *types.SeatUpdate
	HandRaises   chan *types.HandRaise
	UpdateRounds chan *types.UpdateRound
	Chats        chan *types.ChatMessage
	Shares       chan *types.ContentShare
	Joins        chan *types.UserJoined
	Leaves       chan *types.UserLeft
	Closures     chan *types.ClassroomClosed
	Snapshots    chan *types.Snapshot
}

// NewMessageSink builds a sink with generous buffers and the callbacks to
// feed it.
func NewMessageSink() (*MessageSink, client.Callbacks) {
	s := &MessageSink{
		SeatUpdates:  make(chan *types.SeatUpdate, 64),
		HandRaises:   make(chan *types.HandRaise, 64),
		UpdateRounds: make(chan *types.UpdateRound, 64),
		Chats:        make(chan *types.ChatMessage, 64),
		Shares:       make(chan *types.ContentShare, 64),
		Joins:        make(chan *types.UserJoined, 64),
		Leaves:       make(chan *types.UserLeft, 64),
		Closures:     make(chan *types.ClassroomClosed, 8),
		Snapshots:    make(chan *types.Snapshot, 8),
	}
	cb := client.Callbacks{
		OnSeatUpdate:      func(m *types.SeatUpdate) { s.SeatUpdates <- m },
		OnHandRaise:       func(m *types.HandRaise) { s.HandRaises <- m },
		OnUpdateRound:     func(m *types.UpdateRound) { s.UpdateRounds <- m },
		OnChatMessage:     func(m *types.ChatMessage) { s.Chats <- m },
		OnContentShare:    func(m *types.ContentShare) { s.Shares <- m },
		OnUserJoined:      func(m *types.UserJoined) { s.Joins <- m },
		OnUserLeft:        func(m *types.UserLeft) { s.Leaves <- m },
		OnClassroomClosed: func(m *types.ClassroomClosed) { s.Closures <- m },
		OnStateSync:       func(m *types.Snapshot) { s.Snapshots <- m },
	}
	return s, cb
}

// Recv waits for one value from ch or fails the test.
func Recv[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %T", *new(T))
		panic("unreachable")
	}
}
