package websocket

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/classroom"
	"classroom/internal/identity"
	"classroom/pkg/types"
)

type handlerEnv struct {
	store    *classroom.Store
	verifier *identity.Verifier
	server   *httptest.Server
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	registry := NewRegistry(nil)
	broadcaster := NewBroadcaster(registry, nil)
	store := classroom.NewStore(broadcaster, classroom.WithDefaultTurnDuration(time.Hour))
	verifier := identity.NewVerifier("test-secret")

	_, err := store.CreateClassroom("room-1", "Algorithms", 4)
	require.NoError(t, err)

	handler := NewHandler(store, registry, broadcaster, verifier, Options{
		PingInterval: 50 * time.Millisecond,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, nil)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &handlerEnv{store: store, verifier: verifier, server: srv}
}

func (e *handlerEnv) dial(t *testing.T, p types.Participant) *gws.Conn {
	t.Helper()
	token, err := e.verifier.Issue(p, time.Hour)
	require.NoError(t, err)

	u, err := url.Parse("ws" + strings.TrimPrefix(e.server.URL, "http"))
	require.NoError(t, err)
	q := u.Query()
	q.Set("classroom_id", "room-1")
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := gws.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandler_RejectsUnknownClassroom(t *testing.T) {
	env := newHandlerEnv(t)
	token, err := env.verifier.Issue(types.Participant{ID: "alice", Role: types.RoleStudent}, time.Hour)
	require.NoError(t, err)

	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "?classroom_id=nope&token=" + token
	_, resp, err := gws.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_RejectsBadToken(t *testing.T) {
	env := newHandlerEnv(t)
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "?classroom_id=room-1&token=garbage"
	_, resp, err := gws.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_AnnouncesStudentJoinAndLeave(t *testing.T) {
	env := newHandlerEnv(t)
	teacher := env.dial(t, types.Participant{ID: "teach", Name: "teach", Role: types.RoleTeacher})

	student := env.dial(t, types.Participant{ID: "alice", Name: "Alice", Role: types.RoleStudent})

	joined := readPayload(t, teacher, time.Second).(*types.UserJoined)
	assert.Equal(t, "alice", joined.UserID)
	assert.Equal(t, "Alice", joined.Username)

	student.Close()
	left := readPayload(t, teacher, time.Second).(*types.UserLeft)
	assert.Equal(t, "alice", left.UserID)
}

func TestHandler_ReconnectDoesNotAnnounceDeparture(t *testing.T) {
	env := newHandlerEnv(t)
	teacher := env.dial(t, types.Participant{ID: "teach", Name: "teach", Role: types.RoleTeacher})
	alice := types.Participant{ID: "alice", Name: "Alice", Role: types.RoleStudent}

	env.dial(t, alice)
	waitForType(t, teacher, types.MessageTypeUserJoined, time.Second)

	// Reconnecting evicts the first connection; its teardown must not make
	// the room believe alice left.
	replacement := env.dial(t, alice)
	waitForType(t, teacher, types.MessageTypeUserJoined, time.Second)

	// Closing the live connection announces exactly one departure. A second
	// user_left would be the evicted connection's teardown leaking through.
	replacement.Close()
	left := waitForType(t, teacher, types.MessageTypeUserLeft, time.Second).(*types.UserLeft)
	assert.Equal(t, "alice", left.UserID)

	teacher.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		_, raw, err := teacher.ReadMessage()
		if err != nil {
			break // timed out without a second departure
		}
		payload, err := types.DecodeMessage(raw)
		require.NoError(t, err)
		require.NotEqual(t, types.MessageTypeUserLeft, payload.MessageType(),
			"eviction of the stale connection announced a departure")
	}
}

func TestHandler_RelaysClassroomChat(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.dial(t, types.Participant{ID: "alice", Name: "Alice", Role: types.RoleStudent})
	bob := env.dial(t, types.Participant{ID: "bob", Name: "Bob", Role: types.RoleStudent})

	data, err := types.EncodeMessage(&types.ChatMessage{Message: "hello", Recipient: "everyone"})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(gws.TextMessage, data))

	got := waitForType(t, bob, types.MessageTypeChatMessage, time.Second).(*types.ChatMessage)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, "Alice", got.Sender)
}

func TestHandler_DirectChatOnlyReachesRecipient(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.dial(t, types.Participant{ID: "alice", Name: "Alice", Role: types.RoleStudent})
	bob := env.dial(t, types.Participant{ID: "bob", Name: "Bob", Role: types.RoleStudent})
	carol := env.dial(t, types.Participant{ID: "carol", Name: "Carol", Role: types.RoleStudent})

	data, err := types.EncodeMessage(&types.ChatMessage{Message: "psst", Recipient: "bob"})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(gws.TextMessage, data))

	got := waitForType(t, bob, types.MessageTypeChatMessage, time.Second).(*types.ChatMessage)
	assert.Equal(t, "psst", got.Message)

	carol.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		_, raw, err := carol.ReadMessage()
		if err != nil {
			break // timed out without seeing the direct message
		}
		payload, err := types.DecodeMessage(raw)
		require.NoError(t, err)
		require.NotEqual(t, types.MessageTypeChatMessage, payload.MessageType(),
			"direct chat leaked to a third participant")
	}
}

func TestHandler_ContentShareRequiresSeatOwnership(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.dial(t, types.Participant{ID: "alice", Name: "Alice", Role: types.RoleStudent})

	data, err := types.EncodeMessage(&types.ContentShare{SeatID: "seat-0", ContentType: types.ContentTypeNotes})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(gws.TextMessage, data))

	got := waitForType(t, alice, types.MessageTypeError, time.Second).(*types.ErrorMessage)
	assert.Contains(t, got.Message, "own seat")

	// Seat alice, then sharing works and is broadcast.
	_, err = env.store.AssignSeat("room-1", types.Participant{ID: "alice", Name: "Alice", Role: types.RoleStudent}, "seat-0")
	require.NoError(t, err)
	waitForType(t, alice, types.MessageTypeSeatUpdate, time.Second)

	require.NoError(t, alice.WriteMessage(gws.TextMessage, data))
	share := waitForType(t, alice, types.MessageTypeContentShare, time.Second).(*types.ContentShare)
	assert.Equal(t, "seat-0", share.SeatID)
	assert.NotEmpty(t, share.ContentID)
}

func TestHandler_RejectsStateChangingMessages(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.dial(t, types.Participant{ID: "alice", Name: "Alice", Role: types.RoleStudent})

	data, err := types.EncodeMessage(&types.SeatUpdate{SeatID: "seat-0", Status: types.SeatOccupied})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(gws.TextMessage, data))

	got := waitForType(t, alice, types.MessageTypeError, time.Second).(*types.ErrorMessage)
	assert.Contains(t, got.Message, "unsupported message type")
}

// waitForType reads messages until one of the wanted type arrives.
func waitForType(t *testing.T, conn *gws.Conn, msgType string, timeout time.Duration) types.Payload {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		payload, err := types.DecodeMessage(raw)
		require.NoError(t, err)
		if payload.MessageType() == msgType {
			return payload
		}
	}
	t.Fatalf("timed out waiting for %s message", msgType)
	return nil
}
