package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"classroom/pkg/types"
)

// newConnPair upgrades a real websocket and returns the server-side wrapper
// plus the raw client side.
func newConnPair(t *testing.T, p types.Participant, classroomID string) (*Connection, *gws.Conn) {
	t.Helper()

	serverSide := make(chan *Connection, 1)
	upgrader := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverSide <- NewConnection(raw, p, classroomID, 16, time.Second)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	conn := <-serverSide
	t.Cleanup(func() { conn.Close() })
	return conn, client
}

// readPayload reads and decodes one envelope from the raw client side.
func readPayload(t *testing.T, client *gws.Conn, timeout time.Duration) types.Payload {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	payload, err := types.DecodeMessage(data)
	require.NoError(t, err)
	return payload
}
