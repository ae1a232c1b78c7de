// Package client is the Go classroom client: it maintains the realtime
// connection, dispatches broadcast messages, and performs actions against
// the HTTP gateway.
package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classroom/pkg/types"
)

// State is the lifecycle state of the realtime connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosedClean
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedClean:
		return "closed"
	case StateClosedError:
		return "failed"
	}
	return "unknown"
}

var (
	ErrNotConnected = errors.New("connection is not open")
	ErrNoSeat       = errors.New("no seat selected")
)

// Notifier surfaces user-facing notices. Each connection failure produces
// exactly one error notification.
type Notifier interface {
	ShowNotification(message string, isError bool)
}

type nopNotifier struct{}

func (nopNotifier) ShowNotification(string, bool) {}

// Callbacks receive dispatched broadcast messages. Nil entries are skipped.
type Callbacks struct {
	OnSeatUpdate      func(*types.SeatUpdate)
	OnHandRaise       func(*types.HandRaise)
	OnUpdateRound     func(*types.UpdateRound)
	OnChatMessage     func(*types.ChatMessage)
	OnContentShare    func(*types.ContentShare)
	OnUserJoined      func(*types.UserJoined)
	OnUserLeft        func(*types.UserLeft)
	OnClassroomClosed func(*types.ClassroomClosed)
	OnStateSync       func(*types.Snapshot)
}

// Client connects one participant to one classroom.
type Client struct {
	baseURL     string
	classroomID string
	userID      string
	token       string

	httpClient       *http.Client
	handshakeTimeout time.Duration
	notifier         Notifier
	callbacks        Callbacks
	logger           *slog.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	ownSeat string
	retried bool

	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

func WithCallbacks(cb Callbacks) Option {
	return func(c *Client) { c.callbacks = cb }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a client for the given participant. baseURL is the gateway's
// HTTP base, e.g. "http://localhost:8080"; token is the signed identity
// token used for both the gateway and the websocket.
func New(baseURL, classroomID, userID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		classroomID:      classroomID,
		userID:           userID,
		token:            token,
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		handshakeTimeout: 10 * time.Second,
		notifier:         nopNotifier{},
		logger:           slog.Default(),
		state:            StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OwnSeat returns the seat this participant currently holds, or "".
func (c *Client) OwnSeat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownSeat
}

// Connect dials the realtime channel and synchronizes local state from a
// snapshot. A failed dial produces one error notification and leaves the
// client in StateClosedError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.failClosed("Failed to connect to the classroom. Please refresh the page.")
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.retried = false
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.resync(ctx); err != nil {
		c.logger.Warn("state sync failed", "classroom_id", c.classroomID, "error", err)
	}
	return nil
}

// Close performs a clean shutdown of the realtime connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateClosedClean
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// SendChat sends a chat message. Recipient "" or "everyone" addresses the
// whole classroom; a participant ID addresses one person.
func (c *Client) SendChat(message, recipient string) error {
	if recipient == "" {
		recipient = "everyone"
	}
	return c.send(&types.ChatMessage{Message: message, Recipient: recipient})
}

// ShareContent shares content from the participant's seat.
func (c *Client) ShareContent(contentType, link, description string) error {
	c.mu.Lock()
	seat := c.ownSeat
	c.mu.Unlock()
	if seat == "" {
		c.notifier.ShowNotification("Please select a seat first.", true)
		return ErrNoSeat
	}
	return c.send(&types.ContentShare{
		SeatID:      seat,
		ContentType: contentType,
		Link:        link,
		Description: description,
	})
}

// send writes one envelope; it is a guarded no-op unless the connection is
// open.
func (c *Client) send(p types.Payload) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	data, err := types.EncodeMessage(p)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("classroom_id", c.classroomID)
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.dispatch(data)
	}
}

// handleDisconnect classifies a read failure. A clean close settles the
// client quietly; an abnormal close gets one reconnect attempt, and only
// when that fails does the user see an error.
func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection took over, or Close() already ran.
		c.mu.Unlock()
		return
	}
	c.conn = nil

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.state = StateClosedClean
		c.mu.Unlock()
		c.logger.Info("connection closed", "classroom_id", c.classroomID)
		return
	}

	alreadyRetried := c.retried
	c.retried = true
	c.state = StateConnecting
	c.mu.Unlock()

	if alreadyRetried {
		c.failClosed("Connection to the classroom was lost. Please refresh the page.")
		return
	}

	c.logger.Warn("connection dropped, reconnecting", "classroom_id", c.classroomID, "error", err)
	c.reconnect()
}

// reconnect is the single recovery attempt after an abnormal close: redial,
// then resynchronize from a snapshot since broadcasts were missed.
func (c *Client) reconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		c.failClosed("Connection to the classroom was lost. Please refresh the page.")
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Close() won the race; discard the fresh connection.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.resync(ctx); err != nil {
		c.logger.Warn("state sync after reconnect failed", "classroom_id", c.classroomID, "error", err)
		return
	}

	c.mu.Lock()
	c.retried = false
	c.mu.Unlock()
	c.logger.Info("reconnected", "classroom_id", c.classroomID)
}

func (c *Client) failClosed(message string) {
	c.mu.Lock()
	c.state = StateClosedError
	c.mu.Unlock()
	c.notifier.ShowNotification(message, true)
}

// resync replaces local state with a fresh snapshot from the gateway.
func (c *Client) resync(ctx context.Context) error {
	snap, err := c.FetchState(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if seat := snap.SeatForParticipant(c.userID); seat != nil {
		c.ownSeat = seat.ID
	} else {
		c.ownSeat = ""
	}
	c.mu.Unlock()

	if c.callbacks.OnStateSync != nil {
		c.callbacks.OnStateSync(snap)
	}
	return nil
}

// dispatch routes one broadcast envelope to its callback.
func (c *Client) dispatch(data []byte) {
	payload, err := types.DecodeMessage(data)
	if err != nil {
		c.logger.Warn("undecodable message", "classroom_id", c.classroomID, "error", err)
		return
	}

	switch msg := payload.(type) {
	case *types.SeatUpdate:
		c.trackOwnSeat(msg)
		if c.callbacks.OnSeatUpdate != nil {
			c.callbacks.OnSeatUpdate(msg)
		}
	case *types.HandRaise:
		if c.callbacks.OnHandRaise != nil {
			c.callbacks.OnHandRaise(msg)
		}
	case *types.UpdateRound:
		if c.callbacks.OnUpdateRound != nil {
			c.callbacks.OnUpdateRound(msg)
		}
	case *types.ChatMessage:
		if c.callbacks.OnChatMessage != nil {
			c.callbacks.OnChatMessage(msg)
		}
	case *types.ContentShare:
		if c.callbacks.OnContentShare != nil {
			c.callbacks.OnContentShare(msg)
		}
	case *types.UserJoined:
		if c.callbacks.OnUserJoined != nil {
			c.callbacks.OnUserJoined(msg)
		}
	case *types.UserLeft:
		if c.callbacks.OnUserLeft != nil {
			c.callbacks.OnUserLeft(msg)
		}
	case *types.ClassroomClosed:
		if c.callbacks.OnClassroomClosed != nil {
			c.callbacks.OnClassroomClosed(msg)
		}
	case *types.ErrorMessage:
		c.notifier.ShowNotification("Server error: "+msg.Message, true)
	case *types.UnknownMessage:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

func (c *Client) trackOwnSeat(msg *types.SeatUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case msg.StudentID == c.userID && msg.Status != types.SeatEmpty:
		c.ownSeat = msg.SeatID
	case msg.SeatID == c.ownSeat && msg.Status == types.SeatEmpty:
		c.ownSeat = ""
	}
}
