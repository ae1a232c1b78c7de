package websocket

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classroom/internal/classroom"
	"classroom/internal/identity"
	"classroom/pkg/types"
)

// Options tunes connection behaviour; zero values fall back to defaults.
type Options struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
	MessagesPerMin   int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 30 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 60 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.BufferSize <= 0 {
		out.BufferSize = 100
	}
	if out.MessagesPerMin <= 0 {
		out.MessagesPerMin = 100
	}
	return out
}

// Handler upgrades participant connections and relays the two client-to-
// server message kinds (chat, content share). State-changing intents arrive
// over the action gateway, never the socket.
type Handler struct {
	store    *classroom.Store
	registry *Registry
	publish  classroom.Broadcaster
	verifier *identity.Verifier
	limiter  *RateLimiter
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(store *classroom.Store, registry *Registry, publish classroom.Broadcaster, verifier *identity.Verifier, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	o := opts.withDefaults()
	return &Handler{
		store:    store,
		registry: registry,
		publish:  publish,
		verifier: verifier,
		limiter:  NewRateLimiter(o.MessagesPerMin),
		opts:     o,
		logger:   logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: o.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /ws?classroom_id=...&token=... The token travels as
// a query parameter because browsers cannot set headers on websocket dials.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	classroomID := r.URL.Query().Get("classroom_id")
	if classroomID == "" {
		http.Error(w, "classroom_id query parameter required", http.StatusBadRequest)
		return
	}
	if !h.store.Exists(classroomID) {
		http.Error(w, "classroom not found", http.StatusNotFound)
		return
	}
	participant, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "classroom_id", classroomID, "user_id", participant.ID, "error", err)
		return
	}

	conn := NewConnection(raw, participant, classroomID, h.opts.BufferSize, h.opts.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		conn.Close()
		return
	}

	// Teachers join silently; students are announced to the room.
	if participant.Role == types.RoleStudent {
		h.publish.Publish(classroomID, &types.UserJoined{UserID: participant.ID, Username: participant.Name})
	}

	go h.readLoop(conn)
}

func (h *Handler) readLoop(conn *Connection) {
	participant := conn.Participant()
	classroomID := conn.ClassroomID()

	defer func() {
		// An evicted connection (the participant reconnected) must not tear
		// down the replacement's state or announce a departure.
		removed := h.registry.Unregister(conn)
		conn.Close()
		if !removed {
			return
		}
		h.limiter.Forget(participant.ID)
		if participant.Role == types.RoleStudent && h.store.Exists(classroomID) {
			h.publish.Publish(classroomID, &types.UserLeft{UserID: participant.ID, Username: participant.Name})
		}
	}()

	raw := conn.conn
	raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(conn, stopPing)

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("connection dropped", "classroom_id", classroomID, "user_id", participant.ID, "error", err)
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		h.dispatch(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// dispatch handles one inbound envelope from a client.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	participant := conn.Participant()
	classroomID := conn.ClassroomID()

	payload, err := types.DecodeMessage(data)
	if err != nil {
		conn.Send(&types.ErrorMessage{Message: "invalid message"})
		return
	}

	if !h.limiter.Allow(participant.ID) {
		conn.Send(&types.ErrorMessage{Message: "rate limit exceeded"})
		return
	}

	switch msg := payload.(type) {
	case *types.ChatMessage:
		msg.Sender = participant.Name
		msg.SenderID = participant.ID
		if msg.Recipient == "" {
			msg.Recipient = "everyone"
		}
		if msg.Recipient == "everyone" {
			h.publish.Publish(classroomID, msg)
			return
		}
		recipient, ok := h.registry.Connection(classroomID, msg.Recipient)
		if !ok {
			conn.Send(&types.ErrorMessage{Message: "recipient is not connected"})
			return
		}
		if err := recipient.Send(msg); err != nil {
			h.logger.Warn("direct chat dropped", "classroom_id", classroomID, "to", msg.Recipient, "error", err)
		}

	case *types.ContentShare:
		if !h.store.IsSeatOwner(classroomID, participant.ID, msg.SeatID) {
			conn.Send(&types.ErrorMessage{Message: "You can only share content from your own seat."})
			return
		}
		if err := types.ValidateContentShare(msg); err != nil {
			conn.Send(&types.ErrorMessage{Message: err.Error()})
			return
		}
		if msg.ContentID == "" {
			msg.ContentID = uuid.New().String()
		}
		h.publish.Publish(classroomID, msg)

	default:
		// The socket only accepts chat and content share; seat and turn
		// intents must go through the action gateway.
		conn.Send(&types.ErrorMessage{
			Message: fmt.Sprintf("unsupported message type %q", payload.MessageType()),
		})
	}
}
