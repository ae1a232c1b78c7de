package websocket

import (
	"log/slog"

	"classroom/pkg/types"
)

// Broadcaster fans committed classroom events out to every registered
// connection. Publish is called with the classroom's state lock held, so it
// only enqueues: each connection's writer drains its own buffer, and a full
// or closed connection drops the message for that recipient alone.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Publish delivers a payload to all connections of one classroom in call
// order. Fire-and-forget: per-connection failures are logged, never
// propagated.
func (b *Broadcaster) Publish(classroomID string, payload types.Payload) {
	data, err := types.EncodeMessage(payload)
	if err != nil {
		b.logger.Error("encode broadcast failed", "classroom_id", classroomID, "type", payload.MessageType(), "error", err)
		return
	}
	for _, conn := range b.registry.ClassroomConnections(classroomID) {
		if err := conn.SendRaw(data); err != nil {
			b.logger.Warn("broadcast delivery dropped",
				"classroom_id", classroomID,
				"user_id", conn.Participant().ID,
				"type", payload.MessageType(),
				"error", err)
		}
	}
}
