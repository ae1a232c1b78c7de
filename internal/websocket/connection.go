package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classroom/pkg/types"
)

// Connection wraps one participant's websocket. All writes funnel through a
// single writer goroutine; Send never blocks, so one slow or dead connection
// cannot stall delivery to the rest of the classroom.
type Connection struct {
	conn        *websocket.Conn
	writeCh     chan []byte
	participant types.Participant
	classroomID string

	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded websocket and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, p types.Participant, classroomID string, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		participant:  p,
		classroomID:  classroomID,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Mark the connection dead so senders stop queueing into a
				// buffer nobody drains.
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send encodes a payload and queues it for delivery. It returns
// ErrSendBufferFull instead of blocking when the client cannot keep up; the
// message is dropped for this recipient only.
func (c *Connection) Send(p types.Payload) error {
	data, err := types.EncodeMessage(p)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw queues pre-encoded bytes for delivery without blocking.
func (c *Connection) SendRaw(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a websocket ping control frame directly.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Closed reports whether Close was called or the writer loop gave up.
func (c *Connection) Closed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Connection) Participant() types.Participant { return c.participant }
func (c *Connection) ClassroomID() string            { return c.classroomID }
