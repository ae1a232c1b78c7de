package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
	ErrNilConnection    = errors.New("nil connection")
)
