package ws

import (
	"log"

	"github.com/linkup/social-core/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to registered handlers by
// message type. Ping/pong keepalive is handled internally; malformed or
// unsupported messages get a structured error response.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler)}
}

// Register associates a handler with a message type, replacing any previous
// registration for that type.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses raw frame bytes and routes them. It is the server's
// onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("[ws] dispatch parse error user=%s: %v", conn.UserID, err)
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("[ws] unsupported message type=%q user=%s", msgType, conn.UserID)
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// SendError sends a structured error frame to the client. Failures are
// logged, not propagated.
func (d *MessageDispatcher) SendError(conn *Connection, code, message string) {
	d.sendError(conn, code, message)
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	frame, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("[ws] build error frame: %v", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		log.Printf("[ws] send error frame user=%s: %v", conn.UserID, err)
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	frame, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		return
	}
	_ = conn.Send(frame)
}
