package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

const (
	// initTimeout bounds how long a peer may sit on a fresh socket
	// before sending its handshake frame.
	initTimeout = 10 * time.Second

	writeTimeout = 10 * time.Second

	// maxFrameBytes caps inbound frames. Device events and app display
	// requests are small; anything near this size is a broken peer.
	maxFrameBytes = 1 << 20
)

// Conn adapts a gorilla socket to the protocol.Conn the domain works
// against: serialized writes, sonic-encoded frames, control helpers.
type Conn struct {
	mu      sync.Mutex
	ws      *websocket.Conn
	peer    string
	metrics *monitoring.Metrics
}

func newConn(ws *websocket.Conn, peer string, metrics *monitoring.Metrics) *Conn {
	return &Conn{ws: ws, peer: peer, metrics: metrics}
}

// Send encodes v and writes it as one text frame. Safe for concurrent
// use; the session and its components all write through here.
func (c *Conn) Send(v any) error {
	data, err := protocol.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if m, ok := v.(interface{ MessageType() protocol.MessageType }); ok {
		c.metrics.RecordWSMessage(c.peer, "out", string(m.MessageType()))
	}
	return nil
}

// Ping sends a ping control frame. Control writes are safe alongside
// data writes, so no lock is taken.
func (c *Conn) Ping(data []byte) error {
	return c.ws.WriteControl(websocket.PingMessage, data, time.Now().Add(writeTimeout))
}

// Close sends a close frame with the given code and reason, then tears
// the socket down, which also unblocks the read pump.
func (c *Conn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	return c.ws.Close()
}

// RemoteAddr reports the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
