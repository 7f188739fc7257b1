package protocol

// WebSocket close codes used on Conn.Close, mirroring RFC 6455 so
// domain code does not import the transport library.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Conn is the outbound half of a websocket peer as the rest of the
// system sees it. Implementations serialize writes; callers may send
// from any goroutine.
type Conn interface {
	// Send marshals v and writes it as a single text frame.
	Send(v any) error

	// Ping writes a ping control frame.
	Ping(data []byte) error

	// Close writes a close frame with the given code and reason, then
	// tears down the underlying connection.
	Close(code int, reason string) error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}
