package core

// Conn is the hub's borrowed handle to a peer transport.
// The transport owns the physical connection. Implementations must be
// comparable (typically pointers) since the hub keys peer sets by Conn.
type Conn interface {
	// WriteFrame queues an encoded frame. The slice is shared between peers
	// of one broadcast and must not be modified. Implementations must not block.
	WriteFrame(frame []byte) error

	// Close tears the transport down. Implementations must not block.
	Close() error
}
