package resource

import "net"

// ID is an opaque reference to a resource in a table.
// IDs are assigned monotonically starting at 1 and never reused for the
// lifetime of the table. ID 0 is reserved and always invalid.
type ID uint32

// Resource is implemented by host objects exposed to script through an
// integer id. A resource may be referenced simultaneously by the table and
// by in-flight async work; Close runs exactly once, when the last reference
// is released.
type Resource interface {
	// Name identifies the resource kind in diagnostics, e.g. "tcpStream".
	Name() string

	// Close releases the underlying state.
	Close()
}

// FDBacked is optionally implemented by resources backed by a file
// descriptor. The descriptor is a fast-path view for embedder hot loops: it
// may be invalidated out-of-band, so callers must revalidate before use.
type FDBacked interface {
	BackingFD() (fd int, ok bool)
}

// SocketBacked is optionally implemented by resources backed by a network
// connection.
type SocketBacked interface {
	BackingSocket() (conn net.Conn, ok bool)
}

// HandleBacked is optionally implemented by resources backed by an opaque OS
// handle.
type HandleBacked interface {
	BackingHandle() (h uintptr, ok bool)
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventAdded EventType = iota
	EventRemoved
	EventReplaced
)

// Event represents a resource lifecycle event.
type Event struct {
	Name string
	ID   ID
	Type EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}
