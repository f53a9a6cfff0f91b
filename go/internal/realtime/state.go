package realtime

// ConnectionState is the lifecycle state of a Session.
type ConnectionState int

const (
	// Disconnected means no link is open and none is being opened.
	Disconnected ConnectionState = iota
	// Connecting means a dial or handshake is in progress.
	Connecting
	// Connected means the handshake completed and the link is usable.
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}
