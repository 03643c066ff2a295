package session

import "errors"

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Scanning
	Connecting
	SubscribedAwaitingFirstChunk
	Streaming
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case SubscribedAwaitingFirstChunk:
		return "subscribed_awaiting_first_chunk"
	case Streaming:
		return "streaming"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Linked reports whether s has an established, subscribed link.
func (s State) Linked() bool {
	return s == SubscribedAwaitingFirstChunk || s == Streaming
}

// ErrSessionActive is returned by Scan when a link is being set up or is already up.
var ErrSessionActive = errors.New("session already active")
