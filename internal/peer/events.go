package peer

import "fmt"

// EventKind tags a link Event.
type EventKind int

const (
	// EventSignal carries an encoded signal envelope for the cast session.
	EventSignal EventKind = iota
	// EventConnect fires once the data channel is open.
	EventConnect
	// EventData carries one inbound data channel frame.
	EventData
	// EventClose fires once when the channel or connection closes.
	EventClose
	// EventError reports a link failure, including failed negotiation.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is everything a Link reports, delivered in order on one channel.
type Event struct {
	Kind EventKind

	Signal string // EventSignal

	Data   []byte // EventData
	IsText bool   // EventData

	Err error // EventError
}
