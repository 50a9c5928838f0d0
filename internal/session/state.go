package session

import "github.com/srg/potlink/internal/device"

// State is the connection session state
type State string

const (
	Disconnected  State = "disconnected"
	Connecting    State = "connecting"
	Connected     State = "connected"
	Disconnecting State = "disconnecting"
	Error         State = "error"
)

// allowed is the complete transition graph.
// Connecting→Disconnected covers failed reconnects and aborted connects;
// Connected→Disconnected covers drops; Disconnecting→Connected covers failed cancels.
var allowed = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {Connected, Error, Disconnected},
	Connected:     {Disconnecting, Disconnected},
	Disconnecting: {Disconnected, Connected},
	Error:         {Disconnected},
}

// CanTransition reports whether from→to is part of the graph
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is delivered to state observers in order
type Transition struct {
	From       State
	To         State
	DeviceID   string
	Generation uint64
	Err        error
}

// Snapshot is a consistent view of the session
type Snapshot struct {
	State      State
	Handle     device.Handle
	DeviceID   string
	Generation uint64
}
