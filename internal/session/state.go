package session

type State int32

const (
	Disconnected State = iota
	Connecting
	BindPending
	Bound
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case BindPending:
		return "bind_pending"
	case Bound:
		return "bound"
	case Closing:
		return "closing"
	}
	return "invalid"
}

type Event int

const (
	EventConnect Event = iota
	EventTCPConnected
	EventTCPFailed
	EventBindOK
	EventBindFailed
	EventTraffic
	EventTimeout
	EventConnectionLost
	EventClose
	EventClosed
)

func (e Event) String() string {
	return [...]string{
		"connect", "tcp_connected", "tcp_failed", "bind_ok", "bind_failed",
		"traffic", "timeout", "connection_lost", "close", "closed",
	}[e]
}

var transitions = map[State]map[Event]State{
	Disconnected: {
		EventConnect: Connecting,
	},
	Connecting: {
		EventTCPConnected: BindPending,
		EventTCPFailed:    Disconnected,
		EventClose:        Closing,
	},
	BindPending: {
		EventBindOK:         Bound,
		EventBindFailed:     Disconnected,
		EventConnectionLost: Disconnected,
		EventClose:          Closing,
	},
	Bound: {
		EventTraffic:        Bound,
		EventTimeout:        Disconnected,
		EventConnectionLost: Disconnected,
		EventClose:          Closing,
	},
	Closing: {
		EventClosed:         Disconnected,
		EventConnectionLost: Disconnected,
	},
}

// Next is the pure transition function of the session lifecycle.
func Next(from State, ev Event) (State, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}
