package chatsync

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var transitions = map[State]map[State]bool{
	Disconnected: {Connecting: true, Closed: true},
	Connecting:   {Connecting: true, Connected: true, Disconnected: true, Closed: true},
	Connected:    {Disconnected: true, Closed: true},
	Closed:       {Connecting: true},
}

func canTransition(from, to State) bool {
	return transitions[from][to]
}
