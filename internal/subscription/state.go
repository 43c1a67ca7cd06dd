package subscription

// ConnectionState is the state of the status channel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type subState int

const (
	statePending subState = iota
	stateSubscribed
)

func (s subState) String() string {
	if s == stateSubscribed {
		return "subscribed"
	}
	return "pending"
}
