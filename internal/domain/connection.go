package domain

// ConnectionState tracks the supervisor's position in the hub connection
// lifecycle. Subscribed is the only state in which events flow.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateReconnecting
	StateCircuitOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}
