package session

// State is the lifecycle of the link to the weather daemon. Exactly one
// state is active at a time; only the session client mutates it.
type State int

const (
	// Disconnected is the initial state, and the state after a failed
	// connect attempt or a local link error. Retryable on the next call.
	Disconnected State = iota
	// Connecting means a connect attempt is in flight.
	Connecting
	// Connected means the endpoint handle is live.
	Connected
	// DisconnectedByService means the remote side hung up. Retryable on
	// the next call.
	DisconnectedByService
	// DisconnectedByClient means DisconnectService was called. Calls fail
	// fast with their fallback until a fresh ConnectService.
	DisconnectedByClient
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case DisconnectedByService:
		return "disconnected-by-service"
	case DisconnectedByClient:
		return "disconnected-by-client"
	default:
		return "unknown"
	}
}
