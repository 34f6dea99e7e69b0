package delivery

// State is the pipeline's position in the delivery state machine.
type State int32

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
	StateRetrying
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateRetrying:
		return "retrying"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ConnState is the upstream connection state as seen by the pipeline.
// The source adapter drives it through SetConnState; the pipeline moves it
// to Draining on shutdown or fatal, after which it no longer changes.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDraining
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDraining:
		return "draining"
	default:
		return "unknown"
	}
}
