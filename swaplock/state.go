package swaplock

type State uint8

const (
	StateUnconfigured    State = 0
	StateMasterListening State = 1
	StateConnecting      State = 2
	StateMasterActive    State = 3
	StateSlaveActive     State = 4
	StateDisconnected    State = 5
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "Unconfigured"
	case StateMasterListening:
		return "MasterListening"
	case StateConnecting:
		return "Connecting"
	case StateMasterActive:
		return "MasterActive"
	case StateSlaveActive:
		return "SlaveActive"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown State"
	}
}

// IsActive reports whether the barrier takes part in synchronization. A
// listening master is active even before its first slave arrives.
func (s State) IsActive() bool {
	switch s {
	case StateMasterListening, StateMasterActive, StateSlaveActive:
		return true
	default:
		return false
	}
}
