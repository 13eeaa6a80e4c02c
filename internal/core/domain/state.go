package domain

// SessionState is the lifecycle state of one primary/secondary pairing.
type SessionState int32

const (
	// StateHandshaking is the initial state, before READY is exchanged.
	StateHandshaking SessionState = iota
	// StateReplicating means checkpoint transactions are running.
	StateReplicating
	// StateFailover means an unrecoverable condition was observed and the
	// failover coordinator owns the session.
	StateFailover
	// StateCompleted is terminal: replication ended and one side is sole-active.
	StateCompleted
	// StateFailed is terminal: replication never established or was torn down
	// after an earlier failure.
	StateFailed
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateReplicating:
		return "replicating"
	case StateFailover:
		return "failover"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Completed or Failed.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
