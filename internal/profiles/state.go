package profiles

// State is the lifecycle state of one profile as seen by the manager.
type State int

const (
	// StateUnknown means the id is not in the index and was not deleted in
	// this session.
	StateUnknown State = iota
	StateRegistered
	StateAuthenticating
	StateActive
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}
