package engine

// State is the phase a Runner is in.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateCopying
	StatePruning
	StatePersisting
	// StateFailed is entered from any phase on an unrecoverable error. The
	// next RunOnce starts from it like from StateIdle.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCopying:
		return "copying"
	case StatePruning:
		return "pruning"
	case StatePersisting:
		return "persisting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
