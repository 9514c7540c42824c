package splice

// State represents the construction state of a Record.
type State int32

const (
	// StateConstructing indicates the record's paths are still resolving
	// their key maps. Operations wait until construction finishes.
	StateConstructing State = iota

	// StateReady indicates every path resolved and the join metadata
	// (intersections, sort path, field ownership) is in place.
	StateReady

	// StateFailed indicates construction failed. The record never delivers
	// data; Ready and every operation return the construction error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
