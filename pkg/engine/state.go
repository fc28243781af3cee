// ABOUTME: Engine lifecycle states and transition names
// ABOUTME: Idle -> Configuring -> Running -> (Suspended) -> Stopped
package engine

// State is the engine's lifecycle position.
type State int32

const (
	Idle State = iota
	Configuring
	Running
	Suspended
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
