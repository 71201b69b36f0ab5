package coordinator

import "fmt"

// Phase is the coordinator's position in the race cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseAllConnected
	PhaseStaging
	PhaseRacing
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseAllConnected:
		return "all_connected"
	case PhaseStaging:
		return "staging"
	case PhaseRacing:
		return "racing"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// connectionPhase is the phase implied by the connected client count alone.
func connectionPhase(connected, quota int) Phase {
	switch {
	case connected == 0:
		return PhaseIdle
	case connected < quota:
		return PhaseConnecting
	default:
		return PhaseAllConnected
	}
}
