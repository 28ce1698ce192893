package teleop

// Phase is the arming state of the teleoperation pipeline. The only
// legal forward path is Idle → Prep → Running; an interrupt forces
// Idle from anywhere.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePrep
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhasePrep:
		return "prep"
	case PhaseRunning:
		return "running"
	default:
		return "idle"
	}
}

// Side identifies one of the two driven arms.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Intent is a lifecycle request sent from the input-reader context to
// the control context. Only the control context acts on it; the sender
// never touches session state.
type Intent int

const (
	// IntentInterrupt stops everything and releases the arms for an
	// external program. Always lands in PhaseIdle.
	IntentInterrupt Intent = iota
	// IntentPrepare captures baselines and switches to the gentle
	// profile, without streaming.
	IntentPrepare
	// IntentStart begins streaming at the full-speed profile.
	IntentStart
	// IntentStop ends streaming and returns to PhaseIdle.
	IntentStop
)

func (i Intent) String() string {
	switch i {
	case IntentInterrupt:
		return "interrupt"
	case IntentPrepare:
		return "prepare"
	case IntentStart:
		return "start"
	case IntentStop:
		return "stop"
	default:
		return "unknown"
	}
}
