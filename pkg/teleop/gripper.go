package teleop

// GripperState is the latched binary output derived from the gripper
// joint.
type GripperState int

const (
	GripperOpen GripperState = iota
	GripperClosed
)

func (g GripperState) String() string {
	if g == GripperClosed {
		return "closed"
	}
	return "open"
}

// GripperDetector maps the gripper joint's delta from baseline to a
// binary open/closed signal. The hysteresis margin keeps the output
// latched while the handle sits near a threshold; inside the band
// between thresholds the last state is simply retained.
type GripperDetector struct {
	thresholds GripperThresholds
	state      GripperState
}

// NewGripperDetector starts in the open state.
func NewGripperDetector(t GripperThresholds) *GripperDetector {
	return &GripperDetector{thresholds: t, state: GripperOpen}
}

// Update evaluates the delta (radians from baseline) and reports the
// state plus whether this call changed it. Callers issue the digital
// output command only on change.
func (g *GripperDetector) Update(delta float64) (GripperState, bool) {
	switch g.state {
	case GripperOpen:
		if delta > g.thresholds.Close+g.thresholds.Margin {
			g.state = GripperClosed
			return g.state, true
		}
	case GripperClosed:
		if delta < -(g.thresholds.Open + g.thresholds.Margin) {
			g.state = GripperOpen
			return g.state, true
		}
	}
	return g.state, false
}

// State returns the current latched state.
func (g *GripperDetector) State() GripperState { return g.state }

// Reset relatches to open.
func (g *GripperDetector) Reset() { g.state = GripperOpen }
