package teleop

import (
	"math"
	"time"
)

// Session holds one side's mutable shaping state: the controller/arm
// baseline pair captured when the pipeline is armed, the profiled
// position and velocity carried across ticks, and the bookkeeping for
// inactivity rebasing. The follow loop is the sole owner; nothing here
// is safe for concurrent use.
type Session struct {
	joints int
	dt     float64 // nominal control period, seconds

	baselineController []float64
	baselineArm        []float64
	position           []float64 // profiled
	velocity           []float64 // profiled
	initialized        bool

	softStart time.Time

	lastReading []float64
	lastMotion  time.Time

	gripperBaseline float64
}

// NewSession creates an empty session for the given arm joint count.
// Baselines are captured later, at Prep or lazily on the first tick.
func NewSession(joints int, period time.Duration) *Session {
	return &Session{joints: joints, dt: period.Seconds()}
}

// Initialized reports whether baselines have been captured.
func (s *Session) Initialized() bool { return s.initialized }

// Position returns the last profiled position, or nil before the first
// update.
func (s *Session) Position() []float64 {
	if !s.initialized {
		return nil
	}
	out := make([]float64, s.joints)
	copy(out, s.position)
	return out
}

// Reset clears everything, as on re-entry to idle. The next capture
// starts a fresh soft-start ramp.
func (s *Session) Reset() {
	s.baselineController = nil
	s.baselineArm = nil
	s.position = nil
	s.velocity = nil
	s.lastReading = nil
	s.initialized = false
	s.gripperBaseline = 0
}

// Capture records the baseline pair and seeds the profiled state at
// the arm's current position with zero velocity.
func (s *Session) Capture(controller, arm []float64, gripper float64, now time.Time) {
	s.baselineController = append([]float64(nil), controller[:s.joints]...)
	s.baselineArm = append([]float64(nil), arm[:s.joints]...)
	s.position = append([]float64(nil), arm[:s.joints]...)
	s.velocity = make([]float64, s.joints)
	s.softStart = now
	s.lastMotion = now
	s.gripperBaseline = gripper
	s.initialized = true
}

// GripperDelta returns the gripper joint's offset from its baseline.
func (s *Session) GripperDelta(reading float64) float64 {
	return reading - s.gripperBaseline
}

// Update runs one tick of the shaping pipeline and returns the
// position to command this tick. The pipeline order is fixed:
// deadband+scale, clamp, snap, assist bias, command-rate limit,
// soft-start, second-order profile.
func (s *Session) Update(p MotionProfile, controller []float64, now time.Time) []float64 {
	s.observeMotion(p, controller, now)

	target := make([]float64, s.joints)
	for j := 0; j < s.joints; j++ {
		delta := controller[j] - s.baselineController[j]

		// Deadband and scale.
		if math.Abs(delta) < p.Deadband[j] {
			delta = 0
		} else {
			delta *= p.Scale[j]
		}

		t := s.baselineArm[j] + delta

		// Optional clamp around the arm baseline.
		if c := p.Clamp[j]; c > 0 {
			t = clamp(t, s.baselineArm[j]-c, s.baselineArm[j]+c)
		}

		// Snap sub-threshold targets back to baseline so residual
		// noise cannot creep the arm.
		if math.Abs(t-s.baselineArm[j]) < p.SnapEpsilon {
			t = s.baselineArm[j]
		}

		// Weak pull toward baseline.
		t += p.AssistGain * (s.baselineArm[j] - t)

		// Rate-limit the commanded target against the previous
		// profiled position so steps never reach the profiler.
		maxStep := p.CommandVelocityMax * s.dt
		t = clamp(t, s.position[j]-maxStep, s.position[j]+maxStep)

		target[j] = t
	}

	// Soft-start: fade commanded motion in from the arm baseline.
	ramp := 1.0
	if p.SoftStartDuration > 0 {
		ramp = clamp(now.Sub(s.softStart).Seconds()/p.SoftStartDuration.Seconds(), 0, 1)
	}
	for j := 0; j < s.joints; j++ {
		target[j] = s.baselineArm[j] + ramp*(target[j]-s.baselineArm[j])
	}

	// Second-order profile: velocity toward the target, clamped in
	// acceleration then magnitude, integrated over the nominal period.
	out := make([]float64, s.joints)
	for j := 0; j < s.joints; j++ {
		desired := (target[j] - s.position[j]) / s.dt
		dv := clamp(desired-s.velocity[j], -p.AccelerationMax*s.dt, p.AccelerationMax*s.dt)
		v := clamp(s.velocity[j]+dv, -p.VelocityMax, p.VelocityMax)
		s.velocity[j] = v
		s.position[j] += v * s.dt
		out[j] = s.position[j]
	}
	return out
}

// observeMotion tracks whether the operator is actually moving and,
// after a quiet period, pulls the controller baseline toward the
// current reading. The exponential pull absorbs slow sensor drift
// during long sessions without ever snapping the mapping.
func (s *Session) observeMotion(p MotionProfile, controller []float64, now time.Time) {
	if s.lastReading == nil {
		s.lastReading = append([]float64(nil), controller[:s.joints]...)
		return
	}

	var maxChange float64
	for j := 0; j < s.joints; j++ {
		if d := math.Abs(controller[j] - s.lastReading[j]); d > maxChange {
			maxChange = d
		}
	}
	copy(s.lastReading, controller[:s.joints])

	if maxChange > p.MotionEpsilon {
		s.lastMotion = now
		return
	}
	if now.Sub(s.lastMotion) > p.InactivityTimeout {
		for j := 0; j < s.joints; j++ {
			s.baselineController[j] = (1-p.RebaseBeta)*s.baselineController[j] + p.RebaseBeta*controller[j]
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
