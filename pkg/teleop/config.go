package teleop

import (
	"fmt"
	"time"
)

// MotionProfile holds the limits and shaping parameters for one
// operating mode. Profiles are immutable values: switching between
// gentle and full-speed swaps the whole profile at a tick boundary,
// never individual fields.
type MotionProfile struct {
	// Second-order profiler limits.
	VelocityMax     float64 // rad/s
	AccelerationMax float64 // rad/s²

	// Per-tick clip on the raw target before profiling, so a step in
	// the input never reaches the profiler as a discontinuity.
	CommandVelocityMax float64 // rad/s

	// Parameters forwarded with every servo command.
	ServoVelocity     float64
	ServoAcceleration float64
	Lookahead         float64
	Gain              float64

	// Per-joint input shaping. Clamp entries <= 0 disable clamping for
	// that joint.
	Deadband []float64 // rad
	Scale    []float64
	Clamp    []float64 // rad, radius around the arm baseline

	SnapEpsilon float64 // rad
	AssistGain  float64

	SoftStartDuration time.Duration

	// Inactivity rebasing.
	MotionEpsilon     float64 // rad
	InactivityTimeout time.Duration
	RebaseBeta        float64

	StopDeceleration float64 // rad/s²
}

// Gentle returns the low-speed profile used between Prep and Start,
// while the operator aligns the handles with the arms.
func Gentle(joints int) MotionProfile {
	p := FullSpeed(joints)
	p.ServoVelocity = 0.35
	p.ServoAcceleration = 0.9
	p.Gain = 220
	return p
}

// FullSpeed returns the streaming profile.
func FullSpeed(joints int) MotionProfile {
	deadband := make([]float64, joints)
	scale := make([]float64, joints)
	clamp := make([]float64, joints)
	for i := range deadband {
		deadband[i] = 0.017 // ~1 degree
		scale[i] = 1.0
	}
	if joints >= 6 {
		clamp[5] = 0.8 // wrist roll excursions are the usual runaway
	}
	return MotionProfile{
		VelocityMax:        6.0,
		AccelerationMax:    40.0,
		CommandVelocityMax: 6.0,
		ServoVelocity:      1.4,
		ServoAcceleration:  4.0,
		Lookahead:          0.15,
		Gain:               340,
		Deadband:           deadband,
		Scale:              scale,
		Clamp:              clamp,
		SnapEpsilon:        0.004,
		AssistGain:         0.12,
		SoftStartDuration:  200 * time.Millisecond,
		MotionEpsilon:      0.0025,
		InactivityTimeout:  300 * time.Millisecond,
		RebaseBeta:         0.1,
		StopDeceleration:   2.0,
	}
}

// Validate checks the profile against a joint count.
func (p MotionProfile) Validate(joints int) error {
	if p.VelocityMax <= 0 || p.AccelerationMax <= 0 {
		return fmt.Errorf("profile: velocity and acceleration limits must be positive")
	}
	if p.CommandVelocityMax <= 0 {
		return fmt.Errorf("profile: command velocity limit must be positive")
	}
	for name, s := range map[string][]float64{
		"deadband": p.Deadband,
		"scale":    p.Scale,
		"clamp":    p.Clamp,
	} {
		if len(s) != joints {
			return fmt.Errorf("profile: %s has %d entries, want %d", name, len(s), joints)
		}
	}
	if p.RebaseBeta < 0 || p.RebaseBeta > 1 {
		return fmt.Errorf("profile: rebase beta %v outside [0,1]", p.RebaseBeta)
	}
	return nil
}

// GripperThresholds configures the hysteresis detector for one side's
// gripper joint.
type GripperThresholds struct {
	Open   float64 // rad, delta below -(Open+Margin) reopens
	Close  float64 // rad, delta above Close+Margin closes
	Margin float64 // rad, dead zone around each threshold
}

// DefaultGripperThresholds matches the measured handle travel of the
// stock exoskeleton trigger.
func DefaultGripperThresholds() GripperThresholds {
	return GripperThresholds{Open: 0.10, Close: 0.10, Margin: 0.03}
}

// Validate rejects threshold sets whose inert band has zero width,
// which would chatter at the boundary.
func (g GripperThresholds) Validate() error {
	if g.Open < 0 || g.Close < 0 || g.Margin < 0 {
		return fmt.Errorf("gripper: thresholds must be non-negative")
	}
	if g.Open+g.Close+2*g.Margin <= 0 {
		return fmt.Errorf("gripper: inert band between thresholds has zero width")
	}
	return nil
}
