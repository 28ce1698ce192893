package teleop

import "context"

// ControllerBus reads joint angles from a handheld exoskeleton
// controller. Implementations return radians, one entry per joint,
// with the dedicated gripper joint trailing the arm joints. Reads may
// be served from a short-lived cache; callers must tolerate values
// that are stale by one cache window.
type ControllerBus interface {
	Connect(ctx context.Context) error
	ReadPositions(ctx context.Context) ([]float64, error)
	SetTorque(ctx context.Context, enabled bool) error
	Close() error
}

// ArmController commands the driven arm. ServoTo streams one position
// setpoint per control period; implementations report ErrControlRejected
// (wrapped) when the arm's external-control program is not accepting
// commands, so the loop can distinguish that from transient failures.
type ArmController interface {
	JointPositions(ctx context.Context) ([]float64, error)
	ServoTo(ctx context.Context, q []float64, velocity, acceleration, dt, lookahead, gain float64) error
	Stop(ctx context.Context, deceleration float64) error
	SetDigitalOutput(ctx context.Context, pin int, value bool) error
	EnsureControlReady(ctx context.Context) bool
	Close() error
}
