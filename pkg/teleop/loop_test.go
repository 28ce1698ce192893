package teleop

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu        sync.Mutex
	positions []float64
	err       error
}

func (b *fakeBus) Connect(context.Context) error { return nil }
func (b *fakeBus) Close() error                  { return nil }

func (b *fakeBus) SetTorque(context.Context, bool) error { return nil }

func (b *fakeBus) ReadPositions(context.Context) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return append([]float64(nil), b.positions...), nil
}

func (b *fakeBus) set(positions []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = append([]float64(nil), positions...)
}

func (b *fakeBus) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

type fakeArm struct {
	mu         sync.Mutex
	joints     []float64
	ready      bool
	servoErr   error
	servoCalls int
	lastQ      []float64
	stops      []float64
	digital    map[int]bool
	digitalSet int
}

func newFakeArm(joints []float64) *fakeArm {
	return &fakeArm{joints: joints, ready: true, digital: map[int]bool{}}
}

func (a *fakeArm) JointPositions(context.Context) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.joints...), nil
}

func (a *fakeArm) ServoTo(_ context.Context, q []float64, _, _, _, _, _ float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.servoErr != nil {
		return a.servoErr
	}
	a.servoCalls++
	a.lastQ = append([]float64(nil), q...)
	return nil
}

func (a *fakeArm) Stop(_ context.Context, decel float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops = append(a.stops, decel)
	return nil
}

func (a *fakeArm) SetDigitalOutput(_ context.Context, pin int, value bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.digital[pin] = value
	a.digitalSet++
	return nil
}

func (a *fakeArm) EnsureControlReady(context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

func (a *fakeArm) Close() error { return nil }

func (a *fakeArm) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.servoCalls
}

func (a *fakeArm) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stops)
}

func testLoopConfig(sides ...SideConfig) Config {
	return Config{
		Hz:     500, // keep the tests quick
		Joints: 2,
		Gentle: testProfile(2),
		Full:   testProfile(2),
		Sides:  sides,
	}
}

func startLoop(t *testing.T, cfg Config) (*Loop, chan Intent, func()) {
	t.Helper()
	l, err := NewLoop(cfg)
	require.NoError(t, err)

	intents := make(chan Intent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx, intents)
	}()
	// Drain logs so nothing blocks on an unread channel.
	go func() {
		for range l.Logs() {
		}
	}()
	return l, intents, func() {
		cancel()
		<-done
	}
}

func TestLoopStreamsAfterPrepareAndStart(t *testing.T) {
	bus := &fakeBus{positions: []float64{0.1, 0.2, 0.0}}
	arm := newFakeArm([]float64{1.0, -1.0})
	cfg := testLoopConfig(SideConfig{
		Side: SideLeft, Controller: bus, Arm: arm,
		Gripper: DefaultGripperThresholds(),
	})

	_, intents, stop := startLoop(t, cfg)
	defer stop()

	intents <- IntentPrepare
	intents <- IntentStart

	require.Eventually(t, func() bool { return arm.calls() > 20 },
		2*time.Second, 2*time.Millisecond, "no servo commands after start")

	// Controller hasn't moved from its baseline, so the commanded
	// position must sit on the arm baseline.
	arm.mu.Lock()
	q := append([]float64(nil), arm.lastQ...)
	arm.mu.Unlock()
	require.Len(t, q, 2)
	require.InDelta(t, 1.0, q[0], 1e-6)
	require.InDelta(t, -1.0, q[1], 1e-6)

	intents <- IntentStop
	require.Eventually(t, func() bool { return arm.stopCount() > 0 },
		time.Second, 2*time.Millisecond, "no deceleration command on stop")
}

func TestLoopRefusesStartWhenArmNotReady(t *testing.T) {
	bus := &fakeBus{positions: []float64{0, 0, 0}}
	arm := newFakeArm([]float64{0, 0})
	arm.ready = false
	cfg := testLoopConfig(SideConfig{
		Side: SideLeft, Controller: bus, Arm: arm,
		Gripper: DefaultGripperThresholds(),
	})

	_, intents, stop := startLoop(t, cfg)
	defer stop()

	intents <- IntentPrepare
	intents <- IntentStart

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, arm.calls(), "loop streamed against an unready arm")
}

func TestLoopSkipsFailingSideAndServesTheOther(t *testing.T) {
	leftBus := &fakeBus{}
	leftBus.fail(fmt.Errorf("bus gone: %w", ErrTransientRead))
	leftArm := newFakeArm([]float64{0, 0})
	rightBus := &fakeBus{positions: []float64{0, 0, 0}}
	rightArm := newFakeArm([]float64{0, 0})

	cfg := testLoopConfig(
		SideConfig{Side: SideLeft, Controller: leftBus, Arm: leftArm, Gripper: DefaultGripperThresholds()},
		SideConfig{Side: SideRight, Controller: rightBus, Arm: rightArm, Gripper: DefaultGripperThresholds()},
	)

	_, intents, stop := startLoop(t, cfg)
	defer stop()

	intents <- IntentPrepare
	intents <- IntentStart

	require.Eventually(t, func() bool { return rightArm.calls() > 20 },
		2*time.Second, 2*time.Millisecond, "healthy side starved by failing side")
	require.Zero(t, leftArm.calls(), "commands sent from failed reads")

	// Side recovers: commands resume without a restart.
	leftBus.set([]float64{0, 0, 0})
	leftBus.fail(nil)
	require.Eventually(t, func() bool { return leftArm.calls() > 0 },
		2*time.Second, 2*time.Millisecond, "recovered side never served")
}

func TestLoopStopsWholeRigOnRepeatedControlRejection(t *testing.T) {
	leftBus := &fakeBus{positions: []float64{0, 0, 0}}
	leftArm := newFakeArm([]float64{0, 0})
	rightBus := &fakeBus{positions: []float64{0, 0, 0}}
	rightArm := newFakeArm([]float64{0, 0})
	leftArm.servoErr = fmt.Errorf("servo: %w", ErrControlRejected)

	cfg := testLoopConfig(
		SideConfig{Side: SideLeft, Controller: leftBus, Arm: leftArm, Gripper: DefaultGripperThresholds()},
		SideConfig{Side: SideRight, Controller: rightBus, Arm: rightArm, Gripper: DefaultGripperThresholds()},
	)
	cfg.MaxControlErrors = 2

	l, intents, stop := startLoop(t, cfg)
	defer stop()

	intents <- IntentPrepare
	intents <- IntentStart

	// Both arms must receive a deceleration command when the left side
	// exceeds its rejection budget.
	require.Eventually(t, func() bool {
		return leftArm.stopCount() > 0 && rightArm.stopCount() > 0
	}, 2*time.Second, 2*time.Millisecond, "fatal control loss did not stop the rig")

	var loss *FatalControlLoss
	st := <-l.States()
	if st.Err == nil {
		// The fatal snapshot may already have been replaced; the phase
		// still must have fallen back to idle.
		require.Equal(t, PhaseIdle, st.Phase)
	} else {
		require.ErrorAs(t, st.Err, &loss)
		require.Equal(t, SideLeft, loss.Side)
		require.Contains(t, loss.Error(), "ExternalControl.urp")
	}
}

func TestLoopEmitsGripperOutputOnChangeOnly(t *testing.T) {
	bus := &fakeBus{positions: []float64{0, 0, 0}}
	arm := newFakeArm([]float64{0, 0})
	cfg := testLoopConfig(SideConfig{
		Side: SideLeft, Controller: bus, Arm: arm,
		GripperPin: 3, Gripper: DefaultGripperThresholds(),
	})

	_, intents, stop := startLoop(t, cfg)
	defer stop()

	intents <- IntentPrepare
	intents <- IntentStart
	require.Eventually(t, func() bool { return arm.calls() > 5 },
		2*time.Second, 2*time.Millisecond)
	require.Zero(t, arm.digitalSet, "output emitted without a state change")

	// Squeeze past close threshold + margin.
	bus.set([]float64{0, 0, 0.2})
	require.Eventually(t, func() bool {
		arm.mu.Lock()
		defer arm.mu.Unlock()
		return arm.digital[3]
	}, 2*time.Second, 2*time.Millisecond, "close signal never emitted")

	arm.mu.Lock()
	setsAfterClose := arm.digitalSet
	arm.mu.Unlock()
	require.Equal(t, 1, setsAfterClose, "close signal emitted more than once")

	// Back inside the inert band: latched, no new output.
	bus.set([]float64{0, 0, 0.05})
	time.Sleep(50 * time.Millisecond)
	arm.mu.Lock()
	require.Equal(t, setsAfterClose, arm.digitalSet)
	arm.mu.Unlock()

	// Release past the open threshold.
	bus.set([]float64{0, 0, -0.2})
	require.Eventually(t, func() bool {
		arm.mu.Lock()
		defer arm.mu.Unlock()
		return !arm.digital[3] && arm.digitalSet == setsAfterClose+1
	}, 2*time.Second, 2*time.Millisecond, "open signal never emitted")
}

func TestLoopInterruptForcesIdleFromRunning(t *testing.T) {
	bus := &fakeBus{positions: []float64{0, 0, 0}}
	arm := newFakeArm([]float64{0, 0})
	cfg := testLoopConfig(SideConfig{
		Side: SideLeft, Controller: bus, Arm: arm,
		Gripper: DefaultGripperThresholds(),
	})

	l, intents, stop := startLoop(t, cfg)
	defer stop()

	intents <- IntentPrepare
	intents <- IntentStart
	require.Eventually(t, func() bool { return arm.calls() > 5 },
		2*time.Second, 2*time.Millisecond)

	intents <- IntentInterrupt
	require.Eventually(t, func() bool { return arm.stopCount() > 0 },
		time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		st := <-l.States()
		return st.Phase == PhaseIdle
	}, time.Second, 2*time.Millisecond)
}

func TestLoopIgnoresRedundantIntents(t *testing.T) {
	bus := &fakeBus{positions: []float64{0, 0, 0}}
	arm := newFakeArm([]float64{0, 0})
	cfg := testLoopConfig(SideConfig{
		Side: SideLeft, Controller: bus, Arm: arm,
		Gripper: DefaultGripperThresholds(),
	})

	_, intents, stop := startLoop(t, cfg)
	defer stop()

	// Start without Prepare is a no-op.
	intents <- IntentStart
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, arm.calls())

	intents <- IntentPrepare
	intents <- IntentStart
	require.Eventually(t, func() bool { return arm.calls() > 5 },
		2*time.Second, 2*time.Millisecond)

	// A second Start while running changes nothing.
	before := arm.stopCount()
	intents <- IntentStart
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, arm.stopCount())
}

func TestNewLoopValidation(t *testing.T) {
	_, err := NewLoop(Config{})
	require.Error(t, err, "empty config accepted")

	bus := &fakeBus{}
	arm := newFakeArm(nil)
	_, err = NewLoop(testLoopConfig(SideConfig{Side: SideLeft, Controller: bus, Arm: arm}))
	require.Error(t, err, "zero-width gripper band accepted")

	cfg := testLoopConfig(SideConfig{Side: SideLeft, Controller: bus, Arm: arm, Gripper: DefaultGripperThresholds()})
	cfg.Gentle.Deadband = nil
	_, err = NewLoop(cfg)
	require.Error(t, err, "malformed profile accepted")
}
