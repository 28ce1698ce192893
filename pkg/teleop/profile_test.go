package teleop

import (
	"math"
	"testing"
	"time"
)

func testProfile(joints int) MotionProfile {
	p := FullSpeed(joints)
	// Keep the numeric properties easy to reason about.
	p.AssistGain = 0
	p.SnapEpsilon = 0
	p.SoftStartDuration = 0
	p.Clamp = make([]float64, joints)
	return p
}

func newTestSession(joints int, baseController, baseArm []float64) *Session {
	s := NewSession(joints, 8*time.Millisecond)
	s.Capture(baseController, baseArm, 0, time.Unix(0, 0))
	return s
}

func TestDeadbandZeroesSmallDeltas(t *testing.T) {
	p := testProfile(2)
	p.Deadband = []float64{0.05, 0.05}

	s := newTestSession(2, []float64{0, 0}, []float64{1.0, -1.0})
	now := time.Unix(1, 0)

	// Both deltas inside the deadband: output must converge exactly on
	// the arm baseline, not on baseline plus a tiny contribution.
	for i := 0; i < 500; i++ {
		now = now.Add(8 * time.Millisecond)
		out := s.Update(p, []float64{0.04, -0.04}, now)
		if i > 100 {
			if out[0] != 1.0 || out[1] != -1.0 {
				t.Fatalf("tick %d: deadbanded input moved the target: %v", i, out)
			}
		}
	}
}

func TestStepResponseIsAccelerationLimited(t *testing.T) {
	// vmax=6 rad/s, amax=40 rad/s², dt=8ms, unit step at rest.
	p := testProfile(1)
	p.Deadband = []float64{0}

	s := newTestSession(1, []float64{0}, []float64{0})
	out := s.Update(p, []float64{1.0}, time.Unix(1, 0))

	wantVel := 40.0 * 0.008 // 0.32 rad/s
	wantPos := wantVel * 0.008
	if math.Abs(s.velocity[0]-wantVel) > 1e-9 {
		t.Errorf("first-tick velocity = %v, want %v", s.velocity[0], wantVel)
	}
	if math.Abs(out[0]-wantPos) > 1e-9 {
		t.Errorf("first-tick position = %v, want %v", out[0], wantPos)
	}
	if out[0] > 0.01 {
		t.Errorf("position jumped to %v on a step input", out[0])
	}
}

func TestProfileRespectsVelocityAndAccelerationLimits(t *testing.T) {
	p := testProfile(1)
	p.Deadband = []float64{0}

	s := newTestSession(1, []float64{0}, []float64{0})
	now := time.Unix(1, 0)
	dt := 0.008

	prevVel := 0.0
	reading := 0.0
	for i := 0; i < 2000; i++ {
		// Aggressive square-wave input.
		if i%250 == 0 {
			reading = -reading
			if reading == 0 {
				reading = 2.0
			}
		}
		now = now.Add(8 * time.Millisecond)
		s.Update(p, []float64{reading}, now)

		v := s.velocity[0]
		if math.Abs(v) > p.VelocityMax+1e-9 {
			t.Fatalf("tick %d: |velocity| %v exceeds %v", i, v, p.VelocityMax)
		}
		if math.Abs(v-prevVel) > p.AccelerationMax*dt+1e-9 {
			t.Fatalf("tick %d: velocity change %v exceeds %v", i, v-prevVel, p.AccelerationMax*dt)
		}
		prevVel = v
	}
}

func TestRestConvergesToArmBaseline(t *testing.T) {
	p := testProfile(3)
	p.SoftStartDuration = 200 * time.Millisecond

	base := []float64{0.5, -1.2, 2.0}
	s := newTestSession(3, []float64{0.1, 0.2, 0.3}, base)
	now := time.Unix(1, 0)

	// Zero delta from a fresh baseline: position must converge to the
	// arm baseline within the soft-start window and then hold exactly.
	var out []float64
	for i := 0; i < 200; i++ {
		now = now.Add(8 * time.Millisecond)
		out = s.Update(p, []float64{0.1, 0.2, 0.3}, now)
	}
	for j, b := range base {
		if math.Abs(out[j]-b) > 1e-9 {
			t.Errorf("joint %d settled at %v, want baseline %v", j, out[j], b)
		}
	}

	// And stays put.
	now = now.Add(8 * time.Millisecond)
	again := s.Update(p, []float64{0.1, 0.2, 0.3}, now)
	for j := range base {
		if again[j] != out[j] {
			t.Errorf("joint %d moved at rest: %v -> %v", j, out[j], again[j])
		}
	}
}

func TestSoftStartRampsFromBaseline(t *testing.T) {
	p := testProfile(1)
	p.Deadband = []float64{0}
	p.SoftStartDuration = time.Second
	// Loosen the profiler so the ramp dominates.
	p.VelocityMax = 1000
	p.AccelerationMax = 1e6
	p.CommandVelocityMax = 1000

	start := time.Unix(10, 0)
	s := NewSession(1, 8*time.Millisecond)
	s.Capture([]float64{0}, []float64{0}, 0, start)

	half := s.Update(p, []float64{1.0}, start.Add(500*time.Millisecond))
	if math.Abs(half[0]-0.5) > 0.01 {
		t.Errorf("at half the ramp, position = %v, want ~0.5", half[0])
	}
}

func TestClampBoundsExcursion(t *testing.T) {
	p := testProfile(1)
	p.Deadband = []float64{0}
	p.Clamp = []float64{0.2}

	s := newTestSession(1, []float64{0}, []float64{1.0})
	now := time.Unix(1, 0)
	var out []float64
	for i := 0; i < 1000; i++ {
		now = now.Add(8 * time.Millisecond)
		out = s.Update(p, []float64{5.0}, now)
	}
	if out[0] > 1.2+1e-9 {
		t.Errorf("clamped joint reached %v, limit is 1.2", out[0])
	}
}

func TestInactivityRebasesController(t *testing.T) {
	p := testProfile(1)
	p.Deadband = []float64{0}
	p.InactivityTimeout = 100 * time.Millisecond
	p.RebaseBeta = 0.5

	s := newTestSession(1, []float64{0}, []float64{0})
	now := time.Unix(1, 0)

	// Hold a constant offset: after the inactivity timeout the
	// baseline should be pulled toward the reading, shrinking the
	// effective delta without a snap.
	for i := 0; i < 200; i++ {
		now = now.Add(8 * time.Millisecond)
		s.Update(p, []float64{0.3}, now)
	}
	if math.Abs(s.baselineController[0]-0.3) > 1e-6 {
		t.Errorf("baseline = %v after long inactivity, want ~0.3", s.baselineController[0])
	}
}

func TestResetClearsSession(t *testing.T) {
	s := newTestSession(1, []float64{1}, []float64{2})
	if !s.Initialized() {
		t.Fatal("session should be initialized after capture")
	}
	s.Reset()
	if s.Initialized() {
		t.Fatal("session still initialized after reset")
	}
	if s.Position() != nil {
		t.Fatal("position survives reset")
	}
}
