package teleop

import "testing"

func TestGripperHysteresis(t *testing.T) {
	// open=0.10, close=0.10, margin=0.03: flips only outside ±0.13.
	g := NewGripperDetector(GripperThresholds{Open: 0.10, Close: 0.10, Margin: 0.03})

	if g.State() != GripperOpen {
		t.Fatal("detector must start open")
	}

	steps := []struct {
		delta   float64
		want    GripperState
		changed bool
	}{
		{0.0, GripperOpen, false},
		{0.12, GripperOpen, false},  // inside the band
		{0.13, GripperOpen, false},  // boundary is inert
		{0.131, GripperClosed, true},
		{0.131, GripperClosed, false}, // no re-emission
		{0.0, GripperClosed, false},   // band retains state
		{-0.12, GripperClosed, false},
		{-0.13, GripperClosed, false},
		{-0.131, GripperOpen, true},
		{0.05, GripperOpen, false},
	}
	for i, st := range steps {
		got, changed := g.Update(st.delta)
		if got != st.want || changed != st.changed {
			t.Errorf("step %d (delta %v): state=%v changed=%v, want %v/%v",
				i, st.delta, got, changed, st.want, st.changed)
		}
	}
}

func TestGripperBandRetainsStateRegardlessOfHistory(t *testing.T) {
	g := NewGripperDetector(GripperThresholds{Open: 0.10, Close: 0.10, Margin: 0.03})

	// Wander all over the inert band: state never moves.
	for _, d := range []float64{0.12, -0.12, 0.0, 0.129, -0.129, 0.1} {
		if _, changed := g.Update(d); changed {
			t.Fatalf("state changed inside the inert band at delta %v", d)
		}
	}

	g.Update(0.2) // close
	for _, d := range []float64{0.12, -0.12, 0.0, -0.129} {
		if st, changed := g.Update(d); changed || st != GripperClosed {
			t.Fatalf("closed state lost inside the inert band at delta %v", d)
		}
	}
}

func TestGripperReset(t *testing.T) {
	g := NewGripperDetector(DefaultGripperThresholds())
	g.Update(1.0)
	if g.State() != GripperClosed {
		t.Fatal("expected closed after large delta")
	}
	g.Reset()
	if g.State() != GripperOpen {
		t.Fatal("reset must relatch open")
	}
}

func TestGripperThresholdValidation(t *testing.T) {
	if err := (GripperThresholds{Open: 0.1, Close: 0.1, Margin: 0.03}).Validate(); err != nil {
		t.Errorf("valid thresholds rejected: %v", err)
	}
	if err := (GripperThresholds{Open: -0.1, Close: 0.1, Margin: 0.03}).Validate(); err == nil {
		t.Error("negative threshold accepted")
	}
	if err := (GripperThresholds{}).Validate(); err == nil {
		t.Error("zero-width inert band accepted")
	}
}
