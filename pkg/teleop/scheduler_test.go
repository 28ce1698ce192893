package teleop

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) sleep(d time.Duration)   { c.t = c.t.Add(d) }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeScheduler(hz float64) (*Scheduler, *fakeClock) {
	s := NewScheduler(hz)
	c := &fakeClock{t: time.Unix(1000, 0)}
	s.now = c.now
	s.sleep = c.sleep
	return s, c
}

func TestSchedulerNominalCadence(t *testing.T) {
	s, c := newFakeScheduler(125)
	s.Start()

	// 1000 ticks at 8ms with 2ms of simulated compute per tick.
	for i := 0; i < 1000; i++ {
		c.advance(2 * time.Millisecond)
		got := s.Wait()
		if got != 8*time.Millisecond {
			t.Fatalf("tick %d: realized interval %v, want 8ms", i, got)
		}
	}

	st := s.Stats()
	if st.Overruns != 0 {
		t.Errorf("overruns = %d, want 0", st.Overruns)
	}
	if st.Mean != 8*time.Millisecond {
		t.Errorf("mean interval = %v, want 8ms", st.Mean)
	}
	if st.Stddev != 0 {
		t.Errorf("stddev = %v, want 0", st.Stddev)
	}
	if st.MeanHz < 124.9 || st.MeanHz > 125.1 {
		t.Errorf("mean frequency = %v, want ~125", st.MeanHz)
	}
}

func TestSchedulerMajorOverrunRealigns(t *testing.T) {
	s, c := newFakeScheduler(125)
	s.Start()

	// Stall well past the 100ms threshold.
	c.advance(200 * time.Millisecond)
	realized := s.Wait()
	if realized != 200*time.Millisecond {
		t.Errorf("realized interval = %v, want 200ms", realized)
	}
	if s.overruns != 1 {
		t.Errorf("overrun count = %d, want 1", s.overruns)
	}

	// Deadline realigned to now + period: the next tick is nominal
	// again instead of a burst of catch-up iterations.
	c.advance(2 * time.Millisecond)
	if got := s.Wait(); got != 8*time.Millisecond {
		t.Errorf("post-overrun interval = %v, want 8ms", got)
	}
}

func TestSchedulerMinorOverrunRecovers(t *testing.T) {
	s, c := newFakeScheduler(125)
	s.Start()

	// 2ms late: no overrun counted, deadline advanced by half a period
	// so the loop drifts back on schedule.
	c.advance(10 * time.Millisecond)
	realized := s.Wait()
	if realized != 10*time.Millisecond {
		t.Errorf("realized interval = %v, want 10ms", realized)
	}
	if s.overruns != 0 {
		t.Errorf("minor overrun was counted as major")
	}
	if got := s.next.Sub(c.t); got != 4*time.Millisecond {
		t.Errorf("next deadline %v away, want 4ms", got)
	}
}

func TestSchedulerStatsWindowBounded(t *testing.T) {
	s, c := newFakeScheduler(125)
	s.Start()
	for i := 0; i < statsWindow+500; i++ {
		c.advance(time.Millisecond)
		s.Wait()
	}
	if st := s.Stats(); st.Samples != statsWindow {
		t.Errorf("stats window holds %d samples, want %d", st.Samples, statsWindow)
	}
}
