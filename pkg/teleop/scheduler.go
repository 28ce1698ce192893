package teleop

import (
	"math"
	"time"
)

const (
	defaultMajorOverrun = 100 * time.Millisecond
	statsWindow         = 1000
)

// Scheduler paces the control loop to a fixed period on the monotonic
// clock. After a stall it realigns the deadline instead of replaying
// missed ticks, so a long pause never causes a burst of back-to-back
// iterations. Realized intervals are kept for diagnostics only; the
// profiler always integrates with the nominal period.
type Scheduler struct {
	period       time.Duration
	majorOverrun time.Duration

	next     time.Time
	started  bool
	overruns int

	intervals []time.Duration // ring buffer of realized intervals
	head      int
	filled    bool

	logf func(format string, args ...any)

	// Swapped in tests for deterministic timing.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewScheduler creates a scheduler for the given loop frequency.
func NewScheduler(hz float64) *Scheduler {
	return &Scheduler{
		period:       time.Duration(float64(time.Second) / hz),
		majorOverrun: defaultMajorOverrun,
		intervals:    make([]time.Duration, statsWindow),
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Period returns the nominal tick period.
func (s *Scheduler) Period() time.Duration { return s.period }

// SetLogger installs a sink for the occasional overrun warning.
func (s *Scheduler) SetLogger(logf func(format string, args ...any)) { s.logf = logf }

// Start arms the first deadline at now + period.
func (s *Scheduler) Start() {
	s.next = s.now().Add(s.period)
	s.started = true
}

// Wait blocks until the current deadline, then advances it. Called
// once per loop iteration. Returns the realized interval.
func (s *Scheduler) Wait() time.Duration {
	if !s.started {
		s.Start()
		return s.period
	}

	now := s.now()
	delay := s.next.Sub(now)

	var realized time.Duration
	if delay > 0 {
		s.sleep(delay)
		s.next = s.next.Add(s.period)
		realized = s.period
	} else {
		overrun := -delay
		if overrun > s.majorOverrun {
			// Stalled well past the deadline: realign rather than
			// racing to catch up.
			s.next = now.Add(s.period)
			s.overruns++
			if s.logf != nil && s.overruns%10 == 0 {
				s.logf("scheduler: major overrun %.1fms (count %d)",
					float64(overrun)/float64(time.Millisecond), s.overruns)
			}
		} else {
			// Slightly late: split the difference so the deadline
			// drifts back into place over a few ticks.
			s.next = now.Add(s.period / 2)
		}
		realized = s.period + overrun
	}

	s.record(realized)
	return realized
}

func (s *Scheduler) record(d time.Duration) {
	s.intervals[s.head] = d
	s.head++
	if s.head == len(s.intervals) {
		s.head = 0
		s.filled = true
	}
}

// SchedulerStats summarizes realized intervals over the rolling window.
type SchedulerStats struct {
	Mean     time.Duration
	Stddev   time.Duration
	Min      time.Duration
	Max      time.Duration
	Overruns int
	MeanHz   float64
	Samples  int
}

// Stats computes rolling statistics over the last window of ticks.
func (s *Scheduler) Stats() SchedulerStats {
	n := s.head
	if s.filled {
		n = len(s.intervals)
	}
	if n == 0 {
		return SchedulerStats{
			Mean: s.period, Min: s.period, Max: s.period,
			Overruns: s.overruns,
			MeanHz:   1.0 / s.period.Seconds(),
		}
	}

	var sum, sumSq float64
	min, max := s.intervals[0], s.intervals[0]
	for i := 0; i < n; i++ {
		d := s.intervals[i]
		sec := d.Seconds()
		sum += sec
		sumSq += sec * sec
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}

	return SchedulerStats{
		Mean:     time.Duration(mean * float64(time.Second)),
		Stddev:   time.Duration(math.Sqrt(variance) * float64(time.Second)),
		Min:      min,
		Max:      max,
		Overruns: s.overruns,
		MeanHz:   1.0 / mean,
		Samples:  n,
	}
}
