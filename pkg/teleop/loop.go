package teleop

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config wires a follow loop. Both sides are optional so a rig can run
// single-armed, but at least one side must be present.
type Config struct {
	Hz     float64
	Joints int // arm joints per side; the controller carries one more for the gripper

	Gentle MotionProfile // active between Prepare and Start
	Full   MotionProfile // active while streaming

	// Consecutive rejected commands on one side before the whole loop
	// stops.
	MaxControlErrors int

	// Bound on every per-side read or command, so one side's I/O stall
	// degrades to a skipped tick instead of delaying the other side.
	CallTimeout time.Duration

	// Operator action surfaced with a FatalControlLoss.
	Remediation string

	Sides []SideConfig
}

// SideConfig binds one side's devices.
type SideConfig struct {
	Side       Side
	Controller ControllerBus
	Arm        ArmController
	GripperPin int
	Gripper    GripperThresholds
}

// State is a per-tick snapshot published to observers (TUI, position
// publisher). Failed sides are simply absent from the maps.
type State struct {
	Phase     Phase
	Positions map[Side][]float64 // controller readings, gripper joint included
	Commanded map[Side][]float64 // profiled positions sent to the arms
	Gripper   map[Side]GripperState
	Stats     SchedulerStats
	Timestamp time.Time
	Err       error
}

type sideState struct {
	cfg       SideConfig
	session   *Session
	gripper   *GripperDetector
	errCount  int
	positions []float64
	commanded []float64
}

// Loop runs the real-time follow pipeline. It exclusively owns both
// sessions and the active profile; lifecycle requests arrive over a
// channel and take effect at tick boundaries.
type Loop struct {
	cfg     Config
	period  time.Duration
	sched   *Scheduler
	sides   []*sideState
	phase   Phase
	profile MotionProfile
	fatal   error

	ticks   int
	stateCh chan State
	logCh   chan string
}

// NewLoop validates the configuration and builds an idle loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Hz <= 0 {
		cfg.Hz = 125
	}
	if cfg.Joints <= 0 {
		cfg.Joints = 6
	}
	if cfg.MaxControlErrors <= 0 {
		cfg.MaxControlErrors = 2
	}
	if cfg.Remediation == "" {
		cfg.Remediation = ExternalControlRemediation
	}
	if len(cfg.Sides) == 0 {
		return nil, fmt.Errorf("loop: no sides configured")
	}
	if err := cfg.Gentle.Validate(cfg.Joints); err != nil {
		return nil, fmt.Errorf("gentle profile: %w", err)
	}
	if err := cfg.Full.Validate(cfg.Joints); err != nil {
		return nil, fmt.Errorf("full profile: %w", err)
	}

	period := time.Duration(float64(time.Second) / cfg.Hz)
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = period
	}

	l := &Loop{
		cfg:     cfg,
		period:  period,
		sched:   NewScheduler(cfg.Hz),
		phase:   PhaseIdle,
		profile: cfg.Full,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 16),
	}
	for _, sc := range cfg.Sides {
		if sc.Controller == nil || sc.Arm == nil {
			return nil, fmt.Errorf("loop: %s side missing a device", sc.Side)
		}
		if err := sc.Gripper.Validate(); err != nil {
			return nil, fmt.Errorf("%s side: %w", sc.Side, err)
		}
		l.sides = append(l.sides, &sideState{
			cfg:     sc,
			session: NewSession(cfg.Joints, period),
			gripper: NewGripperDetector(sc.Gripper),
		})
	}
	l.sched.SetLogger(l.logf)
	return l, nil
}

// States returns the snapshot channel. Stale snapshots are replaced,
// never queued.
func (l *Loop) States() <-chan State { return l.stateCh }

// Logs returns the log channel. Messages are dropped when nobody
// drains it.
func (l *Loop) Logs() <-chan string { return l.logCh }

// Hz returns the control frequency.
func (l *Loop) Hz() float64 { return l.cfg.Hz }

// Phase returns the current lifecycle phase. Only meaningful from the
// goroutine running the loop or after Run returns.
func (l *Loop) Phase() Phase { return l.phase }

func (l *Loop) logf(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case l.logCh <- msg:
	default:
	}
}

// Run processes lifecycle intents and, while in PhaseRunning, executes
// ticks at the scheduler's cadence. It returns when ctx is canceled or
// the intent channel closes, after decelerating both arms.
func (l *Loop) Run(ctx context.Context, intents <-chan Intent) error {
	defer l.stopStreaming()

	for {
		if l.phase == PhaseRunning {
			// Intents take effect at tick boundaries.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case in, ok := <-intents:
				if !ok {
					return nil
				}
				l.handle(ctx, in)
			default:
			}
			if l.phase != PhaseRunning {
				continue
			}
			l.tick(ctx)
			l.sched.Wait()
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-intents:
			if !ok {
				return nil
			}
			l.handle(ctx, in)
		}
	}
}

func (l *Loop) handle(ctx context.Context, in Intent) {
	switch in {
	case IntentInterrupt:
		l.logf("interrupt: stopping arms for external control")
		l.stopStreaming()
		l.phase = PhaseIdle
	case IntentPrepare:
		if l.phase == PhaseRunning {
			return
		}
		l.prepare(ctx)
	case IntentStart:
		if l.phase != PhasePrep {
			return
		}
		l.start(ctx)
	case IntentStop:
		l.logf("stop: streaming ended, returning to idle")
		l.stopStreaming()
		l.phase = PhaseIdle
	}
	l.publish(nil)
}

// prepare captures baselines and drops to the gentle profile so the
// operator can align the handles before streaming.
func (l *Loop) prepare(ctx context.Context) {
	l.fatal = nil
	l.profile = l.cfg.Gentle
	for _, s := range l.sides {
		if err := l.captureBaselines(ctx, s); err != nil {
			// Not fatal: the first running tick captures lazily.
			l.logf("%s: baseline capture failed: %v", s.cfg.Side, err)
		} else {
			l.logf("%s: baselines captured", s.cfg.Side)
		}
	}
	l.phase = PhasePrep
}

func (l *Loop) captureBaselines(ctx context.Context, s *sideState) error {
	cctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	reading, err := s.cfg.Controller.ReadPositions(cctx)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	if len(reading) < l.cfg.Joints {
		return fmt.Errorf("controller returned %d joints, want at least %d", len(reading), l.cfg.Joints)
	}
	arm, err := s.cfg.Arm.JointPositions(cctx)
	if err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	if len(arm) < l.cfg.Joints {
		return fmt.Errorf("arm returned %d joints, want %d", len(arm), l.cfg.Joints)
	}

	gripper := 0.0
	if len(reading) > l.cfg.Joints {
		gripper = reading[l.cfg.Joints]
	}
	s.session.Capture(reading, arm, gripper, time.Now())
	return nil
}

// start verifies every side's arm controller before switching to the
// full-speed profile. A side that is unreachable or already faulted
// refuses the whole start; streaming with one dead arm invites an
// asymmetric surprise when it comes back.
func (l *Loop) start(ctx context.Context) {
	for _, s := range l.sides {
		cctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
		ready := s.cfg.Arm.EnsureControlReady(cctx)
		cancel()
		if !ready {
			l.logf("%s: arm not accepting control, refusing to start; %s",
				s.cfg.Side, l.cfg.Remediation)
			return
		}
	}
	l.profile = l.cfg.Full
	l.sched.Start()
	l.ticks = 0
	l.phase = PhaseRunning
	l.logf("streaming at %.0f Hz", l.cfg.Hz)
}

// stopStreaming decelerates both arms and clears all per-side state.
// Safe to call in any phase. Runs against a fresh context: the
// deceleration command must go out even when the caller was canceled.
func (l *Loop) stopStreaming() {
	for _, s := range l.sides {
		cctx, cancel := context.WithTimeout(context.Background(), l.cfg.CallTimeout)
		if err := s.cfg.Arm.Stop(cctx, l.profile.StopDeceleration); err != nil {
			l.logf("%s: stop command failed: %v", s.cfg.Side, err)
		}
		cancel()
		s.session.Reset()
		s.gripper.Reset()
		s.errCount = 0
		s.positions = nil
		s.commanded = nil
	}
}

func (l *Loop) tick(ctx context.Context) {
	now := time.Now()
	for _, s := range l.sides {
		l.tickSide(ctx, s, now)
		if l.fatal != nil {
			break
		}
	}

	if l.fatal != nil {
		l.logf("%v", l.fatal)
		l.stopStreaming()
		l.phase = PhaseIdle
		l.publish(l.fatal)
		return
	}

	l.ticks++
	if l.ticks%1000 == 0 {
		st := l.sched.Stats()
		l.logf("timing: %.1f Hz, overruns %d, dt %.1f±%.1fms",
			st.MeanHz, st.Overruns,
			float64(st.Mean)/float64(time.Millisecond),
			float64(st.Stddev)/float64(time.Millisecond))
	}
	l.publish(nil)
}

func (l *Loop) tickSide(ctx context.Context, s *sideState, now time.Time) {
	cctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	reading, err := s.cfg.Controller.ReadPositions(cctx)
	if err != nil || len(reading) < l.cfg.Joints {
		// Skip this side for this tick; the previous command stands,
		// so recovery never jumps.
		s.positions = nil
		return
	}

	if !s.session.Initialized() {
		if err := l.captureBaselines(ctx, s); err != nil {
			s.positions = nil
			return
		}
	}

	s.positions = reading
	target := s.session.Update(l.profile, reading[:l.cfg.Joints], now)
	s.commanded = target

	p := l.profile
	err = s.cfg.Arm.ServoTo(cctx, target, p.ServoVelocity, p.ServoAcceleration,
		l.period.Seconds(), p.Lookahead, p.Gain)
	switch {
	case err == nil:
		s.errCount = 0
	case errors.Is(err, ErrControlRejected):
		s.errCount++
		if s.errCount == 1 {
			l.logf("%s: arm rejected command: %v", s.cfg.Side, err)
		}
		if s.errCount > l.cfg.MaxControlErrors {
			l.fatal = &FatalControlLoss{
				Side:        s.cfg.Side,
				Consecutive: s.errCount,
				Remediation: l.cfg.Remediation,
			}
			return
		}
	default:
		l.logf("%s: command failed: %v", s.cfg.Side, err)
	}

	if len(reading) > l.cfg.Joints {
		delta := s.session.GripperDelta(reading[l.cfg.Joints])
		if state, changed := s.gripper.Update(delta); changed {
			l.logf("%s: gripper %s (delta %.3f rad)", s.cfg.Side, state, delta)
			if err := s.cfg.Arm.SetDigitalOutput(cctx, s.cfg.GripperPin, state == GripperClosed); err != nil {
				l.logf("%s: gripper output failed: %v", s.cfg.Side, err)
			}
		}
	}
}

// publish replaces any stale snapshot with the current one.
func (l *Loop) publish(err error) {
	st := State{
		Phase:     l.phase,
		Positions: make(map[Side][]float64, len(l.sides)),
		Commanded: make(map[Side][]float64, len(l.sides)),
		Gripper:   make(map[Side]GripperState, len(l.sides)),
		Stats:     l.sched.Stats(),
		Timestamp: time.Now(),
		Err:       err,
	}
	for _, s := range l.sides {
		if s.positions != nil {
			st.Positions[s.cfg.Side] = append([]float64(nil), s.positions...)
		}
		if s.commanded != nil {
			st.Commanded[s.cfg.Side] = append([]float64(nil), s.commanded...)
		}
		st.Gripper[s.cfg.Side] = s.gripper.State()
	}

	select {
	case l.stateCh <- st:
	default:
		select {
		case <-l.stateCh:
		default:
		}
		l.stateCh <- st
	}
}

// Close releases both sides' devices.
func (l *Loop) Close() error {
	var errs []error
	for _, s := range l.sides {
		if err := s.cfg.Controller.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s controller: %w", s.cfg.Side, err))
		}
		if err := s.cfg.Arm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s arm: %w", s.cfg.Side, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
