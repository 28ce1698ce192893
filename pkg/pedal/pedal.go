// Package pedal decodes a three-button HID foot pedal into teleop
// lifecycle intents. The reader polls the device nonblocking, debounces
// button edges, and forwards at most one intent per accepted edge over
// a channel. It never touches control-loop state directly.
package pedal

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/generalistai/gello-teleop/pkg/teleop"
)

// Buttons is the set of currently-pressed pedal buttons.
type Buttons uint8

const (
	ButtonLeft Buttons = 1 << iota
	ButtonCenter
	ButtonRight
)

func (b Buttons) String() string {
	if b == 0 {
		return "none"
	}
	s := ""
	if b&ButtonLeft != 0 {
		s += "left "
	}
	if b&ButtonCenter != 0 {
		s += "center "
	}
	if b&ButtonRight != 0 {
		s += "right "
	}
	return s[:len(s)-1]
}

func (b Buttons) count() int { return bits.OnesCount8(uint8(b)) }

// Decode extracts the pressed-button set from a raw HID report. The
// pedal firmware has shipped three layouts over the years; prefer the
// byte-per-button one and fall back to the two legacy bitmasks only
// when it yields nothing.
func Decode(data []byte) Buttons {
	var b Buttons
	if len(data) == 0 {
		return 0
	}

	// Byte-per-button at offsets 4, 5, 6.
	if len(data) >= 7 {
		if data[4] <= 1 || data[5] <= 1 || data[6] <= 1 {
			if data[4] == 1 {
				b |= ButtonLeft
			}
			if data[5] == 1 {
				b |= ButtonCenter
			}
			if data[6] == 1 {
				b |= ButtonRight
			}
			if b != 0 {
				return b
			}
		}
	}

	// Legacy: bitmask in byte 1.
	if len(data) >= 2 {
		if m := data[1]; m&0x07 != 0 {
			if m&0x01 != 0 {
				b |= ButtonLeft
			}
			if m&0x02 != 0 {
				b |= ButtonCenter
			}
			if m&0x04 != 0 {
				b |= ButtonRight
			}
			return b
		}
	}

	// Older legacy: bitmask in byte 4.
	if len(data) >= 5 {
		m := data[4]
		if m&0x01 != 0 {
			b |= ButtonLeft
		}
		if m&0x02 != 0 {
			b |= ButtonCenter
		}
		if m&0x04 != 0 {
			b |= ButtonRight
		}
	}
	return b
}

// Device is the raw report source. ReadReport blocks for at most the
// given timeout and returns (nil, nil) when no report arrived.
type Device interface {
	ReadReport(timeout time.Duration) ([]byte, error)
	Close() error
}

// Config tunes the edge filter. Zero values pick the defaults that
// match the pedal's observed bounce behavior.
type Config struct {
	Debounce  time.Duration // min gap between accepted edges
	Stabilize time.Duration // min hold before a state counts as settled
	// Center presses arriving this soon after a Left press are ghosts
	// from the shared contact strip and get dropped.
	SuppressCenterAfterLeft time.Duration
	PollInterval            time.Duration
}

func (c *Config) fill() {
	if c.Debounce <= 0 {
		c.Debounce = 80 * time.Millisecond
	}
	if c.Stabilize <= 0 {
		c.Stabilize = 18 * time.Millisecond
	}
	if c.SuppressCenterAfterLeft <= 0 {
		c.SuppressCenterAfterLeft = 160 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
}

// Monitor turns debounced pedal edges into lifecycle intents. It keeps
// a local mirror of the lifecycle phase so the double-tap Center
// sequence (prepare, then start) can be resolved without asking the
// control loop.
type Monitor struct {
	dev     Device
	cfg     Config
	intents chan<- teleop.Intent

	phase       teleop.Phase
	last        Buttons
	lastChange  time.Time
	lastLeft    time.Time
	stableSince time.Time

	now  func() time.Time
	logf func(format string, args ...any)
}

// NewMonitor wires a device to an intent channel. Sends are
// nonblocking: if the consumer is not draining, the intent is dropped
// rather than stalling the reader.
func NewMonitor(dev Device, intents chan<- teleop.Intent, cfg Config) *Monitor {
	cfg.fill()
	return &Monitor{
		dev:     dev,
		cfg:     cfg,
		intents: intents,
		phase:   teleop.PhaseIdle,
		now:     time.Now,
		logf:    func(string, ...any) {},
	}
}

// SetLogger routes edge diagnostics somewhere visible.
func (m *Monitor) SetLogger(logf func(format string, args ...any)) {
	if logf != nil {
		m.logf = logf
	}
}

// Phase returns the monitor's mirror of the lifecycle phase.
func (m *Monitor) Phase() teleop.Phase { return m.phase }

// Run polls the device until ctx is canceled or a read fails. A read
// failure usually means the pedal was unplugged; the caller decides
// whether to reopen.
func (m *Monitor) Run(ctx context.Context) error {
	m.stableSince = m.now()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		report, err := m.dev.ReadReport(m.cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("pedal read: %w", err)
		}
		if report != nil {
			m.Process(report, m.now())
		}
	}
}

// Process feeds one raw report through the edge filter. Exposed so the
// reader loop and tests share the exact same path.
func (m *Monitor) Process(report []byte, now time.Time) {
	current := Decode(report)
	if current == m.last {
		return
	}
	m.stableSince = now

	// Edges within the debounce window of the last accepted edge are
	// bounce artifacts. Track the new state but do not act on it.
	if now.Sub(m.lastChange) < m.cfg.Debounce {
		m.last = current
		return
	}

	added := current &^ m.last
	removed := m.last &^ current

	// Multiple simultaneous edges are electrical noise, not operator
	// input.
	if added.count()+removed.count() != 1 {
		m.logf("pedal: multi-edge ignored (added %s, removed %s)", added, removed)
		m.lastChange = now
		m.last = current
		return
	}

	// Releases carry no meaning; only presses drive the lifecycle.
	if added != 0 {
		m.lastChange = now
		m.press(added, now)
	}
	m.last = current
}

func (m *Monitor) press(b Buttons, now time.Time) {
	switch b {
	case ButtonLeft:
		m.logf("pedal: left, interrupt for external control")
		m.phase = teleop.PhaseIdle
		m.lastLeft = now
		m.emit(teleop.IntentInterrupt)

	case ButtonCenter:
		if now.Sub(m.lastLeft) < m.cfg.SuppressCenterAfterLeft {
			m.logf("pedal: center suppressed, too soon after left")
			return
		}
		switch m.phase {
		case teleop.PhaseIdle:
			m.logf("pedal: center, capturing baselines; align and press again")
			m.phase = teleop.PhasePrep
			m.emit(teleop.IntentPrepare)
		case teleop.PhasePrep:
			m.logf("pedal: center, streaming")
			m.phase = teleop.PhaseRunning
			m.emit(teleop.IntentStart)
		case teleop.PhaseRunning:
			// Already streaming.
		}

	case ButtonRight:
		m.logf("pedal: right, stop")
		m.phase = teleop.PhaseIdle
		m.emit(teleop.IntentStop)
	}
}

func (m *Monitor) emit(in teleop.Intent) {
	select {
	case m.intents <- in:
	default:
		m.logf("pedal: intent %s dropped, consumer not draining", in)
	}
}

// AutoStart synthesizes the prepare/start sequence when no pedal is
// present. Test rigs and headless deployments use it to arm the loop
// after a fixed delay.
func AutoStart(ctx context.Context, intents chan<- teleop.Intent, delay time.Duration) error {
	for _, in := range []teleop.Intent{teleop.IntentPrepare, teleop.IntentStart} {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		select {
		case intents <- in:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
