package robot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/generalistai/gello-teleop/pkg/teleop"
)

// DefaultBaudRate is what the controller servos ship configured with.
const DefaultBaudRate = 1_000_000

// ControllerConfig describes one side's handheld controller.
type ControllerConfig struct {
	Port        string
	BaudRate    int
	Calibration Calibration
	// Reads inside this window return the cached positions instead of
	// touching the bus again. Defaults to one control period.
	CacheWindow time.Duration
}

// Controller reads a handheld exoskeleton over the servo bus and
// reports joint angles in radians. It implements teleop.ControllerBus.
type Controller struct {
	cfg   ControllerConfig
	bus   *feetech.Bus
	group *feetech.ServoGroup

	mu       sync.Mutex
	last     []float64
	lastRead time.Time
}

// NewController builds an unconnected controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.CacheWindow <= 0 {
		cfg.CacheWindow = 8 * time.Millisecond
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// Connect opens the serial bus and registers the servo group.
func (c *Controller) Connect(ctx context.Context) error {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     c.cfg.Port,
		BaudRate: c.cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w: %v", c.cfg.Port, teleop.ErrDeviceUnavailable, err)
	}
	c.bus = bus
	c.group = feetech.NewServoGroupByIDs(bus, c.cfg.Calibration.IDs()...)
	return nil
}

// ReadPositions returns all joint angles in radians, bus order, the
// gripper joint last. A read inside the cache window returns the
// previous sample; callers already tolerate stale-by-one-window data.
// One failed group read is retried before the error surfaces, wrapped
// as transient so the loop skips the tick instead of dying.
func (c *Controller) ReadPositions(ctx context.Context) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group == nil {
		return nil, fmt.Errorf("controller %s: %w", c.cfg.Port, teleop.ErrDeviceUnavailable)
	}

	now := time.Now()
	if c.last != nil && now.Sub(c.lastRead) < c.cfg.CacheWindow {
		return append([]float64(nil), c.last...), nil
	}

	raw, err := c.group.Positions(ctx)
	if err != nil {
		raw, err = c.group.Positions(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("controller %s: %w: %v", c.cfg.Port, teleop.ErrTransientRead, err)
	}

	positions := make([]float64, len(c.cfg.Calibration))
	for i, jc := range c.cfg.Calibration {
		ticks, ok := raw[jc.ID]
		if !ok {
			return nil, fmt.Errorf("controller %s: servo %d missing from read: %w",
				c.cfg.Port, jc.ID, teleop.ErrTransientRead)
		}
		positions[i] = jc.ToRadians(ticks)
	}

	c.last = positions
	c.lastRead = now
	return append([]float64(nil), positions...), nil
}

// SetTorque enables or disables torque on every servo. The controller
// is normally left passive so the operator can move it freely.
func (c *Controller) SetTorque(ctx context.Context, enable bool) error {
	if c.group == nil {
		return fmt.Errorf("controller %s: %w", c.cfg.Port, teleop.ErrDeviceUnavailable)
	}
	if enable {
		return c.group.EnableAll(ctx)
	}
	return c.group.DisableAll(ctx)
}

// WritePositions drives the controller servos to the given angles.
// Only used by haptic experiments and the check tooling; teleop never
// writes to the handheld side.
func (c *Controller) WritePositions(ctx context.Context, rad []float64) error {
	if c.group == nil {
		return fmt.Errorf("controller %s: %w", c.cfg.Port, teleop.ErrDeviceUnavailable)
	}
	if len(rad) > len(c.cfg.Calibration) {
		return fmt.Errorf("controller %s: %d positions for %d joints",
			c.cfg.Port, len(rad), len(c.cfg.Calibration))
	}
	target := make(feetech.PositionMap, len(rad))
	for i, r := range rad {
		jc := c.cfg.Calibration[i]
		target[jc.ID] = jc.ToTicks(r)
	}
	return c.group.SetPositions(ctx, target)
}

// Close releases the serial port.
func (c *Controller) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}
