package robot

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

const (
	ticksPerRev = 4096
	centerTicks = 2048
)

// JointCalibration maps one servo's encoder to the arm's joint frame.
// The offset is stored in degrees because that is what the offset
// tuning tools print.
type JointCalibration struct {
	ID        int     `json:"id"`
	Sign      int     `json:"sign"`
	OffsetDeg float64 `json:"offset_deg"`
}

func (c JointCalibration) offsetTicks() int {
	return int(math.Round(c.OffsetDeg / 360.0 * ticksPerRev))
}

// ToRadians converts raw encoder ticks to the joint angle in radians.
func (c JointCalibration) ToRadians(ticks int) float64 {
	return float64(c.Sign) * float64(ticks-centerTicks-c.offsetTicks()) * (2 * math.Pi / ticksPerRev)
}

// ToTicks converts a joint angle in radians back to encoder ticks.
func (c JointCalibration) ToTicks(rad float64) int {
	return centerTicks + c.offsetTicks() + int(rad*float64(c.Sign)*ticksPerRev/(2*math.Pi))
}

// Calibration holds one side's joint calibrations in bus order. The
// slice index is the joint index; the trailing entry is the gripper.
type Calibration []JointCalibration

// IDs returns the servo IDs in bus order.
func (c Calibration) IDs() []int {
	ids := make([]int, len(c))
	for i, jc := range c {
		ids[i] = jc.ID
	}
	return ids
}

// Validate rejects calibrations the driver cannot use.
func (c Calibration) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("calibration: no joints")
	}
	seen := make(map[int]bool, len(c))
	for i, jc := range c {
		if jc.Sign != 1 && jc.Sign != -1 {
			return fmt.Errorf("calibration: joint %d sign %d, want +1 or -1", i, jc.Sign)
		}
		if seen[jc.ID] {
			return fmt.Errorf("calibration: duplicate servo ID %d", jc.ID)
		}
		seen[jc.ID] = true
	}
	return nil
}

// LoadCalibration loads a side's calibration from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// SaveTo writes the calibration as indented JSON.
func (c Calibration) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultCalibration builds a neutral calibration for the given servo
// IDs: sign +1, zero offset. Useful before the offsets are tuned.
func DefaultCalibration(ids ...int) Calibration {
	cal := make(Calibration, len(ids))
	for i, id := range ids {
		cal[i] = JointCalibration{ID: id, Sign: 1}
	}
	return cal
}
