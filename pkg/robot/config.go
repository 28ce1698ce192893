package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/generalistai/gello-teleop/pkg/teleop"
)

const DefaultConfigFile = "teleop.json"

// Config holds the rig configuration: both sides' devices plus the
// control and pedal tuning shared between them.
type Config struct {
	Left    SideConfig    `json:"left"`
	Right   SideConfig    `json:"right"`
	Control ControlConfig `json:"control"`
	Pedal   PedalConfig   `json:"pedal"`
	// MQTT broker URL. When set, arms are driven over the message bus
	// instead of a direct connection, and controller state is
	// published there.
	Broker string `json:"broker,omitempty"`
}

// SideConfig holds configuration for one controller/arm pair. An empty
// ControllerPort disables the side.
type SideConfig struct {
	ControllerPort string      `json:"controller_port"`
	Calibration    Calibration `json:"calibration,omitempty"`
	ArmHost        string      `json:"arm_host"`
	GripperPin     int         `json:"gripper_pin"`
}

// Enabled returns true if the side has a controller configured.
func (s *SideConfig) Enabled() bool {
	return s.ControllerPort != ""
}

// ControlConfig tunes the follow loop. Zero values fall back to the
// full-speed preset.
type ControlConfig struct {
	Hz              float64 `json:"hz,omitempty"`
	VelocityMax     float64 `json:"velocity_max,omitempty"`
	AccelerationMax float64 `json:"acceleration_max,omitempty"`
	Lookahead       float64 `json:"lookahead,omitempty"`
	Gain            float64 `json:"gain,omitempty"`

	GripperOpen   float64 `json:"gripper_open_threshold,omitempty"`
	GripperClose  float64 `json:"gripper_close_threshold,omitempty"`
	GripperMargin float64 `json:"gripper_margin,omitempty"`
}

// PedalConfig identifies the HID pedal.
type PedalConfig struct {
	VendorID  uint16 `json:"vendor_id,omitempty"`
	ProductID uint16 `json:"product_id,omitempty"`
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file and applies
// the UR_VMAX / UR_AMAX environment overrides on top.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("UR_VMAX"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("UR_VMAX: %w", err)
		}
		c.Control.VelocityMax = f
	}
	if v := os.Getenv("UR_AMAX"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("UR_AMAX: %w", err)
		}
		c.Control.AccelerationMax = f
	}
	return nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Hz returns the configured control frequency, defaulting to 125.
func (c *Config) Hz() float64 {
	if c.Control.Hz > 0 {
		return c.Control.Hz
	}
	return 125
}

// Profiles builds the gentle and full-speed motion profiles with the
// config's overrides applied to the full-speed one. The gentle profile
// is deliberately not overridable; alignment always happens slowly.
func (c *Config) Profiles(joints int) (gentle, full teleop.MotionProfile) {
	gentle = teleop.Gentle(joints)
	full = teleop.FullSpeed(joints)
	if c.Control.VelocityMax > 0 {
		full.ServoVelocity = c.Control.VelocityMax
	}
	if c.Control.AccelerationMax > 0 {
		full.ServoAcceleration = c.Control.AccelerationMax
	}
	if c.Control.Lookahead > 0 {
		full.Lookahead = c.Control.Lookahead
	}
	if c.Control.Gain > 0 {
		full.Gain = c.Control.Gain
	}
	return gentle, full
}

// GripperThresholds returns the configured thresholds, or the defaults
// when unset.
func (c *Config) GripperThresholds() teleop.GripperThresholds {
	t := teleop.DefaultGripperThresholds()
	if c.Control.GripperOpen > 0 {
		t.Open = c.Control.GripperOpen
	}
	if c.Control.GripperClose > 0 {
		t.Close = c.Control.GripperClose
	}
	if c.Control.GripperMargin > 0 {
		t.Margin = c.Control.GripperMargin
	}
	return t
}
