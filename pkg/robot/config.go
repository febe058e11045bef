package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const DefaultConfigFile = "pickplace.json"

// Rig constants of the reference cell.
const (
	DefaultTick             = 32 * time.Millisecond
	DefaultGrabThreshold    = 350.0
	DefaultTolerance        = 0.02
	DefaultMaxJointVelocity = 1.0
	DefaultFingerOpen       = 0.0
	DefaultFingerClosed     = 0.85
	DefaultBaudRate         = 1_000_000
	DefaultProximityBaud    = 115200
)

var (
	DefaultHome = Pose{0, 0, 0, 0}
	DefaultDrop = Pose{-1.88, -2.14, -2.38, -1.51}
)

// Config holds the rig configuration.
type Config struct {
	Port        string          `json:"port"`
	Proximity   ProximityConfig `json:"proximity"`
	Calibration Calibration     `json:"calibration,omitempty"`

	Arm     []JointName `json:"arm,omitempty"`
	Fingers []JointName `json:"fingers,omitempty"`

	Motion MotionConfig `json:"motion"`
}

// ProximityConfig describes the serial distance sensor.
type ProximityConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// MotionConfig holds the control loop tuning and the task poses.
type MotionConfig struct {
	TickMs int `json:"tick_ms,omitempty"`
	// Nil GrabThreshold or Tolerance means the default; an explicit zero is kept.
	GrabThreshold    *float64 `json:"grab_threshold,omitempty"`
	Tolerance        *float64 `json:"tolerance,omitempty"`
	MaxJointVelocity float64  `json:"max_joint_velocity,omitempty"`
	// StallWarningMs logs a warning when a phase outlasts it. Zero disables.
	StallWarningMs int `json:"stall_warning_ms,omitempty"`

	Home         Pose     `json:"home,omitempty"`
	Drop         Pose     `json:"drop,omitempty"`
	FingerOpen   *float64 `json:"finger_open,omitempty"`
	FingerClosed *float64 `json:"finger_closed,omitempty"`
}

// Tick returns the control period.
func (m MotionConfig) Tick() time.Duration {
	return time.Duration(m.TickMs) * time.Millisecond
}

// StallWarning returns the stall warning threshold.
func (m MotionConfig) StallWarning() time.Duration {
	return time.Duration(m.StallWarningMs) * time.Millisecond
}

// DefaultConfig returns the reference cell configuration without ports.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// Validate fills unset fields with defaults and rejects unusable values.
func (c *Config) Validate() error {
	if len(c.Arm) == 0 {
		c.Arm = ArmJoints()
	}
	if len(c.Fingers) == 0 {
		c.Fingers = FingerJoints()
	}
	if c.Proximity.BaudRate == 0 {
		c.Proximity.BaudRate = DefaultProximityBaud
	}

	m := &c.Motion
	if m.TickMs == 0 {
		m.TickMs = int(DefaultTick / time.Millisecond)
	}
	if m.GrabThreshold == nil {
		v := DefaultGrabThreshold
		m.GrabThreshold = &v
	}
	if m.Tolerance == nil {
		v := DefaultTolerance
		m.Tolerance = &v
	}
	if m.MaxJointVelocity == 0 {
		m.MaxJointVelocity = DefaultMaxJointVelocity
	}
	if len(m.Home) == 0 {
		m.Home = append(Pose(nil), DefaultHome...)
	}
	if len(m.Drop) == 0 {
		m.Drop = append(Pose(nil), DefaultDrop...)
	}
	if m.FingerOpen == nil {
		v := DefaultFingerOpen
		m.FingerOpen = &v
	}
	if m.FingerClosed == nil {
		v := DefaultFingerClosed
		m.FingerClosed = &v
	}

	if m.TickMs < 0 {
		return fmt.Errorf("tick_ms must be positive, got %d", m.TickMs)
	}
	if *m.GrabThreshold < 0 {
		return fmt.Errorf("grab_threshold must be >= 0, got %f", *m.GrabThreshold)
	}
	if *m.Tolerance < 0 {
		return fmt.Errorf("tolerance must be >= 0, got %f", *m.Tolerance)
	}
	if m.MaxJointVelocity < 0 {
		return fmt.Errorf("max_joint_velocity must be positive, got %f", m.MaxJointVelocity)
	}
	if m.StallWarningMs < 0 {
		return fmt.Errorf("stall_warning_ms must be >= 0, got %d", m.StallWarningMs)
	}
	if len(m.Home) != len(c.Arm) {
		return fmt.Errorf("home: %w: %d angles for %d arm joints", ErrPoseSize, len(m.Home), len(c.Arm))
	}
	if len(m.Drop) != len(c.Arm) {
		return fmt.Errorf("drop: %w: %d angles for %d arm joints", ErrPoseSize, len(m.Drop), len(c.Arm))
	}

	for name, mc := range c.Calibration {
		if err := mc.Validate(); err != nil {
			return fmt.Errorf("calibration %s: %w", name, err)
		}
	}
	return nil
}

// FingersOpen returns the open pose for the finger group.
func (c *Config) FingersOpen() Pose {
	return UniformPose(len(c.Fingers), *c.Motion.FingerOpen)
}

// FingersClosed returns the closed pose for the finger group.
func (c *Config) FingersClosed() Pose {
	return UniformPose(len(c.Fingers), *c.Motion.FingerClosed)
}

// Joints returns arm joints followed by finger joints.
func (c *Config) Joints() []JointName {
	return append(append([]JointName(nil), c.Arm...), c.Fingers...)
}

// IsCalibrated returns true if every joint has calibration data.
func (c *Config) IsCalibrated() bool {
	for _, name := range c.Joints() {
		if _, ok := c.Calibration[name]; !ok {
			return false
		}
	}
	return len(c.Calibration) > 0
}

// LoadConfigFrom loads and validates configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
