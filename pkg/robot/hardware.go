package robot

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceNotFound is returned when binding a name no device answers to.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceType classifies a device on the rig.
type DeviceType int

const (
	DeviceMotor DeviceType = iota + 1
	DevicePositionSensor
	DeviceDistanceSensor
)

func (t DeviceType) String() string {
	switch t {
	case DeviceMotor:
		return "motor"
	case DevicePositionSensor:
		return "position_sensor"
	case DeviceDistanceSensor:
		return "distance_sensor"
	default:
		return "unknown"
	}
}

// DeviceInfo describes one enumerated device.
type DeviceInfo struct {
	Name string
	Type DeviceType
}

// Actuator accepts position setpoints in radians.
type Actuator interface {
	SetPosition(rad float64)
	// SetVelocityLimit caps how fast the actuator may travel toward a
	// setpoint, in rad/s.
	SetVelocityLimit(radPerSec float64)
}

// PositionSensor reports a joint angle in radians.
type PositionSensor interface {
	Enable(period time.Duration) error
	Position() float64
}

// DistanceSensor reports a proximity reading in sensor units.
type DistanceSensor interface {
	Enable(period time.Duration) error
	Distance() float64
}

// Hardware is the rig the controller runs against. Binding happens once at
// startup; reads and writes happen every tick and cannot fail. A rig that
// hits an I/O fault stops stepping and reports the cause through Err.
type Hardware interface {
	Devices() []DeviceInfo
	Actuator(name string) (Actuator, error)
	PositionSensor(name string) (PositionSensor, error)
	DistanceSensor(name string) (DistanceSensor, error)

	// Step ends the current tick and blocks until the next one begins.
	// It returns false once the rig has terminated.
	Step(ctx context.Context, d time.Duration) bool
	Err() error
}
