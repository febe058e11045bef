package robot

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// ErrPoseSize is returned when a pose does not match its joint group.
var ErrPoseSize = errors.New("pose size does not match joint group")

// Joint pairs a joint's actuator with the sensor that feeds it back.
type Joint struct {
	Name     JointName
	Actuator Actuator
	Sensor   PositionSensor
}

// Position reads the joint's current angle in radians.
func (j Joint) Position() float64 {
	return j.Sensor.Position()
}

// JointGroup is an ordered set of joints driven together.
type JointGroup []Joint

// BindGroup binds the actuator and position sensor of every named joint
// and enables feedback at the given sampling period.
func BindGroup(hw Hardware, names []JointName, period time.Duration) (JointGroup, error) {
	group := make(JointGroup, 0, len(names))
	for _, name := range names {
		act, err := hw.Actuator(string(name))
		if err != nil {
			return nil, fmt.Errorf("bind actuator %s: %w", name, err)
		}
		sensor, err := hw.PositionSensor(SensorName(name))
		if err != nil {
			return nil, fmt.Errorf("bind sensor %s: %w", SensorName(name), err)
		}
		if err := sensor.Enable(period); err != nil {
			return nil, fmt.Errorf("enable sensor %s: %w", SensorName(name), err)
		}
		group = append(group, Joint{Name: name, Actuator: act, Sensor: sensor})
	}
	return group, nil
}

// Names returns the joint names in group order.
func (g JointGroup) Names() []JointName {
	names := make([]JointName, len(g))
	for i, j := range g {
		names[i] = j.Name
	}
	return names
}

// Positions reads every joint in group order.
func (g JointGroup) Positions() Pose {
	p := make(Pose, len(g))
	for i, j := range g {
		p[i] = j.Position()
	}
	return p
}

// Command sends every joint straight to the pose.
func (g JointGroup) Command(p Pose) {
	for i, j := range g {
		j.Actuator.SetPosition(p[i])
	}
}

// SetVelocityLimit applies the same cap to every actuator in the group.
func (g JointGroup) SetVelocityLimit(radPerSec float64) {
	for _, j := range g {
		j.Actuator.SetVelocityLimit(radPerSec)
	}
}

// Pose is a target angle per joint of a group, in radians.
type Pose []float64

// UniformPose returns a pose of n joints all at the same angle.
func UniformPose(n int, rad float64) Pose {
	p := make(Pose, n)
	for i := range p {
		p[i] = rad
	}
	return p
}

// Fits reports an error unless the pose has one angle per joint of g.
func (p Pose) Fits(g JointGroup) error {
	if len(p) != len(g) {
		return fmt.Errorf("%w: %d angles for %d joints", ErrPoseSize, len(p), len(g))
	}
	return nil
}

// MaxError returns the largest per-joint distance between two poses.
func (p Pose) MaxError(other Pose) float64 {
	if len(p) != len(other) {
		return math.Inf(1)
	}
	if len(p) == 0 {
		return 0
	}
	return floats.Distance(p, other, math.Inf(1))
}
