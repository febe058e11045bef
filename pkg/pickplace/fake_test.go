package pickplace

import (
	"context"
	"fmt"
	"time"

	"github.com/gwillem/pickplace/pkg/robot"
)

// fakeRig is a rig whose sensors only move when the test says so. Every
// setpoint written is recorded.
type fakeRig struct {
	joints    map[string]*fakeJoint
	distance  float64
	steps     int
	maxSteps  int
	err       error
	onStep    func(r *fakeRig)
	noProx    bool
	enableErr error
}

type fakeJoint struct {
	position float64
	setpoint *float64
	limit    float64
	history  []float64
}

func (j *fakeJoint) SetPosition(rad float64) {
	j.setpoint = &rad
	j.history = append(j.history, rad)
}

func (j *fakeJoint) SetVelocityLimit(radPerSec float64) { j.limit = radPerSec }

func (j *fakeJoint) Enable(time.Duration) error { return nil }

func (j *fakeJoint) Position() float64 { return j.position }

func newFakeRig() *fakeRig {
	r := &fakeRig{joints: make(map[string]*fakeJoint), distance: 1000}
	for _, name := range robot.AllJoints() {
		r.joints[string(name)] = &fakeJoint{}
	}
	return r
}

func (r *fakeRig) joint(name robot.JointName) *fakeJoint { return r.joints[string(name)] }

// set moves every joint of names to the matching angle of p.
func (r *fakeRig) set(names []robot.JointName, p robot.Pose) {
	for i, name := range names {
		r.joint(name).position = p[i]
	}
}

// settle moves every joint to its last setpoint.
func (r *fakeRig) settle() {
	for _, j := range r.joints {
		if j.setpoint != nil {
			j.position = *j.setpoint
		}
	}
}

func (r *fakeRig) Devices() []robot.DeviceInfo { return nil }

func (r *fakeRig) Actuator(name string) (robot.Actuator, error) {
	if j, ok := r.joints[name]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("%w: %q", robot.ErrDeviceNotFound, name)
}

func (r *fakeRig) PositionSensor(name string) (robot.PositionSensor, error) {
	for joint, j := range r.joints {
		if robot.SensorName(robot.JointName(joint)) == name {
			return j, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", robot.ErrDeviceNotFound, name)
}

func (r *fakeRig) DistanceSensor(name string) (robot.DistanceSensor, error) {
	if r.noProx || name != robot.ProximitySensorName {
		return nil, fmt.Errorf("%w: %q", robot.ErrDeviceNotFound, name)
	}
	return fakeProximity{r}, nil
}

func (r *fakeRig) Step(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil || r.err != nil || r.steps >= r.maxSteps {
		return false
	}
	r.steps++
	if r.onStep != nil {
		r.onStep(r)
	}
	return true
}

func (r *fakeRig) Err() error { return r.err }

type fakeProximity struct{ r *fakeRig }

func (p fakeProximity) Enable(time.Duration) error { return p.r.enableErr }

func (p fakeProximity) Distance() float64 { return p.r.distance }

func testConfig() Config {
	rc := robot.DefaultConfig()
	return ConfigFromRig(rc)
}
