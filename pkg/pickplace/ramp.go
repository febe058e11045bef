package pickplace

import (
	"math"
	"time"

	"github.com/gwillem/pickplace/pkg/robot"
)

// RampSetpoint returns the next setpoint on a linear ramp from current to
// target that moves at most maxStep. Once the remaining error fits in one
// step the target itself is returned, so a ramp never overshoots.
func RampSetpoint(current, target, maxStep float64) float64 {
	err := target - current
	if math.Abs(err) <= maxStep {
		return target
	}
	return current + math.Copysign(maxStep, err)
}

// StepToward commands every joint of the group one tick further along a
// velocity-capped ramp toward the target pose.
func StepToward(group robot.JointGroup, target robot.Pose, maxVelocity float64, tick time.Duration) {
	maxStep := maxVelocity * tick.Seconds()
	for i, j := range group {
		j.Actuator.SetPosition(RampSetpoint(j.Position(), target[i], maxStep))
	}
}
