package pickplace

import (
	"math"

	"github.com/gwillem/pickplace/pkg/robot"
)

// AllReached reports whether every joint of the group is within tolerance
// of its target angle. An empty group has trivially reached any target.
func AllReached(group robot.JointGroup, target robot.Pose, tolerance float64) bool {
	for i, j := range group {
		if math.Abs(j.Position()-target[i]) > tolerance {
			return false
		}
	}
	return true
}
