// Package robot provides the hardware abstraction the pick-and-place
// controller drives: device binding, joint groups, poses and the rigs that
// implement them.
package robot

// JointName identifies a joint on the rig.
type JointName string

// Joint names of the arm and the three-finger gripper.
const (
	ShoulderLift JointName = "shoulder_lift_joint"
	Elbow        JointName = "elbow_joint"
	Wrist1       JointName = "wrist_1_joint"
	Wrist2       JointName = "wrist_2_joint"

	Finger1      JointName = "finger_1_joint_1"
	Finger2      JointName = "finger_2_joint_1"
	FingerMiddle JointName = "finger_middle_joint_1"
)

// ProximitySensorName is the device name of the grab-detection sensor.
const ProximitySensorName = "distance sensor"

// ArmJoints returns the arm joints in group order.
func ArmJoints() []JointName {
	return []JointName{
		ShoulderLift,
		Elbow,
		Wrist1,
		Wrist2,
	}
}

// FingerJoints returns the gripper finger joints in group order.
func FingerJoints() []JointName {
	return []JointName{
		Finger1,
		Finger2,
		FingerMiddle,
	}
}

// AllJoints returns arm joints followed by finger joints.
func AllJoints() []JointName {
	return append(ArmJoints(), FingerJoints()...)
}

// SensorName returns the position sensor device name for a joint.
func SensorName(j JointName) string {
	return string(j) + "_sensor"
}
