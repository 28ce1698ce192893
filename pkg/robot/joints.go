// Package robot provides the hardware collaborators of the teleop
// core: the handheld controller bus, rig configuration, and the arm's
// dashboard helper.
package robot

// JointName identifies a joint on the handheld controller.
type JointName string

// Joint names in bus order. The gripper rides on a seventh servo and
// is not a driven arm joint.
const (
	Base     JointName = "base"
	Shoulder JointName = "shoulder"
	Elbow    JointName = "elbow"
	Wrist1   JointName = "wrist_1"
	Wrist2   JointName = "wrist_2"
	Wrist3   JointName = "wrist_3"
	Gripper  JointName = "gripper"
)

// AllJoints returns the joint names in bus order, gripper last.
func AllJoints() []JointName {
	return []JointName{Base, Shoulder, Elbow, Wrist1, Wrist2, Wrist3, Gripper}
}

// ArmJointCount is the number of driven arm joints per side.
const ArmJointCount = 6
