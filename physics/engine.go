package physics

import (
	"github.com/go-gl/mathgl/mgl32"
)

type BodyID int
type JointID int

type Shape int

const (
	ShapeSphere Shape = iota
	ShapeBox
	ShapeCapsule
)

func (s Shape) String() string {
	switch s {
	case ShapeSphere:
		return "sphere"
	case ShapeBox:
		return "box"
	case ShapeCapsule:
		return "capsule"
	default:
		return "unknown"
	}
}

// BodyParams is what engine needs to create one body, values already scaled by config
type BodyParams struct {
	Kinematic bool
	Pose      mgl32.Mat4

	Mass           float32
	LinearDamping  float32
	AngularDamping float32
	Friction       float32
	Restitution    float32

	Shape Shape
	Size  mgl32.Vec3
	Group uint8
	Mask  uint16
}

// JointParams describes 6dof spring constraint. Frames are joint transform in body local space.
// Axis with lower > upper is free, with lower == upper is locked.
type JointParams struct {
	BodyA, BodyB   BodyID
	FrameA, FrameB mgl32.Mat4

	LinearLower  mgl32.Vec3
	LinearUpper  mgl32.Vec3
	AngularLower mgl32.Vec3
	AngularUpper mgl32.Vec3

	LinearStiffness  mgl32.Vec3
	AngularStiffness mgl32.Vec3
	LinearDamping    mgl32.Vec3
	AngularDamping   mgl32.Vec3
}

// Engine is the rigid body simulation used by Physics
type Engine interface {
	AddBody(p BodyParams) BodyID
	AddJoint(p JointParams) JointID
	SetGravity(g mgl32.Vec3)

	// kinematic body reaches target at next step
	SetKinematicTarget(id BodyID, pose mgl32.Mat4)
	Pose(id BodyID) mgl32.Mat4
	SetPose(id BodyID, pose mgl32.Mat4)
	Velocity(id BodyID) (linear, angular mgl32.Vec3)
	SetVelocity(id BodyID, linear, angular mgl32.Vec3)

	Step(dt float32)
}

// angularVelocity of rotation from a to b during dt, small angle approximation
func angularVelocity(a, b mgl32.Quat, dt float32) mgl32.Vec3 {
	d := b.Mul(a.Inverse())
	if d.W < 0 {
		d = d.Scale(-1)
	}
	return d.V.Mul(2 / dt)
}

func integrateRotation(q mgl32.Quat, w mgl32.Vec3, dt float32) mgl32.Quat {
	dq := mgl32.Quat{W: 0, V: w}.Mul(q).Scale(0.5 * dt)
	return q.Add(dq).Normalize()
}
