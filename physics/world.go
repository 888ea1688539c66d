package physics

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/utils"
)

const (
	// locked angular axis still gets a bit of play, otherwise chains of joints jitter
	minAngularRange = 0.1
	axisEpsilon     = 0.0001
)

type worldBody struct {
	params  BodyParams
	invMass float32

	pos mgl32.Vec3
	rot mgl32.Quat
	lin mgl32.Vec3
	ang mgl32.Vec3

	hasTarget bool
	targetPos mgl32.Vec3
	targetRot mgl32.Quat

	prevPos mgl32.Vec3
	prevRot mgl32.Quat
}

func (b *worldBody) matrix() mgl32.Mat4 {
	return utils.RotationTranslation(b.rot, b.pos)
}

// World is small position based rigid body solver.
// Bodies are integrated with semi implicit euler, joints are projected
// iteratively with soft springs. There is no collision detection.
type World struct {
	bodies     []worldBody
	joints     []JointParams
	gravity    mgl32.Vec3
	iterations int
	elapsed    float64
}

func NewWorld(iterations int) *World {
	if iterations < 1 {
		iterations = 1
	}
	return &World{iterations: iterations}
}

func (w *World) AddBody(p BodyParams) BodyID {
	rot, pos := utils.Decompose(p.Pose)
	b := worldBody{
		params: p,
		pos:    pos,
		rot:    rot,
	}
	if !p.Kinematic && p.Mass > 0 {
		b.invMass = 1 / p.Mass
	}
	w.bodies = append(w.bodies, b)
	return BodyID(len(w.bodies) - 1)
}

func (w *World) AddJoint(p JointParams) JointID {
	w.joints = append(w.joints, p)
	return JointID(len(w.joints) - 1)
}

func (w *World) SetGravity(g mgl32.Vec3) {
	w.gravity = g
}

func (w *World) SetKinematicTarget(id BodyID, pose mgl32.Mat4) {
	b := &w.bodies[id]
	b.targetRot, b.targetPos = utils.Decompose(pose)
	b.hasTarget = true
}

func (w *World) Pose(id BodyID) mgl32.Mat4 {
	return w.bodies[id].matrix()
}

func (w *World) SetPose(id BodyID, pose mgl32.Mat4) {
	b := &w.bodies[id]
	b.rot, b.pos = utils.Decompose(pose)
	b.hasTarget = false
}

func (w *World) Velocity(id BodyID) (mgl32.Vec3, mgl32.Vec3) {
	return w.bodies[id].lin, w.bodies[id].ang
}

func (w *World) SetVelocity(id BodyID, linear, angular mgl32.Vec3) {
	w.bodies[id].lin = linear
	w.bodies[id].ang = angular
}

// Elapsed is total simulated time
func (w *World) Elapsed() float64 {
	return w.elapsed
}

func (w *World) BodyCount() int {
	return len(w.bodies)
}

func (w *World) Step(dt float32) {
	if dt <= 0 {
		return
	}
	w.elapsed += float64(dt)

	for i := range w.bodies {
		b := &w.bodies[i]
		b.prevPos, b.prevRot = b.pos, b.rot
		if b.params.Kinematic {
			if b.hasTarget {
				b.pos, b.rot = b.targetPos, b.targetRot
				b.hasTarget = false
			}
			continue
		}
		b.lin = b.lin.Add(w.gravity.Mul(dt)).Mul(1 / (1 + dt*b.params.LinearDamping))
		b.ang = b.ang.Mul(1 / (1 + dt*b.params.AngularDamping))
		b.pos = b.pos.Add(b.lin.Mul(dt))
		b.rot = integrateRotation(b.rot, b.ang, dt)
	}

	for it := 0; it < w.iterations; it++ {
		for i := range w.joints {
			w.solveJoint(&w.joints[i], dt)
		}
	}

	for i := range w.bodies {
		b := &w.bodies[i]
		if b.params.Kinematic {
			continue
		}
		b.lin = b.pos.Sub(b.prevPos).Mul(1 / dt)
		b.ang = angularVelocity(b.prevRot, b.rot, dt)
	}
}

// springFraction is part of the error removed by a soft constraint in one projection
func springFraction(stiffness, damping, dt, invMass float32) float32 {
	if stiffness <= 0 {
		return 0
	}
	k := stiffness * dt * dt * invMass
	c := damping * dt * invMass
	return k / (1 + k + c)
}

// limitRange returns allowed range of axis and whether axis is limited at all
func limitRange(lower, upper float32, angular bool) (float32, float32, bool) {
	if lower > upper {
		return 0, 0, false
	}
	if angular && upper-lower < axisEpsilon {
		center := lower
		return center - minAngularRange, center + minAngularRange, true
	}
	return lower, upper, true
}

func (w *World) solveJoint(j *JointParams, dt float32) {
	a := &w.bodies[j.BodyA]
	b := &w.bodies[j.BodyB]
	total := a.invMass + b.invMass
	if total == 0 {
		return
	}

	qa, pa := utils.Decompose(a.matrix().Mul4(j.FrameA))
	qb, pb := utils.Decompose(b.matrix().Mul4(j.FrameB))

	// linear part, measured in frame of A
	local := qa.Inverse().Rotate(pb.Sub(pa))
	var corr mgl32.Vec3
	for k := 0; k < 3; k++ {
		target := local[k]
		if lo, hi, limited := limitRange(j.LinearLower[k], j.LinearUpper[k], false); limited {
			target = mgl32.Clamp(target, lo, hi)
		}
		target -= target * springFraction(j.LinearStiffness[k], j.LinearDamping[k], dt, total)
		corr[k] = local[k] - target
	}
	if corr.Dot(corr) > 0 {
		world := qa.Rotate(corr)
		a.pos = a.pos.Add(world.Mul(a.invMass / total))
		b.pos = b.pos.Sub(world.Mul(b.invMass / total))
	}

	// angular part
	rel := qa.Inverse().Mul(qb)
	e := utils.QuatToEulerXYZ(rel)
	target := e
	for k := 0; k < 3; k++ {
		if lo, hi, limited := limitRange(j.AngularLower[k], j.AngularUpper[k], true); limited {
			target[k] = mgl32.Clamp(target[k], lo, hi)
		}
		target[k] -= target[k] * springFraction(j.AngularStiffness[k], j.AngularDamping[k], dt, total)
	}
	if target == e {
		return
	}
	// rel = err * want, rotate err away in world space
	errRot := rel.Mul(utils.EulerXYZToQuat(target).Inverse())
	worldErr := qa.Mul(errRot).Mul(qa.Inverse())
	if b.invMass > 0 {
		fix := utils.Slerp(mgl32.QuatIdent(), worldErr.Inverse(), b.invMass/total)
		b.rot = fix.Mul(b.rot).Normalize()
	}
	if a.invMass > 0 {
		fix := utils.Slerp(mgl32.QuatIdent(), worldErr, a.invMass/total)
		a.rot = fix.Mul(a.rot).Normalize()
	}
}
