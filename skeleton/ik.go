package skeleton

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/utils"
)

const (
	ikMinAngle     = 1e-3 * math.Pi / 180
	ikMinLengthSqr = 1e-6
)

type IKSolver struct {
	Bone    int
	Chain   *IKChain
	Enabled bool

	// filled by last solve, for debug output
	LastIterations int
	LastDistance   float32
}

func clampEuler(q mgl32.Quat, min, max mgl32.Vec3) mgl32.Quat {
	e := utils.QuatToEulerXYZ(q)
	for i := range e {
		e[i] = mgl32.Clamp(e[i], min[i], max[i])
	}
	return utils.EulerXYZToQuat(e)
}

func (s *Skeleton) refreshLink(i int) {
	s.Bones[i].updateLocal()
	s.propagate(i)
}

func (s *Skeleton) solve(solver *IKSolver) {
	chain := solver.Chain
	if !solver.Enabled {
		for _, l := range chain.Links {
			if b := &s.Bones[l.Bone]; b.EnableIK {
				b.EnableIK = false
				b.IKRotate = mgl32.QuatIdent()
				s.refreshLink(l.Bone)
			}
		}
		solver.LastIterations = 0
		return
	}

	for _, l := range chain.Links {
		b := &s.Bones[l.Bone]
		b.IKRotate = mgl32.QuatIdent()
		b.EnableIK = true
		s.refreshLink(l.Bone)
	}

	handle := s.Bones[solver.Bone].GlobalPosition()
	best := float32(math.MaxFloat32)
	saved := make([]mgl32.Quat, len(chain.Links))
	for i := range saved {
		saved[i] = mgl32.QuatIdent()
	}

	solver.LastIterations = 0
	for it := 0; it < chain.Iterations; it++ {
		s.solveStep(solver, handle)
		solver.LastIterations = it + 1

		dist := s.Bones[chain.Target].GlobalPosition().Sub(handle).Len()
		if dist < best {
			best = dist
			for i, l := range chain.Links {
				saved[i] = s.Bones[l.Bone].IKRotate
			}
			continue
		}

		for i, l := range chain.Links {
			s.Bones[l.Bone].IKRotate = saved[i]
			s.refreshLink(l.Bone)
		}
		break
	}
	solver.LastDistance = best
}

func (s *Skeleton) solveStep(solver *IKSolver, handle mgl32.Vec3) {
	chain := solver.Chain
	for _, l := range chain.Links {
		if l.Bone == chain.Target {
			continue
		}
		link := &s.Bones[l.Bone]

		effector := s.Bones[chain.Target].GlobalPosition()
		inv := link.Global.Inv()
		ikVec := utils.SafeNormalize(mgl32.TransformCoordinate(handle, inv))
		targetVec := utils.SafeNormalize(mgl32.TransformCoordinate(effector, inv))
		if ikVec.Dot(ikVec) < ikMinLengthSqr || targetVec.Dot(targetVec) < ikMinLengthSqr {
			continue
		}

		dot := mgl32.Clamp(targetVec.Dot(ikVec), -1, 1)
		angle := float32(math.Acos(float64(dot)))
		if angle < ikMinAngle {
			continue
		}
		angle = mgl32.Clamp(angle, -chain.LimitAngle, chain.LimitAngle)

		axis := utils.SafeNormalize(targetVec.Cross(ikVec))
		if axis.Dot(axis) < ikMinLengthSqr {
			continue
		}

		rot := link.IKRotate.Mul(link.AnimRotate).Mul(mgl32.QuatRotate(angle, axis))
		if l.HasLimits {
			rot = clampEuler(rot, l.LimitMin, l.LimitMax)
		}
		link.IKRotate = rot.Mul(link.AnimRotate.Inverse())
		s.refreshLink(l.Bone)
	}
}
