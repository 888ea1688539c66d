package utils

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const Epsilon = 1e-6

// EulerXYZToQuat builds Rx(e.x) * Ry(e.y) * Rz(e.z), input in radians
func EulerXYZToQuat(e mgl32.Vec3) mgl32.Quat {
	qx := mgl32.QuatRotate(e[0], mgl32.Vec3{1, 0, 0})
	qy := mgl32.QuatRotate(e[1], mgl32.Vec3{0, 1, 0})
	qz := mgl32.QuatRotate(e[2], mgl32.Vec3{0, 0, 1})
	return qx.Mul(qy).Mul(qz).Normalize()
}

// QuatToEulerXYZ is the inverse of EulerXYZToQuat
func QuatToEulerXYZ(q mgl32.Quat) (e mgl32.Vec3) {
	m := q.Normalize().Mat4()
	r02 := mgl32.Clamp(m.At(0, 2), -1, 1)
	e[1] = float32(math.Asin(float64(r02)))
	if math.Abs(float64(r02)) < 0.9999999 {
		e[0] = float32(math.Atan2(float64(-m.At(1, 2)), float64(m.At(2, 2))))
		e[2] = float32(math.Atan2(float64(-m.At(0, 1)), float64(m.At(0, 0))))
	} else {
		// gimbal lock, z folded into x
		e[0] = float32(math.Atan2(float64(m.At(2, 1)), float64(m.At(1, 1))))
		e[2] = 0
	}
	return e
}

// EulerYXZToQuat builds Ry * Rx * Rz, the rigid body orientation order
func EulerYXZToQuat(e mgl32.Vec3) mgl32.Quat {
	qx := mgl32.QuatRotate(e[0], mgl32.Vec3{1, 0, 0})
	qy := mgl32.QuatRotate(e[1], mgl32.Vec3{0, 1, 0})
	qz := mgl32.QuatRotate(e[2], mgl32.Vec3{0, 0, 1})
	return qy.Mul(qx).Mul(qz).Normalize()
}

// EulerZYXToQuat builds Rz * Ry * Rx, the joint orientation order
func EulerZYXToQuat(e mgl32.Vec3) mgl32.Quat {
	qx := mgl32.QuatRotate(e[0], mgl32.Vec3{1, 0, 0})
	qy := mgl32.QuatRotate(e[1], mgl32.Vec3{0, 1, 0})
	qz := mgl32.QuatRotate(e[2], mgl32.Vec3{0, 0, 1})
	return qz.Mul(qy).Mul(qx).Normalize()
}

func Lerp(a, b, t float32) float32 {
	return a*(1-t) + b*t
}

func LerpV3(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return mgl32.Vec3{Lerp(a[0], b[0], t), Lerp(a[1], b[1], t), Lerp(a[2], b[2], t)}
}

// Slerp takes the shortest arc, unlike mgl32.QuatSlerp
func Slerp(a, b mgl32.Quat, t float32) mgl32.Quat {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl32.QuatSlerp(a, b, t)
}

// SafeNormalize returns zero vector for degenerate input instead of NaN
func SafeNormalize(v mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l < Epsilon {
		return mgl32.Vec3{}
	}
	return v.Mul(1 / l)
}

func Clamp01(v float32) float32 {
	return mgl32.Clamp(v, 0, 1)
}

func Smoothstep(t float32) float32 {
	t = Clamp01(t)
	return t * t * (3 - 2*t)
}

func Position(m mgl32.Mat4) mgl32.Vec3 {
	return m.Col(3).Vec3()
}

// Decompose splits rigid transform into rotation and translation, scale is dropped
func Decompose(m mgl32.Mat4) (mgl32.Quat, mgl32.Vec3) {
	x := SafeNormalize(m.Col(0).Vec3())
	y := SafeNormalize(m.Col(1).Vec3())
	z := SafeNormalize(m.Col(2).Vec3())
	rot := mgl32.Mat4FromCols(x.Vec4(0), y.Vec4(0), z.Vec4(0), mgl32.Vec4{0, 0, 0, 1})
	return mgl32.Mat4ToQuat(rot).Normalize(), Position(m)
}

func RotationTranslation(q mgl32.Quat, t mgl32.Vec3) mgl32.Mat4 {
	m := q.Normalize().Mat4()
	m.SetCol(3, t.Vec4(1))
	return m
}

func LerpMat4(a, b mgl32.Mat4, t float32) (r mgl32.Mat4) {
	for i := range r {
		r[i] = Lerp(a[i], b[i], t)
	}
	return r
}

// InvZ mirrors transform over the z plane: S * m * S where S = scale(1, 1, -1)
func InvZ(m mgl32.Mat4) mgl32.Mat4 {
	s := mgl32.Scale3D(1, 1, -1)
	return s.Mul4(m).Mul4(s)
}
