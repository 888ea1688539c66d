package utils

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

var eulerTests = []mgl32.Vec3{
	{0, 0, 0},
	{0.3, 0, 0},
	{0, -0.7, 0},
	{0, 0, 1.2},
	{0.4, -0.5, 0.6},
	{-1.1, 0.2, -0.3},
}

func TestEulerXYZRoundTrip(t *testing.T) {
	for _, e := range eulerTests {
		q := EulerXYZToQuat(e)
		back := QuatToEulerXYZ(q)
		if !back.ApproxEqualThreshold(e, 1e-4) {
			t.Errorf("QuatToEulerXYZ(EulerXYZToQuat(%v))=%v", e, back)
		}
	}
}

func TestSlerpShortestPath(t *testing.T) {
	a := mgl32.QuatIdent()
	b := mgl32.QuatRotate(0.5, mgl32.Vec3{0, 1, 0}).Scale(-1)
	mid := Slerp(a, b, 0.5)
	angle := 2 * math.Acos(math.Min(1, math.Abs(float64(mid.W))))
	if math.Abs(angle-0.25) > 1e-4 {
		t.Errorf("Slerp half angle=%v; expected 0.25", angle)
	}
	if Slerp(a, b, 0) != a || Slerp(a, b, 1) != b {
		t.Errorf("Slerp endpoints are not exact")
	}
}

func TestSafeNormalize(t *testing.T) {
	if v := SafeNormalize(mgl32.Vec3{}); v != (mgl32.Vec3{}) {
		t.Errorf("SafeNormalize(0)=%v; expected zero", v)
	}
	if v := SafeNormalize(mgl32.Vec3{0, 3, 4}); !v.ApproxEqualThreshold(mgl32.Vec3{0, 0.6, 0.8}, 1e-5) {
		t.Errorf("SafeNormalize(0,3,4)=%v", v)
	}
}

func TestDecompose(t *testing.T) {
	q := EulerXYZToQuat(mgl32.Vec3{0.2, 0.4, -0.1})
	pos := mgl32.Vec3{1, 2, 3}
	rq, rt := Decompose(RotationTranslation(q, pos))
	if !rt.ApproxEqualThreshold(pos, 1e-5) {
		t.Errorf("Decompose translation=%v; expected %v", rt, pos)
	}
	if !rq.ApproxEqualThreshold(q, 1e-5) && !rq.ApproxEqualThreshold(q.Scale(-1), 1e-5) {
		t.Errorf("Decompose rotation=%v; expected %v", rq, q)
	}
}

func TestInvZ(t *testing.T) {
	m := mgl32.Translate3D(1, 2, 3)
	if p := Position(InvZ(m)); !p.ApproxEqualThreshold(mgl32.Vec3{1, 2, -3}, 1e-5) {
		t.Errorf("InvZ translation=%v", p)
	}
}
