package physics

import (
	"math"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/config"
	"github.com/mogaika/mmd_runtime/skeleton"
	"github.com/mogaika/mmd_runtime/utils"
)

func near(a, b mgl32.Vec3, eps float32) bool {
	return a.Sub(b).Len() <= eps
}

// center -> hair -> tip, body on center follows animation, body on hair is simulated
func testRig(t *testing.T, mode Mode) (*skeleton.Skeleton, []RigidBodyDesc, []JointDesc) {
	skel, err := skeleton.NewSkeleton([]skeleton.BoneDesc{
		{Name: "center", Parent: -1},
		{Name: "hair", Parent: 0, Position: mgl32.Vec3{0, 1, 0}},
		{Name: "tip", Parent: 1, Position: mgl32.Vec3{0, 0.5, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	bodies := []RigidBodyDesc{
		{Name: "center", Bone: 0, Mode: Kinematic, Shape: ShapeSphere, Size: mgl32.Vec3{0.2, 0, 0}, Mass: 1},
		{Name: "hair", Bone: 1, Mode: mode, Shape: ShapeCapsule, Size: mgl32.Vec3{0.1, 0.5, 0}, Position: mgl32.Vec3{0, 1, 0}, Mass: 1},
	}
	joints := []JointDesc{
		{
			Name: "center-hair", BodyA: 0, BodyB: 1, Position: mgl32.Vec3{0, 1, 0},
			AngularLower: mgl32.Vec3{-0.5, -0.5, -0.5}, AngularUpper: mgl32.Vec3{0.5, 0.5, 0.5},
		},
	}
	return skel, bodies, joints
}

func tick(skel *skeleton.Skeleton, p *Physics, dt float32, skip []int) {
	skel.BeginUpdate()
	skel.UpdateTransforms(false)
	p.Update(skel, dt, mgl32.Ident4(), skip)
	skel.UpdateTransforms(true)
}

func TestPhysicsOwnership(t *testing.T) {
	skel, bodies, joints := testRig(t, Dynamic)
	p, err := New(config.DefaultPhysics(), nil, bodies, joints, skel)
	if err != nil {
		t.Fatal(err)
	}

	tick(skel, p, 1.0/60, nil)
	if owned, expected := skel.PhysicsOwned(), p.DynamicBones(); !reflect.DeepEqual(owned, expected) {
		t.Errorf("PhysicsOwned()=%v; expected %v", owned, expected)
	}
	skel.ClearPhysicsOwned()
	if owned := skel.PhysicsOwned(); len(owned) != 0 {
		t.Errorf("PhysicsOwned() after clear=%v; expected empty", owned)
	}

	tick(skel, p, 1.0/60, []int{1})
	if owned := skel.PhysicsOwned(); len(owned) != 0 {
		t.Errorf("PhysicsOwned() with skipped bone=%v; expected empty", owned)
	}
}

func TestChildFollowsSimulatedBone(t *testing.T) {
	skel, bodies, joints := testRig(t, Dynamic)
	p, err := New(config.DefaultPhysics(), nil, bodies, joints, skel)
	if err != nil {
		t.Fatal(err)
	}
	p.Engine().SetVelocity(1, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{})
	for i := 0; i < 10; i++ {
		tick(skel, p, 1.0/60, nil)
		skel.ClearPhysicsOwned()
	}
	hair := utils.Position(skel.GlobalTransform(1))
	tip := utils.Position(skel.GlobalTransform(2))
	// tip keeps rest length to simulated parent
	if d := tip.Sub(hair).Len(); math.Abs(float64(d-0.5)) > 1e-4 {
		t.Errorf("tip to hair distance=%v; expected 0.5", d)
	}
	if !near(tip, skel.GlobalTransform(1).Mul4(mgl32.Translate3D(0, 0.5, 0)).Col(3).Vec3(), 1e-4) {
		t.Errorf("tip=%v does not follow hair %v", tip, hair)
	}
}

func TestDynamicWithBonePosition(t *testing.T) {
	skel, bodies, _ := testRig(t, DynamicWithBonePosition)
	cfg := config.DefaultPhysics()
	cfg.JointsEnabled = false
	p, err := New(cfg, nil, bodies, nil, skel)
	if err != nil {
		t.Fatal(err)
	}
	if p.JointCount() != 0 {
		t.Errorf("JointCount()=%d with joints disabled", p.JointCount())
	}
	p.Engine().SetVelocity(1, mgl32.Vec3{0, -1, 0}, mgl32.Vec3{0, 0, 1})
	tick(skel, p, 0.1, nil)

	if pos := utils.Position(skel.GlobalTransform(1)); !near(pos, mgl32.Vec3{0, 1, 0}, 1e-5) {
		t.Errorf("bone position=%v; expected animated (0,1,0)", pos)
	}
	rot, _ := utils.Decompose(skel.GlobalTransform(1))
	if mgl32.Abs(rot.W) > 1-1e-6 {
		t.Errorf("bone rotation=%v; expected simulated rotation", rot)
	}
}

func TestKinematicFollowsBone(t *testing.T) {
	skel, bodies, joints := testRig(t, Dynamic)
	bodies[0].Position = mgl32.Vec3{0, 0.2, 0}
	p, err := New(config.DefaultPhysics(), nil, bodies, joints, skel)
	if err != nil {
		t.Fatal(err)
	}

	skel.BeginUpdate()
	skel.SetBoneTranslation(0, mgl32.Vec3{2, 0, 0})
	skel.UpdateTransforms(false)
	p.Update(skel, 0.5, mgl32.Ident4(), nil)

	if pos := utils.Position(p.Engine().Pose(0)); !near(pos, mgl32.Vec3{2, 0.2, 0}, 1e-5) {
		t.Errorf("kinematic body at %v; expected (2,0.2,0)", pos)
	}

	// second sync derives velocity from target difference
	skel.BeginUpdate()
	skel.SetBoneTranslation(0, mgl32.Vec3{3, 0, 0})
	skel.UpdateTransforms(false)
	p.SyncKinematic(skel, 0.5, mgl32.Ident4())
	if lin, _ := p.Engine().Velocity(0); !near(lin, mgl32.Vec3{2, 0, 0}, 1e-4) {
		t.Errorf("kinematic velocity=%v; expected (2,0,0)", lin)
	}
}

func TestStepSubsteps(t *testing.T) {
	skel, bodies, joints := testRig(t, Dynamic)
	cfg := config.DefaultPhysics()
	w := NewWorld(cfg.SolverIteration)
	p, err := New(cfg, w, bodies, joints, skel)
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		dt       float32
		substeps int
	}{
		{0, 0},
		{0.01, 1},
		{1.0 / 60, 1},
		{0.04, 3},
		{1, 4},
	} {
		before := w.Elapsed()
		if n := p.Step(tc.dt); n != tc.substeps {
			t.Errorf("Step(%v)=%d; expected %d", tc.dt, n, tc.substeps)
		}
		if d := w.Elapsed() - before; math.Abs(d-float64(tc.dt)) > 1e-5 {
			t.Errorf("Step(%v) simulated %v", tc.dt, d)
		}
	}
}

func TestVelocityClamp(t *testing.T) {
	skel, bodies, _ := testRig(t, Dynamic)
	cfg := config.DefaultPhysics()
	cfg.JointsEnabled = false
	p, err := New(cfg, nil, bodies, nil, skel)
	if err != nil {
		t.Fatal(err)
	}
	p.Engine().SetVelocity(1, mgl32.Vec3{100, 0, 0}, mgl32.Vec3{0, 50, 0})
	p.Step(1.0 / 60)
	lin, ang := p.Engine().Velocity(1)
	if lin.Len() > cfg.MaxLinearVelocity+1e-5 || ang.Len() > cfg.MaxAngularVelocity+1e-5 {
		t.Errorf("velocity after clamp lin=%v ang=%v", lin, ang)
	}
}

func TestGravity(t *testing.T) {
	skel, bodies, _ := testRig(t, Dynamic)
	cfg := config.DefaultPhysics()
	cfg.JointsEnabled = false
	cfg.MaxLinearVelocity = 0
	p, err := New(cfg, nil, bodies, nil, skel)
	if err != nil {
		t.Fatal(err)
	}
	p.Step(0.5)
	if y := utils.Position(p.Engine().Pose(1))[1]; y >= 1 {
		t.Errorf("dynamic body y=%v; expected to fall below 1", y)
	}
	if y := utils.Position(p.Engine().Pose(0))[1]; y != 0 {
		t.Errorf("kinematic body y=%v; expected 0", y)
	}

	p.Reset()
	if pos := utils.Position(p.Engine().Pose(1)); !near(pos, mgl32.Vec3{0, 1, 0}, 1e-5) {
		t.Errorf("body after Reset at %v; expected (0,1,0)", pos)
	}
	if lin, _ := p.Engine().Velocity(1); lin != (mgl32.Vec3{}) {
		t.Errorf("velocity after Reset=%v", lin)
	}
}

func TestInertiaBias(t *testing.T) {
	skel, bodies, _ := testRig(t, Dynamic)
	cfg := config.DefaultPhysics()
	cfg.JointsEnabled = false
	p, err := New(cfg, nil, bodies, nil, skel)
	if err != nil {
		t.Fatal(err)
	}
	p.SyncKinematic(skel, 0.1, mgl32.Ident4())
	p.SyncKinematic(skel, 0.1, mgl32.Translate3D(0, 0, 0.05))
	if lin, _ := p.Engine().Velocity(1); !near(lin, mgl32.Vec3{0, 0, -0.5}, 1e-4) {
		t.Errorf("dynamic velocity=%v; expected (0,0,-0.5)", lin)
	}
	if lin, _ := p.Engine().Velocity(0); lin != (mgl32.Vec3{}) {
		t.Errorf("kinematic velocity=%v; expected zero", lin)
	}
}

func TestNewErrors(t *testing.T) {
	skel, bodies, joints := testRig(t, Dynamic)
	bodies[1].Bone = 5
	if _, err := New(config.DefaultPhysics(), nil, bodies, joints, skel); err == nil {
		t.Errorf("New succeeded with invalid bone")
	}

	skel, bodies, joints = testRig(t, Dynamic)
	joints[0].BodyB = 9
	p, err := New(config.DefaultPhysics(), nil, bodies, joints, skel)
	if err != nil {
		t.Fatal(err)
	}
	if p.JointCount() != 0 {
		t.Errorf("JointCount()=%d; expected invalid joint skipped", p.JointCount())
	}
}

func TestIsBustName(t *testing.T) {
	for _, tc := range []struct {
		name string
		bust bool
	}{
		{"左胸", true},
		{"おっぱい", true},
		{"BustL", true},
		{"髪", false},
		{"skirt", false},
	} {
		if r := IsBustName(tc.name); r != tc.bust {
			t.Errorf("IsBustName(%q)=%v; expected %v", tc.name, r, tc.bust)
		}
	}
}

func TestDebugInfo(t *testing.T) {
	skel, bodies, joints := testRig(t, Dynamic)
	p, err := New(config.DefaultPhysics(), nil, bodies, joints, skel)
	if err != nil {
		t.Fatal(err)
	}
	info := p.DebugInfo()
	if info.Kinematic != 1 || info.Dynamic != 1 || len(info.Joints) != 1 || len(info.Bodies) != 2 {
		t.Errorf("DebugInfo()=%+v", info)
	}
	if info.Bodies[1].Mode != Dynamic || info.Bodies[1].Shape != "capsule" {
		t.Errorf("DebugInfo().Bodies[1]=%+v", info.Bodies[1])
	}
}
