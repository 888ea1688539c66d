package model

import (
	"bytes"
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/morph"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/physics"
	"github.com/mogaika/mmd_runtime/skeleton"
	"github.com/mogaika/mmd_runtime/skinning"
)

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func nearV3(a, b mgl32.Vec3) bool {
	return near(a[0], b[0]) && near(a[1], b[1]) && near(a[2], b[2])
}

func testDesc() *Desc {
	return &Desc{
		Name: "test",
		Bones: []skeleton.BoneDesc{
			{Name: "center", Parent: -1, Rotatable: true, Movable: true, AppendParent: -1},
			{Name: "頭", Parent: 0, Position: mgl32.Vec3{0, 1, 0}, Rotatable: true, AppendParent: -1},
			{Name: "右手首", Parent: 0, Position: mgl32.Vec3{1, 1, 0}, Rotatable: true, AppendParent: -1},
		},
		Vertices: []Vertex{
			{Position: mgl32.Vec3{0, 0, 0}, Normal: mgl32.Vec3{0, 0, 1}, Weight: skinning.Bdef1(0)},
			{Position: mgl32.Vec3{0, 1, 0}, Normal: mgl32.Vec3{0, 0, 1}, UV: mgl32.Vec2{0, 1}, Weight: skinning.Bdef1(1)},
			{Position: mgl32.Vec3{1, 1, 0}, Normal: mgl32.Vec3{0, 0, 1}, UV: mgl32.Vec2{1, 1}, Weight: skinning.Bdef2(2, 0, 0.5)},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 1},
		Materials: []Material{
			{Name: "body", IndexCount: 3, Base: morph.NeutralTint(morph.MaterialResult{Diffuse: mgl32.Vec4{1, 1, 1, 1}})},
			{Name: "face_back", IndexCount: 3, Base: morph.NeutralTint(morph.MaterialResult{Diffuse: mgl32.Vec4{1, 1, 1, 1}})},
		},
		Morphs: []MorphDesc{
			{Name: "まばたき", Payload: morph.VertexOffsets{{Vertex: 1, Offset: mgl32.Vec3{0, 0, 1}}}},
			{Name: "uv_shift", Payload: morph.UVOffsets{{Vertex: 0, Channel: 0, Offset: mgl32.Vec4{0.5, 0, 0, 0}}}},
			{Name: "edge", Payload: morph.MaterialOffsets{{Material: -1, Op: morph.MaterialAdd, EdgeSize: 1}}},
		},
	}
}

func testModel(t *testing.T) *Model {
	m, err := New(testDesc(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func translationMotion(x float32) *motion.Motion {
	mot := motion.NewMotion()
	for _, frame := range []uint32{0, 60} {
		mot.BoneTrack("center").Insert(frame, motion.BoneKeyframe{Translation: mgl32.Vec3{x, 0, 0}, Orientation: mgl32.QuatIdent()})
	}
	return mot
}

func vertexAt(buf []float32, i int) mgl32.Vec3 {
	return mgl32.Vec3{buf[i*3], buf[i*3+1], buf[i*3+2]}
}

func TestNewValidatesGeometry(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(d *Desc)
	}{
		{"index out of range", func(d *Desc) { d.Indices[4] = 7 }},
		{"index count not triangles", func(d *Desc) { d.Materials[0].IndexCount = 2 }},
		{"materials overflow indices", func(d *Desc) { d.Materials[1].IndexCount = 6 }},
		{"unknown parent", func(d *Desc) { d.Bones[1].Parent = 9 }},
		{"bone morph out of range", func(d *Desc) {
			d.Morphs = append(d.Morphs, MorphDesc{Name: "bad", Payload: morph.BoneOffsets{{Bone: 5, Rotation: mgl32.QuatIdent()}}})
		}},
	} {
		d := testDesc()
		tc.modify(d)
		if _, err := New(d, nil); err == nil {
			t.Errorf("New(%s) succeeded; expected error", tc.name)
		}
	}
}

func TestTickRestPose(t *testing.T) {
	m := testModel(t)
	m.Tick(1.0 / 30)

	positions := m.Positions(nil)
	if len(positions) != 9 {
		t.Fatalf("len(Positions)=%d; expected 9", len(positions))
	}
	rest := m.OriginalPositions(nil)
	for i := 0; i < 3; i++ {
		if !nearV3(vertexAt(positions, i), vertexAt(rest, i)) {
			t.Errorf("vertex %d=%v; expected rest %v", i, vertexAt(positions, i), vertexAt(rest, i))
		}
	}
	if m.Ticks() != 1 {
		t.Errorf("Ticks()=%d; expected 1", m.Ticks())
	}
	for i, mat := range m.SkinningMatrices(nil) {
		if !mat.ApproxEqualThreshold(mgl32.Ident4(), 1e-5) {
			t.Errorf("skinning matrix %d=%v; expected identity", i, mat)
		}
	}
}

func TestLayerMotionMovesVertices(t *testing.T) {
	m := testModel(t)
	if !m.SetLayerMotion(0, translationMotion(1)) || !m.PlayLayer(0) {
		t.Fatalf("failed to start layer 0")
	}
	m.Tick(1.0 / 30)

	positions := m.Positions(nil)
	rest := m.OriginalPositions(nil)
	for i := 0; i < 3; i++ {
		expected := vertexAt(rest, i).Add(mgl32.Vec3{1, 0, 0})
		if !nearV3(vertexAt(positions, i), expected) {
			t.Errorf("vertex %d=%v; expected %v", i, vertexAt(positions, i), expected)
		}
	}
	if r := m.LastReport(); r.Layers != 1 || r.Bones != 1 {
		t.Errorf("LastReport()=%+v; expected one layer and one bone", r)
	}
	if m.SetLayerMotion(99, nil) {
		t.Errorf("SetLayerMotion(99) succeeded")
	}
}

func TestLayerZeroPrimesPose(t *testing.T) {
	m := testModel(t)
	m.SetLayerMotion(0, translationMotion(2))

	g, ok := m.GlobalTransform(0)
	if !ok {
		t.Fatalf("GlobalTransform(0) failed")
	}
	if p := g.Col(3).Vec3(); !nearV3(p, mgl32.Vec3{2, 0, 0}) {
		t.Errorf("center after SetLayerMotion=%v; expected primed (2,0,0)", p)
	}

	m.SetLayerMotion(1, translationMotion(5))
	g, _ = m.GlobalTransform(0)
	if p := g.Col(3).Vec3(); !nearV3(p, mgl32.Vec3{2, 0, 0}) {
		t.Errorf("center after layer 1 motion=%v; expected untouched (2,0,0)", p)
	}
}

func TestBoneOverride(t *testing.T) {
	m := testModel(t)
	if m.SetBoneOverride(10, mgl32.Vec3{}, mgl32.QuatIdent()) {
		t.Errorf("SetBoneOverride(10) succeeded")
	}
	m.SetLayerMotion(0, translationMotion(1))
	m.PlayLayer(0)
	m.SetBoneOverride(0, mgl32.Vec3{0, 2, 0}, mgl32.QuatIdent())
	m.Tick(1.0 / 30)

	if p := vertexAt(m.Positions(nil), 0); !nearV3(p, mgl32.Vec3{0, 2, 0}) {
		t.Errorf("overridden vertex=%v; expected (0,2,0)", p)
	}

	m.ClearBoneOverrides()
	if m.BoneOverrideCount() != 0 {
		t.Errorf("BoneOverrideCount()=%d after clear", m.BoneOverrideCount())
	}
}

func TestApplyPose(t *testing.T) {
	m := testModel(t)
	pose := &motion.Pose{
		Bones: []motion.PoseBone{
			{Name: "center", Translation: mgl32.Vec3{0, 0, 3}, Orientation: mgl32.QuatIdent()},
			{Name: "missing", Orientation: mgl32.QuatIdent()},
		},
		Morphs: []motion.PoseMorph{{Name: "まばたき", Weight: 1}, {Name: "nope", Weight: 1}},
	}
	bones, morphs := m.ApplyPose(pose)
	if bones != 1 || morphs != 1 {
		t.Errorf("ApplyPose()=(%d,%d); expected (1,1)", bones, morphs)
	}
	m.Tick(0)
	if p := vertexAt(m.Positions(nil), 0); !nearV3(p, mgl32.Vec3{0, 0, 3}) {
		t.Errorf("vertex 0=%v; expected (0,0,3)", p)
	}
	if p := vertexAt(m.MorphedPositions(nil), 1); !nearV3(p, mgl32.Vec3{0, 1, 1}) {
		t.Errorf("morphed vertex 1=%v; expected (0,1,1)", p)
	}
}

func TestUVMorphRestores(t *testing.T) {
	m := testModel(t)
	m.SetMorphWeightByName("uv_shift", 1)
	m.Tick(0)
	if uvs := m.UVs(nil); !near(uvs[0], 0.5) {
		t.Errorf("uv 0 with morph=%v; expected 0.5", uvs[0])
	}
	m.SetMorphWeightByName("uv_shift", 0)
	m.Tick(0)
	if uvs := m.UVs(nil); uvs[0] != 0 || uvs[3] != 1 {
		t.Errorf("uvs after morph off=%v; expected base", uvs)
	}
	if d := m.AdditionalUVDeltas(1); d != nil {
		t.Errorf("AdditionalUVDeltas(1)=%v; expected nil", d)
	}
}

func TestMaterialResultsFlat(t *testing.T) {
	m := testModel(t)
	m.SetMorphWeightByName("edge", 1)
	m.Tick(0)

	flat := m.MaterialResultsFlat(nil)
	if len(flat) != 2*MaterialResultFloats {
		t.Fatalf("len(MaterialResultsFlat)=%d; expected %d", len(flat), 2*MaterialResultFloats)
	}
	// diffuse 4, specular 3, strength 1, ambient 3, edge color 4, then edge size
	for i := 0; i < 2; i++ {
		if edge := flat[i*MaterialResultFloats+15]; !near(edge, 1) {
			t.Errorf("material %d edge size=%v; expected 1", i, edge)
		}
		if tint := flat[i*MaterialResultFloats+16]; !near(tint, 1) {
			t.Errorf("material %d texture tint=%v; expected 1", i, tint)
		}
	}
}

func TestBlinker(t *testing.T) {
	var b blinker
	b.init(1, 0.2, rand.New(rand.NewSource(1)))
	b.morph = 0
	if _, ok := b.update(1); ok {
		t.Errorf("disabled blinker touched morph")
	}
	b.setEnabled(true)
	b.timer = 0

	if _, ok := b.update(0.01); ok {
		t.Errorf("blink start touched morph")
	}
	w, ok := b.update(0.1)
	if !ok || !near(w, 1) {
		t.Errorf("blink middle=(%v,%v); expected (1,true)", w, ok)
	}
	w, ok = b.update(0.1)
	if !ok || w != 0 {
		t.Errorf("blink end=(%v,%v); expected (0,true)", w, ok)
	}
	if b.blinking || b.timer < 0.7 || b.timer > 1.3 {
		t.Errorf("after blink blinking=%v timer=%v; expected waiting in [0.7,1.3]", b.blinking, b.timer)
	}
}

func TestBlinkParamsClamp(t *testing.T) {
	m := testModel(t)
	m.SetBlinkParams(0.1, 2)
	if interval, duration := m.BlinkParams(); interval != minBlinkInterval || duration != maxBlinkDuration {
		t.Errorf("BlinkParams()=(%v,%v); expected (%v,%v)", interval, duration, minBlinkInterval, maxBlinkDuration)
	}
	if !m.HasBlinkMorph() {
		t.Errorf("blink morph not found")
	}
}

func TestAutoBlinkDrivesMorph(t *testing.T) {
	m := testModel(t)
	m.SetBlinkParams(1, 0.2)
	m.SetAutoBlinkEnabled(true)
	m.blink.timer = 0

	m.Tick(0.01)
	m.Tick(0.1)
	blink, _ := m.FindMorph("まばたき")
	if w, _ := m.MorphWeight(blink); !near(w, 1) {
		t.Errorf("blink weight in the middle=%v; expected 1", w)
	}
}

func TestEyeAngleClamp(t *testing.T) {
	m := testModel(t)
	m.SetEyeMaxAngle(0.3)
	m.SetEyeAngle(1, -1)
	if a := m.EyeAngle(); !near(a[0], 0.3) || !near(a[1], -0.3) {
		t.Errorf("EyeAngle()=%v; expected (0.3,-0.3)", a)
	}
	m.SetEyeMaxAngle(5)
	if a := m.EyeMaxAngle(); a != 1 {
		t.Errorf("EyeMaxAngle()=%v; expected 1", a)
	}
}

func TestHeadAngle(t *testing.T) {
	m := testModel(t)
	if !m.HasHeadBone() {
		t.Fatalf("head bone not found")
	}
	m.SetHeadAngle(0, math.Pi/2, 0)
	m.Tick(0)

	g, _ := m.GlobalTransform(1)
	if v := g.Mul4x1(mgl32.Vec4{1, 0, 0, 0}).Vec3(); !nearV3(v, mgl32.Vec3{0, 0, -1}) {
		t.Errorf("head x axis=%v; expected (0,0,-1)", v)
	}
	if p := g.Col(3).Vec3(); !nearV3(p, mgl32.Vec3{0, 1, 0}) {
		t.Errorf("head position=%v; expected (0,1,0)", p)
	}
}

func TestTransition(t *testing.T) {
	m := testModel(t)
	m.SetLayerMotion(0, translationMotion(0))
	m.PlayLayer(0)
	m.Tick(1.0 / 30)

	if !m.TransitionLayerTo(0, translationMotion(2), 1) {
		t.Fatalf("TransitionLayerTo failed")
	}
	if m.TransitionLayerTo(42, nil, 1) {
		t.Errorf("TransitionLayerTo(42) succeeded")
	}

	m.Tick(0.5)
	if x := m.SkinningMatrices(nil)[0][12]; !near(x, 1) {
		t.Errorf("blended x at half=%v; expected 1", x)
	}
	if !m.IsTransitioning() {
		t.Errorf("transition finished early")
	}
	m.Tick(0.6)
	if x := m.SkinningMatrices(nil)[0][12]; !near(x, 2) {
		t.Errorf("x after transition=%v; expected 2", x)
	}
	if m.IsTransitioning() {
		t.Errorf("transition still running")
	}
}

func TestMaterialVisibility(t *testing.T) {
	m := testModel(t)
	if n := m.SetMaterialVisibleByName("face", false); n != 1 {
		t.Errorf("SetMaterialVisibleByName(face)=%d; expected 1", n)
	}
	if m.MaterialVisible(1) || !m.MaterialVisible(0) {
		t.Errorf("visibility=%v,%v; expected true,false", m.MaterialVisible(0), m.MaterialVisible(1))
	}
	if !m.MaterialVisible(99) {
		t.Errorf("MaterialVisible(99)=false; expected true")
	}
	if m.SetMaterialVisible(-1, false) {
		t.Errorf("SetMaterialVisible(-1) succeeded")
	}
	m.SetAllMaterialsVisible(true)
	if !m.MaterialVisible(1) {
		t.Errorf("material 1 hidden after SetAllMaterialsVisible")
	}

	subs := m.Submeshes()
	if len(subs) != 2 || subs[1].Begin != 3 || subs[1].Count != 3 {
		t.Errorf("Submeshes()=%+v", subs)
	}
}

func TestHandMatrices(t *testing.T) {
	m := testModel(t)
	m.Tick(0)
	if p := m.RightHandMatrix().Col(3).Vec3(); !nearV3(p, mgl32.Vec3{1, 1, 0}) {
		t.Errorf("right hand=%v; expected (1,1,0)", p)
	}
	if h := m.LeftHandMatrix(); h != mgl32.Ident4() {
		t.Errorf("left hand=%v; expected identity", h)
	}
}

func TestGPUWeights(t *testing.T) {
	m := testModel(t)
	indices, weights := m.BoneIndices(), m.BoneWeights()
	if len(indices) != 12 || len(weights) != 12 {
		t.Fatalf("gpu weights len=%d,%d; expected 12", len(indices), len(weights))
	}
	for i, tc := range []struct {
		bones   [4]int32
		weights [4]float32
	}{
		{[4]int32{0, -1, -1, -1}, [4]float32{1, 0, 0, 0}},
		{[4]int32{1, -1, -1, -1}, [4]float32{1, 0, 0, 0}},
		{[4]int32{2, 0, -1, -1}, [4]float32{0.5, 0.5, 0, 0}},
	} {
		for j := 0; j < 4; j++ {
			if indices[i*4+j] != tc.bones[j] || weights[i*4+j] != tc.weights[j] {
				t.Errorf("vertex %d slot %d=(%d,%v); expected (%d,%v)",
					i, j, indices[i*4+j], weights[i*4+j], tc.bones[j], tc.weights[j])
			}
		}
	}
}

func TestPhysicsLifecycle(t *testing.T) {
	m := testModel(t)
	if ok, err := m.InitPhysics(nil); ok || err != nil {
		t.Errorf("InitPhysics without bodies=(%v,%v); expected (false,nil)", ok, err)
	}

	d := testDesc()
	d.Bodies = []physics.RigidBodyDesc{
		{Name: "root", Bone: 0, Mode: physics.Kinematic, Shape: physics.ShapeSphere, Size: mgl32.Vec3{0.5, 0, 0}, Mass: 1},
		{Name: "hand", Bone: 2, Mode: physics.Dynamic, Shape: physics.ShapeSphere, Size: mgl32.Vec3{0.2, 0, 0}, Position: mgl32.Vec3{1, 1, 0}, Mass: 1},
	}
	d.Joints = []physics.JointDesc{{Name: "j", BodyA: 0, BodyB: 1, Position: mgl32.Vec3{1, 1, 0}}}
	m, err := New(d, nil)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.InitPhysics(nil)
	if !ok || err != nil {
		t.Fatalf("InitPhysics=(%v,%v); expected (true,nil)", ok, err)
	}
	if !m.PhysicsEnabled() || m.DynamicBoneCount() != 1 {
		t.Errorf("PhysicsEnabled()=%v DynamicBoneCount()=%d", m.PhysicsEnabled(), m.DynamicBoneCount())
	}
	for i := 0; i < 10; i++ {
		m.Tick(1.0 / 60)
	}
	info, ok := m.PhysicsDebugInfo()
	if !ok || len(info.Bodies) != 2 {
		t.Errorf("PhysicsDebugInfo() bodies=%d ok=%v", len(info.Bodies), ok)
	}
	m.SetPhysicsEnabled(false)
	if m.PhysicsEnabled() {
		t.Errorf("physics still enabled")
	}
	m.ResetPhysics()
}

func TestSetPositionAndYaw(t *testing.T) {
	m := testModel(t)
	m.SetPositionAndYaw(1, 2, 3, math.Pi/2)
	tr := m.Transform()
	if !nearV3(tr.Col(3).Vec3(), mgl32.Vec3{1, 2, 3}) {
		t.Errorf("transform position=%v", tr.Col(3).Vec3())
	}
	if v := tr.Mul4x1(mgl32.Vec4{1, 0, 0, 0}).Vec3(); !nearV3(v, mgl32.Vec3{0, 0, 1}) {
		t.Errorf("transform x axis=%v; expected (0,0,1)", v)
	}
}

func TestInfo(t *testing.T) {
	m := testModel(t)
	m.SetMorphWeightByName("まばたき", 0.5)
	info := m.Info()
	if info.Bones != 3 || info.Vertices != 3 || info.Morphs != 3 || len(info.ActiveMorphs) != 1 {
		t.Errorf("Info()=%+v", info)
	}
	if _, err := json.Marshal(info); err != nil {
		t.Errorf("json.Marshal(Info)=%v", err)
	}
	if bones := m.Bones(); len(bones) != 3 || bones[2].Name != "右手首" || bones[2].Parent != 0 {
		t.Errorf("Bones()=%+v", bones)
	}
}

func TestExport(t *testing.T) {
	m := testModel(t)
	m.Tick(0)
	for _, posed := range []bool{false, true} {
		var buf bytes.Buffer
		if err := m.ExportGLTF(&buf, posed); err != nil {
			t.Errorf("ExportGLTF(posed=%v)=%v", posed, err)
		} else if !bytes.HasPrefix(buf.Bytes(), []byte("glTF")) {
			t.Errorf("ExportGLTF(posed=%v) is not glb", posed)
		}

		buf.Reset()
		if err := m.ExportFBX(&buf, posed); err != nil {
			t.Errorf("ExportFBX(posed=%v)=%v", posed, err)
		} else if buf.Len() == 0 {
			t.Errorf("ExportFBX(posed=%v) wrote nothing", posed)
		}
	}

	m.SetAllMaterialsVisible(false)
	if err := m.ExportGLTF(&bytes.Buffer{}, false); err == nil {
		t.Errorf("ExportGLTF of hidden model succeeded")
	}
}
