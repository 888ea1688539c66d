package motion

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/japanese"
)

func sjis(t *testing.T, s string, size int) []byte {
	b, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("Failed to encode %q: %v", s, err)
	}
	r := make([]byte, size)
	copy(r, b)
	return r
}

func linearInterp() [64]byte {
	var interp [64]byte
	for i := 0; i < 4; i++ {
		interp[i] = 20
		interp[i+4] = 20
		interp[i+8] = 107
		interp[i+12] = 107
	}
	return interp
}

// buildVMD writes minimal file: one bone keyframe, one morph keyframe, nothing after
func buildVMD(t *testing.T, withCamera bool) []byte {
	var b bytes.Buffer
	var header [30]byte
	copy(header[:], VMD_MAGIC)
	b.Write(header[:])
	b.Write(sjis(t, "初音ミク", 20))

	binary.Write(&b, binary.LittleEndian, uint32(1))
	b.Write(sjis(t, "センター", 15))
	binary.Write(&b, binary.LittleEndian, uint32(7))
	binary.Write(&b, binary.LittleEndian, [3]float32{1, 2, 3})
	binary.Write(&b, binary.LittleEndian, [4]float32{0, 0, 0.6, 0.8})
	binary.Write(&b, binary.LittleEndian, linearInterp())

	binary.Write(&b, binary.LittleEndian, uint32(1))
	b.Write(sjis(t, "まばたき", 15))
	binary.Write(&b, binary.LittleEndian, uint32(3))
	binary.Write(&b, binary.LittleEndian, float32(0.75))

	if withCamera {
		binary.Write(&b, binary.LittleEndian, uint32(1))
		binary.Write(&b, binary.LittleEndian, uint32(0))
		binary.Write(&b, binary.LittleEndian, float32(-45))
		binary.Write(&b, binary.LittleEndian, [3]float32{0, 10, 2})
		binary.Write(&b, binary.LittleEndian, [3]float32{0.1, 0.2, 0.3})
		var interp [24]byte
		binary.Write(&b, binary.LittleEndian, interp)
		binary.Write(&b, binary.LittleEndian, uint32(30))
		b.WriteByte(0)
	}
	return b.Bytes()
}

func TestParseVMDMinimal(t *testing.T) {
	m, err := ParseVMD(bytes.NewReader(buildVMD(t, false)))
	if err != nil {
		t.Fatal(err)
	}
	if m.ModelName != "初音ミク" {
		t.Errorf("ModelName=%q; expected %q", m.ModelName, "初音ミク")
	}
	kf, ok := m.BoneTracks["センター"].FindExact(7)
	if !ok {
		t.Fatalf("bone keyframe 7 not found, tracks %v", m.BoneTracks)
	}
	if kf.Translation != (mgl32.Vec3{1, 2, -3}) {
		t.Errorf("Translation=%v; expected (1,2,-3)", kf.Translation)
	}
	expected := mgl32.Quat{W: -0.8, V: mgl32.Vec3{0, 0, -0.6}}
	if !kf.Orientation.ApproxEqualThreshold(expected, 1e-5) {
		t.Errorf("Orientation=%v; expected %v", kf.Orientation, expected)
	}
	if kf.PhysicsDisabled {
		t.Errorf("PhysicsDisabled=true; expected false")
	}
	if !kf.CurveR.IsLinear() {
		t.Errorf("CurveR=%v; expected linear", kf.CurveR)
	}
	if w, ok := m.FindMorphWeight("まばたき", 3, 0); !ok || w != 0.75 {
		t.Errorf("FindMorphWeight=%v,%v; expected 0.75", w, ok)
	}
	if m.Camera != nil {
		t.Errorf("Camera track present in file without camera section")
	}
	if m.Duration() != 7 {
		t.Errorf("Duration()=%d; expected 7", m.Duration())
	}
}

func TestParseVMDCamera(t *testing.T) {
	m, err := ParseVMD(bytes.NewReader(buildVMD(t, true)))
	if err != nil {
		t.Fatal(err)
	}
	cf, ok := m.FindCamera(0, 0)
	if !ok {
		t.Fatalf("camera keyframe not found")
	}
	if cf.Distance != 45 || cf.LookAt != (mgl32.Vec3{0, 10, -2}) {
		t.Errorf("camera distance=%v lookAt=%v", cf.Distance, cf.LookAt)
	}
	if !cf.Angle.ApproxEqualThreshold(mgl32.Vec3{-0.1, -0.2, 0.3}, 1e-5) || cf.Fov != 30 || !cf.Perspective {
		t.Errorf("camera angle=%v fov=%v perspective=%v", cf.Angle, cf.Fov, cf.Perspective)
	}
}

func TestParseVMDErrors(t *testing.T) {
	full := buildVMD(t, false)
	for _, tc := range []struct {
		name  string
		data  []byte
		field string
	}{
		{"empty", nil, "header"},
		{"bad magic", append([]byte("Not a motion data file at all"), make([]byte, 40)...), "header"},
		{"truncated name", full[:40], "model name"},
		{"truncated bone", full[:60+50], "bone keyframe count"},
		{"huge count", append(append([]byte{}, full[:50]...), 0xff, 0xff, 0xff, 0x0f), "bone keyframe count"},
	} {
		_, err := ParseVMD(bytes.NewReader(tc.data))
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("%s: error %v is not ParseError", tc.name, err)
			continue
		}
		if perr.Field != tc.field {
			t.Errorf("%s: Field=%q; expected %q", tc.name, perr.Field, tc.field)
		}
	}

	_, err := ParseVMD(bytes.NewReader(full[:40]))
	if errors.Cause(err) != io.ErrUnexpectedEOF {
		t.Errorf("Cause(%v) is not io.ErrUnexpectedEOF", err)
	}
}

func TestVMDRoundTrip(t *testing.T) {
	src := NewMotion()
	src.ModelName = "テスト"
	src.BoneTrack("左腕").Insert(0, BoneKeyframe{
		Translation: mgl32.Vec3{0.5, 1, 2},
		Orientation: mgl32.QuatRotate(0.7, mgl32.Vec3{0, 0, 1}),
		CurveX:      NewBezier(10, 20, 30, 40),
		CurveY:      LinearBezier,
		CurveZ:      NewBezier(64, 0, 64, 127),
		CurveR:      NewBezier(127, 0, 0, 127),
	})
	src.BoneTrack("左腕").Insert(30, BoneKeyframe{
		Orientation:     mgl32.QuatIdent(),
		CurveZ:          NewBezier(5, 6, 7, 8),
		CurveR:          NewBezier(9, 10, 11, 12),
		PhysicsDisabled: true,
	})
	src.MorphTrack("あ").Insert(12, 0.25)
	src.IKTrack("左足ＩＫ").Insert(5, false)
	src.IKTrack("右足ＩＫ").Insert(5, true)
	src.CameraTrack().Insert(3, CameraKeyframe{
		LookAt: mgl32.Vec3{1, 2, 3}, Angle: mgl32.Vec3{0.1, 0.2, 0.3},
		Distance: 40, Fov: 25, Perspective: true,
	})

	var buf bytes.Buffer
	if err := WriteVMD(&buf, src); err != nil {
		t.Fatal(err)
	}
	dst, err := ParseVMD(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if dst.ModelName != src.ModelName {
		t.Errorf("ModelName=%q; expected %q", dst.ModelName, src.ModelName)
	}
	for _, frame := range []uint32{0, 30} {
		a, _ := src.BoneTracks["左腕"].FindExact(frame)
		b, ok := dst.BoneTracks["左腕"].FindExact(frame)
		if !ok {
			t.Fatalf("keyframe %d lost", frame)
		}
		if !a.Translation.ApproxEqualThreshold(b.Translation, 1e-5) || !a.Orientation.ApproxEqualThreshold(b.Orientation, 1e-5) {
			t.Errorf("keyframe %d: %v != %v", frame, b, a)
		}
		if a.PhysicsDisabled != b.PhysicsDisabled {
			t.Errorf("keyframe %d PhysicsDisabled=%v; expected %v", frame, b.PhysicsDisabled, a.PhysicsDisabled)
		}
		for i, pair := range [][2]*Bezier{{a.CurveX, b.CurveX}, {a.CurveY, b.CurveY}, {a.CurveZ, b.CurveZ}, {a.CurveR, b.CurveR}} {
			if pair[0] != nil && *pair[0] != *pair[1] {
				t.Errorf("keyframe %d curve %d=%v; expected %v", frame, i, *pair[1], *pair[0])
			}
		}
	}
	if w, _ := dst.MorphTracks["あ"].FindExact(12); w != 0.25 {
		t.Errorf("morph weight=%v; expected 0.25", w)
	}
	if e, ok := dst.IsIKEnabled("左足ＩＫ", 10); !ok || e {
		t.Errorf("IsIKEnabled(左足ＩＫ)=%v,%v; expected false,true", e, ok)
	}
	if e, ok := dst.IsIKEnabled("右足ＩＫ", 10); !ok || !e {
		t.Errorf("IsIKEnabled(右足ＩＫ)=%v,%v; expected true,true", e, ok)
	}
	cam, _ := dst.Camera.FindExact(3)
	if !cam.LookAt.ApproxEqualThreshold(mgl32.Vec3{1, 2, 3}, 1e-5) || cam.Distance != 40 || cam.Fov != 25 || !cam.Perspective {
		t.Errorf("camera=%v", cam)
	}
}
