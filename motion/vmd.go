package motion

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/utils"
)

const (
	VMD_HEADER_SIZE        = 30
	VMD_MAGIC_LEGACY       = "Vocaloid Motion Data file"
	VMD_MAGIC              = "Vocaloid Motion Data 0002"
	VMD_MODEL_NAME_LEGACY  = 10
	VMD_MODEL_NAME         = 20
	VMD_BONE_NAME          = 15
	VMD_IK_NAME            = 20
	VMD_BONE_RECORD_SIZE   = VMD_BONE_NAME + 4 + 3*4 + 4*4 + 64
	VMD_MORPH_RECORD_SIZE  = VMD_BONE_NAME + 4 + 4
	VMD_CAMERA_RECORD_SIZE = 4 + 4 + 3*4 + 3*4 + 24 + 4 + 1
	VMD_LIGHT_RECORD_SIZE  = 4 + 3*4 + 3*4
	VMD_SHADOW_RECORD_SIZE = 4 + 1 + 4

	// written into Z and R x1 slots of the first interpolation row
	vmdPhysicsOffMarkerZ = 99
	vmdPhysicsOffMarkerR = 15
)

var vmdCurves BezierCache

type vmdReader struct {
	buf []byte
	off int
}

func (r *vmdReader) fail(field string, err error) error {
	return &ParseError{Format: "vmd", Field: field, Offset: int64(r.off), Err: err}
}

func (r *vmdReader) eof() bool {
	return r.off >= len(r.buf)
}

func (r *vmdReader) take(field string, n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, r.fail(field, io.ErrUnexpectedEOF)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *vmdReader) u32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// count reads section size, checking that stream can hold count records
func (r *vmdReader) count(field string, recordSize int) (int, error) {
	c, err := r.u32(field)
	if err != nil {
		return 0, err
	}
	if recordSize > 0 && uint64(c)*uint64(recordSize) > uint64(len(r.buf)-r.off) {
		return 0, r.fail(field, errors.Errorf("Count %d does not fit into %d remaining bytes", c, len(r.buf)-r.off))
	}
	return int(c), nil
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func vec3(b []byte) mgl32.Vec3 {
	return mgl32.Vec3{f32(b[0:]), f32(b[4:]), f32(b[8:])}
}

// flipTranslation and flipOrientation convert between file and runtime handedness,
// each is its own inverse
func flipTranslation(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v[0], v[1], -v[2]}
}

func flipOrientation(q mgl32.Quat) mgl32.Quat {
	return mgl32.Quat{W: -q.W, V: mgl32.Vec3{q.V[0], q.V[1], -q.V[2]}}
}

func ParseVMD(r io.Reader) (*Motion, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read vmd stream")
	}
	return parseVMD(data)
}

func LoadVMD(path string) (*Motion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open vmd %q", path)
	}
	m, err := parseVMD(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse vmd %q", path)
	}
	s := m.Summary()
	log.Printf("[vmd] Loaded %q: %d bone tracks, %d morph tracks, %d ik tracks, duration %d",
		path, s.BoneTracks, s.MorphTracks, s.IKTracks, s.Duration)
	return m, nil
}

func parseVMD(data []byte) (*Motion, error) {
	r := &vmdReader{buf: data}

	header, err := r.take("header", VMD_HEADER_SIZE)
	if err != nil {
		return nil, err
	}
	nameSize := VMD_MODEL_NAME
	switch {
	case bytes.HasPrefix(header, []byte(VMD_MAGIC)):
	case bytes.HasPrefix(header, []byte(VMD_MAGIC_LEGACY)):
		nameSize = VMD_MODEL_NAME_LEGACY
	default:
		r.off = 0
		return nil, r.fail("header", errors.Errorf("Unknown magic %q", utils.BytesToString(header)))
	}

	m := NewMotion()

	nameBuf, err := r.take("model name", nameSize)
	if err != nil {
		return nil, err
	}
	m.ModelName = utils.BytesToString(nameBuf)

	if err := parseVMDBones(r, m); err != nil {
		return nil, err
	}
	if err := parseVMDMorphs(r, m); err != nil {
		return nil, err
	}

	// every following section is optional, older files end here
	if r.eof() {
		return m, nil
	}
	if err := parseVMDCamera(r, m); err != nil {
		return nil, err
	}
	if r.eof() {
		return m, nil
	}
	if err := skipVMDSection(r, "light", VMD_LIGHT_RECORD_SIZE); err != nil {
		return nil, err
	}
	if r.eof() {
		return m, nil
	}
	if err := skipVMDSection(r, "self shadow", VMD_SHADOW_RECORD_SIZE); err != nil {
		return nil, err
	}
	if r.eof() {
		return m, nil
	}
	if err := parseVMDIK(r, m); err != nil {
		return nil, err
	}
	return m, nil
}

func boneCurve(interp []byte, slot int) *Bezier {
	return vmdCurves.Get(interp[slot], interp[slot+4], interp[slot+8], interp[slot+12])
}

func parseVMDBones(r *vmdReader, m *Motion) error {
	count, err := r.count("bone keyframe count", VMD_BONE_RECORD_SIZE)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		rec, err := r.take("bone keyframe", VMD_BONE_RECORD_SIZE)
		if err != nil {
			return err
		}
		name := utils.BytesToString(rec[0:VMD_BONE_NAME])
		frame := binary.LittleEndian.Uint32(rec[15:19])
		pos := vec3(rec[19:31])
		q := mgl32.Quat{W: f32(rec[43:47]), V: vec3(rec[31:43])}
		interp := rec[47:111]

		kf := BoneKeyframe{
			Translation: flipTranslation(pos),
			Orientation: flipOrientation(q).Normalize(),
			CurveX:      boneCurve(interp, 0),
			CurveY:      boneCurve(interp, 1),
		}
		if interp[2] == vmdPhysicsOffMarkerZ && interp[3] == vmdPhysicsOffMarkerR {
			// first row x1 slots hold the marker, second row keeps real values shifted by one
			kf.PhysicsDisabled = true
			kf.CurveZ = vmdCurves.Get(interp[17], interp[6], interp[10], interp[14])
			kf.CurveR = vmdCurves.Get(interp[18], interp[7], interp[11], interp[15])
		} else {
			kf.CurveZ = boneCurve(interp, 2)
			kf.CurveR = boneCurve(interp, 3)
		}
		m.BoneTrack(name).Insert(frame, kf)
	}
	return nil
}

func parseVMDMorphs(r *vmdReader, m *Motion) error {
	// morph section may be absent in files produced by some exporters
	if r.eof() {
		return nil
	}
	count, err := r.count("morph keyframe count", VMD_MORPH_RECORD_SIZE)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		rec, err := r.take("morph keyframe", VMD_MORPH_RECORD_SIZE)
		if err != nil {
			return err
		}
		name := utils.BytesToString(rec[0:VMD_BONE_NAME])
		m.MorphTrack(name).Insert(binary.LittleEndian.Uint32(rec[15:19]), f32(rec[19:23]))
	}
	return nil
}

func cameraCurve(interp []byte, i int) *Bezier {
	b := interp[i*4 : i*4+4]
	return vmdCurves.Get(b[0], b[2], b[1], b[3])
}

func parseVMDCamera(r *vmdReader, m *Motion) error {
	count, err := r.count("camera keyframe count", VMD_CAMERA_RECORD_SIZE)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		rec, err := r.take("camera keyframe", VMD_CAMERA_RECORD_SIZE)
		if err != nil {
			return err
		}
		frame := binary.LittleEndian.Uint32(rec[0:4])
		distance := f32(rec[4:8])
		lookAt := vec3(rec[8:20])
		angle := vec3(rec[20:32])
		interp := rec[32:56]

		m.CameraTrack().Insert(frame, CameraKeyframe{
			LookAt:        flipTranslation(lookAt),
			Angle:         mgl32.Vec3{-angle[0], -angle[1], angle[2]},
			Distance:      -distance,
			Fov:           float32(binary.LittleEndian.Uint32(rec[56:60])),
			Perspective:   rec[60] == 0,
			CurveX:        cameraCurve(interp, 0),
			CurveY:        cameraCurve(interp, 1),
			CurveZ:        cameraCurve(interp, 2),
			CurveAngle:    cameraCurve(interp, 3),
			CurveDistance: cameraCurve(interp, 4),
			CurveFov:      cameraCurve(interp, 5),
		})
	}
	return nil
}

func skipVMDSection(r *vmdReader, name string, recordSize int) error {
	count, err := r.count(name+" keyframe count", recordSize)
	if err != nil {
		return err
	}
	_, err = r.take(name+" keyframes", count*recordSize)
	return err
}

func parseVMDIK(r *vmdReader, m *Motion) error {
	count, err := r.count("ik keyframe count", 4+1+4)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		frame, err := r.u32("ik frame")
		if err != nil {
			return err
		}
		if _, err := r.take("ik show flag", 1); err != nil {
			return err
		}
		infos, err := r.count("ik info count", VMD_IK_NAME+1)
		if err != nil {
			return err
		}
		for j := 0; j < infos; j++ {
			rec, err := r.take("ik info", VMD_IK_NAME+1)
			if err != nil {
				return err
			}
			m.IKTrack(utils.BytesToString(rec[:VMD_IK_NAME])).Insert(frame, rec[VMD_IK_NAME] != 0)
		}
	}
	return nil
}
