package motion

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/utils"
)

func bezierByte(v float32) byte {
	b := math.Round(float64(v) * 127)
	if b < 0 {
		return 0
	}
	if b > 127 {
		return 127
	}
	return byte(b)
}

func (b *Bezier) controlBytes() [4]byte {
	if b == nil {
		b = LinearBezier
	}
	return [4]byte{bezierByte(b.X1), bezierByte(b.Y1), bezierByte(b.X2), bezierByte(b.Y2)}
}

func buildBoneInterpolation(kf *BoneKeyframe) [64]byte {
	var row [16]byte
	for axis, c := range []*Bezier{kf.CurveX, kf.CurveY, kf.CurveZ, kf.CurveR} {
		cb := c.controlBytes()
		for k := 0; k < 4; k++ {
			row[axis+k*4] = cb[k]
		}
	}

	var interp [64]byte
	for r := 0; r < 4; r++ {
		copy(interp[r*16:], row[r:])
		if r > 0 {
			interp[r*16+16-r] = 1
		}
	}
	if kf.PhysicsDisabled {
		interp[2] = vmdPhysicsOffMarkerZ
		interp[3] = vmdPhysicsOffMarkerR
	}
	return interp
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type vmdWriter struct {
	buf bytes.Buffer
	err error
}

func (w *vmdWriter) write(v interface{}) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.LittleEndian, v)
	}
}

func (w *vmdWriter) name(s string, size int) {
	if w.err != nil {
		return
	}
	b, err := utils.StringToBytesBuffer(s, size)
	if err != nil {
		w.err = err
		return
	}
	w.buf.Write(b)
}

func (w *vmdWriter) vec3(v mgl32.Vec3) {
	w.write([3]float32{v[0], v[1], v[2]})
}

// WriteVMD serializes motion into "Vocaloid Motion Data 0002" format.
// Light and self shadow sections are written empty.
func WriteVMD(out io.Writer, m *Motion) error {
	w := &vmdWriter{}

	var header [VMD_HEADER_SIZE]byte
	copy(header[:], VMD_MAGIC)
	w.write(header)
	w.name(m.ModelName, VMD_MODEL_NAME)

	boneNames := sortedKeys(m.BoneTracks)
	var boneCount uint32
	for _, name := range boneNames {
		boneCount += uint32(m.BoneTracks[name].Len())
	}
	w.write(boneCount)
	for _, name := range boneNames {
		m.BoneTracks[name].Each(func(frame uint32, kf BoneKeyframe) {
			w.name(name, VMD_BONE_NAME)
			w.write(frame)
			w.vec3(flipTranslation(kf.Translation))
			q := flipOrientation(kf.Orientation)
			w.write([4]float32{q.V[0], q.V[1], q.V[2], q.W})
			w.write(buildBoneInterpolation(&kf))
		})
	}

	morphNames := sortedKeys(m.MorphTracks)
	var morphCount uint32
	for _, name := range morphNames {
		morphCount += uint32(m.MorphTracks[name].Len())
	}
	w.write(morphCount)
	for _, name := range morphNames {
		m.MorphTracks[name].Each(func(frame uint32, weight float32) {
			w.name(name, VMD_BONE_NAME)
			w.write(frame)
			w.write(weight)
		})
	}

	if m.Camera == nil {
		w.write(uint32(0))
	} else {
		w.write(uint32(m.Camera.Len()))
		m.Camera.Each(func(frame uint32, kf CameraKeyframe) {
			w.write(frame)
			w.write(-kf.Distance)
			w.vec3(flipTranslation(kf.LookAt))
			w.vec3(mgl32.Vec3{-kf.Angle[0], -kf.Angle[1], kf.Angle[2]})
			var interp [24]byte
			for i, c := range []*Bezier{kf.CurveX, kf.CurveY, kf.CurveZ, kf.CurveAngle, kf.CurveDistance, kf.CurveFov} {
				cb := c.controlBytes()
				interp[i*4+0], interp[i*4+1], interp[i*4+2], interp[i*4+3] = cb[0], cb[2], cb[1], cb[3]
			}
			w.write(interp)
			w.write(uint32(kf.Fov))
			if kf.Perspective {
				w.write(uint8(0))
			} else {
				w.write(uint8(1))
			}
		})
	}

	// light, self shadow
	w.write(uint32(0))
	w.write(uint32(0))

	// ik states grouped by frame
	ikNames := sortedKeys(m.IKTracks)
	frames := make(map[uint32]struct{})
	for _, name := range ikNames {
		for _, f := range m.IKTracks[name].Frames() {
			frames[f] = struct{}{}
		}
	}
	ikFrames := make([]uint32, 0, len(frames))
	for f := range frames {
		ikFrames = append(ikFrames, f)
	}
	sort.Slice(ikFrames, func(i, j int) bool { return ikFrames[i] < ikFrames[j] })

	w.write(uint32(len(ikFrames)))
	for _, f := range ikFrames {
		w.write(f)
		w.write(uint8(1))
		var states []string
		for _, name := range ikNames {
			if _, ok := m.IKTracks[name].FindExact(f); ok {
				states = append(states, name)
			}
		}
		w.write(uint32(len(states)))
		for _, name := range states {
			enabled, _ := m.IKTracks[name].FindExact(f)
			w.name(name, VMD_IK_NAME)
			if enabled {
				w.write(uint8(1))
			} else {
				w.write(uint8(0))
			}
		}
	}

	if w.err != nil {
		return errors.Wrapf(w.err, "Failed to encode vmd")
	}
	_, err := out.Write(w.buf.Bytes())
	return err
}
