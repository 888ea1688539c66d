package skeleton

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/utils"
)

type IKLink struct {
	Bone      int
	HasLimits bool
	// euler XYZ limits in radians, runtime handedness
	LimitMin mgl32.Vec3
	LimitMax mgl32.Vec3
}

type IKChain struct {
	Target     int
	Iterations int
	LimitAngle float32
	Links      []IKLink
}

// LimitsFromPMX converts left handed link limits into runtime convention
func LimitsFromPMX(min, max mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	return max.Mul(-1), min.Mul(-1)
}

// BoneDesc is bind time description of bone, positions are in runtime handedness
type BoneDesc struct {
	Name           string
	Parent         int
	TransformLevel int
	Position       mgl32.Vec3

	Rotatable          bool
	Movable            bool
	AppendRotate       bool
	AppendTranslate    bool
	AppendLocal        bool
	DeformAfterPhysics bool

	AppendParent int
	AppendRate   float32

	FixedAxis  *mgl32.Vec3
	LocalAxisX *mgl32.Vec3
	LocalAxisZ *mgl32.Vec3

	IK *IKChain
}

type Bone struct {
	Name           string
	Index          int
	Parent         int
	TransformLevel int

	Position    mgl32.Vec3
	Offset      mgl32.Vec3
	InverseBind mgl32.Mat4

	Rotatable          bool
	Movable            bool
	AppendRotate       bool
	AppendTranslate    bool
	AppendLocal        bool
	DeformAfterPhysics bool

	AppendParent int
	AppendRate   float32

	HasFixedAxis bool
	FixedAxis    mgl32.Vec3
	HasLocalAxis bool
	LocalAxisX   mgl32.Vec3
	LocalAxisZ   mgl32.Vec3

	IK *IKChain

	// animation state, reset every tick
	AnimTranslate mgl32.Vec3
	AnimRotate    mgl32.Quat
	IKRotate      mgl32.Quat
	EnableIK      bool
	AppendT       mgl32.Vec3
	AppendR       mgl32.Quat

	Local  mgl32.Mat4
	Global mgl32.Mat4
}

func (b *Bone) IsIK() bool {
	return b.IK != nil
}

func (b *Bone) HasAppend() bool {
	return b.AppendRotate || b.AppendTranslate
}

func (b *Bone) resetAnimation() {
	b.AnimTranslate = mgl32.Vec3{}
	b.AnimRotate = mgl32.QuatIdent()
	b.IKRotate = mgl32.QuatIdent()
	b.AppendT = mgl32.Vec3{}
	b.AppendR = mgl32.QuatIdent()
}

// twist keeps only rotation component around axis
func twist(q mgl32.Quat, axis mgl32.Vec3) mgl32.Quat {
	p := axis.Mul(q.V.Dot(axis))
	t := mgl32.Quat{W: q.W, V: p}
	if l := t.Len(); l > utils.Epsilon {
		return t.Scale(1 / l)
	}
	return mgl32.QuatIdent()
}

func (b *Bone) updateLocal() {
	translate := b.Offset.Add(b.AnimTranslate)
	if b.AppendTranslate {
		translate = translate.Add(b.AppendT)
	}

	rotation := b.AnimRotate
	if b.HasFixedAxis {
		rotation = twist(rotation, b.FixedAxis)
	}
	if b.EnableIK {
		rotation = b.IKRotate.Mul(rotation)
	}
	if b.AppendRotate {
		rotation = rotation.Mul(b.AppendR)
	}

	b.Local = utils.RotationTranslation(rotation, translate)
}

func (b *Bone) SkinningMatrix() mgl32.Mat4 {
	return b.Global.Mul4(b.InverseBind)
}

func (b *Bone) GlobalPosition() mgl32.Vec3 {
	return utils.Position(b.Global)
}
