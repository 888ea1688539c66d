package morph

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Payload is one of VertexOffsets, BoneOffsets, MaterialOffsets, UVOffsets, GroupRefs
type Payload interface {
	Kind() Kind
	payload()
}

type Kind int

const (
	KindVertex Kind = iota
	KindBone
	KindMaterial
	KindUV
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "vertex"
	case KindBone:
		return "bone"
	case KindMaterial:
		return "material"
	case KindUV:
		return "uv"
	case KindGroup:
		return "group"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type VertexOffset struct {
	Vertex int
	Offset mgl32.Vec3
}

type VertexOffsets []VertexOffset

type BoneOffset struct {
	Bone        int
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
}

type BoneOffsets []BoneOffset

type MaterialOp uint8

const (
	MaterialMul MaterialOp = 0
	MaterialAdd MaterialOp = 1
)

// MaterialOffset with Material < 0 targets every material
type MaterialOffset struct {
	Material         int
	Op               MaterialOp
	Diffuse          mgl32.Vec4
	Specular         mgl32.Vec3
	SpecularStrength float32
	Ambient          mgl32.Vec3
	EdgeColor        mgl32.Vec4
	EdgeSize         float32
	TextureTint      mgl32.Vec4
	EnvironmentTint  mgl32.Vec4
	ToonTint         mgl32.Vec4
}

type MaterialOffsets []MaterialOffset

// Channel 0 is base uv, 1-4 additional uv
type UVOffset struct {
	Vertex  int
	Channel int
	Offset  mgl32.Vec4
}

type UVOffsets []UVOffset

type GroupRef struct {
	Morph int
	Rate  float32
}

type GroupRefs []GroupRef

func (VertexOffsets) Kind() Kind   { return KindVertex }
func (BoneOffsets) Kind() Kind     { return KindBone }
func (MaterialOffsets) Kind() Kind { return KindMaterial }
func (UVOffsets) Kind() Kind       { return KindUV }
func (GroupRefs) Kind() Kind       { return KindGroup }

func (VertexOffsets) payload()   {}
func (BoneOffsets) payload()     {}
func (MaterialOffsets) payload() {}
func (UVOffsets) payload()       {}
func (GroupRefs) payload()       {}

type Morph struct {
	Name    string
	Payload Payload
	weight  float32
}

func (m *Morph) Weight() float32 {
	return m.weight
}

// MaterialResult is per material tint consumed by renderer
type MaterialResult struct {
	Diffuse          mgl32.Vec4
	Specular         mgl32.Vec3
	SpecularStrength float32
	Ambient          mgl32.Vec3
	EdgeColor        mgl32.Vec4
	EdgeSize         float32
	TextureTint      mgl32.Vec4
	EnvironmentTint  mgl32.Vec4
	ToonTint         mgl32.Vec4
}

// NeutralTint is material result untouched by morphs, tints are multiplicative
func NeutralTint(base MaterialResult) MaterialResult {
	base.TextureTint = mgl32.Vec4{1, 1, 1, 1}
	base.EnvironmentTint = mgl32.Vec4{1, 1, 1, 1}
	base.ToonTint = mgl32.Vec4{1, 1, 1, 1}
	return base
}

func mulV4(a, b mgl32.Vec4, w float32) mgl32.Vec4 {
	for i := range a {
		a[i] *= 1 + (b[i]-1)*w
	}
	return a
}

func mulV3(a, b mgl32.Vec3, w float32) mgl32.Vec3 {
	for i := range a {
		a[i] *= 1 + (b[i]-1)*w
	}
	return a
}

func (r *MaterialResult) apply(o *MaterialOffset, w float32) {
	switch o.Op {
	case MaterialAdd:
		r.Diffuse = r.Diffuse.Add(o.Diffuse.Mul(w))
		r.Specular = r.Specular.Add(o.Specular.Mul(w))
		r.SpecularStrength += o.SpecularStrength * w
		r.Ambient = r.Ambient.Add(o.Ambient.Mul(w))
		r.EdgeColor = r.EdgeColor.Add(o.EdgeColor.Mul(w))
		r.EdgeSize += o.EdgeSize * w
		r.TextureTint = r.TextureTint.Add(o.TextureTint.Mul(w))
		r.EnvironmentTint = r.EnvironmentTint.Add(o.EnvironmentTint.Mul(w))
		r.ToonTint = r.ToonTint.Add(o.ToonTint.Mul(w))
	default:
		r.Diffuse = mulV4(r.Diffuse, o.Diffuse, w)
		r.Specular = mulV3(r.Specular, o.Specular, w)
		r.SpecularStrength *= 1 + (o.SpecularStrength-1)*w
		r.Ambient = mulV3(r.Ambient, o.Ambient, w)
		r.EdgeColor = mulV4(r.EdgeColor, o.EdgeColor, w)
		r.EdgeSize *= 1 + (o.EdgeSize-1)*w
		r.TextureTint = mulV4(r.TextureTint, o.TextureTint, w)
		r.EnvironmentTint = mulV4(r.EnvironmentTint, o.EnvironmentTint, w)
		r.ToonTint = mulV4(r.ToonTint, o.ToonTint, w)
	}
}

// boneRotation is small angle weighted blend toward r
func boneRotation(r mgl32.Quat, w float32) mgl32.Quat {
	return mgl32.Quat{
		W: 1 - (1-r.W)*w,
		V: r.V.Mul(w),
	}.Normalize()
}
