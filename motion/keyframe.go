package motion

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/utils"
)

type BoneKeyframe struct {
	Translation mgl32.Vec3
	Orientation mgl32.Quat
	// curves are applied between previous keyframe and this one
	CurveX, CurveY, CurveZ, CurveR *Bezier
	PhysicsDisabled                bool
}

// BoneFrameTransform is evaluated bone track sample
type BoneFrameTransform struct {
	Translation mgl32.Vec3
	Orientation mgl32.Quat
	// not nil when crossfading from physics driven pose into keyframed pose
	LocalTransformMix *float32
	EnablePhysics     bool
	DisablePhysics    bool
}

func defaultBoneFrame() BoneFrameTransform {
	return BoneFrameTransform{Orientation: mgl32.QuatIdent()}
}

// MixedTranslation blends user provided translation with sample by LocalTransformMix
func (bft BoneFrameTransform) MixedTranslation(local mgl32.Vec3) mgl32.Vec3 {
	if bft.LocalTransformMix != nil {
		return utils.LerpV3(local, bft.Translation, *bft.LocalTransformMix)
	}
	return bft.Translation
}

func (bft BoneFrameTransform) MixedOrientation(local mgl32.Quat) mgl32.Quat {
	if bft.LocalTransformMix != nil {
		return utils.Slerp(local, bft.Orientation, *bft.LocalTransformMix)
	}
	return bft.Orientation
}

type BoneTrack struct {
	Track[BoneKeyframe]
}

func NewBoneTrack() *BoneTrack {
	return &BoneTrack{Track: *NewTrack[BoneKeyframe]()}
}

func (bt *BoneTrack) Seek(frame uint32) BoneFrameTransform {
	if kf, ok := bt.FindExact(frame); ok {
		return BoneFrameTransform{
			Translation:   kf.Translation,
			Orientation:   kf.Orientation,
			EnablePhysics: !kf.PhysicsDisabled,
		}
	}

	prevFrame, nextFrame, hasPrev, hasNext := bt.SearchSurrounding(frame)
	switch {
	case hasPrev && hasNext:
		prev, next := bt.keys[prevFrame], bt.keys[nextFrame]
		coef := coefficient(prevFrame, nextFrame, frame)

		if !prev.PhysicsDisabled && next.PhysicsDisabled {
			mix := coef
			return BoneFrameTransform{
				Translation:       next.Translation,
				Orientation:       next.Orientation,
				LocalTransformMix: &mix,
				DisablePhysics:    true,
			}
		}

		translation := mgl32.Vec3{
			utils.Lerp(prev.Translation[0], next.Translation[0], next.CurveX.Evaluate(coef)),
			utils.Lerp(prev.Translation[1], next.Translation[1], next.CurveY.Evaluate(coef)),
			utils.Lerp(prev.Translation[2], next.Translation[2], next.CurveZ.Evaluate(coef)),
		}
		return BoneFrameTransform{
			Translation:   translation,
			Orientation:   utils.Slerp(prev.Orientation, next.Orientation, next.CurveR.Evaluate(coef)),
			EnablePhysics: !prev.PhysicsDisabled && !next.PhysicsDisabled,
		}
	case hasPrev:
		prev := bt.keys[prevFrame]
		return BoneFrameTransform{
			Translation:   prev.Translation,
			Orientation:   prev.Orientation,
			EnablePhysics: !prev.PhysicsDisabled,
		}
	case hasNext:
		next := bt.keys[nextFrame]
		return BoneFrameTransform{
			Translation:   next.Translation,
			Orientation:   next.Orientation,
			EnablePhysics: !next.PhysicsDisabled,
		}
	}
	return defaultBoneFrame()
}

// SeekPrecise blends Seek(frame) and Seek(frame+1) by amount in [0,1]
func (bt *BoneTrack) SeekPrecise(frame uint32, amount float32) BoneFrameTransform {
	if amount <= 0 {
		return bt.Seek(frame)
	}
	if amount >= 1 {
		return bt.Seek(frame + 1)
	}
	f0 := bt.Seek(frame)
	f1 := bt.Seek(frame + 1)

	var mix *float32
	switch {
	case f0.LocalTransformMix != nil && f1.LocalTransformMix != nil:
		v := utils.Lerp(*f0.LocalTransformMix, *f1.LocalTransformMix, amount)
		mix = &v
	case f1.LocalTransformMix != nil:
		v := amount * *f1.LocalTransformMix
		mix = &v
	case f0.LocalTransformMix != nil:
		v := (1 - amount) * *f0.LocalTransformMix
		mix = &v
	}

	return BoneFrameTransform{
		Translation:       utils.LerpV3(f0.Translation, f1.Translation, amount),
		Orientation:       utils.Slerp(f0.Orientation, f1.Orientation, amount),
		LocalTransformMix: mix,
		EnablePhysics:     f0.EnablePhysics && f1.EnablePhysics,
		DisablePhysics:    f0.DisablePhysics || f1.DisablePhysics,
	}
}

type MorphTrack struct {
	Track[float32]
}

func NewMorphTrack() *MorphTrack {
	return &MorphTrack{Track: *NewTrack[float32]()}
}

// Seek interpolates morph weight linearly, curves are not used by morph keyframes
func (mt *MorphTrack) Seek(frame uint32) float32 {
	if w, ok := mt.FindExact(frame); ok {
		return w
	}
	prevFrame, nextFrame, hasPrev, hasNext := mt.SearchSurrounding(frame)
	switch {
	case hasPrev && hasNext:
		return utils.Lerp(mt.keys[prevFrame], mt.keys[nextFrame], coefficient(prevFrame, nextFrame, frame))
	case hasPrev:
		return mt.keys[prevFrame]
	case hasNext:
		return mt.keys[nextFrame]
	}
	return 0
}

func (mt *MorphTrack) SeekPrecise(frame uint32, amount float32) float32 {
	if amount <= 0 {
		return mt.Seek(frame)
	}
	if amount >= 1 {
		return mt.Seek(frame + 1)
	}
	return utils.Lerp(mt.Seek(frame), mt.Seek(frame+1), amount)
}

type IKTrack struct {
	Track[bool]
}

func NewIKTrack() *IKTrack {
	return &IKTrack{Track: *NewTrack[bool]()}
}

// EnabledAt returns state of last keyframe at or before frame, solvers are enabled by default
func (it *IKTrack) EnabledAt(frame uint32) bool {
	if _, enabled, ok := it.LastAtOrBefore(frame); ok {
		return enabled
	}
	return true
}

type CameraKeyframe struct {
	LookAt      mgl32.Vec3
	Angle       mgl32.Vec3
	Distance    float32
	Fov         float32
	Perspective bool

	CurveX, CurveY, CurveZ, CurveAngle, CurveDistance, CurveFov *Bezier
}

type CameraFrame struct {
	LookAt      mgl32.Vec3
	Angle       mgl32.Vec3
	Distance    float32
	Fov         float32
	Perspective bool
}

// Position orbits look at point by angle at distance
func (cf CameraFrame) Position() mgl32.Vec3 {
	sx, cx := sincos(cf.Angle[0])
	sy, cy := sincos(cf.Angle[1])
	d := cf.Distance
	return cf.LookAt.Add(mgl32.Vec3{-d * cx * sy, d * sx, -d * cx * cy})
}

type CameraTrack struct {
	Track[CameraKeyframe]
}

func NewCameraTrack() *CameraTrack {
	return &CameraTrack{Track: *NewTrack[CameraKeyframe]()}
}

func cameraFrameOf(kf CameraKeyframe) CameraFrame {
	return CameraFrame{
		LookAt:      kf.LookAt,
		Angle:       kf.Angle,
		Distance:    kf.Distance,
		Fov:         kf.Fov,
		Perspective: kf.Perspective,
	}
}

func (ct *CameraTrack) Seek(frame uint32) CameraFrame {
	if kf, ok := ct.FindExact(frame); ok {
		return cameraFrameOf(kf)
	}
	prevFrame, nextFrame, hasPrev, hasNext := ct.SearchSurrounding(frame)
	switch {
	case hasPrev && hasNext:
		prev, next := ct.keys[prevFrame], ct.keys[nextFrame]
		coef := coefficient(prevFrame, nextFrame, frame)
		aAngle := next.CurveAngle.Evaluate(coef)
		return CameraFrame{
			LookAt: mgl32.Vec3{
				utils.Lerp(prev.LookAt[0], next.LookAt[0], next.CurveX.Evaluate(coef)),
				utils.Lerp(prev.LookAt[1], next.LookAt[1], next.CurveY.Evaluate(coef)),
				utils.Lerp(prev.LookAt[2], next.LookAt[2], next.CurveZ.Evaluate(coef)),
			},
			Angle:       utils.LerpV3(prev.Angle, next.Angle, aAngle),
			Distance:    utils.Lerp(prev.Distance, next.Distance, next.CurveDistance.Evaluate(coef)),
			Fov:         utils.Lerp(prev.Fov, next.Fov, next.CurveFov.Evaluate(coef)),
			Perspective: prev.Perspective,
		}
	case hasPrev:
		return cameraFrameOf(ct.keys[prevFrame])
	case hasNext:
		return cameraFrameOf(ct.keys[nextFrame])
	}
	return CameraFrame{Fov: 30, Perspective: true}
}

func (ct *CameraTrack) SeekPrecise(frame uint32, amount float32) CameraFrame {
	if amount <= 0 {
		return ct.Seek(frame)
	}
	if amount >= 1 {
		return ct.Seek(frame + 1)
	}
	f0, f1 := ct.Seek(frame), ct.Seek(frame+1)
	return CameraFrame{
		LookAt:      utils.LerpV3(f0.LookAt, f1.LookAt, amount),
		Angle:       utils.LerpV3(f0.Angle, f1.Angle, amount),
		Distance:    utils.Lerp(f0.Distance, f1.Distance, amount),
		Fov:         utils.Lerp(f0.Fov, f1.Fov, amount),
		Perspective: f0.Perspective,
	}
}
