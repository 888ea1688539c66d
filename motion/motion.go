package motion

import (
	"math"
)

// Motion is all tracks of one clip. It is read only after load
// and can be shared between any number of layers.
type Motion struct {
	ModelName   string
	BoneTracks  map[string]*BoneTrack
	MorphTracks map[string]*MorphTrack
	IKTracks    map[string]*IKTrack
	Camera      *CameraTrack
}

func NewMotion() *Motion {
	return &Motion{
		BoneTracks:  make(map[string]*BoneTrack),
		MorphTracks: make(map[string]*MorphTrack),
		IKTracks:    make(map[string]*IKTrack),
	}
}

func (m *Motion) BoneTrack(name string) *BoneTrack {
	t, ok := m.BoneTracks[name]
	if !ok {
		t = NewBoneTrack()
		m.BoneTracks[name] = t
	}
	return t
}

func (m *Motion) MorphTrack(name string) *MorphTrack {
	t, ok := m.MorphTracks[name]
	if !ok {
		t = NewMorphTrack()
		m.MorphTracks[name] = t
	}
	return t
}

func (m *Motion) IKTrack(name string) *IKTrack {
	t, ok := m.IKTracks[name]
	if !ok {
		t = NewIKTrack()
		m.IKTracks[name] = t
	}
	return t
}

func (m *Motion) CameraTrack() *CameraTrack {
	if m.Camera == nil {
		m.Camera = NewCameraTrack()
	}
	return m.Camera
}

// Duration is the greatest keyframe index over every track
func (m *Motion) Duration() uint32 {
	var max uint32
	for _, t := range m.BoneTracks {
		if f := t.MaxFrame(); f > max {
			max = f
		}
	}
	for _, t := range m.MorphTracks {
		if f := t.MaxFrame(); f > max {
			max = f
		}
	}
	for _, t := range m.IKTracks {
		if f := t.MaxFrame(); f > max {
			max = f
		}
	}
	if m.Camera != nil {
		if f := m.Camera.MaxFrame(); f > max {
			max = f
		}
	}
	return max
}

func (m *Motion) FindBoneTransform(name string, frame uint32, amount float32) (BoneFrameTransform, bool) {
	t, ok := m.BoneTracks[name]
	if !ok || t.Len() == 0 {
		return BoneFrameTransform{}, false
	}
	return t.SeekPrecise(frame, amount), true
}

func (m *Motion) FindMorphWeight(name string, frame uint32, amount float32) (float32, bool) {
	t, ok := m.MorphTracks[name]
	if !ok || t.Len() == 0 {
		return 0, false
	}
	return t.SeekPrecise(frame, amount), true
}

func (m *Motion) IsIKEnabled(name string, frame uint32) (enabled bool, ok bool) {
	t, ok := m.IKTracks[name]
	if !ok {
		return true, false
	}
	return t.EnabledAt(frame), true
}

func (m *Motion) FindCamera(frame uint32, amount float32) (CameraFrame, bool) {
	if m.Camera == nil || m.Camera.Len() == 0 {
		return CameraFrame{}, false
	}
	return m.Camera.SeekPrecise(frame, amount), true
}

// Merge unions other into m, keyframes of other win on collision.
// Must not be called once m is shared, use Clone first.
func (m *Motion) Merge(other *Motion) {
	for name, t := range other.BoneTracks {
		m.BoneTrack(name).MergeFrom(&t.Track)
	}
	for name, t := range other.MorphTracks {
		m.MorphTrack(name).MergeFrom(&t.Track)
	}
	for name, t := range other.IKTracks {
		m.IKTrack(name).MergeFrom(&t.Track)
	}
	if other.Camera != nil {
		m.CameraTrack().MergeFrom(&other.Camera.Track)
	}
	if m.ModelName == "" {
		m.ModelName = other.ModelName
	}
}

func (m *Motion) Clone() *Motion {
	c := NewMotion()
	c.ModelName = m.ModelName
	for name, t := range m.BoneTracks {
		c.BoneTracks[name] = &BoneTrack{Track: *t.Track.Clone()}
	}
	for name, t := range m.MorphTracks {
		c.MorphTracks[name] = &MorphTrack{Track: *t.Track.Clone()}
	}
	for name, t := range m.IKTracks {
		c.IKTracks[name] = &IKTrack{Track: *t.Track.Clone()}
	}
	if m.Camera != nil {
		c.Camera = &CameraTrack{Track: *m.Camera.Track.Clone()}
	}
	return c
}

// Merged returns new motion, m stays untouched
func (m *Motion) Merged(other *Motion) *Motion {
	c := m.Clone()
	c.Merge(other)
	return c
}

type Summary struct {
	ModelName      string
	Duration       uint32
	BoneTracks     int
	BoneKeyframes  int
	MorphTracks    int
	MorphKeyframes int
	IKTracks       int
	CameraFrames   int
}

func (m *Motion) Summary() Summary {
	s := Summary{
		ModelName:   m.ModelName,
		Duration:    m.Duration(),
		BoneTracks:  len(m.BoneTracks),
		MorphTracks: len(m.MorphTracks),
		IKTracks:    len(m.IKTracks),
	}
	for _, t := range m.BoneTracks {
		s.BoneKeyframes += t.Len()
	}
	for _, t := range m.MorphTracks {
		s.MorphKeyframes += t.Len()
	}
	if m.Camera != nil {
		s.CameraFrames = m.Camera.Len()
	}
	return s
}

func sincos(a float32) (float32, float32) {
	s, c := math.Sincos(float64(a))
	return float32(s), float32(c)
}
