package model

import (
	"github.com/mogaika/mmd_runtime/animation"
	"github.com/mogaika/mmd_runtime/morph"
)

type BoneInfo struct {
	Index        int        `json:"index"`
	Name         string     `json:"name"`
	Parent       int        `json:"parent"`
	Position     [3]float32 `json:"position"`
	IK           bool       `json:"ik"`
	AfterPhysics bool       `json:"after_physics"`
}

type Info struct {
	Name           string                    `json:"name"`
	Bones          int                       `json:"bones"`
	Vertices       int                       `json:"vertices"`
	Indices        int                       `json:"indices"`
	Materials      []string                  `json:"materials"`
	Visible        []bool                    `json:"visible"`
	Morphs         int                       `json:"morphs"`
	ActiveMorphs   []morph.WeightInfo        `json:"active_morphs"`
	Layers         []animation.LayerSnapshot `json:"layers"`
	HasPhysics     bool                      `json:"has_physics"`
	PhysicsEnabled bool                      `json:"physics_enabled"`
	AutoBlink      bool                      `json:"auto_blink"`
	EyeTracking    bool                      `json:"eye_tracking"`
	Overrides      int                       `json:"bone_overrides"`
	Ticks          uint64                    `json:"ticks"`
}

func (m *Model) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		Name:           m.Name,
		Bones:          m.skel.BoneCount(),
		Vertices:       len(m.rest),
		Indices:        len(m.indices),
		Materials:      m.MaterialNames(),
		Visible:        append([]bool(nil), m.visible...),
		Morphs:         m.morphs.Count(),
		ActiveMorphs:   m.morphs.ActiveWeights(),
		Layers:         m.layers.Snapshot(),
		HasPhysics:     m.physics != nil,
		PhysicsEnabled: m.physicsEnabled && m.physics != nil,
		AutoBlink:      m.blink.enabled,
		EyeTracking:    m.eyeTracking,
		Overrides:      len(m.overrides),
		Ticks:          m.ticks,
	}
}

func (m *Model) Bones() []BoneInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make([]BoneInfo, m.skel.BoneCount())
	for i := range r {
		b := m.skel.Bone(i)
		r[i] = BoneInfo{
			Index:        i,
			Name:         b.Name,
			Parent:       b.Parent,
			Position:     b.GlobalPosition(),
			IK:           b.IsIK(),
			AfterPhysics: b.DeformAfterPhysics,
		}
	}
	return r
}
