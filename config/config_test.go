package config

import "testing"

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("physics:\n  gravity_y: -9.8\n  inertia_strength: 0\nlayers:\n  count: 2\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if c.Physics.GravityY != -9.8 {
		t.Errorf("GravityY=%v; expected -9.8", c.Physics.GravityY)
	}
	if c.Physics.InertiaStrength != 0 {
		t.Errorf("InertiaStrength=%v; expected 0", c.Physics.InertiaStrength)
	}
	if c.Layers.Count != 2 {
		t.Errorf("Layers.Count=%v; expected 2", c.Layers.Count)
	}
	if c.Physics.FPS != 60 || c.Physics.MaxSubstepCount != 4 {
		t.Errorf("Defaults lost: fps=%v substeps=%v", c.Physics.FPS, c.Physics.MaxSubstepCount)
	}
	if !c.Physics.Bust.Enabled || c.Physics.Bust.LinearSpringStiffnessScale != 15 {
		t.Errorf("Bust defaults lost: %+v", c.Physics.Bust)
	}
}

var invalidConfigs = []string{
	"layers:\n  count: 0\n",
	"physics:\n  fps: 0\n",
	"physics:\n  max_substep_count: 0\n",
	"physics:\n  inertia_strength: -1\n",
	"encoding: klingon\n",
	"layers: [1, 2\n",
}

func TestParseInvalid(t *testing.T) {
	for _, in := range invalidConfigs {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) succeeded; expected error", in)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	c, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal(Default())) failed: %v", err)
	}
	if *c != *Default() {
		t.Errorf("Round trip changed config: %+v", c)
	}
}

func TestSetEncoding(t *testing.T) {
	defer SetEncoding(DefaultEncoding)

	if err := SetEncoding("Windows 1252"); err != nil {
		t.Errorf("SetEncoding(%q) failed: %v", "Windows 1252", err)
	}
	if err := SetEncoding("nope"); err == nil {
		t.Errorf("SetEncoding(%q) succeeded; expected error", "nope")
	}
}
