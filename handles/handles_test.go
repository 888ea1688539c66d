package handles

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/model"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/skeleton"
	"github.com/mogaika/mmd_runtime/skinning"
)

func testDesc(name string) *model.Desc {
	return &model.Desc{
		Name:  name,
		Bones: []skeleton.BoneDesc{{Name: "center", Parent: -1, Rotatable: true, Movable: true}},
		Vertices: []model.Vertex{
			{Position: mgl32.Vec3{0, 0, 0}, Weight: skinning.Bdef1(0)},
			{Position: mgl32.Vec3{1, 0, 0}, Weight: skinning.Bdef1(0)},
			{Position: mgl32.Vec3{0, 1, 0}, Weight: skinning.Bdef1(0)},
		},
		Indices:   []uint32{0, 1, 2},
		Materials: []model.Material{{Name: "m", IndexCount: 3}},
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Info(format string, a ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, format)
}

func (r *recorder) Error(format string, a ...interface{}) {
	r.Info(format, a...)
}

func TestModelLifecycle(t *testing.T) {
	ctx := NewContext(nil)
	rec := &recorder{}
	ctx.SetReporter(rec)

	h, err := ctx.CreateModel("", testDesc("alice"))
	if err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	anon, err := ctx.CreateModel("", testDesc(""))
	if err != nil {
		t.Fatalf("CreateModel(anonymous): %v", err)
	}

	m, err := ctx.Model(h)
	if err != nil || m.Name != "alice" {
		t.Fatalf("Model(h)=%v, %v; expected alice", m, err)
	}
	am, _ := ctx.Model(anon)
	if am.Name == "" {
		t.Errorf("anonymous model has empty name")
	}
	if list := ctx.Models(); len(list) != 2 {
		t.Errorf("Models()=%v; expected 2 entries", list)
	}

	if err := ctx.DeleteModel(h); err != nil {
		t.Errorf("DeleteModel: %v", err)
	}
	if _, err := ctx.Model(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Model(deleted)=%v; expected ErrUnknownHandle", err)
	}
	if err := ctx.DeleteModel(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("DeleteModel(deleted)=%v; expected ErrUnknownHandle", err)
	}
	if len(rec.msgs) != 3 {
		t.Errorf("reporter got %d events; expected 3", len(rec.msgs))
	}

	ctx.Close()
	if _, err := ctx.Model(anon); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Model after Close=%v; expected ErrUnknownHandle", err)
	}
}

func TestCreateModelError(t *testing.T) {
	ctx := NewContext(nil)
	d := testDesc("broken")
	d.Indices[0] = 100
	if _, err := ctx.CreateModel("", d); err == nil {
		t.Errorf("CreateModel(broken) succeeded")
	}
	if len(ctx.Models()) != 0 {
		t.Errorf("broken model registered")
	}
}

func TestMotionsAndTickAll(t *testing.T) {
	ctx := NewContext(nil)
	var models []Handle
	for _, name := range []string{"a", "b", "c"} {
		h, err := ctx.CreateModel(name, testDesc(name))
		if err != nil {
			t.Fatal(err)
		}
		models = append(models, h)
	}

	mot := motion.NewMotion()
	mot.BoneTrack("center").Insert(0, motion.BoneKeyframe{Translation: mgl32.Vec3{0, 1, 0}, Orientation: mgl32.QuatIdent()})
	mot.BoneTrack("center").Insert(30, motion.BoneKeyframe{Translation: mgl32.Vec3{0, 1, 0}, Orientation: mgl32.QuatIdent()})
	mh := ctx.AddMotion("lift", mot)

	if got, err := ctx.Motion(mh); err != nil || got != mot {
		t.Errorf("Motion(mh)=%v, %v", got, err)
	}
	if err := ctx.SetLayerMotion(models[0], 0, mh); err != nil {
		t.Errorf("SetLayerMotion: %v", err)
	}
	if err := ctx.SetLayerMotion(models[0], 100, mh); err == nil {
		t.Errorf("SetLayerMotion(layer 100) succeeded")
	}
	if err := ctx.SetLayerMotion(models[0], 0, Handle{}); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("SetLayerMotion(unknown motion)=%v; expected ErrUnknownHandle", err)
	}

	ctx.TickAll(1.0 / 30)
	for i, h := range models {
		m, _ := ctx.Model(h)
		if m.Ticks() != 1 {
			t.Errorf("model %d ticks=%d; expected 1", i, m.Ticks())
		}
		y := m.Positions(nil)[1]
		expected := float32(0)
		if i == 0 {
			expected = 1
		}
		if d := y - expected; d > 1e-5 || d < -1e-5 {
			t.Errorf("model %d vertex y=%v; expected %v", i, y, expected)
		}
	}

	if err := ctx.DeleteMotion(mh); err != nil {
		t.Errorf("DeleteMotion: %v", err)
	}
	if len(ctx.Motions()) != 0 {
		t.Errorf("Motions() not empty after delete")
	}
}

func TestParseHandle(t *testing.T) {
	ctx := NewContext(nil)
	h, err := ctx.CreateModel("x", testDesc("x"))
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseHandle(h.String())
	if err != nil || parsed != h {
		t.Errorf("ParseHandle(%v)=%v, %v", h, parsed, err)
	}
	if _, err := ParseHandle("not a uuid"); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("ParseHandle(garbage)=%v; expected ErrUnknownHandle", err)
	}
}

func TestEntryJson(t *testing.T) {
	ctx := NewContext(nil)
	h, err := ctx.CreateModel("json", testDesc("json"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(ctx.Models())
	if err != nil {
		t.Fatal(err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil || len(entries) != 1 || entries[0].Handle != h {
		t.Errorf("Unmarshal(%s)=%+v, %v; expected handle %v", data, entries, err, h)
	}
	if err := json.Unmarshal([]byte(`[{"handle":"bad"}]`), &entries); err == nil {
		t.Errorf("Unmarshal(bad handle) succeeded")
	}
}
