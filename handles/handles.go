package handles

import (
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/config"
	"github.com/mogaika/mmd_runtime/model"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/physics"
	"github.com/mogaika/mmd_runtime/utils"
)

var ErrUnknownHandle = errors.New("Unknown handle")

// Handle identifies model or motion registered in Context
type Handle uuid.UUID

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func ParseHandle(s string) (Handle, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Handle{}, errors.Wrapf(ErrUnknownHandle, "Invalid handle %q: %v", s, err)
	}
	return Handle(u), nil
}

// Reporter receives user visible lifecycle events, status.Hub satisfies it
type Reporter interface {
	Info(format string, a ...interface{})
	Error(format string, a ...interface{})
}

type Entry struct {
	Handle Handle `json:"handle"`
	Name   string `json:"name"`
}

type modelEntry struct {
	Entry
	model *model.Model
}

type motionEntry struct {
	Entry
	motion *motion.Motion
}

// Context owns every model and motion of one runtime instance.
// Safe for concurrent use.
type Context struct {
	mu sync.RWMutex

	cfg      *config.Config
	models   map[Handle]*modelEntry
	motions  map[Handle]*motionEntry
	names    *utils.RandomNameGenerator
	reporter Reporter

	// NewEngine creates physics engine for every model, nil means built-in world
	NewEngine func() physics.Engine
}

// NewContext with nil cfg uses config.Default()
func NewContext(cfg *config.Config) *Context {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Context{
		cfg:     cfg,
		models:  make(map[Handle]*modelEntry),
		motions: make(map[Handle]*motionEntry),
		names:   &utils.RandomNameGenerator{},
	}
}

func (c *Context) Config() *config.Config {
	return c.cfg
}

func (c *Context) SetReporter(r Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reporter = r
}

func (c *Context) info(format string, a ...interface{}) {
	if c.reporter != nil {
		c.reporter.Info(format, a...)
	}
}

func newHandle() Handle {
	u, err := uuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return Handle(u)
}

func (c *Context) pickName(name string) string {
	if name == "" {
		return c.names.RandomName()
	}
	c.names.Reserve(name)
	return name
}

func unknown(kind string, h Handle) error {
	return errors.Wrapf(ErrUnknownHandle, "%s %v", kind, h)
}

// CreateModel builds model from description. Empty name falls back to
// description name, then to random name.
func (c *Context) CreateModel(name string, d *model.Desc) (Handle, error) {
	if name == "" {
		name = d.Name
	}
	m, err := model.New(d, c.cfg)
	if err != nil {
		return Handle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m.Name = c.pickName(name)
	if c.cfg.Model.AutoPhysics {
		var engine physics.Engine
		if c.NewEngine != nil {
			engine = c.NewEngine()
		}
		if _, err := m.InitPhysics(engine); err != nil {
			c.names.Release(m.Name)
			return Handle{}, err
		}
	}

	h := newHandle()
	c.models[h] = &modelEntry{Entry: Entry{Handle: h, Name: m.Name}, model: m}
	log.Printf("[handles] Model %q registered as %v", m.Name, h)
	c.info("Model %q created", m.Name)
	return h, nil
}

func (c *Context) LoadModel(path string) (Handle, error) {
	d, err := model.LoadRig(path)
	if err != nil {
		return Handle{}, err
	}
	return c.CreateModel("", d)
}

func (c *Context) Model(h Handle) (*model.Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.models[h]; ok {
		return e.model, nil
	}
	return nil, unknown("Model", h)
}

func (c *Context) DeleteModel(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.models[h]
	if !ok {
		return unknown("Model", h)
	}
	delete(c.models, h)
	c.names.Release(e.Name)
	c.info("Model %q deleted", e.Name)
	return nil
}

func sortEntries(r []Entry) []Entry {
	sort.Slice(r, func(i, j int) bool {
		if r[i].Name != r[j].Name {
			return r[i].Name < r[j].Name
		}
		return r[i].Handle.String() < r[j].Handle.String()
	})
	return r
}

// Models lists registered models sorted by name
func (c *Context) Models() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := make([]Entry, 0, len(c.models))
	for _, e := range c.models {
		r = append(r, e.Entry)
	}
	return sortEntries(r)
}

func (c *Context) AddMotion(name string, m *motion.Motion) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = m.ModelName
	}
	name = c.pickName(name)
	h := newHandle()
	c.motions[h] = &motionEntry{Entry: Entry{Handle: h, Name: name}, motion: m}
	log.Printf("[handles] Motion %q registered as %v, %d frames", name, h, m.Duration())
	return h
}

// LoadMotion reads vmd file, or vpd pose as single frame motion
func (c *Context) LoadMotion(path string) (Handle, error) {
	var m *motion.Motion
	if strings.EqualFold(filepath.Ext(path), ".vpd") {
		p, err := motion.LoadVPD(path)
		if err != nil {
			return Handle{}, err
		}
		m = p.ToMotion()
	} else {
		var err error
		if m, err = motion.LoadVMD(path); err != nil {
			return Handle{}, err
		}
	}
	return c.AddMotion(path, m), nil
}

func (c *Context) Motion(h Handle) (*motion.Motion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.motions[h]; ok {
		return e.motion, nil
	}
	return nil, unknown("Motion", h)
}

// DeleteMotion forgets handle, layers already playing the motion keep it
func (c *Context) DeleteMotion(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.motions[h]
	if !ok {
		return unknown("Motion", h)
	}
	delete(c.motions, h)
	c.names.Release(e.Name)
	return nil
}

func (c *Context) Motions() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := make([]Entry, 0, len(c.motions))
	for _, e := range c.motions {
		r = append(r, e.Entry)
	}
	return sortEntries(r)
}

// SetLayerMotion binds registered motion to model layer and starts playing it
func (c *Context) SetLayerMotion(mh Handle, layer int, moh Handle) error {
	m, err := c.Model(mh)
	if err != nil {
		return err
	}
	mot, err := c.Motion(moh)
	if err != nil {
		return err
	}
	if !m.SetLayerMotion(layer, mot) {
		return errors.Errorf("Model %q has no layer %d", m.Name, layer)
	}
	m.PlayLayer(layer)
	c.mu.RLock()
	c.info("Model %q layer %d plays motion %v", m.Name, layer, moh)
	c.mu.RUnlock()
	return nil
}

// TickAll ticks every model in its own goroutine and waits for all of them
func (c *Context) TickAll(dt float32) {
	c.mu.RLock()
	models := make([]*model.Model, 0, len(c.models))
	for _, e := range c.models {
		models = append(models, e.model)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(models))
	for _, m := range models {
		go func(m *model.Model) {
			defer wg.Done()
			m.Tick(dt)
		}(m)
	}
	wg.Wait()
}

// Close drops every model and motion, handles become unknown
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Printf("[handles] Closing context: %d models, %d motions", len(c.models), len(c.motions))
	c.models = make(map[Handle]*modelEntry)
	c.motions = make(map[Handle]*motionEntry)
	c.names = &utils.RandomNameGenerator{}
}
