package config

import (
	"io/ioutil"
	"log"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "mmd_runtime.yaml"

type LayersConfig struct {
	Count int `yaml:"count"`
	// frames per second of the motion clips time base
	FrameRate float32 `yaml:"frame_rate"`
}

type BustConfig struct {
	Enabled                     bool    `yaml:"enabled"`
	LinearDampingScale          float32 `yaml:"linear_damping_scale"`
	AngularDampingScale         float32 `yaml:"angular_damping_scale"`
	MassScale                   float32 `yaml:"mass_scale"`
	LinearSpringStiffnessScale  float32 `yaml:"linear_spring_stiffness_scale"`
	AngularSpringStiffnessScale float32 `yaml:"angular_spring_stiffness_scale"`
	LinearSpringDampingFactor   float32 `yaml:"linear_spring_damping_factor"`
	AngularSpringDampingFactor  float32 `yaml:"angular_spring_damping_factor"`
}

type PhysicsConfig struct {
	GravityY        float32 `yaml:"gravity_y"`
	FPS             float32 `yaml:"fps"`
	MaxSubstepCount int     `yaml:"max_substep_count"`
	SolverIteration int     `yaml:"solver_iterations"`

	LinearDampingScale  float32 `yaml:"linear_damping_scale"`
	AngularDampingScale float32 `yaml:"angular_damping_scale"`
	MassScale           float32 `yaml:"mass_scale"`

	LinearSpringStiffnessScale  float32 `yaml:"linear_spring_stiffness_scale"`
	AngularSpringStiffnessScale float32 `yaml:"angular_spring_stiffness_scale"`
	LinearSpringDampingFactor   float32 `yaml:"linear_spring_damping_factor"`
	AngularSpringDampingFactor  float32 `yaml:"angular_spring_damping_factor"`

	// 0 disables the drag of secondary bodies caused by model locomotion
	InertiaStrength float32 `yaml:"inertia_strength"`

	MaxLinearVelocity  float32 `yaml:"max_linear_velocity"`
	MaxAngularVelocity float32 `yaml:"max_angular_velocity"`

	Bust BustConfig `yaml:"bust"`

	JointsEnabled bool `yaml:"joints_enabled"`
	DebugLog      bool `yaml:"debug_log"`
}

type SkinningConfig struct {
	// 0 means runtime.GOMAXPROCS
	Workers  int `yaml:"workers"`
	MinBatch int `yaml:"min_batch"`
}

type ModelConfig struct {
	BlinkInterval float32 `yaml:"blink_interval"`
	BlinkDuration float32 `yaml:"blink_duration"`
	EyeMaxAngle   float32 `yaml:"eye_max_angle"`
	// physics is initialized with built-in engine when model is created in context
	AutoPhysics bool `yaml:"auto_physics"`
}

type WebConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Encoding string         `yaml:"encoding"`
	Layers   LayersConfig   `yaml:"layers"`
	Physics  PhysicsConfig  `yaml:"physics"`
	Skinning SkinningConfig `yaml:"skinning"`
	Model    ModelConfig    `yaml:"model"`
	Web      WebConfig      `yaml:"web"`
}

func DefaultPhysics() PhysicsConfig {
	return PhysicsConfig{
		GravityY:                    -3.8,
		FPS:                         60,
		MaxSubstepCount:             4,
		SolverIteration:             4,
		LinearDampingScale:          0.3,
		AngularDampingScale:         0.2,
		MassScale:                   2.0,
		LinearSpringStiffnessScale:  0.01,
		AngularSpringStiffnessScale: 0.01,
		LinearSpringDampingFactor:   8.0,
		AngularSpringDampingFactor:  8.0,
		InertiaStrength:             1.0,
		MaxLinearVelocity:           1.0,
		MaxAngularVelocity:          1.0,
		Bust: BustConfig{
			Enabled:                     true,
			LinearDampingScale:          2.0,
			AngularDampingScale:         2.0,
			MassScale:                   1.0,
			LinearSpringStiffnessScale:  15.0,
			AngularSpringStiffnessScale: 15.0,
			LinearSpringDampingFactor:   5.0,
			AngularSpringDampingFactor:  5.0,
		},
		JointsEnabled: true,
	}
}

func Default() *Config {
	return &Config{
		Encoding: DefaultEncoding,
		Layers: LayersConfig{
			Count:     4,
			FrameRate: 30,
		},
		Physics: DefaultPhysics(),
		Skinning: SkinningConfig{
			MinBatch: 1024,
		},
		Model: ModelConfig{
			BlinkInterval: 4.0,
			BlinkDuration: 0.15,
			EyeMaxAngle:   0.35,
			AutoPhysics:   true,
		},
	}
}

func (c *Config) Validate() error {
	if c.Layers.Count < 1 {
		return errors.Errorf("Invalid layers count %d", c.Layers.Count)
	}
	if c.Layers.FrameRate <= 0 {
		return errors.Errorf("Invalid layers frame rate %v", c.Layers.FrameRate)
	}
	if c.Physics.FPS <= 0 {
		return errors.Errorf("Invalid physics fps %v", c.Physics.FPS)
	}
	if c.Physics.MaxSubstepCount < 1 {
		return errors.Errorf("Invalid physics max substep count %d", c.Physics.MaxSubstepCount)
	}
	if c.Physics.SolverIteration < 1 {
		return errors.Errorf("Invalid physics solver iterations %d", c.Physics.SolverIteration)
	}
	if c.Physics.InertiaStrength < 0 {
		return errors.Errorf("Invalid physics inertia strength %v", c.Physics.InertiaStrength)
	}
	if c.Skinning.Workers < 0 {
		return errors.Errorf("Invalid skinning workers count %d", c.Skinning.Workers)
	}
	if _, ok := lookupEncoding(c.Encoding); !ok {
		return errors.Errorf("Failed to find encoding %q", c.Encoding)
	}
	return nil
}

// Parse decodes yaml over the defaults, so omitted keys keep default values
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "Failed to unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads config from path. Missing file is not an error.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[config] %q not found, using defaults", path)
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "Failed to read config %q", path)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Config %q", path)
	}
	if err := SetEncoding(c.Encoding); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to marshal config")
	}
	return data, nil
}
