// Package config loads the node configuration from YAML.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/NmBoyd/faster/internal/optimizer"
	"github.com/NmBoyd/faster/internal/pathsearch"
)

type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	PrivateKey  string `yaml:"private_key"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type Planner struct {
	VoxelResolution float64 `yaml:"voxel_resolution"`
	InflationRadius float64 `yaml:"inflation_radius"`
	GridMargin      float64 `yaml:"grid_margin"`
	MaxVoxels       int     `yaml:"max_voxels"`
	Horizon         float64 `yaml:"horizon"`
	GoalTolerance   float64 `yaml:"goal_tolerance"`
}

type Optimizer struct {
	Samples       int     `yaml:"samples"`
	InputLimit    float64 `yaml:"input_limit"`
	DtMin         float64 `yaml:"dt_min"`
	DtMax         float64 `yaml:"dt_max"`
	DtGrowth      float64 `yaml:"dt_growth"`
	Tolerance     float64 `yaml:"tolerance"`
	RelaxAttempts int     `yaml:"relax_attempts"`
	ShrinkFactor  float64 `yaml:"shrink_factor"`
}

type Verifier struct {
	Clearance      float64 `yaml:"clearance"`
	SubSteps       int     `yaml:"sub_steps"`
	StartupGrace   bool    `yaml:"startup_grace"`
	RetainRejected bool    `yaml:"retain_rejected"`
}

type Observations struct {
	MaxAge    time.Duration `yaml:"max_age"`
	QueueSize int           `yaml:"queue_size"`
}

type Timing struct {
	ReplanPeriod time.Duration `yaml:"replan_period"`
	OutputPeriod time.Duration `yaml:"output_period"`
}

type Flight struct {
	TakeoffAltitude float64 `yaml:"takeoff_altitude"`
	TakeoffSpeed    float64 `yaml:"takeoff_speed"`
	LandAltitude    float64 `yaml:"land_altitude"`
	LandSpeed       float64 `yaml:"land_speed"`
	Feedforward     bool    `yaml:"feedforward"`
}

type Config struct {
	DeviceID     string       `yaml:"device_id"`
	LogLevel     string       `yaml:"log_level"`
	MQTT         MQTT         `yaml:"mqtt"`
	Planner      Planner      `yaml:"planner"`
	Optimizer    Optimizer    `yaml:"optimizer"`
	Verifier     Verifier     `yaml:"verifier"`
	Observations Observations `yaml:"observations"`
	Timing       Timing       `yaml:"timing"`
	Flight       Flight       `yaml:"flight"`
}

// Default returns a configuration that validates as is.
func Default() Config {
	return Config{
		LogLevel: "info",
		MQTT: MQTT{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "faster",
			QoS:         1,
		},
		Planner: Planner{
			VoxelResolution: 0.3,
			InflationRadius: 0.4,
			GridMargin:      2,
			MaxVoxels:       4000000,
			Horizon:         6,
			GoalTolerance:   0.2,
		},
		Optimizer: Optimizer{
			Samples:       20,
			InputLimit:    4,
			DtMin:         0.05,
			DtMax:         1,
			DtGrowth:      1.1,
			Tolerance:     1e-3,
			RelaxAttempts: 3,
			ShrinkFactor:  0.5,
		},
		Verifier: Verifier{
			Clearance: 0.3,
			SubSteps:  5,
		},
		Observations: Observations{
			MaxAge:    2 * time.Second,
			QueueSize: 8,
		},
		Timing: Timing{
			ReplanPeriod: 100 * time.Millisecond,
			OutputPeriod: 10 * time.Millisecond,
		},
		Flight: Flight{
			TakeoffAltitude: 1.5,
			TakeoffSpeed:    0.5,
			LandAltitude:    0,
			LandSpeed:       0.3,
			Feedforward:     true,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WithMessagef(err, "could not read config %s", path)
	}
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return cfg, errors.WithMessagef(err, "could not parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// PathSearch is the path search section.
func (c Config) PathSearch() pathsearch.Config {
	return pathsearch.Config{
		Resolution: c.Planner.VoxelResolution,
		Inflation:  c.Planner.InflationRadius,
		Margin:     c.Planner.GridMargin,
		MaxVoxels:  c.Planner.MaxVoxels,
	}
}

// Solver is the optimizer section.
func (c Config) Solver() optimizer.Config {
	return optimizer.Config{
		InputOrder: optimizer.InputAccel,
		Samples:    c.Optimizer.Samples,
		DtMin:      c.Optimizer.DtMin,
		DtMax:      c.Optimizer.DtMax,
		DtGrowth:   c.Optimizer.DtGrowth,
		Tolerance:  c.Optimizer.Tolerance,
	}
}

// Validate reports every malformed option at once.
func (c Config) Validate() error {
	err := multierr.Combine(
		c.PathSearch().Validate(),
		c.Solver().Validate(),
	)
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, errors.Errorf(format, args...))
		}
	}
	check(c.Planner.Horizon > 0, "planner.horizon must be positive, got %v", c.Planner.Horizon)
	check(c.Planner.GoalTolerance >= 0, "planner.goal_tolerance must not be negative, got %v", c.Planner.GoalTolerance)
	check(c.Optimizer.InputLimit > 0, "optimizer.input_limit must be positive, got %v", c.Optimizer.InputLimit)
	check(c.Optimizer.RelaxAttempts >= 0, "optimizer.relax_attempts must not be negative, got %d", c.Optimizer.RelaxAttempts)
	check(c.Optimizer.ShrinkFactor > 0 && c.Optimizer.ShrinkFactor < 1, "optimizer.shrink_factor must be in (0, 1), got %v", c.Optimizer.ShrinkFactor)
	check(c.Verifier.Clearance > 0, "verifier.clearance must be positive, got %v", c.Verifier.Clearance)
	check(c.Verifier.SubSteps > 0, "verifier.sub_steps must be positive, got %d", c.Verifier.SubSteps)
	check(c.Observations.MaxAge > 0, "observations.max_age must be positive, got %v", c.Observations.MaxAge)
	check(c.Observations.QueueSize > 0, "observations.queue_size must be positive, got %d", c.Observations.QueueSize)
	check(c.Timing.ReplanPeriod > 0, "timing.replan_period must be positive, got %v", c.Timing.ReplanPeriod)
	check(c.Timing.OutputPeriod > 0, "timing.output_period must be positive, got %v", c.Timing.OutputPeriod)
	check(c.Timing.OutputPeriod < c.Timing.ReplanPeriod, "timing.output_period %v must be shorter than timing.replan_period %v", c.Timing.OutputPeriod, c.Timing.ReplanPeriod)
	check(c.Flight.TakeoffSpeed > 0, "flight.takeoff_speed must be positive, got %v", c.Flight.TakeoffSpeed)
	check(c.Flight.LandSpeed > 0, "flight.land_speed must be positive, got %v", c.Flight.LandSpeed)
	check(c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	return err
}
