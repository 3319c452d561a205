// Package config provides configuration loading and management for sipmpos.
// It handles loading configuration from YAML files, provides default values
// matching the original study setup, and builds the sensor geometry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"sipmpos/pkg/geometry"
)

// SensorConfig describes one explicitly placed sensor.
type SensorConfig struct {
	// Surface is the sensor surface tag: "plane" or "cylinder".
	Surface string `yaml:"surface"`

	// X, Y, Z is the sensor position in mm. It must lie on the declared
	// surface.
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`

	// QuantumEfficiency is the photon detection probability in [0, 1].
	QuantumEfficiency float64 `yaml:"quantumEfficiency"`
}

// RingConfig places sensors evenly spaced in azimuth on the cylinder.
type RingConfig struct {
	// Count is the number of sensors on the ring.
	Count int `yaml:"count"`

	// Z is the ring height in mm.
	Z float64 `yaml:"z"`

	// QuantumEfficiency applies to every sensor on the ring.
	QuantumEfficiency float64 `yaml:"quantumEfficiency"`
}

// GridConfig places a rectangular grid of sensors on the plane.
type GridConfig struct {
	// Nx, Ny are the grid dimensions.
	Nx int `yaml:"nx"`
	Ny int `yaml:"ny"`

	// Pitch is the sensor spacing in mm.
	Pitch float64 `yaml:"pitch"`

	// CenterX, CenterY is the grid center in mm.
	CenterX float64 `yaml:"centerX"`
	CenterY float64 `yaml:"centerY"`

	// QuantumEfficiency applies to every sensor in the grid.
	QuantumEfficiency float64 `yaml:"quantumEfficiency"`
}

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Geometry parameters
	Geometry struct {
		// PlaneHeight is the z of the sensor plane in mm.
		PlaneHeight float64 `yaml:"planeHeight"`

		// CylinderRadius is the radius of the sensor cylinder in mm.
		CylinderRadius float64 `yaml:"cylinderRadius"`

		// AcceptanceRadius is the effective sensor radius in mm.
		AcceptanceRadius float64 `yaml:"acceptanceRadius"`

		// Sensors are explicitly placed sensors.
		Sensors []SensorConfig `yaml:"sensors"`

		// Rings are generated cylinder rings.
		Rings []RingConfig `yaml:"rings"`

		// Grids are generated plane grids.
		Grids []GridConfig `yaml:"grids"`
	} `yaml:"geometry"`

	// Simulation parameters
	Simulation struct {
		// Trials is the number of Monte-Carlo photons.
		Trials int `yaml:"trials"`

		// Workers is the number of parallel trial shards.
		Workers int `yaml:"workers"`

		// Seed is the master random seed.
		Seed uint64 `yaml:"seed"`

		// SourceX, SourceY, SourceZ is the photon source position in mm.
		SourceX float64 `yaml:"sourceX"`
		SourceY float64 `yaml:"sourceY"`
		SourceZ float64 `yaml:"sourceZ"`
	} `yaml:"simulation"`

	// Reconstruction parameters
	Reconstruction struct {
		// Method is the reconstruction method tag: "cog", "chi2" or "lnlike".
		Method string `yaml:"method"`

		// Events is the number of emulated events.
		Events int `yaml:"events"`

		// PhotonsPerEvent is the emitted photon intensity per event.
		PhotonsPerEvent float64 `yaml:"photonsPerEvent"`

		// IntensityGuess is the starting value of the fitted rate.
		IntensityGuess float64 `yaml:"intensityGuess"`

		// IntensityMax bounds the fitted rate from above.
		IntensityMax float64 `yaml:"intensityMax"`

		// XMin/XMax/YMin/YMax bound the spatial fit window in mm.
		XMin float64 `yaml:"xMin"`
		XMax float64 `yaml:"xMax"`
		YMin float64 `yaml:"yMin"`
		YMax float64 `yaml:"yMax"`
	} `yaml:"reconstruction"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values matching the
// original study: sensor plane at z=100mm, 50mm cylinder, 1.5mm effective
// SiPM radius, a +-150mm fit window and one 8-sensor ring.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Geometry.PlaneHeight = 100
	cfg.Geometry.CylinderRadius = 50
	cfg.Geometry.AcceptanceRadius = 1.5
	cfg.Geometry.Rings = []RingConfig{{Count: 8, Z: 50, QuantumEfficiency: 0.5}}

	cfg.Simulation.Trials = 1000000
	cfg.Simulation.Workers = runtime.NumCPU()
	cfg.Simulation.Seed = 12345
	cfg.Simulation.SourceZ = 50

	cfg.Reconstruction.Method = "lnlike"
	cfg.Reconstruction.Events = 1000
	cfg.Reconstruction.PhotonsPerEvent = 10000
	cfg.Reconstruction.IntensityGuess = 1000
	cfg.Reconstruction.IntensityMax = 1e7
	cfg.Reconstruction.XMin = -150
	cfg.Reconstruction.XMax = 150
	cfg.Reconstruction.YMin = -150
	cfg.Reconstruction.YMax = 150

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// BuildGeometry constructs the sensor geometry described by the
// configuration: explicit sensors first, then generated rings and grids,
// preserving declaration order.
func (cfg *Config) BuildGeometry() (*geometry.Geometry, error) {
	geo, err := geometry.New(
		cfg.Geometry.PlaneHeight,
		cfg.Geometry.CylinderRadius,
		cfg.Geometry.AcceptanceRadius,
	)
	if err != nil {
		return nil, err
	}

	for i, sc := range cfg.Geometry.Sensors {
		surface, err := geometry.ParseSurfaceType(sc.Surface)
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", i, err)
		}
		position := geometry.Vec3{X: sc.X, Y: sc.Y, Z: sc.Z}
		var sensor *geometry.Sensor
		switch surface {
		case geometry.Plane:
			sensor, err = geometry.NewPlaneSensor(position, sc.QuantumEfficiency)
		case geometry.Cylinder:
			sensor, err = geometry.NewCylinderSensor(position, sc.QuantumEfficiency)
		}
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", i, err)
		}
		if err := geo.AddSensor(sensor); err != nil {
			return nil, fmt.Errorf("sensor %d: %w", i, err)
		}
	}

	for i, rc := range cfg.Geometry.Rings {
		if err := geo.AddCylinderRing(rc.Count, rc.Z, rc.QuantumEfficiency); err != nil {
			return nil, fmt.Errorf("ring %d: %w", i, err)
		}
	}

	for i, gc := range cfg.Geometry.Grids {
		if err := geo.AddPlaneGrid(gc.Nx, gc.Ny, gc.Pitch, gc.CenterX, gc.CenterY, gc.QuantumEfficiency); err != nil {
			return nil, fmt.Errorf("grid %d: %w", i, err)
		}
	}

	if geo.NumSensors() == 0 {
		return nil, fmt.Errorf("configuration declares no sensors")
	}
	return geo, nil
}
