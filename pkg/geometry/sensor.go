package geometry

import (
	"fmt"
	"math"
)

// unitTolerance is the maximum deviation from unit length allowed for a
// sensor normal vector.
const unitTolerance = 1e-9

// SurfaceType identifies the detector surface a sensor is mounted on.
// The simulation supports exactly two surfaces: an infinite plane at a
// fixed height and a cylinder of fixed radius centered on the z axis.
type SurfaceType int

const (
	// Plane marks a sensor mounted on the horizontal plane at z = PlaneHeight.
	Plane SurfaceType = iota

	// Cylinder marks a sensor mounted on the cylinder barrel at radius CylinderRadius.
	Cylinder
)

// String returns the configuration tag for the surface type.
func (s SurfaceType) String() string {
	switch s {
	case Plane:
		return "plane"
	case Cylinder:
		return "cylinder"
	default:
		return fmt.Sprintf("SurfaceType(%d)", int(s))
	}
}

// ParseSurfaceType converts a configuration tag to a SurfaceType.
// Unknown tags are a configuration error, not a default.
func ParseSurfaceType(tag string) (SurfaceType, error) {
	switch tag {
	case "plane":
		return Plane, nil
	case "cylinder":
		return Cylinder, nil
	default:
		return 0, fmt.Errorf("unknown sensor surface type %q (want \"plane\" or \"cylinder\")", tag)
	}
}

// Sensor is a single photon-counting element (e.g. one SiPM) with a fixed
// pose and quantum efficiency plus the mutable counters the simulation and
// reconstruction stages write into.
type Sensor struct {
	// Surface selects which intersection point the simulator tests this
	// sensor against.
	Surface SurfaceType

	// Position is the center of the sensor's active area in mm.
	Position Vec3

	// Normal is the unit vector the solid-angle correction projects onto.
	// Plane sensors point down toward the source side; cylinder sensors
	// point inward toward the axis.
	Normal Vec3

	// QuantumEfficiency is the probability that a photon reaching the
	// active area is registered. Must be in [0, 1].
	QuantumEfficiency float64

	// Hits is the number of Monte-Carlo trials that intersected this
	// sensor. Simulation-scoped.
	Hits int

	// HitProbability is Hits/numTrials scaled by the quantum efficiency.
	// Simulation-scoped.
	HitProbability float64

	// Observed is the emulated photon count for the current event.
	// Reconstruction-scoped.
	Observed int
}

// NewPlaneSensor creates a sensor on the horizontal plane. The normal
// points down, away from the plane toward the side the source sits on.
func NewPlaneSensor(position Vec3, quantumEfficiency float64) (*Sensor, error) {
	if err := checkEfficiency(quantumEfficiency); err != nil {
		return nil, err
	}
	return &Sensor{
		Surface:           Plane,
		Position:          position,
		Normal:            Vec3{0, 0, -1},
		QuantumEfficiency: quantumEfficiency,
	}, nil
}

// NewCylinderSensor creates a sensor on the cylinder barrel. The normal is
// the inward unit vector from the sensor's (x, y) toward the cylinder axis.
// A sensor on the axis itself has no defined normal and is rejected.
func NewCylinderSensor(position Vec3, quantumEfficiency float64) (*Sensor, error) {
	if err := checkEfficiency(quantumEfficiency); err != nil {
		return nil, err
	}
	radial := math.Hypot(position.X, position.Y)
	if radial == 0 {
		return nil, fmt.Errorf("cylinder sensor at (%.3f, %.3f, %.3f) lies on the axis, inward normal undefined",
			position.X, position.Y, position.Z)
	}
	return &Sensor{
		Surface:           Cylinder,
		Position:          position,
		Normal:            Vec3{-position.X / radial, -position.Y / radial, 0},
		QuantumEfficiency: quantumEfficiency,
	}, nil
}

// Validate checks the sensor invariants: a known surface type, a unit
// normal and an efficiency in [0, 1].
func (s *Sensor) Validate() error {
	switch s.Surface {
	case Plane, Cylinder:
	default:
		return fmt.Errorf("sensor has unknown surface type %d", int(s.Surface))
	}
	if math.Abs(s.Normal.Norm()-1) > unitTolerance {
		return fmt.Errorf("sensor normal (%g, %g, %g) is not unit length",
			s.Normal.X, s.Normal.Y, s.Normal.Z)
	}
	return checkEfficiency(s.QuantumEfficiency)
}

// Reset clears the mutable simulation and reconstruction state.
func (s *Sensor) Reset() {
	s.Hits = 0
	s.HitProbability = 0
	s.Observed = 0
}

// clone returns an independent copy of the sensor including its mutable
// counters.
func (s *Sensor) clone() *Sensor {
	c := *s
	return &c
}

func checkEfficiency(qe float64) error {
	if qe < 0 || qe > 1 || math.IsNaN(qe) {
		return fmt.Errorf("quantum efficiency %g outside [0, 1]", qe)
	}
	return nil
}
