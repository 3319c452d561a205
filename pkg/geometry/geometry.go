// Package geometry describes the fixed experimental configuration for the
// acceptance simulation: an infinite sensor plane at a fixed height, a
// sensor cylinder of fixed radius centered on the z axis, and an ordered
// collection of sensors mounted on one of the two surfaces.
package geometry

import (
	"fmt"
	"math"
)

// surfaceTolerance is the maximum distance a sensor position may sit off
// its declared surface before AddSensor rejects it.
const surfaceTolerance = 1e-6

// Geometry holds the experiment configuration. The scalar fields are fixed
// at construction; only the sensors carry mutable state, and components
// that mutate it (the simulator) must work on a Clone.
type Geometry struct {
	planeHeight      float64
	cylinderRadius   float64
	acceptanceRadius float64

	sensors []*Sensor
}

// New creates an empty geometry. The acceptance radius is the uniform
// effective radius of every sensor's active area (e.g. 1.5mm for a 3x3mm2
// SiPM) and must be positive.
func New(planeHeight, cylinderRadius, acceptanceRadius float64) (*Geometry, error) {
	if acceptanceRadius <= 0 {
		return nil, fmt.Errorf("sensor acceptance radius must be positive, got %g", acceptanceRadius)
	}
	if cylinderRadius <= 0 {
		return nil, fmt.Errorf("cylinder radius must be positive, got %g", cylinderRadius)
	}
	return &Geometry{
		planeHeight:      planeHeight,
		cylinderRadius:   cylinderRadius,
		acceptanceRadius: acceptanceRadius,
	}, nil
}

// PlaneHeight returns the z coordinate of the sensor plane in mm.
func (g *Geometry) PlaneHeight() float64 { return g.planeHeight }

// CylinderRadius returns the radius of the sensor cylinder in mm.
func (g *Geometry) CylinderRadius() float64 { return g.cylinderRadius }

// AcceptanceRadius returns the effective sensor radius in mm.
func (g *Geometry) AcceptanceRadius() float64 { return g.acceptanceRadius }

// SensorArea returns the active area pi*r^2 of a single sensor in mm^2.
func (g *Geometry) SensorArea() float64 {
	return math.Pi * g.acceptanceRadius * g.acceptanceRadius
}

// Sensors returns the ordered sensor collection. Insertion order is
// significant: observed-count snapshots and probability tables are indexed
// by it.
func (g *Geometry) Sensors() []*Sensor { return g.sensors }

// NumSensors returns the number of sensors in the geometry.
func (g *Geometry) NumSensors() int { return len(g.sensors) }

// AddSensor validates the sensor and appends it. A sensor must lie on the
// surface its type declares: plane sensors on z = PlaneHeight, cylinder
// sensors on x^2 + y^2 = CylinderRadius^2.
func (g *Geometry) AddSensor(s *Sensor) error {
	if err := s.Validate(); err != nil {
		return err
	}
	switch s.Surface {
	case Plane:
		if math.Abs(s.Position.Z-g.planeHeight) > surfaceTolerance {
			return fmt.Errorf("plane sensor at z=%g is off the sensor plane z=%g", s.Position.Z, g.planeHeight)
		}
	case Cylinder:
		if r := math.Hypot(s.Position.X, s.Position.Y); math.Abs(r-g.cylinderRadius) > surfaceTolerance {
			return fmt.Errorf("cylinder sensor at radius %g is off the cylinder r=%g", r, g.cylinderRadius)
		}
	}
	g.sensors = append(g.sensors, s)
	return nil
}

// Clone returns a deep copy of the geometry with independent Sensor
// instances. Hit counters, probabilities and observed counts on the copy
// never leak back into the original; this is the contract the simulator
// relies on.
func (g *Geometry) Clone() *Geometry {
	c := &Geometry{
		planeHeight:      g.planeHeight,
		cylinderRadius:   g.cylinderRadius,
		acceptanceRadius: g.acceptanceRadius,
		sensors:          make([]*Sensor, len(g.sensors)),
	}
	for i, s := range g.sensors {
		c.sensors[i] = s.clone()
	}
	return c
}

// AddCylinderRing places n sensors evenly spaced in azimuth on the
// cylinder barrel at height z, all with the same quantum efficiency.
func (g *Geometry) AddCylinderRing(n int, z, quantumEfficiency float64) error {
	if n < 1 {
		return fmt.Errorf("cylinder ring needs at least one sensor, got %d", n)
	}
	for i := 0; i < n; i++ {
		phi := 2 * math.Pi * float64(i) / float64(n)
		s, err := NewCylinderSensor(Vec3{
			X: g.cylinderRadius * math.Cos(phi),
			Y: g.cylinderRadius * math.Sin(phi),
			Z: z,
		}, quantumEfficiency)
		if err != nil {
			return err
		}
		if err := g.AddSensor(s); err != nil {
			return err
		}
	}
	return nil
}

// AddPlaneGrid places an nx-by-ny grid of plane sensors with the given
// pitch, centered on (cx, cy), all with the same quantum efficiency.
func (g *Geometry) AddPlaneGrid(nx, ny int, pitch, cx, cy, quantumEfficiency float64) error {
	if nx < 1 || ny < 1 {
		return fmt.Errorf("plane grid needs positive dimensions, got %dx%d", nx, ny)
	}
	x0 := cx - pitch*float64(nx-1)/2
	y0 := cy - pitch*float64(ny-1)/2
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			s, err := NewPlaneSensor(Vec3{
				X: x0 + pitch*float64(ix),
				Y: y0 + pitch*float64(iy),
				Z: g.planeHeight,
			}, quantumEfficiency)
			if err != nil {
				return err
			}
			if err := g.AddSensor(s); err != nil {
				return err
			}
		}
	}
	return nil
}
