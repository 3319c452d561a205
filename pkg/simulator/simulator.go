// Package simulator computes per-sensor photon detection acceptance by
// Monte-Carlo ray tracing. Photons are emitted isotropically from a fixed
// source position; each trajectory is intersected with the sensor plane
// and the sensor cylinder, and a sensor counts a hit when the intersection
// point on its surface falls inside the acceptance radius.
package simulator

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/rand"

	"sipmpos/pkg/geometry"
)

// directionEpsilon is the threshold below which the z component of a
// photon direction is treated as parallel to the sensor plane.
const directionEpsilon = 1e-10

// cosThetaBins matches the binning of the original diagnostic histogram.
const cosThetaBins = 1000

// ProgressCallback reports the number of completed trials. It is invoked
// periodically from the trial loop, not for every trial.
type ProgressCallback func(completed, total int)

// Option configures a Simulator.
type Option func(*Simulator)

// WithWorkers sets the number of parallel trial shards. Trials are
// statistically independent, so shards only share the final counter
// reduction. Reproducibility requires a fixed (seed, workers) pair.
func WithWorkers(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSeed sets the master seed the per-shard generators derive from.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) { s.seed = seed }
}

// WithProgress sets an optional progress callback. Without one, progress
// is printed to stdout every 100k trials.
func WithProgress(cb ProgressCallback) Option {
	return func(s *Simulator) { s.progress = cb }
}

// Simulator runs the Monte-Carlo acceptance computation over an isolated
// deep copy of a Geometry. Accumulated hit state never leaks back into the
// caller's configuration.
type Simulator struct {
	geo    *geometry.Geometry
	source geometry.Vec3

	workers  int
	seed     uint64
	progress ProgressCallback

	// cosTheta is the diagnostic distribution of sampled polar angles.
	cosTheta *Histogram
}

// New creates a simulator for a photon source at the given position. The
// geometry is deep-cloned; the caller's sensors are never mutated.
func New(geo *geometry.Geometry, source geometry.Vec3, opts ...Option) *Simulator {
	s := &Simulator{
		geo:      geo.Clone(),
		source:   source,
		workers:  runtime.NumCPU(),
		seed:     1,
		cosTheta: NewHistogram(cosThetaBins, -1.1, 1.1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Geometry returns the simulator's private geometry copy. After Run it
// carries the per-sensor hit probabilities.
func (s *Simulator) Geometry() *geometry.Geometry { return s.geo }

// Source returns the photon source position.
func (s *Simulator) Source() geometry.Vec3 { return s.source }

// CosThetaHistogram returns the diagnostic cos(theta) distribution
// accumulated during Run.
func (s *Simulator) CosThetaHistogram() *Histogram { return s.cosTheta }

// shardCounts holds the results of one worker's share of trials.
type shardCounts struct {
	hits []int
	hist *Histogram
}

// Run generates numTrials isotropic photons and updates the hit counters
// and hit probabilities on the simulator's geometry copy. numTrials = 0 is
// allowed and yields zero probability for every sensor.
func (s *Simulator) Run(numTrials int) error {
	if numTrials < 0 {
		return fmt.Errorf("number of Monte-Carlo trials must be non-negative, got %d", numTrials)
	}
	sensors := s.geo.Sensors()
	for _, sensor := range sensors {
		sensor.Hits = 0
		sensor.HitProbability = 0
	}
	if numTrials == 0 {
		return nil
	}

	workers := s.workers
	if workers > numTrials {
		workers = numTrials
	}

	// Distribute trials across shards; the remainder goes to the first
	// shards one trial at a time.
	perShard := make([]int, workers)
	base, rem := numTrials/workers, numTrials%workers
	for w := range perShard {
		perShard[w] = base
		if w < rem {
			perShard[w]++
		}
	}

	var completed int64
	reportEvery := int64(100000)

	results := make([]shardCounts, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		wid := w
		go func() {
			defer wg.Done()
			// Independent per-shard stream derived from the master seed.
			rng := rand.New(rand.NewSource(s.seed + uint64(wid)*0x9e3779b97f4a7c15))
			results[wid] = s.runShard(rng, perShard[wid], &completed, int64(numTrials), reportEvery)
		}()
	}
	wg.Wait()

	// Reduce shard counters by summation; ordering among trials carries no
	// meaning.
	for _, res := range results {
		for i, n := range res.hits {
			sensors[i].Hits += n
		}
		s.cosTheta.Merge(res.hist)
	}
	for _, sensor := range sensors {
		p := float64(sensor.Hits) / float64(numTrials)
		sensor.HitProbability = p * sensor.QuantumEfficiency
	}
	return nil
}

// runShard executes one worker's trials against a private counter set.
func (s *Simulator) runShard(rng *rand.Rand, trials int, completed *int64, total, reportEvery int64) shardCounts {
	res := shardCounts{
		hits: make([]int, s.geo.NumSensors()),
		hist: NewHistogram(cosThetaBins, -1.1, 1.1),
	}
	sensors := s.geo.Sensors()
	accept := s.geo.AcceptanceRadius()

	for i := 0; i < trials; i++ {
		dir := s.sampleDirection(rng)
		res.hist.Add(dir.Z)

		pointPlane := s.source.Add(dir.Scale(s.intersectPlane(dir)))
		pointCylinder := s.source.Add(dir.Scale(s.intersectCylinder(dir)))

		for j, sensor := range sensors {
			point := pointPlane
			if sensor.Surface == geometry.Cylinder {
				point = pointCylinder
			}
			if point.Distance(sensor.Position) < accept {
				res.hits[j]++
			}
		}

		if done := atomic.AddInt64(completed, 1); done%reportEvery == 0 {
			if s.progress != nil {
				s.progress(int(done), int(total))
			} else {
				fmt.Printf("generated %d of %d photons\n", done, total)
			}
		}
	}
	return res
}

// sampleDirection draws an isotropic unit direction:
// cos(theta) ~ U(-1, 1), phi ~ U(0, 2*pi).
func (s *Simulator) sampleDirection(rng *rand.Rand) geometry.Vec3 {
	cost := -1 + 2*rng.Float64()
	sint := math.Sqrt(1 - cost*cost)
	phi := 2 * math.Pi * rng.Float64()
	return geometry.Vec3{
		X: math.Cos(phi) * sint,
		Y: math.Sin(phi) * sint,
		Z: cost,
	}
}

// intersectPlane returns the path length to the sensor plane, or 0 when
// the photon travels parallel to the plane or away from it.
func (s *Simulator) intersectPlane(dir geometry.Vec3) float64 {
	if math.Abs(dir.Z) <= directionEpsilon {
		return 0
	}
	path := (s.geo.PlaneHeight() - s.source.Z) / dir.Z
	if path < 0 {
		return 0
	}
	return path
}

// intersectCylinder returns the path length to the far intersection with
// the sensor cylinder by solving A*s^2 + B*s + C = 0. A negative
// discriminant means no intersection; a vanishing discriminant is the
// grazing case and is handled identically via the repeated root.
func (s *Simulator) intersectCylinder(dir geometry.Vec3) float64 {
	a := dir.X*dir.X + dir.Y*dir.Y
	if a == 0 {
		// Photon travels straight along the axis.
		return 0
	}
	b := 2 * (s.source.X*dir.X + s.source.Y*dir.Y)
	c := s.source.X*s.source.X + s.source.Y*s.source.Y - s.geo.CylinderRadius()*s.geo.CylinderRadius()

	discriminant := b*b - 4*a*c
	if discriminant < 0 {
		return 0
	}
	root := math.Sqrt(discriminant)
	s0 := (-b + root) / (2 * a)
	s1 := (-b - root) / (2 * a)
	if s0 > s1 {
		return s0
	}
	return s1
}

// Print writes the per-sensor hit probability table to stdout, matching
// the layout of the original diagnostic dump.
func (s *Simulator) Print() {
	fmt.Printf("Number of sensors = %d  Generated hits from x = (%.1f, %.1f, %.1f)\n",
		s.geo.NumSensors(), s.source.X, s.source.Y, s.source.Z)
	for i, sensor := range s.geo.Sensors() {
		fmt.Printf("%2d  (x,y,z) = (%6.1f, %6.1f, %6.1f) p(hit) = %7.5f  qe = %5.3f\n",
			i, sensor.Position.X, sensor.Position.Y, sensor.Position.Z,
			sensor.HitProbability, sensor.QuantumEfficiency)
	}
}
