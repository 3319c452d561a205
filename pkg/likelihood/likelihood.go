// Package likelihood scores how well a candidate source hypothesis
// (intensity, x, y) explains the photon counts observed on a set of
// sensors. Two statistics are supported: Pearson's chi-square and the
// negative Poisson log-likelihood.
package likelihood

import (
	"fmt"
	"math"

	"sipmpos/pkg/geometry"
)

// expectedFloor is the smallest expected count used as a divisor or
// logarithm argument. The model is undefined at zero expectation; rather
// than skipping the sensor, the expectation is floored so that hypotheses
// placing the source where a populated sensor should see nothing are
// penalized heavily instead of being ignored.
const expectedFloor = 1e-12

// stirlingThreshold is the observed count above which ln(n!) switches from
// the exact sum of logarithms to the Stirling approximation.
const stirlingThreshold = 100

// Statistic selects the goodness-of-fit statistic.
type Statistic int

const (
	// ChiSquare is Pearson's chi-square: sum (n - e)^2 / e.
	ChiSquare Statistic = iota

	// PoissonLogLikelihood is the negative Poisson log-likelihood:
	// sum e - n*ln(e) + ln(n!).
	PoissonLogLikelihood
)

// String returns the configuration tag for the statistic.
func (s Statistic) String() string {
	switch s {
	case ChiSquare:
		return "chi2"
	case PoissonLogLikelihood:
		return "lnlike"
	default:
		return fmt.Sprintf("Statistic(%d)", int(s))
	}
}

// ParseStatistic converts a configuration tag to a Statistic. An unknown
// tag is a configuration error; there is no silent default.
func ParseStatistic(tag string) (Statistic, error) {
	switch tag {
	case "chi2":
		return ChiSquare, nil
	case "lnlike":
		return PoissonLogLikelihood, nil
	default:
		return 0, fmt.Errorf("unknown fit statistic %q (want \"chi2\" or \"lnlike\")", tag)
	}
}

// sensorTerm is the per-sensor snapshot the model evaluates against.
type sensorTerm struct {
	position geometry.Vec3
	normal   geometry.Vec3
	qe       float64
	observed float64
}

// PositionModel evaluates a goodness-of-fit statistic for candidate source
// hypotheses. It snapshots the sensor poses, efficiencies and observed
// counts at construction, so Evaluate is pure and safe to call repeatedly:
// it is driven by the minimizer across many candidate points and may also
// be scanned over a grid by diagnostic collaborators.
type PositionModel struct {
	stat  Statistic
	terms []sensorTerm
}

// NewPositionModel builds a model from the sensors' current observed
// counts. The statistic must be one of the supported kinds.
func NewPositionModel(sensors []*geometry.Sensor, stat Statistic) (*PositionModel, error) {
	switch stat {
	case ChiSquare, PoissonLogLikelihood:
	default:
		return nil, fmt.Errorf("unsupported fit statistic %d", int(stat))
	}
	if len(sensors) == 0 {
		return nil, fmt.Errorf("position model needs at least one sensor")
	}
	m := &PositionModel{stat: stat, terms: make([]sensorTerm, len(sensors))}
	for i, s := range sensors {
		m.terms[i] = sensorTerm{
			position: s.Position,
			normal:   s.Normal,
			qe:       s.QuantumEfficiency,
			observed: float64(s.Observed),
		}
	}
	return m, nil
}

// Statistic returns the statistic kind the model was built with.
func (m *PositionModel) Statistic() Statistic { return m.stat }

// NumSensors returns the number of sensor terms in the sum.
func (m *PositionModel) NumSensors() int { return len(m.terms) }

// Evaluate returns the total statistic for a source of the given intensity
// at (x, y, 0). Smaller is better for both statistics.
func (m *PositionModel) Evaluate(intensity, x, y float64) float64 {
	total := 0.0
	for i := range m.terms {
		t := &m.terms[i]
		expected := m.expected(t, intensity, x, y)
		if expected < expectedFloor {
			expected = expectedFloor
		}
		switch m.stat {
		case ChiSquare:
			res := t.observed - expected
			total += res * res / expected
		case PoissonLogLikelihood:
			total += expected - t.observed*math.Log(expected) + lnFactorial(t.observed)
		}
	}
	return total
}

// Expected returns the expected count on sensor i for the hypothesis,
// before flooring: intensity * cos_eff * qe / dist^2, where cos_eff is the
// solid-angle projection of the source-to-sensor direction onto the sensor
// normal.
func (m *PositionModel) Expected(intensity, x, y float64, i int) float64 {
	return m.expected(&m.terms[i], intensity, x, y)
}

// GeometricFactor returns cos_eff * qe / dist^2 for sensor i, the
// per-sensor response to a unit-intensity source at (x, y, 0).
func (m *PositionModel) GeometricFactor(x, y float64, i int) float64 {
	return m.expected(&m.terms[i], 1, x, y)
}

// Observed returns the snapshotted count for sensor i.
func (m *PositionModel) Observed(i int) float64 { return m.terms[i].observed }

func (m *PositionModel) expected(t *sensorTerm, intensity, x, y float64) float64 {
	delta := t.position.Sub(geometry.Vec3{X: x, Y: y})
	dist := delta.Norm()
	if dist < expectedFloor {
		// Candidate source sits exactly on the sensor.
		dist = expectedFloor
	}
	cosEff := math.Abs(delta.Dot(t.normal)) / dist
	return intensity / (dist * dist) * cosEff * t.qe
}

// lnFactorial returns ln(n!) exactly (as a sum of logarithms) for small n
// and via the Stirling approximation n*ln(n) - n for n >= 100.
func lnFactorial(n float64) float64 {
	if n < stirlingThreshold {
		total := 0.0
		for k := 2.0; k <= n; k++ {
			total += math.Log(k)
		}
		return total
	}
	return n*math.Log(n) - n
}
