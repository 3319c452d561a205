package likelihood

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"sipmpos/pkg/geometry"
)

// gridSensors builds a small plane grid at z=100 with observed counts set
// to the exact model expectation for a source of the given intensity at
// (x, y, 0), rounded to whole photons.
func gridSensors(t *testing.T, intensity, x, y float64) []*geometry.Sensor {
	t.Helper()
	geo, err := geometry.New(100, 50, 1.5)
	if err != nil {
		t.Fatalf("Failed to create geometry: %v", err)
	}
	if err := geo.AddPlaneGrid(3, 3, 40, 0, 0, 1.0); err != nil {
		t.Fatalf("Failed to add grid: %v", err)
	}
	sensors := geo.Sensors()

	probe, err := NewPositionModel(sensors, ChiSquare)
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}
	for i, s := range sensors {
		s.Observed = int(math.Round(probe.Expected(intensity, x, y, i)))
	}
	return sensors
}

func TestParseStatistic(t *testing.T) {
	if s, err := ParseStatistic("chi2"); err != nil || s != ChiSquare {
		t.Errorf("ParseStatistic(chi2) = %v, %v", s, err)
	}
	if s, err := ParseStatistic("lnlike"); err != nil || s != PoissonLogLikelihood {
		t.Errorf("ParseStatistic(lnlike) = %v, %v", s, err)
	}
	if _, err := ParseStatistic("gauss"); err == nil {
		t.Error("Expected error for unknown statistic tag")
	}
}

func TestNewPositionModelRejectsBadInput(t *testing.T) {
	sensors := gridSensors(t, 1e6, 0, 0)
	if _, err := NewPositionModel(sensors, Statistic(99)); err == nil {
		t.Error("Expected error for unsupported statistic")
	}
	if _, err := NewPositionModel(nil, ChiSquare); err == nil {
		t.Error("Expected error for empty sensor list")
	}
}

// TestChiSquareSmallAtTruth pins counts to the model prediction; the
// chi-square at the true hypothesis is then bounded by rounding noise only.
func TestChiSquareSmallAtTruth(t *testing.T) {
	const intensity = 2e6
	sensors := gridSensors(t, intensity, 10, -5)
	m, err := NewPositionModel(sensors, ChiSquare)
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}

	atTruth := m.Evaluate(intensity, 10, -5)
	if atTruth > 0.05 {
		t.Errorf("Chi-square at the true hypothesis = %g, want ~0", atTruth)
	}

	// Any displaced hypothesis must score worse.
	for _, off := range [][2]float64{{30, -5}, {10, 20}, {-40, 40}} {
		if v := m.Evaluate(intensity, off[0], off[1]); v <= atTruth {
			t.Errorf("Chi-square at (%g, %g) = %g, not worse than truth %g", off[0], off[1], v, atTruth)
		}
	}
}

func TestPoissonTermMatchesFormula(t *testing.T) {
	geo, err := geometry.New(100, 50, 1.5)
	if err != nil {
		t.Fatalf("Failed to create geometry: %v", err)
	}
	s, err := geometry.NewPlaneSensor(geometry.Vec3{Z: 100}, 1.0)
	if err != nil {
		t.Fatalf("Failed to create sensor: %v", err)
	}
	if err := geo.AddSensor(s); err != nil {
		t.Fatalf("Failed to add sensor: %v", err)
	}
	s.Observed = 7

	m, err := NewPositionModel(geo.Sensors(), PoissonLogLikelihood)
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}

	// Source on the axis: expected = intensity / d^2 for a unit-efficiency
	// sensor at normal incidence.
	const intensity = 50000.0
	expected := intensity / (100.0 * 100.0)
	want := expected - 7*math.Log(expected) + math.Log(5040) // ln(7!)
	if got := m.Evaluate(intensity, 0, 0); math.Abs(got-want) > 1e-9 {
		t.Errorf("Poisson term = %g, want %g", got, want)
	}
}

func TestLnFactorial(t *testing.T) {
	// Exact regime: ln(5!) = ln(120).
	if got, want := lnFactorial(5), math.Log(120); math.Abs(got-want) > 1e-12 {
		t.Errorf("lnFactorial(5) = %g, want %g", got, want)
	}
	if got := lnFactorial(0); got != 0 {
		t.Errorf("lnFactorial(0) = %g, want 0", got)
	}
	if got := lnFactorial(1); got != 0 {
		t.Errorf("lnFactorial(1) = %g, want 0", got)
	}

	// Stirling regime: n*ln(n) - n from the threshold up.
	n := 250.0
	if got, want := lnFactorial(n), n*math.Log(n)-n; got != want {
		t.Errorf("lnFactorial(%g) = %g, want Stirling value %g", n, got, want)
	}

	// The two regimes agree to the accuracy of the approximation at the
	// switch point.
	exact := 0.0
	for k := 2.0; k <= 100; k++ {
		exact += math.Log(k)
	}
	if rel := math.Abs(lnFactorial(100)-exact) / exact; rel > 0.01 {
		t.Errorf("Stirling value at the threshold deviates %.2f%% from the exact sum", 100*rel)
	}
}

// TestChiSquareExpectationAtTruth samples Poisson counts around the model
// prediction; the chi-square at the generating parameters then has
// expectation equal to the number of sensors.
func TestChiSquareExpectationAtTruth(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping statistical expectation test in short mode")
	}

	const (
		intensity = 2e6
		events    = 200
	)
	sensors := gridSensors(t, intensity, 0, 0)
	probe, err := NewPositionModel(sensors, ChiSquare)
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}

	rng := rand.New(rand.NewSource(21))
	sum := 0.0
	for e := 0; e < events; e++ {
		for i, s := range sensors {
			poisson := distuv.Poisson{Lambda: probe.Expected(intensity, 0, 0, i), Src: rng}
			s.Observed = int(poisson.Rand())
		}
		m, err := NewPositionModel(sensors, ChiSquare)
		if err != nil {
			t.Fatalf("Failed to create model: %v", err)
		}
		sum += m.Evaluate(intensity, 0, 0)
	}

	mean := sum / events
	want := float64(len(sensors))
	if math.Abs(mean-want) > 3 {
		t.Errorf("Mean chi-square at the truth = %g over %d events, want about %g", mean, events, want)
	}
}

func TestEvaluateIsFiniteEverywhere(t *testing.T) {
	sensors := gridSensors(t, 1e6, 0, 0)
	for _, stat := range []Statistic{ChiSquare, PoissonLogLikelihood} {
		m, err := NewPositionModel(sensors, stat)
		if err != nil {
			t.Fatalf("Failed to create model: %v", err)
		}
		// Zero intensity and a source placed exactly on a sensor both drive
		// the raw expectation to a degenerate value; the floor must keep the
		// statistic finite.
		for _, p := range [][3]float64{{0, 0, 0}, {1e6, 0, 0}, {1e6, 40, 40}} {
			v := m.Evaluate(p[0], p[1], p[2])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%v statistic is not finite at (%g, %g, %g): %g", stat, p[0], p[1], p[2], v)
			}
		}
	}
}

// TestSnapshotIsolation mutates the sensors after model construction; the
// model must keep scoring against the counts it snapshotted.
func TestSnapshotIsolation(t *testing.T) {
	sensors := gridSensors(t, 1e6, 0, 0)
	m, err := NewPositionModel(sensors, ChiSquare)
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}

	before := m.Evaluate(1e6, 0, 0)
	for _, s := range sensors {
		s.Observed += 1000
	}
	if after := m.Evaluate(1e6, 0, 0); after != before {
		t.Errorf("Model re-read mutated counts: %g vs %g", after, before)
	}
}

func TestGeometricFactor(t *testing.T) {
	sensors := gridSensors(t, 1e6, 0, 0)
	m, err := NewPositionModel(sensors, ChiSquare)
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}

	// The factor is the expected count at unit intensity, so scaling the
	// intensity must scale the expectation linearly.
	for i := 0; i < m.NumSensors(); i++ {
		f := m.GeometricFactor(5, -3, i)
		if e := m.Expected(1234, 5, -3, i); math.Abs(e-1234*f) > 1e-9*e {
			t.Errorf("Sensor %d expectation %g is not linear in intensity (factor %g)", i, e, f)
		}
	}

	// Center sensor at normal incidence: cos_eff = 1, so the factor is
	// 1 / d^2 with d = 100.
	center := 4
	want := 1.0 / (100.0 * 100.0)
	if got := m.GeometricFactor(0, 0, center); math.Abs(got-want) > 1e-15 {
		t.Errorf("Center geometric factor = %g, want %g", got, want)
	}
}
