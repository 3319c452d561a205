package fit

import (
	"math"
	"testing"
)

// bowl is a separable quadratic with its minimum at (1, -2, 3) and
// curvature diag(2, 4, 8).
func bowl(p []float64) float64 {
	dx, dy, dz := p[0]-1, p[1]+2, p[2]-3
	return dx*dx + 2*dy*dy + 4*dz*dz + 5
}

func TestMinimizeQuadratic(t *testing.T) {
	nm := &NelderMead{}
	lower := []float64{-100, -100, -100}
	upper := []float64{100, 100, 100}

	res, err := nm.Minimize(bowl, []float64{0, 0, 0}, lower, upper, 1.0)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}

	want := []float64{1, -2, 3}
	for i, w := range want {
		if math.Abs(res.Params[i]-w) > 1e-3 {
			t.Errorf("Parameter %d = %g, want %g", i, res.Params[i], w)
		}
	}
	if math.Abs(res.Value-5) > 1e-6 {
		t.Errorf("Objective at minimum = %g, want 5", res.Value)
	}
	if !res.ReliableCovariance {
		t.Fatal("Expected a reliable covariance for a clean quadratic")
	}

	// Covariance of a quadratic with error definition 1 is 2*H^-1, i.e.
	// diag(1, 0.5, 0.25) for this bowl.
	wantVar := []float64{1, 0.5, 0.25}
	for i, w := range wantVar {
		if got := res.Covariance.At(i, i); math.Abs(got-w) > 0.05*w {
			t.Errorf("Covariance[%d][%d] = %g, want %g", i, i, got, w)
		}
	}
}

func TestErrorScaleHalvesCovariance(t *testing.T) {
	nm := &NelderMead{}
	lower := []float64{-100, -100, -100}
	upper := []float64{100, 100, 100}

	chi2, err := nm.Minimize(bowl, []float64{0, 0, 0}, lower, upper, 1.0)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	lnlike, err := nm.Minimize(bowl, []float64{0, 0, 0}, lower, upper, 0.5)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if !chi2.ReliableCovariance || !lnlike.ReliableCovariance {
		t.Fatal("Expected reliable covariances")
	}
	for i := 0; i < 3; i++ {
		full, half := chi2.Covariance.At(i, i), lnlike.Covariance.At(i, i)
		if math.Abs(half-0.5*full) > 0.05*full {
			t.Errorf("Variance %d with errScale 0.5 = %g, want half of %g", i, half, full)
		}
	}
}

func TestMinimizeRespectsBounds(t *testing.T) {
	nm := &NelderMead{}
	// The unconstrained minimum at x=0 lies outside the box.
	objective := func(p []float64) float64 { return p[0] * p[0] }

	res, err := nm.Minimize(objective, []float64{2}, []float64{1}, []float64{5}, 1.0)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if res.Params[0] < 1-1e-6 || res.Params[0] > 5 {
		t.Errorf("Best parameter %g escaped the bounds [1, 5]", res.Params[0])
	}
	if res.Params[0] > 1.1 {
		t.Errorf("Best parameter %g did not reach the active bound at 1", res.Params[0])
	}
}

func TestMinimizeInputValidation(t *testing.T) {
	nm := &NelderMead{}
	objective := func(p []float64) float64 { return p[0] * p[0] }

	if _, err := nm.Minimize(objective, []float64{0}, []float64{0, 1}, []float64{1}, 1.0); err == nil {
		t.Error("Expected error for mismatched bounds dimensions")
	}
	if _, err := nm.Minimize(objective, []float64{0}, []float64{2}, []float64{1}, 1.0); err == nil {
		t.Error("Expected error for an empty bound interval")
	}
	if _, err := nm.Minimize(objective, []float64{9}, []float64{0}, []float64{1}, 1.0); err == nil {
		t.Error("Expected error for an initial value outside the bounds")
	}
}
