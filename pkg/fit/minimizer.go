// Package fit wraps an external numerical minimizer behind a narrow
// capability interface, so the reconstruction logic stays independent of
// the concrete optimization algorithm plugged in.
package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// boundsPenalty dominates any physical objective value and pushes the
// simplex back inside the box.
const boundsPenalty = 1e30

// Result is the outcome of a minimization.
type Result struct {
	// Params are the best-fit parameter values.
	Params []float64

	// Value is the objective at Params.
	Value float64

	// ReliableCovariance reports whether the numerical Hessian at the
	// minimum was positive definite, i.e. whether the parameter
	// uncertainties are well defined. Fits without it must be rejected.
	ReliableCovariance bool

	// Covariance is the parameter covariance 2*errScale*H^-1, or nil when
	// ReliableCovariance is false.
	Covariance *mat.SymDense
}

// Minimizer is the capability consumed by the reconstruction: given an
// objective, a starting point and box bounds, return the best parameters,
// the objective value there and a covariance-reliability verdict.
// errScale is the error definition of the objective (1.0 for chi-square,
// 0.5 for a negative log-likelihood).
type Minimizer interface {
	Minimize(objective func([]float64) float64, initial, lower, upper []float64, errScale float64) (*Result, error)
}

// NelderMead minimizes with gonum's Nelder-Mead simplex. Bounds are
// enforced with a penalty wall; the covariance check takes a
// forward-difference Hessian at the optimum and Cholesky-factorizes it.
type NelderMead struct {
	// Converger overrides the default function convergence test.
	Converger optimize.Converger
}

var _ Minimizer = (*NelderMead)(nil)

// Minimize implements Minimizer.
func (nm *NelderMead) Minimize(objective func([]float64) float64, initial, lower, upper []float64, errScale float64) (*Result, error) {
	n := len(initial)
	if len(lower) != n || len(upper) != n {
		return nil, fmt.Errorf("bounds dimension %d/%d does not match %d parameters", len(lower), len(upper), n)
	}
	for i := range initial {
		if lower[i] > upper[i] {
			return nil, fmt.Errorf("parameter %d has empty bound interval [%g, %g]", i, lower[i], upper[i])
		}
		if initial[i] < lower[i] || initial[i] > upper[i] {
			return nil, fmt.Errorf("initial value %g of parameter %d outside bounds [%g, %g]",
				initial[i], i, lower[i], upper[i])
		}
	}

	bounded := func(x []float64) float64 {
		excess := 0.0
		for i := range x {
			if x[i] < lower[i] {
				excess += lower[i] - x[i]
			} else if x[i] > upper[i] {
				excess += x[i] - upper[i]
			}
		}
		if excess > 0 {
			return boundsPenalty * (1 + excess)
		}
		return objective(x)
	}

	converger := nm.Converger
	if converger == nil {
		converger = &optimize.FunctionConverge{Absolute: 1e-10, Iterations: 200}
	}
	settings := &optimize.Settings{Converger: converger}

	problem := optimize.Problem{Func: bounded}
	res, err := optimize.Minimize(problem, append([]float64(nil), initial...), settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("minimization failed: %w", err)
	}

	out := &Result{
		Params: append([]float64(nil), res.X...),
		Value:  res.F,
	}
	switch res.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.MethodConverge:
	default:
		// Ran out of budget before converging; uncertainties are meaningless.
		return out, nil
	}

	// The covariance is well defined only when the Hessian at the minimum
	// is positive definite.
	hessian := mat.NewSymDense(n, nil)
	fd.Hessian(hessian, bounded, out.Params, nil)
	if !isFinite(hessian) {
		return out, nil
	}
	var chol mat.Cholesky
	if !chol.Factorize(hessian) {
		return out, nil
	}
	var inverse mat.SymDense
	if err := chol.InverseTo(&inverse); err != nil {
		return out, nil
	}
	var cov mat.SymDense
	cov.ScaleSym(2*errScale, &inverse)

	out.ReliableCovariance = true
	out.Covariance = &cov
	return out, nil
}

func isFinite(m *mat.SymDense) bool {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
