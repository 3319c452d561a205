package reconstruction

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Fit status values recorded on a FitRecord.
const (
	// StatusFailed marks an event whose reconstruction did not converge.
	StatusFailed = 0

	// StatusConverged marks a successfully reconstructed event.
	StatusConverged = 1
)

// NotApplicable is the sentinel recorded for quantities a reconstruction
// method does not produce (e.g. the objective value of the centroid
// estimator).
const NotApplicable = -1

// failedPosition is the out-of-range coordinate recorded for events whose
// fit was rejected.
const failedPosition = -999

// Method selects the position reconstruction algorithm.
type Method int

const (
	// Centroid is the direct hit-count-weighted mean of sensor positions.
	Centroid Method = iota

	// ChiSquareFit minimizes the Pearson chi-square statistic.
	ChiSquareFit

	// PoissonLikelihoodFit minimizes the negative Poisson log-likelihood.
	PoissonLikelihoodFit
)

// String returns the configuration tag for the method.
func (m Method) String() string {
	switch m {
	case Centroid:
		return "cog"
	case ChiSquareFit:
		return "chi2"
	case PoissonLikelihoodFit:
		return "lnlike"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod converts a configuration tag to a Method. An unknown tag is
// a configuration error, not a default.
func ParseMethod(tag string) (Method, error) {
	switch tag {
	case "cog":
		return Centroid, nil
	case "chi2":
		return ChiSquareFit, nil
	case "lnlike":
		return PoissonLikelihoodFit, nil
	default:
		return 0, fmt.Errorf("unknown reconstruction method %q (want \"cog\", \"chi2\" or \"lnlike\")", tag)
	}
}

// FitRecord is the result of reconstructing one emulated event. Records
// are immutable once created and appended to the result sequence in event
// order.
type FitRecord struct {
	// X, Y is the reconstructed source position in mm, or the out-of-range
	// sentinel -999 for failed fits.
	X, Y float64

	// Intensity is the reconstructed total number of emitted photons, 0
	// for failed fits and -1 for the centroid method.
	Intensity float64

	// Status is StatusConverged or StatusFailed.
	Status int

	// ObjectiveValue is the fit statistic at the minimum, or -1 when not
	// applicable.
	ObjectiveValue float64

	// ChiSquare is recomputed under the chi-square statistic at the final
	// (intensity, x, y) regardless of the fit method, for cross-method
	// comparison.
	ChiSquare float64
}

// Summary aggregates the converged records of a batch.
type Summary struct {
	Converged int
	Failed    int

	MeanX, StdX                 float64
	MeanY, StdY                 float64
	MeanIntensity, StdIntensity float64
}

// Summarize computes batch statistics over the converged records.
func Summarize(records []FitRecord) Summary {
	var s Summary
	var xs, ys, intensities []float64
	for _, rec := range records {
		if rec.Status != StatusConverged {
			s.Failed++
			continue
		}
		s.Converged++
		xs = append(xs, rec.X)
		ys = append(ys, rec.Y)
		intensities = append(intensities, rec.Intensity)
	}
	if s.Converged == 0 {
		return s
	}
	s.MeanX, s.StdX = stat.MeanStdDev(xs, nil)
	s.MeanY, s.StdY = stat.MeanStdDev(ys, nil)
	s.MeanIntensity, s.StdIntensity = stat.MeanStdDev(intensities, nil)
	return s
}
