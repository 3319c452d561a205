// Package reconstruction emulates photon-count observations from simulated
// per-sensor acceptance probabilities and reconstructs the source position
// and intensity, either with a direct centroid estimator or by fitting a
// count model with an external minimizer.
package reconstruction

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"sipmpos/pkg/fit"
	"sipmpos/pkg/geometry"
	"sipmpos/pkg/likelihood"
)

// Params holds the reconstruction configuration.
type Params struct {
	// IntensityGuess is the starting value for the fitted photon rate.
	IntensityGuess float64

	// IntensityMax is the upper bound of the fitted photon rate.
	IntensityMax float64

	// XMin, XMax, YMin, YMax bound the spatial fit window in mm. The fit
	// starts from the window center.
	XMin, XMax float64
	YMin, YMax float64

	// Seed initializes the generator used for count emulation.
	Seed uint64

	// Verbose enables per-event diagnostics for failed fits.
	Verbose bool
}

// DefaultParams returns the fit configuration used by the original study:
// rate bounded to [0, 1e7], a +-150mm window and a starting rate of 1000.
func DefaultParams() *Params {
	return &Params{
		IntensityGuess: 1000,
		IntensityMax:   1e7,
		XMin:           -150,
		XMax:           150,
		YMin:           -150,
		YMax:           150,
		Seed:           1,
	}
}

// EventCallback is invoked by EmulateEvents after each reconstructed event
// with the per-sensor observed-count snapshot. Returning false stops the
// batch early; the records produced so far are kept.
type EventCallback func(event int, record FitRecord, counts []int) bool

// Reconstruction drives count emulation and position fitting over a
// geometry that carries simulated hit probabilities. It mutates only the
// sensors' observed counts; the acceptance probabilities stay untouched,
// so a failed event never corrupts later ones.
type Reconstruction struct {
	geo       *geometry.Geometry
	params    *Params
	minimizer fit.Minimizer
	rng       *rand.Rand
}

// New creates a reconstruction over the given geometry, which is expected
// to be a simulator's private copy with hit probabilities filled in.
func New(geo *geometry.Geometry, params *Params, minimizer fit.Minimizer) (*Reconstruction, error) {
	if geo.NumSensors() == 0 {
		return nil, fmt.Errorf("reconstruction needs a geometry with sensors")
	}
	if params == nil {
		params = DefaultParams()
	}
	if minimizer == nil {
		minimizer = &fit.NelderMead{}
	}
	return &Reconstruction{
		geo:       geo,
		params:    params,
		minimizer: minimizer,
		rng:       rand.New(rand.NewSource(params.Seed)),
	}, nil
}

// Geometry returns the geometry the reconstruction operates on.
func (r *Reconstruction) Geometry() *geometry.Geometry { return r.geo }

// EmulateObservation samples an observed photon count for every sensor
// from Poisson(totalIntensity * hitProbability), modeling the statistical
// fluctuation of a finite number of emitted photons. The counts are
// written onto the sensors and returned as a snapshot.
func (r *Reconstruction) EmulateObservation(totalIntensity float64) []int {
	sensors := r.geo.Sensors()
	counts := make([]int, len(sensors))
	for i, s := range sensors {
		mean := totalIntensity * s.HitProbability
		if mean > 0 {
			poisson := distuv.Poisson{Lambda: mean, Src: r.rng}
			counts[i] = int(poisson.Rand())
		}
		s.Observed = counts[i]
	}
	return counts
}

// ReconstructPosition reconstructs the source position and intensity from
// the sensors' current observed counts. Numerical non-convergence is not
// an error: it is reported as a failed record so batch emulation can
// continue. Only an unsupported method is rejected outright.
func (r *Reconstruction) ReconstructPosition(method Method) (FitRecord, error) {
	switch method {
	case Centroid:
		return r.reconstructCentroid(), nil
	case ChiSquareFit, PoissonLikelihoodFit:
		return r.reconstructFit(method)
	default:
		return FitRecord{}, fmt.Errorf("unsupported reconstruction method %d", int(method))
	}
}

// reconstructCentroid computes the hit-count-weighted mean of the sensor
// positions. No optimization is involved, so the objective value is not
// applicable; the chi-square is still recomputed at the estimate for
// comparison with the fit methods.
func (r *Reconstruction) reconstructCentroid() FitRecord {
	var sum geometry.Vec3
	total := 0.0
	for _, s := range r.geo.Sensors() {
		sum = sum.Add(s.Position.Scale(float64(s.Observed)))
		total += float64(s.Observed)
	}
	if total == 0 {
		// Degenerate event with no photons anywhere; there is nothing to
		// weight, so report a failure rather than dividing by zero.
		return FitRecord{
			X:              failedPosition,
			Y:              failedPosition,
			Status:         StatusFailed,
			ObjectiveValue: NotApplicable,
			ChiSquare:      NotApplicable,
		}
	}
	center := sum.Scale(1 / total)
	rec := FitRecord{
		X:              center.X,
		Y:              center.Y,
		Intensity:      NotApplicable,
		Status:         StatusConverged,
		ObjectiveValue: NotApplicable,
		ChiSquare:      NotApplicable,
	}
	if chi2, ok := r.chiSquareAtCentroid(rec.X, rec.Y); ok {
		rec.ChiSquare = chi2
	}
	return rec
}

// chiSquareAtCentroid evaluates the chi-square statistic at the centroid
// estimate. The centroid carries no intensity, so the closed-form Poisson
// maximum-likelihood rate at fixed position, sum(n_i)/sum(f_i) with f_i
// the per-sensor geometric factor, stands in for it.
func (r *Reconstruction) chiSquareAtCentroid(x, y float64) (float64, bool) {
	model, err := likelihood.NewPositionModel(r.geo.Sensors(), likelihood.ChiSquare)
	if err != nil {
		return 0, false
	}
	sumN, sumF := 0.0, 0.0
	for i := 0; i < model.NumSensors(); i++ {
		sumN += model.Observed(i)
		sumF += model.GeometricFactor(x, y, i)
	}
	if sumF <= 0 {
		return 0, false
	}
	return model.Evaluate(sumN/sumF, x, y), true
}

// reconstructFit fits (intensity, x, y) to the observed counts with the
// requested statistic and the external minimizer. The fit is accepted only
// when the minimizer reports a reliable covariance.
func (r *Reconstruction) reconstructFit(method Method) (FitRecord, error) {
	var statistic likelihood.Statistic
	var errScale float64
	switch method {
	case ChiSquareFit:
		statistic, errScale = likelihood.ChiSquare, 1.0
	case PoissonLikelihoodFit:
		statistic, errScale = likelihood.PoissonLogLikelihood, 0.5
	}

	model, err := likelihood.NewPositionModel(r.geo.Sensors(), statistic)
	if err != nil {
		return FitRecord{}, err
	}
	objective := func(p []float64) float64 {
		return model.Evaluate(p[0], p[1], p[2])
	}

	initial := []float64{
		r.params.IntensityGuess,
		(r.params.XMin + r.params.XMax) / 2,
		(r.params.YMin + r.params.YMax) / 2,
	}
	lower := []float64{0, r.params.XMin, r.params.YMin}
	upper := []float64{r.params.IntensityMax, r.params.XMax, r.params.YMax}

	rec := FitRecord{ObjectiveValue: NotApplicable}
	res, err := r.minimizer.Minimize(objective, initial, lower, upper, errScale)
	if err == nil && res.ReliableCovariance {
		// The fitted rate is per unit solid angle and sensor area; convert
		// it to the total number of emitted photons.
		rec.Intensity = res.Params[0] * 4 * math.Pi / r.geo.SensorArea()
		rec.X = res.Params[1]
		rec.Y = res.Params[2]
		rec.Status = StatusConverged
		rec.ObjectiveValue = res.Value
	} else {
		rec.X = failedPosition
		rec.Y = failedPosition
		rec.Intensity = 0
		rec.Status = StatusFailed
		if r.params.Verbose {
			if err != nil {
				fmt.Printf("fit failed: %v\n", err)
			} else {
				fmt.Println("fit rejected: covariance not reliable")
			}
			for i, s := range r.geo.Sensors() {
				fmt.Printf("  sensor %2d  n = %d\n", i, s.Observed)
			}
		}
	}

	// Recompute the chi-square at the final values regardless of the fit
	// statistic, so batches fitted with different methods stay comparable.
	chiModel, err := likelihood.NewPositionModel(r.geo.Sensors(), likelihood.ChiSquare)
	if err != nil {
		return rec, err
	}
	rec.ChiSquare = chiModel.Evaluate(rec.Intensity, rec.X, rec.Y)
	return rec, nil
}

// EmulateEvents repeats observation emulation and reconstruction numEvents
// times and returns the records in event order. The optional callback is
// invoked after each event with the observed-count snapshot and may stop
// the batch early by returning false.
func (r *Reconstruction) EmulateEvents(photonsPerEvent float64, numEvents int, method Method, callback EventCallback) ([]FitRecord, error) {
	if numEvents < 0 {
		return nil, fmt.Errorf("number of events must be non-negative, got %d", numEvents)
	}
	records := make([]FitRecord, 0, numEvents)
	for event := 0; event < numEvents; event++ {
		if r.params.Verbose && event%100 == 0 {
			fmt.Printf("generated %d of %d events\n", event, numEvents)
		}
		counts := r.EmulateObservation(photonsPerEvent)
		rec, err := r.ReconstructPosition(method)
		if err != nil {
			return records, fmt.Errorf("event %d: %w", event, err)
		}
		records = append(records, rec)
		if callback != nil && !callback(event, rec, counts) {
			break
		}
	}
	return records, nil
}
