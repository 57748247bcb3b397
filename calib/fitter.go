package calib

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Model is a fitted raw→force mapping and the domain it can be trusted
// over.
type Model struct {
	// Coeffs in ascending powers: force = Coeffs[0] + Coeffs[1]*raw + ...
	Coeffs []float64 `json:"coeffs" yaml:"coeffs"`
	// MinRaw and MaxRaw bound the readings the fit saw.
	MinRaw float64 `json:"minRaw" yaml:"minRaw"`
	MaxRaw float64 `json:"maxRaw" yaml:"maxRaw"`
	// Residuals are model(raw)-force per point, in fitting order.
	Residuals []float64 `json:"residuals" yaml:"residuals"`
	// RMSE summarizes the residuals.
	RMSE float64 `json:"rmse" yaml:"rmse"`
}

// Force evaluates the model at a raw reading.  Outside the fitted domain
// the value is still computed, with an Extrapolation error flagging it as
// untrustworthy rather than silently returned.
func (m Model) Force(raw float64) (float64, error) {
	f := 0.0
	for i := len(m.Coeffs) - 1; i >= 0; i-- {
		f = f*raw + m.Coeffs[i]
	}
	if raw < m.MinRaw || raw > m.MaxRaw {
		return f, Extrapolation{Raw: raw, Min: m.MinRaw, Max: m.MaxRaw}
	}
	return f, nil
}

// Fitter fits polynomial force models by ordinary least squares.
type Fitter struct {
	// Order of the polynomial; linear when zero.
	Order int
	// MonotonicTolerance forgives raw dips smaller than this between
	// consecutive force levels, raw units.  Bridge noise between near
	// levels should not read as a wiring fault.
	MonotonicTolerance float64
}

// Fit produces a model from one run's points.  It refuses to fit fewer
// distinct force levels than the polynomial supports (order+2), and
// refuses a raw response that does not rise with reference force within
// tolerance; a falling response means the cell is wired inverted and must
// be surfaced, never silently fitted.
func (f Fitter) Fit(points []CalibrationPoint) (Model, error) {
	order := f.order()
	need := order + 2
	lv := levels(points)
	if len(lv) < need {
		return Model{}, InsufficientPoints{Have: len(lv), Need: need}
	}
	rises, falls := 0, 0
	for i := 1; i < len(lv); i++ {
		delta := lv[i].raw - lv[i-1].raw
		switch {
		case delta > f.MonotonicTolerance:
			rises++
		case delta < -f.MonotonicTolerance:
			falls++
		}
	}
	if falls > 0 {
		return Model{}, NonMonotonic{Inverted: rises == 0}
	}

	n := len(points)
	a := mat.NewDense(n, order+1, nil)
	b := mat.NewVecDense(n, nil)
	for i, pt := range points {
		v := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, v)
			v *= pt.Raw
		}
		b.SetVec(i, pt.Force)
	}
	var qr mat.QR
	qr.Factorize(a)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return Model{}, fmt.Errorf("least squares solve: %w", err)
	}
	coeffs := make([]float64, order+1)
	for i := range coeffs {
		coeffs[i] = sol.AtVec(i)
	}

	model := Model{Coeffs: coeffs, MinRaw: points[0].Raw, MaxRaw: points[0].Raw}
	for _, pt := range points[1:] {
		model.MinRaw = math.Min(model.MinRaw, pt.Raw)
		model.MaxRaw = math.Max(model.MaxRaw, pt.Raw)
	}
	res := make([]float64, n)
	ss := 0.0
	for i, pt := range points {
		fit, _ := model.Force(pt.Raw)
		res[i] = fit - pt.Force
		ss += res[i] * res[i]
	}
	model.Residuals = res
	model.RMSE = math.Sqrt(ss / float64(n))
	return model, nil
}

func (f Fitter) order() int {
	if f.Order < 1 {
		return 1
	}
	return f.Order
}

type level struct {
	force float64
	raw   float64
}

// levels groups points by force and averages their raw readings, so
// repeated holds at one force compare as a single level.
func levels(points []CalibrationPoint) []level {
	byForce := map[float64][]float64{}
	for _, pt := range points {
		byForce[pt.Force] = append(byForce[pt.Force], pt.Raw)
	}
	out := make([]level, 0, len(byForce))
	for force, raws := range byForce {
		sum := 0.0
		for _, r := range raws {
			sum += r
		}
		out = append(out, level{force: force, raw: sum / float64(len(raws))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].force < out[j].force })
	return out
}
