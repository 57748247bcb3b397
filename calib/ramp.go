package calib

import (
	"fmt"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// RampFit is the result of cross-calibrating the test cell against the
// reference cell from a continuously ramped load.
type RampFit struct {
	// ScaleDUT converts raw test-cell readings to force units.
	ScaleDUT float64 `json:"scaleDut" yaml:"scaleDut"`
	// Offset is the fitted intercept in reference raw units.
	Offset float64 `json:"offset" yaml:"offset"`
	// Residual is the summed squared residual of the winning alignment.
	Residual float64 `json:"residual" yaml:"residual"`
	// RefLeads reports which channel the digitizer sampled first in the
	// winning alignment.
	RefLeads bool `json:"refLeads" yaml:"refLeads"`
}

// RampFitter aligns and fits dual-channel captures taken while the load
// ramps continuously.
type RampFitter struct {
	// SkipLeading drops this many upsampled points from the head of the
	// aligned series before the final fit, trimming the stretch where the
	// motor was still accelerating.
	// TODO: derive the trim from commanded acceleration instead of a count.
	SkipLeading int
}

// Fit estimates the test cell scale from a load ramp.  The digitizer
// muxes between the two channels, so their samples sit half a period
// apart and the capture may have begun on either channel.  Both
// half-sample alignments are tried on 2x spline-upsampled series and the
// one whose line fit leaves less residual wins.  Fitting reference raw
// against test raw gives
//
//	force = scaleRef*refRaw ≈ scaleRef*(c0 + c1*dutRaw)
//
// so the test scale is c1*scaleRef and c0 carries the relative offset.
func (rf RampFitter) Fit(ref, dut []float64, scaleRef float64) (RampFit, error) {
	if len(ref) != len(dut) {
		return RampFit{}, fmt.Errorf("channel length mismatch: ref %d samples, dut %d", len(ref), len(dut))
	}
	if len(ref) < 8 {
		return RampFit{}, fmt.Errorf("ramp too short to align: %d samples", len(ref))
	}
	upRef, err := upsample2x(ref)
	if err != nil {
		return RampFit{}, fmt.Errorf("upsample ref: %w", err)
	}
	upDut, err := upsample2x(dut)
	if err != nil {
		return RampFit{}, fmt.Errorf("upsample dut: %w", err)
	}

	// Candidate alignments, each one half-sample shifted.  When the test
	// channel is scanned first, its upsampled point j+1 lands at the same
	// wall time as the reference point j, and vice versa.
	n := len(upRef)
	dutLeadsX, dutLeadsY := upDut[1:], upRef[:n-1]
	refLeadsX, refLeadsY := upDut[:n-1], upRef[1:]

	_, _, dutLeadsRes := fitLine(dutLeadsX, dutLeadsY)
	_, _, refLeadsRes := fitLine(refLeadsX, refLeadsY)

	x, y := dutLeadsX, dutLeadsY
	refLeads := false
	if refLeadsRes < dutLeadsRes {
		x, y = refLeadsX, refLeadsY
		refLeads = true
	}
	if rf.SkipLeading > 0 {
		if len(x)-rf.SkipLeading < 4 {
			return RampFit{}, fmt.Errorf("leading skip %d leaves too little ramp to fit", rf.SkipLeading)
		}
		x, y = x[rf.SkipLeading:], y[rf.SkipLeading:]
	}

	c0, c1, res := fitLine(x, y)
	return RampFit{
		ScaleDUT: c1 * scaleRef,
		Offset:   c0,
		Residual: res,
		RefLeads: refLeads,
	}, nil
}

// upsample2x doubles the sample density with a natural cubic spline,
// evaluating on the half-step grid so the two channels can be aligned to
// within half a scan period.
func upsample2x(vals []float64) ([]float64, error) {
	xs := make([]float64, len(vals))
	for i := range xs {
		xs[i] = float64(i)
	}
	var spline interp.NaturalCubic
	if err := spline.Fit(xs, vals); err != nil {
		return nil, err
	}
	out := make([]float64, 2*len(vals)-1)
	for i := range out {
		out[i] = spline.Predict(float64(i) / 2)
	}
	return out, nil
}

// fitLine fits y = c0 + c1*x and reports the summed squared residual.
func fitLine(x, y []float64) (c0, c1, residual float64) {
	c0, c1 = stat.LinearRegression(x, y, nil, false)
	for i := range x {
		d := y[i] - (c0 + c1*x[i])
		residual += d * d
	}
	return c0, c1, residual
}
