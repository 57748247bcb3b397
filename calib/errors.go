package calib

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusy is returned by Runner.Run while another run holds the ports.
	ErrBusy = errors.New("a calibration run is already active")

	// ErrCanceled is the abort reason when the operator cancels a run.
	ErrCanceled = errors.New("run canceled by operator")
)

// SafetyFault is a hardware-reported fault or stall.  It is terminal for
// the run: the runner latches it and refuses new runs until Reset.
type SafetyFault struct {
	Reason string
}

func (e SafetyFault) Error() string {
	return "safety fault: " + e.Reason
}

// BoundaryStop records a limit switch reached during travel that was not
// part of the segment's plan.  Not a fault; the jig is left in a safe
// state, but the run does not continue.
type BoundaryStop struct {
	Limit string // "low" or "high"
}

func (e BoundaryStop) Error() string {
	return fmt.Sprintf("%s limit switch reached during travel", e.Limit)
}

// AcquisitionTimeout is a wait that exceeded its budget: a segment that
// never reached its completion condition, or a read that never returned.
type AcquisitionTimeout struct {
	Op     string
	Budget time.Duration
}

func (e AcquisitionTimeout) Error() string {
	return fmt.Sprintf("%s exceeded its %s budget", e.Op, e.Budget)
}

// InsufficientStability means a hold could not produce a trustworthy
// point: too few pairs survived filtering, or their spread was too wide.
// The hold is retried once before this escalates to an aborted run.
type InsufficientStability struct {
	Have, Need int
	Spread     float64
	Tolerance  float64
}

func (e InsufficientStability) Error() string {
	if e.Have < e.Need {
		return fmt.Sprintf("unstable capture: %d stable pairs, need %d", e.Have, e.Need)
	}
	return fmt.Sprintf("unstable capture: spread %g exceeds tolerance %g", e.Spread, e.Tolerance)
}

// InsufficientPoints means the fit was asked to work with fewer distinct
// force levels than the model order supports.
type InsufficientPoints struct {
	Have, Need int
}

func (e InsufficientPoints) Error() string {
	return fmt.Sprintf("fit requires %d distinct force levels, have %d", e.Need, e.Have)
}

// NonMonotonic means the raw response did not rise with reference force
// within tolerance.  Inverted is set when the response falls as force
// rises, which usually means the cell is wired backwards.
type NonMonotonic struct {
	Inverted bool
}

func (e NonMonotonic) Error() string {
	if e.Inverted {
		return "raw response falls as force rises; check test cell wiring for inversion"
	}
	return "raw response is not monotonic in reference force"
}

// Extrapolation flags model evaluation outside the fitted domain.  The
// value is still computed; the error marks it as untrustworthy.
type Extrapolation struct {
	Raw      float64
	Min, Max float64
}

func (e Extrapolation) Error() string {
	return fmt.Sprintf("raw reading %g outside fitted domain [%g, %g]", e.Raw, e.Min, e.Max)
}
