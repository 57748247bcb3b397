/*Package calib implements the control and acquisition engine for load
cell calibration runs.

A run presses a motorized carriage against two load cells mounted in
series: a certified reference cell and the cell under test.  The engine
homes the rail, plays a motion profile, samples both force channels on a
shared cadence during each hold, watches the controller for faults and
limit switches the whole time, and fits a model mapping raw test-cell
readings to force.

The moving pieces:

  - MotionPort / SensorPort: capability interfaces over the motor
    controller and the bridge digitizer.  Concrete drivers and their
    mocks satisfy them outside this package.
  - Monitor: turns status snapshots into stop verdicts.  It never
    actuates; acting on a verdict is the sequencer's job.
  - Sequencer: plays a Profile over the MotionPort, one safety poll
    before every command it issues.
  - Collector: gathers sample pairs during holds and reduces them to
    calibration points.
  - Fitter: least squares polynomial fit with monotonicity guards.
  - Runner: owns the run lifecycle and always produces a Result, no
    matter how the run ends.

Everything runs on the caller's goroutine.  A single rate.Limiter paces
both safety polling and sampling, so neither can starve the other.
*/
package calib

import (
	"time"
)

// Direction of carriage travel along the rail.
type Direction int

const (
	// DirNone means stationary; no travel direction applies.
	DirNone Direction = iota
	// DirForward is travel away from home, toward the cells (compression).
	DirForward
	// DirReverse is travel back toward the home switch.
	DirReverse
)

func (d Direction) String() string {
	switch d {
	case DirForward:
		return "forward"
	case DirReverse:
		return "reverse"
	default:
		return "none"
	}
}

// CommandKind discriminates motion commands.
type CommandKind int

const (
	// CommandStop halts the carriage immediately.
	CommandStop CommandKind = iota
	// CommandMove travels to Target at Speed.
	CommandMove
	// CommandJog travels in Direction at Speed until countermanded.
	CommandJog
	// CommandHome seeks the home switch; the driver picks a gentle speed
	// if Speed is zero.
	CommandHome
	// CommandZero re-zeroes the position reference at the current spot.
	CommandZero
)

func (k CommandKind) String() string {
	switch k {
	case CommandMove:
		return "move"
	case CommandJog:
		return "jog"
	case CommandHome:
		return "home"
	case CommandZero:
		return "zero"
	default:
		return "stop"
	}
}

// MotionCommand is one instruction to the motor controller.
type MotionCommand struct {
	Kind      CommandKind
	Direction Direction // CommandJog
	Target    float64   // CommandMove; position units
	Speed     float64   // position units per second
}

// MotionStatus is a point-in-time snapshot of the actuator.  Fault true
// means the jig must stop issuing motion commands until explicitly reset.
type MotionStatus struct {
	Position  float64 // position units from home
	Current   float64 // motor current draw, amps
	LimitLow  bool    // home-end switch closed
	LimitHigh bool    // far-end switch closed
	Fault     bool    // controller reported an error condition
}

// MotionPort abstracts the motor controller: issue one motion command or
// snapshot the actuator status.  Acquired at run start and released on
// every exit path; implementations are not shared between runs.
type MotionPort interface {
	Open() error
	Command(MotionCommand) error
	Status() (MotionStatus, error)
	Close() error
}

// RawSamplePair is one synchronized read of both force channels.  Skew is
// the capture window between the two readings; pairs with skew beyond the
// collector's tolerance are discarded, never reported.
type RawSamplePair struct {
	Time time.Time     `json:"time"`
	Ref  float64       `json:"ref"` // reference cell, raw units
	DUT  float64       `json:"dut"` // cell under test, raw units
	Skew time.Duration `json:"skew"`
}

// SensorPort abstracts the bridge digitizer: one synchronized read of both
// force channels per call.  MaxSkew declares the worst-case capture window
// between the two channels.
type SensorPort interface {
	Open() error
	ReadPair() (RawSamplePair, error)
	MaxSkew() time.Duration
	Close() error
}

// CalibrationPoint is one fitting input: the certified force applied and
// the filtered raw reading of the cell under test at that force.
type CalibrationPoint struct {
	Force   float64 `json:"force" yaml:"force"`     // engineering units, from the run's force table
	Raw     float64 `json:"raw" yaml:"raw"`         // filtered test-cell reading
	RefRaw  float64 `json:"refRaw" yaml:"refRaw"`   // mean reference-cell reading, for cross checks
	N       int     `json:"n" yaml:"n"`             // pairs that survived filtering
	Segment int     `json:"segment" yaml:"segment"` // profile segment that produced the point
}

// Tare is the zero-load reading of both channels, captured after homing.
// It is recorded for diagnostics; the fit carries its own offset term, so
// the tare is not subtracted from readings before fitting.
type Tare struct {
	Ref float64 `json:"ref" yaml:"ref"`
	DUT float64 `json:"dut" yaml:"dut"`
	N   int     `json:"n" yaml:"n"`
}
