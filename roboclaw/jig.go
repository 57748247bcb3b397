package roboclaw

import (
	"github.com/pkg/errors"

	"github.com/larrykvit/loadcell-calibration/calib"
	"github.com/larrykvit/loadcell-calibration/util"
)

// Commander is the slice of the controller command set the jig adapter
// drives.  *Controller satisfies it against hardware; *Mock satisfies it
// in memory for benchwork and tests.
type Commander interface {
	Version() (string, error)
	DriveDuty(duty int16) error
	DriveSpeed(speed int32) error
	MoveTo(position int32, speed uint32) error
	Encoder() (int32, error)
	ResetEncoders() error
	Currents() (m1, m2 float64, err error)
	Flags() (Status, error)
	Close() error
}

// Jig adapts a Commander to the calibration engine's motion interface.
// It owns the unit conversion between encoder counts and rail position
// units, and maps the S4/S5 pin states onto the low and high limits.
//
// Sign convention: positive counts are travel away from home, toward the
// load cells.  Home seeks therefore drive at negative velocity.
type Jig struct {
	Ctl Commander

	// CountsPerUnit converts rail position units to quadrature counts.
	CountsPerUnit float64

	// MaxSpeed clamps commanded speeds, in position units per second.
	// Zero disables the clamp.
	MaxSpeed float64

	// HomeSpeed is used for home seeks when the command does not carry a
	// speed.  Zero selects one position unit per second.
	HomeSpeed float64
}

func (j *Jig) counts(units float64) int32 {
	return int32(units * j.CountsPerUnit)
}

func (j *Jig) clampSpeed(units float64) float64 {
	if j.MaxSpeed <= 0 {
		return units
	}
	return util.Clamp(units, -j.MaxSpeed, j.MaxSpeed)
}

// Open probes the controller.  A good version string proves the port,
// baud rate and packet address in one exchange.
func (j *Jig) Open() error {
	if j.CountsPerUnit <= 0 {
		return errors.New("jig needs a positive counts-per-unit scale")
	}
	_, err := j.Ctl.Version()
	return errors.Wrap(err, "probing motor controller")
}

// Command issues one motion command.
func (j *Jig) Command(mc calib.MotionCommand) error {
	switch mc.Kind {
	case calib.CommandStop:
		return errors.Wrap(j.Ctl.DriveDuty(0), "stopping carriage")
	case calib.CommandMove:
		if mc.Speed <= 0 {
			return errors.New("move commanded without a speed")
		}
		speed := j.clampSpeed(mc.Speed)
		err := j.Ctl.MoveTo(j.counts(mc.Target), uint32(j.counts(speed)))
		return errors.Wrapf(err, "moving to %f", mc.Target)
	case calib.CommandJog:
		if mc.Speed <= 0 {
			return errors.New("jog commanded without a speed")
		}
		speed := j.clampSpeed(mc.Speed)
		switch mc.Direction {
		case calib.DirForward:
		case calib.DirReverse:
			speed = -speed
		default:
			return errors.New("jog commanded without a direction")
		}
		return errors.Wrapf(j.Ctl.DriveSpeed(j.counts(speed)), "jogging %s", mc.Direction)
	case calib.CommandHome:
		speed := mc.Speed
		if speed <= 0 {
			speed = j.HomeSpeed
		}
		if speed <= 0 {
			speed = 1
		}
		speed = j.clampSpeed(speed)
		return errors.Wrap(j.Ctl.DriveSpeed(-j.counts(speed)), "seeking home switch")
	case calib.CommandZero:
		return errors.Wrap(j.Ctl.ResetEncoders(), "zeroing position at home")
	default:
		return errors.Errorf("unknown motion command %d", mc.Kind)
	}
}

// Status snapshots the actuator: encoder position, M1 current draw, limit
// switch states and the fault flag, three exchanges with the controller.
func (j *Jig) Status() (calib.MotionStatus, error) {
	var st calib.MotionStatus
	count, err := j.Ctl.Encoder()
	if err != nil {
		return st, errors.Wrap(err, "reading position")
	}
	m1, _, err := j.Ctl.Currents()
	if err != nil {
		return st, errors.Wrap(err, "reading motor current")
	}
	flags, err := j.Ctl.Flags()
	if err != nil {
		return st, errors.Wrap(err, "reading status flags")
	}
	st.Position = float64(count) / j.CountsPerUnit
	st.Current = m1
	st.LimitLow = flags.S4Triggered
	st.LimitHigh = flags.S5Triggered
	st.Fault = flags.Faulted()
	return st, nil
}

// Close releases the controller connection.
func (j *Jig) Close() error {
	return j.Ctl.Close()
}
