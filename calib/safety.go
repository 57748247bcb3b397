package calib

import (
	"fmt"
	"time"

	"github.com/larrykvit/loadcell-calibration/util"
)

// StopClass separates the reasons a stop can be requested.
type StopClass int

const (
	// StopFault is a hardware fault or stall; terminal for the run.
	StopFault StopClass = iota
	// StopBoundary is a limit switch or soft travel bound reached during
	// travel.
	StopBoundary
	// StopCancel is an operator-initiated cancel.
	StopCancel
)

// Verdict is the monitor's answer for one status poll: continue, or stop
// with a class and reason.  The zero Verdict means continue.
type Verdict struct {
	Stop   bool
	Class  StopClass
	Limit  string // which switch, for boundary stops
	Reason string
}

var proceed = Verdict{}

// Monitor turns MotionStatus snapshots into stop verdicts.  It holds the
// stall clock between polls but never issues motion commands; acting on a
// verdict belongs to the sequencer.
type Monitor struct {
	// StallCurrent is the draw above which the motor is considered
	// stalled, amps.  Zero disables stall detection.
	StallCurrent float64
	// StallGrace is how long the draw may sit above StallCurrent before
	// the stall verdict fires.  Brief inrush on direction changes is
	// normal and must not trip it.
	StallGrace time.Duration
	// Travel soft-bounds believable positions.  The zero value disables
	// the check.
	Travel util.Limiter

	overSince time.Time // zero when current is under the threshold
}

// Poll inspects one status snapshot taken while traveling in dir.  now
// feeds the stall clock; passing it in keeps the grace window testable.
//
// Limit switches only produce a verdict when they lie in the direction of
// travel: the home switch closing during a home seek is that segment's
// completion condition, and the sequencer passes DirNone there.
func (m *Monitor) Poll(st MotionStatus, dir Direction, now time.Time) Verdict {
	if st.Fault {
		return Verdict{Stop: true, Class: StopFault, Reason: "controller fault flag set"}
	}
	if m.StallCurrent > 0 && st.Current > m.StallCurrent {
		if m.overSince.IsZero() {
			m.overSince = now
		} else if over := now.Sub(m.overSince); over > m.StallGrace {
			return Verdict{
				Stop:   true,
				Class:  StopFault,
				Reason: fmt.Sprintf("stall: %.2fA above %.2fA threshold for %s", st.Current, m.StallCurrent, over),
			}
		}
	} else {
		m.overSince = time.Time{}
	}
	if dir == DirForward && st.LimitHigh {
		return Verdict{Stop: true, Class: StopBoundary, Limit: "high", Reason: "high limit switch closed while moving forward"}
	}
	if dir == DirReverse && st.LimitLow {
		return Verdict{Stop: true, Class: StopBoundary, Limit: "low", Reason: "low limit switch closed while moving in reverse"}
	}
	if dir != DirNone && (m.Travel != util.Limiter{}) && !m.Travel.Check(st.Position) {
		return Verdict{Stop: true, Class: StopBoundary, Limit: "soft", Reason: fmt.Sprintf("position %g outside soft travel range [%g, %g]", st.Position, m.Travel.Min, m.Travel.Max)}
	}
	return proceed
}

// Reset clears the stall clock, for reuse of a Monitor across runs.
func (m *Monitor) Reset() {
	m.overSince = time.Time{}
}
