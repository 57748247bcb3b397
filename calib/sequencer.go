package calib

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSegmentTimeout bounds a segment's completion wait when the
// sequencer is not configured with one.
const DefaultSegmentTimeout = 30 * time.Second

// SequenceOutcome reports how profile playback ended.
type SequenceOutcome struct {
	Completed bool
	Segment   int   // segment in play when playback stopped
	Fault     bool  // the stop was fault-class; the runner latches these
	Err       error // why, when not completed
}

// Sequencer plays a motion profile over a MotionPort, one safety poll
// before every command it issues.  Within a tick the order is fixed:
// status, verdict, then (only on Continue) command or dwell work.  If a
// completion condition and a stop verdict land on the same tick, the stop
// wins.
type Sequencer struct {
	Port    MotionPort
	Monitor *Monitor

	// Tick paces the loop.  The runner shares one limiter between the
	// sequencer and the collector so sampling cannot starve safety
	// polling.  Must be set.
	Tick *rate.Limiter

	// PositionTolerance is how close to target counts as arrived,
	// position units.
	PositionTolerance float64

	// SegmentTimeout bounds the wait for a completion condition beyond
	// the segment's own planned duration.  Zero means
	// DefaultSegmentTimeout.
	SegmentTimeout time.Duration

	// OnSegmentStart, if set, is called as each segment's command goes
	// out.
	OnSegmentStart func(i int, seg Segment)

	// HoldTick, if set, is called once per tick during a hold dwell; the
	// runner points it at the collector.  An error stops the run.
	HoldTick func(i int) error

	// OnHoldComplete, if set, is called when a hold dwell elapses.
	// redo repeats the dwell from scratch (the one stability retry); an
	// error stops the run.
	OnHoldComplete func(i int) (redo bool, err error)
}

// Run plays the profile segment by segment.  Whatever the exit path, the
// last command issued is a stop: on clean completion, after a stop
// verdict, on cancel, and on timeout alike.
func (s *Sequencer) Run(ctx context.Context, p Profile) SequenceOutcome {
	for i, seg := range p.Segments {
		if out, ok := s.playSegment(ctx, i, seg); !ok {
			return out
		}
	}
	if err := s.Port.Command(MotionCommand{Kind: CommandStop}); err != nil {
		return SequenceOutcome{Segment: len(p.Segments) - 1, Fault: true, Err: fmt.Errorf("final stop: %w", err)}
	}
	return SequenceOutcome{Completed: true, Segment: len(p.Segments) - 1}
}

// playSegment drives one segment to its completion condition.  ok is
// false when playback must not continue; out then carries the cause.
func (s *Sequencer) playSegment(ctx context.Context, i int, seg Segment) (out SequenceOutcome, ok bool) {
	var (
		issued   bool
		began    time.Time
		deadline time.Time
	)
	for {
		if err := s.Tick.Wait(ctx); err != nil {
			return s.stop(i, false, ErrCanceled), false
		}
		st, err := s.Port.Status()
		if err != nil {
			// a controller that stops answering leaves the jig state
			// unknown, which only manual inspection can clear
			return s.stop(i, true, fmt.Errorf("status poll: %w", err)), false
		}
		v := s.Monitor.Poll(st, s.travelDir(seg, st), time.Now())
		if !v.Stop && ctx.Err() != nil {
			v = Verdict{Stop: true, Class: StopCancel, Reason: "cancel requested"}
		}
		if v.Stop {
			return s.stop(i, v.Class == StopFault, verdictErr(v)), false
		}
		if !issued {
			if s.OnSegmentStart != nil {
				s.OnSegmentStart(i, seg)
			}
			if err := s.Port.Command(commandFor(seg)); err != nil {
				return s.stop(i, true, fmt.Errorf("segment %d command: %w", i, err)), false
			}
			issued = true
			began = time.Now()
			deadline = began.Add(s.budget(seg))
			continue
		}
		if seg.Kind == SegHold && s.HoldTick != nil {
			if err := s.HoldTick(i); err != nil {
				return s.stop(i, false, err), false
			}
		}
		if s.conditionMet(seg, st, began) {
			out, ok, redo := s.finishSegment(i, seg)
			if redo {
				began = time.Now()
				deadline = began.Add(s.budget(seg))
				continue
			}
			return out, ok
		}
		if time.Now().After(deadline) {
			to := AcquisitionTimeout{Op: fmt.Sprintf("segment %d (%s)", i, seg.Kind), Budget: s.budget(seg)}
			return s.stop(i, false, to), false
		}
	}
}

// finishSegment runs the end-of-segment actions: moves get an explicit
// stop, home gets stop plus a position re-zero, and holds consult the
// runner, which may ask for one redo of the dwell.
func (s *Sequencer) finishSegment(i int, seg Segment) (out SequenceOutcome, ok, redo bool) {
	switch seg.Kind {
	case SegMove:
		if err := s.Port.Command(MotionCommand{Kind: CommandStop}); err != nil {
			return s.stop(i, true, fmt.Errorf("segment %d stop: %w", i, err)), false, false
		}
	case SegHome:
		if err := s.Port.Command(MotionCommand{Kind: CommandStop}); err != nil {
			return s.stop(i, true, fmt.Errorf("home stop: %w", err)), false, false
		}
		if err := s.Port.Command(MotionCommand{Kind: CommandZero}); err != nil {
			return s.stop(i, true, fmt.Errorf("home zero: %w", err)), false, false
		}
	case SegHold:
		if s.OnHoldComplete != nil {
			r, err := s.OnHoldComplete(i)
			if err != nil {
				return s.stop(i, false, err), false, false
			}
			if r {
				return SequenceOutcome{}, false, true
			}
		}
	}
	return SequenceOutcome{}, true, false
}

// stop issues the immediate stop command and packages the outcome.  A
// stop command that itself fails escalates to fault class.
func (s *Sequencer) stop(segment int, fault bool, cause error) SequenceOutcome {
	if err := s.Port.Command(MotionCommand{Kind: CommandStop}); err != nil {
		return SequenceOutcome{
			Segment: segment,
			Fault:   true,
			Err:     fmt.Errorf("%v; stop command also failed: %w", cause, err),
		}
	}
	return SequenceOutcome{Segment: segment, Fault: fault, Err: cause}
}

// travelDir reports the direction of travel the monitor should judge
// limit switches against.  Holds and home seeks report none: a hold is
// stationary, and the home switch closing is the home segment's goal.
func (s *Sequencer) travelDir(seg Segment, st MotionStatus) Direction {
	if seg.Kind != SegMove {
		return DirNone
	}
	if seg.Timed() {
		return seg.Direction
	}
	delta := seg.Target - st.Position
	if math.Abs(delta) <= s.tol() {
		return DirNone
	}
	if delta > 0 {
		return DirForward
	}
	return DirReverse
}

func (s *Sequencer) conditionMet(seg Segment, st MotionStatus, began time.Time) bool {
	switch seg.Kind {
	case SegMove:
		if seg.Timed() {
			return time.Since(began) >= seg.Duration
		}
		return math.Abs(st.Position-seg.Target) <= s.tol()
	case SegHold:
		return time.Since(began) >= seg.Duration
	case SegHome:
		return st.LimitLow
	}
	return false
}

func commandFor(seg Segment) MotionCommand {
	switch seg.Kind {
	case SegHold:
		return MotionCommand{Kind: CommandStop}
	case SegHome:
		return MotionCommand{Kind: CommandHome, Speed: seg.Speed}
	default:
		if seg.Timed() {
			return MotionCommand{Kind: CommandJog, Direction: seg.Direction, Speed: seg.Speed}
		}
		return MotionCommand{Kind: CommandMove, Target: seg.Target, Speed: seg.Speed}
	}
}

func verdictErr(v Verdict) error {
	switch v.Class {
	case StopFault:
		return SafetyFault{Reason: v.Reason}
	case StopBoundary:
		return BoundaryStop{Limit: v.Limit}
	default:
		return ErrCanceled
	}
}

func (s *Sequencer) tol() float64 {
	if s.PositionTolerance > 0 {
		return s.PositionTolerance
	}
	return 1e-9
}

func (s *Sequencer) budget(seg Segment) time.Duration {
	base := s.SegmentTimeout
	if base <= 0 {
		base = DefaultSegmentTimeout
	}
	return base + seg.Duration
}
