package calib

import (
	"errors"
	"fmt"
	"time"
)

// SegmentKind discriminates profile segments.  The set is closed; the
// sequencer handles each kind exhaustively.
type SegmentKind int

const (
	// SegMove travels toward a target position, or in a direction for a
	// duration.
	SegMove SegmentKind = iota
	// SegHold keeps the carriage stationary while samples are captured.
	SegHold
	// SegHome seeks the home switch and re-zeroes the position reference.
	SegHome
)

func (k SegmentKind) String() string {
	switch k {
	case SegHold:
		return "hold"
	case SegHome:
		return "home"
	default:
		return "move"
	}
}

// Segment is one step of a motion profile.
type Segment struct {
	Kind SegmentKind `json:"kind" yaml:"kind"`

	// Target is the position to travel to, for positional moves.
	Target float64 `json:"target,omitempty" yaml:"target,omitempty"`
	// Direction applies to timed moves, which have no target.
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
	// Duration is the dwell of a hold, or the travel time of a timed move.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	// Speed in position units per second; zero on a Home lets the driver
	// pick its gentle homing speed.
	Speed float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
}

// MoveTo returns a segment that travels to an absolute position.
func MoveTo(target, speed float64) Segment {
	return Segment{Kind: SegMove, Target: target, Speed: speed}
}

// MoveFor returns a segment that travels in dir for d.
func MoveFor(dir Direction, d time.Duration, speed float64) Segment {
	return Segment{Kind: SegMove, Direction: dir, Duration: d, Speed: speed}
}

// Hold returns a segment that parks the carriage for d while samples are
// captured.
func Hold(d time.Duration) Segment {
	return Segment{Kind: SegHold, Duration: d}
}

// Home returns a segment that seeks the home switch.
func Home() Segment {
	return Segment{Kind: SegHome}
}

// Timed reports whether a move segment ends on elapsed time rather than
// on reaching a target.  A move with a duration is timed; a move without
// one runs to its target.
func (s Segment) Timed() bool {
	return s.Kind == SegMove && s.Duration > 0
}

// Profile is an ordered sequence of segments.  A well-formed profile ends
// with a Home so the rail is never left loaded; the sequencer additionally
// commands a stop when playback ends, so a run is never open-ended.
type Profile struct {
	Segments []Segment `json:"segments" yaml:"segments"`
}

var errEmptyProfile = errors.New("profile has no segments")

// Validate rejects malformed profiles before any hardware is touched.
func (p Profile) Validate() error {
	if len(p.Segments) == 0 {
		return errEmptyProfile
	}
	for i, seg := range p.Segments {
		switch seg.Kind {
		case SegMove:
			if seg.Speed <= 0 {
				return fmt.Errorf("segment %d: move with non-positive speed", i)
			}
			if seg.Timed() {
				if seg.Direction == DirNone {
					return fmt.Errorf("segment %d: timed move with no direction", i)
				}
			} else if seg.Target < 0 {
				return fmt.Errorf("segment %d: move target %g behind home", i, seg.Target)
			}
		case SegHold:
			if seg.Duration <= 0 {
				return fmt.Errorf("segment %d: hold with non-positive duration", i)
			}
		case SegHome:
			// nothing to check
		default:
			return fmt.Errorf("segment %d: unknown kind %d", i, seg.Kind)
		}
	}
	if last := p.Segments[len(p.Segments)-1]; last.Kind != SegHome {
		return errors.New("profile must end with a home segment")
	}
	return nil
}

// Holds returns the indices of the hold segments, in order.
func (p Profile) Holds() []int {
	var idx []int
	for i, seg := range p.Segments {
		if seg.Kind == SegHold {
			idx = append(idx, i)
		}
	}
	return idx
}
