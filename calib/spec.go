package calib

import (
	"fmt"

	"github.com/larrykvit/loadcell-calibration/util"
)

// SegmentSpec is the declarative form of one profile segment: what
// operators write in YAML run plans and what the HTTP start request
// carries.  Durations are plain seconds rather than nanosecond counts so
// the files stay human editable.
type SegmentSpec struct {
	// Kind is "move", "hold" or "home".
	Kind string `json:"kind" yaml:"kind"`

	// Target position for a positional move, units from home.
	Target float64 `json:"target,omitempty" yaml:"target,omitempty"`

	// Direction of a timed move, "forward" or "reverse".
	Direction string `json:"direction,omitempty" yaml:"direction,omitempty"`

	// Seconds is the dwell of a hold or the travel time of a timed move.
	Seconds float64 `json:"seconds,omitempty" yaml:"seconds,omitempty"`

	// Speed in position units per second.  Optional on home segments,
	// where zero lets the driver pick its gentle homing speed.
	Speed float64 `json:"speed,omitempty" yaml:"speed,omitempty"`

	// Force is the certified load during a hold, in engineering units.
	// A pointer because zero load is a legitimate calibration level.
	Force *float64 `json:"force,omitempty" yaml:"force,omitempty"`
}

// ProfileSpec is an ordered run plan in declarative form.
type ProfileSpec []SegmentSpec

func parseDirection(s string) (Direction, error) {
	switch s {
	case "forward":
		return DirForward, nil
	case "reverse":
		return DirReverse, nil
	case "":
		return DirNone, nil
	default:
		return DirNone, fmt.Errorf("unknown direction %q", s)
	}
}

// Build compiles the plan into a Profile and the force table keyed by
// hold segment index.  Build checks only what the declarative form can
// get wrong: unknown kinds and directions, and holds with no certified
// force.  Structural rules stay in Profile.Validate, which runs on every
// profile no matter where it came from.
func (ps ProfileSpec) Build() (Profile, map[int]float64, error) {
	p := Profile{Segments: make([]Segment, 0, len(ps))}
	forces := make(map[int]float64)
	for i, ss := range ps {
		var seg Segment
		switch ss.Kind {
		case "move":
			dir, err := parseDirection(ss.Direction)
			if err != nil {
				return Profile{}, nil, fmt.Errorf("segment %d: %v", i, err)
			}
			seg = Segment{
				Kind:      SegMove,
				Target:    ss.Target,
				Direction: dir,
				Duration:  util.SecsToDuration(ss.Seconds),
				Speed:     ss.Speed,
			}
		case "hold":
			if ss.Force == nil {
				return Profile{}, nil, fmt.Errorf("segment %d: hold without a certified force", i)
			}
			seg = Hold(util.SecsToDuration(ss.Seconds))
			forces[i] = *ss.Force
		case "home":
			seg = Home()
			seg.Speed = ss.Speed
		default:
			return Profile{}, nil, fmt.Errorf("segment %d: unknown kind %q", i, ss.Kind)
		}
		p.Segments = append(p.Segments, seg)
	}
	return p, forces, nil
}
