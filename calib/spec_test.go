package calib

import (
	"reflect"
	"testing"
	"time"
)

func fp(v float64) *float64 { return &v }

func TestProfileSpecBuild(t *testing.T) {
	ps := ProfileSpec{
		{Kind: "move", Target: 12, Speed: 4},
		{Kind: "hold", Seconds: 2, Force: fp(0)},
		{Kind: "move", Direction: "forward", Seconds: 1.5, Speed: 2},
		{Kind: "hold", Seconds: 2, Force: fp(50)},
		{Kind: "home", Speed: 1},
	}
	p, forces, err := ps.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("built profile invalid: %v", err)
	}
	want := []Segment{
		MoveTo(12, 4),
		Hold(2 * time.Second),
		MoveFor(DirForward, 1500*time.Millisecond, 2),
		Hold(2 * time.Second),
		{Kind: SegHome, Speed: 1},
	}
	if !reflect.DeepEqual(p.Segments, want) {
		t.Errorf("segments = %+v, want %+v", p.Segments, want)
	}
	if !reflect.DeepEqual(forces, map[int]float64{1: 0, 3: 50}) {
		t.Errorf("forces = %v, want levels at segments 1 and 3", forces)
	}
}

func TestProfileSpecHoldNeedsForce(t *testing.T) {
	ps := ProfileSpec{
		{Kind: "hold", Seconds: 2},
		{Kind: "home"},
	}
	if _, _, err := ps.Build(); err == nil {
		t.Error("hold with no certified force accepted")
	}
}

func TestProfileSpecRejectsUnknownKind(t *testing.T) {
	ps := ProfileSpec{{Kind: "wiggle"}}
	if _, _, err := ps.Build(); err == nil {
		t.Error("unknown segment kind accepted")
	}
}

func TestProfileSpecRejectsUnknownDirection(t *testing.T) {
	ps := ProfileSpec{{Kind: "move", Direction: "sideways", Seconds: 1, Speed: 1}}
	if _, _, err := ps.Build(); err == nil {
		t.Error("unknown direction accepted")
	}
}

func TestProfileSpecZeroForceIsALevel(t *testing.T) {
	ps := ProfileSpec{
		{Kind: "hold", Seconds: 1, Force: fp(0)},
		{Kind: "home"},
	}
	_, forces, err := ps.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f, ok := forces[0]
	if !ok || f != 0 {
		t.Errorf("forces = %v, want explicit zero level at segment 0", forces)
	}
}
