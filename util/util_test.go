package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/larrykvit/loadcell-calibration/util"
)

func ExampleIntSliceToCSV() {
	fmt.Println(util.IntSliceToCSV([]int{101, 102}))
	// Output: 101,102
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampPassesInRange(t *testing.T) {
	out := util.Clamp(5, 0, 10)
	if out != 5 {
		t.Errorf("expected in-range value to pass unmodified, got %f", out)
	}
}

func TestLimiterCheck(t *testing.T) {
	lim := util.Limiter{Min: -10, Max: 250}
	cases := []struct {
		v  float64
		ok bool
	}{
		{0, true},
		{250, true},
		{-10, true},
		{250.1, false},
		{-11, false},
	}
	for _, tc := range cases {
		if got := lim.Check(tc.v); got != tc.ok {
			t.Errorf("Check(%f) = %v, expected %v", tc.v, got, tc.ok)
		}
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
