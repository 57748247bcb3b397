// Package util contains misc shared helpers.
package util

import (
	"strconv"
	"strings"
	"time"
)

// Clamp restricts v to the range [low, high].
func Clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// Limiter bounds a value on both sides.  The zero value admits only zero;
// populate Min and Max with meaningful bounds before use.
type Limiter struct {
	Max float64 `json:"max" yaml:"max"`
	Min float64 `json:"min" yaml:"min"`
}

// Check returns true if v falls within the limits.
func (l Limiter) Check(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// SecsToDuration converts a floating point number of seconds to a Duration
func SecsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
