package keysight

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/larrykvit/loadcell-calibration/calib"
)

// MockDAQ simulates the bridge digitizer for benchwork without hardware.
// Readings derive from a caller supplied force function, scaled per
// channel, with optional gaussian noise.  Wiring Force to a mock motor's
// position closes the loop for full dry runs.
type MockDAQ struct {
	// Force reports the load currently applied to the cell stack, in
	// engineering units.
	Force func() float64

	// RefScale and DUTScale convert force to each channel's raw reading,
	// in V/V per unit force.
	RefScale float64
	DUTScale float64

	// Noise is the standard deviation of gaussian noise added to every
	// reading, in raw units.  Zero gives noiseless readings.
	Noise float64

	// Skew reported on every pair.  Zero selects one millisecond.
	Skew time.Duration

	rng *rand.Rand
}

func (m *MockDAQ) skew() time.Duration {
	if m.Skew > 0 {
		return m.Skew
	}
	return time.Millisecond
}

func (m *MockDAQ) noise() float64 {
	if m.Noise == 0 {
		return 0
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return m.rng.NormFloat64() * m.Noise
}

// Open implements the sensor port.
func (m *MockDAQ) Open() error {
	if m.Force == nil {
		return errors.New("mock daq needs a force source")
	}
	return nil
}

// ReadPair implements the sensor port.
func (m *MockDAQ) ReadPair() (calib.RawSamplePair, error) {
	if m.Force == nil {
		return calib.RawSamplePair{}, errors.New("mock daq needs a force source")
	}
	f := m.Force()
	return calib.RawSamplePair{
		Time: time.Now(),
		Ref:  f*m.RefScale + m.noise(),
		DUT:  f*m.DUTScale + m.noise(),
		Skew: m.skew(),
	}, nil
}

// MaxSkew implements the sensor port; the mock reports exactly what it
// declares.
func (m *MockDAQ) MaxSkew() time.Duration { return m.skew() }

// Close implements the sensor port.
func (m *MockDAQ) Close() error { return nil }
