package calib

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"
)

// Collector gathers synchronized sample pairs from a SensorPort and
// reduces a hold's worth of them into one calibration point.  During a
// sequenced run the sequencer feeds it one Ingest per tick; Collect runs
// a standalone loop for captures outside a profile (tare, live preview).
type Collector struct {
	Port SensorPort
	Tick *rate.Limiter

	// Settle is the leading window dropped from every capture, covering
	// the mechanical transient after a move.
	Settle time.Duration

	// MinSamples is the fewest stable pairs that can produce a point.
	MinSamples int

	// SpreadTolerance is the widest allowed peak-to-peak spread of the
	// stable test-channel readings, raw units.  Zero disables the gate;
	// holds then stand only on the sample count.
	SpreadTolerance float64

	// TrimFraction is trimmed from each end of the sorted stable
	// readings before taking the mean.  Zero means 0.2.
	TrimFraction float64

	// SyncTolerance is the pair discard threshold.  Zero means the
	// port's declared MaxSkew.
	SyncTolerance time.Duration

	// OnPair, if set, sees every pair that passes the skew gate.  The
	// HTTP layer points the live feed at it.
	OnPair func(RawSamplePair)

	pairs     []RawSamplePair
	discarded int
}

// Begin starts a fresh capture, dropping anything from the previous one.
func (c *Collector) Begin() {
	c.pairs = c.pairs[:0]
	c.discarded = 0
}

// Ingest performs one synchronized read and queues the pair.  Pairs whose
// two channels were captured further apart than the sync tolerance are
// counted and dropped, never queued.
func (c *Collector) Ingest() error {
	pair, err := c.Port.ReadPair()
	if err != nil {
		return fmt.Errorf("sensor read: %w", err)
	}
	if tol := c.skewTolerance(); tol > 0 && pair.Skew > tol {
		c.discarded++
		return nil
	}
	c.pairs = append(c.pairs, pair)
	if c.OnPair != nil {
		c.OnPair(pair)
	}
	return nil
}

// Pairs returns the pairs queued since Begin.
func (c *Collector) Pairs() []RawSamplePair {
	return c.pairs
}

// Discarded returns how many pairs the skew gate dropped since Begin.
func (c *Collector) Discarded() int {
	return c.discarded
}

// Collect runs a standalone capture loop for dur at the shared cadence.
// It is used outside profile playback, where no sequencer owns the tick.
func (c *Collector) Collect(ctx context.Context, dur time.Duration) ([]RawSamplePair, error) {
	c.Begin()
	end := time.Now().Add(dur)
	for time.Now().Before(end) {
		if err := c.Tick.Wait(ctx); err != nil {
			return c.pairs, ErrCanceled
		}
		if err := c.Ingest(); err != nil {
			return c.pairs, err
		}
	}
	return c.pairs, nil
}

// Reduce turns one hold's pairs into a calibration point at the given
// reference force.  The leading settle window is dropped; the remaining
// readings must be numerous and tight enough, or no point is produced.
// The test-channel estimate is a trimmed mean, so a bounced cable or a
// single glitched reading cannot drag the point.
func (c *Collector) Reduce(pairs []RawSamplePair, force float64) (CalibrationPoint, error) {
	if len(pairs) == 0 {
		return CalibrationPoint{}, InsufficientStability{Have: 0, Need: c.minSamples()}
	}
	cutoff := pairs[0].Time.Add(c.Settle)
	stable := make([]float64, 0, len(pairs))
	ref := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		if p.Time.Before(cutoff) {
			continue
		}
		stable = append(stable, p.DUT)
		ref = append(ref, p.Ref)
	}
	if len(stable) < c.minSamples() {
		return CalibrationPoint{}, InsufficientStability{Have: len(stable), Need: c.minSamples()}
	}
	sort.Float64s(stable)
	if c.SpreadTolerance > 0 {
		if spread := stable[len(stable)-1] - stable[0]; spread > c.SpreadTolerance {
			return CalibrationPoint{}, InsufficientStability{
				Have:      len(stable),
				Need:      c.minSamples(),
				Spread:    spread,
				Tolerance: c.SpreadTolerance,
			}
		}
	}
	window := trim(stable, c.trimFraction())
	return CalibrationPoint{
		Force:  force,
		Raw:    stat.Mean(window, nil),
		RefRaw: stat.Mean(ref, nil),
		N:      len(stable),
	}, nil
}

func (c *Collector) skewTolerance() time.Duration {
	if c.SyncTolerance > 0 {
		return c.SyncTolerance
	}
	return c.Port.MaxSkew()
}

func (c *Collector) minSamples() int {
	if c.MinSamples > 0 {
		return c.MinSamples
	}
	return 1
}

func (c *Collector) trimFraction() float64 {
	if c.TrimFraction > 0 {
		return c.TrimFraction
	}
	return 0.2
}

// trim drops fraction of the sorted values from each end, always leaving
// at least one.
func trim(sorted []float64, fraction float64) []float64 {
	k := int(fraction * float64(len(sorted)))
	if 2*k >= len(sorted) {
		k = (len(sorted) - 1) / 2
	}
	return sorted[k : len(sorted)-k]
}
