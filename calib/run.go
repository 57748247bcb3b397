package calib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/larrykvit/loadcell-calibration/util"
)

// State is the lifecycle position of a Runner.
type State int

const (
	// Idle means no run has started since creation or Reset.
	Idle State = iota
	// Homing means the jig is seeking its reference position.
	Homing
	// Sequencing means the profile is playing between holds.
	Sequencing
	// Sampling means a hold dwell is capturing sensor pairs.
	Sampling
	// Fitting means motion is done and the model is being solved.
	Fitting
	// Completed means the run finished; the result may still carry a
	// fitting error.
	Completed
	// Aborted means the run stopped early on an operator cancel, a
	// boundary hit, or a sensor failure.
	Aborted
	// Faulted means a safety stop latched; Reset is required before the
	// next run.
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Homing:
		return "Homing"
	case Sequencing:
		return "Sequencing"
	case Sampling:
		return "Sampling"
	case Fitting:
		return "Fitting"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	case Faulted:
		return "Faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders states as words over the wire.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config gathers the tunables of a calibration run.  Zero fields take
// defaults sized for the bench jig.
type Config struct {
	// Tick is the shared poll cadence for motion and sampling.
	Tick time.Duration `json:"tick" yaml:"tick"`
	// PositionTolerance is how close a positional move must land, in
	// position units.
	PositionTolerance float64 `json:"positionTolerance" yaml:"positionTolerance"`
	// SegmentTimeout bounds any one segment beyond its own duration.
	SegmentTimeout time.Duration `json:"segmentTimeout" yaml:"segmentTimeout"`
	// Settle is discarded from the head of every hold before reduction.
	Settle time.Duration `json:"settle" yaml:"settle"`
	// MinSamples is the fewest settled pairs a hold may reduce from.
	MinSamples int `json:"minSamples" yaml:"minSamples"`
	// SpreadTolerance bounds the settled min-to-max spread; zero or
	// negative disables the gate.
	SpreadTolerance float64 `json:"spreadTolerance" yaml:"spreadTolerance"`
	// TrimFraction is trimmed from each end of the sorted hold readings
	// before the mean.
	TrimFraction float64 `json:"trimFraction" yaml:"trimFraction"`
	// SyncTolerance bounds ref/dut skew; zero defers to the sensor port.
	SyncTolerance time.Duration `json:"syncTolerance" yaml:"syncTolerance"`
	// StallCurrent is the sustained-current fault threshold, amps; zero
	// disables stall detection.
	StallCurrent float64 `json:"stallCurrent" yaml:"stallCurrent"`
	// StallGrace is how long the current may sit over threshold.
	StallGrace time.Duration `json:"stallGrace" yaml:"stallGrace"`
	// Travel soft-limits the commanded position range.
	Travel util.Limiter `json:"travel" yaml:"travel"`
	// FitOrder is the polynomial order of the force model.
	FitOrder int `json:"fitOrder" yaml:"fitOrder"`
	// MonotonicTolerance forgives raw dips between force levels.
	MonotonicTolerance float64 `json:"monotonicTolerance" yaml:"monotonicTolerance"`
	// TareDuration is the unloaded capture taken after homing; zero
	// skips the tare.
	TareDuration time.Duration `json:"tareDuration" yaml:"tareDuration"`
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.PositionTolerance <= 0 {
		c.PositionTolerance = 0.5
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = DefaultSegmentTimeout
	}
	if c.Settle <= 0 {
		c.Settle = 500 * time.Millisecond
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 8
	}
	if c.TrimFraction <= 0 {
		c.TrimFraction = 0.2
	}
	if c.StallGrace <= 0 {
		c.StallGrace = 250 * time.Millisecond
	}
	if c.FitOrder <= 0 {
		c.FitOrder = 1
	}
	if c.TareDuration < 0 {
		c.TareDuration = 0
	}
	return c
}

// Result is the complete account of one run.  Failures ride along in Err
// rather than being thrown past the caller, so every run that got as far
// as touching hardware yields an inspectable record.
type Result struct {
	Status   State              `json:"status"`
	Points   []CalibrationPoint `json:"points"`
	Model    *Model             `json:"model,omitempty"`
	Tare     *Tare              `json:"tare,omitempty"`
	Failure  string             `json:"failure,omitempty"`
	Started  time.Time          `json:"started"`
	Finished time.Time          `json:"finished"`
	Err      error              `json:"-"`
}

// Snapshot is a point-in-time view of a runner for status reporting.
type Snapshot struct {
	State   State  `json:"state"`
	Segment int    `json:"segment"`
	Points  int    `json:"points"`
	Latched string `json:"latched,omitempty"`
}

// Runner owns the lifecycle of calibration runs over one motion port and
// one sensor port.  One run at a time; a run that faults latches the
// fault and refuses further runs until Reset.
type Runner struct {
	// Log receives state transitions and per-point progress.
	Log logrus.FieldLogger

	motion MotionPort
	sensor SensorPort
	cfg    Config

	mu      sync.Mutex
	state   State
	latched error
	last    *Result
	segment int
	points  int
	onPair  func(RawSamplePair)
}

// NewRunner builds a runner over the given ports.  The ports are opened
// at the start of each run and closed when it ends, however it ends.
func NewRunner(motion MotionPort, sensor SensorPort, cfg Config) *Runner {
	return &Runner{
		Log:     logrus.StandardLogger(),
		motion:  motion,
		sensor:  sensor,
		cfg:     cfg.withDefaults(),
		segment: -1,
	}
}

// SetLive registers a callback invoked with every sample pair captured
// during holds and tare.  Set it before Run; it is read without locking
// once a run is underway.
func (r *Runner) SetLive(fn func(RawSamplePair)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPair = fn
}

// State reports the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot reports state plus live progress counters.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{State: r.state, Segment: r.segment, Points: r.points}
	if r.latched != nil {
		s.Latched = r.latched.Error()
	}
	return s
}

// Last returns the most recent completed result, if any.
func (r *Runner) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

// Reset clears a latched fault and returns the runner to Idle.  It
// refuses while a run is active.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state >= Homing && r.state <= Fitting {
		return ErrBusy
	}
	r.latched = nil
	r.state = Idle
	r.segment = -1
	r.points = 0
	return nil
}

// Run executes one calibration run synchronously: home, tare, play the
// profile reducing each hold to a point, then fit.  forces maps hold
// segment indexes to the reference force applied there.
//
// Errors from preflight checks (busy, latched fault, bad profile) are
// returned directly with an empty result.  Once hardware is touched the
// run always returns a Result and a nil error; failures are recorded in
// Result.Err and Result.Status.
func (r *Runner) Run(ctx context.Context, profile Profile, forces map[int]float64) (Result, error) {
	if err := profile.Validate(); err != nil {
		return Result{}, err
	}
	for _, hi := range profile.Holds() {
		if _, ok := forces[hi]; !ok {
			return Result{}, fmt.Errorf("hold segment %d has no reference force", hi)
		}
	}
	r.mu.Lock()
	if r.latched != nil {
		latched := r.latched
		r.mu.Unlock()
		return Result{}, latched
	}
	if r.state >= Homing && r.state <= Fitting {
		r.mu.Unlock()
		return Result{}, ErrBusy
	}
	r.state = Homing
	r.segment = -1
	r.points = 0
	live := r.onPair
	r.mu.Unlock()
	r.Log.WithField("segments", len(profile.Segments)).Info("calibration run starting")

	started := time.Now()
	res := r.execute(ctx, profile, forces, live)
	res.Started = started
	res.Finished = time.Now()
	if res.Err != nil {
		res.Failure = res.Err.Error()
	}

	r.mu.Lock()
	r.state = res.Status
	if res.Status == Faulted {
		r.latched = res.Err
	}
	keep := res
	r.last = &keep
	r.mu.Unlock()
	r.Log.WithFields(logrus.Fields{
		"status": res.Status.String(),
		"points": len(res.Points),
	}).Info("calibration run finished")
	return res, nil
}

func (r *Runner) execute(ctx context.Context, profile Profile, forces map[int]float64, live func(RawSamplePair)) Result {
	var res Result
	if err := r.motion.Open(); err != nil {
		res.Status = Aborted
		res.Err = fmt.Errorf("acquire motion port: %w", err)
		return res
	}
	defer func() {
		if err := r.motion.Close(); err != nil {
			r.Log.WithError(err).Warn("motion port release failed")
		}
	}()
	if err := r.sensor.Open(); err != nil {
		res.Status = Aborted
		res.Err = fmt.Errorf("acquire sensor port: %w", err)
		return res
	}
	defer func() {
		if err := r.sensor.Close(); err != nil {
			r.Log.WithError(err).Warn("sensor port release failed")
		}
	}()

	// One limiter paces both motion polling and sampling so the two
	// never compete for the bus.
	tick := rate.NewLimiter(rate.Every(r.cfg.Tick), 1)
	monitor := &Monitor{
		StallCurrent: r.cfg.StallCurrent,
		StallGrace:   r.cfg.StallGrace,
		Travel:       r.cfg.Travel,
	}
	collector := &Collector{
		Port:            r.sensor,
		Tick:            tick,
		Settle:          r.cfg.Settle,
		MinSamples:      r.cfg.MinSamples,
		SpreadTolerance: r.cfg.SpreadTolerance,
		TrimFraction:    r.cfg.TrimFraction,
		SyncTolerance:   r.cfg.SyncTolerance,
		OnPair:          live,
	}

	var points []CalibrationPoint
	retried := map[int]bool{}
	homing := true
	seq := &Sequencer{
		Port:              r.motion,
		Monitor:           monitor,
		Tick:              tick,
		PositionTolerance: r.cfg.PositionTolerance,
		SegmentTimeout:    r.cfg.SegmentTimeout,
	}
	seq.OnSegmentStart = func(i int, seg Segment) {
		if homing {
			return
		}
		r.progress(i)
		if seg.Kind == SegHold {
			r.setState(Sampling)
			collector.Begin()
		} else {
			r.setState(Sequencing)
		}
		r.Log.WithFields(logrus.Fields{
			"segment": i,
			"kind":    seg.Kind.String(),
		}).Info("segment start")
	}
	seq.HoldTick = func(int) error { return collector.Ingest() }
	seq.OnHoldComplete = func(i int) (bool, error) {
		pt, err := collector.Reduce(collector.Pairs(), forces[i])
		if err != nil {
			var unstable InsufficientStability
			if errors.As(err, &unstable) && !retried[i] {
				retried[i] = true
				r.Log.WithField("segment", i).WithError(err).Warn("hold unstable, repeating dwell")
				collector.Begin()
				return true, nil
			}
			return false, err
		}
		pt.Segment = i
		points = append(points, pt)
		r.addPoint()
		r.Log.WithFields(logrus.Fields{
			"segment": i,
			"force":   pt.Force,
			"raw":     pt.Raw,
			"n":       pt.N,
		}).Info("calibration point")
		return false, nil
	}

	// Home first so every profile position shares one reference.
	out := seq.Run(ctx, Profile{Segments: []Segment{Home()}})
	if !out.Completed {
		return r.stopped(res, out, points)
	}

	if r.cfg.TareDuration > 0 {
		pairs, err := collector.Collect(ctx, r.cfg.TareDuration)
		if err != nil {
			res.Status = Aborted
			res.Err = fmt.Errorf("tare capture: %w", err)
			res.Points = points
			return res
		}
		res.Tare = tareOf(pairs)
		r.Log.WithFields(logrus.Fields{
			"ref": res.Tare.Ref,
			"dut": res.Tare.DUT,
			"n":   res.Tare.N,
		}).Info("tare captured")
	}

	homing = false
	r.setState(Sequencing)
	out = seq.Run(ctx, profile)
	if !out.Completed {
		return r.stopped(res, out, points)
	}
	res.Points = points

	r.setState(Fitting)
	fitter := Fitter{Order: r.cfg.FitOrder, MonotonicTolerance: r.cfg.MonotonicTolerance}
	model, err := fitter.Fit(points)
	res.Status = Completed
	if err != nil {
		res.Err = err
		r.Log.WithError(err).Error("fit failed; run completed without a model")
		return res
	}
	res.Model = &model
	r.Log.WithFields(logrus.Fields{
		"coeffs": model.Coeffs,
		"rmse":   model.RMSE,
	}).Info("model fitted")
	return res
}

func (r *Runner) stopped(res Result, out SequenceOutcome, points []CalibrationPoint) Result {
	res.Points = points
	res.Err = out.Err
	if out.Fault {
		res.Status = Faulted
		r.Log.WithField("segment", out.Segment).WithError(out.Err).Error("run faulted")
	} else {
		res.Status = Aborted
		r.Log.WithField("segment", out.Segment).WithError(out.Err).Warn("run aborted")
	}
	return res
}

// tareOf averages a raw capture into a zero-load record.  The tare is
// reported alongside results rather than subtracted from them; fitting
// with an intercept absorbs the offset more faithfully.
func tareOf(pairs []RawSamplePair) *Tare {
	t := &Tare{N: len(pairs)}
	if t.N == 0 {
		return t
	}
	for _, p := range pairs {
		t.Ref += p.Ref
		t.DUT += p.DUT
	}
	t.Ref /= float64(t.N)
	t.DUT /= float64(t.N)
	return t
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	old := r.state
	r.state = s
	r.mu.Unlock()
	if old != s {
		r.Log.WithFields(logrus.Fields{
			"from": old.String(),
			"to":   s.String(),
		}).Info("run state")
	}
}

func (r *Runner) progress(segment int) {
	r.mu.Lock()
	r.segment = segment
	r.mu.Unlock()
}

func (r *Runner) addPoint() {
	r.mu.Lock()
	r.points++
	r.mu.Unlock()
}
