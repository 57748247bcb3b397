package calib

import (
	"errors"
	"time"

	"golang.org/x/time/rate"
)

func instantTick() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// benchMotion is a kinematic stand-in for the motor controller.  The
// carriage advances one step toward its goal per status poll, the low
// switch closes at position zero, and an optional jam point simulates a
// stall with elevated current draw.
type benchMotion struct {
	pos  float64
	step float64

	target  float64
	moving  bool
	jogging bool
	jogDir  Direction
	homing  bool

	limitHigh float64 // high switch position; zero disables
	stallPos  float64 // carriage jams here during forward moves; zero disables
	stallAmps float64 // draw reported while jammed

	fault bool

	opens, closes int
	cmds          []MotionCommand
	openErr       error
	cmdErr        error
	statusErr     error
}

func (m *benchMotion) Open() error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opens++
	return nil
}

func (m *benchMotion) Close() error {
	m.closes++
	return nil
}

func (m *benchMotion) Command(c MotionCommand) error {
	if m.cmdErr != nil {
		return m.cmdErr
	}
	m.cmds = append(m.cmds, c)
	switch c.Kind {
	case CommandStop:
		m.moving, m.jogging, m.homing = false, false, false
	case CommandMove:
		m.moving, m.jogging, m.homing = true, false, false
		m.target = c.Target
	case CommandJog:
		m.moving, m.jogging, m.homing = false, true, false
		m.jogDir = c.Direction
	case CommandHome:
		m.moving, m.jogging, m.homing = false, false, true
	case CommandZero:
		m.pos = 0
	}
	return nil
}

func (m *benchMotion) Status() (MotionStatus, error) {
	if m.statusErr != nil {
		return MotionStatus{}, m.statusErr
	}
	m.advance()
	st := MotionStatus{
		Position: m.pos,
		LimitLow: m.pos <= 0,
		Fault:    m.fault,
	}
	if m.limitHigh > 0 && m.pos >= m.limitHigh {
		st.LimitHigh = true
	}
	if m.jammed() {
		st.Current = m.stallAmps
	}
	return st, nil
}

func (m *benchMotion) advance() {
	switch {
	case m.homing:
		m.pos -= m.step
		if m.pos < 0 {
			m.pos = 0
		}
	case m.jogging:
		if m.jogDir == DirReverse {
			m.pos -= m.step
		} else {
			m.pos += m.step
		}
	case m.moving:
		delta := m.target - m.pos
		switch {
		case delta > m.step:
			delta = m.step
		case delta < -m.step:
			delta = -m.step
		}
		m.pos += delta
		if m.stallPos > 0 && m.pos >= m.stallPos {
			m.pos = m.stallPos
		}
	}
}

func (m *benchMotion) jammed() bool {
	return m.stallPos > 0 && m.moving && m.pos >= m.stallPos && m.target > m.stallPos
}

func (m *benchMotion) kinds() []CommandKind {
	out := make([]CommandKind, len(m.cmds))
	for i, c := range m.cmds {
		out[i] = c.Kind
	}
	return out
}

// benchSensor reads both channels off a benchMotion's position, so holds
// see constant readings and the tare sees zero.  noisyFor offsets the
// test channel for a window after the first read, for stability-gate
// tests.
type benchSensor struct {
	motion   *benchMotion
	refScale float64
	dutScale float64
	skew     time.Duration
	maxSkew  time.Duration

	noisyFor  time.Duration
	firstRead time.Time

	failAfter int // fail this many reads in, zero disables
	reads     int

	opens, closes int
	openErr       error
}

func (s *benchSensor) Open() error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opens++
	return nil
}

func (s *benchSensor) Close() error {
	s.closes++
	return nil
}

func (s *benchSensor) MaxSkew() time.Duration {
	if s.maxSkew > 0 {
		return s.maxSkew
	}
	return 5 * time.Millisecond
}

func (s *benchSensor) ReadPair() (RawSamplePair, error) {
	s.reads++
	if s.failAfter > 0 && s.reads > s.failAfter {
		return RawSamplePair{}, errors.New("bridge stopped answering")
	}
	if s.firstRead.IsZero() {
		s.firstRead = time.Now()
	}
	dut := s.motion.pos * s.dutScale
	// alternate-read bounce, so the spread gate has something to catch
	if s.noisyFor > 0 && time.Since(s.firstRead) < s.noisyFor && s.reads%2 == 0 {
		dut++
	}
	return RawSamplePair{
		Time: time.Now(),
		Ref:  s.motion.pos * s.refScale,
		DUT:  dut,
		Skew: s.skew,
	}, nil
}

// scriptPort replays a fixed list of status snapshots, repeating the last
// one, and records every command.  It drives the sequencer tests that
// need an exact poll-by-poll story.
type scriptPort struct {
	statuses  []MotionStatus
	idx       int
	statusErr error

	cmds          []MotionCommand
	opens, closes int
}

func (p *scriptPort) Open() error  { p.opens++; return nil }
func (p *scriptPort) Close() error { p.closes++; return nil }

func (p *scriptPort) Command(c MotionCommand) error {
	p.cmds = append(p.cmds, c)
	return nil
}

func (p *scriptPort) Status() (MotionStatus, error) {
	if p.statusErr != nil {
		return MotionStatus{}, p.statusErr
	}
	if len(p.statuses) == 0 {
		return MotionStatus{}, nil
	}
	st := p.statuses[p.idx]
	if p.idx < len(p.statuses)-1 {
		p.idx++
	}
	return st, nil
}

func (p *scriptPort) kinds() []CommandKind {
	out := make([]CommandKind, len(p.cmds))
	for i, c := range p.cmds {
		out[i] = c.Kind
	}
	return out
}

// scriptSensor replays sample pairs, repeating the last, stamping the
// current time on pairs scripted without one.
type scriptSensor struct {
	pairs   []RawSamplePair
	idx     int
	err     error
	maxSkew time.Duration

	opens, closes int
}

func (s *scriptSensor) Open() error  { s.opens++; return nil }
func (s *scriptSensor) Close() error { s.closes++; return nil }

func (s *scriptSensor) MaxSkew() time.Duration {
	if s.maxSkew > 0 {
		return s.maxSkew
	}
	return 5 * time.Millisecond
}

func (s *scriptSensor) ReadPair() (RawSamplePair, error) {
	if s.err != nil {
		return RawSamplePair{}, s.err
	}
	p := s.pairs[s.idx]
	if s.idx < len(s.pairs)-1 {
		s.idx++
	}
	if p.Time.IsZero() {
		p.Time = time.Now()
	}
	return p, nil
}
