package roboclaw

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/larrykvit/loadcell-calibration/util"
)

// Mock simulates a Roboclaw and the jig mechanics well enough to exercise
// the whole engine without hardware: wall-clock kinematics, limit
// switches at both ends of travel, and an optional jam that stalls
// forward motion at a set count with elevated current draw.
//
// The physical carriage position and the encoder frame are tracked
// separately, as on the real jig: resetting the encoders re-zeroes the
// reported count at the current spot but moves nothing.
type Mock struct {
	mu     sync.Mutex
	pos    float64  // physical position, counts; switches live here
	offset float64  // encoder zero in the physical frame
	vel    float64  // counts/s, velocity mode
	target *float64 // physical target, position mode
	tspeed float64  // counts/s magnitude, position mode
	last   time.Time
	fault  bool
	closed bool

	// Travel is the physical count at which the far limit switch closes.
	// The carriage cannot move past it.
	Travel float64

	// MaxRate is the velocity commanded by full-scale duty, counts/s.
	MaxRate float64

	// JamAt stalls forward motion at this physical count when positive,
	// drawing JamAmps.  Simulates an obstruction for safety tests.
	JamAt   float64
	JamAmps float64

	// IdleAmps and DriveAmps are the currents reported at rest and in
	// motion.
	IdleAmps  float64
	DriveAmps float64
}

// NewMock returns a mock with the given counts of rail travel and
// bench-plausible current draw.
func NewMock(travel float64) *Mock {
	return &Mock{
		Travel:    travel,
		MaxRate:   5000,
		JamAmps:   5,
		IdleAmps:  0.05,
		DriveAmps: 0.4,
		last:      time.Now(),
	}
}

// advance integrates motion since the last call.  Callers hold mu.
func (m *Mock) advance() {
	now := time.Now()
	dt := now.Sub(m.last).Seconds()
	m.last = now
	if dt <= 0 {
		return
	}
	switch {
	case m.target != nil:
		step := m.tspeed * dt
		d := *m.target - m.pos
		if math.Abs(d) <= step {
			m.pos = *m.target
			m.target = nil
		} else if d > 0 {
			m.pos += step
		} else {
			m.pos -= step
		}
	case m.vel != 0:
		m.pos += m.vel * dt
	}
	if m.JamAt > 0 && m.pos > m.JamAt {
		m.pos = m.JamAt
	}
	m.pos = util.Clamp(m.pos, 0, m.Travel)
}

// drive reports the commanded motion: positive forward, negative reverse,
// zero at rest.  Callers hold mu.
func (m *Mock) drive() float64 {
	if m.target != nil {
		return *m.target - m.pos
	}
	return m.vel
}

func (m *Mock) jammed() bool {
	return m.JamAt > 0 && m.pos >= m.JamAt && m.drive() > 0
}

func (m *Mock) ok() error {
	if m.closed {
		return errors.New("mock controller is closed")
	}
	return nil
}

// Position reports the physical carriage position in counts.  Used to
// couple a simulated load to the mock digitizer.
func (m *Mock) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	return m.pos
}

// InjectFault sets or clears a simulated driver fault, for exercising the
// safety path.
func (m *Mock) InjectFault(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = on
}

// Version implements Commander.
func (m *Mock) Version() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return "", err
	}
	return "mock roboclaw 2x7a v4.1.34", nil
}

// DriveDuty implements Commander; duty maps linearly onto MaxRate.
func (m *Mock) DriveDuty(duty int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return err
	}
	m.advance()
	m.target = nil
	m.vel = float64(duty) / 32767 * m.MaxRate
	return nil
}

// DriveSpeed implements Commander.
func (m *Mock) DriveSpeed(speed int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return err
	}
	m.advance()
	m.target = nil
	m.vel = float64(speed)
	return nil
}

// MoveTo implements Commander.  position is in the encoder frame.
func (m *Mock) MoveTo(position int32, speed uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return err
	}
	m.advance()
	p := float64(position) + m.offset
	m.target = &p
	m.tspeed = float64(speed)
	m.vel = 0
	return nil
}

// Encoder implements Commander.
func (m *Mock) Encoder() (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return 0, err
	}
	m.advance()
	return int32(m.pos - m.offset), nil
}

// ResetEncoders implements Commander.
func (m *Mock) ResetEncoders() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return err
	}
	m.advance()
	m.offset = m.pos
	return nil
}

// Currents implements Commander.  M2 is unloaded and reads zero.
func (m *Mock) Currents() (m1, m2 float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return 0, 0, err
	}
	m.advance()
	switch {
	case m.jammed():
		m1 = m.JamAmps
	case m.drive() != 0:
		m1 = m.DriveAmps
	default:
		m1 = m.IdleAmps
	}
	return m1, 0, nil
}

// Flags implements Commander.
func (m *Mock) Flags() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ok(); err != nil {
		return Status{}, err
	}
	m.advance()
	return Status{
		S4Triggered:   m.pos <= 0,
		S5Triggered:   m.pos >= m.Travel,
		M1DriverFault: m.fault,
	}, nil
}

// Close implements Commander.  Motion stops and further commands error.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.vel = 0
	m.target = nil
	m.closed = true
	return nil
}
