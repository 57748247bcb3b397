/*Package roboclaw provides control of Basicmicro Roboclaw motor
controllers over packet serial, and an adapter from one of them to the
calibration engine's motion interface.

Only channel M1 is driven; the jig's lead screw uses a single motor.  The
controller is assumed to be pre-configured with Motion Studio: packet
serial mode, 115200 baud, velocity and position PID constants, and the
S4/S5 pins set to report the limit switches.
*/
package roboclaw

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/larrykvit/loadcell-calibration/comm"
)

const (
	// DefaultBaud is the serial rate the jig's controller is configured for.
	DefaultBaud = 115200

	// DefaultAddress is the factory packet-serial address.
	DefaultAddress = 0x80

	// ack is the lone byte returned for an accepted set command.
	ack = 0xFF
)

// command bytes used by this driver.  The controller's full command set
// is far larger; this is the slice the jig needs.
const (
	cmdM1Encoder     byte = 16
	cmdResetEncoders byte = 20
	cmdVersion       byte = 21
	cmdM1Duty        byte = 32
	cmdM1Speed       byte = 35
	cmdCurrents      byte = 49
	cmdM1Position    byte = 65
	cmdStatus        byte = 90
)

var (
	// ErrNack is returned when a set command is not acknowledged.
	ErrNack = errors.New("controller did not acknowledge command")

	// ErrTimeout is returned when the controller stops answering mid
	// response.  The serial layer reports expired read timeouts as zero
	// byte reads rather than errors.
	ErrTimeout = errors.New("timed out waiting for controller response")
)

// Controller talks packet serial to one Roboclaw.  Use NewController, or
// populate Pool and Addr directly when the controller sits behind a
// serial-to-ethernet bridge with nonstandard settings.
type Controller struct {
	// Pool holds the connection.  Packet serial is strictly
	// request/response, so the pool is sized to one connection.
	Pool *comm.Pool

	// Addr is the packet-serial address of the controller.
	Addr byte

	// Timeout bounds each request/response exchange.  Zero selects one
	// second.
	Timeout time.Duration

	// Accel is the ramp used for position moves, in counts/s/s.  Zero
	// selects twice the commanded speed, reaching speed in half a second.
	Accel uint32
}

// NewController returns a Controller ready to talk to the given address.
// addr is a serial port name when connectSerial is true, otherwise a
// host:port for a serial-to-ethernet bridge.  address is the controller's
// packet-serial address, DefaultAddress unless reconfigured.
func NewController(addr string, connectSerial bool, address byte) *Controller {
	var maker comm.CreationFunc
	if connectSerial {
		conf := &serial.Config{Name: addr, Baud: DefaultBaud, ReadTimeout: time.Second}
		maker = comm.SerialConnMaker(conf)
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, time.Second)
	}
	pool := comm.NewPool(1, time.Hour, maker)
	return &Controller{Pool: pool, Addr: address, Timeout: time.Second}
}

func (c *Controller) timeout() time.Duration {
	if c.Timeout == 0 {
		return time.Second
	}
	return c.Timeout
}

// readFull reads until buf is full, mapping zero byte reads (an expired
// serial read timeout) to ErrTimeout.
func readFull(r io.Reader, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return err
		}
		if m == 0 {
			return ErrTimeout
		}
	}
	return nil
}

// transact leases the connection, writes send, and reads back exactly
// want bytes.  All fixed-size exchanges funnel through here so the pool
// lease exists exactly once.
func (c *Controller) transact(send []byte, want int) ([]byte, error) {
	conn, err := c.Pool.Get()
	if err != nil {
		return nil, errors.Wrap(err, "getting connection to controller")
	}
	defer func() { c.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, c.timeout())
	if err != nil {
		return nil, err
	}
	if _, err = wrap.Write(send); err != nil {
		return nil, errors.Wrapf(err, "writing command %d", send[1])
	}
	buf := make([]byte, want)
	if err = readFull(wrap, buf); err != nil {
		return nil, errors.Wrapf(err, "reading response to command %d", send[1])
	}
	return buf, nil
}

// exec runs a set command.  The frame carries a CRC over address, command
// and data, and the controller answers with a single acknowledge byte.
func (c *Controller) exec(cmd byte, data ...byte) error {
	req := append([]byte{c.Addr, cmd}, data...)
	req = append(req, crcBytes(req)...)
	resp, err := c.transact(req, 1)
	if err != nil {
		return err
	}
	if resp[0] != ack {
		return errors.Wrapf(ErrNack, "command %d", cmd)
	}
	return nil
}

// query runs a get command returning n data bytes.  The request is sent
// bare; the response CRC covers the request and response together, so
// corruption on either leg is caught.
func (c *Controller) query(cmd byte, n int) ([]byte, error) {
	req := []byte{c.Addr, cmd}
	resp, err := c.transact(req, n+2)
	if err != nil {
		return nil, err
	}
	covered := append(req, resp[:n]...)
	if err := checkCRC(covered, resp[n:]); err != nil {
		return nil, errors.Wrapf(err, "response to command %d", cmd)
	}
	return resp[:n], nil
}

// Version reads the firmware identification string, e.g.
// "USB Roboclaw 2x7a v4.1.34".  It doubles as the open-time liveness
// probe: a good answer proves the port, the baud rate and the packet
// address in one exchange.  The response is null terminated rather than
// fixed size, so it is read a byte at a time.
func (c *Controller) Version() (string, error) {
	req := []byte{c.Addr, cmdVersion}
	conn, err := c.Pool.Get()
	if err != nil {
		return "", errors.Wrap(err, "getting connection to controller")
	}
	defer func() { c.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, c.timeout())
	if err != nil {
		return "", err
	}
	if _, err = wrap.Write(req); err != nil {
		return "", errors.Wrap(err, "requesting version")
	}
	data := make([]byte, 0, 64)
	one := make([]byte, 1)
	for {
		if err = readFull(wrap, one); err != nil {
			return "", errors.Wrap(err, "reading version")
		}
		data = append(data, one[0])
		if one[0] == 0 {
			break
		}
		if len(data) > 64 {
			err = errors.New("unterminated version string")
			return "", err
		}
	}
	crcIn := make([]byte, 2)
	if err = readFull(wrap, crcIn); err != nil {
		return "", errors.Wrap(err, "reading version")
	}
	if err = checkCRC(append(req, data...), crcIn); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(data, "\x00\r\n")), nil
}

// DriveDuty commands open-loop PWM on M1.  duty is signed full scale,
// ±32767; zero cuts drive and is the stop primitive.
func (c *Controller) DriveDuty(duty int16) error {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(duty))
	return c.exec(cmdM1Duty, data...)
}

// DriveSpeed commands closed-loop velocity on M1 in counts per second,
// signed.
func (c *Controller) DriveSpeed(speed int32) error {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(speed))
	return c.exec(cmdM1Speed, data...)
}

// MoveTo commands a buffered position move on M1 to an absolute encoder
// count at the given speed, flushing any queued moves.  The accel and
// deccel ramps both come from c.Accel.
func (c *Controller) MoveTo(position int32, speed uint32) error {
	accel := c.Accel
	if accel == 0 {
		accel = 2 * speed
	}
	if accel == 0 {
		accel = 1
	}
	data := make([]byte, 17)
	binary.BigEndian.PutUint32(data[0:], accel)
	binary.BigEndian.PutUint32(data[4:], speed)
	binary.BigEndian.PutUint32(data[8:], accel)
	binary.BigEndian.PutUint32(data[12:], uint32(position))
	data[16] = 1 // execute now, do not queue
	return c.exec(cmdM1Position, data...)
}

// Encoder reads the M1 quadrature count.  The count is a signed 32-bit
// value; the trailing status byte (under/overflow flags) is discarded,
// the jig's travel being a few thousand counts at most.
func (c *Controller) Encoder() (int32, error) {
	resp, err := c.query(cmdM1Encoder, 5)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(resp[:4])), nil
}

// ResetEncoders zeroes both quadrature counters.  The jig calls this at
// the home switch so position becomes counts from home.
func (c *Controller) ResetEncoders() error {
	return c.exec(cmdResetEncoders)
}

// Currents reads both motor currents in amps.  The wire format is signed
// 16-bit values in units of 10 mA.
func (c *Controller) Currents() (m1, m2 float64, err error) {
	resp, err := c.query(cmdCurrents, 4)
	if err != nil {
		return 0, 0, err
	}
	m1 = float64(int16(binary.BigEndian.Uint16(resp[:2]))) / 100
	m2 = float64(int16(binary.BigEndian.Uint16(resp[2:]))) / 100
	return m1, m2, nil
}

// Flags reads the unified error/warning register.
func (c *Controller) Flags() (Status, error) {
	resp, err := c.query(cmdStatus, 4)
	if err != nil {
		return Status{}, err
	}
	return StatusFromBits(binary.BigEndian.Uint32(resp)), nil
}

// Close releases the connection to the controller.
func (c *Controller) Close() error {
	c.Pool.Drain()
	return nil
}
