/*Package comm provides transport plumbing for communication with lab hardware.

Connections are held in a Pool and handed out one at a time, so a driver
never worries about contested sockets or dangling file descriptors; idle
connections are closed after a timeout and recreated on demand.  Most
drivers in this repository follow the same recipe:

	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, 30*time.Second, maker)

	// per transaction
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, timeout)
	if err != nil {
		return err
	}
	wrap = comm.NewTerminator(wrap, '\n', '\n')
	// ... read and write on wrap

The Timeout wrapper refreshes I/O deadlines on connections that support
them (TCP); serial ports configure their read timeout at open time and
pass through unchanged.  The Terminator wrapper appends the Tx terminator
on writes and consumes up to the Rx terminator on reads, stripping it.
*/
package comm

import (
	"errors"
	"io"
	"net"
	"time"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not
	// found in a response before the caller's buffer fills.
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the Rx and Tx termination bytes used on a link.
type Terminators struct {
	Rx byte
	Tx byte
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// deadliner is satisfied by net.Conn and anything else whose I/O can be
// bounded after open.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type timeoutRW struct {
	rw  io.ReadWriter
	d   deadliner
	dur time.Duration
}

// NewTimeout wraps rw such that every Read and Write refreshes the I/O
// deadline to now+dur.  If rw does not support deadlines (serial ports,
// in-memory fakes) it is returned unchanged; serial links carry their own
// ReadTimeout from open time.
func NewTimeout(rw io.ReadWriter, dur time.Duration) (io.ReadWriter, error) {
	if d, ok := rw.(deadliner); ok {
		return &timeoutRW{rw: rw, d: d, dur: dur}, nil
	}
	return rw, nil
}

func (t *timeoutRW) Read(p []byte) (int, error) {
	if err := t.d.SetReadDeadline(time.Now().Add(t.dur)); err != nil {
		return 0, err
	}
	return t.rw.Read(p)
}

func (t *timeoutRW) Write(p []byte) (int, error) {
	if err := t.d.SetWriteDeadline(time.Now().Add(t.dur)); err != nil {
		return 0, err
	}
	return t.rw.Write(p)
}

type terminatorRW struct {
	rw     io.ReadWriter
	rx, tx byte
}

// NewTerminator wraps rw such that writes have tx appended and reads
// consume through the first rx byte, which is stripped from the returned
// data.
func NewTerminator(rw io.ReadWriter, rx, tx byte) io.ReadWriter {
	return &terminatorRW{rw: rw, rx: rx, tx: tx}
}

func (t *terminatorRW) Write(p []byte) (int, error) {
	buf := make([]byte, len(p)+1)
	copy(buf, p)
	buf[len(p)] = t.tx
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

func (t *terminatorRW) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := t.rw.Read(p[n : n+1])
		n += m
		if err != nil {
			return n, err
		}
		if m > 0 && p[n-1] == t.rx {
			return n - 1, nil
		}
	}
	return n, ErrTerminatorNotFound
}
