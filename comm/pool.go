package comm

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the address and options needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// BackingOffTCPConnMaker returns a CreationFunc which dials addr over TCP
// with exponential backoff.  Controllers on the bench do not appreciate
// being connection thrashed, so the first retry starts gently.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var c io.ReadWriteCloser
		op := func() error {
			conn, err := TCPSetup(addr, timeout)
			if err != nil {
				return err
			}
			c = conn
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      timeout,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by conf.  The port's ReadTimeout stands in for I/O deadlines,
// which serial links cannot adjust after open.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// Pool is a communication pool which holds one or more connections to a
// device that will be closed if they are not in use, and re-opened as
// needed.  It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int32                   // number of connections given out
	timeout time.Duration           // idle time after which pooled connections are freed
	conns   chan io.ReadWriteCloser // the buffer of idle connections
	timer   *time.Timer             // fires to reclaim idle connections
	maker   CreationFunc

	reclaiming bool
	mu         *sync.Mutex
}

// NewPool creates a new Pool of up to maxSize connections, which is
// drained after all connections have sat idle for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
		mu:      &sync.Mutex{},
	}
	p.timer.Stop() // nothing to reclaim yet
	return p
}

// Get retrieves a connection from the pool, blocking until one is available
// if all are in use.  The caller has exclusive use of the ReadWriter until
// it is handed back.  Return it with Put, or with Destroy if it has gone
// bad (e.g., all calls error); ReturnWithError picks between the two.
//
// If the error from Get is not nil, the returned value must not be handed
// back to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	// stopping an expired timer is documented to be racy
	// ( https://golang.org/pkg/time/#Timer.Stop ) but a reclaimed
	// connection is simply remade, so the race is harmless here.
	p.timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	// if an idle connection is available, hand it out immediately
	if len(p.conns) > 0 {
		ret := <-p.conns
		atomic.AddInt32(&p.onLease, 1)
		return ret, nil
	}
	// all made connections are leased; wait for one to come back
	if int(atomic.LoadInt32(&p.onLease)) == p.maxSize {
		ret := <-p.conns
		atomic.AddInt32(&p.onLease, 1)
		return ret, nil
	}
	// none idle and room to grow; make a fresh one.  Only count the lease
	// if the maker succeeded.
	c, err := p.maker()
	if err == nil {
		atomic.AddInt32(&p.onLease, 1)
	}
	return c, err
}

// Put restores a connection to the pool.  It may be reused, or will be
// freed after all connections are returned and the idle timeout elapses.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.conns <- rwc
	atomic.AddInt32(&p.onLease, -1)
	if len(p.conns) == p.maxSize {
		p.startReclaim()
	}
}

// Destroy immediately frees a connection instead of returning it to the
// pool.  Use it instead of Put when the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rw == nil {
		return
	}
	if rwc, ok := rw.(io.ReadWriteCloser); ok {
		rwc.Close()
	}
	atomic.AddInt32(&p.onLease, -1)
}

// ReturnWithError hands conn back to the pool, destroying it if err
// indicates the transaction failed and the connection state is suspect.
// It tolerates a nil conn so it can be deferred unconditionally.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if rw == nil {
		return
	}
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool or given out from it.
func (p *Pool) Size() int {
	return len(p.conns) + p.Active()
}

// Active returns the number of connections currently given out.
func (p *Pool) Active() int {
	return int(atomic.LoadInt32(&p.onLease))
}

// Drain closes the idle connections immediately, releasing the underlying
// ports.  Leased connections are untouched; their holders decide their
// fate when they hand them back.
func (p *Pool) Drain() {
	for {
		select {
		case c := <-p.conns:
			c.Close()
		default:
			return
		}
	}
}

// startReclaim arms the idle timer and spawns a goroutine that closes
// every pooled connection once it fires.
func (p *Pool) startReclaim() {
	p.mu.Lock()
	if p.reclaiming {
		p.mu.Unlock()
		return
	}
	p.reclaiming = true
	p.mu.Unlock()
	p.timer.Reset(p.timeout)
	go func() {
		<-p.timer.C
		p.Drain()
		p.mu.Lock()
		p.reclaiming = false
		p.mu.Unlock()
	}()
}
