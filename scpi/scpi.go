// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/larrykvit/loadcell-calibration/comm"
)

const (
	timeout = 5 * time.Second

	// responses fit in one ethernet frame on every instrument on the bench
	frameSize = 1500
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool
}

// transact leases a connection, sends one line, and optionally reads the
// reply.  Every public entry point funnels through here so the pool lease
// and wrapping logic exist exactly once.
func (s *SCPI) transact(expectResponse bool, cmds ...string) ([]byte, error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, timeout)
	if err != nil {
		return nil, err
	}
	wrap = comm.NewTerminator(wrap, '\n', '\n')
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	_, err = io.WriteString(wrap, strings.Join(cmds, " "))
	if err != nil {
		return nil, err
	}
	if !expectResponse && !s.Handshaking {
		return nil, nil
	}
	buf := make([]byte, frameSize)
	var n int
	n, err = wrap.Read(buf)
	if err != nil {
		return nil, err
	}
	resp := buf[:n]
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		status := string(pieces[len(pieces)-1])
		if !strings.HasPrefix(status, "+0") {
			err = fmt.Errorf("device rejected input: %s", status)
			return nil, err
		}
		resp = bytes.Join(pieces[:len(pieces)-1], []byte{';'})
	}
	return resp, nil
}

// Write sends a command to the device.  If s.Handshaking == true, it also
// requests an error response and checks that it is OK.  It is assumed this
// is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	_, err := s.transact(false, cmds...)
	return err
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	return s.transact(true, cmds...)
}

// ReadString sends a command to the device, then reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	for len(resp) > 0 && (resp[len(resp)-1] == '\n' || resp[len(resp)-1] == '\r') {
		resp = resp[:len(resp)-1]
	}
	return string(resp), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadFloats sends a command to the device, then reads the response and
// parses it as a comma separated list of floating point values, as
// returned by scanning multimeters
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Raw sends a command to the device and returns a response if it was a
// query, else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	if strings.HasPrefix(str, "+0") {
		return nil
	}
	return errors.New(str)
}

// AllErrors returns all errors from the device as a list
func (s *SCPI) AllErrors() []error {
	var errs []error
	for {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
	}
	return errs
}
