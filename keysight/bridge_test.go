package keysight_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/larrykvit/loadcell-calibration/comm"
	"github.com/larrykvit/loadcell-calibration/keysight"
	"github.com/larrykvit/loadcell-calibration/scpi"
)

// scriptedConn replays canned instrument responses and records what was
// sent.
type scriptedConn struct {
	rx *bytes.Buffer
	tx *bytes.Buffer
}

func (c *scriptedConn) Read(p []byte) (int, error)  { return c.rx.Read(p) }
func (c *scriptedConn) Write(p []byte) (int, error) { return c.tx.Write(p) }
func (c *scriptedConn) Close() error                { return nil }

func poolFor(conn *scriptedConn) *comm.Pool {
	maker := func() (io.ReadWriteCloser, error) { return conn, nil }
	return comm.NewPool(1, time.Minute, maker)
}

func daqFor(conn *scriptedConn, handshake bool, ref, dut int) *keysight.BridgeDAQ {
	return &keysight.BridgeDAQ{
		SCPI:       scpi.SCPI{Pool: poolFor(conn), Handshaking: handshake},
		RefChannel: ref,
		DUTChannel: dut,
	}
}

func TestOpenConfiguresSharedScan(t *testing.T) {
	// one clean handshake line per configuration command
	conn := &scriptedConn{
		rx: bytes.NewBufferString(strings.Repeat("+0,\"No error\"\n", 8)),
		tx: &bytes.Buffer{},
	}
	d := daqFor(conn, true, 104, 101)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sent := conn.tx.String()
	for _, want := range []string{
		":CONFigure:VOLTage:DC:RATio (@101,104)",
		":SENSe:VOLTage:DC:NPLC 1, (@101,104)",
		":FORMat:READing:TIME ON",
		":ROUTe:CHANnel:LABel \"REF\", (@104)",
		":ROUTe:CHANnel:LABel \"DUT\", (@101)",
		":ROUTe:SCAN (@101,104)",
		":TRIGger:COUNt 1",
	} {
		if !strings.Contains(sent, want) {
			t.Errorf("configuration missing %q", want)
		}
	}
}

func TestOpenRejectsSharedChannel(t *testing.T) {
	conn := &scriptedConn{rx: &bytes.Buffer{}, tx: &bytes.Buffer{}}
	d := daqFor(conn, false, 101, 101)
	if err := d.Open(); err == nil {
		t.Error("both cells on one channel accepted")
	}
}

func TestReadPairAssignsByScanOrder(t *testing.T) {
	// ref on 104, dut on 101: the instrument sweeps 101 first
	conn := &scriptedConn{
		rx: bytes.NewBufferString("+1.000000E-03,+1.250000E-01,+3.004900E-03,+2.500000E-01\n"),
		tx: &bytes.Buffer{},
	}
	d := daqFor(conn, false, 104, 101)
	pair, err := d.ReadPair()
	if err != nil {
		t.Fatalf("ReadPair: %v", err)
	}
	if pair.Ref != 3.0049e-3 || pair.DUT != 1e-3 {
		t.Errorf("pair = %+v, want ref 3.0049e-3, dut 1e-3", pair)
	}
	if pair.Skew != 125*time.Millisecond {
		t.Errorf("skew = %v, want 125ms from the reading timestamps", pair.Skew)
	}
	if !strings.Contains(conn.tx.String(), "READ?") {
		t.Errorf("sent %q, want a READ? trigger", conn.tx.String())
	}
}

func TestReadPairRefFirstWhenLowerChannel(t *testing.T) {
	conn := &scriptedConn{
		rx: bytes.NewBufferString("+3.004900E-03,+1.250000E-01,+1.000000E-03,+2.500000E-01\n"),
		tx: &bytes.Buffer{},
	}
	d := daqFor(conn, false, 101, 104)
	pair, err := d.ReadPair()
	if err != nil {
		t.Fatalf("ReadPair: %v", err)
	}
	if pair.Ref != 3.0049e-3 || pair.DUT != 1e-3 {
		t.Errorf("pair = %+v, want ref 3.0049e-3, dut 1e-3", pair)
	}
}

func TestReadPairRejectsShortScan(t *testing.T) {
	conn := &scriptedConn{
		rx: bytes.NewBufferString("+1.000000E-03,+1.250000E-01\n"),
		tx: &bytes.Buffer{},
	}
	d := daqFor(conn, false, 101, 104)
	if _, err := d.ReadPair(); err == nil {
		t.Error("two-field scan accepted, want reading,time per channel")
	}
}

func TestMaxSkewDefaultAndOverride(t *testing.T) {
	d := &keysight.BridgeDAQ{}
	if d.MaxSkew() != keysight.DefaultPairSkew {
		t.Errorf("default skew = %v", d.MaxSkew())
	}
	d.PairSkew = 10 * time.Millisecond
	if d.MaxSkew() != 10*time.Millisecond {
		t.Errorf("override skew = %v", d.MaxSkew())
	}
}

func TestCloseClearsScanList(t *testing.T) {
	conn := &scriptedConn{
		rx: bytes.NewBufferString("+0,\"No error\"\n"),
		tx: &bytes.Buffer{},
	}
	d := daqFor(conn, true, 101, 104)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(conn.tx.String(), ":ROUTe:SCAN (@)") {
		t.Errorf("close sent %q, want scan list cleared", conn.tx.String())
	}
}
