/*Package keysight provides control of Keysight DAQ970-series data
acquisition units, used on the jig to digitize the two load cell bridges.

Both channels are read as DC voltage ratios (bridge output over bridge
excitation) in a single scan sweep, so each sample pair shares one
trigger.  Per-reading timestamps are switched on and the spread between
them is reported as the pair's skew, which the acquisition engine checks
against its synchronization tolerance.
*/
package keysight

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/larrykvit/loadcell-calibration/calib"
	"github.com/larrykvit/loadcell-calibration/comm"
	"github.com/larrykvit/loadcell-calibration/scpi"
	"github.com/larrykvit/loadcell-calibration/util"
)

// DefaultPairSkew is the declared worst-case window between the two
// readings of one sweep: half the 100 ms shared sample interval,
// comfortably above one power line cycle of integration plus relay
// settling.
const DefaultPairSkew = 50 * time.Millisecond

// BridgeDAQ digitizes the reference cell and the cell under test.
type BridgeDAQ struct {
	scpi.SCPI

	// RefChannel and DUTChannel are the slot/channel numbers wired to
	// the reference cell and the cell under test, e.g. 104 and 101.
	RefChannel int
	DUTChannel int

	// NPLC is the integration time per reading, in power line cycles.
	// Zero selects 1.
	NPLC float64

	// PairSkew overrides the declared worst-case capture window between
	// the two channels.  Zero selects DefaultPairSkew.
	PairSkew time.Duration
}

// NewBridgeDAQ returns a DAQ ready to scan the given channels over the
// instrument's raw socket interface.
func NewBridgeDAQ(addr string, refChannel, dutChannel int) *BridgeDAQ {
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return &BridgeDAQ{
		SCPI:       scpi.SCPI{Pool: pool, Handshaking: true},
		RefChannel: refChannel,
		DUTChannel: dutChannel,
	}
}

// scanList renders the two channels as a scan list.  The instrument
// sweeps a list in ascending channel order no matter how it is written,
// so the list is normalized here and ReadPair assigns readings back by
// the same rule.
func (d *BridgeDAQ) scanList() string {
	lo, hi := d.RefChannel, d.DUTChannel
	if lo > hi {
		lo, hi = hi, lo
	}
	return "(@" + util.IntSliceToCSV([]int{lo, hi}) + ")"
}

func (d *BridgeDAQ) nplc() float64 {
	if d.NPLC == 0 {
		return 1
	}
	return d.NPLC
}

// Open configures the sweep: both bridges as DC voltage ratio on one
// scan list, one trigger per sweep, relative timestamps attached to
// every reading.  The channels are labeled on the instrument's front
// panel display so a tech can see which cell is which.
func (d *BridgeDAQ) Open() error {
	if d.RefChannel == d.DUTChannel {
		return errors.New("reference and test cells must be on distinct channels")
	}
	list := d.scanList()
	cmds := []string{
		":CONFigure:VOLTage:DC:RATio " + list,
		fmt.Sprintf(":SENSe:VOLTage:DC:NPLC %g, %s", d.nplc(), list),
		":FORMat:READing:TIME:TYPE RELative",
		":FORMat:READing:TIME ON",
		fmt.Sprintf(":ROUTe:CHANnel:LABel \"REF\", (@%d)", d.RefChannel),
		fmt.Sprintf(":ROUTe:CHANnel:LABel \"DUT\", (@%d)", d.DUTChannel),
		":ROUTe:SCAN " + list,
		":TRIGger:COUNt 1",
	}
	for _, cmd := range cmds {
		if err := d.Write(cmd); err != nil {
			return errors.Wrapf(err, "configuring scan, command %q", cmd)
		}
	}
	return nil
}

// ReadPair triggers one sweep and splits the response into the pair.
// With timestamps on the wire format is reading,time,reading,time in
// scan order.
func (d *BridgeDAQ) ReadPair() (calib.RawSamplePair, error) {
	var pair calib.RawSamplePair
	vals, err := d.ReadFloats("READ?")
	if err != nil {
		return pair, errors.Wrap(err, "scanning bridges")
	}
	if len(vals) != 4 {
		return pair, errors.Errorf("scan returned %d fields, want reading,time for two channels", len(vals))
	}
	pair.Time = time.Now()
	pair.Skew = util.SecsToDuration(math.Abs(vals[3] - vals[1]))
	if d.RefChannel < d.DUTChannel {
		pair.Ref, pair.DUT = vals[0], vals[2]
	} else {
		pair.Ref, pair.DUT = vals[2], vals[0]
	}
	return pair, nil
}

// MaxSkew declares the worst-case capture window between the channels.
func (d *BridgeDAQ) MaxSkew() time.Duration {
	if d.PairSkew > 0 {
		return d.PairSkew
	}
	return DefaultPairSkew
}

// Close clears the scan list and releases the connection.
func (d *BridgeDAQ) Close() error {
	err := d.Write(":ROUTe:SCAN (@)")
	d.Pool.Drain()
	return errors.Wrap(err, "clearing scan list")
}
