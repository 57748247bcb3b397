package main

import (
	"github.com/larrykvit/loadcell-calibration/calib"
	"github.com/larrykvit/loadcell-calibration/roboclaw"
	"github.com/larrykvit/loadcell-calibration/util"
)

// Config holds everything calrig needs: where the instruments live, what
// the reference cell is worth, the engine tunables and the run plan.
type Config struct {
	// Addr is the HTTP listen address for serve.
	Addr string `koanf:"addr" yaml:"addr"`

	// DataDir is the root of the on-disk run records.
	DataDir string `koanf:"dataDir" yaml:"dataDir"`

	// Cell names the cell under test; records land in <dataDir>/<cell>/.
	Cell string `koanf:"cell" yaml:"cell"`

	// Mock swaps both instruments for simulated ones.
	Mock bool `koanf:"mock" yaml:"mock"`

	Motor   MotorConfig   `koanf:"motor" yaml:"motor"`
	DAQ     DAQConfig     `koanf:"daq" yaml:"daq"`
	RefCell RefCellConfig `koanf:"refCell" yaml:"refCell"`
	Run     RunConfig     `koanf:"run" yaml:"run"`

	// Profile is the run plan played by the run verb.  HTTP starts carry
	// their own plan in the request body.
	Profile calib.ProfileSpec `koanf:"profile" yaml:"profile"`
}

// MotorConfig locates the Roboclaw and scales its encoder.
type MotorConfig struct {
	// Addr is the serial device, or host:port when the controller sits
	// behind a serial-to-ethernet bridge.
	Addr string `koanf:"addr" yaml:"addr"`

	// Serial selects a direct serial connection over TCP.
	Serial bool `koanf:"serial" yaml:"serial"`

	// Address is the packet serial address, 128 from the factory.
	Address int `koanf:"address" yaml:"address"`

	// CountsPerUnit converts rail position units to quadrature counts.
	CountsPerUnit float64 `koanf:"countsPerUnit" yaml:"countsPerUnit"`

	// MaxSpeed caps commanded speeds, position units per second.
	MaxSpeed float64 `koanf:"maxSpeed" yaml:"maxSpeed"`

	// HomeSpeed is the gentle home-seek speed, position units per second.
	HomeSpeed float64 `koanf:"homeSpeed" yaml:"homeSpeed"`
}

// DAQConfig locates the bridge digitizer and its two channels.
type DAQConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`

	// RefChannel and DUTChannel are slot-qualified channel numbers on the
	// digitizer, e.g. 104 for slot 1 channel 4.
	RefChannel int `koanf:"refChannel" yaml:"refChannel"`
	DUTChannel int `koanf:"dutChannel" yaml:"dutChannel"`

	// NPLC is the integration time per reading in power line cycles.
	NPLC float64 `koanf:"nplc" yaml:"nplc"`
}

// RefCellConfig is the certified reference cell's data sheet.
type RefCellConfig struct {
	// Capacity is the rated load in engineering units.
	Capacity float64 `koanf:"capacity" yaml:"capacity"`

	// FullScaleOutput is the bridge ratio at capacity, V/V.
	FullScaleOutput float64 `koanf:"fullScaleOutput" yaml:"fullScaleOutput"`
}

// Scale converts the reference bridge ratio to force: capacity over full
// scale output.
func (c RefCellConfig) Scale() float64 {
	if c.FullScaleOutput == 0 {
		return 0
	}
	return c.Capacity / c.FullScaleOutput
}

// RunConfig tunes the engine.  Durations are plain seconds, matching the
// profile spec; zero fields fall back to the engine defaults.
type RunConfig struct {
	TickSeconds           float64 `koanf:"tickSeconds" yaml:"tickSeconds"`
	PositionTolerance     float64 `koanf:"positionTolerance" yaml:"positionTolerance"`
	SegmentTimeoutSeconds float64 `koanf:"segmentTimeoutSeconds" yaml:"segmentTimeoutSeconds"`
	SettleSeconds         float64 `koanf:"settleSeconds" yaml:"settleSeconds"`
	MinSamples            int     `koanf:"minSamples" yaml:"minSamples"`
	SpreadTolerance       float64 `koanf:"spreadTolerance" yaml:"spreadTolerance"`
	TrimFraction          float64 `koanf:"trimFraction" yaml:"trimFraction"`
	SyncToleranceSeconds  float64 `koanf:"syncToleranceSeconds" yaml:"syncToleranceSeconds"`
	StallCurrent          float64 `koanf:"stallCurrent" yaml:"stallCurrent"`
	StallGraceSeconds     float64 `koanf:"stallGraceSeconds" yaml:"stallGraceSeconds"`
	TravelMin             float64 `koanf:"travelMin" yaml:"travelMin"`
	TravelMax             float64 `koanf:"travelMax" yaml:"travelMax"`
	FitOrder              int     `koanf:"fitOrder" yaml:"fitOrder"`
	MonotonicTolerance    float64 `koanf:"monotonicTolerance" yaml:"monotonicTolerance"`
	TareSeconds           float64 `koanf:"tareSeconds" yaml:"tareSeconds"`
}

// Engine converts the tunables to the engine's config.
func (rc RunConfig) Engine() calib.Config {
	return calib.Config{
		Tick:               util.SecsToDuration(rc.TickSeconds),
		PositionTolerance:  rc.PositionTolerance,
		SegmentTimeout:     util.SecsToDuration(rc.SegmentTimeoutSeconds),
		Settle:             util.SecsToDuration(rc.SettleSeconds),
		MinSamples:         rc.MinSamples,
		SpreadTolerance:    rc.SpreadTolerance,
		TrimFraction:       rc.TrimFraction,
		SyncTolerance:      util.SecsToDuration(rc.SyncToleranceSeconds),
		StallCurrent:       rc.StallCurrent,
		StallGrace:         util.SecsToDuration(rc.StallGraceSeconds),
		Travel:             util.Limiter{Min: rc.TravelMin, Max: rc.TravelMax},
		FitOrder:           rc.FitOrder,
		MonotonicTolerance: rc.MonotonicTolerance,
		TareDuration:       util.SecsToDuration(rc.TareSeconds),
	}
}

// defaultConfig is the bench as wired today: the jig's Roboclaw on USB
// serial, the DAQ on the lab LAN, the 500 lbf reference cell, and a five
// level staircase to 200 N.  The hold forces are the nominal plan; enter
// the certified values read off the reference indicator before a real
// run.
func defaultConfig() Config {
	f := func(v float64) *float64 { return &v }
	return Config{
		Addr:    ":8000",
		DataDir: "data",
		Cell:    "unnamed-cell",
		Motor: MotorConfig{
			Addr:          "/dev/ttyACM0",
			Serial:        true,
			Address:       roboclaw.DefaultAddress,
			CountsPerUnit: 1000,
			MaxSpeed:      5,
			HomeSpeed:     1,
		},
		DAQ: DAQConfig{
			Addr:       "192.168.100.151:5025",
			RefChannel: 104,
			DUTChannel: 101,
			NPLC:       1,
		},
		RefCell: RefCellConfig{
			Capacity:        2224.1,    // 500 lbf
			FullScaleOutput: 0.0030049, // V/V at capacity, from the cert sheet
		},
		Run: RunConfig{
			TickSeconds:           0.1,
			PositionTolerance:     0.05,
			SegmentTimeoutSeconds: 60,
			SettleSeconds:         0.5,
			MinSamples:            8,
			TrimFraction:          0.2,
			StallCurrent:          7.5,
			StallGraceSeconds:     0.25,
			TravelMin:             0,
			TravelMax:             20,
			FitOrder:              1,
			TareSeconds:           1,
		},
		Profile: calib.ProfileSpec{
			{Kind: "move", Target: 5, Speed: 2},
			{Kind: "hold", Seconds: 10, Force: f(0)},
			{Kind: "move", Target: 7, Speed: 0.5},
			{Kind: "hold", Seconds: 10, Force: f(50)},
			{Kind: "move", Target: 9, Speed: 0.5},
			{Kind: "hold", Seconds: 10, Force: f(100)},
			{Kind: "move", Target: 11, Speed: 0.5},
			{Kind: "hold", Seconds: 10, Force: f(150)},
			{Kind: "move", Target: 13, Speed: 0.5},
			{Kind: "hold", Seconds: 10, Force: f(200)},
			{Kind: "home"},
		},
	}
}
