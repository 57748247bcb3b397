package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/larrykvit/loadcell-calibration/calib"
	"github.com/larrykvit/loadcell-calibration/keysight"
	"github.com/larrykvit/loadcell-calibration/roboclaw"
	"github.com/larrykvit/loadcell-calibration/store"
)

// Bench is the wired-up rig: the engine over its two instruments, plus
// the record store.
type Bench struct {
	Runner *calib.Runner
	Store  *store.Store
}

// The simulated bench: the carriage meets the cell stack at mockContact
// and force rises linearly with compression past it.  The default profile
// lands its holds on this line, so a mock run fits cleanly end to end.
const (
	mockContact   = 5.0     // position units
	mockStiffness = 25.0    // newtons per position unit of compression
	mockTravel    = 20.0    // position units between the limit switches
	mockDUTScale  = 1.02e-6 // V/V per newton, a 2 mV/V cell at 200 kgf
	mockNoise     = 5e-9    // V/V rms on both channels
)

// buildBench constructs the engine over real or simulated instruments.
// Construction is connectionless; nothing touches a port until a run
// opens the ports.
func buildBench(c Config) (*Bench, error) {
	if c.Motor.CountsPerUnit <= 0 {
		return nil, fmt.Errorf("motor.countsPerUnit must be positive, got %g", c.Motor.CountsPerUnit)
	}

	var (
		motion calib.MotionPort
		sensor calib.SensorPort
	)
	if c.Mock {
		mock := roboclaw.NewMock(mockTravel * c.Motor.CountsPerUnit)
		motion = &roboclaw.Jig{
			Ctl:           mock,
			CountsPerUnit: c.Motor.CountsPerUnit,
			MaxSpeed:      c.Motor.MaxSpeed,
			HomeSpeed:     c.Motor.HomeSpeed,
		}
		force := func() float64 {
			pos := mock.Position() / c.Motor.CountsPerUnit
			if pos <= mockContact {
				return 0
			}
			return (pos - mockContact) * mockStiffness
		}
		refScale := c.RefCell.Scale()
		if refScale == 0 {
			return nil, fmt.Errorf("refCell needs capacity and fullScaleOutput")
		}
		sensor = &keysight.MockDAQ{
			Force:    force,
			RefScale: 1 / refScale,
			DUTScale: mockDUTScale,
			Noise:    mockNoise,
		}
		logrus.Info("mock bench: simulated motor controller and DAQ")
	} else {
		ctl := roboclaw.NewController(c.Motor.Addr, c.Motor.Serial, byte(c.Motor.Address))
		motion = &roboclaw.Jig{
			Ctl:           ctl,
			CountsPerUnit: c.Motor.CountsPerUnit,
			MaxSpeed:      c.Motor.MaxSpeed,
			HomeSpeed:     c.Motor.HomeSpeed,
		}
		daq := keysight.NewBridgeDAQ(c.DAQ.Addr, c.DAQ.RefChannel, c.DAQ.DUTChannel)
		if c.DAQ.NPLC > 0 {
			daq.NPLC = c.DAQ.NPLC
		}
		sensor = daq
	}

	runner := calib.NewRunner(motion, sensor, c.Run.Engine())
	return &Bench{
		Runner: runner,
		Store:  &store.Store{Root: c.DataDir, Cell: c.Cell},
	}, nil
}
