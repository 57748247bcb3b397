package roboclaw

// Status is the controller's unified error/warning register, decoded.
// Error bits mean the drive stage has cut or will cut power; warning bits
// are advisory.  S4 and S5 report the state of the two aux input pins,
// which this jig wires to the carriage limit switches: S4 at the home end
// of the rail, S5 at the far end.
type Status struct {
	EStop            bool
	TempError        bool
	Temp2Error       bool
	MainVoltageHigh  bool
	LogicVoltageHigh bool
	LogicVoltageLow  bool
	M1DriverFault    bool
	M2DriverFault    bool
	M1SpeedError     bool
	M2SpeedError     bool
	M1PositionError  bool
	M2PositionError  bool
	M1CurrentError   bool
	M2CurrentError   bool

	M1OverCurrentWarn   bool
	M2OverCurrentWarn   bool
	MainVoltageHighWarn bool
	MainVoltageLowWarn  bool
	TempWarn            bool
	Temp2Warn           bool
	S4Triggered         bool
	S5Triggered         bool
}

// StatusFromBits unpacks the 32-bit register returned by the read-status
// command on 4.1.16 and later firmware.
func StatusFromBits(b uint32) Status {
	var s Status
	s.EStop = (b>>0)&1 == 1
	s.TempError = (b>>1)&1 == 1
	s.Temp2Error = (b>>2)&1 == 1
	s.MainVoltageHigh = (b>>3)&1 == 1
	s.LogicVoltageHigh = (b>>4)&1 == 1
	s.LogicVoltageLow = (b>>5)&1 == 1
	s.M1DriverFault = (b>>6)&1 == 1
	s.M2DriverFault = (b>>7)&1 == 1
	s.M1SpeedError = (b>>8)&1 == 1
	s.M2SpeedError = (b>>9)&1 == 1
	s.M1PositionError = (b>>10)&1 == 1
	s.M2PositionError = (b>>11)&1 == 1
	s.M1CurrentError = (b>>12)&1 == 1
	s.M2CurrentError = (b>>13)&1 == 1
	s.M1OverCurrentWarn = (b>>16)&1 == 1
	s.M2OverCurrentWarn = (b>>17)&1 == 1
	s.MainVoltageHighWarn = (b>>18)&1 == 1
	s.MainVoltageLowWarn = (b>>19)&1 == 1
	s.TempWarn = (b>>20)&1 == 1
	s.Temp2Warn = (b>>21)&1 == 1
	s.S4Triggered = (b>>22)&1 == 1
	s.S5Triggered = (b>>23)&1 == 1
	return s
}

// Faulted reports whether any error-class bit is set.  Warnings and the
// aux pin states do not count; limit switches are an expected part of
// travel and are judged against direction elsewhere.
func (s Status) Faulted() bool {
	return s.EStop ||
		s.TempError || s.Temp2Error ||
		s.MainVoltageHigh || s.LogicVoltageHigh || s.LogicVoltageLow ||
		s.M1DriverFault || s.M2DriverFault ||
		s.M1SpeedError || s.M2SpeedError ||
		s.M1PositionError || s.M2PositionError ||
		s.M1CurrentError || s.M2CurrentError
}
