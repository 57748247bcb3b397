package roboclaw_test

import (
	"testing"
	"time"

	"github.com/larrykvit/loadcell-calibration/roboclaw"
)

// settle polls the mock until cond holds or the deadline passes.  The
// mock integrates on the wall clock, so tests wait rather than sleep a
// magic amount.
func settle(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestMockDrivesToFarLimit(t *testing.T) {
	m := roboclaw.NewMock(100)
	if err := m.DriveSpeed(20000); err != nil {
		t.Fatalf("DriveSpeed: %v", err)
	}
	settle(t, time.Second, func() bool {
		st, err := m.Flags()
		if err != nil {
			t.Fatalf("Flags: %v", err)
		}
		return st.S5Triggered
	})
	if p := m.Position(); p != 100 {
		t.Errorf("position = %v, want clamped at 100", p)
	}
}

func TestMockJamStallsAndDrawsCurrent(t *testing.T) {
	m := roboclaw.NewMock(1000)
	m.JamAt = 40
	if err := m.DriveSpeed(20000); err != nil {
		t.Fatalf("DriveSpeed: %v", err)
	}
	settle(t, time.Second, func() bool { return m.Position() >= 40 })
	if p := m.Position(); p > 40 {
		t.Errorf("position = %v, want stalled at 40", p)
	}
	m1, _, err := m.Currents()
	if err != nil {
		t.Fatalf("Currents: %v", err)
	}
	if m1 != m.JamAmps {
		t.Errorf("current = %v, want jam draw %v", m1, m.JamAmps)
	}
}

func TestMockHomeAndRezero(t *testing.T) {
	m := roboclaw.NewMock(1000)
	if err := m.DriveSpeed(20000); err != nil {
		t.Fatalf("DriveSpeed: %v", err)
	}
	settle(t, time.Second, func() bool { return m.Position() >= 100 })
	if err := m.DriveSpeed(-20000); err != nil {
		t.Fatalf("DriveSpeed: %v", err)
	}
	settle(t, time.Second, func() bool {
		st, err := m.Flags()
		if err != nil {
			t.Fatalf("Flags: %v", err)
		}
		return st.S4Triggered
	})
	if err := m.DriveDuty(0); err != nil {
		t.Fatalf("DriveDuty: %v", err)
	}
	if err := m.ResetEncoders(); err != nil {
		t.Fatalf("ResetEncoders: %v", err)
	}
	count, err := m.Encoder()
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}
	if count != 0 {
		t.Errorf("count after rezero = %d, want 0", count)
	}
}

func TestMockPositionMoveArrives(t *testing.T) {
	m := roboclaw.NewMock(1000)
	if err := m.MoveTo(60, 20000); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	settle(t, time.Second, func() bool {
		count, err := m.Encoder()
		if err != nil {
			t.Fatalf("Encoder: %v", err)
		}
		return count == 60
	})
	// arrived: drive drops back to idle draw
	m1, _, err := m.Currents()
	if err != nil {
		t.Fatalf("Currents: %v", err)
	}
	if m1 != m.IdleAmps {
		t.Errorf("current = %v, want idle draw %v", m1, m.IdleAmps)
	}
}

func TestMockInjectedFault(t *testing.T) {
	m := roboclaw.NewMock(1000)
	m.InjectFault(true)
	st, err := m.Flags()
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if !st.Faulted() {
		t.Error("injected fault not reported")
	}
}

func TestMockClosedRejectsCommands(t *testing.T) {
	m := roboclaw.NewMock(1000)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.DriveDuty(0); err == nil {
		t.Error("command accepted after close")
	}
}
