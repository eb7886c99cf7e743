package hang

import (
	"testing"
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/config"
)

func testConfig() config.HangConfig {
	return config.HangConfig{
		CheckInterval:   500 * time.Millisecond,
		MinElapsed:      5 * time.Second,
		SilentIntervals: 4,
		SlowMultiplier:  10,
	}
}

func TestObserveRunningWhileOutputFlows(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 30*time.Second, false)

	now := start
	for i := 0; i < 20; i++ {
		now = now.Add(500 * time.Millisecond)
		if v := tr.Observe(now, true); v != VerdictRunning {
			t.Fatalf("Observe with output = %v, want RUNNING", v)
		}
	}
}

func TestNoStuckVerdictBeforeMinElapsed(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 30*time.Second, false)

	// 8 silent intervals in the first 4 seconds, all inside the grace period
	now := start
	for i := 0; i < 8; i++ {
		now = now.Add(500 * time.Millisecond)
		if v := tr.Observe(now, false); v != VerdictRunning {
			t.Fatalf("Observe at %v = %v, want RUNNING (grace period)", now.Sub(start), v)
		}
	}
}

func TestUncertainAfterSilentThreshold(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 30*time.Second, false)

	// Output flows past the grace period, then goes silent
	now := start.Add(6 * time.Second)
	tr.Observe(now, true)

	var v Verdict
	for i := 0; i < 4; i++ {
		now = now.Add(500 * time.Millisecond)
		v = tr.Observe(now, false)
	}
	if v != VerdictUncertain {
		t.Errorf("verdict after 4 silent intervals = %v, want UNCERTAIN", v)
	}
}

func TestOutputResetsSilenceCounter(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 30*time.Second, false)

	now := start.Add(6 * time.Second)
	tr.Observe(now, true)
	for i := 0; i < 3; i++ {
		now = now.Add(500 * time.Millisecond)
		tr.Observe(now, false)
	}
	if tr.SilentIntervals(now) != 3 {
		t.Fatalf("SilentIntervals = %d, want 3", tr.SilentIntervals(now))
	}

	// A single byte of output resets the count
	now = now.Add(500 * time.Millisecond)
	if v := tr.Observe(now, true); v != VerdictRunning {
		t.Errorf("Observe with output = %v, want RUNNING", v)
	}
	if tr.SilentIntervals(now) != 0 {
		t.Errorf("SilentIntervals after output = %d, want 0", tr.SilentIntervals(now))
	}
}

func TestRapidObservationsDoNotAccumulateSilence(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 30*time.Second, false)

	now := start.Add(6 * time.Second)
	tr.Observe(now, true)

	// Caller-driven observations at one instant add no wall-clock
	// silence, however many there are
	for i := 0; i < 10; i++ {
		if v := tr.Observe(now, false); v != VerdictRunning {
			t.Fatalf("verdict after 0s of wall-clock silence = %v, want RUNNING", v)
		}
	}
	if tr.SilentIntervals(now) != 0 {
		t.Errorf("SilentIntervals at one instant = %d, want 0", tr.SilentIntervals(now))
	}

	// Real silence still counts
	now = now.Add(2 * time.Second)
	if v := tr.Observe(now, false); v != VerdictUncertain {
		t.Errorf("verdict after 2s of silence = %v, want UNCERTAIN", v)
	}
}

func TestSlowTolerantWidensThreshold(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 5*time.Minute, true)

	// 4 silent intervals would flag a normal command; a slow-tolerant
	// one needs 40
	now := start.Add(6 * time.Second)
	tr.Observe(now, true)
	for i := 0; i < 39; i++ {
		now = now.Add(500 * time.Millisecond)
		if v := tr.Observe(now, false); v != VerdictRunning {
			t.Fatalf("Observe at silent interval %d = %v, want RUNNING", i+1, v)
		}
	}

	now = now.Add(500 * time.Millisecond)
	if v := tr.Observe(now, false); v != VerdictUncertain {
		t.Errorf("verdict at silent interval 40 = %v, want UNCERTAIN", v)
	}
}

func TestTimeoutIsAuthoritative(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 10*time.Second, false)

	// Output flows the whole time; timeout still fires
	now := start
	var v Verdict
	for i := 0; i < 20; i++ {
		now = now.Add(500 * time.Millisecond)
		v = tr.Observe(now, true)
	}
	if v != VerdictTimeout {
		t.Errorf("verdict at timeout with output flowing = %v, want TIMEOUT", v)
	}
}

func TestTimeoutBeatsUncertain(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 8*time.Second, false)

	now := start
	var v Verdict
	for now.Sub(start) < 8*time.Second {
		now = now.Add(500 * time.Millisecond)
		v = tr.Observe(now, false)
	}
	if v != VerdictTimeout {
		t.Errorf("verdict at ceiling = %v, want TIMEOUT over UNCERTAIN", v)
	}
}

func TestZeroTimeoutNeverTimesOut(t *testing.T) {
	m := New(testConfig())
	start := time.Now()
	tr := m.Track(start, 0, false)

	now := start.Add(time.Hour)
	if v := tr.Observe(now, true); v != VerdictRunning {
		t.Errorf("Observe with zero timeout = %v, want RUNNING", v)
	}
}

func TestVerdictString(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{VerdictRunning, "RUNNING"},
		{VerdictUncertain, "UNCERTAIN"},
		{VerdictTimeout, "TIMEOUT"},
		{Verdict(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}
