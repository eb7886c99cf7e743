// Package hang implements silence-based hang detection for running
// commands. It never inspects command semantics: verdicts are derived
// only from elapsed time and output silence.
package hang

import (
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/config"
)

// Verdict is the monitor's judgement of a running command.
type Verdict int

const (
	// VerdictRunning means the command shows no sign of trouble.
	VerdictRunning Verdict = iota

	// VerdictUncertain is advisory: the command has been silent long
	// enough that it may be stuck, but silence alone is not proof.
	VerdictUncertain

	// VerdictTimeout is authoritative: the wall-time ceiling was hit
	// and the command must be recovered.
	VerdictTimeout
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictRunning:
		return "RUNNING"
	case VerdictUncertain:
		return "UNCERTAIN"
	case VerdictTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Monitor produces trackers for individual command executions.
type Monitor struct {
	checkInterval   time.Duration
	minElapsed      time.Duration
	silentIntervals int
	slowMultiplier  int
}

// New creates a monitor from hang-detection config.
func New(cfg config.HangConfig) *Monitor {
	return &Monitor{
		checkInterval:   cfg.CheckInterval,
		minElapsed:      cfg.MinElapsed,
		silentIntervals: cfg.SilentIntervals,
		slowMultiplier:  cfg.SlowMultiplier,
	}
}

// Track starts tracking one command execution. slowTolerant widens the
// silence threshold for commands known to work quietly for long periods.
func (m *Monitor) Track(start time.Time, timeout time.Duration, slowTolerant bool) *Tracker {
	threshold := m.silentIntervals
	if slowTolerant {
		threshold *= m.slowMultiplier
	}
	return &Tracker{
		start:         start,
		lastOutput:    start,
		timeout:       timeout,
		checkInterval: m.checkInterval,
		minElapsed:    m.minElapsed,
		threshold:     threshold,
	}
}

// Tracker follows a single command execution. Silence is measured as
// wall time since the last output, so callers may observe at any
// cadence without skewing the verdict.
type Tracker struct {
	start         time.Time
	lastOutput    time.Time
	timeout       time.Duration
	checkInterval time.Duration
	minElapsed    time.Duration
	threshold     int
}

// Observe records one observation and returns the current verdict.
// newOutput reports whether any bytes arrived since the last call.
//
// A timeout verdict always wins, even when output is still flowing:
// the ceiling bounds wall time, not liveness.
func (t *Tracker) Observe(now time.Time, newOutput bool) Verdict {
	if newOutput {
		t.lastOutput = now
	}

	if t.timeout > 0 && now.Sub(t.start) >= t.timeout {
		return VerdictTimeout
	}

	// Commands get a grace period before any stuck verdict
	if now.Sub(t.start) < t.minElapsed {
		return VerdictRunning
	}

	if t.SilentIntervals(now) >= t.threshold {
		return VerdictUncertain
	}

	return VerdictRunning
}

// SilentIntervals reports how many check intervals have passed since
// the last output.
func (t *Tracker) SilentIntervals(now time.Time) int {
	if t.checkInterval <= 0 {
		return 0
	}
	silence := now.Sub(t.lastOutput)
	if silence < 0 {
		return 0
	}
	return int(silence / t.checkInterval)
}

// Elapsed returns wall time since the command started.
func (t *Tracker) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.start)
}
