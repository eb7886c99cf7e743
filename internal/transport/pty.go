// Package transport manages PTY-backed adb shell processes. Each
// transport owns one `adb shell` child whose terminal the session layer
// reads and writes.
package transport

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Options configures a device shell transport.
type Options struct {
	ADBPath string // adb binary (default: "adb")
	Serial  string // device serial, required
	Term    string // terminal type (default: dumb, avoids ANSI noise)
	Rows    uint16 // terminal rows (default: 24)
	Cols    uint16 // terminal columns (default: 120)
}

// DevicePTY is a live adb shell under a pseudo-terminal.
type DevicePTY struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	closed bool
	exited bool
}

// New spawns `adb -s <serial> shell` under a PTY.
// TERM=dumb keeps device shells from emitting escape sequences that
// would confuse marker scanning.
func New(opts Options) (*DevicePTY, error) {
	if opts.Serial == "" {
		return nil, fmt.Errorf("transport: serial required")
	}
	if opts.ADBPath == "" {
		opts.ADBPath = "adb"
	}
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	cmd := exec.Command(opts.ADBPath, "-s", opts.Serial, "shell")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("TERM=%s", opts.Term),
		"NO_COLOR=1",
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.Rows,
		Cols: opts.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("start adb shell pty: %w", err)
	}

	t := &DevicePTY{cmd: cmd, ptmx: ptmx}

	// Reap the child and record its exit so Alive() stays accurate
	go func() {
		_ = cmd.Wait()
		t.mu.Lock()
		t.exited = true
		t.mu.Unlock()
	}()

	return t, nil
}

// Read reads available output from the shell.
func (t *DevicePTY) Read(b []byte) (int, error) {
	return t.ptmx.Read(b)
}

// Write writes input bytes to the shell.
func (t *DevicePTY) Write(b []byte) (int, error) {
	return t.ptmx.Write(b)
}

// WriteString writes a string to the shell.
func (t *DevicePTY) WriteString(s string) (int, error) {
	return t.ptmx.WriteString(s)
}

// WriteControl sends a single control byte (0x03 interrupt, 0x04 EOF,
// 0x1a suspend). The PTY line discipline turns it into the signal the
// foreground process group expects.
func (t *DevicePTY) WriteControl(b byte) error {
	_, err := t.ptmx.Write([]byte{b})
	return err
}

// SetReadDeadline bounds the next Read call.
func (t *DevicePTY) SetReadDeadline(dl time.Time) error {
	return t.ptmx.SetReadDeadline(dl)
}

// Alive reports whether the adb shell process is still running.
func (t *DevicePTY) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.exited
}

// Close tears down the PTY and kills the adb shell. Idempotent.
func (t *DevicePTY) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	exited := t.exited
	t.mu.Unlock()

	var errs []error

	if err := t.ptmx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}

	if !exited && t.cmd.Process != nil {
		if err := t.cmd.Process.Kill(); err != nil && err.Error() != "os: process already finished" {
			errs = append(errs, fmt.Errorf("kill adb shell: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
