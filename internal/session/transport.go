package session

import (
	"io"
	"time"
)

// Transport is the byte-stream interface a session drives. The real
// implementation wraps an adb shell under a PTY; tests script one.
type Transport interface {
	io.Reader
	io.Writer

	// WriteString writes a string to the shell's stdin.
	WriteString(s string) (int, error)

	// WriteControl sends a single control byte (0x03 interrupt, 0x04
	// EOF, 0x1a suspend) through the terminal.
	WriteControl(b byte) error

	// SetReadDeadline bounds the next Read.
	SetReadDeadline(t time.Time) error

	// Alive reports whether the underlying shell process still runs.
	Alive() bool

	// Close tears down the shell. Must be idempotent.
	Close() error
}
