// Package faketransport provides a scripted Transport implementation for
// testing session logic without a device bridge.
package faketransport

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Transport is a fake device shell transport. Reads return queued responses
// in order, one per call; writes are captured for later inspection.
type Transport struct {
	mu           sync.Mutex
	responses    [][]byte     // Queued responses to return on Read
	responseIdx  int          // Current response index
	written      bytes.Buffer // Captures all written data
	controls     []byte       // Captures control bytes
	closed       bool
	dead         bool // Alive() reports false without Close()
	readDeadline time.Time

	// onWrite, when set, is invoked with each written chunk. Tests use it
	// to script responses to recovery probes.
	onWrite func(data string)
}

// New creates a new fake transport.
func New() *Transport {
	return &Transport{
		responses: make([][]byte, 0),
	}
}

// AddResponse queues a response to be returned on subsequent Read calls.
// Responses are returned in order, one per Read call.
func (t *Transport) AddResponse(data string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = append(t.responses, []byte(data))
	return t
}

// AddResponses queues multiple responses.
func (t *Transport) AddResponses(responses ...string) *Transport {
	for _, r := range responses {
		t.AddResponse(r)
	}
	return t
}

// OnWrite registers a callback invoked with every written chunk.
func (t *Transport) OnWrite(fn func(data string)) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrite = fn
	return t
}

// MarkDead makes Alive() report false without closing the transport.
func (t *Transport) MarkDead() *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = true
	return t
}

// Read implements io.Reader. Returns queued responses in order.
// When no responses remain it returns 0 bytes (no data available).
func (t *Transport) Read(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, io.EOF
	}

	if t.responseIdx >= len(t.responses) {
		return 0, nil
	}

	response := t.responses[t.responseIdx]
	t.responseIdx++

	n := copy(b, response)
	return n, nil
}

// Write implements io.Writer. Captures written data for later inspection.
func (t *Transport) Write(b []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	n, err := t.written.Write(b)
	fn := t.onWrite
	t.mu.Unlock()

	if fn != nil {
		fn(string(b))
	}
	return n, err
}

// WriteString writes a string to the transport.
func (t *Transport) WriteString(s string) (int, error) {
	return t.Write([]byte(s))
}

// WriteControl captures a control byte (e.g. 0x03 for interrupt).
func (t *Transport) WriteControl(b byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.ErrClosedPipe
	}
	t.controls = append(t.controls, b)
	return nil
}

// Alive reports whether the underlying process would still be running.
func (t *Transport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.dead
}

// Close closes the fake transport. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// SetReadDeadline sets the read deadline.
func (t *Transport) SetReadDeadline(dl time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readDeadline = dl
	return nil
}

// --- Test inspection methods ---

// Written returns all data that was written to the transport.
func (t *Transport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// Controls returns the control bytes sent, in order.
func (t *Transport) Controls() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.controls))
	copy(out, t.controls)
	return out
}

// IsClosed returns true if Close() was called.
func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Reset clears all state for reuse.
func (t *Transport) Reset() *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = make([][]byte, 0)
	t.responseIdx = 0
	t.written.Reset()
	t.controls = nil
	t.closed = false
	t.dead = false
	t.readDeadline = time.Time{}
	t.onWrite = nil
	return t
}
