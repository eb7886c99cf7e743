// Package session provides interactive device shell sessions with
// marker-based output bounding, silence-based hang detection, and
// staged recovery.
package session

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/adapters/realclock"
	"github.com/droidshell/adb-shell-mcp/internal/adapters/realrand"
	"github.com/droidshell/adb-shell-mcp/internal/config"
	"github.com/droidshell/adb-shell-mcp/internal/hang"
	"github.com/droidshell/adb-shell-mcp/internal/ports"
	"github.com/droidshell/adb-shell-mcp/internal/prompt"
)

// Command markers for output isolation. Each command gets a unique ID
// so its output can be separated from async background noise.
const (
	startMarkerPrefix = "___CMD_START_"
	endMarkerPrefix   = "___CMD_END_"
	probeMarkerPrefix = "___PROBE_"
	markerSuffix      = "___"
)

// Session is one interactive shell on one device.
type Session struct {
	ID        string
	Serial    string
	ShellKind string // "root" or "user"
	CreatedAt time.Time

	mu       sync.Mutex
	tr       Transport
	state    State
	lastUsed time.Time

	cfg        config.HangConfig
	classifier *prompt.Classifier
	monitor    *hang.Monitor
	clock      ports.Clock
	rand       ports.Random

	buf     bytes.Buffer
	current *inflight
}

// inflight is the command currently owning the shell.
type inflight struct {
	command     string
	cmdID       string
	startMarker string
	endMarker   string
	tracker     *hang.Tracker
	startedAt   time.Time
	maxLines    int
	filter      string
}

// Option configures a session.
type Option func(*Session)

// WithClock replaces the clock (used in tests).
func WithClock(c ports.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithRandom replaces the random source (used in tests).
func WithRandom(r ports.Random) Option {
	return func(s *Session) { s.rand = r }
}

// WithClassifier replaces the prompt classifier.
func WithClassifier(c *prompt.Classifier) Option {
	return func(s *Session) { s.classifier = c }
}

// New creates a session over an already-spawned transport.
func New(id, serial, shellKind string, tr Transport, cfg config.HangConfig, opts ...Option) *Session {
	s := &Session{
		ID:         id,
		Serial:     serial,
		ShellKind:  shellKind,
		tr:         tr,
		state:      StateIdle,
		cfg:        cfg,
		classifier: prompt.NewClassifier(),
		clock:      realclock.New(),
		rand:       realrand.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.monitor = hang.New(cfg)
	s.CreatedAt = s.clock.Now()
	s.lastUsed = s.CreatedAt
	return s
}

// Init settles the freshly spawned shell: drains the banner, pins a
// plain prompt, and escalates to root when requested.
func (s *Session) Init() error {
	s.clock.Sleep(200 * time.Millisecond)
	s.drain()

	s.mu.Lock()
	_, err := s.tr.WriteString("PS1='$ '; PS2='> '\n")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("set prompt: %w", err)
	}
	s.clock.Sleep(100 * time.Millisecond)
	s.drain()

	if s.ShellKind == "root" {
		return s.escalateRoot()
	}
	return nil
}

// escalateRoot runs su and verifies the shell actually became uid 0.
// Devices without root (or with a denying su manager) fail here.
func (s *Session) escalateRoot() error {
	s.mu.Lock()
	_, err := s.tr.WriteString("su\n")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("su: %w", err)
	}
	s.clock.Sleep(300 * time.Millisecond)
	s.drain()

	res, err := s.Run("id", 10*time.Second)
	if err != nil {
		return fmt.Errorf("verify root: %w", err)
	}
	if res.Status != StatusSuccess || !strings.Contains(res.Output, "uid=0") {
		return fmt.Errorf("%w: id reported %q", ErrRootDenied, firstLine(res.Output))
	}
	return nil
}

// RunOptions shape one command execution. The zero value runs the
// command as-is with the configured default timeout.
type RunOptions struct {
	// Timeout is the wall-time ceiling. Zero uses the configured default.
	Timeout time.Duration

	// WorkingDir, when set, prefixes the command with a directory
	// change instead of altering the shell's environment for good.
	WorkingDir string

	// MaxLines keeps only the last MaxLines lines of the final output,
	// setting Truncated on the result when lines were dropped.
	MaxLines int

	// Filter keeps only output lines containing this text. Filtering
	// alone does not count as truncation.
	Filter string
}

// Run executes a command and blocks until it completes, pauses on an
// interactive prompt, goes silent past the uncertainty threshold, or
// hits its timeout. A zero timeout uses the configured default.
func (s *Session) Run(command string, timeout time.Duration) (*CommandResult, error) {
	return s.RunWith(command, RunOptions{Timeout: timeout})
}

// RunWith is Run with working-directory and output-shaping options.
func (s *Session) RunWith(command string, opts RunOptions) (*CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateDead, StateClosed:
		return nil, ErrSessionDead
	default:
		return nil, fmt.Errorf("%w: state %s", ErrSessionBusy, s.state)
	}

	if !s.tr.Alive() {
		s.state = StateDead
		return nil, ErrSessionDead
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	warning := prompt.DangerousWarning(command)
	if warning != "" {
		slog.Warn("running command flagged as hang-prone",
			slog.String("session_id", s.ID),
			slog.String("warning", warning),
		)
	}

	now := s.clock.Now()
	cmdID := s.newCommandID()
	cur := &inflight{
		command:     command,
		cmdID:       cmdID,
		startMarker: startMarkerPrefix + cmdID + markerSuffix,
		endMarker:   endMarkerPrefix + cmdID + markerSuffix,
		tracker:     s.monitor.Track(now, timeout, prompt.IsSlowTolerant(command)),
		startedAt:   now,
		maxLines:    opts.MaxLines,
		filter:      opts.Filter,
	}

	exec := command
	if opts.WorkingDir != "" {
		exec = fmt.Sprintf("cd '%s' && %s", opts.WorkingDir, command)
	}

	s.buf.Reset()
	full := fmt.Sprintf("echo '%s'; %s; echo '%s'$?\n", cur.startMarker, exec, cur.endMarker)
	if _, err := s.tr.WriteString(full); err != nil {
		if !s.tr.Alive() {
			s.state = StateDead
			return nil, ErrSessionDead
		}
		return nil, fmt.Errorf("write command: %w", err)
	}

	s.state = StateRunning
	s.current = cur
	s.lastUsed = now

	res, err := s.readLoop(cur)
	if res != nil && warning != "" {
		res.Warning = warning
	}
	return res, err
}

// readLoop polls the transport until the in-flight command finishes or
// a non-final verdict hands control back to the caller. mu held.
func (s *Session) readLoop(cur *inflight) (*CommandResult, error) {
	buf := make([]byte, 4096)
	interval := s.cfg.CheckInterval

	for {
		s.tr.SetReadDeadline(s.clock.Now().Add(interval))
		n, err := s.tr.Read(buf)
		gotOutput := n > 0

		if n > 0 {
			s.buf.Write(buf[:n])
		}

		if err != nil && !isTimeout(err) && err != io.EOF {
			s.state = StateDead
			s.current = nil
			return nil, fmt.Errorf("read output: %w", err)
		}
		if err == io.EOF && !s.tr.Alive() {
			s.state = StateDead
			s.current = nil
			return nil, ErrSessionDead
		}

		if n == 0 && (err == nil || err == io.EOF) {
			// Transport had nothing buffered and returned without
			// blocking; pace the poll loop ourselves.
			s.clock.Sleep(interval)
		}

		// Completion: the end marker carries the exit code
		if code, ok := extractExitCode(s.buf.String(), cur.endMarker); ok {
			return s.finalize(cur, code), nil
		}

		now := s.clock.Now()
		verdict := cur.tracker.Observe(now, gotOutput)

		if verdict == hang.VerdictTimeout {
			return s.recoverTimeout(cur)
		}

		// Once output stalls briefly, look for an interactive prompt.
		// The loose patterns only run when the shell prompt check fails.
		if !gotOutput && cur.tracker.SilentIntervals(now) >= 2 {
			_, out := splitMarkedOutput(s.buf.String(), cur.startMarker, cur.endMarker)
			stripped := stripANSI(out)
			if strings.TrimSpace(stripped) != "" && !s.classifier.MatchesShellPrompt(stripped) {
				if cl := s.classifier.MatchInteractive(stripped); cl != nil {
					return s.pauseOnPrompt(cur, cl), nil
				}
			}
		}

		if verdict == hang.VerdictUncertain {
			return s.pauseUncertain(cur), nil
		}
	}
}

// finalize completes the in-flight command. mu held.
func (s *Session) finalize(cur *inflight, code int) *CommandResult {
	async, out := splitMarkedOutput(s.buf.String(), cur.startMarker, cur.endMarker)
	out, truncated := shapeOutput(out, cur.maxLines, cur.filter)

	s.state = StateIdle
	s.current = nil

	status := StatusSuccess
	if code != 0 {
		status = StatusCommandFailed
	}
	exitCode := code

	elapsed := s.clock.Now().Sub(cur.startedAt)
	return &CommandResult{
		Status:      status,
		ExitCode:    &exitCode,
		Output:      out,
		AsyncOutput: async,
		Truncated:   truncated,
		CommandID:   cur.cmdID,
		Elapsed:     elapsed,
		ElapsedMS:   elapsed.Milliseconds(),
	}
}

// pauseOnPrompt hands the session to the caller at an interactive
// prompt. The command stays in flight. mu held.
func (s *Session) pauseOnPrompt(cur *inflight, cl *prompt.Classification) *CommandResult {
	async, out := splitMarkedOutput(s.buf.String(), cur.startMarker, cur.endMarker)
	s.state = StateWaitingInput

	elapsed := s.clock.Now().Sub(cur.startedAt)
	return &CommandResult{
		Status:      StatusWaitingInput,
		Output:      out,
		AsyncOutput: async,
		CommandID:   cur.cmdID,
		Elapsed:     elapsed,
		ElapsedMS:   elapsed.Milliseconds(),
		Prompt: &PromptInfo{
			Kind:              string(cl.Kind),
			Pattern:           cl.Pattern,
			Text:              lastLine(out),
			MaskInput:         cl.MaskInput,
			SuggestedResponse: cl.SuggestedResponse,
		},
		Hint: "command is waiting for input; answer with send_input or abort with interrupt",
	}
}

// pauseUncertain reports prolonged silence without a verdict. The
// command stays in flight; peek and diagnose keep pumping it. mu held.
func (s *Session) pauseUncertain(cur *inflight) *CommandResult {
	async, out := splitMarkedOutput(s.buf.String(), cur.startMarker, cur.endMarker)
	s.state = StateUncertain

	elapsed := s.clock.Now().Sub(cur.startedAt)
	return &CommandResult{
		Status:      StatusUncertain,
		Output:      out,
		AsyncOutput: async,
		CommandID:   cur.cmdID,
		Elapsed:     elapsed,
		ElapsedMS:   elapsed.Milliseconds(),
		Hint:        "no output for a while; peek to keep watching, diagnose for analysis, or interrupt to abort",
	}
}

// recoverTimeout runs the recovery ladder after an authoritative
// timeout verdict. mu held.
func (s *Session) recoverTimeout(cur *inflight) (*CommandResult, error) {
	async, out := splitMarkedOutput(s.buf.String(), cur.startMarker, cur.endMarker)
	out, truncated := shapeOutput(out, cur.maxLines, cur.filter)
	elapsed := s.clock.Now().Sub(cur.startedAt)

	slog.Warn("command timed out, recovering shell",
		slog.String("session_id", s.ID),
		slog.String("command_id", cur.cmdID),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	)

	s.state = StateRecovering
	stage, err := s.recoverLocked()
	s.current = nil

	res := &CommandResult{
		Status:      StatusTimeout,
		Output:      out,
		AsyncOutput: async,
		Truncated:   truncated,
		CommandID:   cur.cmdID,
		Elapsed:     elapsed,
		ElapsedMS:   elapsed.Milliseconds(),
	}

	if err != nil {
		s.state = StateDead
		res.Hint = "shell did not respond to recovery; session is dead, start a new one"
		return res, nil
	}

	s.state = StateIdle
	res.RecoveryStage = stage
	return res, nil
}

// SendInput answers an interactive prompt (or feeds a silent command)
// and resumes watching the in-flight command.
func (s *Session) SendInput(input string) (*CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateWaitingInput && s.state != StateUncertain {
		return nil, fmt.Errorf("%w: state %s", ErrNotInteractive, s.state)
	}
	cur := s.current
	if cur == nil {
		return nil, ErrNotInteractive
	}

	// Programs like su disable terminal echo just after printing the
	// prompt; give them a moment before typing.
	s.clock.Sleep(100 * time.Millisecond)

	if _, err := s.tr.WriteString(input + "\n"); err != nil {
		if !s.tr.Alive() {
			s.state = StateDead
			return nil, ErrSessionDead
		}
		return nil, fmt.Errorf("write input: %w", err)
	}

	s.state = StateRunning
	s.lastUsed = s.clock.Now()
	return s.readLoop(cur)
}

// SendControl sends a raw control byte (for pagers and monitors that
// read single keys) and resumes watching the in-flight command.
func (s *Session) SendControl(b byte) (*CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateWaitingInput && s.state != StateUncertain {
		return nil, fmt.Errorf("%w: state %s", ErrNotInteractive, s.state)
	}
	cur := s.current
	if cur == nil {
		return nil, ErrNotInteractive
	}

	if err := s.tr.WriteControl(b); err != nil {
		if !s.tr.Alive() {
			s.state = StateDead
			return nil, ErrSessionDead
		}
		return nil, fmt.Errorf("write control: %w", err)
	}

	s.state = StateRunning
	s.lastUsed = s.clock.Now()
	return s.readLoop(cur)
}

// PeekResult is a non-blocking snapshot of the session.
type PeekResult struct {
	State     State  `json:"state"`
	Output    string `json:"output,omitempty"`
	NewOutput bool   `json:"new_output"`

	// Completed is set when the pump found the end marker and the
	// in-flight command finished during this peek.
	Completed *CommandResult `json:"completed,omitempty"`
}

// Peek drains whatever output is available without blocking and
// re-evaluates the in-flight command, if any.
func (s *Session) Peek(tailLines int) (*PeekResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, ErrSessionDead
	}

	gotOutput := s.drainLocked()
	res := &PeekResult{State: s.state, NewOutput: gotOutput}

	cur := s.current
	if cur == nil {
		res.Output = tailOf(s.buf.String(), tailLines)
		return res, nil
	}

	// Pump the in-flight command
	if code, ok := extractExitCode(s.buf.String(), cur.endMarker); ok {
		res.Completed = s.finalize(cur, code)
		res.State = s.state
		res.Output = res.Completed.Output
		return res, nil
	}

	verdict := cur.tracker.Observe(s.clock.Now(), gotOutput)
	switch {
	case verdict == hang.VerdictTimeout:
		completed, _ := s.recoverTimeout(cur)
		res.Completed = completed
		res.State = s.state
		res.Output = completed.Output
		return res, nil
	case gotOutput && s.state == StateUncertain:
		// Output resumed; the silence verdict no longer stands
		s.state = StateRunning
	}

	_, out := splitMarkedOutput(s.buf.String(), cur.startMarker, cur.endMarker)
	res.State = s.state
	res.Output = tailOf(out, tailLines)
	return res, nil
}

// Diagnose inspects a possibly stuck session and reports what it sees.
func (s *Session) Diagnose() (*DiagnosisReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, ErrSessionDead
	}

	s.drainLocked()

	report := &DiagnosisReport{
		SessionID:  s.ID,
		State:      s.state,
		ShellAlive: s.tr.Alive(),
	}

	cur := s.current
	if cur == nil {
		report.Advice = "session is idle; no command in flight"
		if !report.ShellAlive {
			report.Advice = "shell process is gone; stop this session and start a new one"
		}
		return report, nil
	}

	// A completed command may have landed since the last pump
	if code, ok := extractExitCode(s.buf.String(), cur.endMarker); ok {
		res := s.finalize(cur, code)
		report.State = s.state
		report.Command = cur.command
		report.TailOutput = tailOf(res.Output, 20)
		report.Advice = fmt.Sprintf("command finished with exit code %d while being diagnosed", code)
		return report, nil
	}

	now := s.clock.Now()
	elapsed := now.Sub(cur.startedAt)
	_, out := splitMarkedOutput(s.buf.String(), cur.startMarker, cur.endMarker)
	stripped := stripANSI(out)

	report.Command = cur.command
	report.Elapsed = elapsed
	report.ElapsedMS = elapsed.Milliseconds()
	report.SilentIntervals = cur.tracker.SilentIntervals(now)
	report.TailOutput = tailOf(stripped, 20)

	if cl := s.classifier.MatchInteractive(stripped); cl != nil && !s.classifier.MatchesShellPrompt(stripped) {
		report.Prompt = &PromptInfo{
			Kind:              string(cl.Kind),
			Pattern:           cl.Pattern,
			Text:              lastLine(stripped),
			MaskInput:         cl.MaskInput,
			SuggestedResponse: cl.SuggestedResponse,
		}
		report.Advice = "output ends in an interactive prompt; answer it with send_input"
		return report, nil
	}

	switch {
	case !report.ShellAlive:
		report.Advice = "shell process is gone; stop this session and start a new one"
	case prompt.IsSlowTolerant(cur.command):
		report.Advice = "command is known to work silently for long stretches; waiting longer is reasonable"
	case report.SilentIntervals > 0:
		report.Advice = "command is silent with no prompt detected; interrupt if it should have finished"
	default:
		report.Advice = "command is producing output; let it run"
	}
	return report, nil
}

// Interrupt aborts the in-flight command (or an unknown foreground
// process) by walking the recovery ladder until the shell answers a
// probe. Returns the stage that worked.
func (s *Session) Interrupt() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || s.state == StateDead {
		return "", ErrSessionDead
	}

	s.state = StateRecovering
	stage, err := s.recoverLocked()
	s.current = nil

	if err != nil {
		s.state = StateDead
		return "", err
	}
	s.state = StateIdle
	return stage, nil
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	info := Info{
		ID:            s.ID,
		Serial:        s.Serial,
		ShellKind:     s.ShellKind,
		State:         s.state,
		IdleSeconds:   int(now.Sub(s.lastUsed).Seconds()),
		UptimeSeconds: int(now.Sub(s.CreatedAt).Seconds()),
		Alive:         s.tr.Alive() && s.state != StateClosed,
	}
	if s.current != nil {
		info.Command = s.current.command
	}
	return info
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the shell process still runs.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Alive() && s.state != StateClosed
}

// Close tears the session down. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.current = nil
	return s.tr.Close()
}

// drain reads all immediately available output, discarding nothing:
// bytes land in the session buffer.
func (s *Session) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
}

// drainLocked reads until the transport has nothing buffered. mu held.
func (s *Session) drainLocked() bool {
	buf := make([]byte, 4096)
	got := false
	for i := 0; i < 32; i++ {
		s.tr.SetReadDeadline(s.clock.Now().Add(50 * time.Millisecond))
		n, err := s.tr.Read(buf)
		if n > 0 {
			s.buf.Write(buf[:n])
			got = true
			continue
		}
		if err != nil || n == 0 {
			break
		}
	}
	return got
}

// newCommandID generates a unique 8-character hex ID for markers.
func (s *Session) newCommandID() string {
	b := make([]byte, 4)
	if _, err := s.rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", s.clock.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}

// isTimeout reports whether err is a read-deadline expiry.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	return strings.Contains(err.Error(), "timeout") ||
		strings.Contains(err.Error(), "i/o timeout")
}
