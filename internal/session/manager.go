package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droidshell/adb-shell-mcp/internal/adb"
	"github.com/droidshell/adb-shell-mcp/internal/config"
	"github.com/droidshell/adb-shell-mcp/internal/prompt"
)

// SpawnFunc creates a transport for a device shell. The default wiring
// spawns `adb -s <serial> shell` under a PTY; tests inject fakes.
type SpawnFunc func(serial string) (Transport, error)

// Recorder receives command telemetry. Optional.
type Recorder interface {
	RecordCommand(sessionID, serial, command string, status Status, elapsed time.Duration)
}

// Manager owns all sessions and background jobs.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg         *config.Config
	classifier  *prompt.Classifier
	adb         *adb.Client
	spawn       SpawnFunc
	recorder    Recorder
	jobs        *JobTracker
	sessionOpts []Option
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithSessionOptions passes options to every session the manager
// creates (used in tests to inject fake clocks).
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

// NewManager creates a session manager. Custom prompt patterns from the
// config are compiled here so a bad regex fails startup, not a session.
func NewManager(cfg *config.Config, adbClient *adb.Client, spawn SpawnFunc, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		adb:      adbClient,
		spawn:    spawn,
		jobs:     NewJobTracker(cfg.Jobs.WorkDir),
	}

	classifier, err := buildClassifier(cfg.Prompts)
	if err != nil {
		return nil, err
	}
	m.classifier = classifier

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// UpdateConfig applies a reloaded configuration. New sessions pick up
// the new hang and prompt settings; sessions already running keep the
// settings they were created with.
func (m *Manager) UpdateConfig(cfg *config.Config) error {
	classifier, err := buildClassifier(cfg.Prompts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.classifier = classifier
	m.mu.Unlock()

	slog.Info("session manager configuration updated")
	return nil
}

// buildClassifier compiles config-provided patterns on top of the
// built-in ones.
func buildClassifier(cfg config.PromptConfig) (*prompt.Classifier, error) {
	var opts []prompt.ClassifierOption

	if len(cfg.CustomShellPatterns) > 0 {
		var shell []*regexp.Regexp
		for _, p := range cfg.CustomShellPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile shell pattern %q: %w", p, err)
			}
			shell = append(shell, re)
		}
		opts = append(opts, prompt.WithShellPatterns(shell))
	}

	if len(cfg.CustomInteractivePatterns) > 0 {
		var custom []prompt.Pattern
		for _, p := range cfg.CustomInteractivePatterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compile interactive pattern %q: %w", p.Name, err)
			}
			custom = append(custom, prompt.Pattern{
				Name:      p.Name,
				Regex:     re,
				Kind:      prompt.PromptKind(p.Kind),
				MaskInput: p.Kind == "password",
			})
		}
		opts = append(opts, prompt.WithCustomPatterns(custom))
	}

	return prompt.NewClassifier(opts...), nil
}

// StartSession verifies the device, spawns a shell, and initializes a
// session on it. shellKind is "root" or "user"; root escalation that
// the device denies fails the start.
func (m *Manager) StartSession(ctx context.Context, serial, shellKind string) (*Session, error) {
	if shellKind != "root" && shellKind != "user" {
		return nil, fmt.Errorf("shell kind must be root or user, got %q", shellKind)
	}

	if err := m.adb.EnsureReady(ctx, serial); err != nil {
		return nil, err
	}

	tr, err := m.spawn(serial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	m.mu.Lock()
	hangCfg := m.cfg.Hang
	opts := append([]Option{WithClassifier(m.classifier)}, m.sessionOpts...)
	m.mu.Unlock()

	id := sessionID(serial, shellKind)
	s := New(id, serial, shellKind, tr, hangCfg, opts...)

	if err := s.Init(); err != nil {
		s.Close()
		return nil, err
	}

	m.register(s)

	slog.Info("session started",
		slog.String("session_id", s.ID),
		slog.String("serial", serial),
		slog.String("shell_kind", shellKind),
	)
	return s, nil
}

// register adds s to the registry. The short random suffix can collide
// with a live session on the same device; regenerate until the ID is
// free so no registered session is ever replaced.
func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if _, taken := m.sessions[s.ID]; !taken {
			break
		}
		s.ID = sessionID(s.Serial, s.ShellKind)
	}
	m.sessions[s.ID] = s
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// StopSession closes and removes a session. Stopping an unknown or
// already-stopped session is a no-op.
func (m *Manager) StopSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if err := s.Close(); err != nil {
		slog.Warn("error closing session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
	slog.Info("session stopped", slog.String("session_id", id))
	return nil
}

// StopAll closes every session. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// List returns snapshots of all sessions.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Run executes a command in a session and records telemetry.
func (m *Manager) Run(id, command string, timeout time.Duration) (*CommandResult, error) {
	return m.RunWith(id, command, RunOptions{Timeout: timeout})
}

// RunWith executes a command with working-directory and output-shaping
// options and records telemetry.
func (m *Manager) RunWith(id, command string, opts RunOptions) (*CommandResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	res, err := s.RunWith(command, opts)
	if m.recorder != nil {
		status := StatusError
		var elapsed time.Duration
		if res != nil {
			status = res.Status
			elapsed = res.Elapsed
		}
		m.recorder.RecordCommand(id, s.Serial, command, status, elapsed)
	}
	return res, err
}

// BatchEntry is one command's outcome within a batch.
type BatchEntry struct {
	Command string         `json:"command"`
	Result  *CommandResult `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// RunBatch executes commands sequentially in one session, applying the
// same options to each. With stopOnError set, the batch halts at the
// first command that does not succeed; the remaining commands are not
// run.
func (m *Manager) RunBatch(id string, commands []string, opts RunOptions, stopOnError bool) ([]BatchEntry, error) {
	if _, err := m.Get(id); err != nil {
		return nil, err
	}

	entries := make([]BatchEntry, 0, len(commands))
	for _, cmd := range commands {
		res, err := m.RunWith(id, cmd, opts)
		entry := BatchEntry{Command: cmd, Result: res}
		if err != nil {
			entry.Error = err.Error()
		}
		entries = append(entries, entry)

		if stopOnError && (err != nil || res == nil || res.Status != StatusSuccess) {
			break
		}
	}
	return entries, nil
}

// SendInput forwards input to a session waiting on a prompt.
func (m *Manager) SendInput(id, input string) (*CommandResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.SendInput(input)
}

// SendControl forwards a control byte to a session.
func (m *Manager) SendControl(id string, b byte) (*CommandResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.SendControl(b)
}

// Peek drains available output from a session without blocking.
func (m *Manager) Peek(id string, tailLines int) (*PeekResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Peek(tailLines)
}

// Diagnose reports on a possibly stuck session.
func (m *Manager) Diagnose(id string) (*DiagnosisReport, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Diagnose()
}

// Interrupt aborts whatever a session is doing.
func (m *Manager) Interrupt(id string) (string, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return s.Interrupt()
}

// StartJob detaches a command on the session's device.
func (m *Manager) StartJob(sessionID, command string) (*Job, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	jobID := "job_" + newSuffix(4)
	return m.jobs.Start(s, jobID, command)
}

// CheckJob reports a job's status through any idle session on its
// device. The session that started the job does not need to exist.
func (m *Manager) CheckJob(jobID string, tailLines int) (*JobReport, error) {
	job, err := m.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}

	s, err := m.idleSessionOn(job.Serial)
	if err != nil {
		return nil, err
	}
	return m.jobs.Check(s, jobID, tailLines)
}

// ListJobs returns all tracked jobs.
func (m *Manager) ListJobs() []*Job {
	return m.jobs.List()
}

// idleSessionOn finds a live idle session on the given device.
func (m *Manager) idleSessionOn(serial string) (*Session, error) {
	m.mu.Lock()
	candidates := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.Serial == serial {
			candidates = append(candidates, s)
		}
	}
	m.mu.Unlock()

	for _, s := range candidates {
		if s.Alive() && s.State() == StateIdle {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDeviceSession, serial)
}

// sessionID builds an ID like 94KAY0E1_root_3fa2.
func sessionID(serial, shellKind string) string {
	short := serial
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s_%s", short, shellKind, newSuffix(2))
}

// newSuffix returns n random bytes hex-encoded, derived from a UUID.
func newSuffix(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:n])
}
