package session

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/adb"
	"github.com/droidshell/adb-shell-mcp/internal/config"
	"github.com/droidshell/adb-shell-mcp/internal/testing/fakes/fakeclock"
	"github.com/droidshell/adb-shell-mcp/internal/testing/fakes/fakerand"
	"github.com/droidshell/adb-shell-mcp/internal/testing/fakes/faketransport"
)

const testSerial = "SERIAL123"

// stubRunner answers adb invocations with canned output, keyed by the
// full command line.
type stubRunner struct {
	outputs map[string]string
}

func (r stubRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	key := name + " " + strings.Join(args, " ")
	out, ok := r.outputs[key]
	if !ok {
		return nil, errors.New("unexpected command: " + key)
	}
	return []byte(out), nil
}

func stubADB(state string) *adb.Client {
	return adb.NewClient("adb", "fastboot", adb.WithRunner(stubRunner{outputs: map[string]string{
		"adb -s " + testSerial + " get-state": state + "\n",
	}}))
}

var wrappedCommand = regexp.MustCompile(
	`^echo '(___CMD_START_[0-9a-f]+___)'; (.*); echo '(___CMD_END_[0-9a-f]+___)'\$\?\n$`)

// autoRespond wires the fake transport to answer every marker-wrapped
// command through reply, which returns the command's output and exit
// code. Non-command writes (prompt setup, su, raw input) are ignored.
func autoRespond(tr *faketransport.Transport, reply func(cmd string) (string, int)) {
	tr.OnWrite(func(data string) {
		m := wrappedCommand.FindStringSubmatch(data)
		if m == nil {
			return
		}
		body, code := reply(m[2])
		resp := m[1] + "\r\n"
		if body != "" {
			resp += body + "\r\n"
		}
		resp += m[3] + strconv.Itoa(code) + "\r\n$ "
		tr.AddResponse(resp)
	})
}

func okReply(cmd string) (string, int) { return "", 0 }

func newTestManager(t *testing.T, client *adb.Client, tr *faketransport.Transport, opts ...ManagerOption) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Hang = testHangConfig()

	spawn := func(serial string) (Transport, error) { return tr, nil }

	opts = append(opts, WithSessionOptions(
		WithClock(fakeclock.NewAutoAdvance(time.Unix(1700000000, 0))),
		WithRandom(fakerand.NewSequential()),
	))
	m, err := NewManager(cfg, client, spawn, opts...)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return m
}

func TestStartSessionUser(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, okReply)
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	if !strings.HasPrefix(s.ID, "SERIAL12_user_") {
		t.Errorf("session ID = %q, want SERIAL12_user_ prefix", s.ID)
	}
	if got := len(m.List()); got != 1 {
		t.Errorf("List() returned %d sessions, want 1", got)
	}
	if !strings.Contains(tr.Written(), "PS1='$ '") {
		t.Error("init did not pin the prompt")
	}
}

func TestStartSessionInvalidKind(t *testing.T) {
	tr := faketransport.New()
	m := newTestManager(t, stubADB("device"), tr)

	if _, err := m.StartSession(context.Background(), testSerial, "admin"); err == nil {
		t.Error("StartSession with kind admin succeeded, want error")
	}
}

func TestStartSessionDeviceNotReady(t *testing.T) {
	tr := faketransport.New()
	m := newTestManager(t, stubADB("unauthorized"), tr)

	_, err := m.StartSession(context.Background(), testSerial, "user")
	if !errors.Is(err, adb.ErrDeviceNotReady) {
		t.Errorf("StartSession = %v, want ErrDeviceNotReady", err)
	}
}

func TestStartSessionRootEscalation(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, func(cmd string) (string, int) {
		if cmd == "id" {
			return "uid=0(root) gid=0(root) groups=0(root)", 0
		}
		return "", 0
	})
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "root")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}
	if s.ShellKind != "root" {
		t.Errorf("ShellKind = %q, want %q", s.ShellKind, "root")
	}
	if !strings.Contains(tr.Written(), "su\n") {
		t.Error("root session did not run su")
	}
}

func TestStartSessionRootDenied(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, func(cmd string) (string, int) {
		if cmd == "id" {
			return "uid=2000(shell) gid=2000(shell)", 0
		}
		return "", 0
	})
	m := newTestManager(t, stubADB("device"), tr)

	_, err := m.StartSession(context.Background(), testSerial, "root")
	if !errors.Is(err, ErrRootDenied) {
		t.Fatalf("StartSession = %v, want ErrRootDenied", err)
	}
	if !tr.IsClosed() {
		t.Error("failed session left transport open")
	}
	if got := len(m.List()); got != 0 {
		t.Errorf("List() returned %d sessions, want 0", got)
	}
}

func TestRegisterRegeneratesCollidingID(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, okReply)
	m := newTestManager(t, stubADB("device"), tr)

	first, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	// A second session that drew the same suffix must not replace the
	// registered one
	dup := New(first.ID, testSerial, "user", faketransport.New(), testHangConfig())
	m.register(dup)

	if dup.ID == first.ID {
		t.Fatalf("colliding session kept ID %q", dup.ID)
	}
	got, err := m.Get(first.ID)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", first.ID, err)
	}
	if got != first {
		t.Errorf("Get(%q) returned the colliding session", first.ID)
	}
	if _, err := m.Get(dup.ID); err != nil {
		t.Errorf("Get(%q) error: %v, want regenerated session registered", dup.ID, err)
	}
	if got := len(m.List()); got != 2 {
		t.Errorf("List() returned %d sessions, want 2", got)
	}
}

func TestStopSessionIdempotent(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, okReply)
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	if err := m.StopSession(s.ID); err != nil {
		t.Fatalf("StopSession error: %v", err)
	}
	if err := m.StopSession(s.ID); err != nil {
		t.Fatalf("second StopSession error: %v", err)
	}
	if err := m.StopSession("no_such_session"); err != nil {
		t.Fatalf("StopSession on unknown ID error: %v", err)
	}

	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after stop = %v, want ErrSessionNotFound", err)
	}
}

type captureRecorder struct {
	sessionID string
	serial    string
	command   string
	status    Status
	calls     int
}

func (r *captureRecorder) RecordCommand(sessionID, serial, command string, status Status, _ time.Duration) {
	r.sessionID = sessionID
	r.serial = serial
	r.command = command
	r.status = status
	r.calls++
}

func TestRunRecordsTelemetry(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, func(cmd string) (string, int) {
		return "hello", 0
	})
	rec := &captureRecorder{}
	m := newTestManager(t, stubADB("device"), tr, WithRecorder(rec))

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	res, err := m.Run(s.ID, "echo hello", 0)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q", res.Status, StatusSuccess)
	}

	if rec.calls != 1 {
		t.Fatalf("recorder calls = %d, want 1", rec.calls)
	}
	if rec.sessionID != s.ID {
		t.Errorf("recorded session = %q, want %q", rec.sessionID, s.ID)
	}
	if rec.serial != testSerial {
		t.Errorf("recorded serial = %q, want %q", rec.serial, testSerial)
	}
	if rec.command != "echo hello" {
		t.Errorf("recorded command = %q, want %q", rec.command, "echo hello")
	}
	if rec.status != StatusSuccess {
		t.Errorf("recorded status = %q, want %q", rec.status, StatusSuccess)
	}
}

func TestRunBatchStopOnError(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, func(cmd string) (string, int) {
		if cmd == "false" {
			return "", 1
		}
		return "ok", 0
	})
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	entries, err := m.RunBatch(s.ID, []string{"echo a", "false", "echo b"}, RunOptions{}, true)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (batch halts at failure)", len(entries))
	}
	if entries[0].Result.Status != StatusSuccess {
		t.Errorf("entries[0].Status = %q, want %q", entries[0].Result.Status, StatusSuccess)
	}
	if entries[1].Result.Status != StatusCommandFailed {
		t.Errorf("entries[1].Status = %q, want %q", entries[1].Result.Status, StatusCommandFailed)
	}
}

func TestRunBatchContinuesWithoutStopOnError(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, func(cmd string) (string, int) {
		if cmd == "false" {
			return "", 1
		}
		return "ok", 0
	})
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	entries, err := m.RunBatch(s.ID, []string{"echo a", "false", "echo b"}, RunOptions{}, false)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[2].Result.Status != StatusSuccess {
		t.Errorf("entries[2].Status = %q, want %q", entries[2].Result.Status, StatusSuccess)
	}
}

func TestBackgroundJobLifecycle(t *testing.T) {
	tr := faketransport.New()
	done := false
	autoRespond(tr, func(cmd string) (string, int) {
		switch {
		case strings.Contains(cmd, "nohup sh -c"):
			return "12345", 0
		case strings.HasPrefix(cmd, "if [ -f "):
			if done {
				return "RC:0\nALIVE:no\ndownload finished", 0
			}
			return "RC:NONE\nALIVE:yes\ndownloading 42%", 0
		}
		return "", 0
	})
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	job, err := m.StartJob(s.ID, "wget http://example.com/rom.zip")
	if err != nil {
		t.Fatalf("StartJob error: %v", err)
	}
	if !strings.HasPrefix(job.ID, "job_") {
		t.Errorf("job ID = %q, want job_ prefix", job.ID)
	}
	if job.PID != "12345" {
		t.Errorf("job PID = %q, want %q", job.PID, "12345")
	}
	if job.Serial != testSerial {
		t.Errorf("job Serial = %q, want %q", job.Serial, testSerial)
	}

	report, err := m.CheckJob(job.ID, 0)
	if err != nil {
		t.Fatalf("CheckJob error: %v", err)
	}
	if report.Status != JobRunning {
		t.Errorf("Status = %q, want %q", report.Status, JobRunning)
	}
	if !strings.Contains(report.OutputTail, "downloading 42%") {
		t.Errorf("OutputTail = %q, want progress line", report.OutputTail)
	}

	done = true
	report, err = m.CheckJob(job.ID, 0)
	if err != nil {
		t.Fatalf("CheckJob error: %v", err)
	}
	if report.Status != JobCompleted {
		t.Errorf("Status = %q, want %q", report.Status, JobCompleted)
	}
	if report.ExitCode == nil || *report.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", report.ExitCode)
	}

	if got := len(m.ListJobs()); got != 1 {
		t.Errorf("ListJobs() returned %d jobs, want 1", got)
	}
}

func TestCheckJobFailed(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, func(cmd string) (string, int) {
		switch {
		case strings.Contains(cmd, "nohup sh -c"):
			return "777", 0
		case strings.HasPrefix(cmd, "if [ -f "):
			return "RC:127\nALIVE:no\nsh: nosuchcmd: not found", 0
		}
		return "", 0
	})
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	job, err := m.StartJob(s.ID, "nosuchcmd")
	if err != nil {
		t.Fatalf("StartJob error: %v", err)
	}

	report, err := m.CheckJob(job.ID, 0)
	if err != nil {
		t.Fatalf("CheckJob error: %v", err)
	}
	if report.Status != JobFailed {
		t.Errorf("Status = %q, want %q", report.Status, JobFailed)
	}
	if report.ExitCode == nil || *report.ExitCode != 127 {
		t.Errorf("ExitCode = %v, want 127", report.ExitCode)
	}
}

func TestCheckJobWithoutDeviceSession(t *testing.T) {
	tr := faketransport.New()
	autoRespond(tr, func(cmd string) (string, int) {
		if strings.Contains(cmd, "nohup sh -c") {
			return "999", 0
		}
		return "", 0
	})
	m := newTestManager(t, stubADB("device"), tr)

	s, err := m.StartSession(context.Background(), testSerial, "user")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}
	job, err := m.StartJob(s.ID, "sleep 600")
	if err != nil {
		t.Fatalf("StartJob error: %v", err)
	}

	// The job outlives its session
	if err := m.StopSession(s.ID); err != nil {
		t.Fatalf("StopSession error: %v", err)
	}

	_, err = m.CheckJob(job.ID, 0)
	if !errors.Is(err, ErrNoDeviceSession) {
		t.Errorf("CheckJob = %v, want ErrNoDeviceSession", err)
	}
}

func TestCheckJobUnknown(t *testing.T) {
	tr := faketransport.New()
	m := newTestManager(t, stubADB("device"), tr)

	_, err := m.CheckJob("job_ffff", 0)
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("CheckJob = %v, want ErrJobNotFound", err)
	}
}

func TestNewManagerRejectsBadCustomPattern(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Prompts.CustomInteractivePatterns = []config.PatternConfig{
		{Name: "broken", Regex: "([unclosed", Kind: "text"},
	}

	_, err := NewManager(cfg, stubADB("device"), func(string) (Transport, error) {
		return faketransport.New(), nil
	})
	if err == nil {
		t.Error("NewManager with invalid regex succeeded, want error")
	}
}
