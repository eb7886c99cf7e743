package session

import "time"

// State represents the session state.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateWaitingInput State = "waiting_input"
	StateUncertain    State = "uncertain"
	StateRecovering   State = "recovering"
	StateDead         State = "dead"
	StateClosed       State = "closed"
)

// Status classifies the outcome of one command execution.
type Status string

const (
	// StatusSuccess means the command completed with exit code 0.
	StatusSuccess Status = "SUCCESS"

	// StatusCommandFailed means the command completed with a nonzero
	// exit code. The session itself is healthy.
	StatusCommandFailed Status = "COMMAND_FAILED"

	// StatusTimeout means the wall-time ceiling was hit and the
	// command was recovered.
	StatusTimeout Status = "TIMEOUT"

	// StatusWaitingInput means the command is paused on an
	// interactive prompt. The command is still in flight.
	StatusWaitingInput Status = "WAITING_FOR_INPUT"

	// StatusUncertain means prolonged silence with no verdict either
	// way. Advisory; the command is still in flight.
	StatusUncertain Status = "UNCERTAIN"

	// StatusError means the execution machinery itself failed.
	StatusError Status = "ERROR"
)

// PromptInfo describes the interactive prompt a command paused on.
type PromptInfo struct {
	Kind              string `json:"kind"`
	Pattern           string `json:"pattern,omitempty"`
	Text              string `json:"text,omitempty"`
	MaskInput         bool   `json:"mask_input,omitempty"`
	SuggestedResponse string `json:"suggested_response,omitempty"`
}

// CommandResult is the outcome of running one command in a session.
type CommandResult struct {
	Status   Status `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Output   string `json:"output,omitempty"`

	// AsyncOutput is output that arrived before the command's start
	// marker: noise from earlier background activity on the shell.
	AsyncOutput string `json:"async_output,omitempty"`

	// Truncated is set when Output was trimmed to the caller's
	// max_output_lines. Dropping lines via output_filter does not set it.
	Truncated bool `json:"truncated"`

	CommandID string        `json:"command_id,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsed_ms"`

	Prompt *PromptInfo `json:"prompt,omitempty"`

	// Warning is set when the command matched the dangerous list
	// before it ran.
	Warning string `json:"warning,omitempty"`

	// RecoveryStage names the ladder stage that restored the shell
	// after a timeout ("interrupt", "eof", "background_kill").
	RecoveryStage string `json:"recovery_stage,omitempty"`

	Hint string `json:"hint,omitempty"`
}

// DiagnosisReport describes a session that may be stuck.
type DiagnosisReport struct {
	SessionID       string        `json:"session_id"`
	State           State         `json:"state"`
	Command         string        `json:"command,omitempty"`
	Elapsed         time.Duration `json:"-"`
	ElapsedMS       int64         `json:"elapsed_ms,omitempty"`
	SilentIntervals int           `json:"silent_intervals"`
	TailOutput      string        `json:"tail_output,omitempty"`
	Prompt          *PromptInfo   `json:"prompt,omitempty"`
	ShellAlive      bool          `json:"shell_alive"`
	Advice          string        `json:"advice"`
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID            string `json:"session_id"`
	Serial        string `json:"device_serial"`
	ShellKind     string `json:"shell_kind"` // "root" or "user"
	State         State  `json:"state"`
	Command       string `json:"command,omitempty"`
	IdleSeconds   int    `json:"idle_seconds"`
	UptimeSeconds int    `json:"uptime_seconds"`
	Alive         bool   `json:"alive"`
}
