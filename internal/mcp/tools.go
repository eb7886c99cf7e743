package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/droidshell/adb-shell-mcp/internal/adb"
	"github.com/droidshell/adb-shell-mcp/internal/clihint"
	"github.com/droidshell/adb-shell-mcp/internal/session"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(listDevicesTool(), s.handleListDevices)
	s.mcpServer.AddTool(startShellTool(), s.handleStartShell)
	s.mcpServer.AddTool(stopShellTool(), s.handleStopShell)
	s.mcpServer.AddTool(shellStatusTool(), s.handleShellStatus)
	s.mcpServer.AddTool(runCommandTool(), s.handleRunCommand)
	s.mcpServer.AddTool(runCommandsTool(), s.handleRunCommands)
	s.mcpServer.AddTool(shellInteractTool(), s.handleShellInteract)
	s.mcpServer.AddTool(backgroundJobTool(), s.handleBackgroundJob)
	s.mcpServer.AddTool(fileTransferTool(), s.handleFileTransfer)
}

// Tool definitions

func listDevicesTool() mcp.Tool {
	return mcp.NewTool("list_devices",
		mcp.WithDescription("List all connected Android devices across adb and fastboot, with their connection mode"),
	)
}

func startShellTool() mcp.Tool {
	return mcp.NewTool("start_shell",
		mcp.WithDescription("Start a persistent interactive shell session on a device"),
		mcp.WithString("serial",
			mcp.Required(),
			mcp.Description("Device serial from list_devices"),
		),
		mcp.WithString("shell",
			mcp.Description("Shell kind: 'user' or 'root' (root requires a rooted device)"),
			mcp.DefaultString("user"),
		),
	)
}

func stopShellTool() mcp.Tool {
	return mcp.NewTool("stop_shell",
		mcp.WithDescription("Close and clean up a shell session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID returned by start_shell"),
		),
	)
}

func shellStatusTool() mcp.Tool {
	return mcp.NewTool("shell_status",
		mcp.WithDescription("List all shell sessions, or report one session's state and current command"),
		mcp.WithString("session_id",
			mcp.Description("Session to inspect; omit to list all sessions"),
		),
	)
}

func runCommandTool() mcp.Tool {
	return mcp.NewTool("run_command",
		mcp.WithDescription("Execute a command in a shell session with interactive prompt and hang detection"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID returned by start_shell"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Command timeout in milliseconds (default: 30000)"),
		),
		mcp.WithString("working_directory",
			mcp.Description("Directory to change into before the command runs"),
		),
		mcp.WithNumber("max_output_lines",
			mcp.Description("Keep only the last N output lines; the result reports truncated=true when lines were dropped. Recommended for large outputs"),
		),
		mcp.WithString("output_filter",
			mcp.Description("Keep only output lines containing this text"),
		),
	)
}

func runCommandsTool() mcp.Tool {
	return mcp.NewTool("run_commands",
		mcp.WithDescription("Execute a batch of commands sequentially in one shell session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID returned by start_shell"),
		),
		mcp.WithArray("commands",
			mcp.Required(),
			mcp.Description("Commands to execute in order"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Per-command timeout in milliseconds (default: 30000)"),
		),
		mcp.WithBoolean("stop_on_error",
			mcp.Description("Halt the batch at the first command that does not succeed (default: true)"),
		),
		mcp.WithString("working_directory",
			mcp.Description("Directory to change into before each command runs"),
		),
		mcp.WithNumber("max_output_lines",
			mcp.Description("Keep only the last N output lines of each command; results report truncated=true when lines were dropped"),
		),
		mcp.WithString("output_filter",
			mcp.Description("Keep only output lines containing this text"),
		),
	)
}

func shellInteractTool() mcp.Tool {
	return mcp.NewTool("shell_interact",
		mcp.WithDescription("Interact with a session that paused on a prompt or went silent: answer prompts, peek at output, diagnose, or interrupt"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of: send_input, send_control, peek, diagnose, interrupt"),
		),
		mcp.WithString("input",
			mcp.Description("Text to send for send_input (a newline is appended)"),
		),
		mcp.WithString("control",
			mcp.Description("Key for send_control: a single character sent raw (e.g. 'q' for pagers), or 'ctrl+c' style for control bytes"),
		),
		mcp.WithNumber("tail_lines",
			mcp.Description("For peek: limit output to the last N lines"),
		),
	)
}

func backgroundJobTool() mcp.Tool {
	return mcp.NewTool("background_job",
		mcp.WithDescription("Run a long command detached on the device so it survives session teardown, and check on it later"),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of: start, check, list"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session to launch through (required for start)"),
		),
		mcp.WithString("command",
			mcp.Description("Command to detach (required for start)"),
		),
		mcp.WithString("job_id",
			mcp.Description("Job to check (required for check)"),
		),
		mcp.WithNumber("tail_lines",
			mcp.Description("For check: lines of job output to return (default: 20)"),
		),
	)
}

func fileTransferTool() mcp.Tool {
	return mcp.NewTool("file_transfer",
		mcp.WithDescription("Pull a small text file from a device or push text content to it"),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of: pull, push"),
		),
		mcp.WithString("serial",
			mcp.Required(),
			mcp.Description("Device serial"),
		),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Absolute path on the device"),
		),
		mcp.WithString("content",
			mcp.Description("File content to write (required for push)"),
		),
	)
}

// Tool handlers

type deviceEntry struct {
	adb.Device
	DisplayName string `json:"display_name"`
	Hint        string `json:"hint,omitempty"`
}

func (s *Server) handleListDevices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.adb.ListDevices(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entries := make([]deviceEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, deviceEntry{
			Device:      d,
			DisplayName: d.DisplayName(),
			Hint:        d.Hint(),
		})
	}

	return jsonResult(map[string]any{
		"count":   len(entries),
		"devices": entries,
	})
}

func (s *Server) handleStartShell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serial := mcp.ParseString(req, "serial", "")
	shellKind := mcp.ParseString(req, "shell", "user")

	if serial == "" {
		return mcp.NewToolResultError("serial is required"), nil
	}

	slog.Info("creating shell session",
		slog.String("serial", serial),
		slog.String("shell", shellKind),
	)

	sess, err := s.manager.StartSession(ctx, serial, shellKind)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"session_id": sess.ID,
		"serial":     serial,
		"shell":      shellKind,
		"status":     "connected",
	}
	if len(s.config.CLIHints) > 0 {
		result["cli_tools"] = clihint.Probe(sess, s.config.CLIHints)
	}

	return jsonResult(result)
}

func (s *Server) handleStopShell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	if err := s.manager.StopSession(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session stopped"), nil
}

func (s *Server) handleShellStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")

	if sessionID == "" {
		infos := s.manager.List()
		return jsonResult(map[string]any{
			"count":    len(infos),
			"sessions": infos,
		})
	}

	sess, err := s.manager.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sess.Info())
}

func (s *Server) handleRunCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	command := mcp.ParseString(req, "command", "")

	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	slog.Info("executing command",
		slog.String("session_id", sessionID),
		slog.String("command", command),
	)

	result, err := s.manager.RunWith(sessionID, command, runOptions(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

// runOptions collects the shared command execution arguments.
func runOptions(req mcp.CallToolRequest) session.RunOptions {
	return session.RunOptions{
		Timeout:    time.Duration(mcp.ParseInt(req, "timeout_ms", 0)) * time.Millisecond,
		WorkingDir: mcp.ParseString(req, "working_directory", ""),
		MaxLines:   mcp.ParseInt(req, "max_output_lines", 0),
		Filter:     mcp.ParseString(req, "output_filter", ""),
	}
}

func (s *Server) handleRunCommands(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	commands := req.GetStringSlice("commands", nil)
	stopOnError := mcp.ParseBoolean(req, "stop_on_error", true)

	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if len(commands) == 0 {
		return mcp.NewToolResultError("commands is required"), nil
	}

	slog.Info("executing command batch",
		slog.String("session_id", sessionID),
		slog.Int("count", len(commands)),
	)

	entries, err := s.manager.RunBatch(sessionID, commands, runOptions(req), stopOnError)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"count":   len(entries),
		"results": entries,
	})
}

func (s *Server) handleShellInteract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	action := mcp.ParseString(req, "action", "")

	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	switch action {
	case "send_input":
		input := mcp.ParseString(req, "input", "")
		result, err := s.manager.SendInput(sessionID, input)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(result)

	case "send_control":
		key := mcp.ParseString(req, "control", "")
		b, err := controlByte(key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := s.manager.SendControl(sessionID, b)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(result)

	case "peek":
		tailLines := mcp.ParseInt(req, "tail_lines", 0)
		result, err := s.manager.Peek(sessionID, tailLines)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(result)

	case "diagnose":
		report, err := s.manager.Diagnose(sessionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(report)

	case "interrupt":
		stage, err := s.manager.Interrupt(sessionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"status":         "interrupted",
			"recovery_stage": stage,
		})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q; use send_input, send_control, peek, diagnose, or interrupt", action)), nil
	}
}

func (s *Server) handleBackgroundJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := mcp.ParseString(req, "action", "")

	switch action {
	case "start":
		sessionID := mcp.ParseString(req, "session_id", "")
		command := mcp.ParseString(req, "command", "")
		if sessionID == "" {
			return mcp.NewToolResultError("session_id is required for start"), nil
		}
		if command == "" {
			return mcp.NewToolResultError("command is required for start"), nil
		}

		slog.Info("starting background job",
			slog.String("session_id", sessionID),
			slog.String("command", command),
		)

		job, err := s.manager.StartJob(sessionID, command)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(job)

	case "check":
		jobID := mcp.ParseString(req, "job_id", "")
		tailLines := mcp.ParseInt(req, "tail_lines", 0)
		if jobID == "" {
			return mcp.NewToolResultError("job_id is required for check"), nil
		}

		report, err := s.manager.CheckJob(jobID, tailLines)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(report)

	case "list":
		jobs := s.manager.ListJobs()
		return jsonResult(map[string]any{
			"count": len(jobs),
			"jobs":  jobs,
		})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q; use start, check, or list", action)), nil
	}
}

func (s *Server) handleFileTransfer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := mcp.ParseString(req, "action", "")
	serial := mcp.ParseString(req, "serial", "")
	remotePath := mcp.ParseString(req, "remote_path", "")

	if serial == "" {
		return mcp.NewToolResultError("serial is required"), nil
	}
	if remotePath == "" {
		return mcp.NewToolResultError("remote_path is required"), nil
	}

	switch action {
	case "pull":
		content, err := s.adb.PullFile(ctx, serial, remotePath, s.config.Transfer.MaxPullKB)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"path":    remotePath,
			"size":    len(content),
			"content": content,
		})

	case "push":
		content := mcp.ParseString(req, "content", "")
		if content == "" {
			return mcp.NewToolResultError("content is required for push"), nil
		}
		if err := s.adb.PushFile(ctx, serial, remotePath, content); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"path":   remotePath,
			"size":   len(content),
			"status": "written",
		})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q; use pull or push", action)), nil
	}
}

// controlByte maps a user-facing key name to the byte sent to the PTY.
// Plain single characters go through raw; a ctrl prefix folds the letter
// into its control byte.
func controlByte(key string) (byte, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	ctrl := false
	for _, prefix := range []string{"ctrl+", "ctrl-", "^"} {
		if strings.HasPrefix(k, prefix) {
			k = strings.TrimPrefix(k, prefix)
			ctrl = true
			break
		}
	}
	if len(k) != 1 {
		return 0, fmt.Errorf("control key must be a single character, got %q", key)
	}
	c := k[0]
	if !ctrl {
		return c, nil
	}
	if c < 'a' || c > 'z' {
		return 0, fmt.Errorf("ctrl prefix requires a letter, got %q", key)
	}
	return c - 'a' + 1, nil
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
