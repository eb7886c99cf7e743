// Package adb wraps the host adb and fastboot binaries for device
// enumeration, state checks, and small file transfers.
package adb

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Sentinel errors returned by the client.
var (
	ErrFileNotFound         = errors.New("file not found on device")
	ErrTransferSizeExceeded = errors.New("file exceeds transfer size ceiling")
	ErrDeviceNotReady       = errors.New("device not in a usable state")
)

// Mode describes how a device is currently reachable.
type Mode string

const (
	ModeBridge       Mode = "bridge"     // normal adb connection
	ModeBootloader   Mode = "bootloader" // fastboot
	ModeRecovery     Mode = "recovery"
	ModeSideload     Mode = "sideload"
	ModeUnauthorized Mode = "unauthorized"
	ModeOffline      Mode = "offline"
	ModeUnknown      Mode = "unknown"
)

// Device describes one enumerated device.
type Device struct {
	Serial      string `json:"serial"`
	Mode        Mode   `json:"mode"`
	Product     string `json:"product,omitempty"`
	Model       string `json:"model,omitempty"`
	DeviceName  string `json:"device,omitempty"`
	TransportID string `json:"transport_id,omitempty"`
}

// DisplayName returns a human-readable label for the device.
func (d Device) DisplayName() string {
	if d.Model != "" {
		return fmt.Sprintf("%s (%s)", d.Serial, d.Model)
	}
	return d.Serial
}

// Hint returns caller guidance for devices that need operator action.
func (d Device) Hint() string {
	switch d.Mode {
	case ModeUnauthorized:
		return "accept the USB debugging prompt on the device"
	case ModeOffline:
		return "reconnect the device"
	}
	return ""
}

// Runner executes a host binary and returns its stdout.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Client talks to devices through the adb and fastboot binaries.
type Client struct {
	adbPath      string
	fastbootPath string
	runner       Runner
}

// Option configures the client.
type Option func(*Client)

// WithRunner replaces the command runner (used in tests).
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// NewClient creates a client using the given binary paths.
func NewClient(adbPath, fastbootPath string, opts ...Option) *Client {
	c := &Client{
		adbPath:      adbPath,
		fastbootPath: fastbootPath,
		runner:       execRunner{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDevices enumerates devices visible over adb and fastboot.
// A failing fastboot binary does not fail the whole listing.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	out, err := c.runner.Output(ctx, c.adbPath, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}
	devices := parseADBDevices(string(out))

	fbOut, err := c.runner.Output(ctx, c.fastbootPath, "devices", "-l")
	if err == nil {
		for _, d := range parseFastbootDevices(string(fbOut)) {
			if !containsSerial(devices, d.Serial) {
				devices = append(devices, d)
			}
		}
	}

	return devices, nil
}

// State returns the raw adb state string for a device ("device",
// "recovery", "unauthorized", ...).
func (c *Client) State(ctx context.Context, serial string) (string, error) {
	out, err := c.runner.Output(ctx, c.adbPath, "-s", serial, "get-state")
	if err != nil {
		return "", fmt.Errorf("adb get-state: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// EnsureReady verifies the device is in the "device" state.
func (c *Client) EnsureReady(ctx context.Context, serial string) error {
	state, err := c.State(ctx, serial)
	if err != nil {
		return err
	}
	if state != "device" {
		return fmt.Errorf("%w: state is %q", ErrDeviceNotReady, state)
	}
	return nil
}

// PullFile reads a file from the device and returns its contents.
// Files larger than maxKB KiB are refused; large files should go
// through adb pull directly.
func (c *Client) PullFile(ctx context.Context, serial, remotePath string, maxKB int) (string, error) {
	sizeCmd := fmt.Sprintf("stat -c%%s %s 2>/dev/null || echo NOT_FOUND", shellQuote(remotePath))
	out, err := c.runner.Output(ctx, c.adbPath, "-s", serial, "shell", sizeCmd)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", remotePath, err)
	}

	sizeStr := strings.TrimSpace(string(out))
	if sizeStr == "NOT_FOUND" || sizeStr == "" {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, remotePath)
	}
	if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		if size > int64(maxKB)*1024 {
			return "", fmt.Errorf("%w: %s is %d bytes, ceiling %d KiB", ErrTransferSizeExceeded, remotePath, size, maxKB)
		}
	}

	content, err := c.runner.Output(ctx, c.adbPath, "-s", serial, "shell", "cat "+shellQuote(remotePath))
	if err != nil {
		return "", fmt.Errorf("cat %s: %w", remotePath, err)
	}
	return string(content), nil
}

// PushFile writes content to a file on the device. The content travels
// base64-encoded through the shell, so arbitrary text survives quoting.
func (c *Client) PushFile(ctx context.Context, serial, remotePath, content string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	writeCmd := fmt.Sprintf("echo %s | base64 -d > %s", shellQuote(encoded), shellQuote(remotePath))

	if _, err := c.runner.Output(ctx, c.adbPath, "-s", serial, "shell", writeCmd); err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}

	// Verify the file landed
	verifyCmd := fmt.Sprintf("stat -c%%s %s 2>/dev/null || echo NOT_FOUND", shellQuote(remotePath))
	out, err := c.runner.Output(ctx, c.adbPath, "-s", serial, "shell", verifyCmd)
	if err != nil {
		return fmt.Errorf("verify %s: %w", remotePath, err)
	}
	if strings.TrimSpace(string(out)) == "NOT_FOUND" {
		return fmt.Errorf("verify %s: file missing after write", remotePath)
	}
	return nil
}

// parseADBDevices parses `adb devices -l` output.
func parseADBDevices(out string) []Device {
	var devices []Device

	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		// First line is the "List of devices attached" header
		if i == 0 && strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		d := Device{Serial: fields[0], Mode: adbStateMode(fields[1])}
		for _, f := range fields[2:] {
			key, val, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch key {
			case "product":
				d.Product = val
			case "model":
				d.Model = val
			case "device":
				d.DeviceName = val
			case "transport_id":
				d.TransportID = val
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// parseFastbootDevices parses `fastboot devices -l` output.
func parseFastbootDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "fastboot" {
			devices = append(devices, Device{Serial: fields[0], Mode: ModeBootloader})
		}
	}
	return devices
}

func adbStateMode(state string) Mode {
	switch state {
	case "device":
		return ModeBridge
	case "recovery":
		return ModeRecovery
	case "sideload":
		return ModeSideload
	case "unauthorized":
		return ModeUnauthorized
	case "offline":
		return ModeOffline
	}
	return ModeUnknown
}

func containsSerial(devices []Device, serial string) bool {
	for _, d := range devices {
		if d.Serial == serial {
			return true
		}
	}
	return false
}

// shellQuote wraps s in single quotes, escaping embedded single quotes
// so the device shell treats s as one literal word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
