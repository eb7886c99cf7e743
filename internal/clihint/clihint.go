// Package clihint surfaces project-specific CLI tools configured by the
// operator, probing a device shell for which ones are actually present.
package clihint

import (
	"fmt"
	"strings"
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/config"
	"github.com/droidshell/adb-shell-mcp/internal/session"
)

// Hint describes one configured device-side tool.
type Hint struct {
	Binary      string   `json:"binary"`
	Description string   `json:"description,omitempty"`
	Examples    []string `json:"examples,omitempty"`

	// Available and Path are filled by Probe.
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
}

// Prober runs a command in a device shell. *session.Session satisfies it.
type Prober interface {
	Run(command string, timeout time.Duration) (*session.CommandResult, error)
}

const probeTimeout = 10 * time.Second

// Describe returns the configured hints without touching a device.
func Describe(cfgs []config.CLIHintConfig) []Hint {
	hints := make([]Hint, 0, len(cfgs))
	for _, c := range cfgs {
		hints = append(hints, Hint{
			Binary:      c.Binary,
			Description: c.Description,
			Examples:    c.Examples,
		})
	}
	return hints
}

// Probe checks each configured binary on the device and marks the ones
// that resolve on PATH. A probe failure marks the tool unavailable
// rather than failing the whole listing.
func Probe(p Prober, cfgs []config.CLIHintConfig) []Hint {
	hints := Describe(cfgs)
	for i := range hints {
		res, err := p.Run(probeCommand(hints[i].Binary), probeTimeout)
		if err != nil || res == nil || res.Status != session.StatusSuccess {
			continue
		}
		path := firstLine(res.Output)
		if path == "" {
			continue
		}
		hints[i].Available = true
		hints[i].Path = path
	}
	return hints
}

func probeCommand(binary string) string {
	return fmt.Sprintf("command -v %s 2>/dev/null", shellQuote(binary))
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
