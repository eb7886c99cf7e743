package session

import (
	"fmt"
	"regexp"
	"strings"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][0-9A-Za-z]`)

// stripANSI removes terminal escape sequences from a string.
func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// splitMarkedOutput separates async noise from command output using the
// per-command markers. Returns (asyncOutput, commandOutput).
func splitMarkedOutput(output, startMarker, endMarker string) (string, string) {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "")

	// The start marker must be on its own line: echo printed it. An
	// occurrence inside the echoed command line does not count.
	startIdx := markerOnOwnLine(output, startMarker)
	if startIdx == -1 {
		// Nothing but pre-command noise so far
		return cleanNoise(output), ""
	}

	var async string
	if startIdx > 0 {
		async = cleanNoise(output[:startIdx])
	}

	rest := output[startIdx+len(startMarker):]
	if len(rest) > 0 && rest[0] == '\n' {
		rest = rest[1:]
	}

	endIdx := markerOnOwnLine(rest, endMarker)
	if endIdx == -1 {
		return async, strings.TrimSpace(rest)
	}
	return async, strings.TrimSpace(rest[:endIdx])
}

// markerOnOwnLine finds a marker at the start of a line. Returns its
// index, or -1.
func markerOnOwnLine(output, marker string) int {
	if strings.HasPrefix(output, marker) {
		return 0
	}
	if idx := strings.Index(output, "\n"+marker); idx != -1 {
		return idx + 1
	}
	return -1
}

// extractExitCode finds the end marker line and parses the exit code
// appended to it.
func extractExitCode(output, endMarker string) (int, bool) {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, endMarker) {
			continue
		}
		rest := strings.TrimPrefix(line, endMarker)
		var code int
		if _, err := fmt.Sscanf(rest, "%d", &code); err == nil {
			return code, true
		}
	}
	return 0, false
}

// cleanNoise strips prompt lines and blank lines from async output.
func cleanNoise(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "$ ") {
			continue
		}
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// shapeOutput applies the caller's output shaping: non-matching lines
// are dropped first, then the tail is kept. Only the tail trim counts
// as truncation.
func shapeOutput(out string, maxLines int, filter string) (string, bool) {
	if maxLines <= 0 && filter == "" {
		return out, false
	}

	lines := strings.Split(out, "\n")
	if filter != "" {
		kept := make([]string, 0, len(lines))
		for _, line := range lines {
			if strings.Contains(line, filter) {
				kept = append(kept, line)
			}
		}
		lines = kept
	}

	truncated := false
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
		truncated = true
	}
	return strings.Join(lines, "\n"), truncated
}

// tailOf returns the last n lines of s. n <= 0 returns s unchanged.
func tailOf(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
