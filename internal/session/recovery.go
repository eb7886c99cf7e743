package session

import (
	"log/slog"
	"strings"
	"time"
)

// Control bytes used by the recovery ladder.
const (
	ctrlInterrupt = 0x03 // ^C SIGINT
	ctrlEOF       = 0x04 // ^D end of input
	ctrlSuspend   = 0x1a // ^Z SIGTSTP
)

// recoverLocked walks the escalation ladder until the shell answers a
// probe: interrupt first, then EOF for programs reading stdin, then
// suspend-and-kill for programs that ignore both. Returns the stage
// that restored the shell. mu held.
func (s *Session) recoverLocked() (string, error) {
	stages := []struct {
		name string
		fire func() error
	}{
		{"interrupt", func() error {
			return s.tr.WriteControl(ctrlInterrupt)
		}},
		{"eof", func() error {
			return s.tr.WriteControl(ctrlEOF)
		}},
		{"background_kill", func() error {
			if err := s.tr.WriteControl(ctrlSuspend); err != nil {
				return err
			}
			s.clock.Sleep(200 * time.Millisecond)
			_, err := s.tr.WriteString("kill %1\n")
			return err
		}},
	}

	for _, stage := range stages {
		if !s.tr.Alive() {
			return "", ErrSessionDead
		}
		if err := stage.fire(); err != nil {
			slog.Debug("recovery stage failed to send",
				slog.String("session_id", s.ID),
				slog.String("stage", stage.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.probeShell() {
			slog.Info("shell recovered",
				slog.String("session_id", s.ID),
				slog.String("stage", stage.name),
			)
			return stage.name, nil
		}
	}

	return "", ErrSessionDead
}

// probeShell checks whether the shell is back at a prompt by echoing a
// unique marker and waiting for it to come back on its own line. The
// echoed command line itself does not count. mu held.
func (s *Session) probeShell() bool {
	marker := probeMarkerPrefix + s.newCommandID() + markerSuffix

	for try := 0; try < s.cfg.RecoveryProbeTries; try++ {
		s.clock.Sleep(s.cfg.RecoveryProbeWait)

		if _, err := s.tr.WriteString("echo '" + marker + "'\n"); err != nil {
			return false
		}

		buf := make([]byte, 4096)
		var collected strings.Builder
		for i := 0; i < 10; i++ {
			s.tr.SetReadDeadline(s.clock.Now().Add(100 * time.Millisecond))
			n, err := s.tr.Read(buf)
			if n > 0 {
				collected.Write(buf[:n])
				if probeAnswered(collected.String(), marker) {
					return true
				}
				continue
			}
			if err == nil {
				s.clock.Sleep(100 * time.Millisecond)
				continue
			}
			break
		}
		if probeAnswered(collected.String(), marker) {
			return true
		}
	}
	return false
}

// probeAnswered reports whether the probe marker appeared as echo
// output rather than only as the echoed command line.
func probeAnswered(output, marker string) bool {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == marker {
			return true
		}
	}
	return false
}
