package prompt

import (
	"path"
	"regexp"
	"strings"
)

// slowSilentCommands are commands that may legitimately produce no output
// for long stretches while working. Silence from these gets extended
// tolerance before a stuck verdict.
var slowSilentCommands = map[string]bool{
	// Downloads and network
	"wget": true, "curl": true, "aria2c": true, "axel": true,
	"scp": true, "rsync": true, "sftp": true, "ftp": true,

	// File operations on large files
	"cp": true, "mv": true, "dd": true, "tar": true,
	"gzip": true, "gunzip": true, "bzip2": true, "xz": true,
	"zip": true, "unzip": true, "7z": true, "7za": true,

	// Package managers
	"apt": true, "apt-get": true, "dpkg": true, "yum": true,
	"dnf": true, "pacman": true, "pip": true, "pip3": true,
	"npm": true, "yarn": true, "gem": true,
	"pm": true, // Android package manager

	// Android services
	"am": true, "cmd": true, "dex2oat": true, "installd": true,

	// Disk operations
	"mkfs": true, "fsck": true, "e2fsck": true, "resize2fs": true,
	"fdisk": true, "parted": true, "gdisk": true,

	// Build and compile
	"make": true, "cmake": true, "ninja": true,
	"gradle": true, "gradlew": true,
	"gcc": true, "g++": true, "clang": true, "javac": true,

	// Database operations
	"sqlite3": true, "mysql": true, "pg_dump": true, "mongodump": true,

	// Crypto and hashing
	"sha256sum": true, "sha512sum": true, "md5sum": true,
	"openssl": true, "gpg": true, "age": true,

	// Search over large filesystems
	"find": true, "locate": true, "grep": true, "rg": true, "ag": true,

	// System operations
	"sync": true, "reboot": true, "shutdown": true,
	"mount": true, "umount": true,

	// Nested adb, file pushes
	"adb": true,

	// Intentionally slow
	"sleep": true, "wait": true,
}

// slowCommandPatterns match command-line shapes that suggest a
// long-running, possibly silent operation: output discarded, piped
// away, or explicitly quieted. Single-letter flags like -q and -s are
// too ambiguous to match (ls -s, grep -s).
var slowCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`>\s*/dev/null`),
	regexp.MustCompile(`2>&1\s*>\s*/dev/null`),
	regexp.MustCompile(`--quiet`),
	regexp.MustCompile(`--silent`),
	regexp.MustCompile(`--no-progress`),
	regexp.MustCompile(`\|\s*tail`),
	regexp.MustCompile(`\|\s*head`),
	regexp.MustCompile(`\|\s*grep`),
	regexp.MustCompile(`\|\s*awk`),
	regexp.MustCompile(`\|\s*sed`),
}

// slowSubcommands are verbs that mark a long operation when they appear
// as a standalone argument ("pm install", "git clone", "adb pull").
var slowSubcommands = map[string]bool{
	"install": true, "download": true,
	"backup": true, "restore": true,
	"flash": true, "update": true, "upgrade": true,
	"pull": true, "push": true,
	"copy": true, "clone": true,
}

// dangerousCommands block or go interactive by nature when run without
// arguments that keep them batch-safe.
var dangerousCommands = map[string]string{
	"vi": "opens an interactive editor", "vim": "opens an interactive editor",
	"nano": "opens an interactive editor", "emacs": "opens an interactive editor",
	"top": "runs an interactive monitor", "htop": "runs an interactive monitor",
	"less": "opens a pager", "more": "opens a pager",
	"ssh": "opens a remote shell", "telnet": "opens a remote shell",
	"python": "starts a REPL without arguments", "python3": "starts a REPL without arguments",
	"node": "starts a REPL without arguments",
	"sh": "starts a sub-shell without -c", "bash": "starts a sub-shell without -c",
	"zsh":    "starts a sub-shell without -c",
	"su":     "starts a sub-shell without -c",
	"passwd": "waits for password input",
	"read":   "blocks reading stdin",
	"cat":    "blocks reading stdin without a file argument",
}

// BaseCommand extracts the base command name from a command line: the
// first token with any leading path stripped. Environment assignments
// and common wrappers (nohup, busybox, toybox) are skipped.
func BaseCommand(command string) string {
	fields := strings.Fields(command)
	for _, f := range fields {
		// Skip VAR=value assignments
		if i := strings.Index(f, "="); i > 0 && !strings.ContainsAny(f[:i], "/|&;") {
			continue
		}
		name := path.Base(f)
		switch name {
		case "nohup", "busybox", "toybox":
			continue
		}
		return name
	}
	return ""
}

// IsSlowTolerant reports whether the command should get extended silence
// tolerance before a stuck verdict.
func IsSlowTolerant(command string) bool {
	if slowSilentCommands[BaseCommand(command)] {
		return true
	}
	for _, f := range strings.Fields(command) {
		if slowSubcommands[f] {
			return true
		}
	}
	for _, p := range slowCommandPatterns {
		if p.MatchString(command) {
			return true
		}
	}
	return false
}

// DangerousWarning returns a non-empty warning when the command is known
// to block or go interactive by nature. The command still runs; the
// warning is surfaced to the caller alongside the result.
func DangerousWarning(command string) string {
	base := BaseCommand(command)
	reason, ok := dangerousCommands[base]
	if !ok {
		return ""
	}

	// sh -c / bash -c / su -c are batch-safe
	switch base {
	case "sh", "bash", "zsh", "su":
		if strings.Contains(command, " -c ") || strings.HasSuffix(command, " -c") {
			return ""
		}
	case "python", "python3", "node", "cat":
		// With arguments these typically run a script or file and exit
		if len(strings.Fields(command)) > 1 {
			return ""
		}
	}

	return base + " " + reason + " and will likely hang this session"
}
