package prompt

import "testing"

func TestBaseCommand(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"ls -la", "ls"},
		{"/system/bin/pm list packages", "pm"},
		{"FOO=bar wget http://example.com", "wget"},
		{"nohup wget http://example.com", "wget"},
		{"busybox wget http://example.com", "wget"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		if got := BaseCommand(tt.command); got != tt.want {
			t.Errorf("BaseCommand(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestIsSlowTolerant(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"wget http://example.com/rom.zip", true},
		{"pm install /data/local/tmp/app.apk", true},
		{"dd if=/dev/zero of=/data/test bs=1M count=100", true},
		{"tar czf /sdcard/backup.tar.gz /data/app", true},
		{"sleep 60", true},
		{"find / -name '*.apk'", true},
		{"logcat -d | grep ActivityManager", true}, // pipe to grep
		{"cmd package install-existing com.foo", true},
		{"git clone https://example.com/repo.git", true}, // clone verb
		{"ls -la", false},
		{"ls -s /data", false},          // block-size flag, not --silent
		{"ls -q /data", false},          // hide-control-chars flag, not --quiet
		{"cat update_notes.txt", false}, // verb inside a word does not count
		{"rm -rf /data/local/tmp/old", false},
		{"echo hello", false},
		{"getprop ro.build.version.release", false},
	}

	for _, tt := range tests {
		if got := IsSlowTolerant(tt.command); got != tt.want {
			t.Errorf("IsSlowTolerant(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestDangerousWarning(t *testing.T) {
	warned := []string{
		"vi /etc/hosts",
		"top",
		"less /var/log/syslog",
		"python",
		"cat",
		"sh",
		"su",
		"passwd",
	}
	for _, cmd := range warned {
		if got := DangerousWarning(cmd); got == "" {
			t.Errorf("DangerousWarning(%q) = empty, want warning", cmd)
		}
	}

	safe := []string{
		"ls -la",
		"sh -c 'echo hi'",
		"su -c id",
		"python script.py",
		"cat /proc/version",
		"echo hello",
	}
	for _, cmd := range safe {
		if got := DangerousWarning(cmd); got != "" {
			t.Errorf("DangerousWarning(%q) = %q, want empty", cmd, got)
		}
	}
}
