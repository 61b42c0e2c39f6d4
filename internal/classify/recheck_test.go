package classify

import "testing"

func TestRecheck(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"connectivity_keyword", "established to gw-7, link stable", Log},
		{"keyword_case_insensitive", "Radio calibration done", Log},
		{"timing_keyword", "resync after clock drift", Log},
		{"loose_clock_shape", "12:01:02 mark set", Log},
		{"open_bracket_timestamp", "[00:00:01.12 frame start", Log},
		{"short_without_help", "stat", Log},
		{"short_with_help", "help", Command},
		{"login_failure_response", "not logged in", Command},
		{"probe_response", "already authenticated", Command},
		{"long_response", "Available commands listed below", Command},
	}

	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Recheck(tt.line); got != tt.want {
				t.Errorf("Recheck(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

// The two passes compose: a log line whose tag was torn off mid-tag
// passes the primary rules as Command and is caught by the recheck.
func TestRecheckCatchesTornTagLines(t *testing.T) {
	c := New(nil)
	line := "rssi -42 snr 9.5 window ok"

	if got := c.Primary(line); got != Command {
		t.Fatalf("Primary(%q) = %v, want Command", line, got)
	}
	if got := c.Recheck(line); got != Log {
		t.Errorf("Recheck(%q) = %v, want Log", line, got)
	}
}

func TestClassifierDeterminism(t *testing.T) {
	c := New(nil)
	lines := []string{
		"[12:01:02] <inf> link up",
		"help",
		"stat",
		"nf>",
		"",
		"uart:~$",
		"w 12 bytes",
	}
	for _, line := range lines {
		first := c.Primary(line)
		for i := 0; i < 3; i++ {
			if got := c.Primary(line); got != first {
				t.Fatalf("Primary(%q) unstable: %v then %v", line, first, got)
			}
		}
	}
}
