package classify

import "testing"

func TestPrimary(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"severity_tag", "[12:01:02] <inf> link up", Log},
		{"severity_tag_mid_line", "boot step 3 <err> flash init failed", Log},
		{"bracketed_timestamp_without_tag", "[00:00:01.123] payload 42 queued", Log},
		{"full_logger_timestamp", "[00:00:01.123,456] main: started", Log},
		{"torn_timestamp_fragment", "[12:01:0", Log},
		{"bare_open_bracket", "[", Log},
		{"mostly_fragment_chars", "w>: f", Log},
		{"torn_tag_tail", "nf>", Log},
		{"single_char", "x", Log},
		{"w_prefix", "w 12 bytes", Log},
		{"d_prefix", "d 0x44 0x2f", Log},
		{"colon_prefix", ": ready", Log},
		{"prompt_mid_line", "see uart:~$ for shell", Command},
		{"generic_prompt", "ble_shell:~$ scan", Command},
		{"two_char_noise", "ok", Log},
		{"help_is_command", "help", Command},
		{"flushed_partial_command", "stat", Command},
		{"response_heading", "Available commands:", Command},
		{"plain_response", "Device uptime: 42 seconds", Command},
	}

	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Primary(tt.line); got != tt.want {
				t.Errorf("Primary(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
