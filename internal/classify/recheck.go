package classify

import (
	"regexp"
	"strings"
)

// DefaultKeywords is the device's connectivity and timing vocabulary.
// A line using these words is almost always the logger talking about
// the link, even when the severity tag that would prove it got torn
// off in transit.
var DefaultKeywords = []string{
	"connect", "link", "radio", "rssi", "snr", "packet",
	"sync", "clock", "timer", "timeout", "beacon", "channel",
	"join", "scan",
}

var (
	// A wall-clock shape without brackets, e.g. "12:01:02".
	looseClockRe = regexp.MustCompile(`\b[0-9]{1,2}:[0-9]{2}:[0-9]{2}\b`)

	// A log timestamp that lost its closing bracket: "[00:00:01.12".
	openTimestampRe = regexp.MustCompile(`\[[0-9]+[.,:][0-9]`)
)

// Recheck re-examines a line the primary pass tagged Command. During a
// login exchange the only lines that genuinely belong in the command
// stream are the handful of shell responses; everything else arriving
// then is log traffic whose tag was lost to fragmentation. Returns Log
// when the line smells like such a casualty, Command when it holds up.
//
// "help" is exempt from the short-line demotion so that echoing the
// most common probe command never vanishes into the log pane.
func (c *Classifier) Recheck(line string) Kind {
	lower := strings.ToLower(line)
	for _, kw := range DefaultKeywords {
		if strings.Contains(lower, kw) {
			return Log
		}
	}
	if timestampRe.MatchString(line) || looseClockRe.MatchString(line) || openTimestampRe.MatchString(line) {
		return Log
	}
	if len(line) < 10 && !strings.Contains(lower, "help") {
		return Log
	}
	return Command
}
