// Package classify decides, line by line, whether device output belongs
// to the background log stream or is the response to something we sent.
// There is no framing on the wire to tell these apart; everything here
// is heuristic, ordered so the cheap certain checks fire before the
// fuzzy ones, and every line gets an answer.
package classify

import (
	"regexp"
	"strings"

	"uartlink/internal/stream"
)

// Kind is the destination stream for a classified line.
type Kind uint8

const (
	Log Kind = iota
	Command
)

func (k Kind) String() string {
	if k == Command {
		return "command"
	}
	return "log"
}

// DefaultTags are the severity tags the device's logger puts on every
// line it emits. A line carrying one is a log with certainty.
var DefaultTags = []string{"<inf>", "<wrn>", "<dbg>", "<err>"}

var (
	// A timestamp the device logger prints, e.g. "[00:00:01.123,456]".
	timestampRe = regexp.MustCompile(`\[[0-9][0-9.,:]*\]`)

	// The front of such a timestamp with the rest torn off: "[00:00:01.1".
	tornTimestampRe = regexp.MustCompile(`^\[[0-9.,:]*$`)
)

// logPrefixes are the openings left behind when a severity tag is
// chopped mid-tag: "<wrn> radio ..." arriving as "w radio ..." and so
// on. Short and ugly, but they recur constantly in flood conditions.
var logPrefixes = []string{"w ", "d ", ": "}

// Classifier holds the prompt vocabulary shared with the filtering
// stage. Prompts are stripped before classification, but one can still
// surface mid-line or in a force-flushed partial, and those must land
// in the command stream, never the log.
type Classifier struct {
	tags    []string
	prompts *stream.PromptFilter
}

// New builds a classifier over the given prompt vocabulary. A nil
// filter selects the default vocabulary.
func New(prompts *stream.PromptFilter) *Classifier {
	if prompts == nil {
		prompts = stream.NewPromptFilter(nil, 0)
	}
	return &Classifier{tags: DefaultTags, prompts: prompts}
}

// Primary assigns a trimmed line to Log or Command. First matching rule
// wins; a line that survives every log heuristic is a command response.
//
// The short-input rules all lean toward Log. A one- or two-character
// scrap is overwhelmingly a torn log fragment, not a response: real
// responses ("help", "Available commands:") clear the length rules
// before reaching the fallback.
func (c *Classifier) Primary(line string) Kind {
	for _, tag := range c.tags {
		if strings.Contains(line, tag) {
			return Log
		}
	}
	if timestampRe.MatchString(line) {
		return Log
	}
	if tornTimestampRe.MatchString(line) {
		return Log
	}
	if len(line) <= 5 && c.mostlyFragmentChars(line) {
		return Log
	}
	if len(line) == 1 {
		return Log
	}
	for _, p := range logPrefixes {
		if strings.HasPrefix(line, p) {
			return Log
		}
	}
	if c.prompts.Contains(line) {
		return Command
	}
	if len(line) <= 2 {
		return Log
	}
	return Command
}

// mostlyFragmentChars reports whether over half the bytes of a short
// line come from the characters torn severity tags decay into. "nf>"
// is the tail of "<inf>"; "w" the front of "<wrn>"; the marker shows
// up when a marked line is torn right after it.
func (c *Classifier) mostlyFragmentChars(line string) bool {
	frag := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case 'w', 'd', ':', 'n', 'f', '>', ' ', c.prompts.Marker():
			frag++
		}
	}
	return frag*2 > len(line)
}
