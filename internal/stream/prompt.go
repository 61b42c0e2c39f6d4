package stream

import (
	"regexp"
	"strings"
)

// DefaultPrompts are the shell prompts of the two console backends the
// device firmware ships with.
var DefaultPrompts = []string{"uart:~$", "rtt:~$"}

// DefaultMarker is the line-start character the device shell prefixes to
// continuation output.
const DefaultMarker = '#'

// genericPromptRe matches anything prompt-shaped regardless of the backend
// name, e.g. "ble:~$" on a renamed shell instance. It is applied
// unconditionally, so output that merely looks like "identifier:~$rest"
// loses its prefix too. That risk is accepted: the device vocabulary never
// produces the ":~$" shape outside an actual prompt.
var genericPromptRe = regexp.MustCompile(`[A-Za-z0-9_-]+:~\$ ?`)

// PromptFilter removes shell-prompt substrings and the reserved line-start
// marker from device output, leaving only genuine content.
type PromptFilter struct {
	prompts []string
	marker  byte
}

// NewPromptFilter builds a filter over the given named prompts and reserved
// marker. Nil prompts selects DefaultPrompts; a zero marker selects
// DefaultMarker.
func NewPromptFilter(prompts []string, marker byte) *PromptFilter {
	if prompts == nil {
		prompts = DefaultPrompts
	}
	if marker == 0 {
		marker = DefaultMarker
	}
	return &PromptFilter{prompts: prompts, marker: marker}
}

// Strip removes prompt substrings and line-start markers from text that may
// span multiple lines. Lines emptied by the removal are dropped when the
// text is later split; Strip itself leaves the terminators alone so that
// completeness detection still works on the result.
func (f *PromptFilter) Strip(s string) string {
	for _, p := range f.prompts {
		s = strings.ReplaceAll(s, p+" ", "")
		s = strings.ReplaceAll(s, p, "")
	}
	s = genericPromptRe.ReplaceAllString(s, "")
	return f.stripMarkers(s)
}

// stripMarkers removes the reserved marker character when it starts a line,
// along with one following space. Markers in the middle of a line are
// content and stay.
func (f *PromptFilter) stripMarkers(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	atLineStart := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if atLineStart && c == f.marker {
			if i+1 < len(s) && s[i+1] == ' ' {
				i++
			}
			atLineStart = false
			continue
		}
		b.WriteByte(c)
		atLineStart = c == '\n' || c == '\r'
	}
	return b.String()
}

// Contains reports whether the text still carries a prompt-shaped
// substring. The classifier uses this to keep prompt fragments out of the
// log view.
func (f *PromptFilter) Contains(s string) bool {
	for _, p := range f.prompts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return genericPromptRe.MatchString(s)
}

// Marker returns the reserved line-start marker character.
func (f *PromptFilter) Marker() byte {
	return f.marker
}
