package stream

import "strings"

const (
	// BufferCap bounds the accumulation buffer. A device stuck in a boot
	// loop can pour megabytes of garbage down the line; past this point
	// the oldest half is sacrificed rather than growing without limit.
	BufferCap = 65536

	// overflowKeep is how much of the newest data survives an overflow.
	overflowKeep = BufferCap / 2
)

// Result is the outcome of one reconstruction cycle.
type Result struct {
	// Lines holds the complete, trimmed, non-empty lines recovered this
	// cycle. Empty unless the filtered buffer ended in a terminator.
	Lines []string

	// Incomplete is set when data is being held back waiting for a
	// terminator. The caller should (re)arm its flush deadline: the hold
	// is only safe as long as something eventually forces a flush.
	Incomplete bool

	// Raw is the sanitized view of the whole buffer before prompt
	// filtering. Signal scanning (boot banners, prompt sightings) happens
	// here, because prompts never survive into Lines and a banner can sit
	// in the buffer for a long time without a trailing terminator.
	Raw string
}

// Assembler turns arbitrarily-chopped UART chunks back into whole lines.
// It keeps the raw decoded text between cycles and re-filters the full
// buffer on every feed: escape sequences and prompts routinely split
// across read boundaries, so filtering only the new increment would shred
// them. The zero value is not usable; call NewAssembler.
type Assembler struct {
	buf    string
	filter *PromptFilter
}

// NewAssembler creates an assembler that strips prompts with the given
// filter. A nil filter selects the default prompt vocabulary.
func NewAssembler(filter *PromptFilter) *Assembler {
	if filter == nil {
		filter = NewPromptFilter(nil, 0)
	}
	return &Assembler{filter: filter}
}

// Feed appends newly decoded text and runs one reconstruction cycle.
func (a *Assembler) Feed(text string) Result {
	a.buf += text
	if len(a.buf) > BufferCap {
		a.buf = a.buf[len(a.buf)-overflowKeep:]
	}

	raw := normalize(Sanitize(a.buf))
	filtered := a.filter.Strip(raw)

	if filtered == "" {
		// Nothing but noise so far. Holding it costs re-filtering the
		// same bytes next cycle, which is exactly what recovers escape
		// sequences split across reads.
		if a.buf == "" {
			return Result{Raw: raw}
		}
		return Result{Incomplete: true, Raw: raw}
	}

	if !strings.HasSuffix(filtered, "\n") {
		// Mid-line. Wait for the terminator; the flush deadline catches
		// the case where it never comes.
		return Result{Incomplete: true, Raw: raw}
	}

	a.buf = ""
	return Result{Lines: splitLines(filtered), Raw: raw}
}

// Flush forces reconstruction of whatever is buffered, terminator or not.
// Called when the flush deadline fires: the device went quiet mid-line and
// the data must not be withheld any longer.
func (a *Assembler) Flush() []string {
	if a.buf == "" {
		return nil
	}
	filtered := a.filter.Strip(normalize(Sanitize(a.buf)))
	a.buf = ""
	return splitLines(filtered)
}

// Reset discards all buffered data. Used on disconnect.
func (a *Assembler) Reset() {
	a.buf = ""
}

// Len returns the current buffer length in bytes.
func (a *Assembler) Len() int {
	return len(a.buf)
}

// normalize folds CRLF and bare CR down to LF.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// splitLines splits on LF, trims each line, and drops the empties (which
// include lines the prompt filter emptied out).
func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
