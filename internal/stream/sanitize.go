package stream

import (
	"regexp"
	"strings"
)

// The device colorizes log levels and redraws its prompt with cursor moves,
// so the byte stream is littered with escape sequences. Worse, the UART
// chops sequences across reads and the accumulation buffer can truncate at
// any byte, which leaves orphaned fragments like "[8D[J" or "[1;33m" whose
// introducing ESC is long gone. The patterns below handle both shapes.
var (
	// Well-formed CSI sequences: ESC [ params letter.
	escSeqRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	// Orphaned cursor-movement pairs, e.g. "[8D[J" after the ESC was lost.
	tornPairRe = regexp.MustCompile(`\[[0-9]*[A-Z]\[[0-9]*[A-Z]`)
	// Orphaned color/style codes, e.g. "[1;33m", "[0m".
	tornColorRe = regexp.MustCompile(`\[[0-9;]*m`)
	// Orphaned single cursor moves, e.g. "[3A".
	tornCursorRe = regexp.MustCompile(`\[[0-9]*[ABCD]`)
)

// Sanitize strips terminal escape sequences and non-printable bytes,
// keeping only LF, CR and printable ASCII. It is idempotent: running it
// over already-clean text changes nothing, so callers are free to sanitize
// the whole accumulation buffer on every cycle.
func Sanitize(s string) string {
	s = escSeqRe.ReplaceAllString(s, "")
	s = stripTornSequences(s)
	s = keepPrintable(s)

	// Removing one fragment can butt two halves of another together:
	// dropping "[5A" out of "[1;3[5A3m" exposes "[1;33m", and dropping a
	// control byte out of "[8\x07D" exposes "[8D". The orphan passes
	// repeat until the text stops changing. Each pass only shrinks the
	// string, so this terminates.
	for {
		next := stripTornSequences(s)
		if next == s {
			return s
		}
		s = next
	}
}

func stripTornSequences(s string) string {
	s = tornPairRe.ReplaceAllString(s, "")
	s = tornColorRe.ReplaceAllString(s, "")
	return tornCursorRe.ReplaceAllString(s, "")
}

// keepPrintable drops every byte outside LF, CR and ASCII 32..126.
// The device is an ASCII console; anything else is noise or a partial
// multi-byte rune cut off by buffer truncation.
func keepPrintable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || (r >= 32 && r < 127) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
