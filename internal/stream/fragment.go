package stream

import (
	"regexp"
	"strings"
)

const (
	// MaxLineLen is the point past which a line is assumed to be several
	// device messages glued together. Real log lines stay well under it.
	MaxLineLen = 120

	// noiseLen and below is dropped outright; two characters of torn
	// message are unrecoverable.
	noiseLen = 2

	// directEmitLen and above looks like a message on its own.
	directEmitLen = 10

	// coalesceTarget is how long a run of glued short pieces must get
	// before it is emitted as one line.
	coalesceTarget = 20

	// remainderMin is the shortest leftover worth keeping at the end.
	remainderMin = 5
)

// Fragmenter splits anomalously long lines back into their constituent
// messages. Concatenation happens when the device floods the UART and
// terminators get lost in the noise; the joints are usually visible as
// runs of whitespace, pipes, back-to-back brackets, or the shell's
// line-start marker.
type Fragmenter struct {
	splitRe *regexp.Regexp
}

// NewFragmenter builds a fragmenter that also splits on the given reserved
// marker character.
func NewFragmenter(marker byte) *Fragmenter {
	if marker == 0 {
		marker = DefaultMarker
	}
	return &Fragmenter{
		splitRe: regexp.MustCompile(`\s{2,}|\||\x00|` + regexp.QuoteMeta(string(marker))),
	}
}

// Split returns the line unchanged when it is of ordinary length, and the
// recovered pieces otherwise. Pieces of one or two characters are noise
// and never emitted; pieces that carry a bracket tag or decent length go
// out directly; the rest are glued together until long enough to stand on
// their own.
func (f *Fragmenter) Split(line string) []string {
	if len(line) <= MaxLineLen {
		return []string{line}
	}

	// Make the joints between adjacent bracketed fields splittable:
	// "...678][00:..." and "<err><inf>" both hide a message boundary.
	// NUL can't occur in sanitized text, so it is a safe seam marker.
	marked := strings.ReplaceAll(line, "][", "]\x00[")
	marked = strings.ReplaceAll(marked, "><", ">\x00<")

	var out []string
	var pending string
	for _, piece := range f.splitRe.Split(marked, -1) {
		piece = strings.TrimSpace(piece)
		if len(piece) <= noiseLen {
			continue
		}
		if len(piece) > directEmitLen || (len(piece) >= remainderMin && strings.ContainsAny(piece, "[]<>")) {
			out = append(out, piece)
			continue
		}
		if pending == "" {
			pending = piece
		} else {
			pending += " " + piece
		}
		if len(pending) >= coalesceTarget {
			out = append(out, pending)
			pending = ""
		}
	}
	if len(pending) >= remainderMin {
		out = append(out, pending)
	}
	return out
}
