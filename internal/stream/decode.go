package stream

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Decode converts a raw chunk read from the device into text. Zephyr consoles
// normally emit plain ASCII, but a reboot mid-byte or line noise can hand us
// arbitrary garbage, and some vendor bootloaders print CP-1252 box characters.
// Valid UTF-8 passes through untouched; anything else is decoded as
// Windows-1252, which covers Latin-1 too (the bytes where the two differ are
// C1 controls in Latin-1, and those get dropped by the sanitizer anyway).
func Decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		// Single-byte decoders substitute rather than fail; this is a
		// safety net for a truncated internal state, not a real path.
		return string(data)
	}
	return string(decoded)
}
