package eventlog

import "strings"

// Sanitize strips characters that are illegal in XML 1.0 from event
// payloads before they reach the decoder. Get-WinEvent output routinely
// embeds NULs and other control bytes inside message data, and the
// decoder rejects the whole fragment when it sees them.
//
// Removed: U+0000-U+0008, U+000B, U+000C, U+000E-U+001F, U+007F-U+009F,
// and any remaining code point outside the XML 1.0 character range.
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(s string) string {
	return strings.Map(dropIllegal, s)
}

func dropIllegal(r rune) rune {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return r
	case r < 0x20:
		return -1
	case r >= 0x7F && r <= 0x9F:
		return -1
	case r <= 0xD7FF:
		return r
	case r >= 0xE000 && r <= 0xFFFD:
		return r
	case r >= 0x10000 && r <= 0x10FFFF:
		return r
	default:
		return -1
	}
}
