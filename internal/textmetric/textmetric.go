// textmetric converts between the offset units used across taglight.
//
// Document offsets are UTF-8 byte counts, matching the server's storage.
// Selections coming from a browser or an editor count UTF-16 code units.
package textmetric

import (
	"strings"
	"unicode/utf8"

	lsp "github.com/tliron/glsp/protocol_3_16"
)

// UTF8Len returns the length of s in UTF-8 bytes.
func UTF8Len(s string) int {
	return len(s)
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Width(r)
	}
	return n
}

// RuneWidth returns the number of UTF-8 bytes used to encode a code point.
func RuneWidth(r rune) int {
	switch {
	case r <= 0x7F:
		return 1
	case r <= 0x7FF:
		return 2
	case r <= 0xFFFF:
		return 3
	default:
		return 4
	}
}

func utf16Width(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

// UTF16ToByte converts a prefix length of s counted in UTF-16 code units to
// bytes. A count falling inside a surrogate pair rounds down.
func UTF16ToByte(s string, units int) int {
	if units <= 0 {
		return 0
	}
	var count, offset int
	for _, r := range s {
		w := utf16Width(r)
		if count+w > units {
			return offset
		}
		count += w
		offset += utf8.RuneLen(r)
	}
	return len(s)
}

// ByteToUTF16 converts a prefix length of s counted in bytes to UTF-16 code
// units. A byte index inside a multi-byte sequence rounds down.
func ByteToUTF16(s string, b int) int {
	if b <= 0 {
		return 0
	}
	if b > len(s) {
		b = len(s)
	}
	var units, offset int
	for _, r := range s {
		n := utf8.RuneLen(r)
		if offset+n > b {
			break
		}
		offset += n
		units += utf16Width(r)
	}
	return units
}

// SplitIndex walks s rune by rune, consuming each rune's UTF-8 width from b
// until b reaches zero or below, and returns the byte index after the last
// consumed rune. exact is false when b did not land on a rune boundary or
// ran past the end of s; a walk that consumes all of s is clamped to the
// start of the last rune so the split never yields an empty right side.
func SplitIndex(s string, b int) (idx int, exact bool) {
	for b > 0 && idx < len(s) {
		_, size := utf8.DecodeRuneInString(s[idx:])
		b -= size
		idx += size
	}
	if idx >= len(s) && len(s) > 0 {
		_, last := utf8.DecodeLastRuneInString(s)
		return len(s) - last, false
	}
	return idx, b == 0
}

// PositionAt returns the line and UTF-16 column of byte offset b in text.
func PositionAt(text string, b int) lsp.Position {
	if b > len(text) {
		b = len(text)
	}
	if b < 0 {
		b = 0
	}
	prefix := text[:b]
	line := strings.Count(prefix, "\n")
	start := strings.LastIndexByte(prefix, '\n') + 1
	return lsp.Position{
		Line:      uint32(line),
		Character: uint32(ByteToUTF16(text[start:], b-start)),
	}
}

// OffsetAt converts an LSP position to a byte offset in text. Lines and
// columns past the end clamp.
func OffsetAt(text string, pos lsp.Position) int {
	lines := strings.SplitAfter(text, "\n")
	if int(pos.Line) >= len(lines) {
		return len(text)
	}
	offset := 0
	for i := uint32(0); i < pos.Line; i++ {
		offset += len(lines[i])
	}
	line := strings.TrimSuffix(lines[pos.Line], "\n")
	return offset + UTF16ToByte(line, int(pos.Character))
}

// RangeAt returns the LSP range covering bytes [start, end) of text.
func RangeAt(text string, start, end int) lsp.Range {
	return lsp.Range{Start: PositionAt(text, start), End: PositionAt(text, end)}
}
