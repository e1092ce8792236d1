package textmetric_test

import (
	"testing"

	"github.com/remram44/taguette/internal/textmetric"

	lsp "github.com/tliron/glsp/protocol_3_16"
)

func TestLengths(t *testing.T) {
	tests := []struct {
		in    string
		utf8  int
		utf16 int
	}{
		{"", 0, 0},
		{"abc", 3, 3},
		{"aé", 3, 2},
		{"日本", 6, 2},
		{"a😀b", 6, 4},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := textmetric.UTF8Len(tt.in); got != tt.utf8 {
				t.Errorf("UTF8Len(%q) = %d, want %d", tt.in, got, tt.utf8)
			}
			if got := textmetric.UTF16Len(tt.in); got != tt.utf16 {
				t.Errorf("UTF16Len(%q) = %d, want %d", tt.in, got, tt.utf16)
			}
		})
	}
}

func TestRuneWidth(t *testing.T) {
	tests := map[rune]int{'a': 1, 'é': 2, '日': 3, '😀': 4, 0x7F: 1, 0x7FF: 2, 0xFFFF: 3}
	for r, want := range tests {
		if got := textmetric.RuneWidth(r); got != want {
			t.Errorf("RuneWidth(%U) = %d, want %d", r, got, want)
		}
	}
}

func TestUnitConversions(t *testing.T) {
	s := "aé😀z"
	tests := []struct {
		units int
		bytes int
	}{
		{0, 0},
		{1, 1},
		{2, 3},
		{3, 3}, // inside the surrogate pair
		{4, 7},
		{5, 8},
		{99, 8},
	}
	for _, tt := range tests {
		if got := textmetric.UTF16ToByte(s, tt.units); got != tt.bytes {
			t.Errorf("UTF16ToByte(%d) = %d, want %d", tt.units, got, tt.bytes)
		}
	}

	back := []struct {
		bytes int
		units int
	}{
		{0, 0},
		{1, 1},
		{2, 1}, // inside é
		{3, 2},
		{7, 4},
		{8, 5},
		{42, 5},
	}
	for _, tt := range back {
		if got := textmetric.ByteToUTF16(s, tt.bytes); got != tt.units {
			t.Errorf("ByteToUTF16(%d) = %d, want %d", tt.bytes, got, tt.units)
		}
	}
}

func TestSplitIndex(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		b     int
		idx   int
		exact bool
	}{
		{"ascii", "hello", 2, 2, true},
		{"after two-byte rune", "aéb", 3, 3, true},
		{"inside two-byte rune", "aéb", 2, 3, false},
		{"cjk", "日本語", 6, 6, true},
		{"overrun clamps to last rune", "aé", 3, 1, false},
		{"past end clamps", "abc", 10, 2, false},
		{"zero", "abc", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, exact := textmetric.SplitIndex(tt.s, tt.b)
			if idx != tt.idx || exact != tt.exact {
				t.Errorf("SplitIndex(%q, %d) = (%d, %v), want (%d, %v)",
					tt.s, tt.b, idx, exact, tt.idx, tt.exact)
			}
		})
	}
}

func TestPositions(t *testing.T) {
	text := "first\nsé😀nd\nthird"
	tests := []struct {
		offset int
		pos    lsp.Position
	}{
		{0, lsp.Position{Line: 0, Character: 0}},
		{5, lsp.Position{Line: 0, Character: 5}},
		{6, lsp.Position{Line: 1, Character: 0}},
		{9, lsp.Position{Line: 1, Character: 2}},
		{13, lsp.Position{Line: 1, Character: 4}},
		{16, lsp.Position{Line: 2, Character: 0}},
	}
	for _, tt := range tests {
		got := textmetric.PositionAt(text, tt.offset)
		if got != tt.pos {
			t.Errorf("PositionAt(%d) = %+v, want %+v", tt.offset, got, tt.pos)
		}
		if back := textmetric.OffsetAt(text, tt.pos); back != tt.offset {
			t.Errorf("OffsetAt(%+v) = %d, want %d", tt.pos, back, tt.offset)
		}
	}

	if got := textmetric.OffsetAt(text, lsp.Position{Line: 7}); got != len(text) {
		t.Errorf("OffsetAt past last line = %d, want %d", got, len(text))
	}
	if got := textmetric.OffsetAt(text, lsp.Position{Line: 0, Character: 100}); got != 5 {
		t.Errorf("OffsetAt past line end = %d, want 5", got)
	}
}
