package ui

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// Sanitize makes user-supplied text safe to print inside a dynamic-color
// view. It strips emoji modifiers tcell renders at the wrong width and
// escapes tview color tags.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isModifier(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return tview.Escape(b.String())
}

func isModifier(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
