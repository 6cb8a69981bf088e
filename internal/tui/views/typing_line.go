package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/golaco/internal/tui/ui"
	"github.com/rivo/tview"
)

// TypingLine shows who is typing in the focused conversation.
type TypingLine struct {
	*tview.TextView
	theme *ui.Theme
}

// NewTypingLine creates the typing indicator line.
func NewTypingLine(theme *ui.Theme) *TypingLine {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &TypingLine{TextView: tv, theme: theme}
}

// Update renders the indicator for conversation.
func (tl *TypingLine) Update(conversation string, names []string) {
	tl.Clear()
	if text := TypingText(conversation, names); text != "" {
		_, _ = fmt.Fprintf(tl, " [%s::i]%s[-:-:-]", ui.Tag(tl.theme.TypingColor), ui.Sanitize(text))
	}
}

// TypingText phrases the indicator, or returns "" when there is nothing
// to show.
func TypingText(conversation string, names []string) string {
	switch {
	case conversation == "":
		return "no conversation open (:open <id>)"
	case len(names) == 0:
		return ""
	case len(names) == 1:
		return names[0] + " is typing..."
	case len(names) == 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		return fmt.Sprintf("%s and %d others are typing...", strings.Join(names[:2], ", "), len(names)-2)
	}
}
