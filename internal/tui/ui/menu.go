package ui

import (
	"fmt"

	"github.com/matheus3301/golaco/internal/tui/keys"
	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints on one line.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignRight)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 0, 1)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders hints in registration order.
func (m *Menu) Update(hints []keys.Hint) {
	m.Clear()
	keyColor := Tag(m.theme.MenuKeyColor)
	for _, h := range hints {
		_, _ = fmt.Fprintf(m, " [%s::b]<%s>[-:-:-] %s", keyColor, h.Key, h.Description)
	}
}
