package ui

import (
	"fmt"

	"github.com/matheus3301/golaco/internal/tui/model"
	"github.com/rivo/tview"
)

// FlashBar shows toasts, notifications and command errors.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates a new flash notification bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &FlashBar{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders msg, clearing the bar when it is nil.
func (fb *FlashBar) Update(msg *model.FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}

	color := Tag(fb.theme.FlashInfoColor)
	switch msg.Level {
	case model.FlashWarn:
		color = Tag(fb.theme.FlashWarnColor)
	case model.FlashErr:
		color = Tag(fb.theme.FlashErrColor)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", color, Sanitize(msg.Text))
}
