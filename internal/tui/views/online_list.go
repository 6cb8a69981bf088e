package views

import (
	"fmt"

	"github.com/matheus3301/golaco/internal/tui/ui"
	"github.com/rivo/tview"
)

// OnlineList is the panel of users currently present.
type OnlineList struct {
	*tview.TextView
	theme *ui.Theme
}

// NewOnlineList creates the online-users panel.
func NewOnlineList(theme *ui.Theme) *OnlineList {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTitleColor(theme.TitleColor)

	ol := &OnlineList{TextView: tv, theme: theme}
	ol.Update(nil)
	return ol
}

// Update renders users, already sorted.
func (ol *OnlineList) Update(users []string) {
	ol.Clear()
	ol.SetTitle(fmt.Sprintf(" Online [%s](%d)[-] ", ui.Tag(ol.theme.CounterColor), len(users)))
	if len(users) == 0 {
		_, _ = fmt.Fprintf(ol, "[%s]nobody online[-]", ui.Tag(ol.theme.TypingColor))
		return
	}
	dot := ui.Tag(ol.theme.OnlineColor)
	for _, u := range users {
		_, _ = fmt.Fprintf(ol, "[%s]●[-] %s\n", dot, ui.Sanitize(u))
	}
}
