package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/golaco/internal/tui/model"
	"github.com/matheus3301/golaco/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar shows the session, the connectivity banner, the sync
// indicator and the pending badge.
type StatusBar struct {
	*tview.TextView
	theme *ui.Theme
	now   func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &StatusBar{TextView: tv, theme: theme, now: time.Now}
}

// Update renders s.
func (sb *StatusBar) Update(s model.Snapshot) {
	sb.Clear()
	_, _ = fmt.Fprint(sb, StatusLine(s, sb.theme, sb.now()))
}

// StatusLine formats the status bar text for s.
func StatusLine(s model.Snapshot, theme *ui.Theme, now time.Time) string {
	banner := fmt.Sprintf("[%s::b]ONLINE[-:-:-]", ui.Tag(theme.OnlineColor))
	if !s.Online {
		banner = fmt.Sprintf("[%s::b]OFFLINE[-:-:-]", ui.Tag(theme.OfflineColor))
	}
	if s.Overridden {
		banner += " (forced)"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", ui.Sanitize(s.Session), banner)
	if s.Syncing {
		line += fmt.Sprintf(" | [%s]syncing~[-]", ui.Tag(theme.SyncingColor))
	}
	if s.Pending > 0 {
		line += fmt.Sprintf(" | [%s]%d pending[-]", ui.Tag(theme.CounterColor), s.Pending)
	}
	return line + " | " + now.Format("15:04")
}
