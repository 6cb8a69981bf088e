package ui

import (
	"fmt"

	"github.com/matheus3301/golaco/internal/tui/model"
	"github.com/rivo/tview"
)

// SessionInfo is the header panel with identity and channel state.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the header for s.
func (si *SessionInfo) Update(s model.Snapshot) {
	si.Clear()

	fg := Tag(si.theme.FgColor)
	val := Tag(si.theme.CounterColor)

	user := "signed out"
	if s.Authenticated {
		user = s.Username
		if user == "" {
			user = "(no username)"
		}
	}
	realtime := "disconnected"
	if s.RealtimeConnected {
		realtime = "connected"
	}
	presence := s.PresenceState
	if presence == "" {
		presence = "-"
	}
	conv := s.Conversation
	if conv == "" {
		conv = "-"
	}

	_, _ = fmt.Fprintf(si,
		"[%s::b]Session:[-:-:-]  [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]     [%s]%s[-]\n"+
			"[%s::b]Realtime:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Presence:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Focused:[-:-:-]  [%s]%s[-]",
		fg, val, Sanitize(s.Session),
		fg, val, Sanitize(user),
		fg, val, realtime,
		fg, val, presence,
		fg, val, Sanitize(conv),
	)
}
