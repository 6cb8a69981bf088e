package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/golaco/internal/tui/model"
	"github.com/matheus3301/golaco/internal/tui/ui"
)

func TestStatusLine(t *testing.T) {
	theme := ui.DefaultTheme()
	now := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

	online := StatusLine(model.Snapshot{Session: "main", Online: true}, theme, now)
	for _, want := range []string{"main", "ONLINE", "09:30"} {
		if !strings.Contains(online, want) {
			t.Errorf("online line %q missing %q", online, want)
		}
	}
	if strings.Contains(online, "pending") || strings.Contains(online, "syncing") {
		t.Errorf("idle line shows activity: %q", online)
	}

	busy := StatusLine(model.Snapshot{Session: "main", Overridden: true, Syncing: true, Pending: 4}, theme, now)
	for _, want := range []string{"OFFLINE", "(forced)", "syncing", "4 pending"} {
		if !strings.Contains(busy, want) {
			t.Errorf("busy line %q missing %q", busy, want)
		}
	}
}

func TestTypingText(t *testing.T) {
	tests := []struct {
		conv  string
		names []string
		want  string
	}{
		{"", nil, "no conversation open (:open <id>)"},
		{"c1", nil, ""},
		{"c1", []string{"ana"}, "ana is typing..."},
		{"c1", []string{"ana", "bia"}, "ana and bia are typing..."},
		{"c1", []string{"ana", "bia", "caio", "duda"}, "ana, bia and 2 others are typing..."},
	}
	for _, tt := range tests {
		if got := TypingText(tt.conv, tt.names); got != tt.want {
			t.Errorf("TypingText(%q, %v) = %q, want %q", tt.conv, tt.names, got, tt.want)
		}
	}
}
