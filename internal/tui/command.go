package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Controller is what prompt commands act on.
type Controller interface {
	OpenConversation(ctx context.Context, id string) error
	CloseConversation(ctx context.Context) error
	SetOnline(ctx context.Context, mode string) error
	SyncNow(ctx context.Context) error
}

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Execute runs cmd against c.
func Execute(ctx context.Context, c Controller, cmd Command) error {
	switch cmd.Name {
	case "open", "o":
		if cmd.Args == "" {
			return fmt.Errorf("usage: open <conversation-id>")
		}
		return c.OpenConversation(ctx, cmd.Args)
	case "close":
		return c.CloseConversation(ctx)
	case "online":
		return c.SetOnline(ctx, strings.ToLower(cmd.Args))
	case "sync":
		return c.SyncNow(ctx)
	case "quit", "q":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q", cmd.Name)
	}
}
