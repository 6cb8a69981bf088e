package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/golaco/internal/api"
	"github.com/matheus3301/golaco/internal/lock"
	"github.com/matheus3301/golaco/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, loginCmd, logoutCmd, onlineCmd, watchCmd, sessionsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, connectivity and sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			st, err := c.Call(ctx, api.SessionServiceName, "GetStatus", nil)
			if err != nil {
				return err
			}
			syncSt, err := c.Call(ctx, api.OutboxServiceName, "GetSyncStatus", nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(map[string]any{"session": st, "sync": syncSt})
				return nil
			}
			network := "offline"
			if st["online"] == true {
				network = "online"
			}
			if st["online_overridden"] == true {
				network += " (manual)"
			}
			fmt.Printf("Session:  %v\n", st["session"])
			fmt.Printf("Network:  %s\n", network)
			fmt.Printf("Realtime: %v\n", st["realtime_connected"])
			if st["authenticated"] == true {
				fmt.Printf("User:     %v\n", st["user_id"])
			} else {
				fmt.Println("User:     (signed out)")
			}
			fmt.Printf("Pending:  %v\n", syncSt["pending_count"])
			fmt.Printf("Syncing:  %v\n", syncSt["syncing"])
			fmt.Printf("Uptime:   %vms\n", st["uptime_ms"])
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <access-token>",
	Short: "Hand an access token to the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.SessionServiceName, "SetSession", map[string]any{"access_token": args[0]}, func(out map[string]any) {
			fmt.Printf("Signed in as %v\n", out["user_id"])
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign the daemon out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.SessionServiceName, "SetSession", map[string]any{"access_token": ""}, func(map[string]any) {
			fmt.Println("Signed out")
		})
	},
}

var onlineCmd = &cobra.Command{
	Use:       "online <on|off|auto>",
	Short:     "Force connectivity on or off, or return control to the prober",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "auto"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var req map[string]any
		switch strings.ToLower(args[0]) {
		case "on":
			req = map[string]any{"online": true}
		case "off":
			req = map[string]any{"online": false}
		case "auto":
			req = map[string]any{"clear": true}
		default:
			return fmt.Errorf("unknown mode %q: want on, off or auto", args[0])
		}
		return call(api.SessionServiceName, "SetOnline", req, printFields)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [prefix]",
	Short: "Stream daemon events, optionally filtered by kind prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		name, err := session.ResolveValid(sessionFlag)
		if err != nil {
			return err
		}
		c, err := api.Dial(session.SocketPath(name))
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		return c.Watch(cmd.Context(), prefix, func(evt map[string]any) {
			if jsonOutput {
				outputJSON(evt)
				return
			}
			fmt.Printf("%v %v\n", evt["kind"], evt["payload"])
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(names)
			return nil
		}
		if len(names) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, n := range names {
			running := "stopped"
			if pid, held := lock.Held(session.Dir(n)); held {
				running = fmt.Sprintf("running, pid %d", pid)
			}
			fmt.Printf("%-20s %s (%s)\n", n, session.Dir(n), running)
		}
		return nil
	},
}
