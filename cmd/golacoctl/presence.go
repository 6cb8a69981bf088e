package main

import (
	"fmt"

	"github.com/matheus3301/golaco/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	typingCmd.AddCommand(typingStartCmd, typingStopCmd, typingListCmd)
	conversationCmd.AddCommand(conversationOpenCmd, conversationCloseCmd)
	rootCmd.AddCommand(onlineUsersCmd, isOnlineCmd, conversationCmd, typingCmd, routeCmd)
}

var onlineUsersCmd = &cobra.Command{
	Use:   "who",
	Short: "List users currently online",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.PresenceServiceName, "ListOnlineUsers", nil, func(out map[string]any) {
			ids, _ := out["user_ids"].([]any)
			fmt.Printf("%d online (channel %v)\n", len(ids), out["state"])
			for _, id := range ids {
				fmt.Printf("  %v\n", id)
			}
		})
	},
}

var isOnlineCmd = &cobra.Command{
	Use:   "is-online <user-id>",
	Short: "Check whether a user is online",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.PresenceServiceName, "IsUserOnline", map[string]any{"user_id": args[0]}, func(out map[string]any) {
			fmt.Println(out["online"])
		})
	},
}

var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Join or leave a conversation's typing channel",
}

var conversationOpenCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Join the typing channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.PresenceServiceName, "OpenConversation", map[string]any{"conversation_id": args[0]}, printFields)
	},
}

var conversationCloseCmd = &cobra.Command{
	Use:   "close <conversation-id>",
	Short: "Leave the typing channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.PresenceServiceName, "CloseConversation", map[string]any{"conversation_id": args[0]}, printFields)
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing",
	Short: "Typing indicator for an open conversation",
}

var typingStartCmd = &cobra.Command{
	Use:   "start <conversation-id>",
	Short: "Announce that you are typing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.PresenceServiceName, "StartTyping", map[string]any{"conversation_id": args[0]}, printFields)
	},
}

var typingStopCmd = &cobra.Command{
	Use:   "stop <conversation-id>",
	Short: "Announce that you stopped typing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.PresenceServiceName, "StopTyping", map[string]any{"conversation_id": args[0]}, printFields)
	},
}

var typingListCmd = &cobra.Command{
	Use:   "list <conversation-id>",
	Short: "Show who else is typing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.PresenceServiceName, "ListTyping", map[string]any{"conversation_id": args[0]}, func(out map[string]any) {
			users, _ := out["users"].([]any)
			if len(users) == 0 {
				fmt.Println("Nobody is typing.")
				return
			}
			for _, raw := range users {
				u, _ := raw.(map[string]any)
				fmt.Printf("%v (%v) is typing\n", u["username"], u["user_id"])
			}
		})
	},
}

var routeCmd = &cobra.Command{
	Use:   "route [path]",
	Short: "Set the route being viewed; notifications for it are suppressed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		route := ""
		if len(args) == 1 {
			route = args[0]
		}
		return call(api.PresenceServiceName, "SetRoute", map[string]any{"route": route}, printFields)
	},
}
