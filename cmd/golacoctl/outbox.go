package main

import (
	"fmt"
	"strings"

	"github.com/matheus3301/golaco/internal/api"
	"github.com/spf13/cobra"
)

var (
	sendMediaURL  string
	sendMediaType string
	sendReplyTo   string
	sendTempID    string
)

func init() {
	sendCmd.Flags().StringVar(&sendMediaURL, "media-url", "", "attachment URL")
	sendCmd.Flags().StringVar(&sendMediaType, "media-type", "", "attachment type (image, video, audio, file)")
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "message id being replied to")
	sendCmd.Flags().StringVar(&sendTempID, "temp-id", "", "client id for the message (generated when empty)")

	rootCmd.AddCommand(sendCmd, pendingCmd, syncCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text...]",
	Short: "Send a message, queueing it when offline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"conversation_id": args[0]}
		if text := strings.Join(args[1:], " "); text != "" {
			req["content"] = text
		}
		for key, v := range map[string]string{
			"media_url":           sendMediaURL,
			"media_type":          sendMediaType,
			"reply_to_message_id": sendReplyTo,
			"temp_id":             sendTempID,
		} {
			if v != "" {
				req[key] = v
			}
		}
		return call(api.OutboxServiceName, "SendMessage", req, func(out map[string]any) {
			if out["sent"] == true {
				fmt.Printf("Sent (%v)\n", out["temp_id"])
				return
			}
			fmt.Printf("Queued (%v), will send when back online\n", out["temp_id"])
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued messages in send order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.OutboxServiceName, "ListPending", nil, func(out map[string]any) {
			msgs, _ := out["messages"].([]any)
			if len(msgs) == 0 {
				fmt.Println("Queue is empty.")
				return
			}
			for _, raw := range msgs {
				m, _ := raw.(map[string]any)
				body, _ := m["content"].(string)
				if body == "" {
					body = fmt.Sprintf("[%v]", m["media_type"])
				}
				fmt.Printf("%-36v %-20v %s\n", m["temp_id"], m["conversation_id"], body)
			}
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the queue now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(api.OutboxServiceName, "SyncNow", nil, func(out map[string]any) {
			if out["skipped"] == true {
				fmt.Printf("Skipped: %v\n", out["skip_reason"])
				return
			}
			fmt.Printf("Synced %v, %v still pending\n", out["success_count"], out["failure_remaining"])
		})
	},
}
