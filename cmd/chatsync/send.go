package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sendReplyTo string

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Message id to reply to")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <content>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		userID := requireUserID(cfg)
		chatID, content := args[0], args[1]

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msg, err := client.SendMessage(ctx, chatID, content, userID, sendReplyTo)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}
