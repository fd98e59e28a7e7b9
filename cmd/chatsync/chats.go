package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chatsync "github.com/ergasialabs/chatsync"
	"github.com/spf13/cobra"
)

var (
	chatsJSONOutput bool

	messagesLimit      int
	messagesJSONOutput bool
)

func init() {
	chatsCmd.Flags().BoolVar(&chatsJSONOutput, "json", false, "Output raw JSON")
	rootCmd.AddCommand(chatsCmd)

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 30, "Maximum messages to fetch")
	messagesCmd.Flags().BoolVar(&messagesJSONOutput, "json", false, "Output raw JSON")
	rootCmd.AddCommand(messagesCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		userID := requireUserID(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chats, err := client.GetChats(ctx, userID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatsJSONOutput {
			data, err := json.MarshalIndent(chats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(chats) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		for _, c := range chats {
			marker := " "
			if c.UnreadCount > 0 {
				marker = "*"
			}
			preview := ""
			if c.LastMessage != nil {
				preview = c.LastMessage.Content
				if len(preview) > 50 {
					preview = preview[:47] + "..."
				}
			}
			fmt.Printf("%s %-24s %-20s (%d unread)  %s\n",
				marker, c.ID, c.DisplayName(userID), c.UnreadCount, preview)
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show recent messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		userID := requireUserID(cfg)
		chatID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := client.GetMessages(ctx, chatID, userID, &chatsync.HistoryOptions{Limit: messagesLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if messagesJSONOutput {
			data, err := json.MarshalIndent(msgs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for _, m := range msgs {
			printMessage(userID, m)
		}
		return nil
	},
}

func printMessage(viewerID string, m chatsync.Message) {
	author := m.AuthorID
	if m.AuthorID == viewerID {
		author = "you"
	}
	content := m.Content
	if m.Deleted {
		content = "(deleted)"
	} else if m.Edited {
		content += " (edited)"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), author, content)
}
