package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chatsync "github.com/ergasialabs/chatsync"
	"github.com/spf13/cobra"
)

var watchNoCache bool

func init() {
	watchCmd.Flags().BoolVar(&watchNoCache, "no-cache", false, "Skip the local message cache")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Watch a conversation live",
	Long:  "Open a conversation and print messages, edits, and presence changes as they arrive.\nPress Ctrl-C to stop.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		userID := requireUserID(cfg)
		chatID := args[0]

		store, err := openCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cache unavailable: %v\n", err)
			store = chatsync.NewMemoryStore()
		}
		defer store.Close()

		// Render the cached tail immediately; the live history replaces it.
		if cached, err := store.Messages(chatID, 10, time.Time{}); err == nil && len(cached) > 0 {
			fmt.Println("--- cached ---")
			for _, m := range cached {
				printMessage(userID, m)
			}
			fmt.Println("--- live ---")
		}

		conn := client.NewConn(&chatsync.RealtimeConfig{
			UserID:        userID,
			AutoReconnect: true,
		})
		session := chatsync.NewSession(client, conn, &chatsync.SessionConfig{UserID: userID})
		defer session.Stop()

		session.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		})

		seen := make(map[string]bool)
		session.OnChange(func(st chatsync.State) {
			for _, m := range st.Messages {
				if m.Optimistic() || seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				printMessage(userID, m)
			}
			_ = store.PutMessages(st.Messages)
			_ = store.PutChats(st.Chats)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = session.Start(ctx)
		if err == nil {
			err = session.SelectChat(ctx, chatID)
		}
		cancel()
		if err != nil {
			return err
		}

		// Seed the presence display; live updates take over from here.
		pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if records, err := client.GetPresence(pctx, chatID); err == nil {
			for _, p := range records {
				if p.UserID != userID && p.Online {
					fmt.Printf("* %s is online\n", p.UserID)
				}
			}
		}
		pcancel()

		presence := chatsync.NewPresenceTracker(client, conn, &chatsync.PresenceConfig{
			OnError: func(err error) { fmt.Fprintf(os.Stderr, "! %v\n", err) },
		})
		presence.Start(userID)
		defer presence.Stop()

		if off, err := presence.Subscribe(chatID, func(info chatsync.PresenceInfo) {
			state := "offline"
			if info.Online {
				state = "online"
			}
			fmt.Printf("* %s is %s\n", info.UserID, state)
		}); err == nil {
			defer off()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nStopping...")
		return nil
	},
}

func openCache() (chatsync.Store, error) {
	if watchNoCache {
		return chatsync.NewMemoryStore(), nil
	}
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return chatsync.OpenSQLiteStore(filepath.Join(dir, "cache.db"))
}
