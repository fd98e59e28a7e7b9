package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	chatsync "github.com/ergasialabs/chatsync"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginPassword string

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted if omitted)")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		password := loginPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("cannot read password: %w", err)
			}
			password = string(raw)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		var opts []chatsync.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, chatsync.WithBaseURL(cfg.Default.BaseURL))
		}
		client := chatsync.NewClient("", opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		auth, err := client.Login(ctx, username, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = auth.Token
		cfg.Auth.UserID = auth.UserID
		cfg.Auth.DisplayName = auth.DisplayName
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s (%s)\n", auth.DisplayName, auth.UserID)
		return nil
	},
}
