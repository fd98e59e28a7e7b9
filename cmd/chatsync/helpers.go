package main

import (
	"fmt"
	"os"

	chatsync "github.com/ergasialabs/chatsync"
)

// getClient creates an authenticated chat client from config and environment.
// CHATSYNC_BASE_URL and CHATSYNC_TOKEN override the config file.
func getClient() (*chatsync.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	token := cfg.Auth.Token
	if v := os.Getenv("CHATSYNC_TOKEN"); v != "" {
		token = v
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'chatsync login <username>' first.")
		os.Exit(1)
	}

	baseURL := cfg.Default.BaseURL
	if v := os.Getenv("CHATSYNC_BASE_URL"); v != "" {
		baseURL = v
	}

	var opts []chatsync.ClientOption
	if baseURL != "" {
		opts = append(opts, chatsync.WithBaseURL(baseURL))
	}

	return chatsync.NewClient(token, opts...), cfg
}

// requireUserID returns the logged-in user id or exits.
func requireUserID(cfg *Config) string {
	if cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "No user id in config. Run 'chatsync login <username>' first.")
		os.Exit(1)
	}
	return cfg.Auth.UserID
}
