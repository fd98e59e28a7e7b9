package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	chatsync "github.com/ergasialabs/chatsync"
	"github.com/spf13/cobra"
)

// configSetters maps dot-notation keys to their config field.
var configSetters = map[string]func(*Config, string){
	"default.base_url":  func(c *Config, v string) { c.Default.BaseURL = v },
	"auth.token":        func(c *Config, v string) { c.Auth.Token = v },
	"auth.user_id":      func(c *Config, v string) { c.Auth.UserID = v },
	"auth.display_name": func(c *Config, v string) { c.Auth.DisplayName = v },
}

func knownConfigKeys() string {
	keys := make([]string, 0, len(configSetters))
	for k := range configSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit chatsync settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Print the settings chatsync will actually use, after applying\nCHATSYNC_BASE_URL and CHATSYNC_TOKEN environment overrides. The token\nitself is never printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		baseURL, baseNote := cfg.Default.BaseURL, ""
		if v := os.Getenv("CHATSYNC_BASE_URL"); v != "" {
			baseURL, baseNote = v, "  (CHATSYNC_BASE_URL)"
		}
		if baseURL == "" {
			baseURL, baseNote = chatsync.DefaultBaseURL, "  (default)"
		}

		tokenState := "unset"
		if cfg.Auth.Token != "" {
			tokenState = "set"
		}
		if os.Getenv("CHATSYNC_TOKEN") != "" {
			tokenState = "set  (CHATSYNC_TOKEN)"
		}

		fmt.Printf("base_url:      %s%s\n", baseURL, baseNote)
		fmt.Printf("token:         %s\n", tokenState)
		fmt.Printf("user_id:       %s\n", cfg.Auth.UserID)
		fmt.Printf("display_name:  %s\n", cfg.Auth.DisplayName)

		if path, err := configPath(); err == nil {
			fmt.Printf("config file:   %s\n", path)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one setting to the config file",
	Long:  "Keys use dot notation, e.g.:\n  chatsync config set default.base_url https://chat.example.com",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		assign, ok := configSetters[key]
		if !ok {
			return fmt.Errorf("unknown key %q (known: %s)", key, knownConfigKeys())
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		assign(cfg, value)
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s\n", key)
		return nil
	},
}
