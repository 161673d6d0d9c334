package main

import (
	"context"
	"fmt"
	"os"
	"time"

	souqly "github.com/souqly-app/souqly-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and fetch live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL: %s\n", cfg.Default.BaseURL)
		} else {
			fmt.Printf("  Base URL: %s (default)\n", souqly.DefaultBaseURL)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username: %s\n", cfg.Auth.Username)
			fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Username: (not logged in)")
		}
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:    %s\n", maskToken(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:    (not set)")
		}

		if cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		client := getClient(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		if !result.OK {
			if result.Error != nil {
				fmt.Printf("  API error: %s\n", result.Error)
			} else {
				fmt.Println("  API returned an error (no details)")
			}
			return nil
		}

		var me souqly.User
		if err := result.Decode(&me); err != nil {
			fmt.Printf("  Error decoding response: %v\n", err)
			return nil
		}

		fmt.Printf("  Username:     %s\n", me.Username)
		fmt.Printf("  Display Name: %s\n", me.DisplayName)

		balance, err := client.Wallet.Balance(ctx)
		if err == nil && balance.OK {
			var w souqly.WalletBalance
			if balance.Decode(&w) == nil {
				fmt.Printf("  Balance:      %.2f %s\n", w.Balance, w.Currency)
			}
		}

		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return token[:2] + "..."
	}
	return token[:8] + "..." + token[len(token)-4:]
}

// getClient creates a Souqly client from the stored config.
func getClient(cfg *Config) *souqly.Client {
	var opts []souqly.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, souqly.WithBaseURL(cfg.Default.BaseURL))
	}
	return souqly.NewClient(cfg.Auth.Token, opts...)
}

// requireAuth loads the config and exits if no token is stored.
func requireAuth() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No auth token. Run 'souqly init <token>' first.")
		os.Exit(1)
	}
	return cfg
}
