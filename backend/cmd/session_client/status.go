package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"collab-session/backend/internal/session"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local login state and the remembered notification endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		a := e.state.Auth()
		fmt.Println("Server:")
		fmt.Printf("  Base URL:    %s\n", e.cfg.Server.BaseURL)
		sticky, _ := e.state.Get(session.StickyEndpointKey)
		fmt.Printf("  Endpoint:    %s\n", valueOrDefault(sticky, "(none remembered)"))

		fmt.Println()
		fmt.Println("Auth:")
		if a.Token == "" {
			fmt.Println("  (not logged in)")
			return nil
		}
		fmt.Printf("  Username:    %s (%s)\n", a.Username, a.UserID)
		fmt.Printf("  Role:        %s\n", a.Role)
		tokenStatus := "present (no expiry set)"
		if a.Expires != "" {
			if exp, err := time.Parse(time.RFC3339, a.Expires); err == nil {
				if time.Now().Before(exp) {
					tokenStatus = fmt.Sprintf("valid (expires %s)", exp.Format(time.RFC3339))
				} else {
					tokenStatus = fmt.Sprintf("EXPIRED (expired %s)", exp.Format(time.RFC3339))
				}
			}
		}
		fmt.Printf("  Token:       %s\n", tokenStatus)
		return nil
	},
}
