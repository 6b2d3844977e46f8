package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"collab-session/backend/internal/collabclient"
)

func init() {
	rootCmd.AddCommand(logoutCmd)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Release every lock you hold and forget the local token",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if e.state.Auth().Token == "" {
			fmt.Println("Not logged in.")
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		n, err := e.api.ReleaseAll(ctx)
		if err != nil && !errors.Is(err, collabclient.ErrUnauthorized) {
			return fmt.Errorf("release locks: %w", err)
		}
		if err := e.state.ClearAuth(); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		fmt.Printf("Logged out, released %d lock(s).\n", n)
		return nil
	},
}
