package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"collab-session/backend/internal/clientstate"
)

func init() {
	loginCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the access token locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		res, err := e.api.Login(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		auth := clientstate.Auth{
			Token:    res.AccessToken,
			UserID:   res.User.ID,
			Username: res.User.Username,
			RealName: res.User.RealName,
			Role:     res.User.Role,
		}
		if res.ExpiresIn > 0 {
			auth.Expires = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second).Format(time.RFC3339)
		}
		if err := e.state.SetAuth(auth); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		fmt.Printf("Logged in as %s (%s, role=%s)\n", auth.Username, valueOrDefault(auth.RealName, "-"), auth.Role)
		fmt.Printf("State saved to %s\n", e.state.Path())
		return nil
	},
}
