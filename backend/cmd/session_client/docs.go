package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"collab-session/backend/internal/collabclient"
)

func init() {
	writeCmd.Flags().StringP("file", "f", "", "read content from file ('-' for stdin)")
	writeCmd.Flags().Int64("version", -1, "expected version (default: current version read from server)")
	historyCmd.Flags().Int("page", 1, "page number")
	historyCmd.Flags().Int("page-size", 20, "items per page")
	presenceCmd.Flags().Int("cursor", -1, "cursor position")

	rootCmd.AddCommand(lockCmd, unlockCmd, writeCmd, stateCmd, contentCmd, historyCmd, presenceCmd)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Second)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

var lockCmd = &cobra.Command{
	Use:   "lock <document-id>",
	Short: "Acquire (or renew) the edit lock of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if _, err := e.requireLogin(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		grant, err := e.api.Acquire(ctx, args[0])
		if err != nil {
			return describe(e.guard(err))
		}
		fmt.Printf("Lock granted on %s, expires %s\n", args[0], formatTime(grant.ExpiresAt))
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <document-id>",
	Short: "Release the edit lock of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if _, err := e.requireLogin(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		if err := e.api.Release(ctx, args[0]); err != nil {
			return describe(e.guard(err))
		}
		fmt.Printf("Lock on %s released.\n", args[0])
		return nil
	},
}

func readContent(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	case len(args) > 1:
		return strings.Join(args[1:], " "), nil
	}
	return "", fmt.Errorf("no content given, pass text arguments or --file")
}

var writeCmd = &cobra.Command{
	Use:   "write <document-id> [text...]",
	Short: "Replace the content of a document you hold the lock for",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if _, err := e.requireLogin(); err != nil {
			return err
		}
		content, err := readContent(cmd, args)
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		version, _ := cmd.Flags().GetInt64("version")
		expected := uint64(version)
		if version < 0 {
			cur, err := e.api.Content(ctx, args[0])
			if err != nil {
				return describe(e.guard(err))
			}
			expected = cur.Version
		}
		v, err := e.api.Write(ctx, args[0], content, expected)
		if err != nil {
			return describe(e.guard(err))
		}
		fmt.Printf("Saved %s, version %d -> %d\n", args[0], expected, v)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <document-id>",
	Short: "Show lock holder and active editors of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if _, err := e.requireLogin(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		st, err := e.api.State(ctx, args[0])
		if err != nil {
			return describe(e.guard(err))
		}
		fmt.Printf("Document: %s\n", st.DocumentID)
		if st.IsLocked {
			fmt.Printf("  Locked by:  %s (expires %s)\n", st.LockedBy, formatTime(st.ExpiresAt))
		} else {
			fmt.Println("  Locked by:  (unlocked)")
		}
		fmt.Printf("  Editors:    %d\n", len(st.ActiveEditors))
		for _, ed := range st.ActiveEditors {
			t := ed.LastActiveAt
			fmt.Printf("    - %s (%s) last active %s\n", ed.UserName, ed.UserID, formatTime(&t))
		}
		return nil
	},
}

var contentCmd = &cobra.Command{
	Use:   "content <document-id>",
	Short: "Print the current content and version of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if _, err := e.requireLogin(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		doc, err := e.api.Content(ctx, args[0])
		if err != nil {
			return describe(e.guard(err))
		}
		fmt.Fprintf(os.Stderr, "version %d, last edited by %s\n", doc.Version, valueOrDefault(doc.LastEditedBy, "-"))
		fmt.Println(doc.Content)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <document-id>",
	Short: "List the edit history of a document, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if _, err := e.requireLogin(); err != nil {
			return err
		}
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("page-size")
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		h, err := e.api.History(ctx, args[0], page, size)
		if err != nil {
			return describe(e.guard(err))
		}
		fmt.Printf("%d entries total\n", h.Total)
		for _, it := range h.Items {
			t := it.CreatedAt
			fmt.Printf("  %s  %-8s %-10s v%d->v%d  %s\n", formatTime(&t), it.Action, it.EditorName, it.VersionBefore, it.VersionAfter, it.Summary)
		}
		return nil
	},
}

var presenceCmd = &cobra.Command{
	Use:   "presence <document-id>",
	Short: "Send a presence heartbeat for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if _, err := e.requireLogin(); err != nil {
			return err
		}
		var upd collabclient.PresenceUpdate
		if cursor, _ := cmd.Flags().GetInt("cursor"); cursor >= 0 {
			upd.CursorPosition = &cursor
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		if err := e.api.Presence(ctx, args[0], upd); err != nil {
			return describe(e.guard(err))
		}
		fmt.Println("ok")
		return nil
	},
}
