package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"collab-session/backend/internal/notify"
	"collab-session/backend/internal/session"
)

func init() {
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Open the notification channel and print incoming notifications",
	Long:  "Connect to the notification endpoint (sticky address first), keep it alive with heartbeats and reconnect on loss. Ctrl-C logs out and releases held locks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		id, err := e.requireLogin()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		console := notify.NewConsole(os.Stdout)
		dispatcher := notify.NewDispatcher(console, console, id.Name())

		s := e.cfg.Session
		ch := session.NewChannel(session.ChannelOptions{
			Candidates:        e.cfg.Server.WSCandidates,
			Store:             e.state,
			Dialer:            &session.WSDialer{Token: func() string { return e.state.Auth().Token }},
			ConnectTimeout:    s.ConnectTimeout,
			HeartbeatInterval: s.HeartbeatInterval,
			DedupWindow:       s.DedupWindow,
			DedupSweep:        s.DedupSweep,
			Reconnect: session.ReconnectOptions{
				BaseDelay:   s.ReconnectDelay,
				MaxAttempts: s.MaxReconnectAttempts,
				OnGiveUp: func(attempts int) {
					console.Toast(notify.Toast{Level: notify.LevelError, Message: fmt.Sprintf("通知连接已断开，重试 %d 次后放弃", attempts)})
				},
			},
			OnStateChange: func(st session.State) {
				log.Printf("[listen] channel %s", st)
			},
		}, dispatcher)

		sess := session.NewSession(ch, e.api, func() { _ = e.state.ClearAuth() })
		if err := sess.Login(ctx, id); err != nil {
			// 已经安排了重连，继续等待
			log.Printf("[listen] initial connect failed: %v", err)
		}
		fmt.Printf("Listening as %s, press Ctrl-C to log out.\n", id.Name())

		<-ctx.Done()

		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sess.Logout(logoutCtx)
	},
}
