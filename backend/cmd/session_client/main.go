package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"collab-session/backend/config"
	"collab-session/backend/internal/clientstate"
	"collab-session/backend/internal/collabclient"
	"collab-session/backend/internal/session"
)

var (
	configFile string
	statePath  string
)

var rootCmd = &cobra.Command{
	Use:   "session-client",
	Short: "Collaboration session client",
	Long:  "Log in, hold document edit locks, write content and receive realtime notifications from the collaboration server.",
	// 业务错误已经打印过，不再输出用法
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to clientConfig.yaml")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "path to state.toml (default ~/.collab-session/state.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClient(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openState(cfg *config.ClientConfig) (*clientstate.Store, error) {
	path := statePath
	if path == "" {
		path = cfg.State.Path
	}
	if path == "" {
		p, err := clientstate.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return clientstate.Open(path)
}

// env 一次命令用到的配置、本地状态和 HTTP 客户端
type env struct {
	cfg   *config.ClientConfig
	state *clientstate.Store
	api   *collabclient.Client
}

func newEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := openState(cfg)
	if err != nil {
		return nil, err
	}
	api := collabclient.New(cfg.Server.BaseURL, func() string { return st.Auth().Token }, &http.Client{Timeout: 10 * time.Second})
	return &env{cfg: cfg, state: st, api: api}, nil
}

// requireLogin 没有 token 时提示先登录
func (e *env) requireLogin() (session.Identity, error) {
	a := e.state.Auth()
	if a.Token == "" {
		return session.Identity{}, fmt.Errorf("not logged in, run 'session-client login' first")
	}
	if a.Expires != "" {
		if exp, err := time.Parse(time.RFC3339, a.Expires); err == nil && time.Now().After(exp) {
			return session.Identity{}, fmt.Errorf("token expired at %s, run 'session-client login' again", a.Expires)
		}
	}
	return session.Identity{UserID: a.UserID, Username: a.Username, DisplayName: a.RealName, Role: a.Role}, nil
}

// guard 鉴权失败时清掉本地 token
func (e *env) guard(err error) error {
	if err == nil {
		return nil
	}
	if errorsIsUnauthorized(err) {
		_ = e.state.ClearAuth()
		return fmt.Errorf("%w: session expired, please log in again", err)
	}
	return err
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
