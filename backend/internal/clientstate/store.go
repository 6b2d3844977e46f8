package clientstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// Auth 登录后保存的身份
type Auth struct {
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	RealName string `toml:"real_name"`
	Role     string `toml:"role"`
	Expires  string `toml:"expires"`
}

// State 落盘到 ~/.collab-session/state.toml 的内容
type State struct {
	Auth   Auth              `toml:"auth"`
	Values map[string]string `toml:"values"`
}

// Store 本地持久化键值，写入即落盘
type Store struct {
	mu    sync.Mutex
	path  string
	state State
}

// DefaultPath ~/.collab-session/state.toml，目录不存在时创建
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".collab-session")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create state directory: %w", err)
	}
	return filepath.Join(dir, "state.toml"), nil
}

// Open 文件不存在时返回空状态
func Open(path string) (*Store, error) {
	s := &Store{path: path, state: State{Values: map[string]string{}}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("cannot read state: %w", err)
	}
	if err := toml.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("cannot parse state: %w", err)
	}
	if s.state.Values == nil {
		s.state.Values = map[string]string{}
	}
	return s, nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.Values[key]
	return v, ok
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Values[key] = value
	return s.saveLocked()
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Values[key]; !ok {
		return nil
	}
	delete(s.state.Values, key)
	return s.saveLocked()
}

func (s *Store) Auth() Auth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Auth
}

func (s *Store) SetAuth(a Auth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Auth = a
	return s.saveLocked()
}

// ClearAuth 退出登录；粘性地址保留
func (s *Store) ClearAuth() error {
	return s.SetAuth(Auth{})
}

func (s *Store) Path() string { return s.path }

func (s *Store) saveLocked() error {
	data, err := toml.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("cannot marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write state: %w", err)
	}
	return nil
}
