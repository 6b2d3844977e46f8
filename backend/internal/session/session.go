package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"collab-session/backend/internal/collabclient"
)

// LockReleaser 退出登录时释放当前用户持有的全部文档锁
type LockReleaser interface {
	ReleaseAll(ctx context.Context) (int, error)
}

// Session 一个登录用户，最多拥有一个 Channel
type Session struct {
	mu       sync.Mutex
	identity Identity
	loggedIn bool
	channel  *Channel
	locks    LockReleaser
	// onReauth 鉴权失败被强制退出后调用，用来引导用户重新登录
	onReauth func()
}

func NewSession(ch *Channel, locks LockReleaser, onReauth func()) *Session {
	return &Session{channel: ch, locks: locks, onReauth: onReauth}
}

// Login 建立推送连接；连接失败时已经安排了重连，会话仍视为已登录
// 退出后 Channel 已经关闭，重新登录需要新建 Session 和 Channel
func (s *Session) Login(ctx context.Context, id Identity) error {
	id.Role = NormalizeRole(id.Role)
	s.mu.Lock()
	s.identity = id
	s.loggedIn = true
	s.mu.Unlock()
	err := s.channel.Connect(ctx, id)
	if errors.Is(err, ErrClosed) {
		s.mu.Lock()
		s.loggedIn = false
		s.mu.Unlock()
	}
	return err
}

// Logout 关闭连接（不再重连）并立即释放持有的锁
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return nil
	}
	s.loggedIn = false
	s.mu.Unlock()

	if err := s.channel.Close(); err != nil {
		log.Printf("[session] close channel error: %v", err)
	}
	if s.locks == nil {
		return nil
	}
	n, err := s.locks.ReleaseAll(ctx)
	if err != nil {
		if errors.Is(err, collabclient.ErrUnauthorized) {
			// token 已失效，服务端锁会在 TTL 到期后释放
			return nil
		}
		return err
	}
	if n > 0 {
		log.Printf("[session] released %d document locks on logout", n)
	}
	return nil
}

// Guard 检查接口返回的错误；鉴权失败时强制退出并触发重新登录
// 返回的 error 原样透传
func (s *Session) Guard(ctx context.Context, err error) error {
	if !errors.Is(err, collabclient.ErrUnauthorized) {
		return err
	}
	log.Printf("[session] authentication rejected, forcing logout")
	_ = s.Logout(ctx)
	if s.onReauth != nil {
		s.onReauth()
	}
	return err
}

func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *Session) Channel() *Channel { return s.channel }
