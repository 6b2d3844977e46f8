package session

import (
	"log"
	"sync"
	"time"
)

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// Timer 可取消的一次性定时器，*time.Timer 满足该接口
type Timer interface {
	Stop() bool
}

type ReconnectOptions struct {
	BaseDelay   time.Duration
	MaxAttempts int
	// AfterFunc 默认 time.AfterFunc，测试里可以换成手动触发的版本
	AfterFunc func(d time.Duration, f func()) Timer
	// OnGiveUp 重试次数用完时调用一次
	OnGiveUp func(attempts int)
}

// ReconnectScheduler 线性退避：第 n 次重试等待 BaseDelay*n
// 同一时刻最多一个待触发的定时器
type ReconnectScheduler struct {
	mu          sync.Mutex
	base        time.Duration
	maxAttempts int
	afterFunc   func(d time.Duration, f func()) Timer
	onGiveUp    func(attempts int)
	retry       func()

	attempts  int
	pending   Timer
	inhibited bool
	exhausted bool
}

func NewReconnectScheduler(opt ReconnectOptions, retry func()) *ReconnectScheduler {
	if opt.BaseDelay <= 0 {
		opt.BaseDelay = DefaultReconnectDelay
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = DefaultMaxReconnectAttempts
	}
	if opt.AfterFunc == nil {
		opt.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &ReconnectScheduler{
		base:        opt.BaseDelay,
		maxAttempts: opt.MaxAttempts,
		afterFunc:   opt.AfterFunc,
		onGiveUp:    opt.OnGiveUp,
		retry:       retry,
	}
}

// OnClosed 连接断开时调用；返回是否安排了重试以及等待时长
func (r *ReconnectScheduler) OnClosed(reason error) (bool, time.Duration) {
	r.mu.Lock()
	if r.inhibited || r.pending != nil {
		r.mu.Unlock()
		return false, 0
	}
	if r.attempts >= r.maxAttempts {
		first := !r.exhausted
		r.exhausted = true
		attempts := r.attempts
		giveUp := r.onGiveUp
		r.mu.Unlock()
		if first {
			log.Printf("[session] reconnect gave up after %d attempts: %v", attempts, reason)
			if giveUp != nil {
				giveUp(attempts)
			}
		}
		return false, 0
	}
	r.attempts++
	delay := r.base * time.Duration(r.attempts)
	log.Printf("[session] reconnect attempt %d/%d in %s: %v", r.attempts, r.maxAttempts, delay, reason)
	r.pending = r.afterFunc(delay, r.fire)
	r.mu.Unlock()
	return true, delay
}

func (r *ReconnectScheduler) fire() {
	r.mu.Lock()
	r.pending = nil
	if r.inhibited {
		r.mu.Unlock()
		return
	}
	retry := r.retry
	r.mu.Unlock()
	if retry != nil {
		retry()
	}
}

// Reset 连接成功或重新登录时清零
func (r *ReconnectScheduler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
	r.inhibited = false
	r.exhausted = false
}

// Cancel 取消待触发的重试，计数不变
func (r *ReconnectScheduler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

// Inhibit 主动关闭时调用，之后的断开都不再重连
func (r *ReconnectScheduler) Inhibit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inhibited = true
	r.attempts = r.maxAttempts
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

func (r *ReconnectScheduler) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *ReconnectScheduler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

func (r *ReconnectScheduler) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted
}
