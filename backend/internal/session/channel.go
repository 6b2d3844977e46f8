package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"collab-session/backend/internal/ws"
)

var (
	ErrNotOpen    = errors.New("CHANNEL_NOT_OPEN")
	ErrNoEndpoint = errors.New("NO_ENDPOINT_AVAILABLE")
	ErrClosed     = errors.New("CHANNEL_CLOSED")
)

const DefaultConnectTimeout = 2 * time.Second

// FrameHandler 接收去重后的通知帧
type FrameHandler interface {
	Dispatch(f ws.Frame)
}

type ChannelOptions struct {
	Candidates        []string
	Store             EndpointStore
	Dialer            Dialer
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	DedupWindow       time.Duration
	DedupSweep        time.Duration
	Reconnect         ReconnectOptions
	// OnStateChange 在状态变化后调用，不持有锁
	OnStateChange func(State)
}

// Channel 一个会话唯一的推送连接
// 心跳、去重清理、读循环都绑定在当前连接实例上，实例之间用 generation 区分
type Channel struct {
	opts      ChannelOptions
	handler   FrameHandler
	resolver  *EndpointResolver
	dedup     *Deduplicator
	heartbeat *HeartbeatMonitor
	recon     *ReconnectScheduler

	mu        sync.Mutex
	state     State
	identity  Identity
	conn      Transport
	addr      string
	gen       uint64
	cancel    context.CancelFunc
	exhausted bool
}

func NewChannel(opts ChannelOptions, handler FrameHandler) *Channel {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &WSDialer{}
	}
	c := &Channel{
		opts:      opts,
		handler:   handler,
		resolver:  NewEndpointResolver(opts.Candidates, opts.Store),
		dedup:     NewDeduplicator(opts.DedupWindow, opts.DedupSweep),
		heartbeat: NewHeartbeatMonitor(opts.HeartbeatInterval),
		state:     Disconnected,
	}
	giveUp := opts.Reconnect.OnGiveUp
	ro := opts.Reconnect
	ro.OnGiveUp = func(attempts int) {
		c.mu.Lock()
		c.exhausted = true
		c.mu.Unlock()
		if giveUp != nil {
			giveUp(attempts)
		}
	}
	c.recon = NewReconnectScheduler(ro, c.retry)
	return c
}

// Connect 正在连接或已打开时直接返回；Closed 是终态，返回 ErrClosed
// 所有候选地址都失败时返回错误，同时已经安排了一次重试
func (c *Channel) Connect(ctx context.Context, id Identity) error {
	c.mu.Lock()
	switch c.state {
	case Connecting, Open:
		c.mu.Unlock()
		return nil
	case Closing, Closed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.identity = id
	c.exhausted = false
	c.state = Connecting
	c.mu.Unlock()
	c.emit(Connecting)

	c.recon.Cancel()
	c.recon.Reset()
	return c.dial(ctx)
}

// 定时器触发的重试；会话已经不需要连接时什么也不做
func (c *Channel) retry() {
	c.mu.Lock()
	if c.state != AwaitingRetry {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emit(Connecting)
	_ = c.dial(context.Background())
}

func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()
	hs := ws.Handshake{Role: NormalizeRole(id.Role), User: ws.HandshakeUser{ID: id.UserID, Username: id.Username, RealName: id.DisplayName}}

	var lastErr error = ErrNoEndpoint
	for _, addr := range c.resolver.Resolve() {
		// 拨上一个地址期间可能已经被 Close
		c.mu.Lock()
		closed := c.state != Connecting
		c.mu.Unlock()
		if closed {
			return ErrClosed
		}
		dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		t, err := c.opts.Dialer.Dial(dctx, addr)
		cancel()
		if err != nil {
			log.Printf("[session] dial %s error: %v", addr, err)
			c.resolver.Forget(addr)
			lastErr = err
			continue
		}
		if err := t.WriteFrame(hs); err != nil {
			log.Printf("[session] handshake %s error: %v", addr, err)
			_ = t.Close()
			c.resolver.Forget(addr)
			lastErr = err
			continue
		}

		c.mu.Lock()
		if c.state != Connecting {
			// 连接期间被 Close 了
			c.mu.Unlock()
			_ = t.Close()
			return ErrClosed
		}
		c.gen++
		gen := c.gen
		instCtx, instCancel := context.WithCancel(context.Background())
		c.conn = t
		c.addr = addr
		c.cancel = instCancel
		c.state = Open
		c.mu.Unlock()

		c.resolver.Remember(addr)
		c.recon.Reset()
		c.heartbeat.Start(instCtx, hs.User,
			func(f ws.Frame) error { return c.sendOn(gen, f) },
			func(err error) { c.connectionLost(gen, fmt.Errorf("heartbeat: %w", err)) })
		go c.dedup.Run(instCtx)
		go c.readLoop(instCtx, gen, t)
		log.Printf("[session] connected to %s (user=%s)", addr, id.UserID)
		c.emit(Open)
		return nil
	}

	// 候选地址全部失败只算一次重连
	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = AwaitingRetry
	c.mu.Unlock()
	c.emit(AwaitingRetry)
	c.scheduleRetry(lastErr)
	if errors.Is(lastErr, ErrNoEndpoint) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", ErrNoEndpoint, lastErr)
}

func (c *Channel) scheduleRetry(reason error) {
	scheduled, _ := c.recon.OnClosed(reason)
	if scheduled || !c.recon.Exhausted() {
		return
	}
	c.mu.Lock()
	if c.state != AwaitingRetry {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.exhausted = true
	c.mu.Unlock()
	c.emit(Disconnected)
}

// connectionLost 只处理当前实例；旧实例的回调直接忽略
func (c *Channel) connectionLost(gen uint64, reason error) {
	c.mu.Lock()
	if gen != c.gen || c.state != Open {
		c.mu.Unlock()
		return
	}
	conn, addr, cancel := c.conn, c.addr, c.cancel
	c.conn = nil
	c.cancel = nil
	c.state = AwaitingRetry
	c.mu.Unlock()

	log.Printf("[session] connection to %s lost: %v", addr, reason)
	c.heartbeat.Stop()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.resolver.Forget(addr)
	c.emit(AwaitingRetry)
	c.scheduleRetry(reason)
}

func (c *Channel) readLoop(ctx context.Context, gen uint64, t Transport) {
	for {
		data, err := t.ReadFrame()
		if err != nil {
			if ctx.Err() == nil {
				c.connectionLost(gen, err)
			}
			return
		}
		f, err := ws.DecodeFrame(data)
		if err != nil {
			log.Printf("[session] discard malformed frame: %v", err)
			continue
		}
		switch f.Type {
		case ws.TypePong:
			c.heartbeat.HandlePong(f)
			continue
		case ws.TypePing:
			continue
		}
		if !c.dedup.ShouldProcess(f) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if c.handler != nil {
			c.handler.Dispatch(f)
		}
	}
}

func (c *Channel) sendOn(gen uint64, f ws.Frame) error {
	c.mu.Lock()
	if gen != c.gen || c.state != Open || c.conn == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}
	t := c.conn
	c.mu.Unlock()
	return t.WriteFrame(f)
}

// Send 只在 Open 状态下可用，否则立即返回 ErrNotOpen
func (c *Channel) Send(f ws.Frame) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	err := c.sendOn(gen, f)
	if err != nil && !errors.Is(err, ErrNotOpen) {
		c.connectionLost(gen, err)
	}
	return err
}

// Close 唯一能进入 Closed 的路径，之后不会再自动重连
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	c.gen++
	conn, cancel := c.conn, c.cancel
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()
	c.emit(Closing)

	c.recon.Inhibit()
	c.heartbeat.Stop()
	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	c.emit(Closed)
	return err
}

func (c *Channel) emit(s State) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exhausted 重试次数用完，需要用户手动重新连接
func (c *Channel) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Endpoint 当前连接的地址
func (c *Channel) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Channel) Attempts() int                  { return c.recon.Attempts() }
func (c *Channel) Heartbeat() *HeartbeatMonitor   { return c.heartbeat }
func (c *Channel) Dedup() *Deduplicator           { return c.dedup }
func (c *Channel) Resolver() *EndpointResolver    { return c.resolver }
func (c *Channel) Reconnect() *ReconnectScheduler { return c.recon }
