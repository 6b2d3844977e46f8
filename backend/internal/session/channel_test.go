package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"collab-session/backend/internal/ws"
)

var alice = Identity{UserID: "1", Username: "alice", DisplayName: "Alice", Role: RoleAnnotator}

func newTestChannel(dialer *fakeDialer, timers *manualTimers, handler FrameHandler, candidates ...string) *Channel {
	return NewChannel(ChannelOptions{
		Candidates:        candidates,
		Store:             newMemStore(),
		Dialer:            dialer,
		HeartbeatInterval: time.Hour,
		Reconnect: ReconnectOptions{
			BaseDelay:   3 * time.Second,
			MaxAttempts: 10,
			AfterFunc:   timers.AfterFunc,
		},
	}, handler)
}

func TestChannelConnectFallsBackAndSendsHandshake(t *testing.T) {
	dialer := newFakeDialer("ws://primary/ws")
	timers := &manualTimers{}
	c := newTestChannel(dialer, timers, &recordingHandler{}, "ws://primary/ws", "ws://backup/ws")
	defer c.Close()

	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != Open {
		t.Fatalf("state = %s", c.State())
	}
	if c.Endpoint() != "ws://backup/ws" || c.Resolver().Sticky() != "ws://backup/ws" {
		t.Fatalf("backup endpoint must become sticky, got %q", c.Resolver().Sticky())
	}
	writes := dialer.last().written()
	if len(writes) == 0 {
		t.Fatalf("handshake not sent")
	}
	var hs ws.Handshake
	if err := json.Unmarshal(writes[0], &hs); err != nil {
		t.Fatalf("decode handshake: %v", err)
	}
	if hs.Role != RoleAnnotator || hs.User.ID != "1" || hs.User.Username != "alice" || hs.User.RealName != "Alice" {
		t.Fatalf("unexpected handshake %+v", hs)
	}

	// 已经打开时再次 Connect 不会重新拨号
	before := len(dialer.dials())
	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if len(dialer.dials()) != before {
		t.Fatalf("connect while open must be a no-op")
	}
}

func TestChannelSendRequiresOpen(t *testing.T) {
	c := newTestChannel(newFakeDialer(), &manualTimers{}, nil, "ws://a/ws")
	if err := c.Send(ws.Frame{Type: "x"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Send(ws.Frame{Type: "x"}); err != nil {
		t.Fatalf("send while open: %v", err)
	}
	_ = c.Close()
	if err := c.Send(ws.Frame{Type: "x"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestChannelInboundDedupAndMalformedFrames(t *testing.T) {
	dialer := newFakeDialer()
	h := &recordingHandler{}
	c := newTestChannel(dialer, &manualTimers{}, h, "ws://a/ws")
	defer c.Close()
	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr := dialer.last()

	f := ws.Frame{Type: ws.KindTaskSubmitted, Content: "new task", Timestamp: 1715000000000}
	tr.push(f)
	tr.push(f)
	tr.inbox <- []byte("{not json")
	tr.inbox <- []byte(`{"content":"no type"}`)
	tr.push(ws.Frame{Type: ws.TypePong, Timestamp: 1})
	tr.push(ws.Frame{Type: ws.KindTaskApproved, Content: "ok", Timestamp: 1715000000001})

	waitFor(t, "second notification", func() bool { return h.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	if h.count() != 2 {
		t.Fatalf("expected exactly 2 dispatched frames, got %d", h.count())
	}
	if c.State() != Open {
		t.Fatalf("malformed frames must not close the channel, state=%s", c.State())
	}
}

func TestChannelHeartbeatFailureRetriesAtBaseDelayThenResets(t *testing.T) {
	dialer := newFakeDialer()
	timers := &manualTimers{}
	c := NewChannel(ChannelOptions{
		Candidates:        []string{"ws://a/ws"},
		Dialer:            dialer,
		HeartbeatInterval: 10 * time.Millisecond,
		Reconnect:         ReconnectOptions{BaseDelay: 3 * time.Second, MaxAttempts: 10, AfterFunc: timers.AfterFunc},
	}, nil)
	defer c.Close()

	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := dialer.last()
	first.failWrites(errors.New("broken pipe"))

	waitFor(t, "retry timer", func() bool { return timers.count() == 1 })
	if c.State() != AwaitingRetry {
		t.Fatalf("state = %s, want awaiting_retry", c.State())
	}
	if d := timers.get(0).delay; d != 3*time.Second {
		t.Fatalf("first retry delay = %s, want base delay", d)
	}
	if !first.isClosed() {
		t.Fatalf("failed connection must be closed proactively")
	}

	timers.fire(0)
	if c.State() != Open {
		t.Fatalf("state after retry = %s", c.State())
	}
	if c.Attempts() != 0 {
		t.Fatalf("attempts must reset on open, got %d", c.Attempts())
	}
	if dialer.last() == first {
		t.Fatalf("retry must use a new connection")
	}
}

func TestChannelCandidateExhaustionCountsAsOneAttempt(t *testing.T) {
	dialer := newFakeDialer("ws://a/ws", "ws://b/ws")
	timers := &manualTimers{}
	var gaveUp int32
	c := NewChannel(ChannelOptions{
		Candidates:        []string{"ws://a/ws", "ws://b/ws"},
		Dialer:            dialer,
		HeartbeatInterval: time.Hour,
		Reconnect: ReconnectOptions{
			BaseDelay:   time.Second,
			MaxAttempts: 3,
			AfterFunc:   timers.AfterFunc,
			OnGiveUp:    func(int) { atomic.AddInt32(&gaveUp, 1) },
		},
	}, nil)
	defer c.Close()

	if err := c.Connect(context.Background(), alice); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
	if len(dialer.dials()) != 2 || c.Attempts() != 1 {
		t.Fatalf("both candidates tried once for one attempt: dials=%v attempts=%d", dialer.dials(), c.Attempts())
	}
	if c.State() != AwaitingRetry {
		t.Fatalf("state = %s", c.State())
	}

	for i := 0; i < 3; i++ {
		if !timers.fire(i) {
			t.Fatalf("timer %d not active", i)
		}
	}
	if timers.count() != 3 {
		t.Fatalf("expected exactly 3 scheduled retries, got %d", timers.count())
	}
	if timers.get(2).delay != 3*time.Second {
		t.Fatalf("third delay = %s", timers.get(2).delay)
	}
	if c.State() != Disconnected || !c.Exhausted() {
		t.Fatalf("channel must give up: state=%s exhausted=%v", c.State(), c.Exhausted())
	}
	if atomic.LoadInt32(&gaveUp) != 1 {
		t.Fatalf("give-up callback must run once")
	}

	// 手动重新连接
	dialer.setFail("ws://b/ws", false)
	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("manual reconnect: %v", err)
	}
	if c.State() != Open || c.Exhausted() {
		t.Fatalf("manual reconnect must reopen the channel")
	}
}

func TestChannelCloseStopsEverything(t *testing.T) {
	dialer := newFakeDialer()
	timers := &manualTimers{}
	var states []State
	c := NewChannel(ChannelOptions{
		Candidates:        []string{"ws://a/ws"},
		Dialer:            dialer,
		HeartbeatInterval: time.Hour,
		Reconnect:         ReconnectOptions{BaseDelay: time.Second, AfterFunc: timers.AfterFunc},
		OnStateChange:     func(s State) { states = append(states, s) },
	}, nil)

	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr := dialer.last()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.State() != Closed {
		t.Fatalf("state = %s", c.State())
	}
	if !tr.isClosed() {
		t.Fatalf("transport must be closed")
	}
	time.Sleep(20 * time.Millisecond)
	if timers.count() != 0 {
		t.Fatalf("intentional close must not schedule a retry")
	}
	want := []State{Connecting, Open, Closing, Closed}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestChannelCloseWhileAwaitingRetryCancelsTimer(t *testing.T) {
	dialer := newFakeDialer("ws://a/ws")
	timers := &manualTimers{}
	c := newTestChannel(dialer, timers, nil, "ws://a/ws")
	_ = c.Connect(context.Background(), alice)
	if timers.count() != 1 {
		t.Fatalf("expected a pending retry")
	}
	_ = c.Close()
	if timers.fire(0) {
		t.Fatalf("pending retry must be cancelled by close")
	}
	if len(dialer.dials()) != 1 {
		t.Fatalf("no dial after close")
	}
}

func TestChannelIgnoresStaleInstanceCallbacks(t *testing.T) {
	dialer := newFakeDialer()
	timers := &manualTimers{}
	c := newTestChannel(dialer, timers, nil, "ws://a/ws")
	defer c.Close()
	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.mu.Lock()
	staleGen := c.gen - 1
	c.mu.Unlock()

	c.connectionLost(staleGen, errors.New("old instance"))
	if c.State() != Open || timers.count() != 0 {
		t.Fatalf("stale callback must be ignored: state=%s timers=%d", c.State(), timers.count())
	}
}

func TestChannelClosedIsTerminal(t *testing.T) {
	dialer := newFakeDialer()
	timers := &manualTimers{}
	c := newTestChannel(dialer, timers, nil, "ws://a/ws")
	if err := c.Connect(context.Background(), alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := c.Connect(context.Background(), alice); !errors.Is(err, ErrClosed) {
		t.Fatalf("connect after close must fail with ErrClosed, got %v", err)
	}
	if c.State() != Closed {
		t.Fatalf("state = %s", c.State())
	}
	if n := len(dialer.dials()); n != 1 {
		t.Fatalf("closed channel must not dial again, dials=%d", n)
	}
	// 关闭时设置的重连抑制不能被清掉
	if ok, _ := c.Reconnect().OnClosed(errors.New("late")); ok || timers.count() != 0 {
		t.Fatalf("reconnect must stay inhibited after close")
	}
}

// hookDialer 在拨号前回调，用来模拟拨号期间发生的关闭
type hookDialer struct {
	*fakeDialer
	before func(addr string)
}

func (d *hookDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	if d.before != nil {
		d.before(addr)
	}
	return d.fakeDialer.Dial(ctx, addr)
}

func TestChannelCloseDuringDialSkipsRemainingCandidates(t *testing.T) {
	inner := newFakeDialer("ws://a/ws")
	dialer := &hookDialer{fakeDialer: inner}
	timers := &manualTimers{}
	c := NewChannel(ChannelOptions{
		Candidates:        []string{"ws://a/ws", "ws://b/ws"},
		Dialer:            dialer,
		HeartbeatInterval: time.Hour,
		Reconnect:         ReconnectOptions{BaseDelay: time.Second, AfterFunc: timers.AfterFunc},
	}, nil)
	dialer.before = func(addr string) {
		if addr == "ws://a/ws" {
			_ = c.Close()
		}
	}

	err := c.Connect(context.Background(), alice)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := inner.dials(); len(got) != 1 || got[0] != "ws://a/ws" {
		t.Fatalf("no candidate may be dialed after close, dialed=%v", got)
	}
	if c.State() != Closed || timers.count() != 0 {
		t.Fatalf("state=%s timers=%d", c.State(), timers.count())
	}
}
