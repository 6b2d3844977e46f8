package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"collab-session/backend/internal/ws"
)

const (
	DefaultDedupWindow = 3 * time.Second
	DefaultDedupSweep  = 3 * time.Second

	dedupContentRunes = 50
)

// Deduplicator 短时间窗口内丢弃重复推送
// 键：timestamp_type_content前50个字符，值：首次处理时间
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	sweep  time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewDeduplicator 清理周期大于窗口时会被压到窗口大小
func NewDeduplicator(window, sweep time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if sweep <= 0 || sweep > window {
		sweep = window
	}
	return &Deduplicator{
		window: window,
		sweep:  sweep,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// DedupKey 没有 timestamp 的帧用收到时间代替
func DedupKey(f ws.Frame, now time.Time) string {
	ts := f.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}
	text := f.Text()
	if r := []rune(text); len(r) > dedupContentRunes {
		text = string(r[:dedupContentRunes])
	}
	return strconv.FormatInt(ts, 10) + "_" + f.Type + "_" + text
}

// ShouldProcess 返回 false 表示窗口内已经处理过，应静默丢弃
func (d *Deduplicator) ShouldProcess(f ws.Frame) bool {
	if f.Type == ws.TypePong {
		return true
	}
	now := d.now()
	key := DedupKey(f, now)

	d.mu.Lock()
	defer d.mu.Unlock()
	if first, ok := d.seen[key]; ok && now.Sub(first) < d.window {
		return false
	}
	d.seen[key] = now
	return true
}

// Sweep 删除超过窗口的记录，返回删除条数
func (d *Deduplicator) Sweep() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for k, first := range d.seen {
		if now.Sub(first) >= d.window {
			delete(d.seen, k)
			removed++
		}
	}
	return removed
}

// Run 周期清理，ctx 结束时退出
func (d *Deduplicator) Run(ctx context.Context) {
	ticker := time.NewTicker(d.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduplicator) Window() time.Duration        { return d.window }
func (d *Deduplicator) SweepInterval() time.Duration { return d.sweep }
