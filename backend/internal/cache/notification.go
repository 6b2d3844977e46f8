package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

type TargetKind string

const (
	TargetUser   TargetKind = "user"
	TargetRole   TargetKind = "role"
	TargetGlobal TargetKind = "global"
)

// Target 通知的投递范围
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

func (t Target) channel() string {
	switch t.Kind {
	case TargetUser:
		return fmt.Sprintf(channelUserFmt, t.ID)
	case TargetRole:
		return fmt.Sprintf(channelRoleFmt, strings.ToLower(t.ID))
	default:
		return channelGlobal
	}
}

func parseChannel(ch string) (Target, bool) {
	if ch == channelGlobal {
		return Target{Kind: TargetGlobal}, true
	}
	rest, ok := strings.CutPrefix(ch, "notify:")
	if !ok {
		return Target{}, false
	}
	kind, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return Target{}, false
	}
	switch TargetKind(kind) {
	case TargetUser, TargetRole:
		return Target{Kind: TargetKind(kind), ID: id}, true
	}
	return Target{}, false
}

// NotificationRelay 基于 Redis Pub/Sub 的跨实例通知转发
// 每个实例订阅 notify:*，收到后投递给本机连接
type NotificationRelay struct {
	rdb redis.UniversalClient
}

func NewNotificationRelay(rdb redis.UniversalClient) *NotificationRelay {
	return &NotificationRelay{rdb: rdb}
}

// Publish 返回收到消息的订阅者数量；为 0 时调用方应直接投递
func (r *NotificationRelay) Publish(ctx context.Context, t Target, payload []byte) (int64, error) {
	return r.rdb.Publish(ctx, t.channel(), payload).Result()
}

// Listen 阻塞直到 ctx 结束，ready 在订阅确认后关闭（可为 nil）
func (r *NotificationRelay) Listen(ctx context.Context, ready chan<- struct{}, deliver func(Target, []byte)) error {
	ps := r.rdb.PSubscribe(ctx, channelPattern)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", channelPattern, err)
	}
	if ready != nil {
		close(ready)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			t, ok := parseChannel(msg.Channel)
			if !ok {
				log.Printf("[relay] ignore channel %s", msg.Channel)
				continue
			}
			deliver(t, []byte(msg.Payload))
		}
	}
}

const (
	DefaultInboxTTL      = 7 * 24 * time.Hour
	DefaultInboxMax      = 50
	DefaultInboxDedupTTL = 24 * time.Hour
)

// 分级 TTL：不同类型的通知保留时间不同
var inboxTTLByKind = map[string]time.Duration{
	"work_end_reminder":   12 * time.Hour,
	"task_submitted":      3 * 24 * time.Hour,
	"task_approved":       24 * time.Hour,
	"task_rejected":       24 * time.Hour,
	"skip_requested":      3 * 24 * time.Hour,
	"skip_approved":       24 * time.Hour,
	"skip_rejected":       24 * time.Hour,
	"system_announcement": 7 * 24 * time.Hour,
	"urgent":              6 * time.Hour,
}

// InboxTTL 某类通知在离线收件箱中的保留时间
func InboxTTL(kind string) time.Duration {
	if ttl, ok := inboxTTLByKind[kind]; ok {
		return ttl
	}
	return DefaultInboxTTL
}

type InboxItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Data      json.RawMessage `json:"data,omitempty"`
	Priority  string          `json:"priority"`
	Timestamp int64           `json:"timestamp"`
	CreatedAt time.Time       `json:"created_at"`
}

// NotificationInbox 离线通知：Redis List，最新在前，整表随最后一次写入续期
type NotificationInbox struct {
	rdb redis.UniversalClient
	max int64
	now func() time.Time
}

func NewNotificationInbox(rdb redis.UniversalClient, max int) *NotificationInbox {
	if max <= 0 {
		max = DefaultInboxMax
	}
	return &NotificationInbox{rdb: rdb, max: int64(max), now: time.Now}
}

// Save dedupKey 非空时，24 小时内同一个 key 只保存一次；返回是否真正写入
func (b *NotificationInbox) Save(ctx context.Context, userID string, item InboxItem, dedupKey string) (bool, error) {
	if dedupKey != "" {
		fresh, err := b.rdb.SetNX(ctx, inboxDedupKey(userID, dedupKey), "1", DefaultInboxDedupTTL).Result()
		if err != nil {
			return false, err
		}
		if !fresh {
			return false, nil
		}
	}

	now := b.now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Priority == "" {
		item.Priority = "normal"
	}
	if item.Timestamp == 0 {
		item.Timestamp = now.UnixMilli()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	data, err := json.Marshal(item)
	if err != nil {
		return false, err
	}

	key := inboxKey(userID)
	tx := b.rdb.TxPipeline()
	tx.LPush(ctx, key, data)
	tx.Expire(ctx, key, InboxTTL(item.Type))
	tx.LTrim(ctx, key, 0, b.max-1)
	if _, err := tx.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// List 最新在前，limit<=0 表示全部
func (b *NotificationInbox) List(ctx context.Context, userID string, limit int) ([]InboxItem, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := b.rdb.LRange(ctx, inboxKey(userID), 0, stop).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	items := make([]InboxItem, 0, len(raw))
	for _, s := range raw {
		var it InboxItem
		if err := json.Unmarshal([]byte(s), &it); err != nil {
			log.Printf("[inbox] skip malformed item (user=%s): %v", userID, err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func (b *NotificationInbox) Clear(ctx context.Context, userID string) error {
	return b.rdb.Del(ctx, inboxKey(userID)).Err()
}
