package collab

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLockTTL       = 30 * time.Minute
	DefaultPresenceTTL   = 30 * time.Second
	DefaultMirrorTTL     = 20 * time.Second
	DefaultSweepInterval = time.Minute

	defaultPageSize = 20
	maxPageSize     = 100
)

type Options struct {
	LockTTL       time.Duration
	PresenceTTL   time.Duration
	MirrorTTL     time.Duration
	SweepInterval time.Duration
	Now           func() time.Time

	Content  ContentStore
	History  HistoryStore
	Events   EventPublisher
	Presence PresenceMirror
}

type docState struct {
	mu sync.Mutex
	// created 文档已经通过 Create 建立或者从存储中加载到记录
	created      bool
	// deleted 已被 Delete 从 docs 中摘除；拿到旧指针的调用方需要重新获取
	deleted      bool
	title        string
	ownerID      string
	content      string
	version      uint64
	updatedAt    time.Time
	lastEditedBy string

	lock     *Lock
	presence map[string]*Presence
}

// Coordinator 单节点的文档锁 / 在线 / 版本 / 历史权威
// 同一文档的操作由文档自己的锁串行化，不同文档之间互不影响
type Coordinator struct {
	mu   sync.RWMutex
	docs map[string]*docState
	sf   singleflight.Group

	lockTTL       atomic.Int64
	presenceTTL   time.Duration
	mirrorTTL     time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	content  ContentStore
	history  HistoryStore
	events   EventPublisher
	presence PresenceMirror
}

func NewCoordinator(opt Options) *Coordinator {
	if opt.LockTTL <= 0 {
		opt.LockTTL = DefaultLockTTL
	}
	if opt.PresenceTTL <= 0 {
		opt.PresenceTTL = DefaultPresenceTTL
	}
	if opt.MirrorTTL <= 0 {
		opt.MirrorTTL = DefaultMirrorTTL
	}
	if opt.SweepInterval <= 0 {
		opt.SweepInterval = DefaultSweepInterval
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Content == nil {
		opt.Content = NewMemoryContentStore()
	}
	if opt.History == nil {
		opt.History = NewMemoryHistoryStore()
	}
	c := &Coordinator{
		docs:          make(map[string]*docState),
		presenceTTL:   opt.PresenceTTL,
		mirrorTTL:     opt.MirrorTTL,
		sweepInterval: opt.SweepInterval,
		now:           opt.Now,
		content:       opt.Content,
		history:       opt.History,
		events:        opt.Events,
		presence:      opt.Presence,
	}
	c.lockTTL.Store(int64(opt.LockTTL))
	return c
}

// SetLockTTL 配置热更新时调用，只影响之后的加锁与续期
func (c *Coordinator) SetLockTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	c.lockTTL.Store(int64(d))
}

func (c *Coordinator) LockTTL() time.Duration { return time.Duration(c.lockTTL.Load()) }

// 获取或加载指定文档的状态；冷加载用 singleflight 合并
func (c *Coordinator) doc(ctx context.Context, docID string) (*docState, error) {
	c.mu.RLock()
	ds := c.docs[docID]
	c.mu.RUnlock()
	if ds != nil {
		return ds, nil
	}

	v, err, _ := c.sf.Do(docID, func() (interface{}, error) {
		c.mu.RLock()
		ds := c.docs[docID]
		c.mu.RUnlock()
		if ds != nil {
			return ds, nil
		}
		rec, err := c.content.Load(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", docID, err)
		}
		ds = &docState{presence: make(map[string]*Presence)}
		if rec != nil {
			ds.created = true
			ds.title = rec.Title
			ds.ownerID = rec.OwnerID
			ds.content = rec.Content
			ds.version = rec.Version
			ds.updatedAt = rec.UpdatedAt
			ds.lastEditedBy = rec.LastEditedBy
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing := c.docs[docID]; existing != nil {
			return existing, nil
		}
		c.docs[docID] = ds
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	// 使用断言确保不会panic
	ds, ok := v.(*docState)
	if !ok {
		return nil, fmt.Errorf("internal type error")
	}
	return ds, nil
}

// lockDoc 返回已加锁且仍然有效的文档状态
func (c *Coordinator) lockDoc(ctx context.Context, docID string) (*docState, error) {
	for {
		ds, err := c.doc(ctx, docID)
		if err != nil {
			return nil, err
		}
		ds.mu.Lock()
		if !ds.deleted {
			return ds, nil
		}
		ds.mu.Unlock()
	}
}

func (c *Coordinator) newEntry(docID string, editor User, action, summary string, before, after uint64, at time.Time) HistoryEntry {
	name := editor.Name
	if name == "" {
		name = editor.ID
	}
	return HistoryEntry{
		ID:            uuid.NewString(),
		DocumentID:    docID,
		EditorID:      editor.ID,
		EditorName:    name,
		Action:        action,
		Summary:       summary,
		VersionBefore: before,
		VersionAfter:  after,
		CreatedAt:     at,
	}
}

// 调用方持有 ds.mu，保证同一文档的历史按发生顺序追加
func (c *Coordinator) record(ctx context.Context, e HistoryEntry) {
	if err := c.history.Append(ctx, e); err != nil {
		log.Printf("[collab] append history error (doc=%s, action=%s): %v", e.DocumentID, e.Action, err)
	}
	if c.events != nil {
		if err := c.events.Publish(ctx, e); err != nil {
			log.Printf("[collab] publish history event error (doc=%s): %v", e.DocumentID, err)
		}
	}
}

// 过期的锁就地释放，调用方持有 ds.mu
func (c *Coordinator) expireLocked(ctx context.Context, docID string, ds *docState, now time.Time) bool {
	if ds.lock == nil || now.Before(ds.lock.ExpiresAt) {
		return false
	}
	holder := ds.lock.HolderID
	ds.lock = nil
	c.record(ctx, c.newEntry(docID, User{ID: SystemEditor, Name: SystemEditor}, ActionUnlock,
		fmt.Sprintf("锁超时自动释放（原持有者 %s）", holder), ds.version, ds.version, now))
	return true
}

func (c *Coordinator) touchPresenceLocked(ds *docState, user User, upd PresenceUpdate, now time.Time) {
	p := ds.presence[user.ID]
	if p == nil {
		p = &Presence{UserID: user.ID}
		ds.presence[user.ID] = p
	}
	if user.Name != "" {
		p.UserName = user.Name
	}
	if upd.CursorPosition != nil {
		v := *upd.CursorPosition
		p.CursorPosition = &v
	}
	if upd.SelectionStart != nil {
		v := *upd.SelectionStart
		p.SelectionStart = &v
	}
	if upd.SelectionEnd != nil {
		v := *upd.SelectionEnd
		p.SelectionEnd = &v
	}
	p.LastActiveAt = now
}

func (c *Coordinator) mirror(ctx context.Context, docID string, user User) {
	if c.presence == nil {
		return
	}
	if err := c.presence.Touch(ctx, docID, user.ID, user.Name, c.mirrorTTL); err != nil {
		log.Printf("[collab] presence mirror error (user=%s, doc=%s): %v", user.ID, docID, err)
	}
}

// Acquire 未锁定或调用者本就持有时授予（重入即续期），否则返回 *LockConflictError
func (c *Coordinator) Acquire(ctx context.Context, docID string, user User) (AcquireResult, error) {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return AcquireResult{}, err
	}
	now := c.now()
	c.expireLocked(ctx, docID, ds, now)
	if ds.lock != nil && ds.lock.HolderID != user.ID {
		conflict := &LockConflictError{DocumentID: docID, Holder: ds.lock.HolderID, HolderName: ds.lock.HolderName, ExpiresAt: ds.lock.ExpiresAt}
		ds.mu.Unlock()
		return AcquireResult{Granted: false, Lock: Lock{DocumentID: docID, HolderID: conflict.Holder, HolderName: conflict.HolderName, ExpiresAt: conflict.ExpiresAt}}, conflict
	}
	reentrant := ds.lock != nil
	if !reentrant {
		ds.lock = &Lock{DocumentID: docID, HolderID: user.ID, HolderName: user.Name, AcquiredAt: now}
		c.record(ctx, c.newEntry(docID, user, ActionLock, "开始编辑", ds.version, ds.version, now))
	}
	ds.lock.ExpiresAt = now.Add(c.LockTTL())
	c.touchPresenceLocked(ds, user, PresenceUpdate{}, now)
	lock := *ds.lock
	ds.mu.Unlock()

	c.mirror(ctx, docID, user)
	return AcquireResult{Granted: true, Lock: lock, Reentrant: reentrant}, nil
}

// Release 只有持有者能释放；文档未锁定时是空操作
func (c *Coordinator) Release(ctx context.Context, docID string, user User) error {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return err
	}
	defer ds.mu.Unlock()
	now := c.now()
	c.expireLocked(ctx, docID, ds, now)
	if ds.lock == nil {
		return nil
	}
	if ds.lock.HolderID != user.ID {
		return ErrNotHolder
	}
	ds.lock = nil
	c.record(ctx, c.newEntry(docID, user, ActionUnlock, "结束编辑", ds.version, ds.version, now))
	return nil
}

// ForceRelease 管理员或文档所有者强制解锁
func (c *Coordinator) ForceRelease(ctx context.Context, docID string, actor User) error {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return err
	}
	defer ds.mu.Unlock()
	now := c.now()
	c.expireLocked(ctx, docID, ds, now)
	if ds.lock == nil {
		return nil
	}
	if ds.lock.HolderID != actor.ID && actor.Role != RoleAdmin && (ds.ownerID == "" || ds.ownerID != actor.ID) {
		return ErrForbidden
	}
	holder := ds.lock.HolderID
	ds.lock = nil
	c.record(ctx, c.newEntry(docID, actor, ActionUnlock, fmt.Sprintf("强制解锁（原持有者 %s）", holder), ds.version, ds.version, now))
	return nil
}

// HeartbeatPresence 更新在线记录；持有者的心跳顺带续期，但从不授予锁
func (c *Coordinator) HeartbeatPresence(ctx context.Context, docID string, user User, upd PresenceUpdate) error {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return err
	}
	now := c.now()
	c.expireLocked(ctx, docID, ds, now)
	c.touchPresenceLocked(ds, user, upd, now)
	if ds.lock != nil && ds.lock.HolderID == user.ID {
		ds.lock.ExpiresAt = now.Add(c.LockTTL())
	}
	ds.mu.Unlock()

	c.mirror(ctx, docID, user)
	return nil
}

// Write 仅持有者可写，expected 必须等于当前版本；成功后版本 +1 并追加 update 记录
func (c *Coordinator) Write(ctx context.Context, docID string, user User, content string, expected uint64) (uint64, error) {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return 0, err
	}
	defer ds.mu.Unlock()
	now := c.now()
	c.expireLocked(ctx, docID, ds, now)
	if ds.lock == nil || ds.lock.HolderID != user.ID {
		return 0, ErrNotHolder
	}
	if expected != ds.version {
		return 0, &VersionConflictError{DocumentID: docID, Expected: expected, Current: ds.version}
	}

	before := ds.version
	rec := ContentRecord{
		DocumentID:   docID,
		Title:        ds.title,
		OwnerID:      ds.ownerID,
		Content:      content,
		Version:      before + 1,
		UpdatedAt:    now,
		LastEditedBy: user.Name,
	}
	if err := c.content.Save(ctx, rec); err != nil {
		return 0, fmt.Errorf("save content: %w", err)
	}
	ds.content = content
	ds.version = rec.Version
	ds.updatedAt = now
	ds.lastEditedBy = user.Name
	ds.created = true
	ds.lock.ExpiresAt = now.Add(c.LockTTL())
	c.touchPresenceLocked(ds, user, PresenceUpdate{}, now)
	c.record(ctx, c.newEntry(docID, user, ActionUpdate, "编辑内容", before, ds.version, now))
	return ds.version, nil
}

// State 锁状态与最近活跃的编辑者
func (c *Coordinator) State(ctx context.Context, docID string) (DocumentState, error) {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return DocumentState{}, err
	}
	defer ds.mu.Unlock()
	now := c.now()
	c.expireLocked(ctx, docID, ds, now)

	st := DocumentState{DocumentID: docID, ActiveEditors: []Presence{}}
	if ds.lock != nil {
		exp := ds.lock.ExpiresAt
		st.IsLocked = true
		st.LockedBy = ds.lock.HolderID
		st.LockedByName = ds.lock.HolderName
		st.ExpiresAt = &exp
	}
	threshold := now.Add(-c.presenceTTL)
	for _, p := range ds.presence {
		if p.LastActiveAt.After(threshold) {
			st.ActiveEditors = append(st.ActiveEditors, *p)
		}
	}
	sort.Slice(st.ActiveEditors, func(i, j int) bool { return st.ActiveEditors[i].UserID < st.ActiveEditors[j].UserID })
	return st, nil
}

// Content 从未写过的文档返回版本 0 和空内容
func (c *Coordinator) Content(ctx context.Context, docID string) (DocumentContent, error) {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return DocumentContent{}, err
	}
	defer ds.mu.Unlock()
	return DocumentContent{
		DocumentID:   docID,
		Title:        ds.title,
		Content:      ds.content,
		Version:      ds.version,
		UpdatedAt:    ds.updatedAt,
		LastEditedBy: ds.lastEditedBy,
	}, nil
}

// History 最新在前，page 从 1 开始
func (c *Coordinator) History(ctx context.Context, docID string, page, pageSize int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	items, total, err := c.history.List(ctx, docID, (page-1)*pageSize, pageSize)
	if err != nil {
		return HistoryPage{}, err
	}
	if items == nil {
		items = []HistoryEntry{}
	}
	return HistoryPage{Items: items, Total: total}, nil
}

// Create 建立文档并记录 create
func (c *Coordinator) Create(ctx context.Context, docID string, user User, title string) error {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return err
	}
	defer ds.mu.Unlock()
	if ds.created {
		return ErrDocumentExists
	}
	now := c.now()
	rec := ContentRecord{DocumentID: docID, Title: title, OwnerID: user.ID, Version: ds.version, UpdatedAt: now, LastEditedBy: user.Name}
	if err := c.content.Save(ctx, rec); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	ds.created = true
	ds.title = title
	ds.ownerID = user.ID
	ds.updatedAt = now
	c.record(ctx, c.newEntry(docID, user, ActionCreate, fmt.Sprintf("创建文档: %s", title), ds.version, ds.version, now))
	return nil
}

// Delete 文档未锁定或由调用者持有时才能删除；历史保留
func (c *Coordinator) Delete(ctx context.Context, docID string, user User) error {
	ds, err := c.lockDoc(ctx, docID)
	if err != nil {
		return err
	}
	defer ds.mu.Unlock()
	now := c.now()
	c.expireLocked(ctx, docID, ds, now)
	if !ds.created {
		return ErrDocumentNotFound
	}
	if ds.lock != nil && ds.lock.HolderID != user.ID {
		return &LockConflictError{DocumentID: docID, Holder: ds.lock.HolderID, HolderName: ds.lock.HolderName, ExpiresAt: ds.lock.ExpiresAt}
	}
	if err := c.content.Delete(ctx, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	c.record(ctx, c.newEntry(docID, user, ActionDelete, fmt.Sprintf("删除文档: %s", ds.title), ds.version, ds.version, now))

	c.mu.Lock()
	if c.docs[docID] == ds {
		delete(c.docs, docID)
	}
	c.mu.Unlock()
	// 已经拿到旧指针的调用会在 lockDoc 中重新获取
	ds.deleted = true
	ds.created = false
	ds.title = ""
	ds.ownerID = ""
	ds.content = ""
	ds.version = 0
	ds.updatedAt = time.Time{}
	ds.lastEditedBy = ""
	ds.lock = nil
	ds.presence = make(map[string]*Presence)
	return nil
}

// ReleaseAll 释放某用户持有的全部锁（退出登录），返回释放数量
func (c *Coordinator) ReleaseAll(ctx context.Context, user User) int {
	c.mu.RLock()
	ids := make([]string, 0, len(c.docs))
	states := make([]*docState, 0, len(c.docs))
	for id, ds := range c.docs {
		ids = append(ids, id)
		states = append(states, ds)
	}
	c.mu.RUnlock()

	released := 0
	for i, ds := range states {
		ds.mu.Lock()
		if ds.deleted {
			ds.mu.Unlock()
			continue
		}
		now := c.now()
		c.expireLocked(ctx, ids[i], ds, now)
		if ds.lock != nil && ds.lock.HolderID == user.ID {
			ds.lock = nil
			c.record(ctx, c.newEntry(ids[i], user, ActionUnlock, "退出登录释放锁", ds.version, ds.version, now))
			released++
		}
		delete(ds.presence, user.ID)
		ds.mu.Unlock()
		if c.presence != nil {
			_ = c.presence.Remove(ctx, ids[i], user.ID)
		}
	}
	return released
}

// Sweep 释放过期锁并清理过期在线记录
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) SweepResult {
	c.mu.RLock()
	ids := make([]string, 0, len(c.docs))
	states := make([]*docState, 0, len(c.docs))
	for id, ds := range c.docs {
		ids = append(ids, id)
		states = append(states, ds)
	}
	c.mu.RUnlock()

	var res SweepResult
	threshold := now.Add(-c.presenceTTL)
	for i, ds := range states {
		ds.mu.Lock()
		if ds.deleted {
			ds.mu.Unlock()
			continue
		}
		if c.expireLocked(ctx, ids[i], ds, now) {
			res.Unlocked++
		}
		for uid, p := range ds.presence {
			if !p.LastActiveAt.After(threshold) {
				delete(ds.presence, uid)
				res.PresenceRemoved++
			}
		}
		ds.mu.Unlock()
	}
	if res.Unlocked > 0 || res.PresenceRemoved > 0 {
		log.Printf("[collab] sweep: unlocked=%d presence_removed=%d", res.Unlocked, res.PresenceRemoved)
	}
	return res
}

// Run 周期执行 Sweep，ctx 结束时退出
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx, c.now())
		}
	}
}
