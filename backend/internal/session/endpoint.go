package session

import (
	"log"
	"sync"
)

// StickyEndpointKey 上次连接成功的地址在本地存储中的键
const StickyEndpointKey = "ws_notify_url"

// EndpointStore 持久化的本地键值存储
type EndpointStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// EndpointResolver 维护候选地址：粘性地址优先，其余按配置顺序
type EndpointResolver struct {
	mu         sync.Mutex
	candidates []string
	sticky     string
	store      EndpointStore
}

func NewEndpointResolver(candidates []string, store EndpointStore) *EndpointResolver {
	r := &EndpointResolver{candidates: append([]string(nil), candidates...), store: store}
	if store != nil {
		if addr, ok := store.Get(StickyEndpointKey); ok {
			r.sticky = addr
		}
	}
	return r
}

// Resolve 返回本轮要依次尝试的地址（已去重）
func (r *EndpointResolver) Resolve() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.candidates)+1)
	seen := make(map[string]struct{}, len(r.candidates)+1)
	add := func(addr string) {
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	add(r.sticky)
	for _, c := range r.candidates {
		add(c)
	}
	return out
}

// Remember 记录连接成功的地址
func (r *EndpointResolver) Remember(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sticky == addr {
		return
	}
	r.sticky = addr
	if r.store != nil {
		if err := r.store.Set(StickyEndpointKey, addr); err != nil {
			log.Printf("[session] save sticky endpoint error: %v", err)
		}
	}
}

// Forget 只在 addr 恰好是粘性地址时清除
func (r *EndpointResolver) Forget(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sticky == "" || r.sticky != addr {
		return
	}
	r.sticky = ""
	if r.store != nil {
		if err := r.store.Delete(StickyEndpointKey); err != nil {
			log.Printf("[session] clear sticky endpoint error: %v", err)
		}
	}
}

func (r *EndpointResolver) Sticky() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sticky
}
