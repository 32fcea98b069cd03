package cache

import (
	"context"
	"sync"
	"time"
)

// LoadFunc 缓存未命中时的加载函数
type LoadFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry[V]) fresh(now time.Time) bool {
	return now.Sub(e.storedAt) <= e.ttl
}

// 同一 key 的并发加载只执行一次
type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// TTL 带过期时间的内存缓存
// 过期项不会被主动删除：Get 视为不存在，Stale 仍可读到最后一次的值
// （订单列表刷新失败时继续展示旧列表）
type TTL[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]*entry[V]
	inflight   map[K]*call[V]
	defaultTTL time.Duration
	now        func() time.Time
}

// New defaultTTL 为 Set 传 0 时使用的过期时间
func New[K comparable, V any](defaultTTL time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		items:      make(map[K]*entry[V]),
		inflight:   make(map[K]*call[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get 只返回未过期的值
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || !e.fresh(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Stale 返回最后一次写入的值及写入时间，不论是否过期
func (c *TTL[K, V]) Stale(key K) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, time.Time{}, false
	}
	return e.value, e.storedAt, true
}

// Set ttl 为 0 时使用默认值
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, ttl)
}

func (c *TTL[K, V]) set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.items[key] = &entry[V]{value: value, storedAt: c.now(), ttl: ttl}
}

// GetOrLoad 命中直接返回；否则调用 load 并写入缓存
// 同一 key 同时只有一个 load 在跑，其余调用方等待它的结果；load 出错不写缓存
func (c *TTL[K, V]) GetOrLoad(ctx context.Context, key K, load LoadFunc[V]) (V, error) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok && e.fresh(c.now()) {
		c.mu.Unlock()
		return e.value, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.value, cl.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	cl := &call[V]{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = load(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if cl.err == nil {
		c.set(key, cl.value, 0)
	}
	c.mu.Unlock()
	close(cl.done)
	return cl.value, cl.err
}

// Delete 删除缓存项
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Purge 清掉全部项（包括过期但仍可 Stale 读取的）
func (c *TTL[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[V])
}

// Len 当前项数（含过期项）
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
