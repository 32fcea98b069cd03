package trade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
)

// Entry 一笔交易在本地的完整视图
// Trade.Status 是服务端状态（结算真相），Flow 是本地流程状态（上传门控等），两者分开存放
type Entry struct {
	Trade       *domain.Trade
	Order       *domain.Order // 下单时的订单快照，可能为空（恢复场景）
	Flow        domain.FlowStatus
	Failure     *errclass.Failure
	SubmittedAt *time.Time // 凭证校验通过的时间（轮询上限从这里算）
	ProofSeenAt *time.Time // 首次观察到 proof_generated_at 的本地时间
	UpdatedAt   time.Time
	Version     uint64
}

func (e Entry) clone() Entry {
	c := e
	c.Trade = e.Trade.Clone()
	if e.Order != nil {
		o := *e.Order
		c.Order = &o
	}
	if e.Failure != nil {
		f := *e.Failure
		c.Failure = &f
	}
	c.SubmittedAt = cloneTime(e.SubmittedAt)
	c.ProofSeenAt = cloneTime(e.ProofSeenAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Event 交易记录变更通知
type Event struct {
	TradeID string
	Entry   Entry
}

// Store 会话内共享的交易状态容器，由生产者（Creator/Submitter/Poller）和
// 消费者（TUI、本地 API、CLI）显式注入，不使用全局变量
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	version  uint64
	changed  chan struct{} // 每次写入后关闭并替换，用于无丢失等待
	subs     map[int]chan Event
	nextSub  int
	hooks    []func(Event)
	closed   bool
	now      func() time.Time
	closedCh chan struct{}
}

// NewStore 创建空的交易存储
func NewStore() *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		changed:  make(chan struct{}),
		subs:     make(map[int]chan Event),
		now:      time.Now,
		closedCh: make(chan struct{}),
	}
}

// OnChange 注册同步回调（在锁外按写入顺序调用），用于日志/持久化
func (s *Store) OnChange(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Get 返回交易的拷贝
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// List 返回所有交易，按创建时间倒序
func (s *Store) List() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Trade.CreatedAt, out[j].Trade.CreatedAt
		if ti.Equal(tj) {
			return out[i].Trade.ID < out[j].Trade.ID
		}
		return ti.After(tj)
	})
	return out
}

// Put 用服务端观察到的记录覆盖本地缓存（最后一次读取为准）
// 新记录的本地状态为 pending；已经是 settled/expired 的服务端状态不会被旧读数回退
func (s *Store) Put(t *domain.Trade) Entry {
	e, _ := s.update(t.ID, true, func(e *Entry) {
		incoming := t.Clone()
		if e.Trade != nil && e.Trade.Status.IsTerminal() && !incoming.Status.IsTerminal() {
			incoming.Status = e.Trade.Status
		}
		if e.Trade != nil && incoming.EscrowTxHash == nil {
			incoming.EscrowTxHash = e.Trade.EscrowTxHash
		}
		e.Trade = incoming
		if e.Flow == "" {
			e.Flow = domain.FlowPending
		}
	})
	return e
}

// Update 原子修改已存在的交易；不存在时返回 false
func (s *Store) Update(id string, fn func(*Entry)) (Entry, bool) {
	return s.update(id, false, fn)
}

func (s *Store) update(id string, create bool, fn func(*Entry)) (Entry, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, false
	}
	e, ok := s.entries[id]
	if !ok {
		if !create {
			s.mu.Unlock()
			return Entry{}, false
		}
		e = &Entry{}
		s.entries[id] = e
	}
	fn(e)
	s.version++
	e.Version = s.version
	e.UpdatedAt = s.now()
	snapshot := e.clone()

	close(s.changed)
	s.changed = make(chan struct{})
	ev := Event{TradeID: id, Entry: snapshot}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// 订阅者跟不上时丢弃，视图会在下次事件时重新读取最新值
		}
	}
	hooks := s.hooks
	s.mu.Unlock()

	for _, h := range hooks {
		h(ev)
	}
	return snapshot, true
}

// Subscribe 订阅变更事件；返回的函数用于取消订阅
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Await 阻塞直到 pred 对该交易成立、ctx 结束或 store 关闭
func (s *Store) Await(ctx context.Context, id string, pred func(Entry) bool) (Entry, error) {
	for {
		s.mu.RLock()
		e, ok := s.entries[id]
		var snap Entry
		if ok {
			snap = e.clone()
		}
		changed := s.changed
		closed := s.closed
		s.mu.RUnlock()

		if ok && pred(snap) {
			return snap, nil
		}
		if closed {
			return snap, ErrStoreClosed
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		case <-s.closedCh:
		}
	}
}

// Close 结束会话：关闭所有订阅，之后的写入被忽略
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	close(s.closedCh)
}
