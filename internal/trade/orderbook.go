package trade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/matcher"
	"github.com/betbot/p2pbuy/pkg/cache"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

// OrderSource 订单列表来源
type OrderSource interface {
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetOrderByPrivateCode(ctx context.Context, code string) (*domain.Order, error)
}

const activeOrdersKey = "active"

// OrderBook 定时刷新的订单列表（轮询，不是推送）
type OrderBook struct {
	src      OrderSource
	fees     matcher.FeeTable
	interval time.Duration
	log      *logrus.Entry

	active  *cache.TTL[string, []domain.Order]
	private *cache.TTL[string, domain.Order]
	runOnce sync.Once
}

// NewOrderBook interval 同时作为缓存 TTL
func NewOrderBook(src OrderSource, fees matcher.FeeTable, interval time.Duration) *OrderBook {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &OrderBook{
		src:      src,
		fees:     fees,
		interval: interval,
		log:      logger.Component("orderbook"),
		active:   cache.New[string, []domain.Order](interval),
		private:  cache.New[string, domain.Order](interval),
	}
}

// Refresh 立即拉取一次订单列表
func (b *OrderBook) Refresh(ctx context.Context) error {
	orders, err := b.src.ListOrders(ctx)
	if err != nil {
		return err
	}
	b.active.Set(activeOrdersKey, orders, 0)
	b.log.WithField("count", len(orders)).Debug("orders refreshed")
	return nil
}

// Run 按固定间隔刷新，直到 ctx 结束；只会启动一次
func (b *OrderBook) Run(ctx context.Context) {
	b.runOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(b.interval)
			defer ticker.Stop()
			for {
				if err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
					b.log.WithError(err).Warn("refresh orders failed")
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	})
}

// Snapshot 最近一次成功拉取的订单（缓存过期后仍返回旧值）
func (b *OrderBook) Snapshot() []domain.Order {
	orders, _, _ := b.active.Stale(activeOrdersKey)
	return orders
}

// LastFetch 最近一次成功拉取的时间
func (b *OrderBook) LastFetch() time.Time {
	_, at, _ := b.active.Stale(activeOrdersKey)
	return at
}

// Candidates 撮合；金额 <= 0 直接返回空，不发请求。缓存过期时先刷新
// 并发调用只会触发一次拉取
func (b *OrderBook) Candidates(ctx context.Context, q matcher.Query) ([]matcher.Candidate, error) {
	if q.FiatMinor <= 0 {
		return nil, nil
	}
	orders, err := b.active.GetOrLoad(ctx, activeOrdersKey, b.src.ListOrders)
	if err != nil {
		return nil, err
	}
	return matcher.SelectCandidates(orders, q, b.fees), nil
}

// LookupPrivate 通过私有口令查订单并撮合（私有订单手续费）
// q.Token/q.Rail 为空时取订单自身的值
func (b *OrderBook) LookupPrivate(ctx context.Context, code string, q matcher.Query) (*matcher.Candidate, error) {
	if q.FiatMinor <= 0 {
		return nil, ErrNoMatch
	}
	o, err := b.private.GetOrLoad(ctx, code, func(ctx context.Context) (domain.Order, error) {
		fetched, err := b.src.GetOrderByPrivateCode(ctx, code)
		if err != nil {
			return domain.Order{}, err
		}
		return *fetched, nil
	})
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, ErrNoMatch
		}
		return nil, err
	}
	if q.Token == "" {
		q.Token = o.Token
	}
	if q.Rail == "" {
		q.Rail = o.Rail
	}
	got := matcher.SelectCandidates([]domain.Order{o}, q, b.fees)
	if len(got) == 0 {
		return nil, ErrNoMatch
	}
	return &got[0], nil
}

// FindOrder 在当前快照中按 id 查找
func (b *OrderBook) FindOrder(id string) (domain.Order, bool) {
	for _, o := range b.Snapshot() {
		if o.ID == id {
			return o, true
		}
	}
	return domain.Order{}, false
}

// Close 丢弃缓存的订单
func (b *OrderBook) Close() {
	b.active.Purge()
	b.private.Purge()
}
