package trade

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/pkg/config"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

// Backend 完整的后端能力（api.Client 与 api.MockBackend 都满足）
type Backend interface {
	OrderSource
	TradeCreatorBackend
	ReceiptValidator
}

// Journal 本地交易日志（internal/storage 实现），用于重启后恢复
type Journal interface {
	Save(ctx context.Context, e Entry) error
}

// Flow 买家端完整流程：撮合 -> 创建 -> 上传凭证 -> 结算轮询，外加本地倒计时
type Flow struct {
	Store     *Store
	Clock     *ExpiryClock
	Creator   *Creator
	Submitter *Submitter
	Poller    *Poller
	Orders    *OrderBook

	backend  Backend
	journal  Journal
	observer Observer
	log      *logrus.Entry
}

// Option Flow 选项
type Option func(*Flow)

// WithRelay 使用买家钱包对中继请求签名
func WithRelay(r RelayConfig) Option {
	return func(f *Flow) { f.Creator.relay = r }
}

// WithJournal 每次状态变化写入日志
func WithJournal(j Journal) Option {
	return func(f *Flow) { f.journal = j }
}

// WithObserver 指标回调
func WithObserver(o Observer) Option {
	return func(f *Flow) {
		if o == nil {
			return
		}
		f.observer = o
		f.Creator.observer = o
		f.Submitter.observer = o
		f.Poller.observer = o
	}
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.Clock.now = now
		f.Creator.now = now
		f.Poller.now = now
		f.Store.now = now
	}
}

// NewFlow 组装各组件；所有时间参数来自配置
func NewFlow(backend Backend, cfg *config.Config, opts ...Option) *Flow {
	store := NewStore()
	clock := NewExpiryClock(cfg.Trade.ExpiryTick)
	poller := NewPoller(backend, store, PollerConfig{
		Interval:   cfg.Trade.PollInterval,
		StuckGrace: cfg.Trade.StuckProofGrace,
		Ceiling:    cfg.Trade.PollCeiling,
	})
	f := &Flow{
		Store: store,
		Clock: clock,
		Creator: NewCreator(backend, CreatorConfig{
			SyncInterval:    cfg.Trade.SyncInterval,
			SyncMaxAttempts: cfg.Trade.SyncMaxAttempts,
			PaymentWindow:   cfg.Trade.PaymentWindow,
		}, RelayConfig{}),
		Submitter: NewSubmitter(backend, store, clock, poller),
		Poller:    poller,
		Orders:    NewOrderBook(backend, cfg.Fees, cfg.Orders.RefreshInterval),
		backend:   backend,
		observer:  nopObserver{},
		log:       logger.Component("flow"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.journal != nil {
		store.OnChange(func(ev Event) {
			if err := f.journal.Save(context.Background(), ev.Entry); err != nil {
				f.log.WithError(err).WithField(logger.FieldTradeID, ev.TradeID).Warn("journal write failed")
			}
		})
	}
	return f
}

// Buy 对选定订单创建交易并放入共享存储
func (f *Flow) Buy(ctx context.Context, order domain.Order, buyer string, fiatMinor int64) (*CreateResult, error) {
	res, err := f.Creator.Create(ctx, CreateRequest{Order: order, Buyer: buyer, FiatMinor: fiatMinor})
	if err != nil {
		// ErrSyncInterrupted 时 res 带着 TradeID，调用方可以稍后 Resume
		return res, err
	}
	o := order
	f.Store.Put(res.Trade)
	f.Store.Update(res.TradeID, func(e *Entry) {
		e.Order = &o
	})
	return res, nil
}

// Upload 上传支付凭证
func (f *Flow) Upload(ctx context.Context, tradeID string, r api.Receipt) (*api.ValidationResult, error) {
	return f.Submitter.Submit(ctx, tradeID, r)
}

// Retry 取消该交易的轮询定时器，把本地状态重置为 pending，开始新的校验周期
// 只允许 invalid/generating_proof/proof_failed；本地倒计时已结束或服务端已结算时不允许
func (f *Flow) Retry(tradeID string) error {
	e, ok := f.Store.Get(tradeID)
	if !ok {
		return ErrUnknownTrade
	}
	if !e.Flow.AcceptsRetry() || e.Trade.Status.IsTerminal() || f.Clock.Elapsed(e.Trade, f.Clock.Now()) {
		return ErrRetryNotAllowed
	}
	f.Poller.Stop(tradeID)
	reset := false
	_, ok = f.Store.Update(tradeID, func(e *Entry) {
		// Get 和 Update 之间状态可能已变化
		if !e.Flow.AcceptsRetry() {
			return
		}
		reset = true
		e.Flow = domain.FlowPending
		e.Failure = nil
		e.SubmittedAt = nil
		e.ProofSeenAt = nil
	})
	if !ok {
		return ErrUnknownTrade
	}
	if !reset {
		return ErrRetryNotAllowed
	}
	f.log.WithField(logger.FieldTradeID, tradeID).Info("trade reset to pending for retry")
	return nil
}

// Resume 从服务端当前状态恢复一笔交易（不重放本地历史）
// 已上传凭证但未结算的交易重新开始轮询
func (f *Flow) Resume(ctx context.Context, tradeID string, prev *Entry) (Entry, error) {
	t, err := f.backend.GetTrade(ctx, tradeID)
	if err != nil {
		if prev == nil || prev.Trade == nil || !errors.Is(err, api.ErrNotFound) {
			return Entry{}, err
		}
		// 后端尚未索引（例如本地合成的记录），沿用日志里的记录
		t = prev.Trade
	}
	f.Store.Put(t)
	e, _ := f.Store.Update(tradeID, func(e *Entry) {
		if prev != nil {
			if e.Order == nil {
				e.Order = prev.Order
			}
			e.SubmittedAt = prev.SubmittedAt
			if prev.Flow != "" {
				e.Flow = prev.Flow
				e.Failure = prev.Failure
			}
		}
		switch {
		case t.Status == domain.TradeStatusSettled:
			e.Flow = domain.FlowSettled
			e.Failure = nil
		case t.Status == domain.TradeStatusExpired:
			e.Flow = domain.FlowExpired
			e.Failure = errclass.Expired("server reported expired")
		case t.SettlementError != nil:
			e.Flow = domain.FlowProofFailed
			e.Failure = errclass.Settlement(*t.SettlementError, "pipeline reported failure")
		case t.ReceiptUploadedAt != nil && !e.Flow.IsTerminal() && e.Flow != domain.FlowInvalid:
			e.Flow = domain.FlowGeneratingProof
		case e.Flow == domain.FlowValidating:
			// 上传途中退出：服务端没有记录，允许重新上传
			e.Flow = domain.FlowPending
		}
	})
	if e.Flow == domain.FlowGeneratingProof {
		f.Poller.Start(tradeID)
	}
	return e, nil
}

// SweepExpired 本地倒计时归零且仍待上传的交易显示为过期（不修改服务端状态字段）
func (f *Flow) SweepExpired(now time.Time) {
	for _, e := range f.Store.List() {
		if e.Trade == nil || !f.Clock.Elapsed(e.Trade, now) {
			continue
		}
		if e.Flow != domain.FlowPending && e.Flow != domain.FlowInvalid {
			continue
		}
		f.Store.Update(e.Trade.ID, func(x *Entry) {
			if x.Flow == domain.FlowPending || x.Flow == domain.FlowInvalid {
				x.Flow = domain.FlowExpired
				x.Failure = errclass.Expired("payment window elapsed")
			}
		})
	}
}

// RunExpiry 按 tick 扫描本地过期，直到 ctx 结束
func (f *Flow) RunExpiry(ctx context.Context) {
	f.Clock.Run(ctx, f.SweepExpired)
}

// Close 停止所有定时器并结束会话
func (f *Flow) Close() {
	f.Poller.StopAll()
	f.Orders.Close()
	f.Store.Close()
}
