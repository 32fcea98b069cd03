package trade

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/pkg/logger"
)

// TradeFetcher 按 id 读取服务端交易记录
type TradeFetcher interface {
	GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error)
}

// PollerConfig 轮询参数；卡住宽限期与绝对上限相互独立
type PollerConfig struct {
	Interval   time.Duration
	StuckGrace time.Duration
	Ceiling    time.Duration
}

type pollJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller 结算轮询：generating_proof -> settled | proof_failed | expired
// 每笔交易一个 goroutine，各自的定时器互不影响
type Poller struct {
	fetch    TradeFetcher
	store    *Store
	cfg      PollerConfig
	now      func() time.Time
	observer Observer
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*pollJob
	wg   sync.WaitGroup
}

// NewPoller 创建轮询器；StopAll 之后不再接受新任务
func NewPoller(fetch TradeFetcher, store *Store, cfg PollerConfig) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetch:    fetch,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		observer: nopObserver{},
		log:      logger.Component("poller"),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*pollJob),
	}
}

// Start 开始轮询；已在轮询的交易不会重复启动
func (p *Poller) Start(tradeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return
	}
	if _, ok := p.jobs[tradeID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	job := &pollJob{cancel: cancel, done: make(chan struct{})}
	p.jobs[tradeID] = job
	p.wg.Add(1)
	go p.run(ctx, tradeID, job)
}

// Active 是否正在轮询
func (p *Poller) Active(tradeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[tradeID]
	return ok
}

// Stop 取消该交易的定时器并等待 goroutine 退出
// 返回后不会再有针对该交易的写入
func (p *Poller) Stop(tradeID string) {
	p.mu.Lock()
	job, ok := p.jobs[tradeID]
	p.mu.Unlock()
	if !ok {
		return
	}
	job.cancel()
	<-job.done
}

// StopAll 停止全部轮询（视图关闭时调用）
func (p *Poller) StopAll() {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, tradeID string, job *pollJob) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.jobs[tradeID] == job {
			delete(p.jobs, tradeID)
		}
		p.mu.Unlock()
		job.cancel()
		close(job.done)
	}()

	log := p.log.WithField(logger.FieldTradeID, tradeID)
	entry, ok := p.store.Get(tradeID)
	if !ok {
		return
	}
	started := p.now()
	if entry.SubmittedAt != nil {
		started = *entry.SubmittedAt
	} else if entry.Trade != nil && entry.Trade.ReceiptUploadedAt != nil {
		started = *entry.Trade.ReceiptUploadedAt
	}
	deadline := started.Add(p.cfg.Ceiling)
	log.WithField("deadline", deadline.Format(time.RFC3339)).Debug("settlement polling started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if p.pollOnce(ctx, tradeID, deadline, log) {
			return
		}
		timer.Reset(p.cfg.Interval)
	}
}

// pollOnce 读取一次服务端状态；返回 true 表示已进入终态
func (p *Poller) pollOnce(ctx context.Context, tradeID string, deadline time.Time, log *logrus.Entry) bool {
	t, err := p.fetch.GetTrade(ctx, tradeID)
	if ctx.Err() != nil {
		return true
	}
	now := p.now()
	if err != nil {
		// 单次失败不中止，下一个 tick 继续；但绝对上限仍然生效
		log.WithError(err).Warn("poll request failed")
		if !now.Before(deadline) {
			return p.finish(tradeID, domain.FlowProofFailed, errclass.Settlement(errclass.CodePollTimeout, err.Error()), log)
		}
		return false
	}

	entry := p.store.Put(t)
	if entry.Flow != domain.FlowGeneratingProof {
		// 已被重试重置或由其他路径结束
		return true
	}

	switch {
	case t.Status == domain.TradeStatusSettled:
		return p.finish(tradeID, domain.FlowSettled, nil, log)
	case t.Status == domain.TradeStatusExpired:
		return p.finish(tradeID, domain.FlowExpired, errclass.Expired("server reported expired"), log)
	case t.SettlementError != nil:
		return p.finish(tradeID, domain.FlowProofFailed, errclass.Settlement(*t.SettlementError, "pipeline reported failure"), log)
	}

	if t.ProofGeneratedAt != nil {
		seen := entry.ProofSeenAt
		if seen == nil {
			first := now
			p.store.Update(tradeID, func(e *Entry) {
				if e.ProofSeenAt == nil {
					e.ProofSeenAt = &first
				}
			})
			seen = &first
		}
		if now.Sub(*seen) >= p.cfg.StuckGrace {
			return p.finish(tradeID, domain.FlowProofFailed,
				errclass.Settlement(errclass.CodeStuckProof, "proof generated but not settled within grace period"), log)
		}
	}

	if !now.Before(deadline) {
		return p.finish(tradeID, domain.FlowProofFailed,
			errclass.Settlement(errclass.CodePollTimeout, "still generating proof at polling ceiling"), log)
	}
	return false
}

// finish 只在本次调用确实把 generating_proof 推进到终态时上报
func (p *Poller) finish(tradeID string, status domain.FlowStatus, f *errclass.Failure, log *logrus.Entry) bool {
	changed := false
	p.store.Update(tradeID, func(e *Entry) {
		if e.Flow != domain.FlowGeneratingProof {
			return
		}
		changed = true
		e.Flow = status
		e.Failure = f
	})
	if !changed {
		log.WithField("status", status).Debug("trade left generating_proof before polling finished")
		return true
	}
	code := ""
	if f != nil {
		code = f.Code
	}
	p.observer.PollFinished(status, code)
	log.WithFields(logrus.Fields{"status": status, "code": code}).Info("settlement polling finished")
	return true
}
