package trade

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/internal/matcher"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

// TradeCreatorBackend 创建交易需要的后端能力
type TradeCreatorBackend interface {
	CreateTrade(ctx context.Context, req api.CreateTradeRequest) (*api.CreateTradeResponse, error)
	GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error)
}

// RelayConfig 中继授权签名参数；Signer 为空时请求不带签名
type RelayConfig struct {
	Signer  api.Signer
	ChainID int64
	Escrow  common.Address
}

// CreateRequest 一次购买
type CreateRequest struct {
	Order     domain.Order
	Buyer     string
	FiatMinor int64
}

// CreateResult 创建结果
type CreateResult struct {
	TradeID     string
	TxHash      string
	Trade       *domain.Trade
	Synthesized bool // 同步超时，本地合成
	Attempts    int  // 同步轮询次数
}

// Creator 交易创建状态机：idle -> submitting -> syncing -> success | error
type Creator struct {
	backend  TradeCreatorBackend
	relay    RelayConfig
	interval time.Duration
	attempts int
	window   time.Duration
	now      func() time.Time
	observer Observer
	log      *logrus.Entry

	mu      sync.Mutex
	state   domain.CreateState
	failure *errclass.Failure
	onState func(domain.CreateState)
}

// CreatorConfig 同步轮询参数
type CreatorConfig struct {
	SyncInterval    time.Duration
	SyncMaxAttempts int
	PaymentWindow   time.Duration
}

// NewCreator 创建交易创建器
func NewCreator(backend TradeCreatorBackend, cfg CreatorConfig, relay RelayConfig) *Creator {
	if cfg.SyncMaxAttempts <= 0 {
		cfg.SyncMaxAttempts = 1
	}
	return &Creator{
		backend:  backend,
		relay:    relay,
		interval: cfg.SyncInterval,
		attempts: cfg.SyncMaxAttempts,
		window:   cfg.PaymentWindow,
		now:      time.Now,
		observer: nopObserver{},
		log:      logger.Component("creator"),
		state:    domain.CreateIdle,
	}
}

// OnStateChange 状态变化回调（CLI 进度展示）
func (c *Creator) OnStateChange(fn func(domain.CreateState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State 当前状态
func (c *Creator) State() domain.CreateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastFailure 最近一次失败（error 状态下有效）
func (c *Creator) LastFailure() *errclass.Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Reset 从 success/error 回到 idle，允许再次创建
func (c *Creator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.CreateSubmitting || c.state == domain.CreateSyncing {
		return
	}
	c.state = domain.CreateIdle
	c.failure = nil
}

func (c *Creator) setState(s domain.CreateState, f *errclass.Failure) {
	c.mu.Lock()
	c.state = s
	c.failure = f
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// begin idle/success/error -> submitting；进行中返回 ErrBusy
func (c *Creator) begin() error {
	c.mu.Lock()
	if c.state == domain.CreateSubmitting || c.state == domain.CreateSyncing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = domain.CreateSubmitting
	c.failure = nil
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(domain.CreateSubmitting)
	}
	return nil
}

// Create 提交中继交易并等待后端索引到该交易
// 提交阶段失败返回 *errclass.Failure；同步超时不视为失败，改为本地合成记录
// 同步阶段 ctx 结束时返回非空的 CreateResult（只有 TradeID/TxHash）和 ErrSyncInterrupted
func (c *Creator) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	implied, ok := matcher.ImpliedTokenAmount(req.FiatMinor, req.Order.ExchangeRate, req.Order.TokenDecimals)
	if !ok || req.FiatMinor <= 0 {
		return nil, errclass.Errorf(errclass.CategoryValidationRejected, errclass.KindInvalidAmount,
			"fiat=%d rate=%d", req.FiatMinor, req.Order.ExchangeRate)
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	log := c.log.WithFields(logrus.Fields{"order_id": req.Order.ID, "fiat": req.FiatMinor})

	resp, err := c.submit(ctx, req)
	if err != nil {
		f := errclass.FromError(errclass.CategoryContractRejected, err)
		log.WithError(err).WithField("kind", f.Kind).Warn("create trade failed")
		c.observer.CreateFailed(string(f.Kind))
		if f.Category == errclass.CategoryUserAbort {
			// 拒签没有任何副作用，直接回到 idle
			c.setState(domain.CreateIdle, f)
		} else {
			c.setState(domain.CreateError, f)
		}
		return nil, f
	}
	log = log.WithFields(logrus.Fields{"trade_id": resp.TradeID, "tx": resp.TxHash})
	log.Info("relay accepted create-trade, syncing")
	c.setState(domain.CreateSyncing, nil)

	res := &CreateResult{TradeID: resp.TradeID, TxHash: resp.TxHash}
	t, attempts, err := c.sync(ctx, resp.TradeID)
	res.Attempts = attempts
	if err != nil {
		// 链上已成交但调用方放弃等待：不合成记录，返回已知的 TradeID/TxHash 供之后 Resume
		f := errclass.FromError(errclass.CategoryBackendUnavailable, fmt.Errorf("%w: %w", ErrSyncInterrupted, err))
		log.WithError(err).WithField("attempts", attempts).Warn("sync interrupted")
		c.setState(domain.CreateError, f)
		return res, f
	}
	if t == nil {
		// 链上交易已成功，后端只是索引滞后：本地合成，流程照常成功
		t = c.synthesize(req, implied, resp)
		res.Synthesized = true
		log.WithField("attempts", attempts).Warn("backend did not report trade in time, using local record")
	} else if t.EscrowTxHash == nil {
		tx := resp.TxHash
		t.EscrowTxHash = &tx
	}
	res.Trade = t
	c.observer.TradeCreated(res.Synthesized)
	c.setState(domain.CreateSuccess, nil)
	return res, nil
}

func (c *Creator) submit(ctx context.Context, req CreateRequest) (*api.CreateTradeResponse, error) {
	body := api.CreateTradeRequest{
		OrderID:      req.Order.ID,
		BuyerAddress: req.Buyer,
		FiatAmount:   req.FiatMinor,
	}
	if c.relay.Signer != nil {
		body.BuyerAddress = c.relay.Signer.Address().Hex()
		body.Deadline = c.now().Add(c.window).Unix()
		sig, err := api.SignCreateTrade(c.relay.Signer, api.RelayAuth{
			ChainID:  c.relay.ChainID,
			Escrow:   c.relay.Escrow,
			OrderID:  body.OrderID,
			Buyer:    c.relay.Signer.Address(),
			Fiat:     body.FiatAmount,
			Deadline: body.Deadline,
		})
		if err != nil {
			return nil, err
		}
		body.Signature = sig
	}
	return c.backend.CreateTrade(ctx, body)
}

// sync 按固定间隔轮询，最多 attempts 次；任何错误（含 404）都继续下一次
// 次数用完返回 (nil, attempts, nil)；ctx 结束返回 ctx.Err()，不算同步超时
func (c *Creator) sync(ctx context.Context, tradeID string) (*domain.Trade, int, error) {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()
	for i := 1; i <= c.attempts; i++ {
		select {
		case <-ctx.Done():
			return nil, i - 1, ctx.Err()
		case <-timer.C:
		}
		t, err := c.backend.GetTrade(ctx, tradeID)
		if err == nil && t != nil {
			return t, i, nil
		}
		if ctx.Err() != nil {
			return nil, i, ctx.Err()
		}
		c.log.WithField(logger.FieldTradeID, tradeID).WithField("attempt", i).Debugf("trade not visible yet: %v", err)
		timer.Reset(c.interval)
	}
	return nil, c.attempts, nil
}

func (c *Creator) synthesize(req CreateRequest, implied *big.Int, resp *api.CreateTradeResponse) *domain.Trade {
	now := c.now()
	tx := resp.TxHash
	return &domain.Trade{
		ID:           resp.TradeID,
		OrderID:      req.Order.ID,
		Buyer:        req.Buyer,
		TokenAmount:  new(big.Int).Set(implied),
		FiatAmount:   matcher.FiatForTokens(implied, req.Order.ExchangeRate, req.Order.TokenDecimals),
		Status:       domain.TradeStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.window),
		EscrowTxHash: &tx,
		Synthesized:  true,
	}
}
