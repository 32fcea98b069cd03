package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/internal/metrics"
	"github.com/betbot/p2pbuy/internal/storage"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/config"
	"github.com/betbot/p2pbuy/pkg/kvstore"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
	"github.com/betbot/p2pbuy/pkg/shutdown"
	"github.com/betbot/p2pbuy/pkg/wallet"
)

// env 单次命令运行所需的依赖；关闭顺序由 shutdown.Manager 管理
type env struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	backend  *api.Client
	shutdown *shutdown.Manager
}

// setup 加载配置并初始化日志；quiet 用于 TUI，避免日志刷到界面上
func setup(c *cli.Context, quiet bool) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logFile := cfg.LogFile
	if quiet && logFile == "" {
		logFile = filepath.Join(cfg.StateDir, "logs", "p2pbuy.log")
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: logFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		Quiet:      quiet,
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	m := metrics.New()
	return &env{
		cfg:     cfg,
		metrics: m,
		backend: api.NewClient(api.Options{
			BaseURL:          cfg.Backend.BaseURL,
			Timeout:          cfg.Backend.Timeout,
			RateCapacity:     cfg.Backend.RateCapacity,
			RateRefillPerSec: cfg.Backend.RateRefillPerSec,
			Observer:         m.ObserveRequest,
		}),
		shutdown: shutdown.NewManager(),
	}, nil
}

// close 带超时执行关闭回调
func (e *env) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.shutdown.Shutdown(ctx); err != nil {
		logger.Warnf("关闭未完全成功: %v", err)
	}
}

func (e *env) wallet() (*wallet.Wallet, error) {
	return wallet.FromConfig(e.cfg.Wallet)
}

// flow 组装交易流程并挂上日志库；w 为空时中继请求不带签名
func (e *env) flow(w *wallet.Wallet) (*trade.Flow, *storage.Journal, error) {
	journal, err := storage.OpenJournal(filepath.Join(e.cfg.StateDir, "journal.db"))
	if err != nil {
		return nil, nil, err
	}
	opts := []trade.Option{
		trade.WithJournal(journal),
		trade.WithObserver(e.metrics),
	}
	if w != nil && e.cfg.Chain.EscrowAddress != "" {
		opts = append(opts, trade.WithRelay(trade.RelayConfig{
			Signer:  w,
			ChainID: e.cfg.Chain.ChainID,
			Escrow:  common.HexToAddress(e.cfg.Chain.EscrowAddress),
		}))
	}
	f := trade.NewFlow(e.backend, e.cfg, opts...)
	e.shutdown.Close(shutdown.StageWork, "flow", func() error {
		f.Close()
		return nil
	})
	e.shutdown.Close(shutdown.StageStore, "journal", journal.Close)
	return f, journal, nil
}

func (e *env) badges() (*storage.Badges, error) {
	kv, err := kvstore.Open(kvstore.OpenOptions{Path: filepath.Join(e.cfg.StateDir, "badges")})
	if err != nil {
		return nil, err
	}
	e.shutdown.Close(shutdown.StageStore, "badges", kv.Close)
	return storage.NewBadges(kv), nil
}

// resumeAll 从日志库取出本地创建过的交易，按服务端当前状态恢复
// 单笔失败只记日志，不影响其它交易
func resumeAll(ctx context.Context, f *trade.Flow, j *storage.Journal) (int, error) {
	entries, err := j.Load(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range entries {
		prev := entries[i]
		if prev.Trade == nil {
			continue
		}
		if _, err := f.Resume(ctx, prev.Trade.ID, &prev); err != nil {
			logger.ForTrade("cli", prev.Trade.ID).WithError(err).Warn("恢复交易失败")
			continue
		}
		n++
	}
	return n, nil
}

// resumeOne 恢复单笔交易；日志库里没有时直接按服务端状态
func resumeOne(ctx context.Context, f *trade.Flow, j *storage.Journal, tradeID string) (trade.Entry, error) {
	prev, ok, err := j.Get(ctx, tradeID)
	if err != nil {
		return trade.Entry{}, err
	}
	if !ok {
		return f.Resume(ctx, tradeID, nil)
	}
	return f.Resume(ctx, tradeID, &prev)
}

// awaitSettlement 阻塞到本地流程进入终态
func awaitSettlement(ctx context.Context, f *trade.Flow, tradeID string) (trade.Entry, error) {
	return f.Store.Await(ctx, tradeID, func(e trade.Entry) bool {
		return e.Flow.IsTerminal()
	})
}

// parseFiat 把 "199" / "199.00" 形式的法币金额转换为最小单位（分）
func parseFiat(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid fiat amount %q: %w", s, err)
	}
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("fiat amount %q has more than 2 decimals", s)
	}
	if minor.Sign() <= 0 {
		return 0, fmt.Errorf("fiat amount must be positive")
	}
	return minor.IntPart(), nil
}

// describe 面向用户的错误：只给消息键，原始错误进日志
func describe(err error) error {
	var f *errclass.Failure
	if errors.As(err, &f) {
		logger.Component("cli").WithError(err).Debug("operation failed")
		if f.Code == "" {
			return errors.New(f.MessageKey)
		}
		return fmt.Errorf("%s (%s)", f.MessageKey, f.Code)
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "\t")
	return enc.Encode(v)
}
