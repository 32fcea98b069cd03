package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/betbot/p2pbuy/pkg/logger"
)

// Backend 托管合约用到的链上能力（*ethclient.Client 满足）
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RevertError 交易回执 status=0 或 eth_call 回滚，携带原始 revert data
// errclass 通过 RevertData() 识别具体的合约错误
type RevertError struct {
	TxHash common.Hash
	Data   []byte
	Reason string
}

func (e *RevertError) Error() string {
	var b strings.Builder
	b.WriteString("execution reverted")
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	} else if len(e.Data) > 0 {
		b.WriteString(": 0x")
		b.WriteString(hex.EncodeToString(e.Data))
	}
	if e.TxHash != (common.Hash{}) {
		b.WriteString(" (tx ")
		b.WriteString(e.TxHash.Hex())
		b.WriteString(")")
	}
	return b.String()
}

func (e *RevertError) RevertData() []byte { return e.Data }

// ErrReceiptTimeout 在等待上限内没有拿到回执
var ErrReceiptTimeout = errors.New("transaction receipt not available before deadline")

// EscrowConfig 托管合约客户端配置
type EscrowConfig struct {
	ChainID      int64
	Escrow       common.Address
	ReceiptWait  time.Duration // 等待回执上限
	ReceiptPoll  time.Duration // 回执轮询间隔
	GasLimitMult float64       // 估算 gas 的放大系数，<=1 时不放大
}

// EscrowClient 卖家侧托管合约操作：撤回剩余额度、更新汇率
type EscrowClient struct {
	backend Backend
	key     *ecdsa.PrivateKey
	cfg     EscrowConfig
	chainID *big.Int
	abi     abi.ABI
	log     *logrus.Entry
}

// Dial 连接 RPC 节点并创建客户端
func Dial(rpcURL string, key *ecdsa.PrivateKey, cfg EscrowConfig) (*EscrowClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}
	return NewEscrowClient(client, key, cfg)
}

// NewEscrowClient 使用已有的 backend 创建客户端
func NewEscrowClient(backend Backend, key *ecdsa.PrivateKey, cfg EscrowConfig) (*EscrowClient, error) {
	if key == nil {
		return nil, errors.New("私钥未配置")
	}
	if cfg.Escrow == (common.Address{}) {
		return nil, errors.New("托管合约地址未配置")
	}
	if cfg.ReceiptWait <= 0 {
		cfg.ReceiptWait = 2 * time.Minute
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	parsed, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("解析托管合约ABI失败: %w", err)
	}
	return &EscrowClient{
		backend: backend,
		key:     key,
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		abi:     parsed,
		log:     logger.Component("escrow"),
	}, nil
}

// From 发送方地址
func (c *EscrowClient) From() common.Address {
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// ParseOrderID 订单 id 支持十进制或 0x 十六进制
func ParseOrderID(id string) (*big.Int, error) {
	s := strings.TrimSpace(id)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("无效的订单ID: %q", id)
	}
	return v, nil
}

// OnChainOrder 合约里的订单状态
type OnChainOrder struct {
	Seller          common.Address
	Token           common.Address
	TotalAmount     *big.Int
	RemainingAmount *big.Int
	ExchangeRate    *big.Int
}

// Order 读取链上订单
func (c *EscrowClient) Order(ctx context.Context, orderID string) (*OnChainOrder, error) {
	id, err := ParseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	data, err := c.abi.Pack("orders", id)
	if err != nil {
		return nil, fmt.Errorf("打包orders参数失败: %w", err)
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.cfg.Escrow, Data: data}, nil)
	if err != nil {
		return nil, c.wrapCallError(err, common.Hash{})
	}
	var out OnChainOrder
	if err := c.abi.UnpackIntoInterface(&out, "orders", result); err != nil {
		return nil, fmt.Errorf("解析orders结果失败: %w", err)
	}
	return &out, nil
}

// WithdrawFromOrder 撤回订单中尚未被预留的额度，返回交易哈希
func (c *EscrowClient) WithdrawFromOrder(ctx context.Context, orderID string, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, errors.New("撤回数量必须大于0")
	}
	id, err := ParseOrderID(orderID)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := c.abi.Pack("withdrawFromOrder", id, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("打包withdrawFromOrder参数失败: %w", err)
	}
	return c.send(ctx, "withdrawFromOrder", data)
}

// UpdateExchangeRate 修改订单汇率（每个完整代币对应的法币最小单位）
func (c *EscrowClient) UpdateExchangeRate(ctx context.Context, orderID string, rate int64) (common.Hash, error) {
	if rate <= 0 {
		return common.Hash{}, errors.New("汇率必须大于0")
	}
	id, err := ParseOrderID(orderID)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := c.abi.Pack("updateExchangeRate", id, big.NewInt(rate))
	if err != nil {
		return common.Hash{}, fmt.Errorf("打包updateExchangeRate参数失败: %w", err)
	}
	return c.send(ctx, "updateExchangeRate", data)
}

func (c *EscrowClient) send(ctx context.Context, method string, data []byte) (common.Hash, error) {
	from := c.From()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取gas价格失败: %w", err)
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &c.cfg.Escrow,
		Data:  data,
		Value: big.NewInt(0),
	})
	if err != nil {
		// 估算阶段的 revert 也带 revert data
		return common.Hash{}, c.wrapCallError(err, common.Hash{})
	}
	if c.cfg.GasLimitMult > 1 {
		gasLimit = uint64(float64(gasLimit) * c.cfg.GasLimitMult)
	}

	tx := ethtypes.NewTransaction(nonce, c.cfg.Escrow, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("发送交易失败: %w", err)
	}
	c.log.WithFields(logrus.Fields{"method": method, "tx": signed.Hash().Hex(), "nonce": nonce}).Info("transaction sent")
	return signed.Hash(), nil
}

// WaitForReceipt 轮询回执直到拿到或超过等待上限
// status=0 时重放调用取回 revert data，返回 *RevertError
func (c *EscrowClient) WaitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptWait)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == ethtypes.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, c.revertReason(ctx, txHash, receipt)
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			c.log.WithError(err).WithField("tx", txHash.Hex()).Warn("receipt lookup failed")
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s: %w", ErrReceiptTimeout, txHash.Hex(), ctx.Err())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *EscrowClient) revertReason(ctx context.Context, txHash common.Hash, receipt *ethtypes.Receipt) error {
	rerr := &RevertError{TxHash: txHash}
	tx, ok := c.replayable(ctx, txHash)
	if !ok {
		return rerr
	}
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From:  c.From(),
		To:    tx.To(),
		Data:  tx.Data(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
	}, receipt.BlockNumber)
	if err == nil {
		return rerr
	}
	if wrapped := c.wrapCallError(err, txHash); wrapped != nil {
		var re *RevertError
		if errors.As(wrapped, &re) {
			return re
		}
	}
	return rerr
}

// replayable 取回已发送的交易用于重放；backend 不支持时放弃
func (c *EscrowClient) replayable(ctx context.Context, txHash common.Hash) (*ethtypes.Transaction, bool) {
	type txFetcher interface {
		TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	}
	f, ok := c.backend.(txFetcher)
	if !ok {
		return nil, false
	}
	tx, _, err := f.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil {
		return nil, false
	}
	return tx, true
}

// wrapCallError 从 RPC 错误中取出 revert data；拿不到时原样返回
func (c *EscrowClient) wrapCallError(err error, txHash common.Hash) error {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return err
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return err
	}
	data, decErr := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if decErr != nil || len(data) < 4 {
		return err
	}
	rerr := &RevertError{TxHash: txHash, Data: data}
	if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
		rerr.Reason = reason
	} else if e, ok := c.customError(data); ok {
		rerr.Reason = e
	}
	return rerr
}

func (c *EscrowClient) customError(data []byte) (string, bool) {
	for name, e := range c.abi.Errors {
		if len(data) >= 4 && string(e.ID[:4]) == string(data[:4]) {
			return name, true
		}
	}
	return "", false
}
