package domain

import (
	"math/big"
	"time"
)

// TradeStatus 服务端记录的交易状态（与合约/后端数值一致）
type TradeStatus int

const (
	TradeStatusPending TradeStatus = 0
	TradeStatusSettled TradeStatus = 1
	TradeStatusExpired TradeStatus = 2
)

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusPending:
		return "pending"
	case TradeStatusSettled:
		return "settled"
	case TradeStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal settled/expired 之后状态不会回退
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusSettled || s == TradeStatusExpired
}

// Trade 买家对某个订单的预留
// 可选字段用指针表示“尚未发生”
type Trade struct {
	ID                string      // 交易 ID
	OrderID           string      // 关联订单
	Buyer             string      // 买家地址
	TokenAmount       *big.Int    // 买家应得代币数量（最小单位）
	FiatAmount        int64       // 法币金额（分）
	Status            TradeStatus // 服务端状态
	CreatedAt         time.Time   // 创建时间
	ExpiresAt         time.Time   // 过期时间 = 创建时间 + 支付窗口
	EscrowTxHash      *string     // 创建交易的链上哈希
	SettlementTxHash  *string     // 放币交易哈希
	ReceiptUploadedAt *time.Time  // 凭证上传时间
	ProofGeneratedAt  *time.Time  // 证明生成时间
	SettlementError   *string     // 结算错误码
	Synthesized       bool        // 后端同步超时后本地合成的记录
}

// Key 返回交易的唯一键
func (t *Trade) Key() string {
	return t.ID
}

// Clone 深拷贝，避免多个视图共享同一指针
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	if t.TokenAmount != nil {
		c.TokenAmount = new(big.Int).Set(t.TokenAmount)
	}
	c.EscrowTxHash = cloneString(t.EscrowTxHash)
	c.SettlementTxHash = cloneString(t.SettlementTxHash)
	c.SettlementError = cloneString(t.SettlementError)
	c.ReceiptUploadedAt = cloneTime(t.ReceiptUploadedAt)
	c.ProofGeneratedAt = cloneTime(t.ProofGeneratedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// FlowStatus 客户端本地流程状态（与服务端状态分离存放）
type FlowStatus string

const (
	FlowPending         FlowStatus = "pending"
	FlowValidating      FlowStatus = "validating"
	FlowInvalid         FlowStatus = "invalid"
	FlowGeneratingProof FlowStatus = "generating_proof"
	FlowSettled         FlowStatus = "settled"
	FlowProofFailed     FlowStatus = "proof_failed"
	FlowExpired         FlowStatus = "expired"
)

// IsTerminal 轮询终态
func (s FlowStatus) IsTerminal() bool {
	return s == FlowSettled || s == FlowProofFailed || s == FlowExpired
}

// AcceptsUpload 允许（重新）上传凭证的本地状态
func (s FlowStatus) AcceptsUpload() bool {
	return s == FlowPending || s == FlowInvalid
}

// AcceptsRetry 可以重置回 pending 的本地状态
// pending 无需重置；validating 时上传仍在进行，重置会丢掉后端的校验结果
func (s FlowStatus) AcceptsRetry() bool {
	return s == FlowInvalid || s == FlowGeneratingProof || s == FlowProofFailed
}

// CreateState 创建交易状态机
type CreateState string

const (
	CreateIdle       CreateState = "idle"
	CreateSubmitting CreateState = "submitting"
	CreateSyncing    CreateState = "syncing"
	CreateSuccess    CreateState = "success"
	CreateError      CreateState = "error"
)
