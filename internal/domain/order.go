package domain

import (
	"math/big"
	"strings"
	"time"
)

// PaymentRail 链下支付通道
type PaymentRail string

const (
	RailAlipay PaymentRail = "alipay"
	RailWeChat PaymentRail = "wechat"
)

// Order 卖家挂单（托管合约中锁定的流动性单元）
type Order struct {
	ID              string      // 订单 ID
	Seller          string      // 卖家地址
	Token           string      // 代币合约地址
	TokenSymbol     string      // 代币符号（用于查手续费表）
	TokenDecimals   uint8       // 代币精度
	TotalAmount     *big.Int    // 总数量（最小单位）
	RemainingAmount *big.Int    // 剩余可预留数量（最小单位）
	ExchangeRate    int64       // 汇率：每 1 个完整代币对应的法币最小单位（分）
	Rail            PaymentRail // 支付通道
	AccountID       string      // 收款账号
	AccountName     string      // 收款人姓名
	IsPublic        bool        // 是否公开
	PrivateCode     string      // 私有订单口令（可选）
	CreatedAt       time.Time   // 创建时间
}

// Remaining 返回剩余数量（nil 视为 0）
func (o *Order) Remaining() *big.Int {
	if o == nil || o.RemainingAmount == nil {
		return new(big.Int)
	}
	return o.RemainingAmount
}

// IsInert 剩余数量为 0 的订单不再可用
func (o *Order) IsInert() bool {
	return o.Remaining().Sign() <= 0
}

// MatchesToken 代币地址大小写不敏感比较
func (o *Order) MatchesToken(token string) bool {
	return strings.EqualFold(strings.TrimSpace(o.Token), strings.TrimSpace(token))
}

// SortKey 候选订单排序方式
type SortKey string

const (
	SortRateAsc  SortKey = "rate_asc" // 默认：汇率从低到高（对买家最优）
	SortRateDesc SortKey = "rate_desc"
	SortNewest   SortKey = "newest"
	SortOldest   SortKey = "oldest"
)

// ParseSortKey 解析排序方式，未知值回退到默认
func ParseSortKey(s string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case SortRateDesc:
		return SortRateDesc
	case SortNewest:
		return SortNewest
	case SortOldest:
		return SortOldest
	default:
		return SortRateAsc
	}
}
