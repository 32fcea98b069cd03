// Package matcher 买家法币金额与卖单的撮合（纯函数，不做网络请求）
package matcher

import (
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/pkg/config"
)

// Candidate 候选订单及其隐含代币数量
type Candidate struct {
	Order         domain.Order
	ImpliedAmount *big.Int // 买家支付 fiat 对应的代币数量（向上取整）
	Fee           *big.Int // 固定手续费（最小单位）
	Required      *big.Int // ImpliedAmount + Fee，订单剩余量必须 >= 此值
}

// NetAmount 买家实际到手 = 隐含数量 - 手续费（不足时为 0）
func (c Candidate) NetAmount() *big.Int {
	n := new(big.Int).Sub(c.ImpliedAmount, c.Fee)
	if n.Sign() < 0 {
		return new(big.Int)
	}
	return n
}

// ImpliedTokenAmount 计算 ceil(fiatMinor * 10^decimals / rate)
// 与链上计算一致：余数由买家承担。rate <= 0 返回 false
func ImpliedTokenAmount(fiatMinor int64, rate int64, decimals uint8) (*big.Int, bool) {
	if rate <= 0 || fiatMinor < 0 {
		return nil, false
	}
	num := new(big.Int).Mul(big.NewInt(fiatMinor), pow10(decimals))
	den := big.NewInt(rate)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q, true
}

// FloorTokenAmount 非向上取整的结果（用于对比测试和展示）
func FloorTokenAmount(fiatMinor int64, rate int64, decimals uint8) (*big.Int, bool) {
	if rate <= 0 || fiatMinor < 0 {
		return nil, false
	}
	num := new(big.Int).Mul(big.NewInt(fiatMinor), pow10(decimals))
	return num.Quo(num, big.NewInt(rate)), true
}

// FiatForTokens round(tokenAmount / 10^decimals * rate)，四舍五入到法币最小单位
// 同步超时后合成本地交易记录时使用
func FiatForTokens(tokenAmount *big.Int, rate int64, decimals uint8) int64 {
	if tokenAmount == nil || rate <= 0 {
		return 0
	}
	d := decimal.NewFromBigInt(tokenAmount, -int32(decimals)).Mul(decimal.NewFromInt(rate))
	return d.Round(0).IntPart()
}

// FormatTokens 最小单位转展示字符串
func FormatTokens(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// FeeTable 固定手续费表（完整代币单位），按代币符号和订单可见性查表
type FeeTable map[string]config.FeeConfig

// FlatFee 返回最小单位的手续费；未配置的代币手续费为 0
func (t FeeTable) FlatFee(symbol string, isPublic bool, decimals uint8) *big.Int {
	fee, ok := t[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return new(big.Int)
	}
	v := fee.Private
	if isPublic {
		v = fee.Public
	}
	return v.Shift(int32(decimals)).Ceil().BigInt()
}

// Query 撮合请求
type Query struct {
	Token     string
	Rail      domain.PaymentRail
	FiatMinor int64
	Sort      domain.SortKey
}

// SelectCandidates 过滤并排序可以承接 fiat 金额的订单
// 代币地址大小写不敏感、支付通道精确匹配、剩余量 >= 隐含数量 + 手续费；
// 汇率为 0 的订单跳过。排序稳定，相同键保持列表原顺序
func SelectCandidates(orders []domain.Order, q Query, fees FeeTable) []Candidate {
	if q.FiatMinor <= 0 {
		return nil
	}
	out := make([]Candidate, 0, len(orders))
	for _, o := range orders {
		if !o.MatchesToken(q.Token) || o.Rail != q.Rail {
			continue
		}
		implied, ok := ImpliedTokenAmount(q.FiatMinor, o.ExchangeRate, o.TokenDecimals)
		if !ok {
			continue
		}
		fee := fees.FlatFee(o.TokenSymbol, o.IsPublic, o.TokenDecimals)
		required := new(big.Int).Add(implied, fee)
		if o.Remaining().Cmp(required) < 0 {
			continue
		}
		out = append(out, Candidate{Order: o, ImpliedAmount: implied, Fee: fee, Required: required})
	}
	SortCandidates(out, q.Sort)
	return out
}

// SortCandidates 按排序键稳定排序
func SortCandidates(c []Candidate, key domain.SortKey) {
	var less func(a, b Candidate) bool
	switch key {
	case domain.SortRateDesc:
		less = func(a, b Candidate) bool { return a.Order.ExchangeRate > b.Order.ExchangeRate }
	case domain.SortNewest:
		less = func(a, b Candidate) bool { return a.Order.CreatedAt.After(b.Order.CreatedAt) }
	case domain.SortOldest:
		less = func(a, b Candidate) bool { return a.Order.CreatedAt.Before(b.Order.CreatedAt) }
	default:
		less = func(a, b Candidate) bool { return a.Order.ExchangeRate < b.Order.ExchangeRate }
	}
	sort.SliceStable(c, func(i, j int) bool { return less(c[i], c[j]) })
}
