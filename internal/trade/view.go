package trade

import (
	"time"

	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/internal/matcher"
)

// View 一笔交易对外展示的快照（本地 API、CLI、TUI 共用）
// server_status 是结算真相，flow/remaining_seconds/can_upload 来自本地
type View struct {
	TradeID          string            `json:"trade_id"`
	OrderID          string            `json:"order_id"`
	Buyer            string            `json:"buyer"`
	TokenAmount      string            `json:"token_amount"`
	TokenDisplay     string            `json:"token_display,omitempty"`
	TokenSymbol      string            `json:"token_symbol,omitempty"`
	FiatAmount       int64             `json:"fiat_amount"`
	ServerStatus     string            `json:"server_status"`
	Flow             string            `json:"flow"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	CanUpload        bool              `json:"can_upload"`
	ExpiresAt        time.Time         `json:"expires_at"`
	EscrowTxHash     *string           `json:"escrow_tx_hash,omitempty"`
	SettlementTxHash *string           `json:"settlement_tx_hash,omitempty"`
	Synthesized      bool              `json:"synthesized,omitempty"`
	Failure          *errclass.Failure `json:"failure,omitempty"`
	Polling          bool              `json:"polling"`
}

// View 按当前时间生成展示快照
func (f *Flow) View(e Entry, now time.Time) View {
	t := e.Trade
	v := View{
		Flow:      string(e.Flow),
		CanUpload: f.Clock.CanUpload(e, now),
		Failure:   e.Failure,
	}
	if t == nil {
		return v
	}
	v.TradeID = t.ID
	v.OrderID = t.OrderID
	v.Buyer = t.Buyer
	if t.TokenAmount != nil {
		v.TokenAmount = t.TokenAmount.String()
	}
	v.FiatAmount = t.FiatAmount
	v.ServerStatus = t.Status.String()
	v.RemainingSeconds = f.Clock.RemainingSeconds(t, now)
	v.ExpiresAt = t.ExpiresAt
	v.EscrowTxHash = t.EscrowTxHash
	v.SettlementTxHash = t.SettlementTxHash
	v.Synthesized = t.Synthesized
	v.Polling = f.Poller.Active(t.ID)
	if e.Order != nil && t.TokenAmount != nil {
		v.TokenDisplay = matcher.FormatTokens(t.TokenAmount, e.Order.TokenDecimals)
		v.TokenSymbol = e.Order.TokenSymbol
	}
	return v
}

// Views 全部交易（新的在前）
func (f *Flow) Views(now time.Time) []View {
	entries := f.Store.List()
	out := make([]View, 0, len(entries))
	for _, e := range entries {
		out = append(out, f.View(e, now))
	}
	return out
}
