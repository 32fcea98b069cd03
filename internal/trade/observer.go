package trade

import "github.com/betbot/p2pbuy/internal/domain"

// Observer 流程结果回调（internal/metrics 实现）
type Observer interface {
	TradeCreated(synthesized bool)
	CreateFailed(kind string)
	ReceiptValidated(valid bool, code string)
	PollFinished(status domain.FlowStatus, code string)
}

type nopObserver struct{}

func (nopObserver) TradeCreated(bool)                       {}
func (nopObserver) CreateFailed(string)                     {}
func (nopObserver) ReceiptValidated(bool, string)           {}
func (nopObserver) PollFinished(domain.FlowStatus, string) {}
