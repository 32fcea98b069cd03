package trade

import "errors"

var (
	// ErrBusy 上一次创建仍在进行（submitting/syncing）
	ErrBusy = errors.New("trade creation already in progress")
	// ErrUploadClosed 本地倒计时已结束或当前状态不允许上传
	ErrUploadClosed = errors.New("receipt upload not allowed")
	// ErrUnsupportedFormat 凭证不是预期的文档类型，未发出任何请求
	ErrUnsupportedFormat = errors.New("unsupported receipt format")
	// ErrUnknownTrade 本地没有这笔交易
	ErrUnknownTrade = errors.New("unknown trade")
	// ErrRetryNotAllowed 交易已过期或未处于可重试状态
	ErrRetryNotAllowed = errors.New("retry not allowed")
	// ErrSyncInterrupted 链上已创建，等待后端索引时 ctx 结束
	ErrSyncInterrupted = errors.New("trade created but sync interrupted")
	// ErrNoMatch 没有订单能承接该金额
	ErrNoMatch = errors.New("no matching order")
	// ErrStoreClosed 会话已结束
	ErrStoreClosed = errors.New("trade store closed")
)
