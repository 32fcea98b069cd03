package errclass

import (
	"fmt"
	"strings"
)

// Category 失败大类，决定用户的补救方式
type Category string

const (
	CategoryUserAbort          Category = "user_abort"          // 钱包拒签，回到 idle
	CategoryContractRejected   Category = "contract_rejected"   // 提交或回执阶段 revert
	CategoryBackendUnavailable Category = "backend_unavailable" // 网络/超时，瞬时
	CategoryValidationRejected Category = "validation_rejected" // 凭证不合规，可重新上传
	CategoryPipelineFailure    Category = "pipeline_failure"    // 证明/结算失败，不能靠重传恢复
	CategoryExpiry             Category = "expiry"              // 支付窗口已过，需新建交易
)

// 本地产生的失败码
const (
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeStuckProof        = "STUCK_PROOF"
	CodePollTimeout       = "POLL_TIMEOUT"
	CodeExpired           = "EXPIRED"
)

// 凭证校验码 -> 消息 key
var validationMessageKeys = map[string]string{
	CodeUnsupportedFormat:    "receipt.unsupported_format",
	"REPLAY_ATTACK":          "receipt.replay",
	"TIMESTAMP_OUT_OF_RANGE": "receipt.stale",
	"PAYMENT_TOO_OLD":        "receipt.stale",
	"HASH_MISMATCH":          "receipt.hash_mismatch",
	"CONTENT_MISMATCH":       "receipt.hash_mismatch",
	"AMOUNT_MISMATCH":        "receipt.amount_mismatch",
	"ACCOUNT_MISMATCH":       "receipt.account_mismatch",
	"INVALID_SIGNATURE":      "receipt.bad_signature",
}

const defaultValidationKey = "receipt.invalid"

// 结算错误码 -> 消息 key；本地的卡住/超时与后端上报的失败使用不同的 key
var settlementMessageKeys = map[string]string{
	CodeStuckProof:              "settlement.stuck",
	CodePollTimeout:             "settlement.poll_timeout",
	"PROOF_GENERATION_FAILED":   "settlement.proof_failed",
	"PROOF_VERIFICATION_FAILED": "settlement.proof_rejected",
	"SETTLEMENT_REVERTED":       "settlement.reverted",
	"TRADE_EXPIRED":             "settlement.trade_expired",
}

const defaultSettlementKey = "settlement.failed"

// Failure 交易记录上的类型化失败
// Detail 只用于日志，不展示给用户
type Failure struct {
	Category   Category `json:"category"`
	Kind       Kind     `json:"kind,omitempty"`
	Code       string   `json:"code,omitempty"`
	MessageKey string   `json:"message_key"`
	Detail     string   `json:"-"`
	Err        error    `json:"-"` // 原始错误或哨兵错误，供 errors.Is 使用
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Category))
	if f.Kind != "" {
		b.WriteString("/" + string(f.Kind))
	}
	if f.Code != "" {
		b.WriteString("/" + f.Code)
	}
	if f.Detail != "" {
		b.WriteString(": " + f.Detail)
	}
	return b.String()
}

// Recoverable 同一笔交易内能否继续（重传或重试）
func (f *Failure) Recoverable() bool {
	switch f.Category {
	case CategoryUserAbort, CategoryContractRejected, CategoryBackendUnavailable, CategoryValidationRejected:
		return true
	}
	return false
}

// FromError 对错误分类。钱包拒签和网络类错误覆盖调用方给的默认大类
func FromError(fallback Category, err error) *Failure {
	if f, ok := err.(*Failure); ok {
		return f
	}
	k := Classify(err)
	cat := fallback
	switch k {
	case KindUserRejected:
		cat = CategoryUserAbort
	case KindNetworkTimeout:
		cat = CategoryBackendUnavailable
	}
	f := &Failure{Category: cat, Kind: k, MessageKey: MessageKey(k), Err: err}
	if err != nil {
		f.Detail = err.Error()
	}
	return f
}

// Validation 凭证被拒
func Validation(code, details string) *Failure {
	code = strings.ToUpper(strings.TrimSpace(code))
	key, ok := validationMessageKeys[code]
	if !ok {
		key = defaultValidationKey
	}
	return &Failure{Category: CategoryValidationRejected, Code: code, MessageKey: key, Detail: details}
}

// Settlement 证明/结算失败
func Settlement(code, detail string) *Failure {
	code = strings.TrimSpace(code)
	key, ok := settlementMessageKeys[strings.ToUpper(code)]
	if !ok {
		key = defaultSettlementKey
	}
	return &Failure{Category: CategoryPipelineFailure, Code: code, MessageKey: key, Detail: detail}
}

// Expired 支付窗口结束
func Expired(detail string) *Failure {
	return &Failure{Category: CategoryExpiry, Code: CodeExpired, MessageKey: "trade.expired", Detail: detail}
}

// Errorf 构造带明细的失败
func Errorf(cat Category, kind Kind, format string, args ...any) *Failure {
	return &Failure{Category: cat, Kind: kind, MessageKey: MessageKey(kind), Detail: fmt.Sprintf(format, args...)}
}
