// Package errclass 把钱包/链/后端错误归类为封闭集合的 Kind，并映射到唯一的消息 key。
//
// 分类顺序：结构化信号（RPC 错误码、revert 数据选择器、HTTP 状态码、超时类型）优先，
// 其次按合约自定义错误名精确匹配，最后才做子串匹配。匹配规则全部是数据表。
package errclass

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker"
)

// Kind 错误种类
type Kind string

const (
	KindUserRejected        Kind = "user_rejected"
	KindNotAuthorized       Kind = "not_authorized"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInvalidAmount       Kind = "invalid_amount"
	KindNotFound            Kind = "not_found"
	KindInsufficientGas     Kind = "insufficient_gas"
	KindNetworkTimeout      Kind = "network_timeout"
	KindRevert              Kind = "revert"
	KindUnknown             Kind = "unknown"
)

// Kinds 全部种类（测试遍历用）
var Kinds = []Kind{
	KindUserRejected, KindNotAuthorized, KindInsufficientBalance, KindInvalidAmount,
	KindNotFound, KindInsufficientGas, KindNetworkTimeout, KindRevert, KindUnknown,
}

var kindMessageKeys = map[Kind]string{
	KindUserRejected:        "error.user_rejected",
	KindNotAuthorized:       "error.not_authorized",
	KindInsufficientBalance: "error.insufficient_balance",
	KindInvalidAmount:       "error.invalid_amount",
	KindNotFound:            "error.not_found",
	KindInsufficientGas:     "error.insufficient_gas",
	KindNetworkTimeout:      "error.network_timeout",
	KindRevert:              "error.transaction_reverted",
	KindUnknown:             "error.unknown",
}

// MessageKey 每个 Kind 对应唯一的消息 key
func MessageKey(k Kind) string {
	if key, ok := kindMessageKeys[k]; ok {
		return key
	}
	return kindMessageKeys[KindUnknown]
}

// EIP-1193 / JSON-RPC 错误码
var rpcCodeKinds = map[int]Kind{
	4001:   KindUserRejected,
	4100:   KindNotAuthorized,
	-32003: KindRevert, // transaction rejected
	3:      KindRevert, // execution reverted（geth 附带 revert data）
}

// HTTP 状态码
var httpStatusKinds = map[int]Kind{
	401: KindNotAuthorized,
	403: KindNotAuthorized,
	404: KindNotFound,
	408: KindNetworkTimeout,
	422: KindInvalidAmount,
	429: KindNetworkTimeout,
	502: KindNetworkTimeout,
	503: KindNetworkTimeout,
	504: KindNetworkTimeout,
}

// 托管合约自定义错误。选择器 = keccak256(签名)[:4]
var contractErrors = []struct {
	Signature string
	Kind      Kind
}{
	{"OrderNotFound()", KindNotFound},
	{"TradeNotFound()", KindNotFound},
	{"NotAuthorized()", KindNotAuthorized},
	{"OnlySeller()", KindNotAuthorized},
	{"OnlyRelayer()", KindNotAuthorized},
	{"OnlyBuyer()", KindNotAuthorized},
	{"InsufficientBalance()", KindInsufficientBalance},
	{"InsufficientRemaining()", KindInsufficientBalance},
	{"InvalidAmount()", KindInvalidAmount},
	{"InvalidExchangeRate()", KindInvalidAmount},
	{"AmountBelowFee()", KindInvalidAmount},
	{"TradeExpired()", KindRevert},
	{"TradeNotPending()", KindRevert},
	{"InvalidProof()", KindRevert},
}

var (
	selectorKinds = buildSelectorTable()
	nameKinds     = buildNameTable()
	selectorRe    = regexp.MustCompile(`0x[0-9a-fA-F]{8}`)
)

const (
	selectorErrorString = "08c379a0" // Error(string)
	selectorPanic       = "4e487b71" // Panic(uint256)
)

// 最后手段：小写子串，按顺序首个命中
var substringKinds = []struct {
	Substr string
	Kind   Kind
}{
	{"user rejected", KindUserRejected},
	{"user denied", KindUserRejected},
	{"rejected the request", KindUserRejected},
	{"insufficient funds for gas", KindInsufficientGas},
	{"intrinsic gas too low", KindInsufficientGas},
	{"out of gas", KindInsufficientGas},
	{"gas required exceeds", KindInsufficientGas},
	{"not authorized", KindNotAuthorized},
	{"unauthorized", KindNotAuthorized},
	{"insufficient balance", KindInsufficientBalance},
	{"exceeds balance", KindInsufficientBalance},
	{"invalid amount", KindInvalidAmount},
	{"not found", KindNotFound},
	{"timeout", KindNetworkTimeout},
	{"timed out", KindNetworkTimeout},
	{"connection refused", KindNetworkTimeout},
	{"connection reset", KindNetworkTimeout},
	{"execution reverted", KindRevert},
	{"revert", KindRevert},
}

// Selector 计算错误签名的 4 字节选择器（小写 hex，无 0x）
func Selector(signature string) string {
	return hex.EncodeToString(keccak4(signature))
}

func keccak4(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func buildSelectorTable() map[string]Kind {
	m := make(map[string]Kind, len(contractErrors))
	for _, e := range contractErrors {
		m[Selector(e.Signature)] = e.Kind
	}
	return m
}

func buildNameTable() map[string]Kind {
	m := make(map[string]Kind, len(contractErrors))
	for _, e := range contractErrors {
		m[strings.TrimSuffix(e.Signature, "()")] = e.Kind
	}
	return m
}

// RevertDataError 携带原始 revert data 的错误（pkg/chain.RevertError 实现）
type RevertDataError interface {
	RevertData() []byte
}

// HTTPStatusError 携带 HTTP 状态码的错误（pkg/sdk/http.HTTPError 实现）
type HTTPStatusError interface {
	HTTPStatus() int
}

// Classify 返回错误种类；nil 返回 KindUnknown
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if k, ok := classifyStructured(err); ok {
		return k
	}
	return classifyText(err.Error())
}

func classifyStructured(err error) (Kind, bool) {
	var rd RevertDataError
	if errors.As(err, &rd) {
		if k, ok := classifyRevertData(rd.RevertData()); ok {
			return k, true
		}
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			if raw, derr := hex.DecodeString(strings.TrimPrefix(data, "0x")); derr == nil {
				if k, ok := classifyRevertData(raw); ok {
					return k, true
				}
			}
		}
	}

	var re rpc.Error
	if errors.As(err, &re) {
		if k, ok := rpcCodeKinds[re.ErrorCode()]; ok && k != KindRevert {
			return k, true
		}
	}

	var he HTTPStatusError
	if errors.As(err, &he) {
		if k, ok := httpStatusKinds[he.HTTPStatus()]; ok {
			return k, true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindNetworkTimeout, true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindNetworkTimeout, true
	}

	// 带 revert 码但没有可识别 data 的 RPC 错误，交给文本再细分一次
	if errors.As(err, &re) && rpcCodeKinds[re.ErrorCode()] == KindRevert {
		if k := classifyText(err.Error()); k != KindUnknown {
			return k, true
		}
		return KindRevert, true
	}
	return "", false
}

func classifyRevertData(data []byte) (Kind, bool) {
	if len(data) < 4 {
		return "", false
	}
	sel := hex.EncodeToString(data[:4])
	switch sel {
	case selectorErrorString:
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return KindRevert, true
		}
		if k := classifyText(reason); k != KindUnknown {
			return k, true
		}
		return KindRevert, true
	case selectorPanic:
		return KindRevert, true
	}
	if k, ok := selectorKinds[sel]; ok {
		return k, true
	}
	return KindRevert, true
}

func classifyText(text string) Kind {
	for _, m := range selectorRe.FindAllString(text, -1) {
		if k, ok := selectorKinds[strings.ToLower(m[2:])]; ok {
			return k
		}
	}
	for _, word := range identifiers(text) {
		if k, ok := nameKinds[word]; ok {
			return k
		}
	}
	lower := strings.ToLower(text)
	for _, s := range substringKinds {
		if strings.Contains(lower, s.Substr) {
			return s.Kind
		}
	}
	return KindUnknown
}

// identifiers 切出文本中的标识符，用于合约错误名精确匹配
func identifiers(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
}
