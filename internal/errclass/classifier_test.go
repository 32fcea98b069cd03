package errclass

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcErr struct {
	code int
	msg  string
	data interface{}
}

func (e *rpcErr) Error() string          { return e.msg }
func (e *rpcErr) ErrorCode() int         { return e.code }
func (e *rpcErr) ErrorData() interface{} { return e.data }

type revertErr struct{ data []byte }

func (e *revertErr) Error() string      { return "transaction reverted" }
func (e *revertErr) RevertData() []byte { return e.data }

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("http %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func selectorBytes(t *testing.T, sig string) []byte {
	t.Helper()
	b, err := hex.DecodeString(Selector(sig))
	require.NoError(t, err)
	return b
}

func errorString(t *testing.T, reason string) []byte {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	sel, _ := hex.DecodeString(selectorErrorString)
	return append(sel, packed...)
}

func TestClassifyStructured(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"eip1193 user rejected", &rpcErr{code: 4001, msg: "something"}, KindUserRejected},
		{"eip1193 unauthorized", &rpcErr{code: 4100, msg: "x"}, KindNotAuthorized},
		{"custom error selector in rpc data", &rpcErr{code: 3, msg: "execution reverted", data: "0x" + Selector("InsufficientRemaining()")}, KindInsufficientBalance},
		{"revert data selector", &revertErr{data: selectorBytes(t, "OrderNotFound()")}, KindNotFound},
		{"unknown selector is generic revert", &revertErr{data: []byte{0xde, 0xad, 0xbe, 0xef}}, KindRevert},
		{"error string reason", &revertErr{data: errorString(t, "ERC20: transfer amount exceeds balance")}, KindInsufficientBalance},
		{"panic code", &revertErr{data: append(mustHex(selectorPanic), make([]byte, 32)...)}, KindRevert},
		{"http 404", &statusErr{code: 404}, KindNotFound},
		{"http 503", &statusErr{code: 503}, KindNetworkTimeout},
		{"wrapped http 403", fmt.Errorf("relay: %w", &statusErr{code: 403}), KindNotAuthorized},
		{"deadline", fmt.Errorf("poll: %w", context.DeadlineExceeded), KindNetworkTimeout},
		{"breaker open", gobreaker.ErrOpenState, KindNetworkTimeout},
		{"revert code without data", &rpcErr{code: 3, msg: "execution reverted"}, KindRevert},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestClassifyStructuredBeatsText(t *testing.T) {
	// 文本看起来像超时，但错误码是拒签
	err := &rpcErr{code: 4001, msg: "request timeout while waiting for signature"}
	assert.Equal(t, KindUserRejected, Classify(err))
}

func TestClassifyText(t *testing.T) {
	cases := []struct {
		text string
		want Kind
	}{
		{"MetaMask Tx Signature: User denied transaction signature.", KindUserRejected},
		{"execution reverted: custom error 0x" + Selector("InvalidAmount()"), KindInvalidAmount},
		{"reverted with custom error 'OnlySeller()'", KindNotAuthorized},
		{"insufficient funds for gas * price + value", KindInsufficientGas},
		{"Post \"http://x\": dial tcp: connection refused", KindNetworkTimeout},
		{"execution reverted", KindRevert},
		{"trade not found", KindNotFound},
		{"something odd happened", KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(errors.New(tc.text)))
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, KindUnknown, Classify(nil))
}

func TestSelectorTableIsComplete(t *testing.T) {
	assert.Len(t, selectorKinds, len(contractErrors), "selector collision")
	assert.Equal(t, "08c379a0", Selector("Error(string)"))
	assert.Equal(t, "4e487b71", Selector("Panic(uint256)"))
}

func TestEveryKindHasOneMessageKey(t *testing.T) {
	seen := make(map[string]Kind)
	for _, k := range Kinds {
		key := MessageKey(k)
		require.NotEmpty(t, key)
		if prev, dup := seen[key]; dup {
			t.Fatalf("kinds %s and %s share message key %s", prev, k, key)
		}
		seen[key] = k
	}
	assert.Equal(t, MessageKey(KindUnknown), MessageKey(Kind("bogus")))
}

func TestFromError(t *testing.T) {
	t.Run("user rejection overrides category", func(t *testing.T) {
		f := FromError(CategoryContractRejected, &rpcErr{code: 4001, msg: "denied"})
		assert.Equal(t, CategoryUserAbort, f.Category)
		assert.Equal(t, "error.user_rejected", f.MessageKey)
		assert.True(t, f.Recoverable())
	})

	t.Run("timeout becomes backend unavailable", func(t *testing.T) {
		f := FromError(CategoryContractRejected, context.DeadlineExceeded)
		assert.Equal(t, CategoryBackendUnavailable, f.Category)
	})

	t.Run("revert keeps caller category", func(t *testing.T) {
		f := FromError(CategoryContractRejected, &revertErr{data: selectorBytes(t, "InvalidExchangeRate()")})
		assert.Equal(t, CategoryContractRejected, f.Category)
		assert.Equal(t, KindInvalidAmount, f.Kind)
		assert.Contains(t, f.Detail, "reverted")
	})

	t.Run("failure passes through", func(t *testing.T) {
		orig := Validation("replay_attack", "")
		assert.Same(t, orig, FromError(CategoryPipelineFailure, orig))
	})
}

func TestValidationAndSettlementKeys(t *testing.T) {
	assert.Equal(t, "receipt.replay", Validation("REPLAY_ATTACK", "").MessageKey)
	assert.Equal(t, "receipt.invalid", Validation("SOMETHING_NEW", "").MessageKey)
	assert.True(t, Validation("REPLAY_ATTACK", "").Recoverable())

	stuck := Settlement(CodeStuckProof, "")
	reported := Settlement("PROOF_GENERATION_FAILED", "")
	timeout := Settlement(CodePollTimeout, "")
	assert.NotEqual(t, stuck.MessageKey, reported.MessageKey)
	assert.NotEqual(t, stuck.MessageKey, timeout.MessageKey)
	assert.NotEqual(t, timeout.MessageKey, reported.MessageKey)
	assert.Equal(t, "settlement.failed", Settlement("weird", "").MessageKey)
	assert.False(t, reported.Recoverable())

	exp := Expired("")
	assert.Equal(t, CategoryExpiry, exp.Category)
	assert.NotEqual(t, exp.MessageKey, reported.MessageKey)
}
