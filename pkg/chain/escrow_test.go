package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/p2pbuy/internal/errclass"
)

type rpcDataErr struct {
	msg  string
	data string
}

func (e *rpcDataErr) Error() string          { return e.msg }
func (e *rpcDataErr) ErrorCode() int         { return 3 }
func (e *rpcDataErr) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	mu           sync.Mutex
	sent         []*ethtypes.Transaction
	receipts     map[common.Hash]*ethtypes.Receipt
	receiptAfter int // 第 n 次查询后才返回回执
	lookups      int
	estimateErr  error
	callErr      error
	callResult   []byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: make(map[common.Hash]*ethtypes.Receipt)}
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 60000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	r, ok := f.receipts[h]
	if !ok || f.lookups <= f.receiptAfter {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*ethtypes.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == h {
			return tx, false, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}

var escrowAddr = common.HexToAddress("0x00000000000000000000000000000000000000e5")

func newTestEscrow(t *testing.T, b *fakeBackend) *EscrowClient {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewEscrowClient(b, key, EscrowConfig{
		ChainID:     8453,
		Escrow:      escrowAddr,
		ReceiptWait: 200 * time.Millisecond,
		ReceiptPoll: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func customErrorData(sig string) string {
	return "0x" + errclass.Selector(sig)
}

func TestWithdrawFromOrderSendsSignedTx(t *testing.T) {
	b := newFakeBackend()
	c := newTestEscrow(t, b)

	h, err := c.WithdrawFromOrder(context.Background(), "42", big.NewInt(5_000_000))
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, h, tx.Hash())
	assert.Equal(t, escrowAddr, *tx.To())

	sender, err := ethtypes.Sender(ethtypes.NewEIP155Signer(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, c.From(), sender)

	method, err := c.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "withdrawFromOrder", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(42), args[0].(*big.Int).Int64())
	assert.Equal(t, int64(5_000_000), args[1].(*big.Int).Int64())
}

func TestUpdateExchangeRate(t *testing.T) {
	b := newFakeBackend()
	c := newTestEscrow(t, b)

	_, err := c.UpdateExchangeRate(context.Background(), "0x2a", 735)
	require.NoError(t, err)
	method, err := c.abi.MethodById(b.sent[0].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "updateExchangeRate", method.Name)

	_, err = c.UpdateExchangeRate(context.Background(), "42", 0)
	assert.Error(t, err)
	_, err = c.UpdateExchangeRate(context.Background(), "not-an-id", 735)
	assert.Error(t, err)
	assert.Len(t, b.sent, 1)
}

func TestEstimateRevertIsClassified(t *testing.T) {
	b := newFakeBackend()
	b.estimateErr = &rpcDataErr{msg: "execution reverted", data: customErrorData("OnlySeller()")}
	c := newTestEscrow(t, b)

	_, err := c.WithdrawFromOrder(context.Background(), "42", big.NewInt(1))
	var re *RevertError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "OnlySeller", re.Reason)
	assert.Equal(t, errclass.KindNotAuthorized, errclass.Classify(err))
	assert.Empty(t, b.sent)
}

func TestWaitForReceipt(t *testing.T) {
	b := newFakeBackend()
	c := newTestEscrow(t, b)

	h, err := c.UpdateExchangeRate(context.Background(), "42", 735)
	require.NoError(t, err)
	b.receiptAfter = 3
	b.receipts[h] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(10)}

	r, err := c.WaitForReceipt(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, h, r.TxHash)
	assert.Greater(t, b.lookups, 3)
}

func TestWaitForReceiptRevert(t *testing.T) {
	b := newFakeBackend()
	c := newTestEscrow(t, b)

	h, err := c.WithdrawFromOrder(context.Background(), "42", big.NewInt(1))
	require.NoError(t, err)
	b.receipts[h] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, TxHash: h, BlockNumber: big.NewInt(10)}
	b.callErr = &rpcDataErr{msg: "execution reverted", data: customErrorData("InsufficientRemaining()")}

	_, err = c.WaitForReceipt(context.Background(), h)
	var re *RevertError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, h, re.TxHash)
	assert.Equal(t, errclass.Selector("InsufficientRemaining()"), hex.EncodeToString(re.RevertData()))
	assert.Equal(t, errclass.KindInsufficientBalance, errclass.Classify(err))
}

func TestWaitForReceiptTimeout(t *testing.T) {
	b := newFakeBackend()
	c := newTestEscrow(t, b)

	_, err := c.WaitForReceipt(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrReceiptTimeout)
	assert.Equal(t, errclass.KindNetworkTimeout, errclass.Classify(err))
}

func TestParseOrderID(t *testing.T) {
	v, err := ParseOrderID("0x2A")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())
	v, err = ParseOrderID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())
	_, err = ParseOrderID("-1")
	assert.Error(t, err)
}

func TestNewEscrowClientValidates(t *testing.T) {
	key, _ := crypto.GenerateKey()
	_, err := NewEscrowClient(newFakeBackend(), nil, EscrowConfig{Escrow: escrowAddr})
	assert.Error(t, err)
	_, err = NewEscrowClient(newFakeBackend(), key, EscrowConfig{})
	assert.Error(t, err)
}
