package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/kvstore"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func sampleEntry(id string, created time.Time) trade.Entry {
	escrow := "0xescrow"
	return trade.Entry{
		Trade: &domain.Trade{
			ID:           id,
			OrderID:      "order-1",
			Buyer:        "0xb2",
			TokenAmount:  big.NewInt(27260274),
			FiatAmount:   19900,
			Status:       domain.TradeStatusPending,
			CreatedAt:    created,
			ExpiresAt:    created.Add(900 * time.Second),
			EscrowTxHash: &escrow,
		},
		Order: &domain.Order{
			ID: "order-1", Token: "0xdAC17F958D2ee523a2206206994597C13D831ec7", TokenSymbol: "USDT",
			TokenDecimals: 6, RemainingAmount: big.NewInt(100_000_000), ExchangeRate: 730, Rail: domain.RailAlipay,
		},
		Flow:      domain.FlowPending,
		UpdatedAt: created,
	}
}

func TestJournalRoundTrip(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	e := sampleEntry("t1", created)
	require.NoError(t, j.Save(ctx, e))

	got, ok, err := j.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "27260274", got.Trade.TokenAmount.String())
	assert.Equal(t, int64(19900), got.Trade.FiatAmount)
	assert.True(t, got.Trade.ExpiresAt.Equal(created.Add(900*time.Second)))
	assert.Equal(t, "0xescrow", *got.Trade.EscrowTxHash)
	assert.Nil(t, got.Trade.SettlementTxHash)
	require.NotNil(t, got.Order)
	assert.Equal(t, int64(730), got.Order.ExchangeRate)
	assert.Equal(t, domain.FlowPending, got.Flow)

	_, ok, err = j.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournalUpdatesAndKeepsOrder(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Save(ctx, sampleEntry("t1", created)))

	later := sampleEntry("t1", created)
	later.Order = nil // 恢复场景可能没有订单快照
	later.Flow = domain.FlowProofFailed
	later.Failure = errclass.Settlement(errclass.CodeStuckProof, "detail is not persisted")
	submitted := created.Add(time.Minute)
	later.SubmittedAt = &submitted
	later.Trade.ProofGeneratedAt = &submitted
	later.UpdatedAt = created.Add(2 * time.Minute)
	require.NoError(t, j.Save(ctx, later))

	got, _, err := j.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowProofFailed, got.Flow)
	require.NotNil(t, got.Order, "order snapshot survives")
	require.NotNil(t, got.Failure)
	assert.Equal(t, errclass.CodeStuckProof, got.Failure.Code)
	assert.Equal(t, "settlement.stuck", got.Failure.MessageKey)
	assert.Empty(t, got.Failure.Detail)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, got.SubmittedAt.Equal(submitted))

	// 旧快照不覆盖新快照
	stale := sampleEntry("t1", created)
	stale.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, j.Save(ctx, stale))
	got, _, _ = j.Get(ctx, "t1")
	assert.Equal(t, domain.FlowProofFailed, got.Flow)
}

func TestJournalLoadNewestFirst(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.Save(ctx, sampleEntry("old", base)))
	require.NoError(t, j.Save(ctx, sampleEntry("new", base.Add(time.Hour))))

	all, err := j.Load(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].Trade.ID)

	require.NoError(t, j.Delete(ctx, "new"))
	all, err = j.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Error(t, j.Save(ctx, trade.Entry{}))
}

func TestJournalAsStoreHook(t *testing.T) {
	j := openJournal(t)
	s := trade.NewStore()
	defer s.Close()
	s.OnChange(func(ev trade.Event) { require.NoError(t, j.Save(context.Background(), ev.Entry)) })

	e := sampleEntry("t1", time.Now())
	s.Put(e.Trade)
	s.Update("t1", func(x *trade.Entry) { x.Flow = domain.FlowValidating })

	got, ok, err := j.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.FlowValidating, got.Flow)
}

func TestBadgesUnseen(t *testing.T) {
	kv, err := kvstore.Open(kvstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer kv.Close()
	b := NewBadges(kv)

	unseen, err := b.Unseen([]string{"t1", "t2", "t3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, unseen, "empty set flags everything")

	require.NoError(t, b.MarkSeen("t2", "", "t3"))
	unseen, err = b.Unseen([]string{"t1", "t2", "t3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, unseen)

	seen, err := b.Seen()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t2", "t3"}, seen)

	require.NoError(t, b.Reset())
	unseen, _ = b.Unseen([]string{"t2"})
	assert.Equal(t, []string{"t2"}, unseen)
}
