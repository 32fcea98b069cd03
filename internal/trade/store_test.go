package trade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/p2pbuy/internal/domain"
)

func TestStorePutGetIsolation(t *testing.T) {
	s := NewStore()
	defer s.Close()

	tr := pendingTrade("t1", time.Now())
	e := s.Put(tr)
	assert.Equal(t, domain.FlowPending, e.Flow)

	tr.TokenAmount.SetInt64(1)
	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "27260274", got.Trade.TokenAmount.String(), "store keeps its own copy")

	got.Trade.FiatAmount = 1
	again, _ := s.Get("t1")
	assert.Equal(t, int64(19900), again.Trade.FiatAmount, "readers get copies")
}

func TestStoreTerminalStatusNeverReverts(t *testing.T) {
	s := NewStore()
	defer s.Close()

	tr := pendingTrade("t1", time.Now())
	tr.Status = domain.TradeStatusSettled
	tr.SettlementTxHash = strPtr("0xsettle")
	s.Put(tr)

	stale := pendingTrade("t1", time.Now())
	e := s.Put(stale)
	assert.Equal(t, domain.TradeStatusSettled, e.Trade.Status)
}

func TestStoreKeepsFlowOnServerUpdate(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Put(pendingTrade("t1", time.Now()))
	s.Update("t1", func(e *Entry) { e.Flow = domain.FlowGeneratingProof })
	e := s.Put(pendingTrade("t1", time.Now()))
	assert.Equal(t, domain.FlowGeneratingProof, e.Flow)
	assert.Equal(t, domain.TradeStatusPending, e.Trade.Status)

	_, ok := s.Update("missing", func(e *Entry) {})
	assert.False(t, ok)
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore()
	ch, unsubscribe := s.Subscribe(4)

	s.Put(pendingTrade("t1", time.Now()))
	ev := <-ch
	assert.Equal(t, "t1", ev.TradeID)
	assert.Equal(t, domain.FlowPending, ev.Entry.Flow)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	ch2, _ := s.Subscribe(1)
	s.Close()
	_, open = <-ch2
	assert.False(t, open, "close ends subscriptions")
}

func TestStoreAwait(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.Put(pendingTrade("t1", time.Now()))

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Update("t1", func(e *Entry) { e.Flow = domain.FlowValidating })
		s.Update("t1", func(e *Entry) { e.Flow = domain.FlowGeneratingProof })
	}()
	e := awaitFlow(t, s, "t1", domain.FlowGeneratingProof)
	assert.Equal(t, domain.FlowGeneratingProof, e.Flow)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Await(ctx, "t1", func(e Entry) bool { return e.Flow == domain.FlowSettled })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStoreListNewestFirst(t *testing.T) {
	s := NewStore()
	defer s.Close()
	base := time.Now()
	s.Put(pendingTrade("old", base.Add(-time.Minute)))
	s.Put(pendingTrade("new", base))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Trade.ID)
	assert.Equal(t, "old", list[1].Trade.ID)
}

func TestStoreOnChangeSeesEveryWrite(t *testing.T) {
	s := NewStore()
	defer s.Close()
	var versions []uint64
	s.OnChange(func(ev Event) { versions = append(versions, ev.Entry.Version) })

	s.Put(pendingTrade("t1", time.Now()))
	s.Update("t1", func(e *Entry) { e.Flow = domain.FlowValidating })
	assert.Equal(t, []uint64{1, 2}, versions)
}
