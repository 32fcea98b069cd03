package trade

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/pkg/config"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

const testToken = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

var pdf = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Trade.SyncInterval = time.Millisecond
	cfg.Trade.SyncMaxAttempts = 5
	cfg.Trade.PollInterval = 5 * time.Millisecond
	cfg.Trade.StuckProofGrace = time.Hour
	cfg.Trade.PollCeiling = time.Hour
	cfg.Trade.ExpiryTick = 5 * time.Millisecond
	cfg.Orders.RefreshInterval = time.Minute
	return cfg
}

func testOrder() domain.Order {
	return domain.Order{
		ID:              "order-1",
		Seller:          "0x00000000000000000000000000000000000000a1",
		Token:           testToken,
		TokenSymbol:     "USDT",
		TokenDecimals:   6,
		TotalAmount:     big.NewInt(100_000_000),
		RemainingAmount: big.NewInt(100_000_000),
		ExchangeRate:    730,
		Rail:            domain.RailAlipay,
		IsPublic:        true,
		CreatedAt:       time.Now().Add(-time.Hour),
	}
}

func pendingTrade(id string, now time.Time) *domain.Trade {
	return &domain.Trade{
		ID:          id,
		OrderID:     "order-1",
		Buyer:       "0x00000000000000000000000000000000000000b2",
		TokenAmount: big.NewInt(27260274),
		FiatAmount:  19900,
		Status:      domain.TradeStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(900 * time.Second),
	}
}

func newTestFlow(t *testing.T, backend *api.MockBackend, cfg *config.Config, opts ...Option) *Flow {
	t.Helper()
	if cfg == nil {
		cfg = fastConfig()
	}
	f := NewFlow(backend, cfg, opts...)
	t.Cleanup(f.Close)
	return f
}

func awaitFlow(t *testing.T, s *Store, id string, want domain.FlowStatus) Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := s.Await(ctx, id, func(e Entry) bool { return e.Flow == want })
	require.NoError(t, err, "waiting for %s, last flow %s", want, e.Flow)
	return e
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
