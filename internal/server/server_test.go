package server

import (
	"bytes"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/metrics"
	"github.com/betbot/p2pbuy/internal/storage"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/config"
	"github.com/betbot/p2pbuy/pkg/kvstore"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

var pdf = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type fixture struct {
	backend *api.MockBackend
	flow    *trade.Flow
	badges  *storage.Badges
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Trade.PollInterval = 5 * time.Millisecond
	cfg.Trade.SyncInterval = time.Millisecond

	backend := api.NewMockBackend()
	m := metrics.New()
	flow := trade.NewFlow(backend, cfg, trade.WithObserver(m))
	t.Cleanup(flow.Close)

	kv, err := kvstore.Open(kvstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	badges := storage.NewBadges(kv)

	s := New(flow, Config{Metrics: m.Handler(), Badges: badges})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &fixture{backend: backend, flow: flow, badges: badges, srv: srv}
}

func pendingTrade(id string, created time.Time) *domain.Trade {
	return &domain.Trade{
		ID:          id,
		OrderID:     "order-1",
		Buyer:       "0xb2",
		TokenAmount: big.NewInt(27260274),
		FiatAmount:  19900,
		Status:      domain.TradeStatusPending,
		CreatedAt:   created,
		ExpiresAt:   created.Add(900 * time.Second),
	}
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func upload(t *testing.T, url string, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	resp, err := http.Post(url, w.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	fx := newFixture(t)

	resp, err := http.Get(fx.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fx.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTradesListAndGet(t *testing.T) {
	fx := newFixture(t)
	fx.flow.Store.Put(pendingTrade("t1", time.Now()))

	resp, err := http.Get(fx.srv.URL + "/api/trades")
	require.NoError(t, err)
	var list struct {
		Trades []tradeResponse `json:"trades"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Trades, 1)
	v := list.Trades[0]
	assert.Equal(t, "t1", v.TradeID)
	assert.Equal(t, "pending", v.ServerStatus)
	assert.Equal(t, "pending", v.Flow)
	assert.True(t, v.CanUpload)
	assert.InDelta(t, 900, v.RemainingSeconds, 2)
	assert.Equal(t, "27260274", v.TokenAmount)

	resp, err = http.Get(fx.srv.URL + "/api/trades/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReceiptUpload(t *testing.T) {
	fx := newFixture(t)
	tr := pendingTrade("t1", time.Now())
	fx.backend.SetTrade(tr)
	fx.flow.Store.Put(tr)

	resp := upload(t, fx.srv.URL+"/api/trades/t1/receipt", "shot.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Zero(t, fx.backend.CallCount("ValidateReceipt"))

	resp = upload(t, fx.srv.URL+"/api/trades/t1/receipt", "receipt.pdf", pdf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Valid bool          `json:"valid"`
		Trade tradeResponse `json:"trade"`
	}
	decode(t, resp, &out)
	assert.True(t, out.Valid)
	assert.False(t, out.Trade.CanUpload)

	resp = upload(t, fx.srv.URL+"/api/trades/t1/receipt", "receipt.pdf", pdf)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "upload closed after a valid receipt")

	resp = upload(t, fx.srv.URL+"/api/trades/nope/receipt", "receipt.pdf", pdf)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReceiptUploadBackendFailureHidesRawError(t *testing.T) {
	fx := newFixture(t)
	fx.flow.Store.Put(pendingTrade("t1", time.Now()))
	fx.backend.FailNext("ValidateReceipt", &api.RelayError{Reason: "dial tcp 10.0.0.1:8000: connection refused"})

	resp := upload(t, fx.srv.URL+"/api/trades/t1/receipt", "receipt.pdf", pdf)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.True(t, strings.HasPrefix(body["error"], "error."))
	assert.NotContains(t, body["error"], "10.0.0.1")
	assert.Empty(t, body["detail"])
}

func TestRetry(t *testing.T) {
	fx := newFixture(t)
	fx.flow.Store.Put(pendingTrade("t1", time.Now()))
	fx.flow.Store.Update("t1", func(e *trade.Entry) { e.Flow = domain.FlowProofFailed })
	fx.flow.Store.Put(pendingTrade("late", time.Now().Add(-time.Hour)))

	resp, err := http.Post(fx.srv.URL+"/api/trades/t1/retry", "", nil)
	require.NoError(t, err)
	var v tradeResponse
	decode(t, resp, &v)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", v.Flow)

	resp, err = http.Post(fx.srv.URL+"/api/trades/late/retry", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSettledBadge(t *testing.T) {
	fx := newFixture(t)
	tr := pendingTrade("t1", time.Now())
	tr.Status = domain.TradeStatusSettled
	fx.flow.Store.Put(tr)
	fx.flow.Store.Update("t1", func(e *trade.Entry) { e.Flow = domain.FlowSettled })

	var v tradeResponse
	resp, err := http.Get(fx.srv.URL + "/api/trades/t1")
	require.NoError(t, err)
	decode(t, resp, &v)
	assert.True(t, v.Unseen)

	resp, err = http.Post(fx.srv.URL+"/api/trades/t1/seen", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(fx.srv.URL + "/api/trades/t1")
	require.NoError(t, err)
	decode(t, resp, &v)
	assert.False(t, v.Unseen)
}

func TestWebSocketFeed(t *testing.T) {
	fx := newFixture(t)
	fx.flow.Store.Put(pendingTrade("t1", time.Now()))

	url := "ws" + strings.TrimPrefix(fx.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	require.Len(t, msg.Trades, 1)

	fx.flow.Store.Update("t1", func(e *trade.Entry) { e.Flow = domain.FlowValidating })
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "trade", msg.Type)
	require.NotNil(t, msg.Trade)
	assert.Equal(t, "validating", msg.Trade.Flow)
}
