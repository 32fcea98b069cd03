package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

var (
	_ trade.Observer      = (*Metrics)(nil)
	_ api.RequestObserver = (*Metrics)(nil).ObserveRequest
)

func TestCounters(t *testing.T) {
	m := New()

	m.TradeCreated(false)
	m.TradeCreated(true)
	m.TradeCreated(true)
	m.CreateFailed("user_rejected")
	m.ReceiptValidated(false, "REPLAY_ATTACK")
	m.ReceiptValidated(true, "")
	m.PollFinished(domain.FlowSettled, "")
	m.PollFinished(domain.FlowProofFailed, "STUCK_PROOF")
	m.ObserveRequest("get_trade", nil)
	m.ObserveRequest("get_trade", errors.New("boom"))
	m.ObserveRequest("get_trade", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesCreated.WithLabelValues("synced")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesCreated.WithLabelValues("synthesized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CreateFailures.WithLabelValues("user_rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations.WithLabelValues("invalid", "REPLAY_ATTACK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollOutcomes.WithLabelValues("proof_failed", "STUCK_PROOF")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("get_trade", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("get_trade", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.TradeCreated(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `p2pbuy_trades_created_total{sync="synced"} 1`)
}

func TestStartDebug(t *testing.T) {
	m := New()

	_, err := m.StartDebug("0.0.0.0:0")
	require.ErrorIs(t, err, ErrPublicDebugAddr)

	srv, err := m.StartDebug("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + srv.Addr + "/metrics")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get("http://" + srv.Addr + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(string(body), "ok uptime="))
}
