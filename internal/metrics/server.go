package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/betbot/p2pbuy/pkg/logger"
)

// ErrPublicDebugAddr pprof 只允许挂在回环地址上
var ErrPublicDebugAddr = errors.New("debug listener must bind a loopback address")

// DebugMux /metrics、/healthz 和 pprof
func (m *Metrics) DebugMux() *http.ServeMux {
	started := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "ok uptime=%s\n", time.Since(started).Truncate(time.Second))
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	for name, h := range map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	} {
		mux.HandleFunc("/debug/pprof/"+name, h)
	}
	return mux
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %q", ErrPublicDebugAddr, addr)
	}
	return nil
}

// StartDebug 在回环地址上启动 metrics/debug 服务（非阻塞）
// 关闭由调用方负责（shutdown.Manager 的 serve 阶段）
func (m *Metrics) StartDebug(listenAddr string) (*http.Server, error) {
	if err := checkLoopback(listenAddr); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           m.DebugMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Component("metrics").WithError(err).Error("debug server stopped")
		}
	}()
	logger.Component("metrics").WithField("addr", s.Addr).Info("debug server listening")
	return s, nil
}
