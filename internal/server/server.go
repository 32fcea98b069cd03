package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/p2pbuy/internal/storage"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/logger"
)

// maxReceiptBytes 凭证文件上限
const maxReceiptBytes = 10 << 20

// Config 本地状态 API 配置
type Config struct {
	Listen  string
	Metrics http.Handler     // 为空时不挂 /metrics
	Badges  *storage.Badges  // 为空时不标记未读
	Now     func() time.Time // 测试用
}

// Server 本地状态 API：交易列表/详情、上传凭证、重试、WebSocket 状态推送
type Server struct {
	flow     *trade.Flow
	cfg      Config
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func New(flow *trade.Flow, cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		flow: flow,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 只监听本机，允许任意 Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.Component("server"),
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = maxReceiptBytes

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if s.cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.Metrics))
	}

	api := r.Group("/api")
	trades := api.Group("/trades")
	trades.GET("", s.handleTradesList)
	tradeID := trades.Group("/:tradeID")
	tradeID.GET("", s.handleTradeGet)
	tradeID.POST("/receipt", s.handleReceiptUpload)
	tradeID.POST("/retry", s.handleRetry)
	tradeID.POST("/seen", s.handleSeen)

	r.GET("/ws", s.handleWS)
	return r
}

// Start 非阻塞启动，ctx 结束时优雅关闭
func (s *Server) Start(ctx context.Context) (*http.Server, error) {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("local api stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.WithField("addr", srv.Addr).Info("local api listening")
	return srv, nil
}

func writeError(c *gin.Context, code int, key string, detail string) {
	body := gin.H{"error": key}
	if detail != "" {
		body["detail"] = detail
	}
	c.AbortWithStatusJSON(code, body)
}
