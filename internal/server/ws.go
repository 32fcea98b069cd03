package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// wsMessage 推送格式：连接后先发一次 snapshot，之后每次变更发 trade
type wsMessage struct {
	Type   string          `json:"type"`
	Trade  *tradeResponse  `json:"trade,omitempty"`
	Trades []tradeResponse `json:"trades,omitempty"`
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// 先订阅再取快照，避免漏掉中间的变更
	events, unsubscribe := s.flow.Store.Subscribe(64)
	defer unsubscribe()

	entries := s.flow.Store.List()
	snapshot := make([]tradeResponse, 0, len(entries))
	for _, e := range entries {
		snapshot = append(snapshot, s.respond(e))
	}
	if err := s.writeWS(conn, wsMessage{Type: "snapshot", Trades: snapshot}); err != nil {
		return
	}

	// 读循环只用于感知断开和处理 pong
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(wsWriteWait))
				return
			}
			r := s.respond(ev.Entry)
			if err := s.writeWS(conn, wsMessage{Type: "trade", Trade: &r}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg wsMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.log.WithError(err).Debug("websocket write failed")
		return err
	}
	return nil
}
