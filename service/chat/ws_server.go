package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/tools/errs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and serves the connection until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		s.log.Info("upgrade websocket failed", zap.Error(err))
		return
	}
	s.Serve(c.Request.Context(), ws)
}

// Serve runs the read loop on the caller's goroutine and the writer on its
// own. It returns once both are finished.
func (s *Server) Serve(ctx context.Context, ws *websocket.Conn) {
	sess := s.reg.Add(ws.RemoteAddr().String())
	log := s.log.With(zap.Int64("connId", sess.ID), zap.String("remote", sess.Remote))
	log.Info("connection opened")

	ws.SetReadLimit(s.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	ws.SetPongHandler(func(string) error {
		s.reg.Touch(sess.ID)
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	})

	done := make(chan struct{})
	go s.writeLoop(ws, sess, done)

	if _, err := s.PushSync(ctx, sess); err != nil {
		log.Warn("initial sync failed", zap.Error(err))
	}

	// ---- 读循环：只读，写交给写协程 ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			logReadError(log, rerr)
			break
		}
		s.reg.Touch(sess.ID)
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		req, perr := ParseRequest(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			log.Warn("bad frame", zap.Error(perr), zap.ByteString("sample", sample))
			s.push(sess, ErrorFrame("", nil, perr))
			continue
		}
		if req.Type == ActionAck {
			continue
		}
		s.push(sess, s.disp.Dispatch(ctx, s, sess, req))
	}

	// ---- 退出：先移出注册表再关闭发送队列，写协程随之收尾 ----
	s.reg.Remove(sess.ID)
	<-done
	log.Info("connection closed")
}

func (s *Server) writeLoop(ws *websocket.Conn, sess *Session, done chan<- struct{}) {
	ticker := time.NewTicker(s.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
		close(done)
	}()

	for {
		select {
		case payload, ok := <-sess.Outbound():
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Info("write failed", zap.Int64("connId", sess.ID), zap.Error(err))
				s.reg.Remove(sess.ID)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.conf.WriteWait)); err != nil {
				s.log.Info("ping failed", zap.Int64("connId", sess.ID), zap.Error(err))
				s.reg.Remove(sess.ID)
				return
			}
		}
	}
}

func logReadError(log *zap.Logger, err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Info("peer closed")
		return
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		log.Info("heartbeat timeout", zap.Error(errs.ErrConnectionLost.WrapMsg("read deadline exceeded")))
		return
	}
	log.Info("read failed", zap.Error(errs.ErrConnectionLost.WrapMsg(err.Error())))
}
