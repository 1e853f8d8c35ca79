package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"cafe-system/internal/collab"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientFrame is the only message a subscriber sends.
type clientFrame struct {
	Type   string `json:"type"`
	Cursor int64  `json:"cursor"`
}

func (s *Server) branchStream(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.stream(c, domain.BranchChannel(id))
}

func (s *Server) userStream(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.stream(c, domain.UserChannel(id))
}

// stream opens the subscription before upgrading so permission and cursor
// errors still reach the client as plain HTTP problems.
func (s *Server) stream(c echo.Context, key domain.ChannelKey) error {
	var cursor *int64
	if raw := c.QueryParam("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Validationf("bad cursor %q", raw)
		}
		cursor = &n
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	st, err := s.Open(ctx, key, cursor)
	if err != nil {
		return err
	}
	defer st.Close()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered
		return nil
	}
	conn := &wsConn{ws: ws}
	defer ws.Close()

	lg := s.lg.FromContext(ctx).With(map[string]any{"channel": string(key), "user_id": caller(c).UserID})
	lg.Info("stream_opened", nil)
	defer lg.Info("stream_closed", nil)

	go readAcks(ctx, cancel, conn, st, lg)

	for {
		select {
		case <-ctx.Done():
			conn.close(websocket.CloseNormalClosure, "")
			return nil
		case f, ok := <-st.Frames():
			if !ok {
				conn.close(websocket.CloseGoingAway, "server shutting down")
				return nil
			}
			if err := conn.write(viewFrame(f)); err != nil {
				lg.Debug("stream_write_failed", map[string]any{"error": err.Error()})
				return nil
			}
		}
	}
}

// readAcks runs until the client goes away, then cancels the stream.
func readAcks(ctx context.Context, cancel context.CancelFunc, conn *wsConn, st collab.Stream, lg *logger.Logger) {
	defer cancel()
	conn.ws.SetReadLimit(maxFrameSize)
	for {
		var msg clientFrame
		if err := conn.ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "ack" {
			_ = conn.write(errorFrame(domain.Validationf("unknown frame type %q", msg.Type)))
			continue
		}
		if err := st.Ack(ctx, msg.Cursor); err != nil {
			lg.Debug("stream_ack_rejected", map[string]any{"cursor": msg.Cursor, "error": err.Error()})
			_ = conn.write(errorFrame(err))
		}
	}
}

func errorFrame(err error) frame {
	de := domain.AsError(err)
	return frame{Type: "error", TS: time.Now().UTC(), Payload: problem{Code: string(de.Kind), Message: de.Message, Details: de.Details}}
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
