package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// session is one authenticated WebSocket connection. Outbound frames pass
// through a buffered queue drained by a single writer goroutine, which gives
// each connection FIFO delivery in enqueue order.
type session struct {
	id       string
	userID   uuid.UUID
	deviceID uuid.UUID
	conn     *websocket.Conn
	out      chan Frame
	hub      *Hub
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(hub *Hub, conn *websocket.Conn, userID, deviceID uuid.UUID, logger *slog.Logger) *session {
	return &session{
		id:       uuid.NewString(),
		userID:   userID,
		deviceID: deviceID,
		conn:     conn,
		out:      make(chan Frame, sendBuffer),
		hub:      hub,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (s *session) ID() string          { return s.id }
func (s *session) UserID() uuid.UUID   { return s.userID }
func (s *session) DeviceID() uuid.UUID { return s.deviceID }

// Enqueue never blocks. A full queue means the client stopped draining; the
// connection is torn down rather than letting it stall the hub.
func (s *session) Enqueue(frame Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.logger.Warn("outbound queue full, dropping connection", "conn_id", s.id, "user_id", s.userID)
		s.close()
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// readPump consumes client frames until the connection dies. It runs on the
// connection's own goroutine; frames dispatch in arrival order, so sends from
// one client stay FIFO per conversation. The deferred unregister runs before
// the pump returns, keeping disconnect ordering with later events.
func (s *session) readPump(ctx context.Context) {
	defer func() {
		s.hub.Unregister(ctx, s)
		s.close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("connection read error", "conn_id", s.id, "error", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.Enqueue(errorFrame("", "bad_frame", "malformed frame"))
			continue
		}
		s.hub.Dispatch(ctx, s, frame)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
