package fitting

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	// 개발용 - 모든 origin 허용
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage - 스트림 메시지 (서버 → 클라이언트: snapshot, 클라이언트 → 서버: cancel / acknowledge)
type StreamMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// streamClient - 웹소켓 연결 하나
type streamClient struct {
	conn    *websocket.Conn
	session *Session
	send    chan []byte
	done    chan struct{}
}

// HandleStream - GET /ws/studio?session=... 상태 스트림
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if err := h.validate.Var(sessionID, "required,printascii,max=128"); err != nil {
		http.Error(w, `{"error": "session is required"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("❌ WebSocket upgrade failed")
		return
	}

	session := h.registry.GetOrCreate(sessionID)
	client := &streamClient{
		conn:    conn,
		session: session,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}

	unsubscribe := session.Compositor.Subscribe(client.push)
	h.log.Info().Str("session", sessionID).Int("subscribers", session.Compositor.Subscribers()).Msg("🔍 New studio stream connection")

	client.push(session.Compositor.Snapshot())

	go client.writePump()
	h.readPump(client, unsubscribe)
}

// push - 버퍼가 가득 차면 해당 snapshot 은 버림 (다음 snapshot 이 최신 상태를 전달)
func (c *streamClient) push(snap Snapshot) {
	msg, err := json.Marshal(StreamMessage{Type: "snapshot", SessionID: c.session.ID, Snapshot: &snap})
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- msg:
	default:
	}
}

func (h *Handler) readPump(c *streamClient, unsubscribe func()) {
	defer func() {
		unsubscribe()
		close(c.done)
		c.conn.Close()
		h.log.Info().Str("session", c.session.ID).Msg("👋 Studio stream closed")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var message StreamMessage
		if err := c.conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("session", c.session.ID).Msg("⚠️ WebSocket error")
			}
			return
		}
		c.session.touch()

		switch message.Type {
		case "cancel":
			h.log.Info().Str("session", c.session.ID).Msg("🛑 Cancel requested via stream")
			h.cancelSession(context.Background(), c.session.ID)
		case "acknowledge":
			c.session.Compositor.Acknowledge()
		case "request_snapshot":
			c.push(c.session.Compositor.Snapshot())
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
