package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avdev/alert_relay/internal/domain"
	"github.com/avdev/alert_relay/internal/usecase"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsAuthTimeout  = 5 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect from arbitrary origins; the token is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsControl is any client->server message: the auth handshake, keep-alives
// and the manual-close control.
type wsControl struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	TradeID string `json:"id,omitempty"`
}

// handleWS upgrades the connection, authenticates it and streams ledger
// events until either side disconnects. Events are invalidation hints:
// subscribers re-fetch /trades or /api/overview on receipt.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	if !s.authenticateWS(conn, r) {
		// 1008 tells the client re-authentication is needed; reconnecting
		// with the same token is pointless.
		deadline := time.Now().Add(wsWriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		conn.Close()
		return
	}

	sub := s.events.Subscribe()
	defer s.events.Unsubscribe(sub)

	replies := make(chan any, 8)
	done := make(chan struct{})
	defer close(done)
	go s.wsWritePump(conn, sub, replies, done)

	s.wsReadLoop(r.Context(), conn, replies)
}

// authenticateWS expects {"type":"auth","token":...} as the first message
// when a stream token is configured. A query-string token is accepted for
// clients that cannot send a first message.
func (s *Server) authenticateWS(conn *websocket.Conn, r *http.Request) bool {
	if s.streamToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.streamToken {
		return true
	}

	conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	var msg wsControl
	if err := conn.ReadJSON(&msg); err != nil {
		return false
	}
	return msg.Type == "auth" && msg.Token == s.streamToken
}

func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, replies chan<- any) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		var msg wsControl
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("ws closed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		switch msg.Type {
		case "ping":
			sendReply(replies, map[string]any{"type": "pong"})

		case "close":
			// Manual close from the admin surface, routed through the same
			// idempotent path the reconciler uses.
			err := s.monitor.CloseTrade(ctx, msg.TradeID, "manual_close")
			ok := err == nil || errors.Is(err, domain.ErrTradeFinal)
			if !ok {
				s.logger.Error("ws close request failed",
					zap.String("trade_id", msg.TradeID), zap.Error(err))
			}
			sendReply(replies, map[string]any{"type": "close_ack", "id": msg.TradeID, "ok": ok})
		}
	}
}

// wsWritePump owns all writes on the connection: ledger events, control
// replies and protocol pings.
func (s *Server) wsWritePump(conn *websocket.Conn, sub *usecase.Subscription, replies <-chan any, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok || !write(evt) {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func sendReply(replies chan<- any, v any) {
	select {
	case replies <- v:
	default:
	}
}
