package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/avdev/alert_relay/internal/usecase"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTestServer runs handler for each websocket connection.
func wsTestServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClient_DeliversEvents(t *testing.T) {
	url := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(usecase.Event{Type: "placed", TradeID: "t1", Symbol: "BTCUSDT"})
		// Hold the connection open until the client hangs up.
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(url, "", zap.NewNop())
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	select {
	case evt := <-client.Events():
		if evt.Type != "placed" || evt.TradeID != "t1" {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}

	if state := client.State(); state != StateConnected {
		t.Errorf("expected CONNECTED, got %s", state)
	}

	cancel()
	select {
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestClient_SendsAuthFirst(t *testing.T) {
	got := make(chan string, 1)
	url := wsTestServer(t, func(conn *websocket.Conn) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		if err := conn.ReadJSON(&msg); err == nil && msg.Type == "auth" {
			got <- msg.Token
		}
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(url, "sekrit", zap.NewNop())
	go client.Run(ctx)

	select {
	case token := <-got:
		if token != "sekrit" {
			t.Errorf("wrong token sent: %q", token)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("auth message never arrived")
	}
}

func TestClient_AuthRejectedIsTerminal(t *testing.T) {
	url := wsTestServer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Wait for the client to observe the close frame.
		conn.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(url, "wrong", zap.NewNop())
	err := client.Run(ctx)
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if state := client.State(); state != StateTerminal {
		t.Errorf("expected TERMINAL, got %s", state)
	}
}

func TestClient_SkipsNonEventFrames(t *testing.T) {
	url := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"type": "pong"})
		conn.WriteJSON(map[string]any{"unrelated": true})
		conn.WriteJSON(usecase.Event{Type: "closed", TradeID: "t9"})
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(url, "", zap.NewNop())
	go client.Run(ctx)

	select {
	case evt := <-client.Events():
		if evt.Type != "closed" || evt.TradeID != "t9" {
			t.Errorf("control frame leaked through: %+v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestClient_StateTransitions(t *testing.T) {
	url := wsTestServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(url, "", zap.NewNop())
	go client.Run(ctx)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case state := <-client.States():
			if state == StateConnected {
				return
			}
		case <-deadline:
			t.Fatal("never reached CONNECTED")
		}
	}
}
