package api_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsReply struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
	Period string          `json:"period"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips periodic price pushes until a message of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wsReply {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg wsReply
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWS_PricesOnConnect(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	msg := readUntil(t, conn, "prices")
	var stocks []map[string]any
	if err := json.Unmarshal(msg.Data, &stocks); err != nil || len(stocks) != 2 {
		t.Fatalf("expected 2 stocks, got %s (%v)", msg.Data, err)
	}
}

func TestWS_PeriodicPush(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	readUntil(t, conn, "prices") // on connect
	readUntil(t, conn, "prices") // from the feed
}

func TestWS_Actions(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	readUntil(t, conn, "prices")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, "error")
	if msg.Error != "Invalid JSON" {
		t.Errorf("unexpected error payload: %+v", msg)
	}

	conn.WriteJSON(map[string]string{"action": "dance"})
	msg = readUntil(t, conn, "error")
	if !strings.Contains(msg.Error, "unknown action") {
		t.Errorf("unexpected error payload: %+v", msg)
	}

	// The connection survives bad input.
	conn.WriteJSON(map[string]string{"action": "get_history", "symbol": "aapl"})
	msg = readUntil(t, conn, "history")
	if msg.Symbol != "AAPL" || msg.Period != "1mo" {
		t.Errorf("unexpected history reply: %+v", msg)
	}
	var points []map[string]any
	if err := json.Unmarshal(msg.Data, &points); err != nil || len(points) != 1 {
		t.Errorf("expected 1 history point, got %s", msg.Data)
	}

	conn.WriteJSON(map[string]string{"action": "get_history", "symbol": "AAPL", "period": "bad"})
	msg = readUntil(t, conn, "error")
	if !strings.Contains(msg.Error, "invalid period") {
		t.Errorf("unexpected error payload: %+v", msg)
	}

	conn.WriteJSON(map[string]string{"action": "refresh"})
	readUntil(t, conn, "prices")

	conn.WriteJSON(map[string]string{"action": "get_prices"})
	readUntil(t, conn, "prices")
}

// waitSubscribers polls until the feed has n subscribers.
func waitSubscribers(t *testing.T, env *testEnv, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for env.feed.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d feed subscribers, got %d", n, env.feed.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWS_DisconnectReleasesSubscription(t *testing.T) {
	env := newTestEnv(t)
	first := dialWS(t, env)
	second := dialWS(t, env)
	readUntil(t, first, "prices")
	readUntil(t, second, "prices")
	waitSubscribers(t, env, 2)

	first.Close()
	waitSubscribers(t, env, 1)

	second.Close()
	waitSubscribers(t, env, 0)
}
