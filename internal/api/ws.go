package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ankgale/TFG/internal/marketdata"
	"github.com/ankgale/TFG/internal/metrics"
	"github.com/ankgale/TFG/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsMessage is a JSON message sent to WebSocket clients.
type wsMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
	Period string `json:"period,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// wsRequest is a client action.
type wsRequest struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Period string `json:"period"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS middleware does not cover upgrades; allow all origins.
	},
}

func pricesMessage(stocks []model.Stock) wsMessage {
	return wsMessage{Type: "prices", Data: stocks}
}

func errorMessage(msg string) wsMessage {
	return wsMessage{Type: "error", Error: msg}
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// The client gets the current prices on connect and after every feed tick,
// and may send get_prices, get_history or refresh actions.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	metrics.WebSocketClients.Inc()
	defer metrics.WebSocketClients.Dec()
	slog.Info("ws client connected", "remote", r.RemoteAddr)

	var ticks <-chan []model.Stock
	if s.feed != nil {
		sub := s.feed.Subscribe()
		defer s.feed.Unsubscribe(sub)
		ticks = sub.C
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan wsMessage, 8)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readPump(ctx, conn, out)
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	if err := writeWS(conn, pricesMessage(s.prices.List())); err != nil {
		return
	}
	for {
		var err error
		select {
		case msg := <-out:
			err = writeWS(conn, msg)
		case snap, ok := <-ticks:
			if !ok {
				return
			}
			err = writeWS(conn, pricesMessage(snap))
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		case <-readerDone:
			slog.Info("ws client disconnected", "remote", r.RemoteAddr)
			return
		}
		if err != nil {
			slog.Debug("ws write failed", "err", err)
			return
		}
	}
}

func writeWS(conn *websocket.Conn, msg wsMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}

// readPump reads client actions until the connection fails or ctx ends.
// Replies go through out so the handler goroutine stays the only writer.
func (s *Service) readPump(ctx context.Context, conn *websocket.Conn, out chan<- wsMessage) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		reply := s.handleAction(ctx, data)
		select {
		case out <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) handleAction(ctx context.Context, data []byte) wsMessage {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorMessage("Invalid JSON")
	}

	switch req.Action {
	case "get_prices":
		return pricesMessage(s.prices.List())

	case "get_history":
		if req.Symbol == "" {
			return errorMessage("symbol is required")
		}
		period := req.Period
		if period == "" {
			period = marketdata.DefaultPeriod
		}
		symbol := strings.ToUpper(req.Symbol)
		points, err := s.prices.RefreshHistory(ctx, symbol, period)
		if err != nil {
			return errorMessage(err.Error())
		}
		return wsMessage{Type: "history", Symbol: symbol, Period: period, Data: points}

	case "refresh":
		rctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
		defer cancel()
		s.prices.RefreshAll(rctx)
		return pricesMessage(s.prices.List())

	default:
		return errorMessage("unknown action: " + req.Action)
	}
}
