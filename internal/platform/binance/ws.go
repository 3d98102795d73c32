// Package binance provides a minimal WebSocket client for Binance spot
// bookTicker streams, used as an external crypto reference price feed
// alongside the prediction-market books.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message. Binance
	// pings every ~20s, so any healthy connection refreshes well within it.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// Quote is a normalized best bid/offer sample for one trading pair.
type Quote struct {
	Symbol string // pair symbol, e.g. "BTCUSDT"
	Bid    float64
	BidQty float64
	Ask    float64
	AskQty float64
	Mid    float64 // (Bid+Ask)/2
	At     time.Time
}

// QuoteHandler is called for every bookTicker update received.
type QuoteHandler func(Quote)

// bookTicker is the wire shape of a Binance <symbol>@bookTicker update.
type bookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// WSClient is a WebSocket client for Binance spot market data streams.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Tracked streams for reconnection.
	subscribedStreams []string
	cmdID             int64

	// Handlers
	quoteHandlers []QuoteHandler
	handlerMu     sync.RWMutex

	// done is closed when the client shuts down.
	done chan struct{}
}

// NewWSClient creates a new Binance WebSocket client.
//
// wsURL is the raw-stream endpoint, e.g. "wss://stream.binance.com:9443/ws".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection to the Binance stream endpoint.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	w.conn = conn

	// Binance pings the client and expects a pong back; both directions
	// refresh the read deadline.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	w.conn.SetPingHandler(func(appData string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return w.conn.WriteControl(
			websocket.PongMessage,
			[]byte(appData),
			time.Now().Add(writeWait),
		)
	})

	// Start background loops.
	go w.readLoop()
	go w.pingLoop()

	// Re-subscribe to any previously tracked streams.
	if len(w.subscribedStreams) > 0 {
		if err := w.sendSubscribe(w.subscribedStreams); err != nil {
			return fmt.Errorf("binance/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to bookTicker updates for the given symbols. Symbols
// may be bare base assets ("btc") or full pairs ("btcusdt"); bare symbols
// are quoted against USDT.
func (w *WSClient) Subscribe(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("binance/ws: not connected")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, streamName(s))
	}

	if err := w.sendSubscribe(streams); err != nil {
		return fmt.Errorf("binance/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	existing := make(map[string]struct{}, len(w.subscribedStreams))
	for _, s := range w.subscribedStreams {
		existing[s] = struct{}{}
	}
	for _, s := range streams {
		if _, ok := existing[s]; !ok {
			w.subscribedStreams = append(w.subscribedStreams, s)
		}
	}

	return nil
}

// OnQuote registers a handler that is called for every bookTicker update.
func (w *WSClient) OnQuote(handler QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.quoteHandlers = append(w.quoteHandlers, handler)
}

// Close shuts down the WebSocket connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// streamName normalizes a symbol to its bookTicker stream name.
func streamName(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if !strings.HasSuffix(s, "usdt") && !strings.HasSuffix(s, "usdc") && !strings.HasSuffix(s, "busd") {
		s += "usdt"
	}
	return s + "@bookTicker"
}

// sendSubscribe sends a SUBSCRIBE command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(streams []string) error {
	w.cmdID++

	cmd := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int64    `json:"id"`
	}{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     w.cmdID,
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to handlers. On disconnect it attempts reconnection.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it. Command acks
// ({"result":...,"id":...}) and foreign stream payloads are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	quote, ok := parseBookTicker(raw, time.Now())
	if !ok {
		return
	}

	w.handlerMu.RLock()
	handlers := w.quoteHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(quote)
	}
}

// parseBookTicker decodes a bookTicker payload into a Quote. The boolean is
// false for acks, unrelated payloads, and samples with no usable prices.
func parseBookTicker(raw []byte, at time.Time) (Quote, bool) {
	var tick bookTicker
	if err := json.Unmarshal(raw, &tick); err != nil {
		return Quote{}, false
	}
	if tick.Symbol == "" {
		return Quote{}, false
	}

	bid, _ := strconv.ParseFloat(tick.BidPrice, 64)
	ask, _ := strconv.ParseFloat(tick.AskPrice, 64)
	if bid <= 0 && ask <= 0 {
		return Quote{}, false
	}

	bidQty, _ := strconv.ParseFloat(tick.BidQty, 64)
	askQty, _ := strconv.ParseFloat(tick.AskQty, 64)

	return Quote{
		Symbol: tick.Symbol,
		Bid:    bid,
		BidQty: bidQty,
		Ask:    ask,
		AskQty: askQty,
		Mid:    (bid + ask) / 2,
		At:     at,
	}, true
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
