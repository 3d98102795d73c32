// Package ws bridges the Redis signal bus to dashboard WebSocket clients.
// Every bus payload is wrapped in a typed envelope, and each client can
// narrow its feed to chosen streams and, for book updates, to chosen
// asset IDs.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/clobwatch/internal/domain"
	"github.com/alanyoungcy/clobwatch/internal/service"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming control frames.
	maxMessageSize = 4096

	// sendBufferSize is the per-client buffer of pending outgoing frames.
	// A client that falls this far behind is disconnected.
	sendBufferSize = 256
)

// Client-facing stream names. They double as the bus channels the hub
// subscribes to.
const (
	StreamBooks  = service.BookChannel
	StreamAlerts = service.AlertChannel
)

// envelopeType maps a bus channel to the "type" field of the envelope the
// hub sends to clients.
var envelopeType = map[string]string{
	StreamBooks:  "book",
	StreamAlerts: "alert",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin policy is enforced by the CORS middleware upstream.
		return true
	},
}

// controlMsg is the JSON frame a client sends to manage its subscription:
//
//	{"action":"subscribe","streams":["books"],"assets":["1234..."]}
//
// Streams select which envelope types the client receives; assets, when
// non-empty, restrict book envelopes to the listed asset IDs.
type controlMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Streams []string `json:"streams"`
	Assets  []string `json:"assets"`
}

// client is one WebSocket connection with its subscription state. The subs
// and assets maps are written by readPump and read by the hub loop, so they
// sit behind mu.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	subs   map[string]bool
	assets map[string]bool // empty means every asset
}

// Config captures runtime metadata for the status envelope sent to clients
// on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans bus messages out to connected clients. The run loop is the sole
// owner of the client registry; HandleWS and the pumps communicate with it
// over the attach/detach channels.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	clients   map[*client]struct{}
	attach    chan *client
	detach    chan *client
	inbound   chan busFrame
	connected atomic.Int64
}

// busFrame is one message read off the signal bus, tagged with its channel
// and the asset it concerns (empty for non-book payloads).
type busFrame struct {
	channel string
	assetID string
	data    []byte
}

// NewHub creates a hub bridging the given SignalBus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
		attach:    make(chan *client),
		detach:    make(chan *client),
		inbound:   make(chan busFrame, 256),
	}
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	return int(h.connected.Load())
}

// Run drives the hub until ctx is cancelled. It owns the client registry:
// every attach, detach, and fan-out happens on this goroutine, so the
// registry needs no lock.
func (h *Hub) Run(ctx context.Context) error {
	for ch := range envelopeType {
		go h.pumpBus(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.connected.Store(0)
			return ctx.Err()

		case c := <-h.attach:
			h.clients[c] = struct{}{}
			h.connected.Store(int64(len(h.clients)))
			h.greet(c)
			h.logger.Info("client connected",
				slog.Int("total_clients", len(h.clients)),
			)

		case c := <-h.detach:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.connected.Store(int64(len(h.clients)))
			h.logger.Info("client disconnected",
				slog.Int("total_clients", len(h.clients)),
			)

		case frame := <-h.inbound:
			h.fanOut(frame)
		}
	}
}

// fanOut delivers one bus frame to every client whose subscription matches.
// A client whose send buffer is full has fallen too far behind and is
// dropped; its pumps observe the closed channel and tear the socket down.
func (h *Hub) fanOut(frame busFrame) {
	envType := envelopeType[frame.channel]
	msg, err := json.Marshal(map[string]any{
		"type":    envType,
		"payload": json.RawMessage(frame.data),
	})
	if err != nil {
		return
	}

	for c := range h.clients {
		if !c.wants(frame.channel, frame.assetID) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow client",
				slog.Int("pending", len(c.send)),
			)
			delete(h.clients, c)
			close(c.send)
			h.connected.Store(int64(len(h.clients)))
		}
	}
}

// pumpBus subscribes to one bus channel and feeds received payloads into the
// hub loop, extracting the asset ID from book payloads for per-asset routing.
func (h *Hub) pumpBus(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("bridging bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("bus subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			frame := busFrame{channel: channel, data: data}
			if channel == StreamBooks {
				var tag struct {
					AssetID string `json:"asset_id"`
				}
				if json.Unmarshal(data, &tag) == nil {
					frame.assetID = tag.AssetID
				}
			}
			select {
			case h.inbound <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and hands the connection to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{
			StreamBooks:  true,
			StreamAlerts: true,
		},
		assets: make(map[string]bool),
	}

	h.attach <- c

	go c.writePump()
	go c.readPump()
}

// greet queues a status envelope for a freshly attached client so it can
// mark the connection healthy before any market event flows. Runs on the
// hub goroutine, which owns the send channel's lifecycle.
func (h *Hub) greet(c *client) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           h.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// wants reports whether the client should receive a frame from the given
// channel concerning the given asset. An empty asset filter matches all
// assets; the filter only applies to the books stream.
func (c *client) wants(channel, assetID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.subs[channel] {
		return false
	}
	if channel == StreamBooks && len(c.assets) > 0 && assetID != "" {
		return c.assets[assetID]
	}
	return true
}

// readPump consumes frames from the socket until it closes, applying
// subscription control messages as they arrive.
func (c *client) readPump() {
	defer func() {
		c.hub.detach <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var ctl controlMsg
		if err := json.Unmarshal(message, &ctl); err == nil && ctl.Action != "" {
			c.apply(ctl)
		}
	}
}

// apply updates the client's stream and asset subscriptions from a control
// message. Unsubscribing from a stream also clears its asset filter so a
// later resubscribe starts wide.
func (c *client) apply(ctl controlMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ctl.Action {
	case "subscribe":
		for _, s := range ctl.Streams {
			c.subs[s] = true
		}
		for _, a := range ctl.Assets {
			if a != "" {
				c.assets[a] = true
			}
		}
	case "unsubscribe":
		for _, s := range ctl.Streams {
			delete(c.subs, s)
			if s == StreamBooks {
				c.assets = make(map[string]bool)
			}
		}
		for _, a := range ctl.Assets {
			delete(c.assets, a)
		}
	}
}

// writePump moves pending frames from the hub onto the socket and keeps the
// connection alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
