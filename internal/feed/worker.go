package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/clobwatch/internal/crypto"
	"github.com/alanyoungcy/clobwatch/internal/domain"
	"github.com/alanyoungcy/clobwatch/internal/platform/polymarket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between inbound messages. The CLOB answers
	// application-level PINGs, so a healthy connection refreshes constantly.
	pongWait = 60 * time.Second

	// pingPeriod sends application-level "PING" text frames at this interval,
	// which is what the CLOB WebSocket expects as keep-alive.
	pingPeriod = 10 * time.Second
)

// Channel identifies which CLOB WebSocket channel a worker subscribes to.
type Channel string

const (
	// ChannelMarket streams public book data, subscribed by asset ID.
	ChannelMarket Channel = "market"

	// ChannelUser streams wallet-scoped order/trade data, subscribed by
	// market (condition ID) and requiring API credentials.
	ChannelUser Channel = "user"
)

// EndpointURL builds the full WebSocket endpoint for a channel from the
// subscription host. The host may or may not already carry the /ws path.
func EndpointURL(host string, ch Channel) string {
	host = strings.TrimRight(host, "/")
	if !strings.HasSuffix(host, "/ws") {
		host += "/ws"
	}
	return host + "/" + string(ch)
}

// WorkerConfig configures a single connection worker.
type WorkerConfig struct {
	// Name identifies the worker in logs and status output.
	Name string

	// URL is the full WebSocket endpoint for the channel, e.g.
	// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
	URL string

	// Channel selects the subscription shape.
	Channel Channel

	// AssetIDs is the market-channel subscription list.
	AssetIDs []string

	// Markets is the user-channel subscription list (condition IDs).
	Markets []string

	// Auth carries the credential triple; required for ChannelUser.
	Auth *crypto.HMACAuth

	// Filter restricts which asset IDs are forwarded to the inbox. Empty
	// forwards every event that names an asset.
	Filter []string

	Logger *slog.Logger
}

// Worker owns one CLOB WebSocket connection. It subscribes once, decodes
// every inbound frame, and pushes matching events onto its inbox. On any
// transport error the worker terminates and stays dead; restarting is the
// supervisor's job, never the worker's.
type Worker struct {
	cfg    WorkerConfig
	inbox  *Inbox
	filter map[string]struct{}
	logger *slog.Logger

	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	alive     atomic.Bool

	errMu   sync.Mutex
	termErr error

	unknownDropped atomic.Uint64
}

// NewWorker creates a worker that will push events onto inbox. The inbox is
// owned by the caller so events survive across worker generations.
func NewWorker(cfg WorkerConfig, inbox *Inbox) *Worker {
	filter := make(map[string]struct{}, len(cfg.Filter))
	for _, id := range cfg.Filter {
		filter[id] = struct{}{}
	}
	return &Worker{
		cfg:    cfg,
		inbox:  inbox,
		filter: filter,
		logger: cfg.Logger.With(
			slog.String("component", "feed_worker"),
			slog.String("worker", cfg.Name),
		),
		done: make(chan struct{}),
	}
}

// Start dials the endpoint, sends the one-shot subscription, and launches the
// read and keep-alive loops. A user channel without credentials fails here
// rather than connecting unauthenticated.
func (w *Worker) Start(ctx context.Context) error {
	if w.cfg.Channel == ChannelUser && w.cfg.Auth == nil {
		return fmt.Errorf("feed: user channel %s: %w", w.cfg.Name, domain.ErrAuthRequired)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", w.cfg.Name, err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	if err := w.subscribe(); err != nil {
		conn.Close()
		return fmt.Errorf("feed: subscribe %s: %w", w.cfg.Name, err)
	}

	w.alive.Store(true)
	go w.readLoop()
	go w.pingLoop()

	w.logger.Info("worker started",
		slog.String("channel", string(w.cfg.Channel)),
		slog.Int("assets", len(w.cfg.AssetIDs)),
		slog.Int("markets", len(w.cfg.Markets)),
	)
	return nil
}

// Alive reports whether the read loop is still running.
func (w *Worker) Alive() bool {
	return w.alive.Load()
}

// Err returns the transport error that terminated the worker, nil while it is
// running or after a clean Close.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.termErr
}

// UnknownDropped returns how many undecodable events were logged and dropped.
func (w *Worker) UnknownDropped() uint64 {
	return w.unknownDropped.Load()
}

// Close shuts the connection down cleanly.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.alive.Store(false)
		if w.conn != nil {
			_ = w.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			w.conn.Close()
		}
	})
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// subscribe sends the channel-appropriate subscription payload.
func (w *Worker) subscribe() error {
	sub := polymarket.Subscription{Type: string(w.cfg.Channel)}
	switch w.cfg.Channel {
	case ChannelUser:
		sub.Markets = w.cfg.Markets
		sub.Auth = &polymarket.WSAuth{
			ApiKey:     w.cfg.Auth.Key,
			Secret:     w.cfg.Auth.Secret,
			Passphrase: w.cfg.Auth.Passphrase,
		}
	default:
		sub.AssetIDs = w.cfg.AssetIDs
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(sub)
}

// readLoop decodes inbound frames and forwards matching events until the
// transport fails or the worker is closed.
func (w *Worker) readLoop() {
	defer func() {
		w.alive.Store(false)
		w.conn.Close()
	}()

	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				// Clean shutdown, not a transport death.
			default:
				w.errMu.Lock()
				w.termErr = fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
				w.errMu.Unlock()
				w.logger.Warn("worker transport error", slog.String("error", err.Error()))
			}
			return
		}

		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		w.handleFrame(message)
	}
}

// handleFrame decodes one frame and pushes matching events onto the inbox.
// Keep-alive PONGs and unknown events are dropped here so the consumer loop
// only ever sees typed, relevant events.
func (w *Worker) handleFrame(raw []byte) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("PONG")) {
		return
	}

	for _, ev := range polymarket.DecodeFrame(raw) {
		if unk, ok := ev.(domain.UnknownEvent); ok {
			w.unknownDropped.Add(1)
			w.logger.Debug("dropping unknown event", slog.Int("len", len(unk.Raw)))
			continue
		}

		asset := ev.Asset()
		if asset == "" {
			continue
		}
		if len(w.filter) > 0 {
			if _, ok := w.filter[asset]; !ok {
				continue
			}
		}
		w.inbox.Push(ev)
	}
}

// pingLoop sends application-level PINGs on a fixed cadence.
func (w *Worker) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}
