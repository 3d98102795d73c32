package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
	bodies []string
}

func (s *stubSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func sampleAlert(sev domain.Severity) domain.Alert {
	return domain.Alert{
		ID:       "a-1",
		Strategy: "spread watch",
		Kind:     domain.StrategyPriceAnomaly,
		Severity: sev,
		Message:  "spread blew out",
		AssetIDs: []string{"tok-a"},
		Data:     map[string]string{"spread": "0.25", "mid": "0.42"},
	}
}

func TestNotifierSeverityFloor(t *testing.T) {
	t.Run("drops alerts below the floor", func(t *testing.T) {
		sender := &stubSender{name: "stub"}
		n := NewNotifier([]Sender{sender}, domain.SeverityHigh, testLogger())

		require.NoError(t, n.Notify(context.Background(), sampleAlert(domain.SeverityMedium)))
		assert.Empty(t, sender.titles)
	})

	t.Run("delivers alerts at the floor", func(t *testing.T) {
		sender := &stubSender{name: "stub"}
		n := NewNotifier([]Sender{sender}, domain.SeverityHigh, testLogger())

		require.NoError(t, n.Notify(context.Background(), sampleAlert(domain.SeverityHigh)))
		require.Len(t, sender.titles, 1)
		assert.Equal(t, "[HIGH] spread watch", sender.titles[0])
	})

	t.Run("notify all bypasses the floor", func(t *testing.T) {
		sender := &stubSender{name: "stub"}
		n := NewNotifier([]Sender{sender}, domain.SeverityCritical, testLogger())

		require.NoError(t, n.NotifyAll(context.Background(), "started", "watching 2 assets"))
		require.Len(t, sender.titles, 1)
		assert.Equal(t, "started", sender.titles[0])
	})
}

func TestNotifierDispatch(t *testing.T) {
	t.Run("one failing sender does not block the rest", func(t *testing.T) {
		bad := &stubSender{name: "bad", err: errors.New("webhook down")}
		good := &stubSender{name: "good"}
		n := NewNotifier([]Sender{bad, good}, domain.SeverityLow, testLogger())

		err := n.Notify(context.Background(), sampleAlert(domain.SeverityHigh))
		assert.ErrorContains(t, err, "1 sender(s) failed")
		assert.ErrorContains(t, err, "bad: webhook down")
		assert.Len(t, good.titles, 1)
	})

	t.Run("no senders is a noop", func(t *testing.T) {
		n := NewNotifier(nil, domain.SeverityLow, testLogger())
		assert.NoError(t, n.Notify(context.Background(), sampleAlert(domain.SeverityCritical)))
	})
}

func TestFormatAlert(t *testing.T) {
	title, message := formatAlert(sampleAlert(domain.SeverityCritical))

	assert.Equal(t, "[CRITICAL] spread watch", title)
	// Data keys render sorted so the message is stable.
	assert.Equal(t, "spread blew out\nassets: tok-a\nmid: 0.42\nspread: 0.25", message)
}

func TestTelegramSender(t *testing.T) {
	t.Run("posts to the bot endpoint", func(t *testing.T) {
		var gotPath string
		var gotPayload map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		sender := NewTelegramSender("TOKEN", "42")
		sender.baseURL = srv.URL

		require.NoError(t, sender.Send(context.Background(), "alert", "body"))
		assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
		assert.Equal(t, "42", gotPayload["chat_id"])
		assert.Equal(t, "*alert*\nbody", gotPayload["text"])
		assert.Equal(t, "Markdown", gotPayload["parse_mode"])
	})

	t.Run("surfaces api errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"ok":false}`, http.StatusForbidden)
		}))
		defer srv.Close()

		sender := NewTelegramSender("TOKEN", "42")
		sender.baseURL = srv.URL

		err := sender.Send(context.Background(), "alert", "body")
		assert.ErrorContains(t, err, "status 403")
	})
}

func TestDiscordSender(t *testing.T) {
	t.Run("posts an embed", func(t *testing.T) {
		var gotPayload struct {
			Embeds []struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				Timestamp   string `json:"timestamp"`
			} `json:"embeds"`
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		sender := NewDiscordSender(srv.URL)
		require.NoError(t, sender.Send(context.Background(), "alert", "body"))
		require.Len(t, gotPayload.Embeds, 1)
		assert.Equal(t, "alert", gotPayload.Embeds[0].Title)
		assert.Equal(t, "body", gotPayload.Embeds[0].Description)
		assert.NotEmpty(t, gotPayload.Embeds[0].Timestamp)
	})

	t.Run("surfaces webhook errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer srv.Close()

		sender := NewDiscordSender(srv.URL)
		err := sender.Send(context.Background(), "alert", "body")
		assert.ErrorContains(t, err, "status 400")
	})
}
