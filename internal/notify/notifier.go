// Package notify provides a multi-channel notification system. Alerts are
// dispatched to all registered senders (Telegram, Discord, etc.) and filtered
// by severity so operators receive only the alerts they care about.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// senderTimeout bounds a single delivery attempt. Senders share it so a
// stalled webhook cannot hold up shutdown.
const senderTimeout = 10 * time.Second

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It maintains a severity
// floor; Notify only forwards alerts at or above the floor, while NotifyAll
// bypasses the filter for operational notices.
type Notifier struct {
	senders []Sender
	floor   domain.Severity
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
// Alerts below minSeverity are dropped by Notify.
func NewNotifier(senders []Sender, minSeverity domain.Severity, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		floor:   minSeverity,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats and delivers an alert to all senders if it meets the
// severity floor.
func (n *Notifier) Notify(ctx context.Context, alert domain.Alert) error {
	if alert.Severity < n.floor {
		n.logger.DebugContext(ctx, "alert below notify floor",
			slog.String("strategy", alert.Strategy),
			slog.String("severity", alert.Severity.String()),
		)
		return nil
	}

	title, message := formatAlert(alert)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of severity. Used
// for operational notices such as startup and shutdown.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// postJSON encodes payload and POSTs it to url, treating any non-2xx response
// as an error. The response body is truncated to 1 KB in the error message.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return nil
}

// formatAlert renders an alert as a title and message body. Data keys are
// sorted so the rendering is stable.
func formatAlert(a domain.Alert) (title, message string) {
	title = fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity.String()), a.Strategy)

	var b strings.Builder
	b.WriteString(a.Message)
	if len(a.AssetIDs) > 0 {
		b.WriteString("\nassets: ")
		b.WriteString(strings.Join(a.AssetIDs, ", "))
	}
	if len(a.Data) > 0 {
		keys := make([]string, 0, len(a.Data))
		for k := range a.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, a.Data[k])
		}
	}
	return title, b.String()
}
