package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// StatusSource supplies the monitor's status snapshot.
type StatusSource interface {
	Status() domain.MonitorStatus
}

// StatusHandler serves the monitor status for the dashboard: run mode, data
// source, feed health, and loop counters.
type StatusHandler struct {
	monitor StatusSource
}

// NewStatusHandler creates a StatusHandler backed by the given monitor.
func NewStatusHandler(monitor StatusSource) *StatusHandler {
	return &StatusHandler{monitor: monitor}
}

type feedStatusDTO struct {
	Name        string     `json:"name"`
	Channel     string     `json:"channel"`
	AssetIDs    []string   `json:"asset_ids"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type statusResponse struct {
	Mode           string          `json:"mode"`
	Live           bool            `json:"live"`
	Source         string          `json:"source"`
	StartedAt      time.Time       `json:"started_at"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	TrackedAssets  int             `json:"tracked_assets"`
	RunningCount   int             `json:"running_strategies"`
	EventsConsumed int64           `json:"events_consumed"`
	EventsDropped  int64           `json:"events_dropped"`
	AlertsEmitted  int64           `json:"alerts_emitted"`
	PollCycles     int64           `json:"poll_cycles"`
	Feeds          []feedStatusDTO `json:"feeds"`
}

// GetStatus responds with the current monitor status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.monitor.Status()

	feeds := make([]feedStatusDTO, 0, len(st.Feeds))
	for _, f := range st.Feeds {
		feeds = append(feeds, feedStatusDTO{
			Name:        f.Name,
			Channel:     f.Channel,
			AssetIDs:    f.AssetIDs,
			State:       string(f.State),
			Attempts:    f.Attempts,
			MaxAttempts: f.MaxAttempts,
			LastAttempt: f.LastAttemptAt,
			LastError:   f.LastError,
		})
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Mode:           st.Mode,
		Live:           st.Live,
		Source:         st.Source,
		StartedAt:      st.StartedAt,
		UptimeSeconds:  st.UptimeSeconds,
		TrackedAssets:  st.TrackedAssets,
		RunningCount:   st.RunningCount,
		EventsConsumed: st.EventsConsumed,
		EventsDropped:  st.EventsDropped,
		AlertsEmitted:  st.AlertsEmitted,
		PollCycles:     st.PollCycles,
		Feeds:          feeds,
	})
}
