package domain

import "time"

// ConnectionState is the supervisor-facing lifecycle of one feed connection.
type ConnectionState string

const (
	// ConnIdle: no worker has been started yet.
	ConnIdle ConnectionState = "idle"
	// ConnLive: a worker is running and its transport is believed healthy.
	ConnLive ConnectionState = "live"
	// ConnDead: the worker died and reconnect attempts are exhausted; stays
	// dead until an external caller re-arms the feed.
	ConnDead ConnectionState = "dead"
)

// FeedStatus is the read-model of one supervised feed connection.
type FeedStatus struct {
	Name          string // e.g. "market", "user", "binance:btc"
	Channel       string
	AssetIDs      []string
	State         ConnectionState
	Attempts      int
	MaxAttempts   int
	LastAttemptAt *time.Time // nil before the first attempt
	LastError     string
}

// MonitorStatus is a summary of the monitor's operational state.
type MonitorStatus struct {
	Mode           string
	Live           bool   // at least one feed connection is up
	Source         string // "websocket" when live, "rest" when polling
	StartedAt      time.Time
	UptimeSeconds  int64
	Feeds          []FeedStatus
	TrackedAssets  int
	RunningCount   int
	EventsConsumed int64
	EventsDropped  int64
	AlertsEmitted  int64
	PollCycles     int64
}
