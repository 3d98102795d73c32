package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

const (
	// DefaultMaxAttempts is the reconnect budget before a feed goes
	// permanently dead.
	DefaultMaxAttempts = 20

	// DefaultRetryDelay is the constant pause between reconnect attempts.
	// There is deliberately no backoff.
	DefaultRetryDelay = 10 * time.Second
)

// Connection is the liveness surface the supervisor watches. *Worker
// implements it; tests substitute fakes.
type Connection interface {
	Alive() bool
	Err() error
	Close() error
}

var _ Connection = (*Worker)(nil)

// ConnectFunc dials and starts one worker generation. A non-nil error counts
// as a failed attempt.
type ConnectFunc func(ctx context.Context) (Connection, error)

// SupervisorConfig configures a feed supervisor.
type SupervisorConfig struct {
	// Name identifies the feed in logs and status output.
	Name string

	// Channel and AssetIDs describe the subscription, for status only.
	Channel  Channel
	AssetIDs []string

	// MaxAttempts caps reconnects; the counter resets only on Rearm.
	// Non-positive falls back to DefaultMaxAttempts.
	MaxAttempts int

	// RetryDelay is the constant wait between attempts. Non-positive falls
	// back to DefaultRetryDelay.
	RetryDelay time.Duration

	// Connect starts one worker generation.
	Connect ConnectFunc

	Logger *slog.Logger

	// Now is the clock; nil means time.Now. Injectable for tests.
	Now func() time.Time
}

// Supervisor drives the lifecycle of one feed connection. Tick is polled on
// the consumer loop's cadence: it detects worker death, waits out the retry
// delay, and starts replacements until the attempt budget is spent. A feed
// whose budget is spent stays dead until Rearm resets the counter.
type Supervisor struct {
	cfg         SupervisorConfig
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu          sync.Mutex
	conn        Connection
	state       domain.ConnectionState
	attempts    int
	lastAttempt *time.Time // nil means the next attempt is immediate
	lastErr     string
}

// NewSupervisor creates a supervisor in the Idle state. Nothing connects
// until the first Tick.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		cfg:         cfg,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		now:         cfg.Now,
		logger: cfg.Logger.With(
			slog.String("component", "feed_supervisor"),
			slog.String("feed", cfg.Name),
		),
		state: domain.ConnIdle,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Tick runs one health-check pass: reap a dead worker, then start a new one
// if the attempt budget and retry delay allow. It never blocks on the delay;
// callers poll it on a fixed cadence.
func (s *Supervisor) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if s.conn.Alive() {
			s.state = domain.ConnLive
			return
		}
		if err := s.conn.Err(); err != nil {
			s.lastErr = err.Error()
		}
		_ = s.conn.Close()
		s.conn = nil
		s.state = domain.ConnDead
		s.logger.Warn("worker died",
			slog.String("error", s.lastErr),
			slog.Int("attempts", s.attempts),
		)
	}

	if s.attempts >= s.maxAttempts {
		s.state = domain.ConnDead
		return
	}
	if s.lastAttempt != nil && s.now().Sub(*s.lastAttempt) < s.retryDelay {
		return
	}

	s.attempts++
	at := s.now()
	s.lastAttempt = &at

	conn, err := s.cfg.Connect(ctx)
	if err != nil {
		s.lastErr = err.Error()
		s.state = domain.ConnDead
		if s.attempts >= s.maxAttempts {
			s.logger.Error("reconnect attempts exhausted",
				slog.Int("attempts", s.attempts),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Warn("connect attempt failed",
				slog.Int("attempt", s.attempts),
				slog.Int("max_attempts", s.maxAttempts),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	s.conn = conn
	s.state = domain.ConnLive
	s.lastErr = ""
	s.logger.Info("worker connected", slog.Int("attempt", s.attempts))
}

// Rearm resets the attempt counter so a permanently dead feed becomes
// eligible to reconnect, immediately on the next Tick. This is the only way
// the counter resets; a successful connection does not.
func (s *Supervisor) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = 0
	s.lastAttempt = nil
	s.lastErr = ""
	if s.conn == nil {
		s.state = domain.ConnIdle
	}
	s.logger.Info("feed re-armed")
}

// Live reports whether a healthy worker is currently connected.
func (s *Supervisor) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.ConnLive
}

// Dead reports whether the feed is out of attempts and awaiting a Rearm.
func (s *Supervisor) Dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == nil && s.attempts >= s.maxAttempts
}

// Status returns a copy of the feed's current state for display.
func (s *Supervisor) Status() domain.FeedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.FeedStatus{
		Name:        s.cfg.Name,
		Channel:     string(s.cfg.Channel),
		AssetIDs:    append([]string(nil), s.cfg.AssetIDs...),
		State:       s.state,
		Attempts:    s.attempts,
		MaxAttempts: s.maxAttempts,
		LastError:   s.lastErr,
	}
	if s.lastAttempt != nil {
		at := *s.lastAttempt
		st.LastAttemptAt = &at
	}
	return st
}

// Close shuts down the current worker, if any.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = domain.ConnIdle
	return nil
}
