package domain

import (
	"fmt"
	"strings"
	"time"
)

// StrategyKind identifies a strategy implementation.
type StrategyKind string

const (
	StrategyArbitrage    StrategyKind = "arbitrage"
	StrategyPriceAnomaly StrategyKind = "price_anomaly"
	StrategyVolumeSpike  StrategyKind = "volume_spike"
	StrategyCorrelation  StrategyKind = "correlation"
)

// ParseStrategyKind parses a strategy kind as used in config and API paths.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch StrategyKind(strings.ToLower(s)) {
	case StrategyArbitrage, StrategyPriceAnomaly, StrategyVolumeSpike, StrategyCorrelation:
		return StrategyKind(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown strategy kind %q: %w", s, ErrUnknownStrategy)
	}
}

// StrategyScope describes the selection shape a strategy evaluates over.
type StrategyScope string

const (
	ScopeEvent        StrategyScope = "event"         // all legs of one event
	ScopeSingleMarket StrategyScope = "single_market" // one instrument at a time
	ScopeMultiMarket  StrategyScope = "multi_market"  // an arbitrary instrument set
)

// Scope returns the evaluation scope fixed for each strategy kind.
func (k StrategyKind) Scope() StrategyScope {
	switch k {
	case StrategyArbitrage:
		return ScopeEvent
	case StrategyCorrelation:
		return ScopeMultiMarket
	default:
		return ScopeSingleMarket
	}
}

// StrategyPhase is the lifecycle phase of a registered strategy.
type StrategyPhase string

const (
	PhaseStopped StrategyPhase = "stopped"
	PhaseRunning StrategyPhase = "running"
	PhaseError   StrategyPhase = "error"
)

// StrategyStatus is the read-model of one registered strategy, exposed over
// the API and the status endpoint.
type StrategyStatus struct {
	Name     string
	Kind     StrategyKind
	Scope    StrategyScope
	Phase    StrategyPhase
	Err      string // populated when Phase is error; cleared only on restart
	AssetIDs []string
	EventIDs []string
	RunCount int64
	LastRun  time.Time
}
