package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks how actionable an alert is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses a severity name as used in config and storage.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// Alert is emitted by a strategy when it detects a condition worth surfacing.
type Alert struct {
	ID        string // UUID for dedup
	Strategy  string // registered strategy name
	Kind      StrategyKind
	Severity  Severity
	Message   string
	AssetIDs  []string // instruments the alert concerns
	EventID   string   // set for event-scoped alerts
	Data      map[string]string
	CreatedAt time.Time
}
