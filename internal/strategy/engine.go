package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// DefaultAlertLog bounds each strategy's in-memory alert log; older entries
// fall off the front.
const DefaultAlertLog = 100

// defaultRecentLimit is how many alerts RecentAlerts returns when the caller
// does not choose a limit.
const defaultRecentLimit = 20

// runtime is the engine-side state wrapped around one detector, including
// its own bounded alert log.
type runtime struct {
	det      Detector
	phase    domain.StrategyPhase
	errMsg   string
	sel      Selection
	alerts   []domain.Alert
	runCount int64
	lastRun  time.Time
}

// Engine owns the registered detectors, their lifecycle, their instrument
// selections, and a bounded per-strategy log of recent alerts. Book views
// arrive from the consumer loop via OnBookUpdate; every emitted alert is
// logged, appended to its strategy's log, and offered (non-blocking) to the
// alert channel.
type Engine struct {
	mu       sync.RWMutex
	runtimes map[domain.StrategyKind]*runtime
	order    []domain.StrategyKind

	alertCap int
	alertCh  chan<- domain.Alert

	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates an Engine with all known detectors registered in the
// stopped phase. alertCh is where emitted alerts are offered for downstream
// delivery; nil disables delivery and keeps alerts in the recent log only.
func NewEngine(alertCh chan<- domain.Alert, logger *slog.Logger) *Engine {
	e := &Engine{
		runtimes: make(map[domain.StrategyKind]*runtime),
		alertCap: DefaultAlertLog,
		alertCh:  alertCh,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "strategy_engine")),
	}
	for _, det := range []Detector{
		NewArbitrage(logger),
		NewPriceAnomaly(logger),
		NewVolumeSpike(logger),
		NewCorrelation(logger),
	} {
		e.runtimes[det.Kind()] = &runtime{det: det, phase: domain.PhaseStopped}
		e.order = append(e.order, det.Kind())
	}
	return e
}

// Kinds returns the registered strategy kinds in listing order.
func (e *Engine) Kinds() []domain.StrategyKind {
	out := make([]domain.StrategyKind, len(e.order))
	copy(out, e.order)
	return out
}

// Start moves a strategy to the running phase. Restarting clears a previous
// evaluation error and stamps a fresh last-run time.
func (e *Engine) Start(kind domain.StrategyKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt, ok := e.runtimes[kind]
	if !ok {
		return fmt.Errorf("strategy: start %q: %w", kind, domain.ErrUnknownStrategy)
	}
	rt.phase = domain.PhaseRunning
	rt.errMsg = ""
	rt.lastRun = e.now()
	e.logger.Info("strategy started", slog.String("strategy", rt.det.Name()))
	return nil
}

// Stop moves a strategy to the stopped phase. A lingering error message stays
// visible until the next Start.
func (e *Engine) Stop(kind domain.StrategyKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt, ok := e.runtimes[kind]
	if !ok {
		return fmt.Errorf("strategy: stop %q: %w", kind, domain.ErrUnknownStrategy)
	}
	rt.phase = domain.PhaseStopped
	e.logger.Info("strategy stopped", slog.String("strategy", rt.det.Name()))
	return nil
}

// SelectAsset adds one instrument to a strategy's watch set. Event-scoped
// strategies reject direct asset selection; their instruments come from
// SelectEvent legs.
func (e *Engine) SelectAsset(kind domain.StrategyKind, assetID, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt, ok := e.runtimes[kind]
	if !ok {
		return fmt.Errorf("strategy: select asset for %q: %w", kind, domain.ErrUnknownStrategy)
	}
	if kind.Scope() == domain.ScopeEvent {
		return fmt.Errorf("strategy: %q selections are event-scoped, use an event", kind)
	}
	if rt.sel.Assets == nil {
		rt.sel.Assets = make(map[string]string)
	}
	rt.sel.Assets[assetID] = label
	return nil
}

// SelectEvent subscribes an event-scoped strategy to every leg of an event.
// labels maps leg token IDs to display labels and may be nil. Re-selecting an
// event replaces its previous entry.
func (e *Engine) SelectEvent(kind domain.StrategyKind, ev domain.Event, labels map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt, ok := e.runtimes[kind]
	if !ok {
		return fmt.Errorf("strategy: select event for %q: %w", kind, domain.ErrUnknownStrategy)
	}
	if kind.Scope() != domain.ScopeEvent {
		return fmt.Errorf("strategy: %q does not take event selections", kind)
	}

	replaced := false
	for i := range rt.sel.Events {
		if rt.sel.Events[i].ID == ev.ID {
			rt.sel.Events[i] = ev
			replaced = true
			break
		}
	}
	if !replaced {
		rt.sel.Events = append(rt.sel.Events, ev)
	}

	if rt.sel.Assets == nil {
		rt.sel.Assets = make(map[string]string)
	}
	for _, leg := range ev.Legs {
		rt.sel.Assets[leg] = labels[leg]
	}
	e.logger.Info("event selected",
		slog.String("strategy", rt.det.Name()),
		slog.String("event", ev.ID),
		slog.Int("legs", len(ev.Legs)),
	)
	return nil
}

// ClearSelection empties a strategy's watch set.
func (e *Engine) ClearSelection(kind domain.StrategyKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt, ok := e.runtimes[kind]
	if !ok {
		return fmt.Errorf("strategy: clear selection for %q: %w", kind, domain.ErrUnknownStrategy)
	}
	rt.sel = Selection{}
	return nil
}

// OnBookUpdate dispatches one book view to every running strategy whose
// selection covers the asset. Run accounting advances on every dispatch,
// alert or not. A failing detector moves to the error phase and stays there
// until restarted; the others keep evaluating. The alerts emitted by this
// cycle are returned for caller-side accounting.
func (e *Engine) OnBookUpdate(ctx context.Context, view *domain.BookView) []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var emitted []domain.Alert
	for _, kind := range e.order {
		rt := e.runtimes[kind]
		if rt.phase != domain.PhaseRunning || !rt.sel.Has(view.AssetID) {
			continue
		}
		rt.runCount++
		rt.lastRun = e.now()

		alerts, err := rt.det.Evaluate(ctx, view, rt.sel)
		if err != nil {
			rt.phase = domain.PhaseError
			rt.errMsg = err.Error()
			e.logger.Error("strategy evaluation failed",
				slog.String("strategy", rt.det.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, alert := range alerts {
			emitted = append(emitted, e.emitLocked(rt, alert))
		}
	}
	return emitted
}

// RecentAlerts returns up to limit of the most recent alerts, newest first.
// A named kind reads that strategy's log; an empty kind merges every log.
// Returned alerts are copies.
func (e *Engine) RecentAlerts(kind domain.StrategyKind, limit int) []domain.Alert {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if kind != "" {
		rt, ok := e.runtimes[kind]
		if !ok {
			return nil
		}
		out := make([]domain.Alert, 0, limit)
		for i := len(rt.alerts) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, copyAlert(rt.alerts[i]))
		}
		return out
	}

	var merged []domain.Alert
	for _, k := range e.order {
		merged = append(merged, e.runtimes[k].alerts...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if limit > len(merged) {
		limit = len(merged)
	}
	out := make([]domain.Alert, 0, limit)
	for _, alert := range merged[:limit] {
		out = append(out, copyAlert(alert))
	}
	return out
}

// Status returns the read-model of one strategy.
func (e *Engine) Status(kind domain.StrategyKind) (domain.StrategyStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rt, ok := e.runtimes[kind]
	if !ok {
		return domain.StrategyStatus{}, fmt.Errorf("strategy: status for %q: %w", kind, domain.ErrUnknownStrategy)
	}
	return e.statusLocked(kind, rt), nil
}

// Statuses returns the read-model of every strategy in listing order.
func (e *Engine) Statuses() []domain.StrategyStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.StrategyStatus, 0, len(e.order))
	for _, kind := range e.order {
		out = append(out, e.statusLocked(kind, e.runtimes[kind]))
	}
	return out
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// emitLocked stamps identity onto a detector alert, appends it to the
// strategy's bounded log, and offers it downstream without blocking the
// consumer loop. Callers hold e.mu.
func (e *Engine) emitLocked(rt *runtime, alert domain.Alert) domain.Alert {
	alert.ID = uuid.NewString()
	alert.Strategy = rt.det.Name()
	alert.Kind = rt.det.Kind()
	alert.CreatedAt = e.now()

	rt.alerts = append(rt.alerts, alert)
	if overflow := len(rt.alerts) - e.alertCap; overflow > 0 {
		rt.alerts = append([]domain.Alert(nil), rt.alerts[overflow:]...)
	}

	if e.alertCh != nil {
		select {
		case e.alertCh <- alert:
		default:
			e.logger.Warn("alert channel full, delivery dropped",
				slog.String("alert", alert.ID),
				slog.String("strategy", alert.Strategy),
			)
		}
	}

	e.logger.Info("alert emitted",
		slog.String("strategy", alert.Strategy),
		slog.String("severity", alert.Severity.String()),
		slog.String("message", alert.Message),
	)
	return alert
}

func (e *Engine) statusLocked(kind domain.StrategyKind, rt *runtime) domain.StrategyStatus {
	status := domain.StrategyStatus{
		Name:     rt.det.Name(),
		Kind:     kind,
		Scope:    kind.Scope(),
		Phase:    rt.phase,
		Err:      rt.errMsg,
		RunCount: rt.runCount,
		LastRun:  rt.lastRun,
	}
	for id := range rt.sel.Assets {
		status.AssetIDs = append(status.AssetIDs, id)
	}
	sort.Strings(status.AssetIDs)
	for _, ev := range rt.sel.Events {
		status.EventIDs = append(status.EventIDs, ev.ID)
	}
	return status
}

func copyAlert(alert domain.Alert) domain.Alert {
	if alert.AssetIDs != nil {
		alert.AssetIDs = append([]string(nil), alert.AssetIDs...)
	}
	if alert.Data != nil {
		data := make(map[string]string, len(alert.Data))
		for k, v := range alert.Data {
			data[k] = v
		}
		alert.Data = data
	}
	return alert
}
