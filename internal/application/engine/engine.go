// Package engine orquesta el procesamiento de un mensaje: clasificación,
// resolución del instrumento y la acción correspondiente en el broker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/application/positions"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
	"github.com/google/uuid"
)

// Classifier convierte texto libre en una señal tipada.
type Classifier interface {
	Classify(text string, receivedAt time.Time) domain.TradeSignal
}

// Resolver traduce el instrumento de la señal a un venue.
type Resolver interface {
	Resolve(instrument string) (domain.Resolution, bool)
}

// Executor recorre la cascada de ejecución de una apertura.
type Executor interface {
	Execute(ctx context.Context, sig domain.TradeSignal, res domain.Resolution) domain.ExecutionReport
}

// PositionCloser ejecuta cierres condicionales y cambios de nivel.
type PositionCloser interface {
	Close(ctx context.Context, p domain.OpenPosition) domain.CloseDecision
	UpdateLevel(ctx context.Context, p domain.OpenPosition, kind domain.LevelKind, level float64) domain.CloseDecision
}

// PositionLister consulta las posiciones abiertas de la cuenta.
type PositionLister interface {
	OpenPositions(ctx context.Context) ([]domain.OpenPosition, error)
}

// Config controla el modo de operación del engine.
type Config struct {
	DryRun          bool          // solo clasifica y resuelve, sin llamadas al broker
	MaxFailures     int           // fallos de transporte seguidos antes de pausar (0 = sin breaker)
	BreakerCooldown time.Duration // duración de la pausa
}

// Deps agrupa los colaboradores del engine. Audit, Notifier, Tracker y
// Breakers son opcionales.
type Deps struct {
	Classifier Classifier
	Resolver   Resolver
	Executor   Executor
	Closer     PositionCloser
	Positions  PositionLister
	Tracker    ports.PositionTracker
	Audit      ports.AuditStore
	Notifier   ports.Notifier
	Breakers   ports.BreakerStore
}

// Engine procesa señales de una en una.
type Engine struct {
	mu      sync.Mutex
	deps    Deps
	cfg     Config
	breaker *domain.CircuitBreaker
	now     func() time.Time
}

// New crea el engine.
func New(deps Deps, cfg Config) *Engine {
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		breaker: domain.NewCircuitBreaker(cfg.MaxFailures, cfg.BreakerCooldown),
		now:     time.Now,
	}
}

// WithClock fija el reloj del engine y del breaker (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.breaker.Now = now
	return e
}

// Breaker expone el estado del circuit breaker.
func (e *Engine) Breaker() *domain.CircuitBreaker { return e.breaker }

// RestoreBreaker carga el estado guardado del breaker. Umbral y cooldown
// siguen saliendo de Config.
func (e *Engine) RestoreBreaker(ctx context.Context) error {
	if e.deps.Breakers == nil {
		return nil
	}
	saved, found, err := e.deps.Breakers.LoadBreaker(ctx)
	if err != nil {
		return fmt.Errorf("engine.RestoreBreaker: %w", err)
	}
	if !found {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breaker.ConsecutiveFailures = saved.ConsecutiveFailures
	e.breaker.CooldownUntil = saved.CooldownUntil
	e.breaker.TriggeredReason = saved.TriggeredReason
	if !e.breaker.IsOpen() {
		slog.Warn("engine: breaker en pausa al arrancar", "remaining", e.breaker.RemainingCooldown().Round(time.Second), "reason", saved.TriggeredReason)
	}
	return nil
}

// InterpretAndAct procesa un mensaje y devuelve su único registro de auditoría.
// Nunca devuelve error: cada fallo queda descrito en el Outcome.
func (e *Engine) InterpretAndAct(ctx context.Context, raw string, meta domain.MessageMeta) domain.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	received := meta.Timestamp
	if received.IsZero() {
		received = e.now()
	}
	sig := e.deps.Classifier.Classify(raw, received)
	out := domain.Outcome{
		SignalID:    uuid.New().String(),
		SignalType:  sig.Type,
		Instrument:  sig.Instrument,
		Direction:   sig.Direction,
		RealizedPnL: sig.RealizedPnL,
		Meta:        meta,
		RawText:     raw,
	}

	if !sig.IsActionable() {
		out.Status = domain.StatusInfo
		out.SignalType = domain.SignalUnknown
		out.Message = domain.ErrParseAmbiguous.Error()
		out.ProcessedAt = e.now().UTC()
		slog.Debug("engine: mensaje sin intención", "chat", meta.ChatID, "text", truncate(raw, 60))
		// no se audita; el notifier decide si lo muestra
		e.notify(ctx, out)
		return out
	}

	slog.Debug("engine: señal reconocida", "signal_id", out.SignalID, "rule", sig.Rule, "type", sig.Type, "symbol", sig.Instrument)
	before := *e.breaker
	e.act(ctx, sig, &out)
	out.ProcessedAt = e.now().UTC()
	e.record(ctx, out)
	e.saveBreaker(ctx, before)
	return out
}

func (e *Engine) act(ctx context.Context, sig domain.TradeSignal, out *domain.Outcome) {
	res, ok := e.deps.Resolver.Resolve(sig.Instrument)
	if !ok {
		e.fail(out, fmt.Errorf("engine: %q: %w", sig.Instrument, domain.ErrUnknownInstrument))
		return
	}
	out.Instrument = res.CanonicalSymbol
	out.VenueID = res.VenueID
	if res.Disabled {
		out.Status = domain.StatusInfo
		out.Message = fmt.Sprintf("%s (%s): %v", res.CanonicalSymbol, res.VenueID, domain.ErrInstrumentDisabled)
		slog.Info("engine: instrumento deshabilitado, se ignora", "symbol", res.CanonicalSymbol, "venue", res.VenueID, "synthesized", res.Synthesized)
		return
	}

	if e.cfg.DryRun {
		out.Status = domain.StatusInfo
		out.Message = dryRunMessage(sig, res)
		slog.Info("engine: dry-run", "type", sig.Type, "symbol", res.CanonicalSymbol, "venue", res.VenueID)
		return
	}

	if !e.breaker.IsOpen() {
		e.fail(out, fmt.Errorf("engine: %s paused for %s after %q: %w",
			res.CanonicalSymbol, e.breaker.RemainingCooldown().Round(time.Second), e.breaker.TriggeredReason, domain.ErrCircuitOpen))
		return
	}

	switch sig.Type {
	case domain.SignalOpen:
		e.open(ctx, sig, res, out)
	case domain.SignalClose, domain.SignalSLUpdate, domain.SignalTPUpdate:
		e.manage(ctx, sig, res, out)
	}
}

func (e *Engine) open(ctx context.Context, sig domain.TradeSignal, res domain.Resolution, out *domain.Outcome) {
	slog.Info("engine: apertura", "symbol", res.CanonicalSymbol, "direction", sig.Direction, "entry", sig.EntryPriceHint, "venue", res.VenueID)
	report := e.deps.Executor.Execute(ctx, sig, res)
	out.Trail = report.Trail

	if !report.Success() {
		if transportFailure(report) {
			e.breaker.RecordFailure(report.LastFailure())
		}
		e.fail(out, report.Err)
		return
	}
	e.breaker.RecordSuccess()

	out.Status = domain.StatusSuccess
	out.VenueID = report.VenueID
	out.Size = report.Size
	out.RealizedRisk = report.RealizedRisk
	out.DealID = report.DealID
	out.Message = fmt.Sprintf("%s %v %s @ %s, risk %.2f", sig.Direction, report.Size, res.CanonicalSymbol, report.VenueID, report.RealizedRisk)
	if report.Sizing != nil && report.Sizing.PriceMismatch {
		out.Message += " (signal price used for sizing)"
	}

	if e.deps.Tracker != nil {
		meta := domain.PositionMeta{
			DealID:    report.DealID,
			SignalID:  out.SignalID,
			VenueID:   report.VenueID,
			Direction: sig.Direction,
			Size:      report.Size,
			OpenedAt:  e.now().UTC(),
		}
		if err := e.deps.Tracker.Set(ctx, meta); err != nil {
			slog.Warn("engine: no se pudo guardar la posición en el tracker", "deal_id", report.DealID, "err", err)
		}
	}
}

func (e *Engine) manage(ctx context.Context, sig domain.TradeSignal, res domain.Resolution, out *domain.Outcome) {
	open, err := e.deps.Positions.OpenPositions(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrTransport) {
			e.breaker.RecordFailure(err.Error())
		}
		e.fail(out, fmt.Errorf("engine: open positions: %w", err))
		return
	}
	e.breaker.RecordSuccess()
	e.fillCreatedAt(ctx, open)

	action, _ := positions.ActionFor(sig.Type)
	level := 0.0
	kind := domain.LevelStop
	switch sig.Type {
	case domain.SignalSLUpdate:
		level = sig.StopLoss
	case domain.SignalTPUpdate:
		level = sig.TakeProfit
		kind = domain.LevelLimit
	}

	p, err := positions.Select(open, res, action, level)
	if err != nil {
		e.fail(out, err)
		return
	}
	out.VenueID = p.VenueID
	out.DealID = p.DealID
	out.Direction = p.Direction
	out.Size = p.Size

	var d domain.CloseDecision
	if sig.Type == domain.SignalClose {
		d = e.deps.Closer.Close(ctx, p)
	} else {
		d = e.deps.Closer.UpdateLevel(ctx, p, kind, level)
	}

	switch d.Action {
	case domain.CloseActionFailed:
		if errors.Is(d.Err, domain.ErrTransport) {
			e.breaker.RecordFailure(d.Err.Error())
		}
		e.fail(out, d.Err)
	case domain.CloseActionSkipped:
		out.Status = domain.StatusInfo
		out.Message = fmt.Sprintf("%s %s: level %v already set or on the wrong side of price", p.DealID, kind, level)
	case domain.CloseActionClosed:
		out.Status = domain.StatusSuccess
		out.Message = fmt.Sprintf("closed %s %v %s, pnl %.2f", p.DealID, p.Size, p.VenueID, d.PnL)
	case domain.CloseActionAdjust:
		out.Status = domain.StatusSuccess
		out.Message = fmt.Sprintf("adjusted %s, pnl %.2f: %s", p.DealID, d.PnL, describeUpdate(d.Update))
	}
}

// fillCreatedAt completa la fecha de apertura con la del tracker local.
func (e *Engine) fillCreatedAt(ctx context.Context, open []domain.OpenPosition) {
	if e.deps.Tracker == nil {
		return
	}
	for i := range open {
		if !open[i].CreatedAt.IsZero() {
			continue
		}
		meta, ok, err := e.deps.Tracker.Get(ctx, open[i].DealID)
		if err != nil {
			slog.Debug("engine: tracker no disponible", "deal_id", open[i].DealID, "err", err)
			continue
		}
		if ok {
			open[i].CreatedAt = meta.OpenedAt
		}
	}
}

func (e *Engine) fail(out *domain.Outcome, err error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	out.Status = domain.StatusError
	out.Message = err.Error()
	slog.Warn("engine: señal fallida", "type", out.SignalType, "symbol", out.Instrument, "err", err)
}

// record persiste y notifica. Los fallos aquí no cambian el resultado.
func (e *Engine) record(ctx context.Context, out domain.Outcome) {
	if e.deps.Audit != nil {
		if err := e.deps.Audit.SaveOutcome(ctx, out); err != nil {
			slog.Error("engine: error guardando auditoría", "signal_id", out.SignalID, "err", err)
		}
	}
	e.notify(ctx, out)
}

func (e *Engine) notify(ctx context.Context, out domain.Outcome) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.NotifyOutcome(ctx, out); err != nil {
		slog.Warn("engine: error notificando", "signal_id", out.SignalID, "err", err)
	}
}

// saveBreaker persiste el breaker solo si cambió durante la señal.
func (e *Engine) saveBreaker(ctx context.Context, before domain.CircuitBreaker) {
	if e.deps.Breakers == nil {
		return
	}
	cb := *e.breaker
	if cb.ConsecutiveFailures == before.ConsecutiveFailures && cb.CooldownUntil.Equal(before.CooldownUntil) {
		return
	}
	if err := e.deps.Breakers.SaveBreaker(ctx, cb); err != nil {
		slog.Warn("engine: no se pudo guardar el breaker", "err", err)
	}
}

func transportFailure(r domain.ExecutionReport) bool {
	if errors.Is(r.Err, domain.ErrTransport) {
		return true
	}
	for _, a := range r.Trail {
		if a.Outcome == domain.OutcomeTransportError {
			return true
		}
	}
	return false
}

func dryRunMessage(sig domain.TradeSignal, res domain.Resolution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "dry-run: %s %s → %s", sig.Type, res.CanonicalSymbol, res.VenueID)
	if sig.Direction != "" {
		fmt.Fprintf(&b, " %s", sig.Direction)
	}
	if sig.EntryPriceHint > 0 {
		fmt.Fprintf(&b, " @ %v", sig.EntryPriceHint)
	}
	if res.HasFallback() {
		fmt.Fprintf(&b, " (fallback %s)", res.Fallback.VenueID)
	}
	if res.WeekendSubstitute {
		b.WriteString(" (weekend)")
	}
	return b.String()
}

func describeUpdate(u *domain.LevelUpdate) string {
	if u == nil {
		return ""
	}
	var parts []string
	if u.StopLevel > 0 {
		parts = append(parts, fmt.Sprintf("stop %v", u.StopLevel))
	}
	if u.LimitLevel > 0 {
		parts = append(parts, fmt.Sprintf("limit %v", u.LimitLevel))
	}
	return strings.Join(parts, ", ")
}

// truncate acorta s a maxLen caracteres añadiendo "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
