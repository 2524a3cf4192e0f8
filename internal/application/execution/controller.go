// Package execution recorre la cascada PRIMARY → FALLBACK → SEARCH_ALTERNATIVES
// hasta colocar la orden o agotar los venues.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/application/security"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/google/uuid"
)

// OrderBroker es el subconjunto de ports.Broker que usa la cascada.
type OrderBroker interface {
	Search(ctx context.Context, term string) ([]domain.SearchResult, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error)
	Confirm(ctx context.Context, dealReference string) (domain.DealConfirmation, error)
}

// Fetcher obtiene snapshots validados (marketdata.Gate).
type Fetcher interface {
	Fetch(ctx context.Context, venueID, searchTerm string) (domain.MarketSnapshot, error)
}

// Sizer calcula el tamaño con un incremento opcional forzado (sizing.Engine).
type Sizer interface {
	SizeWithIncrement(ctx context.Context, snap domain.MarketSnapshot, res domain.Resolution, sig domain.TradeSignal, increment float64) domain.SizingResult
}

// RiskChecker aplica el tope de riesgo (security.Gate).
type RiskChecker interface {
	Check(ctx context.Context, c security.Candidate) (security.Verdict, error)
}

// Config controla la búsqueda de alternativas y la confirmación de órdenes.
type Config struct {
	MaxAlternatives int           // venues probados en SEARCH_ALTERNATIVES
	ConfirmAttempts int           // consultas de confirmación por orden
	ConfirmDelay    time.Duration // espera fija entre consultas
}

// DefaultConfig: 5 alternativas, 3 consultas de confirmación separadas 500ms.
func DefaultConfig() Config {
	return Config{MaxAlternatives: 5, ConfirmAttempts: 3, ConfirmDelay: 500 * time.Millisecond}
}

// Controller ejecuta la cascada de una señal. Las etapas corren en secuencia;
// cada intento espera la respuesta completa del anterior.
type Controller struct {
	broker OrderBroker
	fetch  Fetcher
	sizer  Sizer
	gate   RiskChecker
	cfg    Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New crea el controller.
func New(broker OrderBroker, fetch Fetcher, sizer Sizer, gate RiskChecker, cfg Config) *Controller {
	if cfg.MaxAlternatives <= 0 {
		cfg.MaxAlternatives = 5
	}
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = 3
	}
	return &Controller{broker: broker, fetch: fetch, sizer: sizer, gate: gate, cfg: cfg, now: time.Now, sleep: sleepCtx}
}

// WithSleep reemplaza la espera entre confirmaciones (tests).
func (c *Controller) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Controller {
	c.sleep = fn
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// attemptResult es el intento más lo que hace falta para el informe.
type attemptResult struct {
	attempt domain.ExecutionAttempt
	sizing  *domain.SizingResult
	err     error
}

// Execute recorre la cascada y devuelve el rastro completo. Se detiene en el
// primer intento aceptado; una cuenta sin fondos termina la cascada en el acto.
func (c *Controller) Execute(ctx context.Context, sig domain.TradeSignal, res domain.Resolution) domain.ExecutionReport {
	report := domain.ExecutionReport{}
	tried := make(map[string]bool)
	stage := domain.StagePrimary
	hasFallback := res.HasFallback()

	var last attemptResult
	for !stage.Terminal() {
		var outcome domain.AttemptOutcome
		switch stage {
		case domain.StagePrimary:
			last = c.attempt(ctx, stage, res.VenueID, res.SearchTerm(), res, sig, 0)
			report.Trail = append(report.Trail, last.attempt)
			tried[res.VenueID] = true
			tried[last.attempt.VenueID] = true
			outcome = last.attempt.Outcome

		case domain.StageFallback:
			fb := *res.Fallback
			fres := res
			fres.VenueID = fb.VenueID
			if fb.DisplayName != "" {
				fres.DisplayName = fb.DisplayName
			}
			if fb.Expiry != "" {
				fres.Expiry = fb.Expiry
			}
			last = c.attempt(ctx, stage, fb.VenueID, "", fres, sig, 0)
			report.Trail = append(report.Trail, last.attempt)
			tried[fb.VenueID] = true
			tried[last.attempt.VenueID] = true
			outcome = last.attempt.Outcome

		case domain.StageSearch:
			r, found := c.searchAlternatives(ctx, res, sig, tried, &report)
			outcome = r.attempt.Outcome
			if found || r.err != nil {
				last = r
			}
			if !found {
				outcome = domain.OutcomeNoCandidates
			}
		}

		next := domain.NextStage(stage, outcome, hasFallback)
		slog.Debug("execution: transición", "from", stage, "outcome", outcome, "to", next)
		stage = next
	}

	report.FinalStage = stage
	if stage == domain.StageSuccess {
		report.VenueID = last.attempt.VenueID
		report.DealID = last.attempt.DealID
		report.Size = last.attempt.Size
		report.RealizedRisk = last.attempt.RealizedRisk
		report.Sizing = last.sizing
		return report
	}
	report.Err = last.err
	if report.Err == nil {
		report.Err = fmt.Errorf("execution.Execute: %s: no tradable venue: %w", res.CanonicalSymbol, domain.ErrMarketDataUnavailable)
	}
	return report
}

// searchAlternatives busca venues operables no probados y los intenta en orden
// de relevancia, hasta MaxAlternatives. found=false si no hubo candidatos.
func (c *Controller) searchAlternatives(ctx context.Context, res domain.Resolution, sig domain.TradeSignal, tried map[string]bool, report *domain.ExecutionReport) (attemptResult, bool) {
	term := res.SearchTerm()
	results, err := c.broker.Search(ctx, term)
	if err != nil {
		slog.Warn("execution: búsqueda de alternativas fallida", "term", term, "err", err)
		return attemptResult{err: fmt.Errorf("execution.search: %q: %w", term, err)}, false
	}

	var candidates []domain.SearchResult
	for _, r := range results {
		if tried[r.VenueID] || !r.Tradable() {
			continue
		}
		candidates = append(candidates, r)
		if len(candidates) == c.cfg.MaxAlternatives {
			break
		}
	}
	slog.Info("execution: alternativas", "term", term, "results", len(results), "candidates", len(candidates))
	if len(candidates) == 0 {
		return attemptResult{}, false
	}

	var last attemptResult
	for _, cand := range candidates {
		ares := res
		ares.VenueID = cand.VenueID
		ares.DisplayName = cand.Name
		ares.Expiry = cand.Expiry
		ares.Fallback = nil

		increment := 0.0
		if cand.InstrumentType == domain.InstrumentShares {
			increment = 1
		}
		last = c.attempt(ctx, domain.StageSearch, cand.VenueID, "", ares, sig, increment)
		report.Trail = append(report.Trail, last.attempt)
		tried[cand.VenueID] = true

		switch last.attempt.Outcome {
		case domain.OutcomeAccepted, domain.OutcomeInsufficientFunds, domain.OutcomeUnconfirmed, domain.OutcomeTransportError:
			return last, true
		}
	}
	return last, true
}

// attempt hace un intento completo sobre un venue: datos de mercado, sizing,
// gate de riesgo, orden y confirmación.
func (c *Controller) attempt(ctx context.Context, stage domain.Stage, venueID, searchTerm string, res domain.Resolution, sig domain.TradeSignal, increment float64) attemptResult {
	a := domain.ExecutionAttempt{ID: uuid.New().String(), Stage: stage, VenueID: venueID, At: c.now().UTC()}
	fail := func(o domain.AttemptOutcome, err error) attemptResult {
		a.Outcome = o
		a.FailureReason = err.Error()
		slog.Warn("execution: intento fallido", "stage", stage, "venue", a.VenueID, "outcome", o, "err", err)
		return attemptResult{attempt: a, err: err}
	}

	snap, err := c.fetch.Fetch(ctx, venueID, searchTerm)
	if err != nil {
		if errors.Is(err, domain.ErrTransport) {
			return fail(domain.OutcomeTransportError, err)
		}
		return fail(domain.OutcomeMarketUnavailable, err)
	}
	a.VenueID = snap.VenueID
	res.VenueID = snap.VenueID

	if increment == 0 && stage == domain.StageSearch && snap.IsEquityLike() {
		increment = 1
	}
	sz := c.sizer.SizeWithIncrement(ctx, snap, res, sig, increment)
	if sz.Aborted {
		return fail(domain.OutcomeSizingAborted, fmt.Errorf("execution.attempt: %s: %s: %w", snap.VenueID, sz.AbortReason, domain.ErrSizingAborted))
	}

	verdict, err := c.gate.Check(ctx, security.Candidate{Signal: sig, Resolution: res, Snapshot: snap, Sizing: sz})
	if err != nil {
		if errors.Is(err, domain.ErrRiskExceeded) {
			return fail(domain.OutcomeRiskExceeded, err)
		}
		return fail(domain.OutcomeSizingAborted, err)
	}
	snap, res, sz = verdict.Snapshot, verdict.Resolution, verdict.Sizing
	a.VenueID = snap.VenueID
	a.Size = sz.Contracts
	a.RealizedRisk = sz.RealizedRisk

	req := domain.OrderRequest{
		VenueID:    snap.VenueID,
		Direction:  sig.Direction,
		Size:       sz.Contracts,
		Expiry:     res.Expiry,
		Currency:   snap.CurrencyCode,
		StopLevel:  sig.StopLoss,
		LimitLevel: sig.TakeProfit,
	}
	if req.Expiry == "" {
		req.Expiry = snap.Expiry
	}
	slog.Info("execution: colocando orden",
		"stage", stage, "venue", req.VenueID, "direction", req.Direction, "size", req.Size,
		"realized_risk", fmt.Sprintf("%.2f", sz.RealizedRisk), "downsized", verdict.Downsized, "bypassed", verdict.Bypassed)

	ref, err := c.broker.PlaceOrder(ctx, req)
	if err != nil {
		return c.classifyPlaceError(a, err)
	}
	a.DealReference = ref

	conf, err := c.confirm(ctx, ref)
	if err != nil {
		return fail(domain.OutcomeUnconfirmed, fmt.Errorf("execution.attempt: %s: confirm %s: %w", snap.VenueID, ref, err))
	}
	if !conf.Accepted() {
		rej := &domain.VenueRejection{VenueID: snap.VenueID, Status: conf.Status, Reason: conf.Reason}
		if rej.InsufficientFunds() {
			return fail(domain.OutcomeInsufficientFunds, rej)
		}
		return fail(domain.OutcomeRejected, rej)
	}

	a.Outcome = domain.OutcomeAccepted
	a.DealID = conf.DealID
	if conf.Size > 0 {
		a.Size = conf.Size
	}
	slog.Info("execution: orden aceptada", "stage", stage, "venue", a.VenueID, "deal_id", a.DealID, "size", a.Size)
	return attemptResult{attempt: a, sizing: &sz}
}

func (c *Controller) classifyPlaceError(a domain.ExecutionAttempt, err error) attemptResult {
	var rej *domain.VenueRejection
	switch {
	case errors.As(err, &rej) && rej.InsufficientFunds():
		a.Outcome = domain.OutcomeInsufficientFunds
	case errors.As(err, &rej):
		a.Outcome = domain.OutcomeRejected
	default:
		a.Outcome = domain.OutcomeTransportError
	}
	a.FailureReason = err.Error()
	slog.Warn("execution: orden no enviada", "stage", a.Stage, "venue", a.VenueID, "outcome", a.Outcome, "err", err)
	return attemptResult{attempt: a, err: err}
}

// confirm consulta el estado del deal hasta ConfirmAttempts veces con espera fija.
func (c *Controller) confirm(ctx context.Context, ref string) (domain.DealConfirmation, error) {
	var lastErr error
	for i := 0; i < c.cfg.ConfirmAttempts; i++ {
		if i > 0 {
			if err := c.sleep(ctx, c.cfg.ConfirmDelay); err != nil {
				return domain.DealConfirmation{}, err
			}
		}
		conf, err := c.broker.Confirm(ctx, ref)
		if err == nil && conf.Status != "" {
			return conf, nil
		}
		lastErr = err
		slog.Debug("execution: confirmación pendiente", "ref", ref, "try", i+1, "err", err)
	}
	if lastErr == nil {
		lastErr = errors.New("empty confirmation")
	}
	return domain.DealConfirmation{}, lastErr
}
