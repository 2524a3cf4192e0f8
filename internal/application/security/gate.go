// Package security aplica el tope duro de riesgo sobre cada sizing antes de
// enviar una orden.
package security

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// Searcher busca instrumentos en el broker.
type Searcher interface {
	Search(ctx context.Context, term string) ([]domain.SearchResult, error)
}

// Fetcher obtiene un snapshot validado (marketdata.Gate).
type Fetcher interface {
	Fetch(ctx context.Context, venueID, searchTerm string) (domain.MarketSnapshot, error)
}

// Sizer recalcula el tamaño sobre otro venue (sizing.Engine).
type Sizer interface {
	Size(ctx context.Context, snap domain.MarketSnapshot, res domain.Resolution, sig domain.TradeSignal) domain.SizingResult
}

// Config son los límites del gate.
type Config struct {
	MaxRiskMultiple   float64  // realizedRisk ≤ MaxRiskMultiple × target
	FloorWarnMultiple float64  // aviso para trades forzados por el mínimo del venue
	AllowList         []string // instrumentos exentos del tope, revisados a mano
}

// DefaultConfig devuelve 3× de tope y aviso a partir de 1.5×.
func DefaultConfig() Config {
	return Config{MaxRiskMultiple: 3, FloorWarnMultiple: 1.5}
}

// Candidate es un sizing a validar.
type Candidate struct {
	Signal     domain.TradeSignal
	Resolution domain.Resolution
	Snapshot   domain.MarketSnapshot
	Sizing     domain.SizingResult
}

// Verdict es la decisión del gate. Si se encontró una variante mini, Snapshot,
// Resolution y Sizing son los del nuevo venue.
type Verdict struct {
	Accepted   bool
	Bypassed   bool
	Downsized  bool
	Warning    string
	Reason     string
	Snapshot   domain.MarketSnapshot
	Resolution domain.Resolution
	Sizing     domain.SizingResult
}

// Gate valida el riesgo realizado contra el tope.
type Gate struct {
	cfg     Config
	allow   map[string]bool
	search  Searcher
	fetcher Fetcher
	sizer   Sizer
}

// New crea el gate. La allow-list se compara por nombre normalizado.
func New(cfg Config, search Searcher, fetcher Fetcher, sizer Sizer) *Gate {
	if cfg.MaxRiskMultiple <= 0 {
		cfg.MaxRiskMultiple = 3
	}
	if cfg.FloorWarnMultiple <= 0 {
		cfg.FloorWarnMultiple = 1.5
	}
	allow := make(map[string]bool, len(cfg.AllowList))
	for _, s := range cfg.AllowList {
		allow[domain.NormalizeInstrument(s)] = true
	}
	return &Gate{cfg: cfg, allow: allow, search: search, fetcher: fetcher, sizer: sizer}
}

// Allowed indica si el instrumento está exento del tope.
func (g *Gate) Allowed(symbol string) bool {
	return g.allow[domain.NormalizeInstrument(symbol)]
}

// Check acepta, reduce a una variante mini o rechaza. El rechazo envuelve
// domain.ErrRiskExceeded.
func (g *Gate) Check(ctx context.Context, c Candidate) (Verdict, error) {
	v := Verdict{Snapshot: c.Snapshot, Resolution: c.Resolution, Sizing: c.Sizing}
	if c.Sizing.Aborted {
		v.Reason = c.Sizing.AbortReason
		return v, fmt.Errorf("security.Check: %s: %s: %w", c.Snapshot.VenueID, c.Sizing.AbortReason, domain.ErrSizingAborted)
	}

	if g.Allowed(c.Resolution.CanonicalSymbol) {
		v.Accepted = true
		v.Bypassed = true
		if !g.withinCap(c.Sizing) {
			slog.Warn("security: instrumento exento supera el tope",
				"symbol", c.Resolution.CanonicalSymbol, "realized", c.Sizing.RealizedRisk, "target", c.Sizing.TargetRisk)
		}
		return v, nil
	}

	if g.withinCap(c.Sizing) {
		v.Accepted = true
		v.Warning = g.floorWarning(c.Sizing)
		if v.Warning != "" {
			slog.Warn("security: "+v.Warning, "venue", c.Snapshot.VenueID, "realized", c.Sizing.RealizedRisk, "target", c.Sizing.TargetRisk)
		}
		return v, nil
	}

	slog.Warn("security: tope de riesgo superado, buscando variante mini",
		"venue", c.Snapshot.VenueID, "realized", c.Sizing.RealizedRisk, "cap", g.cap(c.Sizing))

	if mv, ok := g.tryMini(ctx, c); ok {
		return mv, nil
	}

	v.Reason = fmt.Sprintf("realized risk %.2f exceeds %.1f× target %.2f", c.Sizing.RealizedRisk, g.cfg.MaxRiskMultiple, c.Sizing.TargetRisk)
	return v, fmt.Errorf("security.Check: %s: %s: %w", c.Snapshot.VenueID, v.Reason, domain.ErrRiskExceeded)
}

func (g *Gate) cap(s domain.SizingResult) float64 {
	return g.cfg.MaxRiskMultiple * s.TargetRisk
}

func (g *Gate) withinCap(s domain.SizingResult) bool {
	return s.RealizedRisk <= g.cap(s)+1e-9
}

func (g *Gate) floorWarning(s domain.SizingResult) string {
	if s.FloorForced && s.RealizedRisk > g.cfg.FloorWarnMultiple*s.TargetRisk {
		return fmt.Sprintf("minimum deal size forces %.1f× target risk", s.RiskMultiple())
	}
	return ""
}

// tryMini busca la variante de menor denominación: primero el fallback declarado,
// luego los resultados de búsqueda.
func (g *Gate) tryMini(ctx context.Context, c Candidate) (Verdict, bool) {
	var venues []string
	seen := map[string]bool{c.Snapshot.VenueID: true}

	if fb := c.Resolution.Fallback; fb != nil && domain.IsMiniVenue(fb.VenueID, fb.DisplayName) && !seen[fb.VenueID] {
		venues = append(venues, fb.VenueID)
		seen[fb.VenueID] = true
	}
	if g.search != nil {
		results, err := g.search.Search(ctx, c.Resolution.SearchTerm())
		if err != nil {
			slog.Warn("security: búsqueda de variante mini fallida", "term", c.Resolution.SearchTerm(), "err", err)
		}
		for _, r := range results {
			if seen[r.VenueID] || !domain.IsMiniVenue(r.VenueID, r.Name) || !r.Tradable() {
				continue
			}
			venues = append(venues, r.VenueID)
			seen[r.VenueID] = true
		}
	}

	for _, venue := range venues {
		snap, err := g.fetcher.Fetch(ctx, venue, "")
		if err != nil {
			slog.Debug("security: variante mini sin datos", "venue", venue, "err", err)
			continue
		}
		res := c.Resolution
		res.VenueID = snap.VenueID
		res.DisplayName = snap.Name
		if snap.Expiry != "" {
			res.Expiry = snap.Expiry
		}
		sz := g.sizer.Size(ctx, snap, res, c.Signal)
		if sz.Aborted || !g.withinCap(sz) {
			slog.Debug("security: variante mini sigue fuera del tope", "venue", venue, "realized", sz.RealizedRisk, "aborted", sz.Aborted)
			continue
		}
		slog.Info("security: reducido a variante mini", "from", c.Snapshot.VenueID, "to", venue, "contracts", sz.Contracts, "realized", sz.RealizedRisk)
		return Verdict{
			Accepted:   true,
			Downsized:  true,
			Warning:    g.floorWarning(sz),
			Snapshot:   snap,
			Resolution: res,
			Sizing:     sz,
		}, true
	}
	return Verdict{}, false
}
