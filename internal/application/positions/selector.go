// Package positions elige la posición abierta afectada por una señal de cierre
// o de actualización, y decide si un cierre cierra de verdad o solo ajusta niveles.
package positions

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// Action es el tipo de operación que motiva la selección.
type Action string

const (
	ActionClose    Action = "CLOSE"
	ActionStop     Action = "SL_UPDATE"
	ActionTakeProf Action = "TP_UPDATE"
)

// ActionFor traduce un tipo de señal a la acción del selector.
func ActionFor(t domain.SignalType) (Action, bool) {
	switch t {
	case domain.SignalClose:
		return ActionClose, true
	case domain.SignalSLUpdate:
		return ActionStop, true
	case domain.SignalTPUpdate:
		return ActionTakeProf, true
	}
	return "", false
}

func (a Action) levelKind() (domain.LevelKind, bool) {
	switch a {
	case ActionStop:
		return domain.LevelStop, true
	case ActionTakeProf:
		return domain.LevelLimit, true
	}
	return "", false
}

// synonyms son los nombres con los que el broker muestra algunos instrumentos
// cuando no coinciden con el símbolo del canal.
var synonyms = map[string][]string{
	"DAX":    {"GERMANY40", "GER40", "DE40", "GERMANY30"},
	"DOW":    {"WALLSTREET", "US30", "DJIA"},
	"NASDAQ": {"USTECH100", "NAS100", "US100"},
	"SP500":  {"US500", "SPX"},
	"GOLD":   {"SPOTGOLD", "XAUUSD"},
	"SILVER": {"SPOTSILVER", "XAGUSD"},
	"OIL":    {"OILUSCRUDE", "USCRUDE", "WTI", "CRUDEOIL"},
	"BRENT":  {"OILBRENTCRUDE", "UKOIL"},
	"FTSE":   {"FTSE100", "UK100"},
}

// Select elige la posición que corresponde a la resolución.
//
// Orden de coincidencia: venue primario, venue alternativo declarado, y por
// último nombre/alias. Con varias candidatas y un nivel objetivo se quedan las
// compatibles con ese nivel (si no queda ninguna se vuelve al conjunto completo).
// Un cierre elige la de mayor P&L; una actualización, la de menor. Empate: la
// más antigua.
func Select(positions []domain.OpenPosition, res domain.Resolution, action Action, level float64) (domain.OpenPosition, error) {
	candidates, rule := match(positions, res)
	if len(candidates) == 0 {
		return domain.OpenPosition{}, fmt.Errorf("positions.Select: %s: %d open: %w", res.CanonicalSymbol, len(positions), domain.ErrNoMatchingPosition)
	}
	if len(candidates) == 1 {
		slog.Debug("positions: candidata única", "symbol", res.CanonicalSymbol, "deal_id", candidates[0].DealID, "rule", rule)
		return candidates[0], nil
	}

	if kind, ok := action.levelKind(); ok && level > 0 {
		var compatible []domain.OpenPosition
		for _, p := range candidates {
			if p.LevelCompatible(kind, level) {
				compatible = append(compatible, p)
			}
		}
		if len(compatible) > 0 {
			candidates = compatible
		} else {
			slog.Debug("positions: ninguna compatible con el nivel, se usan todas", "symbol", res.CanonicalSymbol, "level", level)
		}
	}

	ranked := append([]domain.OpenPosition(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := ranked[i].PnL(), ranked[j].PnL()
		if pi != pj {
			if action == ActionClose {
				return pi > pj
			}
			return pi < pj
		}
		return older(ranked[i], ranked[j])
	})
	chosen := ranked[0]
	slog.Info("positions: seleccionada",
		"symbol", res.CanonicalSymbol, "action", action, "rule", rule,
		"candidates", len(candidates), "deal_id", chosen.DealID, "pnl", chosen.PnL())
	return chosen, nil
}

func older(a, b domain.OpenPosition) bool {
	switch {
	case a.CreatedAt.IsZero():
		return false
	case b.CreatedAt.IsZero():
		return true
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// match aplica las reglas en orden y devuelve las candidatas de la primera que encuentra algo.
func match(positions []domain.OpenPosition, res domain.Resolution) ([]domain.OpenPosition, string) {
	venues := []string{res.VenueID}
	if res.PrimaryVenueID != "" && res.PrimaryVenueID != res.VenueID {
		venues = append(venues, res.PrimaryVenueID)
	}
	if out := byVenue(positions, venues...); len(out) > 0 {
		return out, "venue"
	}
	if res.Fallback != nil && res.Fallback.VenueID != "" {
		if out := byVenue(positions, res.Fallback.VenueID); len(out) > 0 {
			return out, "fallback"
		}
	}

	names := nameKeys(res)
	var out []domain.OpenPosition
	for _, p := range positions {
		if nameMatches(p, names) {
			out = append(out, p)
		}
	}
	return out, "name"
}

func byVenue(positions []domain.OpenPosition, venues ...string) []domain.OpenPosition {
	var out []domain.OpenPosition
	for _, p := range positions {
		for _, v := range venues {
			if v != "" && strings.EqualFold(p.VenueID, v) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func nameKeys(res domain.Resolution) []string {
	keys := []string{compact(res.CanonicalSymbol), compact(res.DisplayName)}
	for _, a := range res.Aliases {
		keys = append(keys, compact(a))
	}
	keys = append(keys, synonyms[compact(res.CanonicalSymbol)]...)
	if code := marketCode(res.VenueID); code != "" {
		keys = append(keys, code)
	}
	var out []string
	seen := map[string]bool{}
	for _, k := range keys {
		if len(k) < 3 || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func nameMatches(p domain.OpenPosition, keys []string) bool {
	name := compact(p.InstrumentName)
	code := marketCode(p.VenueID)
	for _, k := range keys {
		if name != "" && strings.Contains(name, k) {
			return true
		}
		if code != "" && code == k {
			return true
		}
	}
	return false
}

// marketCode extrae el segmento de mercado de un venue id: "CS.D.GBPJPY.CFD.IP" → "GBPJPY".
func marketCode(venueID string) string {
	parts := strings.Split(venueID, ".")
	if len(parts) < 3 {
		return ""
	}
	return compact(parts[2])
}

// compact deja solo letras y dígitos en mayúsculas.
func compact(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == 'Ö' || r == 'Ä' || r == 'Ü' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
