// Package resolver traduce el nombre de instrumento de una señal a un venue del broker.
package resolver

import (
	"log/slog"
	"regexp"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// tickerRe reconoce tickers cortos en mayúsculas (AAPL, NVDA, T).
var tickerRe = regexp.MustCompile(`^[A-Z]{1,5}$`)

// Option configura el Resolver.
type Option func(*Resolver)

// WithClock inyecta el reloj usado para detectar fin de semana.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLocation fija la zona horaria en la que se evalúa el fin de semana.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// Resolver busca en la tabla estática por nombre normalizado, display name y alias.
// La tabla no se modifica nunca; cada Resolve devuelve una copia.
type Resolver struct {
	table map[string]domain.InstrumentMapping
	now   func() time.Time
	loc   *time.Location
}

// New indexa la tabla. Ante claves duplicadas gana la primera entrada.
func New(mappings []domain.InstrumentMapping, opts ...Option) *Resolver {
	r := &Resolver{
		table: make(map[string]domain.InstrumentMapping, len(mappings)*2),
		now:   time.Now,
		loc:   time.UTC,
	}
	for _, o := range opts {
		o(r)
	}
	for _, m := range mappings {
		keys := append([]string{m.CanonicalSymbol, m.DisplayName}, m.Aliases...)
		for _, k := range keys {
			nk := domain.NormalizeInstrument(k)
			if nk == "" {
				continue
			}
			if _, dup := r.table[nk]; dup {
				continue
			}
			r.table[nk] = m
		}
	}
	return r
}

// Resolve devuelve la resolución para el instrumento. ok=false si no hay entrada
// y el texto no parece un ticker. Los tickers desconocidos se sintetizan y se
// marcan Disabled: nunca se operan automáticamente.
func (r *Resolver) Resolve(instrument string) (domain.Resolution, bool) {
	key := domain.NormalizeInstrument(instrument)
	if key == "" {
		return domain.Resolution{}, false
	}

	m, found := r.table[key]
	if !found {
		if !tickerRe.MatchString(key) {
			return domain.Resolution{}, false
		}
		venue := SynthesizeVenueID(key)
		slog.Debug("resolver: ticker desconocido, venue sintetizado", "ticker", key, "venue", venue)
		return domain.Resolution{
			CanonicalSymbol: key,
			VenueID:         venue,
			PrimaryVenueID:  venue,
			DisplayName:     key,
			Expiry:          "DFB",
			DealIncrement:   1,
			MinDealSize:     1,
			Disabled:        true,
			Synthesized:     true,
		}, true
	}

	res := m.ToResolution()
	if res.Fallback != nil && res.Fallback.Tag == domain.FallbackTagWeekend {
		if r.IsWeekend() {
			fb := *res.Fallback
			res.VenueID = fb.VenueID
			if fb.DisplayName != "" {
				res.DisplayName = fb.DisplayName
			}
			if fb.Expiry != "" {
				res.Expiry = fb.Expiry
			}
			res.WeekendSubstitute = true
			slog.Debug("resolver: sustitución de fin de semana", "symbol", res.CanonicalSymbol, "venue", res.VenueID)
		}
		// Un fallback de fin de semana no es un FALLBACK de la cascada.
		res.Fallback = nil
	}
	return res, true
}

// IsWeekend indica si ahora es sábado o domingo en la zona configurada.
func (r *Resolver) IsWeekend() bool {
	wd := r.now().In(r.loc).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// SynthesizeVenueID genera un venue determinista para un ticker de acción:
// A–H → UA, I–P → UB, Q–Z → UC.
func SynthesizeVenueID(ticker string) string {
	bucket := "UC"
	switch c := ticker[0]; {
	case c >= 'A' && c <= 'H':
		bucket = "UA"
	case c >= 'I' && c <= 'P':
		bucket = "UB"
	}
	return bucket + ".D." + ticker + ".DAILY.IP"
}
