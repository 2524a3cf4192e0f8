package domain

import (
	"strings"
)

// FallbackTagWeekend marca un venue alternativo que solo se usa en fin de semana.
const FallbackTagWeekend = "weekend"

// FallbackVenue es la variante alternativa declarada para un instrumento.
type FallbackVenue struct {
	VenueID     string `yaml:"venue_id"`
	DisplayName string `yaml:"display_name"`
	Expiry      string `yaml:"expiry"`
	Tag         string `yaml:"tag"` // "weekend" o vacío
}

// InstrumentMapping es una entrada de la tabla estática de instrumentos.
// La tabla se carga una vez y nunca se modifica.
type InstrumentMapping struct {
	CanonicalSymbol   string         `yaml:"symbol"`
	DisplayName       string         `yaml:"display_name"`
	VenueID           string         `yaml:"venue_id"`
	Expiry            string         `yaml:"expiry"`
	Fallback          *FallbackVenue `yaml:"fallback,omitempty"`
	MarginPercentHint float64        `yaml:"margin_percent"`
	ContractSizeHint  float64        `yaml:"contract_size"`
	MinDealSize       float64        `yaml:"min_deal_size"`
	DealIncrement     float64        `yaml:"deal_increment"`
	Aliases           []string       `yaml:"aliases"`
	Disabled          bool           `yaml:"disabled"`
}

// Resolution es la copia de trabajo por trade de un InstrumentMapping.
// VenueID puede sobreescribirse cuando se descubre un reemplazo.
type Resolution struct {
	CanonicalSymbol   string
	VenueID           string
	DisplayName       string
	Expiry            string
	MarginPercentHint float64
	ContractSizeHint  float64
	MinDealSize       float64
	DealIncrement     float64
	Fallback          *FallbackVenue
	PrimaryVenueID    string // venue original de la tabla, antes de sustituciones
	Aliases           []string
	Disabled          bool
	Synthesized       bool // venue id generado para un ticker desconocido
	WeekendSubstitute bool
}

// HasFallback indica si la resolución declara un venue alternativo utilizable.
func (r Resolution) HasFallback() bool {
	return r.Fallback != nil && r.Fallback.VenueID != "" && r.Fallback.VenueID != r.VenueID
}

// SearchTerm es el término usado para buscar instrumentos alternativos.
func (r Resolution) SearchTerm() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.CanonicalSymbol
}

// ToResolution copia el mapping a una resolución independiente.
func (m InstrumentMapping) ToResolution() Resolution {
	r := Resolution{
		CanonicalSymbol:   m.CanonicalSymbol,
		VenueID:           m.VenueID,
		DisplayName:       m.DisplayName,
		Expiry:            m.Expiry,
		MarginPercentHint: m.MarginPercentHint,
		ContractSizeHint:  m.ContractSizeHint,
		MinDealSize:       m.MinDealSize,
		DealIncrement:     m.DealIncrement,
		PrimaryVenueID:    m.VenueID,
		Disabled:          m.Disabled,
	}
	if m.Fallback != nil {
		fb := *m.Fallback
		r.Fallback = &fb
	}
	if len(m.Aliases) > 0 {
		r.Aliases = append([]string(nil), m.Aliases...)
	}
	return r
}

// NormalizeInstrument quita barras y espacios y pasa a mayúsculas: "gbp/jpy" → "GBPJPY".
func NormalizeInstrument(name string) string {
	name = strings.ReplaceAll(name, "/", "")
	name = strings.Join(strings.Fields(name), "")
	return strings.ToUpper(name)
}

// IsCurrencyPairVenue detecta venues de divisas por la convención de nombres
// del broker ("CS.D.GBPJPY.MINI.IP").
func IsCurrencyPairVenue(venueID string) bool {
	parts := strings.Split(strings.ToUpper(venueID), ".")
	if len(parts) < 3 || parts[0] != "CS" {
		return false
	}
	pair := parts[2]
	if len(pair) != 6 {
		return false
	}
	for _, c := range pair {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// IsMiniVenue detecta la variante de menor denominación de un instrumento.
func IsMiniVenue(venueID, name string) bool {
	return strings.Contains(strings.ToUpper(venueID), ".MINI.") ||
		strings.Contains(strings.ToUpper(name), "MINI")
}
