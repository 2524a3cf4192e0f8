package domain

import "strings"

// Estados de mercado reportados por el broker.
const (
	MarketStatusTradeable = "TRADEABLE"
	MarketStatusClosed    = "CLOSED"
	MarketStatusEdit      = "EDITS_ONLY"
	MarketStatusOffline   = "OFFLINE"
)

// Unidades de MarginFactor.
const (
	MarginUnitPercentage = "PERCENTAGE"
	MarginUnitPoints     = "POINTS"
)

// Tipos de instrumento reportados por el broker.
const (
	InstrumentCurrencies  = "CURRENCIES"
	InstrumentShares      = "SHARES"
	InstrumentIndices     = "INDICES"
	InstrumentCommodities = "COMMODITIES"
)

// MarketSnapshot es la cotización y metadata de contrato de un venue.
// Se obtiene fresca en cada decisión y nunca se persiste.
type MarketSnapshot struct {
	VenueID        string
	Name           string
	InstrumentType string
	Expiry         string
	Bid            float64
	Offer          float64
	MarketStatus   string
	Tradable       bool

	// MarginFactor tal como lo reporta el broker. Sin MarginFactorUnit puede
	// venir como ratio (<1) o porcentaje (≥1).
	MarginFactor     float64
	MarginFactorUnit string // PERCENTAGE | POINTS

	// Fuentes del multiplicador de contrato, en orden de preferencia.
	PipValue      float64 // valor monetario de un pip
	PipDefinition float64 // cuánto precio es un pip (0.0001, 0.01, 1)
	ContractSize  float64 // campo estático del broker

	CurrencyCode  string
	MinDealSize   float64
	DealIncrement float64
}

// ComputeTradable exige el flag de estado Y la presencia de bid y offer.
// El flag por sí solo no basta: hay venues "TRADEABLE" sin precio.
func ComputeTradable(status string, bid, offer float64) bool {
	return strings.EqualFold(status, MarketStatusTradeable) && bid > 0 && offer > 0
}

// PriceFor devuelve el precio ejecutable para una dirección: offer para BUY, bid para SELL.
func (s MarketSnapshot) PriceFor(d Direction) float64 {
	if d == Sell {
		return s.Bid
	}
	return s.Offer
}

// Mid devuelve el precio medio. 0 si falta algún lado.
func (s MarketSnapshot) Mid() float64 {
	if s.Bid <= 0 || s.Offer <= 0 {
		return 0
	}
	return (s.Bid + s.Offer) / 2
}

// IsEquityLike indica instrumentos tipo acción: lo dice el broker o el incremento es entero.
func (s MarketSnapshot) IsEquityLike() bool {
	if strings.EqualFold(s.InstrumentType, InstrumentShares) {
		return true
	}
	return s.InstrumentType == "" && s.DealIncrement >= 1
}

// IsCurrencyPair indica un par de divisas, por tipo o por convención del venue id.
func (s MarketSnapshot) IsCurrencyPair() bool {
	return strings.EqualFold(s.InstrumentType, InstrumentCurrencies) || IsCurrencyPairVenue(s.VenueID)
}

// SearchResult es una fila de la búsqueda de instrumentos del broker.
type SearchResult struct {
	VenueID        string
	Name           string
	InstrumentType string
	Expiry         string
	Bid            float64
	Offer          float64
	MarketStatus   string
}

// Tradable aplica la misma regla que ComputeTradable.
func (r SearchResult) Tradable() bool {
	return ComputeTradable(r.MarketStatus, r.Bid, r.Offer)
}
