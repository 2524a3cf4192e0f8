package domain

// sizing.go: cálculo puro de tamaño de posición por riesgo fijo.
//
//	marginPerContract = price × marginRate × fxRate × contractMultiplier
//	contracts_raw     = targetRisk / marginPerContract
//
// Redondeo:
//   - incremento ≥ 1 (acciones): al incremento más cercano, para no duplicar riesgo en el borde.
//   - incremento < 1: siempre hacia arriba. Nunca se trunca por debajo del objetivo.
//
// Después se acota a [minDealSize, maxContracts] y se corrige el residuo flotante
// a la precisión decimal implícita del incremento.

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Razones de aborto del sizing. Ninguna emite orden.
const (
	AbortNoLivePrice       = "no live price"
	AbortImplausiblePrice  = "live price implausible and no safe fallback"
	AbortMarginUnavailable = "margin rate unavailable"
	AbortMultiplierUnknown = "contract multiplier undeterminable for currency pair"
	AbortFXUnavailable     = "fx rate unavailable"
	AbortInvalidMargin     = "margin per contract not positive"
	AbortInvalidTargetRisk = "target risk not positive"
	AbortMarketData        = "market data unavailable"
)

// Fuentes del multiplicador de contrato.
const (
	MultiplierFromPip       = "pip_value"
	MultiplierFromStatic    = "contract_size"
	MultiplierFromHint      = "table_hint"
	MultiplierFromVenueName = "venue_convention"
	MultiplierShareDefault  = "share_default"
	defaultMaxContracts     = 100
	incrementTolerance      = 1e-9
	standardFXContract      = 100000
	miniFXContract          = 10000
)

// ReferencePairBound es el rango absoluto de precio plausible para el par de
// divisas de referencia. Solo se consulta cuando el precio vivo se desvía del
// precio de la señal.
type ReferencePairBound struct {
	Symbol string  `yaml:"symbol"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
}

// Matches indica si el instrumento o venue corresponde al par de referencia.
func (b ReferencePairBound) Matches(canonical, venueID string) bool {
	if b.Symbol == "" {
		return false
	}
	sym := NormalizeInstrument(b.Symbol)
	return NormalizeInstrument(canonical) == sym || strings.Contains(strings.ToUpper(venueID), "."+sym+".")
}

// SizingParams son las constantes ajustables del sizing.
type SizingParams struct {
	TargetRisk        float64
	MaxContracts      float64
	BoostThreshold    float64 // fracción del objetivo bajo la cual se suma un incremento
	MaxPriceDeviation float64 // desviación relativa precio vivo vs señal
	MinImpliedMargin  float64 // margen bajo el cual se desconfía de la tasa en acciones
	EquityMarginFloor float64
	ReferencePair     ReferencePairBound
}

// DefaultSizingParams devuelve los parámetros observados en producción.
func DefaultSizingParams() SizingParams {
	return SizingParams{
		TargetRisk:        100,
		MaxContracts:      defaultMaxContracts,
		BoostThreshold:    0.80,
		MaxPriceDeviation: 0.50,
		MinImpliedMargin:  0.01,
		EquityMarginFloor: 0.20,
		ReferencePair:     ReferencePairBound{Symbol: "EURUSD", Min: 0.80, Max: 1.60},
	}
}

// SizingInput agrupa todo lo que necesita ComputeSizing.
type SizingInput struct {
	CanonicalSymbol string
	Direction       Direction
	Snapshot        MarketSnapshot
	FXRate          float64
	SignalPrice     float64 // solo chequeo de cordura

	// Pistas de la tabla estática, usadas cuando el broker no reporta el dato.
	MarginPercentHint float64
	ContractSizeHint  float64
	MinDealSizeHint   float64
	DealIncrementHint float64

	// IncrementOverride fuerza un incremento (p.ej. 1 en venues tipo acción).
	IncrementOverride float64

	Params SizingParams
}

// SizingResult es el resultado del sizing. Si Aborted, no se emite orden.
type SizingResult struct {
	Contracts         float64
	MarginPerContract float64
	RealizedRisk      float64
	TargetRisk        float64
	RawContracts      float64

	PriceUsed        float64
	MarginRate       float64
	FXRate           float64
	Multiplier       float64
	MultiplierSource string
	MinDealSize      float64
	DealIncrement    float64

	PriceMismatch        bool // se usó el precio de la señal en lugar del vivo
	Boosted              bool
	FloorForced          bool // el mínimo del venue subió el tamaño por encima del redondeo
	LeverageFloorApplied bool

	Aborted     bool
	AbortReason string
}

// RiskMultiple devuelve realizedRisk / targetRisk.
func (r SizingResult) RiskMultiple() float64 {
	if r.TargetRisk <= 0 {
		return math.Inf(1)
	}
	return r.RealizedRisk / r.TargetRisk
}

func aborted(target float64, reason string) SizingResult {
	return SizingResult{TargetRisk: target, Aborted: true, AbortReason: reason}
}

// NormalizeMarginRate convierte un porcentaje (≥1) a ratio; un ratio (<1) pasa tal cual.
func NormalizeMarginRate(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return v / 100
	}
	return v
}

// MarginRate devuelve la tasa de margen del snapshot como ratio. Con unidad
// PERCENTAGE el valor siempre es un porcentaje (0.5 = 0.5%); con POINTS no es
// una tasa y devuelve 0. Sin unidad se aplica NormalizeMarginRate.
func (s MarketSnapshot) MarginRate() float64 {
	switch strings.ToUpper(s.MarginFactorUnit) {
	case MarginUnitPercentage:
		if s.MarginFactor <= 0 {
			return 0
		}
		return s.MarginFactor / 100
	case MarginUnitPoints:
		return 0
	}
	return NormalizeMarginRate(s.MarginFactor)
}

// ResolveMultiplier aplica la cadena de fuentes del multiplicador:
// pip value ÷ pip definition → campo estático → pista de tabla →
// convención del venue id (solo divisas) → 1 para instrumentos tipo acción.
// Un par de divisas sin multiplicador derivable devuelve ok=false.
func ResolveMultiplier(s MarketSnapshot, hint float64) (value float64, source string, ok bool) {
	if s.PipValue > 0 && s.PipDefinition > 0 {
		return s.PipValue / s.PipDefinition, MultiplierFromPip, true
	}
	if s.ContractSize > 0 {
		return s.ContractSize, MultiplierFromStatic, true
	}
	if hint > 0 {
		return hint, MultiplierFromHint, true
	}
	if s.IsCurrencyPair() {
		if m, found := multiplierFromVenueName(s.VenueID); found {
			return m, MultiplierFromVenueName, true
		}
		return 0, "", false
	}
	return 1, MultiplierShareDefault, true
}

// multiplierFromVenueName infiere el tamaño de contrato FX desde el sufijo del venue.
func multiplierFromVenueName(venueID string) (float64, bool) {
	parts := strings.Split(strings.ToUpper(venueID), ".")
	if len(parts) < 4 || !IsCurrencyPairVenue(venueID) {
		return 0, false
	}
	switch parts[3] {
	case "MINI":
		return miniFXContract, true
	case "CFD", "TODAY", "STANDARD":
		return standardFXContract, true
	}
	return 0, false
}

// ComputeSizing calcula el número de contratos para el riesgo objetivo.
// Es una función pura: mismo input, mismo resultado.
func ComputeSizing(in SizingInput) SizingResult {
	p := in.Params
	if p.MaxContracts <= 0 {
		p.MaxContracts = defaultMaxContracts
	}
	target := p.TargetRisk
	if target <= 0 {
		return aborted(target, AbortInvalidTargetRisk)
	}

	res := SizingResult{TargetRisk: target, FXRate: in.FXRate}

	// 1. Precio vivo, con chequeo de cordura contra el precio de la señal.
	price := in.Snapshot.PriceFor(in.Direction)
	if price <= 0 {
		return aborted(target, AbortNoLivePrice)
	}
	if in.SignalPrice > 0 && p.MaxPriceDeviation > 0 {
		deviation := math.Abs(price-in.SignalPrice) / in.SignalPrice
		if deviation > p.MaxPriceDeviation {
			if p.ReferencePair.Matches(in.CanonicalSymbol, in.Snapshot.VenueID) {
				if price < p.ReferencePair.Min || price > p.ReferencePair.Max {
					return aborted(target, AbortImplausiblePrice)
				}
			} else {
				price = in.SignalPrice
				res.PriceMismatch = true
			}
		}
	}
	res.PriceUsed = price

	// 2. Tasa de margen normalizada.
	marginRate := in.Snapshot.MarginRate()
	if marginRate <= 0 {
		marginRate = NormalizeMarginRate(in.MarginPercentHint)
	}
	if marginRate <= 0 {
		return aborted(target, AbortMarginUnavailable)
	}
	if p.MinImpliedMargin > 0 && marginRate < p.MinImpliedMargin && in.Snapshot.IsEquityLike() {
		marginRate = p.EquityMarginFloor
		res.LeverageFloorApplied = true
	}
	res.MarginRate = marginRate

	// 3. Multiplicador de contrato.
	mult, source, ok := ResolveMultiplier(in.Snapshot, in.ContractSizeHint)
	if !ok {
		return aborted(target, AbortMultiplierUnknown)
	}
	res.Multiplier = mult
	res.MultiplierSource = source

	// 4. Conversión a divisa base de la cuenta.
	if in.FXRate <= 0 {
		return aborted(target, AbortFXUnavailable)
	}

	mpc := price * marginRate * in.FXRate * mult
	if mpc <= 0 || math.IsInf(mpc, 0) || math.IsNaN(mpc) {
		return aborted(target, AbortInvalidMargin)
	}
	res.MarginPerContract = mpc

	// 5. Tamaño mínimo e incremento.
	increment, minDeal := dealLimits(in)
	res.DealIncrement = increment
	res.MinDealSize = minDeal

	raw := target / mpc
	res.RawContracts = raw

	contracts := RoundToIncrement(raw, increment)
	upper := FloorToIncrement(p.MaxContracts, increment)
	if contracts < minDeal {
		contracts = minDeal
		res.FloorForced = true
	}
	if contracts > upper {
		contracts = upper
	}

	// 6. Boost: si el riesgo realizado queda bajo el umbral, un incremento más.
	if p.BoostThreshold > 0 && contracts*mpc < p.BoostThreshold*target && contracts+increment <= upper+incrementTolerance {
		contracts += increment
		res.Boosted = true
	}

	contracts = FixResidue(contracts, increment)
	res.Contracts = contracts
	res.RealizedRisk = contracts * mpc
	if res.FloorForced && res.RealizedRisk <= target {
		res.FloorForced = false
	}
	return res
}

// dealLimits devuelve (incremento, mínimo) con las pistas de tabla como respaldo.
// El mínimo se alinea al incremento hacia arriba.
func dealLimits(in SizingInput) (increment, minDeal float64) {
	increment = in.Snapshot.DealIncrement
	if increment <= 0 {
		increment = in.DealIncrementHint
	}
	minDeal = in.Snapshot.MinDealSize
	if minDeal <= 0 {
		minDeal = in.MinDealSizeHint
	}
	if in.IncrementOverride > 0 {
		increment = in.IncrementOverride
	}
	if increment <= 0 {
		switch {
		case minDeal > 0 && minDeal < 1:
			increment = minDeal
		default:
			increment = 1
		}
	}
	if minDeal <= 0 {
		minDeal = increment
	}
	minDeal = CeilToIncrement(minDeal, increment)
	return increment, minDeal
}

// RoundToIncrement aplica la regla de redondeo del motor: al más cercano si el
// incremento es ≥ 1, hacia arriba si es < 1.
func RoundToIncrement(value, increment float64) float64 {
	if increment <= 0 {
		return value
	}
	if increment >= 1 {
		steps := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(increment)).Round(0)
		return FixResidue(steps.Mul(decimal.NewFromFloat(increment)).InexactFloat64(), increment)
	}
	return CeilToIncrement(value, increment)
}

// CeilToIncrement redondea hacia arriba al múltiplo del incremento.
// Valores a menos de una tolerancia de un múltiplo exacto no suben un paso.
func CeilToIncrement(value, increment float64) float64 {
	if increment <= 0 {
		return value
	}
	steps := snapSteps(value, increment).Ceil()
	return FixResidue(steps.Mul(decimal.NewFromFloat(increment)).InexactFloat64(), increment)
}

// FloorToIncrement redondea hacia abajo al múltiplo del incremento.
func FloorToIncrement(value, increment float64) float64 {
	if increment <= 0 {
		return value
	}
	steps := snapSteps(value, increment).Floor()
	return FixResidue(steps.Mul(decimal.NewFromFloat(increment)).InexactFloat64(), increment)
}

func snapSteps(value, increment float64) decimal.Decimal {
	steps := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(increment))
	nearest := steps.Round(0)
	if steps.Sub(nearest).Abs().LessThan(decimal.NewFromFloat(incrementTolerance)) {
		return nearest
	}
	return steps
}

// FixResidue redondea a la cantidad de decimales implícita del incremento
// (0.025 → 3 decimales) para eliminar residuos como 2.6500000000000004.
func FixResidue(value, increment float64) float64 {
	return decimal.NewFromFloat(value).Round(IncrementPlaces(increment)).InexactFloat64()
}

// IncrementPlaces devuelve los decimales implícitos de un incremento.
func IncrementPlaces(increment float64) int32 {
	if increment <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(increment).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// IsMultipleOf indica si value es múltiplo del incremento dentro de tolerancia.
func IsMultipleOf(value, increment float64) bool {
	if increment <= 0 {
		return true
	}
	steps := value / increment
	return math.Abs(steps-math.Round(steps)) < 1e-6
}
