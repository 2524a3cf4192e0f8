// Package sizing conecta el cálculo puro de tamaño con el tipo de cambio vivo.
package sizing

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// RateSource es el acceso cacheado a tipos de cambio (fx.Converter).
type RateSource interface {
	Rate(ctx context.Context, currency string) (float64, error)
}

// Engine calcula el tamaño de cada intento con los parámetros de riesgo configurados.
type Engine struct {
	fx     RateSource
	params domain.SizingParams
}

// New crea el motor de sizing.
func New(fx RateSource, params domain.SizingParams) *Engine {
	return &Engine{fx: fx, params: params}
}

// Params devuelve los parámetros de riesgo.
func (e *Engine) Params() domain.SizingParams { return e.params }

// Size calcula contratos para el snapshot con los límites de contrato del venue.
func (e *Engine) Size(ctx context.Context, snap domain.MarketSnapshot, res domain.Resolution, sig domain.TradeSignal) domain.SizingResult {
	return e.SizeWithIncrement(ctx, snap, res, sig, 0)
}

// SizeWithIncrement es Size forzando un incremento (0 = el del venue).
// La cascada lo usa para venues tipo acción, que solo aceptan unidades enteras.
func (e *Engine) SizeWithIncrement(ctx context.Context, snap domain.MarketSnapshot, res domain.Resolution, sig domain.TradeSignal, increment float64) domain.SizingResult {
	if !snap.Tradable {
		return domain.SizingResult{TargetRisk: e.params.TargetRisk, Aborted: true, AbortReason: domain.AbortMarketData}
	}

	var rate float64
	if snap.CurrencyCode != "" {
		r, err := e.fx.Rate(ctx, snap.CurrencyCode)
		if err != nil {
			slog.Warn("sizing: tipo de cambio no disponible", "venue", snap.VenueID, "currency", snap.CurrencyCode, "err", err)
		} else {
			rate = r
		}
	}

	in := domain.SizingInput{
		CanonicalSymbol:   res.CanonicalSymbol,
		Direction:         sig.Direction,
		Snapshot:          snap,
		FXRate:            rate,
		SignalPrice:       sig.EntryPriceHint,
		MarginPercentHint: res.MarginPercentHint,
		ContractSizeHint:  res.ContractSizeHint,
		MinDealSizeHint:   res.MinDealSize,
		DealIncrementHint: res.DealIncrement,
		IncrementOverride: increment,
		Params:            e.params,
	}
	// Las pistas de la tabla describen el venue primario; en un venue descubierto
	// por búsqueda no aplican.
	if res.PrimaryVenueID != "" && snap.VenueID != "" && snap.VenueID != res.PrimaryVenueID && !res.WeekendSubstitute {
		in.ContractSizeHint = 0
		in.MinDealSizeHint = 0
		in.DealIncrementHint = 0
	}

	out := domain.ComputeSizing(in)
	if out.Aborted {
		slog.Warn("sizing: abortado", "venue", snap.VenueID, "reason", out.AbortReason)
		return out
	}
	slog.Debug("sizing: calculado",
		"venue", snap.VenueID,
		"price", out.PriceUsed,
		"margin_rate", out.MarginRate,
		"fx", out.FXRate,
		"multiplier", out.Multiplier,
		"multiplier_source", out.MultiplierSource,
		"margin_per_contract", out.MarginPerContract,
		"raw", out.RawContracts,
		"contracts", out.Contracts,
		"realized_risk", out.RealizedRisk,
	)
	if out.PriceMismatch {
		slog.Warn("sizing: precio vivo descartado, se usa el de la señal", "venue", snap.VenueID, "signal_price", sig.EntryPriceHint)
	}
	if out.LeverageFloorApplied {
		slog.Warn("sizing: margen implausible en acción, se fuerza el mínimo", "venue", snap.VenueID, "margin_rate", out.MarginRate)
	}
	return out
}
