package sizing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alejandrodnm/cfdbot/internal/application/sizing"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRates map[string]float64

func (m mockRates) Rate(_ context.Context, currency string) (float64, error) {
	if r, ok := m[currency]; ok {
		return r, nil
	}
	return 0, errors.New("no rate")
}

func gbpjpy() (domain.MarketSnapshot, domain.Resolution) {
	snap := domain.MarketSnapshot{
		VenueID:        "CS.D.GBPJPY.CFD.IP",
		InstrumentType: domain.InstrumentCurrencies,
		Bid:            205.79,
		Offer:          205.807,
		MarketStatus:   domain.MarketStatusTradeable,
		Tradable:       true,
		MarginFactor:   3.33,
		PipValue:       10,
		PipDefinition:  0.01,
		ContractSize:   100000,
		CurrencyCode:   "JPY",
		MinDealSize:    0.5,
		DealIncrement:  0.025,
	}
	res := domain.Resolution{CanonicalSymbol: "GBPJPY", VenueID: snap.VenueID, PrimaryVenueID: snap.VenueID}
	return snap, res
}

func TestEngine_Size_GBPJPY(t *testing.T) {
	snap, res := gbpjpy()
	e := sizing.New(mockRates{"JPY": 0.00555}, domain.DefaultSizingParams())

	out := e.Size(context.Background(), snap, res, domain.TradeSignal{Direction: domain.Buy, EntryPriceHint: 205.8})
	require.False(t, out.Aborted, out.AbortReason)
	assert.Equal(t, 2.65, out.Contracts)
	assert.InDelta(t, 100.8, out.RealizedRisk, 0.1)
	assert.Equal(t, 0.00555, out.FXRate)
}

func TestEngine_Size_AbortsWithoutFX(t *testing.T) {
	snap, res := gbpjpy()
	e := sizing.New(mockRates{}, domain.DefaultSizingParams())

	out := e.Size(context.Background(), snap, res, domain.TradeSignal{Direction: domain.Buy})
	assert.True(t, out.Aborted)
	assert.Equal(t, domain.AbortFXUnavailable, out.AbortReason)
}

func TestEngine_Size_AbortsOnNonTradable(t *testing.T) {
	snap, res := gbpjpy()
	snap.Tradable = false
	out := sizing.New(mockRates{"JPY": 0.00555}, domain.DefaultSizingParams()).
		Size(context.Background(), snap, res, domain.TradeSignal{Direction: domain.Buy})
	assert.True(t, out.Aborted)
	assert.Equal(t, domain.AbortMarketData, out.AbortReason)
}

func TestEngine_SizeWithIncrement_ForcesWholeUnits(t *testing.T) {
	snap := domain.MarketSnapshot{
		VenueID:        "UA.D.AAPL.DAILY.IP",
		InstrumentType: domain.InstrumentShares,
		Bid:            187.1,
		Offer:          187.3,
		Tradable:       true,
		MarginFactor:   20,
		CurrencyCode:   "USD",
		DealIncrement:  0.01,
		MinDealSize:    0.01,
	}
	res := domain.Resolution{CanonicalSymbol: "AAPL"}
	e := sizing.New(mockRates{"USD": 0.92}, domain.DefaultSizingParams())

	out := e.SizeWithIncrement(context.Background(), snap, res, domain.TradeSignal{Direction: domain.Buy}, 1)
	require.False(t, out.Aborted)
	assert.Equal(t, 1.0, out.DealIncrement)
	assert.True(t, domain.IsMultipleOf(out.Contracts, 1))
}

func TestEngine_Size_TableHintsOnlyForPrimaryVenue(t *testing.T) {
	snap := domain.MarketSnapshot{
		VenueID:      "IX.D.DAX.IFMM.IP",
		Bid:          23000,
		Offer:        23001,
		Tradable:     true,
		MarginFactor: 5,
		CurrencyCode: "EUR",
	}
	res := domain.Resolution{CanonicalSymbol: "DAX", VenueID: "IX.D.DAX.DAILY.IP", PrimaryVenueID: "IX.D.DAX.DAILY.IP", ContractSizeHint: 25, DealIncrement: 0.5, MinDealSize: 0.5}
	e := sizing.New(mockRates{"EUR": 1}, domain.DefaultSizingParams())

	out := e.Size(context.Background(), snap, res, domain.TradeSignal{Direction: domain.Sell})
	require.False(t, out.Aborted)
	assert.Equal(t, 1.0, out.Multiplier, "hint of the primary venue is not applied")

	snap.VenueID = res.PrimaryVenueID
	out = e.Size(context.Background(), snap, res, domain.TradeSignal{Direction: domain.Sell})
	require.False(t, out.Aborted)
	assert.Equal(t, 25.0, out.Multiplier)
	assert.Equal(t, 0.5, out.DealIncrement)
}
