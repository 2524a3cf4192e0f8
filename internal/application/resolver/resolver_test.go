package resolver_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/application/resolver"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table() []domain.InstrumentMapping {
	return []domain.InstrumentMapping{
		{
			CanonicalSymbol:   "GOLD",
			DisplayName:       "Spot Gold",
			VenueID:           "CS.D.CFDGOLD.CFDGC.IP",
			Expiry:            "-",
			MarginPercentHint: 5,
			ContractSizeHint:  1,
			MinDealSize:       0.1,
			DealIncrement:     0.1,
			Fallback:          &domain.FallbackVenue{VenueID: "CS.D.CFDGOLD.BMU.IP", DisplayName: "Gold Mini", Expiry: "-"},
			Aliases:           []string{"XAUUSD", "GOLDPREIS"},
		},
		{
			CanonicalSymbol:   "DAX",
			DisplayName:       "Germany 40",
			VenueID:           "IX.D.DAX.DAILY.IP",
			Expiry:            "DFB",
			MarginPercentHint: 5,
			Fallback:          &domain.FallbackVenue{VenueID: "IX.D.DAX.WEEKEND.IP", DisplayName: "Weekend Germany 40", Expiry: "-", Tag: domain.FallbackTagWeekend},
			Aliases:           []string{"GER40", "DAX 40"},
		},
		{
			CanonicalSymbol: "BITCOIN",
			VenueID:         "CS.D.BITCOIN.CFD.IP",
			Disabled:        true,
		},
	}
}

func at(day string) func() time.Time {
	t, _ := time.Parse("2006-01-02 15:04", day)
	return func() time.Time { return t }
}

func TestResolve_ByNameAndAlias(t *testing.T) {
	r := resolver.New(table(), resolver.WithClock(at("2026-03-04 10:00")))

	for _, name := range []string{"GOLD", "gold", "XAUUSD", "xau/usd", "Spot Gold"} {
		res, ok := r.Resolve(name)
		require.True(t, ok, name)
		assert.Equal(t, "CS.D.CFDGOLD.CFDGC.IP", res.VenueID, name)
		assert.True(t, res.HasFallback())
		assert.Equal(t, 5.0, res.MarginPercentHint)
	}
}

func TestResolve_ReturnsIndependentCopy(t *testing.T) {
	r := resolver.New(table(), resolver.WithClock(at("2026-03-04 10:00")))

	res, _ := r.Resolve("GOLD")
	res.VenueID = "CS.D.REPLACED.IP"
	res.Fallback.VenueID = "CS.D.REPLACED.MINI.IP"

	again, _ := r.Resolve("GOLD")
	assert.Equal(t, "CS.D.CFDGOLD.CFDGC.IP", again.VenueID)
	assert.Equal(t, "CS.D.CFDGOLD.BMU.IP", again.Fallback.VenueID)
}

func TestResolve_WeekendSubstitution(t *testing.T) {
	weekday := resolver.New(table(), resolver.WithClock(at("2026-03-04 10:00")))
	saturday := resolver.New(table(), resolver.WithClock(at("2026-03-07 10:00")))

	res, ok := weekday.Resolve("DAX")
	require.True(t, ok)
	assert.Equal(t, "IX.D.DAX.DAILY.IP", res.VenueID)
	assert.False(t, res.WeekendSubstitute)
	assert.False(t, res.HasFallback(), "weekend venue is not a retry fallback")

	res, ok = saturday.Resolve("GER40")
	require.True(t, ok)
	assert.Equal(t, "IX.D.DAX.WEEKEND.IP", res.VenueID)
	assert.Equal(t, "Weekend Germany 40", res.DisplayName)
	assert.True(t, res.WeekendSubstitute)
	assert.Equal(t, 5.0, res.MarginPercentHint, "hints preserved")
	assert.Equal(t, "IX.D.DAX.DAILY.IP", res.PrimaryVenueID)
}

func TestResolve_WeekendUsesConfiguredZone(t *testing.T) {
	// Viernes 23:30 UTC es sábado en Berlín.
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	r := resolver.New(table(), resolver.WithClock(at("2026-03-06 23:30")), resolver.WithLocation(berlin))
	assert.True(t, r.IsWeekend())
}

func TestResolve_UnknownTicker(t *testing.T) {
	r := resolver.New(table())

	res, ok := r.Resolve("NVDA")
	require.True(t, ok)
	assert.True(t, res.Disabled)
	assert.True(t, res.Synthesized)
	assert.Equal(t, "UB.D.NVDA.DAILY.IP", res.VenueID)

	_, ok = r.Resolve("SOMETHING UNKNOWN")
	assert.False(t, ok)
	_, ok = r.Resolve("")
	assert.False(t, ok)
}

func TestResolve_Disabled(t *testing.T) {
	res, ok := resolver.New(table()).Resolve("bitcoin")
	require.True(t, ok)
	assert.True(t, res.Disabled)
	assert.False(t, res.Synthesized)
}

func TestSynthesizeVenueID_Buckets(t *testing.T) {
	assert.Equal(t, "UA.D.AAPL.DAILY.IP", resolver.SynthesizeVenueID("AAPL"))
	assert.Equal(t, "UA.D.HD.DAILY.IP", resolver.SynthesizeVenueID("HD"))
	assert.Equal(t, "UB.D.INTC.DAILY.IP", resolver.SynthesizeVenueID("INTC"))
	assert.Equal(t, "UB.D.PYPL.DAILY.IP", resolver.SynthesizeVenueID("PYPL"))
	assert.Equal(t, "UC.D.QCOM.DAILY.IP", resolver.SynthesizeVenueID("QCOM"))
	assert.Equal(t, "UC.D.Z.DAILY.IP", resolver.SynthesizeVenueID("Z"))
}
