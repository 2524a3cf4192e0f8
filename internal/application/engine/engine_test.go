package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/adapters/paper"
	"github.com/alejandrodnm/cfdbot/internal/adapters/storage"
	"github.com/alejandrodnm/cfdbot/internal/application/classifier"
	"github.com/alejandrodnm/cfdbot/internal/application/engine"
	"github.com/alejandrodnm/cfdbot/internal/application/execution"
	"github.com/alejandrodnm/cfdbot/internal/application/marketdata"
	"github.com/alejandrodnm/cfdbot/internal/application/positions"
	"github.com/alejandrodnm/cfdbot/internal/application/resolver"
	"github.com/alejandrodnm/cfdbot/internal/application/security"
	"github.com/alejandrodnm/cfdbot/internal/application/sizing"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goldStd  = "CS.D.CFDGOLD.CFDGC.IP"
	goldMini = "CS.D.CFDGOLD.MINI.IP"
)

var wednesday = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type rates map[string]float64

func (r rates) Rate(_ context.Context, c string) (float64, error) { return r[c], nil }

type mockAudit struct{ saved []domain.Outcome }

func (m *mockAudit) SaveOutcome(_ context.Context, o domain.Outcome) error {
	m.saved = append(m.saved, o)
	return nil
}
func (m *mockAudit) GetOutcomes(context.Context, time.Time, time.Time) ([]domain.Outcome, error) {
	return m.saved, nil
}
func (m *mockAudit) Close() error { return nil }

type mockNotifier struct{ count int }

func (m *mockNotifier) NotifyOutcome(context.Context, domain.Outcome) error {
	m.count++
	return nil
}

type memBreakers struct {
	saved domain.CircuitBreaker
	found bool
	saves int
}

func (m *memBreakers) SaveBreaker(_ context.Context, cb domain.CircuitBreaker) error {
	m.saved, m.found = cb, true
	m.saves++
	return nil
}

func (m *memBreakers) LoadBreaker(context.Context) (domain.CircuitBreaker, bool, error) {
	return m.saved, m.found, nil
}

// flakyLister falla con error de transporte mientras failing sea true.
type flakyLister struct {
	inner   engine.PositionLister
	failing bool
	calls   int
}

func (f *flakyLister) OpenPositions(ctx context.Context) ([]domain.OpenPosition, error) {
	f.calls++
	if f.failing {
		return nil, fmt.Errorf("broker.OpenPositions: %w", domain.ErrTransport)
	}
	return f.inner.OpenPositions(ctx)
}

func instruments() []domain.InstrumentMapping {
	return []domain.InstrumentMapping{
		{CanonicalSymbol: "GOLD", DisplayName: "Spot Gold", VenueID: goldStd, Expiry: "-", Aliases: []string{"XAUUSD"}},
		{CanonicalSymbol: "SILVER", DisplayName: "Spot Silver", VenueID: "CS.D.CFDSILVER.CFDSI.IP", Expiry: "-", Disabled: true},
	}
}

type fixture struct {
	broker   *paper.Broker
	lister   *flakyLister
	tracker  *storage.MemoryTracker
	audit    *mockAudit
	notify   *mockNotifier
	breakers *memBreakers
	engine   *engine.Engine
}

func newFixture(t *testing.T, cfg engine.Config) *fixture {
	t.Helper()
	return newFixtureWithBreakers(t, cfg, &memBreakers{})
}

func newFixtureWithBreakers(t *testing.T, cfg engine.Config, breakers *memBreakers) *fixture {
	t.Helper()
	b := paper.New(nil)
	b.SetMarket(domain.MarketSnapshot{
		VenueID: goldStd, Name: "Spot Gold", Bid: 4122, Offer: 4122.5,
		MarketStatus: domain.MarketStatusTradeable, MarginFactor: 5, ContractSize: 100,
		CurrencyCode: "USD", MinDealSize: 1, DealIncrement: 1,
	})
	b.SetMarket(domain.MarketSnapshot{
		VenueID: goldMini, Name: "Spot Gold Mini", Bid: 4122, Offer: 4122.5,
		MarketStatus: domain.MarketStatusTradeable, MarginFactor: 5, ContractSize: 1,
		CurrencyCode: "USD", MinDealSize: 0.1, DealIncrement: 0.1,
	})
	b.SetSearch("Spot Gold", []domain.SearchResult{
		{VenueID: goldStd, Name: "Spot Gold", MarketStatus: domain.MarketStatusTradeable, Bid: 4122, Offer: 4122.5},
		{VenueID: goldMini, Name: "Spot Gold Mini", MarketStatus: domain.MarketStatusTradeable, Bid: 4122, Offer: 4122.5},
	})

	noSleep := func(context.Context, time.Duration) error { return nil }
	fetch := marketdata.New(b)
	sizer := sizing.New(rates{"USD": 0.92, "EUR": 1}, domain.DefaultSizingParams())
	gate := security.New(security.DefaultConfig(), b, fetch, sizer)
	ctrl := execution.New(b, fetch, sizer, gate, execution.DefaultConfig()).WithSleep(noSleep)
	tracker := storage.NewMemoryTracker(0, nil)
	closer := positions.NewCloser(b, tracker, positions.DefaultCloseConfig()).WithSleep(noSleep)

	f := &fixture{
		broker:   b,
		lister:   &flakyLister{inner: b},
		tracker:  tracker,
		audit:    &mockAudit{},
		notify:   &mockNotifier{},
		breakers: breakers,
	}
	f.engine = engine.New(engine.Deps{
		Classifier: classifier.New(classifier.DefaultConfig()),
		Resolver:   resolver.New(instruments(), resolver.WithClock(func() time.Time { return wednesday })),
		Executor:   ctrl,
		Closer:     closer,
		Positions:  f.lister,
		Tracker:    tracker,
		Audit:      f.audit,
		Notifier:   f.notify,
		Breakers:   breakers,
	}, cfg).WithClock(func() time.Time { return wednesday })
	return f
}

func (f *fixture) act(text string) domain.Outcome {
	return f.engine.InterpretAndAct(context.Background(), text, domain.MessageMeta{ChatID: "-100123", Timestamp: wednesday})
}

func TestInterpretAndAct_OpenGoldDownsizedToMini(t *testing.T) {
	f := newFixture(t, engine.Config{})

	out := f.act("ICH KAUFE GOLD (EK: 4122.39)")

	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, domain.SignalOpen, out.SignalType)
	assert.Equal(t, "GOLD", out.Instrument)
	assert.Equal(t, domain.Buy, out.Direction)
	assert.Equal(t, goldMini, out.VenueID)
	assert.Greater(t, out.Size, 0.0)
	assert.LessOrEqual(t, out.RealizedRisk, 300.0)
	assert.NotEmpty(t, out.DealID)
	require.Len(t, out.Trail, 1)

	meta, ok, err := f.tracker.Get(context.Background(), out.DealID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, out.SignalID, meta.SignalID)

	require.Len(t, f.audit.saved, 1)
	assert.Equal(t, 1, f.notify.count)
}

func TestInterpretAndAct_CloseWithProfitClosesPosition(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.broker.AddPosition(domain.OpenPosition{
		DealID: "DIAAAAGOLD1", VenueID: goldMini, InstrumentName: "Spot Gold Mini", Direction: domain.Buy,
		Size: 0.5, OpenLevel: 4000, CurrencyCode: "USD",
	})

	out := f.act("ICH SCHLIEßE GOLD❗861€ GEWINN")

	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, domain.SignalClose, out.SignalType)
	assert.Equal(t, 861.0, out.RealizedPnL)
	assert.Equal(t, "DIAAAAGOLD1", out.DealID)
	_, open := f.broker.Position("DIAAAAGOLD1")
	assert.False(t, open)
	require.Len(t, f.broker.CallsOf("CLOSE"), 1)
	assert.Equal(t, domain.Sell, f.broker.CallsOf("CLOSE")[0].Close.Direction)
}

func TestInterpretAndAct_CloseInLossAdjustsLevels(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.broker.AddPosition(domain.OpenPosition{
		DealID: "DIAAAAGOLD2", VenueID: goldStd, InstrumentName: "Spot Gold", Direction: domain.Buy,
		Size: 1, OpenLevel: 4200,
	})

	out := f.act("ICH SCHLIEßE GOLD")

	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	assert.Contains(t, out.Message, "adjusted")
	assert.Empty(t, f.broker.CallsOf("CLOSE"))
	p, ok := f.broker.Position("DIAAAAGOLD2")
	require.True(t, ok)
	assert.InDelta(t, 4122*0.96, p.StopLevel, 0.01)
	assert.InDelta(t, 4200*1.005, p.LimitLevel, 0.01)
}

func TestInterpretAndAct_StopUpdate(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.broker.AddPosition(domain.OpenPosition{DealID: "A", VenueID: goldStd, InstrumentName: "Spot Gold", Direction: domain.Buy, Size: 1, OpenLevel: 4000})
	f.broker.AddPosition(domain.OpenPosition{DealID: "B", VenueID: goldStd, InstrumentName: "Spot Gold", Direction: domain.Buy, Size: 1, OpenLevel: 4150})

	out := f.act("GOLD SL 4100")

	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "B", out.DealID, "la de menor P&L")
	p, _ := f.broker.Position("B")
	assert.Equal(t, 4100.0, p.StopLevel)
}

func TestInterpretAndAct_NoMatchingPosition(t *testing.T) {
	f := newFixture(t, engine.Config{})

	out := f.act("ICH SCHLIEßE GOLD")

	assert.Equal(t, domain.StatusError, out.Status)
	assert.Contains(t, out.Message, domain.ErrNoMatchingPosition.Error())
	assert.Empty(t, f.broker.Calls())
	assert.Len(t, f.audit.saved, 1)
}

func TestInterpretAndAct_UnknownTextIsSkipped(t *testing.T) {
	f := newFixture(t, engine.Config{})

	out := f.act("Guten Morgen zusammen!")

	assert.True(t, out.Skipped())
	assert.Empty(t, f.audit.saved, "sin intención no se audita")
	assert.Equal(t, 1, f.notify.count, "la consola decide si lo muestra")
	assert.Zero(t, f.lister.calls)
}

func TestInterpretAndAct_DisabledInstrumentShortCircuits(t *testing.T) {
	f := newFixture(t, engine.Config{})

	for _, text := range []string{"ICH KAUFE SILVER (EK: 48,5)", "ICH KAUFE ZZZ (EK: 12)"} {
		out := f.act(text)
		assert.Equal(t, domain.StatusInfo, out.Status, text)
		assert.Contains(t, out.Message, domain.ErrInstrumentDisabled.Error())
	}
	assert.Empty(t, f.broker.Calls())
	assert.Len(t, f.audit.saved, 2)
}

func TestInterpretAndAct_DryRun(t *testing.T) {
	f := newFixture(t, engine.Config{DryRun: true})

	out := f.act("ICH KAUFE GOLD (EK: 4122.39)")

	assert.Equal(t, domain.StatusInfo, out.Status)
	assert.Contains(t, out.Message, goldStd)
	assert.Empty(t, f.broker.Calls())
}

func TestInterpretAndAct_BreakerPausesAfterTransportFailures(t *testing.T) {
	f := newFixture(t, engine.Config{MaxFailures: 2, BreakerCooldown: 10 * time.Minute})
	f.lister.failing = true

	for i := 0; i < 2; i++ {
		out := f.act("ICH SCHLIEßE GOLD")
		assert.Equal(t, domain.StatusError, out.Status)
	}
	require.False(t, f.engine.Breaker().IsOpen())
	callsBefore := f.lister.calls

	out := f.act("ICH KAUFE GOLD (EK: 4122.39)")
	assert.Equal(t, domain.StatusError, out.Status)
	assert.Contains(t, out.Message, domain.ErrCircuitOpen.Error())
	assert.Equal(t, callsBefore, f.lister.calls)
	assert.Empty(t, f.broker.CallsOf("PLACE"))
}

func TestInterpretAndAct_BreakerSurvivesRestart(t *testing.T) {
	cfg := engine.Config{MaxFailures: 2, BreakerCooldown: 10 * time.Minute}
	f := newFixture(t, cfg)
	f.lister.failing = true
	f.act("ICH SCHLIEßE GOLD")
	f.act("ICH SCHLIEßE GOLD")
	require.True(t, f.breakers.found)
	assert.True(t, f.breakers.saved.CooldownUntil.After(wednesday))

	saves := f.breakers.saves
	f.act("ICH SCHLIEßE GOLD")
	assert.Equal(t, saves, f.breakers.saves, "sin cambios no se reescribe")

	restarted := newFixtureWithBreakers(t, cfg, f.breakers)
	require.NoError(t, restarted.engine.RestoreBreaker(context.Background()))
	assert.False(t, restarted.engine.Breaker().IsOpen())

	out := restarted.act("ICH KAUFE GOLD (EK: 4122.39)")
	assert.Contains(t, out.Message, domain.ErrCircuitOpen.Error())
	assert.Empty(t, restarted.broker.CallsOf("PLACE"))
}

func TestInterpretAndAct_UsesTrackerForTieBreak(t *testing.T) {
	f := newFixture(t, engine.Config{})
	for _, id := range []string{"X1", "X2"} {
		f.broker.AddPosition(domain.OpenPosition{DealID: id, VenueID: goldStd, InstrumentName: "Spot Gold", Direction: domain.Buy, Size: 1, OpenLevel: 4100})
	}
	ctx := context.Background()
	require.NoError(t, f.tracker.Set(ctx, domain.PositionMeta{DealID: "X2", OpenedAt: wednesday.Add(-48 * time.Hour)}))
	require.NoError(t, f.tracker.Set(ctx, domain.PositionMeta{DealID: "X1", OpenedAt: wednesday.Add(-time.Hour)}))

	out := f.act("ICH SCHLIEßE GOLD")

	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "X2", out.DealID, "mismo P&L: la más antigua")
	_, tracked, _ := f.tracker.Get(ctx, "X2")
	assert.False(t, tracked)
}
