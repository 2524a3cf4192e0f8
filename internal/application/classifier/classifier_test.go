package classifier_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/application/classifier"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

func newClassifier() *classifier.Classifier {
	return classifier.New(classifier.DefaultConfig())
}

func TestClassify_OpenGold(t *testing.T) {
	sig := newClassifier().Classify("ICH KAUFE GOLD (EK: 4122.39)", received)

	assert.Equal(t, domain.SignalOpen, sig.Type)
	assert.Equal(t, "GOLD", sig.Instrument)
	assert.Equal(t, domain.Buy, sig.Direction)
	assert.InDelta(t, 4122.39, sig.EntryPriceHint, 1e-9)
	assert.Equal(t, domain.OptionNone, sig.OptionType)
	assert.Equal(t, received, sig.ReceivedAt)
}

func TestClassify_CloseWithProfit(t *testing.T) {
	sig := newClassifier().Classify("ICH SCHLIEßE GOLD❗861€ GEWINN", received)

	assert.Equal(t, domain.SignalClose, sig.Type)
	assert.Equal(t, "GOLD", sig.Instrument)
	require.True(t, sig.HasRealizedPnL)
	assert.Equal(t, 861.0, sig.RealizedPnL)
}

func TestClassify_CloseVariants(t *testing.T) {
	c := newClassifier()
	tests := []struct {
		text       string
		instrument string
		pnl        float64
		hasPnL     bool
	}{
		{"ICH SCHLIEßE GOLD", "GOLD", 0, false},
		{"ich schliesse dax 40", "DAX 40", 0, false},
		{"ICH SCHLIEßE GBP/JPY❗120€ VERLUST", "GBP/JPY", -120, true},
		{"ICH SCHLIEßE NASDAQ ❗1.250,50€ GEWINN 🚀", "NASDAQ", 1250.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sig := c.Classify(tt.text, received)
			assert.Equal(t, domain.SignalClose, sig.Type)
			assert.Equal(t, tt.instrument, sig.Instrument)
			assert.Equal(t, tt.hasPnL, sig.HasRealizedPnL)
			assert.InDelta(t, tt.pnl, sig.RealizedPnL, 1e-9)
		})
	}
}

func TestClassify_OpenDecimalStyles(t *testing.T) {
	c := newClassifier()
	for _, text := range []string{
		"ICH KAUFE GOLD (EK: 4122.39)",
		"ICH KAUFE GOLD (EK: 4122,39)",
		"ICH KAUFE GOLD (EK: 4.122,39)",
		"ICH KAUFE GOLD (EK: 4,122.39)",
		"ich kaufe gold (ek 4122,39)",
	} {
		t.Run(text, func(t *testing.T) {
			sig := c.Classify(text, received)
			assert.Equal(t, domain.SignalOpen, sig.Type)
			assert.Contains(t, []domain.Direction{domain.Buy, domain.Sell}, sig.Direction)
			assert.InDelta(t, 4122.39, sig.EntryPriceHint, 1e-9)
		})
	}
}

func TestClassify_OptionLegOverridesVerb(t *testing.T) {
	c := newClassifier()
	tests := []struct {
		text   string
		want   domain.Direction
		option domain.OptionType
		strike float64
	}{
		{"ICH KAUFE NVIDIA CALL 190 (EK: 3,45)", domain.Buy, domain.OptionCall, 190},
		{"ICH VERKAUFE NVIDIA CALL 190 (EK: 3,45)", domain.Buy, domain.OptionCall, 190},
		{"ICH KAUFE TESLA PUT 250 (EK: 2.10)", domain.Sell, domain.OptionPut, 250},
		{"ICH VERKAUFE TESLA PUT (EK: 2.10)", domain.Sell, domain.OptionPut, 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sig := c.Classify(tt.text, received)
			require.Equal(t, domain.SignalOpen, sig.Type)
			assert.Equal(t, tt.want, sig.Direction)
			assert.Equal(t, tt.option, sig.OptionType)
			assert.Equal(t, tt.strike, sig.StrikePrice)
		})
	}
}

func TestClassify_OpenWithEmbeddedLevels(t *testing.T) {
	c := newClassifier()

	sig := c.Classify("ICH VERKAUFE DAX (EK: 23450,5) TP: 23200 SL: 23600", received)
	assert.Equal(t, domain.SignalOpen, sig.Type)
	assert.Equal(t, domain.Sell, sig.Direction)
	assert.Equal(t, 23200.0, sig.TakeProfit)
	assert.Equal(t, 23600.0, sig.StopLoss)
	assert.Equal(t, "open_tp", sig.Rule)

	sig = c.Classify("ICH KAUFE GOLD (EK: 4122.39)\nSL 4090", received)
	assert.Equal(t, domain.SignalOpen, sig.Type)
	assert.Equal(t, 4090.0, sig.StopLoss)
	assert.Zero(t, sig.TakeProfit)
	assert.Equal(t, "open_sl", sig.Rule)
}

func TestClassify_LevelUpdates(t *testing.T) {
	c := newClassifier()
	tests := []struct {
		text  string
		typ   domain.SignalType
		instr string
		sl    float64
		tp    float64
	}{
		{"SL BEI GOLD AUF 4100", domain.SignalSLUpdate, "GOLD", 4100, 0},
		{"GOLD SL 4100", domain.SignalSLUpdate, "GOLD", 4100, 0},
		{"GBP/JPY SL: 206,15", domain.SignalSLUpdate, "GBP/JPY", 206.15, 0},
		{"TP BEI GOLD AUF 4200", domain.SignalTPUpdate, "GOLD", 0, 4200},
		{"NASDAQ TP 21000", domain.SignalTPUpdate, "NASDAQ", 0, 21000},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sig := c.Classify(tt.text, received)
			assert.Equal(t, tt.typ, sig.Type)
			assert.Equal(t, tt.instr, sig.Instrument)
			assert.Equal(t, tt.sl, sig.StopLoss)
			assert.Equal(t, tt.tp, sig.TakeProfit)
		})
	}
}

func TestClassify_GenericFallback(t *testing.T) {
	text := "🔥 Signal 🔥\nSymbol: EURUSD\nDirection: SELL\nEntry: 1,0850\nTP1: 1.0800\nSL: 1.0900"
	sig := newClassifier().Classify(text, received)

	assert.Equal(t, domain.SignalOpen, sig.Type)
	assert.Equal(t, "EURUSD", sig.Instrument)
	assert.Equal(t, domain.Sell, sig.Direction)
	assert.InDelta(t, 1.085, sig.EntryPriceHint, 1e-9)
	assert.InDelta(t, 1.08, sig.TakeProfit, 1e-9)
	assert.InDelta(t, 1.09, sig.StopLoss, 1e-9)
}

func TestClassify_GenericOneLiners(t *testing.T) {
	c := newClassifier()
	tests := []struct {
		text  string
		instr string
		dir   domain.Direction
		entry float64
		sl    float64
		tp    float64
	}{
		{"BUY GOLD @ 4122 SL 4100", "GOLD", domain.Buy, 4122, 4100, 0},
		{"BUY GOLD @ 4122\nSL 4100", "GOLD", domain.Buy, 4122, 4100, 0},
		{"SELL EURUSD @ 1.0850 TP 1.0800", "EURUSD", domain.Sell, 1.085, 0, 1.08},
		{"SELL DAX @ 23450 TP 23200 SL 23600", "DAX", domain.Sell, 23450, 23600, 23200},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sig := c.Classify(tt.text, received)
			assert.Equal(t, domain.SignalOpen, sig.Type)
			assert.Equal(t, "generic", sig.Rule)
			assert.Equal(t, tt.instr, sig.Instrument)
			assert.Equal(t, tt.dir, sig.Direction)
			assert.InDelta(t, tt.entry, sig.EntryPriceHint, 1e-9)
			assert.InDelta(t, tt.sl, sig.StopLoss, 1e-9)
			assert.InDelta(t, tt.tp, sig.TakeProfit, 1e-9)
		})
	}
}

func TestClassify_OilScaling(t *testing.T) {
	c := newClassifier()

	sig := c.Classify("ICH KAUFE ÖL (EK: 61,25)", received)
	assert.InDelta(t, 6125, sig.EntryPriceHint, 1e-9)

	sig = c.Classify("ICH KAUFE BRENT CRUDE (EK: 65.4) TP 66", received)
	assert.InDelta(t, 6540, sig.EntryPriceHint, 1e-9)
	assert.InDelta(t, 6600, sig.TakeProfit, 1e-9)

	sig = c.Classify("ICH KAUFE WTI (EK: 6125)", received)
	assert.InDelta(t, 6125, sig.EntryPriceHint, 1e-9, "already in venue units")

	sig = c.Classify("ICH KAUFE GOLD (EK: 61,25)", received)
	assert.InDelta(t, 61.25, sig.EntryPriceHint, 1e-9)
}

func TestClassify_UnknownNeverFails(t *testing.T) {
	c := newClassifier()
	for _, text := range []string{
		"",
		"   ",
		"Guten Morgen zusammen!",
		"Ich kaufe heute nichts",
		"ICH KAUFE (EK: )",
		"((((((",
		"ICH SCHLIEßE",
	} {
		sig := c.Classify(text, received)
		assert.Equal(t, domain.SignalUnknown, sig.Type, text)
		assert.Empty(t, sig.Instrument)
		assert.False(t, sig.IsActionable())
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c := newClassifier()
	for _, text := range []string{
		"ICH KAUFE GOLD (EK: 4122.39)",
		"ICH SCHLIEßE GOLD❗861€ GEWINN",
		"GOLD SL 4100",
		"hello",
	} {
		a := c.Classify(text, received)
		b := c.Classify(text, received.Add(time.Hour))
		b.ReceivedAt = a.ReceivedAt
		assert.Equal(t, a, b)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4122.39", 4122.39, true},
		{"4122,39", 4122.39, true},
		{"23.450,5", 23450.5, true},
		{"1,234.5", 1234.5, true},
		{"1.234.567", 1234567, true},
		{"861€", 861, true},
		{"4100.", 4100, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := classifier.ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}
