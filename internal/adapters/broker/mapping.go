package broker

import (
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/tidwall/gjson"
)

// num lee un campo numérico que puede venir como número, como string ("10.00")
// o como string con unidad ("0.01 JPY"). 0 si no hay número.
func num(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		s := strings.TrimSpace(r.String())
		if i := strings.IndexByte(s, ' '); i > 0 {
			s = s[:i]
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return 0
		}
		return v
	}
	return 0
}

// mapMarket convierte GET /markets/{epic} v3 a domain.MarketSnapshot.
func mapMarket(r gjson.Result) domain.MarketSnapshot {
	inst := r.Get("instrument")
	snap := r.Get("snapshot")
	rules := r.Get("dealingRules")

	s := domain.MarketSnapshot{
		VenueID:          inst.Get("epic").String(),
		Name:             inst.Get("name").String(),
		InstrumentType:   inst.Get("type").String(),
		Expiry:           inst.Get("expiry").String(),
		Bid:              num(snap.Get("bid")),
		Offer:            num(snap.Get("offer")),
		MarketStatus:     snap.Get("marketStatus").String(),
		MarginFactor:     num(inst.Get("marginFactor")),
		MarginFactorUnit: inst.Get("marginFactorUnit").String(),
		PipValue:         num(inst.Get("valueOfOnePip")),
		PipDefinition:    num(inst.Get("onePipMeans")),
		ContractSize:     num(inst.Get("contractSize")),
		MinDealSize:      num(rules.Get("minDealSize.value")),
		DealIncrement:    num(rules.Get("minSizeIncrement.value")),
	}
	if s.MarginFactor == 0 {
		// Algunos instrumentos solo traen bandas de margen: se usa la primera.
		s.MarginFactor = num(inst.Get("marginDepositBands.0.margin"))
	}
	s.CurrencyCode = defaultCurrency(inst.Get("currencies"))
	s.Tradable = domain.ComputeTradable(s.MarketStatus, s.Bid, s.Offer)
	return s
}

func defaultCurrency(list gjson.Result) string {
	first := ""
	for _, c := range list.Array() {
		code := c.Get("code").String()
		if first == "" {
			first = code
		}
		if c.Get("isDefault").Bool() {
			return code
		}
	}
	return first
}

// mapSearch convierte GET /markets?searchTerm= en resultados en orden de relevancia.
func mapSearch(r gjson.Result) []domain.SearchResult {
	markets := r.Get("markets").Array()
	out := make([]domain.SearchResult, 0, len(markets))
	for _, m := range markets {
		out = append(out, domain.SearchResult{
			VenueID:        m.Get("epic").String(),
			Name:           m.Get("instrumentName").String(),
			InstrumentType: m.Get("instrumentType").String(),
			Expiry:         m.Get("expiry").String(),
			Bid:            num(m.Get("bid")),
			Offer:          num(m.Get("offer")),
			MarketStatus:   m.Get("marketStatus").String(),
		})
	}
	return out
}

// mapPositions convierte GET /positions v2.
func mapPositions(r gjson.Result) []domain.OpenPosition {
	list := r.Get("positions").Array()
	out := make([]domain.OpenPosition, 0, len(list))
	for _, item := range list {
		p := item.Get("position")
		m := item.Get("market")
		pos := domain.OpenPosition{
			DealID:         p.Get("dealId").String(),
			VenueID:        m.Get("epic").String(),
			InstrumentName: m.Get("instrumentName").String(),
			Direction:      domain.Direction(strings.ToUpper(p.Get("direction").String())),
			Size:           num(p.Get("size")),
			OpenLevel:      num(p.Get("level")),
			StopLevel:      num(p.Get("stopLevel")),
			LimitLevel:     num(p.Get("limitLevel")),
			CurrencyCode:   p.Get("currency").String(),
			Bid:            num(m.Get("bid")),
			Offer:          num(m.Get("offer")),
			CreatedAt:      parseTime(p.Get("createdDateUTC").String()),
		}
		if v := p.Get("profit"); v.Exists() {
			pos.LivePnL = num(v)
			pos.HasLivePnL = true
		}
		out = append(out, pos)
	}
	return out
}

// mapConfirm convierte GET /confirms/{dealReference}.
func mapConfirm(r gjson.Result) domain.DealConfirmation {
	return domain.DealConfirmation{
		DealReference: r.Get("dealReference").String(),
		DealID:        r.Get("dealId").String(),
		Status:        strings.ToUpper(r.Get("dealStatus").String()),
		Reason:        r.Get("reason").String(),
		Level:         num(r.Get("level")),
		Size:          num(r.Get("size")),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339, "2006/01/02 15:04:05:000"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
