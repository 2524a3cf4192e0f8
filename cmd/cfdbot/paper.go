package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alejandrodnm/cfdbot/internal/adapters/paper"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"gopkg.in/yaml.v3"
)

// paperMarket es una cotización local para el modo paper sin broker.
type paperMarket struct {
	VenueID        string  `yaml:"venue_id"`
	Name           string  `yaml:"name"`
	InstrumentType string  `yaml:"instrument_type"`
	Expiry         string  `yaml:"expiry"`
	Bid            float64 `yaml:"bid"`
	Offer          float64 `yaml:"offer"`
	Status         string  `yaml:"status"`
	MarginFactor   float64 `yaml:"margin_factor"`
	MarginUnit     string  `yaml:"margin_unit"` // PERCENTAGE | POINTS, vacío = deducir
	PipValue       float64 `yaml:"pip_value"`
	PipDefinition  float64 `yaml:"pip_definition"`
	ContractSize   float64 `yaml:"contract_size"`
	Currency       string  `yaml:"currency"`
	MinDealSize    float64 `yaml:"min_deal_size"`
	DealIncrement  float64 `yaml:"deal_increment"`
}

type paperFile struct {
	Markets []paperMarket `yaml:"markets"`
	// Search: término → venues, en orden de relevancia.
	Search map[string][]string `yaml:"search"`
}

// loadPaperMarkets siembra el broker simulado con cotizaciones y búsquedas locales.
func loadPaperMarkets(b *paper.Broker, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("paper markets: read %q: %w", path, err)
	}
	var f paperFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("paper markets: parse YAML: %w", err)
	}

	byVenue := make(map[string]domain.MarketSnapshot, len(f.Markets))
	for _, m := range f.Markets {
		if m.VenueID == "" {
			return fmt.Errorf("paper markets: market without venue_id")
		}
		status := m.Status
		if status == "" {
			status = domain.MarketStatusTradeable
		}
		snap := domain.MarketSnapshot{
			VenueID:          m.VenueID,
			Name:             m.Name,
			InstrumentType:   m.InstrumentType,
			Expiry:           m.Expiry,
			Bid:              m.Bid,
			Offer:            m.Offer,
			MarketStatus:     status,
			Tradable:         domain.ComputeTradable(status, m.Bid, m.Offer),
			MarginFactor:     m.MarginFactor,
			MarginFactorUnit: m.MarginUnit,
			PipValue:         m.PipValue,
			PipDefinition:    m.PipDefinition,
			ContractSize:     m.ContractSize,
			CurrencyCode:     m.Currency,
			MinDealSize:      m.MinDealSize,
			DealIncrement:    m.DealIncrement,
		}
		b.SetMarket(snap)
		byVenue[m.VenueID] = snap
	}

	for term, venues := range f.Search {
		results := make([]domain.SearchResult, 0, len(venues))
		for _, id := range venues {
			s, ok := byVenue[id]
			if !ok {
				return fmt.Errorf("paper markets: search %q references unknown venue %s", term, id)
			}
			results = append(results, domain.SearchResult{
				VenueID: s.VenueID, Name: s.Name, InstrumentType: s.InstrumentType,
				Expiry: s.Expiry, Bid: s.Bid, Offer: s.Offer, MarketStatus: s.MarketStatus,
			})
		}
		b.SetSearch(term, results)
	}
	slog.Info("paper markets loaded", "markets", len(f.Markets), "searches", len(f.Search), "path", path)
	return nil
}
