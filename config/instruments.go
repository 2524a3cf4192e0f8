package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"gopkg.in/yaml.v3"
)

type instrumentFile struct {
	Instruments []domain.InstrumentMapping `yaml:"instruments"`
}

// LoadInstruments carga y valida la tabla estática de instrumentos.
// La tabla no se modifica después de cargarla.
func LoadInstruments(path string) ([]domain.InstrumentMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadInstruments: read %q: %w", path, err)
	}
	var f instrumentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config.LoadInstruments: parse YAML: %w", err)
	}
	if err := validateInstruments(f.Instruments); err != nil {
		return nil, fmt.Errorf("config.LoadInstruments: %w", err)
	}
	return f.Instruments, nil
}

// validateInstruments exige símbolo y venue, nombres sin colisiones y
// pistas de contrato no negativas.
func validateInstruments(list []domain.InstrumentMapping) error {
	if len(list) == 0 {
		return fmt.Errorf("empty instrument table")
	}
	owner := make(map[string]string)
	for i, m := range list {
		if strings.TrimSpace(m.CanonicalSymbol) == "" {
			return fmt.Errorf("instrument #%d: missing symbol", i+1)
		}
		if strings.TrimSpace(m.VenueID) == "" {
			return fmt.Errorf("%s: missing venue_id", m.CanonicalSymbol)
		}
		if m.MarginPercentHint < 0 || m.ContractSizeHint < 0 || m.MinDealSize < 0 || m.DealIncrement < 0 {
			return fmt.Errorf("%s: negative contract hint", m.CanonicalSymbol)
		}
		if fb := m.Fallback; fb != nil {
			if fb.VenueID == "" {
				return fmt.Errorf("%s: fallback without venue_id", m.CanonicalSymbol)
			}
			if fb.Tag != "" && fb.Tag != domain.FallbackTagWeekend {
				return fmt.Errorf("%s: unknown fallback tag %q", m.CanonicalSymbol, fb.Tag)
			}
		}
		keys := append([]string{m.CanonicalSymbol, m.DisplayName}, m.Aliases...)
		for _, k := range keys {
			nk := domain.NormalizeInstrument(k)
			if nk == "" {
				continue
			}
			if prev, ok := owner[nk]; ok && prev != m.CanonicalSymbol {
				return fmt.Errorf("name %q used by %s and %s", k, prev, m.CanonicalSymbol)
			}
			owner[nk] = m.CanonicalSymbol
		}
	}
	return nil
}
