// Package classifier convierte texto libre de alertas en una señal tipada.
//
// Las reglas se evalúan en orden y gana la primera que encaja:
//
//  1. apertura: "ICH KAUFE GOLD (EK: 4122.39)", con pata CALL/PUT opcional
//  2. apertura con TP embebido
//  3. apertura con SL embebido
//  4. cierre: "ICH SCHLIEßE GOLD❗861€ GEWINN", sufijo de P&L opcional
//  5. SL_UPDATE: "SL BEI GOLD AUF 4100" o "GOLD SL 4100"
//  6. TP_UPDATE: "TP BEI GOLD AUF 4200" o "GOLD TP 4200"
//  7. fallback genérico: escaneo por líneas de símbolo/dirección/precio/objetivo/stop
//
// Si nada encaja el resultado es UNKNOWN con datos vacíos. Classify nunca falla.
package classifier

import (
	"regexp"
	"strings"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// Config son los parámetros ajustables de la normalización de precios.
type Config struct {
	// OilSymbols son los instrumentos que el venue cotiza ×100 respecto a la alerta.
	OilSymbols []string
	// OilThreshold: por debajo se multiplica por OilFactor. Por encima no se toca.
	OilThreshold float64
	OilFactor    float64
}

// DefaultConfig devuelve la familia del petróleo observada en las alertas.
func DefaultConfig() Config {
	return Config{
		OilSymbols:   []string{"OIL", "ÖL", "OEL", "WTI", "BRENT", "CRUDE", "USOIL", "UKOIL"},
		OilThreshold: 1000,
		OilFactor:    100,
	}
}

type rule struct {
	name  string
	apply func(c *Classifier, text string) (domain.TradeSignal, bool)
}

// Classifier aplica las reglas en orden. Es inmutable y seguro para uso concurrente.
type Classifier struct {
	cfg   Config
	oil   map[string]bool
	rules []rule
}

// New crea un Classifier con la config dada.
func New(cfg Config) *Classifier {
	if cfg.OilThreshold <= 0 {
		cfg.OilThreshold = 1000
	}
	if cfg.OilFactor <= 0 {
		cfg.OilFactor = 100
	}
	oil := make(map[string]bool, len(cfg.OilSymbols))
	for _, s := range cfg.OilSymbols {
		oil[strings.ToUpper(s)] = true
	}
	c := &Classifier{cfg: cfg, oil: oil}
	c.rules = []rule{
		{"open", (*Classifier).matchOpen},
		{"open_tp", (*Classifier).matchOpenWithTP},
		{"open_sl", (*Classifier).matchOpenWithSL},
		{"close", (*Classifier).matchClose},
		{"sl_update", (*Classifier).matchStopUpdate},
		{"tp_update", (*Classifier).matchTargetUpdate},
		{"generic", (*Classifier).matchGeneric},
	}
	return c
}

var (
	openRe = regexp.MustCompile(`(?is)^\s*ICH\s+(KAUFE|VERKAUFE)\s+(.+?)\s*(?:\b(CALL|PUT)\b\s*([0-9][0-9.,]*)?)?\s*\(\s*EK\s*[:=]?\s*([0-9][0-9.,]*)\s*\)(.*)$`)

	tailTPRe = regexp.MustCompile(`(?i)\b(?:TP|TAKE\s*PROFIT|ZIEL)\s*[:=]?\s*([0-9][0-9.,]*)`)
	tailSLRe = regexp.MustCompile(`(?i)\b(?:SL|STOP\s*LOSS|STOP)\s*[:=]?\s*([0-9][0-9.,]*)`)

	closeRe = regexp.MustCompile(`(?is)^\s*ICH\s+SCHLIE(?:ß|ẞ|SS)E\s+([\pL\pN/&. \-]+?)[^\pL\pN]*(?:([0-9][0-9.,]*)\s*(?:€|EUR)?\s*(GEWINN|VERLUST))?[^\pL\pN]*$`)

	slBeiRe   = regexp.MustCompile(`(?is)^\s*(?:SL|STOP\s*LOSS)\s+(?:BEI|FÜR|FUER|FUR)\s+(.+?)\s+(?:AUF|ZU|NACH)\s*:?\s*([0-9][0-9.,]*)\s*\S*\s*$`)
	slShortRe = regexp.MustCompile(`(?is)^\s*(.+?)\s+(?:SL|STOP\s*LOSS)\s*(?:AUF|NEU)?\s*[:=]?\s*([0-9][0-9.,]*)\s*\S*\s*$`)
	tpBeiRe   = regexp.MustCompile(`(?is)^\s*(?:TP|TAKE\s*PROFIT)\s+(?:BEI|FÜR|FUER|FUR)\s+(.+?)\s+(?:AUF|ZU|NACH)\s*:?\s*([0-9][0-9.,]*)\s*\S*\s*$`)
	tpShortRe = regexp.MustCompile(`(?is)^\s*(.+?)\s+(?:TP|TAKE\s*PROFIT)\s*(?:AUF|NEU)?\s*[:=]?\s*([0-9][0-9.,]*)\s*\S*\s*$`)

	bareSymbolRe    = regexp.MustCompile(`^[\pL][\pL\pN/&.\- ]{0,20}$`)
	lineDirectionRe = regexp.MustCompile(`(?i)\b(BUY|LONG|KAUFEN|KAUFE|SELL|SHORT|VERKAUFEN|VERKAUFE)\b(?:\s+([\pL][\pL\pN/]{1,15}))?`)
	lineSymbolRe    = regexp.MustCompile(`(?i)\b(?:SYMBOL|INSTRUMENT|ASSET|MARKT|PAIR)\s*[:=]\s*([\pL][\pL\pN/ ]{0,20})`)
	linePriceRe     = regexp.MustCompile(`(?i)(?:\b(?:ENTRY|EK|EINSTIEG|PRICE|PREIS)\b\s*[:=@]?|@)\s*([0-9][0-9.,]*)`)
	lineTargetRe    = regexp.MustCompile(`(?i)\b(?:TP\d?|TARGET|TAKE\s*PROFIT|ZIEL)\b\s*[:=]?\s*([0-9][0-9.,]*)`)
	lineStopRe      = regexp.MustCompile(`(?i)\b(?:SL|STOP(?:\s*LOSS)?)\b\s*[:=]?\s*([0-9][0-9.,]*)`)
)

// Classify devuelve la señal del texto. Es pura: mismo texto, mismos datos.
func (c *Classifier) Classify(text string, receivedAt time.Time) domain.TradeSignal {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.UnknownSignal(text, receivedAt)
	}
	for _, r := range c.rules {
		if sig, ok := r.apply(c, trimmed); ok && sig.Instrument != "" {
			sig.Rule = r.name
			sig.RawText = text
			sig.ReceivedAt = receivedAt
			return sig
		}
	}
	return domain.UnknownSignal(text, receivedAt)
}

// parseOpen extrae la parte común de las tres reglas de apertura.
func (c *Classifier) parseOpen(text string) (domain.TradeSignal, string, bool) {
	m := openRe.FindStringSubmatch(text)
	if m == nil {
		return domain.TradeSignal{}, "", false
	}
	instrument := cleanInstrument(m[2])
	entry, ok := ParseNumber(m[5])
	if instrument == "" || !ok {
		return domain.TradeSignal{}, "", false
	}

	sig := domain.TradeSignal{
		Type:       domain.SignalOpen,
		Direction:  domain.Buy,
		Instrument: instrument,
	}
	if strings.EqualFold(m[1], "VERKAUFE") {
		sig.Direction = domain.Sell
	}
	switch strings.ToUpper(m[3]) {
	case "CALL":
		sig.OptionType = domain.OptionCall
		sig.Direction = domain.Buy
	case "PUT":
		sig.OptionType = domain.OptionPut
		sig.Direction = domain.Sell
	}
	if sig.OptionType != domain.OptionNone && m[4] != "" {
		if strike, ok := ParseNumber(m[4]); ok {
			sig.StrikePrice = strike
		}
	}
	sig.EntryPriceHint = c.scalePrice(instrument, entry)
	return sig, m[6], true
}

func (c *Classifier) matchOpen(text string) (domain.TradeSignal, bool) {
	sig, tail, ok := c.parseOpen(text)
	if !ok || tailTPRe.MatchString(tail) || tailSLRe.MatchString(tail) {
		return domain.TradeSignal{}, false
	}
	return sig, true
}

func (c *Classifier) matchOpenWithTP(text string) (domain.TradeSignal, bool) {
	sig, tail, ok := c.parseOpen(text)
	if !ok {
		return domain.TradeSignal{}, false
	}
	tp := tailTPRe.FindStringSubmatch(tail)
	if tp == nil {
		return domain.TradeSignal{}, false
	}
	if v, ok := ParseNumber(tp[1]); ok {
		sig.TakeProfit = c.scalePrice(sig.Instrument, v)
	}
	if sl := tailSLRe.FindStringSubmatch(tail); sl != nil {
		if v, ok := ParseNumber(sl[1]); ok {
			sig.StopLoss = c.scalePrice(sig.Instrument, v)
		}
	}
	return sig, true
}

func (c *Classifier) matchOpenWithSL(text string) (domain.TradeSignal, bool) {
	sig, tail, ok := c.parseOpen(text)
	if !ok {
		return domain.TradeSignal{}, false
	}
	sl := tailSLRe.FindStringSubmatch(tail)
	if sl == nil {
		return domain.TradeSignal{}, false
	}
	if v, ok := ParseNumber(sl[1]); ok {
		sig.StopLoss = c.scalePrice(sig.Instrument, v)
	}
	return sig, true
}

func (c *Classifier) matchClose(text string) (domain.TradeSignal, bool) {
	m := closeRe.FindStringSubmatch(text)
	if m == nil {
		return domain.TradeSignal{}, false
	}
	sig := domain.TradeSignal{Type: domain.SignalClose, Instrument: cleanInstrument(m[1])}
	if m[2] != "" {
		if v, ok := ParseNumber(m[2]); ok {
			if strings.EqualFold(m[3], "VERLUST") {
				v = -v
			}
			sig.RealizedPnL = v
			sig.HasRealizedPnL = true
		}
	}
	return sig, true
}

func (c *Classifier) matchStopUpdate(text string) (domain.TradeSignal, bool) {
	return c.matchLevelUpdate(text, domain.SignalSLUpdate, slBeiRe, slShortRe)
}

func (c *Classifier) matchTargetUpdate(text string) (domain.TradeSignal, bool) {
	return c.matchLevelUpdate(text, domain.SignalTPUpdate, tpBeiRe, tpShortRe)
}

// matchLevelUpdate prueba la forma "SL BEI X AUF n" y luego la corta "X SL n".
// La corta solo vale en una línea y con un símbolo desnudo delante: "BUY GOLD @ 4122 SL 4100"
// es una apertura y la recoge matchGeneric.
func (c *Classifier) matchLevelUpdate(text string, typ domain.SignalType, bei, short *regexp.Regexp) (domain.TradeSignal, bool) {
	for _, re := range []*regexp.Regexp{bei, short} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if strings.Contains(m[1], "\n") {
			continue
		}
		if re == short && !isBareSymbol(text, m[1]) {
			continue
		}
		instrument := cleanInstrument(m[1])
		level, ok := ParseNumber(m[2])
		if instrument == "" || !ok {
			continue
		}
		level = c.scalePrice(instrument, level)
		sig := domain.TradeSignal{Type: typ, Instrument: instrument}
		if typ == domain.SignalSLUpdate {
			sig.StopLoss = level
		} else {
			sig.TakeProfit = level
		}
		return sig, true
	}
	return domain.TradeSignal{}, false
}

// matchGeneric escanea línea a línea. Necesita símbolo, dirección y al menos
// un número (entrada, objetivo o stop); así "ich kaufe heute nichts" no es una señal.
func (c *Classifier) matchGeneric(text string) (domain.TradeSignal, bool) {
	var sig domain.TradeSignal
	var entry, target, stop float64

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := lineSymbolRe.FindStringSubmatch(line); m != nil && sig.Instrument == "" {
			sig.Instrument = cleanInstrument(m[1])
		}
		if m := lineDirectionRe.FindStringSubmatch(line); m != nil && sig.Direction == "" {
			sig.Direction = directionFromWord(m[1])
			if sig.Instrument == "" && m[2] != "" && !isKeyword(m[2]) {
				sig.Instrument = cleanInstrument(m[2])
			}
		}
		if m := linePriceRe.FindStringSubmatch(line); m != nil && entry == 0 {
			entry, _ = ParseNumber(m[1])
		}
		if m := lineTargetRe.FindStringSubmatch(line); m != nil && target == 0 {
			target, _ = ParseNumber(m[1])
		}
		if m := lineStopRe.FindStringSubmatch(line); m != nil && stop == 0 {
			stop, _ = ParseNumber(m[1])
		}
	}

	if sig.Instrument == "" || !sig.Direction.Valid() || entry+target+stop == 0 {
		return domain.TradeSignal{}, false
	}
	sig.Type = domain.SignalOpen
	sig.EntryPriceHint = c.scalePrice(sig.Instrument, entry)
	sig.TakeProfit = c.scalePrice(sig.Instrument, target)
	sig.StopLoss = c.scalePrice(sig.Instrument, stop)
	return sig, true
}

// scalePrice aplica el ×100 de la familia del petróleo. Valores ≥ umbral no se tocan,
// así que aplicarlo dos veces no cambia el resultado.
func (c *Classifier) scalePrice(instrument string, v float64) float64 {
	if v <= 0 || v >= c.cfg.OilThreshold || !c.isOil(instrument) {
		return v
	}
	return v * c.cfg.OilFactor
}

func (c *Classifier) isOil(instrument string) bool {
	upper := strings.ToUpper(instrument)
	if c.oil[domain.NormalizeInstrument(upper)] {
		return true
	}
	for _, tok := range strings.FieldsFunc(upper, func(r rune) bool { return r == ' ' || r == '/' || r == '-' }) {
		if c.oil[tok] {
			return true
		}
	}
	return false
}

// isBareSymbol indica si lo que precede a SL/TP es solo un nombre de instrumento.
func isBareSymbol(text, candidate string) bool {
	if strings.Contains(text, "\n") || !bareSymbolRe.MatchString(strings.TrimSpace(candidate)) {
		return false
	}
	return !lineDirectionRe.MatchString(candidate)
}

func directionFromWord(w string) domain.Direction {
	switch strings.ToUpper(w) {
	case "BUY", "LONG", "KAUFEN", "KAUFE":
		return domain.Buy
	case "SELL", "SHORT", "VERKAUFEN", "VERKAUFE":
		return domain.Sell
	}
	return ""
}

var keywords = map[string]bool{
	"AT": true, "NOW": true, "ENTRY": true, "EK": true, "PRICE": true, "TP": true, "SL": true,
	"STOP": true, "TARGET": true, "LIMIT": true, "MARKET": true, "ORDER": true, "ICH": true,
}

func isKeyword(w string) bool {
	return keywords[strings.ToUpper(w)]
}

// cleanInstrument pasa a mayúsculas, colapsa espacios y quita puntuación en los extremos.
func cleanInstrument(s string) string {
	s = strings.ToUpper(strings.Join(strings.Fields(s), " "))
	return strings.TrimFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && !strings.ContainsRune("ÄÖÜ", r)
	})
}
