package domain

import "time"

// SignalType clasifica la intención de un mensaje de chat.
type SignalType string

const (
	SignalOpen     SignalType = "POSITION_OPEN"
	SignalClose    SignalType = "POSITION_CLOSE"
	SignalSLUpdate SignalType = "SL_UPDATE"
	SignalTPUpdate SignalType = "TP_UPDATE"
	SignalUnknown  SignalType = "UNKNOWN"
)

// Direction es el lado de una orden o posición.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Opposite devuelve el lado contrario (el que cierra una posición).
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Valid indica si la dirección es BUY o SELL.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// OptionType es la pata CALL/PUT opcional de una señal de apertura.
type OptionType string

const (
	OptionNone OptionType = ""
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// TradeSignal es la intención tipada extraída de un mensaje.
// Se crea una vez por mensaje y no se modifica después.
type TradeSignal struct {
	Type           SignalType
	Direction      Direction // vacío si el mensaje no lo indica
	Instrument     string
	EntryPriceHint float64 // 0 = sin precio en el mensaje
	StopLoss       float64
	TakeProfit     float64
	OptionType     OptionType
	StrikePrice    float64 // solo auditoría, nunca entra en el sizing
	RealizedPnL    float64 // sufijo "861€ GEWINN" en mensajes de cierre
	HasRealizedPnL bool
	Rule           string // regla del clasificador que reconoció el mensaje
	RawText        string
	ReceivedAt     time.Time
}

// IsActionable devuelve false para mensajes que se ignoran en silencio.
func (s TradeSignal) IsActionable() bool {
	return s.Type != SignalUnknown && s.Instrument != ""
}

// UnknownSignal construye el resultado vacío para texto no reconocido.
func UnknownSignal(raw string, receivedAt time.Time) TradeSignal {
	return TradeSignal{Type: SignalUnknown, RawText: raw, ReceivedAt: receivedAt}
}

// MessageMeta acompaña al texto crudo que entrega el feed de mensajes.
type MessageMeta struct {
	ChatID    string
	SenderID  string
	Timestamp time.Time
}
