package domain

import "time"

// OpenPosition es una posición abierta en el broker. El broker es el dueño:
// se lee por consulta y solo se modifica con llamadas de cierre o actualización.
type OpenPosition struct {
	DealID         string
	VenueID        string
	InstrumentName string
	Direction      Direction
	Size           float64
	OpenLevel      float64
	StopLevel      float64 // 0 = sin stop
	LimitLevel     float64 // 0 = sin límite
	CurrencyCode   string
	Bid            float64
	Offer          float64
	LivePnL        float64
	HasLivePnL     bool // el broker reportó la cifra
	CreatedAt      time.Time
}

// PnL devuelve el P&L vivo: la cifra del broker si existe, si no la estimación
// por diferencia de precio. Para BUY se cierra al bid, para SELL al offer.
func (p OpenPosition) PnL() float64 {
	if p.HasLivePnL {
		return p.LivePnL
	}
	return p.EstimatedPnL()
}

// EstimatedPnL calcula el P&L por diferencia de precio. 0 si falta la cotización.
func (p OpenPosition) EstimatedPnL() float64 {
	switch p.Direction {
	case Buy:
		if p.Bid <= 0 {
			return 0
		}
		return (p.Bid - p.OpenLevel) * p.Size
	case Sell:
		if p.Offer <= 0 {
			return 0
		}
		return (p.OpenLevel - p.Offer) * p.Size
	}
	return 0
}

// ReferencePrice es el precio al que se cerraría la posición ahora.
func (p OpenPosition) ReferencePrice() float64 {
	if p.Direction == Sell {
		return p.Offer
	}
	return p.Bid
}

// LevelKind distingue stop de take-profit.
type LevelKind string

const (
	LevelStop  LevelKind = "STOP"
	LevelLimit LevelKind = "LIMIT"
)

// LevelCompatible indica si un nuevo nivel es aplicable a la posición:
// debe quedar del lado correcto del precio actual y no coincidir con el existente.
//
//	BUY:  stop < bid,   limit > bid
//	SELL: stop > offer, limit < offer
func (p OpenPosition) LevelCompatible(kind LevelKind, level float64) bool {
	if level <= 0 {
		return false
	}
	current := p.StopLevel
	if kind == LevelLimit {
		current = p.LimitLevel
	}
	if current > 0 && almostEqual(current, level) {
		return false
	}
	price := p.ReferencePrice()
	if price <= 0 {
		return true
	}
	switch {
	case p.Direction == Buy && kind == LevelStop:
		return level < price
	case p.Direction == Buy && kind == LevelLimit:
		return level > price
	case p.Direction == Sell && kind == LevelStop:
		return level > price
	case p.Direction == Sell && kind == LevelLimit:
		return level < price
	}
	return false
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

// LevelUpdate es una modificación de stop/limit sobre una posición.
type LevelUpdate struct {
	DealID     string
	StopLevel  float64 // 0 = no cambia
	LimitLevel float64 // 0 = no cambia
}

// CloseRequest es una orden de mercado opuesta por el tamaño completo.
type CloseRequest struct {
	DealID    string
	VenueID   string
	Direction Direction // dirección de la orden de cierre (opuesta a la posición)
	Size      float64
	Expiry    string
}

// CloseAction es lo que decidió el evaluador de cierre.
type CloseAction string

const (
	CloseActionClosed  CloseAction = "CLOSED"
	CloseActionAdjust  CloseAction = "ADJUSTED"
	CloseActionFailed  CloseAction = "FAILED"
	CloseActionSkipped CloseAction = "SKIPPED"
)

// CloseDecision es el resultado de evaluar un cierre sobre una posición.
type CloseDecision struct {
	Action   CloseAction
	Position OpenPosition
	PnL      float64
	Update   *LevelUpdate
	Request  *CloseRequest
	DealRef  string
	Err      error
}

// PositionMeta es lo que el tracker local guarda por dealId.
type PositionMeta struct {
	DealID    string
	SignalID  string
	VenueID   string
	Direction Direction
	Size      float64
	OpenedAt  time.Time
}
