package domain

import "time"

// OutcomeStatus es el estado del registro de auditoría de una señal.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusError   OutcomeStatus = "error"
	StatusInfo    OutcomeStatus = "info"
)

// Outcome es el único registro que produce InterpretAndAct por señal.
type Outcome struct {
	SignalID     string
	Status       OutcomeStatus
	SignalType   SignalType
	Instrument   string
	VenueID      string
	Direction    Direction
	Size         float64
	RealizedRisk float64
	RealizedPnL  float64 // ganancia reportada en el mensaje de cierre
	DealID       string
	Message      string
	Trail        []ExecutionAttempt
	Meta         MessageMeta
	RawText      string
	ProcessedAt  time.Time
}

// Skipped indica un mensaje sin intención, que se ignora sin auditar en consola.
func (o Outcome) Skipped() bool {
	return o.Status == StatusInfo && o.SignalType == SignalUnknown
}
