package domain

import "time"

// Stage es un estado de la cascada de ejecución.
type Stage string

const (
	StagePrimary   Stage = "PRIMARY"
	StageFallback  Stage = "FALLBACK"
	StageSearch    Stage = "SEARCH_ALTERNATIVES"
	StageSuccess   Stage = "SUCCESS"
	StageExhausted Stage = "EXHAUSTED"
)

// Terminal indica si la cascada terminó.
func (s Stage) Terminal() bool {
	return s == StageSuccess || s == StageExhausted
}

// AttemptOutcome es el resultado de un intento sobre un venue.
type AttemptOutcome string

const (
	OutcomeAccepted          AttemptOutcome = "ACCEPTED"
	OutcomeRejected          AttemptOutcome = "REJECTED"
	OutcomeInsufficientFunds AttemptOutcome = "INSUFFICIENT_FUNDS"
	OutcomeMarketUnavailable AttemptOutcome = "MARKET_UNAVAILABLE"
	OutcomeSizingAborted     AttemptOutcome = "SIZING_ABORTED"
	OutcomeRiskExceeded      AttemptOutcome = "RISK_EXCEEDED"
	OutcomeTransportError    AttemptOutcome = "TRANSPORT_ERROR"
	OutcomeNoCandidates      AttemptOutcome = "NO_CANDIDATES"
	// OutcomeUnconfirmed: la orden salió pero el broker no confirmó su estado.
	// El deal puede estar vivo, así que la cascada no intenta otro venue.
	OutcomeUnconfirmed AttemptOutcome = "UNCONFIRMED"
)

// NextStage es la función de transición de la cascada. Es pura.
//
//	ACCEPTED                  → SUCCESS (desde cualquier estado)
//	INSUFFICIENT_FUNDS        → EXHAUSTED (ningún venue arregla una cuenta vacía)
//	UNCONFIRMED, TRANSPORT    → EXHAUSTED (fallo de red: no-op para esta señal)
//	PRIMARY  + fallo          → FALLBACK si está declarado, si no SEARCH
//	FALLBACK + fallo          → SEARCH
//	SEARCH   + fallo          → EXHAUSTED
func NextStage(stage Stage, outcome AttemptOutcome, hasFallback bool) Stage {
	if stage.Terminal() {
		return stage
	}
	switch outcome {
	case OutcomeAccepted:
		return StageSuccess
	case OutcomeInsufficientFunds, OutcomeUnconfirmed, OutcomeTransportError:
		return StageExhausted
	}
	switch stage {
	case StagePrimary:
		if hasFallback {
			return StageFallback
		}
		return StageSearch
	case StageFallback:
		return StageSearch
	default:
		return StageExhausted
	}
}

// ExecutionAttempt es una entrada del rastro de intentos de una señal.
type ExecutionAttempt struct {
	ID            string
	Stage         Stage
	VenueID       string
	Outcome       AttemptOutcome
	FailureReason string
	Size          float64
	RealizedRisk  float64
	DealID        string
	DealReference string
	At            time.Time
}

// Succeeded indica si el intento colocó la orden.
func (a ExecutionAttempt) Succeeded() bool {
	return a.Outcome == OutcomeAccepted
}

// ExecutionReport es el resultado de toda la cascada para una señal.
type ExecutionReport struct {
	FinalStage   Stage
	Trail        []ExecutionAttempt
	VenueID      string
	DealID       string
	Size         float64
	RealizedRisk float64
	Sizing       *SizingResult
	Err          error
}

// Success indica si algún intento fue aceptado.
func (r ExecutionReport) Success() bool {
	return r.FinalStage == StageSuccess
}

// LastFailure devuelve el último motivo de fallo del rastro.
func (r ExecutionReport) LastFailure() string {
	for i := len(r.Trail) - 1; i >= 0; i-- {
		if r.Trail[i].FailureReason != "" {
			return r.Trail[i].FailureReason
		}
	}
	return ""
}

// OrderRequest es una orden de apertura a mercado.
type OrderRequest struct {
	VenueID    string
	Direction  Direction
	Size       float64
	Expiry     string
	Currency   string
	StopLevel  float64
	LimitLevel float64
}

// DealConfirmation es el estado final de un deal reportado por el broker.
type DealConfirmation struct {
	DealReference string
	DealID        string
	Status        string // ACCEPTED | REJECTED
	Reason        string
	Level         float64
	Size          float64
}

// Accepted indica si el broker aceptó el deal.
func (c DealConfirmation) Accepted() bool {
	return c.Status == "ACCEPTED"
}
