package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Taxonomía de errores del motor. Cada categoría se captura en su origen y
// se convierte en un Outcome estructurado; ninguna cruza InterpretAndAct.
var (
	ErrParseAmbiguous        = errors.New("no trading intent recognized")
	ErrUnknownInstrument     = errors.New("unknown instrument")
	ErrInstrumentDisabled    = errors.New("instrument disabled")
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrSizingAborted         = errors.New("sizing aborted")
	ErrRiskExceeded          = errors.New("risk cap exceeded")
	ErrVenueRejected         = errors.New("venue rejected deal")
	ErrNoMatchingPosition    = errors.New("no matching position")
	ErrCircuitOpen           = errors.New("circuit breaker open")

	// ErrVenueNotFound: el broker no conoce el venue id.
	ErrVenueNotFound = errors.New("venue not found")
	// ErrTransport: fallo de red o 5xx tras agotar reintentos.
	ErrTransport = errors.New("broker transport failure")
)

// Razones de rechazo del broker que indican cuenta sin fondos.
var insufficientFundsReasons = []string{
	"INSUFFICIENT_FUNDS",
	"INSUFFICIENT_BALANCE",
	"INSUFFICIENT_MARGIN",
}

// VenueRejection es un deal no aceptado por el broker.
type VenueRejection struct {
	VenueID string
	Status  string
	Reason  string
}

func (e *VenueRejection) Error() string {
	return fmt.Sprintf("venue %s rejected deal: status=%s reason=%s", e.VenueID, e.Status, e.Reason)
}

// Unwrap permite errors.Is(err, ErrVenueRejected).
func (e *VenueRejection) Unwrap() error {
	return ErrVenueRejected
}

// InsufficientFunds indica si el rechazo es de la clase "sin fondos".
func (e *VenueRejection) InsufficientFunds() bool {
	reason := strings.ToUpper(e.Reason)
	for _, r := range insufficientFundsReasons {
		if strings.Contains(reason, r) {
			return true
		}
	}
	return false
}

// IsInsufficientFunds busca un VenueRejection de la clase sin fondos en la cadena de err.
func IsInsufficientFunds(err error) bool {
	var rej *VenueRejection
	if errors.As(err, &rej) {
		return rej.InsufficientFunds()
	}
	return false
}
