package ports

import (
	"context"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// Notifier presenta el registro de auditoría de cada señal.
type Notifier interface {
	// NotifyOutcome muestra el resultado y, si existe, el rastro de intentos.
	// En la implementación de consola, imprime una tabla formateada.
	NotifyOutcome(ctx context.Context, o domain.Outcome) error
}
