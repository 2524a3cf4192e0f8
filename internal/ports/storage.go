package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// PositionTracker guarda metadata local por dealId. Solo sirve para reconstruir
// la fecha de apertura; se invalida al cerrar la posición.
type PositionTracker interface {
	Get(ctx context.Context, dealID string) (domain.PositionMeta, bool, error)
	Set(ctx context.Context, meta domain.PositionMeta) error
	Expire(ctx context.Context, dealID string) error
}

// AuditStore persiste un registro por señal procesada, con su rastro de intentos.
type AuditStore interface {
	SaveOutcome(ctx context.Context, o domain.Outcome) error

	// GetOutcomes devuelve los registros en el rango de tiempo dado.
	GetOutcomes(ctx context.Context, from, to time.Time) ([]domain.Outcome, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
