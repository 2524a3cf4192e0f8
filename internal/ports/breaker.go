package ports

import (
	"context"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// BreakerStore persiste el estado del circuit breaker entre ejecuciones.
type BreakerStore interface {
	SaveBreaker(ctx context.Context, cb domain.CircuitBreaker) error

	// LoadBreaker devuelve el último estado guardado. found=false si no hay ninguno.
	LoadBreaker(ctx context.Context) (cb domain.CircuitBreaker, found bool, err error)
}
