package ports

import (
	"context"
	"time"
)

// RateProvider obtiene tipos de cambio a la divisa base de la cuenta.
type RateProvider interface {
	// Rate devuelve cuántas unidades de divisa base vale una unidad de currency.
	Rate(ctx context.Context, currency string) (float64, error)
}

// RateStore es la caché de tipos de cambio con expiración explícita.
type RateStore interface {
	Get(currency string) (float64, bool)
	Set(currency string, rate float64, ttl time.Duration)
	Expire(currency string)
}
