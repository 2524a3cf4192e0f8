// Package fx convierte importes a la divisa base de la cuenta usando una
// caché de tipos con expiración.
package fx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/ports"
)

// DefaultTTL es la vida de un tipo de cambio en caché.
const DefaultTTL = 5 * time.Minute

// Converter es el acceso cacheado al proveedor de tipos. La caché se refresca
// de forma perezosa: solo se consulta al proveedor cuando la entrada expiró.
type Converter struct {
	provider ports.RateProvider
	store    ports.RateStore
	home     string
	ttl      time.Duration
}

// NewConverter crea el conversor para la divisa base home.
func NewConverter(provider ports.RateProvider, store ports.RateStore, home string, ttl time.Duration) *Converter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Converter{provider: provider, store: store, home: strings.ToUpper(home), ttl: ttl}
}

// Home devuelve la divisa base.
func (c *Converter) Home() string { return c.home }

// Rate devuelve cuántas unidades de divisa base vale una unidad de currency.
// La divisa base vale 1 sin consultar nada.
func (c *Converter) Rate(ctx context.Context, currency string) (float64, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if len(cur) != 3 {
		return 0, fmt.Errorf("fx.Rate: invalid currency code %q", currency)
	}
	if cur == c.home {
		return 1, nil
	}
	if rate, ok := c.store.Get(cur); ok {
		return rate, nil
	}

	rate, err := c.provider.Rate(ctx, cur)
	if err != nil {
		return 0, fmt.Errorf("fx.Rate: %s→%s: %w", cur, c.home, err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("fx.Rate: %s→%s: non-positive rate %g", cur, c.home, rate)
	}
	c.store.Set(cur, rate, c.ttl)
	slog.Debug("fx: tipo actualizado", "currency", cur, "home", c.home, "rate", rate)
	return rate, nil
}
