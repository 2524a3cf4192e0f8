// Package marketdata valida la cotización y metadata de contrato de un venue
// antes de cualquier cálculo de tamaño.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// QuoteSearcher es el subconjunto de ports.Broker que usa el Gate.
type QuoteSearcher interface {
	Quote(ctx context.Context, venueID string) (domain.MarketSnapshot, error)
	Search(ctx context.Context, term string) ([]domain.SearchResult, error)
}

// Gate obtiene snapshots frescos. Nunca sustituye un precio viejo o por defecto:
// cualquier fallo aborta el intento actual.
type Gate struct {
	broker QuoteSearcher
}

// New crea un Gate sobre el broker dado.
func New(broker QuoteSearcher) *Gate {
	return &Gate{broker: broker}
}

// Fetch devuelve el snapshot del venue. Si el venue no existe, hace una única
// búsqueda por searchTerm y usa el primer resultado operable; el VenueID del
// snapshot devuelto indica el reemplazo. Todos los errores envuelven
// domain.ErrMarketDataUnavailable.
func (g *Gate) Fetch(ctx context.Context, venueID, searchTerm string) (domain.MarketSnapshot, error) {
	snap, err := g.broker.Quote(ctx, venueID)
	if err != nil && errors.Is(err, domain.ErrVenueNotFound) && searchTerm != "" {
		replacement, serr := g.findReplacement(ctx, venueID, searchTerm)
		if serr != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("marketdata.Fetch: %s: %w", venueID, errors.Join(domain.ErrMarketDataUnavailable, serr))
		}
		slog.Info("marketdata: venue reemplazado", "from", venueID, "to", replacement, "term", searchTerm)
		venueID = replacement
		snap, err = g.broker.Quote(ctx, venueID)
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata.Fetch: %s: %w", venueID, errors.Join(domain.ErrMarketDataUnavailable, err))
	}

	if snap.VenueID == "" {
		snap.VenueID = venueID
	}
	snap.Tradable = domain.ComputeTradable(snap.MarketStatus, snap.Bid, snap.Offer)
	if !snap.Tradable {
		return snap, fmt.Errorf("marketdata.Fetch: %s not tradable (status=%s bid=%g offer=%g): %w",
			venueID, snap.MarketStatus, snap.Bid, snap.Offer, domain.ErrMarketDataUnavailable)
	}
	return snap, nil
}

func (g *Gate) findReplacement(ctx context.Context, venueID, term string) (string, error) {
	results, err := g.broker.Search(ctx, term)
	if err != nil {
		return "", fmt.Errorf("search %q: %w", term, err)
	}
	for _, r := range results {
		if r.VenueID != "" && r.VenueID != venueID && r.Tradable() {
			return r.VenueID, nil
		}
	}
	return "", fmt.Errorf("search %q: no tradable replacement among %d results", term, len(results))
}
