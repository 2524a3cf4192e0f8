package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// Quote devuelve cotización y metadata de contrato (GET /markets/{epic} v3).
// Un epic inexistente o no disponible devuelve domain.ErrVenueNotFound.
func (c *Client) Quote(ctx context.Context, venueID string) (domain.MarketSnapshot, error) {
	res, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/markets/" + url.PathEscape(venueID),
		version:    "3",
		limiter:    c.readLimiter,
		idempotent: true,
	})
	if err != nil {
		if notFound(err) {
			return domain.MarketSnapshot{}, fmt.Errorf("broker.Quote: %s: %w", venueID, domain.ErrVenueNotFound)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("broker.Quote: %s: %w", venueID, err)
	}
	snap := mapMarket(res)
	if snap.VenueID == "" {
		snap.VenueID = venueID
	}
	return snap, nil
}

// Search busca mercados por término (GET /markets?searchTerm=).
func (c *Client) Search(ctx context.Context, term string) ([]domain.SearchResult, error) {
	res, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/markets?searchTerm=" + url.QueryEscape(term),
		version:    "1",
		limiter:    c.readLimiter,
		idempotent: true,
	})
	if err != nil {
		return nil, fmt.Errorf("broker.Search: %q: %w", term, err)
	}
	return mapSearch(res), nil
}

// notFound reconoce los errores de "epic no disponible" y los 404.
func notFound(err error) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.Status == http.StatusNotFound {
		return true
	}
	code := strings.ToLower(ae.Code)
	return strings.Contains(code, "epic.unavailable") || strings.Contains(code, "instrument.not-found") || strings.Contains(code, "deal.not-found")
}
