package ports

import (
	"context"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

// Broker es la API REST del broker de CFDs. Todas las llamadas son síncronas.
type Broker interface {
	// Authenticate abre la sesión y guarda los tokens para las llamadas siguientes.
	Authenticate(ctx context.Context) error

	// Quote devuelve cotización y metadata de contrato de un venue.
	Quote(ctx context.Context, venueID string) (domain.MarketSnapshot, error)

	// Search busca instrumentos por término, en orden de relevancia del broker.
	Search(ctx context.Context, term string) ([]domain.SearchResult, error)

	// OpenPositions devuelve las posiciones abiertas de la cuenta.
	OpenPositions(ctx context.Context) ([]domain.OpenPosition, error)

	// PlaceOrder envía una orden a mercado y devuelve el deal reference.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error)

	// ClosePosition cierra una posición con una orden opuesta. Devuelve el deal reference.
	ClosePosition(ctx context.Context, req domain.CloseRequest) (string, error)

	// UpdateLevels cambia stop y/o límite de una posición. Devuelve el deal reference.
	UpdateLevels(ctx context.Context, upd domain.LevelUpdate) (string, error)

	// Confirm consulta el estado final de un deal.
	Confirm(ctx context.Context, dealReference string) (domain.DealConfirmation, error)
}
