// Package paper simula el broker en memoria: coloca, cierra y modifica
// posiciones sin enviar nada al mercado. Las cotizaciones vienen de una tabla
// local o de una fuente real inyectada (modo paper sobre datos vivos).
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
	"github.com/google/uuid"
)

var _ ports.Broker = (*Broker)(nil)

// MarketSource da cotizaciones y búsqueda reales.
type MarketSource interface {
	Quote(ctx context.Context, venueID string) (domain.MarketSnapshot, error)
	Search(ctx context.Context, term string) ([]domain.SearchResult, error)
}

// Call es una llamada de escritura registrada por el broker simulado.
type Call struct {
	Kind    string // PLACE | CLOSE | UPDATE
	VenueID string
	DealID  string
	Order   domain.OrderRequest
	Close   domain.CloseRequest
	Update  domain.LevelUpdate
	At      time.Time
}

// Broker implementa ports.Broker en memoria. Seguro para uso concurrente.
type Broker struct {
	mu sync.Mutex

	source    MarketSource
	markets   map[string]domain.MarketSnapshot
	searches  map[string][]domain.SearchResult
	quoteErrs map[string]error
	rejects   map[string]string

	positions map[string]domain.OpenPosition
	confirms  map[string]domain.DealConfirmation
	calls     []Call

	// PendingConfirms hace que Confirm devuelva ErrVenueNotFound esas veces
	// antes de responder, como un deal todavía en proceso.
	PendingConfirms int
	pendingLeft     map[string]int

	now func() time.Time
}

// New crea un broker simulado vacío. source puede ser nil.
func New(source MarketSource) *Broker {
	return &Broker{
		source:      source,
		markets:     make(map[string]domain.MarketSnapshot),
		searches:    make(map[string][]domain.SearchResult),
		quoteErrs:   make(map[string]error),
		rejects:     make(map[string]string),
		positions:   make(map[string]domain.OpenPosition),
		confirms:    make(map[string]domain.DealConfirmation),
		pendingLeft: make(map[string]int),
		now:         time.Now,
	}
}

// SetMarket registra o reemplaza la cotización de un venue.
func (b *Broker) SetMarket(s domain.MarketSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markets[s.VenueID] = s
}

// SetSearch fija los resultados de búsqueda de un término (normalizado).
func (b *Broker) SetSearch(term string, results []domain.SearchResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searches[strings.ToUpper(strings.TrimSpace(term))] = results
}

// FailQuote hace que Quote del venue devuelva err.
func (b *Broker) FailQuote(venueID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quoteErrs[venueID] = err
}

// RejectVenue hace que los deals sobre el venue se rechacen con reason.
func (b *Broker) RejectVenue(venueID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejects[venueID] = reason
}

// AddPosition inserta una posición abierta existente.
func (b *Broker) AddPosition(p domain.OpenPosition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.DealID] = p
}

// Calls devuelve una copia de las llamadas de escritura recibidas.
func (b *Broker) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsOf filtra las llamadas por tipo.
func (b *Broker) CallsOf(kind string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Authenticate no hace nada en modo paper.
func (b *Broker) Authenticate(ctx context.Context) error {
	if b.source != nil {
		if a, ok := b.source.(interface{ Authenticate(context.Context) error }); ok {
			return a.Authenticate(ctx)
		}
	}
	return nil
}

// Quote devuelve la cotización local o la de la fuente real.
func (b *Broker) Quote(ctx context.Context, venueID string) (domain.MarketSnapshot, error) {
	b.mu.Lock()
	err, failing := b.quoteErrs[venueID]
	snap, local := b.markets[venueID]
	b.mu.Unlock()

	if failing {
		return domain.MarketSnapshot{}, err
	}
	if local {
		return snap, nil
	}
	if b.source != nil {
		return b.source.Quote(ctx, venueID)
	}
	return domain.MarketSnapshot{}, fmt.Errorf("paper.Quote: %s: %w", venueID, domain.ErrVenueNotFound)
}

// Search devuelve los resultados fijados o los de la fuente real.
func (b *Broker) Search(ctx context.Context, term string) ([]domain.SearchResult, error) {
	b.mu.Lock()
	res, ok := b.searches[strings.ToUpper(strings.TrimSpace(term))]
	b.mu.Unlock()
	if ok {
		return append([]domain.SearchResult(nil), res...), nil
	}
	if b.source != nil {
		return b.source.Search(ctx, term)
	}
	return nil, nil
}

// OpenPositions devuelve las posiciones con bid/offer refrescados, ordenadas por dealId.
func (b *Broker) OpenPositions(ctx context.Context) ([]domain.OpenPosition, error) {
	b.mu.Lock()
	out := make([]domain.OpenPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DealID < out[j].DealID })
	for i := range out {
		if q, err := b.Quote(ctx, out[i].VenueID); err == nil && q.Bid > 0 {
			out[i].Bid, out[i].Offer = q.Bid, q.Offer
		}
	}
	return out, nil
}

// PlaceOrder abre una posición al precio actual, o registra el rechazo configurado.
func (b *Broker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	q, qerr := b.Quote(ctx, req.VenueID)

	b.mu.Lock()
	defer b.mu.Unlock()
	ref := "paper-" + uuid.New().String()
	b.calls = append(b.calls, Call{Kind: "PLACE", VenueID: req.VenueID, Order: req, At: b.now()})

	if reason, rejected := b.rejects[req.VenueID]; rejected {
		b.confirms[ref] = domain.DealConfirmation{DealReference: ref, Status: "REJECTED", Reason: reason}
		return ref, nil
	}
	if qerr != nil {
		b.confirms[ref] = domain.DealConfirmation{DealReference: ref, Status: "REJECTED", Reason: "MARKET_CLOSED_WITH_EDITS"}
		return ref, nil
	}

	dealID := "DIAAAA" + strings.ToUpper(uuid.New().String()[:8])
	level := q.PriceFor(req.Direction)
	b.positions[dealID] = domain.OpenPosition{
		DealID:         dealID,
		VenueID:        req.VenueID,
		InstrumentName: q.Name,
		Direction:      req.Direction,
		Size:           req.Size,
		OpenLevel:      level,
		StopLevel:      req.StopLevel,
		LimitLevel:     req.LimitLevel,
		CurrencyCode:   q.CurrencyCode,
		Bid:            q.Bid,
		Offer:          q.Offer,
		CreatedAt:      b.now().UTC(),
	}
	b.confirms[ref] = domain.DealConfirmation{DealReference: ref, DealID: dealID, Status: "ACCEPTED", Level: level, Size: req.Size}
	b.pendingLeft[ref] = b.PendingConfirms
	return ref, nil
}

// ClosePosition cierra la posición por completo.
func (b *Broker) ClosePosition(ctx context.Context, req domain.CloseRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Kind: "CLOSE", DealID: req.DealID, VenueID: req.VenueID, Close: req, At: b.now()})

	ref := "paper-" + uuid.New().String()
	if _, ok := b.positions[req.DealID]; !ok {
		b.confirms[ref] = domain.DealConfirmation{DealReference: ref, DealID: req.DealID, Status: "REJECTED", Reason: "POSITION_NOT_FOUND"}
		return ref, nil
	}
	delete(b.positions, req.DealID)
	b.confirms[ref] = domain.DealConfirmation{DealReference: ref, DealID: req.DealID, Status: "ACCEPTED", Size: req.Size}
	return ref, nil
}

// UpdateLevels cambia stop/límite de la posición.
func (b *Broker) UpdateLevels(ctx context.Context, upd domain.LevelUpdate) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Kind: "UPDATE", DealID: upd.DealID, Update: upd, At: b.now()})

	ref := "paper-" + uuid.New().String()
	p, ok := b.positions[upd.DealID]
	if !ok {
		b.confirms[ref] = domain.DealConfirmation{DealReference: ref, DealID: upd.DealID, Status: "REJECTED", Reason: "POSITION_NOT_FOUND"}
		return ref, nil
	}
	if upd.StopLevel > 0 {
		p.StopLevel = upd.StopLevel
	}
	if upd.LimitLevel > 0 {
		p.LimitLevel = upd.LimitLevel
	}
	b.positions[upd.DealID] = p
	b.confirms[ref] = domain.DealConfirmation{DealReference: ref, DealID: upd.DealID, Status: "ACCEPTED"}
	return ref, nil
}

// Confirm devuelve el estado final del deal.
func (b *Broker) Confirm(ctx context.Context, dealReference string) (domain.DealConfirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingLeft[dealReference] > 0 {
		b.pendingLeft[dealReference]--
		return domain.DealConfirmation{}, fmt.Errorf("paper.Confirm: %s pending: %w", dealReference, domain.ErrVenueNotFound)
	}
	c, ok := b.confirms[dealReference]
	if !ok {
		return domain.DealConfirmation{}, fmt.Errorf("paper.Confirm: %s: %w", dealReference, domain.ErrVenueNotFound)
	}
	return c, nil
}

// Position devuelve la posición por dealId.
func (b *Broker) Position(dealID string) (domain.OpenPosition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[dealID]
	return p, ok
}
