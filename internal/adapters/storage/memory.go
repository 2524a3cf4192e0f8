package storage

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
)

type rateEntry struct {
	rate      float64
	expiresAt time.Time
}

// MemoryRateStore es la caché de tipos de cambio en memoria con TTL por entrada.
type MemoryRateStore struct {
	mu      sync.Mutex
	entries map[string]rateEntry
	now     func() time.Time
}

// NewMemoryRateStore crea la caché. now puede ser nil (usa time.Now).
func NewMemoryRateStore(now func() time.Time) *MemoryRateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRateStore{entries: make(map[string]rateEntry), now: now}
}

// Get devuelve el tipo si existe y no expiró. Las entradas expiradas se borran.
func (s *MemoryRateStore) Get(currency string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[currency]
	if !ok {
		return 0, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, currency)
		return 0, false
	}
	return e.rate, true
}

// Set guarda el tipo con la vida dada.
func (s *MemoryRateStore) Set(currency string, rate float64, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[currency] = rateEntry{rate: rate, expiresAt: s.now().Add(ttl)}
}

// Expire borra la entrada.
func (s *MemoryRateStore) Expire(currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, currency)
}

// MemoryTracker guarda la metadata local de posiciones en memoria.
// Las entradas caducan tras maxAge (0 = nunca).
type MemoryTracker struct {
	mu     sync.Mutex
	metas  map[string]domain.PositionMeta
	maxAge time.Duration
	now    func() time.Time
}

// NewMemoryTracker crea el tracker.
func NewMemoryTracker(maxAge time.Duration, now func() time.Time) *MemoryTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{metas: make(map[string]domain.PositionMeta), maxAge: maxAge, now: now}
}

// Get devuelve la metadata de un dealId.
func (t *MemoryTracker) Get(_ context.Context, dealID string) (domain.PositionMeta, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.metas[dealID]
	if !ok {
		return domain.PositionMeta{}, false, nil
	}
	if t.maxAge > 0 && t.now().Sub(m.OpenedAt) > t.maxAge {
		delete(t.metas, dealID)
		return domain.PositionMeta{}, false, nil
	}
	return m, true, nil
}

// Set guarda o reemplaza la metadata.
func (t *MemoryTracker) Set(_ context.Context, meta domain.PositionMeta) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metas[meta.DealID] = meta
	return nil
}

// Expire borra la metadata de un dealId cerrado.
func (t *MemoryTracker) Expire(_ context.Context, dealID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.metas, dealID)
	return nil
}
