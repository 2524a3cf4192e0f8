package storage

// tracker.go: estado local que sobrevive entre ejecuciones.
//
// Tablas:
//   position_meta:   metadata por dealId (fecha de apertura, señal de origen)
//   circuit_breaker: estado del circuit breaker (una sola fila)

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
)

const trackerSchema = `
CREATE TABLE IF NOT EXISTS position_meta (
    deal_id    TEXT PRIMARY KEY,
    signal_id  TEXT NOT NULL DEFAULT '',
    venue_id   TEXT NOT NULL DEFAULT '',
    direction  TEXT NOT NULL DEFAULT '',
    size       REAL NOT NULL DEFAULT 0,
    opened_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS circuit_breaker (
    id                   INTEGER PRIMARY KEY CHECK (id = 1),
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    cooldown_until       TEXT,
    triggered_reason     TEXT NOT NULL DEFAULT ''
);
`

var (
	_ ports.PositionTracker = (*SQLiteTracker)(nil)
	_ ports.BreakerStore    = (*SQLiteStorage)(nil)
)

// ─── Position meta ───────────────────────────────────────────────────────────

// SQLiteTracker implementa ports.PositionTracker sobre la misma base de datos.
// Las entradas caducan tras maxAge (0 = nunca).
type SQLiteTracker struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

// Tracker devuelve el tracker de posiciones que comparte la conexión.
func (s *SQLiteStorage) Tracker(maxAge time.Duration) *SQLiteTracker {
	return &SQLiteTracker{db: s.db, maxAge: maxAge, now: s.now}
}

// WithClock fija el reloj del tracker (tests).
func (t *SQLiteTracker) WithClock(now func() time.Time) *SQLiteTracker {
	t.now = now
	return t
}

// Get devuelve la metadata de un dealId. Una entrada caducada se borra.
func (t *SQLiteTracker) Get(ctx context.Context, dealID string) (domain.PositionMeta, bool, error) {
	var m domain.PositionMeta
	var direction, opened string
	err := t.db.QueryRowContext(ctx, `
		SELECT deal_id, signal_id, venue_id, direction, size, opened_at
		FROM position_meta WHERE deal_id = ?`, dealID,
	).Scan(&m.DealID, &m.SignalID, &m.VenueID, &direction, &m.Size, &opened)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PositionMeta{}, false, nil
	}
	if err != nil {
		return domain.PositionMeta{}, false, fmt.Errorf("storage.Tracker.Get: %s: %w", dealID, err)
	}
	m.Direction = domain.Direction(direction)
	m.OpenedAt = parseTime(opened)

	if t.maxAge > 0 && t.now().Sub(m.OpenedAt) > t.maxAge {
		if err := t.Expire(ctx, dealID); err != nil {
			return domain.PositionMeta{}, false, err
		}
		return domain.PositionMeta{}, false, nil
	}
	return m, true, nil
}

// Set guarda o reemplaza la metadata.
func (t *SQLiteTracker) Set(ctx context.Context, m domain.PositionMeta) error {
	opened := m.OpenedAt
	if opened.IsZero() {
		opened = t.now()
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO position_meta (deal_id, signal_id, venue_id, direction, size, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.DealID, m.SignalID, m.VenueID, string(m.Direction), m.Size, formatTime(opened),
	)
	if err != nil {
		return fmt.Errorf("storage.Tracker.Set: %s: %w", m.DealID, err)
	}
	return nil
}

// Expire borra la metadata de un dealId cerrado.
func (t *SQLiteTracker) Expire(ctx context.Context, dealID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM position_meta WHERE deal_id = ?`, dealID); err != nil {
		return fmt.Errorf("storage.Tracker.Expire: %s: %w", dealID, err)
	}
	return nil
}

// ─── Circuit Breaker ─────────────────────────────────────────────────────────

// SaveBreaker persiste el estado dinámico del circuit breaker. Umbral y
// duración vienen de la configuración, no se guardan.
func (s *SQLiteStorage) SaveBreaker(ctx context.Context, cb domain.CircuitBreaker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuit_breaker (id, consecutive_failures, cooldown_until, triggered_reason)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			cooldown_until       = excluded.cooldown_until,
			triggered_reason     = excluded.triggered_reason`,
		cb.ConsecutiveFailures, nullTime(cb.CooldownUntil), cb.TriggeredReason,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveBreaker: %w", err)
	}
	return nil
}

// LoadBreaker carga el estado persistido del circuit breaker.
func (s *SQLiteStorage) LoadBreaker(ctx context.Context) (domain.CircuitBreaker, bool, error) {
	var cb domain.CircuitBreaker
	var cooldown sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT consecutive_failures, cooldown_until, triggered_reason
		FROM circuit_breaker WHERE id = 1`,
	).Scan(&cb.ConsecutiveFailures, &cooldown, &cb.TriggeredReason)
	if errors.Is(err, sql.ErrNoRows) {
		return cb, false, nil
	}
	if err != nil {
		return cb, false, fmt.Errorf("storage.LoadBreaker: %w", err)
	}
	if cooldown.Valid && cooldown.String != "" {
		cb.CooldownUntil = parseTime(cooldown.String)
	}
	return cb, true, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
