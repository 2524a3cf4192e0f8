package storage

// sqlite.go: diario de auditoría de señales.
//
// Estrategia:
//   - `signals`: una fila por señal procesada (el Outcome completo menos el rastro).
//   - `attempts`: el rastro de intentos de la cascada, ordenado por seq.
//   - Las señales sin intención no llegan aquí: el engine no las registra.
//   - Prune automático al arrancar: señales de más de 90 días.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
-- Un registro por señal accionable
CREATE TABLE IF NOT EXISTS signals (
    id            TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    signal_type   TEXT NOT NULL,
    instrument    TEXT NOT NULL DEFAULT '',
    venue_id      TEXT NOT NULL DEFAULT '',
    direction     TEXT NOT NULL DEFAULT '',
    size          REAL NOT NULL DEFAULT 0,
    realized_risk REAL NOT NULL DEFAULT 0,
    realized_pnl  REAL NOT NULL DEFAULT 0,
    deal_id       TEXT NOT NULL DEFAULT '',
    message       TEXT NOT NULL DEFAULT '',
    chat_id       TEXT NOT NULL DEFAULT '',
    sender_id     TEXT NOT NULL DEFAULT '',
    received_at   TEXT,
    raw_text      TEXT NOT NULL DEFAULT '',
    processed_at  TEXT NOT NULL
);

-- Rastro de la cascada de ejecución
CREATE TABLE IF NOT EXISTS attempts (
    id             TEXT PRIMARY KEY,
    signal_id      TEXT NOT NULL REFERENCES signals(id) ON DELETE CASCADE,
    seq            INTEGER NOT NULL,
    stage          TEXT NOT NULL,
    venue_id       TEXT NOT NULL DEFAULT '',
    outcome        TEXT NOT NULL,
    failure_reason TEXT NOT NULL DEFAULT '',
    size           REAL NOT NULL DEFAULT 0,
    realized_risk  REAL NOT NULL DEFAULT 0,
    deal_id        TEXT NOT NULL DEFAULT '',
    deal_reference TEXT NOT NULL DEFAULT '',
    at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_at    ON signals(processed_at);
CREATE INDEX IF NOT EXISTS idx_attempts_sig  ON attempts(signal_id, seq);
`

const retentionSignals = 90 * 24 * time.Hour

// timeLayout es de ancho fijo para que el orden de texto coincida con el temporal.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ ports.AuditStore = (*SQLiteStorage)(nil)

// SQLiteStorage implementa ports.AuditStore y ports.BreakerStore usando SQLite
// (pure Go, sin CGo). Tracker() da acceso a la metadata de posiciones.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: foreign keys: %w", err)
	}
	for _, ddl := range []string{schema, trackerSchema} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
		}
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveOutcome guarda la señal y su rastro en una sola transacción.
// Guardar dos veces el mismo SignalID reemplaza el registro anterior.
func (s *SQLiteStorage) SaveOutcome(ctx context.Context, o domain.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveOutcome: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE signal_id = ?`, o.SignalID); err != nil {
		return fmt.Errorf("storage.SaveOutcome: clear attempts: %w", err)
	}
	processed := o.ProcessedAt
	if processed.IsZero() {
		processed = s.now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals
			(id, status, signal_type, instrument, venue_id, direction, size,
			 realized_risk, realized_pnl, deal_id, message, chat_id, sender_id,
			 received_at, raw_text, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SignalID, string(o.Status), string(o.SignalType), o.Instrument, o.VenueID,
		string(o.Direction), o.Size, o.RealizedRisk, o.RealizedPnL, o.DealID, o.Message,
		o.Meta.ChatID, o.Meta.SenderID, nullTime(o.Meta.Timestamp), o.RawText, formatTime(processed),
	); err != nil {
		return fmt.Errorf("storage.SaveOutcome: insert signal %s: %w", o.SignalID, err)
	}

	if len(o.Trail) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO attempts
				(id, signal_id, seq, stage, venue_id, outcome, failure_reason,
				 size, realized_risk, deal_id, deal_reference, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("storage.SaveOutcome: prepare: %w", err)
		}
		defer stmt.Close()

		for i, a := range o.Trail {
			id := a.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", o.SignalID, i)
			}
			at := a.At
			if at.IsZero() {
				at = processed
			}
			if _, err := stmt.ExecContext(ctx,
				id, o.SignalID, i, string(a.Stage), a.VenueID, string(a.Outcome), a.FailureReason,
				a.Size, a.RealizedRisk, a.DealID, a.DealReference, formatTime(at),
			); err != nil {
				return fmt.Errorf("storage.SaveOutcome: insert attempt %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveOutcome: commit: %w", err)
	}
	return nil
}

// GetOutcomes devuelve las señales procesadas en [from, to], de la más antigua
// a la más reciente, cada una con su rastro completo.
func (s *SQLiteStorage) GetOutcomes(ctx context.Context, from, to time.Time) ([]domain.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, signal_type, instrument, venue_id, direction, size,
		       realized_risk, realized_pnl, deal_id, message, chat_id, sender_id,
		       received_at, raw_text, processed_at
		FROM signals
		WHERE processed_at BETWEEN ? AND ?
		ORDER BY processed_at ASC, id ASC
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("storage.GetOutcomes: query: %w", err)
	}

	var outs []domain.Outcome
	index := make(map[string]int)
	for rows.Next() {
		var o domain.Outcome
		var status, sigType, direction, processed string
		var received sql.NullString
		if err := rows.Scan(
			&o.SignalID, &status, &sigType, &o.Instrument, &o.VenueID, &direction, &o.Size,
			&o.RealizedRisk, &o.RealizedPnL, &o.DealID, &o.Message, &o.Meta.ChatID, &o.Meta.SenderID,
			&received, &o.RawText, &processed,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.GetOutcomes: scan row: %w", err)
		}
		o.Status = domain.OutcomeStatus(status)
		o.SignalType = domain.SignalType(sigType)
		o.Direction = domain.Direction(direction)
		o.ProcessedAt = parseTime(processed)
		if received.Valid {
			o.Meta.Timestamp = parseTime(received.String)
		}
		index[o.SignalID] = len(outs)
		outs = append(outs, o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("storage.GetOutcomes: rows: %w", err)
	}
	if len(outs) == 0 {
		return outs, nil
	}

	if err := s.loadTrails(ctx, from, to, outs, index); err != nil {
		return nil, err
	}
	return outs, nil
}

// loadTrails rellena el rastro de cada señal con una sola consulta.
func (s *SQLiteStorage) loadTrails(ctx context.Context, from, to time.Time, outs []domain.Outcome, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.signal_id, a.stage, a.venue_id, a.outcome, a.failure_reason,
		       a.size, a.realized_risk, a.deal_id, a.deal_reference, a.at
		FROM attempts a
		JOIN signals s ON s.id = a.signal_id
		WHERE s.processed_at BETWEEN ? AND ?
		ORDER BY a.signal_id, a.seq
	`, formatTime(from), formatTime(to))
	if err != nil {
		return fmt.Errorf("storage.GetOutcomes: query attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.ExecutionAttempt
		var signalID, stage, outcome, at string
		if err := rows.Scan(
			&a.ID, &signalID, &stage, &a.VenueID, &outcome, &a.FailureReason,
			&a.Size, &a.RealizedRisk, &a.DealID, &a.DealReference, &at,
		); err != nil {
			return fmt.Errorf("storage.GetOutcomes: scan attempt: %w", err)
		}
		a.Stage = domain.Stage(stage)
		a.Outcome = domain.AttemptOutcome(outcome)
		a.At = parseTime(at)
		if i, ok := index[signalID]; ok {
			outs[i].Trail = append(outs[i].Trail, a)
		}
	}
	return rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina señales antiguas y sus intentos.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(s.now().Add(-retentionSignals))
	s.db.ExecContext(ctx, `DELETE FROM attempts WHERE signal_id IN (SELECT id FROM signals WHERE processed_at < ?)`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM signals WHERE processed_at < ?`, cutoff)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
