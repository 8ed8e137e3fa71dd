/*
Package sqlite provides a SQLite-backed intent journal.

PURPOSE:
  Implements facade.Journal so the record of what the engine sent to the
  ledger survives restarts. Ledger state itself is never cached here; the
  ledger stays the source of truth.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the intents table
  - No DELETE statements on the intents table
  - Each phase of an intent is a new row; the idempotency key
    (<intent id>:<phase>) is UNIQUE

KEY TABLES:
  intents: one row per (intent, phase)

INDEXES:
  - idx_intents_intent:     all phases of one intent
  - idx_intents_key_time:   history of an intent key, newest first
  - idx_intents_actor_time: per-account history

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases shared across calls.

USAGE:
  store, err := sqlite.New("./data/claims.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  f := facade.New(gw, facade.Options{Journal: store})

SEE ALSO:
  - facade/journal.go: Journal interface and the in-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/ledger"
)

// Store implements facade.Journal using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ facade.Journal = (*Store)(nil)

// New opens (or creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Intents (append-only journal)
	CREATE TABLE IF NOT EXISTS intents (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		intent_key TEXT NOT NULL,
		method TEXT NOT NULL,
		phase TEXT NOT NULL,
		actor TEXT NOT NULL,
		tx_hash TEXT,
		reason TEXT,
		payload_json TEXT,
		idempotency_key TEXT UNIQUE,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intents_intent
		ON intents(intent_id);
	CREATE INDEX IF NOT EXISTS idx_intents_key_time
		ON intents(intent_key, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_intents_actor_time
		ON intents(actor, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_intents_tx
		ON intents(tx_hash) WHERE tx_hash IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// JOURNAL (facade.Journal interface)
// =============================================================================

// Append records one phase of an intent.
func (s *Store) Append(ctx context.Context, e facade.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	recordedAt := e.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	query := `
		INSERT INTO intents
		(id, intent_id, intent_key, method, phase, actor, tx_hash, reason,
		 payload_json, idempotency_key, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.IntentID,
		e.IntentKey,
		string(e.Method),
		string(e.Phase),
		e.Actor.Hex(),
		nullString(e.TxHash),
		nullString(e.Reason),
		string(payloadJSON),
		nullString(e.IdempotencyKey),
		recordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return facade.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append intent: %w", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (s *Store) Query(ctx context.Context, f facade.JournalFilter) ([]facade.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.IntentID != "" {
		where = append(where, "intent_id = ?")
		args = append(args, f.IntentID)
	}
	if f.IntentKey != "" {
		where = append(where, "intent_key = ?")
		args = append(args, f.IntentKey)
	}
	if f.Actor != nil {
		where = append(where, "actor = ?")
		args = append(args, f.Actor.Hex())
	}
	if len(f.Phases) > 0 {
		marks := make([]string, len(f.Phases))
		for i, p := range f.Phases {
			marks[i] = "?"
			args = append(args, string(p))
		}
		where = append(where, "phase IN ("+strings.Join(marks, ", ")+")")
	}

	query := `
		SELECT id, intent_id, intent_key, method, phase, actor, tx_hash, reason,
		       payload_json, idempotency_key, recorded_at
		FROM intents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.queryEntries(ctx, query, args...)
}

// Exists checks if an idempotency key was already recorded.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM intents WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

// Unresolved returns intents whose last recorded phase is "submitted" or
// "failed": the ledger outcome was never observed by this engine.
func (s *Store) Unresolved(ctx context.Context) ([]facade.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, intent_id, intent_key, method, phase, actor, tx_hash, reason,
		       payload_json, idempotency_key, recorded_at
		FROM intents i
		WHERE phase IN ('submitted', 'failed')
		  AND NOT EXISTS (
			SELECT 1 FROM intents o
			WHERE o.intent_id = i.intent_id AND o.phase IN ('confirmed', 'reverted')
		  )
		  AND NOT (phase = 'submitted' AND EXISTS (
			SELECT 1 FROM intents f
			WHERE f.intent_id = i.intent_id AND f.phase = 'failed'
		  ))
		ORDER BY recorded_at DESC, rowid DESC
	`
	return s.queryEntries(ctx, query)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]facade.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	defer rows.Close()

	entries := []facade.JournalEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (facade.JournalEntry, error) {
	var (
		e              facade.JournalEntry
		method         string
		phase          string
		actor          string
		txHash         sql.NullString
		reason         sql.NullString
		payloadJSON    sql.NullString
		idempotencyKey sql.NullString
		recordedAt     string
	)

	err := rows.Scan(
		&e.ID, &e.IntentID, &e.IntentKey, &method, &phase, &actor,
		&txHash, &reason, &payloadJSON, &idempotencyKey, &recordedAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan intent: %w", err)
	}

	e.Method = ledger.Method(method)
	e.Phase = facade.Phase(phase)
	e.Actor = common.HexToAddress(actor)
	e.TxHash = txHash.String
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)

	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
			return e, fmt.Errorf("failed to decode payload of intent %s: %w", e.ID, err)
		}
	}

	return e, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
