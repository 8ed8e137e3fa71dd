/*
journal.go - Intent journal

PURPOSE:
  Records every mutating intent the façade sends to the ledger, one entry
  per phase. The ledger stays the source of truth for state; the journal
  only answers "what did this engine try to do, and how did it end".

APPEND-ONLY CONTRACT:
  - Append() is the only write
  - Each entry carries an idempotency key (<intent id>:<phase>), so a
    phase is recorded at most once per intent
  - NO Update() or Delete() methods exist

PHASES:
  submitted ──▶ confirmed
            ├─▶ reverted   (ledger rejected it)
            └─▶ failed     (transport error, outcome unknown)

IMPLEMENTATIONS:
  - MemoryJournal (this file): tests and dev mode
  - store/sqlite: durable journal

SEE ALSO:
  - mutations.go: writes the phases
*/
package facade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/ledger"
)

// ErrDuplicateIdempotencyKey is returned when a phase was already recorded.
var ErrDuplicateIdempotencyKey = errors.New("journal entry already recorded")

// Phase is the stage an intent reached.
type Phase string

const (
	PhaseSubmitted Phase = "submitted"
	PhaseConfirmed Phase = "confirmed"
	PhaseReverted  Phase = "reverted"
	PhaseFailed    Phase = "failed"
)

// JournalEntry is one phase of one intent.
type JournalEntry struct {
	ID             string         `json:"id"`
	IntentID       string         `json:"intentId"`
	IntentKey      string         `json:"intentKey"`
	Method         ledger.Method  `json:"method"`
	Phase          Phase          `json:"phase"`
	Actor          common.Address `json:"actor"`
	TxHash         string         `json:"txHash,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
	RecordedAt     time.Time      `json:"recordedAt"`
}

// JournalFilter narrows Query. Zero values match everything.
type JournalFilter struct {
	IntentID  string
	IntentKey string
	Actor     *common.Address
	Phases    []Phase
	Limit     int
}

func (f JournalFilter) matches(e JournalEntry) bool {
	if f.IntentID != "" && e.IntentID != f.IntentID {
		return false
	}
	if f.IntentKey != "" && e.IntentKey != f.IntentKey {
		return false
	}
	if f.Actor != nil && e.Actor != *f.Actor {
		return false
	}
	if len(f.Phases) > 0 {
		found := false
		for _, p := range f.Phases {
			if p == e.Phase {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Journal stores intent entries. Append-only.
type Journal interface {
	Append(ctx context.Context, e JournalEntry) error

	// Query returns matching entries, newest first.
	Query(ctx context.Context, f JournalFilter) ([]JournalEntry, error)
}

// =============================================================================
// MEMORY JOURNAL
// =============================================================================

type MemoryJournal struct {
	mu          sync.RWMutex
	entries     []JournalEntry
	idempotency map[string]bool
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{idempotency: make(map[string]bool)}
}

func (m *MemoryJournal) Append(_ context.Context, e JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IdempotencyKey != "" {
		if m.idempotency[e.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		m.idempotency[e.IdempotencyKey] = true
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryJournal) Query(_ context.Context, f JournalFilter) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []JournalEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if f.matches(m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
