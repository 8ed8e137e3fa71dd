/*
Package facade is the public API of the reconciliation engine.

PURPOSE:
  Composes the lifecycle validators, the payout pre-flight and the event
  replayer around one ledger.Gateway. Every mutating use case follows the
  same path:

    guard intent ─▶ validate (ledger clock) ─▶ journal "submitted"
        ─▶ Submit ─▶ Await ─▶ journal outcome ─▶ re-read fresh state

  Nothing is assumed to have changed unless the ledger confirmed it.

KEY CONCEPTS:
  - Result:   uniform outcome of a mutation {Success, Data, Error, TxHash}
  - Guard:    refuses a second transaction for an intent still in flight
  - Journal:  append-only record of every intent phase
  - Notifier: announces confirmed mutations
  - Registry: doctor authorizations, replayed from events and swapped
              wholesale; never patched in place

CONCURRENCY:
  Reads fan out freely. Submissions are serialized per Facade, so one
  connected account never has two transactions racing for a nonce.

SEE ALSO:
  - mutations.go: mutating use cases
  - reads.go:     read use cases
  - normalize.go: ledger errors into the insurance taxonomy
*/
package facade

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/blob"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
)

// Result is the outcome of a mutating use case.
type Result struct {
	Success bool
	Data    any
	Error   error
	TxHash  string
}

func failure(err error) Result {
	return Result{Success: false, Error: err}
}

// Options configures a Facade. Nil fields get in-memory defaults.
type Options struct {
	Logger   *slog.Logger
	Guard    Guard
	Journal  Journal
	Notifier Notifier
	Blobs    blob.Store

	// FromBlock is where event replays start, normally the deployment block.
	FromBlock uint64
}

// Facade is scoped to one connected account. Reconnecting means building
// a new Facade around the new Gateway.
type Facade struct {
	gw        ledger.Gateway
	logger    *slog.Logger
	guard     Guard
	journal   Journal
	notifier  Notifier
	blobs     blob.Store
	fromBlock uint64

	submitMu sync.Mutex
	registry atomic.Pointer[insurance.DoctorRegistry]
}

// New builds a Facade around gw.
func New(gw ledger.Gateway, opts Options) *Facade {
	f := &Facade{
		gw:        gw,
		logger:    opts.Logger,
		guard:     opts.Guard,
		journal:   opts.Journal,
		notifier:  opts.Notifier,
		blobs:     opts.Blobs,
		fromBlock: opts.FromBlock,
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.guard == nil {
		f.guard = NewMemoryGuard()
	}
	if f.journal == nil {
		f.journal = NewMemoryJournal()
	}
	if f.notifier == nil {
		f.notifier = nopNotifier{}
	}
	if f.blobs == nil {
		f.blobs = blob.NewMemoryStore()
	}
	f.registry.Store(insurance.EmptyRegistry())
	return f
}

// Sender is the connected account.
func (f *Facade) Sender() common.Address { return f.gw.Sender() }

// ContractAddress is the insurance contract address.
func (f *Facade) ContractAddress() common.Address { return f.gw.ContractAddress() }

// Journal exposes the intent journal for read-only inspection.
func (f *Facade) Journal() Journal { return f.journal }

// Blobs exposes the document store.
func (f *Facade) Blobs() blob.Store { return f.blobs }

// Now is the ledger clock: the timestamp of the latest block.
func (f *Facade) Now(ctx context.Context) (time.Time, error) {
	head, err := f.gw.Head(ctx)
	if err != nil {
		return time.Time{}, Normalize("head", err)
	}
	return head.Time, nil
}

// =============================================================================
// DOCTOR REGISTRY
// =============================================================================

// Registry returns the last replayed registry. It may be stale; guards
// call RefreshRegistry instead.
func (f *Facade) Registry() *insurance.DoctorRegistry {
	return f.registry.Load()
}

// RefreshRegistry replays every DoctorAuthorized event and swaps the
// cached snapshot. On failure the previous snapshot is kept.
func (f *Facade) RefreshRegistry(ctx context.Context) (*insurance.DoctorRegistry, error) {
	events, err := f.gw.ReadEvents(ctx, ledger.EventDoctorAuthorized, f.fromBlock, nil)
	if err != nil {
		return nil, Normalize("DoctorAuthorized", err)
	}
	reg, err := insurance.BuildDoctorRegistry(events)
	if err != nil {
		f.logger.Warn("doctor registry replay failed", "error", err)
		return nil, err
	}
	f.registry.Store(reg)
	return reg, nil
}
