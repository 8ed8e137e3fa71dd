/*
replay.go - Event Log Replayer

PURPOSE:
  Materializes current state from an event stream when the ledger offers
  no direct query for it. The fold is "last write wins by (block,
  txIndex, logIndex)": for every subject, the event executed last on the
  ledger determines the materialized value.

ALGORITHM:
  1. Copy and sort the events by ledger position. The transport's arrival
     order is never trusted.
  2. Group by subject key.
  3. Keep, per subject, the event with the greatest position. Ties on the
     block break by tx index then log index, ascending; the last wins.
  4. Emit one record per subject.

IDEMPOTENCY:
  The fold is a pure function of its input multiset. Replaying the same
  stream any number of times, in any arrival order, produces the same view.
  Nothing accumulates between calls.

SEE ALSO:
  - registry.go: doctor registry built on LatestBySubject
  - facade/reads.go: claim discovery built on LatestBySubject
*/
package insurance

import (
	"sort"

	"github.com/warp/claims-engine/ledger"
)

// Positioned is anything with a ledger execution position.
type Positioned interface {
	LedgerPosition() ledger.Position
}

// SortByPosition returns a copy of events ordered by ledger position.
// Events with identical positions keep their relative input order.
func SortByPosition[E Positioned](events []E) []E {
	out := make([]E, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LedgerPosition().Less(out[j].LedgerPosition())
	})
	return out
}

// LatestBySubject folds events into one winner per subject.
func LatestBySubject[K comparable, E Positioned](events []E, subject func(E) K) map[K]E {
	latest := make(map[K]E)
	for _, e := range SortByPosition(events) {
		latest[subject(e)] = e
	}
	return latest
}

// PositionedEvent adapts ledger.Event to Positioned.
type PositionedEvent ledger.Event

func (e PositionedEvent) LedgerPosition() ledger.Position { return e.Position }

// PositionedEvents converts raw gateway events for use with the fold.
func PositionedEvents(events []ledger.Event) []PositionedEvent {
	out := make([]PositionedEvent, len(events))
	for i, e := range events {
		out[i] = PositionedEvent(e)
	}
	return out
}
