package insurance

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/ledger"
)

// =============================================================================
// DOCTOR AUTHORIZATION REGISTRY - materialized view over DoctorAuthorized
// =============================================================================

// DoctorRegistry is an immutable snapshot. A refresh builds a new registry;
// an existing one is never modified, so readers never see a torn view.
//
// INVARIANT: IsAuthorized(a) equals the flag of the last DoctorAuthorized
// event the ledger executed for a.
type DoctorRegistry struct {
	entries map[common.Address]DoctorAuthorization
	// AsOfBlock is the highest block that contributed an event.
	AsOfBlock uint64
}

// BuildDoctorRegistry replays DoctorAuthorized events. Events of other kinds
// are ignored. A malformed event aborts the build with a *DecodeError: an
// authorization view that silently drops a revocation is worse than none.
func BuildDoctorRegistry(events []ledger.Event) (*DoctorRegistry, error) {
	type authEvent struct {
		PositionedEvent
		auth DoctorAuthorization
	}

	decoded := make([]authEvent, 0, len(events))
	for _, e := range events {
		if e.Kind != ledger.EventDoctorAuthorized {
			continue
		}
		a, err := DecodeDoctorAuthorized(e)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, authEvent{PositionedEvent: PositionedEvent(e), auth: a})
	}

	latest := LatestBySubject(decoded, func(e authEvent) common.Address { return e.auth.Doctor })

	reg := &DoctorRegistry{entries: make(map[common.Address]DoctorAuthorization, len(latest))}
	for addr, e := range latest {
		reg.entries[addr] = e.auth
		if e.auth.Block > reg.AsOfBlock {
			reg.AsOfBlock = e.auth.Block
		}
	}
	return reg, nil
}

// EmptyRegistry has no authorized doctors.
func EmptyRegistry() *DoctorRegistry {
	return &DoctorRegistry{entries: map[common.Address]DoctorAuthorization{}}
}

// IsAuthorized reports the materialized flag for addr.
func (r *DoctorRegistry) IsAuthorized(addr common.Address) bool {
	if r == nil {
		return false
	}
	return r.entries[addr].Authorized
}

// Lookup returns the winning row for addr, if any event was seen.
func (r *DoctorRegistry) Lookup(addr common.Address) (DoctorAuthorization, bool) {
	if r == nil {
		return DoctorAuthorization{}, false
	}
	e, ok := r.entries[addr]
	return e, ok
}

// All returns every address ever seen, sorted by address.
func (r *DoctorRegistry) All() []DoctorAuthorization {
	if r == nil {
		return nil
	}
	out := make([]DoctorAuthorization, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Doctor[:], out[j].Doctor[:]) < 0 })
	return out
}

// Authorized returns only currently authorized doctors, sorted by address.
func (r *DoctorRegistry) Authorized() []DoctorAuthorization {
	var out []DoctorAuthorization
	for _, e := range r.All() {
		if e.Authorized {
			out = append(out, e)
		}
	}
	return out
}

// Equal reports whether two registries materialize the same view.
func (r *DoctorRegistry) Equal(other *DoctorRegistry) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.entries) != len(other.entries) || r.AsOfBlock != other.AsOfBlock {
		return false
	}
	for k, v := range r.entries {
		if other.entries[k] != v {
			return false
		}
	}
	return true
}
