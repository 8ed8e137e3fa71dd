package insurance_test

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
)

func authEvent(block uint64, tx, log uint, addr common.Address, authorized bool) ledger.Event {
	return ledger.Event{
		Kind:     ledger.EventDoctorAuthorized,
		Position: ledger.Position{Block: block, TxIndex: tx, LogIndex: log},
		Fields:   map[string]any{"doctor": addr, "authorized": authorized},
	}
}

// =============================================================================
// ORDERING
// =============================================================================

func TestRegistry_LaterBlockWinsRegardlessOfArrivalOrder(t *testing.T) {
	// GIVEN: events [(blockN, addr, false), (blockN-1, addr, true)] in that order
	events := []ledger.Event{
		authEvent(50, 0, 0, doctor, false),
		authEvent(49, 0, 0, doctor, true),
	}

	reg, err := insurance.BuildDoctorRegistry(events)
	require.NoError(t, err)

	// THEN: block N is later, so the doctor is NOT authorized
	assert.False(t, reg.IsAuthorized(doctor))
	assert.Equal(t, uint64(50), reg.AsOfBlock)
}

func TestRegistry_RevocationAfterGrant(t *testing.T) {
	events := []ledger.Event{
		authEvent(100, 0, 0, doctor, true),
		authEvent(105, 0, 0, doctor, false),
	}
	reg, err := insurance.BuildDoctorRegistry(events)
	require.NoError(t, err)
	assert.False(t, reg.IsAuthorized(doctor))
	assert.Empty(t, reg.Authorized())
	require.Len(t, reg.All(), 1)
}

func TestRegistry_SameBlockTieBreaksByTxThenLogIndex(t *testing.T) {
	// GIVEN: three toggles in block 10; the one with the highest
	// (txIndex, logIndex) executed last
	events := []ledger.Event{
		authEvent(10, 2, 0, doctor, true),
		authEvent(10, 1, 5, doctor, false),
		authEvent(10, 2, 1, doctor, false),
	}
	reg, err := insurance.BuildDoctorRegistry(events)
	require.NoError(t, err)
	assert.False(t, reg.IsAuthorized(doctor))

	events = []ledger.Event{
		authEvent(10, 2, 1, doctor, true),
		authEvent(10, 1, 5, doctor, false),
	}
	reg, err = insurance.BuildDoctorRegistry(events)
	require.NoError(t, err)
	assert.True(t, reg.IsAuthorized(doctor))
}

func TestRegistry_IndependentSubjects(t *testing.T) {
	events := []ledger.Event{
		authEvent(1, 0, 0, alice, true),
		authEvent(2, 0, 0, bob, true),
		authEvent(3, 0, 0, alice, false),
	}
	reg, err := insurance.BuildDoctorRegistry(events)
	require.NoError(t, err)
	assert.False(t, reg.IsAuthorized(alice))
	assert.True(t, reg.IsAuthorized(bob))
	assert.False(t, reg.IsAuthorized(doctor), "never-seen address is not authorized")

	authorized := reg.Authorized()
	require.Len(t, authorized, 1)
	assert.Equal(t, bob, authorized[0].Doctor)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestRegistry_ReplayIsIdempotent(t *testing.T) {
	var events []ledger.Event
	addrs := []common.Address{alice, bob, doctor}
	for i := 0; i < 60; i++ {
		events = append(events, authEvent(uint64(i/3), uint(i%3), 0, addrs[i%3], i%2 == 0))
	}

	first, err := insurance.BuildDoctorRegistry(events)
	require.NoError(t, err)
	second, err := insurance.BuildDoctorRegistry(events)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	// Arrival order must not matter either.
	shuffled := append([]ledger.Event(nil), events...)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	third, err := insurance.BuildDoctorRegistry(shuffled)
	require.NoError(t, err)
	assert.True(t, first.Equal(third))
}

func TestRegistry_IgnoresOtherEventsAndRejectsMalformed(t *testing.T) {
	other := ledger.Event{Kind: ledger.EventClaimSubmitted, Position: ledger.Position{Block: 9}}
	reg, err := insurance.BuildDoctorRegistry([]ledger.Event{other, authEvent(1, 0, 0, doctor, true)})
	require.NoError(t, err)
	assert.True(t, reg.IsAuthorized(doctor))

	bad := ledger.Event{Kind: ledger.EventDoctorAuthorized, Fields: map[string]any{"doctor": "nope", "authorized": true}}
	_, err = insurance.BuildDoctorRegistry([]ledger.Event{bad})
	assert.ErrorIs(t, err, insurance.ErrDecode)
}

func TestLatestBySubject_DoesNotMutateInput(t *testing.T) {
	events := insurance.PositionedEvents([]ledger.Event{
		authEvent(5, 0, 0, alice, true),
		authEvent(1, 0, 0, alice, false),
	})
	latest := insurance.LatestBySubject(events, func(e insurance.PositionedEvent) common.Address {
		return e.Fields["doctor"].(common.Address)
	})
	assert.Equal(t, uint64(5), latest[alice].Position.Block)
	assert.Equal(t, uint64(5), events[0].Position.Block, "input order preserved")
}
