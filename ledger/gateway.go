/*
Package ledger defines the contract between the engine and the external ledger.

PURPOSE:
  The Gateway is the ONLY component allowed to perform network I/O against
  the ledger. Everything above it (reconstructors, validators, the façade)
  depends on this interface, never on a concrete client.

KEY CONCEPTS:
  - Record:   a raw getter result, addressable by field name or position
  - Event:    a decoded log entry with its (block, txIndex, logIndex) position
  - TxSpec:   a mutating call to submit (method, args, attached value)
  - TxHandle: returned by Submit; resolved by Await into a Receipt
  - Error:    typed failure (transport, revert, not found)

NO RETRIES:
  Ledger transactions are not idempotent. A Gateway never retries a Submit;
  retry policy belongs to the caller, who must deduplicate by intent.

IMPLEMENTATIONS:
  - ledger/eth:    Ethereum JSON-RPC via go-ethereum
  - ledger/memory: in-process simulated contract for tests and dev mode

SEE ALSO:
  - insurance/decode.go: turns Records into typed entities
  - facade/facade.go: the only consumer
*/
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// =============================================================================
// CONTRACT SURFACE
// =============================================================================

// EntityKind names a first-class ledger entity with a public getter.
type EntityKind string

const (
	EntityPolicy EntityKind = "policies"
	EntityClaim  EntityKind = "claims"
	EntityPlan   EntityKind = "insurancePlans"
	EntityDoctor EntityKind = "authorizedDoctors"
)

// Method names a contract function.
type Method string

// Read-only query helpers.
const (
	MethodOwner              Method = "owner"
	MethodPaused             Method = "paused"
	MethodGetUserPolicies    Method = "getUserPolicies"
	MethodGetPolicyClaims    Method = "getPolicyClaims"
	MethodIsPolicyValid      Method = "isPolicyValid"
	MethodGetRemainingCover  Method = "getRemainingCoverage"
	MethodGetTotalPolicies   Method = "getTotalPolicies"
	MethodGetTotalClaims     Method = "getTotalClaims"
	MethodGetContractBalance Method = "getContractBalance"
)

// Mutating entry points.
const (
	MethodPurchasePolicy      Method = "purchasePolicy"
	MethodPayMonthlyPremium   Method = "payMonthlyPremium"
	MethodSubmitClaim         Method = "submitClaim"
	MethodProcessClaim        Method = "processClaim"
	MethodCancelPolicy        Method = "cancelPolicy"
	MethodAuthorizeDoctor     Method = "authorizeDoctorAddress"
	MethodUpdateInsurancePlan Method = "updateInsurancePlan"
	MethodWithdraw            Method = "withdraw"
	MethodPause               Method = "pause"
	MethodUnpause             Method = "unpause"
)

// EventKind names a contract event.
type EventKind string

const (
	EventPolicyPurchased  EventKind = "PolicyPurchased"
	EventPremiumPaid      EventKind = "PremiumPaid"
	EventClaimSubmitted   EventKind = "ClaimSubmitted"
	EventClaimProcessed   EventKind = "ClaimProcessed"
	EventDoctorAuthorized EventKind = "DoctorAuthorized"
	EventPolicyCancelled  EventKind = "PolicyCancelled"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Record is a raw ledger tuple. Depending on the client and ABI version the
// fields may be available by name, by position, or both.
type Record struct {
	Named      map[string]any
	Positional []any
}

// Field returns the named field if present, else the positional one.
func (r Record) Field(name string, pos int) (any, bool) {
	if r.Named != nil {
		if v, ok := r.Named[name]; ok {
			return v, true
		}
	}
	if pos >= 0 && pos < len(r.Positional) {
		return r.Positional[pos], true
	}
	return nil, false
}

// Position orders events the way the ledger executed them.
type Position struct {
	Block    uint64
	TxIndex  uint
	LogIndex uint
}

// Less reports whether p executed strictly before q.
func (p Position) Less(q Position) bool {
	if p.Block != q.Block {
		return p.Block < q.Block
	}
	if p.TxIndex != q.TxIndex {
		return p.TxIndex < q.TxIndex
	}
	return p.LogIndex < q.LogIndex
}

// Event is a decoded log entry. Fields holds both indexed and data arguments
// by their ABI names.
type Event struct {
	Kind     EventKind
	Position Position
	TxHash   common.Hash
	Fields   map[string]any
}

// TxSpec describes a mutating call.
type TxSpec struct {
	Method Method
	Args   []any
	Value  *big.Int // attached payment, nil for none
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash   common.Hash
	Method Method
	From   common.Address
}

// Receipt is a confirmed, successful transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Events      []Event
}

// Head is the latest block as seen by the gateway. Time is the ledger clock.
type Head struct {
	Number uint64
	Time   time.Time
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway is typed access to the ledger, scoped to one connected account.
type Gateway interface {
	// Sender is the account that signs submitted transactions.
	Sender() common.Address

	// ReadEntity fetches one entity by key. Returns an Error of kind
	// KindNotFound when the ledger holds no such entity.
	ReadEntity(ctx context.Context, kind EntityKind, key any) (Record, error)

	// Call invokes a read-only query helper.
	Call(ctx context.Context, method Method, args ...any) (Record, error)

	// ReadEvents returns events in [fromBlock, toBlock]. A nil toBlock
	// means "latest". Order is whatever the transport returns.
	ReadEvents(ctx context.Context, kind EventKind, fromBlock uint64, toBlock *uint64) ([]Event, error)

	// Submit signs and broadcasts a transaction. It never retries.
	Submit(ctx context.Context, spec TxSpec) (TxHandle, error)

	// Await blocks until the transaction is mined. A reverted transaction
	// yields an Error of kind KindRevert. No timeout is imposed here.
	Await(ctx context.Context, h TxHandle) (Receipt, error)

	// CurrentBalance returns the native balance of addr.
	CurrentBalance(ctx context.Context, addr common.Address) (*big.Int, error)

	// Head returns the latest block number and timestamp.
	Head(ctx context.Context) (Head, error)

	// ContractAddress is the address of the insurance contract.
	ContractAddress() common.Address
}
