/*
Package insurance is the domain core of the reconciliation engine.

PURPOSE:
  Typed Policies, Claims and Insurance Plans, the pure functions that
  reconstruct them from raw ledger records, the event-log replayer that
  materializes the doctor registry, and the lifecycle guards that run
  before any transaction is submitted.

KEY CONCEPTS IN THIS FILE (types.go):
  - InsurancePlan: catalog entry owned by the ledger owner
  - Policy:        coverage bought by one policyholder
  - Claim:         reimbursement request against a policy
  - enums:         PlanKind, PaymentKind, PolicyStatus, ClaimStatus

DESIGN PRINCIPLES:
  1. The ledger is the source of truth; these types are read models
  2. Amounts are money.Amount (integer ledger units), never floats
  3. Nothing in this package performs I/O

SEE ALSO:
  - decode.go:    raw record -> typed entity
  - lifecycle.go: state-machine guards
  - replay.go:    last-write-wins event fold
  - preflight.go: payout solvency check
*/
package insurance

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// ENUMS (uint8 on the wire)
// =============================================================================

type PlanKind uint8

const (
	PlanBasic PlanKind = iota
	PlanPremium
	PlanPlatinum
)

// AllPlanKinds lists catalog entries in ledger order.
var AllPlanKinds = []PlanKind{PlanBasic, PlanPremium, PlanPlatinum}

func (k PlanKind) String() string {
	switch k {
	case PlanBasic:
		return "Basic"
	case PlanPremium:
		return "Premium"
	case PlanPlatinum:
		return "Platinum"
	default:
		return fmt.Sprintf("PlanKind(%d)", uint8(k))
	}
}

func (k PlanKind) Valid() bool { return k <= PlanPlatinum }

type PaymentKind uint8

const (
	PaymentOneTime PaymentKind = iota
	PaymentMonthly
)

func (k PaymentKind) String() string {
	switch k {
	case PaymentOneTime:
		return "OneTime"
	case PaymentMonthly:
		return "Monthly"
	default:
		return fmt.Sprintf("PaymentKind(%d)", uint8(k))
	}
}

func (k PaymentKind) Valid() bool { return k <= PaymentMonthly }

type PolicyStatus uint8

const (
	PolicyActive PolicyStatus = iota
	PolicyExpired
	PolicyCancelled
	PolicySuspended
)

func (s PolicyStatus) String() string {
	switch s {
	case PolicyActive:
		return "Active"
	case PolicyExpired:
		return "Expired"
	case PolicyCancelled:
		return "Cancelled"
	case PolicySuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("PolicyStatus(%d)", uint8(s))
	}
}

func (s PolicyStatus) Valid() bool { return s <= PolicySuspended }

type ClaimStatus uint8

const (
	ClaimPending ClaimStatus = iota
	ClaimApproved
	ClaimRejected
	ClaimPaid
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimPending:
		return "Pending"
	case ClaimApproved:
		return "Approved"
	case ClaimRejected:
		return "Rejected"
	case ClaimPaid:
		return "Paid"
	default:
		return fmt.Sprintf("ClaimStatus(%d)", uint8(s))
	}
}

func (s ClaimStatus) Valid() bool { return s <= ClaimPaid }

// ParseClaimStatus accepts the String() form, case-insensitively.
func ParseClaimStatus(s string) (ClaimStatus, bool) {
	for st := ClaimPending; st <= ClaimPaid; st++ {
		if strings.EqualFold(st.String(), s) {
			return st, true
		}
	}
	return 0, false
}

// ParsePlanKind accepts the String() form, case-insensitively.
func ParsePlanKind(s string) (PlanKind, bool) {
	for _, k := range AllPlanKinds {
		if strings.EqualFold(k.String(), s) {
			return k, true
		}
	}
	return 0, false
}

// ParsePaymentKind accepts the String() form, case-insensitively.
func ParsePaymentKind(s string) (PaymentKind, bool) {
	for k := PaymentOneTime; k <= PaymentMonthly; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, true
		}
	}
	return 0, false
}

// =============================================================================
// ENTITIES
// =============================================================================

// PolicyID and ClaimID are ledger-assigned and start at 1. Zero means absent.
type PolicyID uint64
type ClaimID uint64

func (id PolicyID) Big() *big.Int { return new(big.Int).SetUint64(uint64(id)) }
func (id ClaimID) Big() *big.Int  { return new(big.Int).SetUint64(uint64(id)) }

// InsurancePlan is a catalog entry. Plans are never deleted, only deactivated.
type InsurancePlan struct {
	Kind           PlanKind
	OneTimePrice   money.Amount
	MonthlyPrice   money.Amount
	CoverageAmount money.Amount
	Deductible     money.Amount
	MetadataRef    string
	IsActive       bool

	// Placeholder is set when the plan could not be decoded and the
	// display defaults were substituted. Never used for transactions.
	Placeholder bool
}

// PriceFor returns the premium charged for the given payment kind.
func (p InsurancePlan) PriceFor(kind PaymentKind) money.Amount {
	if kind == PaymentMonthly {
		return p.MonthlyPrice
	}
	return p.OneTimePrice
}

// Policy is owned by exactly one policyholder.
//
// INVARIANTS:
//   - ClaimsUsed <= CoverageAmount
//   - OneTime policies have a fixed EndDate and are never re-paid
type Policy struct {
	ID              PolicyID
	Policyholder    common.Address
	PlanKind        PlanKind
	PaymentKind     PaymentKind
	CoverageAmount  money.Amount
	Deductible      money.Amount
	Premium         money.Amount
	StartDate       time.Time
	EndDate         time.Time // exclusive: from this moment the policy is elapsed
	LastPaymentDate time.Time
	Status          PolicyStatus
	MetadataRef     string
	TotalPaid       money.Amount
	ClaimsUsed      money.Amount
}

// RemainingCoverage is CoverageAmount - ClaimsUsed, floored at zero.
func (p Policy) RemainingCoverage() money.Amount {
	return money.Max(money.Zero(), p.CoverageAmount.Sub(p.ClaimsUsed))
}

// Claim is owned by the policyholder of the referenced policy.
//
// INVARIANTS:
//   - ApprovedAmount <= ClaimAmount
//   - Status only advances Pending -> {Approved, Rejected}, Approved -> Paid
type Claim struct {
	ID             ClaimID
	PolicyID       PolicyID
	Claimant       common.Address
	ClaimAmount    money.Amount
	ApprovedAmount money.Amount
	Status         ClaimStatus
	SubmissionDate time.Time
	ProcessedDate  time.Time
	DocumentsRef   string
	Description    string
}

// DoctorAuthorization is one row of the materialized doctor registry.
type DoctorAuthorization struct {
	Doctor     common.Address
	Authorized bool
	Block      uint64
}

// ContractStats summarizes the contract for dashboards.
type ContractStats struct {
	TotalPolicies uint64
	TotalClaims   uint64
	Balance       money.Amount
	Owner         common.Address
	Paused        bool
}
