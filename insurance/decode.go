/*
decode.go - Entity Reconstructors

PURPOSE:
  Pure functions that turn raw ledger records into typed entities. Each
  entity kind has exactly one decoder, and each decoder reads every field
  by name first and by position second. Shape drift across ledger upgrades
  is handled here and nowhere else.

FAILURE:
  Malformed input yields *DecodeError. Decoders never panic and never
  substitute defaults; PlaceholderPlan is the only documented fallback and
  the caller decides when to use it (read paths only).

SEE ALSO:
  - ledger/gateway.go: Record
  - facade/reads.go:   fallback policy for read paths
*/
package insurance

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/ledger"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// FIELD LAYOUTS (name, position) per getter
// =============================================================================

type field struct {
	name string
	pos  int
}

var policyFields = struct {
	id, holder, plan, payment, coverage, deductible, premium, start, end, lastPaid, status, meta, totalPaid, claimsUsed field
}{
	field{"policyId", 0}, field{"policyholder", 1}, field{"planType", 2}, field{"paymentType", 3},
	field{"coverageAmount", 4}, field{"deductible", 5}, field{"premium", 6}, field{"startDate", 7},
	field{"endDate", 8}, field{"lastPaymentDate", 9}, field{"status", 10}, field{"ipfsHash", 11},
	field{"totalPaid", 12}, field{"claimsUsed", 13},
}

var claimFields = struct {
	id, policy, claimant, amount, approved, status, submitted, processed, docs, description field
}{
	field{"claimId", 0}, field{"policyId", 1}, field{"claimant", 2}, field{"claimAmount", 3},
	field{"approvedAmount", 4}, field{"status", 5}, field{"submissionDate", 6},
	field{"processedDate", 7}, field{"ipfsDocuments", 8}, field{"description", 9},
}

var planFields = struct {
	kind, oneTime, monthly, coverage, deductible, meta, active field
}{
	field{"planType", 0}, field{"oneTimePrice", 1}, field{"monthlyPrice", 2},
	field{"coverageAmount", 3}, field{"deductible", 4}, field{"ipfsMetadata", 5}, field{"isActive", 6},
}

// =============================================================================
// DECODERS
// =============================================================================

// DecodePolicy reconstructs a Policy from a policies(id) record.
func DecodePolicy(r ledger.Record) (Policy, error) {
	d := decoder{entity: "policy", rec: r}
	p := Policy{
		ID:              PolicyID(d.uint64(policyFields.id)),
		Policyholder:    d.address(policyFields.holder),
		PlanKind:        PlanKind(d.uint8(policyFields.plan)),
		PaymentKind:     PaymentKind(d.uint8(policyFields.payment)),
		CoverageAmount:  d.amount(policyFields.coverage),
		Deductible:      d.amount(policyFields.deductible),
		Premium:         d.amount(policyFields.premium),
		StartDate:       d.time(policyFields.start),
		EndDate:         d.time(policyFields.end),
		LastPaymentDate: d.time(policyFields.lastPaid),
		Status:          PolicyStatus(d.uint8(policyFields.status)),
		MetadataRef:     d.string(policyFields.meta),
		TotalPaid:       d.amount(policyFields.totalPaid),
		ClaimsUsed:      d.amount(policyFields.claimsUsed),
	}
	if d.err != nil {
		return Policy{}, d.err
	}
	switch {
	case !p.PlanKind.Valid():
		return Policy{}, &DecodeError{Entity: "policy", Field: policyFields.plan.name, Reason: p.PlanKind.String()}
	case !p.PaymentKind.Valid():
		return Policy{}, &DecodeError{Entity: "policy", Field: policyFields.payment.name, Reason: p.PaymentKind.String()}
	case !p.Status.Valid():
		return Policy{}, &DecodeError{Entity: "policy", Field: policyFields.status.name, Reason: p.Status.String()}
	}
	return p, nil
}

// DecodeClaim reconstructs a Claim from a claims(id) record.
func DecodeClaim(r ledger.Record) (Claim, error) {
	d := decoder{entity: "claim", rec: r}
	c := Claim{
		ID:             ClaimID(d.uint64(claimFields.id)),
		PolicyID:       PolicyID(d.uint64(claimFields.policy)),
		Claimant:       d.address(claimFields.claimant),
		ClaimAmount:    d.amount(claimFields.amount),
		ApprovedAmount: d.amount(claimFields.approved),
		Status:         ClaimStatus(d.uint8(claimFields.status)),
		SubmissionDate: d.time(claimFields.submitted),
		ProcessedDate:  d.time(claimFields.processed),
		DocumentsRef:   d.string(claimFields.docs),
		Description:    d.string(claimFields.description),
	}
	if d.err != nil {
		return Claim{}, d.err
	}
	if !c.Status.Valid() {
		return Claim{}, &DecodeError{Entity: "claim", Field: claimFields.status.name, Reason: c.Status.String()}
	}
	return c, nil
}

// DecodePlan reconstructs an InsurancePlan from an insurancePlans(kind) record.
func DecodePlan(r ledger.Record) (InsurancePlan, error) {
	d := decoder{entity: "plan", rec: r}
	p := InsurancePlan{
		Kind:           PlanKind(d.uint8(planFields.kind)),
		OneTimePrice:   d.amount(planFields.oneTime),
		MonthlyPrice:   d.amount(planFields.monthly),
		CoverageAmount: d.amount(planFields.coverage),
		Deductible:     d.amount(planFields.deductible),
		MetadataRef:    d.string(planFields.meta),
		IsActive:       d.bool(planFields.active),
	}
	if d.err != nil {
		return InsurancePlan{}, d.err
	}
	if !p.Kind.Valid() {
		return InsurancePlan{}, &DecodeError{Entity: "plan", Field: planFields.kind.name, Reason: p.Kind.String()}
	}
	return p, nil
}

// DecodeDoctorAuthorized reads a DoctorAuthorized event.
func DecodeDoctorAuthorized(e ledger.Event) (DoctorAuthorization, error) {
	d := decoder{entity: "DoctorAuthorized", rec: ledger.Record{Named: e.Fields}}
	a := DoctorAuthorization{
		Doctor:     d.address(field{"doctor", -1}),
		Authorized: d.bool(field{"authorized", -1}),
		Block:      e.Position.Block,
	}
	return a, d.err
}

// SubmittedClaim is the payload of a ClaimSubmitted event.
type SubmittedClaim struct {
	ClaimID  ClaimID
	PolicyID PolicyID
	Claimant common.Address
	Amount   money.Amount
}

// DecodeClaimSubmitted reads a ClaimSubmitted event.
func DecodeClaimSubmitted(e ledger.Event) (SubmittedClaim, error) {
	d := decoder{entity: "ClaimSubmitted", rec: ledger.Record{Named: e.Fields}}
	s := SubmittedClaim{
		ClaimID:  ClaimID(d.uint64(field{"claimId", -1})),
		PolicyID: PolicyID(d.uint64(field{"policyId", -1})),
		Claimant: d.address(field{"claimant", -1}),
		Amount:   d.amount(field{"amount", -1}),
	}
	return s, d.err
}

// DecodePolicyPurchased returns the policy id carried by a PolicyPurchased event.
func DecodePolicyPurchased(e ledger.Event) (PolicyID, error) {
	d := decoder{entity: "PolicyPurchased", rec: ledger.Record{Named: e.Fields}}
	id := PolicyID(d.uint64(field{"policyId", -1}))
	return id, d.err
}

// PlaceholderPlan is the display default substituted when a catalog read
// fails to decode. It is inactive so it can never be purchased.
func PlaceholderPlan(kind PlanKind) InsurancePlan {
	return InsurancePlan{Kind: kind, IsActive: false, Placeholder: true}
}

// =============================================================================
// DECODER - first error wins, later reads become no-ops
// =============================================================================

type decoder struct {
	entity string
	rec    ledger.Record
	err    error
}

func (d *decoder) fail(f field, format string, args ...any) {
	if d.err == nil {
		d.err = &DecodeError{Entity: d.entity, Field: f.name, Reason: fmt.Sprintf(format, args...)}
	}
}

func (d *decoder) raw(f field) (any, bool) {
	if d.err != nil {
		return nil, false
	}
	v, ok := d.rec.Field(f.name, f.pos)
	if !ok || v == nil {
		d.fail(f, "missing")
		return nil, false
	}
	return v, true
}

func (d *decoder) bigInt(f field) *big.Int {
	v, ok := d.raw(f)
	if !ok {
		return nil
	}
	var out *big.Int
	switch x := v.(type) {
	case *big.Int:
		if x != nil {
			out = new(big.Int).Set(x)
		}
	case big.Int:
		out = new(big.Int).Set(&x)
	case uint8:
		out = new(big.Int).SetUint64(uint64(x))
	case uint16:
		out = new(big.Int).SetUint64(uint64(x))
	case uint32:
		out = new(big.Int).SetUint64(uint64(x))
	case uint64:
		out = new(big.Int).SetUint64(x)
	case uint:
		out = new(big.Int).SetUint64(uint64(x))
	case int:
		out = big.NewInt(int64(x))
	case int64:
		out = big.NewInt(x)
	case string:
		s := strings.TrimSpace(x)
		var ok bool
		if strings.HasPrefix(s, "0x") {
			out, ok = new(big.Int).SetString(s[2:], 16)
		} else {
			out, ok = new(big.Int).SetString(s, 10)
		}
		if !ok {
			out = nil
		}
	}
	if out == nil {
		d.fail(f, "not an integer: %T", v)
		return nil
	}
	if out.Sign() < 0 {
		d.fail(f, "negative value %s", out)
		return nil
	}
	return out
}

func (d *decoder) uint64(f field) uint64 {
	b := d.bigInt(f)
	if b == nil {
		return 0
	}
	if !b.IsUint64() {
		d.fail(f, "overflows uint64")
		return 0
	}
	return b.Uint64()
}

func (d *decoder) uint8(f field) uint8 {
	n := d.uint64(f)
	if n > 255 {
		d.fail(f, "overflows uint8")
		return 0
	}
	return uint8(n)
}

func (d *decoder) amount(f field) money.Amount {
	b := d.bigInt(f)
	if b == nil {
		return money.Zero()
	}
	return money.FromBig(b)
}

// time reads unix seconds; zero stays the zero time.
func (d *decoder) time(f field) time.Time {
	n := d.uint64(f)
	if n == 0 {
		return time.Time{}
	}
	if n > 1<<40 {
		d.fail(f, "timestamp out of range")
		return time.Time{}
	}
	return time.Unix(int64(n), 0).UTC()
}

func (d *decoder) string(f field) string {
	v, ok := d.raw(f)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(f, "not a string: %T", v)
	}
	return s
}

func (d *decoder) bool(f field) bool {
	v, ok := d.raw(f)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		d.fail(f, "not a bool: %T", v)
	}
	return b
}

func (d *decoder) address(f field) common.Address {
	v, ok := d.raw(f)
	if !ok {
		return common.Address{}
	}
	switch x := v.(type) {
	case common.Address:
		return x
	case *common.Address:
		if x != nil {
			return *x
		}
	case string:
		if common.IsHexAddress(x) {
			return common.HexToAddress(x)
		}
	}
	d.fail(f, "not an address: %v", v)
	return common.Address{}
}
