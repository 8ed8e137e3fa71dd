/*
reads.go - Read use cases

FAILURE POLICY:
  Reads return (value, error). On failure the value is the documented
  default: an empty slice, a zero entity, or for the plan catalog a
  placeholder plan per slot that failed to decode. Decode fallbacks are
  logged at WARN so they are never silent.

FAN-OUT:
  Multi-entity reads (a user's policies, a policy's claims, claim
  discovery) fetch entities concurrently with errgroup.
*/
package facade

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
	"github.com/warp/claims-engine/money"
)

// fanOutLimit bounds concurrent entity reads per request.
const fanOutLimit = 8

// =============================================================================
// CATALOG
// =============================================================================

// FetchPlans reads every catalog slot. A slot that fails to decode is
// replaced by insurance.PlaceholderPlan; a transport failure fails the read.
func (f *Facade) FetchPlans(ctx context.Context) ([]insurance.InsurancePlan, error) {
	plans := make([]insurance.InsurancePlan, len(insurance.AllPlanKinds))
	for i, kind := range insurance.AllPlanKinds {
		plans[i] = insurance.PlaceholderPlan(kind)
	}

	for i, kind := range insurance.AllPlanKinds {
		rec, err := f.gw.ReadEntity(ctx, ledger.EntityPlan, uint8(kind))
		if err != nil {
			err = Normalize("insurancePlans", err)
			if errors.Is(err, insurance.ErrTransport) {
				return plans, err
			}
			f.logger.Warn("plan read failed, using placeholder", "plan", kind, "error", err)
			continue
		}
		plan, err := insurance.DecodePlan(rec)
		if err != nil {
			var derr *insurance.DecodeError
			if errors.As(err, &derr) {
				f.logger.Warn("plan decode failed, using placeholder",
					"plan", kind, "entity", derr.Entity, "field", derr.Field, "reason", derr.Reason)
			} else {
				f.logger.Warn("plan decode failed, using placeholder", "plan", kind, "error", err)
			}
			continue
		}
		plans[i] = plan
	}
	return plans, nil
}

// FetchPlan reads one catalog slot for a write path: no placeholder.
func (f *Facade) FetchPlan(ctx context.Context, kind insurance.PlanKind) (insurance.InsurancePlan, error) {
	if !kind.Valid() {
		return insurance.InsurancePlan{}, insurance.Invalid(insurance.CodeInvalidPlan, "unknown plan %s", kind)
	}
	rec, err := f.gw.ReadEntity(ctx, ledger.EntityPlan, uint8(kind))
	if err != nil {
		return insurance.InsurancePlan{}, Normalize("insurancePlans", err)
	}
	return insurance.DecodePlan(rec)
}

// =============================================================================
// POLICIES
// =============================================================================

// FetchPolicy reads one policy.
func (f *Facade) FetchPolicy(ctx context.Context, id insurance.PolicyID) (insurance.Policy, error) {
	rec, err := f.gw.ReadEntity(ctx, ledger.EntityPolicy, id.Big())
	if err != nil {
		return insurance.Policy{}, Normalize("policies", err)
	}
	p, err := insurance.DecodePolicy(rec)
	if err != nil {
		f.logger.Warn("policy decode failed", "policy", id, "error", err)
		return insurance.Policy{}, err
	}
	return p, nil
}

// FetchUserPolicies reads every policy owned by holder.
func (f *Facade) FetchUserPolicies(ctx context.Context, holder common.Address) ([]insurance.Policy, error) {
	rec, err := f.gw.Call(ctx, ledger.MethodGetUserPolicies, holder)
	if err != nil {
		return []insurance.Policy{}, Normalize(string(ledger.MethodGetUserPolicies), err)
	}
	ids, err := idList(rec, "getUserPolicies")
	if err != nil {
		return []insurance.Policy{}, err
	}

	policies := make([]insurance.Policy, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, id := range ids {
		g.Go(func() error {
			p, err := f.FetchPolicy(gctx, insurance.PolicyID(id))
			if err != nil {
				return err
			}
			policies[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return []insurance.Policy{}, err
	}
	return policies, nil
}

// RemainingCoverage asks the ledger for coverage left on a policy.
func (f *Facade) RemainingCoverage(ctx context.Context, id insurance.PolicyID) (money.Amount, error) {
	rec, err := f.gw.Call(ctx, ledger.MethodGetRemainingCover, id.Big())
	if err != nil {
		return money.Zero(), Normalize(string(ledger.MethodGetRemainingCover), err)
	}
	v, err := scalarBig(rec, "getRemainingCoverage")
	if err != nil {
		return money.Zero(), err
	}
	return money.FromBig(v), nil
}

// IsPolicyValid asks the ledger whether a policy is active and unexpired.
func (f *Facade) IsPolicyValid(ctx context.Context, id insurance.PolicyID) (bool, error) {
	rec, err := f.gw.Call(ctx, ledger.MethodIsPolicyValid, id.Big())
	if err != nil {
		return false, Normalize(string(ledger.MethodIsPolicyValid), err)
	}
	return scalarBool(rec, "isPolicyValid")
}

// =============================================================================
// CLAIMS
// =============================================================================

// FetchClaim reads one claim.
func (f *Facade) FetchClaim(ctx context.Context, id insurance.ClaimID) (insurance.Claim, error) {
	rec, err := f.gw.ReadEntity(ctx, ledger.EntityClaim, id.Big())
	if err != nil {
		return insurance.Claim{}, Normalize("claims", err)
	}
	c, err := insurance.DecodeClaim(rec)
	if err != nil {
		f.logger.Warn("claim decode failed", "claim", id, "error", err)
		return insurance.Claim{}, err
	}
	return c, nil
}

// FetchPolicyClaims reads every claim filed against a policy.
func (f *Facade) FetchPolicyClaims(ctx context.Context, policyID insurance.PolicyID) ([]insurance.Claim, error) {
	rec, err := f.gw.Call(ctx, ledger.MethodGetPolicyClaims, policyID.Big())
	if err != nil {
		return []insurance.Claim{}, Normalize(string(ledger.MethodGetPolicyClaims), err)
	}
	ids, err := idList(rec, "getPolicyClaims")
	if err != nil {
		return []insurance.Claim{}, err
	}
	claimIDs := make([]insurance.ClaimID, len(ids))
	for i, id := range ids {
		claimIDs[i] = insurance.ClaimID(id)
	}
	return f.fetchClaims(ctx, claimIDs)
}

func (f *Facade) fetchClaims(ctx context.Context, ids []insurance.ClaimID) ([]insurance.Claim, error) {
	claims := make([]insurance.Claim, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, id := range ids {
		g.Go(func() error {
			c, err := f.FetchClaim(gctx, id)
			if err != nil {
				return err
			}
			claims[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return []insurance.Claim{}, err
	}
	return claims, nil
}

// ClaimFilter narrows FetchClaimsWithEvents. Nil fields match everything.
type ClaimFilter struct {
	Status   *insurance.ClaimStatus
	Claimant *common.Address
	PolicyID *insurance.PolicyID
}

func (cf ClaimFilter) matches(c insurance.Claim) bool {
	if cf.Status != nil && c.Status != *cf.Status {
		return false
	}
	if cf.Claimant != nil && c.Claimant != *cf.Claimant {
		return false
	}
	if cf.PolicyID != nil && c.PolicyID != *cf.PolicyID {
		return false
	}
	return true
}

// FetchClaimsWithEvents discovers claims by replaying ClaimSubmitted
// events, then reads each claim's current state from its getter. Results
// are ordered by claim id.
func (f *Facade) FetchClaimsWithEvents(ctx context.Context, filter ClaimFilter) ([]insurance.Claim, error) {
	events, err := f.gw.ReadEvents(ctx, ledger.EventClaimSubmitted, f.fromBlock, nil)
	if err != nil {
		return []insurance.Claim{}, Normalize(string(ledger.EventClaimSubmitted), err)
	}

	type submitted struct {
		insurance.PositionedEvent
		claim insurance.SubmittedClaim
	}
	decoded := make([]submitted, 0, len(events))
	for _, e := range events {
		sc, err := insurance.DecodeClaimSubmitted(e)
		if err != nil {
			f.logger.Warn("skipping malformed ClaimSubmitted event", "tx", e.TxHash.Hex(), "error", err)
			continue
		}
		decoded = append(decoded, submitted{PositionedEvent: insurance.PositionedEvent(e), claim: sc})
	}
	latest := insurance.LatestBySubject(decoded, func(e submitted) insurance.ClaimID { return e.claim.ClaimID })

	ids := make([]insurance.ClaimID, 0, len(latest))
	for id, e := range latest {
		// Event payload filters apply before any getter call.
		if filter.Claimant != nil && e.claim.Claimant != *filter.Claimant {
			continue
		}
		if filter.PolicyID != nil && e.claim.PolicyID != *filter.PolicyID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	claims, err := f.fetchClaims(ctx, ids)
	if err != nil {
		return []insurance.Claim{}, err
	}
	out := claims[:0]
	for _, c := range claims {
		if filter.matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// DOCTORS
// =============================================================================

// FetchAuthorizedDoctors replays the registry and lists authorized doctors.
func (f *Facade) FetchAuthorizedDoctors(ctx context.Context) ([]insurance.DoctorAuthorization, error) {
	reg, err := f.RefreshRegistry(ctx)
	if err != nil {
		return []insurance.DoctorAuthorization{}, err
	}
	return reg.Authorized(), nil
}

// IsAuthorizedDoctor answers from a freshly replayed registry.
func (f *Facade) IsAuthorizedDoctor(ctx context.Context, addr common.Address) (bool, error) {
	reg, err := f.RefreshRegistry(ctx)
	if err != nil {
		return false, err
	}
	return reg.IsAuthorized(addr), nil
}

// =============================================================================
// CONTRACT
// =============================================================================

// Owner reads the contract owner.
func (f *Facade) Owner(ctx context.Context) (common.Address, error) {
	rec, err := f.gw.Call(ctx, ledger.MethodOwner)
	if err != nil {
		return common.Address{}, Normalize(string(ledger.MethodOwner), err)
	}
	return scalarAddress(rec, "owner")
}

// IsOwner reports whether addr owns the contract.
func (f *Facade) IsOwner(ctx context.Context, addr common.Address) (bool, error) {
	owner, err := f.Owner(ctx)
	if err != nil {
		return false, err
	}
	return owner == addr, nil
}

// Paused reads the pause flag.
func (f *Facade) Paused(ctx context.Context) (bool, error) {
	rec, err := f.gw.Call(ctx, ledger.MethodPaused)
	if err != nil {
		return false, Normalize(string(ledger.MethodPaused), err)
	}
	return scalarBool(rec, "paused")
}

// ContractBalance reads the contract's native balance.
func (f *Facade) ContractBalance(ctx context.Context) (money.Amount, error) {
	b, err := f.gw.CurrentBalance(ctx, f.gw.ContractAddress())
	if err != nil {
		return money.Zero(), Normalize("balance", err)
	}
	return money.FromBig(b), nil
}

// Stats reads contract totals concurrently.
func (f *Facade) Stats(ctx context.Context) (insurance.ContractStats, error) {
	var s insurance.ContractStats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := f.callUint(gctx, ledger.MethodGetTotalPolicies)
		s.TotalPolicies = n
		return err
	})
	g.Go(func() error {
		n, err := f.callUint(gctx, ledger.MethodGetTotalClaims)
		s.TotalClaims = n
		return err
	})
	g.Go(func() error {
		b, err := f.ContractBalance(gctx)
		s.Balance = b
		return err
	})
	g.Go(func() error {
		o, err := f.Owner(gctx)
		s.Owner = o
		return err
	})
	g.Go(func() error {
		p, err := f.Paused(gctx)
		s.Paused = p
		return err
	})

	if err := g.Wait(); err != nil {
		return insurance.ContractStats{Balance: money.Zero()}, err
	}
	return s, nil
}

func (f *Facade) callUint(ctx context.Context, m ledger.Method) (uint64, error) {
	rec, err := f.gw.Call(ctx, m)
	if err != nil {
		return 0, Normalize(string(m), err)
	}
	v, err := scalarBig(rec, string(m))
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, &insurance.DecodeError{Entity: string(m), Field: "0", Reason: "overflows uint64"}
	}
	return v.Uint64(), nil
}

// =============================================================================
// SCALAR DECODING for single-value query helpers
// =============================================================================

func scalar(rec ledger.Record, entity string) (any, error) {
	v, ok := rec.Field("", 0)
	if !ok || v == nil {
		return nil, &insurance.DecodeError{Entity: entity, Field: "0", Reason: "missing"}
	}
	return v, nil
}

func scalarBig(rec ledger.Record, entity string) (*big.Int, error) {
	v, err := scalar(rec, entity)
	if err != nil {
		return nil, err
	}
	b, ok := v.(*big.Int)
	if !ok || b == nil || b.Sign() < 0 {
		return nil, &insurance.DecodeError{Entity: entity, Field: "0", Reason: fmt.Sprintf("not a uint256: %T", v)}
	}
	return b, nil
}

func scalarBool(rec ledger.Record, entity string) (bool, error) {
	v, err := scalar(rec, entity)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &insurance.DecodeError{Entity: entity, Field: "0", Reason: fmt.Sprintf("not a bool: %T", v)}
	}
	return b, nil
}

func scalarAddress(rec ledger.Record, entity string) (common.Address, error) {
	v, err := scalar(rec, entity)
	if err != nil {
		return common.Address{}, err
	}
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, &insurance.DecodeError{Entity: entity, Field: "0", Reason: fmt.Sprintf("not an address: %T", v)}
	}
	return a, nil
}

func idList(rec ledger.Record, entity string) ([]uint64, error) {
	v, err := scalar(rec, entity)
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]*big.Int)
	if !ok {
		return nil, &insurance.DecodeError{Entity: entity, Field: "0", Reason: fmt.Sprintf("not a uint256[]: %T", v)}
	}
	ids := make([]uint64, 0, len(raw))
	for _, b := range raw {
		if b == nil || b.Sign() <= 0 || !b.IsUint64() {
			return nil, &insurance.DecodeError{Entity: entity, Field: "0", Reason: "invalid id"}
		}
		ids = append(ids, b.Uint64())
	}
	return ids, nil
}
