package memory

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// CONTRACT EXECUTION - reproduces the on-ledger guards
// =============================================================================

// Revert reasons, as the contract's require() statements spell them.
const (
	ReasonNotOwner          = "Ownable: caller is not the owner"
	ReasonPaused            = "Pausable: paused"
	ReasonNotPaused         = "Pausable: not paused"
	ReasonPlanInactive      = "Plan not active"
	ReasonWrongPayment      = "Incorrect payment amount"
	ReasonNotPolicyOwner    = "Not policy owner"
	ReasonNotMonthly        = "Not a monthly policy"
	ReasonPolicyNotActive   = "Policy not active"
	ReasonPaymentNotDue     = "Payment not due yet"
	ReasonPolicyNotValid    = "Policy not valid"
	ReasonInvalidAmount     = "Invalid claim amount"
	ReasonCoverageExceeded  = "Exceeds remaining coverage"
	ReasonNotAuthorized     = "Not authorized to process claims"
	ReasonClaimNotPending   = "Claim already processed"
	ReasonInvalidApproved   = "Invalid approved amount"
	ReasonInsufficientFunds = "Insufficient contract balance"
	ReasonBadArguments      = "invalid arguments"
	ReasonUnknownMethod     = "unknown method"
	ReasonNotFound          = "Entity does not exist"
)

type execCtx struct {
	c      *Chain
	from   common.Address
	value  *big.Int
	events []ledger.Event
	txHash common.Hash
}

type revert string

func (e *execCtx) emit(kind ledger.EventKind, fields map[string]any) {
	e.events = append(e.events, ledger.Event{
		Kind:     kind,
		Position: ledger.Position{Block: e.c.block, TxIndex: 0, LogIndex: uint(len(e.events))},
		TxHash:   e.txHash,
		Fields:   fields,
	})
}

// execute runs spec against the chain. The caller holds c.mu and has
// already advanced the block. A non-empty revert rolls everything back.
func (c *Chain) execute(from common.Address, spec ledger.TxSpec, txHash common.Hash) ([]ledger.Event, revert) {
	value := spec.Value
	if value == nil {
		value = new(big.Int)
	}
	e := &execCtx{c: c, from: from, value: value, txHash: txHash}

	if spec.Method != ledger.MethodUnpause && spec.Method != ledger.MethodWithdraw && c.paused {
		return nil, ReasonPaused
	}

	var r revert
	switch spec.Method {
	case ledger.MethodPurchasePolicy:
		r = e.purchasePolicy(spec.Args)
	case ledger.MethodPayMonthlyPremium:
		r = e.payMonthlyPremium(spec.Args)
	case ledger.MethodSubmitClaim:
		r = e.submitClaim(spec.Args)
	case ledger.MethodProcessClaim:
		r = e.processClaim(spec.Args)
	case ledger.MethodCancelPolicy:
		r = e.cancelPolicy(spec.Args)
	case ledger.MethodAuthorizeDoctor:
		r = e.authorizeDoctor(spec.Args)
	case ledger.MethodUpdateInsurancePlan:
		r = e.updatePlan(spec.Args)
	case ledger.MethodWithdraw:
		r = e.withdraw(spec.Args)
	case ledger.MethodPause:
		r = e.setPaused(true)
	case ledger.MethodUnpause:
		r = e.setPaused(false)
	default:
		r = ReasonUnknownMethod
	}
	if r != "" {
		return nil, r
	}
	return e.events, ""
}

func (e *execCtx) onlyOwner() revert {
	if e.from != e.c.owner {
		return ReasonNotOwner
	}
	return ""
}

func (e *execCtx) policy(id *big.Int) (*insurance.Policy, revert) {
	if id == nil || id.Sign() <= 0 || !id.IsUint64() || id.Uint64() > uint64(len(e.c.policies)) {
		return nil, ReasonNotFound
	}
	return &e.c.policies[id.Uint64()-1], ""
}

func (e *execCtx) purchasePolicy(args []any) revert {
	if len(args) != 3 {
		return ReasonBadArguments
	}
	planKind, ok1 := args[0].(uint8)
	payKind, ok2 := args[1].(uint8)
	meta, ok3 := args[2].(string)
	if !ok1 || !ok2 || !ok3 || payKind > uint8(insurance.PaymentMonthly) {
		return ReasonBadArguments
	}
	plan, ok := e.c.plans[insurance.PlanKind(planKind)]
	if !ok || !plan.IsActive {
		return ReasonPlanInactive
	}
	price := plan.PriceFor(insurance.PaymentKind(payKind))
	if e.value.Cmp(price.BigInt()) != 0 {
		return ReasonWrongPayment
	}

	now := e.c.clock
	term := insurance.OneTimeTerm
	if insurance.PaymentKind(payKind) == insurance.PaymentMonthly {
		term = insurance.PremiumPeriod
	}
	id := insurance.PolicyID(len(e.c.policies) + 1)
	p := insurance.Policy{
		ID:              id,
		Policyholder:    e.from,
		PlanKind:        plan.Kind,
		PaymentKind:     insurance.PaymentKind(payKind),
		CoverageAmount:  plan.CoverageAmount,
		Deductible:      plan.Deductible,
		Premium:         price,
		StartDate:       now,
		EndDate:         now.Add(term),
		LastPaymentDate: now,
		Status:          insurance.PolicyActive,
		MetadataRef:     meta,
		TotalPaid:       price,
		ClaimsUsed:      money.Zero(),
	}
	e.c.policies = append(e.c.policies, p)
	e.c.userPolicies[e.from] = append(e.c.userPolicies[e.from], id)
	e.c.credit(e.c.contract, e.value)
	e.emit(ledger.EventPolicyPurchased, map[string]any{
		"policyId":     id.Big(),
		"policyholder": e.from,
		"planType":     planKind,
		"paymentType":  payKind,
		"premium":      price.BigInt(),
	})
	return ""
}

func (e *execCtx) payMonthlyPremium(args []any) revert {
	if len(args) != 1 {
		return ReasonBadArguments
	}
	id, _ := args[0].(*big.Int)
	p, r := e.policy(id)
	if r != "" {
		return r
	}
	switch {
	case p.Policyholder != e.from:
		return ReasonNotPolicyOwner
	case p.PaymentKind != insurance.PaymentMonthly:
		return ReasonNotMonthly
	case p.Status != insurance.PolicyActive:
		return ReasonPolicyNotActive
	case !e.c.clock.After(p.EndDate):
		return ReasonPaymentNotDue
	case e.value.Cmp(p.Premium.BigInt()) < 0:
		return ReasonWrongPayment
	}
	p.EndDate = insurance.NextEndDate(*p)
	p.LastPaymentDate = e.c.clock
	p.TotalPaid = p.TotalPaid.Add(money.FromBig(e.value))
	e.c.credit(e.c.contract, e.value)
	e.emit(ledger.EventPremiumPaid, map[string]any{
		"policyId":   id,
		"amount":     new(big.Int).Set(e.value),
		"newEndDate": big.NewInt(p.EndDate.Unix()),
	})
	return ""
}

func (e *execCtx) submitClaim(args []any) revert {
	if len(args) != 4 {
		return ReasonBadArguments
	}
	id, _ := args[0].(*big.Int)
	amount, ok1 := args[1].(*big.Int)
	docs, ok2 := args[2].(string)
	desc, ok3 := args[3].(string)
	if !ok1 || !ok2 || !ok3 {
		return ReasonBadArguments
	}
	p, r := e.policy(id)
	if r != "" {
		return r
	}
	switch {
	case p.Policyholder != e.from:
		return ReasonNotPolicyOwner
	case !insurance.IsPolicyValid(*p, e.c.clock):
		return ReasonPolicyNotValid
	case amount.Sign() <= 0:
		return ReasonInvalidAmount
	case money.FromBig(amount).GreaterThan(p.RemainingCoverage()):
		return ReasonCoverageExceeded
	}
	cid := insurance.ClaimID(len(e.c.claims) + 1)
	e.c.claims = append(e.c.claims, insurance.Claim{
		ID:             cid,
		PolicyID:       p.ID,
		Claimant:       e.from,
		ClaimAmount:    money.FromBig(amount),
		ApprovedAmount: money.Zero(),
		Status:         insurance.ClaimPending,
		SubmissionDate: e.c.clock,
		DocumentsRef:   docs,
		Description:    desc,
	})
	e.c.policyClaims[p.ID] = append(e.c.policyClaims[p.ID], cid)
	e.emit(ledger.EventClaimSubmitted, map[string]any{
		"claimId":  cid.Big(),
		"policyId": p.ID.Big(),
		"claimant": e.from,
		"amount":   new(big.Int).Set(amount),
	})
	return ""
}

func (e *execCtx) processClaim(args []any) revert {
	if len(args) != 3 {
		return ReasonBadArguments
	}
	id, ok1 := args[0].(*big.Int)
	approve, ok2 := args[1].(bool)
	approved, ok3 := args[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return ReasonBadArguments
	}
	if e.from != e.c.owner && !e.c.doctors[e.from] {
		return ReasonNotAuthorized
	}
	if id.Sign() <= 0 || !id.IsUint64() || id.Uint64() > uint64(len(e.c.claims)) {
		return ReasonNotFound
	}
	claim := &e.c.claims[id.Uint64()-1]
	if claim.Status != insurance.ClaimPending {
		return ReasonClaimNotPending
	}
	if !approve {
		claim.Status = insurance.ClaimRejected
		claim.ProcessedDate = e.c.clock
		e.emit(ledger.EventClaimProcessed, map[string]any{
			"claimId": id, "status": uint8(insurance.ClaimRejected), "approvedAmount": new(big.Int),
		})
		return ""
	}

	amount := money.FromBig(approved)
	if !amount.IsPositive() || amount.GreaterThan(claim.ClaimAmount) {
		return ReasonInvalidApproved
	}
	policy := &e.c.policies[claim.PolicyID-1]
	if amount.GreaterThan(policy.RemainingCoverage()) {
		return ReasonCoverageExceeded
	}
	payout := insurance.ExpectedPayout(amount, policy.Deductible).BigInt()
	if e.c.balanceOf(e.c.contract).Cmp(payout) < 0 {
		return ReasonInsufficientFunds
	}

	claim.ApprovedAmount = amount
	claim.ProcessedDate = e.c.clock
	claim.Status = insurance.ClaimApproved
	policy.ClaimsUsed = policy.ClaimsUsed.Add(amount)
	e.emit(ledger.EventClaimProcessed, map[string]any{
		"claimId": id, "status": uint8(insurance.ClaimApproved), "approvedAmount": new(big.Int).Set(approved),
	})

	if e.c.DeferPayouts {
		e.c.payouts = append(e.c.payouts, pendingPayout{claim: claim.ID, to: claim.Claimant, amount: payout})
		return ""
	}
	e.c.debit(e.c.contract, payout)
	e.c.credit(claim.Claimant, payout)
	claim.Status = insurance.ClaimPaid
	return ""
}

func (e *execCtx) cancelPolicy(args []any) revert {
	if len(args) != 1 {
		return ReasonBadArguments
	}
	id, _ := args[0].(*big.Int)
	p, r := e.policy(id)
	if r != "" {
		return r
	}
	if p.Policyholder != e.from {
		return ReasonNotPolicyOwner
	}
	if p.Status != insurance.PolicyActive {
		return ReasonPolicyNotActive
	}
	p.Status = insurance.PolicyCancelled
	e.emit(ledger.EventPolicyCancelled, map[string]any{"policyId": id})
	return ""
}

func (e *execCtx) authorizeDoctor(args []any) revert {
	if r := e.onlyOwner(); r != "" {
		return r
	}
	if len(args) != 2 {
		return ReasonBadArguments
	}
	doc, ok1 := args[0].(common.Address)
	flag, ok2 := args[1].(bool)
	if !ok1 || !ok2 {
		return ReasonBadArguments
	}
	e.c.doctors[doc] = flag
	e.emit(ledger.EventDoctorAuthorized, map[string]any{"doctor": doc, "authorized": flag})
	return ""
}

func (e *execCtx) updatePlan(args []any) revert {
	if r := e.onlyOwner(); r != "" {
		return r
	}
	if len(args) != 7 {
		return ReasonBadArguments
	}
	kind, ok0 := args[0].(uint8)
	oneTime, ok1 := args[1].(*big.Int)
	monthly, ok2 := args[2].(*big.Int)
	coverage, ok3 := args[3].(*big.Int)
	deductible, ok4 := args[4].(*big.Int)
	meta, ok5 := args[5].(string)
	active, ok6 := args[6].(bool)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !insurance.PlanKind(kind).Valid() {
		return ReasonBadArguments
	}
	e.c.plans[insurance.PlanKind(kind)] = insurance.InsurancePlan{
		Kind:           insurance.PlanKind(kind),
		OneTimePrice:   money.FromBig(oneTime),
		MonthlyPrice:   money.FromBig(monthly),
		CoverageAmount: money.FromBig(coverage),
		Deductible:     money.FromBig(deductible),
		MetadataRef:    meta,
		IsActive:       active,
	}
	return ""
}

func (e *execCtx) withdraw(args []any) revert {
	if r := e.onlyOwner(); r != "" {
		return r
	}
	if len(args) != 1 {
		return ReasonBadArguments
	}
	amount, ok := args[0].(*big.Int)
	if !ok || amount.Sign() <= 0 {
		return ReasonBadArguments
	}
	if e.c.balanceOf(e.c.contract).Cmp(amount) < 0 {
		return ReasonInsufficientFunds
	}
	e.c.debit(e.c.contract, amount)
	e.c.credit(e.from, amount)
	return ""
}

func (e *execCtx) setPaused(paused bool) revert {
	if r := e.onlyOwner(); r != "" {
		return r
	}
	if !paused && !e.c.paused {
		return ReasonNotPaused
	}
	e.c.paused = paused
	return ""
}
