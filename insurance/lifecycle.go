/*
lifecycle.go - Lifecycle Validators for Policies and Claims

PURPOSE:
  Pure state-machine guards evaluated before a transaction is submitted.
  A failing guard returns *ValidationError and the façade submits nothing.
  The ledger enforces the same guards authoritatively; these exist so a
  user never pays gas for a guaranteed revert.

POLICY STATE MACHINE:
  ┌────────┐  cancelPolicy (holder)   ┌───────────┐
  │ Active │ ───────────────────────▶ │ Cancelled │ (terminal)
  └────────┘                          └───────────┘
     │  ▲
     │  └── payMonthlyPremium (Monthly, now > endDate): endDate += 30 days
     │
     └── ledger clock passes endDate ──▶ Expired (ledger-driven, observed only)

CLAIM STATE MACHINE:
  Pending ──approve(0 < amount <= claimAmount)──▶ Approved ──ledger transfer──▶ Paid
  Pending ──reject──▶ Rejected (terminal)

CLOCK:
  "now" is always the ledger clock (latest block timestamp), passed in by
  the caller. Using the local wall clock would let the client guard and the
  ledger guard disagree.

SEE ALSO:
  - preflight.go: payout solvency check for approvals
  - registry.go:  doctor authorization used by CanProcess
*/
package insurance

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/money"
)

// PremiumPeriod is how far one monthly payment extends a policy.
const PremiumPeriod = 30 * 24 * time.Hour

// OneTimeTerm is the fixed term of a OneTime policy.
const OneTimeTerm = 365 * 24 * time.Hour

// =============================================================================
// POLICY GUARDS
// =============================================================================

// IsElapsed reports now > endDate. EndDate is exclusive.
func IsElapsed(p Policy, now time.Time) bool {
	return now.After(p.EndDate)
}

// IsPaymentDue = Monthly AND now > endDate AND Active.
func IsPaymentDue(p Policy, now time.Time) bool {
	return p.PaymentKind == PaymentMonthly && IsElapsed(p, now) && p.Status == PolicyActive
}

// IsPolicyValid mirrors the ledger's isPolicyValid: Active and not elapsed.
func IsPolicyValid(p Policy, now time.Time) bool {
	return p.Status == PolicyActive && !IsElapsed(p, now)
}

// ObservedStatus is the status to display. The ledger may leave Status as
// Active past EndDate; a OneTime policy in that state is shown as Expired.
// A Monthly one stays Active (its premium is due). The stored Status field
// is never rewritten.
func ObservedStatus(p Policy, now time.Time) PolicyStatus {
	if p.Status == PolicyActive && p.PaymentKind == PaymentOneTime && IsElapsed(p, now) {
		return PolicyExpired
	}
	return p.Status
}

// NextEndDate is the end date after one successful monthly payment.
func NextEndDate(p Policy) time.Time {
	return p.EndDate.Add(PremiumPeriod)
}

// CheckPremiumPayment guards payMonthlyPremium.
func CheckPremiumPayment(p Policy, payer common.Address, now time.Time) error {
	if p.PaymentKind != PaymentMonthly {
		return Invalid(CodeNotMonthly, "policy %d is paid once; no monthly premium is ever due", p.ID)
	}
	if p.Status != PolicyActive {
		return Invalid(CodePolicyNotActive, "policy %d is %s", p.ID, p.Status)
	}
	if payer != p.Policyholder {
		return Invalid(CodeNotPolicyholder, "only the policyholder can pay premiums for policy %d", p.ID)
	}
	if !IsPaymentDue(p, now) {
		return Invalid(CodePaymentNotDue, "premium for policy %d is not due until after %s",
			p.ID, p.EndDate.UTC().Format(time.RFC3339))
	}
	return nil
}

// CheckCancel guards cancelPolicy: holder only, Active only. Cancellation is
// irreversible.
func CheckCancel(p Policy, actor common.Address) error {
	if actor != p.Policyholder {
		return Invalid(CodeNotPolicyholder, "only the policyholder can cancel policy %d", p.ID)
	}
	if p.Status != PolicyActive {
		return Invalid(CodePolicyNotActive, "policy %d is %s and cannot be cancelled", p.ID, p.Status)
	}
	return nil
}

// CheckPurchase guards purchasePolicy against the plan catalog.
func CheckPurchase(plan InsurancePlan, kind PaymentKind) error {
	if !plan.Kind.Valid() {
		return Invalid(CodeInvalidPlan, "unknown plan %s", plan.Kind)
	}
	if !kind.Valid() {
		return Invalid(CodeInvalidPayment, "unknown payment kind %s", kind)
	}
	if plan.Placeholder || !plan.IsActive {
		return Invalid(CodePlanInactive, "plan %s is not available for purchase", plan.Kind)
	}
	if !plan.PriceFor(kind).IsPositive() {
		return Invalid(CodePlanInactive, "plan %s has no %s price", plan.Kind, kind)
	}
	return nil
}

// =============================================================================
// CLAIM GUARDS
// =============================================================================

// CheckClaimSubmission guards submitClaim.
func CheckClaimSubmission(p Policy, claimant common.Address, amount money.Amount, now time.Time) error {
	if !amount.IsPositive() {
		return Invalid(CodeInvalidAmount, "claim amount must be greater than zero")
	}
	if claimant != p.Policyholder {
		return Invalid(CodeNotPolicyholder, "only the policyholder can claim against policy %d", p.ID)
	}
	if p.Status != PolicyActive {
		return Invalid(CodePolicyNotActive, "policy %d is %s", p.ID, p.Status)
	}
	if !IsPolicyValid(p, now) {
		return Invalid(CodePolicyNotValid, "policy %d ended at %s", p.ID, p.EndDate.UTC().Format(time.RFC3339))
	}
	if remaining := p.RemainingCoverage(); amount.GreaterThan(remaining) {
		return Invalid(CodeCoverageExceeded, "claim of %s exceeds remaining coverage of %s",
			money.ToDecimalString(amount), money.ToDecimalString(remaining))
	}
	return nil
}

// CanProcess requires the actor to be the ledger owner or a currently
// authorized doctor. The registry must be freshly replayed by the caller.
func CanProcess(actor, owner common.Address, registry *DoctorRegistry) error {
	if actor == owner {
		return nil
	}
	if registry.IsAuthorized(actor) {
		return nil
	}
	return Invalid(CodeUnauthorized, "%s is neither the owner nor an authorized doctor", actor.Hex())
}

// CheckClaimDecision guards processClaim. Approvals need 0 < amount <= claimAmount.
func CheckClaimDecision(c Claim, approve bool, amount money.Amount) error {
	if c.Status != ClaimPending {
		return Invalid(CodeClaimNotPending, "claim %d is already %s", c.ID, c.Status)
	}
	if !approve {
		return nil
	}
	if !amount.IsPositive() || amount.GreaterThan(c.ClaimAmount) {
		return Invalid(CodeAmountOutOfRange, "approved amount must be greater than 0 and at most %s",
			money.ToDecimalString(c.ClaimAmount))
	}
	return nil
}

// CheckApprovalCoverage keeps claimsUsed within coverageAmount. Submission
// checks remaining coverage too, but several pending claims can each fit
// on their own and overflow together once approved.
func CheckApprovalCoverage(p Policy, amount money.Amount) error {
	if remaining := p.RemainingCoverage(); amount.GreaterThan(remaining) {
		return Invalid(CodeCoverageExceeded, "approval of %s exceeds remaining coverage of %s on policy %d",
			money.ToDecimalString(amount), money.ToDecimalString(remaining), p.ID)
	}
	return nil
}

// CanTransition reports whether the claim state machine allows from -> to.
func CanTransition(from, to ClaimStatus) bool {
	switch from {
	case ClaimPending:
		return to == ClaimApproved || to == ClaimRejected
	case ClaimApproved:
		return to == ClaimPaid
	default:
		return false
	}
}

// =============================================================================
// OWNER GUARDS
// =============================================================================

// RequireOwner guards owner-only entry points.
func RequireOwner(actor, owner common.Address, action string) error {
	if actor != owner {
		return Invalid(CodeNotOwner, "only the contract owner can %s", action)
	}
	return nil
}

// CheckWithdraw guards withdraw: owner only, 0 < amount <= balance.
func CheckWithdraw(actor, owner common.Address, amount, balance money.Amount) error {
	if err := RequireOwner(actor, owner, "withdraw"); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return Invalid(CodeInvalidAmount, "withdrawal must be greater than zero")
	}
	if amount.GreaterThan(balance) {
		return Invalid(CodeBalanceExceeded, "withdrawal of %s exceeds contract balance of %s",
			money.ToDecimalString(amount), money.ToDecimalString(balance))
	}
	return nil
}

// CheckPlanUpdate guards updateInsurancePlan.
func CheckPlanUpdate(actor, owner common.Address, plan InsurancePlan) error {
	if err := RequireOwner(actor, owner, "update insurance plans"); err != nil {
		return err
	}
	if !plan.Kind.Valid() {
		return Invalid(CodeInvalidPlan, "unknown plan %s", plan.Kind)
	}
	if plan.IsActive && (!plan.OneTimePrice.IsPositive() || !plan.MonthlyPrice.IsPositive()) {
		return Invalid(CodeInvalidAmount, "an active plan needs positive prices")
	}
	if !plan.CoverageAmount.IsPositive() {
		return Invalid(CodeInvalidAmount, "coverage must be greater than zero")
	}
	if plan.Deductible.GreaterThan(plan.CoverageAmount) {
		return Invalid(CodeInvalidAmount, "deductible cannot exceed coverage")
	}
	return nil
}
