package insurance

import "github.com/warp/claims-engine/money"

// =============================================================================
// PAYOUT PRE-FLIGHT
// =============================================================================

// ExpectedPayout is what the ledger transfers on approval:
// max(0, approvedAmount - deductible), in integer units.
func ExpectedPayout(approved, deductible money.Amount) money.Amount {
	return money.PayoutAfterDeductible(approved, deductible)
}

// CheckPayout fails with *InsufficientFundsError when a positive expected
// payout exceeds the contract balance.
//
// Advisory only: the balance can move between this check and execution.
// The ledger's own check at execution time is authoritative.
func CheckPayout(approved, deductible, balance money.Amount) error {
	payout := ExpectedPayout(approved, deductible)
	if payout.IsPositive() && balance.LessThan(payout) {
		return &InsufficientFundsError{Available: balance, Required: payout}
	}
	return nil
}
