package insurance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/money"
)

func TestCheckPayout_PassesWhenDeductibleAbsorbsShortfall(t *testing.T) {
	// GIVEN: balance 5, claim 10, deductible 6 -> payout 4 <= 5
	err := insurance.CheckPayout(money.FromUint64(10), money.FromUint64(6), money.FromUint64(5))
	assert.NoError(t, err)
}

func TestCheckPayout_FailsWithAvailableAndRequired(t *testing.T) {
	// GIVEN: balance 5, claim 10, deductible 2 -> payout 8 > 5
	err := insurance.CheckPayout(money.FromUint64(10), money.FromUint64(2), money.FromUint64(5))

	var funds *insurance.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.Equal(t, "5", funds.Available.String())
	assert.Equal(t, "8", funds.Required.String())
	assert.Equal(t, insurance.KindInsufficientFunds, insurance.KindOf(err))
}

func TestCheckPayout_ZeroPayoutNeverFails(t *testing.T) {
	err := insurance.CheckPayout(money.FromUint64(3), money.FromUint64(6), money.Zero())
	assert.NoError(t, err)
	assert.True(t, insurance.ExpectedPayout(money.FromUint64(3), money.FromUint64(6)).IsZero())
}
