package insurance_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	doctor = common.HexToAddress("0x00000000000000000000000000000000000d0c70")
)

func eth(s string) *big.Int { return money.MustParse(s).BigInt() }

func unix(t time.Time) *big.Int { return big.NewInt(t.Unix()) }

var jan1 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func positionalPolicy() []any {
	return []any{
		big.NewInt(7), alice, uint8(1), uint8(1),
		eth("10"), eth("0.5"), eth("0.1"),
		unix(jan1), unix(jan1.Add(insurance.PremiumPeriod)), unix(jan1),
		uint8(0), "ipfs://policy", eth("0.1"), eth("2"),
	}
}

// =============================================================================
// POLICY
// =============================================================================

func TestDecodePolicy_Positional(t *testing.T) {
	p, err := insurance.DecodePolicy(ledger.Record{Positional: positionalPolicy()})
	require.NoError(t, err)

	assert.Equal(t, insurance.PolicyID(7), p.ID)
	assert.Equal(t, alice, p.Policyholder)
	assert.Equal(t, insurance.PlanPremium, p.PlanKind)
	assert.Equal(t, insurance.PaymentMonthly, p.PaymentKind)
	assert.Equal(t, "0.5", money.ToDecimalString(p.Deductible))
	assert.Equal(t, jan1, p.StartDate)
	assert.Equal(t, jan1.Add(insurance.PremiumPeriod), p.EndDate)
	assert.Equal(t, insurance.PolicyActive, p.Status)
	assert.Equal(t, "ipfs://policy", p.MetadataRef)
	assert.Equal(t, "8", money.ToDecimalString(p.RemainingCoverage()))
}

func TestDecodePolicy_NamedWinsOverPositional(t *testing.T) {
	// GIVEN: a record whose named status disagrees with the positional one
	rec := ledger.Record{
		Positional: positionalPolicy(),
		Named:      map[string]any{"status": uint8(2), "policyholder": bob.Hex()},
	}
	p, err := insurance.DecodePolicy(rec)
	require.NoError(t, err)
	assert.Equal(t, insurance.PolicyCancelled, p.Status)
	assert.Equal(t, bob, p.Policyholder)
}

func TestDecodePolicy_MalformedReturnsDecodeError(t *testing.T) {
	fields := positionalPolicy()
	fields[4] = "not-a-number"
	_, err := insurance.DecodePolicy(ledger.Record{Positional: fields})

	var decErr *insurance.DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "coverageAmount", decErr.Field)
	assert.True(t, errors.Is(err, insurance.ErrDecode))
	assert.Equal(t, insurance.KindDecode, insurance.KindOf(err))
}

func TestDecodePolicy_MissingFieldAndBadEnum(t *testing.T) {
	_, err := insurance.DecodePolicy(ledger.Record{Positional: positionalPolicy()[:5]})
	assert.ErrorIs(t, err, insurance.ErrDecode)

	fields := positionalPolicy()
	fields[10] = uint8(9)
	_, err = insurance.DecodePolicy(ledger.Record{Positional: fields})
	var decErr *insurance.DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "status", decErr.Field)
}

// =============================================================================
// CLAIM & PLAN
// =============================================================================

func TestDecodeClaim_Named(t *testing.T) {
	rec := ledger.Record{Named: map[string]any{
		"claimId":        big.NewInt(3),
		"policyId":       big.NewInt(7),
		"claimant":       alice,
		"claimAmount":    eth("2"),
		"approvedAmount": eth("1.5"),
		"status":         uint8(1),
		"submissionDate": unix(jan1),
		"processedDate":  big.NewInt(0),
		"ipfsDocuments":  "bafy-docs",
		"description":    "x-ray",
	}}
	c, err := insurance.DecodeClaim(rec)
	require.NoError(t, err)
	assert.Equal(t, insurance.ClaimID(3), c.ID)
	assert.Equal(t, insurance.ClaimApproved, c.Status)
	assert.Equal(t, "1.5", money.ToDecimalString(c.ApprovedAmount))
	assert.True(t, c.ProcessedDate.IsZero())
	assert.Equal(t, "x-ray", c.Description)
}

func TestDecodePlan_WrongTypeIsDecodeError(t *testing.T) {
	rec := ledger.Record{Positional: []any{uint8(0), eth("1"), eth("0.1"), eth("10"), eth("0.5"), "meta", "yes"}}
	_, err := insurance.DecodePlan(rec)
	var decErr *insurance.DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "isActive", decErr.Field)
}

func TestPlaceholderPlan_CannotBePurchased(t *testing.T) {
	plan := insurance.PlaceholderPlan(insurance.PlanBasic)
	err := insurance.CheckPurchase(plan, insurance.PaymentOneTime)
	assert.ErrorIs(t, err, insurance.ErrValidation)
}
