package eth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
	"github.com/warp/claims-engine/money"
)

var (
	holder = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	doctor = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

// newOfflineGateway has the ABI but no node; only paths that fail or
// finish before the RPC call can run against it.
func newOfflineGateway(t *testing.T) *Gateway {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	require.NoError(t, err)
	return &Gateway{abi: parsed, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

type rpcDataError struct {
	msg  string
	data any
}

func (e rpcDataError) Error() string          { return e.msg }
func (e rpcDataError) ErrorData() interface{} { return e.data }

// Error(string) selector followed by the ABI-encoded reason.
func encodeRevert(t *testing.T, reason string) string {
	t.Helper()
	str, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: str}}.Pack(reason)
	require.NoError(t, err)
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, payload...))
}

func TestContractABI_CoversEveryMethodAndEvent(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	require.NoError(t, err)

	for _, m := range []ledger.Method{
		ledger.MethodOwner, ledger.MethodPaused, ledger.MethodGetUserPolicies, ledger.MethodGetPolicyClaims,
		ledger.MethodIsPolicyValid, ledger.MethodGetRemainingCover, ledger.MethodGetTotalPolicies,
		ledger.MethodGetTotalClaims, ledger.MethodGetContractBalance, ledger.MethodPurchasePolicy,
		ledger.MethodPayMonthlyPremium, ledger.MethodSubmitClaim, ledger.MethodProcessClaim,
		ledger.MethodCancelPolicy, ledger.MethodAuthorizeDoctor, ledger.MethodUpdateInsurancePlan,
		ledger.MethodWithdraw, ledger.MethodPause, ledger.MethodUnpause,
	} {
		assert.Contains(t, parsed.Methods, string(m))
	}
	for _, k := range []ledger.EntityKind{ledger.EntityPolicy, ledger.EntityClaim, ledger.EntityPlan, ledger.EntityDoctor} {
		assert.Contains(t, parsed.Methods, string(k))
	}
	for _, e := range []ledger.EventKind{
		ledger.EventPolicyPurchased, ledger.EventPremiumPaid, ledger.EventClaimSubmitted,
		ledger.EventClaimProcessed, ledger.EventDoctorAuthorized, ledger.EventPolicyCancelled,
	} {
		assert.Contains(t, parsed.Events, string(e))
	}
}

func TestRevertReason_FromErrorData(t *testing.T) {
	err := rpcDataError{msg: "execution reverted", data: encodeRevert(t, "Payment not due yet")}
	assert.Equal(t, "Payment not due yet", revertReason(err))
}

func TestRevertReason_FromMessage(t *testing.T) {
	assert.Equal(t, "Pausable: paused", revertReason(errors.New("execution reverted: Pausable: paused")))
	assert.Equal(t, "", revertReason(errors.New("dial tcp: connection refused")))
}

func TestClassify(t *testing.T) {
	g := &Gateway{}

	err := g.classify("processClaim", errors.New("execution reverted"))
	assert.ErrorIs(t, err, ledger.ErrReverted)

	err = g.classify("processClaim", errors.New("i/o timeout"))
	assert.ErrorIs(t, err, ledger.ErrTransport)
}

type fakeID uint64

func (id fakeID) Big() *big.Int { return new(big.Int).SetUint64(uint64(id)) }

func TestNormalizeArgs(t *testing.T) {
	addr := common.HexToAddress("0x01")
	hash := common.HexToHash("0x02")
	out := normalizeArgs([]any{fakeID(7), uint64(3), 4, uint8(1), addr, "x", true, hash})

	assert.Equal(t, big.NewInt(7), out[0])
	assert.Equal(t, big.NewInt(3), out[1])
	assert.Equal(t, big.NewInt(4), out[2])
	assert.Equal(t, uint8(1), out[3])
	assert.Equal(t, addr, out[4])
	assert.Equal(t, "x", out[5])
	assert.Equal(t, true, out[6])
	assert.Equal(t, hash, out[7])
}

// Every argument list the façade builds must pack against the ABI.
func TestPack_FacadeArgumentShapes(t *testing.T) {
	g := newOfflineGateway(t)
	amount := money.MustParse("1.5").BigInt()

	cases := []struct {
		name string
		args []any
	}{
		// reads
		{string(ledger.EntityPolicy), []any{insurance.PolicyID(1).Big()}},
		{string(ledger.EntityClaim), []any{insurance.ClaimID(2).Big()}},
		{string(ledger.EntityPlan), []any{uint8(insurance.PlanPremium)}},
		{string(ledger.EntityDoctor), []any{doctor}},
		{string(ledger.MethodGetUserPolicies), []any{holder}},
		{string(ledger.MethodGetPolicyClaims), []any{insurance.PolicyID(1).Big()}},
		{string(ledger.MethodIsPolicyValid), []any{insurance.PolicyID(1)}},
		{string(ledger.MethodGetRemainingCover), []any{insurance.PolicyID(1).Big()}},
		{string(ledger.MethodOwner), nil},
		{string(ledger.MethodPaused), nil},
		{string(ledger.MethodGetTotalPolicies), nil},
		{string(ledger.MethodGetTotalClaims), nil},
		{string(ledger.MethodGetContractBalance), nil},
		// writes
		{string(ledger.MethodPurchasePolicy), []any{uint8(insurance.PlanBasic), uint8(insurance.PaymentMonthly), "ipfs://meta"}},
		{string(ledger.MethodPayMonthlyPremium), []any{insurance.PolicyID(1).Big()}},
		{string(ledger.MethodCancelPolicy), []any{insurance.PolicyID(1).Big()}},
		{string(ledger.MethodSubmitClaim), []any{insurance.PolicyID(1).Big(), amount, "ipfs://docs", "x-ray"}},
		{string(ledger.MethodProcessClaim), []any{insurance.ClaimID(2).Big(), true, amount}},
		{string(ledger.MethodAuthorizeDoctor), []any{doctor, true}},
		{string(ledger.MethodUpdateInsurancePlan), []any{
			uint8(insurance.PlanPlatinum), amount, amount, amount, amount, "ipfs://plans/platinum", false,
		}},
		{string(ledger.MethodWithdraw), []any{amount}},
		{string(ledger.MethodPause), nil},
		{string(ledger.MethodUnpause), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.abi.Pack(tc.name, normalizeArgs(tc.args)...)
			assert.NoError(t, err)
		})
	}
}

func TestPack_AddressArgumentRoundTrips(t *testing.T) {
	g := newOfflineGateway(t)

	input, err := g.abi.Pack(string(ledger.MethodAuthorizeDoctor), normalizeArgs([]any{doctor, false})...)
	require.NoError(t, err)

	vals, err := g.abi.Methods[string(ledger.MethodAuthorizeDoctor)].Inputs.Unpack(input[4:])
	require.NoError(t, err)
	assert.Equal(t, doctor, vals[0])
	assert.Equal(t, false, vals[1])
}

func TestCall_LocalEncodingFailureIsNotARevert(t *testing.T) {
	g := newOfflineGateway(t)

	_, err := g.call(context.Background(), string(ledger.MethodGetUserPolicies), "not-an-address")
	assert.ErrorIs(t, err, ledger.ErrTransport)
	assert.NotErrorIs(t, err, ledger.ErrReverted)

	_, err = g.call(context.Background(), "noSuchMethod")
	assert.ErrorIs(t, err, ledger.ErrTransport)
	assert.NotErrorIs(t, err, ledger.ErrReverted)
}

// =============================================================================
// LOGS
// =============================================================================

func doctorLog(t *testing.T, g *Gateway, who common.Address, authorized bool, block uint64) types.Log {
	t.Helper()
	ev := g.abi.Events[string(ledger.EventDoctorAuthorized)]
	data, err := ev.Inputs.NonIndexed().Pack(authorized)
	require.NoError(t, err)
	return types.Log{
		Topics:      []common.Hash{ev.ID, common.BytesToHash(who.Bytes())},
		Data:        data,
		BlockNumber: block,
	}
}

func TestDecodeLog_DoctorAuthorized(t *testing.T) {
	g := newOfflineGateway(t)
	l := doctorLog(t, g, doctor, true, 7)
	l.TxIndex, l.Index = 1, 2

	e, err := g.decodeLog(g.abi.Events[string(ledger.EventDoctorAuthorized)], l)
	require.NoError(t, err)

	assert.Equal(t, ledger.EventDoctorAuthorized, e.Kind)
	assert.Equal(t, ledger.Position{Block: 7, TxIndex: 1, LogIndex: 2}, e.Position)
	a, err := insurance.DecodeDoctorAuthorized(e)
	require.NoError(t, err)
	assert.Equal(t, doctor, a.Doctor)
	assert.True(t, a.Authorized)
	assert.EqualValues(t, 7, a.Block)
}

func TestDecodeLog_ClaimSubmitted(t *testing.T) {
	g := newOfflineGateway(t)
	ev := g.abi.Events[string(ledger.EventClaimSubmitted)]
	data, err := ev.Inputs.NonIndexed().Pack(money.MustParse("2").BigInt())
	require.NoError(t, err)
	l := types.Log{
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(5)),
			common.BigToHash(big.NewInt(1)),
			common.BytesToHash(holder.Bytes()),
		},
		Data:        data,
		BlockNumber: 9,
	}

	e, err := g.decodeLog(ev, l)
	require.NoError(t, err)

	sc, err := insurance.DecodeClaimSubmitted(e)
	require.NoError(t, err)
	assert.Equal(t, insurance.ClaimID(5), sc.ClaimID)
	assert.Equal(t, insurance.PolicyID(1), sc.PolicyID)
	assert.Equal(t, holder, sc.Claimant)
	assert.Equal(t, "2", money.ToDecimalString(sc.Amount))
}

func TestDecodeLogs_MalformedRevocationFailsTheRegistry(t *testing.T) {
	// GIVEN: an authorization followed by a revocation whose data is truncated
	g := newOfflineGateway(t)
	ev := g.abi.Events[string(ledger.EventDoctorAuthorized)]
	revoke := doctorLog(t, g, doctor, false, 2)
	revoke.Data = revoke.Data[:1]
	removed := doctorLog(t, g, holder, true, 3)
	removed.Removed = true

	// WHEN
	events := g.decodeLogs(ev, []types.Log{doctorLog(t, g, doctor, true, 1), revoke, removed})

	// THEN: the bad log is kept, undecoded, and the registry refuses to build
	require.Len(t, events, 2)
	assert.Empty(t, events[1].Fields)
	assert.EqualValues(t, 2, events[1].Position.Block)

	_, err := insurance.BuildDoctorRegistry(events)
	var de *insurance.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "DoctorAuthorized", de.Entity)

	reg, err := insurance.BuildDoctorRegistry(events[:1])
	require.NoError(t, err)
	assert.True(t, reg.IsAuthorized(doctor))
}
