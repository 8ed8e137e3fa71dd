/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- The ResultDTO envelope on success and failure
- Status codes per error kind
- Account selection through the X-Account header
- Journal and document endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/money"
)

type apiEnv struct {
	srv *httptest.Server
	sim *SimulatedAccounts
	h   *Handler
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := NewSimulatedAccounts(NewDevChain(), facade.Options{Logger: logger})
	h := NewHandler(sim, logger)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &apiEnv{srv: srv, sim: sim, h: h}
}

// do sends a request as the given account (zero address: no header) and
// decodes the JSON body into out when out is non-nil.
func (e *apiEnv) do(t *testing.T, method, path string, as common.Address, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if as != (common.Address{}) {
		req.Header.Set(AccountHeader, as.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type resultBody struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   *ErrorDTO      `json:"error"`
	TxHash  string         `json:"txHash"`
}

func (e *apiEnv) buyBasicMonthly(t *testing.T) {
	t.Helper()
	var res resultBody
	status := e.do(t, http.MethodPost, "/api/policies", DevHolder,
		PurchaseRequest{Plan: "basic", PaymentKind: "monthly"}, &res)
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Success)
}

func TestHealthz(t *testing.T) {
	e := newAPI(t)

	var body map[string]string
	status := e.do(t, http.MethodGet, "/healthz", common.Address{}, nil, &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestGetAccount_DefaultsToOwner(t *testing.T) {
	// GIVEN: No X-Account header
	e := newAPI(t)

	// WHEN: Reading the account
	var acct AccountDTO
	status := e.do(t, http.MethodGet, "/api/account", common.Address{}, nil, &acct)

	// THEN: The owner signs
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, DevOwner.Hex(), acct.Address)
	assert.True(t, acct.IsOwner)
	assert.False(t, acct.IsDoctor)
	assert.Equal(t, "2025-01-01T00:00:00Z", acct.LedgerTime)
}

func TestGetAccount_HeaderSelectsAccount(t *testing.T) {
	e := newAPI(t)

	var acct AccountDTO
	status := e.do(t, http.MethodGet, "/api/account", DevHolder, nil, &acct)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, DevHolder.Hex(), acct.Address)
	assert.False(t, acct.IsOwner)
}

func TestGetAccount_MalformedHeader(t *testing.T) {
	e := newAPI(t)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/account", nil)
	require.NoError(t, err)
	req.Header.Set(AccountHeader, "0xnothex")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res resultBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.Error.Kind)
}

func TestListPlans(t *testing.T) {
	e := newAPI(t)

	var plans []PlanDTO
	status := e.do(t, http.MethodGet, "/api/plans", common.Address{}, nil, &plans)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, plans, 3)
	assert.Equal(t, "Basic", plans[0].Kind)
	assert.Equal(t, "1", plans[0].OneTimePrice)
	assert.Equal(t, "0.1", plans[0].MonthlyPrice)
	assert.Equal(t, "Platinum", plans[2].Kind)
	assert.Equal(t, "0", plans[2].Deductible)
}

func TestPurchasePolicy_Envelope(t *testing.T) {
	// GIVEN: The dev catalog
	e := newAPI(t)

	// WHEN: The holder buys Basic monthly
	var res resultBody
	status := e.do(t, http.MethodPost, "/api/policies", DevHolder,
		PurchaseRequest{Plan: "Basic", PaymentKind: "Monthly", MetadataRef: "ipfs://p"}, &res)

	// THEN: The envelope carries the fresh policy and the transaction hash
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)
	assert.Nil(t, res.Error)
	assert.NotEmpty(t, res.TxHash)
	assert.EqualValues(t, 1, res.Data["id"])
	assert.Equal(t, DevHolder.Hex(), res.Data["policyholder"])
	assert.Equal(t, "0.1", res.Data["premium"])
	assert.Equal(t, "Active", res.Data["observedStatus"])
	assert.Equal(t, false, res.Data["paymentDue"])
}

func TestPurchasePolicy_UnknownPlan(t *testing.T) {
	e := newAPI(t)

	var res resultBody
	status := e.do(t, http.MethodPost, "/api/policies", DevHolder,
		PurchaseRequest{Plan: "Gold", PaymentKind: "Monthly"}, &res)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.Error.Kind)
	assert.Equal(t, "invalid_plan", res.Error.Code)
	assert.Empty(t, res.TxHash)
}

func TestPurchasePolicy_MalformedBody(t *testing.T) {
	e := newAPI(t)

	resp, err := http.Post(e.srv.URL+"/api/policies", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetPolicy_NotFound(t *testing.T) {
	e := newAPI(t)

	var res resultBody
	status := e.do(t, http.MethodGet, "/api/policies/42", common.Address{}, nil, &res)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", res.Error.Code)

	status = e.do(t, http.MethodGet, "/api/policies/abc", common.Address{}, nil, &res)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListPolicies_DefaultsToSender(t *testing.T) {
	e := newAPI(t)
	e.buyBasicMonthly(t)

	var mine, owners []PolicyDTO
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/policies", DevHolder, nil, &mine))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/policies", common.Address{}, nil, &owners))
	assert.Len(t, mine, 1)
	assert.Empty(t, owners)

	var byQuery []PolicyDTO
	require.Equal(t, http.StatusOK,
		e.do(t, http.MethodGet, "/api/policies?holder="+DevHolder.Hex(), common.Address{}, nil, &byQuery))
	assert.Len(t, byQuery, 1)
}

func TestPayPremium_NotDue(t *testing.T) {
	e := newAPI(t)
	e.buyBasicMonthly(t)
	before := e.sim.Chain().Submissions()

	var res resultBody
	status := e.do(t, http.MethodPost, "/api/policies/1/premium", DevHolder, nil, &res)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "payment_not_due", res.Error.Code)
	assert.Equal(t, before, e.sim.Chain().Submissions())
}

func TestCancelPolicy_OnlyHolder(t *testing.T) {
	e := newAPI(t)
	e.buyBasicMonthly(t)

	var res resultBody
	status := e.do(t, http.MethodPost, "/api/policies/1/cancel", DevDoctor, nil, &res)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "not_policyholder", res.Error.Code)

	status = e.do(t, http.MethodPost, "/api/policies/1/cancel", DevHolder, nil, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Cancelled", res.Data["status"])
}

func TestProcessClaim_InsufficientFundsThenPaid(t *testing.T) {
	// GIVEN: A claim of 2 on Basic (deductible 0.5); the contract holds 0.1
	e := newAPI(t)
	e.buyBasicMonthly(t)

	var res resultBody
	status := e.do(t, http.MethodPost, "/api/claims", DevHolder,
		SubmitClaimRequest{PolicyID: 1, Amount: "2", Description: "X-ray", DocumentsRef: "ipfs://xray"}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Pending", res.Data["status"])

	// WHEN: The owner approves in full
	status = e.do(t, http.MethodPost, "/api/claims/1/process", common.Address{},
		ProcessClaimRequest{Approve: true, ApprovedAmount: "2"}, &res)

	// THEN: 422 with both amounts, nothing submitted
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_ledger_funds", res.Error.Kind)
	assert.Equal(t, "0.1", res.Error.Available)
	assert.Equal(t, "1.5", res.Error.Required)

	// WHEN: The contract is funded and the owner retries
	c := e.sim.Chain()
	c.Fund(c.ContractAddress(), money.MustParse("10"))
	status = e.do(t, http.MethodPost, "/api/claims/1/process", common.Address{},
		ProcessClaimRequest{Approve: true, ApprovedAmount: "2"}, &res)

	// THEN: The claim is paid
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Paid", res.Data["status"])
	assert.Equal(t, "2", res.Data["approvedAmount"])
}

func TestProcessClaim_UnauthorizedDoctor(t *testing.T) {
	e := newAPI(t)
	e.buyBasicMonthly(t)
	var res resultBody
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/claims", DevHolder,
		SubmitClaimRequest{PolicyID: 1, Amount: "1", Description: "Checkup", DocumentsRef: "ipfs://c"}, &res))

	status := e.do(t, http.MethodPost, "/api/claims/1/process", DevDoctor,
		ProcessClaimRequest{Approve: false}, &res)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unauthorized", res.Error.Code)

	// Authorize, then the doctor can reject
	status = e.do(t, http.MethodPut, "/api/doctors/"+DevDoctor.Hex(), common.Address{},
		AuthorizeDoctorRequest{Authorized: true}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, res.Data["authorized"])

	status = e.do(t, http.MethodPost, "/api/claims/1/process", DevDoctor,
		ProcessClaimRequest{Approve: false}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Rejected", res.Data["status"])
}

func TestListClaims_Filters(t *testing.T) {
	e := newAPI(t)
	require.NoError(t, e.sim.LoadScenario(context.Background(), "claims-review"))

	var claims []ClaimDTO
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/claims", common.Address{}, nil, &claims))
	assert.Len(t, claims, 2)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/claims?policy=2", common.Address{}, nil, &claims))
	require.Len(t, claims, 1)
	assert.Equal(t, "4.5", claims[0].ClaimAmount)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/claims?status=paid", common.Address{}, nil, &claims))
	assert.Empty(t, claims)

	var res resultBody
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodGet, "/api/claims?status=lost", common.Address{}, nil, &res))
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodGet, "/api/claims?policy=x", common.Address{}, nil, &res))
}

func TestSubmitClaim_DocumentsServed(t *testing.T) {
	// GIVEN: A claim submitted with an inline document
	e := newAPI(t)
	e.buyBasicMonthly(t)
	doc := []byte("%PDF-1.4 discharge summary")

	var res resultBody
	status := e.do(t, http.MethodPost, "/api/claims", DevHolder, SubmitClaimRequest{
		PolicyID:    1,
		Amount:      "1",
		Description: "Discharge",
		Documents:   []DocumentUpload{{Name: "summary.pdf", ContentType: "application/pdf", Data: doc}},
	}, &res)
	require.Equal(t, http.StatusOK, status)

	// WHEN: Following the claim's documents reference
	ref, _ := res.Data["documentsRef"].(string)
	require.NotEmpty(t, ref)
	resp, err := http.Get(e.srv.URL + "/api/documents/" + ref)
	require.NoError(t, err)
	defer resp.Body.Close()

	// THEN: The manifest lists the document
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var manifest facade.DocumentManifest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&manifest))
	require.Len(t, manifest.Documents, 1)
	assert.Equal(t, "summary.pdf", manifest.Documents[0].Name)
}

func TestGetDocument_Errors(t *testing.T) {
	e := newAPI(t)

	var res resultBody
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodGet, "/api/documents/not-a-ref", common.Address{}, nil, &res))

	missing := "sha256:" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	assert.Equal(t, http.StatusNotFound,
		e.do(t, http.MethodGet, "/api/documents/"+missing, common.Address{}, nil, &res))
}

func TestAdmin_PauseFlow(t *testing.T) {
	e := newAPI(t)

	var res resultBody
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/admin/pause", DevHolder, nil, &res))
	assert.Equal(t, "not_owner", res.Error.Code)

	var raw ResultDTO
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/admin/pause", common.Address{}, nil, &raw))
	assert.Equal(t, true, raw.Data)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/admin/pause", common.Address{}, nil, &res))
	assert.Equal(t, "invalid_transition", res.Error.Code)

	var stats StatsDTO
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/admin/stats", common.Address{}, nil, &stats))
	assert.True(t, stats.Paused)
	assert.Equal(t, DevOwner.Hex(), stats.Owner)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/policies", DevHolder,
		PurchaseRequest{Plan: "Basic", PaymentKind: "OneTime"}, &res))
	assert.Equal(t, "contract_paused", res.Error.Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/admin/unpause", common.Address{}, nil, &raw))
	assert.Equal(t, false, raw.Data)
}

func TestAdmin_Withdraw(t *testing.T) {
	e := newAPI(t)
	e.buyBasicMonthly(t)

	var res resultBody
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodPost, "/api/admin/withdraw", common.Address{}, WithdrawRequest{Amount: "5"}, &res))
	assert.Equal(t, "balance_exceeded", res.Error.Code)

	var raw ResultDTO
	require.Equal(t, http.StatusOK,
		e.do(t, http.MethodPost, "/api/admin/withdraw", common.Address{}, WithdrawRequest{Amount: "0.04"}, &raw))
	assert.Equal(t, "0.06", raw.Data)
}

func TestUpdatePlan(t *testing.T) {
	e := newAPI(t)

	var res resultBody
	status := e.do(t, http.MethodPut, "/api/plans/platinum", common.Address{}, UpdatePlanRequest{
		OneTimePrice: "6", MonthlyPrice: "0.6", CoverageAmount: "120", Deductible: "0",
		MetadataRef: "ipfs://plans/platinum-v2", IsActive: false,
	}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "6", res.Data["oneTimePrice"])
	assert.Equal(t, false, res.Data["isActive"])

	status = e.do(t, http.MethodPost, "/api/policies", DevHolder,
		PurchaseRequest{Plan: "Platinum", PaymentKind: "OneTime"}, &res)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "plan_inactive", res.Error.Code)

	status = e.do(t, http.MethodPut, "/api/plans/gold", common.Address{}, UpdatePlanRequest{}, &res)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_plan", res.Error.Code)
}

func TestListJournal(t *testing.T) {
	// GIVEN: One successful purchase
	e := newAPI(t)
	e.buyBasicMonthly(t)

	// WHEN: Reading the journal for the holder
	var page struct {
		Entries []facade.JournalEntry `json:"entries"`
	}
	status := e.do(t, http.MethodGet, "/api/journal?actor="+DevHolder.Hex(), common.Address{}, nil, &page)

	// THEN: Submitted and confirmed, newest first
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, facade.PhaseConfirmed, page.Entries[0].Phase)
	assert.Equal(t, facade.PhaseSubmitted, page.Entries[1].Phase)
	assert.Equal(t, page.Entries[0].IntentID, page.Entries[1].IntentID)

	status = e.do(t, http.MethodGet, "/api/journal?phase=confirmed&limit=5", common.Address{}, nil, &page)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, page.Entries, 1)

	var res resultBody
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodGet, "/api/journal?limit=0", common.Address{}, nil, &res))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"transport", &insurance.TransportError{Op: "head", Err: io.EOF}, http.StatusBadGateway},
		{"revert", &insurance.RevertError{Reason: "Plan not active"}, http.StatusUnprocessableEntity},
		{"in flight", insurance.Invalid(insurance.CodeTxInFlight, "busy"), http.StatusConflict},
		{"decode", &insurance.DecodeError{Entity: "plan", Field: "kind"}, http.StatusInternalServerError},
		{"plain", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestScenarios_CurrentUnderConcurrentLoads(t *testing.T) {
	// GIVEN: Loads and reads of the current scenario racing each other
	e := newAPI(t)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.do(t, http.MethodPost, "/api/scenarios/load", common.Address{},
				map[string]string{"scenario_id": "catalog"}, nil)
		}()
		go func() {
			defer wg.Done()
			e.do(t, http.MethodGet, "/api/scenarios/current", common.Address{}, nil, nil)
		}()
	}
	wg.Wait()

	// WHEN: Reading the current scenario afterwards
	var current ScenarioDTO
	status := e.do(t, http.MethodGet, "/api/scenarios/current", common.Address{}, nil, &current)

	// THEN: The last completed load is reported
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "catalog", current.ID)
	assert.Equal(t, "catalog", e.sim.CurrentScenario())
}
