/*
scenarios.go - Simulated ledger scenarios for development and demos

PURPOSE:

	Seeds the simulated ledger (dev mode) with realistic state so the API
	can be exercised without a node. Every scenario starts from a fresh
	chain; all transactions go through the façade exactly as a client's
	would.

AVAILABLE SCENARIOS:

	catalog:          The three plans, nothing else
	active-policies:  Catalog + monthly and one-time policies for the holder
	claims-review:    Policies + pending claims + an authorized doctor
	premium-due:      A monthly policy whose end date has passed

DEV ACCOUNTS (select with the X-Account header):

	owner   0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266
	holder  0x70997970C51812dc3A010C7d01b50e0d17dc79C8
	doctor  0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "claims-review"}

NOTE:

	Loading a scenario discards the simulated chain. Dev mode only.

SEE ALSO:
  - ledger/memory: the simulated contract
  - accounts.go: SimulatedAccounts
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger/memory"
	"github.com/warp/claims-engine/money"
)

// Dev accounts on the simulated ledger.
var (
	DevOwner  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	DevHolder = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	DevDoctor = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

// DevStart is the ledger clock of a fresh simulated chain.
var DevStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "catalog",
		Name:        "Catalog Only",
		Description: "Basic, Premium and Platinum plans; no policies",
	},
	{
		ID:          "active-policies",
		Name:        "Active Policies",
		Description: "Holder owns a monthly Basic and a one-time Premium policy",
	},
	{
		ID:          "claims-review",
		Name:        "Claims Review",
		Description: "Two pending claims and an authorized doctor; contract funded for payouts",
	},
	{
		ID:          "premium-due",
		Name:        "Premium Due",
		Description: "Monthly policy past its end date, payable by the holder",
	},
}

// DevPlans is the catalog every scenario starts with.
func DevPlans() []insurance.InsurancePlan {
	return []insurance.InsurancePlan{
		{
			Kind:           insurance.PlanBasic,
			OneTimePrice:   money.MustParse("1"),
			MonthlyPrice:   money.MustParse("0.1"),
			CoverageAmount: money.MustParse("10"),
			Deductible:     money.MustParse("0.5"),
			MetadataRef:    "ipfs://plans/basic",
			IsActive:       true,
		},
		{
			Kind:           insurance.PlanPremium,
			OneTimePrice:   money.MustParse("2.5"),
			MonthlyPrice:   money.MustParse("0.25"),
			CoverageAmount: money.MustParse("30"),
			Deductible:     money.MustParse("0.25"),
			MetadataRef:    "ipfs://plans/premium",
			IsActive:       true,
		},
		{
			Kind:           insurance.PlanPlatinum,
			OneTimePrice:   money.MustParse("5"),
			MonthlyPrice:   money.MustParse("0.5"),
			CoverageAmount: money.MustParse("100"),
			Deductible:     money.Zero(),
			MetadataRef:    "ipfs://plans/platinum",
			IsActive:       true,
		},
	}
}

// NewDevChain builds a fresh simulated chain with the catalog and funded
// dev accounts.
func NewDevChain() *memory.Chain {
	c := memory.NewChain(DevOwner, DevStart)
	for _, p := range DevPlans() {
		c.SetPlan(p)
	}
	for _, a := range []common.Address{DevOwner, DevHolder, DevDoctor} {
		c.Fund(a, money.MustParse("1000"))
	}
	return c
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.Sim.CurrentScenario()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario replaces the simulated chain and seeds it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.Sim.LoadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

// LoadScenario resets the chain and runs the scenario's transactions.
func (s *SimulatedAccounts) LoadScenario(ctx context.Context, id string) error {
	var steps []func(ctx context.Context) error
	switch id {
	case "catalog":
	case "active-policies":
		steps = []func(context.Context) error{s.buyPolicies}
	case "claims-review":
		steps = []func(context.Context) error{s.buyPolicies, s.fundContract, s.authorizeDoctor, s.fileClaims}
	case "premium-due":
		steps = []func(context.Context) error{s.buyPolicies, s.elapseMonth}
	default:
		return fmt.Errorf("unknown scenario %q", id)
	}

	s.Replace(NewDevChain())
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return fmt.Errorf("scenario %s: %w", id, err)
		}
	}

	s.mu.Lock()
	s.scenario = id
	s.mu.Unlock()
	return nil
}

// CurrentScenario returns the id of the last scenario that loaded fully,
// or "" when the chain was replaced since.
func (s *SimulatedAccounts) CurrentScenario() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario
}

func (s *SimulatedAccounts) buyPolicies(ctx context.Context) error {
	holder := s.As(DevHolder)
	if err := resultErr(holder.PurchasePolicy(ctx, insurance.PlanBasic, insurance.PaymentMonthly, "ipfs://policies/holder-basic")); err != nil {
		return err
	}
	return resultErr(holder.PurchasePolicy(ctx, insurance.PlanPremium, insurance.PaymentOneTime, "ipfs://policies/holder-premium"))
}

func (s *SimulatedAccounts) fundContract(context.Context) error {
	c := s.Chain()
	c.Fund(c.ContractAddress(), money.MustParse("50"))
	return nil
}

func (s *SimulatedAccounts) authorizeDoctor(ctx context.Context) error {
	return resultErr(s.As(DevOwner).AuthorizeDoctorAddress(ctx, DevDoctor.Hex(), true))
}

func (s *SimulatedAccounts) fileClaims(ctx context.Context) error {
	holder := s.As(DevHolder)
	claims := []facade.ClaimRequest{
		{PolicyID: 1, Amount: "2", Description: "Emergency room visit", DocumentsRef: "ipfs://claims/er-visit"},
		{PolicyID: 2, Amount: "4.5", Description: "MRI scan", DocumentsRef: "ipfs://claims/mri"},
	}
	for _, c := range claims {
		if err := resultErr(holder.SubmitClaim(ctx, c)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulatedAccounts) elapseMonth(context.Context) error {
	s.Chain().Advance(insurance.PremiumPeriod + 24*time.Hour)
	return nil
}

func resultErr(res facade.Result) error {
	if res.Success {
		return nil
	}
	return res.Error
}
