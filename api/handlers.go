/*
handlers.go - HTTP API handlers for the claims engine

PURPOSE:
  Exposes the reconciliation façade via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the façade.
  No handler talks to the ledger directly.

ENDPOINTS:
  Account:
    GET    /api/account                     Connected account and roles

  Catalog:
    GET    /api/plans                       All plans (placeholders on decode failure)
    PUT    /api/plans/{kind}                Update a plan (owner)

  Policies:
    GET    /api/policies?holder=0x..        Policies of holder (default: sender)
    POST   /api/policies                    Purchase a policy
    GET    /api/policies/{id}               One policy
    GET    /api/policies/{id}/claims        Claims of a policy
    POST   /api/policies/{id}/premium       Pay the monthly premium
    POST   /api/policies/{id}/cancel        Cancel

  Claims:
    GET    /api/claims?status=&claimant=&policy=   Claims discovered from events
    POST   /api/claims                      Submit a claim
    GET    /api/claims/{id}                 One claim
    POST   /api/claims/{id}/process         Approve or reject (owner, doctor)

  Doctors:
    GET    /api/doctors                     Authorized doctors
    GET    /api/doctors/{address}           Is this address authorized
    PUT    /api/doctors/{address}           Grant or revoke (owner)

  Admin:
    GET    /api/admin/stats                 Totals, balance, owner, paused
    POST   /api/admin/withdraw              Withdraw (owner)
    POST   /api/admin/pause                 Pause (owner)
    POST   /api/admin/unpause               Unpause (owner)
    GET    /api/journal                     Intent journal (read-only)
    GET    /api/documents/{ref}             Stored claim document or manifest

ERROR HANDLING:
  Mutations always answer with ResultDTO {success, data, error, txHash}.
  Status follows the error kind:
  - 400: validation (404 for not_found, 409 for tx_in_flight)
  - 422: insufficient ledger funds, ledger revert
  - 502: transport (outcome may be unknown; never retried here)
  - 500: decode and anything else

SECURITY NOTE:
  The server signs with one configured key. Anyone who can reach it acts
  as that account. Put it behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - accounts.go: which façade serves a request
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/claims-engine/blob"
	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts Accounts
	Logger   *slog.Logger

	// Sim is set in dev mode only; it enables the scenario endpoints.
	Sim *SimulatedAccounts
}

// NewHandler creates a new handler.
func NewHandler(accounts Accounts, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{Accounts: accounts, Logger: logger}
	if sim, ok := accounts.(*SimulatedAccounts); ok {
		h.Sim = sim
	}
	return h
}

// facade resolves the request's façade or writes a 400.
func (h *Handler) facade(w http.ResponseWriter, r *http.Request) (*facade.Facade, bool) {
	f, err := h.Accounts.For(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return f, true
}

// ledgerNow reads the ledger clock for derived fields. A failure falls
// back to the local clock; derived fields are display only.
func (h *Handler) ledgerNow(ctx context.Context, f *facade.Facade) time.Time {
	now, err := f.Now(ctx)
	if err != nil {
		h.Logger.Warn("ledger clock unavailable, using local time", "error", err)
		return time.Now().UTC()
	}
	return now
}

// =============================================================================
// ACCOUNT
// =============================================================================

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	isOwner, err := f.IsOwner(ctx, f.Sender())
	if err != nil {
		writeError(w, 0, err)
		return
	}
	isDoctor, err := f.IsAuthorizedDoctor(ctx, f.Sender())
	if err != nil {
		writeError(w, 0, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountDTO{
		Address:         f.Sender().Hex(),
		ContractAddress: f.ContractAddress().Hex(),
		IsOwner:         isOwner,
		IsDoctor:        isDoctor,
		LedgerTime:      formatTime(h.ledgerNow(ctx, f)),
	})
}

// =============================================================================
// CATALOG
// =============================================================================

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	plans, err := f.FetchPlans(r.Context())
	if err != nil {
		writeError(w, 0, err)
		return
	}
	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	kind, ok := insurance.ParsePlanKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, 0, insurance.Invalid(insurance.CodeInvalidPlan, "unknown plan %q", chi.URLParam(r, "kind")))
		return
	}
	var req UpdatePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res := f.UpdateInsurancePlan(r.Context(), facade.PlanUpdate{
		Kind:           kind,
		OneTimePrice:   req.OneTimePrice,
		MonthlyPrice:   req.MonthlyPrice,
		CoverageAmount: req.CoverageAmount,
		Deductible:     req.Deductible,
		MetadataRef:    req.MetadataRef,
		IsActive:       req.IsActive,
	})
	h.writeResult(w, r, f, res)
}

// =============================================================================
// POLICIES
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	holder := f.Sender()
	if q := r.URL.Query().Get("holder"); q != "" {
		addr, err := facade.ParseAddress(q)
		if err != nil {
			writeError(w, 0, err)
			return
		}
		holder = addr
	}

	policies, err := f.FetchUserPolicies(r.Context(), holder)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	now := h.ledgerNow(r.Context(), f)
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) PurchasePolicy(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	plan, ok := insurance.ParsePlanKind(req.Plan)
	if !ok {
		writeError(w, 0, insurance.Invalid(insurance.CodeInvalidPlan, "unknown plan %q", req.Plan))
		return
	}
	payment, ok := insurance.ParsePaymentKind(req.PaymentKind)
	if !ok {
		writeError(w, 0, insurance.Invalid(insurance.CodeInvalidPayment, "unknown payment kind %q", req.PaymentKind))
		return
	}

	h.writeResult(w, r, f, f.PurchasePolicy(r.Context(), plan, payment, req.MetadataRef))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	id, ok := policyParam(w, r)
	if !ok {
		return
	}
	p, err := f.FetchPolicy(r.Context(), id)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(p, h.ledgerNow(r.Context(), f)))
}

func (h *Handler) ListPolicyClaims(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	id, ok := policyParam(w, r)
	if !ok {
		return
	}
	claims, err := f.FetchPolicyClaims(r.Context(), id)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(claims))
}

func (h *Handler) PayPremium(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	id, ok := policyParam(w, r)
	if !ok {
		return
	}
	h.writeResult(w, r, f, f.PayMonthlyPremium(r.Context(), id))
}

func (h *Handler) CancelPolicy(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	id, ok := policyParam(w, r)
	if !ok {
		return
	}
	h.writeResult(w, r, f, f.CancelPolicy(r.Context(), id))
}

// =============================================================================
// CLAIMS
// =============================================================================

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var filter facade.ClaimFilter
	if s := q.Get("status"); s != "" {
		status, ok := insurance.ParseClaimStatus(s)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown claim status %q", s))
			return
		}
		filter.Status = &status
	}
	if s := q.Get("claimant"); s != "" {
		addr, err := facade.ParseAddress(s)
		if err != nil {
			writeError(w, 0, err)
			return
		}
		filter.Claimant = &addr
	}
	if s := q.Get("policy"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad policy id %q", s))
			return
		}
		pid := insurance.PolicyID(id)
		filter.PolicyID = &pid
	}

	claims, err := f.FetchClaimsWithEvents(r.Context(), filter)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(claims))
}

func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	var req SubmitClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cr := facade.ClaimRequest{
		PolicyID:     insurance.PolicyID(req.PolicyID),
		Amount:       req.Amount,
		Description:  req.Description,
		DocumentsRef: req.DocumentsRef,
	}
	for _, d := range req.Documents {
		cr.Documents = append(cr.Documents, facade.Document{Name: d.Name, ContentType: d.ContentType, Data: d.Data})
	}
	h.writeResult(w, r, f, f.SubmitClaim(r.Context(), cr))
}

func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	id, ok := claimParam(w, r)
	if !ok {
		return
	}
	c, err := f.FetchClaim(r.Context(), id)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

func (h *Handler) ProcessClaim(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	id, ok := claimParam(w, r)
	if !ok {
		return
	}
	var req ProcessClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.writeResult(w, r, f, f.ProcessClaim(r.Context(), id, req.Approve, req.ApprovedAmount))
}

// =============================================================================
// DOCTORS
// =============================================================================

func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	doctors, err := f.FetchAuthorizedDoctors(r.Context())
	if err != nil {
		writeError(w, 0, err)
		return
	}
	dtos := make([]DoctorDTO, len(doctors))
	for i, d := range doctors {
		dtos[i] = DoctorDTO{Address: d.Doctor.Hex(), Authorized: d.Authorized, Block: d.Block}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	addr, err := facade.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, 0, err)
		return
	}
	authorized, err := f.IsAuthorizedDoctor(r.Context(), addr)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, DoctorDTO{Address: addr.Hex(), Authorized: authorized})
}

func (h *Handler) AuthorizeDoctor(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	var req AuthorizeDoctorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.writeResult(w, r, f, f.AuthorizeDoctorAddress(r.Context(), chi.URLParam(r, "address"), req.Authorized))
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	s, err := f.Stats(r.Context())
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(s))
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.writeResult(w, r, f, f.Withdraw(r.Context(), req.Amount))
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	h.writeResult(w, r, f, f.Pause(r.Context()))
}

func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	h.writeResult(w, r, f, f.Unpause(r.Context()))
}

func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := facade.JournalFilter{
		IntentID:  q.Get("intent"),
		IntentKey: q.Get("key"),
		Limit:     100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}
	if s := q.Get("actor"); s != "" {
		addr, err := facade.ParseAddress(s)
		if err != nil {
			writeError(w, 0, err)
			return
		}
		filter.Actor = &addr
	}
	for _, p := range q["phase"] {
		filter.Phases = append(filter.Phases, facade.Phase(p))
	}

	entries, err := f.Journal().Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []facade.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, journalPage{Entries: entries})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facade(w, r)
	if !ok {
		return
	}
	ref := blob.Ref(chi.URLParam(r, "ref"))
	data, err := f.Blobs().Get(r.Context(), ref)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, blob.ErrInvalidRef):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a failed ResultDTO. A zero status is derived from the
// error kind.
func writeError(w http.ResponseWriter, status int, err error) {
	if status == 0 {
		status = statusFor(err)
	}
	dto := toErrorDTO(err)
	if dto.Kind == string(insurance.KindUnknown) && status == http.StatusBadRequest {
		dto.Kind = string(insurance.KindValidation)
	}
	writeJSON(w, status, ResultDTO{Success: false, Error: dto})
}

func statusFor(err error) int {
	switch insurance.KindOf(err) {
	case insurance.KindValidation:
		var verr *insurance.ValidationError
		if errors.As(err, &verr) {
			switch verr.Code {
			case insurance.CodeNotFound:
				return http.StatusNotFound
			case insurance.CodeTxInFlight:
				return http.StatusConflict
			}
		}
		return http.StatusBadRequest
	case insurance.KindInsufficientFunds, insurance.KindLedgerRevert:
		return http.StatusUnprocessableEntity
	case insurance.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeResult serializes a mutation outcome, converting domain data to DTOs.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, f *facade.Facade, res facade.Result) {
	if !res.Success {
		dto := ResultDTO{Success: false, Error: toErrorDTO(res.Error), TxHash: res.TxHash}
		writeJSON(w, statusFor(res.Error), dto)
		return
	}
	writeJSON(w, http.StatusOK, ResultDTO{
		Success: true,
		Data:    h.toDataDTO(r.Context(), f, res.Data),
		TxHash:  res.TxHash,
	})
}

func (h *Handler) toDataDTO(ctx context.Context, f *facade.Facade, data any) any {
	switch v := data.(type) {
	case insurance.Policy:
		return toPolicyDTO(v, h.ledgerNow(ctx, f))
	case insurance.Claim:
		return toClaimDTO(v)
	case insurance.InsurancePlan:
		return toPlanDTO(v)
	case insurance.DoctorAuthorization:
		return DoctorDTO{Address: v.Doctor.Hex(), Authorized: v.Authorized, Block: v.Block}
	case money.Amount:
		return money.ToDecimalString(v)
	default:
		return v
	}
}

func toStatsDTO(s insurance.ContractStats) StatsDTO {
	return StatsDTO{
		TotalPolicies: s.TotalPolicies,
		TotalClaims:   s.TotalClaims,
		Balance:       money.ToDecimalString(s.Balance),
		Owner:         s.Owner.Hex(),
		Paused:        s.Paused,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func policyParam(w http.ResponseWriter, r *http.Request) (insurance.PolicyID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, 0, insurance.Invalid(insurance.CodeNotFound, "policy %q does not exist", chi.URLParam(r, "id")))
		return 0, false
	}
	return insurance.PolicyID(id), true
}

func claimParam(w http.ResponseWriter, r *http.Request) (insurance.ClaimID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, 0, insurance.Invalid(insurance.CodeNotFound, "claim %q does not exist", chi.URLParam(r, "id")))
		return 0, false
	}
	return insurance.ClaimID(id), true
}
