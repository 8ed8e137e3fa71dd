/*
mutations.go - Mutating use cases

FLOW (every use case):
  1. Acquire the in-flight guard for the intent key; a held key fails
     with ValidationError{tx_in_flight} and nothing is submitted
  2. Read what the guards need and evaluate them against the ledger clock
  3. Convert decimal inputs to ledger units
  4. Journal "submitted", Submit, Await, journal the outcome
  5. Re-read the affected entity and return it as Result.Data

A failed guard or pre-flight never touches the ledger. A transport error
after Submit leaves the outcome unknown: the intent is journaled as
"failed" and is never resubmitted here.

INTENT KEYS:
  purchasePolicy:<sender>:<plan>   payMonthlyPremium:<policy>
  submitClaim:<policy>             processClaim:<claim>
  cancelPolicy:<policy>            authorizeDoctorAddress:<doctor>
  updateInsurancePlan:<plan>       withdraw  pause  unpause
*/
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/warp/claims-engine/blob"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// SUBMISSION PIPELINE
// =============================================================================

type intent struct {
	key     string
	spec    ledger.TxSpec
	payload map[string]any
}

// refresher re-reads fresh state after a confirmed transaction.
type refresher func(ctx context.Context, r ledger.Receipt) (any, error)

// run executes the guarded use case: prepare runs the local checks and
// returns the intent to submit, or an error that stops everything.
func (f *Facade) run(ctx context.Context, key string, prepare func(ctx context.Context) (intent, refresher, error)) Result {
	ok, err := f.guard.Acquire(ctx, key)
	if err != nil {
		f.logger.Error("in-flight guard unavailable", "intent", key, "error", err)
		return failure(&insurance.TransportError{Op: "guard", Err: err})
	}
	if !ok {
		return failure(insurance.Invalid(insurance.CodeTxInFlight,
			"a transaction for %s is still awaiting confirmation", key))
	}
	defer func() {
		// Release must outlive a cancelled request context.
		if err := f.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			f.logger.Error("in-flight guard release failed", "intent", key, "error", err)
		}
	}()

	in, refresh, err := prepare(ctx)
	if err != nil {
		return failure(Normalize(key, err))
	}
	in.key = key
	return f.submit(ctx, in, refresh)
}

func (f *Facade) submit(ctx context.Context, in intent, refresh refresher) Result {
	f.submitMu.Lock()
	defer f.submitMu.Unlock()

	op := string(in.spec.Method)
	intentID := uuid.NewString()
	logger := f.logger.With("intent", in.key, "intent_id", intentID, "method", op)

	if err := f.record(ctx, intentID, in, PhaseSubmitted, "", ""); err != nil {
		logger.Error("journal unavailable, not submitting", "error", err)
		return failure(fmt.Errorf("journal %s: %w", in.key, err))
	}

	handle, err := f.gw.Submit(ctx, in.spec)
	if err != nil {
		return f.settleFailure(ctx, logger, intentID, in, "", err)
	}
	txHash := handle.Hash.Hex()
	logger.Info("transaction submitted", "tx", txHash)

	receipt, err := f.gw.Await(ctx, handle)
	if err != nil {
		res := f.settleFailure(ctx, logger, intentID, in, txHash, err)
		res.TxHash = txHash
		return res
	}

	_ = f.record(ctx, intentID, in, PhaseConfirmed, txHash, "")
	logger.Info("transaction confirmed", "tx", txHash, "block", receipt.BlockNumber)

	notice := Notice{
		IntentID:  intentID,
		Method:    in.spec.Method,
		Actor:     f.gw.Sender(),
		TxHash:    txHash,
		Block:     receipt.BlockNumber,
		Payload:   in.payload,
		Confirmed: time.Now().UTC(),
	}
	if err := f.notifier.Publish(context.WithoutCancel(ctx), notice); err != nil {
		logger.Warn("notification publish failed", "tx", txHash, "error", err)
	}

	res := Result{Success: true, TxHash: txHash}
	if refresh != nil {
		data, err := refresh(ctx, receipt)
		if err != nil {
			// Confirmed on the ledger; only the re-read failed.
			logger.Warn("post-confirmation refresh failed", "tx", txHash, "error", err)
		} else {
			res.Data = data
		}
	}
	return res
}

func (f *Facade) settleFailure(ctx context.Context, logger *slog.Logger, intentID string, in intent, txHash string, err error) Result {
	norm := Normalize(string(in.spec.Method), err)

	phase := PhaseFailed
	reason := norm.Error()
	var revert *insurance.RevertError
	if errors.As(norm, &revert) {
		phase = PhaseReverted
		reason = revert.Reason
		logger.Warn("transaction reverted", "tx", txHash, "reason", reason)
	} else {
		logger.Error("transaction outcome unknown", "tx", txHash, "error", err)
	}
	_ = f.record(ctx, intentID, in, phase, txHash, reason)
	return failure(norm)
}

func (f *Facade) record(ctx context.Context, intentID string, in intent, phase Phase, txHash, reason string) error {
	err := f.journal.Append(context.WithoutCancel(ctx), JournalEntry{
		ID:             uuid.NewString(),
		IntentID:       intentID,
		IntentKey:      in.key,
		Method:         in.spec.Method,
		Phase:          phase,
		Actor:          f.gw.Sender(),
		TxHash:         txHash,
		Reason:         reason,
		Payload:        in.payload,
		IdempotencyKey: intentID + ":" + string(phase),
		RecordedAt:     time.Now().UTC(),
	})
	if err != nil && phase != PhaseSubmitted {
		f.logger.Error("journal append failed", "intent_id", intentID, "phase", phase, "error", err)
	}
	return err
}

// =============================================================================
// SHARED PRE-CHECKS
// =============================================================================

func (f *Facade) requireUnpaused(ctx context.Context) error {
	paused, err := f.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return insurance.Invalid(insurance.CodeContractPaused, "the contract is paused")
	}
	return nil
}

func (f *Facade) requireOwner(ctx context.Context, action string) error {
	owner, err := f.Owner(ctx)
	if err != nil {
		return err
	}
	return insurance.RequireOwner(f.gw.Sender(), owner, action)
}

func parseAmount(field, s string) (money.Amount, error) {
	a, err := money.ToLedgerUnits(s)
	if err != nil {
		return money.Zero(), insurance.Invalid(insurance.CodeInvalidAmount, "%s: %v", field, err)
	}
	return a, nil
}

// ParseAddress validates a hex address from user input.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, insurance.Invalid(insurance.CodeInvalidAddress, "%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}

func eventOf(r ledger.Receipt, kind ledger.EventKind) (ledger.Event, bool) {
	for _, e := range r.Events {
		if e.Kind == kind {
			return e, true
		}
	}
	return ledger.Event{}, false
}

// =============================================================================
// POLICIES
// =============================================================================

// PurchasePolicy buys a policy on plan, paying the plan's price for the
// payment kind. The price always comes from the ledger catalog.
func (f *Facade) PurchasePolicy(ctx context.Context, plan insurance.PlanKind, payment insurance.PaymentKind, metadataRef string) Result {
	key := fmt.Sprintf("%s:%s:%s", ledger.MethodPurchasePolicy, f.gw.Sender().Hex(), plan)
	return f.run(ctx, key, func(ctx context.Context) (intent, refresher, error) {
		if !plan.Valid() {
			return intent{}, nil, insurance.Invalid(insurance.CodeInvalidPlan, "unknown plan %s", plan)
		}
		if !payment.Valid() {
			return intent{}, nil, insurance.Invalid(insurance.CodeInvalidPayment, "unknown payment kind %s", payment)
		}
		if err := f.requireUnpaused(ctx); err != nil {
			return intent{}, nil, err
		}
		p, err := f.FetchPlan(ctx, plan)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CheckPurchase(p, payment); err != nil {
			return intent{}, nil, err
		}
		price := p.PriceFor(payment)

		in := intent{
			spec: ledger.TxSpec{
				Method: ledger.MethodPurchasePolicy,
				Args:   []any{uint8(plan), uint8(payment), metadataRef},
				Value:  price.BigInt(),
			},
			payload: map[string]any{"plan": plan.String(), "payment": payment.String(), "premium": price.String()},
		}
		return in, func(ctx context.Context, r ledger.Receipt) (any, error) {
			e, ok := eventOf(r, ledger.EventPolicyPurchased)
			if !ok {
				return nil, errors.New("receipt has no PolicyPurchased event")
			}
			id, err := insurance.DecodePolicyPurchased(e)
			if err != nil {
				return nil, err
			}
			return f.FetchPolicy(ctx, id)
		}, nil
	})
}

// PayMonthlyPremium extends a monthly policy by one period. It is only
// accepted once the policy's end date has passed on the ledger clock.
func (f *Facade) PayMonthlyPremium(ctx context.Context, id insurance.PolicyID) Result {
	key := fmt.Sprintf("%s:%d", ledger.MethodPayMonthlyPremium, id)
	return f.run(ctx, key, func(ctx context.Context) (intent, refresher, error) {
		if err := f.requireUnpaused(ctx); err != nil {
			return intent{}, nil, err
		}
		p, err := f.FetchPolicy(ctx, id)
		if err != nil {
			return intent{}, nil, err
		}
		now, err := f.Now(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CheckPremiumPayment(p, f.gw.Sender(), now); err != nil {
			return intent{}, nil, err
		}

		in := intent{
			spec: ledger.TxSpec{
				Method: ledger.MethodPayMonthlyPremium,
				Args:   []any{id.Big()},
				Value:  p.Premium.BigInt(),
			},
			payload: map[string]any{"policyId": uint64(id), "amount": p.Premium.String()},
		}
		return in, f.refreshPolicy(id), nil
	})
}

// CancelPolicy cancels an active policy. Irreversible.
func (f *Facade) CancelPolicy(ctx context.Context, id insurance.PolicyID) Result {
	key := fmt.Sprintf("%s:%d", ledger.MethodCancelPolicy, id)
	return f.run(ctx, key, func(ctx context.Context) (intent, refresher, error) {
		if err := f.requireUnpaused(ctx); err != nil {
			return intent{}, nil, err
		}
		p, err := f.FetchPolicy(ctx, id)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CheckCancel(p, f.gw.Sender()); err != nil {
			return intent{}, nil, err
		}
		in := intent{
			spec:    ledger.TxSpec{Method: ledger.MethodCancelPolicy, Args: []any{id.Big()}},
			payload: map[string]any{"policyId": uint64(id)},
		}
		return in, f.refreshPolicy(id), nil
	})
}

func (f *Facade) refreshPolicy(id insurance.PolicyID) refresher {
	return func(ctx context.Context, _ ledger.Receipt) (any, error) {
		return f.FetchPolicy(ctx, id)
	}
}

// =============================================================================
// CLAIMS
// =============================================================================

// Document is a raw file attached to a claim.
type Document struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// DocumentManifest is the JSON stored in the blob store when a claim
// carries raw documents. Its reference becomes the claim's documentsRef.
type DocumentManifest struct {
	PolicyID  uint64          `json:"policyId"`
	Documents []ManifestEntry `json:"documents"`
}

type ManifestEntry struct {
	Name        string   `json:"name"`
	ContentType string   `json:"contentType"`
	Size        int      `json:"size"`
	Ref         blob.Ref `json:"ref"`
}

// ClaimRequest is the input of SubmitClaim. Amount is a decimal string.
// DocumentsRef is used as-is unless Documents is non-empty.
type ClaimRequest struct {
	PolicyID     insurance.PolicyID
	Amount       string
	Description  string
	DocumentsRef string
	Documents    []Document
}

// SubmitClaim files a claim against one of the sender's valid policies.
func (f *Facade) SubmitClaim(ctx context.Context, req ClaimRequest) Result {
	key := fmt.Sprintf("%s:%d", ledger.MethodSubmitClaim, req.PolicyID)
	return f.run(ctx, key, func(ctx context.Context) (intent, refresher, error) {
		amount, err := parseAmount("claim amount", req.Amount)
		if err != nil {
			return intent{}, nil, err
		}
		if err := f.requireUnpaused(ctx); err != nil {
			return intent{}, nil, err
		}
		p, err := f.FetchPolicy(ctx, req.PolicyID)
		if err != nil {
			return intent{}, nil, err
		}
		now, err := f.Now(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CheckClaimSubmission(p, f.gw.Sender(), amount, now); err != nil {
			return intent{}, nil, err
		}

		docsRef := req.DocumentsRef
		if len(req.Documents) > 0 {
			ref, err := f.storeDocuments(ctx, req.PolicyID, req.Documents)
			if err != nil {
				return intent{}, nil, err
			}
			docsRef = string(ref)
		}

		in := intent{
			spec: ledger.TxSpec{
				Method: ledger.MethodSubmitClaim,
				Args:   []any{req.PolicyID.Big(), amount.BigInt(), docsRef, req.Description},
			},
			payload: map[string]any{"policyId": uint64(req.PolicyID), "amount": amount.String(), "documentsRef": docsRef},
		}
		return in, func(ctx context.Context, r ledger.Receipt) (any, error) {
			e, ok := eventOf(r, ledger.EventClaimSubmitted)
			if !ok {
				return nil, errors.New("receipt has no ClaimSubmitted event")
			}
			s, err := insurance.DecodeClaimSubmitted(e)
			if err != nil {
				return nil, err
			}
			return f.FetchClaim(ctx, s.ClaimID)
		}, nil
	})
}

func (f *Facade) storeDocuments(ctx context.Context, policyID insurance.PolicyID, docs []Document) (blob.Ref, error) {
	manifest := DocumentManifest{PolicyID: uint64(policyID)}
	for _, d := range docs {
		ref, err := f.blobs.Put(ctx, d.Data)
		if err != nil {
			return "", fmt.Errorf("store document %s: %w", d.Name, err)
		}
		manifest.Documents = append(manifest.Documents, ManifestEntry{
			Name: d.Name, ContentType: d.ContentType, Size: len(d.Data), Ref: ref,
		})
	}
	ref, err := blob.PutJSON(ctx, f.blobs, manifest)
	if err != nil {
		return "", fmt.Errorf("store document manifest: %w", err)
	}
	return ref, nil
}

// ProcessClaim approves or rejects a pending claim. approvedAmount is a
// decimal string and is ignored on rejection.
//
// The doctor registry is replayed immediately before the authorization
// check; a cached view could still list a revoked doctor.
func (f *Facade) ProcessClaim(ctx context.Context, id insurance.ClaimID, approve bool, approvedAmount string) Result {
	key := fmt.Sprintf("%s:%d", ledger.MethodProcessClaim, id)
	return f.run(ctx, key, func(ctx context.Context) (intent, refresher, error) {
		amount := money.Zero()
		if approve {
			a, err := parseAmount("approved amount", approvedAmount)
			if err != nil {
				return intent{}, nil, err
			}
			amount = a
		}
		if err := f.requireUnpaused(ctx); err != nil {
			return intent{}, nil, err
		}

		reg, err := f.RefreshRegistry(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		owner, err := f.Owner(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CanProcess(f.gw.Sender(), owner, reg); err != nil {
			return intent{}, nil, err
		}

		c, err := f.FetchClaim(ctx, id)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CheckClaimDecision(c, approve, amount); err != nil {
			return intent{}, nil, err
		}

		if approve {
			p, err := f.FetchPolicy(ctx, c.PolicyID)
			if err != nil {
				return intent{}, nil, err
			}
			if err := insurance.CheckApprovalCoverage(p, amount); err != nil {
				return intent{}, nil, err
			}
			balance, err := f.ContractBalance(ctx)
			if err != nil {
				return intent{}, nil, err
			}
			if err := insurance.CheckPayout(amount, p.Deductible, balance); err != nil {
				return intent{}, nil, err
			}
		}

		in := intent{
			spec: ledger.TxSpec{
				Method: ledger.MethodProcessClaim,
				Args:   []any{id.Big(), approve, amount.BigInt()},
			},
			payload: map[string]any{"claimId": uint64(id), "approve": approve, "approvedAmount": amount.String()},
		}
		return in, func(ctx context.Context, _ ledger.Receipt) (any, error) {
			return f.FetchClaim(ctx, id)
		}, nil
	})
}

// =============================================================================
// OWNER OPERATIONS
// =============================================================================

// AuthorizeDoctorAddress grants or revokes claim-processing rights.
func (f *Facade) AuthorizeDoctorAddress(ctx context.Context, doctor string, authorized bool) Result {
	addr, err := ParseAddress(doctor)
	if err != nil {
		return failure(err)
	}
	key := fmt.Sprintf("%s:%s", ledger.MethodAuthorizeDoctor, addr.Hex())
	return f.run(ctx, key, func(ctx context.Context) (intent, refresher, error) {
		if err := f.requireOwner(ctx, "authorize doctors"); err != nil {
			return intent{}, nil, err
		}
		if err := f.requireUnpaused(ctx); err != nil {
			return intent{}, nil, err
		}
		in := intent{
			spec:    ledger.TxSpec{Method: ledger.MethodAuthorizeDoctor, Args: []any{addr, authorized}},
			payload: map[string]any{"doctor": addr.Hex(), "authorized": authorized},
		}
		return in, func(ctx context.Context, _ ledger.Receipt) (any, error) {
			reg, err := f.RefreshRegistry(ctx)
			if err != nil {
				return nil, err
			}
			a, _ := reg.Lookup(addr)
			return a, nil
		}, nil
	})
}

// PlanUpdate is the input of UpdateInsurancePlan. Amounts are decimal strings.
type PlanUpdate struct {
	Kind           insurance.PlanKind
	OneTimePrice   string
	MonthlyPrice   string
	CoverageAmount string
	Deductible     string
	MetadataRef    string
	IsActive       bool
}

func (u PlanUpdate) parse() (insurance.InsurancePlan, error) {
	p := insurance.InsurancePlan{Kind: u.Kind, MetadataRef: u.MetadataRef, IsActive: u.IsActive}
	fields := []struct {
		name string
		in   string
		out  *money.Amount
	}{
		{"one-time price", u.OneTimePrice, &p.OneTimePrice},
		{"monthly price", u.MonthlyPrice, &p.MonthlyPrice},
		{"coverage amount", u.CoverageAmount, &p.CoverageAmount},
		{"deductible", u.Deductible, &p.Deductible},
	}
	for _, fl := range fields {
		a, err := parseAmount(fl.name, fl.in)
		if err != nil {
			return insurance.InsurancePlan{}, err
		}
		*fl.out = a
	}
	return p, nil
}

// UpdateInsurancePlan rewrites a catalog entry.
func (f *Facade) UpdateInsurancePlan(ctx context.Context, u PlanUpdate) Result {
	key := fmt.Sprintf("%s:%s", ledger.MethodUpdateInsurancePlan, u.Kind)
	return f.run(ctx, key, func(ctx context.Context) (intent, refresher, error) {
		plan, err := u.parse()
		if err != nil {
			return intent{}, nil, err
		}
		owner, err := f.Owner(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CheckPlanUpdate(f.gw.Sender(), owner, plan); err != nil {
			return intent{}, nil, err
		}
		if err := f.requireUnpaused(ctx); err != nil {
			return intent{}, nil, err
		}
		in := intent{
			spec: ledger.TxSpec{
				Method: ledger.MethodUpdateInsurancePlan,
				Args: []any{
					uint8(plan.Kind), plan.OneTimePrice.BigInt(), plan.MonthlyPrice.BigInt(),
					plan.CoverageAmount.BigInt(), plan.Deductible.BigInt(), plan.MetadataRef, plan.IsActive,
				},
			},
			payload: map[string]any{"plan": plan.Kind.String(), "active": plan.IsActive},
		}
		return in, func(ctx context.Context, _ ledger.Receipt) (any, error) {
			return f.FetchPlan(ctx, plan.Kind)
		}, nil
	})
}

// Withdraw moves funds from the contract to the owner. Allowed while paused.
func (f *Facade) Withdraw(ctx context.Context, amount string) Result {
	return f.run(ctx, string(ledger.MethodWithdraw), func(ctx context.Context) (intent, refresher, error) {
		a, err := parseAmount("withdrawal", amount)
		if err != nil {
			return intent{}, nil, err
		}
		owner, err := f.Owner(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		balance, err := f.ContractBalance(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		if err := insurance.CheckWithdraw(f.gw.Sender(), owner, a, balance); err != nil {
			return intent{}, nil, err
		}
		in := intent{
			spec:    ledger.TxSpec{Method: ledger.MethodWithdraw, Args: []any{a.BigInt()}},
			payload: map[string]any{"amount": a.String()},
		}
		return in, func(ctx context.Context, _ ledger.Receipt) (any, error) {
			return f.ContractBalance(ctx)
		}, nil
	})
}

// Pause halts every mutator except Unpause and Withdraw.
func (f *Facade) Pause(ctx context.Context) Result {
	return f.setPaused(ctx, true)
}

// Unpause resumes normal operation.
func (f *Facade) Unpause(ctx context.Context) Result {
	return f.setPaused(ctx, false)
}

func (f *Facade) setPaused(ctx context.Context, pause bool) Result {
	method := ledger.MethodUnpause
	if pause {
		method = ledger.MethodPause
	}
	return f.run(ctx, string(method), func(ctx context.Context) (intent, refresher, error) {
		if err := f.requireOwner(ctx, string(method)); err != nil {
			return intent{}, nil, err
		}
		paused, err := f.Paused(ctx)
		if err != nil {
			return intent{}, nil, err
		}
		if paused == pause {
			return intent{}, nil, insurance.Invalid(insurance.CodeInvalidTransition, "the contract is already %s", pausedWord(paused))
		}
		in := intent{spec: ledger.TxSpec{Method: method}}
		return in, func(ctx context.Context, _ ledger.Receipt) (any, error) {
			return f.Paused(ctx)
		}, nil
	})
}

func pausedWord(p bool) string {
	if p {
		return "paused"
	}
	return "unpaused"
}
