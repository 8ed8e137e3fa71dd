package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
)

// =============================================================================
// GATEWAY - ledger.Gateway over a shared Chain
// =============================================================================

// Gateway is one account's connection to a Chain.
type Gateway struct {
	chain *Chain
	from  common.Address
}

var _ ledger.Gateway = (*Gateway)(nil)

// errInsufficientSenderFunds mimics the node rejecting an unfundable transaction.
var errInsufficientSenderFunds = errors.New("insufficient funds for gas * price + value")

// Chain exposes the underlying simulated ledger.
func (g *Gateway) Chain() *Chain { return g.chain }

func (g *Gateway) Sender() common.Address          { return g.from }
func (g *Gateway) ContractAddress() common.Address { return g.chain.contract }

func (g *Gateway) ReadEntity(ctx context.Context, kind ledger.EntityKind, key any) (ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Record{}, ledger.Transport(string(kind), err)
	}
	c := g.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return ledger.Record{}, ledger.Transport(string(kind), err)
	}

	switch kind {
	case ledger.EntityPolicy:
		id, ok := keyIndex(key)
		if !ok || id == 0 || id > uint64(len(c.policies)) {
			return ledger.Record{}, ledger.NotFound(kind, key)
		}
		return c.policyRecord(c.policies[id-1]), nil
	case ledger.EntityClaim:
		id, ok := keyIndex(key)
		if !ok || id == 0 || id > uint64(len(c.claims)) {
			return ledger.Record{}, ledger.NotFound(kind, key)
		}
		return c.claimRecord(c.claims[id-1]), nil
	case ledger.EntityPlan:
		k, ok := keyIndex(key)
		if !ok || k > 255 {
			return ledger.Record{}, ledger.NotFound(kind, key)
		}
		plan, ok := c.plans[insurance.PlanKind(k)]
		if !ok {
			// Unset mapping slots read as zero values on a real contract.
			plan = insurance.InsurancePlan{Kind: insurance.PlanKind(k)}
		}
		return c.planRecord(plan), nil
	case ledger.EntityDoctor:
		addr, ok := key.(common.Address)
		if !ok {
			return ledger.Record{}, ledger.NotFound(kind, key)
		}
		return ledger.Record{Positional: []any{c.doctors[addr]}}, nil
	default:
		return ledger.Record{}, ledger.NotFound(kind, key)
	}
}

func (g *Gateway) Call(ctx context.Context, method ledger.Method, args ...any) (ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Record{}, ledger.Transport(string(method), err)
	}
	c := g.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return ledger.Record{}, ledger.Transport(string(method), err)
	}

	single := func(v any) (ledger.Record, error) { return ledger.Record{Positional: []any{v}}, nil }

	switch method {
	case ledger.MethodOwner:
		return single(c.owner)
	case ledger.MethodPaused:
		return single(c.paused)
	case ledger.MethodGetTotalPolicies:
		return single(new(big.Int).SetUint64(uint64(len(c.policies))))
	case ledger.MethodGetTotalClaims:
		return single(new(big.Int).SetUint64(uint64(len(c.claims))))
	case ledger.MethodGetContractBalance:
		return single(new(big.Int).Set(c.balanceOf(c.contract)))
	case ledger.MethodGetUserPolicies:
		if len(args) != 1 {
			break
		}
		addr, ok := args[0].(common.Address)
		if !ok {
			break
		}
		ids := make([]*big.Int, 0, len(c.userPolicies[addr]))
		for _, id := range c.userPolicies[addr] {
			ids = append(ids, id.Big())
		}
		return single(ids)
	case ledger.MethodGetPolicyClaims, ledger.MethodIsPolicyValid, ledger.MethodGetRemainingCover:
		if len(args) != 1 {
			break
		}
		id, ok := keyIndex(args[0])
		if !ok {
			break
		}
		switch method {
		case ledger.MethodGetPolicyClaims:
			ids := make([]*big.Int, 0)
			for _, cid := range c.policyClaims[insurance.PolicyID(id)] {
				ids = append(ids, cid.Big())
			}
			return single(ids)
		case ledger.MethodIsPolicyValid:
			if id == 0 || id > uint64(len(c.policies)) {
				return single(false)
			}
			return single(insurance.IsPolicyValid(c.policies[id-1], c.clock))
		default:
			if id == 0 || id > uint64(len(c.policies)) {
				return single(new(big.Int))
			}
			return single(c.policies[id-1].RemainingCoverage().BigInt())
		}
	default:
		return ledger.Record{}, ledger.Reverted(string(method), ReasonUnknownMethod)
	}
	return ledger.Record{}, ledger.Reverted(string(method), ReasonBadArguments)
}

func (g *Gateway) ReadEvents(ctx context.Context, kind ledger.EventKind, fromBlock uint64, toBlock *uint64) ([]ledger.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.Transport("events", err)
	}
	c := g.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return nil, ledger.Transport("events", err)
	}

	var out []ledger.Event
	for _, e := range c.events {
		if e.Kind != kind || e.Position.Block < fromBlock {
			continue
		}
		if toBlock != nil && e.Position.Block > *toBlock {
			continue
		}
		out = append(out, copyEvent(e))
	}
	if c.ReverseEvents {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// Submit executes the transaction in a fresh block immediately. A revert is
// recorded against the handle and surfaces from Await, as on a real network.
func (g *Gateway) Submit(ctx context.Context, spec ledger.TxSpec) (ledger.TxHandle, error) {
	op := string(spec.Method)
	if err := ctx.Err(); err != nil {
		return ledger.TxHandle{}, ledger.Transport(op, err)
	}
	c := g.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return ledger.TxHandle{}, ledger.Transport(op, err)
	}

	value := spec.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return ledger.TxHandle{}, ledger.Transport(op, fmt.Errorf("negative value %s", value))
	}
	if c.balanceOf(g.from).Cmp(value) < 0 {
		return ledger.TxHandle{}, ledger.Transport(op, errInsufficientSenderFunds)
	}

	c.submissions++
	c.block++
	hash := c.nextHash()
	handle := ledger.TxHandle{Hash: hash, Method: spec.Method, From: g.from}

	var (
		events []ledger.Event
		reason revert
	)
	if value.Sign() > 0 && spec.Method != ledger.MethodPurchasePolicy && spec.Method != ledger.MethodPayMonthlyPremium {
		reason = "function is not payable"
	} else {
		events, reason = c.execute(g.from, spec, hash)
	}

	if reason != "" {
		c.receipts[hash] = outcome{reason: string(reason), failed: true}
		return handle, nil
	}

	c.debit(g.from, value)
	c.events = append(c.events, events...)
	c.receipts[hash] = outcome{receipt: ledger.Receipt{
		TxHash:      hash,
		BlockNumber: c.block,
		GasUsed:     21000,
		Events:      events,
	}}
	return handle, nil
}

func (g *Gateway) Await(ctx context.Context, h ledger.TxHandle) (ledger.Receipt, error) {
	op := string(h.Method)
	c := g.chain

	c.mu.RLock()
	gate := c.gate
	c.mu.RUnlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ledger.Receipt{}, ledger.Transport(op, ctx.Err())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return ledger.Receipt{}, ledger.Transport(op, err)
	}
	out, ok := c.receipts[h.Hash]
	if !ok {
		return ledger.Receipt{}, ledger.Transport(op, fmt.Errorf("unknown transaction %s", h.Hash.Hex()))
	}
	if out.failed {
		return ledger.Receipt{}, ledger.Reverted(op, out.reason)
	}
	return out.receipt, nil
}

func (g *Gateway) CurrentBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.Transport("balance", err)
	}
	c := g.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return nil, ledger.Transport("balance", err)
	}
	return new(big.Int).Set(c.balanceOf(addr)), nil
}

func (g *Gateway) Head(ctx context.Context) (ledger.Head, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Head{}, ledger.Transport("head", err)
	}
	c := g.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return ledger.Head{}, ledger.Transport("head", err)
	}
	return ledger.Head{Number: c.block, Time: c.clock}, nil
}

// =============================================================================
// RECORD ENCODING
// =============================================================================

var (
	policyNames = []string{"policyId", "policyholder", "planType", "paymentType", "coverageAmount",
		"deductible", "premium", "startDate", "endDate", "lastPaymentDate", "status", "ipfsHash",
		"totalPaid", "claimsUsed"}
	claimNames = []string{"claimId", "policyId", "claimant", "claimAmount", "approvedAmount", "status",
		"submissionDate", "processedDate", "ipfsDocuments", "description"}
	planNames = []string{"planType", "oneTimePrice", "monthlyPrice", "coverageAmount", "deductible",
		"ipfsMetadata", "isActive"}
)

func (c *Chain) record(names []string, values []any) ledger.Record {
	var r ledger.Record
	if c.Shape != ShapeNamed {
		r.Positional = values
	}
	if c.Shape != ShapePositional {
		r.Named = make(map[string]any, len(names))
		for i, n := range names {
			r.Named[n] = values[i]
		}
	}
	return r
}

func (c *Chain) policyRecord(p insurance.Policy) ledger.Record {
	return c.record(policyNames, []any{
		p.ID.Big(), p.Policyholder, uint8(p.PlanKind), uint8(p.PaymentKind),
		p.CoverageAmount.BigInt(), p.Deductible.BigInt(), p.Premium.BigInt(),
		unixBig(p.StartDate), unixBig(p.EndDate), unixBig(p.LastPaymentDate),
		uint8(p.Status), p.MetadataRef, p.TotalPaid.BigInt(), p.ClaimsUsed.BigInt(),
	})
}

func (c *Chain) claimRecord(cl insurance.Claim) ledger.Record {
	return c.record(claimNames, []any{
		cl.ID.Big(), cl.PolicyID.Big(), cl.Claimant, cl.ClaimAmount.BigInt(),
		cl.ApprovedAmount.BigInt(), uint8(cl.Status), unixBig(cl.SubmissionDate),
		unixBig(cl.ProcessedDate), cl.DocumentsRef, cl.Description,
	})
}

func (c *Chain) planRecord(p insurance.InsurancePlan) ledger.Record {
	return c.record(planNames, []any{
		uint8(p.Kind), p.OneTimePrice.BigInt(), p.MonthlyPrice.BigInt(),
		p.CoverageAmount.BigInt(), p.Deductible.BigInt(), p.MetadataRef, p.IsActive,
	})
}

func unixBig(t time.Time) *big.Int {
	if t.IsZero() {
		return new(big.Int)
	}
	return big.NewInt(t.Unix())
}

func keyIndex(key any) (uint64, bool) {
	switch k := key.(type) {
	case *big.Int:
		if k == nil || k.Sign() < 0 || !k.IsUint64() {
			return 0, false
		}
		return k.Uint64(), true
	case uint64:
		return k, true
	case uint8:
		return uint64(k), true
	case int:
		if k < 0 {
			return 0, false
		}
		return uint64(k), true
	case insurance.PolicyID:
		return uint64(k), true
	case insurance.ClaimID:
		return uint64(k), true
	case insurance.PlanKind:
		return uint64(k), true
	default:
		return 0, false
	}
}

func copyEvent(e ledger.Event) ledger.Event {
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		if b, ok := v.(*big.Int); ok {
			v = new(big.Int).Set(b)
		}
		fields[k] = v
	}
	e.Fields = fields
	return e
}
