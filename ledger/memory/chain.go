// Package memory provides an in-process simulated insurance contract that
// satisfies ledger.Gateway (for tests and dev mode).
package memory

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// CHAIN - shared contract state, one per simulated network
// =============================================================================

// Shape selects how getter results are encoded, to exercise both decoder paths.
type Shape int

const (
	ShapeBoth Shape = iota
	ShapeNamed
	ShapePositional
)

// Chain is the simulated ledger. Gateways obtained from Connect share it.
// Every mutation mines exactly one block.
type Chain struct {
	mu sync.RWMutex

	contract common.Address
	owner    common.Address
	paused   bool
	clock    time.Time
	block    uint64
	nonce    uint64

	plans        map[insurance.PlanKind]insurance.InsurancePlan
	policies     []insurance.Policy
	claims       []insurance.Claim
	userPolicies map[common.Address][]insurance.PolicyID
	policyClaims map[insurance.PolicyID][]insurance.ClaimID
	doctors      map[common.Address]bool
	balances     map[common.Address]*big.Int

	events   []ledger.Event
	receipts map[common.Hash]outcome
	payouts  []pendingPayout

	// Options
	Shape         Shape
	ReverseEvents bool // deliver events newest-first
	DeferPayouts  bool // approvals stay Approved until Settle

	submissions int
	failNext    error
	gate        chan struct{}
}

type outcome struct {
	receipt ledger.Receipt
	reason  string
	failed  bool
}

type pendingPayout struct {
	claim  insurance.ClaimID
	to     common.Address
	amount *big.Int
}

// NewChain creates a chain whose contract is owned by owner, with the clock at start.
func NewChain(owner common.Address, start time.Time) *Chain {
	return &Chain{
		contract:     crypto.CreateAddress(owner, 0),
		owner:        owner,
		clock:        start.UTC(),
		plans:        make(map[insurance.PlanKind]insurance.InsurancePlan),
		userPolicies: make(map[common.Address][]insurance.PolicyID),
		policyClaims: make(map[insurance.PolicyID][]insurance.ClaimID),
		doctors:      make(map[common.Address]bool),
		balances:     make(map[common.Address]*big.Int),
		receipts:     make(map[common.Hash]outcome),
	}
}

// Connect returns a gateway that signs as from.
func (c *Chain) Connect(from common.Address) *Gateway {
	return &Gateway{chain: c, from: from}
}

// =============================================================================
// TEST CONTROLS
// =============================================================================

// SetPlan writes a catalog entry directly, as a deployment script would.
func (c *Chain) SetPlan(p insurance.InsurancePlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.Placeholder = false
	c.plans[p.Kind] = p
}

// Fund credits an account (or the contract) with native currency.
func (c *Chain) Fund(addr common.Address, amount money.Amount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(addr, amount.BigInt())
}

// Advance moves the ledger clock forward.
func (c *Chain) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = c.clock.Add(d)
}

// Now is the ledger clock.
func (c *Chain) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock
}

// Submissions counts transactions submitted so far, reverted ones included.
func (c *Chain) Submissions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.submissions
}

// FailNext makes the next gateway call fail with a transport error.
func (c *Chain) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// HoldReceipts makes Await block until the returned release func is called.
func (c *Chain) HoldReceipts() (release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			c.mu.Lock()
			if c.gate == gate {
				c.gate = nil
			}
			c.mu.Unlock()
		})
	}
}

// InjectEvent appends a raw event, for replay tests.
func (c *Chain) InjectEvent(e ledger.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Settle executes deferred payout transfers in a new block. Transfers the
// contract can no longer cover are dropped and the claim stays Approved.
func (c *Chain) Settle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payouts) == 0 {
		return 0
	}
	c.block++
	settled := 0
	for _, p := range c.payouts {
		if c.balanceOf(c.contract).Cmp(p.amount) < 0 {
			continue
		}
		c.debit(c.contract, p.amount)
		c.credit(p.to, p.amount)
		c.claims[p.claim-1].Status = insurance.ClaimPaid
		settled++
	}
	c.payouts = nil
	return settled
}

// BalanceOf returns the native balance of addr.
func (c *Chain) BalanceOf(addr common.Address) money.Amount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return money.FromBig(c.balanceOf(addr))
}

// ContractAddress is the simulated contract address.
func (c *Chain) ContractAddress() common.Address { return c.contract }

// Owner is the contract owner.
func (c *Chain) Owner() common.Address { return c.owner }

// =============================================================================
// BALANCES (callers hold mu)
// =============================================================================

func (c *Chain) balanceOf(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) credit(addr common.Address, v *big.Int) {
	c.balances[addr] = new(big.Int).Add(c.balanceOf(addr), v)
}

func (c *Chain) debit(addr common.Address, v *big.Int) {
	c.balances[addr] = new(big.Int).Sub(c.balanceOf(addr), v)
}

func (c *Chain) takeFailure() error {
	err := c.failNext
	c.failNext = nil
	return err
}

func (c *Chain) nextHash() common.Hash {
	c.nonce++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d", c.contract.Hex(), c.nonce)))
}
