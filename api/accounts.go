package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/warp/claims-engine/blob"
	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/ledger/memory"
)

// AccountHeader selects the signing account on the simulated ledger.
const AccountHeader = "X-Account"

// Accounts resolves the façade that serves a request.
type Accounts interface {
	For(r *http.Request) (*facade.Facade, error)
	Default() *facade.Facade
}

// SingleAccount serves every request with one façade, the account whose
// key the server was started with.
type SingleAccount struct {
	F *facade.Facade
}

func (s SingleAccount) For(*http.Request) (*facade.Facade, error) { return s.F, nil }
func (s SingleAccount) Default() *facade.Facade                   { return s.F }

// SimulatedAccounts lets a dev client act as any account on the simulated
// ledger through the X-Account header. Without the header the contract
// owner signs.
type SimulatedAccounts struct {
	opts facade.Options

	mu       sync.Mutex
	chain    *memory.Chain
	facades  map[common.Address]*facade.Facade
	scenario string
}

// NewSimulatedAccounts wraps chain. All façades share opts, so the guard
// and the journal are common to every account.
func NewSimulatedAccounts(chain *memory.Chain, opts facade.Options) *SimulatedAccounts {
	if opts.Guard == nil {
		opts.Guard = facade.NewMemoryGuard()
	}
	if opts.Journal == nil {
		opts.Journal = facade.NewMemoryJournal()
	}
	if opts.Blobs == nil {
		opts.Blobs = blob.NewMemoryStore()
	}
	return &SimulatedAccounts{
		opts:    opts,
		chain:   chain,
		facades: make(map[common.Address]*facade.Facade),
	}
}

// Chain returns the current simulated chain.
func (s *SimulatedAccounts) Chain() *memory.Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain
}

// Replace swaps the chain, dropping every connected façade.
func (s *SimulatedAccounts) Replace(chain *memory.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = chain
	s.facades = make(map[common.Address]*facade.Facade)
	s.scenario = ""
}

// As returns the façade signing as addr.
func (s *SimulatedAccounts) As(addr common.Address) *facade.Facade {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.facades[addr]; ok {
		return f
	}
	f := facade.New(s.chain.Connect(addr), s.opts)
	s.facades[addr] = f
	return f
}

func (s *SimulatedAccounts) For(r *http.Request) (*facade.Facade, error) {
	hdr := r.Header.Get(AccountHeader)
	if hdr == "" {
		return s.Default(), nil
	}
	addr, err := facade.ParseAddress(hdr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AccountHeader, err)
	}
	return s.As(addr), nil
}

func (s *SimulatedAccounts) Default() *facade.Facade {
	return s.As(s.Chain().Owner())
}

var (
	_ Accounts = SingleAccount{}
	_ Accounts = (*SimulatedAccounts)(nil)
)
