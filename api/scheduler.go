/*
scheduler.go - Periodic doctor registry refresh

PURPOSE:

	Keeps the façade's doctor registry close to the ledger between
	requests. Each tick replays every DoctorAuthorized event and swaps the
	registry in; reads that answer "is this doctor authorized?" from the
	cached registry then lag the ledger by at most one interval.

	Claim processing never depends on this: ProcessClaim always refreshes
	before deciding.

LIFECYCLE:

	r := NewRegistryRefresher(accounts, time.Minute, logger)
	r.Start()
	defer r.Stop()

SEE ALSO:
  - facade.RefreshRegistry: the replay itself
  - insurance/registry.go: last-event-wins reduction
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RegistryRefresher rebuilds the doctor registry on a fixed interval.
type RegistryRefresher struct {
	Accounts      Accounts
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	runs     atomic.Int64
	failures atomic.Int64
}

// NewRegistryRefresher creates a refresher. A non-positive interval
// disables it.
func NewRegistryRefresher(accounts Accounts, interval time.Duration, logger *slog.Logger) *RegistryRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryRefresher{
		Accounts:      accounts,
		CheckInterval: interval,
		Enabled:       interval > 0,
		Logger:        logger.With("component", "registry-refresher"),
		stop:          make(chan bool),
	}
}

// Start begins refreshing.
func (rr *RegistryRefresher) Start() {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if !rr.Enabled {
		rr.Logger.Info("disabled, not starting")
		return
	}
	if rr.ticker != nil {
		return
	}

	rr.ticker = time.NewTicker(rr.CheckInterval)
	rr.stop = make(chan bool)
	rr.wg.Add(1)

	go rr.run()

	rr.Logger.Info("started", "interval", rr.CheckInterval)
}

// Stop stops refreshing and waits for an in-progress refresh.
func (rr *RegistryRefresher) Stop() {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if rr.ticker != nil {
		rr.ticker.Stop()
		close(rr.stop)
		rr.wg.Wait()
		rr.ticker = nil
		rr.Logger.Info("stopped", "runs", rr.runs.Load(), "failures", rr.failures.Load())
	}
}

func (rr *RegistryRefresher) run() {
	defer rr.wg.Done()

	// Run immediately on start
	rr.refresh()

	for {
		select {
		case <-rr.ticker.C:
			rr.refresh()
		case <-rr.stop:
			return
		}
	}
}

func (rr *RegistryRefresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), rr.timeout())
	defer cancel()

	if err := rr.RunNow(ctx); err != nil {
		rr.Logger.Warn("registry refresh failed", "error", err)
	}
}

// RunNow refreshes once and reports whether the authorized set changed.
func (rr *RegistryRefresher) RunNow(ctx context.Context) error {
	f := rr.Accounts.Default()
	before := f.Registry()

	after, err := f.RefreshRegistry(ctx)

	rr.runs.Add(1)
	if err != nil {
		rr.failures.Add(1)
		return err
	}

	if !before.Equal(after) {
		rr.Logger.Info("doctor registry changed",
			"authorized", len(after.Authorized()),
			"known", len(after.All()))
	}
	return nil
}

// Runs returns how many refreshes ran and how many failed.
func (rr *RegistryRefresher) Runs() (runs, failures int64) {
	return rr.runs.Load(), rr.failures.Load()
}

// timeout bounds one refresh so a stuck node cannot pin the goroutine
// past the next tick.
func (rr *RegistryRefresher) timeout() time.Duration {
	if rr.CheckInterval > 0 {
		return rr.CheckInterval
	}
	return 30 * time.Second
}
