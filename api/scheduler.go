/*
scheduler.go - Idempotency claim sweeper

PURPOSE:
  Bulk provisioning claims an idempotency key before it writes. A process
  that dies between claiming and caching leaves a pending claim behind.
  Such claims already stop blocking once they are older than the claim TTL;
  the sweeper deletes them so the table does not grow without bound.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Sweeps once immediately on start
  - Only pending claims older than now - TTL are removed; completed
    claims keep answering replays

USAGE:
  sweeper := NewClaimSweeper(store, interval, ttl, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - tariff/bulk.go: Claim lifecycle
  - cmd/server/main.go: Started alongside the HTTP server
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/coverage-engine/tariff"
)

// ClaimSweeper periodically purges stale idempotency claims.
type ClaimSweeper struct {
	Store    tariff.IdempotencyStore
	Interval time.Duration
	TTL      time.Duration

	logger *zap.Logger
	now    func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewClaimSweeper creates a sweeper. A nil logger uses zap.L().
func NewClaimSweeper(store tariff.IdempotencyStore, interval, ttl time.Duration, logger *zap.Logger) *ClaimSweeper {
	if logger == nil {
		logger = zap.L()
	}
	return &ClaimSweeper{
		Store:    store,
		Interval: interval,
		TTL:      ttl,
		logger:   logger.Named("claim-sweeper"),
		now:      time.Now,
	}
}

// Start begins sweeping. Calling Start on a running sweeper does nothing.
func (cs *ClaimSweeper) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.Interval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run(cs.ticker, cs.stop)

	cs.logger.Info("started", zap.Duration("interval", cs.Interval), zap.Duration("ttl", cs.TTL))
}

// Stop stops the sweeper and waits for an in-progress sweep.
func (cs *ClaimSweeper) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil {
		return
	}
	cs.ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.ticker = nil
	cs.logger.Info("stopped")
}

func (cs *ClaimSweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	// Run immediately on start
	cs.sweep()

	for {
		select {
		case <-ticker.C:
			cs.sweep()
		case <-stop:
			return
		}
	}
}

func (cs *ClaimSweeper) sweep() {
	if _, err := cs.RunNow(context.Background()); err != nil {
		cs.logger.Error("purge stale claims", zap.Error(err))
	}
}

// RunNow purges stale claims once and returns how many were removed.
func (cs *ClaimSweeper) RunNow(ctx context.Context) (int, error) {
	cutoff := cs.now().Add(-cs.TTL)
	n, err := cs.Store.PurgeStaleClaims(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		cs.logger.Info("purged stale claims", zap.Int("count", n), zap.Time("before", cutoff))
	}
	return n, nil
}
