package goGuard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/store"
	"golang.org/x/sync/errgroup"
)

// SweepReport counts what one sweep pass removed.
type SweepReport struct {
	Credentials int
	Locks       int
	Blocks      int
	RateLimits  int
	History     int
	StoreKeys   int
}

// Total is the sum of all removals.
func (r SweepReport) Total() int {
	return r.Credentials + r.Locks + r.Blocks + r.RateLimits + r.History + r.StoreKeys
}

// Sweep removes expired credentials, locks, blocks, idle rate-limit logs and
// stale risk history. The sweeps run concurrently and are idempotent;
// concurrent callers share one pass. Each failing sweep is logged and the
// first failure is returned; the other sweeps still complete.
func (g *Guard) Sweep(ctx context.Context) (SweepReport, error) {
	v, err, _ := g.sweeps.Do("sweep", func() (any, error) {
		return g.sweep(ctx)
	})
	rep, _ := v.(SweepReport)
	return rep, err
}

func (g *Guard) sweep(ctx context.Context) (SweepReport, error) {
	var (
		rep SweepReport
		grp errgroup.Group
	)
	run := func(name string, dst *int, fn func(context.Context) (int, error)) {
		grp.Go(func() error {
			n, err := fn(ctx)
			*dst = n
			if err != nil {
				g.logger.Warn().Err(err).Str("sweep", name).Msg("sweep failed")
				return fmt.Errorf("%s sweep: %w", name, err)
			}
			return nil
		})
	}

	run("credentials", &rep.Credentials, g.creds.SweepExpired)
	run("locks", &rep.Locks, g.locks.SweepExpired)
	run("blocks", &rep.Blocks, g.blocks.SweepExpired)
	run("rate_limits", &rep.RateLimits, g.limiter.Sweep)

	err := grp.Wait()
	rep.History = g.history.Sweep(g.clock.Now())
	if mem, ok := g.store.(*store.Memory); ok {
		rep.StoreKeys = mem.Prune()
	}

	g.metricInc(MetricSweepRun)
	if err != nil {
		g.metricInc(MetricSweepFailure)
	}
	g.emitAuditErr(ctx, audit.Event{EventType: audit.EventSweep}, err, func() map[string]string {
		return map[string]string{
			"credentials": strconv.Itoa(rep.Credentials),
			"locks":       strconv.Itoa(rep.Locks),
			"blocks":      strconv.Itoa(rep.Blocks),
			"rate_limits": strconv.Itoa(rep.RateLimits),
		}
	})
	return rep, err
}

// StartSweeper runs Sweep every interval until StopSweeper or Close. A
// second call replaces the running sweeper.
func (g *Guard) StartSweeper(interval time.Duration) error {
	if interval <= 0 {
		return invalid("interval", "must be > 0")
	}

	g.sweeperMu.Lock()
	defer g.sweeperMu.Unlock()
	if g.closed.Load() {
		return ErrGuardClosed
	}
	g.stopSweeperLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	g.sweeperStop, g.sweeperDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if _, err := g.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
					g.logger.Debug().Err(err).Msg("scheduled sweep incomplete")
				}
				cancel()
			}
		}
	}()
	return nil
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (g *Guard) StopSweeper() {
	g.sweeperMu.Lock()
	defer g.sweeperMu.Unlock()
	g.stopSweeperLocked()
}

// stopSweeperLocked requires sweeperMu. The sweeper goroutine never takes
// sweeperMu, so waiting for it here cannot deadlock.
func (g *Guard) stopSweeperLocked() {
	if g.sweeperStop == nil {
		return
	}
	close(g.sweeperStop)
	<-g.sweeperDone
	g.sweeperStop, g.sweeperDone = nil, nil
}
