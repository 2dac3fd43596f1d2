package readiness

import (
	"context"
	"time"

	"github.com/solwatch/mintready/internal/mask"
	"github.com/solwatch/mintready/internal/metrics"
	"github.com/solwatch/mintready/internal/retry"
	"github.com/solwatch/mintready/internal/rpc"
	"github.com/solwatch/mintready/internal/rpc/pool"
)

// accountFacts is what the mint-account probe learns.
type accountFacts struct {
	Exists      bool
	AuthorityOK bool
}

// holderFacts is what the largest-accounts probe learns.
type holderFacts struct {
	PoolExists bool
	PoolInit   bool
}

func (f accountFacts) bits() mask.FSM {
	var m mask.FSM
	if f.Exists {
		m |= mask.FSMMintExists
	}
	if f.AuthorityOK {
		m |= mask.FSMAuthorityOK
	}
	return m
}

func (f holderFacts) bits() mask.FSM {
	var m mask.FSM
	if f.PoolExists {
		m |= mask.FSMPoolExists
	}
	if f.PoolInit {
		m |= mask.FSMPoolInit
	}
	return m
}

// probeAccount resolves mint existence and authority posture. fresh skips
// the cache read but still writes the result back. A failure after retry
// exhaustion reads as unknown, never an error for the caller.
func (m *Machine) probeAccount(ctx context.Context, assetID string, fresh bool) (accountFacts, bool) {
	if !fresh {
		if facts, ok := m.accountCache.Get(assetID); ok {
			metrics.ProbeCacheHitsTotal.WithLabelValues("account").Inc()
			return facts, true
		}
	}

	var facts accountFacts
	err := retry.Do(ctx, m.cfg.ProbeRetries+1, m.cfg.ProbeBackoffBase, func(ctx context.Context) error {
		metrics.ProbeAttemptsTotal.WithLabelValues("account").Inc()
		start := time.Now()

		client, url, err := m.pool.Acquire(pool.AcquireOpts{PreferPrivate: true})
		if err != nil {
			return err
		}
		info, err := client.GetAccountInfo(ctx, assetID)
		metrics.ProbeLatency.WithLabelValues("account").Observe(time.Since(start).Seconds())
		if err != nil {
			m.pool.MarkFailure(url)
			return err
		}
		m.pool.MarkSuccess(url)

		if info == nil || len(info.Data) == 0 {
			facts = accountFacts{}
			return nil
		}
		mint, err := rpc.DecodeMintBase64(info.Data[0])
		if err != nil {
			// Not a mint layout; treat as absent rather than failing.
			facts = accountFacts{}
			return nil
		}
		facts = accountFacts{
			Exists:      mint.IsInitialized,
			AuthorityOK: !mint.HasMintAuthority() && !mint.HasFreezeAuthority(),
		}
		return nil
	})
	if err != nil {
		metrics.ProbeErrorsTotal.WithLabelValues("account").Inc()
		return accountFacts{}, false
	}

	m.accountCache.Put(assetID, facts)
	return facts, true
}

// probeHolders marks pool presence from any non-zero holder balance.
func (m *Machine) probeHolders(ctx context.Context, assetID string, fresh bool) (holderFacts, bool) {
	if !fresh {
		if facts, ok := m.holderCache.Get(assetID); ok {
			metrics.ProbeCacheHitsTotal.WithLabelValues("holders").Inc()
			return facts, true
		}
	}

	var facts holderFacts
	err := retry.Do(ctx, m.cfg.ProbeRetries+1, m.cfg.ProbeBackoffBase, func(ctx context.Context) error {
		metrics.ProbeAttemptsTotal.WithLabelValues("holders").Inc()
		start := time.Now()

		client, url, err := m.pool.Acquire(pool.AcquireOpts{PreferPrivate: true})
		if err != nil {
			return err
		}
		holders, err := client.GetTokenLargestAccounts(ctx, assetID)
		metrics.ProbeLatency.WithLabelValues("holders").Observe(time.Since(start).Seconds())
		if err != nil {
			m.pool.MarkFailure(url)
			return err
		}
		m.pool.MarkSuccess(url)

		facts = holderFacts{}
		for _, h := range holders {
			if h.Amount != "" && h.Amount != "0" {
				facts = holderFacts{PoolExists: true, PoolInit: true}
				break
			}
		}
		return nil
	})
	if err != nil {
		metrics.ProbeErrorsTotal.WithLabelValues("holders").Inc()
		return holderFacts{}, false
	}

	m.holderCache.Put(assetID, facts)
	return facts, true
}

// probeQuote infers tradability from a minimal routed quote.
func (m *Machine) probeQuote(ctx context.Context, assetID string, fresh bool) (bool, bool) {
	if !fresh {
		if tradable, ok := m.quoteCache.Get(assetID); ok {
			metrics.ProbeCacheHitsTotal.WithLabelValues("quote").Inc()
			return tradable, true
		}
	}

	var tradable bool
	err := retry.Do(ctx, m.cfg.ProbeRetries+1, m.cfg.ProbeBackoffBase, func(ctx context.Context) error {
		metrics.ProbeAttemptsTotal.WithLabelValues("quote").Inc()
		start := time.Now()
		q, err := m.quotes.Quote(ctx, assetID, m.cfg.QuoteProbeAmount)
		metrics.ProbeLatency.WithLabelValues("quote").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		tradable = q.Tradable()
		return nil
	})
	if err != nil {
		metrics.ProbeErrorsTotal.WithLabelValues("quote").Inc()
		return false, false
	}

	m.quoteCache.Put(assetID, tradable)
	return tradable, true
}

// probeRecentSignature checks for any confirmed signature at exactly the
// slot before the event slot, the tail end of the two-slot creation
// pattern.
func (m *Machine) probeRecentSignature(ctx context.Context, assetID string, slot int64) bool {
	client, url, err := m.pool.Acquire(pool.AcquireOpts{PreferPrivate: true})
	if err != nil {
		return false
	}
	sigs, err := client.GetSignaturesForAddress(ctx, assetID, &rpc.GetSignaturesOpts{Limit: 8})
	if err != nil {
		m.pool.MarkFailure(url)
		return false
	}
	m.pool.MarkSuccess(url)

	for _, sig := range sigs {
		if sig.Slot == slot-1 {
			return true
		}
	}
	return false
}

// deadlined runs fn under its own hard deadline. On timeout the result is
// discarded for this round but fn keeps running in the background so its
// cache write still lands for the next round.
func deadlined[T any](ctx context.Context, budget time.Duration, fn func(ctx context.Context) (T, bool)) (T, bool) {
	type outcome struct {
		val T
		ok  bool
	}
	done := make(chan outcome, 1)

	bg := context.WithoutCancel(ctx)
	go func() {
		v, ok := fn(bg)
		done <- outcome{v, ok}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.val, out.ok
	case <-timer.C:
		var zero T
		return zero, false
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
