package readiness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/solwatch/mintready/internal/cache"
	"github.com/solwatch/mintready/internal/event"
	"github.com/solwatch/mintready/internal/evidence"
	"github.com/solwatch/mintready/internal/mask"
	"github.com/solwatch/mintready/internal/metrics"
	"github.com/solwatch/mintready/internal/quote"
	"github.com/solwatch/mintready/internal/rpc"
	"github.com/solwatch/mintready/internal/rpc/pool"
)

// EndpointPool is the slice of the rpc pool the machine needs.
type EndpointPool interface {
	Acquire(opts pool.AcquireOpts) (rpc.RPCClient, string, error)
	MarkSuccess(url string)
	MarkFailure(url string)
}

// AggregatorView is the read side of the evidence aggregator.
type AggregatorView interface {
	GetAggregated(assetID string, evidenceWindow, legacyWindow time.Duration) evidence.Aggregated
}

// SignalView is the machine's slice of the signal engine. Forget lets the
// TTL sweep release the engine's per-asset window together with the asset
// state, so neither side outlives the other.
type SignalView interface {
	MaskFor(asset string, slot int64) mask.Ledger
	IsStrongSignal(asset string, slot int64) bool
	Forget(asset string)
}

// Config tunes probing, scoring, and state retention.
type Config struct {
	ProbeTTL           time.Duration
	ProbeRetries       int
	ProbeBackoffBase   time.Duration
	FinalReprobeBudget time.Duration
	QuoteReprobeBudget time.Duration
	ScoreThreshold     float64
	LedgerScale        float64
	LegacyBonus        float64
	HistorySize        int
	EvidenceWindow     time.Duration
	StateTTL           time.Duration
	SweepInterval      time.Duration
	QuoteProbeAmount   uint64
	ProbeCacheSize     int
}

func (c *Config) applyDefaults() {
	if c.ProbeTTL <= 0 {
		c.ProbeTTL = 10 * time.Second
	}
	if c.ProbeRetries < 0 {
		c.ProbeRetries = 1
	}
	if c.ProbeBackoffBase <= 0 {
		c.ProbeBackoffBase = 10 * time.Millisecond
	}
	if c.FinalReprobeBudget <= 0 {
		c.FinalReprobeBudget = 12 * time.Millisecond
	}
	if c.QuoteReprobeBudget <= 0 {
		c.QuoteReprobeBudget = 18 * time.Millisecond
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 0.80
	}
	if c.LedgerScale <= 0 {
		c.LedgerScale = 0.85
	}
	if c.LegacyBonus <= 0 {
		c.LegacyBonus = 0.12
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 6
	}
	if c.EvidenceWindow <= 0 {
		c.EvidenceWindow = 10 * time.Second
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.QuoteProbeAmount == 0 {
		c.QuoteProbeAmount = 1_000_000
	}
	if c.ProbeCacheSize <= 0 {
		c.ProbeCacheSize = 4096
	}
}

type historyEntry struct {
	slot    int64
	fsmMask mask.FSM
	ts      time.Time
}

type assetState struct {
	mu                 sync.Mutex
	assetID            string
	fsmMask            mask.FSM
	slot               int64
	lastSeenTs         time.Time
	ledgerMask         mask.Ledger
	ledgerMaskTs       time.Time
	lastReprobeLatency time.Duration
	history            []historyEntry
	triggered          bool
}

// Machine holds one state record per asset and decides, on every event,
// whether the asset has reached readiness. A trigger fires at most once per
// asset and only when the asset's recorded slot equals the event's slot.
type Machine struct {
	cfg     Config
	pool    EndpointPool
	quotes  quote.Provider
	agg     AggregatorView
	signals SignalView
	logger  *slog.Logger
	nowFn   func() time.Time

	mu     sync.Mutex
	states map[string]*assetState

	// Probe caches are sharded: concurrent probe fan-out for unrelated
	// assets must not serialize on one cache lock.
	accountCache *cache.ShardedLRU[string, accountFacts]
	holderCache  *cache.ShardedLRU[string, holderFacts]
	quoteCache   *cache.ShardedLRU[string, bool]

	onTrigger func(event.Trigger)
	onState   func(event.State)
}

func assetKey(k string) string { return k }

func New(cfg Config, p EndpointPool, quotes quote.Provider, agg AggregatorView, signals SignalView, logger *slog.Logger) *Machine {
	cfg.applyDefaults()
	return &Machine{
		cfg:          cfg,
		pool:         p,
		quotes:       quotes,
		agg:          agg,
		signals:      signals,
		logger:       logger,
		nowFn:        time.Now,
		states:       make(map[string]*assetState),
		accountCache: cache.NewShardedLRU[string, accountFacts](cfg.ProbeCacheSize, cfg.ProbeTTL, assetKey),
		holderCache:  cache.NewShardedLRU[string, holderFacts](cfg.ProbeCacheSize, cfg.ProbeTTL, assetKey),
		quoteCache:   cache.NewShardedLRU[string, bool](cfg.ProbeCacheSize, cfg.ProbeTTL, assetKey),
	}
}

// OnTrigger registers the one-shot readiness sink.
func (m *Machine) OnTrigger(fn func(event.Trigger)) { m.onTrigger = fn }

// OnState registers the pending-state sink.
func (m *Machine) OnState(fn func(event.State)) { m.onState = fn }

// ProcessEvent runs the readiness round for every fresh asset in the
// event. Panics and probe failures degrade to a pending state; they never
// abort other assets.
func (m *Machine) ProcessEvent(ctx context.Context, ev event.Ledger) {
	for _, assetID := range ev.FreshAssets {
		m.processAsset(ctx, assetID, ev)
	}
}

func (m *Machine) processAsset(ctx context.Context, assetID string, ev event.Ledger) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanicsTotal.Inc()
			m.logger.Error("recovered panic during asset processing",
				"asset", assetID, "slot", ev.Slot, "panic", r)
			m.emitState(event.State{
				AssetID: assetID,
				Slot:    ev.Slot,
				Note:    "recovered panic, treated as not ready",
				At:      m.nowFn(),
			})
		}
	}()

	st := m.stateFor(assetID)

	// Steps 2-7 run under the asset's lock: two events for the same asset
	// must not interleave mask updates or history pushes.
	st.mu.Lock()
	defer st.mu.Unlock()

	now := m.nowFn()
	// An event without a slot must not clobber the recorded slot: the
	// same-slot guard below compares against it.
	if ev.Slot > 0 {
		st.slot = ev.Slot
	}
	st.lastSeenTs = now

	agg := m.agg.GetAggregated(assetID, m.cfg.EvidenceWindow, m.cfg.EvidenceWindow)
	if attached := agg.Mask | m.signals.MaskFor(assetID, ev.Slot); attached != 0 {
		st.ledgerMask |= attached
		st.ledgerMaskTs = now
	}

	m.runProbes(ctx, st)
	if ev.Slot > 0 {
		m.pushHistory(st, ev.Slot, now)
	}

	// Triggering requires a real slot on both sides: the event must carry
	// one and it must match the recorded slot.
	sameSlot := ev.Slot > 0 && st.slot == ev.Slot

	if st.fsmMask.CoreSet() && sameSlot {
		m.finalReprobe(ctx, st, ev.Slot)
	}

	score := m.score(st, ev, agg)
	strong := agg.LedgerStrong || m.signals.IsStrongSignal(assetID, ev.Slot)

	transferable := st.fsmMask&mask.FSMTransferable != 0
	ready := transferable && sameSlot &&
		(st.fsmMask.CoreSet() || score.Merged >= m.cfg.ScoreThreshold || strong)

	if ready && !st.triggered {
		st.triggered = true
		metrics.TriggersTotal.Inc()
		m.emitTrigger(event.Trigger{
			AssetID:             assetID,
			Slot:                ev.Slot,
			FSMMask:             st.fsmMask,
			LedgerMask:          st.ledgerMask,
			LedgerMaskNames:     st.ledgerMask.Names(),
			Score:               score,
			FinalReprobeLatency: st.lastReprobeLatency,
			At:                  now,
		})
		return
	}

	metrics.PendingStatesTotal.Inc()
	note := "pending"
	if st.triggered {
		note = "already triggered"
	} else if !transferable {
		note = "not transferable"
	}
	m.emitState(event.State{
		AssetID:    assetID,
		Slot:       ev.Slot,
		FSMMask:    st.fsmMask,
		LedgerMask: st.ledgerMask,
		Score:      score,
		Note:       note,
		At:         now,
	})
}

func (m *Machine) stateFor(assetID string) *assetState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[assetID]
	if !ok {
		st = &assetState{assetID: assetID}
		m.states[assetID] = st
	}
	return st
}

// runProbes launches the cached probes concurrently and ORs whatever they
// learned into the FSM mask. Probes only ever set bits.
func (m *Machine) runProbes(ctx context.Context, st *assetState) {
	needQuote := st.fsmMask&mask.FSMTransferable == 0

	var wg sync.WaitGroup
	var acct accountFacts
	var acctOK bool
	var hold holderFacts
	var holdOK bool
	var tradable, quoteOK bool

	wg.Add(2)
	go func() {
		defer wg.Done()
		acct, acctOK = m.probeAccount(ctx, st.assetID, false)
	}()
	go func() {
		defer wg.Done()
		hold, holdOK = m.probeHolders(ctx, st.assetID, false)
	}()
	if needQuote {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tradable, quoteOK = m.probeQuote(ctx, st.assetID, false)
		}()
	}
	wg.Wait()

	if acctOK {
		st.fsmMask |= acct.bits()
	}
	if holdOK {
		st.fsmMask |= hold.bits()
	}
	if quoteOK && tradable {
		st.fsmMask |= mask.FSMTransferable
	}
}

// pushHistory appends to the bounded per-asset history and applies the
// two-slot creation heuristic: authority finalized one slot before the
// pool was initialized.
func (m *Machine) pushHistory(st *assetState, slot int64, ts time.Time) {
	st.history = append(st.history, historyEntry{slot: slot, fsmMask: st.fsmMask, ts: ts})
	if len(st.history) > m.cfg.HistorySize {
		st.history = st.history[len(st.history)-m.cfg.HistorySize:]
	}

	n := len(st.history)
	if n < 2 {
		return
	}
	older, newer := st.history[n-2], st.history[n-1]
	if newer.slot != older.slot+1 {
		return
	}
	const preInit = mask.FSMMintExists | mask.FSMAuthorityOK
	olderPre := older.fsmMask&preInit == preInit && older.fsmMask&mask.FSMPoolInit == 0
	newerInit := newer.fsmMask&mask.FSMPoolInit != 0
	if olderPre && newerInit {
		st.fsmMask |= mask.FSMSlotSeq
	}
}

// finalReprobe re-runs all probes in parallel under hard per-probe
// deadlines. A probe that misses its budget contributes no new evidence
// this round but keeps running to warm its cache. The signature check for
// the previous slot rides along under the ledger budget.
func (m *Machine) finalReprobe(ctx context.Context, st *assetState, slot int64) {
	start := m.nowFn()

	var wg sync.WaitGroup
	var acct accountFacts
	var acctOK bool
	var hold holderFacts
	var holdOK bool
	var tradable, quoteOK bool
	var slotSeq bool

	wg.Add(4)
	go func() {
		defer wg.Done()
		acct, acctOK = deadlined(ctx, m.cfg.FinalReprobeBudget, func(ctx context.Context) (accountFacts, bool) {
			return m.probeAccount(ctx, st.assetID, true)
		})
	}()
	go func() {
		defer wg.Done()
		hold, holdOK = deadlined(ctx, m.cfg.FinalReprobeBudget, func(ctx context.Context) (holderFacts, bool) {
			return m.probeHolders(ctx, st.assetID, true)
		})
	}()
	go func() {
		defer wg.Done()
		tradable, quoteOK = deadlined(ctx, m.cfg.QuoteReprobeBudget, func(ctx context.Context) (bool, bool) {
			return m.probeQuote(ctx, st.assetID, true)
		})
	}()
	go func() {
		defer wg.Done()
		slotSeq, _ = deadlined(ctx, m.cfg.FinalReprobeBudget, func(ctx context.Context) (bool, bool) {
			return m.probeRecentSignature(ctx, st.assetID, slot), true
		})
	}()
	wg.Wait()

	if acctOK {
		st.fsmMask |= acct.bits()
	}
	if holdOK {
		st.fsmMask |= hold.bits()
	}
	if quoteOK && tradable {
		st.fsmMask |= mask.FSMTransferable
	}
	if slotSeq {
		st.fsmMask |= mask.FSMSlotSeq
	}

	st.lastReprobeLatency = m.nowFn().Sub(start)
	metrics.FinalReprobeLatency.Observe(st.lastReprobeLatency.Seconds())
}

func (m *Machine) score(st *assetState, ev event.Ledger, agg evidence.Aggregated) event.ScoreBreakdown {
	base := st.fsmMask.Score()
	ledger := st.ledgerMask.Score() * m.cfg.LedgerScale
	legacy := 0.0
	if ev.LegacyCreated || agg.LegacyCreatedHere {
		legacy = m.cfg.LegacyBonus
	}
	merged := base + ledger + legacy
	if merged > 1.0 {
		merged = 1.0
	}
	return event.ScoreBreakdown{Base: base, Ledger: ledger, Legacy: legacy, Merged: merged}
}

func (m *Machine) emitTrigger(t event.Trigger) {
	if m.onTrigger != nil {
		m.onTrigger(t)
	}
	m.logger.Info("readiness trigger",
		"asset", t.AssetID,
		"slot", t.Slot,
		"score", t.Score.Merged,
		"bits", t.LedgerMaskNames,
		"reprobe_ms", t.FinalReprobeLatency.Milliseconds())
}

func (m *Machine) emitState(s event.State) {
	if m.onState != nil {
		m.onState(s)
	}
}

// RunSweeper evicts asset states unseen for longer than the state TTL.
func (m *Machine) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Machine) sweep() {
	cutoff := m.nowFn().Add(-m.cfg.StateTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	for assetID, st := range m.states {
		st.mu.Lock()
		stale := st.lastSeenTs.Before(cutoff)
		st.mu.Unlock()
		if stale {
			delete(m.states, assetID)
			m.signals.Forget(assetID)
			m.accountCache.Remove(assetID)
			m.holderCache.Remove(assetID)
			m.quoteCache.Remove(assetID)
			metrics.StatesEvictedTotal.Inc()
		}
	}
}

// StateCount returns the number of tracked assets.
func (m *Machine) StateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
