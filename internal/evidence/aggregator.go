package evidence

import (
	"hash/fnv"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solwatch/mintready/internal/mask"
	"github.com/solwatch/mintready/internal/metrics"
)

// Sample is one timestamped piece of evidence about an asset. Immutable
// after insertion.
type Sample struct {
	ID                string
	AssetID           string
	LedgerMask        mask.Ledger
	Strong            bool
	LegacyCreatedHere bool
	Signature         string
	Timestamp         time.Time
}

// Aggregated is the derived view over an asset's live samples. Recomputed
// on every read, never cached.
type Aggregated struct {
	Count             int
	Mask              mask.Ledger
	LedgerStrong      bool
	LegacyCreatedHere bool
	MergedSignal      bool
	BitCounts         map[int]int
	FirstTs           time.Time
	LastTs            time.Time
}

type shard struct {
	mu      sync.Mutex
	samples map[string][]Sample
}

// Aggregator is the process-wide evidence table. Asset buckets are spread
// over fnv-1a shards so unrelated assets never contend on one lock.
type Aggregator struct {
	shards    []*shard
	retention time.Duration

	sigMu   sync.Mutex
	sigSeen map[string]time.Time
	sigTTL  time.Duration

	// legacyAlone lets the legacy-creation flag merge into the mask with
	// no corroborating ledger evidence. Default on: recall over precision.
	legacyAlone bool

	nowFn func() time.Time
}

// Config tunes retention, dedup, and the merge policy.
type Config struct {
	Shards              int
	Retention           time.Duration
	SignatureTTL        time.Duration
	LegacyAloneEligible bool
}

func New(cfg Config) *Aggregator {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Second
	}
	if cfg.SignatureTTL <= 0 {
		cfg.SignatureTTL = 5 * time.Minute
	}
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{samples: make(map[string][]Sample)}
	}
	return &Aggregator{
		shards:      shards,
		retention:   cfg.Retention,
		sigSeen:     make(map[string]time.Time),
		sigTTL:      cfg.SignatureTTL,
		legacyAlone: cfg.LegacyAloneEligible,
		nowFn:       time.Now,
	}
}

func (a *Aggregator) shardFor(assetID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(assetID))
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

// AddSample records evidence for an asset. Samples carrying an
// already-seen signature are dropped silently. The asset's bucket is
// pruned to the retention window on every insert.
func (a *Aggregator) AddSample(s Sample) bool {
	now := a.nowFn()
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	if s.Signature != "" && !a.admitSignature(s.Signature, now) {
		metrics.SamplesDedupedTotal.Inc()
		return false
	}

	sh := a.shardFor(s.AssetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	kept := sh.samples[s.AssetID][:0]
	cutoff := now.Add(-a.retention)
	pruned := 0
	for _, old := range sh.samples[s.AssetID] {
		if old.Timestamp.After(cutoff) {
			kept = append(kept, old)
		} else {
			pruned++
		}
	}
	if pruned > 0 {
		metrics.SamplesPrunedTotal.Add(float64(pruned))
	}
	sh.samples[s.AssetID] = append(kept, s)
	metrics.SamplesAddedTotal.Inc()
	return true
}

// admitSignature returns false when the signature was already seen inside
// the TTL. Expired entries are purged opportunistically.
func (a *Aggregator) admitSignature(sig string, now time.Time) bool {
	a.sigMu.Lock()
	defer a.sigMu.Unlock()

	cutoff := now.Add(-a.sigTTL)
	for s, ts := range a.sigSeen {
		if ts.Before(cutoff) {
			delete(a.sigSeen, s)
		}
	}
	if _, seen := a.sigSeen[sig]; seen {
		return false
	}
	a.sigSeen[sig] = now
	return true
}

// GetAggregated derives the current view over two independently sized
// windows: evidenceWindow scopes the mask/strong bits, legacyWindow scopes
// the legacy-creation flag. Both draw from the retention-pruned bucket.
func (a *Aggregator) GetAggregated(assetID string, evidenceWindow, legacyWindow time.Duration) Aggregated {
	if evidenceWindow <= 0 {
		evidenceWindow = a.retention
	}
	if legacyWindow <= 0 {
		legacyWindow = a.retention
	}
	now := a.nowFn()

	sh := a.shardFor(assetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var agg Aggregated
	evCutoff := now.Add(-evidenceWindow)
	legCutoff := now.Add(-legacyWindow)
	evCount, legCount := 0, 0

	for _, s := range sh.samples[assetID] {
		inEv := s.Timestamp.After(evCutoff)
		inLeg := s.Timestamp.After(legCutoff)
		if !inEv && !inLeg {
			continue
		}
		if agg.FirstTs.IsZero() || s.Timestamp.Before(agg.FirstTs) {
			agg.FirstTs = s.Timestamp
		}
		if s.Timestamp.After(agg.LastTs) {
			agg.LastTs = s.Timestamp
		}
		if inEv {
			evCount++
			agg.Mask |= s.LedgerMask
			agg.LedgerStrong = agg.LedgerStrong || s.Strong
		}
		if inLeg {
			legCount++
			agg.LegacyCreatedHere = agg.LegacyCreatedHere || s.LegacyCreatedHere
		}
	}
	if evCount == 0 && legCount == 0 {
		return Aggregated{}
	}

	agg.BitCounts = make(map[int]int)
	for _, s := range sh.samples[assetID] {
		if !s.Timestamp.After(evCutoff) {
			continue
		}
		m := uint32(s.LedgerMask)
		for m != 0 {
			idx := bits.TrailingZeros32(m)
			agg.BitCounts[idx]++
			m &= m - 1
		}
	}

	if agg.LegacyCreatedHere && (agg.Mask != 0 || agg.LedgerStrong || a.legacyAlone) {
		agg.Mask |= mask.LedgerLegacyCreated
		agg.MergedSignal = true
	}

	agg.Count = evCount
	if legCount > agg.Count {
		agg.Count = legCount
	}
	return agg
}

// ScoreFromWeights sums weights for every set bit, keyed by bit index.
// Bits without a weight contribute nothing.
func ScoreFromWeights(m mask.Ledger, weights map[int]float64) float64 {
	score := 0.0
	v := uint32(m)
	for v != 0 {
		idx := bits.TrailingZeros32(v)
		score += weights[idx]
		v &= v - 1
	}
	return score
}
