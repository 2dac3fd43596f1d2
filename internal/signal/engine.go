package signal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/solwatch/mintready/internal/event"
	"github.com/solwatch/mintready/internal/mask"
)

// Lamport thresholds for first-buy sizing and the fee heuristic.
const (
	highFeeLamports   = 100_000
	buySmallLamports  = 10_000_000
	buyMediumLamports = 500_000_000
	buyLargeLamports  = 2_000_000_000
)

// Engine derives evidence bits from raw ledger observations and keeps them
// per asset, per slot, aged out beyond a sliding slot window.
type Engine struct {
	mu               sync.Mutex
	windowSlots      int64
	densityThreshold int
	requiredBits     int
	assets           map[string]map[int64]mask.Ledger
}

// Config tunes the window and the strong-signal gate.
type Config struct {
	WindowSlots      int
	DensityThreshold int
	RequiredBits     int
}

func New(cfg Config) *Engine {
	if cfg.WindowSlots <= 0 {
		cfg.WindowSlots = 5
	}
	if cfg.DensityThreshold <= 0 {
		cfg.DensityThreshold = 2
	}
	if cfg.RequiredBits <= 0 {
		cfg.RequiredBits = 2
	}
	return &Engine{
		windowSlots:      int64(cfg.WindowSlots),
		densityThreshold: cfg.DensityThreshold,
		requiredBits:     cfg.RequiredBits,
		assets:           make(map[string]map[int64]mask.Ledger),
	}
}

// ProcessEvent derives bits from the observation and records them for every
// fresh asset it names. Returns the derived mask.
func (e *Engine) ProcessEvent(ev event.Ledger) mask.Ledger {
	bits := deriveBits(ev)
	if bits == 0 {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, asset := range ev.FreshAssets {
		slots, ok := e.assets[asset]
		if !ok {
			slots = make(map[int64]mask.Ledger)
			e.assets[asset] = slots
		}
		slots[ev.Slot] |= bits
		// Age out slots that fell off the window.
		for slot := range slots {
			if slot <= ev.Slot-e.windowSlots {
				delete(slots, slot)
			}
		}
	}
	return bits
}

// MaskFor ORs the asset's bits across the window ending at slot.
func (e *Engine) MaskFor(asset string, slot int64) mask.Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out mask.Ledger
	for s, bits := range e.assets[asset] {
		if s > slot-e.windowSlots && s <= slot {
			out |= bits
		}
	}
	return out
}

// IsStrongSignal reports whether the asset's windowed evidence clears the
// gate: enough distinct bits, or activity spread over enough slots.
func (e *Engine) IsStrongSignal(asset string, slot int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var merged mask.Ledger
	denseSlots := 0
	for s, bits := range e.assets[asset] {
		if s > slot-e.windowSlots && s <= slot && bits != 0 {
			merged |= bits
			denseSlots++
		}
	}
	return merged.Count() >= e.requiredBits || denseSlots >= e.densityThreshold
}

// Forget drops all state for an asset.
func (e *Engine) Forget(asset string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.assets, asset)
}

type metaFacts struct {
	Fee               uint64  `json:"fee"`
	PreBalances       []int64 `json:"preBalances"`
	PostBalances      []int64 `json:"postBalances"`
	PostTokenBalances []struct {
		Owner string `json:"owner"`
	} `json:"postTokenBalances"`
}

var logMarkers = []struct {
	marker string
	bit    mask.Ledger
}{
	{"initializeaccount", mask.LedgerAccountCreated},
	{"createaccount", mask.LedgerAccountCreated},
	{"createidempotent", mask.LedgerATACreated},
	{"associatedtoken", mask.LedgerATACreated},
	{"initializemint", mask.LedgerProgramInit},
	{"initialize2", mask.LedgerLPStructure},
	{"addliquidity", mask.LedgerLiquidityAdded},
	{"swap", mask.LedgerSwapDetected},
	{"so111", mask.LedgerWrappedNativeTouch},
}

func deriveBits(ev event.Ledger) mask.Ledger {
	var bits mask.Ledger

	lower := strings.ToLower(ev.SampleLogs)
	for _, m := range logMarkers {
		if strings.Contains(lower, m.marker) {
			bits |= m.bit
		}
	}

	if ev.LegacyCreated {
		bits |= mask.LedgerLegacyCreated
	}

	if len(ev.Meta) > 0 {
		var mf metaFacts
		if err := json.Unmarshal(ev.Meta, &mf); err == nil {
			bits |= metaBits(mf)
		}
	}
	return bits
}

func metaBits(mf metaFacts) mask.Ledger {
	var bits mask.Ledger

	if mf.Fee >= highFeeLamports {
		bits |= mask.LedgerHighFee
	}

	owners := make(map[string]struct{})
	for _, tb := range mf.PostTokenBalances {
		if tb.Owner != "" {
			owners[tb.Owner] = struct{}{}
		}
	}
	if len(owners) >= 2 {
		bits |= mask.LedgerMultiBuyers
	}

	// Payer spend approximates the first buy size.
	if len(mf.PreBalances) > 0 && len(mf.PostBalances) > 0 {
		spend := mf.PreBalances[0] - mf.PostBalances[0]
		switch {
		case spend >= buyLargeLamports:
			bits |= mask.LedgerFirstBuy | mask.LedgerFirstBuyLarge
		case spend >= buyMediumLamports:
			bits |= mask.LedgerFirstBuy | mask.LedgerFirstBuyMedium
		case spend >= buySmallLamports:
			bits |= mask.LedgerFirstBuy | mask.LedgerFirstBuySmall
		}
	}
	return bits
}
