package event

import (
	"time"

	"github.com/solwatch/mintready/internal/mask"
)

// ScoreBreakdown carries the per-component contributions behind a readiness
// decision, for diagnostics and post-hoc tuning.
type ScoreBreakdown struct {
	Base   float64 `json:"base"`
	Ledger float64 `json:"ledger"`
	Legacy float64 `json:"legacy"`
	Merged float64 `json:"merged"`
}

// Trigger is the terminal readiness outcome for an asset. Emitted at most
// once per asset.
type Trigger struct {
	AssetID             string         `json:"assetId"`
	Slot                int64          `json:"slot"`
	FSMMask             mask.FSM       `json:"fsmMask"`
	LedgerMask          mask.Ledger    `json:"ledgerMask"`
	LedgerMaskNames     []string       `json:"ledgerMaskNames"`
	Score               ScoreBreakdown `json:"score"`
	FinalReprobeLatency time.Duration  `json:"finalReprobeLatencyNs"`
	At                  time.Time      `json:"at"`
}

// State is a non-terminal readiness snapshot. An asset can emit any number
// of these before (or instead of) triggering.
type State struct {
	AssetID    string
	Slot       int64
	FSMMask    mask.FSM
	LedgerMask mask.Ledger
	Score      ScoreBreakdown
	Note       string
	At         time.Time
}
