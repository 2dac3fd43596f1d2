package event

import (
	"encoding/json"
	"time"
)

// Ledger is one observation from the upstream feed: a slot, the assets first
// seen in it, and whatever raw material came with the notification. The feed
// may duplicate events; Signature is the dedup key when present.
type Ledger struct {
	Slot          int64           `json:"slot"`
	FreshAssets   []string        `json:"freshAssets"`
	SampleLogs    string          `json:"sampleLogs,omitempty"`
	LegacyCreated bool            `json:"legacyCreated,omitempty"`
	Transaction   json.RawMessage `json:"transaction,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	Signature     string          `json:"signature,omitempty"`
	ObservedAt    time.Time       `json:"observedAt,omitzero"`
}
