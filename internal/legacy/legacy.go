package legacy

import (
	"encoding/json"
	"strings"
)

// Markers of the older token-creation path: a direct mint initialization,
// or an idempotent ATA creation funded through the wrapped native token.
const (
	wrappedNativePrefix = "So111"

	markerInitializeMint   = "initializemint"
	markerCreateIdempotent = "createidempotent"
)

type metaView struct {
	PreTokenBalances []struct {
		Mint string `json:"mint"`
	} `json:"preTokenBalances"`
	InnerInstructions []struct {
		Instructions []json.RawMessage `json:"instructions"`
	} `json:"innerInstructions"`
	LogMessages []string `json:"logMessages"`
}

// Detect reports whether a transaction looks like a legacy-path token
// creation. It works on raw notification JSON and never errors: malformed
// or missing payloads simply read as "not legacy".
func Detect(tx, meta json.RawMessage) bool {
	lowerTx := strings.ToLower(string(tx))
	if strings.Contains(lowerTx, markerInitializeMint) {
		return true
	}

	if len(meta) == 0 {
		return false
	}
	var mv metaView
	if err := json.Unmarshal(meta, &mv); err != nil {
		return false
	}

	for _, log := range mv.LogMessages {
		if strings.Contains(strings.ToLower(log), markerInitializeMint) {
			return true
		}
	}

	sawIdempotentCreate := strings.Contains(lowerTx, markerCreateIdempotent)
	for _, inner := range mv.InnerInstructions {
		for _, ix := range inner.Instructions {
			lower := strings.ToLower(string(ix))
			if strings.Contains(lower, markerInitializeMint) {
				return true
			}
			if strings.Contains(lower, markerCreateIdempotent) {
				sawIdempotentCreate = true
			}
		}
	}

	if !sawIdempotentCreate {
		return false
	}
	for _, bal := range mv.PreTokenBalances {
		if strings.HasPrefix(bal.Mint, wrappedNativePrefix) {
			return true
		}
	}
	return false
}
