package mask

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerWeights_IndexKeyingMatchesBitKeying(t *testing.T) {
	require.Len(t, LedgerWeightsByIndex, len(LedgerWeightsByBit))
	for bit, w := range LedgerWeightsByBit {
		idx := bits.TrailingZeros32(uint32(bit))
		assert.Equal(t, w, LedgerWeightsByIndex[idx], "weight mismatch for bit index %d", idx)
	}
}

func TestLedgerWeights_RangeAndBaseShift(t *testing.T) {
	for bit, w := range LedgerWeightsByBit {
		assert.GreaterOrEqual(t, w, 0.04)
		assert.LessOrEqual(t, w, 0.20)
		idx := bits.TrailingZeros32(uint32(bit))
		assert.GreaterOrEqual(t, idx, LedgerBaseShift)
		assert.Less(t, idx, LedgerBaseShift+19)
	}
}

func TestLedger_Names(t *testing.T) {
	m := LedgerAccountCreated | LedgerLegacyCreated | LedgerFirstBuyLarge
	assert.Equal(t, []string{"AccountCreated", "LegacyCreated", "FirstBuyLarge"}, m.Names())
	assert.Empty(t, Ledger(0).Names())
}

func TestLedger_Score(t *testing.T) {
	m := LedgerAccountCreated | LedgerATACreated
	assert.InDelta(t, 0.11, m.Score(), 1e-9)
	assert.Zero(t, Ledger(0).Score())
}

func TestFSM_CoreSet(t *testing.T) {
	assert.True(t, FSMCore.CoreSet())
	assert.True(t, (FSMCore | FSMTransferable).CoreSet())
	assert.False(t, (FSMMintExists | FSMAuthorityOK | FSMPoolExists).CoreSet())
}

func TestFSM_WeightsSumToOne(t *testing.T) {
	total := 0.0
	for _, w := range FSMWeights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestFSM_Score(t *testing.T) {
	m := FSMMintExists | FSMAuthorityOK | FSMSlotSeq
	assert.InDelta(t, 0.50, m.Score(), 1e-9)
}

func TestVocabularies_DoNotOverlap(t *testing.T) {
	// All FSM bits sit below the ledger base shift.
	for bit := range FSMWeights {
		assert.Less(t, bits.TrailingZeros32(uint32(bit)), LedgerBaseShift)
	}
}
