package mask

import "math/bits"

// Two independent bit vocabularies flow through the pipeline: evidence bits
// derived from raw ledger observations, and the per-asset readiness FSM bits.
// They are kept as distinct types so a ledger mask can never be scored with
// FSM weights (or vice versa) without an explicit conversion that does not
// exist.

// Ledger is a bitmask of evidence derived from ledger observations.
type Ledger uint32

// FSM is a bitmask of per-asset readiness facts.
type FSM uint32

// LedgerBaseShift is the bit position of the first ledger evidence bit.
// Positions below the shift are reserved so ledger masks can be merged into
// wider diagnostic words without colliding with FSM bits.
const LedgerBaseShift = 6

const (
	LedgerAccountCreated     Ledger = 1 << (LedgerBaseShift + 0)
	LedgerATACreated         Ledger = 1 << (LedgerBaseShift + 1)
	LedgerSameAuthority      Ledger = 1 << (LedgerBaseShift + 2)
	LedgerProgramInit        Ledger = 1 << (LedgerBaseShift + 3)
	LedgerSlotDensity        Ledger = 1 << (LedgerBaseShift + 4)
	LedgerLPStructure        Ledger = 1 << (LedgerBaseShift + 5)
	LedgerCleanFunding       Ledger = 1 << (LedgerBaseShift + 6)
	LedgerSlotAligned        Ledger = 1 << (LedgerBaseShift + 7)
	LedgerCreatorExposed     Ledger = 1 << (LedgerBaseShift + 8)
	LedgerLegacyCreated      Ledger = 1 << (LedgerBaseShift + 9)
	LedgerSwapDetected       Ledger = 1 << (LedgerBaseShift + 10)
	LedgerLiquidityAdded     Ledger = 1 << (LedgerBaseShift + 11)
	LedgerWrappedNativeTouch Ledger = 1 << (LedgerBaseShift + 12)
	LedgerFirstBuySmall      Ledger = 1 << (LedgerBaseShift + 13)
	LedgerFirstBuyMedium     Ledger = 1 << (LedgerBaseShift + 14)
	LedgerFirstBuyLarge      Ledger = 1 << (LedgerBaseShift + 15)
	LedgerMultiBuyers        Ledger = 1 << (LedgerBaseShift + 16)
	LedgerHighFee            Ledger = 1 << (LedgerBaseShift + 17)
	LedgerFirstBuy           Ledger = 1 << (LedgerBaseShift + 18)
)

// LedgerWeightsByBit scores each evidence bit. The values are calibrated
// against observed launch traffic; large first buys dominate.
var LedgerWeightsByBit = map[Ledger]float64{
	LedgerAccountCreated:     0.06,
	LedgerATACreated:         0.05,
	LedgerSameAuthority:      0.04,
	LedgerProgramInit:        0.05,
	LedgerSlotDensity:        0.05,
	LedgerLPStructure:        0.07,
	LedgerCleanFunding:       0.08,
	LedgerSlotAligned:        0.06,
	LedgerCreatorExposed:     0.08,
	LedgerLegacyCreated:      0.06,
	LedgerSwapDetected:       0.08,
	LedgerLiquidityAdded:     0.08,
	LedgerWrappedNativeTouch: 0.04,
	LedgerFirstBuySmall:      0.06,
	LedgerFirstBuyMedium:     0.12,
	LedgerFirstBuyLarge:      0.20,
	LedgerMultiBuyers:        0.09,
	LedgerHighFee:            0.05,
	LedgerFirstBuy:           0.07,
}

// LedgerWeightsByIndex mirrors LedgerWeightsByBit keyed by bit index
// (index = log2 of the bit value), for index-based scoring paths.
var LedgerWeightsByIndex = func() map[int]float64 {
	byIndex := make(map[int]float64, len(LedgerWeightsByBit))
	for bit, w := range LedgerWeightsByBit {
		byIndex[bits.TrailingZeros32(uint32(bit))] = w
	}
	return byIndex
}()

var ledgerBitNames = []struct {
	bit  Ledger
	name string
}{
	{LedgerAccountCreated, "AccountCreated"},
	{LedgerATACreated, "ATACreated"},
	{LedgerSameAuthority, "SameAuthority"},
	{LedgerProgramInit, "ProgramInit"},
	{LedgerSlotDensity, "SlotDensity"},
	{LedgerLPStructure, "LPStruct"},
	{LedgerCleanFunding, "CleanFunding"},
	{LedgerSlotAligned, "SlotAligned"},
	{LedgerCreatorExposed, "CreatorExposed"},
	{LedgerLegacyCreated, "LegacyCreated"},
	{LedgerSwapDetected, "SwapDetected"},
	{LedgerLiquidityAdded, "LiquidityAdded"},
	{LedgerWrappedNativeTouch, "WrappedNativeTouch"},
	{LedgerFirstBuySmall, "FirstBuySmall"},
	{LedgerFirstBuyMedium, "FirstBuyMedium"},
	{LedgerFirstBuyLarge, "FirstBuyLarge"},
	{LedgerMultiBuyers, "MultiBuyers"},
	{LedgerHighFee, "HighFee"},
	{LedgerFirstBuy, "FirstBuy"},
}

// Names decodes the mask into its set bit names, in bit order.
func (m Ledger) Names() []string {
	var out []string
	for _, entry := range ledgerBitNames {
		if m&entry.bit != 0 {
			out = append(out, entry.name)
		}
	}
	return out
}

// Count returns the number of set evidence bits.
func (m Ledger) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Score sums the weights of the set bits.
func (m Ledger) Score() float64 {
	score := 0.0
	for bit, w := range LedgerWeightsByBit {
		if m&bit != 0 {
			score += w
		}
	}
	return score
}

// Readiness FSM bits occupy positions 0-5 and never overlap the ledger
// vocabulary's shifted range.
const (
	FSMMintExists   FSM = 1 << 0
	FSMAuthorityOK  FSM = 1 << 1
	FSMPoolExists   FSM = 1 << 2
	FSMPoolInit     FSM = 1 << 3
	FSMTransferable FSM = 1 << 4
	FSMSlotSeq      FSM = 1 << 5
)

// FSMCore is the conjunction of the four foundational readiness facts.
const FSMCore = FSMMintExists | FSMAuthorityOK | FSMPoolExists | FSMPoolInit

// FSMWeights sum to 1.0 across all six bits.
var FSMWeights = map[FSM]float64{
	FSMMintExists:   0.20,
	FSMAuthorityOK:  0.20,
	FSMPoolExists:   0.15,
	FSMPoolInit:     0.15,
	FSMTransferable: 0.20,
	FSMSlotSeq:      0.10,
}

// CoreSet reports whether all four core readiness bits are present.
func (m FSM) CoreSet() bool {
	return m&FSMCore == FSMCore
}

// Score sums the weights of the set FSM bits.
func (m FSM) Score() float64 {
	score := 0.0
	for bit, w := range FSMWeights {
		if m&bit != 0 {
			score += w
		}
	}
	return score
}
