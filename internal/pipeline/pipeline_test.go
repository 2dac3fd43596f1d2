package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/mintready/internal/density"
	"github.com/solwatch/mintready/internal/event"
	"github.com/solwatch/mintready/internal/evidence"
	"github.com/solwatch/mintready/internal/mask"
	"github.com/solwatch/mintready/internal/quote"
	"github.com/solwatch/mintready/internal/readiness"
	"github.com/solwatch/mintready/internal/rpc"
	"github.com/solwatch/mintready/internal/rpc/pool"
	"github.com/solwatch/mintready/internal/signal"
)

// renouncedMint is an initialized mint with both authorities unset.
func renouncedMint() *rpc.AccountInfo {
	data := make([]byte, rpc.MintLen)
	data[45] = 1
	return &rpc.AccountInfo{Data: []string{base64.StdEncoding.EncodeToString(data), "base64"}}
}

type allHealthyClient struct {
	rpc.RPCClient
}

func (allHealthyClient) GetAccountInfo(ctx context.Context, address string) (*rpc.AccountInfo, error) {
	return renouncedMint(), nil
}

func (allHealthyClient) GetTokenLargestAccounts(ctx context.Context, mint string) ([]rpc.TokenAccountBalance, error) {
	return []rpc.TokenAccountBalance{{Address: "Pool1", Amount: "1000000"}}, nil
}

func (allHealthyClient) GetSignaturesForAddress(ctx context.Context, address string, opts *rpc.GetSignaturesOpts) ([]rpc.SignatureInfo, error) {
	return nil, nil
}

type stubPool struct{}

func (stubPool) Acquire(opts pool.AcquireOpts) (rpc.RPCClient, string, error) {
	return allHealthyClient{}, "https://rpc.example", nil
}
func (stubPool) MarkSuccess(string) {}
func (stubPool) MarkFailure(string) {}

type stubQuotes struct{}

func (stubQuotes) Quote(ctx context.Context, outputMint string, amount uint64) (*quote.Quote, error) {
	return &quote.Quote{OutAmount: "12345"}, nil
}

type testRig struct {
	pipeline *Pipeline
	agg      *evidence.Aggregator
	tracker  *density.Tracker
	events   chan event.Ledger
	ticks    chan event.SlotTick
	triggers []event.Trigger
	states   []event.State
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	logger := slog.Default()

	engine := signal.New(signal.Config{})
	agg := evidence.New(evidence.Config{LegacyAloneEligible: true})
	tracker := density.New(6, 2)
	machine := readiness.New(readiness.Config{
		FinalReprobeBudget: time.Second,
		QuoteReprobeBudget: time.Second,
	}, stubPool{}, stubQuotes{}, agg, engine, logger)

	rig := &testRig{
		agg:     agg,
		tracker: tracker,
		events:  make(chan event.Ledger, 16),
		ticks:   make(chan event.SlotTick, 16),
	}
	machine.OnTrigger(func(tr event.Trigger) { rig.triggers = append(rig.triggers, tr) })
	machine.OnState(func(s event.State) { rig.states = append(rig.states, s) })
	rig.pipeline = New(cfg, engine, agg, machine, tracker, rig.events, rig.ticks, logger)
	return rig
}

func TestHandleEvent_TriggersWithLegacyBit(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	rig.pipeline.handleEvent(context.Background(), event.Ledger{
		Slot:          100,
		FreshAssets:   []string{"X"},
		LegacyCreated: true,
		Signature:     "sig1",
		ObservedAt:    time.Now(),
	})

	require.Len(t, rig.triggers, 1)
	tr := rig.triggers[0]
	assert.Equal(t, "X", tr.AssetID)
	assert.Equal(t, int64(100), tr.Slot)
	assert.NotZero(t, tr.LedgerMask&mask.LedgerLegacyCreated)
	assert.Contains(t, tr.LedgerMaskNames, "LegacyCreated")
	assert.InDelta(t, 0.12, tr.Score.Legacy, 1e-9)
}

func TestHandleEvent_DuplicateSignatureDoesNotRetrigger(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	ev := event.Ledger{
		Slot:          100,
		FreshAssets:   []string{"X"},
		LegacyCreated: true,
		Signature:     "sig1",
		ObservedAt:    time.Now(),
	}
	rig.pipeline.handleEvent(context.Background(), ev)
	rig.pipeline.handleEvent(context.Background(), ev)

	assert.Len(t, rig.triggers, 1, "one-shot per asset")
	agg := rig.agg.GetAggregated("X", 0, 0)
	assert.Equal(t, 1, agg.Count, "replayed signature deduped")
}

func TestHandleEvent_LegacyDetectedFromRawPayload(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	rig.pipeline.handleEvent(context.Background(), event.Ledger{
		Slot:        100,
		FreshAssets: []string{"X"},
		Meta:        []byte(`{"logMessages":["Program log: Instruction: InitializeMint"]}`),
		ObservedAt:  time.Now(),
	})

	require.Len(t, rig.triggers, 1)
	assert.NotZero(t, rig.triggers[0].LedgerMask&mask.LedgerLegacyCreated)
}

func TestHandleEvent_MultipleAssetsEachSampled(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	rig.pipeline.handleEvent(context.Background(), event.Ledger{
		Slot:          100,
		FreshAssets:   []string{"A", "B"},
		LegacyCreated: true,
		Signature:     "sig1",
		ObservedAt:    time.Now(),
	})

	assert.Equal(t, 1, rig.agg.GetAggregated("A", 0, 0).Count)
	assert.Equal(t, 1, rig.agg.GetAggregated("B", 0, 0).Count)
	assert.Len(t, rig.triggers, 2)
}

func TestHandleEvent_DensityStrongBitApplied(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	// Three consecutive slot-clock ticks make the burst strong.
	for slot := int64(100); slot <= 102; slot++ {
		rig.tracker.Observe(slot)
	}
	rig.pipeline.handleEvent(context.Background(), event.Ledger{
		Slot:        102,
		FreshAssets: []string{"X"},
		SampleLogs:  "swap",
		ObservedAt:  time.Now(),
	})

	agg := rig.agg.GetAggregated("X", 0, 0)
	assert.NotZero(t, agg.Mask&mask.LedgerSlotDensity)
	assert.True(t, agg.LedgerStrong)
}

func TestHandleEvent_SameSlotBurstKeepsDensityStrong(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	for slot := int64(100); slot <= 102; slot++ {
		rig.tracker.Observe(slot)
	}
	require.True(t, rig.tracker.Strong())

	// Many events inside one slot must not flush the ring: only the slot
	// clock observes slots, so every sample in the burst keeps the bit.
	for i := 0; i < 5; i++ {
		rig.pipeline.handleEvent(context.Background(), event.Ledger{
			Slot:        102,
			FreshAssets: []string{"X"},
			SampleLogs:  "swap",
			Signature:   fmt.Sprintf("sig%d", i),
			ObservedAt:  time.Now(),
		})
	}

	assert.True(t, rig.tracker.Strong())
	agg := rig.agg.GetAggregated("X", 0, 0)
	assert.Equal(t, 5, agg.BitCounts[bitIndex(mask.LedgerSlotDensity)], "every sample in the burst carries the density bit")
	assert.True(t, agg.LedgerStrong)
}

func bitIndex(m mask.Ledger) int {
	i := 0
	for m > 1 {
		m >>= 1
		i++
	}
	return i
}

func TestHandleEvent_DetectorFirstKeepsUpstreamVerdict(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	// Raw payload with no legacy markers; the feed's verdict stands.
	rig.pipeline.handleEvent(context.Background(), event.Ledger{
		Slot:          100,
		FreshAssets:   []string{"X"},
		LegacyCreated: true,
		Meta:          []byte(`{"logMessages":["Program log: Instruction: Transfer"]}`),
		ObservedAt:    time.Now(),
	})

	agg := rig.agg.GetAggregated("X", 0, 0)
	assert.True(t, agg.LegacyCreatedHere)
}

func TestHandleEvent_LocalDetectorOverridesWhenNotDetectorFirst(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: false})

	// Same event: with the policy off, the local detector recomputes the
	// verdict from the raw payload and overrides the feed.
	rig.pipeline.handleEvent(context.Background(), event.Ledger{
		Slot:          100,
		FreshAssets:   []string{"X"},
		LegacyCreated: true,
		Meta:          []byte(`{"logMessages":["Program log: Instruction: Transfer"]}`),
		ObservedAt:    time.Now(),
	})

	agg := rig.agg.GetAggregated("X", 0, 0)
	assert.False(t, agg.LegacyCreatedHere)
}

func TestRun_ConsumesTicksAndStops(t *testing.T) {
	rig := newTestRig(t, Config{DetectorFirst: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.pipeline.Run(ctx) }()

	rig.ticks <- event.SlotTick{Slot: 100}
	rig.ticks <- event.SlotTick{Slot: 101}
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
}
