package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/solwatch/mintready/internal/density"
	"github.com/solwatch/mintready/internal/event"
	"github.com/solwatch/mintready/internal/evidence"
	"github.com/solwatch/mintready/internal/legacy"
	"github.com/solwatch/mintready/internal/mask"
	"github.com/solwatch/mintready/internal/metrics"
	"github.com/solwatch/mintready/internal/readiness"
	"github.com/solwatch/mintready/internal/signal"
	"github.com/solwatch/mintready/internal/tracing"
)

// Config tunes how the stream reconciles upstream verdicts with local ones.
type Config struct {
	// DetectorFirst keeps the feed's legacy-creation verdict when it is
	// already set; local detection then only fills a missing verdict.
	// When disabled, local detection recomputes the verdict from the raw
	// payload whenever one is present.
	DetectorFirst bool
}

// Pipeline is the single event-processing stream: ledger events flow
// through the signal engine and legacy detector into the aggregator and
// the readiness machine, while slot ticks feed the density tracker.
type Pipeline struct {
	cfg     Config
	engine  *signal.Engine
	agg     *evidence.Aggregator
	machine *readiness.Machine
	density *density.Tracker
	events  <-chan event.Ledger
	ticks   <-chan event.SlotTick
	logger  *slog.Logger
}

func New(
	cfg Config,
	engine *signal.Engine,
	agg *evidence.Aggregator,
	machine *readiness.Machine,
	tracker *density.Tracker,
	events <-chan event.Ledger,
	ticks <-chan event.SlotTick,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		engine:  engine,
		agg:     agg,
		machine: machine,
		density: tracker,
		events:  events,
		ticks:   ticks,
		logger:  logger,
	}
}

// Run consumes both feeds until ctx is done. Events are handled one at a
// time in arrival order; per-asset probe fan-out happens inside the
// readiness machine.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tick, ok := <-p.ticks:
				if !ok {
					return nil
				}
				p.density.Observe(tick.Slot)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-p.events:
				if !ok {
					return nil
				}
				p.handleEvent(ctx, ev)
			}
		}
	})

	g.Go(func() error {
		return p.machine.RunSweeper(ctx)
	})

	return g.Wait()
}

func (p *Pipeline) handleEvent(ctx context.Context, ev event.Ledger) {
	ctx, span := tracing.Tracer("pipeline").Start(ctx, "handle_event",
		trace.WithAttributes(
			attribute.Int64("slot", ev.Slot),
			attribute.Int("fresh_assets", len(ev.FreshAssets)),
		))
	defer span.End()

	metrics.EventsProcessedTotal.Inc()

	if hasRaw := len(ev.Transaction) > 0 || len(ev.Meta) > 0; hasRaw && (!p.cfg.DetectorFirst || !ev.LegacyCreated) {
		ev.LegacyCreated = legacy.Detect(ev.Transaction, ev.Meta)
	}

	bits := p.engine.ProcessEvent(ev)
	// Only slot-clock changes feed the density ring. Re-observing the event
	// slot here would flood the ring with equal values during an in-slot
	// burst and zero the very signal the tracker measures.
	strong := p.density.Strong()
	if strong {
		bits |= mask.LedgerSlotDensity
	}

	for _, asset := range ev.FreshAssets {
		sig := ev.Signature
		if sig != "" {
			// Scope dedup to the asset so one event naming several
			// fresh assets records a sample for each.
			sig = sig + "|" + asset
		}
		p.agg.AddSample(evidence.Sample{
			AssetID:           asset,
			LedgerMask:        bits,
			Strong:            strong,
			LegacyCreatedHere: ev.LegacyCreated,
			Signature:         sig,
			Timestamp:         ev.ObservedAt,
		})
	}

	p.machine.ProcessEvent(ctx, ev)
}
