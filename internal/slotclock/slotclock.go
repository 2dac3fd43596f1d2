package slotclock

import (
	"context"
	"log/slog"
	"time"

	"github.com/solwatch/mintready/internal/event"
	"github.com/solwatch/mintready/internal/metrics"
	"github.com/solwatch/mintready/internal/rpc"
	"github.com/solwatch/mintready/internal/rpc/pool"
)

// EndpointPool is the slice of the rpc pool the clock needs.
type EndpointPool interface {
	Acquire(opts pool.AcquireOpts) (rpc.RPCClient, string, error)
	MarkSuccess(url string)
	MarkFailure(url string)
}

// Clock polls the chain for the current slot and emits a tick whenever the
// observed slot changes. Poll errors are counted and swallowed; the next
// tick simply retries.
type Clock struct {
	pool     EndpointPool
	interval time.Duration
	out      chan<- event.SlotTick
	logger   *slog.Logger
	nowFn    func() time.Time

	lastSlot int64
}

func New(p EndpointPool, interval time.Duration, out chan<- event.SlotTick, logger *slog.Logger) *Clock {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Clock{
		pool:     p,
		interval: interval,
		out:      out,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Run polls until ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *Clock) poll(ctx context.Context) {
	metrics.SlotPollsTotal.Inc()

	client, url, err := c.pool.Acquire(pool.AcquireOpts{})
	if err != nil {
		metrics.SlotPollErrors.Inc()
		c.logger.Warn("slot poll skipped", "error", err)
		return
	}

	slot, err := client.GetSlot(ctx, "processed")
	if err != nil {
		c.pool.MarkFailure(url)
		metrics.SlotPollErrors.Inc()
		c.logger.Warn("slot poll failed", "endpoint", url, "error", err)
		return
	}
	c.pool.MarkSuccess(url)

	if slot == c.lastSlot {
		return
	}
	c.lastSlot = slot
	metrics.SlotAdvancesTotal.Inc()

	tick := event.SlotTick{Slot: slot, ObservedAt: c.nowFn()}
	select {
	case c.out <- tick:
	case <-ctx.Done():
	}
}
