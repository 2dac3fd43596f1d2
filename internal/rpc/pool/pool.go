package pool

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/solwatch/mintready/internal/circuitbreaker"
	"github.com/solwatch/mintready/internal/metrics"
	"github.com/solwatch/mintready/internal/rpc"
)

// ErrNoEndpoints is returned when every endpoint is excluded.
var ErrNoEndpoints = errors.New("no healthy rpc endpoints")

// AcquireOpts selects which part of the rotation to prefer.
type AcquireOpts struct {
	// PreferPrivate routes to the private endpoint when it is healthy.
	// Latency-sensitive probes set this; background polling does not.
	PreferPrivate bool
}

type endpoint struct {
	url         string
	private     bool
	client      *rpc.Client
	breaker     *circuitbreaker.Breaker
	failures    int
	lastSuccess time.Time
}

// Pool hands out JSON-RPC clients over a rotation of endpoints, preferring
// the healthiest one. Repeated failures exclude an endpoint behind a
// per-endpoint breaker with an escalating window.
type Pool struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	order     []string
	logger    *slog.Logger
	nowFn     func() time.Time
}

// Config configures the pool.
type Config struct {
	URLs             []string
	PrivateURL       string
	RequestTimeout   time.Duration
	FailureThreshold int
	ExclusionBase    time.Duration
}

func New(cfg Config, logger *slog.Logger) (*Pool, error) {
	urls := append([]string(nil), cfg.URLs...)
	if cfg.PrivateURL != "" {
		urls = append(urls, cfg.PrivateURL)
	}
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}

	p := &Pool{
		endpoints: make(map[string]*endpoint, len(urls)),
		logger:    logger,
		nowFn:     time.Now,
	}
	for _, u := range urls {
		if _, dup := p.endpoints[u]; dup {
			continue
		}
		ep := &endpoint{
			url:     u,
			private: u == cfg.PrivateURL,
			client:  rpc.NewClient(u, cfg.RequestTimeout, logger),
			breaker: circuitbreaker.New(circuitbreaker.Config{
				FailureThreshold: cfg.FailureThreshold,
				OpenTimeout:      cfg.ExclusionBase,
				OnStateChange: func(from, to circuitbreaker.State) {
					if to == circuitbreaker.StateOpen {
						metrics.PoolExclusionsTotal.WithLabelValues(u).Inc()
						logger.Warn("rpc endpoint excluded", "endpoint", u)
					}
				},
			}),
		}
		p.endpoints[u] = ep
		p.order = append(p.order, u)
	}
	return p, nil
}

// Acquire returns the healthiest available client and the endpoint URL it
// talks to. Callers report the call outcome via MarkSuccess or MarkFailure.
func (p *Pool) Acquire(opts AcquireOpts) (rpc.RPCClient, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if opts.PreferPrivate {
		for _, url := range p.order {
			ep := p.endpoints[url]
			if ep.private && ep.breaker.Allow() == nil {
				return ep.client, ep.url, nil
			}
		}
	}

	candidates := make([]*endpoint, 0, len(p.order))
	for _, url := range p.order {
		ep := p.endpoints[url]
		if ep.breaker.Allow() == nil {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		return nil, "", ErrNoEndpoints
	}

	// Fewest consecutive failures first; tie broken by most recent success.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].failures != candidates[j].failures {
			return candidates[i].failures < candidates[j].failures
		}
		return candidates[i].lastSuccess.After(candidates[j].lastSuccess)
	})
	return candidates[0].client, candidates[0].url, nil
}

// MarkSuccess records a successful call against an endpoint.
func (p *Pool) MarkSuccess(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.endpoints[url]
	if !ok {
		return
	}
	ep.failures = 0
	ep.lastSuccess = p.nowFn()
	ep.breaker.RecordSuccess()
}

// MarkFailure records a failed call against an endpoint.
func (p *Pool) MarkFailure(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.endpoints[url]
	if !ok {
		return
	}
	ep.failures++
	ep.breaker.RecordFailure()
	metrics.PoolFailuresTotal.WithLabelValues(url).Inc()
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}
