package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/solwatch/mintready/internal/metrics"
)

// Candidate input legs for the tradability probe.
const (
	WrappedNativeMint = "So11111111111111111111111111111111111111112"
	USDCMint          = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint          = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// DefaultInputMints is the probe's input rotation, most liquid leg first.
var DefaultInputMints = []string{WrappedNativeMint, USDCMint, USDTMint}

// Provider answers whether an asset is currently routable for a trade of the
// probe size. Implemented by Client; faked in tests.
type Provider interface {
	Quote(ctx context.Context, outputMint string, amount uint64) (*Quote, error)
}

// Quote is a single routed quote.
type Quote struct {
	InputMint   string  `json:"inputMint"`
	OutputMint  string  `json:"outputMint"`
	InAmount    string  `json:"inAmount"`
	OutAmount   string  `json:"outAmount"`
	PriceImpact float64 `json:"-"`

	// PriceImpactPct arrives as a JSON string.
	PriceImpactPct string `json:"priceImpactPct"`
}

// Tradable reports whether the quote represents a usable route.
func (q *Quote) Tradable() bool {
	if q == nil {
		return false
	}
	out, err := strconv.ParseUint(q.OutAmount, 10, 64)
	return err == nil && out > 0
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	inputMints []string
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		inputMints: DefaultInputMints,
		logger:     logger,
	}
}

// Quote probes every candidate input leg concurrently and returns the best
// route found. An error is returned only when no leg routes at all.
func (c *Client) Quote(ctx context.Context, outputMint string, amount uint64) (*Quote, error) {
	results := make([]*Quote, len(c.inputMints))
	errs := make([]error, len(c.inputMints))

	var wg sync.WaitGroup
	for i, inputMint := range c.inputMints {
		wg.Add(1)
		go func(i int, inputMint string) {
			defer wg.Done()
			results[i], errs[i] = c.fetch(ctx, inputMint, outputMint, amount)
		}(i, inputMint)
	}
	wg.Wait()

	if best := Best(results); best != nil {
		return best, nil
	}
	for i, err := range errs {
		if err != nil {
			c.logger.Debug("quote leg failed", "input_mint", c.inputMints[i], "output_mint", outputMint, "error", err)
			return nil, err
		}
	}
	return nil, fmt.Errorf("no route for %s", outputMint)
}

// fetch requests a single routed quote for one input leg.
func (c *Client) fetch(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error) {
	metrics.QuoteRequestsTotal.Inc()

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", "100")

	reqURL := c.baseURL + "/quote?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		metrics.QuoteErrorsTotal.Inc()
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.QuoteErrorsTotal.Inc()
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.QuoteErrorsTotal.Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.QuoteErrorsTotal.Inc()
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		metrics.QuoteErrorsTotal.Inc()
		return nil, fmt.Errorf("unmarshal quote: %w", err)
	}
	if quote.PriceImpactPct != "" {
		if v, err := strconv.ParseFloat(quote.PriceImpactPct, 64); err == nil {
			quote.PriceImpact = v
		}
	}
	return &quote, nil
}

// Best returns the candidate quote with the lowest price impact, breaking
// ties by the larger output amount. Nil when candidates is empty.
func Best(candidates []*Quote) *Quote {
	var best *Quote
	var bestOut uint64
	for _, q := range candidates {
		if q == nil {
			continue
		}
		out, err := strconv.ParseUint(q.OutAmount, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case best == nil:
			best, bestOut = q, out
		case q.PriceImpact < best.PriceImpact:
			best, bestOut = q, out
		case q.PriceImpact == best.PriceImpact && out > bestOut:
			best, bestOut = q, out
		}
	}
	return best
}
