package pool

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, private string, urls ...string) *Pool {
	t.Helper()
	p, err := New(Config{
		URLs:             urls,
		PrivateURL:       private,
		RequestTimeout:   time.Second,
		FailureThreshold: 3,
		ExclusionBase:    time.Hour,
	}, slog.Default())
	require.NoError(t, err)
	return p
}

func TestNew_NoEndpoints(t *testing.T) {
	_, err := New(Config{}, slog.Default())
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestAcquire_PrefersFewestFailures(t *testing.T) {
	p := newTestPool(t, "", "https://a.example", "https://b.example")

	p.MarkFailure("https://a.example")

	_, url, err := p.Acquire(AcquireOpts{})
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", url)
}

func TestAcquire_TieBrokenByRecentSuccess(t *testing.T) {
	p := newTestPool(t, "", "https://a.example", "https://b.example")

	now := time.Now()
	p.nowFn = func() time.Time { return now }
	p.MarkSuccess("https://a.example")
	now = now.Add(time.Second)
	p.MarkSuccess("https://b.example")

	_, url, err := p.Acquire(AcquireOpts{})
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", url)
}

func TestAcquire_PreferPrivate(t *testing.T) {
	p := newTestPool(t, "https://private.example", "https://public.example")

	_, url, err := p.Acquire(AcquireOpts{PreferPrivate: true})
	require.NoError(t, err)
	assert.Equal(t, "https://private.example", url)

	// Without the preference, ordering is health-based and the public
	// endpoint with a fresher success wins.
	p.MarkSuccess("https://public.example")
	_, url, err = p.Acquire(AcquireOpts{})
	require.NoError(t, err)
	assert.Equal(t, "https://public.example", url)
}

func TestAcquire_PrivateExcludedFallsBack(t *testing.T) {
	p := newTestPool(t, "https://private.example", "https://public.example")

	for i := 0; i < 3; i++ {
		p.MarkFailure("https://private.example")
	}

	_, url, err := p.Acquire(AcquireOpts{PreferPrivate: true})
	require.NoError(t, err)
	assert.Equal(t, "https://public.example", url)
}

func TestAcquire_ExclusionAfterThreshold(t *testing.T) {
	p := newTestPool(t, "", "https://only.example")

	p.MarkFailure("https://only.example")
	p.MarkFailure("https://only.example")
	_, _, err := p.Acquire(AcquireOpts{})
	require.NoError(t, err, "below threshold, still served")

	p.MarkFailure("https://only.example")
	_, _, err = p.Acquire(AcquireOpts{})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestMarkSuccess_ResetsFailures(t *testing.T) {
	p := newTestPool(t, "", "https://a.example", "https://b.example")

	p.MarkFailure("https://a.example")
	p.MarkFailure("https://a.example")
	p.MarkSuccess("https://a.example")
	p.MarkSuccess("https://b.example")

	// Both healthy again; "b" has the most recent success.
	_, url, err := p.Acquire(AcquireOpts{})
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", url)
}

func TestMark_UnknownEndpointIgnored(t *testing.T) {
	p := newTestPool(t, "", "https://a.example")
	p.MarkSuccess("https://unknown.example")
	p.MarkFailure("https://unknown.example")
	assert.Equal(t, 1, p.Size())
}

func TestNew_DeduplicatesURLs(t *testing.T) {
	p := newTestPool(t, "https://a.example", "https://a.example", "https://b.example")
	assert.Equal(t, 2, p.Size())
}
