package density

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDensity_ConsecutiveRun(t *testing.T) {
	tr := New(6, 2)
	tr.Observe(10)
	tr.Observe(11)
	tr.Observe(12)

	assert.Equal(t, 2, tr.Density())
	assert.True(t, tr.Strong())
}

func TestDensity_GappedSlots(t *testing.T) {
	tr := New(6, 2)
	tr.Observe(10)
	tr.Observe(12)
	tr.Observe(14)

	assert.Equal(t, 0, tr.Density())
	assert.False(t, tr.Strong())
}

func TestDensity_Empty(t *testing.T) {
	tr := New(6, 2)
	assert.Equal(t, 0, tr.Density())
	assert.False(t, tr.Strong())

	tr.Observe(10)
	assert.Equal(t, 0, tr.Density(), "single observation has no pairs")
}

func TestDensity_RingEviction(t *testing.T) {
	tr := New(3, 2)
	tr.Observe(10)
	tr.Observe(11)
	tr.Observe(20)
	tr.Observe(21)

	// Ring now holds [11, 20, 21]: one consecutive pair.
	assert.Equal(t, 1, tr.Density())
	assert.False(t, tr.Strong())
}

func TestDensity_BelowStrongThreshold(t *testing.T) {
	tr := New(6, 3)
	tr.Observe(10)
	tr.Observe(11)
	tr.Observe(12)

	assert.Equal(t, 2, tr.Density())
	assert.False(t, tr.Strong())
}

func TestReset(t *testing.T) {
	tr := New(6, 2)
	tr.Observe(10)
	tr.Observe(11)
	tr.Observe(12)
	tr.Reset()

	assert.Equal(t, 0, tr.Density())
	assert.False(t, tr.Strong())

	tr.Observe(30)
	tr.Observe(31)
	assert.Equal(t, 1, tr.Density())
}
