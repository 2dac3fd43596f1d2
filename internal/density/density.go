package density

import "sync"

// Tracker keeps a small ring of recently observed slots and measures how
// bursty creation activity is: each adjacent pair of consecutive slots in
// the ring counts toward the density score.
type Tracker struct {
	mu        sync.Mutex
	ring      []int64
	next      int
	size      int
	cap       int
	strongMin int
}

// New returns a tracker holding up to ringSize slots. Density at or above
// strongMin reads as a strong burst.
func New(ringSize, strongMin int) *Tracker {
	if ringSize <= 0 {
		ringSize = 6
	}
	if strongMin <= 0 {
		strongMin = 2
	}
	return &Tracker{
		ring:      make([]int64, ringSize),
		cap:       ringSize,
		strongMin: strongMin,
	}
}

// Observe records a slot, evicting the oldest when the ring is full.
func (t *Tracker) Observe(slot int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ring[t.next] = slot
	t.next = (t.next + 1) % t.cap
	if t.size < t.cap {
		t.size++
	}
}

// Density counts adjacent observation pairs exactly one slot apart, in
// insertion order.
func (t *Tracker) Density() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.densityLocked()
}

func (t *Tracker) densityLocked() int {
	if t.size < 2 {
		return 0
	}
	start := 0
	if t.size == t.cap {
		start = t.next
	}
	count := 0
	for i := 1; i < t.size; i++ {
		prev := t.ring[(start+i-1)%t.cap]
		cur := t.ring[(start+i)%t.cap]
		if cur-prev == 1 {
			count++
		}
	}
	return count
}

// Strong reports whether the current density reaches the strong threshold.
func (t *Tracker) Strong() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.densityLocked() >= t.strongMin
}

// Reset clears all observations.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = 0
	t.size = 0
}
