package pager

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// EvictionPolicy assigns each frame in a fixed-size BufferPool a score
// the pool uses to pick a victim: lower scores are evicted first. The
// pool calls Update whenever a frame is touched and Reset right after a
// frame is repopulated, so a policy never needs to know about frame
// indices beyond "the pool's current capacity".
type EvictionPolicy interface {
	// Score returns the current eviction score for frame i. Called
	// during victim selection; must not block.
	Score(i int) int64
	// Update is called whenever frame i is accessed (read or write hit).
	Update(i int)
	// Reset is called right after frame i has been repopulated with a
	// different page, so stale history does not bias the next round of
	// victim selection.
	Reset(i int)
}

// ───────────────────────────────────────────────────────────────────────────
// SampledLRU
// ───────────────────────────────────────────────────────────────────────────

// SampledLRU scores each frame by the logical timestamp of its last
// access. Rather than maintaining an exact LRU list (which would need a
// globally-synchronized linked list on every access), the buffer pool
// samples a handful of candidate frames and evicts whichever of those
// has the oldest timestamp — the standard approximate-LRU tradeoff,
// cheap under concurrent access at the cost of occasionally evicting a
// not-quite-oldest frame.
type SampledLRU struct {
	clock     atomic.Int64
	lastUsed  []atomic.Int64
}

// NewSampledLRU allocates a SampledLRU sized for capacity frames.
func NewSampledLRU(capacity int) *SampledLRU {
	return &SampledLRU{lastUsed: make([]atomic.Int64, capacity)}
}

func (s *SampledLRU) Score(i int) int64 { return s.lastUsed[i].Load() }

func (s *SampledLRU) Update(i int) { s.lastUsed[i].Store(s.clock.Add(1)) }

func (s *SampledLRU) Reset(i int) { s.lastUsed[i].Store(0) }

// ───────────────────────────────────────────────────────────────────────────
// Dummy
// ───────────────────────────────────────────────────────────────────────────

// Dummy scores every frame equally. It exists for containers (notably
// temporary/scratch containers) where recency-based eviction buys
// nothing: every frame is as good a victim as any other, so the pool's
// random sampling alone decides.
type Dummy struct{}

func (Dummy) Score(int)  int64 { return 0 }
func (Dummy) Update(int)       {}
func (Dummy) Reset(int)        {}

// ───────────────────────────────────────────────────────────────────────────
// per-goroutine sampling RNG
// ───────────────────────────────────────────────────────────────────────────

// rngPool hands out a *rand.Rand per goroutine instead of sharing one
// behind a mutex, since the buffer pool's eviction path runs on the hot
// path of every cache miss.
var rngPool = sync.Pool{
	New: func() any {
		return rand.New(rand.NewSource(rand.Int63()))
	},
}

// sampleIndices returns up to k distinct indices in [0, n) chosen
// uniformly at random, using a pooled per-call RNG.
func sampleIndices(n, k int) []int {
	if k > n {
		k = n
	}
	r := rngPool.Get().(*rand.Rand)
	defer rngPool.Put(r)

	seen := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for len(out) < k {
		i := r.Intn(n)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}
