package pager

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// PageFrameId names a page by (container, page) and optionally carries a
// cached frame index from a previous lookup. Passing the same
// *PageFrameId back into a later call lets the buffer pool skip the
// sharded map lookup on the common case where the page has not moved.
type PageFrameId struct {
	Container ContainerID
	Page      PageID
	FrameHint int32 // -1 when unknown
}

// NewPageFrameId builds a PageFrameId with no cached hint.
func NewPageFrameId(c ContainerID, p PageID) PageFrameId {
	return PageFrameId{Container: c, Page: p, FrameHint: -1}
}

// frame is one slot in the buffer pool's fixed frame array.
type frame struct {
	mu    RwLatch
	key   PageFrameId
	buf   *Page
	dirty atomic.Bool
	valid atomic.Bool
}

// BufferPoolStats is a point-in-time snapshot of pool activity counters.
type BufferPoolStats struct {
	DiskReads       int64
	DiskWrites      int64
	NewPageRequests int64
	CacheHits       int64
	CacheMisses     int64
}

const mapShardCount = 16

type mapShard struct {
	mu    sync.RWMutex
	index map[PageFrameId]int
}

// BufferPool is a fixed-capacity cache of Page frames shared across every
// container registered in catalog. A page's residency is tracked in a
// sharded map from (container, page) to frame index; eviction victim
// selection and policy scoring are delegated to an EvictionPolicy.
type BufferPool struct {
	catalog  *ContainerCatalog
	policy   EvictionPolicy
	frames   []frame
	capacity int
	shards   [mapShardCount]mapShard
	sf       singleflight.Group

	diskReads, diskWrites, newPageRequests, cacheHits, cacheMisses atomic.Int64
}

// NewBufferPool allocates capacity frames backed by catalog, scored by
// policy.
func NewBufferPool(capacity int, catalog *ContainerCatalog, policy EvictionPolicy) *BufferPool {
	bp := &BufferPool{catalog: catalog, policy: policy, frames: make([]frame, capacity), capacity: capacity}
	for i := range bp.frames {
		bp.frames[i].key.FrameHint = -1
	}
	for i := range bp.shards {
		bp.shards[i].index = make(map[PageFrameId]int)
	}
	return bp
}

func mapKey(c ContainerID, p PageID) PageFrameId { return PageFrameId{Container: c, Page: p} }

func (bp *BufferPool) shardFor(key PageFrameId) *mapShard {
	return &bp.shards[(uint16(key.Container)^uint16(key.Page)^uint16(key.Page>>16))%mapShardCount]
}

func (bp *BufferPool) lookupIndex(key PageFrameId) (int, bool) {
	s := bp.shardFor(key)
	s.mu.RLock()
	idx, ok := s.index[key]
	s.mu.RUnlock()
	return idx, ok
}

func (bp *BufferPool) setIndex(key PageFrameId, idx int) {
	s := bp.shardFor(key)
	s.mu.Lock()
	s.index[key] = idx
	s.mu.Unlock()
}

func (bp *BufferPool) deleteIndex(key PageFrameId) {
	s := bp.shardFor(key)
	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
}

// ───────────────────────────────────────────────────────────────────────────
// Guards
// ───────────────────────────────────────────────────────────────────────────

// ReadFrameGuard holds a shared latch on a frame. Release must be called
// on every exit path, or the frame is permanently stuck for writers.
type ReadFrameGuard struct {
	pool     *BufferPool
	idx      int
	released atomic.Bool
}

// Page returns the guarded page. Valid only until Release is called.
func (g *ReadFrameGuard) Page() *Page { return g.pool.frames[g.idx].buf }

// Release drops the shared latch. Safe to call more than once.
func (g *ReadFrameGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.pool.frames[g.idx].mu.RUnlock()
	}
}

// WriteFrameGuard holds the exclusive latch on a frame.
type WriteFrameGuard struct {
	pool     *BufferPool
	idx      int
	released atomic.Bool
}

// Page returns the guarded page. Valid only until Release is called.
func (g *WriteFrameGuard) Page() *Page { return g.pool.frames[g.idx].buf }

// MarkDirty flags the frame for write-back before it is next evicted or
// flushed. Callers must call this after mutating Page(); the pool never
// infers dirtiness from the fact that a write latch was held.
func (g *WriteFrameGuard) MarkDirty() { g.pool.frames[g.idx].dirty.Store(true) }

// Release drops the exclusive latch. Safe to call more than once.
func (g *WriteFrameGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.pool.frames[g.idx].mu.Unlock()
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Lookup / fetch
// ───────────────────────────────────────────────────────────────────────────

// GetPageForRead acquires a shared latch on (pfid.Container, pfid.Page),
// reading it from disk on a cache miss. pfid.FrameHint is updated on
// success so a subsequent call with the same pointer skips the map
// lookup.
func (bp *BufferPool) GetPageForRead(pfid *PageFrameId) (*ReadFrameGuard, error) {
	idx, err := bp.resolve(pfid)
	if err != nil {
		return nil, err
	}
	for {
		bp.frames[idx].mu.RLock()
		if bp.frames[idx].valid.Load() && bp.frames[idx].key.Container == pfid.Container && bp.frames[idx].key.Page == pfid.Page {
			pfid.FrameHint = int32(idx)
			return &ReadFrameGuard{pool: bp, idx: idx}, nil
		}
		bp.frames[idx].mu.RUnlock()
		// Frame was stolen between resolve and lock; retry from scratch.
		idx, err = bp.resolve(pfid)
		if err != nil {
			return nil, err
		}
	}
}

// GetPageForWrite is GetPageForRead's exclusive-latch counterpart.
func (bp *BufferPool) GetPageForWrite(pfid *PageFrameId) (*WriteFrameGuard, error) {
	idx, err := bp.resolve(pfid)
	if err != nil {
		return nil, err
	}
	for {
		bp.frames[idx].mu.Lock()
		if bp.frames[idx].valid.Load() && bp.frames[idx].key.Container == pfid.Container && bp.frames[idx].key.Page == pfid.Page {
			pfid.FrameHint = int32(idx)
			return &WriteFrameGuard{pool: bp, idx: idx}, nil
		}
		bp.frames[idx].mu.Unlock()
		idx, err = bp.resolve(pfid)
		if err != nil {
			return nil, err
		}
	}
}

// resolve returns a frame index that (at the instant of the check) holds
// (pfid.Container, pfid.Page), using the cached hint, then the sharded
// map, then a disk read coalesced via singleflight.
func (bp *BufferPool) resolve(pfid *PageFrameId) (int, error) {
	key := mapKey(pfid.Container, pfid.Page)

	if pfid.FrameHint >= 0 {
		idx := int(pfid.FrameHint)
		if idx < len(bp.frames) {
			f := &bp.frames[idx]
			if f.valid.Load() && f.key == key {
				bp.cacheHits.Add(1)
				bp.policy.Update(idx)
				return idx, nil
			}
		}
	}

	if idx, ok := bp.lookupIndex(key); ok {
		bp.cacheHits.Add(1)
		bp.policy.Update(idx)
		return idx, nil
	}

	bp.cacheMisses.Add(1)
	sfKey := fmt.Sprintf("%d:%d", pfid.Container, pfid.Page)
	v, err, _ := bp.sf.Do(sfKey, func() (any, error) {
		// Re-check: another goroutine may have loaded it while we
		// waited to enter the singleflight group.
		if idx, ok := bp.lookupIndex(key); ok {
			return idx, nil
		}
		return bp.loadPage(pfid.Container, pfid.Page)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// loadPage selects a victim frame, flushing it if dirty, reads pageID
// from disk into it, and publishes the new mapping.
func (bp *BufferPool) loadPage(cid ContainerID, pid PageID) (int, error) {
	idx, oldKey, oldValid, err := bp.selectVictim()
	if err != nil {
		return 0, err
	}
	f := &bp.frames[idx]

	if oldValid && f.dirty.Load() {
		if err := bp.flushFrame(idx); err != nil {
			f.mu.Unlock()
			return 0, err
		}
	}
	if oldValid {
		bp.deleteIndex(oldKey)
	}

	c, err := bp.catalog.GetContainer(cid)
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	p, manufactured, err := c.File.ReadPage(pid)
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	bp.diskReads.Add(1)
	if !manufactured && !p.VerifyChecksum() {
		f.mu.Unlock()
		return 0, newErr(KindSerializationError, nil, "checksum mismatch reading page %d of container %d", pid, cid)
	}

	newKey := mapKey(cid, pid)
	f.buf = p
	f.key = newKey
	f.dirty.Store(false)
	f.valid.Store(true)
	bp.policy.Reset(idx)
	bp.policy.Update(idx)
	bp.setIndex(newKey, idx)
	f.mu.Unlock()
	return idx, nil
}

// selectVictim picks a frame to (re)populate, exclusively latching it
// before returning. Empty frames are preferred over eviction.
func (bp *BufferPool) selectVictim() (idx int, oldKey PageFrameId, wasValid bool, err error) {
	for i := range bp.frames {
		if !bp.frames[i].valid.Load() && bp.frames[i].mu.TryLock() {
			if !bp.frames[i].valid.Load() {
				return i, PageFrameId{}, false, nil
			}
			bp.frames[i].mu.Unlock()
		}
	}

	const maxRounds = 4
	sampleSize := 5
	if sampleSize > len(bp.frames) {
		sampleSize = len(bp.frames)
	}
	for round := 0; round < maxRounds; round++ {
		candidates := sampleIndices(len(bp.frames), sampleSize)
		best, bestScore := -1, int64(0)
		for _, c := range candidates {
			if !bp.frames[c].mu.IsFree() {
				continue
			}
			if bp.frames[c].mu.TryLock() {
				score := bp.policy.Score(c)
				if best < 0 || score < bestScore {
					if best >= 0 {
						bp.frames[best].mu.Unlock()
					}
					best, bestScore = c, score
				} else {
					bp.frames[c].mu.Unlock()
				}
			}
		}
		if best >= 0 {
			return best, bp.frames[best].key, bp.frames[best].valid.Load(), nil
		}
	}

	// Fall back to one full linear scan before giving up.
	for i := range bp.frames {
		if bp.frames[i].mu.TryLock() {
			return i, bp.frames[i].key, bp.frames[i].valid.Load(), nil
		}
	}
	return 0, PageFrameId{}, false, ErrCannotEvict
}

func (bp *BufferPool) flushFrame(idx int) error {
	f := &bp.frames[idx]
	c, err := bp.catalog.GetContainer(f.key.Container)
	if err != nil {
		return err
	}
	if c.IsTemp() {
		f.dirty.Store(false)
		return nil
	}
	f.buf.SetChecksum()
	if err := c.File.WritePage(f.buf); err != nil {
		return err
	}
	bp.diskWrites.Add(1)
	f.dirty.Store(false)
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Allocation
// ───────────────────────────────────────────────────────────────────────────

// CreateNewPageForWrite allocates a fresh page ID in cid, installs a
// blank initialised heap page into a frame, and returns it exclusively
// latched and marked dirty.
func (bp *BufferPool) CreateNewPageForWrite(cid ContainerID) (*WriteFrameGuard, PageID, error) {
	guards, ids, err := bp.CreateNewPagesForWrite(cid, 1)
	if err != nil {
		return nil, 0, err
	}
	return guards[0], ids[0], nil
}

// CreateNewPagesForWrite allocates n fresh pages at once, each installed
// into its own frame and returned exclusively latched and dirty.
func (bp *BufferPool) CreateNewPagesForWrite(cid ContainerID, n int) ([]*WriteFrameGuard, []PageID, error) {
	c, err := bp.catalog.GetContainer(cid)
	if err != nil {
		return nil, nil, err
	}
	bp.newPageRequests.Add(int64(n))

	guards := make([]*WriteFrameGuard, 0, n)
	ids := make([]PageID, 0, n)
	for i := 0; i < n; i++ {
		pid := c.nextPageID()
		idx, oldKey, oldValid, err := bp.selectVictim()
		if err != nil {
			for _, g := range guards {
				g.Release()
			}
			return nil, nil, err
		}
		f := &bp.frames[idx]
		if oldValid && f.dirty.Load() {
			if err := bp.flushFrame(idx); err != nil {
				f.mu.Unlock()
				for _, g := range guards {
					g.Release()
				}
				return nil, nil, err
			}
		}
		if oldValid {
			bp.deleteIndex(oldKey)
		}

		p := NewPage(pid)
		p.InitHeapPage()
		newKey := mapKey(cid, pid)
		f.buf = p
		f.key = newKey
		f.dirty.Store(true)
		f.valid.Store(true)
		bp.policy.Reset(idx)
		bp.policy.Update(idx)
		bp.setIndex(newKey, idx)
		// Leave the frame latched exclusively for the caller; it was
		// acquired by selectVictim's TryLock.
		guards = append(guards, &WriteFrameGuard{pool: bp, idx: idx})
		ids = append(ids, pid)
	}
	return guards, ids, nil
}

// PrefetchPage brings a page into the pool without returning a handle,
// releasing the latch immediately.
func (bp *BufferPool) PrefetchPage(cid ContainerID, pid PageID) error {
	pf := NewPageFrameId(cid, pid)
	g, err := bp.GetPageForRead(&pf)
	if err != nil {
		return err
	}
	g.Release()
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Bulk operations & introspection
// ───────────────────────────────────────────────────────────────────────────

// FlushAll writes back every dirty frame, leaving the frames resident.
func (bp *BufferPool) FlushAll() error {
	var firstErr error
	for i := range bp.frames {
		f := &bp.frames[i]
		f.mu.Lock()
		if f.valid.Load() && f.dirty.Load() {
			if err := bp.flushFrame(i); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		f.mu.Unlock()
	}
	return firstErr
}

// FlushAllAndReset flushes every dirty frame and then empties the pool,
// forgetting every resident page.
func (bp *BufferPool) FlushAllAndReset() error {
	if err := bp.FlushAll(); err != nil {
		return err
	}
	for i := range bp.frames {
		f := &bp.frames[i]
		f.mu.Lock()
		if f.valid.Load() {
			bp.deleteIndex(f.key)
		}
		f.valid.Store(false)
		f.buf = nil
		f.mu.Unlock()
	}
	return nil
}

// FastEvict forces out frame i if it can be acquired without blocking.
// It is a testing/experimentation hook, not part of the normal request
// path.
func (bp *BufferPool) FastEvict(i int) error {
	if i < 0 || i >= len(bp.frames) {
		return fmt.Errorf("pager: frame index %d out of range", i)
	}
	f := &bp.frames[i]
	if !f.mu.TryLock() {
		return ErrCannotEvict
	}
	defer f.mu.Unlock()
	if !f.valid.Load() {
		return nil
	}
	if f.dirty.Load() {
		if err := bp.flushFrame(i); err != nil {
			return err
		}
	}
	bp.deleteIndex(f.key)
	f.valid.Store(false)
	f.buf = nil
	return nil
}

// ClearDirtyFlags drops every frame's dirty flag without writing
// anything back, discarding in-flight writes without touching the
// frames' resident data. An experimentation hook, not part of any
// normal request path — callers that use it must already know the
// discarded writes are expendable.
func (bp *BufferPool) ClearDirtyFlags() {
	for i := range bp.frames {
		bp.frames[i].dirty.Store(false)
	}
}

// IsInMem reports whether (cid, pid) currently has a resident frame.
func (bp *BufferPool) IsInMem(cid ContainerID, pid PageID) bool {
	_, ok := bp.lookupIndex(mapKey(cid, pid))
	return ok
}

// GetMaxPageID returns the highest page ID ever allocated in cid.
func (bp *BufferPool) GetMaxPageID(cid ContainerID) (PageID, error) {
	n, err := bp.catalog.GetContainerPageCount(cid)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return PageID(n - 1), nil
}

// GetPageIDsInMem returns every (container, page) currently resident.
func (bp *BufferPool) GetPageIDsInMem() []PageFrameId {
	out := make([]PageFrameId, 0, bp.capacity)
	for i := range bp.shards {
		s := &bp.shards[i]
		s.mu.RLock()
		for k := range s.index {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	return out
}

// Stats returns a snapshot of pool activity counters.
func (bp *BufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		DiskReads:       bp.diskReads.Load(),
		DiskWrites:      bp.diskWrites.Load(),
		NewPageRequests: bp.newPageRequests.Load(),
		CacheHits:       bp.cacheHits.Load(),
		CacheMisses:     bp.cacheMisses.Load(),
	}
}

// ResetStats zeroes every counter.
func (bp *BufferPool) ResetStats() {
	bp.diskReads.Store(0)
	bp.diskWrites.Store(0)
	bp.newPageRequests.Store(0)
	bp.cacheHits.Store(0)
	bp.cacheMisses.Store(0)
}
