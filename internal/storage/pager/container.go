package pager

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ContainerID identifies a container (a table's heap file, or a
// temporary spill file) within a StorageManager.
type ContainerID uint16

// ContainerKind distinguishes a container's lifecycle: table containers
// persist across restarts, temporary containers are scratch space for a
// running query and are dropped on Reset/Shutdown without being flushed.
type ContainerKind uint8

const (
	ContainerTable ContainerKind = iota
	ContainerTemporary
)

func (k ContainerKind) String() string {
	if k == ContainerTemporary {
		return "temporary"
	}
	return "table"
}

// Container is the catalog's record of a single open container: its
// backing file and a monotonically increasing page counter used to hand
// out fresh page IDs without a round trip through the file system.
type Container struct {
	ID   ContainerID
	Name string
	Kind ContainerKind
	// Deps lists other container IDs this one depends on (e.g. an index
	// container's dependency on the table it indexes). The engine layer
	// above storage is responsible for acting on these; the catalog only
	// records them.
	Deps []ContainerID

	File *BaseFile

	pageCount atomic.Uint32
}

// IsTemp reports whether the container is temporary. Temporary
// containers' writes are never flushed to durable storage.
func (c *Container) IsTemp() bool { return c.Kind == ContainerTemporary }

// PageCount returns the number of pages ever allocated in this
// container (including page 0, the header page).
func (c *Container) PageCount() uint32 { return c.pageCount.Load() }

// nextPageID atomically reserves and returns the next fresh page ID.
func (c *Container) nextPageID() PageID {
	return PageID(c.pageCount.Add(1) - 1)
}

// ───────────────────────────────────────────────────────────────────────────
// ContainerCatalog
// ───────────────────────────────────────────────────────────────────────────

const catalogShardCount = 16

type catalogShard struct {
	mu         sync.RWMutex
	containers map[ContainerID]*Container
}

// ContainerCatalog maps container IDs to their open Container records.
// It is sharded by container ID to avoid a single global lock becoming a
// bottleneck when many containers are opened concurrently.
type ContainerCatalog struct {
	baseDir string
	direct  bool
	shards  [catalogShardCount]catalogShard
}

// NewContainerCatalog creates an empty catalog rooted at baseDir. Every
// container's backing file lives at baseDir/<id>.heap.
func NewContainerCatalog(baseDir string, direct bool) *ContainerCatalog {
	cc := &ContainerCatalog{baseDir: baseDir, direct: direct}
	for i := range cc.shards {
		cc.shards[i].containers = make(map[ContainerID]*Container)
	}
	return cc
}

func (cc *ContainerCatalog) shardFor(id ContainerID) *catalogShard {
	return &cc.shards[uint16(id)%catalogShardCount]
}

func (cc *ContainerCatalog) containerPath(id ContainerID) string {
	return filepath.Join(cc.baseDir, fmt.Sprintf("%d.heap", id))
}

// RegisterContainer opens (creating if necessary) the container's
// backing file and records it under id, name and kind. Registering an
// already-registered ID is an error.
func (cc *ContainerCatalog) RegisterContainer(id ContainerID, name string, kind ContainerKind, deps []ContainerID) (*Container, error) {
	shard := cc.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.containers[id]; ok {
		return nil, newErr(KindInvalidOperation, nil, "container %d already registered", id)
	}
	bf, err := OpenBaseFile(cc.containerPath(id), cc.direct)
	if err != nil {
		return nil, err
	}
	n, err := bf.NumPages()
	if err != nil {
		bf.Close()
		return nil, err
	}
	c := &Container{ID: id, Name: name, Kind: kind, Deps: deps, File: bf}
	c.pageCount.Store(uint32(n))
	shard.containers[id] = c
	return c, nil
}

// GetContainer returns the container for id, lazily opening its backing
// file on first reference if it has not been explicitly registered.
func (cc *ContainerCatalog) GetContainer(id ContainerID) (*Container, error) {
	shard := cc.shardFor(id)

	shard.mu.RLock()
	c, ok := shard.containers[id]
	shard.mu.RUnlock()
	if ok {
		return c, nil
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if c, ok := shard.containers[id]; ok {
		return c, nil
	}
	bf, err := OpenBaseFile(cc.containerPath(id), cc.direct)
	if err != nil {
		return nil, err
	}
	n, err := bf.NumPages()
	if err != nil {
		bf.Close()
		return nil, err
	}
	c = &Container{ID: id, Kind: ContainerTable, File: bf}
	c.pageCount.Store(uint32(n))
	shard.containers[id] = c
	return c, nil
}

// GetContainerPageCount returns the container's current page count
// without the caller needing a *Container handle.
func (cc *ContainerCatalog) GetContainerPageCount(id ContainerID) (uint32, error) {
	c, err := cc.GetContainer(id)
	if err != nil {
		return 0, err
	}
	return c.PageCount(), nil
}

// Iter calls fn for every registered container. Iteration order is
// unspecified.
func (cc *ContainerCatalog) Iter(fn func(*Container) bool) {
	for i := range cc.shards {
		shard := &cc.shards[i]
		shard.mu.RLock()
		containers := make([]*Container, 0, len(shard.containers))
		for _, c := range shard.containers {
			containers = append(containers, c)
		}
		shard.mu.RUnlock()
		for _, c := range containers {
			if !fn(c) {
				return
			}
		}
	}
}

// FlushAll flushes every non-temporary container's backing file.
func (cc *ContainerCatalog) FlushAll() error {
	var firstErr error
	cc.Iter(func(c *Container) bool {
		if c.IsTemp() {
			return true
		}
		if err := c.File.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// RemoveContainer closes and deletes a container's backing file and
// forgets it.
func (cc *ContainerCatalog) RemoveContainer(id ContainerID) error {
	shard := cc.shardFor(id)
	shard.mu.Lock()
	c, ok := shard.containers[id]
	if ok {
		delete(shard.containers, id)
	}
	shard.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return c.File.Remove()
}

// Close flushes and closes every container's backing file without
// deleting anything from disk. Used by StorageManager.Shutdown.
func (cc *ContainerCatalog) Close() error {
	var firstErr error
	cc.Iter(func(c *Container) bool {
		if err := c.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// RemoveAll closes and deletes every container's backing file. Used by
// StorageManager.Reset.
func (cc *ContainerCatalog) RemoveAll() error {
	var firstErr error
	for i := range cc.shards {
		shard := &cc.shards[i]
		shard.mu.Lock()
		containers := shard.containers
		shard.containers = make(map[ContainerID]*Container)
		shard.mu.Unlock()
		for _, c := range containers {
			if err := c.File.Remove(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
