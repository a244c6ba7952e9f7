package pager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// NoTransaction is the zero TxID, accepted by every StorageManager call
// that takes a tid to mean "run untracked, outside any transaction".
const NoTransaction TxID = 0

// Permission is the access mode a caller requests on a read path. The
// storage engine itself does not enforce it — permission checking
// belongs to the (out of scope) transaction manager — but the interface
// shape is threaded through so a real transaction manager can be
// dropped in without changing call sites.
type Permission int

const (
	PermissionRead Permission = iota
	PermissionWrite
)

const directoryFileName = "storage_directory.json"

// directoryEntry is the on-disk record of one registered container,
// persisted so a StorageManager can rediscover its containers across a
// process restart without scanning the base directory.
type directoryEntry struct {
	ID   ContainerID   `json:"id"`
	Name string        `json:"name"`
	Kind ContainerKind `json:"kind"`
	Deps []ContainerID `json:"deps,omitempty"`
}

// StorageManager is the record-level facade above BufferPool: it binds
// a HeapFile to every registered container, validates transaction
// liveness on each call, and persists the set of registered containers
// across restarts.
type StorageManager struct {
	cfg     StorageManagerConfig
	catalog *ContainerCatalog
	pool    *BufferPool
	txm     TransactionManager

	mu    sync.RWMutex
	heaps map[ContainerID]*HeapFile
}

// NewStorageManager brings up a StorageManager rooted at cfg.BaseDir,
// reopening any containers listed in a prior run's directory file.
func NewStorageManager(cfg StorageManagerConfig, txm TransactionManager) (*StorageManager, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, newErr(KindIOError, err, "create base dir %s", cfg.BaseDir)
	}

	catalog := NewContainerCatalog(cfg.BaseDir, cfg.DirectIO)
	policy, err := buildEvictionPolicy(cfg.EvictionPolicy, cfg.BufferPoolFrames)
	if err != nil {
		return nil, err
	}
	pool := NewBufferPool(cfg.BufferPoolFrames, catalog, policy)

	sm := &StorageManager{
		cfg:     cfg,
		catalog: catalog,
		pool:    pool,
		txm:     txm,
		heaps:   make(map[ContainerID]*HeapFile),
	}

	entries, err := sm.readDirectory()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, err := catalog.RegisterContainer(e.ID, e.Name, e.Kind, e.Deps); err != nil {
			return nil, err
		}
		sm.heaps[e.ID] = LoadHeapFile(e.ID, pool)
	}
	return sm, nil
}

func (sm *StorageManager) directoryPath() string {
	return filepath.Join(sm.cfg.BaseDir, directoryFileName)
}

func (sm *StorageManager) readDirectory() ([]directoryEntry, error) {
	raw, err := os.ReadFile(sm.directoryPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newErr(KindIOError, err, "read directory file")
	}
	var entries []directoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, newErr(KindSerializationError, err, "parse directory file")
	}
	return entries, nil
}

func (sm *StorageManager) writeDirectory() error {
	var entries []directoryEntry
	sm.catalog.Iter(func(c *Container) bool {
		if c.IsTemp() {
			return true
		}
		entries = append(entries, directoryEntry{ID: c.ID, Name: c.Name, Kind: c.Kind, Deps: c.Deps})
		return true
	})
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return newErr(KindSerializationError, err, "marshal directory file")
	}
	if err := os.WriteFile(sm.directoryPath(), raw, 0o644); err != nil {
		return newErr(KindIOError, err, "write directory file")
	}
	return nil
}

func (sm *StorageManager) checkTx(tid TxID) error {
	if tid == NoTransaction {
		return nil
	}
	if sm.txm == nil || !sm.txm.IsActive(tid) {
		return newErr(KindTransactionNotActive, nil, "transaction %d is not active", tid)
	}
	return nil
}

func (sm *StorageManager) heapFile(cid ContainerID) (*HeapFile, error) {
	sm.mu.RLock()
	hf, ok := sm.heaps[cid]
	sm.mu.RUnlock()
	if ok {
		return hf, nil
	}
	return nil, newErr(KindContainerDoesNotExist, nil, "container %d is not registered", cid)
}

// CreateContainer registers a new container of the given kind, with an
// optional dependency list (e.g. an index container naming the table it
// indexes — storage only records this, it never acts on it).
func (sm *StorageManager) CreateContainer(cid ContainerID, name string, kind ContainerKind, deps []ContainerID) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.heaps[cid]; ok {
		return newErr(KindInvalidOperation, nil, "container %d already exists", cid)
	}
	if _, err := sm.catalog.RegisterContainer(cid, name, kind, deps); err != nil {
		return err
	}
	sm.heaps[cid] = LoadHeapFile(cid, sm.pool)
	if kind == ContainerTemporary {
		return nil
	}
	return sm.writeDirectory()
}

// CreateTable is CreateContainer for the common case of a persistent
// table container with no dependencies.
func (sm *StorageManager) CreateTable(cid ContainerID, name string) error {
	return sm.CreateContainer(cid, name, ContainerTable, nil)
}

// RemoveContainer drops a container and deletes its backing file.
func (sm *StorageManager) RemoveContainer(cid ContainerID) error {
	sm.mu.Lock()
	if _, ok := sm.heaps[cid]; !ok {
		sm.mu.Unlock()
		return newErr(KindContainerDoesNotExist, nil, "container %d is not registered", cid)
	}
	delete(sm.heaps, cid)
	sm.mu.Unlock()
	if err := sm.catalog.RemoveContainer(cid); err != nil {
		return err
	}
	return sm.writeDirectory()
}

// InsertValue inserts data into cid under tid (or untracked, if tid is
// NoTransaction).
func (sm *StorageManager) InsertValue(cid ContainerID, data []byte, tid TxID) (ValueId, error) {
	if err := sm.checkTx(tid); err != nil {
		return ValueId{}, err
	}
	hf, err := sm.heapFile(cid)
	if err != nil {
		return ValueId{}, err
	}
	return hf.AddVal(data)
}

// InsertValues inserts every value in values into cid under tid, in
// order, stopping at the first failure.
func (sm *StorageManager) InsertValues(cid ContainerID, values [][]byte, tid TxID) ([]ValueId, error) {
	if err := sm.checkTx(tid); err != nil {
		return nil, err
	}
	hf, err := sm.heapFile(cid)
	if err != nil {
		return nil, err
	}
	return hf.AddVals(func(yield func([]byte) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	})
}

// DeleteValue removes the record named by vid under tid.
func (sm *StorageManager) DeleteValue(vid ValueId, tid TxID) error {
	if err := sm.checkTx(tid); err != nil {
		return err
	}
	hf, err := sm.heapFile(vid.Container)
	if err != nil {
		return err
	}
	return hf.DeleteVal(vid)
}

// UpdateValue overwrites the record named by vid under tid, returning
// its (possibly new) ValueId.
func (sm *StorageManager) UpdateValue(data []byte, vid ValueId, tid TxID) (ValueId, error) {
	if err := sm.checkTx(tid); err != nil {
		return ValueId{}, err
	}
	hf, err := sm.heapFile(vid.Container)
	if err != nil {
		return ValueId{}, err
	}
	return hf.UpdateVal(vid, data)
}

// GetValue returns a copy of the record named by vid under tid.
func (sm *StorageManager) GetValue(vid ValueId, tid TxID, _ Permission) ([]byte, error) {
	if err := sm.checkTx(tid); err != nil {
		return nil, err
	}
	hf, err := sm.heapFile(vid.Container)
	if err != nil {
		return nil, err
	}
	return hf.GetVal(vid)
}

// GetIterator returns a fresh scan of cid from its first data page.
func (sm *StorageManager) GetIterator(cid ContainerID, tid TxID, _ Permission) (*HeapFileIter, error) {
	if err := sm.checkTx(tid); err != nil {
		return nil, err
	}
	hf, err := sm.heapFile(cid)
	if err != nil {
		return nil, err
	}
	return hf.Iter()
}

// GetIteratorFrom resumes a scan of cid at start.
func (sm *StorageManager) GetIteratorFrom(cid ContainerID, tid TxID, _ Permission, start ValueId) (*HeapFileIter, error) {
	if err := sm.checkTx(tid); err != nil {
		return nil, err
	}
	hf, err := sm.heapFile(cid)
	if err != nil {
		return nil, err
	}
	return hf.IterFrom(start)
}

// Reset writes back and then drops every cached page, deletes every
// container's backing file, and forgets all registered containers. Used between test
// runs and by callers that want a clean slate without tearing down the
// StorageManager itself.
func (sm *StorageManager) Reset() error {
	sm.mu.Lock()
	sm.heaps = make(map[ContainerID]*HeapFile)
	sm.mu.Unlock()
	if err := sm.pool.FlushAllAndReset(); err != nil {
		return err
	}
	if err := sm.catalog.RemoveAll(); err != nil {
		return err
	}
	if err := os.Remove(sm.directoryPath()); err != nil && !os.IsNotExist(err) {
		return newErr(KindIOError, err, "remove directory file")
	}
	return nil
}

// ClearCache drops every resident page from the buffer pool, flushing
// dirty pages first. Registered containers and their backing files are
// untouched.
func (sm *StorageManager) ClearCache() error {
	return sm.pool.FlushAllAndReset()
}

// Shutdown flushes all dirty pages, persists the container directory,
// and closes every backing file. If PurgeOnShutdown is set, every
// container's backing file is deleted instead of closed.
func (sm *StorageManager) Shutdown() error {
	if err := sm.pool.FlushAll(); err != nil {
		return err
	}
	if sm.cfg.PurgeOnShutdown {
		return sm.catalog.RemoveAll()
	}
	if err := sm.writeDirectory(); err != nil {
		return err
	}
	return sm.catalog.Close()
}

// GetName identifies this StorageManager instance by its base directory,
// primarily for logging/debugging by callers above the storage layer.
func (sm *StorageManager) GetName() string {
	return sm.cfg.BaseDir
}
