package pager

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// TxID is a transaction identifier, handed out by a TransactionManager
// and threaded through every StorageManager call that needs to respect
// transaction boundaries (visibility, lock ownership, rollback).
type TxID uint64

// IsolationLevel names the isolation a transaction was started or later
// set to run under. The storage engine does not interpret this itself —
// it is opaque state the transaction manager consults — but the type
// exists so SetIsolationLevel has something meaningful to accept.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// TransactionManager is the full capability set the storage engine
// consumes from a transaction subsystem above it. The storage engine
// itself never implements locking, logging, or isolation: StorageManager
// only calls IsActive to reject calls under a transaction that is not
// open, and never invokes the Pre*/Post*/Read* hooks itself; a layer
// above storage drives those. A real
// implementation would use PreInsert/PreUpdate to acquire locks and
// PostInsert/PostUpdate to record undo information; NullTransactionManager
// below no-ops all of that, matching the trivial stand-in this interface
// was modeled after.
type TransactionManager interface {
	// StartTransaction begins a new transaction and returns its ID.
	StartTransaction() (TxID, error)
	// CommitTransaction finalizes tid. After this call IsActive(tid) is false.
	CommitTransaction(tid TxID) error
	// RollbackTransaction aborts tid, undoing its effects. After this
	// call IsActive(tid) is false.
	RollbackTransaction(tid TxID) error
	// ValidateTransaction checks tid for conflicts before commit (e.g.
	// optimistic concurrency control); returns a KindTransactionRollback
	// error if validation fails.
	ValidateTransaction(tid TxID) error
	// SetIsolationLevel changes the isolation level tid runs under.
	SetIsolationLevel(tid TxID, level IsolationLevel) error

	// PreInsert is called before a record is inserted into cid under tid.
	PreInsert(tid TxID, cid ContainerID) error
	// PostInsert is called after vid has been durably inserted under tid.
	PostInsert(tid TxID, vid ValueId) error
	// PreUpdate is called before vid is overwritten under tid.
	PreUpdate(tid TxID, vid ValueId) error
	// PostUpdate is called after vid has been overwritten under tid.
	PostUpdate(tid TxID, vid ValueId) error
	// ReadRecord is called before vid is read under tid, so the manager
	// can check visibility or acquire a read lock.
	ReadRecord(tid TxID, vid ValueId) error
	// ReadPredicate is called before a scan of cid begins under tid, for
	// managers that need predicate/phantom-read protection.
	ReadPredicate(tid TxID, cid ContainerID) error

	// IsActive reports whether tid is still open.
	IsActive(tid TxID) bool
	// Shutdown releases any resources the manager holds.
	Shutdown() error
	// Reset discards all transaction state, for use between test runs.
	Reset() error
}

// NullTransactionManager is a no-op TransactionManager: every
// transaction it starts is immediately considered active with no
// isolation, locking, or undo behavior. It exists so StorageManager can
// be exercised and tested without a real transaction subsystem.
//
// Alongside the numeric TxID, each started transaction is also minted a
// uuid.UUID token, retrievable via Token, for callers that need a handle
// stable across process restarts (a numeric counter is not).
type NullTransactionManager struct {
	mu     sync.Mutex
	next   atomic.Uint64
	active map[TxID]uuid.UUID
}

// NewNullTransactionManager returns an empty NullTransactionManager.
func NewNullTransactionManager() *NullTransactionManager {
	return &NullTransactionManager{active: make(map[TxID]uuid.UUID)}
}

func (m *NullTransactionManager) StartTransaction() (TxID, error) {
	id := TxID(m.next.Add(1))
	m.mu.Lock()
	m.active[id] = uuid.New()
	m.mu.Unlock()
	return id, nil
}

func (m *NullTransactionManager) end(tid TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[tid]; !ok {
		return newErr(KindTransactionNotActive, nil, "transaction %d is not active", tid)
	}
	delete(m.active, tid)
	return nil
}

func (m *NullTransactionManager) CommitTransaction(tid TxID) error   { return m.end(tid) }
func (m *NullTransactionManager) RollbackTransaction(tid TxID) error { return m.end(tid) }

func (m *NullTransactionManager) ValidateTransaction(tid TxID) error {
	if !m.IsActive(tid) {
		return newErr(KindTransactionNotActive, nil, "transaction %d is not active", tid)
	}
	return nil
}

func (m *NullTransactionManager) SetIsolationLevel(TxID, IsolationLevel) error { return nil }

func (m *NullTransactionManager) PreInsert(TxID, ContainerID) error { return nil }
func (m *NullTransactionManager) PostInsert(TxID, ValueId) error    { return nil }
func (m *NullTransactionManager) PreUpdate(TxID, ValueId) error     { return nil }
func (m *NullTransactionManager) PostUpdate(TxID, ValueId) error    { return nil }
func (m *NullTransactionManager) ReadRecord(TxID, ValueId) error    { return nil }
func (m *NullTransactionManager) ReadPredicate(TxID, ContainerID) error { return nil }

func (m *NullTransactionManager) IsActive(tid TxID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[tid]
	return ok
}

func (m *NullTransactionManager) Shutdown() error { return nil }

func (m *NullTransactionManager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = make(map[TxID]uuid.UUID)
	return nil
}

// Token returns the uuid.UUID minted for tid at StartTransaction time,
// or false if tid is unknown or no longer active.
func (m *NullTransactionManager) Token(tid TxID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.active[tid]
	return tok, ok
}
