package pager

import (
	"bytes"
	"fmt"
	"testing"
)

func newTestStorageManager(t *testing.T, frames int) *StorageManager {
	t.Helper()
	cfg := StorageManagerConfig{BaseDir: t.TempDir(), BufferPoolFrames: frames}
	sm, err := NewStorageManager(cfg, NewNullTransactionManager())
	if err != nil {
		t.Fatalf("NewStorageManager: %v", err)
	}
	return sm
}

func TestStorageManager_CreateInsertGet(t *testing.T) {
	sm := newTestStorageManager(t, 16)
	if err := sm.CreateTable(1, "widgets"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	vid, err := sm.InsertValue(1, []byte("hello"), NoTransaction)
	if err != nil {
		t.Fatalf("InsertValue: %v", err)
	}
	got, err := sm.GetValue(vid, NoTransaction, PermissionRead)
	if err != nil || !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("GetValue: err=%v got=%q", err, got)
	}
}

func TestStorageManager_InsertValuesBulk(t *testing.T) {
	sm := newTestStorageManager(t, 16)
	sm.CreateTable(1, "t")
	vals := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	ids, err := sm.InsertValues(1, vals, NoTransaction)
	if err != nil {
		t.Fatalf("InsertValues: %v", err)
	}
	for i, id := range ids {
		got, err := sm.GetValue(id, NoTransaction, PermissionRead)
		if err != nil || !bytes.Equal(got, vals[i]) {
			t.Fatalf("record %d: err=%v got=%q", i, err, got)
		}
	}
}

func TestStorageManager_UnregisteredContainerFails(t *testing.T) {
	sm := newTestStorageManager(t, 4)
	if _, err := sm.InsertValue(9, []byte("x"), NoTransaction); err == nil {
		t.Fatal("expected insert into unregistered container to fail")
	}
}

func TestStorageManager_InactiveTransactionRejected(t *testing.T) {
	sm := newTestStorageManager(t, 4)
	sm.CreateTable(1, "t")
	if _, err := sm.InsertValue(1, []byte("x"), TxID(999)); err == nil {
		t.Fatal("expected insert under an unstarted transaction to fail")
	}
}

func TestStorageManager_ActiveTransactionAllowed(t *testing.T) {
	sm := newTestStorageManager(t, 4)
	sm.CreateTable(1, "t")
	txm := NewNullTransactionManager()
	sm.txm = txm
	tid, err := txm.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if _, err := sm.InsertValue(1, []byte("x"), tid); err != nil {
		t.Fatalf("InsertValue under active tx: %v", err)
	}
	if err := txm.CommitTransaction(tid); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}
	if _, err := sm.InsertValue(1, []byte("y"), tid); err == nil {
		t.Fatal("expected insert after commit to fail")
	}
}

func TestStorageManager_RemoveContainer(t *testing.T) {
	sm := newTestStorageManager(t, 4)
	sm.CreateTable(1, "t")
	if _, err := sm.InsertValue(1, []byte("x"), NoTransaction); err != nil {
		t.Fatalf("InsertValue: %v", err)
	}
	if err := sm.RemoveContainer(1); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}
	if _, err := sm.InsertValue(1, []byte("y"), NoTransaction); err == nil {
		t.Fatal("expected insert into removed container to fail")
	}
}

func TestStorageManager_IterateAcrossContainer(t *testing.T) {
	sm := newTestStorageManager(t, 16)
	sm.CreateTable(1, "t")
	const n = 200
	want := make([][]byte, n)
	for i := 0; i < n; i++ {
		want[i] = []byte(fmt.Sprintf("row-%04d", i))
		if _, err := sm.InsertValue(1, want[i], NoTransaction); err != nil {
			t.Fatalf("InsertValue %d: %v", i, err)
		}
	}
	it, err := sm.GetIterator(1, NoTransaction, PermissionRead)
	if err != nil {
		t.Fatalf("GetIterator: %v", err)
	}
	count := 0
	for {
		_, data, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if !bytes.Equal(data, want[count]) {
			t.Fatalf("record %d: got %q want %q", count, data, want[count])
		}
		count++
	}
	if count != n {
		t.Fatalf("expected %d records, got %d", n, count)
	}
}

// TestStorageManager_CrashWindowSimulation inserts records, flushes, then
// rebuilds a fresh StorageManager over the same base directory (standing
// in for a process restart), and checks every record survives
// byte-identical, per spec.md §8 scenario 6.
func TestStorageManager_CrashWindowSimulation(t *testing.T) {
	dir := t.TempDir()
	cfg := StorageManagerConfig{BaseDir: dir, BufferPoolFrames: 16}

	sm, err := NewStorageManager(cfg, NewNullTransactionManager())
	if err != nil {
		t.Fatalf("NewStorageManager: %v", err)
	}
	if err := sm.CreateTable(1, "t"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	const n = 500
	want := make([][]byte, n)
	ids := make([]ValueId, n)
	for i := 0; i < n; i++ {
		want[i] = []byte(fmt.Sprintf("payload-%05d", i))
		vid, err := sm.InsertValue(1, want[i], NoTransaction)
		if err != nil {
			t.Fatalf("InsertValue %d: %v", i, err)
		}
		ids[i] = vid
	}
	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	sm2, err := NewStorageManager(cfg, NewNullTransactionManager())
	if err != nil {
		t.Fatalf("NewStorageManager (restart): %v", err)
	}
	for i, vid := range ids {
		got, err := sm2.GetValue(vid, NoTransaction, PermissionRead)
		if err != nil || !bytes.Equal(got, want[i]) {
			t.Fatalf("record %d after restart: err=%v got=%q want=%q", i, err, got, want[i])
		}
	}
}

func TestStorageManager_ResetDropsContainers(t *testing.T) {
	sm := newTestStorageManager(t, 4)
	sm.CreateTable(1, "t")
	sm.InsertValue(1, []byte("x"), NoTransaction)
	if err := sm.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := sm.InsertValue(1, []byte("y"), NoTransaction); err == nil {
		t.Fatal("expected container to be gone after Reset")
	}
}

func TestStorageManager_ClearCachePreservesData(t *testing.T) {
	sm := newTestStorageManager(t, 4)
	sm.CreateTable(1, "t")
	vid, err := sm.InsertValue(1, []byte("durable"), NoTransaction)
	if err != nil {
		t.Fatalf("InsertValue: %v", err)
	}
	if err := sm.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	got, err := sm.GetValue(vid, NoTransaction, PermissionRead)
	if err != nil || !bytes.Equal(got, []byte("durable")) {
		t.Fatalf("GetValue after ClearCache: err=%v got=%q", err, got)
	}
}
