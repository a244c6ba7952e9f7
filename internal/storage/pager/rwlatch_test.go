package pager

import (
	"sync"
	"testing"
)

func TestRwLatch_SharedAllowsMultiple(t *testing.T) {
	var l RwLatch
	l.RLock()
	if !l.TryRLock() {
		t.Fatal("expected second shared acquisition to succeed")
	}
	l.RUnlock()
	l.RUnlock()
	if !l.IsFree() {
		t.Fatal("expected latch free after both shared holders released")
	}
}

func TestRwLatch_ExclusiveExcludesShared(t *testing.T) {
	var l RwLatch
	l.Lock()
	if l.TryRLock() {
		t.Fatal("expected shared acquisition to fail while exclusive is held")
	}
	l.Unlock()
	if !l.TryRLock() {
		t.Fatal("expected shared acquisition to succeed after exclusive released")
	}
	l.RUnlock()
}

func TestRwLatch_ExclusiveExcludesExclusive(t *testing.T) {
	var l RwLatch
	l.Lock()
	if l.TryLock() {
		t.Fatal("expected second exclusive acquisition to fail")
	}
	l.Unlock()
}

func TestRwLatch_UpgradeSoleReader(t *testing.T) {
	var l RwLatch
	l.RLock()
	if !l.TryUpgrade() {
		t.Fatal("expected upgrade to succeed with sole reader")
	}
	l.Unlock()
}

func TestRwLatch_UpgradeFailsWithOtherReaders(t *testing.T) {
	var l RwLatch
	l.RLock()
	l.RLock()
	if l.TryUpgrade() {
		t.Fatal("expected upgrade to fail with a second reader present")
	}
	l.RUnlock()
	l.RUnlock()
}

func TestRwLatch_Downgrade(t *testing.T) {
	var l RwLatch
	l.Lock()
	l.Downgrade()
	if !l.TryRLock() {
		t.Fatal("expected shared acquisition to succeed after downgrade")
	}
	l.RUnlock()
	l.RUnlock()
}

func TestRwLatch_ConcurrentSharedAndExclusive(t *testing.T) {
	var l RwLatch
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock()
			counter++
			l.Unlock()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RLock()
			_ = counter
			l.RUnlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected counter 50, got %d", counter)
	}
	if !l.IsFree() {
		t.Fatal("expected latch free after all shared and exclusive holders released")
	}
}
