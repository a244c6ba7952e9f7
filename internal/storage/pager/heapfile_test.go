package pager

import (
	"bytes"
	"fmt"
	"testing"
)

func newTestHeapFile(t *testing.T, capacity int) *HeapFile {
	t.Helper()
	cc := NewContainerCatalog(t.TempDir(), false)
	cc.RegisterContainer(0, "t", ContainerTable, nil)
	bp := NewBufferPool(capacity, cc, NewSampledLRU(capacity))
	return LoadHeapFile(0, bp)
}

func TestHeapFile_SingleInsertLookup(t *testing.T) {
	hf := newTestHeapFile(t, 16)
	payload := bytes.Repeat([]byte{1, 2, 3}, 34)[:100]
	vid, err := hf.AddVal(payload)
	if err != nil {
		t.Fatalf("AddVal: %v", err)
	}
	if vid.Page != 1 || vid.Slot != 0 {
		t.Fatalf("expected first record at page 1 slot 0, got page %d slot %d", vid.Page, vid.Slot)
	}
	got, err := hf.GetVal(vid)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("GetVal mismatch: err=%v got=%v", err, got)
	}
}

func TestHeapFile_BulkInsertAndRandomLookup(t *testing.T) {
	hf := newTestHeapFile(t, 32)
	const n = 2000
	ids := make([]ValueId, n)
	vals := make([][]byte, n)
	for i := 0; i < n; i++ {
		vals[i] = []byte(fmt.Sprintf("record-%06d", i))
		vid, err := hf.AddVal(vals[i])
		if err != nil {
			t.Fatalf("AddVal %d: %v", i, err)
		}
		ids[i] = vid
	}
	for i := 0; i < n; i += 97 {
		got, err := hf.GetVal(ids[i])
		if err != nil || !bytes.Equal(got, vals[i]) {
			t.Fatalf("record %d mismatch: err=%v got=%q want=%q", i, err, got, vals[i])
		}
	}
}

func TestHeapFile_IterateInInsertionOrder(t *testing.T) {
	hf := newTestHeapFile(t, 16)
	const n = 500
	vals := make([][]byte, n)
	for i := 0; i < n; i++ {
		vals[i] = []byte(fmt.Sprintf("row-%04d", i))
		if _, err := hf.AddVal(vals[i]); err != nil {
			t.Fatalf("AddVal %d: %v", i, err)
		}
	}
	it, err := hf.Iter()
	if err != nil {
		t.Fatalf("Iter: %v", err)
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
		if !bytes.Equal(data, vals[count]) {
			t.Fatalf("record %d: got %q want %q", count, data, vals[count])
		}
		count++
	}
	if count != n {
		t.Fatalf("expected %d records, iterated %d", n, count)
	}
}

func TestHeapFile_ReloadAfterDrop(t *testing.T) {
	cc := NewContainerCatalog(t.TempDir(), false)
	cc.RegisterContainer(0, "t", ContainerTable, nil)
	bp := NewBufferPool(16, cc, NewSampledLRU(16))
	hf := LoadHeapFile(0, bp)

	const n = 300
	for i := 0; i < n; i++ {
		if _, err := hf.AddVal([]byte(fmt.Sprintf("x%d", i))); err != nil {
			t.Fatalf("AddVal %d: %v", i, err)
		}
	}
	if err := bp.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	hf2 := LoadHeapFile(0, bp)
	it, err := hf2.Iter()
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	count := 0
	for {
		_, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != n {
		t.Fatalf("expected %d records after reload, got %d", n, count)
	}
}

func TestHeapFile_UpdateThatRelocates(t *testing.T) {
	hf := newTestHeapFile(t, 16)
	// Fill a page nearly to capacity, leaving only a sliver for a small
	// record, then grow that record past what's left.
	pad := make([]byte, PageSize-PageHeaderSize-slotEntrySize*2-40)
	if _, err := hf.AddVal(pad); err != nil {
		t.Fatalf("AddVal pad: %v", err)
	}
	small, err := hf.AddVal([]byte("0123456789"))
	if err != nil {
		t.Fatalf("AddVal small: %v", err)
	}
	big := bytes.Repeat([]byte{0xAB}, 4000)
	newVid, err := hf.UpdateVal(small, big)
	if err != nil {
		t.Fatalf("UpdateVal: %v", err)
	}
	if newVid == small {
		t.Fatal("expected relocation to produce a different ValueId")
	}
	if _, err := hf.GetVal(small); err == nil {
		t.Fatal("expected old ValueId to no longer be dereferenceable")
	}
	got, err := hf.GetVal(newVid)
	if err != nil || !bytes.Equal(got, big) {
		t.Fatalf("GetVal(newVid): err=%v got-len=%d", err, len(got))
	}
}

func TestHeapFile_DeleteThenGetFails(t *testing.T) {
	hf := newTestHeapFile(t, 16)
	vid, _ := hf.AddVal([]byte("gone"))
	if err := hf.DeleteVal(vid); err != nil {
		t.Fatalf("DeleteVal: %v", err)
	}
	if _, err := hf.GetVal(vid); err == nil {
		t.Fatal("expected deleted record to be unreadable")
	}
}

func TestHeapFile_AddValsStreams(t *testing.T) {
	hf := newTestHeapFile(t, 16)
	vals := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	ids, err := hf.AddVals(func(yield func([]byte) bool) {
		for _, v := range vals {
			if !yield(v) {
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("AddVals: %v", err)
	}
	if len(ids) != len(vals) {
		t.Fatalf("expected %d ids, got %d", len(vals), len(ids))
	}
	for i, id := range ids {
		got, err := hf.GetVal(id)
		if err != nil || !bytes.Equal(got, vals[i]) {
			t.Fatalf("record %d mismatch: %v %q", i, err, got)
		}
	}
}
