package pager

import "encoding/binary"

// ValueId names one record: the container it lives in, the page it is
// currently stored on, and its slot within that page. A ValueId is not
// stable across an UpdateVal that has to relocate the record to a
// different page (the record no longer fits where it was).
type ValueId struct {
	Container ContainerID
	Page      PageID
	Slot      SlotID
}

// headerEntrySize is the width of one directory entry on a HeapFile's
// page 0: a data PageID (4 bytes) and a cached free-space hint (2 bytes).
const headerEntrySize = 6

func encodeHeaderEntry(pid PageID, freeHint uint16) []byte {
	buf := make([]byte, headerEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pid))
	binary.LittleEndian.PutUint16(buf[4:6], freeHint)
	return buf
}

func decodeHeaderEntry(buf []byte) (PageID, uint16) {
	return PageID(binary.LittleEndian.Uint32(buf[0:4])), binary.LittleEndian.Uint16(buf[4:6])
}

// freeSpaceHint clamps a page's FreeSpace() to a non-negative uint16. At
// the exact-fit boundary FreeSpace() can read slightly negative (the
// worst-case slot-entry reservation outweighing the last few bytes); a
// bare uint16 conversion of that would wrap around to a bogus, huge hint
// that every future AddVal would keep probing against.
func freeSpaceHint(p *Page) uint16 {
	free := p.FreeSpace()
	if free < 0 {
		return 0
	}
	return uint16(free)
}

// HeapFile is a record-level view over a single container's pages: page
// 0 is a free-space directory listing every data page and a hint of how
// much room it had last time it was touched; pages 1..N hold records.
type HeapFile struct {
	cid  ContainerID
	pool *BufferPool
}

// LoadHeapFile binds a HeapFile to an already-registered container. It
// performs no I/O: the header page is created lazily on first write.
func LoadHeapFile(cid ContainerID, pool *BufferPool) *HeapFile {
	return &HeapFile{cid: cid, pool: pool}
}

const headerPageID PageID = 0

func (hf *HeapFile) ensureHeaderPage() error {
	if _, err := hf.pool.GetMaxPageID(hf.cid); err == nil {
		return nil
	}
	g, _, err := hf.pool.CreateNewPageForWrite(hf.cid)
	if err != nil {
		return err
	}
	defer g.Release()
	g.MarkDirty()
	return nil
}

// AddVal inserts data into the first data page with enough free space,
// allocating a new data page if none fits.
func (hf *HeapFile) AddVal(data []byte) (ValueId, error) {
	if err := hf.ensureHeaderPage(); err != nil {
		return ValueId{}, err
	}

	headerPF := NewPageFrameId(hf.cid, headerPageID)
	hg, err := hf.pool.GetPageForWrite(&headerPF)
	if err != nil {
		return ValueId{}, err
	}
	defer hg.Release()
	header := hg.Page()

	it := header.NewPageIter()
	for {
		hSlot, entry, ok := it.Next()
		if !ok {
			break
		}
		dataPID, hint := decodeHeaderEntry(entry)
		if int(hint) < len(data) {
			continue
		}
		dpf := NewPageFrameId(hf.cid, dataPID)
		dg, err := hf.pool.GetPageForWrite(&dpf)
		if err != nil {
			return ValueId{}, err
		}
		slot, err := dg.Page().AddValue(data)
		if err == ErrInsufficientSpace {
			// Hint was stale; refresh it and keep scanning.
			if err := header.UpdateValue(hSlot, encodeHeaderEntry(dataPID, freeSpaceHint(dg.Page()))); err != nil {
				dg.Release()
				return ValueId{}, err
			}
			hg.MarkDirty()
			dg.Release()
			continue
		}
		if err != nil {
			dg.Release()
			return ValueId{}, err
		}
		dg.MarkDirty()
		_ = header.UpdateValue(hSlot, encodeHeaderEntry(dataPID, freeSpaceHint(dg.Page())))
		hg.MarkDirty()
		dg.Release()
		return ValueId{Container: hf.cid, Page: dataPID, Slot: slot}, nil
	}

	// No existing page has room: allocate a fresh one.
	dg, dataPID, err := hf.pool.CreateNewPageForWrite(hf.cid)
	if err != nil {
		return ValueId{}, err
	}
	slot, err := dg.Page().AddValue(data)
	if err != nil {
		dg.Release()
		return ValueId{}, err
	}
	dg.MarkDirty()
	freeHint := freeSpaceHint(dg.Page())
	dg.Release()

	if _, err := header.AddValue(encodeHeaderEntry(dataPID, freeHint)); err != nil {
		return ValueId{}, err
	}
	hg.MarkDirty()
	return ValueId{Container: hf.cid, Page: dataPID, Slot: slot}, nil
}

// AddVals inserts every value from seq, streaming one at a time rather
// than buffering the whole sequence, and returns the ValueId assigned to
// each in order.
func (hf *HeapFile) AddVals(seq func(yield func([]byte) bool)) ([]ValueId, error) {
	var out []ValueId
	var firstErr error
	seq(func(data []byte) bool {
		vid, err := hf.AddVal(data)
		if err != nil {
			firstErr = err
			return false
		}
		out = append(out, vid)
		return true
	})
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

// GetVal returns a copy of the record named by vid.
func (hf *HeapFile) GetVal(vid ValueId) ([]byte, error) {
	pf := NewPageFrameId(vid.Container, vid.Page)
	g, err := hf.pool.GetPageForRead(&pf)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return g.Page().GetValue(vid.Slot)
}

// UpdateVal overwrites the record named by vid. If the new value no
// longer fits on vid.Page, it is deleted there and re-inserted via
// AddVal, and the resulting (possibly different) ValueId is returned.
func (hf *HeapFile) UpdateVal(vid ValueId, data []byte) (ValueId, error) {
	pf := NewPageFrameId(vid.Container, vid.Page)
	g, err := hf.pool.GetPageForWrite(&pf)
	if err != nil {
		return ValueId{}, err
	}
	err = g.Page().UpdateValue(vid.Slot, data)
	if err == nil {
		g.MarkDirty()
		g.Release()
		hf.refreshHint(vid.Page)
		return vid, nil
	}
	if err != ErrInsufficientSpace {
		g.Release()
		return ValueId{}, err
	}
	if derr := g.Page().DeleteValue(vid.Slot); derr != nil {
		g.Release()
		return ValueId{}, derr
	}
	g.MarkDirty()
	g.Release()
	hf.refreshHint(vid.Page)
	return hf.AddVal(data)
}

// refreshHint recomputes and stores a data page's free-space hint in the
// header directory. Best-effort: a stale hint only costs AddVal a wasted
// probe, never correctness.
func (hf *HeapFile) refreshHint(pid PageID) {
	headerPF := NewPageFrameId(hf.cid, headerPageID)
	hg, err := hf.pool.GetPageForWrite(&headerPF)
	if err != nil {
		return
	}
	defer hg.Release()
	header := hg.Page()
	it := header.NewPageIter()
	for {
		hSlot, entry, ok := it.Next()
		if !ok {
			return
		}
		dataPID, _ := decodeHeaderEntry(entry)
		if dataPID != pid {
			continue
		}
		dpf := NewPageFrameId(hf.cid, pid)
		dg, err := hf.pool.GetPageForRead(&dpf)
		if err != nil {
			return
		}
		free := freeSpaceHint(dg.Page())
		dg.Release()
		if err := header.UpdateValue(hSlot, encodeHeaderEntry(pid, free)); err == nil {
			hg.MarkDirty()
		}
		return
	}
}

// DeleteVal tombstones the record named by vid.
func (hf *HeapFile) DeleteVal(vid ValueId) error {
	pf := NewPageFrameId(vid.Container, vid.Page)
	g, err := hf.pool.GetPageForWrite(&pf)
	if err != nil {
		return err
	}
	err = g.Page().DeleteValue(vid.Slot)
	if err == nil {
		g.MarkDirty()
	}
	g.Release()
	if err == nil {
		hf.refreshHint(vid.Page)
	}
	return err
}

// ───────────────────────────────────────────────────────────────────────────
// HeapFileIter
// ───────────────────────────────────────────────────────────────────────────

// HeapFileIter is a restartable, forward-only scan over every live
// record in a HeapFile, in (page, slot) order starting at page 1 (page 0
// is the header directory, never scanned). It holds no page latch
// between calls to Next.
type HeapFileIter struct {
	hf       *HeapFile
	curPage  PageID
	curSlot  int
	maxPage  PageID
	exhausted bool
}

// Iter starts a scan from the first data page.
func (hf *HeapFile) Iter() (*HeapFileIter, error) {
	return hf.IterFrom(ValueId{Container: hf.cid, Page: 1, Slot: 0})
}

// IterFrom starts a scan at (vid.Page, vid.Slot) inclusive, letting a
// caller resume a previously interrupted scan.
func (hf *HeapFile) IterFrom(vid ValueId) (*HeapFileIter, error) {
	maxPage, err := hf.pool.GetMaxPageID(hf.cid)
	if err != nil {
		if err == ErrNotFound {
			return &HeapFileIter{hf: hf, exhausted: true}, nil
		}
		return nil, err
	}
	startPage := vid.Page
	if startPage == 0 {
		startPage = 1
	}
	return &HeapFileIter{hf: hf, curPage: startPage, curSlot: int(vid.Slot), maxPage: maxPage}, nil
}

// Next returns the next live record, or ok == false once the scan has
// reached the snapshot of the container's tail taken when the iterator
// was created.
func (it *HeapFileIter) Next() (vid ValueId, data []byte, ok bool, err error) {
	if it.exhausted {
		return ValueId{}, nil, false, nil
	}
	for it.curPage <= it.maxPage {
		pf := NewPageFrameId(it.hf.cid, it.curPage)
		g, gerr := it.hf.pool.GetPageForRead(&pf)
		if gerr != nil {
			return ValueId{}, nil, false, gerr
		}
		pit := g.Page().NewPageIterFrom(SlotID(it.curSlot))
		slot, val, found := pit.Next()
		g.Release()
		if !found {
			it.curPage++
			it.curSlot = 0
			continue
		}
		it.curSlot = int(slot) + 1
		return ValueId{Container: it.hf.cid, Page: it.curPage, Slot: slot}, val, true, nil
	}
	it.exhausted = true
	return ValueId{}, nil, false, nil
}
