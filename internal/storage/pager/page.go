// Package pager implements the page-oriented heap storage engine for
// tinySQL: a fixed-size binary page format, a buffer pool with pluggable
// eviction, a file-per-container persistence layer, and a record-level
// heap-file organisation built on top of all three.
//
// The storage format is one file per container (table or temporary heap),
// each holding fixed-size 4 KiB pages. Page 0 of every container is a
// slotted "header page" listing the container's data pages and a
// free-space hint for each; pages 1..N are slotted heap pages holding
// the actual records. Every page carries a header with page-ID, a
// two-word LSN, and a CRC32 checksum.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants & identifiers
// ───────────────────────────────────────────────────────────────────────────

const (
	// PageSize is the fixed page size in bytes. Unlike the teacher's
	// B+Tree pager (configurable 4 KiB–64 KiB), the heap engine fixes
	// this at compile time.
	PageSize = 4096

	// PageHeaderSize is the size of the fixed page header.
	//
	// Layout:
	//   [0:4]   PageID       uint32 LE
	//   [4:8]   LSN word 0   uint32 LE
	//   [8:12]  LSN word 1   uint32 LE
	//   [12:16] Checksum     uint32 LE (CRC32-C, computed with this field zeroed)
	//   [16:18] NumSlots     uint16 LE
	//   [18:20] FreeSpacePtr uint16 LE — offset where the next record is placed
	PageHeaderSize = 20

	// InvalidPageID is the null page pointer.
	InvalidPageID PageID = 0xFFFFFFFF

	// deadSlotOffset marks a slot entry as a tombstone: offset == deadSlotOffset
	// and length == 0. A live slot never legitimately has this offset
	// because PageHeaderSize bytes always precede any record.
	deadSlotOffset uint16 = 0xFFFF

	slotEntrySize = 4 // offset uint16 + length uint16
)

// PageID identifies a page within a single container.
type PageID uint32

// SlotID identifies a record slot within a single heap page. Stable for
// the life of the slot — deletions tombstone but never renumber.
type SlotID uint16

// LSN is a two-word log sequence number. Comparison is lexicographic on
// (word0, word1) — an unusual scheme inherited unchanged from the system
// this engine was modeled after; see DESIGN.md for why it is preserved
// rather than collapsed into a single uint64.
type LSN [2]uint32

// Less reports whether lsn sorts strictly before other under the
// lexicographic (word0, word1) order.
func (lsn LSN) Less(other LSN) bool {
	if lsn[0] != other[0] {
		return lsn[0] < other[0]
	}
	return lsn[1] < other[1]
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ───────────────────────────────────────────────────────────────────────────
// Page
// ───────────────────────────────────────────────────────────────────────────

// Page wraps a 4 KiB buffer and exposes the header and heap-page
// accessors. Page is a pure value over its backing buffer: it performs
// no I/O and holds no lock. Concurrency is the BufferPool's job.
type Page struct {
	buf []byte // always len(buf) == PageSize
}

// NewPage allocates a zeroed page with the given ID, LSN (0,0), and
// checksum 0. It is NOT initialised as a heap page — call InitHeapPage
// for that.
func NewPage(id PageID) *Page {
	p := &Page{buf: make([]byte, PageSize)}
	p.SetPageID(id)
	return p
}

// WrapPage wraps an existing PageSize-byte buffer (e.g. one just read
// from a BaseFile) without copying it.
func WrapPage(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("pager: page buffer must be %d bytes, got %d", PageSize, len(buf))
	}
	return &Page{buf: buf}, nil
}

// Bytes returns the underlying buffer. Callers must not change its
// length; byte-level mutation is expected to go through Page's methods.
func (p *Page) Bytes() []byte { return p.buf }

// PageID returns the page's own ID, as stored in its header.
func (p *Page) PageID() PageID {
	return PageID(binary.LittleEndian.Uint32(p.buf[0:4]))
}

// SetPageID overwrites the page-ID header field.
func (p *Page) SetPageID(id PageID) {
	binary.LittleEndian.PutUint32(p.buf[0:4], uint32(id))
}

// LSN returns the page's current log sequence number.
func (p *Page) LSN() LSN {
	return LSN{
		binary.LittleEndian.Uint32(p.buf[4:8]),
		binary.LittleEndian.Uint32(p.buf[8:12]),
	}
}

// SetLSN monotonically updates the page's LSN: it overwrites only if
// lsn compares strictly greater than the current value under LSN.Less;
// otherwise the call is silently ignored.
func (p *Page) SetLSN(lsn LSN) {
	if p.LSN().Less(lsn) {
		binary.LittleEndian.PutUint32(p.buf[4:8], lsn[0])
		binary.LittleEndian.PutUint32(p.buf[8:12], lsn[1])
	}
}

// Checksum returns the stored checksum field (no recomputation).
func (p *Page) Checksum() uint32 {
	return binary.LittleEndian.Uint32(p.buf[12:16])
}

// SetChecksum recomputes the CRC32-C of the whole page with the checksum
// field zeroed, and stores the result. Calling it twice in a row is a
// no-op the second time.
func (p *Page) SetChecksum() {
	binary.LittleEndian.PutUint32(p.buf[12:16], p.computeChecksum())
}

// VerifyChecksum reports whether the stored checksum matches a fresh
// computation over the current bytes.
func (p *Page) VerifyChecksum() bool {
	return p.Checksum() == p.computeChecksum()
}

func (p *Page) computeChecksum() uint32 {
	h := crc32.New(crcTable)
	h.Write(p.buf[0:12])
	h.Write([]byte{0, 0, 0, 0}) // checksum field, zeroed
	h.Write(p.buf[16:])
	return h.Sum32()
}

// ───────────────────────────────────────────────────────────────────────────
// Heap-page layout
// ───────────────────────────────────────────────────────────────────────────
//
// Slots grow upward from PageHeaderSize; record bytes grow downward from
// the end of the page. A slot entry is 4 bytes: offset(u16) + length(u16).
// A tombstoned slot has offset == deadSlotOffset, length == 0.

// InitHeapPage resets the slot directory and free-space pointer so the
// page can be used as a heap page. Existing header fields (ID, LSN,
// checksum) are left untouched; callers typically call this right after
// NewPage.
func (p *Page) InitHeapPage() {
	p.setNumSlots(0)
	p.setFreeSpacePtr(PageSize)
}

func (p *Page) numSlots() int {
	return int(binary.LittleEndian.Uint16(p.buf[16:18]))
}

func (p *Page) setNumSlots(n int) {
	binary.LittleEndian.PutUint16(p.buf[16:18], uint16(n))
}

func (p *Page) freeSpacePtr() int {
	return int(binary.LittleEndian.Uint16(p.buf[18:20]))
}

func (p *Page) setFreeSpacePtr(off int) {
	binary.LittleEndian.PutUint16(p.buf[18:20], uint16(off))
}

func slotOff(i int) int { return PageHeaderSize + i*slotEntrySize }

func (p *Page) getSlotEntry(i int) (offset, length uint16) {
	off := slotOff(i)
	return binary.LittleEndian.Uint16(p.buf[off : off+2]), binary.LittleEndian.Uint16(p.buf[off+2 : off+4])
}

func (p *Page) setSlotEntry(i int, offset, length uint16) {
	off := slotOff(i)
	binary.LittleEndian.PutUint16(p.buf[off:off+2], offset)
	binary.LittleEndian.PutUint16(p.buf[off+2:off+4], length)
}

func (p *Page) slotDirEnd() int { return slotOff(p.numSlots()) }

// FreeSpace returns the bytes available for a new record, accounting for
// the worst case of also needing a brand-new slot entry (i.e. no
// tombstone to reuse).
func (p *Page) FreeSpace() int {
	return p.freeSpacePtr() - p.slotDirEnd() - slotEntrySize
}

// isDead reports whether slot i is a tombstone.
func (p *Page) isDead(offset, length uint16) bool {
	return offset == deadSlotOffset && length == 0
}

// ErrInsufficientSpace is returned by AddValue/UpdateValue when a record
// does not fit in the page's current free space. Callers relocate.
var ErrInsufficientSpace = fmt.Errorf("pager: insufficient space in page")

// ErrSlotNotFound is returned by GetValue for a dead or out-of-range slot.
var ErrSlotNotFound = fmt.Errorf("pager: slot not found")

// AddValue inserts bytes into the page, reusing the lowest dead slot if
// one exists, otherwise appending a new slot. Returns ErrInsufficientSpace
// if the page cannot hold it even after implicit compaction.
func (p *Page) AddValue(data []byte) (SlotID, error) {
	needed := len(data)

	findReuse := func() int {
		n := p.numSlots()
		for i := 0; i < n; i++ {
			off, length := p.getSlotEntry(i)
			if p.isDead(off, length) {
				return i
			}
		}
		return -1
	}

	reuse := findReuse()
	fits := func() bool {
		if reuse >= 0 {
			return p.freeSpacePtr()-p.slotDirEnd() >= needed
		}
		return p.FreeSpace() >= needed
	}

	if !fits() {
		// Compaction never changes logical free space but collapses
		// fragmentation; re-measure afterwards.
		p.Compact()
		reuse = findReuse()
		if !fits() {
			return 0, ErrInsufficientSpace
		}
	}

	newPtr := p.freeSpacePtr() - needed
	copy(p.buf[newPtr:newPtr+needed], data)
	p.setFreeSpacePtr(newPtr)

	var slot int
	if reuse >= 0 {
		slot = reuse
	} else {
		slot = p.numSlots()
		p.setNumSlots(slot + 1)
	}
	p.setSlotEntry(slot, uint16(newPtr), uint16(needed))
	return SlotID(slot), nil
}

// GetValue returns a copy of the bytes stored at slotID, or
// ErrSlotNotFound if the slot is dead or out of range.
func (p *Page) GetValue(slotID SlotID) ([]byte, error) {
	i := int(slotID)
	if i < 0 || i >= p.numSlots() {
		return nil, ErrSlotNotFound
	}
	off, length := p.getSlotEntry(i)
	if p.isDead(off, length) {
		return nil, ErrSlotNotFound
	}
	out := make([]byte, length)
	copy(out, p.buf[off:off+length])
	return out, nil
}

// UpdateValue overwrites the record at slotID. If data fits in the
// existing slot's length, it is replaced in place. Otherwise, if the
// page's free space (after an implicit compaction attempt) can hold it,
// the record is re-placed at the current free-space pointer and the
// slot's offset/length are rewritten — the SlotID itself never changes;
// HeapFile is responsible for relocating across pages when this method
// still fails.
func (p *Page) UpdateValue(slotID SlotID, data []byte) error {
	i := int(slotID)
	if i < 0 || i >= p.numSlots() {
		return ErrSlotNotFound
	}
	off, length := p.getSlotEntry(i)
	if p.isDead(off, length) {
		return ErrSlotNotFound
	}
	needed := len(data)
	if needed <= int(length) {
		copy(p.buf[off:off+uint16(needed)], data)
		p.setSlotEntry(i, off, uint16(needed))
		return nil
	}
	if p.FreeSpace() < needed {
		p.Compact()
		off, _ = p.getSlotEntry(i) // Compact may have moved this slot.
		if p.FreeSpace() < needed {
			return ErrInsufficientSpace
		}
	}
	newPtr := p.freeSpacePtr() - needed
	copy(p.buf[newPtr:newPtr+needed], data)
	p.setFreeSpacePtr(newPtr)
	p.setSlotEntry(i, uint16(newPtr), uint16(needed))
	return nil
}

// DeleteValue tombstones slotID. The physical bytes remain in place
// until the next compaction.
func (p *Page) DeleteValue(slotID SlotID) error {
	i := int(slotID)
	if i < 0 || i >= p.numSlots() {
		return ErrSlotNotFound
	}
	off, length := p.getSlotEntry(i)
	if p.isDead(off, length) {
		return ErrSlotNotFound
	}
	p.setSlotEntry(i, deadSlotOffset, 0)
	return nil
}

// Compact slides all live records to the high end of the page in
// slot-id order, rewriting their offsets. Slot IDs are preserved.
func (p *Page) Compact() {
	n := p.numSlots()
	type live struct {
		slot int
		data []byte
	}
	items := make([]live, 0, n)
	for i := 0; i < n; i++ {
		off, length := p.getSlotEntry(i)
		if p.isDead(off, length) {
			continue
		}
		data := make([]byte, length)
		copy(data, p.buf[off:off+length])
		items = append(items, live{slot: i, data: data})
	}
	ptr := PageSize
	for _, it := range items {
		ptr -= len(it.data)
		copy(p.buf[ptr:ptr+len(it.data)], it.data)
		p.setSlotEntry(it.slot, uint16(ptr), uint16(len(it.data)))
	}
	p.setFreeSpacePtr(ptr)
}

// PageIter is a restartable iterator over a page's live (slotID, bytes)
// pairs in slot-id order.
type PageIter struct {
	p    *Page
	next int
}

// NewPageIter creates an iterator starting at slot 0.
func (p *Page) NewPageIter() *PageIter { return &PageIter{p: p} }

// NewPageIterFrom creates an iterator starting at the given slot
// (inclusive), letting HeapFile restart a scan mid-page.
func (p *Page) NewPageIterFrom(start SlotID) *PageIter { return &PageIter{p: p, next: int(start)} }

// Next advances the iterator. ok is false once every slot has been
// visited.
func (it *PageIter) Next() (slot SlotID, data []byte, ok bool) {
	n := it.p.numSlots()
	for it.next < n {
		i := it.next
		it.next++
		off, length := it.p.getSlotEntry(i)
		if it.p.isDead(off, length) {
			continue
		}
		out := make([]byte, length)
		copy(out, it.p.buf[off:off+length])
		return SlotID(i), out, true
	}
	return 0, nil, false
}

// NumSlots exposes the slot count (including tombstones), used by
// HeapFile's header-page bookkeeping.
func (p *Page) NumSlots() int { return p.numSlots() }
