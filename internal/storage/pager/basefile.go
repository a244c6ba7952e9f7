package pager

import (
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// BaseFile is the positional-I/O layer under a single container: one
// backing file, read and written a page at a time via pread/pwrite-style
// offsets so concurrent readers and writers never need a shared file
// cursor.
type BaseFile struct {
	path   string
	f      *os.File
	direct bool // O_DIRECT requested at open time

	numPages atomic.Int64 // cached page count, refreshed from fstat on open
}

// OpenBaseFile opens (creating if necessary) the container file at path.
// When direct is true, the file is opened with O_DIRECT; ReadPage and
// WritePage always transfer one whole PageSize buffer at a PageSize-aligned
// file offset.
func OpenBaseFile(path string, direct bool) (*BaseFile, error) {
	flags := os.O_RDWR | os.O_CREATE
	var f *os.File
	if direct {
		fd, err := unix.Open(path, flags|unix.O_DIRECT, 0o644)
		if err != nil {
			return nil, newErr(KindIOError, err, "open %s with O_DIRECT", path)
		}
		f = os.NewFile(uintptr(fd), path)
	} else {
		var err error
		f, err = os.OpenFile(path, flags, 0o644)
		if err != nil {
			return nil, newErr(KindIOError, err, "open %s", path)
		}
	}

	bf := &BaseFile{path: path, f: f, direct: direct}
	n, err := bf.statNumPages()
	if err != nil {
		f.Close()
		return nil, err
	}
	bf.numPages.Store(n)
	return bf, nil
}

// Path returns the backing file's path.
func (bf *BaseFile) Path() string { return bf.path }

// statNumPages reads the file size directly via fstat(2) rather than
// tracking writes, so NumPages always reflects the true file size even
// if another process (or a prior crashed run) extended it.
func (bf *BaseFile) statNumPages() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(bf.f.Fd()), &st); err != nil {
		return 0, newErr(KindIOError, err, "fstat %s", bf.path)
	}
	return st.Size / PageSize, nil
}

// NumPages returns the number of whole PageSize pages currently in the
// file, refreshed from the filesystem on every call.
func (bf *BaseFile) NumPages() (int64, error) {
	n, err := bf.statNumPages()
	if err != nil {
		return 0, err
	}
	bf.numPages.Store(n)
	return n, nil
}

// ReadPage reads page id into a freshly allocated PageSize buffer. A read
// that runs past the current end of file (the page has never been
// written) is not an error: the result is a zero-filled buffer with the
// page-id header field set, matching a freshly-initialised page. manufactured
// reports whether the page was conjured this way rather than read from real
// on-disk bytes — such a page carries no meaningful checksum and callers
// must not verify it as though it were a persisted page.
func (bf *BaseFile) ReadPage(id PageID) (p *Page, manufactured bool, err error) {
	buf := make([]byte, PageSize)
	off := int64(id) * PageSize
	n, readErr := bf.f.ReadAt(buf, off)
	if readErr != nil && readErr != io.EOF {
		return nil, false, newErr(KindIOError, readErr, "read page %d from %s", id, bf.path)
	}
	if readErr != nil && n == 0 {
		// Either EOF (page never written) or a short read at EOF; in
		// both cases the caller gets a page-ID-tagged zero page rather
		// than an error.
		p, werr := WrapPage(buf)
		if werr != nil {
			return nil, false, werr
		}
		p.SetPageID(id)
		return p, true, nil
	}
	if n < PageSize {
		// Short read mid-file: zero-extend the remainder.
		for i := n; i < PageSize; i++ {
			buf[i] = 0
		}
	}
	p, werr := WrapPage(buf)
	if werr != nil {
		return nil, false, werr
	}
	return p, false, nil
}

// WritePage writes p to its own PageID's slot in the file.
func (bf *BaseFile) WritePage(p *Page) error {
	off := int64(p.PageID()) * PageSize
	if _, err := bf.f.WriteAt(p.Bytes(), off); err != nil {
		return newErr(KindIOError, err, "write page %d to %s", p.PageID(), bf.path)
	}
	if n, _ := bf.NumPages(); n <= int64(p.PageID()) {
		bf.numPages.Store(int64(p.PageID()) + 1)
	}
	return nil
}

// Flush durably persists all writes made so far. In direct-I/O mode this
// is a no-op, since O_DIRECT bypasses the page cache on every write.
func (bf *BaseFile) Flush() error {
	if bf.direct {
		return nil
	}
	if err := unix.Fdatasync(int(bf.f.Fd())); err != nil {
		return newErr(KindIOError, err, "fdatasync %s", bf.path)
	}
	return nil
}

// Close flushes and closes the backing file.
func (bf *BaseFile) Close() error {
	if err := bf.Flush(); err != nil {
		return err
	}
	if err := bf.f.Close(); err != nil {
		return newErr(KindIOError, err, "close %s", bf.path)
	}
	return nil
}

// Remove closes and deletes the backing file from disk.
func (bf *BaseFile) Remove() error {
	bf.f.Close()
	if err := os.Remove(bf.path); err != nil && !os.IsNotExist(err) {
		return newErr(KindIOError, err, "remove %s", bf.path)
	}
	return nil
}

