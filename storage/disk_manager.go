package storage

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/shaledb/shale/common"
)

// DiskManager abstracts page-granular I/O against the database file.
//
// Implementations must be safe for concurrent use: multiple threads read and
// write different pages simultaneously while the buffer pool serializes
// accesses to any single page through its frame bookkeeping.
type DiskManager interface {
	// ReadPage reads the page identified by pageID into frame. The slice
	// must be exactly common.PageSize bytes. Reading a page that has never
	// been written yields zeros.
	ReadPage(pageID common.PageID, frame []byte) error
	// WritePage writes frame to the page identified by pageID, extending
	// the file if needed. The slice must be exactly common.PageSize bytes.
	WritePage(pageID common.PageID, frame []byte) error
	// Sync forces buffered writes to stable storage.
	Sync() error
	// Close closes the underlying file handle.
	Close() error
	// NumPages returns the current length of the file in pages.
	NumPages() int
}

// FileDiskManager implements DiskManager over a single OS file. Page p lives
// at byte offset p * PageSize.
type FileDiskManager struct {
	file *os.File
	// numPages caches the file length in pages to avoid stat() syscalls on
	// every read. Updated atomically after a write extends the file.
	numPages atomic.Int32
}

// NewFileDiskManager opens (or creates) the database file at path.
func NewFileDiskManager(path string) (*FileDiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, common.NewDBError(common.IOError, "open %s: %v", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, common.NewDBError(common.IOError, "stat %s: %v", path, err)
	}

	dm := &FileDiskManager{file: f}
	dm.numPages.Store(int32(stat.Size() / int64(common.PageSize)))
	return dm, nil
}

func (dm *FileDiskManager) ReadPage(pageID common.PageID, frame []byte) error {
	common.Assert(len(frame) == common.PageSize, "read buffer must match PageSize")
	common.Assert(pageID.IsValid(), "read of invalid page id")

	offset := int64(pageID) * int64(common.PageSize)
	n, err := dm.file.ReadAt(frame, offset)
	if err == io.EOF {
		// Pages past the current end of file read as zeros. This covers
		// freshly allocated pages that were never flushed.
		for i := n; i < len(frame); i++ {
			frame[i] = 0
		}
		return nil
	}
	if err != nil {
		return common.NewDBError(common.IOError, "read %s: %v", pageID, err)
	}
	return nil
}

func (dm *FileDiskManager) WritePage(pageID common.PageID, frame []byte) error {
	common.Assert(len(frame) == common.PageSize, "write buffer must match PageSize")
	common.Assert(pageID.IsValid(), "write of invalid page id")

	offset := int64(pageID) * int64(common.PageSize)
	if _, err := dm.file.WriteAt(frame, offset); err != nil {
		return common.NewDBError(common.IOError, "write %s: %v", pageID, err)
	}
	for {
		cur := dm.numPages.Load()
		if int32(pageID) < cur || dm.numPages.CompareAndSwap(cur, int32(pageID)+1) {
			break
		}
	}
	return nil
}

func (dm *FileDiskManager) Sync() error {
	if err := dm.file.Sync(); err != nil {
		return common.NewDBError(common.IOError, "sync: %v", err)
	}
	return nil
}

func (dm *FileDiskManager) Close() error {
	return dm.file.Close()
}

func (dm *FileDiskManager) NumPages() int {
	return int(dm.numPages.Load())
}
