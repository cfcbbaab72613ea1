package logging

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/shaledb/shale/common"
)

// LogManager is the write-ahead log sink consumed by the rest of the engine.
// The storage core only holds a reference and calls none of its methods; the
// transaction manager appends lifecycle records and waits for their flush.
type LogManager interface {
	// Append writes a log record to the log and returns its assigned LSN.
	// The record is not guaranteed durable until WaitUntilFlushed returns.
	Append(record LogRecord) (common.LSN, error)

	// WaitUntilFlushed blocks until the record with the given LSN (and all
	// prior records) is on stable storage.
	WaitUntilFlushed(lsn common.LSN) error

	// FlushedUntil returns the highest LSN known to be on disk.
	FlushedUntil() common.LSN

	// Close flushes pending records and releases the underlying file.
	Close() error
}

// FileLogManager appends fixed-width records (logRecordSize bytes each, no
// length field) to a single log file.
// Appends go straight through to the OS; durability is forced by
// WaitUntilFlushed via fsync.
type FileLogManager struct {
	mu      sync.Mutex
	file    *os.File
	nextLSN common.LSN
	// syncedLSN is the highest LSN covered by a completed fsync.
	syncedLSN atomic.Int64
	closed    bool
}

// NewFileLogManager opens (or creates) the log file at path. Existing
// records are retained; new LSNs continue after them.
func NewFileLogManager(path string) (*FileLogManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, common.NewDBError(common.IOError, "open log %s: %v", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, common.NewDBError(common.IOError, "stat log %s: %v", path, err)
	}

	lm := &FileLogManager{
		file:    f,
		nextLSN: common.LSN(stat.Size()/int64(logRecordSize)) + 1,
	}
	lm.syncedLSN.Store(int64(lm.nextLSN) - 1)
	return lm, nil
}

func (lm *FileLogManager) Append(record LogRecord) (common.LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.closed {
		return common.InvalidLSN, common.NewDBError(common.LogClosedError, "append after close")
	}

	var buf [logRecordSize]byte
	record.writeTo(buf[:])
	if _, err := lm.file.Write(buf[:]); err != nil {
		return common.InvalidLSN, common.NewDBError(common.IOError, "append log record: %v", err)
	}
	lsn := lm.nextLSN
	lm.nextLSN++
	return lsn, nil
}

func (lm *FileLogManager) WaitUntilFlushed(lsn common.LSN) error {
	if common.LSN(lm.syncedLSN.Load()) >= lsn {
		return nil
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.closed {
		return common.NewDBError(common.LogClosedError, "flush after close")
	}
	if err := lm.file.Sync(); err != nil {
		return common.NewDBError(common.IOError, "sync log: %v", err)
	}
	lm.syncedLSN.Store(int64(lm.nextLSN) - 1)
	return nil
}

func (lm *FileLogManager) FlushedUntil() common.LSN {
	return common.LSN(lm.syncedLSN.Load())
}

func (lm *FileLogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.closed {
		return nil
	}
	lm.closed = true
	if err := lm.file.Sync(); err != nil {
		_ = lm.file.Close()
		return common.NewDBError(common.IOError, "sync log on close: %v", err)
	}
	lm.syncedLSN.Store(int64(lm.nextLSN) - 1)
	return lm.file.Close()
}

// NopLogManager discards records. Used where no durability is required, e.g.
// throwaway pools in tests.
type NopLogManager struct {
	next atomic.Int64
}

func NewNopLogManager() *NopLogManager {
	lm := &NopLogManager{}
	lm.next.Store(1)
	return lm
}

func (lm *NopLogManager) Append(record LogRecord) (common.LSN, error) {
	return common.LSN(lm.next.Add(1) - 1), nil
}

func (lm *NopLogManager) WaitUntilFlushed(lsn common.LSN) error { return nil }

func (lm *NopLogManager) FlushedUntil() common.LSN {
	return common.LSN(lm.next.Load() - 1)
}

func (lm *NopLogManager) Close() error { return nil }
