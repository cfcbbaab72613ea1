package common

import "fmt"

type DBErrorCode int

const (
	// BufferPoolFullError is returned when every frame in a buffer pool
	// instance is pinned and no victim can be found.
	BufferPoolFullError DBErrorCode = iota
	// PageNotResidentError indicates an operation on a page id that is not
	// currently mapped by the page table.
	PageNotResidentError
	// PagePinnedError indicates an attempt to delete a page some caller
	// still has pinned.
	PagePinnedError
	// DuplicateKeyError is returned by a unique index on insert of an
	// existing key.
	DuplicateKeyError
	// KeyNotFoundError indicates a point lookup miss.
	KeyNotFoundError
	// IOError wraps a fatal disk read or write failure.
	IOError
	// LogClosedError indicates an append to the write-ahead log after the
	// logging subsystem has been shut down.
	LogClosedError
)

func (ec DBErrorCode) String() string {
	switch ec {
	case BufferPoolFullError:
		return "BufferPoolFullError"
	case PageNotResidentError:
		return "PageNotResidentError"
	case PagePinnedError:
		return "PagePinnedError"
	case DuplicateKeyError:
		return "DuplicateKeyError"
	case KeyNotFoundError:
		return "KeyNotFoundError"
	case IOError:
		return "IOError"
	case LogClosedError:
		return "LogClosedError"
	}
	return "unknown"
}

// DBError is the engine's structured error type. It pairs a DBErrorCode with
// a detail message so callers can branch on the code (e.g. treat a full
// buffer pool as fatal) while keeping the human-readable context.
type DBError struct {
	Code      DBErrorCode
	ErrString string
}

func (e DBError) Error() string {
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.ErrString)
}

// NewDBError builds a DBError with a formatted message.
func NewDBError(code DBErrorCode, format string, args ...any) DBError {
	return DBError{Code: code, ErrString: fmt.Sprintf(format, args...)}
}

// IsDBErrorCode reports whether err is a DBError carrying the given code.
func IsDBErrorCode(err error, code DBErrorCode) bool {
	dbe, ok := err.(DBError)
	return ok && dbe.Code == code
}
