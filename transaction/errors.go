package transaction

import (
	"fmt"

	"github.com/shaledb/shale/common"
)

// AbortReason explains why the lock manager forced a transaction to abort.
type AbortReason int

const (
	// LockOnShrinking: a lock attempt after the transaction released its
	// first lock, or after it was wounded into StateAborted.
	LockOnShrinking AbortReason = iota
	// LockSharedOnReadUncommitted: READ_UNCOMMITTED takes no shared locks.
	LockSharedOnReadUncommitted
	// UpgradeConflict: an upgrade with no shared lock to upgrade from.
	UpgradeConflict
)

func (r AbortReason) String() string {
	switch r {
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case LockSharedOnReadUncommitted:
		return "LOCKSHARED_ON_READ_UNCOMMITTED"
	case UpgradeConflict:
		return "UPGRADE_CONFLICT"
	}
	return "unknown"
}

// TransactionAbortError reports that a transaction was moved to
// StateAborted during a lock manager call. The caller is expected to roll
// the transaction back; a wounded transaction may retry under a new id.
type TransactionAbortError struct {
	TxnID  common.TransactionID
	Reason AbortReason
}

func (e TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}
