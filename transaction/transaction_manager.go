package transaction

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/logging"
)

// TransactionManager hands out transaction ids, tracks the active set, and
// drives the commit/abort paths: lifecycle records go to the WAL sink and
// row locks are released through the lock manager.
type TransactionManager struct {
	activeTxns  *xsync.MapOf[common.TransactionID, *Transaction]
	logManager  logging.LogManager
	lockManager *LockManager
	nextTxnID   atomic.Uint64
}

func NewTransactionManager(logManager logging.LogManager, lockManager *LockManager) *TransactionManager {
	return &TransactionManager{
		activeTxns:  xsync.NewMapOf[common.TransactionID, *Transaction](),
		logManager:  logManager,
		lockManager: lockManager,
	}
}

// LockManager exposes the lock manager the executor layer calls directly.
func (tm *TransactionManager) LockManager() *LockManager {
	return tm.lockManager
}

// Begin starts a new transaction at the given isolation level. Ids are
// monotonic, so later transactions are younger under wound-wait.
func (tm *TransactionManager) Begin(isolation IsolationLevel) (*Transaction, error) {
	id := common.TransactionID(tm.nextTxnID.Add(1))
	txn := NewTransaction(id, isolation)

	if _, err := tm.logManager.Append(logging.LogRecord{Type: logging.LogBeginTransaction, TxnID: id}); err != nil {
		return nil, err
	}
	tm.activeTxns.Store(id, txn)
	return txn, nil
}

// GetTransaction looks an active transaction up by id.
func (tm *TransactionManager) GetTransaction(id common.TransactionID) (*Transaction, bool) {
	return tm.activeTxns.Load(id)
}

// Commit makes the transaction durable and releases its locks. Committing a
// transaction that was wounded rolls it back instead and reports the abort.
func (tm *TransactionManager) Commit(txn *Transaction) error {
	if txn.State() == StateAborted {
		if err := tm.Abort(txn); err != nil {
			return err
		}
		return TransactionAbortError{TxnID: txn.ID(), Reason: LockOnShrinking}
	}

	lsn, err := tm.logManager.Append(logging.LogRecord{Type: logging.LogCommit, TxnID: txn.ID()})
	if err != nil {
		return err
	}
	if err := tm.logManager.WaitUntilFlushed(lsn); err != nil {
		return err
	}

	tm.releaseAllLocks(txn)
	txn.SetState(StateCommitted)
	tm.activeTxns.Delete(txn.ID())
	return nil
}

// Abort rolls the transaction back and releases its locks.
func (tm *TransactionManager) Abort(txn *Transaction) error {
	if _, err := tm.logManager.Append(logging.LogRecord{Type: logging.LogAbort, TxnID: txn.ID()}); err != nil {
		return err
	}

	tm.releaseAllLocks(txn)
	txn.SetState(StateAborted)
	tm.activeTxns.Delete(txn.ID())
	return nil
}

func (tm *TransactionManager) releaseAllLocks(txn *Transaction) {
	for _, rid := range txn.lockedRIDs() {
		if !tm.lockManager.Unlock(txn, rid) {
			common.Warn("release of untracked lock",
				zap.Uint64("txn", uint64(txn.ID())), zap.Stringer("rid", rid))
		}
	}
}
