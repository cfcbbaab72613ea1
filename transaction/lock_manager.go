package transaction

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/shaledb/shale/common"
)

// lockMode is the access mode of a row lock request.
type lockMode int

const (
	lockShared lockMode = iota
	lockExclusive
)

func (m lockMode) String() string {
	if m == lockShared {
		return "S"
	}
	return "X"
}

// lockRequest is one transaction's position in a row's queue. Holding the
// transaction pointer (not just the id) lets the wound-wait rule abort the
// owner directly.
type lockRequest struct {
	txn     *Transaction
	mode    lockMode
	granted bool
}

// lockRequestQueue serializes lock traffic for one row. Requests are kept in
// arrival order; requests[0] is the oldest surviving request. The queue owns
// its mutex and condition variable; the lock manager's map is only consulted
// to find the queue.
type lockRequestQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	requests []*lockRequest
	// dead marks a queue that was reaped from the map after emptying; a
	// loader that raced the reaper retries against the map.
	dead bool
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// removeRequest drops the request from the queue. Caller holds q.mu.
func (q *lockRequestQueue) removeRequest(req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// findTxn returns the transaction's request, or nil. Caller holds q.mu.
func (q *lockRequestQueue) findTxn(txn *Transaction) *lockRequest {
	for _, r := range q.requests {
		if r.txn == txn {
			return r
		}
	}
	return nil
}

// removeTxn drops the transaction's request, returning false when it has
// none. Caller holds q.mu.
func (q *lockRequestQueue) removeTxn(txn *Transaction) bool {
	for i, r := range q.requests {
		if r.txn == txn {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}
	return false
}

// LockManager implements strict two-phase row locking with wound-wait
// deadlock prevention: an older transaction aborts the younger conflicting
// holders in its way, while a younger transaction waits behind older ones.
// A waiter is therefore always the oldest among conflicting requests at its
// queue, so waits-for cycles cannot form.
type LockManager struct {
	queues *xsync.MapOf[common.RID, *lockRequestQueue]
}

func NewLockManager() *LockManager {
	return &LockManager{
		queues: xsync.NewMapOf[common.RID, *lockRequestQueue](),
	}
}

// lockQueue returns the row's queue with its mutex held, creating it on
// first use.
func (lm *LockManager) lockQueue(rid common.RID) *lockRequestQueue {
	for {
		q, ok := lm.queues.Load(rid)
		if !ok {
			q, _ = lm.queues.LoadOrStore(rid, newLockRequestQueue())
		}
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			continue
		}
		return q
	}
}

// reapIfEmpty deletes the queue from the map once no requests remain.
// Caller holds q.mu.
func (lm *LockManager) reapIfEmpty(rid common.RID, q *lockRequestQueue) {
	if len(q.requests) == 0 {
		q.dead = true
		lm.queues.Delete(rid)
	}
}

// abort moves txn to StateAborted and reports the failure.
func abort(txn *Transaction, reason AbortReason) error {
	txn.SetState(StateAborted)
	return TransactionAbortError{TxnID: txn.ID(), Reason: reason}
}

// LockShared acquires a shared lock on rid for txn, blocking while another
// transaction's exclusive request is ahead in the queue.
func (lm *LockManager) LockShared(txn *Transaction, rid common.RID) error {
	if txn.State() != StateGrowing {
		return abort(txn, LockOnShrinking)
	}
	if txn.IsolationLevel() == ReadUncommitted {
		return abort(txn, LockSharedOnReadUncommitted)
	}

	q := lm.lockQueue(rid)

	// wound-wait: younger exclusive requests in our way abort
	wounded := false
	for _, r := range q.requests {
		if r.txn.ID() > txn.ID() && r.mode == lockExclusive {
			r.txn.SetState(StateAborted)
			wounded = true
		}
	}
	if wounded {
		q.cond.Broadcast()
	}

	// reentrancy: an existing granted request already covers a shared one,
	// and keeps the queue at one request per transaction
	if held := q.findTxn(txn); held != nil && held.granted {
		q.mu.Unlock()
		return nil
	}

	req := &lockRequest{txn: txn, mode: lockShared}
	q.requests = append(q.requests, req)

	for q.mustWaitShared(req) {
		q.cond.Wait()
	}
	return lm.finishWait(txn, rid, q, req, func() {
		txn.addShared(rid)
	})
}

// mustWaitShared reports whether the request still has another
// transaction's exclusive request ahead of it. Caller holds q.mu.
func (q *lockRequestQueue) mustWaitShared(req *lockRequest) bool {
	if req.txn.State() != StateGrowing {
		return false // wounded; stop waiting and unwind
	}
	for _, r := range q.requests {
		if r == req {
			return false
		}
		if r.txn != req.txn && r.mode == lockExclusive {
			return true
		}
	}
	return false
}

// LockExclusive acquires an exclusive lock on rid for txn, blocking until
// its request reaches the front of the queue.
func (lm *LockManager) LockExclusive(txn *Transaction, rid common.RID) error {
	if txn.State() != StateGrowing {
		return abort(txn, LockOnShrinking)
	}

	q := lm.lockQueue(rid)
	lm.woundYounger(q, txn)

	// reentrancy: a granted exclusive request already covers this one
	if held := q.findTxn(txn); held != nil && held.granted && held.mode == lockExclusive {
		q.mu.Unlock()
		return nil
	}

	req := &lockRequest{txn: txn, mode: lockExclusive}
	q.requests = append(q.requests, req)

	for q.mustWaitExclusive(req) {
		q.cond.Wait()
	}
	return lm.finishWait(txn, rid, q, req, func() {
		txn.addExclusive(rid)
	})
}

// LockUpgrade trades txn's shared lock on rid for an exclusive one. The
// shared request leaves the queue first, so the upgrader queues like a fresh
// exclusive request behind the remaining holders.
func (lm *LockManager) LockUpgrade(txn *Transaction, rid common.RID) error {
	if txn.State() != StateGrowing {
		return abort(txn, LockOnShrinking)
	}

	q := lm.lockQueue(rid)
	if !q.removeTxn(txn) {
		lm.reapIfEmpty(rid, q)
		q.mu.Unlock()
		return abort(txn, UpgradeConflict)
	}
	txn.removeShared(rid)

	req := &lockRequest{txn: txn, mode: lockExclusive}
	q.requests = append(q.requests, req)

	lm.woundYounger(q, txn)

	for q.mustWaitExclusive(req) {
		q.cond.Wait()
	}
	return lm.finishWait(txn, rid, q, req, func() {
		txn.addExclusive(rid)
	})
}

// woundYounger aborts every younger transaction queued on q, regardless of
// mode. Caller holds q.mu.
func (lm *LockManager) woundYounger(q *lockRequestQueue, txn *Transaction) {
	wounded := false
	for _, r := range q.requests {
		if r.txn.ID() > txn.ID() {
			r.txn.SetState(StateAborted)
			wounded = true
		}
	}
	if wounded {
		q.cond.Broadcast()
	}
}

// mustWaitExclusive reports whether the front of the queue still belongs to
// another transaction. Caller holds q.mu.
func (q *lockRequestQueue) mustWaitExclusive(req *lockRequest) bool {
	if req.txn.State() != StateGrowing {
		return false // wounded; stop waiting and unwind
	}
	return len(q.requests) > 0 && q.requests[0].txn != req.txn
}

// finishWait resolves a completed wait: a wounded transaction unwinds its
// request and surfaces the abort, otherwise the request is granted and
// recorded. Takes ownership of q.mu.
func (lm *LockManager) finishWait(txn *Transaction, rid common.RID, q *lockRequestQueue, req *lockRequest, grant func()) error {
	if txn.State() != StateGrowing {
		q.removeRequest(req)
		q.cond.Broadcast()
		lm.reapIfEmpty(rid, q)
		q.mu.Unlock()
		return TransactionAbortError{TxnID: txn.ID(), Reason: LockOnShrinking}
	}
	req.granted = true
	grant()
	q.mu.Unlock()
	return nil
}

// Unlock releases txn's lock on rid and wakes the queue. The first unlock
// moves a growing transaction to SHRINKING, which is what enforces 2PL: any
// later lock attempt fails the growing-state check. Returns false when the
// transaction held no request for the row.
func (lm *LockManager) Unlock(txn *Transaction, rid common.RID) bool {
	txn.removeLocked(rid)
	if txn.State() == StateGrowing {
		txn.SetState(StateShrinking)
	}

	q, ok := lm.queues.Load(rid)
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead {
		return false
	}

	removed := q.removeTxn(txn)
	q.cond.Broadcast()
	lm.reapIfEmpty(rid, q)
	return removed
}

// LockHeld reports whether any transaction currently has a granted request
// on rid.
func (lm *LockManager) LockHeld(rid common.RID) bool {
	q, ok := lm.queues.Load(rid)
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead {
		return false
	}
	for _, r := range q.requests {
		if r.granted {
			return true
		}
	}
	return false
}
