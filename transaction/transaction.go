package transaction

import (
	"sync"
	"sync/atomic"

	"github.com/shaledb/shale/common"
)

// TransactionState tracks the two-phase locking life cycle. Locks may only
// be acquired while GROWING; the first unlock moves the transaction to
// SHRINKING, after which any lock attempt aborts it.
type TransactionState int32

const (
	StateGrowing TransactionState = iota
	StateShrinking
	StateCommitted
	StateAborted
)

func (s TransactionState) String() string {
	switch s {
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	}
	return "unknown"
}

type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	}
	return "unknown"
}

// Transaction is the runtime handle for one transaction: its id (smaller id
// means older transaction), isolation level, 2PL state and the row locks it
// holds.
//
// The state word is atomic because the lock manager's wound-wait rule lets
// one transaction force another into StateAborted from a different thread.
type Transaction struct {
	id        common.TransactionID
	isolation IsolationLevel
	state     atomic.Int32

	mu           sync.Mutex
	sharedSet    map[common.RID]struct{}
	exclusiveSet map[common.RID]struct{}
}

func NewTransaction(id common.TransactionID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:           id,
		isolation:    isolation,
		sharedSet:    make(map[common.RID]struct{}),
		exclusiveSet: make(map[common.RID]struct{}),
	}
}

func (t *Transaction) ID() common.TransactionID {
	return t.id
}

func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolation
}

func (t *Transaction) State() TransactionState {
	return TransactionState(t.state.Load())
}

func (t *Transaction) SetState(s TransactionState) {
	t.state.Store(int32(s))
}

// IsSharedLocked reports whether the transaction holds a shared lock on rid.
func (t *Transaction) IsSharedLocked(rid common.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sharedSet[rid]
	return ok
}

// IsExclusiveLocked reports whether the transaction holds an exclusive lock
// on rid.
func (t *Transaction) IsExclusiveLocked(rid common.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.exclusiveSet[rid]
	return ok
}

func (t *Transaction) addShared(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedSet[rid] = struct{}{}
}

func (t *Transaction) addExclusive(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exclusiveSet[rid] = struct{}{}
}

func (t *Transaction) removeShared(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedSet, rid)
}

func (t *Transaction) removeLocked(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedSet, rid)
	delete(t.exclusiveSet, rid)
}

// lockedRIDs snapshots every row the transaction holds a lock on, for
// release at commit or abort.
func (t *Transaction) lockedRIDs() []common.RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	rids := make([]common.RID, 0, len(t.sharedSet)+len(t.exclusiveSet))
	for rid := range t.sharedSet {
		rids = append(rids, rid)
	}
	for rid := range t.exclusiveSet {
		rids = append(rids, rid)
	}
	return rids
}
