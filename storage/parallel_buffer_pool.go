package storage

import (
	"sync/atomic"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/logging"
)

// ParallelBufferPool federates several BufferPoolInstances to cut contention
// on the instance mutex. Page id p is owned by instance p mod numInstances,
// so every page has exactly one home and the instances share nothing.
type ParallelBufferPool struct {
	instances []*BufferPoolInstance
	// startHint rotates the instance NewPage tries first so allocation
	// load spreads across the federation.
	startHint atomic.Uint32
}

var _ BufferPool = (*ParallelBufferPool)(nil)

// NewParallelBufferPool builds numInstances pools of poolSize frames each
// over a shared disk manager and WAL sink.
func NewParallelBufferPool(numInstances uint32, poolSize int, disk DiskManager, logManager logging.LogManager) *ParallelBufferPool {
	common.Assert(numInstances > 0, "a federation needs at least one instance")

	pbp := &ParallelBufferPool{
		instances: make([]*BufferPoolInstance, numInstances),
	}
	for i := uint32(0); i < numInstances; i++ {
		pbp.instances[i] = NewBufferPoolInstanceForPool(poolSize, numInstances, i, disk, logManager)
	}
	return pbp
}

// instanceFor routes a page id to its owning instance.
func (pbp *ParallelBufferPool) instanceFor(pageID common.PageID) *BufferPoolInstance {
	return pbp.instances[uint32(pageID)%uint32(len(pbp.instances))]
}

// NewPage tries each instance once, round-robin from a rotating start, and
// fails only when every instance is full.
func (pbp *ParallelBufferPool) NewPage() (*Page, error) {
	n := uint32(len(pbp.instances))
	start := pbp.startHint.Add(1) % n

	var lastErr error
	for i := uint32(0); i < n; i++ {
		page, err := pbp.instances[(start+i)%n].NewPage()
		if err == nil {
			return page, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (pbp *ParallelBufferPool) FetchPage(pageID common.PageID) (*Page, error) {
	return pbp.instanceFor(pageID).FetchPage(pageID)
}

func (pbp *ParallelBufferPool) UnpinPage(pageID common.PageID, isDirty bool) bool {
	return pbp.instanceFor(pageID).UnpinPage(pageID, isDirty)
}

func (pbp *ParallelBufferPool) FlushPage(pageID common.PageID) bool {
	return pbp.instanceFor(pageID).FlushPage(pageID)
}

func (pbp *ParallelBufferPool) DeletePage(pageID common.PageID) bool {
	return pbp.instanceFor(pageID).DeletePage(pageID)
}

func (pbp *ParallelBufferPool) FlushAllPages() {
	for _, inst := range pbp.instances {
		inst.FlushAllPages()
	}
}
