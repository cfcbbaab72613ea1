package storage

import (
	"sync"

	"go.uber.org/zap"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/logging"
)

// BufferPool is the page cache contract consumed by the access methods.
// Both the single instance and the parallel federation implement it.
type BufferPool interface {
	// NewPage allocates a fresh page id, binds it to a frame and returns
	// the frame pinned. Fails with BufferPoolFullError iff every frame is
	// pinned.
	NewPage() (*Page, error)
	// FetchPage returns the frame holding pageID, reading it from disk if
	// it is not resident. The frame is returned pinned. Fails with
	// BufferPoolFullError iff every frame is pinned.
	FetchPage(pageID common.PageID) (*Page, error)
	// UnpinPage drops one pin. isDirty is OR-ed into the dirty flag, never
	// cleared. Returns false when the page is not resident or not pinned.
	UnpinPage(pageID common.PageID, isDirty bool) bool
	// FlushPage writes the page through the disk manager and clears the
	// dirty flag. Pin counts are unchanged. Returns false when the page is
	// not resident.
	FlushPage(pageID common.PageID) bool
	// DeletePage removes the page from the pool and returns its frame to
	// the free list. Returns true when the page is absent, false when it is
	// still pinned.
	DeletePage(pageID common.PageID) bool
	// FlushAllPages writes every resident dirty page to disk.
	FlushAllPages()
}

// BufferPoolInstance owns a fixed array of frames, the page table mapping
// resident page ids to frames, a free list, and an LRU replacer for the
// frames whose pin count has reached zero.
//
// A single instance-wide mutex serializes the page-table/free-list/replacer
// triple. The mutex is never held across disk I/O for a page the caller can
// observe mid-transition, and never across a blocking wait, which keeps the
// pool deadlock-free. Per-page latches are independent of the pool mutex and
// may be held across pool operations by callers.
//
// When several instances are federated into a ParallelBufferPool, each owns
// the residue class pageID mod numInstances == instanceIndex and allocates
// ids by that stride.
type BufferPoolInstance struct {
	mu        sync.Mutex
	frames    []Page
	pageTable map[common.PageID]common.FrameID
	freeList  []common.FrameID
	replacer  *LRUReplacer

	disk DiskManager
	// logManager is held for WAL integration; the pool itself appends
	// nothing.
	logManager logging.LogManager

	nextPageID    common.PageID
	numInstances  uint32
	instanceIndex uint32
}

var _ BufferPool = (*BufferPoolInstance)(nil)

// NewBufferPoolInstance creates a stand-alone pool with poolSize frames.
func NewBufferPoolInstance(poolSize int, disk DiskManager, logManager logging.LogManager) *BufferPoolInstance {
	return NewBufferPoolInstanceForPool(poolSize, 1, 0, disk, logManager)
}

// NewBufferPoolInstanceForPool creates one member of a federation of
// numInstances pools; the instance allocates page ids congruent to
// instanceIndex modulo numInstances.
func NewBufferPoolInstanceForPool(poolSize int, numInstances, instanceIndex uint32, disk DiskManager, logManager logging.LogManager) *BufferPoolInstance {
	common.Assert(poolSize > 0, "pool size must be positive")
	common.Assert(numInstances > 0, "a federation needs at least one instance")
	common.Assert(instanceIndex < numInstances, "instance index out of range")

	bp := &BufferPoolInstance{
		frames:        make([]Page, poolSize),
		pageTable:     make(map[common.PageID]common.FrameID, poolSize),
		freeList:      make([]common.FrameID, 0, poolSize),
		replacer:      NewLRUReplacer(poolSize),
		disk:          disk,
		logManager:    logManager,
		nextPageID:    common.PageID(instanceIndex),
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
	}
	for i := range bp.frames {
		bp.frames[i].id = common.InvalidPageID
		bp.freeList = append(bp.freeList, common.FrameID(i))
	}
	// Resume allocation past whatever the file already holds, staying in
	// this instance's residue class.
	if np := disk.NumPages(); np > int(instanceIndex) {
		steps := common.CeilDiv(np-int(instanceIndex), int(numInstances))
		bp.nextPageID = common.PageID(int(instanceIndex) + steps*int(numInstances))
	}
	// Page 0 is reserved for the header directory and is materialized by
	// FetchPage (an unwritten page reads as zeros), never by allocation.
	if bp.nextPageID == common.HeaderPageID {
		bp.nextPageID += common.PageID(numInstances)
	}
	return bp
}

// DiskManager returns the underlying disk manager.
func (bp *BufferPoolInstance) DiskManager() DiskManager {
	return bp.disk
}

// LogManager returns the WAL sink this pool was built with.
func (bp *BufferPoolInstance) LogManager() logging.LogManager {
	return bp.logManager
}

// PoolSize returns the number of frames.
func (bp *BufferPoolInstance) PoolSize() int {
	return len(bp.frames)
}

// allocatePage hands out the next page id in this instance's residue class.
// Caller holds bp.mu.
func (bp *BufferPoolInstance) allocatePage() common.PageID {
	id := bp.nextPageID
	bp.nextPageID += common.PageID(bp.numInstances)
	common.Assert(uint32(id)%bp.numInstances == bp.instanceIndex,
		"allocated %s outside residue class of instance %d", id, bp.instanceIndex)
	return id
}

// getVictimFrame picks a frame for rebinding: free list first, then the
// replacer. A dirty victim is flushed before the frame is handed out, so a
// completed write is never lost to eviction. Caller holds bp.mu.
func (bp *BufferPoolInstance) getVictimFrame() (common.FrameID, bool) {
	if n := len(bp.freeList); n > 0 {
		frame := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return frame, true
	}

	frame, ok := bp.replacer.Victim()
	if !ok {
		return 0, false
	}
	page := &bp.frames[frame]
	common.Assert(page.pinCount == 0, "replacer produced a pinned frame")
	if page.dirty {
		if err := bp.disk.WritePage(page.id, page.Data()); err != nil {
			common.Error("flush of dirty victim failed", zap.Stringer("page", page.id), zap.Error(err))
			// Undo the victim pick; losing the write is worse than
			// failing the caller.
			bp.replacer.Unpin(frame)
			return 0, false
		}
		page.dirty = false
	}
	delete(bp.pageTable, page.id)
	return frame, true
}

func (bp *BufferPoolInstance) NewPage() (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frame, ok := bp.getVictimFrame()
	if !ok {
		return nil, common.NewDBError(common.BufferPoolFullError,
			"all %d frames pinned in instance %d", len(bp.frames), bp.instanceIndex)
	}

	page := &bp.frames[frame]
	page.reset()
	page.id = bp.allocatePage()
	page.pinCount = 1
	bp.pageTable[page.id] = frame
	return page, nil
}

func (bp *BufferPoolInstance) FetchPage(pageID common.PageID) (*Page, error) {
	common.Assert(pageID.IsValid(), "fetch of invalid page id")
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frame, ok := bp.pageTable[pageID]; ok {
		page := &bp.frames[frame]
		page.pinCount++
		bp.replacer.Pin(frame)
		return page, nil
	}

	frame, ok := bp.getVictimFrame()
	if !ok {
		return nil, common.NewDBError(common.BufferPoolFullError,
			"all %d frames pinned in instance %d", len(bp.frames), bp.instanceIndex)
	}

	page := &bp.frames[frame]
	page.reset()
	if err := bp.disk.ReadPage(pageID, page.Data()); err != nil {
		bp.freeList = append(bp.freeList, frame)
		return nil, err
	}
	page.id = pageID
	page.pinCount = 1
	bp.pageTable[pageID] = frame
	return page, nil
}

func (bp *BufferPoolInstance) UnpinPage(pageID common.PageID, isDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frame, ok := bp.pageTable[pageID]
	if !ok {
		return false
	}
	page := &bp.frames[frame]
	if page.pinCount <= 0 {
		return false
	}
	page.dirty = page.dirty || isDirty
	page.pinCount--
	if page.pinCount == 0 {
		bp.replacer.Unpin(frame)
	}
	return true
}

func (bp *BufferPoolInstance) FlushPage(pageID common.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushPageLocked(pageID)
}

func (bp *BufferPoolInstance) flushPageLocked(pageID common.PageID) bool {
	frame, ok := bp.pageTable[pageID]
	if !ok {
		return false
	}
	page := &bp.frames[frame]
	if err := bp.disk.WritePage(page.id, page.Data()); err != nil {
		common.Error("flush failed", zap.Stringer("page", pageID), zap.Error(err))
		return false
	}
	page.dirty = false
	return true
}

func (bp *BufferPoolInstance) FlushAllPages() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pageID := range bp.pageTable {
		bp.flushPageLocked(pageID)
	}
}

func (bp *BufferPoolInstance) DeletePage(pageID common.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frame, ok := bp.pageTable[pageID]
	if !ok {
		return true
	}
	page := &bp.frames[frame]
	if page.pinCount > 0 {
		return false
	}
	delete(bp.pageTable, pageID)
	bp.replacer.Pin(frame)
	page.reset()
	bp.freeList = append(bp.freeList, frame)
	return true
}
