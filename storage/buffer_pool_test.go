package storage

import (
	"bytes"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/logging"
)

// statsDiskManager counts page reads and writes so tests can assert which
// operations actually hit the disk.
type statsDiskManager struct {
	DiskManager
	readCnt  atomic.Int64
	writeCnt atomic.Int64
}

func (m *statsDiskManager) ReadPage(pageID common.PageID, frame []byte) error {
	m.readCnt.Add(1)
	return m.DiskManager.ReadPage(pageID, frame)
}

func (m *statsDiskManager) WritePage(pageID common.PageID, frame []byte) error {
	m.writeCnt.Add(1)
	return m.DiskManager.WritePage(pageID, frame)
}

func setupBufferPool(t *testing.T, poolSize int) (*BufferPoolInstance, *statsDiskManager) {
	t.Helper()
	dm, err := NewFileDiskManager(filepath.Join(t.TempDir(), "shale.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	stats := &statsDiskManager{DiskManager: dm}
	return NewBufferPoolInstance(poolSize, stats, logging.NewNopLogManager()), stats
}

// TestBufferPool_NewPageReservesHeader checks that allocation starts past
// the header directory page and hands out sequential ids.
func TestBufferPool_NewPageReservesHeader(t *testing.T) {
	bp, _ := setupBufferPool(t, 4)

	for want := common.PageID(1); want <= 3; want++ {
		page, err := bp.NewPage()
		require.NoError(t, err)
		assert.Equal(t, want, page.ID())
		assert.Equal(t, 1, page.PinCount())
		require.True(t, bp.UnpinPage(page.ID(), false))
	}
}

// TestBufferPool_PinBlocksEviction checks that a pool whose every frame is
// pinned refuses both fetches and allocations until a pin drops.
func TestBufferPool_PinBlocksEviction(t *testing.T) {
	bp, _ := setupBufferPool(t, 1)

	// both pages share the single frame, so keep their ids rather than
	// asking the (rebound) frame later
	pageA, err := bp.NewPage()
	require.NoError(t, err)
	idA := pageA.ID()
	require.True(t, bp.UnpinPage(idA, true))
	pageB, err := bp.NewPage()
	require.NoError(t, err)
	idB := pageB.ID()
	require.True(t, bp.UnpinPage(idB, true))

	// repin A; the single frame is now unavailable
	fetched, err := bp.FetchPage(idA)
	require.NoError(t, err)
	require.Equal(t, idA, fetched.ID())

	_, err = bp.FetchPage(idB)
	require.Error(t, err)
	assert.True(t, common.IsDBErrorCode(err, common.BufferPoolFullError))

	_, err = bp.NewPage()
	require.Error(t, err)
	assert.True(t, common.IsDBErrorCode(err, common.BufferPoolFullError))

	require.True(t, bp.UnpinPage(idA, false))
	fetched, err = bp.FetchPage(idB)
	require.NoError(t, err)
	assert.Equal(t, idB, fetched.ID())
}

// TestBufferPool_DirtyVictimFlushedBeforeRebind checks that evicting a dirty
// page writes it out first and that the data survives the round trip, while
// clean pages are evicted without disk traffic.
func TestBufferPool_DirtyVictimFlushedBeforeRebind(t *testing.T) {
	bp, stats := setupBufferPool(t, 1)

	pageA, err := bp.NewPage()
	require.NoError(t, err)
	idA := pageA.ID()
	copy(pageA.Data(), "alpha")
	require.True(t, bp.UnpinPage(idA, true))

	// rebinding the only frame must flush A first
	pageB, err := bp.NewPage()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.writeCnt.Load(), "dirty victim must be written before rebind")
	require.True(t, bp.UnpinPage(pageB.ID(), false))

	// B was never dirtied, so bringing A back costs a read but no write
	pageA2, err := bp.FetchPage(idA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.writeCnt.Load(), "clean victim must not be written")
	assert.True(t, bytes.HasPrefix(pageA2.Data(), []byte("alpha")))
	require.True(t, bp.UnpinPage(idA, false))
}

// TestBufferPool_FetchUnpinIsPinCountNeutral checks the round-trip law: a
// fetch followed by an unpin leaves the pin count where it started.
func TestBufferPool_FetchUnpinIsPinCountNeutral(t *testing.T) {
	bp, _ := setupBufferPool(t, 2)

	page, err := bp.NewPage()
	require.NoError(t, err)
	id := page.ID()
	assert.Equal(t, 1, page.PinCount())

	again, err := bp.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, 2, again.PinCount())
	require.True(t, bp.UnpinPage(id, false))
	assert.Equal(t, 1, page.PinCount())

	require.True(t, bp.UnpinPage(id, false))
	assert.Equal(t, 0, page.PinCount())

	assert.False(t, bp.UnpinPage(id, false), "pin count must not go negative")
	assert.False(t, bp.UnpinPage(common.PageID(9999), false), "unpin of non-resident page fails")
}

// TestBufferPool_FlushPageClearsDirty checks that an explicit flush writes
// through and clears the dirty flag so a later eviction does not write
// again.
func TestBufferPool_FlushPageClearsDirty(t *testing.T) {
	bp, stats := setupBufferPool(t, 1)

	page, err := bp.NewPage()
	require.NoError(t, err)
	id := page.ID()
	copy(page.Data(), "flushed")
	require.True(t, bp.UnpinPage(id, true))

	require.True(t, bp.FlushPage(id))
	assert.Equal(t, int64(1), stats.writeCnt.Load())
	assert.False(t, page.IsDirty())

	// eviction of the now-clean page must not write a second time
	other, err := bp.NewPage()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.writeCnt.Load())
	require.True(t, bp.UnpinPage(other.ID(), false))

	assert.False(t, bp.FlushPage(common.PageID(9999)), "flush of non-resident page fails")
}

// TestBufferPool_DeletePage covers the three delete outcomes: absent pages
// succeed trivially, pinned pages refuse, unpinned pages free their frame.
func TestBufferPool_DeletePage(t *testing.T) {
	bp, _ := setupBufferPool(t, 2)

	assert.True(t, bp.DeletePage(common.PageID(41)), "absent page deletes trivially")

	page, err := bp.NewPage()
	require.NoError(t, err)
	id := page.ID()
	assert.False(t, bp.DeletePage(id), "pinned page must not be deleted")

	require.True(t, bp.UnpinPage(id, false))
	assert.True(t, bp.DeletePage(id))
	assert.Len(t, bp.freeList, 2, "frame returns to the free list")

	_, resident := bp.pageTable[id]
	assert.False(t, resident)
}

// TestBufferPool_StateInvariants drives a mixed workload and then checks the
// structural invariants: page table and frames agree, free frames are
// unbound, and every replacer-tracked frame is unpinned.
func TestBufferPool_StateInvariants(t *testing.T) {
	bp, _ := setupBufferPool(t, 4)

	var ids []common.PageID
	for i := 0; i < 8; i++ {
		page, err := bp.NewPage()
		require.NoError(t, err)
		ids = append(ids, page.ID())
		require.True(t, bp.UnpinPage(page.ID(), i%2 == 0))
	}
	pinned, err := bp.FetchPage(ids[7])
	require.NoError(t, err)
	require.True(t, bp.DeletePage(ids[6]))

	bp.mu.Lock()
	for pageID, frame := range bp.pageTable {
		assert.Equal(t, pageID, bp.frames[frame].id, "page table and frame disagree")
	}
	for _, frame := range bp.freeList {
		assert.Equal(t, common.InvalidPageID, bp.frames[frame].id, "free frame still bound")
	}
	bp.mu.Unlock()

	for {
		frame, ok := bp.replacer.Victim()
		if !ok {
			break
		}
		assert.Equal(t, 0, bp.frames[frame].pinCount, "replacer tracked a pinned frame")
		assert.NotEqual(t, pinned.ID(), bp.frames[frame].id)
	}
}

// TestParallelBufferPool_ResidueClasses checks that the federation assigns
// each allocated id to the instance owning its residue class and serves
// fetches for any id.
func TestParallelBufferPool_ResidueClasses(t *testing.T) {
	dm, err := NewFileDiskManager(filepath.Join(t.TempDir(), "shale.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	const numInstances = 4
	pbp := NewParallelBufferPool(numInstances, 2, dm, logging.NewNopLogManager())

	seen := make(map[uint32]int)
	var ids []common.PageID
	for i := 0; i < 12; i++ {
		page, err := pbp.NewPage()
		require.NoError(t, err)
		id := page.ID()
		owner := pbp.instanceFor(id)
		assert.Equal(t, owner.instanceIndex, uint32(id)%numInstances)
		seen[uint32(id)%numInstances]++
		ids = append(ids, id)
		copy(page.Data(), id.String())
		require.True(t, pbp.UnpinPage(id, true))
	}
	assert.Len(t, seen, numInstances, "round robin must touch every instance")

	for _, id := range ids {
		page, err := pbp.FetchPage(id)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(page.Data(), []byte(id.String())))
		require.True(t, pbp.UnpinPage(id, false))
	}
}

// TestBufferPool_ConcurrentFetch hammers a small pool from several
// goroutines and checks that every fetch observes the page content written
// at creation.
func TestBufferPool_ConcurrentFetch(t *testing.T) {
	bp, _ := setupBufferPool(t, 4)

	const numPages = 16
	var ids []common.PageID
	for i := 0; i < numPages; i++ {
		page, err := bp.NewPage()
		require.NoError(t, err)
		copy(page.Data(), page.ID().String())
		ids = append(ids, page.ID())
		require.True(t, bp.UnpinPage(page.ID(), true))
	}

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				id := ids[(w*7+i)%numPages]
				page, err := bp.FetchPage(id)
				if err != nil {
					// every frame transiently pinned by other workers
					if common.IsDBErrorCode(err, common.BufferPoolFullError) {
						continue
					}
					return err
				}
				page.RWLatch.RLock()
				ok := bytes.HasPrefix(page.Data(), []byte(id.String()))
				page.RWLatch.RUnlock()
				bp.UnpinPage(id, false)
				if !ok {
					return common.NewDBError(common.IOError, "frame content mismatch for %s", id)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
