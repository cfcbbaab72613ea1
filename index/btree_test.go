package index

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/btree"
	"golang.org/x/sync/errgroup"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/logging"
	"github.com/shaledb/shale/storage"
)

func ridFor(key int64) common.RID {
	return common.RID{PageID: common.PageID(key), Slot: int32(key % 7)}
}

func newTestPool(t *testing.T, poolSize int) *storage.BufferPoolInstance {
	t.Helper()
	dm, err := storage.NewFileDiskManager(filepath.Join(t.TempDir(), "shale.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return storage.NewBufferPoolInstance(poolSize, dm, logging.NewNopLogManager())
}

func newTestTree(t *testing.T, bp storage.BufferPool, leafMax, internalMax int) *BPlusTree[int64] {
	t.Helper()
	tree, err := NewBPlusTree[int64]("scores", bp, Int64Codec{}, leafMax, internalMax)
	require.NoError(t, err)
	return tree
}

// collectLeaves walks the leaf chain from the leftmost leaf and returns the
// keys of each leaf in order.
func collectLeaves(t *testing.T, tree *BPlusTree[int64]) [][]int64 {
	t.Helper()
	var out [][]int64
	if !tree.RootPageID().IsValid() {
		return out
	}
	var zero int64
	page := tree.findLeaf(zero, true)
	for {
		leaf := asLeaf(tree.codec, page)
		keys := make([]int64, 0, leaf.size())
		for i := 0; i < leaf.size(); i++ {
			keys = append(keys, leaf.keyAt(i))
		}
		out = append(out, keys)
		next := leaf.next()
		tree.bp.UnpinPage(page.ID(), false)
		if !next.IsValid() {
			return out
		}
		var err error
		page, err = tree.bp.FetchPage(next)
		require.NoError(t, err)
	}
}

// rootSeparators returns the separator keys of the root, which must be an
// internal node.
func rootSeparators(t *testing.T, tree *BPlusTree[int64]) []int64 {
	t.Helper()
	page, err := tree.bp.FetchPage(tree.RootPageID())
	require.NoError(t, err)
	require.Equal(t, internalPage, pageTypeOf(page), "root is not an internal node")
	node := asInternal(tree.codec, page)
	seps := make([]int64, 0, node.keyCount())
	for i := 1; i < node.size(); i++ {
		seps = append(seps, node.keyAt(i))
	}
	tree.bp.UnpinPage(page.ID(), false)
	return seps
}

// checkTreeInvariants walks every node verifying key ordering, parent
// back-pointers and the minimum occupancy of non-root nodes.
func checkTreeInvariants(t *testing.T, tree *BPlusTree[int64]) {
	t.Helper()
	if !tree.RootPageID().IsValid() {
		return
	}
	var walk func(id, parent common.PageID)
	walk = func(id, parent common.PageID) {
		page, err := tree.bp.FetchPage(id)
		require.NoError(t, err)
		header := nodeHeader{data: page.Data()}
		assert.Equal(t, parent, header.parent(), "parent pointer of %s", id)
		assert.Equal(t, id, header.pageID(), "self id of %s", id)

		switch pageTypeOf(page) {
		case leafPage:
			leaf := asLeaf(tree.codec, page)
			for i := 1; i < leaf.size(); i++ {
				assert.Less(t, leaf.keyAt(i-1), leaf.keyAt(i), "leaf %s keys not strictly sorted", id)
			}
			if parent.IsValid() {
				assert.GreaterOrEqual(t, leaf.size(), common.CeilDiv(leaf.maxSize()-1, 2), "leaf %s under minimum", id)
			}
			tree.bp.UnpinPage(id, false)
		case internalPage:
			node := asInternal(tree.codec, page)
			for i := 2; i < node.size(); i++ {
				assert.Less(t, node.keyAt(i-1), node.keyAt(i), "internal %s separators not strictly sorted", id)
			}
			if parent.IsValid() {
				assert.GreaterOrEqual(t, node.size(), node.minSize(), "internal %s under minimum", id)
			}
			children := make([]common.PageID, 0, node.size())
			for i := 0; i < node.size(); i++ {
				children = append(children, node.childAt(i))
			}
			tree.bp.UnpinPage(id, false)
			for _, child := range children {
				walk(child, id)
			}
		default:
			t.Fatalf("node %s has invalid page type", id)
		}
	}
	walk(tree.RootPageID(), common.InvalidPageID)
}

// TestBPlusTree_SplitPropagation inserts 1..7 in order into a tree with
// fan-out 3 and checks the exact shape: a root with separators {3,5,7} over
// four chained leaves (1,2),(3,4),(5,6),(7).
func TestBPlusTree_SplitPropagation(t *testing.T) {
	bp := newTestPool(t, 16)
	tree := newTestTree(t, bp, 3, 3)

	for key := int64(1); key <= 7; key++ {
		require.True(t, tree.Insert(key, ridFor(key)), "insert %d", key)
	}

	assert.Equal(t, []int64{3, 5, 7}, rootSeparators(t, tree))
	assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5, 6}, {7}}, collectLeaves(t, tree))
	checkTreeInvariants(t, tree)

	for key := int64(1); key <= 7; key++ {
		rid, ok := tree.GetValue(key)
		require.True(t, ok, "lookup %d", key)
		assert.Equal(t, ridFor(key), rid)
	}
	_, ok := tree.GetValue(8)
	assert.False(t, ok)
}

// TestBPlusTree_DeleteRedistributes removes key 1 from the scenario tree:
// leaf {2} underflows, borrows from its right sibling and the parent
// separator becomes 4.
func TestBPlusTree_DeleteRedistributes(t *testing.T) {
	bp := newTestPool(t, 16)
	tree := newTestTree(t, bp, 3, 3)
	for key := int64(1); key <= 7; key++ {
		require.True(t, tree.Insert(key, ridFor(key)))
	}

	tree.Remove(1)

	assert.Equal(t, []int64{4, 5, 7}, rootSeparators(t, tree))
	assert.Equal(t, [][]int64{{2, 3}, {4}, {5, 6}, {7}}, collectLeaves(t, tree))
	_, ok := tree.GetValue(1)
	assert.False(t, ok)
	checkTreeInvariants(t, tree)
}

// TestBPlusTree_DuplicateInsertRejected checks that a duplicate insert
// returns false and leaves the original binding untouched.
func TestBPlusTree_DuplicateInsertRejected(t *testing.T) {
	bp := newTestPool(t, 16)
	tree := newTestTree(t, bp, 3, 3)

	require.True(t, tree.Insert(42, ridFor(42)))
	assert.False(t, tree.Insert(42, common.RID{PageID: 9, Slot: 9}))

	rid, ok := tree.GetValue(42)
	require.True(t, ok)
	assert.Equal(t, ridFor(42), rid)
}

// TestBPlusTree_RemoveAllEmptiesTree checks insert/remove symmetry:
// inserting a set and removing it again leaves an empty tree with an
// invalid root page id, through every coalesce and root-adjust path.
func TestBPlusTree_RemoveAllEmptiesTree(t *testing.T) {
	bp := newTestPool(t, 32)
	tree := newTestTree(t, bp, 3, 3)

	const n = 64
	for key := int64(1); key <= n; key++ {
		require.True(t, tree.Insert(key, ridFor(key)))
	}
	// interleave ends so both left- and right-sibling paths run
	for i := int64(0); i < n/2; i++ {
		tree.Remove(1 + i)
		tree.Remove(n - i)
	}
	tree.Remove(404) // absent key is a silent no-op

	assert.True(t, tree.IsEmpty())
	assert.Equal(t, common.InvalidPageID, tree.RootPageID())

	// the tree is still usable afterwards
	require.True(t, tree.Insert(5, ridFor(5)))
	rid, ok := tree.GetValue(5)
	require.True(t, ok)
	assert.Equal(t, ridFor(5), rid)
}

// TestBPlusTree_IteratorAscending checks that iteration enumerates exactly
// the inserted keys in ascending order regardless of insertion order, and
// that BeginAt starts mid-sequence.
func TestBPlusTree_IteratorAscending(t *testing.T) {
	bp := newTestPool(t, 32)
	tree := newTestTree(t, bp, 4, 4)

	faker := gofakeit.New(0)
	keys := make(map[int64]struct{})
	for len(keys) < 200 {
		keys[int64(faker.Number(1, 10_000))] = struct{}{}
	}
	for key := range keys {
		require.True(t, tree.Insert(key, ridFor(key)))
	}

	want := make([]int64, 0, len(keys))
	for key := range keys {
		want = append(want, key)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	var got []int64
	it := tree.Begin()
	defer it.Close()
	for it.Next() {
		got = append(got, it.Key())
		assert.Equal(t, ridFor(it.Key()), it.Value())
	}
	assert.Equal(t, want, got)

	mid := want[len(want)/2]
	var tail []int64
	it2 := tree.BeginAt(mid)
	defer it2.Close()
	for it2.Next() {
		tail = append(tail, it2.Key())
	}
	assert.Equal(t, want[len(want)/2:], tail)

	// past the largest key the iterator is immediately exhausted
	it3 := tree.BeginAt(want[len(want)-1] + 1)
	defer it3.Close()
	assert.False(t, it3.Next())
}

// TestBPlusTree_IteratorReleasesPins runs full scans over a pool barely
// larger than the tree depth; a leaked leaf pin would exhaust the frames
// and abort the test.
func TestBPlusTree_IteratorReleasesPins(t *testing.T) {
	bp := newTestPool(t, 8)
	tree := newTestTree(t, bp, 4, 4)
	for key := int64(1); key <= 30; key++ {
		require.True(t, tree.Insert(key, ridFor(key)))
	}

	for round := 0; round < 32; round++ {
		count := 0
		it := tree.Begin()
		for it.Next() {
			count++
		}
		it.Close()
		assert.Equal(t, 30, count)
	}
}

// TestBPlusTree_MatchesOracle runs a randomized workload against an
// in-memory btree and compares lookups and the final enumeration.
func TestBPlusTree_MatchesOracle(t *testing.T) {
	bp := newTestPool(t, 64)
	tree := newTestTree(t, bp, 5, 4)

	type entry struct {
		key int64
		rid common.RID
	}
	oracle := btree.NewBTreeG[entry](func(a, b entry) bool { return a.key < b.key })

	faker := gofakeit.New(7)
	for op := 0; op < 5000; op++ {
		key := int64(faker.Number(1, 800))
		switch {
		case op%3 != 0:
			_, exists := oracle.Get(entry{key: key})
			inserted := tree.Insert(key, ridFor(key))
			assert.Equal(t, !exists, inserted, "insert %d disagrees with oracle", key)
			if inserted {
				oracle.Set(entry{key: key, rid: ridFor(key)})
			}
		default:
			tree.Remove(key)
			oracle.Delete(entry{key: key})
		}
		if op%1000 == 999 {
			checkTreeInvariants(t, tree)
		}
	}
	checkTreeInvariants(t, tree)

	assert.Equal(t, oracle.Len(), func() int {
		n := 0
		it := tree.Begin()
		defer it.Close()
		for it.Next() {
			n++
		}
		return n
	}())

	oracle.Scan(func(e entry) bool {
		rid, ok := tree.GetValue(e.key)
		assert.True(t, ok, "oracle key %d missing from tree", e.key)
		assert.Equal(t, e.rid, rid)
		return true
	})
}

// TestBPlusTree_ReopenLoadsRoot flushes the pool, then opens the same index
// name over a fresh pool on the same file and expects the header directory
// to resolve the old root.
func TestBPlusTree_ReopenLoadsRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shale.db")
	dm, err := storage.NewFileDiskManager(path)
	require.NoError(t, err)

	bp := storage.NewBufferPoolInstance(16, dm, logging.NewNopLogManager())
	tree := newTestTree(t, bp, 4, 4)
	for key := int64(1); key <= 30; key++ {
		require.True(t, tree.Insert(key, ridFor(key)))
	}
	root := tree.RootPageID()
	bp.FlushAllPages()
	require.NoError(t, dm.Close())

	dm2, err := storage.NewFileDiskManager(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm2.Close() })

	bp2 := storage.NewBufferPoolInstance(16, dm2, logging.NewNopLogManager())
	tree2 := newTestTree(t, bp2, 4, 4)
	assert.Equal(t, root, tree2.RootPageID())
	for key := int64(1); key <= 30; key++ {
		rid, ok := tree2.GetValue(key)
		require.True(t, ok, "key %d lost across reopen", key)
		assert.Equal(t, ridFor(key), rid)
	}
}

// TestBPlusTree_ConcurrentInserts drives disjoint key ranges from several
// goroutines; the tree latch serializes the mutations.
func TestBPlusTree_ConcurrentInserts(t *testing.T) {
	bp := newTestPool(t, 64)
	tree := newTestTree(t, bp, 6, 5)

	const perWorker = 250
	var g errgroup.Group
	for w := 0; w < 4; w++ {
		base := int64(w * perWorker)
		g.Go(func() error {
			for i := int64(1); i <= perWorker; i++ {
				key := base + i
				if !tree.Insert(key, ridFor(key)) {
					return common.NewDBError(common.DuplicateKeyError, "unexpected duplicate %d", key)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	count := 0
	prev := int64(0)
	it := tree.Begin()
	defer it.Close()
	for it.Next() {
		assert.Greater(t, it.Key(), prev, "keys out of order")
		prev = it.Key()
		count++
	}
	assert.Equal(t, 4*perWorker, count)
}

// TestBPlusTree_DumpShape spot-checks the debug rendering.
func TestBPlusTree_DumpShape(t *testing.T) {
	bp := newTestPool(t, 16)
	tree := newTestTree(t, bp, 3, 3)

	assert.Contains(t, tree.Dump(), "(empty)")

	for key := int64(1); key <= 7; key++ {
		require.True(t, tree.Insert(key, ridFor(key)))
	}
	dump := tree.Dump()
	assert.Contains(t, dump, "internal")
	assert.Contains(t, dump, "seps=[3 5 7]")
	assert.Contains(t, dump, "leaf")
}
