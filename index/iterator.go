package index

import (
	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/storage"
)

// IndexIterator walks leaf entries in ascending key order, following the
// leaf chain. It pins exactly one leaf at a time and releases it when it
// advances past the end or is closed. It is not safe against concurrent
// mutators.
type IndexIterator[K any] struct {
	tree      *BPlusTree[K]
	page      *storage.Page
	leaf      leafNode[K]
	idx       int
	firstCall bool
}

// Begin positions an iterator before the first entry of the tree.
func (t *BPlusTree[K]) Begin() *IndexIterator[K] {
	t.latch.RLock()
	defer t.latch.RUnlock()

	it := &IndexIterator[K]{tree: t, firstCall: true}
	if !t.rootPageID.IsValid() {
		return it
	}
	var zero K
	it.page = t.findLeaf(zero, true)
	it.leaf = asLeaf(t.codec, it.page)
	it.idx = 0
	return it
}

// BeginAt positions an iterator before the first entry whose key is >= key.
func (t *BPlusTree[K]) BeginAt(key K) *IndexIterator[K] {
	t.latch.RLock()
	defer t.latch.RUnlock()

	it := &IndexIterator[K]{tree: t, firstCall: true}
	if !t.rootPageID.IsValid() {
		return it
	}
	it.page = t.findLeaf(key, false)
	it.leaf = asLeaf(t.codec, it.page)
	it.idx = it.leaf.lowerBound(key)
	if it.idx >= it.leaf.size() {
		// key is larger than everything in its leaf; start at the next one
		it.advanceLeaf()
	}
	return it
}

// Next advances to the next entry, returning false past the end. The first
// call moves onto the initial position.
func (it *IndexIterator[K]) Next() bool {
	if it.firstCall {
		it.firstCall = false
		return it.page != nil
	}
	if it.page == nil {
		return false
	}
	it.idx++
	if it.idx >= it.leaf.size() {
		it.advanceLeaf()
	}
	return it.page != nil
}

// advanceLeaf swaps the pinned leaf for its successor in the chain, ending
// the iteration when there is none.
func (it *IndexIterator[K]) advanceLeaf() {
	next := it.leaf.next()
	it.tree.bp.UnpinPage(it.page.ID(), false)
	it.page = nil
	if !next.IsValid() {
		return
	}
	page, err := it.tree.bp.FetchPage(next)
	common.Assert(err == nil, "fetch next leaf %s: %v", next, err)
	it.page = page
	it.leaf = asLeaf(it.tree.codec, page)
	it.idx = 0
}

// Key returns the current entry's key.
func (it *IndexIterator[K]) Key() K {
	common.Assert(it.page != nil, "Key on exhausted iterator")
	return it.leaf.keyAt(it.idx)
}

// Value returns the current entry's row id.
func (it *IndexIterator[K]) Value() common.RID {
	common.Assert(it.page != nil, "Value on exhausted iterator")
	return it.leaf.ridAt(it.idx)
}

// Close releases the pinned leaf. Safe to call more than once; always defer
// it so the pin cannot leak.
func (it *IndexIterator[K]) Close() {
	if it.page != nil {
		it.tree.bp.UnpinPage(it.page.ID(), false)
		it.page = nil
	}
}
