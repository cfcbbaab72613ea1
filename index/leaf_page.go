package index

import (
	"github.com/shaledb/shale/common"
)

// leafNode views a page as a sorted array of (key, rid) entries threaded to
// the next leaf. Keys are strictly increasing; nextPageID points at a leaf
// with strictly larger keys or is invalid at the end of the chain.
type leafNode[K any] struct {
	nodeHeader
	codec KeyCodec[K]
}

// initLeaf formats a fresh page as an empty leaf.
func initLeaf[K any](codec KeyCodec[K], data []byte, pageID, parent common.PageID, maxSize int) leafNode[K] {
	n := leafNode[K]{nodeHeader: nodeHeader{data: data}, codec: codec}
	n.setPageType(leafPage)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setPageID(pageID)
	n.setParent(parent)
	n.setNext(common.InvalidPageID)
	return n
}

func (n leafNode[K]) next() common.PageID     { return common.PageID(n.i32(offNext)) }
func (n leafNode[K]) setNext(p common.PageID) { n.setI32(offNext, int32(p)) }

func (n leafNode[K]) entrySize() int {
	return n.codec.Size() + common.RIDSize
}

func (n leafNode[K]) entryOff(i int) int {
	return leafHeaderLen + i*n.entrySize()
}

func (n leafNode[K]) keyAt(i int) K {
	return n.codec.Decode(n.data[n.entryOff(i):])
}

func (n leafNode[K]) ridAt(i int) common.RID {
	var rid common.RID
	rid.LoadFrom(n.data[n.entryOff(i)+n.codec.Size():])
	return rid
}

func (n leafNode[K]) setEntryAt(i int, key K, rid common.RID) {
	off := n.entryOff(i)
	n.codec.Encode(n.data[off:], key)
	rid.WriteTo(n.data[off+n.codec.Size():])
}

// minSize is the occupancy below which deletion rebalances a non-root leaf.
func (n leafNode[K]) minSize() int {
	return common.CeilDiv(n.maxSize(), 2)
}

// lowerBound returns the first slot whose key is >= target, or size when
// every key is smaller.
func (n leafNode[K]) lowerBound(key K) int {
	lo, hi := 0, n.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.codec.Compare(n.keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// keyIndex returns the slot holding key, or -1.
func (n leafNode[K]) keyIndex(key K) int {
	i := n.lowerBound(key)
	if i < n.size() && n.codec.Compare(n.keyAt(i), key) == 0 {
		return i
	}
	return -1
}

// insert places the entry at its sorted position and returns the new size.
// The caller has already rejected duplicates.
func (n leafNode[K]) insert(key K, rid common.RID) int {
	i := n.lowerBound(key)
	size := n.size()
	// shift [i, size) one slot right; copy is memmove-safe
	copy(n.data[n.entryOff(i+1):n.entryOff(size+1)], n.data[n.entryOff(i):n.entryOff(size)])
	n.setEntryAt(i, key, rid)
	n.setSize(size + 1)
	return size + 1
}

// removeAt deletes the entry in slot i.
func (n leafNode[K]) removeAt(i int) {
	size := n.size()
	common.Assert(i >= 0 && i < size, "leaf removeAt out of range")
	copy(n.data[n.entryOff(i):n.entryOff(size-1)], n.data[n.entryOff(i+1):n.entryOff(size)])
	n.setSize(size - 1)
}

// moveHalfTo keeps the lower ⌈max/2⌉ entries and moves the rest to an empty
// sibling. Leaf chaining is fixed by the caller, which also propagates the
// sibling's first key as the separator.
func (n leafNode[K]) moveHalfTo(dst leafNode[K]) {
	size := n.size()
	keep := common.CeilDiv(n.maxSize(), 2)
	moved := size - keep
	copy(dst.data[dst.entryOff(0):dst.entryOff(moved)], n.data[n.entryOff(keep):n.entryOff(size)])
	dst.setSize(moved)
	n.setSize(keep)
}

// moveAllTo appends every entry to dst (the left sibling during a coalesce)
// and splices this leaf out of the chain.
func (n leafNode[K]) moveAllTo(dst leafNode[K]) {
	size, dstSize := n.size(), dst.size()
	copy(dst.data[dst.entryOff(dstSize):dst.entryOff(dstSize+size)], n.data[n.entryOff(0):n.entryOff(size)])
	dst.setSize(dstSize + size)
	dst.setNext(n.next())
	n.setSize(0)
}

// moveFirstToEndOf shifts one entry to the left sibling during a
// redistribute.
func (n leafNode[K]) moveFirstToEndOf(dst leafNode[K]) {
	dst.insert(n.keyAt(0), n.ridAt(0))
	n.removeAt(0)
}

// moveLastToFrontOf shifts one entry to the right sibling during a
// redistribute.
func (n leafNode[K]) moveLastToFrontOf(dst leafNode[K]) {
	last := n.size() - 1
	dst.insert(n.keyAt(last), n.ridAt(last))
	n.removeAt(last)
}
