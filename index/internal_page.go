package index

import (
	"github.com/shaledb/shale/common"
)

// internalNode views a page as a sorted array of (key, childPageID) slots.
// Slot 0's key is unused ("phantom"): the subtree at slot 0 holds every key
// smaller than keyAt(1). size counts children, so separator keys run from
// slot 1 to size-1 and maxSize bounds the separator count.
type internalNode[K any] struct {
	nodeHeader
	codec KeyCodec[K]
}

// initInternal formats a fresh page as an empty internal node.
func initInternal[K any](codec KeyCodec[K], data []byte, pageID, parent common.PageID, maxSize int) internalNode[K] {
	n := internalNode[K]{nodeHeader: nodeHeader{data: data}, codec: codec}
	n.setPageType(internalPage)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setPageID(pageID)
	n.setParent(parent)
	return n
}

func (n internalNode[K]) entrySize() int {
	return n.codec.Size() + 4
}

func (n internalNode[K]) entryOff(i int) int {
	return intlHeaderLen + i*n.entrySize()
}

// keyAt reads the separator in slot i. Slot 0 is phantom except transiently
// during split promotion, where it carries the key being handed up.
func (n internalNode[K]) keyAt(i int) K {
	return n.codec.Decode(n.data[n.entryOff(i):])
}

func (n internalNode[K]) setKeyAt(i int, key K) {
	n.codec.Encode(n.data[n.entryOff(i):], key)
}

func (n internalNode[K]) childAt(i int) common.PageID {
	return common.PageID(n.i32(n.entryOff(i) + n.codec.Size()))
}

func (n internalNode[K]) setChildAt(i int, child common.PageID) {
	n.setI32(n.entryOff(i)+n.codec.Size(), int32(child))
}

func (n internalNode[K]) setSlotAt(i int, key K, child common.PageID) {
	n.setKeyAt(i, key)
	n.setChildAt(i, child)
}

// minSize is the child count below which deletion rebalances a non-root
// internal node.
func (n internalNode[K]) minSize() int {
	return common.CeilDiv(n.maxSize(), 2)
}

// keyCount returns the number of real separators.
func (n internalNode[K]) keyCount() int {
	if n.size() == 0 {
		return 0
	}
	return n.size() - 1
}

// lookup returns the child to descend into: the slot with the largest
// separator <= key, or slot 0 when key precedes every separator.
func (n internalNode[K]) lookup(key K) common.PageID {
	// binary search over separators [1, size)
	lo, hi := 1, n.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.codec.Compare(n.keyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return n.childAt(lo - 1)
}

// childIndex returns the slot holding child, or -1.
func (n internalNode[K]) childIndex(child common.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.childAt(i) == child {
			return i
		}
	}
	return -1
}

// populateNewRoot seeds a fresh root after the old root split: slot 0 keeps
// the old node under the phantom key, slot 1 holds the promoted separator.
func (n internalNode[K]) populateNewRoot(oldChild common.PageID, key K, newChild common.PageID) {
	n.setChildAt(0, oldChild)
	n.setSlotAt(1, key, newChild)
	n.setSize(2)
}

// insertNodeAfter places (key, newChild) immediately after oldChild's slot
// and returns the new child count.
func (n internalNode[K]) insertNodeAfter(oldChild common.PageID, key K, newChild common.PageID) int {
	idx := n.childIndex(oldChild)
	common.Assert(idx >= 0, "split child %s missing from parent %s", oldChild, n.pageID())
	size := n.size()
	copy(n.data[n.entryOff(idx+2):n.entryOff(size+1)], n.data[n.entryOff(idx+1):n.entryOff(size)])
	n.setSlotAt(idx+1, key, newChild)
	n.setSize(size + 1)
	return size + 1
}

// removeAt deletes slot i.
func (n internalNode[K]) removeAt(i int) {
	size := n.size()
	common.Assert(i >= 0 && i < size, "internal removeAt out of range")
	copy(n.data[n.entryOff(i):n.entryOff(size-1)], n.data[n.entryOff(i+1):n.entryOff(size)])
	n.setSize(size - 1)
}

// moveHalfTo moves the upper half of the slots to an empty sibling. The
// first moved slot lands in dst slot 0; its key is the separator the caller
// promotes, after which it is phantom. adopt re-parents each moved child.
func (n internalNode[K]) moveHalfTo(dst internalNode[K], adopt func(common.PageID)) {
	size := n.size()
	keep := common.CeilDiv(size, 2)
	moved := size - keep
	copy(dst.data[dst.entryOff(0):dst.entryOff(moved)], n.data[n.entryOff(keep):n.entryOff(size)])
	dst.setSize(moved)
	n.setSize(keep)
	for i := 0; i < moved; i++ {
		adopt(dst.childAt(i))
	}
}

// moveAllTo appends every slot to dst (the left sibling during a coalesce).
// middleKey is the parent separator being pulled down; it replaces this
// node's phantom slot 0 key so the merged key sequence stays ordered.
func (n internalNode[K]) moveAllTo(dst internalNode[K], middleKey K, adopt func(common.PageID)) {
	n.setKeyAt(0, middleKey)
	size, dstSize := n.size(), dst.size()
	copy(dst.data[dst.entryOff(dstSize):dst.entryOff(dstSize+size)], n.data[n.entryOff(0):n.entryOff(size)])
	dst.setSize(dstSize + size)
	n.setSize(0)
	for i := dstSize; i < dstSize+size; i++ {
		adopt(dst.childAt(i))
	}
}

// moveFirstToEndOf shifts slot 0 to the left sibling during a redistribute.
// The moved child enters dst under middleKey (the parent separator); the
// caller reads this node's next key beforehand and installs it as the new
// separator afterwards.
func (n internalNode[K]) moveFirstToEndOf(dst internalNode[K], middleKey K, adopt func(common.PageID)) {
	dstSize := dst.size()
	dst.setSlotAt(dstSize, middleKey, n.childAt(0))
	dst.setSize(dstSize + 1)
	adopt(dst.childAt(dstSize))
	n.removeAt(0)
}

// moveLastToFrontOf shifts the last slot to the right sibling during a
// redistribute. The sibling's old phantom slot gains middleKey so its first
// subtree stays separated; the moved child becomes the new phantom slot.
func (n internalNode[K]) moveLastToFrontOf(dst internalNode[K], middleKey K, adopt func(common.PageID)) {
	last := n.size() - 1
	dstSize := dst.size()
	copy(dst.data[dst.entryOff(1):dst.entryOff(dstSize+1)], dst.data[dst.entryOff(0):dst.entryOff(dstSize)])
	dst.setKeyAt(1, middleKey)
	dst.setSlotAt(0, middleKey, n.childAt(last))
	dst.setSize(dstSize + 1)
	adopt(dst.childAt(0))
	n.removeAt(last)
}
