package index

import (
	"sync"

	"go.uber.org/zap"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/storage"
)

// BPlusTree is a unique-key index over page-backed nodes fetched through the
// buffer pool. Keys are ordered by the codec; values are row ids.
//
// Concurrency is coarse: a tree-level rwlatch serializes mutations against
// each other while lookups share. The node-level invariants do not depend on
// this choice, so a finer latching discipline can replace it without
// touching the page logic.
type BPlusTree[K any] struct {
	name            string
	bp              storage.BufferPool
	codec           KeyCodec[K]
	leafMaxSize     int
	internalMaxSize int

	latch      sync.RWMutex
	rootPageID common.PageID
}

// NewBPlusTree opens the index called name, registering it in the header
// page directory on first use and reloading its root page id afterwards.
func NewBPlusTree[K any](name string, bp storage.BufferPool, codec KeyCodec[K], leafMaxSize, internalMaxSize int) (*BPlusTree[K], error) {
	common.Assert(leafMaxSize >= 3, "leaf max size must be at least 3")
	common.Assert(internalMaxSize >= 2, "internal max size must be at least 2")
	common.Assert(leafHeaderLen+leafMaxSize*(codec.Size()+common.RIDSize) <= common.PageSize,
		"leaf max size %d does not fit a page", leafMaxSize)
	common.Assert(intlHeaderLen+(internalMaxSize+2)*(codec.Size()+4) <= common.PageSize,
		"internal max size %d does not fit a page", internalMaxSize)

	t := &BPlusTree[K]{
		name:            name,
		bp:              bp,
		codec:           codec,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      common.InvalidPageID,
	}

	page, err := bp.FetchPage(common.HeaderPageID)
	if err != nil {
		return nil, err
	}
	dir := asHeaderPage(page)
	if root, ok := dir.getRoot(name); ok {
		t.rootPageID = root
		bp.UnpinPage(common.HeaderPageID, false)
	} else {
		if !dir.insertRecord(name, common.InvalidPageID) {
			bp.UnpinPage(common.HeaderPageID, false)
			return nil, common.NewDBError(common.IOError, "header directory full, cannot register %q", name)
		}
		bp.UnpinPage(common.HeaderPageID, true)
	}
	return t, nil
}

// RootPageID returns the current root, or InvalidPageID for an empty tree.
func (t *BPlusTree[K]) RootPageID() common.PageID {
	t.latch.RLock()
	defer t.latch.RUnlock()
	return t.rootPageID
}

// IsEmpty reports whether the tree holds no entries.
func (t *BPlusTree[K]) IsEmpty() bool {
	return !t.RootPageID().IsValid()
}

// GetValue performs a unique-key point lookup.
func (t *BPlusTree[K]) GetValue(key K) (common.RID, bool) {
	t.latch.RLock()
	defer t.latch.RUnlock()

	if !t.rootPageID.IsValid() {
		return common.RID{}, false
	}
	page := t.findLeaf(key, false)
	leaf := asLeaf(t.codec, page)
	idx := leaf.keyIndex(key)
	if idx < 0 {
		t.bp.UnpinPage(page.ID(), false)
		return common.RID{}, false
	}
	rid := leaf.ridAt(idx)
	t.bp.UnpinPage(page.ID(), false)
	return rid, true
}

// Insert adds a unique key. It returns false, with no side effects, when the
// key is already present. A buffer pool with every frame pinned is fatal.
func (t *BPlusTree[K]) Insert(key K, rid common.RID) bool {
	t.latch.Lock()
	defer t.latch.Unlock()

	if !t.rootPageID.IsValid() {
		t.startNewTree(key, rid)
		return true
	}
	return t.insertIntoLeaf(key, rid)
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (t *BPlusTree[K]) Remove(key K) {
	t.latch.Lock()
	defer t.latch.Unlock()

	if !t.rootPageID.IsValid() {
		return
	}
	page := t.findLeaf(key, false)
	leaf := asLeaf(t.codec, page)
	idx := leaf.keyIndex(key)
	if idx < 0 {
		t.bp.UnpinPage(page.ID(), false)
		return
	}
	leaf.removeAt(idx)

	if leaf.isRoot() {
		if leaf.size() == 0 {
			t.adjustRoot(page)
		} else {
			t.bp.UnpinPage(page.ID(), true)
		}
		return
	}
	if leaf.size() >= leaf.minSize() {
		t.bp.UnpinPage(page.ID(), true)
		return
	}
	t.rebalanceLeaf(page)
}

// mustNewPage allocates a page, treating exhaustion as fatal: a structural
// modification cannot be abandoned halfway through.
func (t *BPlusTree[K]) mustNewPage() *storage.Page {
	page, err := t.bp.NewPage()
	common.Assert(err == nil, "out of memory: %v", err)
	return page
}

// findLeaf descends from the root to the leaf owning key, or the leftmost
// leaf. The parent's pin is released before the child is fetched; the
// returned leaf is pinned.
func (t *BPlusTree[K]) findLeaf(key K, leftmost bool) *storage.Page {
	page, err := t.bp.FetchPage(t.rootPageID)
	common.Assert(err == nil, "fetch root %s: %v", t.rootPageID, err)

	for pageTypeOf(page) == internalPage {
		node := asInternal(t.codec, page)
		var childID common.PageID
		if leftmost {
			childID = node.childAt(0)
		} else {
			childID = node.lookup(key)
		}
		t.bp.UnpinPage(page.ID(), false)
		page, err = t.bp.FetchPage(childID)
		common.Assert(err == nil, "fetch child %s: %v", childID, err)
	}
	return page
}

// startNewTree allocates a leaf root for the first entry.
func (t *BPlusTree[K]) startNewTree(key K, rid common.RID) {
	page := t.mustNewPage()
	leaf := initLeaf(t.codec, page.Data(), page.ID(), common.InvalidPageID, t.leafMaxSize)
	leaf.insert(key, rid)
	t.rootPageID = page.ID()
	t.updateRootPageID()
	t.bp.UnpinPage(page.ID(), true)
}

func (t *BPlusTree[K]) insertIntoLeaf(key K, rid common.RID) bool {
	page := t.findLeaf(key, false)
	leaf := asLeaf(t.codec, page)

	if leaf.keyIndex(key) >= 0 {
		t.bp.UnpinPage(page.ID(), false)
		return false
	}

	if leaf.insert(key, rid) == t.leafMaxSize {
		newPage := t.mustNewPage()
		sibling := initLeaf(t.codec, newPage.Data(), newPage.ID(), leaf.parent(), t.leafMaxSize)
		leaf.moveHalfTo(sibling)
		sibling.setNext(leaf.next())
		leaf.setNext(sibling.pageID())
		t.insertIntoParent(page, sibling.keyAt(0), newPage)
		t.bp.UnpinPage(newPage.ID(), true)
	}
	t.bp.UnpinPage(page.ID(), true)
	return true
}

// insertIntoParent hooks a freshly split-off sibling into the tree: key is
// the separator, oldPage the node that split, newPage its new right sibling.
// Splits propagate upward recursively; a splitting root grows a new one.
func (t *BPlusTree[K]) insertIntoParent(oldPage *storage.Page, key K, newPage *storage.Page) {
	oldHeader := nodeHeader{data: oldPage.Data()}
	newHeader := nodeHeader{data: newPage.Data()}

	if oldHeader.isRoot() {
		rootPage := t.mustNewPage()
		root := initInternal(t.codec, rootPage.Data(), rootPage.ID(), common.InvalidPageID, t.internalMaxSize)
		root.populateNewRoot(oldPage.ID(), key, newPage.ID())
		oldHeader.setParent(rootPage.ID())
		newHeader.setParent(rootPage.ID())
		t.rootPageID = rootPage.ID()
		t.updateRootPageID()
		t.bp.UnpinPage(rootPage.ID(), true)
		return
	}

	parentID := oldHeader.parent()
	parentPage, err := t.bp.FetchPage(parentID)
	common.Assert(err == nil, "fetch parent %s: %v", parentID, err)
	parent := asInternal(t.codec, parentPage)

	newHeader.setParent(parentID)
	parent.insertNodeAfter(oldPage.ID(), key, newPage.ID())

	if parent.keyCount() > t.internalMaxSize {
		splitPage := t.mustNewPage()
		sibling := initInternal(t.codec, splitPage.Data(), splitPage.ID(), parent.parent(), t.internalMaxSize)
		parent.moveHalfTo(sibling, t.adoptInto(splitPage.ID()))
		// slot 0 of the new sibling still carries the promoted key
		t.insertIntoParent(parentPage, sibling.keyAt(0), splitPage)
		t.bp.UnpinPage(splitPage.ID(), true)
	}
	t.bp.UnpinPage(parentID, true)
}

// adoptInto returns a callback that rewrites a child's parent pointer
// through the buffer pool.
func (t *BPlusTree[K]) adoptInto(parentID common.PageID) func(common.PageID) {
	return func(childID common.PageID) {
		page, err := t.bp.FetchPage(childID)
		common.Assert(err == nil, "fetch child %s for re-parenting: %v", childID, err)
		nodeHeader{data: page.Data()}.setParent(parentID)
		t.bp.UnpinPage(childID, true)
	}
}

// rebalanceLeaf fixes an under-full leaf, consuming its pin. The left
// sibling is consulted first; a redistribute moves one entry across the
// boundary, a coalesce empties the right participant into the left and
// recurses into the parent.
func (t *BPlusTree[K]) rebalanceLeaf(page *storage.Page) {
	leaf := asLeaf(t.codec, page)
	parentPage, err := t.bp.FetchPage(leaf.parent())
	common.Assert(err == nil, "fetch parent %s: %v", leaf.parent(), err)
	parent := asInternal(t.codec, parentPage)

	idx := parent.childIndex(page.ID())
	common.Assert(idx >= 0, "leaf %s missing from parent %s", page.ID(), parentPage.ID())
	siblingIdx := idx + 1
	if idx > 0 {
		siblingIdx = idx - 1
	}
	siblingPage, err := t.bp.FetchPage(parent.childAt(siblingIdx))
	common.Assert(err == nil, "fetch sibling: %v", err)
	sibling := asLeaf(t.codec, siblingPage)

	if sibling.size()+leaf.size() >= t.leafMaxSize {
		// cannot fit in one node: redistribute one entry and refresh the
		// boundary separator
		if siblingIdx < idx {
			sibling.moveLastToFrontOf(leaf)
			parent.setKeyAt(idx, leaf.keyAt(0))
		} else {
			sibling.moveFirstToEndOf(leaf)
			parent.setKeyAt(siblingIdx, sibling.keyAt(0))
		}
		t.bp.UnpinPage(siblingPage.ID(), true)
		t.bp.UnpinPage(page.ID(), true)
		t.bp.UnpinPage(parentPage.ID(), true)
		return
	}

	// coalesce right into left
	leftPage, rightPage := page, siblingPage
	rightIdx := siblingIdx
	if siblingIdx < idx {
		leftPage, rightPage = siblingPage, page
		rightIdx = idx
	}
	right := asLeaf(t.codec, rightPage)
	right.moveAllTo(asLeaf(t.codec, leftPage))
	parent.removeAt(rightIdx)

	t.bp.UnpinPage(leftPage.ID(), true)
	t.bp.UnpinPage(rightPage.ID(), true)
	t.deletePage(rightPage.ID())
	t.finishParentRebalance(parentPage)
}

// rebalanceInternal fixes an under-full internal node, consuming its pin.
func (t *BPlusTree[K]) rebalanceInternal(page *storage.Page) {
	node := asInternal(t.codec, page)
	parentPage, err := t.bp.FetchPage(node.parent())
	common.Assert(err == nil, "fetch parent %s: %v", node.parent(), err)
	parent := asInternal(t.codec, parentPage)

	idx := parent.childIndex(page.ID())
	common.Assert(idx >= 0, "node %s missing from parent %s", page.ID(), parentPage.ID())
	siblingIdx := idx + 1
	if idx > 0 {
		siblingIdx = idx - 1
	}
	siblingPage, err := t.bp.FetchPage(parent.childAt(siblingIdx))
	common.Assert(err == nil, "fetch sibling: %v", err)
	sibling := asInternal(t.codec, siblingPage)

	if sibling.size()+node.size() > t.internalMaxSize+1 {
		// redistribute one child through the parent separator
		if siblingIdx < idx {
			middle := parent.keyAt(idx)
			newSep := sibling.keyAt(sibling.size() - 1)
			sibling.moveLastToFrontOf(node, middle, t.adoptInto(page.ID()))
			parent.setKeyAt(idx, newSep)
		} else {
			middle := parent.keyAt(siblingIdx)
			newSep := sibling.keyAt(1)
			sibling.moveFirstToEndOf(node, middle, t.adoptInto(page.ID()))
			parent.setKeyAt(siblingIdx, newSep)
		}
		t.bp.UnpinPage(siblingPage.ID(), true)
		t.bp.UnpinPage(page.ID(), true)
		t.bp.UnpinPage(parentPage.ID(), true)
		return
	}

	// coalesce right into left, pulling the separator down
	leftPage, rightPage := page, siblingPage
	rightIdx := siblingIdx
	if siblingIdx < idx {
		leftPage, rightPage = siblingPage, page
		rightIdx = idx
	}
	middle := parent.keyAt(rightIdx)
	right := asInternal(t.codec, rightPage)
	right.moveAllTo(asInternal(t.codec, leftPage), middle, t.adoptInto(leftPage.ID()))
	parent.removeAt(rightIdx)

	t.bp.UnpinPage(leftPage.ID(), true)
	t.bp.UnpinPage(rightPage.ID(), true)
	t.deletePage(rightPage.ID())
	t.finishParentRebalance(parentPage)
}

// finishParentRebalance recurses after a coalesce removed a slot from
// parentPage, consuming its pin.
func (t *BPlusTree[K]) finishParentRebalance(parentPage *storage.Page) {
	parent := asInternal(t.codec, parentPage)
	if parent.isRoot() {
		if parent.size() == 1 {
			t.adjustRoot(parentPage)
		} else {
			t.bp.UnpinPage(parentPage.ID(), true)
		}
		return
	}
	if parent.size() < parent.minSize() {
		t.rebalanceInternal(parentPage)
		return
	}
	t.bp.UnpinPage(parentPage.ID(), true)
}

// adjustRoot handles the two shrinking-root cases, consuming the pin:
// an internal root left with a single child promotes that child, and an
// empty leaf root leaves the tree empty.
func (t *BPlusTree[K]) adjustRoot(rootPage *storage.Page) {
	oldRootID := rootPage.ID()
	switch pageTypeOf(rootPage) {
	case internalPage:
		node := asInternal(t.codec, rootPage)
		common.Assert(node.size() == 1, "root adjustment on internal node with %d children", node.size())
		childID := node.childAt(0)
		childPage, err := t.bp.FetchPage(childID)
		common.Assert(err == nil, "fetch new root %s: %v", childID, err)
		nodeHeader{data: childPage.Data()}.setParent(common.InvalidPageID)
		t.bp.UnpinPage(childID, true)
		t.rootPageID = childID
	case leafPage:
		leaf := asLeaf(t.codec, rootPage)
		common.Assert(leaf.size() == 0, "root adjustment on non-empty leaf")
		t.rootPageID = common.InvalidPageID
	default:
		common.Assert(false, "root %s has invalid page type", oldRootID)
	}
	t.updateRootPageID()
	t.bp.UnpinPage(oldRootID, false)
	t.deletePage(oldRootID)
}

// deletePage removes a detached node from the pool.
func (t *BPlusTree[K]) deletePage(pageID common.PageID) {
	if !t.bp.DeletePage(pageID) {
		common.Warn("detached tree page still pinned", zap.Stringer("page", pageID))
	}
}

// updateRootPageID writes the current root into the header page directory.
func (t *BPlusTree[K]) updateRootPageID() {
	page, err := t.bp.FetchPage(common.HeaderPageID)
	common.Assert(err == nil, "fetch header page: %v", err)
	ok := asHeaderPage(page).updateRecord(t.name, t.rootPageID)
	common.Assert(ok, "index %q missing from header directory", t.name)
	t.bp.UnpinPage(common.HeaderPageID, true)
}
