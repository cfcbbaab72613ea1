package index

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/shaledb/shale/common"
)

// Dump renders the tree structure for debugging: one line per node with its
// page id and keys, leaves annotated with their chain pointer.
func (t *BPlusTree[K]) Dump() string {
	t.latch.RLock()
	defer t.latch.RUnlock()

	out := treeprint.NewWithRoot(fmt.Sprintf("index %q", t.name))
	if !t.rootPageID.IsValid() {
		out.AddNode("(empty)")
		return out.String()
	}
	t.dumpNode(t.rootPageID, out)
	return out.String()
}

func (t *BPlusTree[K]) dumpNode(pageID common.PageID, out treeprint.Tree) {
	page, err := t.bp.FetchPage(pageID)
	common.Assert(err == nil, "fetch %s for dump: %v", pageID, err)

	switch pageTypeOf(page) {
	case leafPage:
		leaf := asLeaf(t.codec, page)
		keys := make([]K, 0, leaf.size())
		for i := 0; i < leaf.size(); i++ {
			keys = append(keys, leaf.keyAt(i))
		}
		out.AddNode(fmt.Sprintf("leaf %s keys=%v next=%s", pageID, keys, leaf.next()))
		t.bp.UnpinPage(pageID, false)
	case internalPage:
		node := asInternal(t.codec, page)
		seps := make([]K, 0, node.keyCount())
		for i := 1; i < node.size(); i++ {
			seps = append(seps, node.keyAt(i))
		}
		children := make([]common.PageID, 0, node.size())
		for i := 0; i < node.size(); i++ {
			children = append(children, node.childAt(i))
		}
		branch := out.AddBranch(fmt.Sprintf("internal %s seps=%v", pageID, seps))
		t.bp.UnpinPage(pageID, false)
		for _, child := range children {
			t.dumpNode(child, branch)
		}
	default:
		out.AddNode(fmt.Sprintf("corrupt %s", pageID))
		t.bp.UnpinPage(pageID, false)
	}
}
