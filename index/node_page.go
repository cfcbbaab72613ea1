package index

import (
	"encoding/binary"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/storage"
)

// pageType tags the first word of every tree page so a raw frame can be
// interpreted safely. A zeroed page reads as invalidPage.
type pageType int32

const (
	invalidPage pageType = iota
	leafPage
	internalPage
)

// Shared header layout, little-endian i32 fields:
//
//	offset 0  pageType
//	offset 4  size (entries in a leaf, children in an internal node)
//	offset 8  maxSize
//	offset 12 parentPageID
//	offset 16 pageID
//
// A leaf additionally stores nextPageID at offset 20. Entries follow the
// header contiguously.
const (
	offPageType   = 0
	offSize       = 4
	offMaxSize    = 8
	offParent     = 12
	offPageID     = 16
	offNext       = 20
	leafHeaderLen = 24
	intlHeaderLen = 20
)

// nodeHeader is the byte-level view shared by leaf and internal nodes. It is
// only ever constructed through the tagged accessors below, never by
// aliasing raw page bytes elsewhere.
type nodeHeader struct {
	data []byte
}

func (h nodeHeader) i32(off int) int32 {
	return int32(binary.LittleEndian.Uint32(h.data[off:]))
}

func (h nodeHeader) setI32(off int, v int32) {
	binary.LittleEndian.PutUint32(h.data[off:], uint32(v))
}

func (h nodeHeader) pageType() pageType     { return pageType(h.i32(offPageType)) }
func (h nodeHeader) setPageType(t pageType) { h.setI32(offPageType, int32(t)) }

func (h nodeHeader) size() int        { return int(h.i32(offSize)) }
func (h nodeHeader) setSize(n int)    { h.setI32(offSize, int32(n)) }
func (h nodeHeader) maxSize() int     { return int(h.i32(offMaxSize)) }
func (h nodeHeader) setMaxSize(n int) { h.setI32(offMaxSize, int32(n)) }

func (h nodeHeader) parent() common.PageID     { return common.PageID(h.i32(offParent)) }
func (h nodeHeader) setParent(p common.PageID) { h.setI32(offParent, int32(p)) }

func (h nodeHeader) pageID() common.PageID     { return common.PageID(h.i32(offPageID)) }
func (h nodeHeader) setPageID(p common.PageID) { h.setI32(offPageID, int32(p)) }

func (h nodeHeader) isRoot() bool { return h.parent() == common.InvalidPageID }

// pageTypeOf performs the tagged read that decides how a frame may be
// viewed.
func pageTypeOf(page *storage.Page) pageType {
	return pageType(int32(binary.LittleEndian.Uint32(page.Data()[offPageType:])))
}

// asLeaf hands out a leaf view of the page. The page-type tag must match;
// handing out a mistyped view is an unrecoverable layout confusion.
func asLeaf[K any](codec KeyCodec[K], page *storage.Page) leafNode[K] {
	node := leafNode[K]{nodeHeader: nodeHeader{data: page.Data()}, codec: codec}
	common.Assert(node.pageType() == leafPage, "page %s is not a leaf", page.ID())
	return node
}

// asInternal hands out an internal-node view of the page after the same tag
// check.
func asInternal[K any](codec KeyCodec[K], page *storage.Page) internalNode[K] {
	node := internalNode[K]{nodeHeader: nodeHeader{data: page.Data()}, codec: codec}
	common.Assert(node.pageType() == internalPage, "page %s is not an internal node", page.ID())
	return node
}

// DefaultLeafMaxSize returns the largest leaf fan-out the page size allows
// for the codec's key width.
func DefaultLeafMaxSize[K any](codec KeyCodec[K]) int {
	return (common.PageSize - leafHeaderLen) / (codec.Size() + common.RIDSize)
}

// DefaultInternalMaxSize returns the largest separator count the page size
// allows, leaving room for the transient overflow slot a split consumes.
func DefaultInternalMaxSize[K any](codec KeyCodec[K]) int {
	return (common.PageSize-intlHeaderLen)/(codec.Size()+4) - 2
}
