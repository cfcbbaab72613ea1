package index

import (
	"bytes"
	"encoding/binary"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/storage"
)

// headerPage views page 0 as the persistent directory mapping index names to
// their current root page ids. Records are fixed width: a zero-padded name
// of IndexNameLength bytes followed by the root page id.
//
// A page of zeros is a valid empty directory, so the header page needs no
// explicit formatting step.
type headerPage struct {
	data []byte
}

const (
	headerRecordSize = common.IndexNameLength + 4
	headerRecordsOff = 4
	maxHeaderRecords = (common.PageSize - headerRecordsOff) / headerRecordSize
)

func asHeaderPage(page *storage.Page) headerPage {
	common.Assert(page.ID() == common.HeaderPageID, "directory view of non-header page %s", page.ID())
	return headerPage{data: page.Data()}
}

func (h headerPage) recordCount() int {
	return int(int32(binary.LittleEndian.Uint32(h.data)))
}

func (h headerPage) setRecordCount(n int) {
	binary.LittleEndian.PutUint32(h.data, uint32(n))
}

func (h headerPage) nameAt(i int) string {
	off := headerRecordsOff + i*headerRecordSize
	raw := h.data[off : off+common.IndexNameLength]
	if end := bytes.IndexByte(raw, 0); end >= 0 {
		raw = raw[:end]
	}
	return string(raw)
}

func (h headerPage) rootAt(i int) common.PageID {
	off := headerRecordsOff + i*headerRecordSize + common.IndexNameLength
	return common.PageID(int32(binary.LittleEndian.Uint32(h.data[off:])))
}

func (h headerPage) setRootAt(i int, root common.PageID) {
	off := headerRecordsOff + i*headerRecordSize + common.IndexNameLength
	binary.LittleEndian.PutUint32(h.data[off:], uint32(root))
}

func (h headerPage) find(name string) int {
	for i := 0; i < h.recordCount(); i++ {
		if h.nameAt(i) == name {
			return i
		}
	}
	return -1
}

// getRoot looks the index up, returning false when it is not registered.
func (h headerPage) getRoot(name string) (common.PageID, bool) {
	if i := h.find(name); i >= 0 {
		return h.rootAt(i), true
	}
	return common.InvalidPageID, false
}

// insertRecord registers a new index. Returns false if the name is taken or
// the directory is full.
func (h headerPage) insertRecord(name string, root common.PageID) bool {
	common.Assert(len(name) > 0 && len(name) <= common.IndexNameLength,
		"index name must be 1..%d bytes", common.IndexNameLength)
	if h.find(name) >= 0 {
		return false
	}
	n := h.recordCount()
	if n >= maxHeaderRecords {
		return false
	}
	off := headerRecordsOff + n*headerRecordSize
	nameField := h.data[off : off+common.IndexNameLength]
	copy(nameField, name)
	for i := len(name); i < common.IndexNameLength; i++ {
		nameField[i] = 0
	}
	h.setRootAt(n, root)
	h.setRecordCount(n + 1)
	return true
}

// updateRecord rebinds an existing index to a new root. Returns false when
// the name is not registered.
func (h headerPage) updateRecord(name string, root common.PageID) bool {
	i := h.find(name)
	if i < 0 {
		return false
	}
	h.setRootAt(i, root)
	return true
}

// deleteRecord unregisters an index, compacting the record array.
func (h headerPage) deleteRecord(name string) bool {
	i := h.find(name)
	if i < 0 {
		return false
	}
	n := h.recordCount()
	from := headerRecordsOff + (i+1)*headerRecordSize
	to := headerRecordsOff + i*headerRecordSize
	end := headerRecordsOff + n*headerRecordSize
	copy(h.data[to:], h.data[from:end])
	h.setRecordCount(n - 1)
	return true
}
