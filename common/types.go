package common

import (
	"encoding/binary"
	"fmt"
)

const (
	// PageSize is the fixed size of every on-disk page in bytes.
	PageSize int = 4096
	// IndexNameLength is the fixed width of an index name in the header
	// page directory.
	IndexNameLength int = 32
)

// PageID is the persistent integer identity of a page on disk.
type PageID int32

const (
	// InvalidPageID marks an unset page reference.
	InvalidPageID PageID = -1
	// HeaderPageID is the well-known directory page mapping index names to
	// their root page ids.
	HeaderPageID PageID = 0
)

// IsValid reports whether the PageID refers to an actual page.
func (p PageID) IsValid() bool {
	return p != InvalidPageID
}

func (p PageID) String() string {
	return fmt.Sprintf("page(%d)", int32(p))
}

// FrameID indexes a slot in the buffer pool's page array. It is a residency
// cell, not a persistent identity.
type FrameID int32

// RID identifies a specific tuple (row) via its page and slot index.
type RID struct {
	PageID PageID
	Slot   int32
}

// RIDSize is the serialized size of a RID (PageID (4) + slot (4) = 8).
const RIDSize = 8

func (r RID) String() string {
	return fmt.Sprintf("rid(%d, %d)", int32(r.PageID), r.Slot)
}

// WriteTo serializes the RID into the provided buffer. The buffer must be
// large enough to hold a RID.
func (r RID) WriteTo(data []byte) {
	if len(data) < RIDSize {
		panic("buffer too small")
	}
	binary.LittleEndian.PutUint32(data, uint32(r.PageID))
	binary.LittleEndian.PutUint32(data[4:], uint32(r.Slot))
}

// LoadFrom deserializes a RID from the provided buffer. The buffer must be
// large enough to hold a RID.
func (r *RID) LoadFrom(data []byte) {
	if len(data) < RIDSize {
		panic("buffer too small")
	}
	r.PageID = PageID(binary.LittleEndian.Uint32(data))
	r.Slot = int32(binary.LittleEndian.Uint32(data[4:]))
}

// TransactionID orders transactions by age: a smaller id is an older
// transaction. Ids are assigned monotonically by the transaction manager.
type TransactionID uint64

const InvalidTransactionID TransactionID = 0

// LSN is a log sequence number in the write-ahead log.
type LSN int64

const InvalidLSN LSN = -1
