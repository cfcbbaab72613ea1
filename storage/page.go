package storage

import (
	"sync"

	"github.com/shaledb/shale/common"
)

// Page is a frame-resident copy of an on-disk page. It holds the raw bytes
// plus the residency metadata the buffer pool tracks for the frame: identity,
// pin count and dirty flag.
//
// The metadata is owned by the buffer pool and mutated only under the pool's
// mutex. The content of Data is protected by RWLatch, which callers acquire
// themselves and may hold across buffer pool calls.
type Page struct {
	data [common.PageSize]byte

	// RWLatch protects the page content from concurrent access.
	RWLatch sync.RWMutex

	id       common.PageID
	pinCount int
	dirty    bool
}

// Data returns the raw page content. Mutations must happen under RWLatch and
// be reported through UnpinPage(..., true) so the frame is flushed before
// eviction.
func (p *Page) Data() []byte {
	return p.data[:]
}

// ID returns the page id currently bound to this frame, or InvalidPageID for
// a free frame.
func (p *Page) ID() common.PageID {
	return p.id
}

// PinCount returns the number of outstanding pins.
func (p *Page) PinCount() int {
	return p.pinCount
}

// IsDirty reports whether the page has been modified since it was loaded.
func (p *Page) IsDirty() bool {
	return p.dirty
}

// reset unbinds the frame and zeroes its content.
func (p *Page) reset() {
	p.data = [common.PageSize]byte{}
	p.id = common.InvalidPageID
	p.pinCount = 0
	p.dirty = false
}
