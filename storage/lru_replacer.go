package storage

import (
	"container/list"
	"sync"

	"github.com/shaledb/shale/common"
)

// LRUReplacer tracks frames whose pin count has dropped to zero and picks the
// least recently unpinned one as the eviction victim.
//
// Representation: an ordered list of evictable frame ids (front = most
// recently unpinned) plus a map from frame id to its list element. The list
// and map always contain identical sets and never exceed the capacity.
type LRUReplacer struct {
	mu       sync.Mutex
	lruList  *list.List
	lruMap   map[common.FrameID]*list.Element
	capacity int
}

// NewLRUReplacer creates a replacer able to track up to capacity frames,
// which is sized to the owning buffer pool.
func NewLRUReplacer(capacity int) *LRUReplacer {
	common.Assert(capacity > 0, "replacer capacity must be positive")
	return &LRUReplacer{
		lruList:  list.New(),
		lruMap:   make(map[common.FrameID]*list.Element, capacity),
		capacity: capacity,
	}
}

// Victim removes and returns the least recently unpinned frame. The second
// return value is false when no frame is evictable.
func (r *LRUReplacer) Victim() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	back := r.lruList.Back()
	if back == nil {
		return 0, false
	}
	frame := back.Value.(common.FrameID)
	r.lruList.Remove(back)
	delete(r.lruMap, frame)
	return frame, true
}

// Pin removes the frame from the tracked set: it is referenced again and no
// longer a victim candidate. Pinning an untracked frame is a no-op.
func (r *LRUReplacer) Pin(frame common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.lruMap[frame]; ok {
		r.lruList.Remove(elem)
		delete(r.lruMap, frame)
	}
}

// Unpin makes the frame a victim candidate. If the frame is already tracked
// its position is preserved, so repeated unpins never re-promote a frame. If
// inserting would exceed the capacity, the back of the list is evicted first.
func (r *LRUReplacer) Unpin(frame common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lruMap[frame]; ok {
		return
	}
	if len(r.lruMap) == r.capacity {
		back := r.lruList.Back()
		r.lruList.Remove(back)
		delete(r.lruMap, back.Value.(common.FrameID))
	}
	r.lruMap[frame] = r.lruList.PushFront(frame)
}

// Size returns the number of evictable frames.
func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lruMap)
}
