package paging

import (
	"fmt"
	"sync/atomic"
)

type RelationID uint32

type PageID uint64

type SlotID uint32

// TupleID locates a tuple: the page it was allocated in and its slot in that page. It does not
// change when compaction moves the tuple's bytes within the page. Gen is unique to each
// allocation, so the id of a freed tuple never resolves to a later tuple in the same slot.
type TupleID struct {
	Page PageID
	Slot SlotID
	Gen  uint64
}

func (id TupleID) String() string {
	return fmt.Sprintf("%d:%d.%d", id.Page, id.Slot, id.Gen)
}

// TuplePtr is the stable indirection between holders of a tuple and its bytes. A TuplePtr is
// never moved or copied; only the bytes it points to move. It is referenced from its page's
// slot table for as long as the slot is live.
type TuplePtr struct {
	id       TupleID
	box      *TupleBox
	pg       *page
	size     uint32
	refcount int32
}

func (tp *TuplePtr) ID() TupleID {
	return tp.id
}

// Size is the number of bytes requested when the slot was allocated.
func (tp *TuplePtr) Size() int {
	return int(tp.size)
}

func (tp *TuplePtr) Refcount() int32 {
	return atomic.LoadInt32(&tp.refcount)
}

func (tp *TuplePtr) Upcount() {
	if atomic.AddInt32(&tp.refcount, 1) <= 1 {
		panic(fmt.Sprintf("paging: upcount of released tuple %s", tp.id))
	}
}

// Dncount drops one reference; the last reference frees the slot.
func (tp *TuplePtr) Dncount() {
	n := atomic.AddInt32(&tp.refcount, -1)
	if n == 0 {
		tp.box.free(tp)
	} else if n < 0 {
		panic(fmt.Sprintf("paging: dncount of released tuple %s", tp.id))
	}
}

// View calls fn with the slot's bytes; the bytes must not be retained or modified after fn
// returns. The slot will not be relocated while fn runs.
func (tp *TuplePtr) View(fn func(buf []byte)) {
	tp.pg.mutex.RLock()
	defer tp.pg.mutex.RUnlock()

	fn(tp.bytesLocked())
}

// Update calls fn with exclusive access to the slot's bytes.
func (tp *TuplePtr) Update(fn func(buf []byte)) {
	tp.pg.mutex.Lock()
	defer tp.pg.mutex.Unlock()

	fn(tp.bytesLocked())
}

// Buffer returns a copy of the slot's bytes.
func (tp *TuplePtr) Buffer() []byte {
	var buf []byte
	tp.View(
		func(b []byte) {
			buf = append(make([]byte, 0, len(b)), b...)
		})
	return buf
}

func (tp *TuplePtr) bytesLocked() []byte {
	if tp.pg.buf == nil || atomic.LoadInt32(&tp.refcount) <= 0 {
		panic(fmt.Sprintf("paging: tuple %s used after release", tp.id))
	}
	off, _ := tp.pg.buf.SlotAt(tp.id.Slot)
	return tp.pg.buf[off : off+tp.size : off+tp.size]
}
