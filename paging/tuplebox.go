package paging

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

const (
	DefaultPageSize = 64 * 1024
)

var (
	ErrOutOfSpace = errors.New("paging: out of space")
	ErrNotFound   = errors.New("paging: slot not found")
)

type Options struct {
	// PageSize is the size of a new page; tuples too big for a page get a page of their own.
	PageSize int
	// MaxBytes limits the total size of all pages; zero means no limit.
	MaxBytes int64
}

type Stats struct {
	Pages          int
	Tuples         int
	AllocatedBytes int64
	UsedBytes      int64
	FreedBytes     int64
	Compactions    uint64
}

// TupleBox owns the pages holding tuple bytes. Allocation, compaction, and freeing are
// serialized by the box mutex and by the page mutex of the page being changed; reads through
// a TuplePtr only hold the page mutex for reading.
type TupleBox struct {
	mutex       sync.Mutex
	pageSize    int
	maxBytes    int64
	allocated   int64
	lastPID     PageID
	lastGen     uint64
	pages       map[PageID]*page
	relPages    map[RelationID][]*page
	tuples      int
	compactions uint64
}

type page struct {
	mutex sync.RWMutex
	id    PageID
	rid   RelationID
	buf   SlottedPage
	ptrs  []*TuplePtr
}

func NewTupleBox(opts Options) *TupleBox {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < minPageSize(0) {
		pageSize = minPageSize(0)
	}

	return &TupleBox{
		pageSize: pageSize,
		maxBytes: opts.MaxBytes,
		pages:    map[PageID]*page{},
		relPages: map[RelationID][]*page{},
	}
}

func (tb *TupleBox) PageSize() int {
	return tb.pageSize
}

// Allocate reserves size bytes for a tuple of relation rid. The returned TuplePtr has a
// refcount of one. If hint names a page of the same relation, it is tried first.
func (tb *TupleBox) Allocate(size int, rid RelationID, hint *PageID) (*TuplePtr, error) {
	if size < 0 || int64(size) > math.MaxUint32-int64(minPageSize(0)) {
		return nil, fmt.Errorf("%w: tuple of %d bytes", ErrOutOfSpace, size)
	}
	sz := alignSize(size)

	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	if hint != nil {
		if pg, ok := tb.pages[*hint]; ok && pg.rid == rid {
			if tp := tb.allocateIn(pg, sz, size); tp != nil {
				return tp, nil
			}
		}
	}

	pgs := tb.relPages[rid]
	for pdx := len(pgs) - 1; pdx >= 0; pdx-- {
		if tp := tb.allocateIn(pgs[pdx], sz, size); tp != nil {
			return tp, nil
		}
	}

	pg, err := tb.newPage(rid, sz)
	if err != nil {
		return nil, err
	}
	tp := tb.allocateIn(pg, sz, size)
	if tp == nil {
		panic(fmt.Sprintf("paging: new page %d too small for %d bytes", pg.id, sz))
	}
	return tp, nil
}

func (tb *TupleBox) allocateIn(pg *page, sz, size int) *TuplePtr {
	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	idx, compacted, ok := pg.allocSlot(sz)
	if compacted {
		tb.compactions += 1
	}
	if !ok {
		return nil
	}

	tb.lastGen += 1
	tp := &TuplePtr{
		id:       TupleID{Page: pg.id, Slot: idx, Gen: tb.lastGen},
		box:      tb,
		pg:       pg,
		size:     uint32(size),
		refcount: 1,
	}
	pg.ptrs[idx] = tp
	tb.tuples += 1
	return tp
}

func (tb *TupleBox) newPage(rid RelationID, sz int) (*page, error) {
	psz := tb.pageSize
	if minPageSize(sz) > psz {
		psz = minPageSize(sz)
	}
	if tb.maxBytes > 0 && tb.allocated+int64(psz) > tb.maxBytes {
		return nil, fmt.Errorf("%w: %d of %d bytes allocated; need %d more", ErrOutOfSpace,
			tb.allocated, tb.maxBytes, psz)
	}

	tb.lastPID += 1
	pg := &page{
		id:  tb.lastPID,
		rid: rid,
		buf: initSlottedPage(make([]byte, psz), rid),
	}
	tb.pages[pg.id] = pg
	tb.relPages[rid] = append(tb.relPages[rid], pg)
	tb.allocated += int64(psz)
	return pg, nil
}

func (tb *TupleBox) free(tp *TuplePtr) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	pg := tp.pg
	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	if int(tp.id.Slot) >= len(pg.ptrs) || pg.ptrs[tp.id.Slot] != tp {
		panic(fmt.Sprintf("paging: free of unknown tuple %s", tp.id))
	}
	pg.freeSlot(tp.id.Slot)
	tb.tuples -= 1

	if pg.buf.LiveSlots() == 0 {
		pgs := tb.relPages[pg.rid]
		// Keep the most recent page of each relation around for the next allocation.
		if len(pgs) > 0 && pgs[len(pgs)-1] != pg {
			tb.dropPage(pg)
		}
	}
}

func (tb *TupleBox) dropPage(pg *page) {
	pgs := tb.relPages[pg.rid]
	for pdx := range pgs {
		if pgs[pdx] == pg {
			tb.relPages[pg.rid] = append(pgs[:pdx:pdx], pgs[pdx+1:]...)
			break
		}
	}
	delete(tb.pages, pg.id)
	tb.allocated -= int64(len(pg.buf))
	pg.buf = nil
	pg.ptrs = nil
}

// UpdateWith calls fn with exclusive access to the bytes of the slot id; the slot will not be
// relocated while fn runs. An id whose tuple has been freed returns ErrNotFound, even if the
// slot has since been reused.
func (tb *TupleBox) UpdateWith(id TupleID, fn func(buf []byte) error) error {
	tb.mutex.Lock()
	pg, ok := tb.pages[id.Page]
	tb.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	if pg.buf == nil || int(id.Slot) >= len(pg.ptrs) || pg.ptrs[id.Slot] == nil ||
		pg.ptrs[id.Slot].id != id {

		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fn(pg.ptrs[id.Slot].bytesLocked())
}

// Compact relocates the live slots of every page of rid to remove fragmentation.
func (tb *TupleBox) Compact(rid RelationID) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	for _, pg := range tb.relPages[rid] {
		pg.mutex.Lock()
		if pg.buf.FreedBytes() > 0 {
			pg.compact()
			tb.compactions += 1
		}
		pg.mutex.Unlock()
	}
}

func (tb *TupleBox) NumTuples(rid RelationID) int {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	var cnt int
	for _, pg := range tb.relPages[rid] {
		pg.mutex.RLock()
		cnt += int(pg.buf.LiveSlots())
		pg.mutex.RUnlock()
	}
	return cnt
}

func (tb *TupleBox) Stats() Stats {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	st := Stats{
		Pages:          len(tb.pages),
		Tuples:         tb.tuples,
		AllocatedBytes: tb.allocated,
		Compactions:    tb.compactions,
	}
	for _, pg := range tb.pages {
		pg.mutex.RLock()
		st.UsedBytes += int64(len(pg.buf)-int(pg.buf.DataStart())) -
			int64(pg.buf.FreedBytes())
		st.FreedBytes += int64(pg.buf.FreedBytes())
		pg.mutex.RUnlock()
	}
	return st
}

// allocSlot must be called with the page locked for writing.
func (pg *page) allocSlot(sz int) (SlotID, bool, bool) {
	need := sz
	if pg.buf.FreeSlots() == 0 {
		need += slotEntrySize
	}

	var compacted bool
	if pg.buf.ContiguousFree() < need {
		if pg.buf.ContiguousFree()+int(pg.buf.FreedBytes()) < need {
			return 0, false, false
		}
		pg.compact()
		compacted = true
		if pg.buf.ContiguousFree() < need {
			return 0, compacted, false
		}
	}

	var idx SlotID
	if pg.buf.FreeSlots() > 0 {
		cnt := SlotID(pg.buf.SlotCount())
		for idx = 0; idx < cnt; idx++ {
			if _, length := pg.buf.SlotAt(idx); length == 0 {
				break
			}
		}
		if idx == cnt {
			panic(fmt.Sprintf("paging: page %d: free slot count %d but no free slot", pg.id,
				pg.buf.FreeSlots()))
		}
		pg.buf.SetFreeSlots(pg.buf.FreeSlots() - 1)
	} else {
		idx = SlotID(pg.buf.SlotCount())
		pg.buf.SetSlotCount(uint32(idx) + 1)
		pg.ptrs = append(pg.ptrs, nil)
	}

	ds := pg.buf.DataStart() - uint32(sz)
	pg.buf.SetDataStart(ds)
	pg.buf.SetSlotAt(idx, ds, uint32(sz))
	return idx, compacted, true
}

// freeSlot must be called with the page locked for writing.
func (pg *page) freeSlot(idx SlotID) {
	off, length := pg.buf.SlotAt(idx)
	pg.buf.SetSlotAt(idx, 0, 0)
	pg.ptrs[idx] = nil
	pg.buf.SetFreeSlots(pg.buf.FreeSlots() + 1)

	if off == pg.buf.DataStart() {
		pg.buf.SetDataStart(off + length)
	} else {
		pg.buf.SetFreedBytes(pg.buf.FreedBytes() + length)
	}

	cnt := pg.buf.SlotCount()
	for cnt > 0 {
		if _, length := pg.buf.SlotAt(SlotID(cnt - 1)); length != 0 {
			break
		}
		cnt -= 1
		pg.buf.SetFreeSlots(pg.buf.FreeSlots() - 1)
	}
	pg.buf.SetSlotCount(cnt)
	pg.ptrs = pg.ptrs[:cnt]

	if cnt == 0 {
		pg.buf.SetDataStart(uint32(len(pg.buf)))
		pg.buf.SetFreedBytes(0)
	}
}

// compact moves the live slots to the end of the page so that all free space is contiguous.
// It must be called with the page locked for writing; slot numbers do not change.
func (pg *page) compact() {
	type liveSlot struct {
		idx    SlotID
		offset uint32
		length uint32
	}

	var live []liveSlot
	cnt := SlotID(pg.buf.SlotCount())
	for idx := SlotID(0); idx < cnt; idx++ {
		if off, length := pg.buf.SlotAt(idx); length > 0 {
			live = append(live, liveSlot{idx, off, length})
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].offset > live[j].offset })

	end := uint32(len(pg.buf))
	for _, ls := range live {
		end -= ls.length
		if end != ls.offset {
			copy(pg.buf[end:end+ls.length], pg.buf[ls.offset:ls.offset+ls.length])
			pg.buf.SetSlotAt(ls.idx, end, ls.length)
		}
	}
	pg.buf.SetDataStart(end)
	pg.buf.SetFreedBytes(0)
}
