package paging

import (
	"encoding/binary"
)

const (
	DataPageType = 1

	pageHeaderSize = 24
	slotEntrySize  = 8
	slotAlignment  = 8
)

// slottedPage is the layout of every page owned by a TupleBox. The slot array grows forward
// from the header; tuple data grows backward from the end of the page. Layout only; pages are
// accessed through the SlottedPage view.
type slottedPage struct {
	pageType   byte        // 0
	flags      byte        // 1
	_          uint16      // 2
	relation   uint32      // 4
	slotCount  uint32      // 8
	freeSlots  uint32      // 12
	dataStart  uint32      // 16
	freedBytes uint32      // 20
	slots      []slotEntry // 24
}

// A slot entry with a length of 0 is free. Layout only, like slottedPage.
type slotEntry struct {
	offset uint32 // 0
	length uint32 // 4
} // 8

type SlottedPage []byte

func initSlottedPage(buf []byte, rid RelationID) SlottedPage {
	sp := SlottedPage(buf)
	sp.SetPageType(DataPageType)
	sp.SetRelation(rid)
	sp.SetSlotCount(0)
	sp.SetFreeSlots(0)
	sp.SetDataStart(uint32(len(buf)))
	sp.SetFreedBytes(0)
	return sp
}

func (sp SlottedPage) PageType() byte {
	return sp[0]
}

func (sp SlottedPage) SetPageType(u8 byte) {
	sp[0] = u8
}

func (sp SlottedPage) Relation() RelationID {
	return RelationID(binary.LittleEndian.Uint32(sp[4:]))
}

func (sp SlottedPage) SetRelation(rid RelationID) {
	binary.LittleEndian.PutUint32(sp[4:], uint32(rid))
}

func (sp SlottedPage) SlotCount() uint32 {
	return binary.LittleEndian.Uint32(sp[8:])
}

func (sp SlottedPage) SetSlotCount(u32 uint32) {
	binary.LittleEndian.PutUint32(sp[8:], u32)
}

func (sp SlottedPage) FreeSlots() uint32 {
	return binary.LittleEndian.Uint32(sp[12:])
}

func (sp SlottedPage) SetFreeSlots(u32 uint32) {
	binary.LittleEndian.PutUint32(sp[12:], u32)
}

func (sp SlottedPage) DataStart() uint32 {
	return binary.LittleEndian.Uint32(sp[16:])
}

func (sp SlottedPage) SetDataStart(u32 uint32) {
	binary.LittleEndian.PutUint32(sp[16:], u32)
}

func (sp SlottedPage) FreedBytes() uint32 {
	return binary.LittleEndian.Uint32(sp[20:])
}

func (sp SlottedPage) SetFreedBytes(u32 uint32) {
	binary.LittleEndian.PutUint32(sp[20:], u32)
}

func (sp SlottedPage) SlotOffset(idx SlotID) int {
	return pageHeaderSize + int(idx)*slotEntrySize
}

func (sp SlottedPage) SlotAt(idx SlotID) (uint32, uint32) {
	off := sp.SlotOffset(idx)
	return binary.LittleEndian.Uint32(sp[off:]), binary.LittleEndian.Uint32(sp[off+4:])
}

func (sp SlottedPage) SetSlotAt(idx SlotID, offset, length uint32) {
	off := sp.SlotOffset(idx)
	binary.LittleEndian.PutUint32(sp[off:], offset)
	binary.LittleEndian.PutUint32(sp[off+4:], length)
}

func (sp SlottedPage) LiveSlots() uint32 {
	return sp.SlotCount() - sp.FreeSlots()
}

// ContiguousFree is the space between the end of the slot array and the start of the data.
func (sp SlottedPage) ContiguousFree() int {
	return int(sp.DataStart()) - (pageHeaderSize + int(sp.SlotCount())*slotEntrySize)
}

func alignSize(size int) int {
	if size < slotAlignment {
		return slotAlignment
	}
	return (size + slotAlignment - 1) &^ (slotAlignment - 1)
}

// minPageSize returns the smallest page which can hold a single slot of size bytes.
func minPageSize(size int) int {
	return pageHeaderSize + slotEntrySize + alignSize(size)
}
