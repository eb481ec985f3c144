package tuples

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	farm "github.com/dgryski/go-farm"

	"github.com/leftmike/relbox/paging"
)

// TupleRef is one owning reference to a tuple. Copies must be made with Clone, and every
// TupleRef must eventually be Released; releasing the last reference frees the tuple's slot.
type TupleRef struct {
	tp *paging.TuplePtr
}

// Allocate writes a new tuple into a fresh slot of tb. The returned reference is the only one.
func Allocate(rid paging.RelationID, tb *paging.TupleBox, ts uint64, domain,
	codomain []byte) (TupleRef, error) {

	tp, err := tb.Allocate(EncodedSize(domain, codomain), rid, nil)
	if err != nil {
		return TupleRef{}, err
	}
	err = tb.UpdateWith(tp.ID(),
		func(buf []byte) error {
			Encode(buf, ts, domain, codomain)
			return nil
		})
	if err != nil {
		tp.Dncount()
		return TupleRef{}, err
	}

	if rc := tp.Refcount(); rc != 1 {
		panic(fmt.Sprintf("tuples: new tuple %s has refcount %d", tp.ID(), rc))
	}
	return TupleRef{tp: tp}, nil
}

// AtPtr wraps a TuplePtr which the caller has already upcounted.
func AtPtr(tp *paging.TuplePtr) TupleRef {
	return TupleRef{tp: tp}
}

func (tr TupleRef) ptr() *paging.TuplePtr {
	if tr.tp == nil {
		panic("tuples: use of released or empty tuple reference")
	}
	return tr.tp
}

func (tr TupleRef) IsNil() bool {
	return tr.tp == nil
}

func (tr TupleRef) ID() paging.TupleID {
	return tr.ptr().ID()
}

func (tr TupleRef) Refcount() int32 {
	return tr.ptr().Refcount()
}

func (tr TupleRef) Clone() TupleRef {
	tp := tr.ptr()
	tp.Upcount()
	return TupleRef{tp: tp}
}

func (tr *TupleRef) Release() {
	tp := tr.ptr()
	tr.tp = nil
	tp.Dncount()
}

func (tr TupleRef) TS() uint64 {
	var ts uint64
	tr.ptr().View(
		func(buf []byte) {
			ts = Header(buf).TS()
		})
	return ts
}

// UpdateTimestamp changes the timestamp in place; the caller must be the only writer.
func (tr TupleRef) UpdateTimestamp(ts uint64) {
	tr.ptr().Update(
		func(buf []byte) {
			Header(buf).SetTS(ts)
		})
}

// UpdateCodomain rewrites the codomain in place; the new codomain must be the same length.
func (tr TupleRef) UpdateCodomain(codomain []byte) error {
	var err error
	tr.ptr().Update(
		func(buf []byte) {
			cod := Header(buf).Codomain()
			if len(cod) != len(codomain) {
				err = fmt.Errorf("tuples: codomain length %d does not match %d", len(codomain),
					len(cod))
				return
			}
			copy(cod, codomain)
		})
	return err
}

func (tr TupleRef) Domain() []byte {
	var domain []byte
	tr.ptr().View(
		func(buf []byte) {
			d := Header(buf).Domain()
			domain = append(make([]byte, 0, len(d)), d...)
		})
	return domain
}

func (tr TupleRef) Codomain() []byte {
	var codomain []byte
	tr.ptr().View(
		func(buf []byte) {
			c := Header(buf).Codomain()
			codomain = append(make([]byte, 0, len(c)), c...)
		})
	return codomain
}

// SlotBuffer returns a copy of the whole tuple, header included.
func (tr TupleRef) SlotBuffer() []byte {
	return tr.ptr().Buffer()
}

func (tr TupleRef) Equal(other TupleRef) bool {
	return tr.Compare(other) == 0
}

// Compare orders tuples by domain and then by codomain.
func (tr TupleRef) Compare(other TupleRef) int {
	d1, c1 := tr.content()
	d2, c2 := other.content()
	if cmp := bytes.Compare(d1, d2); cmp != 0 {
		return cmp
	}
	return bytes.Compare(c1, c2)
}

func (tr TupleRef) Hash() uint64 {
	d, c := tr.content()
	buf := make([]byte, 0, 4+len(d)+len(c))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d)))
	buf = append(buf, d...)
	return farm.Hash64(append(buf, c...))
}

func (tr TupleRef) content() ([]byte, []byte) {
	var domain, codomain []byte
	tr.ptr().View(
		func(buf []byte) {
			th := Header(buf)
			domain = append(make([]byte, 0, th.DomainSize()), th.Domain()...)
			codomain = append(make([]byte, 0, th.CodomainSize()), th.Codomain()...)
		})
	return domain, codomain
}

func (tr TupleRef) String() string {
	if tr.tp == nil {
		return "TupleRef(nil)"
	}
	d, c := tr.content()
	return fmt.Sprintf("TupleRef(%s: %s => %s)", tr.tp.ID(), hex.EncodeToString(d),
		hex.EncodeToString(c))
}
