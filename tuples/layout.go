package tuples

import (
	"encoding/binary"
)

const (
	HeaderSize = 16
)

// tupleHeader is the fixed prefix of every tuple; it is followed by domainSize bytes of domain
// and then codomainSize bytes of codomain. Layout only; tuples are accessed through the Header
// view.
type tupleHeader struct {
	ts           uint64 // 0
	domainSize   uint32 // 8
	codomainSize uint32 // 12
} // 16

type Header []byte

func (th Header) TS() uint64 {
	return binary.LittleEndian.Uint64(th[0:])
}

func (th Header) SetTS(u64 uint64) {
	binary.LittleEndian.PutUint64(th[0:], u64)
}

func (th Header) DomainSize() uint32 {
	return binary.LittleEndian.Uint32(th[8:])
}

func (th Header) SetDomainSize(u32 uint32) {
	binary.LittleEndian.PutUint32(th[8:], u32)
}

func (th Header) CodomainSize() uint32 {
	return binary.LittleEndian.Uint32(th[12:])
}

func (th Header) SetCodomainSize(u32 uint32) {
	binary.LittleEndian.PutUint32(th[12:], u32)
}

func (th Header) Domain() []byte {
	return th[HeaderSize : HeaderSize+th.DomainSize()]
}

func (th Header) Codomain() []byte {
	start := HeaderSize + th.DomainSize()
	return th[start : start+th.CodomainSize()]
}

// Encode writes a complete tuple into buf, which must be at least EncodedSize bytes.
func Encode(buf []byte, ts uint64, domain, codomain []byte) {
	th := Header(buf)
	th.SetTS(ts)
	th.SetDomainSize(uint32(len(domain)))
	th.SetCodomainSize(uint32(len(codomain)))
	copy(buf[HeaderSize:], domain)
	copy(buf[HeaderSize+len(domain):], codomain)
}

func EncodedSize(domain, codomain []byte) int {
	return HeaderSize + len(domain) + len(codomain)
}
