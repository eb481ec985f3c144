package tuples_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/leftmike/relbox/paging"
	"github.com/leftmike/relbox/tuples"
)

func TestRoundTrip(t *testing.T) {
	tb := paging.NewTupleBox(paging.Options{PageSize: 4096})

	big := make([]byte, 3*4096)
	for bdx := range big {
		big[bdx] = byte(bdx % 251)
	}

	cases := []struct {
		ts       uint64
		domain   []byte
		codomain []byte
	}{
		{ts: 0, domain: []byte{}, codomain: []byte{}},
		{ts: 1, domain: []byte{1}, codomain: []byte{}},
		{ts: 2, domain: []byte{}, codomain: []byte{2}},
		{ts: 3, domain: []byte("abc"), codomain: []byte("defghi")},
		{ts: 4, domain: big[:1000], codomain: big[1000:]},
		{ts: 1<<64 - 1, domain: big, codomain: big},
	}

	for _, c := range cases {
		tr, err := tuples.Allocate(1, tb, c.ts, c.domain, c.codomain)
		if err != nil {
			t.Fatalf("Allocate(%d, %d) failed with %s", len(c.domain), len(c.codomain), err)
		}
		if tr.Refcount() != 1 {
			t.Errorf("Allocate().Refcount() got %d want 1", tr.Refcount())
		}
		if tr.TS() != c.ts {
			t.Errorf("TS() got %d want %d", tr.TS(), c.ts)
		}
		if !bytes.Equal(tr.Domain(), c.domain) {
			t.Errorf("Domain() got %d bytes want %d bytes", len(tr.Domain()), len(c.domain))
		}
		if !bytes.Equal(tr.Codomain(), c.codomain) {
			t.Errorf("Codomain() got %d bytes want %d bytes", len(tr.Codomain()),
				len(c.codomain))
		}

		buf := tr.SlotBuffer()
		if len(buf) != tuples.EncodedSize(c.domain, c.codomain) {
			t.Errorf("SlotBuffer() got %d bytes want %d", len(buf),
				tuples.EncodedSize(c.domain, c.codomain))
		}
		th := tuples.Header(buf)
		if th.TS() != c.ts || int(th.DomainSize()) != len(c.domain) ||
			int(th.CodomainSize()) != len(c.codomain) {

			t.Errorf("Header() got {%d %d %d} want {%d %d %d}", th.TS(), th.DomainSize(),
				th.CodomainSize(), c.ts, len(c.domain), len(c.codomain))
		}

		tr.UpdateTimestamp(c.ts + 10)
		if tr.TS() != c.ts+10 {
			t.Errorf("UpdateTimestamp(%d) got %d", c.ts+10, tr.TS())
		}
		tr.Release()
		if !tr.IsNil() {
			t.Errorf("Release() did not clear the reference")
		}
	}

	if st := tb.Stats(); st.Tuples != 0 {
		t.Errorf("Stats().Tuples got %d want 0", st.Tuples)
	}
}

func TestLayout(t *testing.T) {
	buf := make([]byte, tuples.EncodedSize([]byte{0xAA}, []byte{0xBB, 0xCC}))
	tuples.Encode(buf, 0x0102030405060708, []byte{0xAA}, []byte{0xBB, 0xCC})

	want := []byte{
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0xAA, 0xBB, 0xCC,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("Encode() got %v want %v", buf, want)
	}
}

func TestRefcount(t *testing.T) {
	tb := paging.NewTupleBox(paging.Options{})

	tr, err := tuples.Allocate(1, tb, 1, []byte("key"), []byte("value"))
	if err != nil {
		t.Fatal(err)
	}

	var clones []tuples.TupleRef
	for i := 0; i < 10; i++ {
		clones = append(clones, tr.Clone())
	}
	if tr.Refcount() != 11 {
		t.Errorf("Refcount() got %d want 11", tr.Refcount())
	}
	tr.Release()

	for i := range clones {
		if tb.Stats().Tuples != 1 {
			t.Errorf("Stats().Tuples got %d want 1", tb.Stats().Tuples)
		}
		if string(clones[i].Codomain()) != "value" {
			t.Errorf("Codomain() got %s want value", clones[i].Codomain())
		}
		clones[i].Release()
	}
	if tb.Stats().Tuples != 0 {
		t.Errorf("Stats().Tuples got %d want 0", tb.Stats().Tuples)
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("Domain() of released reference did not panic")
			}
		}()
		tr.Domain()
	}()
}

func TestCompareHash(t *testing.T) {
	tb := paging.NewTupleBox(paging.Options{})

	alloc := func(domain, codomain string) tuples.TupleRef {
		tr, err := tuples.Allocate(1, tb, 1, []byte(domain), []byte(codomain))
		if err != nil {
			t.Fatal(err)
		}
		return tr
	}

	cases := []struct {
		d1, c1 string
		d2, c2 string
		cmp    int
	}{
		{"a", "x", "a", "x", 0},
		{"a", "x", "b", "x", -1},
		{"b", "a", "a", "z", 1},
		{"a", "x", "a", "y", -1},
		{"", "", "", "", 0},
		{"", "a", "a", "", -1},
		{"ab", "c", "a", "bc", 1},
	}

	for _, c := range cases {
		tr1 := alloc(c.d1, c.c1)
		tr2 := alloc(c.d2, c.c2)

		if cmp := tr1.Compare(tr2); cmp != c.cmp {
			t.Errorf("Compare(%s, %s) got %d want %d", tr1, tr2, cmp, c.cmp)
		}
		if cmp := tr2.Compare(tr1); cmp != -c.cmp {
			t.Errorf("Compare(%s, %s) got %d want %d", tr2, tr1, cmp, -c.cmp)
		}
		if tr1.Equal(tr2) != (c.cmp == 0) {
			t.Errorf("Equal(%s, %s) got %v want %v", tr1, tr2, tr1.Equal(tr2), c.cmp == 0)
		}
		if c.cmp == 0 && tr1.Hash() != tr2.Hash() {
			t.Errorf("Hash(%s) != Hash(%s)", tr1, tr2)
		}
		if tr1.ID() == tr2.ID() {
			t.Errorf("ID(%s) == ID(%s)", tr1, tr2)
		}

		tr1.Release()
		tr2.Release()
	}

	// Same concatenated bytes, different split between domain and codomain.
	tr1 := alloc("ab", "c")
	tr2 := alloc("a", "bc")
	if tr1.Hash() == tr2.Hash() {
		t.Errorf("Hash(%s) == Hash(%s)", tr1, tr2)
	}
	tr1.Release()
	tr2.Release()
}

func TestUpdateCodomain(t *testing.T) {
	tb := paging.NewTupleBox(paging.Options{})

	tr, err := tuples.Allocate(1, tb, 1, []byte("key"), []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Release()

	err = tr.UpdateCodomain([]byte("xyz"))
	if err != nil {
		t.Errorf("UpdateCodomain(xyz) failed with %s", err)
	}
	if string(tr.Codomain()) != "xyz" {
		t.Errorf("Codomain() got %s want xyz", tr.Codomain())
	}
	if string(tr.Domain()) != "key" {
		t.Errorf("Domain() got %s want key", tr.Domain())
	}

	err = tr.UpdateCodomain([]byte("toolong"))
	if err == nil {
		t.Errorf("UpdateCodomain(toolong) did not fail")
	}

	want := fmt.Sprintf("TupleRef(%s: 6b6579 => 78797a)", tr.ID())
	if tr.String() != want {
		t.Errorf("String() got %s want %s", tr.String(), want)
	}
}
