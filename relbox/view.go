package relbox

import (
	"bytes"
	"fmt"

	"github.com/google/btree"

	"github.com/leftmike/relbox/tuples"
)

// TxRelation is a transaction's view of a relation: the relation as of the start of the
// transaction with the transaction's own changes applied. TupleRefs returned by a
// TxRelation belong to the transaction and are released when it completes; Clone them to
// keep them longer.
type TxRelation struct {
	tx  *Transaction
	rid RelationID
}

func (txr *TxRelation) ID() RelationID {
	return txr.rid
}

func (txr *TxRelation) lookup(ws *workingSet, domain []byte) (tuples.TupleRef, bool) {
	if item := ws.delta.Get(pending{domain: domain}); item != nil {
		p := item.(pending)
		return p.tr, !p.tr.IsNil()
	}

	if item := txr.tx.snap.trees[txr.rid].Get(tupleItem{domain: domain}); item != nil {
		return item.(tupleItem).tr, true
	}
	return tuples.TupleRef{}, false
}

func (txr *TxRelation) read(domain []byte) (*workingSet, tuples.TupleRef, bool) {
	txr.tx.checkActive("read")

	ws := txr.tx.workingSet(txr.rid)
	ws.reads[string(domain)] = struct{}{}
	tr, ok := txr.lookup(ws, domain)
	return ws, tr, ok
}

func (txr *TxRelation) SeekUniqueByDomain(domain []byte) (tuples.TupleRef, error) {
	_, tr, ok := txr.read(domain)
	if !ok {
		return tuples.TupleRef{}, notFound(txr.rid, domain)
	}
	return txr.tx.hold(tr), nil
}

// set replaces any pending change to domain with tr.
func (txr *TxRelation) set(ws *workingSet, domain []byte, tr tuples.TupleRef) {
	item := ws.delta.ReplaceOrInsert(pending{
		domain: append(make([]byte, 0, len(domain)), domain...),
		tr:     tr,
	})
	if item != nil {
		p := item.(pending)
		if !p.tr.IsNil() {
			p.tr.Release()
		}
	}
}

func (txr *TxRelation) write(ws *workingSet, domain, codomain []byte) (tuples.TupleRef, error) {
	tx := txr.tx
	tr, err := tuples.Allocate(txr.rid, tx.rb.box, tx.startTS, domain, codomain)
	if err != nil {
		return tuples.TupleRef{}, fmt.Errorf("relbox: relation %d: %w", txr.rid, err)
	}
	txr.set(ws, domain, tr)
	return tx.hold(tr), nil
}

// InsertTuple adds a new tuple; a *DuplicateKeyError is returned if a tuple with the same
// domain is visible to the transaction.
func (txr *TxRelation) InsertTuple(domain, codomain []byte) (tuples.TupleRef, error) {
	ws, _, ok := txr.read(domain)
	if ok {
		return tuples.TupleRef{}, &DuplicateKeyError{
			Relation: txr.rid,
			Domain:   append(make([]byte, 0, len(domain)), domain...),
		}
	}
	return txr.write(ws, domain, codomain)
}

func (txr *TxRelation) UpdateTuple(domain, codomain []byte) (tuples.TupleRef, error) {
	ws, _, ok := txr.read(domain)
	if !ok {
		return tuples.TupleRef{}, notFound(txr.rid, domain)
	}
	return txr.write(ws, domain, codomain)
}

func (txr *TxRelation) UpsertTuple(domain, codomain []byte) (tuples.TupleRef, error) {
	txr.tx.checkActive("upsert")

	return txr.write(txr.tx.workingSet(txr.rid), domain, codomain)
}

func (txr *TxRelation) RemoveByDomain(domain []byte) error {
	ws, _, ok := txr.read(domain)
	if !ok {
		return notFound(txr.rid, domain)
	}

	if txr.tx.snap.trees[txr.rid].Has(tupleItem{domain: domain}) {
		txr.set(ws, domain, tuples.TupleRef{})
	} else if item := ws.delta.Delete(pending{domain: domain}); item != nil {
		p := item.(pending)
		p.tr.Release()
	}
	return nil
}

// PredicateScan returns, in domain order, every tuple visible to the transaction for which
// pred returns true. The TupleRef passed to pred is only valid during the call.
func (txr *TxRelation) PredicateScan(pred func(tr tuples.TupleRef) bool) ([]tuples.TupleRef,
	error) {

	txr.tx.checkActive("scan")

	ws := txr.tx.workingSet(txr.rid)
	ws.scanned = true

	var deltas []pending
	ws.delta.Ascend(
		func(item btree.Item) bool {
			deltas = append(deltas, item.(pending))
			return true
		})

	var trs []tuples.TupleRef
	visit := func(tr tuples.TupleRef) {
		if pred == nil || pred(tr) {
			trs = append(trs, txr.tx.hold(tr))
		}
	}

	txr.tx.snap.trees[txr.rid].Ascend(
		func(item btree.Item) bool {
			ti := item.(tupleItem)
			for len(deltas) > 0 {
				cmp := bytes.Compare(deltas[0].domain, ti.domain)
				if cmp > 0 {
					break
				}
				if !deltas[0].tr.IsNil() {
					visit(deltas[0].tr)
				}
				deltas = deltas[1:]
				if cmp == 0 {
					return true
				}
			}
			visit(ti.tr)
			return true
		})

	for _, p := range deltas {
		if !p.tr.IsNil() {
			visit(p.tr)
		}
	}
	return trs, nil
}

func (txr *TxRelation) SeekByCodomain(codomain []byte) ([]tuples.TupleRef, error) {
	return txr.PredicateScan(
		func(tr tuples.TupleRef) bool {
			return bytes.Equal(tr.Codomain(), codomain)
		})
}
