package relbox

import (
	"bytes"
	"fmt"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/relbox/tuples"
)

type TxState int

const (
	Active TxState = iota
	Committed
	Aborted
)

func (ts TxState) String() string {
	switch ts {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("TxState(%d)", int(ts))
}

// Transaction is a unit of work against a RelBox. It is not safe for concurrent use by
// multiple goroutines; each goroutine uses its own transactions.
type Transaction struct {
	rb      *RelBox
	id      uint64
	startTS uint64
	snap    *snapshot
	state   TxState
	rels    []*workingSet
	held    []tuples.TupleRef
}

// workingSet is the part of a transaction touching a single relation.
type workingSet struct {
	delta   *btree.BTree
	reads   map[string]struct{}
	scanned bool
}

// pending is an uncommitted change: a new tuple for domain, or a delete if tr is nil.
type pending struct {
	domain []byte
	tr     tuples.TupleRef
}

func (p pending) Less(item btree.Item) bool {
	return bytes.Compare(p.domain, item.(pending).domain) < 0
}

func (tx *Transaction) ID() uint64 {
	return tx.id
}

func (tx *Transaction) StartTS() uint64 {
	return tx.startTS
}

func (tx *Transaction) State() TxState {
	return tx.state
}

func (tx *Transaction) checkActive(op string) {
	if tx.state != Active {
		panic(fmt.Sprintf("relbox: %s of %s transaction %d", op, tx.state, tx.id))
	}
}

// Relation returns the transaction's view of relation rid.
func (tx *Transaction) Relation(rid RelationID) *TxRelation {
	tx.checkActive("relation")

	if int(rid) >= len(tx.rels) {
		panic(fmt.Sprintf("relbox: relation %d out of range; have %d relations", rid,
			len(tx.rels)))
	}
	return &TxRelation{
		tx:  tx,
		rid: rid,
	}
}

func (tx *Transaction) workingSet(rid RelationID) *workingSet {
	ws := tx.rels[rid]
	if ws == nil {
		ws = &workingSet{
			delta: btree.New(btreeDegree),
			reads: map[string]struct{}{},
		}
		tx.rels[rid] = ws
	}
	return ws
}

// hold keeps a reference which is returned to the caller until the transaction completes.
func (tx *Transaction) hold(tr tuples.TupleRef) tuples.TupleRef {
	tr = tr.Clone()
	tx.held = append(tx.held, tr)
	return tr
}

func (tx *Transaction) hasWrites() bool {
	for _, ws := range tx.rels {
		if ws != nil && ws.delta.Len() > 0 {
			return true
		}
	}
	return false
}

// Commit validates the transaction against the transactions which committed after it
// started and, if there are no conflicts, makes its changes visible atomically. On a
// conflict, the transaction is aborted and a *ConflictError is returned.
func (tx *Transaction) Commit() error {
	tx.checkActive("commit")

	if !tx.hasWrites() {
		tx.finish(Committed)
		return nil
	}

	rb := tx.rb
	rb.commitMutex.Lock()
	defer rb.commitMutex.Unlock()

	err := tx.validate()
	if err != nil {
		log.WithFields(log.Fields{
			"tx":    tx.id,
			"error": err.Error(),
		}).Debug("relbox: commit conflict")

		rb.mutex.Lock()
		rb.conflicts += 1
		rb.mutex.Unlock()

		tx.finish(Aborted)
		return err
	}

	ts := rb.snap.ts + 1
	if rb.st != nil {
		err = tx.persist(ts)
		if err != nil {
			tx.finish(Aborted)
			return fmt.Errorf("relbox: commit of transaction %d: %w", tx.id, err)
		}
	}

	trees := append(make([]*btree.BTree, 0, len(rb.snap.trees)), rb.snap.trees...)
	var retired []tuples.TupleRef
	for rdx, ws := range tx.rels {
		if ws == nil || ws.delta.Len() == 0 {
			continue
		}

		rel := rb.rels[rdx]
		tree := trees[rdx].Clone()
		ws.delta.Ascend(
			func(item btree.Item) bool {
				p := item.(pending)
				var old btree.Item
				if p.tr.IsNil() {
					old = tree.Delete(tupleItem{domain: p.domain})
				} else {
					p.tr.UpdateTimestamp(ts)
					old = tree.ReplaceOrInsert(tupleItem{domain: p.domain, tr: p.tr})
				}
				if old != nil {
					retired = append(retired, old.(tupleItem).tr)
				}
				rel.recordWrite(p.domain, ts)
				return true
			})
		trees[rdx] = tree

		// The relation owns the pending tuples now.
		ws.delta = btree.New(btreeDegree)
	}

	rb.mutex.Lock()
	rb.snap = &snapshot{
		ts:    ts,
		trees: trees,
	}
	if len(retired) > 0 {
		rb.retired = append(rb.retired, retiredTuples{ts: ts, refs: retired})
	}
	rb.commits += 1
	minStart := rb.minStartLocked()
	rb.mutex.Unlock()

	for rdx, ws := range tx.rels {
		if ws != nil {
			rb.rels[rdx].prune(minStart)
		}
	}

	tx.finish(Committed)
	return nil
}

func (tx *Transaction) validate() error {
	rb := tx.rb
	for rdx, ws := range tx.rels {
		if ws == nil {
			continue
		}

		rel := rb.rels[rdx]
		if rb.isolation == Serializable {
			if ws.scanned && rel.lastCommit > tx.startTS {
				return &ConflictError{
					Relation:   rel.rid,
					StartTS:    tx.startTS,
					ConflictTS: rel.lastCommit,
				}
			}
			for domain := range ws.reads {
				err := rel.conflict([]byte(domain), tx.startTS)
				if err != nil {
					return err
				}
			}
		}

		var err error
		ws.delta.Ascend(
			func(item btree.Item) bool {
				err = rel.conflict(item.(pending).domain, tx.startTS)
				return err == nil
			})
		if err != nil {
			return err
		}
	}

	return nil
}

// Rollback discards the transaction's changes.
func (tx *Transaction) Rollback() error {
	tx.checkActive("rollback")

	tx.finish(Aborted)
	return nil
}

func (tx *Transaction) finish(state TxState) {
	for _, ws := range tx.rels {
		if ws == nil {
			continue
		}
		ws.delta.Ascend(
			func(item btree.Item) bool {
				p := item.(pending)
				if !p.tr.IsNil() {
					p.tr.Release()
				}
				return true
			})
	}
	tx.rels = nil
	releaseTuples(tx.held)
	tx.held = nil

	rb := tx.rb
	rb.mutex.Lock()
	refs := rb.endTxLocked(tx.startTS)
	rb.mutex.Unlock()

	if len(refs) > 0 {
		log.WithFields(log.Fields{
			"tx":     tx.id,
			"tuples": len(refs),
		}).Debug("relbox: release retired tuples")
	}
	releaseTuples(refs)

	tx.snap = nil
	tx.state = state
}
