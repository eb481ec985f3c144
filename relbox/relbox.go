// Package relbox is an embedded transactional tuple store. Tuples are grouped into a fixed
// number of relations, unique by domain, and accessed through transactions which see a
// snapshot as of their start and are validated against concurrent commits when they commit.
package relbox

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/relbox/kv"
	"github.com/leftmike/relbox/paging"
	"github.com/leftmike/relbox/tuples"
)

type RelationID = paging.RelationID

type Isolation int

const (
	// Serializable validates reads, scans, and writes at commit.
	Serializable Isolation = iota
	// SnapshotIsolation validates only writes at commit.
	SnapshotIsolation
)

func (iso Isolation) String() string {
	switch iso {
	case Serializable:
		return "serializable"
	case SnapshotIsolation:
		return "snapshot"
	}
	return fmt.Sprintf("Isolation(%d)", int(iso))
}

func ParseIsolation(s string) (Isolation, error) {
	switch s {
	case "serializable":
		return Serializable, nil
	case "snapshot":
		return SnapshotIsolation, nil
	}
	return 0, fmt.Errorf("relbox: unknown isolation: %s", s)
}

type Options struct {
	NumRelations int
	PageSize     int
	MaxBytes     int64
	Isolation    Isolation

	// KV, if set, stores every commit; Open loads the relations back from it.
	KV   kv.KV
	Sync bool
}

type Stats struct {
	paging.Stats
	CommitTS  uint64
	Commits   uint64
	Conflicts uint64
	Active    int
	Retired   int
}

type retiredTuples struct {
	ts   uint64
	refs []tuples.TupleRef
}

type RelBox struct {
	box       *paging.TupleBox
	isolation Isolation
	st        kv.KV
	sync      bool

	commitMutex sync.Mutex
	rels        []*relation

	mutex     sync.Mutex
	snap      *snapshot
	lastTID   uint64
	active    map[uint64]int
	retired   []retiredTuples
	commits   uint64
	conflicts uint64
}

var (
	errNoRelations = errors.New("relbox: at least one relation is required")
)

func Open(opts Options) (*RelBox, error) {
	if opts.NumRelations <= 0 {
		return nil, errNoRelations
	}
	if opts.Isolation != Serializable && opts.Isolation != SnapshotIsolation {
		return nil, fmt.Errorf("relbox: unknown isolation: %d", opts.Isolation)
	}

	rb := &RelBox{
		box: paging.NewTupleBox(paging.Options{
			PageSize: opts.PageSize,
			MaxBytes: opts.MaxBytes,
		}),
		isolation: opts.Isolation,
		st:        opts.KV,
		sync:      opts.Sync,
		active:    map[uint64]int{},
	}

	snap := &snapshot{
		trees: make([]*btree.BTree, opts.NumRelations),
	}
	for rdx := range snap.trees {
		snap.trees[rdx] = btree.New(btreeDegree)
		rb.rels = append(rb.rels, newRelation(RelationID(rdx)))
	}

	if rb.st != nil {
		err := rb.load(snap)
		if err != nil {
			releaseTrees(snap.trees)
			return nil, err
		}
	}
	rb.snap = snap

	log.WithFields(log.Fields{
		"relations": opts.NumRelations,
		"isolation": opts.Isolation,
		"commit-ts": snap.ts,
		"tuples":    rb.box.Stats().Tuples,
	}).Info("relbox: open")
	return rb, nil
}

func releaseTrees(trees []*btree.BTree) {
	for _, tree := range trees {
		tree.Ascend(
			func(item btree.Item) bool {
				ti := item.(tupleItem)
				ti.tr.Release()
				return true
			})
	}
}

// Close closes the backing store, if any. Transactions must not be used after Close.
func (rb *RelBox) Close() error {
	rb.commitMutex.Lock()
	defer rb.commitMutex.Unlock()

	rb.mutex.Lock()
	active := len(rb.active)
	rb.mutex.Unlock()

	log.WithFields(log.Fields{
		"commit-ts": rb.CommitTS(),
		"active":    active,
	}).Info("relbox: close")

	if rb.st != nil {
		return rb.st.Close()
	}
	return nil
}

func (rb *RelBox) NumRelations() int {
	return len(rb.rels)
}

func (rb *RelBox) Isolation() Isolation {
	return rb.isolation
}

func (rb *RelBox) CommitTS() uint64 {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	return rb.snap.ts
}

func (rb *RelBox) Stats() Stats {
	st := Stats{
		Stats: rb.box.Stats(),
	}

	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	st.CommitTS = rb.snap.ts
	st.Commits = rb.commits
	st.Conflicts = rb.conflicts
	for _, cnt := range rb.active {
		st.Active += cnt
	}
	for _, rt := range rb.retired {
		st.Retired += len(rt.refs)
	}
	return st
}

func (rb *RelBox) StartTx() *Transaction {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	rb.lastTID += 1
	rb.active[rb.snap.ts] += 1
	return &Transaction{
		rb:      rb,
		id:      rb.lastTID,
		startTS: rb.snap.ts,
		snap:    rb.snap,
		rels:    make([]*workingSet, len(rb.rels)),
	}
}

// minStartLocked returns the oldest start timestamp of the active transactions.
func (rb *RelBox) minStartLocked() uint64 {
	min := uint64(math.MaxUint64)
	for ts := range rb.active {
		if ts < min {
			min = ts
		}
	}
	return min
}

// endTxLocked removes a transaction from the active set and returns the retired tuples which
// no remaining transaction can see; they must be released after the mutex is unlocked.
func (rb *RelBox) endTxLocked(startTS uint64) []tuples.TupleRef {
	cnt, ok := rb.active[startTS]
	if !ok {
		panic(fmt.Sprintf("relbox: transaction with start ts %d not active", startTS))
	}
	if cnt == 1 {
		delete(rb.active, startTS)
	} else {
		rb.active[startTS] = cnt - 1
	}

	min := rb.minStartLocked()
	var refs []tuples.TupleRef
	for len(rb.retired) > 0 && rb.retired[0].ts <= min {
		refs = append(refs, rb.retired[0].refs...)
		rb.retired = rb.retired[1:]
	}
	return refs
}

func releaseTuples(refs []tuples.TupleRef) {
	for rdx := range refs {
		refs[rdx].Release()
	}
}
