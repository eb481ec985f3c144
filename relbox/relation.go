package relbox

import (
	"bytes"

	"github.com/google/btree"

	"github.com/leftmike/relbox/tuples"
)

const (
	btreeDegree = 16
	minPruneLen = 1024
)

// tupleItem is an entry of a relation's tree; domain is a private copy of the tuple's domain
// because the tuple's bytes may move.
type tupleItem struct {
	domain []byte
	tr     tuples.TupleRef
}

func (ti tupleItem) Less(item btree.Item) bool {
	return bytes.Compare(ti.domain, item.(tupleItem).domain) < 0
}

// snapshot is an immutable version of every relation as of ts. A published tree is never
// changed; a commit clones it and publishes the clone.
type snapshot struct {
	ts    uint64
	trees []*btree.BTree
}

// relation holds the commit history used to validate transactions; it is only accessed with
// the commit mutex held.
type relation struct {
	rid        RelationID
	writes     map[string]uint64
	lastCommit uint64
	pruneLen   int
}

func newRelation(rid RelationID) *relation {
	return &relation{
		rid:      rid,
		writes:   map[string]uint64{},
		pruneLen: minPruneLen,
	}
}

func (rel *relation) recordWrite(domain []byte, ts uint64) {
	rel.writes[string(domain)] = ts
	rel.lastCommit = ts
}

// prune forgets writes which no active or future transaction can conflict with.
func (rel *relation) prune(minStart uint64) {
	if len(rel.writes) < rel.pruneLen {
		return
	}

	for domain, ts := range rel.writes {
		if ts <= minStart {
			delete(rel.writes, domain)
		}
	}

	rel.pruneLen = len(rel.writes) * 2
	if rel.pruneLen < minPruneLen {
		rel.pruneLen = minPruneLen
	}
}

func (rel *relation) conflict(domain []byte, startTS uint64) error {
	if ts, ok := rel.writes[string(domain)]; ok && ts > startTS {
		return &ConflictError{
			Relation:   rel.rid,
			Domain:     append(make([]byte, 0, len(domain)), domain...),
			StartTS:    startTS,
			ConflictTS: ts,
		}
	}
	return nil
}
