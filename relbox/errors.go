package relbox

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("relbox: not found")
	ErrDuplicateKey = errors.New("relbox: duplicate key")
	ErrConflict     = errors.New("relbox: serialization conflict")
)

type DuplicateKeyError struct {
	Relation RelationID
	Domain   []byte
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("relbox: relation %d: duplicate key %x", e.Relation, e.Domain)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// ConflictError is returned by Commit when another transaction committed a change, after
// StartTS, which this transaction depends on. A nil Domain means the relation was scanned.
type ConflictError struct {
	Relation   RelationID
	Domain     []byte
	StartTS    uint64
	ConflictTS uint64
}

func (e *ConflictError) Error() string {
	if e.Domain == nil {
		return fmt.Sprintf("relbox: relation %d: scan conflict: start ts %d, commit ts %d",
			e.Relation, e.StartTS, e.ConflictTS)
	}
	return fmt.Sprintf("relbox: relation %d: key %x: write conflict: start ts %d, commit ts %d",
		e.Relation, e.Domain, e.StartTS, e.ConflictTS)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func notFound(rid RelationID, domain []byte) error {
	return fmt.Errorf("relbox: relation %d: key %x: %w", rid, domain, ErrNotFound)
}
