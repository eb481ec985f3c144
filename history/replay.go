package history

import (
	"encoding/binary"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/relbox/relbox"
	"github.com/leftmike/relbox/tuples"
)

type Result struct {
	Events    int
	Commits   int
	Rollbacks int
}

func encodeValue(v int64) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), uint64(v))
}

func decodeValue(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("history: value must be 8 bytes: %v", b)
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

type replayer struct {
	rb  *relbox.RelBox
	txs map[int64]*relbox.Transaction
}

// Replay runs the events against rb. An invoke starts a transaction for its process and
// performs its operations; the matching ok or fail checks the operations again and then
// commits or rolls back the transaction.
func Replay(rb *relbox.RelBox, events []Event) (Result, error) {
	rp := replayer{
		rb:  rb,
		txs: map[int64]*relbox.Transaction{},
	}
	defer func() {
		for _, tx := range rp.txs {
			tx.Rollback()
		}
	}()

	var res Result
	for _, e := range events {
		err := rp.event(e, &res)
		if err != nil {
			return res, fmt.Errorf("history: event %d: process %d: %s: %w", e.Index, e.Process,
				e.Type, err)
		}
		res.Events += 1
	}
	return res, nil
}

func (rp replayer) relation(tx *relbox.Transaction, key int64) (*relbox.TxRelation, error) {
	if key < 0 || key >= int64(rp.rb.NumRelations()) {
		return nil, fmt.Errorf("key %d out of range; have %d relations", key,
			rp.rb.NumRelations())
	}
	return tx.Relation(relbox.RelationID(key)), nil
}

func (rp replayer) event(e Event, res *Result) error {
	if e.Type == Invoke {
		if _, ok := rp.txs[e.Process]; ok {
			return fmt.Errorf("process already has an uncompleted transaction")
		}
		tx := rp.rb.StartTx()
		rp.txs[e.Process] = tx

		for _, op := range e.Value {
			txr, err := rp.relation(tx, op.Key)
			if err != nil {
				return err
			}
			if op.Func == Append {
				_, err = txr.InsertTuple(encodeValue(op.Value), encodeValue(op.Value))
			} else {
				err = checkRead(txr, op)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		return nil
	}

	tx, ok := rp.txs[e.Process]
	if !ok {
		return fmt.Errorf("process does not have a transaction")
	}
	delete(rp.txs, e.Process)

	err := rp.checkCompletion(tx, e.Value)
	if err != nil {
		tx.Rollback()
		return err
	}

	switch e.Type {
	case OK:
		err = tx.Commit()
		if err != nil {
			return err
		}
		res.Commits += 1
	case Fail:
		tx.Rollback()
		res.Rollbacks += 1
	default:
		tx.Rollback()
		return fmt.Errorf("unexpected event type: %s", e.Type)
	}

	log.WithFields(log.Fields{
		"index":   e.Index,
		"process": e.Process,
		"type":    e.Type,
	}).Debug("history: replay")
	return nil
}

func (rp replayer) checkCompletion(tx *relbox.Transaction, ops []Op) error {
	for _, op := range ops {
		txr, err := rp.relation(tx, op.Key)
		if err != nil {
			return err
		}

		if op.Func == Append {
			tr, err := txr.SeekUniqueByDomain(encodeValue(op.Value))
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			v, err := decodeValue(tr.Domain())
			if err != nil {
				return err
			} else if v != op.Value {
				return fmt.Errorf("%s: got %d after its insert", op, v)
			}
		} else {
			err = checkRead(txr, op)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	return nil
}

// checkRead scans the relation and makes sure it contains at least the expected values.
func checkRead(txr *relbox.TxRelation, op Op) error {
	trs, err := txr.PredicateScan(func(tr tuples.TupleRef) bool { return true })
	if err != nil {
		return err
	}
	if op.Values == nil {
		return nil
	}

	got := map[int64]struct{}{}
	for _, tr := range trs {
		v, err := decodeValue(tr.Domain())
		if err != nil {
			return err
		}
		got[v] = struct{}{}
	}

	var missing []int64
	for _, v := range op.Values {
		if _, ok := got[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		vals := make([]int64, 0, len(got))
		for v := range got {
			vals = append(vals, v)
		}
		sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
		return fmt.Errorf("missing %v; got %v", missing, vals)
	}
	return nil
}
