package relbox

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/btree"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leftmike/relbox/kv"
	"github.com/leftmike/relbox/tuples"
)

const (
	tsField       = 1
	codomainField = 2
)

var (
	versionKey = []byte{0, 0, 0, 0, 0, 0, 0, 0, 'v', 'e', 'r', 's', 'i', 'o', 'n'}
)

// tupleKey is the relation id plus one, as a big endian uint64, followed by the domain; the
// version key sorts before every tuple key.
func tupleKey(rid RelationID, domain []byte) []byte {
	return append(kv.EncodeUint64(make([]byte, 0, 8+len(domain)), uint64(rid)+1), domain...)
}

func encodeRecord(ts uint64, codomain []byte) []byte {
	buf := make([]byte, 0, len(codomain)+24)
	buf = protowire.AppendTag(buf, tsField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, ts)
	buf = protowire.AppendTag(buf, codomainField, protowire.BytesType)
	return protowire.AppendBytes(buf, codomain)
}

func decodeRecord(buf []byte) (uint64, []byte, error) {
	var ts uint64
	var codomain []byte
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return 0, nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch {
		case num == tsField && typ == protowire.VarintType:
			ts, n = protowire.ConsumeVarint(buf)
		case num == codomainField && typ == protowire.BytesType:
			codomain, n = protowire.ConsumeBytes(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return 0, nil, protowire.ParseError(n)
		}
		buf = buf[n:]
	}
	return ts, codomain, nil
}

func (rb *RelBox) load(snap *snapshot) error {
	err := rb.st.Get(versionKey,
		func(val []byte) error {
			rest, ts, ok := kv.DecodeUint64(val)
			if !ok || len(rest) != 0 {
				return fmt.Errorf("relbox: version: bad value: %v", val)
			}
			snap.ts = ts
			return nil
		})
	if err == io.EOF {
		return nil
	} else if err != nil {
		return err
	}

	it, err := rb.st.Iterate(kv.EncodeUint64(nil, 1), nil)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		err = it.Item(
			func(key, val []byte) error {
				domain, u64, ok := kv.DecodeUint64(key)
				if !ok || u64 == 0 || u64 > uint64(len(snap.trees)) {
					return fmt.Errorf("relbox: stored tuple: bad key: %v", key)
				}
				rid := RelationID(u64 - 1)

				ts, codomain, err := decodeRecord(val)
				if err != nil {
					return fmt.Errorf("relbox: relation %d: key %x: %s", rid, domain, err)
				}
				tr, err := tuples.Allocate(rid, rb.box, ts, domain, codomain)
				if err != nil {
					return err
				}
				snap.trees[rid].ReplaceOrInsert(tupleItem{
					domain: append(make([]byte, 0, len(domain)), domain...),
					tr:     tr,
				})
				return nil
			})
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

var (
	errPersistFailed = errors.New("relbox: persist failed")
)

// persist writes the transaction's changes and the new commit timestamp to the backing store;
// it must be called with the commit mutex held.
func (tx *Transaction) persist(ts uint64) error {
	upd, err := tx.rb.st.Updater()
	if err != nil {
		return fmt.Errorf("%w: %s", errPersistFailed, err)
	}

	for rdx, ws := range tx.rels {
		if ws == nil {
			continue
		}

		ws.delta.Ascend(
			func(item btree.Item) bool {
				p := item.(pending)
				var val []byte
				if !p.tr.IsNil() {
					val = encodeRecord(ts, p.tr.Codomain())
				}
				err = upd.Update(tupleKey(RelationID(rdx), p.domain),
					func(old []byte) ([]byte, error) {
						return val, nil
					})
				return err == nil
			})
		if err != nil {
			upd.Rollback()
			return fmt.Errorf("%w: %s", errPersistFailed, err)
		}
	}

	err = upd.Update(versionKey,
		func(old []byte) ([]byte, error) {
			return kv.EncodeUint64(make([]byte, 0, 8), ts), nil
		})
	if err != nil {
		upd.Rollback()
		return fmt.Errorf("%w: %s", errPersistFailed, err)
	}
	err = upd.Commit(tx.rb.sync)
	if err != nil {
		return fmt.Errorf("%w: %s", errPersistFailed, err)
	}
	return nil
}
