package kv

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	relboxBucket = []byte{'r', 'e', 'l', 'b', 'o', 'x'}
)

type bboltKV struct {
	db *bbolt.DB
}

type bboltIterator struct {
	tx     *bbolt.Tx
	cr     *bbolt.Cursor
	key    []byte
	val    []byte
	maxKey []byte
}

type bboltUpdater struct {
	tx  *bbolt.Tx
	bkt *bbolt.Bucket
}

func MakeBBoltKV(dataDir string) (KV, error) {
	os.MkdirAll(dataDir, 0755)

	db, err := bbolt.Open(filepath.Join(dataDir, "relbox.bbolt"), 0644, nil)
	if err != nil {
		return nil, err
	}
	// Dangerous, but about 100x faster.
	db.NoFreelistSync = true
	db.NoSync = true

	tx, err := db.Begin(true)
	if err != nil {
		return nil, err
	}
	if tx.Bucket(relboxBucket) == nil {
		_, err = tx.CreateBucket(relboxBucket)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		err = tx.Commit()
		if err != nil {
			return nil, err
		}
	} else {
		tx.Rollback()
	}

	return bboltKV{
		db: db,
	}, nil
}

func (bkv bboltKV) begin(writable bool) (*bbolt.Tx, *bbolt.Bucket, error) {
	tx, err := bkv.db.Begin(writable)
	if err != nil {
		return nil, nil, fmt.Errorf("bbolt: begin failed: %s", err)
	}
	bkt := tx.Bucket(relboxBucket)
	if bkt == nil {
		tx.Rollback()
		return nil, nil, errors.New("bbolt: missing relbox bucket")
	}
	return tx, bkt, nil
}

func (bkv bboltKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return nil, err
	}
	cr := bkt.Cursor()
	key, val := cr.Seek(minKey)

	return &bboltIterator{
		tx:     tx,
		cr:     cr,
		key:    key,
		val:    val,
		maxKey: maxKey,
	}, nil
}

func (bit *bboltIterator) Item(fn func(key, val []byte) error) error {
	if bit.key == nil || pastMax(bit.maxKey, bit.key) {
		return io.EOF
	}

	err := fn(bit.key, bit.val)
	if err != nil {
		return err
	}

	bit.key, bit.val = bit.cr.Next()
	return nil
}

func (bit *bboltIterator) Close() {
	bit.tx.Rollback()
}

func (bkv bboltKV) Get(key []byte, fn func(val []byte) error) error {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return bboltGet(bkt, key, fn)
}

func bboltGet(bkt *bbolt.Bucket, key []byte, fn func(val []byte) error) error {
	val := bkt.Get(key)
	if val == nil {
		return io.EOF
	}
	return fn(val)
}

func (bkv bboltKV) Updater() (Updater, error) {
	tx, bkt, err := bkv.begin(true)
	if err != nil {
		return nil, err
	}
	return bboltUpdater{
		tx:  tx,
		bkt: bkt,
	}, nil
}

func (bkv bboltKV) Close() error {
	return bkv.db.Close()
}

func (bu bboltUpdater) Get(key []byte, fn func(val []byte) error) error {
	return bboltGet(bu.bkt, key, fn)
}

func (bu bboltUpdater) Update(key []byte, fn func(val []byte) ([]byte, error)) error {
	val, err := fn(bu.bkt.Get(key))
	if err != nil {
		return err
	}
	if len(val) == 0 {
		return bu.bkt.Delete(key)
	}
	return bu.bkt.Put(key, val)
}

func (bu bboltUpdater) Commit(sync bool) error {
	// The transaction forgets its DB once it is committed.
	db := bu.tx.DB()
	err := bu.tx.Commit()
	if err == nil && sync {
		err = db.Sync()
	}
	return err
}

func (bu bboltUpdater) Rollback() {
	bu.tx.Rollback()
}
