package kv

import (
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

// pebbleKV serializes updaters with mutex; each updater is an indexed batch so that it reads
// its own writes.
type pebbleKV struct {
	mutex sync.Mutex
	db    *pebble.DB
}

type pebbleIterator struct {
	snap *pebble.Snapshot
	it   *pebble.Iterator
}

type pebbleUpdater struct {
	pkv   *pebbleKV
	batch *pebble.Batch
}

func MakePebbleKV(dataDir string, logger *log.Logger) (KV, error) {
	os.MkdirAll(dataDir, 0755)

	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &pebbleKV{
		db: db,
	}, nil
}

// upperBound turns an inclusive maxKey into pebble's exclusive upper bound.
func upperBound(maxKey []byte) []byte {
	if maxKey == nil {
		return nil
	}
	return append(append(make([]byte, 0, len(maxKey)+1), maxKey...), 0)
}

func (pkv *pebbleKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	snap := pkv.db.NewSnapshot()
	it := snap.NewIter(&pebble.IterOptions{
		LowerBound: minKey,
		UpperBound: upperBound(maxKey),
	})
	it.First()

	return &pebbleIterator{
		snap: snap,
		it:   it,
	}, nil
}

func (pit *pebbleIterator) Item(fn func(key, val []byte) error) error {
	if !pit.it.Valid() {
		return io.EOF
	}

	err := fn(pit.it.Key(), pit.it.Value())
	if err != nil {
		return err
	}
	pit.it.Next()
	return nil
}

func (pit *pebbleIterator) Close() {
	pit.it.Close()
	pit.snap.Close()
}

// readValue calls fn with the value of key in rdr, which is the database or an updater's
// batch; fn must not keep the value.
func readValue(rdr pebble.Reader, key []byte, fn func(val []byte) error) error {
	val, closer, err := rdr.Get(key)
	if err == pebble.ErrNotFound {
		return io.EOF
	} else if err != nil {
		return err
	}
	defer closer.Close()

	return fn(val)
}

func (pkv *pebbleKV) Get(key []byte, fn func(val []byte) error) error {
	return readValue(pkv.db, key, fn)
}

func (pkv *pebbleKV) Updater() (Updater, error) {
	pkv.mutex.Lock()

	return &pebbleUpdater{
		pkv:   pkv,
		batch: pkv.db.NewIndexedBatch(),
	}, nil
}

func (pkv *pebbleKV) Close() error {
	return pkv.db.Close()
}

func (pu *pebbleUpdater) Get(key []byte, fn func(val []byte) error) error {
	return readValue(pu.batch, key, fn)
}

func (pu *pebbleUpdater) Update(key []byte, fn func(val []byte) ([]byte, error)) error {
	var old []byte
	err := readValue(pu.batch, key,
		func(val []byte) error {
			old = append(make([]byte, 0, len(val)), val...)
			return nil
		})
	if err != nil && err != io.EOF {
		return err
	}

	val, err := fn(old)
	if err != nil {
		return err
	} else if len(val) == 0 {
		return pu.batch.Delete(key, nil)
	}
	return pu.batch.Set(key, val, nil)
}

func (pu *pebbleUpdater) finish() {
	pu.batch.Close()
	pu.pkv.mutex.Unlock()
}

func (pu *pebbleUpdater) Commit(sync bool) error {
	defer pu.finish()

	wo := pebble.NoSync
	if sync {
		wo = pebble.Sync
	}
	return pu.batch.Commit(wo)
}

func (pu *pebbleUpdater) Rollback() {
	pu.finish()
}
