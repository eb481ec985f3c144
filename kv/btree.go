package kv

import (
	"bytes"
	"io"
	"sync"

	"github.com/google/btree"
)

const (
	btreeDegree    = 16
	btreeBatchSize = 64
)

type btreeKV struct {
	treeMutex   sync.Mutex
	updateMutex sync.Mutex
	tree        *btree.BTree
}

// btreeIterator walks a private clone of the tree, a batch of items at a time.
type btreeIterator struct {
	tree   *btree.BTree
	maxKey []byte
	next   []byte
	items  []kvItem
	done   bool
}

type btreeUpdater struct {
	bkv  *btreeKV
	tree *btree.BTree
	done bool
}

type kvItem struct {
	key []byte
	val []byte
}

func (kvi kvItem) Less(item btree.Item) bool {
	return bytes.Compare(kvi.key, item.(kvItem).key) < 0
}

// MakeBTreeKV returns an in-memory KV; nothing survives the process.
func MakeBTreeKV() (KV, error) {
	return &btreeKV{
		tree: btree.New(btreeDegree),
	}, nil
}

func (bkv *btreeKV) snapshot() *btree.BTree {
	bkv.treeMutex.Lock()
	defer bkv.treeMutex.Unlock()

	return bkv.tree.Clone()
}

func (bkv *btreeKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	return &btreeIterator{
		tree:   bkv.snapshot(),
		maxKey: maxKey,
		next:   minKey,
	}, nil
}

func (bit *btreeIterator) fill() {
	bit.tree.AscendGreaterOrEqual(kvItem{key: bit.next},
		func(item btree.Item) bool {
			kvi := item.(kvItem)
			if pastMax(bit.maxKey, kvi.key) {
				bit.done = true
				return false
			}
			bit.items = append(bit.items, kvi)
			return len(bit.items) < btreeBatchSize
		})

	if len(bit.items) < btreeBatchSize {
		bit.done = true
	} else {
		// The next batch starts just past the last key of this batch.
		last := bit.items[len(bit.items)-1].key
		bit.next = append(append(make([]byte, 0, len(last)+1), last...), 0)
	}
}

func (bit *btreeIterator) Item(fn func(key, val []byte) error) error {
	if len(bit.items) == 0 {
		if bit.done {
			return io.EOF
		}
		bit.fill()
		if len(bit.items) == 0 {
			return io.EOF
		}
	}

	kvi := bit.items[0]
	bit.items = bit.items[1:]
	return fn(kvi.key, kvi.val)
}

func (bit *btreeIterator) Close() {
	bit.tree = nil
	bit.items = nil
	bit.done = true
}

func (bkv *btreeKV) Get(key []byte, fn func(val []byte) error) error {
	bkv.treeMutex.Lock()
	tree := bkv.tree
	bkv.treeMutex.Unlock()

	return getItem(tree, key, fn)
}

func getItem(tree *btree.BTree, key []byte, fn func(val []byte) error) error {
	item := tree.Get(kvItem{key: key})
	if item == nil {
		return io.EOF
	}
	return fn(item.(kvItem).val)
}

// Updater changes a clone of the tree which replaces the tree on Commit.
func (bkv *btreeKV) Updater() (Updater, error) {
	bkv.updateMutex.Lock()

	return &btreeUpdater{
		bkv:  bkv,
		tree: bkv.snapshot(),
	}, nil
}

func (bkv *btreeKV) Close() error {
	return nil
}

func (bu *btreeUpdater) Get(key []byte, fn func(val []byte) error) error {
	return getItem(bu.tree, key, fn)
}

func (bu *btreeUpdater) Update(key []byte, fn func(val []byte) ([]byte, error)) error {
	var old []byte
	if item := bu.tree.Get(kvItem{key: key}); item != nil {
		old = item.(kvItem).val
	}

	val, err := fn(old)
	if err != nil {
		return err
	}

	if len(val) == 0 {
		bu.tree.Delete(kvItem{key: key})
		return nil
	}
	bu.tree.ReplaceOrInsert(kvItem{
		key: append(make([]byte, 0, len(key)), key...),
		val: append(make([]byte, 0, len(val)), val...),
	})
	return nil
}

func (bu *btreeUpdater) finish() {
	if bu.done {
		panic("kv: btree updater already committed or rolled back")
	}
	bu.done = true
}

func (bu *btreeUpdater) Commit(sync bool) error {
	bu.finish()

	bu.bkv.treeMutex.Lock()
	bu.bkv.tree = bu.tree
	bu.bkv.treeMutex.Unlock()

	bu.bkv.updateMutex.Unlock()
	return nil
}

func (bu *btreeUpdater) Rollback() {
	bu.finish()

	bu.bkv.updateMutex.Unlock()
}
