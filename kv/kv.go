package kv

import (
	"bytes"
	"encoding/binary"
)

// KV is an ordered key value store used as the backing store of a RelBox.
type KV interface {
	// Iterate over keys from minKey to maxKey inclusive; a nil maxKey has no upper bound.
	Iterate(minKey, maxKey []byte) (Iterator, error)
	// Get calls fn with the value of key, or returns io.EOF if key is not found.
	Get(key []byte, fn func(val []byte) error) error
	// Updater returns the only Updater; other calls to Updater wait until it is committed or
	// rolled back.
	Updater() (Updater, error)
	Close() error
}

type Iterator interface {
	// Item calls fn with the next key and value, or returns io.EOF when there are no more.
	Item(fn func(key, val []byte) error) error
	Close()
}

type Updater interface {
	Get(key []byte, fn func(val []byte) error) error
	// Update calls fn with the current value of key (nil if there is none) and sets key to
	// the returned value; an empty value deletes key.
	Update(key []byte, fn func(val []byte) ([]byte, error)) error
	Commit(sync bool) error
	Rollback()
}

func pastMax(maxKey, key []byte) bool {
	return maxKey != nil && bytes.Compare(maxKey, key) < 0
}

func EncodeUint64(buf []byte, u64 uint64) []byte {
	return append(buf, byte(u64>>56), byte(u64>>48), byte(u64>>40), byte(u64>>32),
		byte(u64>>24), byte(u64>>16), byte(u64>>8), byte(u64))
}

func DecodeUint64(buf []byte) ([]byte, uint64, bool) {
	if len(buf) < 8 {
		return nil, 0, false
	}
	return buf[8:], binary.BigEndian.Uint64(buf), true
}
