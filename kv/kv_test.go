package kv_test

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/leftmike/relbox/kv"
	"github.com/leftmike/relbox/testutil"
)

const (
	iterateCmd = iota
	getCmd
	updaterCmd
	updateCmd
	commitCmd
	rollbackCmd
)

type keyVal struct {
	key string
	val string
}

type kvCmd struct {
	fln     testutil.FileLineNumber
	cmd     int
	fail    bool
	key     string
	maxKey  string
	oldVal  string
	newVal  string
	keyVals []keyVal
}

func fln() testutil.FileLineNumber {
	return testutil.MakeFileLineNumber()
}

func runKVTest(t *testing.T, st kv.KV, cmds []kvCmd) {
	t.Helper()

	var updater kv.Updater
	for _, cmd := range cmds {
		switch cmd.cmd {
		case iterateCmd:
			var maxKey []byte
			if cmd.maxKey != "" {
				maxKey = []byte(cmd.maxKey)
			}

			keyVals := cmd.keyVals
			it, err := st.Iterate([]byte(cmd.key), maxKey)
			if err != nil {
				t.Errorf("%sIterate() failed with %s", cmd.fln, err)
				break
			}

			for {
				err := it.Item(
					func(key, val []byte) error {
						if len(keyVals) == 0 {
							return errors.New("too many key vals")
						}
						if string(key) != keyVals[0].key {
							return fmt.Errorf("key: got %s want %s", string(key), keyVals[0].key)
						}
						if string(val) != keyVals[0].val {
							return fmt.Errorf("val: got %s want %s", string(val), keyVals[0].val)
						}
						keyVals = keyVals[1:]
						return nil
					})
				if err != nil {
					if err != io.EOF {
						t.Errorf("%sIterate() failed with %s", cmd.fln, err)
					}
					break
				}
			}
			if len(keyVals) > 0 {
				t.Errorf("%sIterate() not enough key vals: %d", cmd.fln, len(keyVals))
			}
			it.Close()

		case getCmd:
			var got string
			err := st.Get([]byte(cmd.key),
				func(val []byte) error {
					got = string(val)
					return nil
				})
			if cmd.fail {
				if err != io.EOF {
					t.Errorf("%sGet(%s) got %v want io.EOF", cmd.fln, cmd.key, err)
				}
			} else if err != nil {
				t.Errorf("%sGet(%s) failed with %s", cmd.fln, cmd.key, err)
			} else if got != cmd.oldVal {
				t.Errorf("%sGet(%s) got %s want %s", cmd.fln, cmd.key, got, cmd.oldVal)
			}

		case updaterCmd:
			if updater != nil {
				panic("updater: updater is not nil")
			}

			var err error
			updater, err = st.Updater()
			if err != nil {
				t.Fatalf("%sUpdater() failed with %s", cmd.fln, err)
			}

		case updateCmd:
			if updater == nil {
				panic("update: updater is nil")
			}

			err := updater.Update([]byte(cmd.key),
				func(val []byte) ([]byte, error) {
					if string(val) != cmd.oldVal {
						return nil, fmt.Errorf("val: got %s want %s", string(val), cmd.oldVal)
					}
					return []byte(cmd.newVal), nil
				})
			if cmd.fail {
				if err == nil {
					t.Errorf("%sUpdate() did not fail", cmd.fln)
				}
			} else if err != nil {
				t.Errorf("%sUpdate() failed with %s", cmd.fln, err)
			}

		case commitCmd:
			if updater == nil {
				panic("commit: updater is nil")
			}
			err := updater.Commit(true)
			if err != nil {
				t.Errorf("%sCommit() failed with %s", cmd.fln, err)
			}
			updater = nil

		case rollbackCmd:
			if updater == nil {
				panic("rollback: updater is nil")
			}
			updater.Rollback()
			updater = nil

		default:
			panic(fmt.Sprintf("unexpected command: %d", cmd.cmd))
		}
	}
}

func testKV(t *testing.T, st kv.KV) {
	t.Helper()

	runKVTest(t, st,
		[]kvCmd{
			{fln: fln(), cmd: iterateCmd, key: "A"},
			{fln: fln(), cmd: getCmd, key: "Aaaa", fail: true},
			{fln: fln(), cmd: updaterCmd},
			{fln: fln(), cmd: updateCmd, key: "Aaaa", newVal: "aaa@2"},
			{fln: fln(), cmd: updateCmd, key: "Accc", newVal: "ccc@2"},
			{fln: fln(), cmd: updateCmd, key: "Abbb", newVal: "bbb@2"},
			{fln: fln(), cmd: updateCmd, key: "Bbbb", newVal: "bbb@2"},
			{fln: fln(), cmd: commitCmd},

			{fln: fln(), cmd: getCmd, key: "Aaaa", oldVal: "aaa@2"},
			{fln: fln(), cmd: iterateCmd, key: "A", maxKey: "Azzz",
				keyVals: []keyVal{
					{"Aaaa", "aaa@2"},
					{"Abbb", "bbb@2"},
					{"Accc", "ccc@2"},
				},
			},
			{fln: fln(), cmd: iterateCmd, key: "Abbb",
				keyVals: []keyVal{
					{"Abbb", "bbb@2"},
					{"Accc", "ccc@2"},
					{"Bbbb", "bbb@2"},
				},
			},

			{fln: fln(), cmd: updaterCmd},
			{fln: fln(), cmd: updateCmd, key: "Abbb", oldVal: "bbb@2", newVal: "bbb@3"},
			{fln: fln(), cmd: updateCmd, key: "Abbb", oldVal: "bbb@2", newVal: "bbb@4",
				fail: true},
			{fln: fln(), cmd: updateCmd, key: "Addd", newVal: "ddd@3"},
			{fln: fln(), cmd: updateCmd, key: "Accc", oldVal: "ccc@2"},
			{fln: fln(), cmd: commitCmd},

			{fln: fln(), cmd: getCmd, key: "Accc", fail: true},
			{fln: fln(), cmd: iterateCmd, key: "A", maxKey: "Azzz",
				keyVals: []keyVal{
					{"Aaaa", "aaa@2"},
					{"Abbb", "bbb@3"},
					{"Addd", "ddd@3"},
				},
			},

			{fln: fln(), cmd: updaterCmd},
			{fln: fln(), cmd: updateCmd, key: "Abbb", oldVal: "bbb@3", newVal: "bbb@4"},
			{fln: fln(), cmd: rollbackCmd},

			{fln: fln(), cmd: iterateCmd, key: "A", maxKey: "Azzz",
				keyVals: []keyVal{
					{"Aaaa", "aaa@2"},
					{"Abbb", "bbb@3"},
					{"Addd", "ddd@3"},
				},
			},
		})
}

func TestBTreeKV(t *testing.T) {
	st, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatal(err)
	}

	testKV(t, st)
}

func TestBadgerKV(t *testing.T) {
	dataDir := filepath.Join("testdata", "badger")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	st, err := kv.MakeBadgerKV(dataDir,
		testutil.SetupLogger(filepath.Join("testdata", "badger_kv.log")))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testKV(t, st)
}

func TestBBoltKV(t *testing.T) {
	dataDir := filepath.Join("testdata", "bbolt")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	st, err := kv.MakeBBoltKV(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testKV(t, st)
}

func TestPebbleKV(t *testing.T) {
	dataDir := filepath.Join("testdata", "pebble")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	st, err := kv.MakePebbleKV(dataDir,
		testutil.SetupLogger(filepath.Join("testdata", "pebble_kv.log")))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testKV(t, st)
}

func commitKey(t *testing.T, st kv.KV, key, val string, sync bool) {
	t.Helper()

	upd, err := st.Updater()
	if err != nil {
		t.Fatalf("Updater() failed with %s", err)
	}
	err = upd.Update([]byte(key),
		func(old []byte) ([]byte, error) {
			return []byte(val), nil
		})
	if err != nil {
		t.Fatalf("Update(%s) failed with %s", key, err)
	}
	err = upd.Commit(sync)
	if err != nil {
		t.Errorf("Commit(%v) failed with %s", sync, err)
	}
}

func testCommitSync(t *testing.T, open func() (kv.KV, error)) {
	t.Helper()

	st, err := open()
	if err != nil {
		t.Fatal(err)
	}
	commitKey(t, st, "k1", "v1", true)
	commitKey(t, st, "k2", "v2", false)
	commitKey(t, st, "k3", "v3", true)
	err = st.Close()
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	st, err = open()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	for _, want := range []keyVal{{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}} {
		var val string
		err = st.Get([]byte(want.key),
			func(v []byte) error {
				val = string(v)
				return nil
			})
		if err != nil {
			t.Errorf("Get(%s) failed with %s", want.key, err)
		} else if val != want.val {
			t.Errorf("Get(%s) got %s want %s", want.key, val, want.val)
		}
	}
}

func TestBBoltCommitSync(t *testing.T) {
	dataDir := filepath.Join("testdata", "bbolt_sync")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	testCommitSync(t,
		func() (kv.KV, error) {
			return kv.MakeBBoltKV(dataDir)
		})
}

func TestPebbleCommitSync(t *testing.T) {
	dataDir := filepath.Join("testdata", "pebble_sync")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	testCommitSync(t,
		func() (kv.KV, error) {
			return kv.MakePebbleKV(dataDir,
				testutil.SetupLogger(filepath.Join("testdata", "pebble_sync.log")))
		})
}

func TestEncodeUint64(t *testing.T) {
	cases := []uint64{0, 1, 255, 256, 1 << 32, 1<<64 - 1}

	for _, c := range cases {
		buf := kv.EncodeUint64([]byte{'x'}, c)
		rest, u64, ok := kv.DecodeUint64(buf[1:])
		if !ok || len(rest) != 0 || u64 != c {
			t.Errorf("DecodeUint64(EncodeUint64(%d)) got %d, %v", c, u64, ok)
		}
	}

	if _, _, ok := kv.DecodeUint64([]byte{1, 2, 3}); ok {
		t.Errorf("DecodeUint64(short) did not fail")
	}
}
