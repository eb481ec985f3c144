package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/leftmike/relbox/kv"
	"github.com/leftmike/relbox/relbox"
)

var (
	store     = "memory"
	dataDir   = "testdata"
	relations = 16
	pageSize  = 64 * 1024
	maxBytes  int64
	isolation = "serializable"
	syncFlag  = false
)

func initStoreFlags(fs *pflag.FlagSet) {
	fs.StringVar(&store, "store", store,
		"backing store: memory, btree, badger, bbolt, or pebble")
	cfgVars["store"] = fs.Lookup("store")

	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing the backing store")
	cfgVars["data"] = fs.Lookup("data")

	fs.IntVar(&relations, "relations", relations, "`number` of relations")
	cfgVars["relations"] = fs.Lookup("relations")

	fs.IntVar(&pageSize, "page-size", pageSize, "`bytes` per page")
	cfgVars["page-size"] = fs.Lookup("page-size")

	fs.Int64Var(&maxBytes, "max-bytes", maxBytes, "maximum `bytes` of pages; 0 for no limit")
	cfgVars["max-bytes"] = fs.Lookup("max-bytes")

	fs.StringVar(&isolation, "isolation", isolation, "isolation: serializable or snapshot")
	cfgVars["isolation"] = fs.Lookup("isolation")

	fs.BoolVar(&syncFlag, "sync", syncFlag, "sync the backing store on every commit")
	cfgVars["sync"] = fs.Lookup("sync")
}

func openKV() (kv.KV, error) {
	switch store {
	case "memory":
		return nil, nil
	case "btree":
		return kv.MakeBTreeKV()
	case "badger":
		return kv.MakeBadgerKV(dataDir, log.StandardLogger())
	case "bbolt":
		return kv.MakeBBoltKV(dataDir)
	case "pebble":
		return kv.MakePebbleKV(dataDir, log.StandardLogger())
	}
	return nil, fmt.Errorf("relbox: got %s for store; want memory, btree, badger, bbolt, or pebble",
		store)
}

func openRelBox() (*relbox.RelBox, error) {
	iso, err := relbox.ParseIsolation(isolation)
	if err != nil {
		return nil, err
	}

	st, err := openKV()
	if err != nil {
		return nil, fmt.Errorf("relbox: %s: %s", store, err)
	}

	rb, err := relbox.Open(relbox.Options{
		NumRelations: relations,
		PageSize:     pageSize,
		MaxBytes:     maxBytes,
		Isolation:    iso,
		KV:           st,
		Sync:         syncFlag,
	})
	if err != nil {
		if st != nil {
			st.Close()
		}
		return nil, err
	}
	return rb, nil
}
