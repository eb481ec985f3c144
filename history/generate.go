package history

import (
	"math/rand"
)

type Config struct {
	Seed      int64
	Processes int
	Keys      int
	// Events is the minimum number of events; in-flight transactions are completed after.
	Events int
	// MaxOps is the maximum number of operations per transaction.
	MaxOps int
	// AbortPercent is the chance a transaction without a conflict fails anyway.
	AbortPercent int
}

type genTx struct {
	start   uint64
	lengths []int
	ops     []Op
}

type generator struct {
	cfg        Config
	rnd        *rand.Rand
	ts         uint64
	lists      [][]int64
	lastCommit []uint64
	nextValue  int64
	events     []Event
	time       int64
}

// Generate returns a history of list-append transactions which a serializable RelBox
// replays without error: a transaction fails instead of committing if a list it read was
// appended to by a transaction which committed after it started.
func Generate(cfg Config) []Event {
	if cfg.Processes <= 0 {
		cfg.Processes = 1
	}
	if cfg.Keys <= 0 {
		cfg.Keys = 1
	}
	if cfg.MaxOps <= 0 {
		cfg.MaxOps = 4
	}

	g := generator{
		cfg:        cfg,
		rnd:        rand.New(rand.NewSource(cfg.Seed)),
		lists:      make([][]int64, cfg.Keys),
		lastCommit: make([]uint64, cfg.Keys),
		nextValue:  1,
	}

	inflight := make([]*genTx, cfg.Processes)
	var cnt int
	for len(g.events) < cfg.Events || cnt > 0 {
		p := g.rnd.Intn(cfg.Processes)
		if inflight[p] == nil {
			if len(g.events) >= cfg.Events {
				continue
			}
			inflight[p] = g.invoke(int64(p))
			cnt += 1
		} else {
			g.complete(int64(p), inflight[p])
			inflight[p] = nil
			cnt -= 1
		}
	}
	return g.events
}

func (g *generator) emit(et EventType, p int64, ops []Op) {
	g.time += 1 + g.rnd.Int63n(1000000)
	g.events = append(g.events, Event{
		Index:   int64(len(g.events)),
		Type:    et,
		Process: p,
		Time:    g.time,
		Value:   ops,
	})
}

func (g *generator) invoke(p int64) *genTx {
	gtx := &genTx{
		start:   g.ts,
		lengths: make([]int, len(g.lists)),
	}
	for k := range g.lists {
		gtx.lengths[k] = len(g.lists[k])
	}

	n := 1 + g.rnd.Intn(g.cfg.MaxOps)
	for i := 0; i < n; i++ {
		k := int64(g.rnd.Intn(g.cfg.Keys))
		if g.rnd.Intn(2) == 0 {
			gtx.ops = append(gtx.ops, Op{Func: Append, Key: k, Value: g.nextValue})
			g.nextValue += 1
		} else {
			gtx.ops = append(gtx.ops, Op{Func: Read, Key: k})
		}
	}

	g.emit(Invoke, p, gtx.ops)
	return gtx
}

func (g *generator) complete(p int64, gtx *genTx) {
	fail := g.cfg.AbortPercent > 0 && g.rnd.Intn(100) < g.cfg.AbortPercent
	var writes bool
	for _, op := range gtx.ops {
		if op.Func == Read && g.lastCommit[op.Key] > gtx.start {
			fail = true
		} else if op.Func == Append {
			writes = true
		}
	}

	ops := make([]Op, 0, len(gtx.ops))
	for _, op := range gtx.ops {
		if op.Func == Read {
			vals := append(make([]int64, 0, gtx.lengths[op.Key]),
				g.lists[op.Key][:gtx.lengths[op.Key]]...)
			for _, op2 := range gtx.ops {
				if op2.Func == Append && op2.Key == op.Key {
					vals = append(vals, op2.Value)
				}
			}
			op.Values = vals
		}
		ops = append(ops, op)
	}

	if fail {
		g.emit(Fail, p, ops)
		return
	}

	if writes {
		g.ts += 1
		for _, op := range gtx.ops {
			if op.Func == Append {
				g.lists[op.Key] = append(g.lists[op.Key], op.Value)
				g.lastCommit[op.Key] = g.ts
			}
		}
	}
	g.emit(OK, p, ops)
}
